// Package installment splits a checkout total into equal monthly installments.
package installment

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/snowline/renewal-checkout/internal/money"
)

const DateLayout = "2006-01-02"

var (
	ErrInvalidCount  = errors.New("installment count must be at least 1")
	ErrNegativeTotal = errors.New("total must not be negative")
)

// ScheduledInstallment is one charge of a plan. Index 1 is charged at checkout.
type ScheduledInstallment struct {
	Index   int         `json:"index"`
	DueDate time.Time   `json:"-"`
	Amount  money.Money `json:"amount"`
}

func (s ScheduledInstallment) DueDateString() string {
	return FormatDate(s.DueDate)
}

func (s ScheduledInstallment) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Index   int         `json:"index"`
		DueDate string      `json:"due_date"`
		Amount  money.Money `json:"amount"`
	}{s.Index, s.DueDateString(), s.Amount})
}

// Plan is immutable once built. PerInstallment*Count may fall short of
// TotalAmount by up to Count-1 cents.
type Plan struct {
	TotalAmount    money.Money
	Count          int
	PerInstallment money.Money
	StartDate      time.Time
	Installments   []ScheduledInstallment
}

func NewPlan(total money.Money, count int, start time.Time) (*Plan, error) {
	items, err := Split(total, count, start)
	if err != nil {
		return nil, err
	}
	return &Plan{
		TotalAmount:    total,
		Count:          count,
		PerInstallment: items[0].Amount,
		StartDate:      DateOf(start),
		Installments:   items,
	}, nil
}

func (p *Plan) First() ScheduledInstallment {
	return p.Installments[0]
}

// Remaining returns installments 2..Count, the ones that get queued.
func (p *Plan) Remaining() []ScheduledInstallment {
	return p.Installments[1:]
}

func (p *Plan) Sum() money.Money {
	var sum money.Money
	for _, it := range p.Installments {
		sum += it.Amount
	}
	return sum
}

// DueDates lists every due date as YYYY-MM-DD.
func (p *Plan) DueDates() []string {
	dates := make([]string, 0, len(p.Installments))
	for _, it := range p.Installments {
		dates = append(dates, FormatDate(it.DueDate))
	}
	return dates
}

// Split returns count installments of round(total/count) each. Installment i
// is due start + (i-1) months, clamped to the end of shorter months.
func Split(total money.Money, count int, start time.Time) ([]ScheduledInstallment, error) {
	if count < 1 {
		return nil, fmt.Errorf("Split: %d: %w", count, ErrInvalidCount)
	}
	if total < 0 {
		return nil, fmt.Errorf("Split: %s: %w", total, ErrNegativeTotal)
	}

	startDay := DateOf(start)
	if count == 1 {
		return []ScheduledInstallment{{Index: 1, DueDate: startDay, Amount: total}}, nil
	}

	per := total.DivideRounded(count)
	items := make([]ScheduledInstallment, 0, count)
	for i := 0; i < count; i++ {
		items = append(items, ScheduledInstallment{
			Index:   i + 1,
			DueDate: AddMonthsClamped(startDay, i),
			Amount:  per,
		})
	}
	return items, nil
}

// AddMonthsClamped adds months to t keeping the day of month, or the last day
// of the target month when it is shorter. Jan 31 + 1 is Feb 28 (29 in leap
// years), never Mar 3.
func AddMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	firstOfTarget := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	last := DaysIn(firstOfTarget.Year(), firstOfTarget.Month())
	if d > last {
		d = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), d,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate reads YYYY-MM-DD in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("ParseDate: %w", err)
	}
	return t, nil
}
