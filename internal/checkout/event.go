package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/snowline/renewal-checkout/internal/logger"
	"github.com/snowline/renewal-checkout/internal/models"
	"github.com/snowline/renewal-checkout/internal/money"
)

const (
	EventCompleted = "checkout.completed"
	EventFailed    = "checkout.failed"
)

// Event tells staff what happened to a checkout. ScheduleNote always
// describes what was actually queued, not what was planned.
type Event struct {
	Name          string              `json:"event"`
	Path          Path                `json:"path,omitempty"`
	Contract      models.ContractData `json:"contract"`
	CustomerName  string              `json:"customer_name"`
	CustomerEmail string              `json:"customer_email"`
	Total         money.Money         `json:"total"`
	Installments  int                 `json:"installments"`
	TransactionID string              `json:"transaction_id,omitempty"`
	Scheduled     int                 `json:"scheduled"`
	Failures      int                 `json:"failures"`
	ScheduleNote  string              `json:"schedule_note"`
	Error         string              `json:"error,omitempty"`
	OccurredAt    time.Time           `json:"occurred_at"`
}

// Notifier receives checkout events. Notify must return promptly;
// implementations dispatch in the background and swallow their own errors.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}

// notify never lets a notifier failure reach the payment result.
func (o *Orchestrator) notify(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error("notifier panicked", "event", ev.Name, "panic", r)
		}
	}()
	ev.OccurredAt = o.now()
	o.notifier.Notify(context.WithoutCancel(ctx), ev)
}

func scheduleNote(res *Result, remainingDates []string) string {
	var sb strings.Builder

	switch res.Path {
	case PathDuplicateFallback:
		fmt.Fprintf(&sb, "Charged %s once by token (card already on file).", res.AmountCharged)
		if len(remainingDates) > 0 {
			fmt.Fprintf(&sb, " NOT auto-scheduled: %s.", strings.Join(remainingDates, ", "))
		}
		return sb.String()
	case PathOneTime:
		fmt.Fprintf(&sb, "One-time payment of %s.", res.AmountCharged)
		return sb.String()
	}

	fmt.Fprintf(&sb, "Installment 1 of %d charged (%s).", res.TotalInstallments, res.AmountCharged)
	if len(res.Scheduled) > 0 {
		dates := make([]string, len(res.Scheduled))
		for i, s := range res.Scheduled {
			dates[i] = s.DueDate
		}
		fmt.Fprintf(&sb, " Scheduled: %s.", strings.Join(dates, ", "))
	}
	if len(res.Failures) > 0 {
		failed := make([]string, len(res.Failures))
		for i, f := range res.Failures {
			failed[i] = fmt.Sprintf("%s (%s)", f.DueDate, f.Error)
		}
		fmt.Fprintf(&sb, " NOT queued, needs manual follow-up: %s.", strings.Join(failed, "; "))
	}
	return sb.String()
}
