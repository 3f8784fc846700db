package installment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowline/renewal-checkout/internal/money"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSplit_CountAndSum(t *testing.T) {
	start := date(2026, time.October, 16)

	for _, total := range []money.Money{0, 1, 99, 10000, 12345, 99999} {
		for count := 1; count <= 12; count++ {
			items, err := Split(total, count, start)
			require.NoError(t, err)
			require.Len(t, items, count)

			var sum money.Money
			for i, it := range items {
				assert.Equal(t, i+1, it.Index)
				sum += it.Amount
			}
			diff := int64(total) - int64(sum)
			if diff < 0 {
				diff = -diff
			}
			assert.Less(t, diff, int64(count), "total=%s count=%d sum=%s", total, count, sum)
		}
	}
}

func TestSplit_HundredInThree(t *testing.T) {
	start := date(2026, time.March, 15)

	plan, err := NewPlan(money.FromCents(10000), 3, start)
	require.NoError(t, err)

	assert.Equal(t, money.Money(3333), plan.PerInstallment)
	assert.Equal(t, money.Money(9999), plan.Sum())
	assert.Equal(t, []string{"2026-03-15", "2026-04-15", "2026-05-15"}, plan.DueDates())
	assert.Len(t, plan.Remaining(), 2)
	assert.Equal(t, 1, plan.First().Index)
}

func TestSplit_MonthEndClamping(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		want  []string
	}{
		{
			name:  "jan 31 non-leap year",
			start: date(2027, time.January, 31),
			want:  []string{"2027-01-31", "2027-02-28", "2027-03-31"},
		},
		{
			name:  "jan 31 leap year",
			start: date(2028, time.January, 31),
			want:  []string{"2028-01-31", "2028-02-29", "2028-03-31"},
		},
		{
			name:  "aug 31 into thirty day months",
			start: date(2026, time.August, 31),
			want:  []string{"2026-08-31", "2026-09-30", "2026-10-31"},
		},
		{
			name:  "dec 31 crosses year",
			start: date(2026, time.December, 31),
			want:  []string{"2026-12-31", "2027-01-31", "2027-02-28"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := NewPlan(money.FromCents(30000), 3, tc.start)
			require.NoError(t, err)
			assert.Equal(t, tc.want, plan.DueDates())
		})
	}
}

func TestSplit_SingleInstallment(t *testing.T) {
	today := time.Date(2026, time.October, 16, 14, 30, 0, 0, time.UTC)

	items, err := Split(money.FromCents(45678), 1, today)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, money.Money(45678), items[0].Amount)
	assert.Equal(t, "2026-10-16", items[0].DueDateString())
}

func TestSplit_Invalid(t *testing.T) {
	_, err := Split(money.FromCents(100), 0, date(2026, 1, 1))
	require.ErrorIs(t, err, ErrInvalidCount)

	_, err = Split(money.Money(-1), 2, date(2026, 1, 1))
	require.ErrorIs(t, err, ErrNegativeTotal)
}

func TestAddMonthsClamped_KeepsLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)

	got := AddMonthsClamped(time.Date(2026, time.May, 31, 0, 0, 0, 0, loc), 1)
	assert.Equal(t, "2026-06-30", FormatDate(got))
	assert.Equal(t, loc, got.Location())
}
