// Package drain charges queued installments that have come due. A pass
// claims items in batches, charges each once and records the outcome.
package drain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/snowline/renewal-checkout/internal/events"
	"github.com/snowline/renewal-checkout/internal/gateway"
	"github.com/snowline/renewal-checkout/internal/installment"
	"github.com/snowline/renewal-checkout/internal/logger"
	"github.com/snowline/renewal-checkout/internal/models"
)

// LastSummaryKey holds the most recent pass summary in the cache.
const LastSummaryKey = "queue:drain:last"

const defaultLockKey = "queue:drain:lock"

type Store interface {
	ClaimDue(ctx context.Context, asOf time.Time, limit int) ([]models.QueueItem, error)
	ClaimByID(ctx context.Context, id string) (*models.QueueItem, error)
	MarkCompleted(ctx context.Context, id, transactionID string) error
	MarkFailed(ctx context.Context, id, reason string) error
	MarkNeedsReview(ctx context.Context, id, reason string) error
	Release(ctx context.Context, ids []string) (int64, error)
	ParkStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

type Charger interface {
	ChargeByProfile(ctx context.Context, charge gateway.ProfileCharge) gateway.ChargeResult
}

// Locker keeps two passes from overlapping across replicas.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error)
}

type SummaryStore interface {
	SetJSON(ctx context.Context, key string, value any, expiration time.Duration) error
}

type EventPublisher interface {
	PublishAsync(eventType, eventName string, data any)
}

type Config struct {
	BatchSize int
	Workers   int
	LockKey   string
	LockTTL   time.Duration
	// StaleAfter parks items stuck in processing longer than this.
	StaleAfter time.Duration
	Location   *time.Location
}

type Option func(*Executor)

func WithLocker(l Locker) Option {
	return func(e *Executor) { e.locker = l }
}

func WithSummaryStore(s SummaryStore) Option {
	return func(e *Executor) { e.summaries = s }
}

func WithEvents(p EventPublisher) Option {
	return func(e *Executor) { e.events = p }
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

type Executor struct {
	store     Store
	gw        Charger
	locker    Locker
	summaries SummaryStore
	events    EventPublisher
	cfg       Config
	now       func() time.Time
}

func NewExecutor(store Store, gw Charger, cfg Config, opts ...Option) *Executor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.LockKey == "" {
		cfg.LockKey = defaultLockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	e := &Executor{store: store, gw: gw, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Drain runs one pass over every due item. Per-item failures are counted
// in the summary; an error is returned only when claiming fails.
func (e *Executor) Drain(ctx context.Context) (models.DrainSummary, error) {
	log := logger.FromContext(ctx)
	start := e.now()
	summary := models.DrainSummary{StartedAt: start, Items: []models.DrainItemResult{}}

	if e.locker != nil {
		release, ok, err := e.locker.TryLock(ctx, e.cfg.LockKey, e.cfg.LockTTL)
		switch {
		case err != nil:
			// The database claim still prevents double charges.
			log.Warn("drain lock unavailable, continuing without it", "error", err)
		case !ok:
			summary.Skipped = true
			summary.SkipReason = "another drain pass is running"
			log.Info("drain pass skipped", "reason", summary.SkipReason)
			e.publish(events.QueueDrainSkipped, summary)
			return summary, nil
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					log.Warn("drain lock release failed", "error", err)
				}
			}()
		}
	}

	if e.cfg.StaleAfter > 0 {
		parked, err := e.store.ParkStale(ctx, e.cfg.StaleAfter)
		if err != nil {
			log.Error("park stale items failed", "error", err)
		} else if parked > 0 {
			log.Warn("stale processing items parked for review", "count", parked)
		}
	}

	asOf := installment.DateOf(start.In(e.cfg.Location))
	log.Info("drain pass started", "as_of", installment.FormatDate(asOf), "batch_size", e.cfg.BatchSize)

	var err error
	for ctx.Err() == nil {
		var items []models.QueueItem
		items, err = e.store.ClaimDue(ctx, asOf, e.cfg.BatchSize)
		if err != nil {
			log.Error("claim due items failed", "error", err)
			err = fmt.Errorf("Drain: %w", err)
			break
		}
		if len(items) == 0 {
			break
		}

		results, unsent := e.chargeAll(ctx, items)
		for _, r := range results {
			summary.Add(r)
		}
		if len(unsent) > 0 {
			summary.Released += e.release(ctx, unsent)
		}

		if len(items) < e.cfg.BatchSize || ctx.Err() != nil {
			break
		}
	}

	summary.DurationMs = time.Since(start).Milliseconds()
	log.Info("drain pass finished",
		"processed", summary.Processed,
		"completed", summary.Completed,
		"failed", summary.Failed,
		"needs_review", summary.NeedsReview,
		"released", summary.Released,
		"duration_ms", summary.DurationMs)

	e.saveSummary(ctx, summary)
	e.publish(events.QueueDrainCompleted, summary)
	return summary, err
}

// RetryOne charges a single pending or failed item now, whatever its due
// date.
func (e *Executor) RetryOne(ctx context.Context, id string) (models.DrainItemResult, error) {
	item, err := e.store.ClaimByID(ctx, id)
	if err != nil {
		return models.DrainItemResult{}, fmt.Errorf("RetryOne: %w", err)
	}
	return e.chargeOne(ctx, *item), nil
}

// chargeAll charges items with at most cfg.Workers calls in flight. Results
// keep the claim order. Once ctx is done no new charge starts; the ids of
// items never sent to the gateway are returned so they can be released.
func (e *Executor) chargeAll(ctx context.Context, items []models.QueueItem) ([]models.DrainItemResult, []string) {
	results := make([]models.DrainItemResult, len(items))
	started := make([]bool, len(items))
	sem := make(chan struct{}, e.cfg.Workers)
	var wg sync.WaitGroup

	for i, item := range items {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		started[i] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.chargeOne(ctx, item)
		}()
	}

	wg.Wait()

	done := make([]models.DrainItemResult, 0, len(items))
	var unsent []string
	for i, item := range items {
		if started[i] {
			done = append(done, results[i])
		} else {
			unsent = append(unsent, item.ID)
		}
	}
	return done, unsent
}

func (e *Executor) release(ctx context.Context, ids []string) int {
	log := logger.FromContext(ctx)
	n, err := e.store.Release(context.WithoutCancel(ctx), ids)
	if err != nil {
		// ParkStale picks these up later and sends them to review.
		log.Error("release unsent items failed", "count", len(ids), "error", err)
		return 0
	}
	log.Warn("drain pass cut short, unsent items released", "count", n)
	return int(n)
}

func (e *Executor) chargeOne(ctx context.Context, item models.QueueItem) models.DrainItemResult {
	log := logger.FromContext(ctx).With("post_id", item.ID, "payment_date", item.PaymentDate)

	cardID := item.CardID
	if cardID <= 0 {
		cardID = gateway.DefaultCardID
	}

	// A started charge runs to the gateway client's own timeout. Cutting it
	// off would leave the funds status unknown.
	charge := e.gw.ChargeByProfile(context.WithoutCancel(ctx), gateway.ProfileCharge{
		CustomerCode: item.CustomerCode,
		CardID:       cardID,
		Amount:       item.Amount,
		OrderNumber:  orderNumber(item),
	})

	result := models.DrainItemResult{
		ID:            item.ID,
		PaymentDate:   item.PaymentDate,
		Amount:        item.Amount,
		TransactionID: charge.TransactionID,
	}

	markCtx := context.WithoutCancel(ctx)
	var markErr error
	switch {
	case charge.Approved:
		result.Status = models.QueueStatusCompleted
		markErr = e.store.MarkCompleted(markCtx, item.ID, charge.TransactionID)
		log.Info("installment charged", "transaction_id", charge.TransactionID)
	case charge.Ambiguous:
		result.Status = models.QueueStatusNeedsReview
		result.Error = "charge outcome unknown: " + charge.DeclineReason
		markErr = e.store.MarkNeedsReview(markCtx, item.ID, result.Error)
		log.Error("installment charge ambiguous, parked for review", "error", charge.DeclineReason)
	default:
		result.Status = models.QueueStatusFailed
		result.Error = charge.DeclineReason
		if result.Error == "" {
			result.Error = "declined"
		}
		markErr = e.store.MarkFailed(markCtx, item.ID, result.Error)
		log.Warn("installment declined", "reason", result.Error)
	}

	if markErr != nil {
		log.Error("recording charge outcome failed", "status", result.Status, "error", markErr)
		if result.Error != "" {
			result.Error += "; "
		}
		result.Error += "record outcome: " + markErr.Error()
	}

	e.publish(itemEvent(result.Status), result)
	return result
}

func (e *Executor) saveSummary(ctx context.Context, summary models.DrainSummary) {
	if e.summaries == nil {
		return
	}
	if err := e.summaries.SetJSON(context.WithoutCancel(ctx), LastSummaryKey, summary, 7*24*time.Hour); err != nil {
		logger.FromContext(ctx).Warn("cache drain summary failed", "error", err)
	}
}

func (e *Executor) publish(name string, data any) {
	if e.events == nil {
		return
	}
	e.events.PublishAsync(events.TypeQueue, name, data)
}

func itemEvent(status models.QueueStatus) string {
	switch status {
	case models.QueueStatusCompleted:
		return events.QueueItemCompleted
	case models.QueueStatusNeedsReview:
		return events.QueueItemNeedsReview
	default:
		return events.QueueItemFailed
	}
}

// orderNumber is unique per attempt so a retry is not refused as a
// duplicate order.
func orderNumber(item models.QueueItem) string {
	id := strings.ReplaceAll(item.ID, "-", "")
	if len(id) > 12 {
		id = id[:12]
	}
	return fmt.Sprintf("Q-%s-%d", id, item.Attempts+1)
}
