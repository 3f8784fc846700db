// Package queuestore persists queued installments in Postgres. The claim
// queries are the at-most-once guard for drain passes: an item is charged
// only by whoever moved it to processing.
package queuestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/snowline/renewal-checkout/internal/installment"
	"github.com/snowline/renewal-checkout/internal/models"
	"github.com/snowline/renewal-checkout/internal/money"
)

var (
	ErrNotFound     = errors.New("queue item not found")
	ErrNotClaimable = errors.New("queue item is not pending or failed")
	ErrInvalidItem  = errors.New("invalid queue item")
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

const itemColumns = `id, amount_cents, currency, payment_date, customer_code, card_id, metadata,
	status, attempts, COALESCE(transaction_id, ''), COALESCE(last_error, ''),
	created_at, updated_at, processed_at`

type Option func(*Store)

// WithMaxAttempts stops ClaimDue from picking failed items that were
// already tried n times. Zero means no limit.
func WithMaxAttempts(n int) Option {
	return func(s *Store) { s.maxAttempts = n }
}

type Store struct {
	db          *sql.DB
	maxAttempts int
}

func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a pending item. Sending the same installment twice
// (customer, contract, date) returns the existing row.
func (s *Store) Create(ctx context.Context, item models.QueueItem) (*models.QueueItem, error) {
	if err := validateNew(item); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	meta := item.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("Create: marshal metadata: %w", err)
	}

	currency := strings.ToUpper(item.Currency)
	if currency == "" {
		currency = "CAD"
	}
	contractID, _ := meta[models.MetaContractID].(string)

	query := `
		INSERT INTO payment_queue (id, amount_cents, currency, payment_date, customer_code, card_id, contract_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (customer_code, contract_id, payment_date)
		DO UPDATE SET updated_at = payment_queue.updated_at
		RETURNING ` + itemColumns

	row := s.db.QueryRowContext(ctx, query,
		uuid.New(), item.Amount.Cents(), currency, item.PaymentDate,
		item.CustomerCode, item.CardID, contractID, string(metaJSON),
	)
	created, err := scanItem(row)
	if err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	return created, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.QueueItem, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("Get %s: %w", id, ErrNotFound)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM payment_queue WHERE id = $1`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("Get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Get %s: %w", id, err)
	}
	return item, nil
}

// List returns items ordered by due date. QueueStatusAll disables the filter.
func (s *Store) List(ctx context.Context, status models.QueueStatus, limit int) ([]models.QueueItem, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT ` + itemColumns + ` FROM payment_queue`
	args := []any{}
	if status != "" && status != models.QueueStatusAll {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY payment_date ASC, created_at ASC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return collect(rows)
}

// ClaimDue moves up to limit due items to processing and returns them.
// asOf is the start of the current business day: pending items due by then
// are claimed, and failed items only if their last attempt was before it,
// so one pass never charges an item twice. Concurrent callers never
// receive the same item.
func (s *Store) ClaimDue(ctx context.Context, asOf time.Time, limit int) ([]models.QueueItem, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		UPDATE payment_queue
		SET status = 'processing', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM payment_queue
			WHERE payment_date <= $1
			  AND (
				status = 'pending'
				OR (status = 'failed'
					AND (processed_at IS NULL OR processed_at < $2)
					AND ($4 = 0 OR attempts < $4))
			  )
			ORDER BY payment_date ASC, created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + itemColumns

	rows, err := s.db.QueryContext(ctx, query, asOf.Format(installment.DateLayout), asOf, limit, s.maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("ClaimDue: %w", err)
	}
	items, err := collect(rows)
	if err != nil {
		return nil, fmt.Errorf("ClaimDue: %w", err)
	}
	return items, nil
}

// ClaimByID claims one pending or failed item regardless of its due date
// or attempt count.
func (s *Store) ClaimByID(ctx context.Context, id string) (*models.QueueItem, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("ClaimByID %s: %w", id, ErrNotFound)
	}

	query := `
		UPDATE payment_queue
		SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'failed')
		RETURNING ` + itemColumns

	item, err := scanItem(s.db.QueryRowContext(ctx, query, id))
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ClaimByID %s: %w", id, err)
	}

	existing, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, fmt.Errorf("ClaimByID: %w", getErr)
	}
	return nil, fmt.Errorf("ClaimByID %s: status %s: %w", id, existing.Status, ErrNotClaimable)
}

func (s *Store) MarkCompleted(ctx context.Context, id, transactionID string) error {
	return s.finish(ctx, "MarkCompleted", id, models.QueueStatusCompleted, transactionID, "")
}

func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	return s.finish(ctx, "MarkFailed", id, models.QueueStatusFailed, "", reason)
}

// MarkNeedsReview parks an item whose charge outcome is unknown. Nothing
// claims it again automatically.
func (s *Store) MarkNeedsReview(ctx context.Context, id, reason string) error {
	return s.finish(ctx, "MarkNeedsReview", id, models.QueueStatusNeedsReview, "", reason)
}

func (s *Store) finish(ctx context.Context, op, id string, status models.QueueStatus, transactionID, reason string) error {
	query := `
		UPDATE payment_queue
		SET status = $2,
			attempts = attempts + 1,
			transaction_id = NULLIF($3, ''),
			last_error = NULLIF($4, ''),
			processed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`

	res, err := s.db.ExecContext(ctx, query, id, string(status), transactionID, reason)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: item is not processing: %w", op, id, ErrNotClaimable)
	}
	return nil
}

// Release hands claimed items that were never sent to the gateway back to
// the queue: failed if they had an earlier attempt, pending otherwise.
func (s *Store) Release(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `
		UPDATE payment_queue
		SET status = CASE WHEN attempts > 0 THEN 'failed' ELSE 'pending' END,
			updated_at = NOW()
		WHERE id = ANY($1::uuid[]) AND status = 'processing'`

	res, err := s.db.ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("Release: %w", err)
	}
	return res.RowsAffected()
}

// ParkStale moves items left in processing for longer than olderThan to
// needs_review. A crash mid-charge leaves the funds status unknown.
func (s *Store) ParkStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE payment_queue
		SET status = 'needs_review',
			last_error = 'left in processing; charge outcome unknown',
			updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1`

	res, err := s.db.ExecContext(ctx, query, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("ParkStale: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Stats(ctx context.Context, today string) (models.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'needs_review'),
			COUNT(*) FILTER (WHERE status IN ('pending', 'failed') AND payment_date <= $1),
			COALESCE(SUM(amount_cents) FILTER (WHERE status <> 'completed'), 0)
		FROM payment_queue`

	var st models.QueueStats
	var outstanding int64
	err := s.db.QueryRowContext(ctx, query, today).Scan(
		&st.Pending, &st.Processing, &st.Completed, &st.Failed, &st.NeedsReview,
		&st.DueToday, &outstanding,
	)
	if err != nil {
		return models.QueueStats{}, fmt.Errorf("Stats: %w", err)
	}
	st.Outstanding = money.FromCents(outstanding)
	return st, nil
}

func validateNew(item models.QueueItem) error {
	var problems []string
	if item.Amount <= 0 {
		problems = append(problems, "amount must be positive")
	}
	if _, err := installment.ParseDate(item.PaymentDate, time.UTC); err != nil {
		problems = append(problems, "payment_date must be YYYY-MM-DD")
	}
	if strings.TrimSpace(item.CustomerCode) == "" {
		problems = append(problems, "customer_code is required")
	}
	if item.CardID < 0 {
		problems = append(problems, "card_id must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s: %w", strings.Join(problems, "; "), ErrInvalidItem)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*models.QueueItem, error) {
	var (
		item        models.QueueItem
		cents       int64
		paymentDate time.Time
		metaJSON    []byte
		status      string
		createdAt   time.Time
		updatedAt   time.Time
		processedAt sql.NullTime
	)

	err := row.Scan(
		&item.ID, &cents, &item.Currency, &paymentDate, &item.CustomerCode, &item.CardID, &metaJSON,
		&status, &item.Attempts, &item.TransactionID, &item.LastError,
		&createdAt, &updatedAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Amount = money.FromCents(cents)
	item.PaymentDate = paymentDate.Format(installment.DateLayout)
	item.Status = models.QueueStatus(status)
	item.CreatedAt = &createdAt
	item.UpdatedAt = &updatedAt
	if processedAt.Valid {
		item.ProcessedAt = &processedAt.Time
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &item.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &item, nil
}

func collect(rows *sql.Rows) ([]models.QueueItem, error) {
	defer rows.Close()

	items := []models.QueueItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}
