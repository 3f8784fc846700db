// Package queue talks to the queue collaborator that stores future
// installments: enqueue, list, drain and single-item retry.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/snowline/renewal-checkout/internal/httpclient"
	"github.com/snowline/renewal-checkout/internal/logger"
	"github.com/snowline/renewal-checkout/internal/models"
)

// SecretHeader carries the shared secret on every queue call.
const SecretHeader = "X-Queue-Secret"

// ErrRejected is returned when the collaborator answers with an error payload.
var ErrRejected = errors.New("queue rejected request")

type Config struct {
	BaseURL     string        `env:"QUEUE_BASE_URL"`
	QueuePath   string        `env:"QUEUE_PATH" envDefault:"/payments/queue"`
	ListPath    string        `env:"QUEUE_LIST_PATH" envDefault:"/payments/list"`
	ProcessPath string        `env:"QUEUE_PROCESS_PATH" envDefault:"/payments/process"`
	RetryPath   string        `env:"QUEUE_RETRY_PATH" envDefault:"/payments/retry"`
	Secret      string        `env:"QUEUE_SECRET"`
	Timeout     time.Duration `env:"QUEUE_TIMEOUT" envDefault:"15s"`

	// ProcessTimeout covers a whole drain pass and should exceed the
	// service's DRAIN_PASS_TIMEOUT.
	ProcessTimeout time.Duration `env:"QUEUE_PROCESS_TIMEOUT" envDefault:"16m"`
}

func (c Config) Validate() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "QUEUE_BASE_URL")
	}
	if c.Secret == "" {
		missing = append(missing, "QUEUE_SECRET")
	}
	if len(missing) > 0 {
		return &models.ConfigurationError{Component: "payment queue", Missing: missing}
	}
	return nil
}

type Client struct {
	cfg   Config
	http  *httpclient.Client
	drain *httpclient.Client
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	processTimeout := cfg.ProcessTimeout
	if processTimeout <= 0 {
		processTimeout = 16 * time.Minute
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:   cfg,
		http:  httpclient.NewClient(baseURL, timeout, httpclient.WithHeader(SecretHeader, cfg.Secret)),
		drain: httpclient.NewClient(baseURL, processTimeout, httpclient.WithHeader(SecretHeader, cfg.Secret)),
	}, nil
}

type enqueueResponse struct {
	PostID  json.RawMessage `json:"post_id"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// Enqueue stores one future installment and returns the collaborator's id.
func (c *Client) Enqueue(ctx context.Context, item models.QueueItem) (string, error) {
	payload := models.QueueItem{
		Amount:       item.Amount,
		Currency:     item.Currency,
		PaymentDate:  item.PaymentDate,
		CustomerCode: item.CustomerCode,
		CardID:       item.CardID,
		Metadata:     item.Metadata,
	}

	var resp enqueueResponse
	if err := c.http.Post(ctx, c.cfg.QueuePath, payload, &resp); err != nil {
		return "", fmt.Errorf("Enqueue %s: %w", item.PaymentDate, describe(err))
	}
	if resp.Error != "" {
		return "", fmt.Errorf("Enqueue %s: %s: %w", item.PaymentDate, resp.Error, ErrRejected)
	}

	id := strings.Trim(string(resp.PostID), `"`)
	if id == "" || id == "null" {
		return "", fmt.Errorf("Enqueue %s: no post_id in response: %w", item.PaymentDate, ErrRejected)
	}
	return id, nil
}

// Pending is an installment waiting to be enqueued.
type Pending struct {
	Index int
	Item  models.QueueItem
}

// Scheduled is an installment the collaborator accepted.
type Scheduled struct {
	Index   int    `json:"index"`
	DueDate string `json:"date"`
	Amount  string `json:"amount"`
	PostID  string `json:"post_id"`
}

// Failure is an installment that could not be enqueued and needs staff
// attention.
type Failure struct {
	Index   int    `json:"index"`
	DueDate string `json:"date"`
	Amount  string `json:"amount"`
	Error   string `json:"error"`
}

// PublishAll enqueues every item with one call each. A failed item never
// stops the remaining ones.
func (c *Client) PublishAll(ctx context.Context, items []Pending) ([]Scheduled, []Failure) {
	log := logger.FromContext(ctx)

	scheduled := make([]Scheduled, 0, len(items))
	failures := make([]Failure, 0)

	for _, p := range items {
		postID, err := c.Enqueue(ctx, p.Item)
		if err != nil {
			log.Warn("installment enqueue failed", "index", p.Index, "date", p.Item.PaymentDate, "error", err)
			failures = append(failures, Failure{
				Index:   p.Index,
				DueDate: p.Item.PaymentDate,
				Amount:  p.Item.Amount.String(),
				Error:   err.Error(),
			})
			continue
		}
		log.Info("installment enqueued", "index", p.Index, "date", p.Item.PaymentDate, "post_id", postID)
		scheduled = append(scheduled, Scheduled{
			Index:   p.Index,
			DueDate: p.Item.PaymentDate,
			Amount:  p.Item.Amount.String(),
			PostID:  postID,
		})
	}

	return scheduled, failures
}

// List returns queue items filtered by status (QueueStatusAll for every item).
func (c *Client) List(ctx context.Context, status models.QueueStatus, limit int) ([]models.QueueItem, error) {
	q := url.Values{}
	if status == "" {
		status = models.QueueStatusAll
	}
	q.Set("status", string(status))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	raw, err := c.http.DoRaw(ctx, http.MethodGet, c.cfg.ListPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("List: %w", describe(err))
	}

	items, err := parseItems(raw)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return items, nil
}

// ProcessDue asks the collaborator to drain every due item. It waits for
// the whole pass, up to ProcessTimeout.
func (c *Client) ProcessDue(ctx context.Context) (models.DrainSummary, error) {
	var summary models.DrainSummary
	if err := c.drain.Post(ctx, c.cfg.ProcessPath, nil, &summary); err != nil {
		return models.DrainSummary{}, fmt.Errorf("ProcessDue: %w", describe(err))
	}
	return summary, nil
}

// Retry re-attempts one pending or failed item.
func (c *Client) Retry(ctx context.Context, postID string) (models.DrainItemResult, error) {
	var result models.DrainItemResult
	body := map[string]string{"post_id": postID}
	if err := c.http.Post(ctx, c.cfg.RetryPath, body, &result); err != nil {
		return models.DrainItemResult{}, fmt.Errorf("Retry %s: %w", postID, describe(err))
	}
	return result, nil
}

// parseItems reads a list response. Accepted shapes, tried in order:
//  1. [ item, ... ]
//  2. {"items": [ ... ]}
//  3. {"data": [ ... ]}
//  4. a single item object carrying post_id
func parseItems(raw []byte) ([]models.QueueItem, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	switch raw[0] {
	case '[':
		var items []models.QueueItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decode item array: %w", err)
		}
		return items, nil
	case '{':
		var wrapped struct {
			Items []models.QueueItem `json:"items"`
			Data  []models.QueueItem `json:"data"`
		}
		if err := json.Unmarshal(raw, &wrapped); err == nil {
			if wrapped.Items != nil {
				return wrapped.Items, nil
			}
			if wrapped.Data != nil {
				return wrapped.Data, nil
			}
		}

		var single models.QueueItem
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("decode single item: %w", err)
		}
		if single.ID == "" {
			return nil, nil
		}
		return []models.QueueItem{single}, nil
	default:
		return nil, fmt.Errorf("unexpected list response: %.40q", raw)
	}
}

// describe turns an HTTP status error into the collaborator's own message.
func describe(err error) error {
	var se *httpclient.StatusError
	if !errors.As(err, &se) {
		return err
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(se.Body, &body)
	msg := body.Error
	if msg == "" {
		msg = body.Message
	}
	if msg == "" {
		return err
	}
	return fmt.Errorf("HTTP %d: %s: %w", se.StatusCode, msg, ErrRejected)
}
