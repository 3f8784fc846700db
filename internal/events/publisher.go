// Package events is the fire-and-forget notification sink. Events are
// posted as JSON to a webhook (the office relay, or the checkout service's
// /internal/events feed) and failures are only logged.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// SecretHeader authenticates events posted to /internal/events.
const SecretHeader = "X-Events-Secret"

const publishTimeout = 5 * time.Second

// Publisher posts events to one webhook URL.
type Publisher struct {
	url        string
	secret     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewPublisher returns nil for an empty url; a nil Publisher drops events.
func NewPublisher(url, secret string, logger *slog.Logger) *Publisher {
	if url == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		url:    url,
		secret: secret,
		httpClient: &http.Client{
			Timeout: publishTimeout,
		},
		logger: logger,
	}
}

// Event is the wire envelope.
type Event struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Publish sends an event and waits for the answer.
func (p *Publisher) Publish(ctx context.Context, eventType, eventName string, data any) error {
	if p == nil {
		return nil
	}

	jsonData, err := json.Marshal(Event{Type: eventType, Event: eventName, Data: data})
	if err != nil {
		return fmt.Errorf("Publish %s.%s: %w", eventType, eventName, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("Publish %s.%s: %w", eventType, eventName, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.secret != "" {
		req.Header.Set(SecretHeader, p.secret)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Publish %s.%s: %w", eventType, eventName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("Publish %s.%s: rejected with status %d", eventType, eventName, resp.StatusCode)
	}
	return nil
}

// PublishAsync sends an event in the background. It never blocks the
// caller; errors are logged.
func (p *Publisher) PublishAsync(eventType, eventName string, data any) {
	if p == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.Publish(ctx, eventType, eventName, data); err != nil {
			p.logger.Warn("event not delivered", "type", eventType, "event", eventName, "error", err)
		}
	}()
}

// Event types
const (
	TypeCheckout = "checkout"
	TypeQueue    = "queue"
	TypeHealth   = "health"
)

// Queue event names
const (
	QueueItemCompleted   = "item_completed"
	QueueItemFailed      = "item_failed"
	QueueItemNeedsReview = "item_needs_review"
	QueueDrainCompleted  = "drain_completed"
	QueueDrainSkipped    = "drain_skipped"
)
