// Package models holds the types shared by the checkout service, the queue
// collaborator and the CLI.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/snowline/renewal-checkout/internal/money"
)

// BillingInfo is the card holder's billing block as entered in the wizard.
type BillingInfo struct {
	Name         string `json:"name"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	City         string `json:"city"`
	Province     string `json:"province"`
	Country      string `json:"country"`
	PostalCode   string `json:"postalCode"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
}

// ContractData describes the renewal being paid for. Only the fields the
// payment flow forwards are modelled.
type ContractData struct {
	ContractID     string `json:"contractId"`
	CustomerName   string `json:"customerName,omitempty"`
	ServiceAddress string `json:"serviceAddress,omitempty"`
	ServiceLevel   string `json:"serviceLevel,omitempty"`
	Season         string `json:"season,omitempty"`
}

// QueueStatus is the lifecycle state of a queued installment.
type QueueStatus string

const (
	QueueStatusPending     QueueStatus = "pending"
	QueueStatusProcessing  QueueStatus = "processing"
	QueueStatusCompleted   QueueStatus = "completed"
	QueueStatusFailed      QueueStatus = "failed"
	QueueStatusNeedsReview QueueStatus = "needs_review"

	// QueueStatusAll is a list filter only.
	QueueStatusAll QueueStatus = "all"
)

func ParseQueueStatus(s string) (QueueStatus, error) {
	switch st := QueueStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case QueueStatusPending, QueueStatusProcessing, QueueStatusCompleted,
		QueueStatusFailed, QueueStatusNeedsReview, QueueStatusAll:
		return st, nil
	case "":
		return QueueStatusAll, nil
	default:
		return "", fmt.Errorf("unknown queue status %q", s)
	}
}

// QueueItem is a future installment stored by the queue collaborator.
type QueueItem struct {
	ID            string         `json:"post_id,omitempty"`
	Amount        money.Money    `json:"amount"`
	Currency      string         `json:"currency"`
	PaymentDate   string         `json:"payment_date"`
	CustomerCode  string         `json:"customer_code"`
	CardID        int            `json:"card_id"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Status        QueueStatus    `json:"status,omitempty"`
	Attempts      int            `json:"attempts,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
	CreatedAt     *time.Time     `json:"created_at,omitempty"`
	UpdatedAt     *time.Time     `json:"updated_at,omitempty"`
	ProcessedAt   *time.Time     `json:"processed_at,omitempty"`
}

// Metadata keys written by the checkout.
const (
	MetaContractID        = "contract_id"
	MetaServiceAddress    = "service_address"
	MetaCustomerName      = "customer_name"
	MetaCustomerEmail     = "customer_email"
	MetaInstallmentIndex  = "installment_index"
	MetaTotalInstallments = "total_installments"
	MetaRemainingDates    = "remaining_dates"
)

// DrainItemResult is the outcome of charging one claimed item.
type DrainItemResult struct {
	ID            string      `json:"post_id"`
	PaymentDate   string      `json:"payment_date"`
	Amount        money.Money `json:"amount"`
	Status        QueueStatus `json:"status"`
	TransactionID string      `json:"transaction_id,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// DrainSummary is returned by a drain pass and by the process endpoint.
type DrainSummary struct {
	Processed   int               `json:"processed"`
	Completed   int               `json:"completed"`
	Failed      int               `json:"failed"`
	NeedsReview int               `json:"needs_review"`
	// Released counts claimed items handed back uncharged when the pass
	// was cut short.
	Released    int               `json:"released,omitempty"`
	Skipped     bool              `json:"skipped,omitempty"`
	SkipReason  string            `json:"skip_reason,omitempty"`
	Items       []DrainItemResult `json:"items,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	DurationMs  int64             `json:"duration_ms"`
}

// Add folds one item result into the counters.
func (s *DrainSummary) Add(r DrainItemResult) {
	s.Processed++
	switch r.Status {
	case QueueStatusCompleted:
		s.Completed++
	case QueueStatusNeedsReview:
		s.NeedsReview++
	default:
		s.Failed++
	}
	s.Items = append(s.Items, r)
}

// QueueStats counts items per status.
type QueueStats struct {
	Pending     int         `json:"pending"`
	Processing  int         `json:"processing"`
	Completed   int         `json:"completed"`
	Failed      int         `json:"failed"`
	NeedsReview int         `json:"needs_review"`
	DueToday    int         `json:"due_today"`
	Outstanding money.Money `json:"outstanding_amount"`
}

// ConfigurationError is a missing credential or endpoint. It is reported at
// startup or on first use and never retried.
type ConfigurationError struct {
	Component string
	Missing   []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not configured: missing %s", e.Component, strings.Join(e.Missing, ", "))
}
