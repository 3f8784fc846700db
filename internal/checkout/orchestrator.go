// Package checkout runs a renewal checkout: validate, create the card
// profile, charge the first installment and queue the rest.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/snowline/renewal-checkout/internal/gateway"
	"github.com/snowline/renewal-checkout/internal/installment"
	"github.com/snowline/renewal-checkout/internal/logger"
	"github.com/snowline/renewal-checkout/internal/models"
	"github.com/snowline/renewal-checkout/internal/money"
	"github.com/snowline/renewal-checkout/internal/queue"
)

type State string

const (
	StateStart                   State = "START"
	StateProfileCreating         State = "PROFILE_CREATING"
	StateCardResolving           State = "CARD_RESOLVING"
	StateFirstCharge             State = "FIRST_CHARGE"
	StateScheduling              State = "SCHEDULING"
	StateDuplicateFallbackCharge State = "DUPLICATE_FALLBACK_CHARGE"
	StateDone                    State = "DONE"
)

// Path records which branch produced a result.
type Path string

const (
	PathInstallments      Path = "installments"
	PathDuplicateFallback Path = "duplicate_fallback"
	PathOneTime           Path = "one_time"
)

// maxOrderNumber is the gateway's order_number length limit.
const maxOrderNumber = 30

// DefaultDeadline bounds a checkout once the token has been sent to the
// gateway.
const DefaultDeadline = 2 * time.Minute

type Gateway interface {
	CreateProfile(ctx context.Context, token string, billing models.BillingInfo) (gateway.PaymentProfile, error)
	ResolveCardID(ctx context.Context, customerCode string) int
	ChargeByProfile(ctx context.Context, charge gateway.ProfileCharge) gateway.ChargeResult
	ChargeByToken(ctx context.Context, charge gateway.TokenCharge) gateway.ChargeResult
}

type Publisher interface {
	PublishAll(ctx context.Context, items []queue.Pending) ([]queue.Scheduled, []queue.Failure)
}

type Result struct {
	Success            bool              `json:"success"`
	FirstTransactionID string            `json:"firstTransactionId"`
	TotalInstallments  int               `json:"totalInstallments"`
	AmountCharged      money.Money       `json:"amountCharged"`
	Scheduled          []queue.Scheduled `json:"scheduled"`
	Failures           []queue.Failure   `json:"failures"`
	CustomerCode       string            `json:"customerCode,omitempty"`
	CardID             int               `json:"cardId,omitempty"`
	Message            string            `json:"message"`
	Path               Path              `json:"path"`
}

type Option func(*Orchestrator)

func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) { o.queue = p }
}

// WithQueueUnavailable records why no publisher could be built. Multi
// installment checkouts then fail before any gateway call.
func WithQueueUnavailable(err error) Option {
	return func(o *Orchestrator) { o.queueErr = err }
}

func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

func WithLocation(loc *time.Location) Option {
	return func(o *Orchestrator) { o.loc = loc }
}

func WithCurrency(currency string) Option {
	return func(o *Orchestrator) { o.currency = currency }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithDeadline(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.deadline = d
		}
	}
}

type Orchestrator struct {
	gw       Gateway
	queue    Publisher
	queueErr error
	notifier Notifier
	loc      *time.Location
	currency string
	now      func() time.Time
	deadline time.Duration
}

func NewOrchestrator(gw Gateway, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gw:       gw,
		notifier: NopNotifier{},
		loc:      time.Local,
		currency: "CAD",
		now:      time.Now,
		deadline: DefaultDeadline,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// detach drops the caller's cancellation. Once the token is spent the
// remaining steps must finish even if the customer closes the page.
func (o *Orchestrator) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.deadline)
}

// run tracks the current state of one checkout for logging.
type run struct {
	log   *slog.Logger
	state State
}

func (r *run) enter(s State) {
	r.log.Info("checkout state", "from", r.state, "to", s)
	r.state = s
}

// Run executes the installment checkout. Calls are strictly sequential:
// the token is consumed by CreateProfile and every later step needs the
// customer code it returns.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	r := &run{
		log:   logger.FromContext(ctx).With("contract_id", req.Contract.ContractID, "installments", req.Installments),
		state: StateStart,
	}
	r.log.Info("checkout state", "to", StateStart)

	req, err := Validate(req)
	if err != nil {
		r.log.Warn("checkout rejected", "error", err)
		return nil, fmt.Errorf("Run: %w", err)
	}

	plan, err := installment.NewPlan(req.Amount, req.Installments, o.now().In(o.loc))
	if err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}

	if plan.Count > 1 && o.queue == nil {
		return nil, fmt.Errorf("Run: %w", o.queueUnavailable())
	}

	ctx, cancel := o.detach(ctx)
	defer cancel()

	r.enter(StateProfileCreating)
	profile, err := o.gw.CreateProfile(ctx, req.Token, req.Billing)
	if err != nil {
		var dup *gateway.DuplicateProfileError
		if errors.As(err, &dup) {
			r.log.Warn("token already on a profile, charging once by token", "error", err)
			return o.duplicateFallback(ctx, r, req, plan)
		}
		o.notifyFailure(ctx, req, plan, PathInstallments, err)
		return nil, fmt.Errorf("Run: %w", err)
	}

	r.enter(StateCardResolving)
	cardID := o.gw.ResolveCardID(ctx, profile.CustomerCode)

	r.enter(StateFirstCharge)
	first := plan.First()
	charge := o.gw.ChargeByProfile(ctx, gateway.ProfileCharge{
		CustomerCode: profile.CustomerCode,
		CardID:       cardID,
		Amount:       first.Amount,
		OrderNumber:  orderNumber(req.Contract.ContractID, first.Index),
	})
	if err := chargeError(charge); err != nil {
		r.log.Error("first installment charge failed", "customer_code", profile.CustomerCode, "error", err)
		o.notifyFailure(ctx, req, plan, PathInstallments, err)
		return nil, fmt.Errorf("Run: %w", err)
	}

	res := &Result{
		Success:            true,
		FirstTransactionID: charge.TransactionID,
		TotalInstallments:  plan.Count,
		AmountCharged:      first.Amount,
		Scheduled:          []queue.Scheduled{},
		Failures:           []queue.Failure{},
		CustomerCode:       profile.CustomerCode,
		CardID:             cardID,
		Path:               PathInstallments,
	}

	if plan.Count > 1 {
		r.enter(StateScheduling)
		res.Scheduled, res.Failures = o.queue.PublishAll(ctx, o.pendingItems(req, plan, profile.CustomerCode, cardID))
		if len(res.Failures) > 0 {
			r.log.Error("some installments were not queued", "scheduled", len(res.Scheduled), "failed", len(res.Failures))
		}
	}

	r.enter(StateDone)
	res.Message = installmentMessage(res)
	o.notifyDone(ctx, req, plan, res)
	return res, nil
}

// duplicateFallback charges the first installment by token and schedules
// nothing: the existing profile's customer code cannot be recovered safely.
func (o *Orchestrator) duplicateFallback(ctx context.Context, r *run, req Request, plan *installment.Plan) (*Result, error) {
	r.enter(StateDuplicateFallbackCharge)

	first := plan.First()
	charge := o.gw.ChargeByToken(ctx, gateway.TokenCharge{
		Token:       req.Token,
		Name:        req.Billing.Name,
		Amount:      first.Amount,
		OrderNumber: orderNumber(req.Contract.ContractID, first.Index),
	})
	if err := chargeError(charge); err != nil {
		r.log.Error("fallback token charge failed", "error", err)
		o.notifyFailure(ctx, req, plan, PathDuplicateFallback, err)
		return nil, fmt.Errorf("Run: %w", err)
	}

	res := &Result{
		Success:            true,
		FirstTransactionID: charge.TransactionID,
		TotalInstallments:  plan.Count,
		AmountCharged:      first.Amount,
		Scheduled:          []queue.Scheduled{},
		Failures:           []queue.Failure{},
		Path:               PathDuplicateFallback,
	}

	remaining := len(plan.Remaining())
	if remaining > 0 {
		res.Message = fmt.Sprintf(
			"Payment of $%s processed. This card was already on file, so future payments were not auto-scheduled; our office will arrange the remaining %d installment(s).",
			first.Amount, remaining)
	} else {
		res.Message = fmt.Sprintf("Payment of $%s processed. This card was already on file, so it was charged once and future payments were not auto-scheduled.", first.Amount)
	}

	r.enter(StateDone)
	o.notifyDone(ctx, req, plan, res)
	return res, nil
}

// ProcessOneTime charges the full amount by token with no profile and no
// schedule.
func (o *Orchestrator) ProcessOneTime(ctx context.Context, req Request) (*Result, error) {
	log := logger.FromContext(ctx).With("contract_id", req.Contract.ContractID)

	if req.Installments == 0 {
		req.Installments = 1
	}
	req, err := Validate(req)
	if err != nil {
		log.Warn("one-time payment rejected", "error", err)
		return nil, fmt.Errorf("ProcessOneTime: %w", err)
	}

	plan, err := installment.NewPlan(req.Amount, 1, o.now().In(o.loc))
	if err != nil {
		return nil, fmt.Errorf("ProcessOneTime: %w", err)
	}

	ctx, cancel := o.detach(ctx)
	defer cancel()

	charge := o.gw.ChargeByToken(ctx, gateway.TokenCharge{
		Token:       req.Token,
		Name:        req.Billing.Name,
		Amount:      req.Amount,
		OrderNumber: orderNumber(req.Contract.ContractID, 1),
	})
	if err := chargeError(charge); err != nil {
		log.Error("one-time charge failed", "error", err)
		o.notifyFailure(ctx, req, plan, PathOneTime, err)
		return nil, fmt.Errorf("ProcessOneTime: %w", err)
	}

	log.Info("one-time payment approved", "transaction_id", charge.TransactionID)
	res := &Result{
		Success:            true,
		FirstTransactionID: charge.TransactionID,
		TotalInstallments:  1,
		AmountCharged:      req.Amount,
		Scheduled:          []queue.Scheduled{},
		Failures:           []queue.Failure{},
		Message:            "Payment processed.",
		Path:               PathOneTime,
	}
	o.notifyDone(ctx, req, plan, res)
	return res, nil
}

func (o *Orchestrator) pendingItems(req Request, plan *installment.Plan, customerCode string, cardID int) []queue.Pending {
	remaining := plan.Remaining()
	dates := plan.DueDates()[1:]

	items := make([]queue.Pending, 0, len(remaining))
	for _, inst := range remaining {
		items = append(items, queue.Pending{
			Index: inst.Index,
			Item: models.QueueItem{
				Amount:       inst.Amount,
				Currency:     o.currency,
				PaymentDate:  inst.DueDateString(),
				CustomerCode: customerCode,
				CardID:       cardID,
				Metadata: map[string]any{
					models.MetaContractID:        req.Contract.ContractID,
					models.MetaServiceAddress:    req.Contract.ServiceAddress,
					models.MetaCustomerName:      req.Billing.Name,
					models.MetaCustomerEmail:     req.Billing.Email,
					models.MetaInstallmentIndex:  inst.Index,
					models.MetaTotalInstallments: plan.Count,
					models.MetaRemainingDates:    dates,
				},
			},
		})
	}
	return items
}

func (o *Orchestrator) queueUnavailable() error {
	var cfgErr *models.ConfigurationError
	if errors.As(o.queueErr, &cfgErr) {
		return cfgErr
	}
	return &models.ConfigurationError{Component: "payment queue", Missing: []string{"publisher"}}
}

func (o *Orchestrator) notifyDone(ctx context.Context, req Request, plan *installment.Plan, res *Result) {
	o.notify(ctx, Event{
		Name:          EventCompleted,
		Path:          res.Path,
		Contract:      req.Contract,
		CustomerName:  req.Billing.Name,
		CustomerEmail: req.Billing.Email,
		Total:         req.Amount,
		Installments:  plan.Count,
		TransactionID: res.FirstTransactionID,
		Scheduled:     len(res.Scheduled),
		Failures:      len(res.Failures),
		ScheduleNote:  scheduleNote(res, plan.DueDates()[1:]),
	})
}

func (o *Orchestrator) notifyFailure(ctx context.Context, req Request, plan *installment.Plan, path Path, err error) {
	o.notify(ctx, Event{
		Name:          EventFailed,
		Path:          path,
		Contract:      req.Contract,
		CustomerName:  req.Billing.Name,
		CustomerEmail: req.Billing.Email,
		Total:         req.Amount,
		Installments:  plan.Count,
		ScheduleNote:  "Nothing charged or scheduled.",
		Error:         err.Error(),
	})
}

// chargeError maps a charge result to the checkout error taxonomy.
func chargeError(res gateway.ChargeResult) error {
	switch {
	case res.Approved:
		return nil
	case res.Ambiguous:
		return &ChargeAmbiguousError{Detail: res.DeclineReason}
	default:
		reason := res.DeclineReason
		if reason == "" {
			reason = "declined"
		}
		return &ChargeDeclinedError{Reason: reason}
	}
}

func installmentMessage(res *Result) string {
	if res.TotalInstallments == 1 {
		return "Payment processed."
	}
	future := res.TotalInstallments - 1
	if len(res.Failures) == 0 {
		return fmt.Sprintf("Payment 1 of %d processed. %d future payment(s) scheduled.", res.TotalInstallments, future)
	}
	return fmt.Sprintf(
		"Payment 1 of %d processed. %d of %d future payment(s) scheduled; %d could not be scheduled and our office will follow up.",
		res.TotalInstallments, len(res.Scheduled), future, len(res.Failures))
}

// orderNumber is unique per attempt so a retried checkout is not rejected
// as a duplicate order.
func orderNumber(contractID string, index int) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	prefix := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' {
			return r
		}
		return -1
	}, contractID)
	if prefix == "" {
		prefix = "RN"
	}

	n := fmt.Sprintf("%s-%d-%s", prefix, index, suffix)
	if len(n) > maxOrderNumber {
		n = n[len(n)-maxOrderNumber:]
	}
	return n
}
