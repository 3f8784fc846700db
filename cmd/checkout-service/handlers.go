package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/snowline/renewal-checkout/internal/checkout"
	"github.com/snowline/renewal-checkout/internal/events"
	"github.com/snowline/renewal-checkout/internal/logger"
	"github.com/snowline/renewal-checkout/internal/websocket"
)

const maxBodyBytes = 1 << 20

// Checkouts is the subset of the orchestrator the handlers call.
type Checkouts interface {
	Run(ctx context.Context, req checkout.Request) (*checkout.Result, error)
	ProcessOneTime(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

// Handler handles HTTP requests for the checkout service
type Handler struct {
	checkouts    Checkouts
	hub          *websocket.Hub
	gatewayEnv   string
	queueReady   bool
	eventsSecret string
}

func NewHandler(checkouts Checkouts, hub *websocket.Hub, gatewayEnv string, queueReady bool, eventsSecret string) *Handler {
	return &Handler{
		checkouts:    checkouts,
		hub:          hub,
		gatewayEnv:   gatewayEnv,
		queueReady:   queueReady,
		eventsSecret: eventsSecret,
	}
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"service":         "checkout-service",
		"status":          "healthy",
		"gateway_env":     h.gatewayEnv,
		"queue_available": h.queueReady,
		"feed_clients":    h.hub.ClientCount(),
	})
}

// ChargeInitialAndQueue handles POST /charge-initial-and-queue
func (h *Handler) ChargeInitialAndQueue(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCheckout(w, r)
	if !ok {
		return
	}

	res, err := h.checkouts.Run(r.Context(), req)
	if err != nil {
		respondCheckoutError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ProcessPayment handles POST /process-bambora-payment. One installment (or
// none given) is a plain token charge; more runs the installment checkout.
func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCheckout(w, r)
	if !ok {
		return
	}

	var (
		res *checkout.Result
		err error
	)
	if req.Installments <= 1 {
		res, err = h.checkouts.ProcessOneTime(r.Context(), req)
	} else {
		res, err = h.checkouts.Run(r.Context(), req)
	}
	if err != nil {
		respondCheckoutError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// InternalEvents handles POST /internal/events: queue-service events are
// rebroadcast on the staff feed.
func (h *Handler) InternalEvents(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get(events.SecretHeader)
	if h.eventsSecret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.eventsSecret)) != 1 {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var ev events.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		respondError(w, http.StatusBadRequest, "invalid event body")
		return
	}
	if ev.Type == "" || ev.Event == "" {
		respondError(w, http.StatusBadRequest, "type and event are required")
		return
	}

	if err := h.hub.BroadcastEvent(ev.Type, ev.Event, ev.Data); err != nil {
		logger.FromContext(r.Context()).Error("rebroadcast failed", "event", ev.Event, "error", err)
		respondError(w, http.StatusInternalServerError, "could not broadcast event")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// FeedStats handles GET /ws/stats
func (h *Handler) FeedStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.hub.Stats())
}

func decodeCheckout(w http.ResponseWriter, r *http.Request) (checkout.Request, bool) {
	var req checkout.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		logger.FromContext(r.Context()).Warn("unreadable checkout body", "error", err)
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return checkout.Request{}, false
	}
	return req, true
}

// respondCheckoutError maps the checkout error taxonomy to a status and a
// short customer-facing message. Detail stays in the log.
func respondCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())

	var (
		validation *checkout.ValidationError
		declined   *checkout.ChargeDeclinedError
		ambiguous  *checkout.ChargeAmbiguousError
		profile    *checkout.ProfileCreationError
		cfgErr     *checkout.ConfigurationError
	)

	switch {
	case errors.As(err, &validation):
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "Please check the highlighted fields.",
			"fields":  validation.Fields,
		})
	case errors.As(err, &declined):
		respondError(w, http.StatusBadRequest, declined.Reason)
	case errors.As(err, &profile):
		log.Error("profile creation failed", "error", err)
		if profile.StatusCode == 0 || profile.StatusCode >= 500 {
			respondError(w, http.StatusInternalServerError, "We could not save your card right now. Please try again later.")
			return
		}
		respondError(w, http.StatusBadRequest, "We could not save your card. Please check the card details and try again.")
	case errors.As(err, &ambiguous):
		log.Error("charge outcome unknown", "error", err)
		respondError(w, http.StatusInternalServerError, checkout.AmbiguousUserMessage)
	case errors.As(err, &cfgErr):
		log.Error("checkout misconfigured", "error", err)
		respondError(w, http.StatusInternalServerError, "Online payments are temporarily unavailable. Please contact our office.")
	default:
		log.Error("checkout failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Payment could not be processed. Please try again later.")
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
