package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/snowline/renewal-checkout/internal/drain"
	"github.com/snowline/renewal-checkout/internal/installment"
	"github.com/snowline/renewal-checkout/internal/logger"
	"github.com/snowline/renewal-checkout/internal/models"
	"github.com/snowline/renewal-checkout/internal/queuestore"
)

const maxBodyBytes = 1 << 20

type ItemStore interface {
	Create(ctx context.Context, item models.QueueItem) (*models.QueueItem, error)
	Get(ctx context.Context, id string) (*models.QueueItem, error)
	List(ctx context.Context, status models.QueueStatus, limit int) ([]models.QueueItem, error)
	Stats(ctx context.Context, today string) (models.QueueStats, error)
}

type Drainer interface {
	Trigger(ctx context.Context) (models.DrainSummary, error)
	Status() drain.Status
}

type Retrier interface {
	RetryOne(ctx context.Context, id string) (models.DrainItemResult, error)
}

// SummaryCache reads the last drain summary written by any replica.
type SummaryCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
}

// HealthFunc reports one dependency's health.
type HealthFunc func(ctx context.Context) map[string]any

// Handler handles HTTP requests for the queue service
type Handler struct {
	store   ItemStore
	drainer Drainer
	retrier Retrier
	cache   SummaryCache
	health  map[string]HealthFunc
	loc     *time.Location
	now     func() time.Time
}

func NewHandler(store ItemStore, drainer Drainer, retrier Retrier, cache SummaryCache, health map[string]HealthFunc, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		store:   store,
		drainer: drainer,
		retrier: retrier,
		cache:   cache,
		health:  health,
		loc:     loc,
		now:     time.Now,
	}
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := make(map[string]any, len(h.health))
	for name, check := range h.health {
		res := check(r.Context())
		if res["status"] != "healthy" {
			status = "degraded"
		}
		checks[name] = res
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"service":           "queue-service",
		"status":            status,
		"scheduler_running": h.drainer.Status().Running,
		"checks":            checks,
	})
}

// Enqueue handles POST /payments/queue
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var item models.QueueItem
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&item); err != nil {
		respondError(w, http.StatusBadRequest, "invalid queue item body")
		return
	}

	stored, err := h.store.Create(r.Context(), item)
	if err != nil {
		if errors.Is(err, queuestore.ErrInvalidItem) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.FromContext(r.Context()).Error("enqueue failed", "payment_date", item.PaymentDate, "error", err)
		respondError(w, http.StatusInternalServerError, "could not store queue item")
		return
	}

	logger.FromContext(r.Context()).Info("installment queued",
		"post_id", stored.ID, "payment_date", stored.PaymentDate, "amount", stored.Amount.String())
	respondJSON(w, http.StatusCreated, map[string]any{
		"post_id": stored.ID,
		"status":  stored.Status,
	})
}

// ListItems handles GET /payments/list?status=&limit=
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	status, err := models.ParseQueueStatus(r.URL.Query().Get("status"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}

	items, err := h.store.List(r.Context(), status, limit)
	if err != nil {
		logger.FromContext(r.Context()).Error("list failed", "status", status, "error", err)
		respondError(w, http.StatusInternalServerError, "could not list queue items")
		return
	}
	if items == nil {
		items = []models.QueueItem{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// GetItem handles GET /payments/items/{id}
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	item, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, queuestore.ErrNotFound) {
			respondError(w, http.StatusNotFound, "queue item not found")
			return
		}
		logger.FromContext(r.Context()).Error("get failed", "post_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "could not read queue item")
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// Process handles POST /payments/process: one drain pass, now. The pass
// keeps going if the caller disconnects.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	log.Info("manual drain requested")

	summary, err := h.drainer.Trigger(r.Context())
	if err != nil {
		log.Error("manual drain failed", "error", err)
		respondError(w, http.StatusInternalServerError, "drain pass failed: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// Retry handles POST /payments/retry {post_id}
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PostID string `json:"post_id"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid retry body")
		return
	}
	body.PostID = strings.TrimSpace(body.PostID)
	if body.PostID == "" {
		respondError(w, http.StatusBadRequest, "post_id is required")
		return
	}

	result, err := h.retrier.RetryOne(r.Context(), body.PostID)
	switch {
	case errors.Is(err, queuestore.ErrNotFound):
		respondError(w, http.StatusNotFound, "queue item not found")
	case errors.Is(err, queuestore.ErrNotClaimable):
		respondError(w, http.StatusConflict, "queue item is not pending or failed")
	case err != nil:
		logger.FromContext(r.Context()).Error("retry failed", "post_id", body.PostID, "error", err)
		respondError(w, http.StatusInternalServerError, "retry failed")
	default:
		respondJSON(w, http.StatusOK, result)
	}
}

// Stats handles GET /payments/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	today := installment.FormatDate(h.now().In(h.loc))
	stats, err := h.store.Stats(r.Context(), today)
	if err != nil {
		logger.FromContext(r.Context()).Error("stats failed", "error", err)
		respondError(w, http.StatusInternalServerError, "could not compute stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// DrainStatus handles GET /payments/status. The cached summary is the last
// pass of any replica; the scheduler status is this replica's.
func (h *Handler) DrainStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"scheduler": h.drainer.Status()}

	if h.cache != nil {
		var last models.DrainSummary
		if err := h.cache.GetJSON(r.Context(), drain.LastSummaryKey, &last); err == nil {
			resp["last_drain"] = last
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
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
