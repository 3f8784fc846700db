package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/snowline/renewal-checkout/internal/money"
)

// Magic inputs. A token starting with duplicatePrefix is already on a
// profile; an amount whose cents are declineCents is declined.
const (
	duplicatePrefix = "dup-"
	declineCents    = 13
	duplicateCode   = 17
)

type MockGateway struct {
	mu        sync.RWMutex
	isHealthy bool
	latency   time.Duration
	nextTxn   int64
	profiles  map[string]mockProfile
	stats     GatewayStats
	logger    *slog.Logger
}

type mockProfile struct {
	Name  string
	Token string
	Cards []int
}

type GatewayStats struct {
	ProfilesCreated int `json:"profiles_created"`
	Duplicates      int `json:"duplicates"`
	Approved        int `json:"approved"`
	Declined        int `json:"declined"`
	Unavailable     int `json:"unavailable"`
}

type tokenInfo struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type profileRequest struct {
	Token   tokenInfo `json:"token"`
	Billing struct {
		Name string `json:"name"`
	} `json:"billing"`
}

type paymentRequest struct {
	Amount         money.Money `json:"amount"`
	PaymentMethod  string      `json:"payment_method"`
	OrderNumber    string      `json:"order_number"`
	PaymentProfile *struct {
		CustomerCode string `json:"customer_code"`
		CardID       int    `json:"card_id"`
	} `json:"payment_profile"`
	Token *tokenInfo `json:"token"`
}

// gatewayError is the gateway's error body.
type gatewayError struct {
	Code     int    `json:"code"`
	Category int    `json:"category"`
	Message  string `json:"message"`
}

func NewMockGateway(latency time.Duration, logger *slog.Logger) *MockGateway {
	return &MockGateway{
		isHealthy: true,
		latency:   latency,
		nextTxn:   10000000,
		profiles:  make(map[string]mockProfile),
		logger:    logger,
	}
}

func (g *MockGateway) Routes(r *mux.Router) {
	r.Handle("/profiles", g.requirePasscode(g.createProfile)).Methods(http.MethodPost)
	r.Handle("/profiles/{code}/cards", g.requirePasscode(g.listCards)).Methods(http.MethodGet)
	r.Handle("/payments", g.requirePasscode(g.payment)).Methods(http.MethodPost)

	// Admin endpoints for testing
	r.HandleFunc("/admin/latency", g.setLatency).Methods(http.MethodPost)
	r.HandleFunc("/admin/toggle-status", g.toggleStatus).Methods(http.MethodPost)
	r.HandleFunc("/admin/stats", g.getStats).Methods(http.MethodGet)

	r.HandleFunc("/health", g.health).Methods(http.MethodGet)
}

func (g *MockGateway) requirePasscode(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Passcode ") {
			respondJSON(w, http.StatusUnauthorized, gatewayError{Code: 21, Category: 3, Message: "Authentication failed"})
			return
		}
		next(w, r)
	})
}

// delay simulates gateway latency and reports whether the gateway is up.
func (g *MockGateway) delay(r *http.Request) bool {
	g.mu.RLock()
	latency := g.latency
	healthy := g.isHealthy
	g.mu.RUnlock()

	select {
	case <-time.After(latency):
	case <-r.Context().Done():
	}
	return healthy
}

func (g *MockGateway) createProfile(w http.ResponseWriter, r *http.Request) {
	if !g.delay(r) {
		g.unavailable(w)
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, gatewayError{Code: 14, Category: 3, Message: "Invalid request body"})
		return
	}
	if req.Token.Code == "" {
		respondJSON(w, http.StatusBadRequest, gatewayError{Code: 52, Category: 3, Message: "Missing token"})
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if strings.HasPrefix(req.Token.Code, duplicatePrefix) {
		g.stats.Duplicates++
		respondJSON(w, http.StatusPaymentRequired, gatewayError{
			Code:     duplicateCode,
			Category: 1,
			Message:  "Card already exists in another profile",
		})
		return
	}
	for _, p := range g.profiles {
		if p.Token == req.Token.Code {
			g.stats.Duplicates++
			respondJSON(w, http.StatusPaymentRequired, gatewayError{Code: duplicateCode, Category: 1, Message: "Card already exists in another profile"})
			return
		}
	}

	code := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	g.profiles[code] = mockProfile{Name: req.Billing.Name, Token: req.Token.Code, Cards: []int{1}}
	g.stats.ProfilesCreated++
	g.logger.Info("profile created", "customer_code", code)

	respondJSON(w, http.StatusOK, map[string]any{
		"code":          1,
		"message":       "Operation Successful",
		"customer_code": code,
	})
}

func (g *MockGateway) listCards(w http.ResponseWriter, r *http.Request) {
	if !g.delay(r) {
		g.unavailable(w)
		return
	}

	code := mux.Vars(r)["code"]
	g.mu.RLock()
	p, ok := g.profiles[code]
	g.mu.RUnlock()
	if !ok {
		respondJSON(w, http.StatusNotFound, gatewayError{Code: 19, Category: 3, Message: "Customer code not found"})
		return
	}

	cards := make([]map[string]any, 0, len(p.Cards))
	for _, id := range p.Cards {
		cards = append(cards, map[string]any{"card_id": strconv.Itoa(id), "name": p.Name, "card_type": "VI", "number": "XXXXXXXXXXXX4242"})
	}
	respondJSON(w, http.StatusOK, map[string]any{"code": 1, "message": "Operation Successful", "card": cards})
}

func (g *MockGateway) payment(w http.ResponseWriter, r *http.Request) {
	if !g.delay(r) {
		g.unavailable(w)
		return
	}

	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, gatewayError{Code: 14, Category: 3, Message: "Invalid request body"})
		return
	}
	if req.Amount <= 0 {
		respondJSON(w, http.StatusBadRequest, gatewayError{Code: 14, Category: 3, Message: "Invalid amount"})
		return
	}

	switch req.PaymentMethod {
	case "payment_profile":
		if req.PaymentProfile == nil {
			respondJSON(w, http.StatusBadRequest, gatewayError{Code: 14, Category: 3, Message: "Missing payment_profile"})
			return
		}
		g.mu.RLock()
		_, ok := g.profiles[req.PaymentProfile.CustomerCode]
		g.mu.RUnlock()
		if !ok {
			respondJSON(w, http.StatusBadRequest, gatewayError{Code: 19, Category: 3, Message: "Customer code not found"})
			return
		}
	case "token":
		if req.Token == nil || req.Token.Code == "" {
			respondJSON(w, http.StatusBadRequest, gatewayError{Code: 52, Category: 3, Message: "Missing token"})
			return
		}
	default:
		respondJSON(w, http.StatusBadRequest, gatewayError{Code: 14, Category: 3, Message: "Unsupported payment_method"})
		return
	}

	g.mu.Lock()
	g.nextTxn++
	id := g.nextTxn
	declined := req.Amount.Cents()%100 == declineCents
	if declined {
		g.stats.Declined++
	} else {
		g.stats.Approved++
	}
	g.mu.Unlock()

	g.logger.Info("payment", "id", id, "method", req.PaymentMethod, "amount", req.Amount.String(),
		"order_number", req.OrderNumber, "declined", declined)

	if declined {
		respondJSON(w, http.StatusOK, map[string]any{
			"id":       strconv.FormatInt(id, 10),
			"approved": "0",
			"message":  "DECLINE",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"id":        id,
		"approved":  "1",
		"message":   "Approved",
		"auth_code": fmt.Sprintf("TEST%02d", id%100),
		"amount":    req.Amount,
	})
}

func (g *MockGateway) unavailable(w http.ResponseWriter) {
	g.mu.Lock()
	g.stats.Unavailable++
	g.mu.Unlock()
	respondJSON(w, http.StatusServiceUnavailable, gatewayError{Code: 0, Category: 2, Message: "Service unavailable"})
}

// setLatency handles POST /admin/latency?ms=
func (g *MockGateway) setLatency(w http.ResponseWriter, r *http.Request) {
	ms, err := strconv.Atoi(r.URL.Query().Get("ms"))
	if err != nil || ms < 0 {
		http.Error(w, "Invalid ms parameter", http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	g.latency = time.Duration(ms) * time.Millisecond
	g.mu.Unlock()

	respondJSON(w, http.StatusOK, map[string]any{"message": "Latency updated", "latency_ms": ms})
}

func (g *MockGateway) toggleStatus(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	g.isHealthy = !g.isHealthy
	healthy := g.isHealthy
	g.mu.Unlock()

	respondJSON(w, http.StatusOK, map[string]any{"message": "Gateway status toggled", "healthy": healthy})
}

func (g *MockGateway) getStats(w http.ResponseWriter, r *http.Request) {
	g.mu.RLock()
	resp := map[string]any{
		"is_healthy": g.isHealthy,
		"latency_ms": g.latency.Milliseconds(),
		"profiles":   len(g.profiles),
		"stats":      g.stats,
		"timestamp":  time.Now(),
	}
	g.mu.RUnlock()

	respondJSON(w, http.StatusOK, resp)
}

func (g *MockGateway) health(w http.ResponseWriter, r *http.Request) {
	g.mu.RLock()
	healthy := g.isHealthy
	g.mu.RUnlock()

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{"service": "mock-gateway", "status": status, "timestamp": time.Now()})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
