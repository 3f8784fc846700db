package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowline/renewal-checkout/internal/gateway"
	"github.com/snowline/renewal-checkout/internal/logger"
	"github.com/snowline/renewal-checkout/internal/models"
	"github.com/snowline/renewal-checkout/internal/money"
)

func setup(t *testing.T, timeout time.Duration) (*MockGateway, *httptest.Server, *gateway.Client) {
	t.Helper()
	mock := NewMockGateway(0, logger.Discard())
	r := mux.NewRouter()
	mock.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	client, err := gateway.NewClient(gateway.Config{
		Environment:      "local",
		BaseURL:          srv.URL,
		MerchantID:       "300200000",
		PaymentsPasscode: "pay",
		ProfilesPasscode: "prof",
		Currency:         "CAD",
		Timeout:          timeout,
	})
	require.NoError(t, err)
	return mock, srv, client
}

var billing = models.BillingInfo{Name: "Ana Roy", Email: "ana@example.com"}

func TestProfileAndCharge(t *testing.T) {
	_, _, client := setup(t, 2*time.Second)
	ctx := t.Context()

	profile, err := client.CreateProfile(ctx, "tok-abc", billing)
	require.NoError(t, err)
	require.NotEmpty(t, profile.CustomerCode)

	assert.Equal(t, 1, client.ResolveCardID(ctx, profile.CustomerCode))

	res := client.ChargeByProfile(ctx, gateway.ProfileCharge{
		CustomerCode: profile.CustomerCode,
		CardID:       1,
		Amount:       money.FromCents(10000),
		OrderNumber:  "SR-1-1-abcd",
	})
	assert.True(t, res.Approved)
	assert.Equal(t, "10000001", res.TransactionID)
	assert.NotEmpty(t, res.AuthCode)
}

func TestDuplicateToken(t *testing.T) {
	_, _, client := setup(t, 2*time.Second)

	_, err := client.CreateProfile(t.Context(), "dup-123", billing)
	var dup *gateway.DuplicateProfileError
	require.True(t, errors.As(err, &dup), "got %v", err)

	// Reusing a token that already made a profile is a duplicate too.
	_, err = client.CreateProfile(t.Context(), "tok-once", billing)
	require.NoError(t, err)
	_, err = client.CreateProfile(t.Context(), "tok-once", billing)
	require.True(t, errors.As(err, &dup), "got %v", err)

	res := client.ChargeByToken(t.Context(), gateway.TokenCharge{Token: "dup-123", Name: "Ana Roy", Amount: money.FromCents(5000)})
	assert.True(t, res.Approved)
}

func TestDeclinedAmount(t *testing.T) {
	_, _, client := setup(t, 2*time.Second)

	res := client.ChargeByToken(t.Context(), gateway.TokenCharge{Token: "tok-1", Name: "Ana Roy", Amount: money.FromCents(3313)})
	assert.False(t, res.Approved)
	assert.False(t, res.Ambiguous)
	assert.Equal(t, "DECLINE", res.DeclineReason)
}

func TestUnknownProfileIsDeclined(t *testing.T) {
	_, _, client := setup(t, 2*time.Second)

	res := client.ChargeByProfile(t.Context(), gateway.ProfileCharge{CustomerCode: "NOPE", CardID: 1, Amount: money.FromCents(100)})
	assert.False(t, res.Approved)
	assert.False(t, res.Ambiguous)
	assert.Equal(t, "Customer code not found", res.DeclineReason)

	assert.Equal(t, gateway.DefaultCardID, client.ResolveCardID(t.Context(), "NOPE"))
}

func TestUnavailableIsAmbiguous(t *testing.T) {
	mock, _, client := setup(t, 2*time.Second)
	mock.mu.Lock()
	mock.isHealthy = false
	mock.mu.Unlock()

	res := client.ChargeByToken(t.Context(), gateway.TokenCharge{Token: "tok-1", Amount: money.FromCents(100)})
	assert.False(t, res.Approved)
	assert.True(t, res.Ambiguous)
	mock.mu.RLock()
	defer mock.mu.RUnlock()
	assert.Equal(t, 1, mock.stats.Unavailable)
}

func TestLatencyPastTimeoutIsAmbiguous(t *testing.T) {
	mock, _, client := setup(t, 50*time.Millisecond)
	mock.mu.Lock()
	mock.latency = 500 * time.Millisecond
	mock.mu.Unlock()

	res := client.ChargeByToken(t.Context(), gateway.TokenCharge{Token: "tok-1", Amount: money.FromCents(100)})
	assert.True(t, res.Ambiguous)
}

func TestRequiresPasscode(t *testing.T) {
	_, srv, _ := setup(t, time.Second)

	resp, err := http.Post(srv.URL+"/payments", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminLatency(t *testing.T) {
	mock, srv, _ := setup(t, time.Second)

	resp, err := http.Post(srv.URL+"/admin/latency?ms=1500", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	mock.mu.RLock()
	defer mock.mu.RUnlock()
	assert.Equal(t, 1500*time.Millisecond, mock.latency)
}
