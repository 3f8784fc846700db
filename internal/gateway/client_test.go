package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowline/renewal-checkout/internal/models"
	"github.com/snowline/renewal-checkout/internal/money"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		Environment:      "test",
		BaseURL:          srv.URL,
		MerchantID:       "300200100",
		PaymentsPasscode: "pay-pass",
		ProfilesPasscode: "prof-pass",
		Timeout:          200 * time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func testBilling() models.BillingInfo {
	return models.BillingInfo{
		Name:         "Jane Plow",
		AddressLine1: "12 Drift Rd",
		City:         "Ottawa",
		Province:     "ON",
		Country:      "CA",
		PostalCode:   "K1A0B1",
		Phone:        "6135550199",
		Email:        "jane@example.com",
	}
}

func TestNewClient_MissingCredentials(t *testing.T) {
	_, err := NewClient(Config{Environment: "production", BaseURL: "https://gw"})

	var cfgErr *models.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Missing, "GATEWAY_MERCHANT_ID")
	assert.Contains(t, cfgErr.Missing, "GATEWAY_PAYMENTS_PASSCODE")
}

func TestCreateProfile_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/profiles", r.URL.Path)
		want := "Passcode " + base64.StdEncoding.EncodeToString([]byte("300200100:prof-pass"))
		assert.Equal(t, want, r.Header.Get("Authorization"))

		var req profileRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tok-1", req.Token.Code)
		assert.Equal(t, "Jane Plow", req.Token.Name)
		assert.Equal(t, "K1A0B1", req.Billing.PostalCode)

		json.NewEncoder(w).Encode(map[string]any{"code": 1, "message": "Operation Successful", "customer_code": "CUST01"})
	})

	p, err := c.CreateProfile(context.Background(), "tok-1", testBilling())
	require.NoError(t, err)
	assert.Equal(t, "CUST01", p.CustomerCode)
}

func TestCreateProfile_Duplicate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"code":17,"category":2,"message":"Duplicate profile"}`))
	})

	_, err := c.CreateProfile(context.Background(), "tok-1", testBilling())

	var dup *DuplicateProfileError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "Duplicate profile", dup.Message)
}

func TestCreateProfile_OtherRejection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":52,"message":"Invalid postal code"}`))
	})

	_, err := c.CreateProfile(context.Background(), "tok-1", testBilling())

	var pce *ProfileCreationError
	require.True(t, errors.As(err, &pce))
	assert.Equal(t, 52, pce.Code)
	assert.Equal(t, "Invalid postal code", pce.Message)

	var dup *DuplicateProfileError
	assert.False(t, errors.As(err, &dup))
}

func TestResolveCardID(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   int
	}{
		{name: "card array", status: 200, body: `{"code":1,"card":[{"card_id":3},{"card_id":4}]}`, want: 3},
		{name: "cards array with string id", status: 200, body: `{"cards":[{"card_id":"2"}]}`, want: 2},
		{name: "bare array", status: 200, body: `[{"card_id":5}]`, want: 5},
		{name: "empty list", status: 200, body: `{"card":[]}`, want: DefaultCardID},
		{name: "lookup error", status: 500, body: `oops`, want: DefaultCardID},
		{name: "garbage", status: 200, body: `not json`, want: DefaultCardID},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/profiles/CUST01/cards", r.URL.Path)
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})
			assert.Equal(t, tc.want, c.ResolveCardID(context.Background(), "CUST01"))
		})
	}
}

func TestChargeByProfile_Approved(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		want := "Passcode " + base64.StdEncoding.EncodeToString([]byte("300200100:pay-pass"))
		assert.Equal(t, want, r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "payment_profile", req["payment_method"])
		assert.Equal(t, true, req["complete"])
		assert.EqualValues(t, 33.33, req["amount"])
		profile := req["payment_profile"].(map[string]any)
		assert.Equal(t, "CUST01", profile["customer_code"])
		assert.EqualValues(t, 1, profile["card_id"])
		assert.Equal(t, true, profile["complete"])

		w.Write([]byte(`{"id":10000123,"approved":"1","message":"Approved","auth_code":"TEST"}`))
	})

	res := c.ChargeByProfile(context.Background(), ProfileCharge{CustomerCode: "CUST01", CardID: 1, Amount: money.FromCents(3333)})
	assert.True(t, res.Approved)
	assert.False(t, res.Ambiguous)
	assert.Equal(t, "10000123", res.TransactionID)
	assert.Equal(t, "TEST", res.AuthCode)
}

func TestCharge_Outcomes(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		delay         time.Duration
		wantApproved  bool
		wantAmbiguous bool
		wantReason    string
	}{
		{name: "decline with 402", status: 402, body: `{"code":7,"message":"DECLINE"}`, wantReason: "DECLINE"},
		{name: "not approved in 200", status: 200, body: `{"id":"9","approved":0,"message":"Insufficient funds"}`, wantReason: "Insufficient funds"},
		{name: "approved boolean", status: 200, body: `{"id":"9","approved":true}`, wantApproved: true},
		{name: "server error is ambiguous", status: 503, body: `unavailable`, wantAmbiguous: true},
		{name: "unreadable 200 is ambiguous", status: 200, body: `<html>`, wantAmbiguous: true},
		{name: "timeout is ambiguous", status: 200, body: `{"approved":1}`, delay: 400 * time.Millisecond, wantAmbiguous: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tc.delay > 0 {
					time.Sleep(tc.delay)
				}
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})

			res := c.ChargeByToken(context.Background(), TokenCharge{Token: "tok", Name: "Jane", Amount: money.FromCents(10000)})
			assert.Equal(t, tc.wantApproved, res.Approved)
			assert.Equal(t, tc.wantAmbiguous, res.Ambiguous)
			if tc.wantReason != "" {
				assert.Equal(t, tc.wantReason, res.DeclineReason)
			}
			if !tc.wantApproved {
				assert.NotEmpty(t, res.DeclineReason)
			}
		})
	}
}

func TestChargeByToken_SendsToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req paymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "token", req.PaymentMethod)
		require.NotNil(t, req.Token)
		assert.Equal(t, "tok-9", req.Token.Code)
		assert.Nil(t, req.PaymentProfile)
		assert.Equal(t, money.Money(12500), req.Amount)
		w.Write([]byte(`{"id":"77","approved":"1"}`))
	})

	res := c.ChargeByToken(context.Background(), TokenCharge{Token: "tok-9", Name: "Jane", Amount: money.FromCents(12500)})
	assert.True(t, res.Approved)
	assert.Equal(t, "77", res.TransactionID)
}
