package queue

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowline/renewal-checkout/internal/models"
	"github.com/snowline/renewal-checkout/internal/money"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:     srv.URL,
		QueuePath:   "/payments/queue",
		ListPath:    "/payments/list",
		ProcessPath: "/payments/process",
		RetryPath:   "/payments/retry",
		Secret:      "s3cret",
	})
	require.NoError(t, err)
	return c
}

func testItem(date string) models.QueueItem {
	return models.QueueItem{
		Amount:       money.FromCents(3333),
		Currency:     "CAD",
		PaymentDate:  date,
		CustomerCode: "CUST1",
		CardID:       1,
		Metadata:     map[string]any{models.MetaContractID: "C-100"},
	}
}

func TestNewClient_MissingConfig(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)

	var cfgErr *models.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.ElementsMatch(t, []string{"QUEUE_BASE_URL", "QUEUE_SECRET"}, cfgErr.Missing)
}

func TestEnqueue(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/queue", r.URL.Path)
		assert.Equal(t, "s3cret", r.Header.Get(SecretHeader))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 33.33, body["amount"])
		assert.Equal(t, "2026-02-15", body["payment_date"])
		assert.Equal(t, "CUST1", body["customer_code"])
		assert.NotContains(t, body, "post_id")

		w.Write([]byte(`{"post_id": 42}`))
	})

	id, err := c.Enqueue(t.Context(), testItem("2026-02-15"))
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestEnqueue_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"error payload", http.StatusOK, `{"error":"duplicate date"}`, "duplicate date"},
		{"missing id", http.StatusOK, `{}`, "no post_id"},
		{"http error", http.StatusUnauthorized, `{"error":"bad secret"}`, "bad secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.Enqueue(t.Context(), testItem("2026-02-15"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.ErrorIs(t, err, ErrRejected)
		})
	}
}

func TestPublishAll_ContinuesPastFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"db down"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"post_id": "p" + string('0'+rune(n))})
	})

	scheduled, failures := c.PublishAll(t.Context(), []Pending{
		{Index: 2, Item: testItem("2026-02-15")},
		{Index: 3, Item: testItem("2026-03-15")},
		{Index: 4, Item: testItem("2026-04-15")},
	})

	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, scheduled, 2)
	require.Len(t, failures, 1)
	assert.Equal(t, 2, scheduled[0].Index)
	assert.Equal(t, "p1", scheduled[0].PostID)
	assert.Equal(t, 4, scheduled[1].Index)
	assert.Equal(t, 3, failures[0].Index)
	assert.Equal(t, "2026-03-15", failures[0].DueDate)
	assert.Contains(t, failures[0].Error, "db down")
}

func TestPublishAll_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, QueuePath: "/q", Secret: "x"})
	require.NoError(t, err)

	scheduled, failures := c.PublishAll(t.Context(), []Pending{{Index: 2, Item: testItem("2026-02-15")}})
	assert.Empty(t, scheduled)
	require.Len(t, failures, 1)
	assert.Equal(t, 2, failures[0].Index)
}

func TestParseItems(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantIDs []string
		wantErr bool
	}{
		{"array", `[{"post_id":"a"},{"post_id":"b"}]`, []string{"a", "b"}, false},
		{"items object", `{"items":[{"post_id":"a"}]}`, []string{"a"}, false},
		{"data object", `{"data":[{"post_id":"c"}]}`, []string{"c"}, false},
		{"items wins over data", `{"items":[{"post_id":"a"}],"data":[{"post_id":"c"}]}`, []string{"a"}, false},
		{"single object", `{"post_id":"z","amount":"10.00"}`, []string{"z"}, false},
		{"empty object", `{}`, nil, false},
		{"empty body", ``, nil, false},
		{"garbage", `not json`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := parseItems([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			var ids []string
			for _, it := range items {
				ids = append(ids, it.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestList_SendsFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/list", r.URL.Path)
		assert.Equal(t, "failed", r.URL.Query().Get("status"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"items":[{"post_id":"a","status":"failed","amount":12.5}]}`))
	})

	items, err := c.List(t.Context(), models.QueueStatusFailed, 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, money.FromCents(1250), items[0].Amount)
	assert.Equal(t, models.QueueStatusFailed, items[0].Status)
}

func TestProcessDueAndRetry(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/payments/process":
			w.Write([]byte(`{"processed":2,"completed":1,"failed":1}`))
		case "/payments/retry":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "p9", body["post_id"])
			w.Write([]byte(`{"post_id":"p9","status":"completed","transaction_id":"T1"}`))
		default:
			http.NotFound(w, r)
		}
	})

	summary, err := c.ProcessDue(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Completed)

	res, err := c.Retry(t.Context(), "p9")
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusCompleted, res.Status)
	assert.Equal(t, "T1", res.TransactionID)
}

func TestProcessDue_WaitsPastRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
		w.Write([]byte(`{"processed":1,"completed":1}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{
		BaseURL:        srv.URL,
		ProcessPath:    "/payments/process",
		ListPath:       "/payments/list",
		Secret:         "x",
		Timeout:        50 * time.Millisecond,
		ProcessTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	summary, err := c.ProcessDue(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)

	_, err = c.List(t.Context(), models.QueueStatusAll, 10)
	require.Error(t, err, "other calls keep the short timeout")
}
