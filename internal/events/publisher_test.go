package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowline/renewal-checkout/internal/logger"
)

func TestPublish(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s", r.Header.Get(SecretHeader))
		var ev Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		received <- ev
	}))
	defer srv.Close()

	p := NewPublisher(srv.URL, "s", logger.Discard())
	require.NoError(t, p.Publish(t.Context(), TypeQueue, QueueItemCompleted, map[string]string{"post_id": "p1"}))

	ev := <-received
	assert.Equal(t, TypeQueue, ev.Type)
	assert.Equal(t, QueueItemCompleted, ev.Event)
	assert.Equal(t, map[string]any{"post_id": "p1"}, ev.Data)
}

func TestPublish_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewPublisher(srv.URL, "", logger.Discard()).Publish(t.Context(), TypeCheckout, "checkout.completed", nil)
	assert.ErrorContains(t, err, "401")
}

func TestPublishAsync_DoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	p := NewPublisher(srv.URL, "", logger.Discard())

	start := time.Now()
	p.PublishAsync(TypeCheckout, "checkout.completed", nil)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestNilPublisher(t *testing.T) {
	p := NewPublisher("", "", nil)
	assert.Nil(t, p)
	assert.NoError(t, p.Publish(t.Context(), TypeQueue, QueueDrainCompleted, nil))
	p.PublishAsync(TypeQueue, QueueDrainCompleted, nil)
}
