package drain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowline/renewal-checkout/internal/logger"
	"github.com/snowline/renewal-checkout/internal/models"
)

func TestScheduler_TriggerRecordsResult(t *testing.T) {
	now := clockAt("2026-03-01")
	store := newMemStore(now, queued("a", "C1", "2026-03-01"))
	exec := NewExecutor(store, newFakeCharger(), Config{Location: toronto}, WithClock(now))
	s := NewScheduler(exec, SchedulerConfig{TickInterval: time.Hour}, logger.Discard())

	summary, err := s.Trigger(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)

	st := s.Status()
	assert.False(t, st.Running)
	require.NotNil(t, st.LastRun)
	require.NotNil(t, st.LastResult)
	assert.Equal(t, 1, st.LastResult.Completed)
	assert.Equal(t, "1h0m0s", st.TickInterval)
}

func TestScheduler_DisabledDoesNotStart(t *testing.T) {
	exec := NewExecutor(newMemStore(time.Now), newFakeCharger(), Config{})
	s := NewScheduler(exec, SchedulerConfig{Enabled: false}, logger.Discard())

	s.Start()
	assert.False(t, s.Status().Running)
	s.Stop()
}

func TestScheduler_TicksAndStops(t *testing.T) {
	now := clockAt("2026-03-01")
	store := newMemStore(now, queued("a", "C1", "2026-03-01"))
	charger := newFakeCharger()
	exec := NewExecutor(store, charger, Config{Location: toronto}, WithClock(now))
	s := NewScheduler(exec, SchedulerConfig{Enabled: true, TickInterval: 10 * time.Millisecond}, logger.Discard())

	s.Start()
	assert.True(t, s.Status().Running)

	require.Eventually(t, func() bool { return charger.count("C1") == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()
	assert.False(t, s.Status().Running)
	assert.Equal(t, 1, charger.count("C1"))
}

func TestScheduler_TriggerOutlivesCaller(t *testing.T) {
	now := clockAt("2026-03-01")
	store := newMemStore(now, queued("a", "C1", "2026-03-01"), queued("b", "C2", "2026-03-01"))
	exec := NewExecutor(store, newFakeCharger(), Config{Location: toronto}, WithClock(now))
	s := NewScheduler(exec, SchedulerConfig{TickInterval: time.Hour}, logger.Discard())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	summary, err := s.Trigger(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Completed)
	assert.Zero(t, summary.Released)
}

func TestScheduler_OnePassAtATime(t *testing.T) {
	now := clockAt("2026-03-01")
	store := newMemStore(now, queued("a", "C1", "2026-03-01"))
	charger := newFakeCharger()
	charger.delay = 200 * time.Millisecond
	exec := NewExecutor(store, charger, Config{Location: toronto}, WithClock(now))
	s := NewScheduler(exec, SchedulerConfig{TickInterval: time.Hour}, logger.Discard())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Trigger(t.Context())
	}()
	require.Eventually(t, func() bool { return charger.inFlight.Load() == 1 }, time.Second, 5*time.Millisecond)

	summary, err := s.Trigger(t.Context())
	require.NoError(t, err)
	assert.True(t, summary.Skipped)
	assert.Equal(t, "another drain pass is running", summary.SkipReason)

	<-done
	assert.Equal(t, 1, charger.count("C1"))
	st := s.Status()
	require.NotNil(t, st.LastResult)
	assert.Equal(t, 1, st.LastResult.Completed, "a skipped call does not replace the last result")
}

func TestScheduler_StopCutsManualPassShort(t *testing.T) {
	now := clockAt("2026-03-01")
	store := newMemStore(now,
		queued("a", "C1", "2026-03-01"),
		queued("b", "C2", "2026-03-01"),
		queued("c", "C3", "2026-03-01"),
	)
	charger := newFakeCharger()
	charger.delay = 100 * time.Millisecond
	exec := NewExecutor(store, charger, Config{Workers: 1, Location: toronto}, WithClock(now))
	s := NewScheduler(exec, SchedulerConfig{TickInterval: time.Hour}, logger.Discard())

	result := make(chan struct{})
	var summary models.DrainSummary
	go func() {
		defer close(result)
		summary, _ = s.Trigger(t.Context())
	}()
	require.Eventually(t, func() bool { return charger.inFlight.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.Stop()
	<-result

	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 2, summary.Released)
	assert.Equal(t, 2, store.countStatus(models.QueueStatusPending))
}
