package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQueueStatus(t *testing.T) {
	st, err := ParseQueueStatus("Pending")
	require.NoError(t, err)
	assert.Equal(t, QueueStatusPending, st)

	st, err = ParseQueueStatus("")
	require.NoError(t, err)
	assert.Equal(t, QueueStatusAll, st)

	_, err = ParseQueueStatus("archived")
	require.Error(t, err)
}

func TestDrainSummaryAdd(t *testing.T) {
	var s DrainSummary
	s.Add(DrainItemResult{ID: "a", Status: QueueStatusCompleted})
	s.Add(DrainItemResult{ID: "b", Status: QueueStatusFailed})
	s.Add(DrainItemResult{ID: "c", Status: QueueStatusNeedsReview})

	assert.Equal(t, 3, s.Processed)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.NeedsReview)
	assert.Len(t, s.Items, 3)
}

func TestConfigurationError(t *testing.T) {
	err := &ConfigurationError{Component: "queue", Missing: []string{"QUEUE_SECRET", "QUEUE_BASE_URL"}}
	assert.Equal(t, "queue is not configured: missing QUEUE_SECRET, QUEUE_BASE_URL", err.Error())
}
