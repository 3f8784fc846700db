package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowline/renewal-checkout/internal/database"
	"github.com/snowline/renewal-checkout/internal/testutil"
)

func TestConnect_GivesUp(t *testing.T) {
	start := time.Now()
	_, err := database.Connect(t.Context(), "postgres://nobody:x@127.0.0.1:1/none?sslmode=disable&connect_timeout=1", database.PoolConfig{ConnectAttempts: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gave up after 2 attempts")
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestConnect_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := database.Connect(ctx, "postgres://nobody:x@127.0.0.1:1/none?sslmode=disable&connect_timeout=1", database.PoolConfig{ConnectAttempts: 30})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHealth(t *testing.T) {
	db := &database.DB{Conn: testutil.SetupTestDB(t)}

	health := db.Health(t.Context())
	assert.Equal(t, "healthy", health["status"])
	assert.Contains(t, health, "open_connections")

	require.NoError(t, db.Close())
	health = db.Health(t.Context())
	assert.Equal(t, "unhealthy", health["status"])
	assert.NotEmpty(t, health["error"])
}
