package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/snowline/renewal-checkout/internal/logger"
)

// DB wraps the database connection
type DB struct {
	Conn *sql.DB
}

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// ConnectAttempts is how many pings are tried, one second apart.
	ConnectAttempts int
}

// Connect opens the queue database and waits for it to answer.
func Connect(ctx context.Context, databaseURL string, pool PoolConfig) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("database.Connect: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	attempts := pool.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}

	log := logger.FromContext(ctx)
	for i := range attempts {
		if err = conn.PingContext(ctx); err == nil {
			return &DB{Conn: conn}, nil
		}
		if i == attempts-1 {
			break
		}
		log.Info("waiting for database", "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			conn.Close()
			return nil, fmt.Errorf("database.Connect: %w", ctx.Err())
		case <-time.After(time.Second):
		}
	}

	conn.Close()
	return nil, fmt.Errorf("database.Connect: gave up after %d attempts: %w", attempts, err)
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.Conn != nil {
		return db.Conn.Close()
	}
	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	if db.Conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return db.Conn.PingContext(ctx)
}

// Health reports pool statistics for the health endpoint.
func (db *DB) Health(ctx context.Context) map[string]any {
	stats := db.Conn.Stats()

	health := map[string]any{
		"status":           "healthy",
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"max_open_conns":   stats.MaxOpenConnections,
	}

	if err := db.Ping(ctx); err != nil {
		health["status"] = "unhealthy"
		health["error"] = err.Error()
	}

	return health
}
