package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/snowline/renewal-checkout/internal/cache"
	"github.com/snowline/renewal-checkout/internal/config"
	"github.com/snowline/renewal-checkout/internal/database"
	"github.com/snowline/renewal-checkout/internal/drain"
	"github.com/snowline/renewal-checkout/internal/events"
	"github.com/snowline/renewal-checkout/internal/gateway"
	"github.com/snowline/renewal-checkout/internal/logger"
	"github.com/snowline/renewal-checkout/internal/middleware"
	"github.com/snowline/renewal-checkout/internal/queue"
	"github.com/snowline/renewal-checkout/internal/queuestore"
)

func main() {
	cfg, err := config.LoadQueue()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Init("queue-service", cfg.LogLevel, cfg.AppEnv)
	ctx := logger.WithLogger(context.Background(), log)

	loc, err := cfg.Location()
	if err != nil {
		log.Error("invalid timezone", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	gwCfg, err := cfg.Gateway.Resolve()
	if err != nil {
		log.Error("gateway not configured", "error", err)
		os.Exit(1)
	}
	gw, err := gateway.NewClient(gwCfg)
	if err != nil {
		log.Error("gateway not configured", "error", err)
		os.Exit(1)
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetimeS) * time.Second,
		ConnectAttempts: 10,
	})
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("database connection established")

	store := queuestore.New(db.Conn, queuestore.WithMaxAttempts(cfg.Drain.MaxAttempts))
	publisher := events.NewPublisher(cfg.EventsURL, cfg.EventsSecret, log)

	execOpts := []drain.Option{drain.WithEvents(publisher)}
	health := map[string]HealthFunc{"database": db.Health}

	// Without Redis the scheduler still runs one pass at a time on this
	// replica, and the database claim still prevents double charges.
	var summaries SummaryCache
	redisClient, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Warn("redis unavailable, drain lock and summary cache disabled", "error", err)
	} else {
		defer redisClient.Close()
		execOpts = append(execOpts, drain.WithLocker(redisClient), drain.WithSummaryStore(redisClient))
		summaries = redisClient
		health["redis"] = func(ctx context.Context) map[string]any {
			if err := redisClient.HealthCheck(ctx); err != nil {
				return map[string]any{"status": "unhealthy", "error": err.Error()}
			}
			return map[string]any{"status": "healthy"}
		}
	}

	executor := drain.NewExecutor(store, gw, drain.Config{
		BatchSize:  cfg.Drain.BatchSize,
		Workers:    cfg.Drain.Workers,
		LockTTL:    cfg.Drain.LockTTL,
		StaleAfter: cfg.Drain.StaleAfter,
		Location:   loc,
	}, execOpts...)

	scheduler := drain.NewScheduler(executor, drain.SchedulerConfig{
		Enabled:      cfg.Drain.Enabled,
		TickInterval: cfg.Drain.Interval,
		PassTimeout:  cfg.Drain.PassTimeout,
	}, log)

	handler := NewHandler(store, scheduler, executor, summaries, health, loc)

	r := mux.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Logging(log),
		middleware.Recovery,
		middleware.SharedSecret(queue.SecretHeader, cfg.Secret, "/health"),
	)

	r.HandleFunc("/health", handler.HealthCheck).Methods(http.MethodGet)

	r.HandleFunc("/payments/queue", handler.Enqueue).Methods(http.MethodPost)
	r.HandleFunc("/payments/list", handler.ListItems).Methods(http.MethodGet)
	r.HandleFunc("/payments/items/{id}", handler.GetItem).Methods(http.MethodGet)
	r.HandleFunc("/payments/process", handler.Process).Methods(http.MethodPost)
	r.HandleFunc("/payments/retry", handler.Retry).Methods(http.MethodPost)
	r.HandleFunc("/payments/stats", handler.Stats).Methods(http.MethodGet)
	r.HandleFunc("/payments/status", handler.DrainStatus).Methods(http.MethodGet)

	// A manual drain answers only after the pass, so the write timeout
	// matches the pass timeout.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Drain.PassTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler.Start()

	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("server is shutting down")

		scheduler.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		close(done)
	}()

	log.Info("queue service starting", "port", cfg.Port, "drain_enabled", cfg.Drain.Enabled, "drain_interval", cfg.Drain.Interval)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	<-done
	log.Info("server stopped")
}
