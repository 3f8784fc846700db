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

	"github.com/snowline/renewal-checkout/internal/checkout"
	"github.com/snowline/renewal-checkout/internal/config"
	"github.com/snowline/renewal-checkout/internal/events"
	"github.com/snowline/renewal-checkout/internal/gateway"
	"github.com/snowline/renewal-checkout/internal/logger"
	"github.com/snowline/renewal-checkout/internal/middleware"
	"github.com/snowline/renewal-checkout/internal/queue"
	"github.com/snowline/renewal-checkout/internal/websocket"
)

func main() {
	cfg, err := config.LoadCheckout()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Init("checkout-service", cfg.LogLevel, cfg.AppEnv)

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
	log.Info("gateway ready", "environment", gw.Environment(), "base_url", gwCfg.BaseURL)

	hub := websocket.NewHub(log, cfg.FeedOrigins...)
	go hub.Run()

	office := events.NewPublisher(cfg.NotifyWebhookURL, "", log)
	if office == nil {
		log.Warn("NOTIFY_WEBHOOK_URL not set, office notifications go to the live feed only")
	}

	opts := []checkout.Option{
		checkout.WithNotifier(feedNotifier{hub: hub, office: office}),
		checkout.WithLocation(loc),
		checkout.WithCurrency(gwCfg.Currency),
		checkout.WithDeadline(cfg.Deadline),
	}

	queueReady := true
	publisher, err := queue.NewClient(cfg.Queue)
	if err != nil {
		// One-time payments still work; installment checkouts are refused.
		log.Error("payment queue not configured, installment checkouts disabled", "error", err)
		opts = append(opts, checkout.WithQueueUnavailable(err))
		queueReady = false
	} else {
		opts = append(opts, checkout.WithPublisher(publisher))
	}

	orch := checkout.NewOrchestrator(gw, opts...)
	handler := NewHandler(orch, hub, gw.Environment(), queueReady, cfg.EventsSecret)

	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.Logging(log), middleware.Recovery)

	r.HandleFunc("/health", handler.HealthCheck).Methods(http.MethodGet)

	r.HandleFunc("/charge-initial-and-queue", handler.ChargeInitialAndQueue).Methods(http.MethodPost)
	r.HandleFunc("/process-bambora-payment", handler.ProcessPayment).Methods(http.MethodPost)

	r.HandleFunc("/ws", hub.ServeWs).Methods(http.MethodGet)
	r.HandleFunc("/ws/stats", handler.FeedStats).Methods(http.MethodGet)
	r.HandleFunc("/internal/events", handler.InternalEvents).Methods(http.MethodPost)

	// WriteTimeout outlasts the checkout deadline so the result still
	// reaches a client that waited.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Deadline + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("server is shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		hub.Close()
		close(done)
	}()

	log.Info("checkout service starting", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	<-done
	log.Info("server stopped")
}
