// Command mock-gateway is a local stand-in for the payment gateway's
// profiles and payments API.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/snowline/renewal-checkout/internal/config"
	"github.com/snowline/renewal-checkout/internal/logger"
	"github.com/snowline/renewal-checkout/internal/middleware"
)

func main() {
	cfg, err := config.LoadMockGateway()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.Init("mock-gateway", cfg.LogLevel, cfg.AppEnv)

	gw := NewMockGateway(cfg.Latency, log)

	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.Logging(log), middleware.Recovery)
	gw.Routes(r)

	log.Info("mock gateway starting", "port", cfg.Port, "latency", cfg.Latency)
	log.Info("magic inputs", "duplicate_token_prefix", duplicatePrefix, "declined_cents", declineCents)
	log.Info("admin endpoints", "latency", "POST /admin/latency?ms=35000", "toggle", "POST /admin/toggle-status", "stats", "GET /admin/stats")

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}
