// Package config loads per-service settings from the environment and the
// gateway environments file.
package config

import (
	"fmt"
	"time"
	_ "time/tzdata"

	env "github.com/caarlos0/env/v11"

	"github.com/snowline/renewal-checkout/internal/queue"
)

// Common is shared by every binary.
type Common struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv   string `env:"APP_ENV" envDefault:"production"`
	Timezone string `env:"APP_TIMEZONE" envDefault:"America/Toronto"`
}

// Location is the zone installment dates are computed in.
func (c Common) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config.Location: %w", err)
	}
	return loc, nil
}

// Gateway selects the gateway environment. Credentials come only from the
// environment, never from the YAML file.
type Gateway struct {
	Env              string        `env:"GATEWAY_ENV" envDefault:"sandbox"`
	ConfigPath       string        `env:"GATEWAY_CONFIG_PATH" envDefault:"./configs/gateway.yaml"`
	MerchantID       string        `env:"GATEWAY_MERCHANT_ID"`
	PaymentsPasscode string        `env:"GATEWAY_PAYMENTS_PASSCODE"`
	ProfilesPasscode string        `env:"GATEWAY_PROFILES_PASSCODE"`
	Timeout          time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"30s"`
}

type Checkout struct {
	Common
	Port    int `env:"PORT" envDefault:"8080"`
	Gateway Gateway
	Queue   queue.Config

	// Deadline bounds a checkout after the token reaches the gateway. It
	// must stay under the server's write timeout.
	Deadline time.Duration `env:"CHECKOUT_DEADLINE" envDefault:"2m"`

	NotifyWebhookURL string `env:"NOTIFY_WEBHOOK_URL"`
	// EventsSecret guards POST /internal/events.
	EventsSecret string `env:"EVENTS_SECRET"`
	// FeedOrigins restricts /ws upgrades; empty allows any origin.
	FeedOrigins []string `env:"FEED_ALLOWED_ORIGINS" envSeparator:","`
}

type Drain struct {
	Enabled     bool          `env:"DRAIN_ENABLED" envDefault:"true"`
	Interval    time.Duration `env:"DRAIN_INTERVAL" envDefault:"1h"`
	PassTimeout time.Duration `env:"DRAIN_PASS_TIMEOUT" envDefault:"15m"`
	BatchSize   int           `env:"DRAIN_BATCH_SIZE" envDefault:"50"`
	Workers     int           `env:"DRAIN_WORKERS" envDefault:"4"`
	LockTTL     time.Duration `env:"DRAIN_LOCK_TTL" envDefault:"10m"`
	// MaxAttempts caps declined retries of one item; 0 means no cap.
	MaxAttempts int `env:"DRAIN_MAX_ATTEMPTS" envDefault:"3"`
	// StaleAfter parks items left in processing longer than this.
	StaleAfter time.Duration `env:"DRAIN_STALE_AFTER" envDefault:"1h"`
}

type Queue struct {
	Common
	Port        int    `env:"PORT" envDefault:"8090"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	Secret      string `env:"QUEUE_SECRET,required"`
	Gateway     Gateway
	Drain       Drain

	// EventsURL is the checkout service's /internal/events endpoint.
	EventsURL    string `env:"EVENTS_URL"`
	EventsSecret string `env:"EVENTS_SECRET"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
}

// MockGateway configures the local gateway fake.
type MockGateway struct {
	Common
	Port    int           `env:"PORT" envDefault:"8101"`
	Latency time.Duration `env:"MOCK_LATENCY" envDefault:"250ms"`
}

type CLI struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"warn"`
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	Queue    queue.Config
}

func LoadCheckout() (*Checkout, error) {
	cfg, err := env.ParseAs[Checkout]()
	if err != nil {
		return nil, fmt.Errorf("config.LoadCheckout: %w", err)
	}
	return &cfg, nil
}

func LoadQueue() (*Queue, error) {
	cfg, err := env.ParseAs[Queue]()
	if err != nil {
		return nil, fmt.Errorf("config.LoadQueue: %w", err)
	}
	return &cfg, nil
}

func LoadMockGateway() (*MockGateway, error) {
	cfg, err := env.ParseAs[MockGateway]()
	if err != nil {
		return nil, fmt.Errorf("config.LoadMockGateway: %w", err)
	}
	return &cfg, nil
}

func LoadCLI() (*CLI, error) {
	cfg, err := env.ParseAs[CLI]()
	if err != nil {
		return nil, fmt.Errorf("config.LoadCLI: %w", err)
	}
	return &cfg, nil
}
