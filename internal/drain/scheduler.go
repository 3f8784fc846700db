package drain

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/snowline/renewal-checkout/internal/logger"
	"github.com/snowline/renewal-checkout/internal/models"
)

type SchedulerConfig struct {
	Enabled      bool
	TickInterval time.Duration
	// PassTimeout bounds one drain pass.
	PassTimeout time.Duration
}

// Status is reported by /payments/status.
type Status struct {
	Running      bool                 `json:"running"`
	Enabled      bool                 `json:"enabled"`
	TickInterval string               `json:"tick_interval"`
	LastRun      *time.Time           `json:"last_run,omitempty"`
	NextRun      *time.Time           `json:"next_run,omitempty"`
	LastResult   *models.DrainSummary `json:"last_result,omitempty"`
}

// Scheduler runs drain passes on a ticker. Manual triggers go through the
// same executor, so the lock and claim rules apply to both, and at most one
// pass runs in this process at a time.
type Scheduler struct {
	executor   *Executor
	config     SchedulerConfig
	logger     *slog.Logger
	running    bool
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	passMu     sync.Mutex
	mu         sync.RWMutex
	lastRun    *time.Time
	nextRun    *time.Time
	lastResult *models.DrainSummary
}

func NewScheduler(executor *Executor, config SchedulerConfig, logger *slog.Logger) *Scheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = time.Hour
	}
	if config.PassTimeout <= 0 {
		config.PassTimeout = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		executor: executor,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background loop. A disabled scheduler still serves
// manual triggers.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running || !s.config.Enabled {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("drain scheduler started", "tick_interval", s.config.TickInterval)

	s.wg.Add(1)
	go s.run()
}

// Stop cuts the current pass short and waits for the ticker loop. Charges
// already sent finish; unsent items go back to the queue.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping drain scheduler, waiting for current pass")
	s.wg.Wait()
	s.logger.Info("drain scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.setNextRun()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
			s.setNextRun()
		}
	}
}

func (s *Scheduler) tick() {
	ctx := logger.WithLogger(context.Background(), s.logger.With("trigger", "ticker"))
	if _, err := s.Trigger(ctx); err != nil {
		s.logger.Error("scheduled drain pass failed", "error", err)
	}
}

// Trigger runs one pass now and records it as the last run. The pass
// ignores ctx cancellation, so a caller that stops waiting does not cut it
// short; it is bounded by PassTimeout and by Stop. A call made while
// another pass runs returns a skipped summary.
func (s *Scheduler) Trigger(ctx context.Context) (models.DrainSummary, error) {
	if !s.passMu.TryLock() {
		logger.FromContext(ctx).Info("drain pass skipped", "reason", "pass already running in this process")
		return models.DrainSummary{
			StartedAt:  time.Now(),
			Skipped:    true,
			SkipReason: "another drain pass is running",
			Items:      []models.DrainItemResult{},
		}, nil
	}
	defer s.passMu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.PassTimeout)
	defer cancel()

	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	summary, err := s.executor.Drain(ctx)

	now := time.Now()
	s.mu.Lock()
	s.lastRun = &now
	if !summary.Skipped {
		s.lastResult = &summary
	}
	s.mu.Unlock()

	return summary, err
}

func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		Running:      s.running,
		Enabled:      s.config.Enabled,
		TickInterval: s.config.TickInterval.String(),
		LastRun:      s.lastRun,
		NextRun:      s.nextRun,
		LastResult:   s.lastResult,
	}
}

func (s *Scheduler) setNextRun() {
	next := time.Now().Add(s.config.TickInterval)
	s.mu.Lock()
	s.nextRun = &next
	s.mu.Unlock()
}
