package routing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SchedulerConfig contains escalation scheduler configuration.
type SchedulerConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval: 2 * time.Second,
		BatchSize:    50,
	}
}

// Scheduler polls the database for due escalation timers and hands them to
// the routing engine. Timers are durable rows, so fires survive a process
// restart; the engine re-validates authoritative state on every fire, which
// also makes duplicate deliveries harmless.
type Scheduler struct {
	config SchedulerConfig
	repo   Repository
	engine *Service

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a new escalation scheduler.
func NewScheduler(config SchedulerConfig, repo Repository, engine *Service) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultSchedulerConfig().PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultSchedulerConfig().BatchSize
	}
	return &Scheduler{
		config: config,
		repo:   repo,
		engine: engine,
		stopCh: make(chan struct{}),
	}
}

// Start launches the scheduler goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("starting escalation scheduler",
		"poll_interval", s.config.PollInterval,
		"batch_size", s.config.BatchSize,
	)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	slog.Info("escalation scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.processDue(ctx)
		}
	}
}

func (s *Scheduler) processDue(ctx context.Context) {
	timers, err := s.repo.FetchDueTimers(ctx, s.config.BatchSize)
	if err != nil {
		slog.Error("failed to fetch due timers", "error", err)
		return
	}

	if len(timers) == 0 {
		return
	}

	slog.Debug("processing due timers", "count", len(timers))

	for _, timer := range timers {
		if err := s.engine.HandleTimerFire(ctx, timer); err != nil {
			slog.Error("timer fire failed",
				"incident_id", timer.IncidentID,
				"step", timer.Step,
				"error", err,
			)
		}
	}
}
