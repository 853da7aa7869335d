package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

const defaultShutdownTimeout = 30 * time.Second

// Poller is driven by the Runner: Update once per tick, Shutdown once at the end.
type Poller interface {
	Update(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Runner schedules a Poller at a fixed interval. Ticks never overlap; a tick that runs
// past the interval delays the next one.
type Runner struct {
	logger          *slog.Logger
	poller          Poller
	interval        time.Duration
	shutdownTimeout time.Duration
}

// New creates a new Runner.
func New(logger *slog.Logger, poller Poller, interval time.Duration) *Runner {
	return &Runner{
		logger:          logger,
		poller:          poller,
		interval:        interval,
		shutdownTimeout: defaultShutdownTimeout,
	}
}

// Run polls until ctx is done, waits for the running tick and then shuts the poller down.
// Errors from Update are logged and polling continues.
func (r *Runner) Run(ctx context.Context) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("runner: create scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() { r.tick(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("runner: schedule polling: %w", err)
	}

	r.logger.Info("Polling started", "interval", r.interval)
	s.Start()

	<-ctx.Done()
	r.logger.Info("Polling stopped, shutting down")
	if err := s.Shutdown(); err != nil {
		r.logger.Error("Failed to stop scheduler", "error", err)
	}

	// the parent is already cancelled, orders still have to be cancelled
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.shutdownTimeout)
	defer cancel()
	return r.poller.Shutdown(shutdownCtx)
}

func (r *Runner) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := r.poller.Update(ctx); err != nil {
		r.logger.Error("Polling failed", "error", err)
		return
	}
	r.logger.Debug("Polling done", "took", time.Since(start))
}
