package usecase

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"PromoScanner/internal/ports"
)

// Runner wires the scheduler driver with the pipeline and enforces
// single-flight cycles: a tick that arrives while the previous cycle is
// still in flight is skipped, never queued.
type Runner struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	logger   *slog.Logger
	onFatal  func(error)
	running  atomic.Bool
}

// NewRunner returns a helper to start/stop recurring cycles. onFatal, when
// set, is invoked with the error that aborted a run (bad credentials,
// unreadable cursor state) so the caller can shut the process down.
func NewRunner(driver ports.Scheduler, pipeline *Pipeline, logger *slog.Logger, onFatal func(error)) *Runner {
	return &Runner{driver: driver, pipeline: pipeline, logger: logger, onFatal: onFatal}
}

// Start registers the cycle job with the provided scheduler.
func (r *Runner) Start(ctx context.Context) error {
	if r.driver == nil || r.pipeline == nil {
		return nil
	}

	job := func(time.Time) {
		r.RunOnce(ctx)
	}

	return r.driver.Start(ctx, job)
}

// RunOnce executes a single cycle unless one is already in flight.
func (r *Runner) RunOnce(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		if r.logger != nil {
			r.logger.Warn("previous cycle still in flight, skipping this tick")
		}
		return
	}
	defer r.running.Store(false)

	_, err := r.pipeline.RunCycle(ctx)
	if err != nil && r.onFatal != nil {
		r.onFatal(err)
	}
}

// Stop gracefully tears down the underlying scheduler.
func (r *Runner) Stop(ctx context.Context) error {
	if r.driver == nil {
		return nil
	}

	return r.driver.Stop(ctx)
}
