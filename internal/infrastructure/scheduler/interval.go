package scheduler

import (
	"context"
	"sync"
	"time"

	"PromoScanner/internal/ports"
)

// IntervalScheduler fires the job on a fixed interval using time.Ticker.
// The first invocation happens immediately on Start.
type IntervalScheduler struct {
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
}

var _ ports.Scheduler = (*IntervalScheduler)(nil)

// NewIntervalScheduler builds a scheduler with the given period.
func NewIntervalScheduler(interval time.Duration) *IntervalScheduler {
	return &IntervalScheduler{interval: interval}
}

// Start begins ticking until the context is cancelled or Stop is called.
func (s *IntervalScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	s.stop = stop
	s.mu.Unlock()

	// The goroutine works off the captured channel only; Stop may reset
	// the field while a job is still running.
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		job(time.Now())
		for {
			select {
			case t := <-ticker.C:
				select {
				case <-stop:
					return
				case <-ctx.Done():
					return
				default:
				}
				job(t)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the ticker goroutine. No job starts after Stop returns,
// though one already in flight runs to completion.
func (s *IntervalScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop == nil {
		return nil
	}
	close(s.stop)
	s.stop = nil
	return nil
}
