package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestStartRunsImmediatelyAndRepeats(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := NewIntervalScheduler(5 * time.Millisecond)
	if err := s.Start(context.Background(), func(time.Time) { runs.Add(1) }); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("runs = %d, want at least 3", runs.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStopDuringJobHaltsTicking(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	started := make(chan struct{}, 1)

	s := NewIntervalScheduler(10 * time.Millisecond)
	err := s.Start(context.Background(), func(time.Time) {
		runs.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		// outlast several ticks so Stop lands mid-job
		time.Sleep(60 * time.Millisecond)
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	<-started
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// let the in-flight job finish, then several more intervals pass
	time.Sleep(200 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("job ran %d times, want only the one in flight at Stop", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewIntervalScheduler(time.Minute)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop before start: %v", err)
	}

	if err := s.Start(context.Background(), func(time.Time) {}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestContextCancelHaltsTicking(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	s := NewIntervalScheduler(10 * time.Millisecond)
	if err := s.Start(ctx, func(time.Time) { runs.Add(1) }); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("job never ran")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	time.Sleep(50 * time.Millisecond)
	before := runs.Load()
	time.Sleep(100 * time.Millisecond)
	if got := runs.Load(); got != before {
		t.Fatalf("job ran %d more times after cancel", got-before)
	}
}
