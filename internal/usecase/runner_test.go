package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"PromoScanner/internal/domain"
	"PromoScanner/internal/filter"
	"PromoScanner/internal/ports"
)

type blockingSource struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSource) Fetch(ctx context.Context, sourceID string, sinceID int64, limit int) ([]domain.Message, error) {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil, nil
}

func TestRunOnceSingleFlight(t *testing.T) {
	t.Parallel()

	src := &blockingSource{entered: make(chan struct{}), release: make(chan struct{})}
	pipeline := NewPipeline(PipelineDeps{
		Source:     src,
		Repository: newFakeRepo(),
		Cursor:     newFakeCursor(),
		Extractor:  newFakeExtractor(),
		Filter:     filter.New(nil),
		Sources:    []domain.Source{{ID: "chat-a", FetchLimit: 10}},
	})
	runner := NewRunner(nil, pipeline, nil, nil)

	done := make(chan struct{})
	go func() {
		runner.RunOnce(context.Background())
		close(done)
	}()

	<-src.entered

	// a second tick while the first cycle is in flight must return
	// immediately without entering the pipeline
	finished := make(chan struct{})
	go func() {
		runner.RunOnce(context.Background())
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("overlapping RunOnce did not return promptly")
	}

	close(src.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never finished")
	}
}

func TestRunOnceReportsFatal(t *testing.T) {
	t.Parallel()

	cur := newFakeCursor()
	cur.getErr = ports.ErrFatal

	pipeline := NewPipeline(PipelineDeps{
		Source:     &fakeSource{},
		Repository: newFakeRepo(),
		Cursor:     cur,
		Extractor:  newFakeExtractor(),
		Filter:     filter.New(nil),
		Sources:    []domain.Source{{ID: "chat-a", FetchLimit: 10}},
	})

	var got error
	runner := NewRunner(nil, pipeline, nil, func(err error) { got = err })
	runner.RunOnce(context.Background())

	if !ports.IsFatal(got) {
		t.Fatalf("onFatal received %v, want a fatal error", got)
	}
}
