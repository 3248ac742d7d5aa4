package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"PromoScanner/internal/domain"
	"PromoScanner/internal/filter"
	"PromoScanner/internal/metrics"
	"PromoScanner/internal/ports"
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source     ports.MessageSource
	Repository ports.MessageRepository
	Cursor     ports.CursorStore
	Extractor  ports.Extractor
	Filter     *filter.Filter
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Sources    []domain.Source
}

// Pipeline implements the message ingestion and extraction workflow. One
// RunCycle pass visits every configured source; sources fail independently
// and the watermark of a source only advances past durably stored items.
type Pipeline struct {
	source     ports.MessageSource
	repository ports.MessageRepository
	cursor     ports.CursorStore
	extractor  ports.Extractor
	filter     *filter.Filter
	metrics    *metrics.Metrics
	logger     *slog.Logger
	sources    []domain.Source
}

// SourceReport summarizes one source's share of a cycle.
type SourceReport struct {
	SourceID   string
	Fetched    int
	Stored     int
	Candidates int
	Invalid    int
	Watermark  int64
	Err        error
}

// Report aggregates per-source outcomes of one cycle.
type Report struct {
	Sources []SourceReport
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	return &Pipeline{
		source:     deps.Source,
		repository: deps.Repository,
		cursor:     deps.Cursor,
		extractor:  deps.Extractor,
		filter:     deps.Filter,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		sources:    deps.Sources,
	}
}

// RunCycle performs one full pass over all configured sources. Per-source
// failures, fetch misconfiguration included, are logged and skipped; only
// errors that poison every source alike (unreadable cursor state, rejected
// extraction credentials) abort the run and surface as the returned error.
func (p *Pipeline) RunCycle(ctx context.Context) (Report, error) {
	start := time.Now()
	report := Report{}

	var runErr error
	for _, src := range p.sources {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		srcReport, err := p.processSource(ctx, src)
		report.Sources = append(report.Sources, srcReport)
		if err != nil {
			runErr = err
			break
		}
	}

	p.metrics.ObserveCycle(time.Since(start).Seconds())
	p.logSummary(report, runErr)
	return report, runErr
}

// processSource runs the per-source state machine:
// fetch -> (filter -> extract? -> store)* -> commit watermark.
// The returned error is non-nil only for fatal failures; everything else
// is recorded on the report and retried implicitly next cycle.
func (p *Pipeline) processSource(ctx context.Context, src domain.Source) (SourceReport, error) {
	report := SourceReport{SourceID: src.ID}

	since, _, err := p.cursor.Get(ctx, src.ID)
	if err != nil {
		if ports.IsFatal(err) {
			return report, fmt.Errorf("cursor for source %s: %w", src.ID, err)
		}
		p.warn("cursor read failed, skipping source", "source", src.ID, "error", err)
		p.metrics.IncSourceFailure(src.ID, "cursor")
		report.Err = err
		return report, nil
	}
	report.Watermark = since

	messages, err := p.source.Fetch(ctx, src.ID, since, src.FetchLimit)
	if err != nil {
		// Fetch failures are scoped to this source's endpoint and never
		// abort the run; the remaining sources still get their cycle.
		if ports.IsFatal(err) {
			p.error("fetch failed permanently, check source configuration",
				"source", src.ID, "error", err)
		} else {
			p.warn("fetch failed, skipping source this cycle", "source", src.ID, "error", err)
		}
		p.metrics.IncSourceFailure(src.ID, "fetch")
		report.Err = err
		return report, nil
	}
	report.Fetched = len(messages)
	p.metrics.AddFetched(src.ID, len(messages))

	highWater := since
	var fatalErr error
	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			report.Err = err
			break
		}

		processed, err := p.processMessage(ctx, msg, &report)
		if err != nil {
			if ports.IsFatal(err) {
				fatalErr = fmt.Errorf("extract message %s/%d: %w", msg.SourceID, msg.ItemID, err)
				break
			}
			p.warn("extraction failed, abandoning source this cycle",
				"source", src.ID, "item", msg.ItemID, "error", err)
			p.metrics.IncSourceFailure(src.ID, "extract")
			report.Err = err
			break
		}

		if err := p.repository.Store(ctx, processed); err != nil {
			p.warn("store failed, abandoning source this cycle",
				"source", src.ID, "item", msg.ItemID, "error", err)
			p.metrics.IncStoreError()
			p.metrics.IncSourceFailure(src.ID, "store")
			report.Err = err
			break
		}

		highWater = msg.ItemID
		report.Stored++
	}
	p.metrics.AddStored(src.ID, report.Stored)

	// Commit once per batch, covering only items that are durably stored.
	if highWater > since {
		if err := p.cursor.Set(ctx, src.ID, highWater); err != nil {
			p.warn("watermark commit failed; stored items will be reprocessed",
				"source", src.ID, "watermark", highWater, "error", err)
			p.metrics.IncSourceFailure(src.ID, "commit")
			if report.Err == nil {
				report.Err = err
			}
		} else {
			report.Watermark = highWater
		}
	}

	return report, fatalErr
}

// processMessage classifies a message and, for candidates, runs extraction.
// The filter verdict is recomputed from text every time, never cached.
func (p *Pipeline) processMessage(ctx context.Context, msg domain.Message, report *SourceReport) (domain.ProcessedMessage, error) {
	if msg.URLs == nil {
		msg.URLs = filter.ExtractURLs(msg.Text)
	}

	if msg.Text == "" {
		return domain.ProcessedMessage{Message: msg, Status: domain.StatusNoText}, nil
	}
	if !p.filter.IsCandidate(msg.Text) {
		return domain.ProcessedMessage{Message: msg, Status: domain.StatusSkipped}, nil
	}

	report.Candidates++
	p.metrics.IncCandidate(msg.SourceID)

	result, err := p.extractor.Extract(ctx, msg.Text)
	if err != nil {
		return domain.ProcessedMessage{}, err
	}
	result.SourceID = msg.SourceID
	result.ItemID = msg.ItemID

	status := domain.StatusExtracted
	if result.Valid {
		p.metrics.IncExtraction("valid")
		if link := result.Fields.Link; link != "" && !containsString(msg.URLs, link) {
			msg.URLs = append(msg.URLs, link)
		}
	} else {
		p.metrics.IncExtraction("invalid")
		status = domain.StatusInvalid
		report.Invalid++
	}

	return domain.ProcessedMessage{Message: msg, Status: status, Result: &result}, nil
}

func (p *Pipeline) logSummary(report Report, runErr error) {
	if p.logger == nil {
		return
	}

	var fetched, stored, candidates, invalid int
	for _, src := range report.Sources {
		fetched += src.Fetched
		stored += src.Stored
		candidates += src.Candidates
		invalid += src.Invalid
	}

	if runErr != nil {
		p.logger.Error("cycle aborted",
			"sources", len(report.Sources), "fetched", fetched,
			"stored", stored, "error", runErr)
		return
	}
	p.logger.Info("cycle finished",
		"sources", len(report.Sources), "fetched", fetched, "stored", stored,
		"candidates", candidates, "invalid_extractions", invalid)
}

func (p *Pipeline) warn(msg string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}

func (p *Pipeline) error(msg string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Error(msg, args...)
	}
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
