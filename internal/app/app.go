package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	_ "github.com/lib/pq"

	"PromoScanner/internal/config"
	"PromoScanner/internal/domain"
	"PromoScanner/internal/filter"
	"PromoScanner/internal/infrastructure/cursor"
	"PromoScanner/internal/infrastructure/llm"
	"PromoScanner/internal/infrastructure/scheduler"
	"PromoScanner/internal/infrastructure/storage"
	"PromoScanner/internal/infrastructure/telegram"
	"PromoScanner/internal/logging"
	"PromoScanner/internal/metrics"
	"PromoScanner/internal/ports"
	"PromoScanner/internal/source"
	"PromoScanner/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	pipeline *usecase.Pipeline
	metrics  *metrics.Metrics
	cleanup  []func()
}

// New builds a runnable application instance. Storage, cursor state and
// filter configuration are validated here so misconfiguration fails at
// startup rather than mid-cycle.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	a := &Application{cfg: cfg, logger: baseLogger, metrics: metrics.New()}

	repo, cursorStore, err := a.openStorage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	promoFilter := filter.New(cfg.Filter.Keywords)
	if path := cfg.Filter.KeywordsFile; path != "" {
		if err := promoFilter.LoadKeywordsFile(path); err != nil {
			a.Close()
			return nil, fmt.Errorf("load filter keywords: %w", err)
		}
		stop, err := promoFilter.WatchKeywordsFile(path, baseLogger.With("component", "filter"))
		if err != nil {
			baseLogger.Warn("filter keywords hot-reload unavailable", "path", path, "error", err)
		} else {
			a.cleanup = append(a.cleanup, stop)
		}
	}

	registry := source.NewRegistry()
	registry.Register(telegram.NewBotAPISource(nil))
	registry.Register(telegram.NewWebSource(nil))
	messageSource := source.NewRegistrySource(registry, cfg.Sources, baseLogger.With("component", "source"))

	sources := make([]domain.Source, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		sources = append(sources, domain.Source{ID: src.ID, FetchLimit: src.FetchLimit()})
	}

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Source:     messageSource,
		Repository: repo,
		Cursor:     cursorStore,
		Extractor:  llm.NewExtractor(cfg.Extractor),
		Filter:     promoFilter,
		Metrics:    a.metrics,
		Logger:     baseLogger.With("component", "pipeline"),
		Sources:    sources,
	})

	return a, nil
}

func (a *Application) openStorage(ctx context.Context) (ports.MessageRepository, ports.CursorStore, error) {
	var (
		repo        ports.MessageRepository
		cursorStore ports.CursorStore
	)

	switch a.cfg.Database.Driver {
	case "postgres":
		db, err := sql.Open("postgres", a.cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		a.cleanup = append(a.cleanup, func() { _ = db.Close() })

		pg := storage.NewPostgresRepository(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		repo, cursorStore = pg, pg
	case "sqlite", "":
		lite, err := storage.OpenSQLite(a.cfg.Database.Path)
		if err != nil {
			return nil, nil, err
		}
		a.cleanup = append(a.cleanup, func() { _ = lite.Close() })
		repo, cursorStore = lite, lite
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", a.cfg.Database.Driver)
	}

	if a.cfg.Cursor.Backend == "file" {
		fileStore, err := cursor.OpenFileStore(a.cfg.Cursor.Path)
		if err != nil {
			return nil, nil, err
		}
		cursorStore = fileStore
	}

	return repo, cursorStore, nil
}

// Run performs a single pipeline cycle.
func (a *Application) Run(ctx context.Context) error {
	if a.pipeline == nil {
		return nil
	}

	_, err := a.pipeline.RunCycle(ctx)
	return err
}

// RunDaemon runs cycles on the configured interval until the context is
// cancelled or a fatal pipeline error occurs.
func (a *Application) RunDaemon(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var fatalErr error
	runner := usecase.NewRunner(
		scheduler.NewIntervalScheduler(a.cfg.Scheduler.IntervalDuration()),
		a.pipeline,
		a.logger.With("component", "runner"),
		func(err error) {
			fatalErr = err
			cancel()
		},
	)

	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		server := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error("metrics listener stopped", "error", err)
			}
		}()
		a.cleanup = append(a.cleanup, func() { _ = server.Close() })
	}

	if err := runner.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	_ = runner.Stop(context.Background())
	if fatalErr != nil {
		return fatalErr
	}
	return nil
}

// Close releases resources opened during construction.
func (a *Application) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}
