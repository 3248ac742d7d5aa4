package source

import (
	"context"
	"fmt"
	"log/slog"

	"PromoScanner/internal/config"
	"PromoScanner/internal/domain"
	"PromoScanner/internal/ports"
)

// RegistrySource implements ports.MessageSource by dispatching each
// configured source to its registered fetch strategy.
type RegistrySource struct {
	registry *Registry
	sources  map[string]config.SourceConfig
	logger   *slog.Logger
}

var _ ports.MessageSource = (*RegistrySource)(nil)

// NewRegistrySource wires the strategy registry with config-defined sources.
func NewRegistrySource(reg *Registry, sources []config.SourceConfig, log *slog.Logger) *RegistrySource {
	byID := make(map[string]config.SourceConfig, len(sources))
	for _, src := range sources {
		byID[src.ID] = src
	}
	return &RegistrySource{
		registry: reg,
		sources:  byID,
		logger:   log,
	}
}

// Fetch resolves the source's strategy and executes it.
func (s *RegistrySource) Fetch(ctx context.Context, sourceID string, sinceID int64, limit int) ([]domain.Message, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("source registry is not configured")
	}

	cfg, ok := s.sources[sourceID]
	if !ok {
		return nil, fmt.Errorf("source %s: %w: not configured", sourceID, ports.ErrFatal)
	}

	strategy, err := s.registry.Resolve(cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w: %v", sourceID, ports.ErrFatal, err)
	}

	s.debug("fetch source", "source", sourceID, "strategy", cfg.Strategy, "since", sinceID, "limit", limit)

	messages, err := strategy.Fetch(ctx, Request{
		SourceID: sourceID,
		Endpoint: cfg.Endpoint,
		SinceID:  sinceID,
		Limit:    limit,
		Options:  cfg.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch source %s: %w", sourceID, err)
	}

	s.debug("source produced messages", "source", sourceID, "count", len(messages))
	return messages, nil
}

func (s *RegistrySource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
