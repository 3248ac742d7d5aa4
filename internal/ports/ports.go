package ports

import (
	"context"
	"time"

	"PromoScanner/internal/domain"
)

// MessageSource pulls new messages for one source above a watermark,
// ascending by item id, strictly greater than sinceID.
type MessageSource interface {
	Fetch(ctx context.Context, sourceID string, sinceID int64, limit int) ([]domain.Message, error)
}

// MessageRepository persists raw messages together with their extraction
// outcome. Store must be an idempotent upsert on (source_id, item_id).
type MessageRepository interface {
	Store(ctx context.Context, msg domain.ProcessedMessage) error
}

// CursorStore keeps the durable per-source watermark. Get reports ok=false
// when no watermark exists yet. Set must be durable before returning and
// must never move the watermark backwards.
type CursorStore interface {
	Get(ctx context.Context, sourceID string) (itemID int64, ok bool, err error)
	Set(ctx context.Context, sourceID string, itemID int64) error
}

// Extractor maps message text to structured promotion fields via the
// language model. Schema-invalid model output is reported through the
// result (Valid=false), never as an error.
type Extractor interface {
	Extract(ctx context.Context, text string) (domain.ExtractionResult, error)
}

// Scheduler controls when pipeline cycles execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
