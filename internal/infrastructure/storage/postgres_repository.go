package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"PromoScanner/internal/domain"
	"PromoScanner/internal/ports"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS messages (
    source_id TEXT NOT NULL,
    item_id BIGINT NOT NULL,
    chat_title TEXT,
    sender_id BIGINT,
    sender_name TEXT,
    message_text TEXT,
    sent_at TIMESTAMP WITH TIME ZONE,
    urls TEXT[],
    status TEXT NOT NULL,
    processed_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    PRIMARY KEY (source_id, item_id)
);
CREATE TABLE IF NOT EXISTS extractions (
    source_id TEXT NOT NULL,
    item_id BIGINT NOT NULL,
    valid BOOLEAN NOT NULL,
    product_name TEXT,
    store_name TEXT,
    coupon_code TEXT,
    prices JSONB,
    discount_percent DOUBLE PRECISION,
    min_purchase DOUBLE PRECISION,
    expiry DATE,
    link TEXT,
    raw_model_output TEXT,
    reason TEXT,
    PRIMARY KEY (source_id, item_id)
);
CREATE TABLE IF NOT EXISTS watermarks (
    source_id TEXT PRIMARY KEY,
    last_item_id BIGINT NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);`

// PostgresRepository persists messages, extraction results and watermarks
// in Postgres. It implements both the message store and the cursor store.
type PostgresRepository struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.MessageRepository = (*PostgresRepository)(nil)
var _ ports.CursorStore = (*PostgresRepository)(nil)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// EnsureSchema creates the tables if they do not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

// Store upserts the raw message and its extraction outcome inside one
// transaction, so a successful call never leaves partial state behind.
func (r *PostgresRepository) Store(ctx context.Context, msg domain.ProcessedMessage) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin store tx: %w", err)
	}

	if err := r.upsertMessage(ctx, tx, msg); err != nil {
		_ = tx.Rollback()
		return err
	}
	if msg.Result != nil {
		if err := r.upsertExtraction(ctx, tx, msg.Message, *msg.Result); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit store tx: %w", err)
	}
	return nil
}

func (r *PostgresRepository) upsertMessage(ctx context.Context, tx *sql.Tx, msg domain.ProcessedMessage) error {
	m := msg.Message
	query, args, err := r.builder.
		Insert("messages").
		Columns("source_id", "item_id", "chat_title", "sender_id", "sender_name",
			"message_text", "sent_at", "urls", "status").
		Values(m.SourceID, m.ItemID, m.ChatTitle, m.SenderID, m.SenderName,
			m.Text, m.SentAt, pq.StringArray(m.URLs), string(msg.Status)).
		Suffix(`ON CONFLICT (source_id, item_id) DO UPDATE
            SET status = EXCLUDED.status,
                urls = EXCLUDED.urls,
                processed_at = NOW()`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build message upsert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert message %s/%d: %w", m.SourceID, m.ItemID, err)
	}
	return nil
}

func (r *PostgresRepository) upsertExtraction(ctx context.Context, tx *sql.Tx, m domain.Message, res domain.ExtractionResult) error {
	prices, err := json.Marshal(res.Fields.Prices)
	if err != nil {
		return fmt.Errorf("marshal prices: %w", err)
	}

	query, args, err := r.builder.
		Insert("extractions").
		Columns("source_id", "item_id", "valid", "product_name", "store_name",
			"coupon_code", "prices", "discount_percent", "min_purchase",
			"expiry", "link", "raw_model_output", "reason").
		Values(m.SourceID, m.ItemID, res.Valid, res.Fields.ProductName, res.Fields.StoreName,
			res.Fields.CouponCode, prices, res.Fields.DiscountPercent, res.Fields.MinPurchase,
			res.Fields.Expiry, res.Fields.Link, res.RawModelOutput, res.Reason).
		Suffix(`ON CONFLICT (source_id, item_id) DO UPDATE
            SET valid = EXCLUDED.valid,
                product_name = EXCLUDED.product_name,
                store_name = EXCLUDED.store_name,
                coupon_code = EXCLUDED.coupon_code,
                prices = EXCLUDED.prices,
                discount_percent = EXCLUDED.discount_percent,
                min_purchase = EXCLUDED.min_purchase,
                expiry = EXCLUDED.expiry,
                link = EXCLUDED.link,
                raw_model_output = EXCLUDED.raw_model_output,
                reason = EXCLUDED.reason`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build extraction upsert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert extraction %s/%d: %w", m.SourceID, m.ItemID, err)
	}
	return nil
}

// Get returns the stored watermark for a source, ok=false when none exists.
func (r *PostgresRepository) Get(ctx context.Context, sourceID string) (int64, bool, error) {
	query, args, err := r.builder.
		Select("last_item_id").
		From("watermarks").
		Where(sq.Eq{"source_id": sourceID}).
		ToSql()
	if err != nil {
		return 0, false, fmt.Errorf("build watermark query: %w", err)
	}

	var itemID int64
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query watermark %s: %w", sourceID, err)
	}
	return itemID, true, nil
}

// Set advances the watermark; lower values than the stored one are ignored.
func (r *PostgresRepository) Set(ctx context.Context, sourceID string, itemID int64) error {
	query, args, err := r.builder.
		Insert("watermarks").
		Columns("source_id", "last_item_id").
		Values(sourceID, itemID).
		Suffix(`ON CONFLICT (source_id) DO UPDATE
            SET last_item_id = EXCLUDED.last_item_id,
                updated_at = NOW()
            WHERE watermarks.last_item_id < EXCLUDED.last_item_id`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build watermark upsert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert watermark %s: %w", sourceID, err)
	}
	return nil
}
