package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"PromoScanner/internal/domain"
	"PromoScanner/internal/ports"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
  source_id TEXT NOT NULL,
  item_id INTEGER NOT NULL,
  chat_title TEXT NOT NULL DEFAULT '',
  sender_id INTEGER NOT NULL DEFAULT 0,
  sender_name TEXT NOT NULL DEFAULT '',
  message_text TEXT NOT NULL DEFAULT '',
  sent_at TEXT NOT NULL DEFAULT '',
  urls_json TEXT NOT NULL DEFAULT '[]',
  status TEXT NOT NULL,
  processed_at TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (source_id, item_id)
);
CREATE TABLE IF NOT EXISTS extractions (
  source_id TEXT NOT NULL,
  item_id INTEGER NOT NULL,
  valid INTEGER NOT NULL,
  product_name TEXT NOT NULL DEFAULT '',
  store_name TEXT NOT NULL DEFAULT '',
  coupon_code TEXT NOT NULL DEFAULT '',
  prices_json TEXT NOT NULL DEFAULT '[]',
  discount_percent REAL NOT NULL DEFAULT 0,
  min_purchase REAL NOT NULL DEFAULT 0,
  expiry TEXT NOT NULL DEFAULT '',
  link TEXT NOT NULL DEFAULT '',
  raw_model_output TEXT NOT NULL DEFAULT '',
  reason TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (source_id, item_id)
);
CREATE TABLE IF NOT EXISTS watermarks (
  source_id TEXT PRIMARY KEY,
  last_item_id INTEGER NOT NULL,
  updated_at TEXT NOT NULL DEFAULT ''
);`

// SQLiteRepository is the embedded-database variant of the message and
// cursor stores, for single-host deployments without Postgres.
type SQLiteRepository struct {
	db *sql.DB
}

var _ ports.MessageRepository = (*SQLiteRepository)(nil)
var _ ports.CursorStore = (*SQLiteRepository)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// Close releases the underlying database handle.
func (r *SQLiteRepository) Close() error { return r.db.Close() }

// Store upserts the raw message and its extraction outcome in one
// transaction.
func (r *SQLiteRepository) Store(ctx context.Context, msg domain.ProcessedMessage) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin store tx: %w", err)
	}

	m := msg.Message
	urls, err := json.Marshal(nzSlice(m.URLs))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("marshal urls: %w", err)
	}

	const msgQuery = `INSERT INTO messages
  (source_id, item_id, chat_title, sender_id, sender_name, message_text, sent_at, urls_json, status, processed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(source_id, item_id) DO UPDATE
  SET status = excluded.status,
      urls_json = excluded.urls_json,
      processed_at = excluded.processed_at;`

	now := time.Now().UTC().Format(time.RFC3339Nano)
	sentAt := ""
	if !m.SentAt.IsZero() {
		sentAt = m.SentAt.UTC().Format(time.RFC3339Nano)
	}
	if _, err := tx.ExecContext(ctx, msgQuery,
		m.SourceID, m.ItemID, m.ChatTitle, m.SenderID, m.SenderName,
		m.Text, sentAt, string(urls), string(msg.Status), now); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("upsert message %s/%d: %w", m.SourceID, m.ItemID, err)
	}

	if msg.Result != nil {
		if err := upsertSQLiteExtraction(ctx, tx, m, *msg.Result); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit store tx: %w", err)
	}
	return nil
}

func upsertSQLiteExtraction(ctx context.Context, tx *sql.Tx, m domain.Message, res domain.ExtractionResult) error {
	prices, err := json.Marshal(res.Fields.Prices)
	if err != nil {
		return fmt.Errorf("marshal prices: %w", err)
	}

	expiry := ""
	if res.Fields.Expiry != nil {
		expiry = res.Fields.Expiry.Format("2006-01-02")
	}

	const q = `INSERT INTO extractions
  (source_id, item_id, valid, product_name, store_name, coupon_code, prices_json,
   discount_percent, min_purchase, expiry, link, raw_model_output, reason)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(source_id, item_id) DO UPDATE
  SET valid = excluded.valid,
      product_name = excluded.product_name,
      store_name = excluded.store_name,
      coupon_code = excluded.coupon_code,
      prices_json = excluded.prices_json,
      discount_percent = excluded.discount_percent,
      min_purchase = excluded.min_purchase,
      expiry = excluded.expiry,
      link = excluded.link,
      raw_model_output = excluded.raw_model_output,
      reason = excluded.reason;`

	if _, err := tx.ExecContext(ctx, q,
		m.SourceID, m.ItemID, boolToInt(res.Valid), res.Fields.ProductName, res.Fields.StoreName,
		res.Fields.CouponCode, string(prices), res.Fields.DiscountPercent, res.Fields.MinPurchase,
		expiry, res.Fields.Link, res.RawModelOutput, res.Reason); err != nil {
		return fmt.Errorf("upsert extraction %s/%d: %w", m.SourceID, m.ItemID, err)
	}
	return nil
}

// Get returns the stored watermark for a source, ok=false when none exists.
func (r *SQLiteRepository) Get(ctx context.Context, sourceID string) (int64, bool, error) {
	var itemID int64
	err := r.db.QueryRowContext(ctx,
		`SELECT last_item_id FROM watermarks WHERE source_id = ?;`, sourceID).Scan(&itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query watermark %s: %w", sourceID, err)
	}
	return itemID, true, nil
}

// Set advances the watermark; lower values than the stored one are ignored.
func (r *SQLiteRepository) Set(ctx context.Context, sourceID string, itemID int64) error {
	const q = `INSERT INTO watermarks (source_id, last_item_id, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(source_id) DO UPDATE
  SET last_item_id = excluded.last_item_id,
      updated_at = excluded.updated_at
  WHERE watermarks.last_item_id < excluded.last_item_id;`

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := r.db.ExecContext(ctx, q, sourceID, itemID, now); err != nil {
		return fmt.Errorf("upsert watermark %s: %w", sourceID, err)
	}
	return nil
}

func nzSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
