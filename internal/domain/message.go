package domain

import "time"

// Source identifies a configured chat to monitor.
type Source struct {
	ID         string
	FetchLimit int
}

// Message is a single chat message fetched from a source. ItemID is
// strictly increasing within one source; the pair (SourceID, ItemID) is
// the natural key everywhere downstream.
type Message struct {
	SourceID   string
	ItemID     int64
	ChatTitle  string
	SenderID   int64
	SenderName string
	Text       string
	SentAt     time.Time
	URLs       []string
}

// Price is one monetary value found in a promotion.
type Price struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
}

// ExtractionFields holds the structured promotion data returned by the
// language model after validation.
type ExtractionFields struct {
	ProductName     string     `json:"product_name,omitempty"`
	StoreName       string     `json:"store_name,omitempty"`
	CouponCode      string     `json:"coupon_code,omitempty"`
	Prices          []Price    `json:"prices,omitempty"`
	DiscountPercent float64    `json:"discount_percent,omitempty"`
	MinPurchase     float64    `json:"min_purchase,omitempty"`
	Expiry          *time.Time `json:"expiry,omitempty"`
	Link            string     `json:"link,omitempty"`
}

// ExtractionResult is the outcome of one model call for one message.
// Valid=false means the model output failed schema validation; Fields is
// empty then and RawModelOutput keeps the response for audit.
type ExtractionResult struct {
	SourceID       string
	ItemID         int64
	Valid          bool
	Fields         ExtractionFields
	RawModelOutput string
	Reason         string
}

// ProcessingStatus enumerates what happened to a message in the pipeline.
type ProcessingStatus string

const (
	StatusExtracted ProcessingStatus = "extracted"
	StatusInvalid   ProcessingStatus = "invalid"
	StatusSkipped   ProcessingStatus = "skipped_pre_filter"
	StatusNoText    ProcessingStatus = "no_text"
)

// ProcessedMessage is the unit handed to persistence: the raw message,
// its status, and the extraction result when one was attempted.
type ProcessedMessage struct {
	Message Message
	Status  ProcessingStatus
	Result  *ExtractionResult
}
