package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"PromoScanner/internal/config"
	"PromoScanner/internal/domain"
	"PromoScanner/internal/ports"
)

const systemPrompt = `You are a promotion extraction system. You receive a single chat message and return ONLY a JSON object, with no explanatory text before or after it.`

const userPromptTemplate = `Analyze the following chat message and extract promotion, product or coupon information.

Return a JSON object with exactly this structure. Use null for fields that are absent or not applicable; do NOT omit fields.

{
  "type": "product_offer" | "coupon_only" | "irrelevant",
  "reason": string or null,
  "product_name": string or null,
  "store_name": string or null,
  "coupon_code": string or null,
  "prices": [{"currency": string, "amount": number}] or null,
  "discount_percent": number or null,
  "min_purchase": number or null,
  "expiry": "YYYY-MM-DD" or null,
  "link": string or null
}

Rules:
- Convert all monetary values to plain numbers (strip "R$", thousands separators; decimal point).
- If a product goes "from X to Y", include both as prices, original first.
- If the message has no clear promotion, product discount or coupon, use type "irrelevant" with a short reason.
- OUTPUT ONLY THE JSON OBJECT.

Message:
"""
%s
"""

Extracted JSON object:`

// Extractor implements ports.Extractor backed by an OpenAI-compatible
// chat-completions API.
type Extractor struct {
	endpoint   string
	model      string
	apiKey     string
	maxRetries int
	timeout    time.Duration
	limiter    *rate.Limiter
	httpClient *http.Client
}

var _ ports.Extractor = (*Extractor)(nil)

// NewExtractor builds a client from configuration.
func NewExtractor(cfg config.ExtractorConfig) *Extractor {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	return &Extractor{
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout(),
		limiter:    rate.NewLimiter(rate.Limit(rpm/60.0), 1),
		httpClient: &http.Client{},
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// httpError carries the status code and any Retry-After hint so the retry
// loop can size its backoff.
type httpError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Extract sends the message text through the prompt template and validates
// the model's JSON answer. Schema violations come back as Valid=false
// results; only invocation failures surface as errors.
func (e *Extractor) Extract(ctx context.Context, text string) (domain.ExtractionResult, error) {
	if e.apiKey == "" {
		return domain.ExtractionResult{}, fmt.Errorf("%w: extractor api key is not configured", ports.ErrFatal)
	}

	req := chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf(userPromptTemplate, text)},
		},
		Temperature:    0.1,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return domain.ExtractionResult{}, err
		}

		raw, err := e.complete(ctx, req)
		if err == nil {
			return validateOutput(raw), nil
		}
		if ports.IsFatal(err) {
			return domain.ExtractionResult{}, err
		}
		lastErr = err

		if attempt == e.maxRetries {
			break
		}

		backoff := time.Duration(1<<attempt) * time.Second
		var he *httpError
		if errors.As(lastErr, &he) && he.StatusCode == http.StatusTooManyRequests && he.RetryAfter > 0 {
			backoff = he.RetryAfter
		}

		select {
		case <-ctx.Done():
			return domain.ExtractionResult{}, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return domain.ExtractionResult{}, fmt.Errorf("%w: extraction failed after %d attempts: %v",
		ports.ErrTransient, e.maxRetries+1, lastErr)
}

// complete performs one chat-completions call and returns the raw message
// content.
func (e *Extractor) complete(ctx context.Context, req chatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%w: marshal chat request: %v", ports.ErrFatal, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: new request: %v", ports.ErrFatal, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %v", ports.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		he := &httpError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(payload)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return "", fmt.Errorf("%w: %w", ports.ErrFatal, he)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return "", fmt.Errorf("%w: %w", ports.ErrTransient, he)
		default:
			return "", fmt.Errorf("%w: %w", ports.ErrFatal, he)
		}
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return "", fmt.Errorf("%w: decode chat response: %v", ports.ErrTransient, err)
	}
	if len(chat.Choices) == 0 || chat.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: empty chat response", ports.ErrTransient)
	}

	return chat.Choices[0].Message.Content, nil
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

type modelPrice struct {
	Currency *string  `json:"currency"`
	Amount   *float64 `json:"amount"`
}

type modelPayload struct {
	Type            string       `json:"type"`
	Reason          *string      `json:"reason"`
	ProductName     *string      `json:"product_name"`
	StoreName       *string      `json:"store_name"`
	CouponCode      *string      `json:"coupon_code"`
	Prices          []modelPrice `json:"prices"`
	DiscountPercent *float64     `json:"discount_percent"`
	MinPurchase     *float64     `json:"min_purchase"`
	Expiry          *string      `json:"expiry"`
	Link            *string      `json:"link"`
}

// validateOutput parses raw model output against the schema. Any violation
// yields a rejection carrying the raw text for audit.
func validateOutput(raw string) domain.ExtractionResult {
	reject := func(reason string) domain.ExtractionResult {
		return domain.ExtractionResult{Valid: false, RawModelOutput: raw, Reason: reason}
	}

	var payload modelPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return reject("model output is not valid JSON: " + err.Error())
	}

	switch payload.Type {
	case "irrelevant":
		return domain.ExtractionResult{
			Valid:          true,
			RawModelOutput: raw,
			Reason:         deref(payload.Reason),
		}
	case "product_offer", "coupon_only":
	default:
		return reject(fmt.Sprintf("unknown extraction type %q", payload.Type))
	}

	fields := domain.ExtractionFields{
		ProductName: deref(payload.ProductName),
		StoreName:   deref(payload.StoreName),
		CouponCode:  deref(payload.CouponCode),
		Link:        deref(payload.Link),
	}

	for _, p := range payload.Prices {
		if p.Amount == nil || *p.Amount < 0 {
			return reject("price entry has a missing or negative amount")
		}
		if p.Currency == nil || strings.TrimSpace(*p.Currency) == "" {
			return reject("price entry has no currency")
		}
		fields.Prices = append(fields.Prices, domain.Price{
			Currency: strings.ToUpper(strings.TrimSpace(*p.Currency)),
			Amount:   *p.Amount,
		})
	}

	if payload.DiscountPercent != nil {
		if *payload.DiscountPercent < 0 || *payload.DiscountPercent > 100 {
			return reject("discount_percent out of range")
		}
		fields.DiscountPercent = *payload.DiscountPercent
	}
	if payload.MinPurchase != nil {
		if *payload.MinPurchase < 0 {
			return reject("min_purchase is negative")
		}
		fields.MinPurchase = *payload.MinPurchase
	}

	if payload.Expiry != nil && *payload.Expiry != "" {
		expiry, err := time.Parse("2006-01-02", *payload.Expiry)
		if err != nil {
			return reject("expiry is not a YYYY-MM-DD date: " + *payload.Expiry)
		}
		fields.Expiry = &expiry
	}

	return domain.ExtractionResult{
		Valid:          true,
		Fields:         fields,
		RawModelOutput: raw,
		Reason:         deref(payload.Reason),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
