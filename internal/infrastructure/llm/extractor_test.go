package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"PromoScanner/internal/config"
	"PromoScanner/internal/ports"
)

func chatBody(content string) string {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
	raw, _ := json.Marshal(resp)
	return string(raw)
}

func testConfig(endpoint string) config.ExtractorConfig {
	return config.ExtractorConfig{
		Endpoint:          endpoint,
		Model:             "gpt-4o-mini",
		APIKey:            "test-key",
		TimeoutSeconds:    5,
		MaxRetries:        2,
		RequestsPerMinute: 6000,
	}
}

func TestExtractProductOffer(t *testing.T) {
	t.Parallel()

	content := `{
		"type": "product_offer",
		"reason": null,
		"product_name": "Fone Bluetooth",
		"store_name": "MegaStore",
		"coupon_code": "FONE10",
		"prices": [{"currency": "brl", "amount": 199.9}, {"currency": "BRL", "amount": 149.9}],
		"discount_percent": 25,
		"min_purchase": null,
		"expiry": "2026-09-30",
		"link": "https://megastore.example/fone"
	}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Error("expected json_object response format")
		}
		w.Write([]byte(chatBody(content)))
	}))
	defer server.Close()

	res, err := NewExtractor(testConfig(server.URL)).Extract(context.Background(), "Fone por R$ 149,90 com cupom FONE10")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if !res.Valid {
		t.Fatalf("result invalid: %s", res.Reason)
	}
	if res.Fields.ProductName != "Fone Bluetooth" || res.Fields.CouponCode != "FONE10" {
		t.Fatalf("unexpected fields: %+v", res.Fields)
	}
	if len(res.Fields.Prices) != 2 || res.Fields.Prices[0].Currency != "BRL" || res.Fields.Prices[1].Amount != 149.9 {
		t.Fatalf("unexpected prices: %+v", res.Fields.Prices)
	}
	if res.Fields.Expiry == nil || res.Fields.Expiry.Format("2006-01-02") != "2026-09-30" {
		t.Fatalf("unexpected expiry: %v", res.Fields.Expiry)
	}
}

func TestExtractMalformedOutputIsRejection(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(chatBody("Sure! Here is the promotion you asked about: ...")))
	}))
	defer server.Close()

	res, err := NewExtractor(testConfig(server.URL)).Extract(context.Background(), "qualquer promo")
	if err != nil {
		t.Fatalf("malformed output must not be an error: %v", err)
	}
	if res.Valid {
		t.Fatal("expected Valid=false for non-JSON output")
	}
	if res.RawModelOutput == "" {
		t.Fatal("raw model output must be retained for audit")
	}
}

func TestExtractSchemaViolationIsRejection(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
	}{
		{"unknown type", `{"type": "mystery"}`},
		{"price without currency", `{"type": "product_offer", "prices": [{"amount": 10}]}`},
		{"negative amount", `{"type": "product_offer", "prices": [{"currency": "BRL", "amount": -5}]}`},
		{"bad expiry", `{"type": "coupon_only", "coupon_code": "X", "expiry": "next friday"}`},
		{"string amount", `{"type": "product_offer", "prices": [{"currency": "BRL", "amount": "10"}]}`},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := validateOutput(tc.content)
			if res.Valid {
				t.Fatalf("expected rejection for %s", tc.name)
			}
			if res.RawModelOutput != tc.content {
				t.Fatal("raw model output must be retained")
			}
		})
	}
}

func TestExtractIrrelevantMessage(t *testing.T) {
	t.Parallel()

	res := validateOutput(`{"type": "irrelevant", "reason": "no promotion in message"}`)
	if !res.Valid {
		t.Fatal("irrelevant is a valid model verdict")
	}
	if res.Fields.ProductName != "" || len(res.Fields.Prices) != 0 {
		t.Fatalf("expected empty fields, got %+v", res.Fields)
	}
	if res.Reason != "no promotion in message" {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestExtractRetriesRateLimit(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(chatBody(`{"type": "irrelevant", "reason": "ok"}`)))
	}))
	defer server.Close()

	res, err := NewExtractor(testConfig(server.URL)).Extract(context.Background(), "promo")
	if err != nil {
		t.Fatalf("Extract after retry: %v", err)
	}
	if !res.Valid {
		t.Fatalf("unexpected rejection: %s", res.Reason)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestExtractAuthErrorIsFatalNoRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewExtractor(testConfig(server.URL)).Extract(context.Background(), "promo")
	if !ports.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on auth errors)", got)
	}
}

func TestExtractServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 1

	_, err := NewExtractor(cfg).Extract(context.Background(), "promo")
	if !ports.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2 (initial + one retry)", got)
	}
}

func TestExtractMissingAPIKeyIsFatal(t *testing.T) {
	t.Parallel()

	cfg := testConfig("http://unused.example")
	cfg.APIKey = ""

	_, err := NewExtractor(cfg).Extract(context.Background(), "promo")
	if !ports.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}
