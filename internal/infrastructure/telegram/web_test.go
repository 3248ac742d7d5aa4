package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"PromoScanner/internal/ports"
	"PromoScanner/internal/source"
)

const previewPage = `<html><body>
<div class="tgme_channel_info_header_title">Promos BR</div>
<div class="tgme_widget_message" data-post="promosbr/103">
  <div class="tgme_widget_message_owner_name">Promos BR</div>
  <div class="tgme_widget_message_text">Fone por R$ 149,90</div>
  <time datetime="2026-03-01T12:30:00+00:00"></time>
</div>
<div class="tgme_widget_message" data-post="promosbr/101">
  <div class="tgme_widget_message_owner_name">Promos BR</div>
  <div class="tgme_widget_message_text">Cupom DEZ10 ativo</div>
  <time datetime="2026-03-01T11:00:00+00:00"></time>
</div>
<div class="tgme_widget_message" data-post="promosbr/99">
  <div class="tgme_widget_message_text">mensagem antiga</div>
</div>
<div class="tgme_widget_message">
  <div class="tgme_widget_message_text">sem data-post, ignorada</div>
</div>
</body></html>`

func TestWebSourceFetch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("after"); got != "100" {
			t.Errorf("after query = %q, want 100", got)
		}
		w.Write([]byte(previewPage))
	}))
	defer server.Close()

	messages, err := NewWebSource(nil).Fetch(context.Background(), source.Request{
		SourceID: "promos-br",
		Endpoint: server.URL,
		SinceID:  100,
		Limit:    50,
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if len(messages) != 2 {
		t.Fatalf("messages = %d, want 2 (above watermark only)", len(messages))
	}
	// ascending by item id regardless of page order
	if messages[0].ItemID != 101 || messages[1].ItemID != 103 {
		t.Fatalf("order = [%d, %d], want [101, 103]", messages[0].ItemID, messages[1].ItemID)
	}
	if messages[0].Text != "Cupom DEZ10 ativo" {
		t.Fatalf("text = %q", messages[0].Text)
	}
	if messages[1].ChatTitle != "Promos BR" {
		t.Fatalf("chat title = %q", messages[1].ChatTitle)
	}
	if messages[1].SentAt.IsZero() {
		t.Fatal("expected parsed timestamp")
	}
}

func TestWebSourceLimit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(previewPage))
	}))
	defer server.Close()

	messages, err := NewWebSource(nil).Fetch(context.Background(), source.Request{
		SourceID: "promos-br",
		Endpoint: server.URL,
		SinceID:  0,
		Limit:    2,
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("messages = %d, want limit 2", len(messages))
	}
	// limit keeps the oldest unprocessed messages first
	if messages[0].ItemID != 99 || messages[1].ItemID != 101 {
		t.Fatalf("order = [%d, %d], want [99, 101]", messages[0].ItemID, messages[1].ItemID)
	}
}

func TestWebSourceErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		fatal  bool
	}{
		{"not found is fatal", http.StatusNotFound, true},
		{"rate limit is transient", http.StatusTooManyRequests, false},
		{"server error is transient", http.StatusBadGateway, false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			_, err := NewWebSource(nil).Fetch(context.Background(), source.Request{
				SourceID: "promos-br",
				Endpoint: server.URL,
				Limit:    10,
			})
			if err == nil {
				t.Fatal("expected an error")
			}
			if tc.fatal && !ports.IsFatal(err) {
				t.Fatalf("expected fatal, got %v", err)
			}
			if !tc.fatal && !ports.IsTransient(err) {
				t.Fatalf("expected transient, got %v", err)
			}
		})
	}
}

func TestParsePostID(t *testing.T) {
	t.Parallel()

	if id, err := parsePostID("promosbr/12345"); err != nil || id != 12345 {
		t.Fatalf("parsePostID = (%d, %v)", id, err)
	}
	for _, bad := range []string{"", "promosbr/", "noslash", "promosbr/abc"} {
		if _, err := parsePostID(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
