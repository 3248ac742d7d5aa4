package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"PromoScanner/internal/ports"
	"PromoScanner/internal/source"
)

func historyHandler(t *testing.T, body string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getChatHistory" {
			t.Errorf("path = %q, want /getChatHistory", r.URL.Path)
		}
		if got := r.URL.Query().Get("chat_id"); got != "-100200" {
			t.Errorf("chat_id = %q, want -100200", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}
}

func TestBotAPISourceFetch(t *testing.T) {
	t.Parallel()

	const body = `{"ok":true,"result":[
		{"message_id":205,"date":1740000200,"text":"Cupom FRETE10","chat":{"title":"Achados"},"from":{"id":7,"username":"bot_achados"}},
		{"message_id":201,"date":1740000100,"text":"Oferta encerrada","chat":{"title":"Achados"},"from":{"id":7,"first_name":"Achados"}},
		{"message_id":199,"date":1740000000,"text":"abaixo do cursor","chat":{"title":"Achados"},"from":{"id":7}}
	]}`

	server := httptest.NewServer(historyHandler(t, body))
	defer server.Close()

	messages, err := NewBotAPISource(nil).Fetch(context.Background(), source.Request{
		SourceID: "achados",
		Endpoint: server.URL,
		SinceID:  200,
		Limit:    50,
		Options:  map[string]string{"chat_id": "-100200"},
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if len(messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(messages))
	}
	if messages[0].ItemID != 201 || messages[1].ItemID != 205 {
		t.Fatalf("order = [%d, %d], want [201, 205]", messages[0].ItemID, messages[1].ItemID)
	}
	if messages[0].SenderName != "Achados" {
		t.Fatalf("sender fallback = %q, want first_name Achados", messages[0].SenderName)
	}
	if messages[1].SenderName != "bot_achados" {
		t.Fatalf("sender = %q, want username", messages[1].SenderName)
	}
	if messages[1].SentAt.Unix() != 1740000200 {
		t.Fatalf("sent at = %v", messages[1].SentAt)
	}
}

func TestBotAPISourceMissingChatID(t *testing.T) {
	t.Parallel()

	_, err := NewBotAPISource(nil).Fetch(context.Background(), source.Request{
		SourceID: "achados",
		Endpoint: "http://127.0.0.1:0",
	})
	if !ports.IsFatal(err) {
		t.Fatalf("expected fatal misconfiguration, got %v", err)
	}
}

func TestBotAPISourceEnvelopeError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		code  int
		fatal bool
	}{
		{"unauthorized is fatal", 401, true},
		{"chat not found is fatal", 404, true},
		{"flood wait is transient", 429, false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			envelope, _ := json.Marshal(map[string]any{
				"ok":          false,
				"error_code":  tc.code,
				"description": tc.name,
			})
			server := httptest.NewServer(historyHandler(t, string(envelope)))
			defer server.Close()

			_, err := NewBotAPISource(nil).Fetch(context.Background(), source.Request{
				SourceID: "achados",
				Endpoint: server.URL,
				Options:  map[string]string{"chat_id": "-100200"},
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

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	if err := classifyStatus(200); err != nil {
		t.Fatalf("200: %v", err)
	}
	if err := classifyStatus(403); !ports.IsFatal(err) {
		t.Fatalf("403: %v", err)
	}
	if err := classifyStatus(500); !ports.IsTransient(err) {
		t.Fatalf("500: %v", err)
	}
}
