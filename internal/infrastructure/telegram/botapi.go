package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"PromoScanner/internal/domain"
	"PromoScanner/internal/ports"
	"PromoScanner/internal/source"
)

// BotAPISource fetches chat history through a Bot API server endpoint
// (a local telegram-bot-api instance exposing getChatHistory). The
// configured endpoint already embeds the bot token.
type BotAPISource struct {
	client *http.Client
}

var _ source.Strategy = (*BotAPISource)(nil)

// NewBotAPISource wires an HTTP client with a sane default timeout.
func NewBotAPISource(client *http.Client) *BotAPISource {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &BotAPISource{client: client}
}

// Name identifies the strategy inside the registry.
func (b *BotAPISource) Name() string {
	return "telegram-bot"
}

type apiEnvelope struct {
	OK          bool         `json:"ok"`
	ErrorCode   int          `json:"error_code"`
	Description string       `json:"description"`
	Result      []apiMessage `json:"result"`
}

type apiMessage struct {
	MessageID int64  `json:"message_id"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
	Chat      struct {
		Title string `json:"title"`
	} `json:"chat"`
	From struct {
		ID        int64  `json:"id"`
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
	} `json:"from"`
}

// Fetch requests messages above req.SinceID for the configured chat.
func (b *BotAPISource) Fetch(ctx context.Context, req source.Request) ([]domain.Message, error) {
	chatID := req.Options["chat_id"]
	if chatID == "" {
		return nil, fmt.Errorf("%w: source %s has no chat_id option", ports.ErrFatal, req.SourceID)
	}

	q := url.Values{}
	q.Set("chat_id", chatID)
	q.Set("from_message_id", strconv.FormatInt(req.SinceID, 10))
	q.Set("limit", strconv.Itoa(req.Limit))

	endpoint := req.Endpoint + "/getChatHistory?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: chat history request: %v", ports.ErrTransient, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, fmt.Errorf("chat history status %s: %w", resp.Status, err)
	}

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: decode chat history: %v", ports.ErrTransient, err)
	}
	if !envelope.OK {
		if err := classifyStatus(envelope.ErrorCode); err != nil {
			return nil, fmt.Errorf("api error %d %s: %w", envelope.ErrorCode, envelope.Description, err)
		}
		return nil, fmt.Errorf("%w: api error %d %s", ports.ErrTransient, envelope.ErrorCode, envelope.Description)
	}

	messages := make([]domain.Message, 0, len(envelope.Result))
	for _, m := range envelope.Result {
		if m.MessageID <= req.SinceID {
			continue
		}
		sender := m.From.Username
		if sender == "" {
			sender = m.From.FirstName
		}
		messages = append(messages, domain.Message{
			SourceID:   req.SourceID,
			ItemID:     m.MessageID,
			ChatTitle:  m.Chat.Title,
			SenderID:   m.From.ID,
			SenderName: sender,
			Text:       m.Text,
			SentAt:     time.Unix(m.Date, 0).UTC(),
		})
	}

	sort.Slice(messages, func(i, j int) bool { return messages[i].ItemID < messages[j].ItemID })
	if req.Limit > 0 && len(messages) > req.Limit {
		messages = messages[:req.Limit]
	}
	return messages, nil
}

// classifyStatus maps HTTP-style status codes onto the transient/fatal
// error taxonomy. 2xx codes return nil.
func classifyStatus(code int) error {
	switch {
	case code < 300:
		return nil
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusNotFound:
		return ports.ErrFatal
	default:
		return ports.ErrTransient
	}
}
