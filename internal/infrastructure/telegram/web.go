package telegram

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"PromoScanner/internal/domain"
	"PromoScanner/internal/ports"
	"PromoScanner/internal/source"
)

// WebSource scrapes the public t.me/s/<channel> preview page. Only works
// for public channels, but needs no credentials; the preview page accepts
// an ?after=<id> parameter which maps directly onto the watermark.
type WebSource struct {
	client *http.Client
}

var _ source.Strategy = (*WebSource)(nil)

// NewWebSource wires an HTTP client; nil gets a default with timeout.
func NewWebSource(client *http.Client) *WebSource {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &WebSource{client: client}
}

// Name identifies the strategy inside the registry.
func (w *WebSource) Name() string {
	return "telegram-web"
}

// Fetch loads the preview page and extracts messages above req.SinceID.
func (w *WebSource) Fetch(ctx context.Context, req source.Request) ([]domain.Message, error) {
	pageURL := req.Endpoint
	if req.SinceID > 0 {
		sep := "?"
		if strings.Contains(pageURL, "?") {
			sep = "&"
		}
		pageURL += sep + "after=" + strconv.FormatInt(req.SinceID, 10)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "promoscanner/1.0")

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: preview page request: %v", ports.ErrTransient, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, fmt.Errorf("preview page status %s: %w", resp.Status, err)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse preview page: %v", ports.ErrTransient, err)
	}

	messages := w.extractMessages(doc, req)
	sort.Slice(messages, func(i, j int) bool { return messages[i].ItemID < messages[j].ItemID })
	if req.Limit > 0 && len(messages) > req.Limit {
		messages = messages[:req.Limit]
	}
	return messages, nil
}

func (w *WebSource) extractMessages(doc *goquery.Document, req source.Request) []domain.Message {
	chatTitle := strings.TrimSpace(doc.Find(".tgme_channel_info_header_title").First().Text())

	var messages []domain.Message
	doc.Find(".tgme_widget_message").Each(func(_ int, sel *goquery.Selection) {
		post, ok := sel.Attr("data-post")
		if !ok {
			return
		}
		itemID, err := parsePostID(post)
		if err != nil || itemID <= req.SinceID {
			return
		}

		msg := domain.Message{
			SourceID:   req.SourceID,
			ItemID:     itemID,
			ChatTitle:  chatTitle,
			SenderName: strings.TrimSpace(sel.Find(".tgme_widget_message_owner_name").First().Text()),
			Text:       strings.TrimSpace(sel.Find(".tgme_widget_message_text").First().Text()),
		}

		if datetime, ok := sel.Find("time").First().Attr("datetime"); ok {
			if ts, err := time.Parse(time.RFC3339, datetime); err == nil {
				msg.SentAt = ts.UTC()
			}
		}

		messages = append(messages, msg)
	})
	return messages
}

// parsePostID extracts the numeric message id from a data-post attribute
// of the form "channelname/12345".
func parsePostID(post string) (int64, error) {
	idx := strings.LastIndex(post, "/")
	if idx < 0 || idx == len(post)-1 {
		return 0, fmt.Errorf("malformed data-post %q", post)
	}
	return strconv.ParseInt(post[idx+1:], 10, 64)
}
