package linebridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ReplyClient delivers outbound replies through the LINE Messaging API.
type ReplyClient struct {
	apiBase string
	client  *http.Client
}

// NewReplyClient creates a client against apiBase (the production
// endpoint when empty).
func NewReplyClient(apiBase string) *ReplyClient {
	if apiBase == "" {
		apiBase = "https://api.line.me"
	}
	return &ReplyClient{
		apiBase: strings.TrimRight(apiBase, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Reply sends one text message bound to replyToken, authenticated with
// the channel's access token.
func (c *ReplyClient) Reply(ctx context.Context, accessToken, replyToken, text string) error {
	payload := map[string]any{
		"replyToken": replyToken,
		"messages": []map[string]string{
			{"type": "text", "text": text},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("line reply: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/v2/bot/message/reply", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("line reply: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("line reply: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("line reply: status %d: %s", resp.StatusCode, raw)
	}
	return nil
}
