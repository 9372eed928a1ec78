package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender delivers through the Bot API sendMessage call.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender with a 10 second HTTP timeout.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiBase: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the message to the chat with the title in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}
	url := strings.TrimRight(t.apiBase, "/") + "/bot" + t.token + "/sendMessage"
	if err := postJSON(ctx, t.client, url, body); err != nil {
		// The token is part of the URL; keep it out of logs.
		return fmt.Errorf("telegram: %s", strings.ReplaceAll(err.Error(), t.token, "***"))
	}
	return nil
}

// Name returns "telegram".
func (t *TelegramSender) Name() string { return "telegram" }
