package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

const telegramSendURL = "https://api.telegram.org/bot%s/sendMessage"

// TelegramNotifier delivers scheduler alerts to a Telegram chat via the Bot
// API. The rendered message carries the alert's trace ID so an on-call
// reader can jump from the chat straight to the correlated log records.
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramNotifier creates a Telegram notifier. botToken comes from
// @BotFather; chatID is the target chat, group, or channel.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	body, _ := json.Marshal(map[string]any{
		"chat_id":    t.chatID,
		"text":       renderAlertText(alert),
		"parse_mode": "MarkdownV2",
	})

	url := fmt.Sprintf(telegramSendURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: unexpected status %d", resp.StatusCode)
	}

	log.Printf("[telegram] sent alert: %s", alert.Title)
	return nil
}

// renderAlertText lays out an alert as MarkdownV2: severity emoji, bold
// title, message body, and the trace ID the dispatcher stamped (when
// present) on its own line.
func renderAlertText(alert Alert) string {
	emoji := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		emoji = "⚠️"
	case AlertCritical:
		emoji = "🚨"
	}

	var b strings.Builder
	b.WriteString(emoji)
	b.WriteString(" *")
	b.WriteString(escapeMarkdown(alert.Title))
	b.WriteString("*\n\n")
	b.WriteString(escapeMarkdown(alert.Message))
	if alert.TraceID != "" {
		b.WriteString("\n\ntrace: ")
		b.WriteString(escapeMarkdown(alert.TraceID))
	}
	return b.String()
}

// escapeMarkdown backslash-escapes the characters Telegram MarkdownV2
// reserves.
func escapeMarkdown(s string) string {
	const reserved = "_*[]()~`>#+-=|{}.!"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(reserved, s[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
