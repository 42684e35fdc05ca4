package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"
)

const (
	sendTimeout = 10 * time.Second
	// discordColor is the embed accent, CoinPick gold.
	discordColor = 0xF2B01E
)

// postJSON sends payload to url and treats any non-2xx status as an error
// carrying a prefix of the response body.
func postJSON(ctx context.Context, client *http.Client, name, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: unexpected status %d: %s", name, resp.StatusCode, string(respBody))
	}
	return nil
}

// DiscordSender posts round results to a Discord webhook as an embed.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender posting to webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: sendTimeout},
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordMessage struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Send implements Sender.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, d.Name(), d.webhookURL, discordMessage{
		Username: "CoinPick",
		// Rankings line up only in a code block.
		Embeds: []discordEmbed{{Title: title, Description: "```\n" + message + "\n```", Color: discordColor}},
	})
}

// Name implements Sender.
func (d *DiscordSender) Name() string { return "discord" }

// TelegramSender delivers round results through the Bot API sendMessage call.
type TelegramSender struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:   token,
		chatID:  chatID,
		apiBase: "https://api.telegram.org",
		client:  &http.Client{Timeout: sendTimeout},
	}
}

// Send implements Sender. The body is HTML-escaped since instrument ids may
// contain characters Telegram treats as markup.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	return postJSON(ctx, t.client, t.Name(), url, map[string]any{
		"chat_id":                  t.chatID,
		"text":                     "<b>" + html.EscapeString(title) + "</b>\n<pre>" + html.EscapeString(message) + "</pre>",
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
}

// Name implements Sender.
func (t *TelegramSender) Name() string { return "telegram" }

var (
	_ Sender = (*DiscordSender)(nil)
	_ Sender = (*TelegramSender)(nil)
)
