package notify

import (
	"context"
	"fmt"
	"net/http"
)

// DiscordSender delivers notifications via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: defaultClient()}
}

// Send posts msg with the title in bold. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, msg Message) error {
	return postJSON(ctx, d.client, "discord", d.webhookURL, map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", msg.Title, msg.Body),
	}, nil)
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }
