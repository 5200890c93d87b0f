package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/alanyoungcy/curveswap/internal/crypto"
)

// WebhookSender posts each message as JSON to an arbitrary endpoint, signed
// with a shared secret (see crypto.WebhookSigner).
type WebhookSender struct {
	url    string
	signer *crypto.WebhookSigner
	client *http.Client
}

// NewWebhookSender creates a WebhookSender.
func NewWebhookSender(url, secret string) *WebhookSender {
	return &WebhookSender{
		url:    url,
		signer: crypto.NewWebhookSigner(secret),
		client: defaultClient(),
	}
}

// Send posts msg with signature headers over the exact bytes sent.
func (w *WebhookSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}
	return postBody(ctx, w.client, "webhook", w.url, body, w.signer.Headers(body))
}

// Name returns the sender identifier.
func (w *WebhookSender) Name() string { return "webhook" }
