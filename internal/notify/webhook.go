// Package notify hands verification tokens and reset codes to an external delivery service.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	userdomain "taskboard-auth/backend/internal/user/domain"
)

const defaultTimeout = 15 * time.Second

// Message kinds posted to the webhook.
const (
	KindVerification = "verification"
	KindResetCode    = "reset_code"
)

// Message is the JSON body posted for every delivery.
type Message struct {
	Kind     string `json:"kind"`
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

// WebhookNotifier posts deliveries to a mailer endpoint which renders and sends them.
type WebhookNotifier struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

// NewWebhookNotifier returns a notifier posting to url with apiKey in the Authorization header.
func NewWebhookNotifier(url, apiKey string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:        url,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (n *WebhookNotifier) SendVerification(ctx context.Context, u *userdomain.User, token string) error {
	return n.post(ctx, message(KindVerification, u, token))
}

func (n *WebhookNotifier) SendResetCode(ctx context.Context, u *userdomain.User, code string) error {
	return n.post(ctx, message(KindResetCode, u, code))
}

func message(kind string, u *userdomain.User, secret string) Message {
	return Message{Kind: kind, UserID: u.ID, Email: u.Email, Username: u.Username, Secret: secret}
}

// post sends m and fails on any non-2xx status. The secret never appears in returned errors.
func (n *WebhookNotifier) post(ctx context.Context, m Message) error {
	if n.URL == "" {
		return fmt.Errorf("notify: webhook URL not configured")
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.APIKey != "" {
		req.Header.Set("Authorization", n.APIKey)
	}
	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: %s delivery: %w", m.Kind, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify: %s delivery failed status=%d body=%s", m.Kind, resp.StatusCode, string(b))
	}
	return nil
}
