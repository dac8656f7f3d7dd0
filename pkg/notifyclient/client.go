/**
 * @description
 * This package delivers outbound notifications: transactional email through the
 * Resend REST API and fire-and-forget JSON posts to an outbound relay (a CRM
 * inbound webhook).
 *
 * @notes
 * - SendEmail reports failures to its caller so the orchestrator can record them.
 * - SendOutboundWebhook never fails; its failures are only logged.
 */
package notifyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/domain"
)

const (
	DefaultBaseURL = "https://api.resend.com"
	defaultTimeout = 15 * time.Second
)

// Config configures a Client.
type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client sends email and relay notifications.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new notification client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger.Named("notify"),
	}
}

// NotificationError is returned when the email provider answers with a non-2xx status.
type NotificationError struct {
	StatusCode int
	Body       string
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("email provider returned status %d: %s", e.StatusCode, e.Body)
}

type sendEmailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type sendEmailResponse struct {
	ID string `json:"id"`
}

// SendEmail sends one email and returns the provider's message id.
func (c *Client) SendEmail(ctx context.Context, email domain.Email) (string, error) {
	payload, err := json.Marshal(sendEmailRequest{
		From:    email.From,
		To:      email.To,
		Subject: email.Subject,
		HTML:    email.HTML,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if email.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", email.IdempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("email provider request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &NotificationError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out sendEmailResponse
	if err := json.Unmarshal(body, &out); err != nil {
		c.logger.Warn("email accepted but response was not JSON", zap.Error(err))
	}

	c.logger.Info("email sent",
		zap.String("message_id", out.ID),
		zap.String("subject", email.Subject),
		zap.Int("recipients", len(email.To)),
	)
	return out.ID, nil
}

// SendOutboundWebhook posts payload as JSON to url. Any failure is logged and
// swallowed.
func (c *Client) SendOutboundWebhook(ctx context.Context, url string, payload interface{}) {
	log := c.logger.With(zap.String("url", url))

	body, err := json.Marshal(payload)
	if err != nil {
		log.Error("failed to marshal outbound webhook payload", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Error("failed to create outbound webhook request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn("outbound webhook failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("outbound webhook rejected", zap.Int("status", resp.StatusCode))
		return
	}
	log.Info("outbound webhook delivered", zap.Int("status", resp.StatusCode))
}
