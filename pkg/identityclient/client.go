/**
 * @description
 * This package provides a client for the identity provider's REST API (a Supabase
 * GoTrue deployment). It wraps the three operations the service needs: password
 * login, invite-token password set, and admin account upsert followed by magic-link
 * generation.
 *
 * Key features:
 * - Holds the base URL, the public (anon) key and the admin (service role) key.
 * - Every call is JSON over HTTPS; a status >= 400 or an unparseable body is a GatewayError.
 * - Network failures are reported as TransportError and treated like provider errors.
 *
 * @dependencies
 * - go.uber.org/zap: structured logging of provider detail that must not reach callers.
 * - github.com/golang-jwt/jwt/v5: reads the expiry of issued access tokens.
 */
package identityclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout = 15 * time.Second
	// DefaultFallbackLink is used when Config.FallbackLink is empty.
	DefaultFallbackLink = "https://app.elvtsocial.xyz/dashboard"
)

// Config configures a Client.
type Config struct {
	BaseURL   string
	PublicKey string
	AdminKey  string
	// MagicLinkRedirect is where a generated magic link lands after sign-in.
	MagicLinkRedirect string
	// FallbackLink is handed out when no magic link can be generated.
	FallbackLink string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Client is a client for the identity provider API.
type Client struct {
	baseURL           string
	publicKey         string
	adminKey          string
	magicLinkRedirect string
	fallbackLink      string
	httpClient        *http.Client
	logger            *zap.Logger
}

// NewClient creates a new identity provider client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fallbackLink := strings.TrimSpace(cfg.FallbackLink)
	if fallbackLink == "" {
		fallbackLink = DefaultFallbackLink
	}
	magicLinkRedirect := strings.TrimSpace(cfg.MagicLinkRedirect)
	if magicLinkRedirect == "" {
		magicLinkRedirect = fallbackLink
	}

	return &Client{
		baseURL:           strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/"),
		publicKey:         cfg.PublicKey,
		adminKey:          cfg.AdminKey,
		magicLinkRedirect: magicLinkRedirect,
		fallbackLink:      fallbackLink,
		httpClient:        httpClient,
		logger:            logger.Named("identity"),
	}
}

// AdminConfigured reports whether admin operations can be attempted.
func (c *Client) AdminConfigured() bool {
	return c.baseURL != "" && c.adminKey != ""
}

// FallbackLink returns the link used when magic-link generation is unavailable.
func (c *Client) FallbackLink() string {
	return c.fallbackLink
}

// GatewayError is returned when the identity provider answers with status >= 400
// or with a body that is not JSON.
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("identity provider error: status %d: %s", e.StatusCode, e.Message)
}

// TransportError is returned when the request never got a response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("identity provider %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// errorBody covers the error shapes GoTrue returns across versions.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (b errorBody) text() string {
	for _, s := range []string{b.ErrorDescription, b.Msg, b.Message, b.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// request describes one call against the provider.
type request struct {
	method  string
	path    string
	apiKey  string
	bearer  string
	payload interface{}
}

// do is a helper function to make HTTP requests to the identity provider.
func (c *Client) do(ctx context.Context, req request, target interface{}) error {
	var reqBody io.Reader
	if req.payload != nil {
		jsonBody, err := json.Marshal(req.payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if req.apiKey != "" {
		httpReq.Header.Set("apikey", req.apiKey)
	}
	if req.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.bearer)
	}

	c.logger.Debug("identity provider request", zap.String("method", req.method), zap.String("path", req.path))
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &TransportError{Op: req.method + " " + req.path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: "read " + req.path, Err: err}
	}

	if resp.StatusCode >= 400 {
		var eb errorBody
		msg := ""
		if json.Unmarshal(respBody, &eb) == nil {
			msg = eb.text()
		}
		if msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &GatewayError{StatusCode: resp.StatusCode, Message: msg}
	}

	if target == nil {
		target = &json.RawMessage{}
	}
	if err := json.Unmarshal(respBody, target); err != nil {
		return &GatewayError{StatusCode: resp.StatusCode, Message: "invalid response from auth server"}
	}

	return nil
}

// IsGatewayFailure reports whether err came from the provider or the transport.
func IsGatewayFailure(err error) bool {
	var gw *GatewayError
	var tr *TransportError
	return errors.As(err, &gw) || errors.As(err, &tr)
}
