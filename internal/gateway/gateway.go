// ABOUTME: Opaque boundary to the external messaging channel
// ABOUTME: Gateway interface plus an HTTP implementation with bounded timeouts

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ErrGatewayFailure is returned when a dispatch fails or times out. The
// delivery pipeline rolls back optimistic state and surfaces a retryable
// error to the operator.
var ErrGatewayFailure = errors.New("gateway dispatch failed")

// Recipient addresses one external contact or group.
type Recipient struct {
	ExternalRef string
	IsGroup     bool
}

// Media describes an already-uploaded attachment to dispatch.
type Media struct {
	URL      string
	MimeType string
	Filename string
}

// Gateway is the send boundary to the external messaging channel. No
// delivery-receipt contract is assumed beyond call success.
type Gateway interface {
	SendText(ctx context.Context, to Recipient, body string) error
	SendMedia(ctx context.Context, to Recipient, media Media, caption string) error
}

// HTTPGateway dispatches through a JSON-over-HTTP messaging API.
type HTTPGateway struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPGateway creates a gateway client for the given API base URL. token
// is sent as a bearer credential when non-empty. timeout bounds each
// dispatch; pass zero for a 30s default.
func NewHTTPGateway(baseURL, token string, timeout time.Duration, logger *slog.Logger) *HTTPGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPGateway{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "gateway"),
	}
}

// SendText dispatches a text message to a contact or group.
func (g *HTTPGateway) SendText(ctx context.Context, to Recipient, body string) error {
	payload := map[string]any{
		"recipient": to.ExternalRef,
		"is_group":  to.IsGroup,
		"body":      body,
	}
	return g.post(ctx, "/messages/text", payload)
}

// SendMedia dispatches an uploaded attachment to a contact or group.
func (g *HTTPGateway) SendMedia(ctx context.Context, to Recipient, media Media, caption string) error {
	payload := map[string]any{
		"recipient": to.ExternalRef,
		"is_group":  to.IsGroup,
		"media_url": media.URL,
		"mime_type": media.MimeType,
		"filename":  media.Filename,
		"caption":   caption,
	}
	return g.post(ctx, "/messages/media", payload)
}

// post sends one JSON request, mapping transport errors and non-2xx
// responses to ErrGatewayFailure.
func (g *HTTPGateway) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding gateway payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("gateway dispatch failed", "path", path, "error", err)
		return fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.logger.Warn("gateway rejected dispatch", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("%w: status %d", ErrGatewayFailure, resp.StatusCode)
	}

	return nil
}
