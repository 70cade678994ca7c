package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"wabot/core/config"
	"wabot/core/logger"
)

const defaultGraphHost = "https://graph.facebook.com"

// WhatsAppClient talks to the WhatsApp Cloud API messages endpoint.
type WhatsAppClient struct {
	cfg     config.WhatsAppConfig
	baseURL string
	client  *http.Client
}

// NewWhatsAppClient builds the Cloud API client. baseURL overrides the
// Graph host for tests; pass "" for production.
func NewWhatsAppClient(cfg config.WhatsAppConfig, baseURL string) *WhatsAppClient {
	if baseURL == "" {
		baseURL = defaultGraphHost
	}
	return &WhatsAppClient{
		cfg:     cfg,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type apiMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *apiText     `json:"text,omitempty"`
	Interactive      *Interactive `json:"interactive,omitempty"`
}

type apiText struct {
	Body string `json:"body"`
}

// SendText delivers a plain text message.
func (c *WhatsAppClient) SendText(ctx context.Context, to, text string) error {
	return c.post(ctx, apiMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             &apiText{Body: text},
	})
}

// SendInteractive delivers a button or list message.
func (c *WhatsAppClient) SendInteractive(ctx context.Context, to string, payload Interactive) error {
	return c.post(ctx, apiMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "interactive",
		Interactive:      &payload,
	})
}

func (c *WhatsAppClient) post(ctx context.Context, msg apiMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("outbound: marshal: %w", err)
	}
	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.cfg.APIVersion, c.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("outbound: request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return &SendError{Op: "post", Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		logger.Warn(ctx, "outbound", "send.rejected",
			slog.String("phone", logger.Sanitize(msg.To)),
			slog.Int("http_code", resp.StatusCode),
			slog.String("payload", logger.SanitizeLimit(string(detail), 256)))
		return &SendError{
			Op:        "post",
			Code:      resp.StatusCode,
			Err:       fmt.Errorf("whatsapp api status %d", resp.StatusCode),
			Retryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}
	logger.Debug(ctx, "outbound", "send.ok",
		slog.String("phone", logger.Sanitize(msg.To)),
		slog.Duration("duration", time.Since(start)))
	return nil
}
