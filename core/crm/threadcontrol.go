package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"wabot/core/config"
)

// GraphThreadControl calls the Messenger pass_thread_control endpoint so
// the agent desk takes over the WhatsApp thread.
type GraphThreadControl struct {
	cfg     config.CRMConfig
	wa      config.WhatsAppConfig
	baseURL string
	client  *http.Client
}

// NewGraphThreadControl builds the client. baseURL overrides the Graph
// host for tests; pass "" for production.
func NewGraphThreadControl(cfg config.CRMConfig, wa config.WhatsAppConfig, baseURL string) *GraphThreadControl {
	if baseURL == "" {
		baseURL = "https://graph.facebook.com"
	}
	return &GraphThreadControl{
		cfg:     cfg,
		wa:      wa,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *GraphThreadControl) Transfer(ctx context.Context, phone string) error {
	body, err := json.Marshal(map[string]any{
		"recipient":     map[string]string{"phone": phone},
		"target_app_id": t.cfg.HandoverAppID,
	})
	if err != nil {
		return fmt.Errorf("crm: thread control: %w", err)
	}
	url := fmt.Sprintf("%s/%s/%s/pass_thread_control", t.baseURL, t.wa.APIVersion, t.wa.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("crm: thread control: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.wa.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("crm: thread control: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("crm: thread control: status %d", resp.StatusCode)
	}
	return nil
}
