package loyalty

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	model "github.com/glkeru/washloyalty/internal/models"
)

// Webhook отправляет уведомления во внешнюю систему (SMS/push шлюз)
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) (*Webhook, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is not set")
	}
	return &Webhook{url: url, client: &http.Client{Timeout: 5 * time.Second}}, nil
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Publish(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Loyalty-Event", string(n.Type))
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook HTTP error: %s", resp.Status)
	}
	return nil
}
