package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// AlertPayload 推送给下游处置系统的警报摘要
type AlertPayload struct {
	AlertID     string    `json:"alert_id"`
	UserID      uint      `json:"user_id"`
	AlertType   string    `json:"alert_type"`
	Status      string    `json:"status"`
	Priority    int       `json:"priority"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Accuracy    float64   `json:"accuracy"`
	Address     string    `json:"address,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Escalator 警报升级通报接口
type Escalator interface {
	Escalate(ctx context.Context, payload AlertPayload) error
}

// WebhookConfig 升级通报回调配置
type WebhookConfig struct {
	URL     string
	Timeout time.Duration // 默认5秒
}

// WebhookEscalator 将警报POST到配置的回调地址
type WebhookEscalator struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhookEscalator 创建回调通报器；URL为空时返回nil，表示未配置
func NewWebhookEscalator(cfg WebhookConfig) *WebhookEscalator {
	if cfg.URL == "" {
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &WebhookEscalator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (w *WebhookEscalator) Escalate(ctx context.Context, payload AlertPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("escalation endpoint returned %d", resp.StatusCode)
	}
	return nil
}
