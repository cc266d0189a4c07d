// Package gatewayhttp — HTTP-клиент шлюза Telegram-бота. Сам бот живёт
// отдельным сервисом; сюда уходит готовое уведомление, доставкой в Telegram
// занимается шлюз.
package gatewayhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/CargoFlow/internal/integrations/telegram"
	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9100"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type sendReq struct {
	ChatID  string `json:"chat_id"`
	Kind    string `json:"kind"`
	Count   int    `json:"count"`
	Message string `json:"message,omitempty"`
}

type sendResp struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (c *Client) Send(ctx context.Context, n telegram.Notification) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	u.Path = "/api/v1/notifications"

	body, err := json.Marshal(sendReq{
		ChatID:  n.ChatID,
		Kind:    n.Kind,
		Count:   n.Count,
		Message: n.Message,
	})
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("telegram gateway http %d", resp.StatusCode)
	}

	var r sendResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return errors.Wrap(err, "decode")
	}
	if r.Status != "ok" {
		return fmt.Errorf("telegram gateway status=%s error=%s", r.Status, r.Error)
	}
	return nil
}
