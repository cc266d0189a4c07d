// Package fake — заглушка шлюза Telegram для локального запуска без бота.
package fake

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BearBump/CargoFlow/internal/integrations/telegram"
)

type Client struct {
	mu   sync.Mutex
	sent []telegram.Notification

	Err error
}

func New() *Client { return &Client{} }

func (c *Client) Send(_ context.Context, n telegram.Notification) error {
	if c.Err != nil {
		return c.Err
	}
	c.mu.Lock()
	c.sent = append(c.sent, n)
	c.mu.Unlock()
	slog.Info("fake telegram send", "chat_id", n.ChatID, "kind", n.Kind, "count", n.Count)
	return nil
}

// Sent — копия отправленных уведомлений (для тестов).
func (c *Client) Sent() []telegram.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]telegram.Notification, len(c.sent))
	copy(out, c.sent)
	return out
}
