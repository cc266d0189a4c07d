package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/CargoFlow/internal/broker/messages"
	"github.com/BearBump/CargoFlow/internal/integrations/telegram"
	"github.com/pkg/errors"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Sender превращает сообщения топика уведомлений в вызовы шлюза Telegram.
// Перед отправкой каждый чат ограничивается по частоте, чтобы не упереться
// в лимиты Telegram при массовых рассылках.
type Sender struct {
	tg      telegram.Client
	limiter RateLimiter

	limit      int64
	window     time.Duration
	retryDelay time.Duration
}

func NewSender(tg telegram.Client, limiter RateLimiter) *Sender {
	return &Sender{
		tg:         tg,
		limiter:    limiter,
		limit:      20,
		window:     time.Minute,
		retryDelay: 3 * time.Second,
	}
}

func (s *Sender) WithLimit(limit int64, window time.Duration) *Sender {
	s.limit = limit
	s.window = window
	return s
}

// Handle — обработчик для Consumer.Consume. Возврат ошибки оставляет
// сообщение незакоммиченным, и оно будет перечитано.
func (s *Sender) Handle(ctx context.Context, _, value []byte) error {
	var msg messages.NotificationBatch
	if err := json.Unmarshal(value, &msg); err != nil {
		// Битое сообщение ретраями не лечится, логируем и коммитим.
		slog.Error("notification decode", "error", err)
		return nil
	}
	if msg.ChatID == "" {
		slog.Warn("notification without chat_id", "notice_id", msg.NoticeID)
		return nil
	}

	// Превышение лимита чата — не ошибка доставки: ждём окно и пробуем
	// снова, не отдавая ошибку наверх (она остановила бы всю партицию).
	for s.limiter != nil {
		allowed, n, err := s.limiter.Allow(ctx, "notify:chat:"+msg.ChatID, s.limit, s.window)
		if err != nil {
			return errors.Wrap(err, "rate limiter")
		}
		if allowed {
			break
		}
		slog.Warn("chat rate limited, waiting", "chat_id", msg.ChatID, "in_window", n)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retryDelay):
		}
	}

	err := s.tg.Send(ctx, telegram.Notification{
		ChatID:  msg.ChatID,
		Kind:    msg.Kind,
		Count:   msg.Count,
		Message: msg.Message,
	})
	if err != nil {
		return errors.Wrap(err, "telegram send")
	}
	slog.Info("notification delivered", "notice_id", msg.NoticeID, "chat_id", msg.ChatID, "kind", msg.Kind)
	return nil
}
