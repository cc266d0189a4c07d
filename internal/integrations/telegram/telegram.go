package telegram

import "context"

// Notification — сообщение клиенту в Telegram, уже собранное для отправки.
type Notification struct {
	ChatID  string
	Kind    string
	Count   int
	Message string
}

type Client interface {
	Send(ctx context.Context, n Notification) error
}
