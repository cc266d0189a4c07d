// Package messages — схемы сообщений брокера.
package messages

import "time"

// NotificationBatch — одно уведомление клиенту о пачке его товаров,
// достигших этапа Kind. Передаётся из outbox в шлюз Telegram через Kafka.
type NotificationBatch struct {
	NoticeID   uint64    `json:"notice_id"`
	Kind       string    `json:"kind"`
	ChatID     string    `json:"chat_id"`
	Count      int       `json:"count"`
	Message    string    `json:"message,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
