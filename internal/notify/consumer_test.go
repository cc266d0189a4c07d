package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/BearBump/CargoFlow/internal/broker/messages"
	"github.com/BearBump/CargoFlow/internal/integrations/telegram/fake"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeLimiter struct {
	allowed bool
	count   int64
	err     error

	// denyFirst: первый вызов запрещает, дальше по allowed.
	denyFirst bool

	keys []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string, _ int64, _ time.Duration) (bool, int64, error) {
	f.keys = append(f.keys, key)
	if f.denyFirst && len(f.keys) == 1 {
		return false, f.count, f.err
	}
	return f.allowed, f.count, f.err
}

func batchBytes(t *testing.T, msg messages.NotificationBatch) []byte {
	t.Helper()
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	return b
}

func TestSender_Handle_Delivers(t *testing.T) {
	tg := fake.New()
	lim := &fakeLimiter{allowed: true}
	s := NewSender(tg, lim)

	err := s.Handle(context.Background(), nil, batchBytes(t, messages.NotificationBatch{
		NoticeID: 1,
		Kind:     "transit",
		ChatID:   "100",
		Count:    3,
		Message:  "Товаров отправлено в путь: 3",
	}))
	require.NoError(t, err)

	sent := tg.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "100", sent[0].ChatID)
	require.Equal(t, 3, sent[0].Count)
	require.Equal(t, []string{"notify:chat:100"}, lim.keys)
}

func TestSender_Handle_RateLimitedWaitsAndDelivers(t *testing.T) {
	tg := fake.New()
	lim := &fakeLimiter{allowed: true, denyFirst: true, count: 21}
	s := NewSender(tg, lim)
	s.retryDelay = time.Millisecond

	// Отказ лимитера — не ошибка: сообщение доставляется со второй попытки,
	// партиция не останавливается.
	err := s.Handle(context.Background(), nil, batchBytes(t, messages.NotificationBatch{ChatID: "100"}))
	require.NoError(t, err)
	require.Len(t, tg.Sent(), 1)
	require.Len(t, lim.keys, 2)
}

func TestSender_Handle_RateLimitWaitHonorsContext(t *testing.T) {
	tg := fake.New()
	s := NewSender(tg, &fakeLimiter{allowed: false, count: 21})
	s.retryDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Handle(ctx, nil, batchBytes(t, messages.NotificationBatch{ChatID: "100"}))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, tg.Sent())
}

func TestSender_Handle_BadPayloadCommitted(t *testing.T) {
	tg := fake.New()
	s := NewSender(tg, &fakeLimiter{allowed: true})

	// битый JSON не должен блокировать партицию
	require.NoError(t, s.Handle(context.Background(), nil, []byte("not json")))
	require.Empty(t, tg.Sent())
}

func TestSender_Handle_SendErrorRetried(t *testing.T) {
	tg := fake.New()
	tg.Err = errors.New("gateway down")
	s := NewSender(tg, &fakeLimiter{allowed: true})

	err := s.Handle(context.Background(), nil, batchBytes(t, messages.NotificationBatch{ChatID: "100"}))
	require.Error(t, err)
}

func TestSender_Handle_NoLimiter(t *testing.T) {
	tg := fake.New()
	s := NewSender(tg, nil)

	err := s.Handle(context.Background(), nil, batchBytes(t, messages.NotificationBatch{ChatID: "100", Kind: "china"}))
	require.NoError(t, err)
	require.Len(t, tg.Sent(), 1)
}
