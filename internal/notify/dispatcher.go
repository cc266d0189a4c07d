// Package notify доставляет уведомления из outbox клиентам.
// Диспетчер выгребает notification_outbox и публикует пачки в Kafka;
// консьюмер на другом конце передаёт их шлюзу Telegram.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/CargoFlow/internal/broker/messages"
	"github.com/BearBump/CargoFlow/internal/models"
	"github.com/pkg/errors"
)

// Topic — топик уведомлений клиентам.
const Topic = "cargoflow.notifications"

type Outbox interface {
	ClaimDueNotices(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxNotice, error)
	MarkNoticeSent(ctx context.Context, id uint64, now time.Time) error
	MarkNoticeFailed(ctx context.Context, id uint64, nextAttemptAt time.Time) error
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type DispatcherConfig struct {
	Interval  time.Duration
	BatchSize int
	Lease     time.Duration
	Backoff   time.Duration
}

func (c *DispatcherConfig) withDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Lease <= 0 {
		c.Lease = time.Minute
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Minute
	}
}

type Dispatcher struct {
	outbox Outbox
	pub    Publisher
	cfg    DispatcherConfig
	now    func() time.Time

	triggerCh chan struct{}

	startedAtUnixNano int64
	lastRunUnixNano   atomic.Int64
	totalRuns         atomic.Int64
	totalSent         atomic.Int64
	totalErrors       atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func NewDispatcher(outbox Outbox, pub Publisher, cfg DispatcherConfig) *Dispatcher {
	cfg.withDefaults()
	return &Dispatcher{
		outbox:            outbox,
		pub:               pub,
		cfg:               cfg,
		now:               time.Now,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Trigger запускает внеочередной проход (best-effort, неблокирующий).
func (d *Dispatcher) Trigger() {
	select {
	case d.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt   time.Time  `json:"startedAt"`
	LastRunAt   *time.Time `json:"lastRunAt,omitempty"`
	TotalRuns   int64      `json:"totalRuns"`
	TotalSent   int64      `json:"totalSent"`
	TotalErrors int64      `json:"totalErrors"`
	LastError   string     `json:"lastError,omitempty"`
}

func (d *Dispatcher) Stats() Stats {
	st := Stats{
		StartedAt:   time.Unix(0, d.startedAtUnixNano).UTC(),
		TotalRuns:   d.totalRuns.Load(),
		TotalSent:   d.totalSent.Load(),
		TotalErrors: d.totalErrors.Load(),
	}
	if n := d.lastRunUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastRunAt = &t
	}
	d.lastErrorMu.Lock()
	st.LastError = d.lastError
	d.lastErrorMu.Unlock()
	return st
}

func (d *Dispatcher) Run(ctx context.Context) error {
	t := time.NewTicker(d.cfg.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			d.runOnce(ctx)
		case <-d.triggerCh:
			d.runOnce(ctx)
		}
	}
}

func (d *Dispatcher) runOnce(ctx context.Context) {
	sent, err := d.RunOnce(ctx)
	if err != nil {
		slog.Error("outbox dispatch", "error", err)
		return
	}
	if sent > 0 {
		slog.Info("outbox dispatch", "sent", sent)
	}
}

// RunOnce выгребает одну пачку уведомлений. Ошибка публикации отдельного
// уведомления не роняет проход: строка получает attempts+1 и откладывается,
// остальные продолжают отправляться.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	now := d.now()
	d.lastRunUnixNano.Store(now.UTC().UnixNano())
	d.totalRuns.Add(1)

	notices, err := d.outbox.ClaimDueNotices(ctx, now, d.cfg.BatchSize, d.cfg.Lease)
	if err != nil {
		d.fail(err)
		return 0, err
	}

	var sent int
	for _, n := range notices {
		if err := d.dispatch(ctx, n, now); err != nil {
			d.fail(err)
			slog.Error("outbox notice", "id", n.ID, "attempts", n.Attempts, "error", err)
			backoff := d.cfg.Backoff * time.Duration(n.Attempts+1)
			if markErr := d.outbox.MarkNoticeFailed(ctx, n.ID, now.Add(backoff)); markErr != nil {
				return sent, markErr
			}
			continue
		}
		if err := d.outbox.MarkNoticeSent(ctx, n.ID, now); err != nil {
			return sent, err
		}
		sent++
	}
	d.totalSent.Add(int64(sent))
	return sent, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, n *models.OutboxNotice, now time.Time) error {
	msg := messages.NotificationBatch{
		NoticeID:   n.ID,
		Kind:       n.Kind,
		ChatID:     n.ChatID,
		Count:      n.Count,
		Message:    noticeText(n),
		EnqueuedAt: n.CreatedAt,
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal notice")
	}
	// Ключ — chat_id: уведомления одного клиента попадают в одну партицию
	// и сохраняют порядок.
	return d.pub.Publish(ctx, Topic, []byte(n.ChatID), value)
}

// noticeText — текст уведомления по виду этапа; явный message из outbox
// имеет приоритет.
func noticeText(n *models.OutboxNotice) string {
	if n.Message != nil && *n.Message != "" {
		return *n.Message
	}
	switch n.Kind {
	case models.NoticeKindChina:
		return fmt.Sprintf("Зарегистрировано товаров на складе в Китае: %d", n.Count)
	case models.NoticeKindTransit:
		return fmt.Sprintf("Товаров отправлено в путь: %d", n.Count)
	case models.NoticeKindBishkek:
		return fmt.Sprintf("Товаров прибыло в Бишкек: %d", n.Count)
	default:
		return fmt.Sprintf("Обновление по товарам: %d", n.Count)
	}
}

func (d *Dispatcher) fail(err error) {
	d.totalErrors.Add(1)
	d.lastErrorMu.Lock()
	d.lastError = err.Error()
	d.lastErrorMu.Unlock()
}
