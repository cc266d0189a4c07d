package pgcargo

import (
	"context"
	"time"

	"github.com/BearBump/CargoFlow/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func insertOutboxTx(ctx context.Context, tx pgx.Tx, n models.OutboxNotice) error {
	_, err := tx.Exec(ctx, `
INSERT INTO notification_outbox (kind, chat_id, count, message, attempts, next_attempt_at, sent_at, created_at)
VALUES ($1,$2,$3,$4,0,$5,NULL,$6)
`, n.Kind, n.ChatID, n.Count, n.Message, n.NextAttemptAt, n.CreatedAt)
	return errors.Wrap(err, "insert outbox notice")
}

// EnqueueNotices — вставка уведомлений вне бизнес-транзакции (ручные
// рассылки). Бизнес-операции пишут в outbox внутри своей транзакции.
func (s *Storage) EnqueueNotices(ctx context.Context, notices []models.OutboxNotice) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, n := range notices {
		if err := insertOutboxTx(ctx, tx, n); err != nil {
			return err
		}
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

// ClaimDueNotices выбирает пачку неотправленных уведомлений и "бронирует"
// их (lease через next_attempt_at), чтобы конкурентные диспетчеры не взяли
// одни и те же строки. SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDueNotices(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxNotice, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT id, kind, chat_id, count, message, attempts, next_attempt_at, sent_at, created_at
FROM notification_outbox
WHERE sent_at IS NULL AND next_attempt_at <= $1
ORDER BY next_attempt_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due notices")
	}
	defer rows.Close()

	var picked []*models.OutboxNotice
	for rows.Next() {
		var n models.OutboxNotice
		if err := rows.Scan(&n.ID, &n.Kind, &n.ChatID, &n.Count, &n.Message, &n.Attempts, &n.NextAttemptAt, &n.SentAt, &n.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan notice")
		}
		picked = append(picked, &n)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, n := range picked {
		if _, err := tx.Exec(ctx, `UPDATE notification_outbox SET next_attempt_at = $2 WHERE id = $1`, n.ID, leaseUntil); err != nil {
			return nil, errors.Wrap(err, "lease notice")
		}
		n.NextAttemptAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

func (s *Storage) MarkNoticeSent(ctx context.Context, id uint64, now time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE notification_outbox SET sent_at = $2 WHERE id = $1`, id, now.UTC())
	return errors.Wrap(err, "mark notice sent")
}

// MarkNoticeFailed увеличивает счётчик попыток и откладывает следующую.
func (s *Storage) MarkNoticeFailed(ctx context.Context, id uint64, nextAttemptAt time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE notification_outbox SET attempts = attempts + 1, next_attempt_at = $2 WHERE id = $1
`, id, nextAttemptAt.UTC())
	return errors.Wrap(err, "mark notice failed")
}
