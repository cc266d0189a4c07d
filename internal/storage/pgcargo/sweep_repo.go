package pgcargo

import (
	"context"
	"time"

	"github.com/BearBump/CargoFlow/internal/lifecycle"
	"github.com/BearBump/CargoFlow/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

type SweepInput struct {
	ChinaStatusID   uint64
	TransitStatusID uint64
	Cutoff          time.Time
	Now             time.Time
}

type SweepResult struct {
	UpdatedCount int
	UpdatedIDs   []uint64
}

// SweepChinaToTransit переводит залежавшиеся в Китае товары в статус
// "в пути" одной транзакцией. Веха date_transit ставится по обычному
// соглашению движка (только если ещё пуста). Уведомления клиентам
// складываются в outbox в той же транзакции.
func (s *Storage) SweepChinaToTransit(ctx context.Context, in SweepInput) (*SweepResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT `+productColumns+` FROM products
WHERE status_id = $1 AND date <= $2
ORDER BY id
FOR UPDATE
`, in.ChinaStatusID, in.Cutoff)
	if err != nil {
		return nil, errors.Wrap(err, "select stale products")
	}
	products, err := collectProducts(rows)
	if err != nil {
		return nil, err
	}

	res := &SweepResult{}
	clientIDs := make([]uint64, 0, len(products))
	perClient := map[uint64]int{}
	for _, p := range products {
		p.StatusID = in.TransitStatusID
		p.Date = lifecycle.Today(in.Now)
		lifecycle.ApplyStatusDates(p, lifecycle.StatusTransit, in.Now)

		if err := updateProductTx(ctx, tx, p, in.Now); err != nil {
			return nil, err
		}
		res.UpdatedCount++
		res.UpdatedIDs = append(res.UpdatedIDs, p.ID)

		if p.ClientID != nil {
			if _, seen := perClient[*p.ClientID]; !seen {
				clientIDs = append(clientIDs, *p.ClientID)
			}
			perClient[*p.ClientID]++
		}
	}

	if len(clientIDs) > 0 {
		counts, err := countsByChatTx(ctx, tx, clientIDs, perClient)
		if err != nil {
			return nil, err
		}
		for chatID, count := range counts {
			notice := models.OutboxNotice{
				Kind:          models.NoticeKindTransit,
				ChatID:        chatID,
				Count:         count,
				NextAttemptAt: in.Now.UTC(),
				CreatedAt:     in.Now.UTC(),
			}
			if err := insertOutboxTx(ctx, tx, notice); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return res, nil
}

// countsByChatTx агрегирует счётчики по telegram_chat_id клиентов.
// Клиенты без chat id пропускаются.
func countsByChatTx(ctx context.Context, tx pgx.Tx, clientIDs []uint64, perClient map[uint64]int) (map[string]int, error) {
	rows, err := tx.Query(ctx, `SELECT id, telegram_chat_id FROM clients WHERE id = ANY($1)`, clientIDs)
	if err != nil {
		return nil, errors.Wrap(err, "select client chats")
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var id uint64
		var chatID *string
		if err := rows.Scan(&id, &chatID); err != nil {
			return nil, errors.Wrap(err, "scan client chat")
		}
		if chatID == nil || *chatID == "" {
			continue
		}
		counts[*chatID] += perClient[id]
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return counts, nil
}
