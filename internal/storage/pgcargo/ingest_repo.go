package pgcargo

import (
	"context"
	"time"

	"github.com/BearBump/CargoFlow/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ImportCreate — запланированное создание товара. ProductID в записи истории
// заполняется после вставки.
type ImportCreate struct {
	Product models.Product
	Record  models.ProductHistory
}

// ImportUpdate — запланированное обновление существующего товара.
type ImportUpdate struct {
	Product models.Product
	Record  models.ProductHistory
}

// ImportPlan — результат сверки пачки строк импорта с базой. Применяется
// целиком: любая ошибка откатывает всю пачку вместе с уведомлениями.
type ImportPlan struct {
	Creates []ImportCreate
	Updates []ImportUpdate
	Notices []models.OutboxNotice
}

// ApplyImport применяет план импорта одной транзакцией: товары, записи
// истории и строки outbox фиксируются вместе.
func (s *Storage) ApplyImport(ctx context.Context, plan ImportPlan) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now()
	for i := range plan.Creates {
		c := &plan.Creates[i]
		if err := insertProductTx(ctx, tx, &c.Product); err != nil {
			return err
		}
		c.Record.ProductID = c.Product.ID
		if err := insertHistoryTx(ctx, tx, c.Record); err != nil {
			return err
		}
	}

	for i := range plan.Updates {
		u := &plan.Updates[i]
		if err := updateProductTx(ctx, tx, &u.Product, now); err != nil {
			return err
		}
		if err := insertHistoryTx(ctx, tx, u.Record); err != nil {
			return err
		}
	}

	for _, n := range plan.Notices {
		if err := insertOutboxTx(ctx, tx, n); err != nil {
			return err
		}
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}
