package pgcargo

import (
	"context"

	"github.com/BearBump/CargoFlow/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func insertHistoryTx(ctx context.Context, tx pgx.Tx, rec models.ProductHistory) error {
	_, err := tx.Exec(ctx, `
INSERT INTO product_history (product_id, action, action_by_id, action_at, description)
VALUES ($1,$2,$3,$4,$5)
`, rec.ProductID, rec.Action, rec.ActionByID, rec.ActionAt, rec.Description)
	return errors.Wrap(err, "insert history")
}

// ListProductHistory — записи аудита товара, новые сверху.
func (s *Storage) ListProductHistory(ctx context.Context, productID uint64, limit, offset int) ([]*models.ProductHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
SELECT id, product_id, action, action_by_id, action_at, description
FROM product_history
WHERE product_id = $1
ORDER BY id DESC
LIMIT $2 OFFSET $3
`, productID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select history")
	}
	defer rows.Close()

	var out []*models.ProductHistory
	for rows.Next() {
		var h models.ProductHistory
		if err := rows.Scan(&h.ID, &h.ProductID, &h.Action, &h.ActionByID, &h.ActionAt, &h.Description); err != nil {
			return nil, errors.Wrap(err, "scan history")
		}
		out = append(out, &h)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
