package pgcargo

import (
	"context"
	"time"

	"github.com/BearBump/CargoFlow/internal/history"
	"github.com/BearBump/CargoFlow/internal/lifecycle"
	"github.com/BearBump/CargoFlow/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ErrNothingToIssue — ни один из выбранных товаров не может быть выдан
// (не найдены или уже выданы).
var ErrNothingToIssue = errors.New("no products available to issue")

type IssueInput struct {
	ProductIDs      []uint64
	PickedStatusID  uint64
	Client          *models.Client
	PaymentMethodID uint64
	Actor           models.User
	Now             time.Time
}

type IssueResult struct {
	PaymentID  uint64
	Amount     int64
	IssuedIDs  []uint64
	SkippedIDs []uint64
}

// IssueProducts выдаёт товары клиенту одной транзакцией: смена статуса,
// вехи, записи истории, платёж и связки товар-платёж фиксируются вместе.
// Строки товаров блокируются (FOR UPDATE), чтобы конкурентные выдачи по
// пересекающимся наборам не привязали товар к двум платежам. Уже выданные
// товары выбрасываются из пачки (no-op для них).
func (s *Storage) IssueProducts(ctx context.Context, in IssueInput) (*IssueResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT `+productColumns+` FROM products
WHERE id = ANY($1)
ORDER BY id
FOR UPDATE
`, in.ProductIDs)
	if err != nil {
		return nil, errors.Wrap(err, "select products for issue")
	}
	products, err := collectProducts(rows)
	if err != nil {
		return nil, err
	}

	res := &IssueResult{}
	var toIssue []*models.Product
	for _, p := range products {
		if p.StatusID == in.PickedStatusID {
			res.SkippedIDs = append(res.SkippedIDs, p.ID)
			continue
		}
		toIssue = append(toIssue, p)
	}
	if len(toIssue) == 0 {
		return nil, ErrNothingToIssue
	}

	var clientCode string
	if in.Client.Code != nil {
		clientCode = *in.Client.Code
	}

	for _, p := range toIssue {
		if p.Price != nil {
			res.Amount += *p.Price
		}

		p.StatusID = in.PickedStatusID
		p.Date = lifecycle.Today(in.Now)
		lifecycle.ApplyStatusDates(p, lifecycle.StatusPicked, in.Now)

		if err := updateProductTx(ctx, tx, p, in.Now); err != nil {
			return nil, err
		}
		rec := history.Record(p, history.ActionIssued, in.Actor, lifecycle.StatusPicked, clientCode, nil, nil, in.Now)
		if err := insertHistoryTx(ctx, tx, rec); err != nil {
			return nil, err
		}
		res.IssuedIDs = append(res.IssuedIDs, p.ID)
	}

	err = tx.QueryRow(ctx, `
INSERT INTO payments (client_id, branch_id, payment_method_id, amount, taken_by_id, paid_at)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id
`, in.Client.ID, in.Client.BranchID, in.PaymentMethodID, res.Amount, in.Actor.ID, in.Now.UTC()).Scan(&res.PaymentID)
	if err != nil {
		return nil, errors.Wrap(err, "insert payment")
	}

	for _, id := range res.IssuedIDs {
		if _, err := tx.Exec(ctx, `INSERT INTO payment_products (payment_id, product_id) VALUES ($1,$2)`, res.PaymentID, id); err != nil {
			return nil, errors.Wrap(err, "link payment product")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return res, nil
}

// GetPaymentByID — административное чтение платежа.
func (s *Storage) GetPaymentByID(ctx context.Context, id uint64) (*models.Payment, error) {
	var p models.Payment
	err := s.db.QueryRow(ctx, `
SELECT id, client_id, branch_id, payment_method_id, amount, taken_by_id, paid_at
FROM payments WHERE id = $1
`, id).Scan(&p.ID, &p.ClientID, &p.BranchID, &p.PaymentMethodID, &p.Amount, &p.TakenByID, &p.PaidAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select payment")
	}
	return &p, nil
}

// ListPaymentProductIDs — товары, привязанные к платежу.
func (s *Storage) ListPaymentProductIDs(ctx context.Context, paymentID uint64) ([]uint64, error) {
	rows, err := s.db.Query(ctx, `SELECT product_id FROM payment_products WHERE payment_id = $1 ORDER BY product_id`, paymentID)
	if err != nil {
		return nil, errors.Wrap(err, "select payment products")
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan payment product")
		}
		out = append(out, id)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
