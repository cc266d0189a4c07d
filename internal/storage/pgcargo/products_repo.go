package pgcargo

import (
	"context"
	"time"

	"github.com/BearBump/CargoFlow/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const productColumns = `
  id, product_code, weight, price, date,
  date_china, date_transit, date_bishkek, take_time,
  status_id, client_id, branch_id, registered_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	var p models.Product
	if err := row.Scan(
		&p.ID, &p.Code, &p.Weight, &p.Price, &p.Date,
		&p.DateChina, &p.DateTransit, &p.DateBishkek, &p.TakeTime,
		&p.StatusID, &p.ClientID, &p.BranchID, &p.RegisteredAt, &p.UpdatedAt,
	); err != nil {
		return nil, errors.Wrap(err, "scan product")
	}
	return &p, nil
}

func collectProducts(rows pgx.Rows) ([]*models.Product, error) {
	defer rows.Close()
	var out []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// InsertProductWithHistory вставляет товар и его запись истории в одной
// транзакции: либо появляются оба, либо ни один.
func (s *Storage) InsertProductWithHistory(ctx context.Context, p *models.Product, rec models.ProductHistory) (*models.Product, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertProductTx(ctx, tx, p); err != nil {
		return nil, err
	}
	rec.ProductID = p.ID
	if err := insertHistoryTx(ctx, tx, rec); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return p, nil
}

func insertProductTx(ctx context.Context, tx pgx.Tx, p *models.Product) error {
	err := tx.QueryRow(ctx, `
INSERT INTO products (
  product_code, weight, price, date,
  date_china, date_transit, date_bishkek, take_time,
  status_id, client_id, branch_id, registered_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
RETURNING id
`, p.Code, p.Weight, p.Price, p.Date,
		p.DateChina, p.DateTransit, p.DateBishkek, p.TakeTime,
		p.StatusID, p.ClientID, p.BranchID, p.RegisteredAt).Scan(&p.ID)
	return errors.Wrap(err, "insert product")
}

func updateProductTx(ctx context.Context, tx pgx.Tx, p *models.Product, now time.Time) error {
	_, err := tx.Exec(ctx, `
UPDATE products SET
  product_code = $2, weight = $3, price = $4, date = $5,
  date_china = $6, date_transit = $7, date_bishkek = $8, take_time = $9,
  status_id = $10, client_id = $11, branch_id = $12, updated_at = $13
WHERE id = $1
`, p.ID, p.Code, p.Weight, p.Price, p.Date,
		p.DateChina, p.DateTransit, p.DateBishkek, p.TakeTime,
		p.StatusID, p.ClientID, p.BranchID, now.UTC())
	return errors.Wrap(err, "update product")
}

// UpdateProductWithHistory обновляет товар и пишет запись истории атомарно.
func (s *Storage) UpdateProductWithHistory(ctx context.Context, p *models.Product, rec models.ProductHistory) error {
	return s.UpdateProductsWithHistory(ctx, []*models.Product{p}, []models.ProductHistory{rec})
}

// UpdateProductsWithHistory — массовое обновление (смена статуса пачки
// товаров) одной транзакцией, по одной записи истории на товар.
func (s *Storage) UpdateProductsWithHistory(ctx context.Context, ps []*models.Product, recs []models.ProductHistory) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now()
	for _, p := range ps {
		if err := updateProductTx(ctx, tx, p, now); err != nil {
			return err
		}
	}
	for _, rec := range recs {
		if err := insertHistoryTx(ctx, tx, rec); err != nil {
			return err
		}
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *Storage) GetProductByID(ctx context.Context, id uint64) (*models.Product, error) {
	row := s.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Storage) GetProductsByIDs(ctx context.Context, ids []uint64) ([]*models.Product, error) {
	if len(ids) == 0 {
		return []*models.Product{}, nil
	}
	rows, err := s.db.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select products")
	}
	return collectProducts(rows)
}

// FindProductByCode ищет товар только по коду (клиент не учитывается).
func (s *Storage) FindProductByCode(ctx context.Context, code string) (*models.Product, error) {
	row := s.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE product_code = $1 ORDER BY id LIMIT 1`, code)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FindProductByCodeAndClient ищет товар по коду и клиенту; clientID == nil
// означает "без клиента" (client_id IS NULL), а не "любой клиент".
func (s *Storage) FindProductByCodeAndClient(ctx context.Context, code string, clientID *uint64) (*models.Product, error) {
	var row pgx.Row
	if clientID == nil {
		row = s.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE product_code = $1 AND client_id IS NULL ORDER BY id LIMIT 1`, code)
	} else {
		row = s.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE product_code = $1 AND client_id = $2 ORDER BY id LIMIT 1`, code, *clientID)
	}
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListClientProductsByStatus — товары клиента в заданном статусе
// (экран выдачи показывает прибывшие).
func (s *Storage) ListClientProductsByStatus(ctx context.Context, clientID, statusID uint64) ([]*models.Product, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+productColumns+` FROM products
WHERE client_id = $1 AND status_id = $2
ORDER BY id DESC
`, clientID, statusID)
	if err != nil {
		return nil, errors.Wrap(err, "select client products")
	}
	return collectProducts(rows)
}

// DeleteProducts — административное удаление, история не пишется.
func (s *Storage) DeleteProducts(ctx context.Context, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, errors.Wrap(err, "delete products")
	}
	return tag.RowsAffected(), nil
}
