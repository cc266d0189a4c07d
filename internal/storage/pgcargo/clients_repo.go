package pgcargo

import (
	"context"
	"fmt"
	"time"

	"github.com/BearBump/CargoFlow/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const clientColumns = `
  id, name, number, city, telegram_chat_id,
  numeric_code, code, branch_id, registered_at
`

func scanClient(row rowScanner) (*models.Client, error) {
	var c models.Client
	if err := row.Scan(
		&c.ID, &c.Name, &c.Number, &c.City, &c.TelegramChatID,
		&c.NumericCode, &c.Code, &c.BranchID, &c.RegisteredAt,
	); err != nil {
		return nil, errors.Wrap(err, "scan client")
	}
	return &c, nil
}

// CreateClient генерирует очередной numeric_code (max+1) и производный
// code = <код филиала><numeric_code> внутри одной транзакции.
func (s *Storage) CreateClient(ctx context.Context, c *models.Client) (*models.Client, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if c.NumericCode == nil {
		var next int64
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(numeric_code), 0) + 1 FROM clients`).Scan(&next); err != nil {
			return nil, errors.Wrap(err, "next numeric code")
		}
		c.NumericCode = &next
	}

	if c.BranchID != nil {
		branch, err := getBranchTx(ctx, tx, *c.BranchID)
		if err != nil {
			return nil, err
		}
		if branch != nil {
			code := fmt.Sprintf("%s%d", branch.Code, *c.NumericCode)
			c.Code = &code
		}
	}

	if c.RegisteredAt.IsZero() {
		c.RegisteredAt = time.Now().UTC()
	}

	err = tx.QueryRow(ctx, `
INSERT INTO clients (name, number, city, telegram_chat_id, numeric_code, code, branch_id, registered_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING id
`, c.Name, c.Number, c.City, c.TelegramChatID, c.NumericCode, c.Code, c.BranchID, c.RegisteredAt).Scan(&c.ID)
	if err != nil {
		return nil, errors.Wrap(err, "insert client")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return c, nil
}

// UpdateClient обновляет поля клиента; при смене филиала code пересчитывается.
func (s *Storage) UpdateClient(ctx context.Context, c *models.Client) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	c.Code = nil
	if c.BranchID != nil && c.NumericCode != nil {
		branch, err := getBranchTx(ctx, tx, *c.BranchID)
		if err != nil {
			return err
		}
		if branch != nil {
			code := fmt.Sprintf("%s%d", branch.Code, *c.NumericCode)
			c.Code = &code
		}
	}

	_, err = tx.Exec(ctx, `
UPDATE clients SET name = $2, number = $3, city = $4, telegram_chat_id = $5, code = $6, branch_id = $7
WHERE id = $1
`, c.ID, c.Name, c.Number, c.City, c.TelegramChatID, c.Code, c.BranchID)
	if err != nil {
		return errors.Wrap(err, "update client")
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *Storage) getClientWhere(ctx context.Context, where string, arg any) (*models.Client, error) {
	row := s.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE `+where, arg)
	c, err := scanClient(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Storage) GetClientByID(ctx context.Context, id uint64) (*models.Client, error) {
	return s.getClientWhere(ctx, `id = $1`, id)
}

func (s *Storage) GetClientByCode(ctx context.Context, code string) (*models.Client, error) {
	return s.getClientWhere(ctx, `code = $1`, code)
}

func (s *Storage) GetClientByNumericCode(ctx context.Context, numericCode int64) (*models.Client, error) {
	return s.getClientWhere(ctx, `numeric_code = $1`, numericCode)
}

func getBranchTx(ctx context.Context, tx pgx.Tx, id uint64) (*models.Branch, error) {
	var b models.Branch
	err := tx.QueryRow(ctx, `SELECT id, name, code FROM branches WHERE id = $1`, id).Scan(&b.ID, &b.Name, &b.Code)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select branch")
	}
	return &b, nil
}

func (s *Storage) CreateBranch(ctx context.Context, b *models.Branch) (*models.Branch, error) {
	err := s.db.QueryRow(ctx, `INSERT INTO branches (name, code) VALUES ($1,$2) RETURNING id`, b.Name, b.Code).Scan(&b.ID)
	if err != nil {
		return nil, errors.Wrap(err, "insert branch")
	}
	return b, nil
}

func (s *Storage) GetBranchByID(ctx context.Context, id uint64) (*models.Branch, error) {
	var b models.Branch
	err := s.db.QueryRow(ctx, `SELECT id, name, code FROM branches WHERE id = $1`, id).Scan(&b.ID, &b.Name, &b.Code)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select branch")
	}
	return &b, nil
}
