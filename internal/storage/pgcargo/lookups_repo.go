package pgcargo

import (
	"context"

	"github.com/BearBump/CargoFlow/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) ListStatuses(ctx context.Context) ([]models.Status, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name FROM statuses ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "select statuses")
	}
	defer rows.Close()

	var out []models.Status
	for rows.Next() {
		var st models.Status
		if err := rows.Scan(&st.ID, &st.Name); err != nil {
			return nil, errors.Wrap(err, "scan status")
		}
		out = append(out, st)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// GetActivePaymentMethod возвращает способ оплаты, только если он активен.
func (s *Storage) GetActivePaymentMethod(ctx context.Context, id uint64) (*models.PaymentMethod, error) {
	var m models.PaymentMethod
	err := s.db.QueryRow(ctx, `SELECT id, name, is_active FROM payment_methods WHERE id = $1 AND is_active`, id).
		Scan(&m.ID, &m.Name, &m.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select payment method")
	}
	return &m, nil
}

func (s *Storage) ListActivePaymentMethods(ctx context.Context) ([]models.PaymentMethod, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, is_active FROM payment_methods WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "select payment methods")
	}
	defer rows.Close()

	var out []models.PaymentMethod
	for rows.Next() {
		var m models.PaymentMethod
		if err := rows.Scan(&m.ID, &m.Name, &m.IsActive); err != nil {
			return nil, errors.Wrap(err, "scan payment method")
		}
		out = append(out, m)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) CreatePaymentMethod(ctx context.Context, m *models.PaymentMethod) (*models.PaymentMethod, error) {
	err := s.db.QueryRow(ctx, `INSERT INTO payment_methods (name, is_active) VALUES ($1,$2) RETURNING id`, m.Name, m.IsActive).Scan(&m.ID)
	if err != nil {
		return nil, errors.Wrap(err, "insert payment method")
	}
	return m, nil
}

// GetOrCreateUser — авторизация вне ядра, пользователи заводятся по email.
func (s *Storage) GetOrCreateUser(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(ctx, `
INSERT INTO users (email) VALUES ($1)
ON CONFLICT (email) DO UPDATE SET email = users.email
RETURNING id, email
`, email).Scan(&u.ID, &u.Email)
	if err != nil {
		return nil, errors.Wrap(err, "upsert user")
	}
	return &u, nil
}

// GetSettingValue — get(key) -> value; отсутствие ключа — первоклассный
// исход (пустая строка и ok=false), не ошибка.
func (s *Storage) GetSettingValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "select setting")
	}
	return value, true, nil
}

func (s *Storage) UpsertSetting(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO settings (key, value) VALUES ($1,$2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
`, key, value)
	return errors.Wrap(err, "upsert setting")
}
