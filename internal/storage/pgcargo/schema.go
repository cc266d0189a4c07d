package pgcargo

import (
	"context"

	"github.com/BearBump/CargoFlow/internal/lifecycle"
	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS statuses (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL UNIQUE
)`,
		`
CREATE TABLE IF NOT EXISTS branches (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  code TEXT NOT NULL UNIQUE
)`,
		`
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  email TEXT NOT NULL UNIQUE
)`,
		`
CREATE TABLE IF NOT EXISTS clients (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NULL,
  number TEXT NULL,
  city TEXT NULL,
  telegram_chat_id TEXT NULL,
  numeric_code BIGINT NULL,
  code TEXT NULL,
  branch_id BIGINT NULL REFERENCES branches(id),
  registered_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_clients_numeric_code ON clients(numeric_code)`,
		`CREATE INDEX IF NOT EXISTS idx_clients_code ON clients(code)`,
		`
CREATE TABLE IF NOT EXISTS products (
  id BIGSERIAL PRIMARY KEY,
  product_code TEXT NOT NULL,
  weight NUMERIC NULL,
  price BIGINT NULL,
  date DATE NOT NULL,
  date_china DATE NULL,
  date_transit DATE NULL,
  date_bishkek DATE NULL,
  take_time TIMESTAMP NULL,
  status_id BIGINT NOT NULL REFERENCES statuses(id),
  client_id BIGINT NULL REFERENCES clients(id),
  branch_id BIGINT NULL,
  registered_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_products_product_code ON products(product_code)`,
		`CREATE INDEX IF NOT EXISTS idx_products_status_date ON products(status_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_products_client_id ON products(client_id)`,
		// История переживает удаление товара, поэтому product_id без FK.
		`
CREATE TABLE IF NOT EXISTS product_history (
  id BIGSERIAL PRIMARY KEY,
  product_id BIGINT NOT NULL,
  action TEXT NOT NULL,
  action_by_id BIGINT NOT NULL,
  action_at TIMESTAMPTZ NOT NULL,
  description TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_product_history_product_id ON product_history(product_id, id DESC)`,
		`
CREATE TABLE IF NOT EXISTS payment_methods (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  is_active BOOLEAN NOT NULL DEFAULT TRUE
)`,
		`
CREATE TABLE IF NOT EXISTS payments (
  id BIGSERIAL PRIMARY KEY,
  client_id BIGINT NOT NULL REFERENCES clients(id),
  branch_id BIGINT NULL,
  payment_method_id BIGINT NOT NULL REFERENCES payment_methods(id),
  amount BIGINT NOT NULL,
  taken_by_id BIGINT NOT NULL,
  paid_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS payment_products (
  payment_id BIGINT NOT NULL REFERENCES payments(id),
  product_id BIGINT NOT NULL,
  PRIMARY KEY (payment_id, product_id)
)`,
		`
CREATE TABLE IF NOT EXISTS settings (
  id BIGSERIAL PRIMARY KEY,
  key TEXT NOT NULL UNIQUE,
  value TEXT NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS notification_outbox (
  id BIGSERIAL PRIMARY KEY,
  kind TEXT NOT NULL,
  chat_id TEXT NOT NULL,
  count INT NOT NULL DEFAULT 0,
  message TEXT NULL,
  attempts INT NOT NULL DEFAULT 0,
  next_attempt_at TIMESTAMPTZ NOT NULL,
  sent_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_outbox_due ON notification_outbox(next_attempt_at) WHERE sent_at IS NULL`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}

	// Обязательные статусы и значения по умолчанию.
	for _, name := range lifecycle.RequiredStatuses() {
		if _, err := s.db.Exec(ctx, `INSERT INTO statuses (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name); err != nil {
			return errors.Wrap(err, "seed statuses")
		}
	}
	if _, err := s.db.Exec(ctx, `INSERT INTO settings (key, value) VALUES ('transit_hours', '48') ON CONFLICT (key) DO NOTHING`); err != nil {
		return errors.Wrap(err, "seed settings")
	}

	return nil
}
