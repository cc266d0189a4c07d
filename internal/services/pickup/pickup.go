// Package pickup — выдача товаров клиенту: смена статуса, платёж и связки
// товар-платёж одной транзакцией.
package pickup

import (
	"context"
	"time"

	"github.com/BearBump/CargoFlow/internal/cache"
	"github.com/BearBump/CargoFlow/internal/lifecycle"
	"github.com/BearBump/CargoFlow/internal/models"
	"github.com/BearBump/CargoFlow/internal/services/products"
	"github.com/BearBump/CargoFlow/internal/storage/pgcargo"
	"github.com/pkg/errors"
)

// Предусловия выдачи, каждое — отдельная именованная ошибка.
var (
	ErrNoProductsSelected    = errors.New("no products selected")
	ErrNoPaymentMethod       = errors.New("payment method is required")
	ErrClientNotFound        = errors.New("client not found")
	ErrPaymentMethodNotFound = errors.New("payment method not found or inactive")
	ErrStatusNotConfigured   = errors.New("required status is not configured")
)

type Repository interface {
	GetClientByCode(ctx context.Context, code string) (*models.Client, error)
	GetActivePaymentMethod(ctx context.Context, id uint64) (*models.PaymentMethod, error)
	ListClientProductsByStatus(ctx context.Context, clientID, statusID uint64) ([]*models.Product, error)
	IssueProducts(ctx context.Context, in pgcargo.IssueInput) (*pgcargo.IssueResult, error)
}

type Service struct {
	repo     Repository
	statuses lifecycle.StatusSet
	cache    cache.BytesCache
	now      func() time.Time
}

func New(repo Repository, statuses lifecycle.StatusSet, c cache.BytesCache) *Service {
	return &Service{repo: repo, statuses: statuses, cache: c, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type IssueRequest struct {
	ProductIDs      []uint64
	PaymentMethodID uint64
	ClientCode      string
}

// Receipt — итог выдачи: платёж, сумма и какие товары реально выданы.
type Receipt struct {
	PaymentID  uint64   `json:"payment_id"`
	Amount     int64    `json:"amount"`
	IssuedIDs  []uint64 `json:"issued_ids"`
	SkippedIDs []uint64 `json:"skipped_ids,omitempty"`
}

// Issue выдаёт выбранные товары клиенту. Предусловия проверяются по
// порядку до каких-либо изменений; сама выдача атомарна (см.
// Storage.IssueProducts). Не найденные и уже выданные товары молча
// выбрасываются из пачки, если остаётся хотя бы один.
func (s *Service) Issue(ctx context.Context, req IssueRequest, actor models.User) (*Receipt, error) {
	if len(req.ProductIDs) == 0 {
		return nil, ErrNoProductsSelected
	}
	if req.PaymentMethodID == 0 {
		return nil, ErrNoPaymentMethod
	}

	client, err := s.repo.GetClientByCode(ctx, req.ClientCode)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.Wrapf(ErrClientNotFound, "code %q", req.ClientCode)
	}

	method, err := s.repo.GetActivePaymentMethod(ctx, req.PaymentMethodID)
	if err != nil {
		return nil, err
	}
	if method == nil {
		return nil, errors.Wrapf(ErrPaymentMethodNotFound, "id %d", req.PaymentMethodID)
	}

	pickedID, ok := s.statuses.ID(lifecycle.StatusPicked)
	if !ok {
		return nil, errors.Wrapf(ErrStatusNotConfigured, "name %q", lifecycle.StatusPicked)
	}

	res, err := s.repo.IssueProducts(ctx, pgcargo.IssueInput{
		ProductIDs:      req.ProductIDs,
		PickedStatusID:  pickedID,
		Client:          client,
		PaymentMethodID: method.ID,
		Actor:           actor,
		Now:             s.now(),
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		for _, id := range res.IssuedIDs {
			_ = s.cache.Del(ctx, products.CurrentKey(id))
		}
	}

	return &Receipt{
		PaymentID:  res.PaymentID,
		Amount:     res.Amount,
		IssuedIDs:  res.IssuedIDs,
		SkippedIDs: res.SkippedIDs,
	}, nil
}

// ArrivedForClient — товары клиента, ожидающие выдачи (экран кассира).
func (s *Service) ArrivedForClient(ctx context.Context, clientCode string) (*models.Client, []*models.Product, error) {
	client, err := s.repo.GetClientByCode(ctx, clientCode)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		return nil, nil, errors.Wrapf(ErrClientNotFound, "code %q", clientCode)
	}

	bishkekID, ok := s.statuses.ID(lifecycle.StatusBishkek)
	if !ok {
		return nil, nil, errors.Wrapf(ErrStatusNotConfigured, "name %q", lifecycle.StatusBishkek)
	}

	ps, err := s.repo.ListClientProductsByStatus(ctx, client.ID, bishkekID)
	if err != nil {
		return nil, nil, err
	}
	return client, ps, nil
}
