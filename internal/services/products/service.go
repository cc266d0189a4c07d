package products

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BearBump/CargoFlow/internal/cache"
	"github.com/BearBump/CargoFlow/internal/history"
	"github.com/BearBump/CargoFlow/internal/lifecycle"
	"github.com/BearBump/CargoFlow/internal/models"
	"github.com/pkg/errors"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrClientNotFound  = errors.New("client not found")
	ErrStatusNotFound  = errors.New("status not found")
)

type Repository interface {
	InsertProductWithHistory(ctx context.Context, p *models.Product, rec models.ProductHistory) (*models.Product, error)
	UpdateProductWithHistory(ctx context.Context, p *models.Product, rec models.ProductHistory) error
	UpdateProductsWithHistory(ctx context.Context, ps []*models.Product, recs []models.ProductHistory) error
	GetProductByID(ctx context.Context, id uint64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []uint64) ([]*models.Product, error)
	DeleteProducts(ctx context.Context, ids []uint64) (int64, error)
	ListProductHistory(ctx context.Context, productID uint64, limit, offset int) ([]*models.ProductHistory, error)
	GetClientByCode(ctx context.Context, code string) (*models.Client, error)
}

type Service struct {
	repo     Repository
	statuses lifecycle.StatusSet
	cache    cache.BytesCache
	cacheTTL time.Duration
	now      func() time.Time
}

func New(repo Repository, statuses lifecycle.StatusSet, c cache.BytesCache, cacheTTL time.Duration) *Service {
	return &Service{
		repo:     repo,
		statuses: statuses,
		cache:    c,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// WithClock подменяет источник времени (для тестов).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type CreateInput struct {
	Code       string
	Weight     *float64
	Price      *int64
	Date       *time.Time
	ClientCode string
	StatusName string
}

// Create создаёт товар вручную: клиент обязателен (по коду), статус по
// умолчанию — "в Китае". Запись истории фиксируется той же транзакцией.
func (s *Service) Create(ctx context.Context, in CreateInput, actor models.User) (*models.Product, error) {
	if in.Code == "" {
		return nil, errors.New("product code is required")
	}

	client, err := s.repo.GetClientByCode(ctx, in.ClientCode)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.Wrapf(ErrClientNotFound, "code %q", in.ClientCode)
	}

	statusName := in.StatusName
	if statusName == "" {
		statusName = lifecycle.StatusChina
	}
	statusID, ok := s.statuses.ID(statusName)
	if !ok {
		return nil, errors.Wrapf(ErrStatusNotFound, "name %q", statusName)
	}

	now := s.now()
	date := lifecycle.Today(now)
	if in.Date != nil {
		date = *in.Date
	}

	p := &models.Product{
		Code:         in.Code,
		Weight:       in.Weight,
		Price:        in.Price,
		Date:         date,
		StatusID:     statusID,
		ClientID:     &client.ID,
		BranchID:     client.BranchID,
		RegisteredAt: now.In(lifecycle.TZ),
	}
	lifecycle.ApplyStatusDates(p, statusName, now)

	var clientCode string
	if client.Code != nil {
		clientCode = *client.Code
	}
	rec := history.Record(p, history.ActionCreated, actor, statusName, clientCode, nil, nil, now)

	return s.repo.InsertProductWithHistory(ctx, p, rec)
}

type UpdateInput struct {
	Code       *string
	Weight     *float64
	Price      *int64
	Date       *time.Time
	ClientCode *string
	StatusID   *uint64
	StatusName *string
}

// Update меняет поля товара, применяет вехи по итоговому статусу и пишет
// в историю diff старое/новое.
func (s *Service) Update(ctx context.Context, id uint64, in UpdateInput, actor models.User) (*models.Product, error) {
	p, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.Wrapf(ErrProductNotFound, "id %d", id)
	}

	oldData := history.SnapshotProduct(p)

	var clientCode string
	if in.ClientCode != nil && *in.ClientCode != "" {
		client, err := s.repo.GetClientByCode(ctx, *in.ClientCode)
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, errors.Wrapf(ErrClientNotFound, "code %q", *in.ClientCode)
		}
		p.ClientID = &client.ID
		if client.Code != nil {
			clientCode = *client.Code
		}
	}

	statusName := s.statuses.NameByID(p.StatusID)
	switch {
	case in.StatusID != nil:
		name := s.statuses.NameByID(*in.StatusID)
		if name == "unknown" {
			return nil, errors.Wrapf(ErrStatusNotFound, "id %d", *in.StatusID)
		}
		p.StatusID = *in.StatusID
		statusName = name
	case in.StatusName != nil && *in.StatusName != "":
		statusID, ok := s.statuses.ID(*in.StatusName)
		if !ok {
			return nil, errors.Wrapf(ErrStatusNotFound, "name %q", *in.StatusName)
		}
		p.StatusID = statusID
		statusName = *in.StatusName
	}

	if in.Code != nil {
		p.Code = *in.Code
	}
	if in.Weight != nil {
		p.Weight = in.Weight
	}
	if in.Price != nil {
		p.Price = in.Price
	}
	if in.Date != nil {
		p.Date = *in.Date
	}

	now := s.now()
	lifecycle.ApplyStatusDates(p, statusName, now)

	newData := history.SnapshotProduct(p)
	rec := history.Record(p, history.ActionUpdated, actor, statusName, clientCode, oldData, newData, now)

	if err := s.repo.UpdateProductWithHistory(ctx, p, rec); err != nil {
		return nil, err
	}
	s.dropCache(ctx, p.ID)
	return p, nil
}

// BulkStatus переводит пачку товаров в статус одной транзакцией,
// по одной записи истории на товар.
func (s *Service) BulkStatus(ctx context.Context, ids []uint64, statusID uint64, actor models.User) ([]*models.Product, error) {
	if len(ids) == 0 {
		return nil, errors.New("product ids are required")
	}
	statusName := s.statuses.NameByID(statusID)
	if statusName == "unknown" {
		return nil, errors.Wrapf(ErrStatusNotFound, "id %d", statusID)
	}

	ps, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, errors.Wrap(ErrProductNotFound, "none of the ids resolved")
	}

	now := s.now()
	recs := make([]models.ProductHistory, 0, len(ps))
	for _, p := range ps {
		oldData := history.SnapshotStatus(p)
		p.StatusID = statusID
		lifecycle.ApplyStatusDates(p, statusName, now)
		newData := history.SnapshotStatus(p)
		recs = append(recs, history.Record(p, history.ActionUpdated, actor, statusName, "", oldData, newData, now))
	}

	if err := s.repo.UpdateProductsWithHistory(ctx, ps, recs); err != nil {
		return nil, err
	}
	for _, p := range ps {
		s.dropCache(ctx, p.ID)
	}
	return ps, nil
}

// GetByIDs — чтение с кэшем текущего состояния (best-effort, кэш не обязан
// быть всегда).
func (s *Service) GetByIDs(ctx context.Context, ids []uint64) ([]*models.Product, error) {
	if len(ids) == 0 {
		return []*models.Product{}, nil
	}

	miss := make([]uint64, 0, len(ids))
	got := make(map[uint64]*models.Product, len(ids))

	if s.cache != nil && s.cacheTTL > 0 {
		for _, id := range ids {
			b, ok, err := s.cache.Get(ctx, CurrentKey(id))
			if err != nil || !ok {
				miss = append(miss, id)
				continue
			}
			var p models.Product
			if json.Unmarshal(b, &p) != nil {
				miss = append(miss, id)
				continue
			}
			got[id] = &p
		}
	} else {
		miss = ids
	}

	if len(miss) > 0 {
		fromDB, err := s.repo.GetProductsByIDs(ctx, miss)
		if err != nil {
			return nil, err
		}
		for _, p := range fromDB {
			got[p.ID] = p
			if s.cache != nil && s.cacheTTL > 0 {
				b, _ := json.Marshal(p)
				_ = s.cache.Set(ctx, CurrentKey(p.ID), b, s.cacheTTL)
			}
		}
	}

	out := make([]*models.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := got[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id uint64) (*models.Product, error) {
	ps, err := s.GetByIDs(ctx, []uint64{id})
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, errors.Wrapf(ErrProductNotFound, "id %d", id)
	}
	return ps[0], nil
}

// Delete — административное удаление без записи истории.
func (s *Service) Delete(ctx context.Context, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, errors.New("product ids are required")
	}
	n, err := s.repo.DeleteProducts(ctx, ids)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.dropCache(ctx, id)
	}
	return n, nil
}

func (s *Service) History(ctx context.Context, productID uint64, limit, offset int) ([]*models.ProductHistory, error) {
	return s.repo.ListProductHistory(ctx, productID, limit, offset)
}

func (s *Service) dropCache(ctx context.Context, id uint64) {
	if s.cache != nil && s.cacheTTL > 0 {
		_ = s.cache.Del(ctx, CurrentKey(id))
	}
}

// CurrentKey — ключ кэша текущего состояния товара; его же инвалидирует
// сервис выдачи.
func CurrentKey(id uint64) string {
	return fmt.Sprintf("product:%d:current", id)
}
