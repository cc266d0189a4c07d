// Package ingest сверяет пачки строк из накладных (xlsx) с базой товаров:
// создать, обновить или пропустить — по каждой строке, с уведомлениями
// клиентам через outbox в той же транзакции.
package ingest

import (
	"context"
	"strconv"
	"time"

	"github.com/BearBump/CargoFlow/internal/history"
	"github.com/BearBump/CargoFlow/internal/lifecycle"
	"github.com/BearBump/CargoFlow/internal/models"
	"github.com/BearBump/CargoFlow/internal/storage/pgcargo"
	"github.com/pkg/errors"
)

// Row — строка накладной: код товара, числовой код клиента, вес, цена.
// Отсутствующие колонки — nil.
type Row struct {
	Code       string
	ClientCode *int64
	Weight     *float64
	Price      *int64
}

type Result struct {
	Created         int            `json:"products_created"`
	Updated         int            `json:"products_updated"`
	Skipped         int            `json:"products_skipped"`
	PerClientCounts map[string]int `json:"clients_products_count"`
}

type Repository interface {
	GetClientByNumericCode(ctx context.Context, numericCode int64) (*models.Client, error)
	FindProductByCode(ctx context.Context, code string) (*models.Product, error)
	FindProductByCodeAndClient(ctx context.Context, code string, clientID *uint64) (*models.Product, error)
	ApplyImport(ctx context.Context, plan pgcargo.ImportPlan) error
}

type Service struct {
	repo     Repository
	statuses lifecycle.StatusSet
	now      func() time.Time
}

func New(repo Repository, statuses lifecycle.StatusSet) *Service {
	return &Service{repo: repo, statuses: statuses, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// IngestSourced обрабатывает накладную регистрации в Китае. Дубликат —
// существующий товар с тем же кодом И тем же клиентом (или оба без
// клиента); повторная строка той же накладной — тоже дубликат.
// Дубликаты пропускаются и считаются отдельно.
func (s *Service) IngestSourced(ctx context.Context, rows []Row, actor models.User) (*Result, error) {
	chinaID, ok := s.statuses.ID(lifecycle.StatusChina)
	if !ok {
		return nil, errors.Wrapf(ErrStatusNotConfigured, "name %q", lifecycle.StatusChina)
	}

	now := s.now()
	res := &Result{PerClientCounts: map[string]int{}}
	var plan pgcargo.ImportPlan
	planned := map[string]struct{}{}

	for _, row := range rows {
		if row.Code == "" {
			continue
		}

		client, clientCode, err := s.resolveClient(ctx, row.ClientCode)
		if err != nil {
			return nil, err
		}

		var clientID *uint64
		if client != nil {
			clientID = &client.ID
		}
		key := sourcedKey(row.Code, clientID)
		if _, ok := planned[key]; ok {
			res.Skipped++
			continue
		}
		existing, err := s.repo.FindProductByCodeAndClient(ctx, row.Code, clientID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			res.Skipped++
			continue
		}
		planned[key] = struct{}{}

		p := models.Product{
			Code:         row.Code,
			Date:         lifecycle.Today(now),
			StatusID:     chinaID,
			ClientID:     clientID,
			RegisteredAt: now.In(lifecycle.TZ),
		}
		if client != nil {
			p.BranchID = client.BranchID
		}
		lifecycle.ApplyStatusDates(&p, lifecycle.StatusChina, now)

		plan.Creates = append(plan.Creates, pgcargo.ImportCreate{
			Product: p,
			Record:  history.Record(&p, history.ActionCreated, actor, lifecycle.StatusChina, clientCode, nil, nil, now),
		})
		res.Created++

		s.countClient(res, client)
	}

	plan.Notices = buildNotices(models.NoticeKindChina, res.PerClientCounts, now)
	if err := s.repo.ApplyImport(ctx, plan); err != nil {
		return nil, err
	}
	return res, nil
}

// IngestArrived обрабатывает накладную приёмки в Бишкеке. Совпадение —
// только по коду товара (клиент не учитывается): найденный товар
// обновляется, не найденный создаётся сразу в статусе прибытия.
// Повторная строка с тем же кодом дополняет уже запланированную
// (вес, цена, клиент), а не создаёт второй товар.
// Строки без кода или веса молча пропускаются.
func (s *Service) IngestArrived(ctx context.Context, rows []Row, actor models.User) (*Result, error) {
	bishkekID, ok := s.statuses.ID(lifecycle.StatusBishkek)
	if !ok {
		return nil, errors.Wrapf(ErrStatusNotConfigured, "name %q", lifecycle.StatusBishkek)
	}

	now := s.now()
	res := &Result{PerClientCounts: map[string]int{}}
	var plan pgcargo.ImportPlan
	plannedCreates := map[string]int{} // код товара -> индекс в plan.Creates
	plannedUpdates := map[string]int{}

	for _, row := range rows {
		if row.Code == "" || row.Weight == nil {
			continue
		}

		client, clientCode, err := s.resolveClient(ctx, row.ClientCode)
		if err != nil {
			return nil, err
		}

		if idx, ok := plannedCreates[row.Code]; ok {
			mergeArrival(&plan.Creates[idx].Product, row, client)
			res.Updated++
			continue
		}
		if idx, ok := plannedUpdates[row.Code]; ok {
			mergeArrival(&plan.Updates[idx].Product, row, client)
			res.Updated++
			continue
		}

		existing, err := s.repo.FindProductByCode(ctx, row.Code)
		if err != nil {
			return nil, err
		}

		if existing != nil {
			oldData := history.SnapshotArrival(existing)

			existing.Weight = row.Weight
			if row.Price != nil {
				existing.Price = row.Price
			}
			if client != nil {
				existing.ClientID = &client.ID
			}
			existing.StatusID = bishkekID
			existing.Date = lifecycle.Today(now)
			lifecycle.ApplyStatusDates(existing, lifecycle.StatusBishkek, now)

			newData := history.SnapshotArrival(existing)
			plan.Updates = append(plan.Updates, pgcargo.ImportUpdate{
				Product: *existing,
				Record:  history.Record(existing, history.ActionUpdated, actor, lifecycle.StatusBishkek, clientCode, oldData, newData, now),
			})
			plannedUpdates[row.Code] = len(plan.Updates) - 1
			res.Updated++
		} else {
			var clientID *uint64
			if client != nil {
				clientID = &client.ID
			}
			p := models.Product{
				Code:         row.Code,
				Weight:       row.Weight,
				Price:        row.Price,
				Date:         lifecycle.Today(now),
				StatusID:     bishkekID,
				ClientID:     clientID,
				RegisteredAt: now.In(lifecycle.TZ),
			}
			if client != nil {
				p.BranchID = client.BranchID
			}
			lifecycle.ApplyStatusDates(&p, lifecycle.StatusBishkek, now)

			plan.Creates = append(plan.Creates, pgcargo.ImportCreate{
				Product: p,
				Record:  history.Record(&p, history.ActionCreated, actor, lifecycle.StatusBishkek, clientCode, nil, nil, now),
			})
			plannedCreates[row.Code] = len(plan.Creates) - 1
			res.Created++
		}

		s.countClient(res, client)
	}

	plan.Notices = buildNotices(models.NoticeKindBishkek, res.PerClientCounts, now)
	if err := s.repo.ApplyImport(ctx, plan); err != nil {
		return nil, err
	}
	return res, nil
}

// ErrStatusNotConfigured — обязательный статус отсутствует в справочнике.
var ErrStatusNotConfigured = errors.New("required status is not configured")

// sourcedKey — ключ дедупликации внутри одной накладной регистрации.
func sourcedKey(code string, clientID *uint64) string {
	if clientID == nil {
		return code
	}
	return code + "|" + strconv.FormatUint(*clientID, 10)
}

// mergeArrival накладывает повторную строку приёмки на уже запланированный
// товар той же накладной.
func mergeArrival(p *models.Product, row Row, client *models.Client) {
	p.Weight = row.Weight
	if row.Price != nil {
		p.Price = row.Price
	}
	if client != nil {
		p.ClientID = &client.ID
		if p.BranchID == nil {
			p.BranchID = client.BranchID
		}
	}
}

// resolveClient ищет клиента по числовому коду. Ненайденный код — не
// ошибка: строка обрабатывается без клиента.
func (s *Service) resolveClient(ctx context.Context, numericCode *int64) (*models.Client, string, error) {
	if numericCode == nil {
		return nil, "", nil
	}
	client, err := s.repo.GetClientByNumericCode(ctx, *numericCode)
	if err != nil {
		return nil, "", err
	}
	if client == nil {
		return nil, "", nil
	}
	var code string
	if client.Code != nil {
		code = *client.Code
	}
	return client, code, nil
}

func (s *Service) countClient(res *Result, client *models.Client) {
	if client == nil || client.TelegramChatID == nil || *client.TelegramChatID == "" {
		return
	}
	res.PerClientCounts[*client.TelegramChatID]++
}

func buildNotices(kind string, counts map[string]int, now time.Time) []models.OutboxNotice {
	var out []models.OutboxNotice
	for chatID, count := range counts {
		out = append(out, models.OutboxNotice{
			Kind:          kind,
			ChatID:        chatID,
			Count:         count,
			NextAttemptAt: now.UTC(),
			CreatedAt:     now.UTC(),
		})
	}
	return out
}
