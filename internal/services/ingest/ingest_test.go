package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/CargoFlow/internal/history"
	"github.com/BearBump/CargoFlow/internal/lifecycle"
	"github.com/BearBump/CargoFlow/internal/models"
	"github.com/BearBump/CargoFlow/internal/storage/pgcargo"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

var testStatuses = lifecycle.NewStatusSet([]models.Status{
	{ID: 1, Name: lifecycle.StatusChina},
	{ID: 2, Name: lifecycle.StatusTransit},
	{ID: 3, Name: lifecycle.StatusBishkek},
	{ID: 4, Name: lifecycle.StatusPicked},
})

var frozen = time.Date(2025, 3, 11, 10, 0, 0, 0, lifecycle.TZ)

type fakeRepo struct {
	clients  map[int64]*models.Client
	existing []*models.Product

	applied  *pgcargo.ImportPlan
	applyErr error
}

func (f *fakeRepo) GetClientByNumericCode(ctx context.Context, numericCode int64) (*models.Client, error) {
	return f.clients[numericCode], nil
}

func (f *fakeRepo) FindProductByCode(ctx context.Context, code string) (*models.Product, error) {
	for _, p := range f.existing {
		if p.Code == code {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) FindProductByCodeAndClient(ctx context.Context, code string, clientID *uint64) (*models.Product, error) {
	for _, p := range f.existing {
		if p.Code != code {
			continue
		}
		if clientID == nil && p.ClientID == nil {
			return p, nil
		}
		if clientID != nil && p.ClientID != nil && *clientID == *p.ClientID {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ApplyImport(ctx context.Context, plan pgcargo.ImportPlan) error {
	f.applied = &plan
	return f.applyErr
}

func client7() *models.Client {
	return &models.Client{
		ID:             70,
		NumericCode:    ptr(int64(7)),
		Code:           ptr("B7"),
		TelegramChatID: ptr("chat-7"),
		BranchID:       ptr(uint64(1)),
	}
}

func TestIngestSourced_CreatesWithAndWithoutClient(t *testing.T) {
	repo := &fakeRepo{clients: map[int64]*models.Client{7: client7()}}
	s := New(repo, testStatuses).WithClock(func() time.Time { return frozen })

	res, err := s.IngestSourced(context.Background(), []Row{
		{Code: "A100", ClientCode: ptr(int64(7))},
		{Code: "A101"},
	}, models.User{ID: 1, Email: "op@cargo.kg"})
	require.NoError(t, err)

	require.Equal(t, 2, res.Created)
	require.Equal(t, 0, res.Skipped)
	require.Equal(t, map[string]int{"chat-7": 1}, res.PerClientCounts)

	require.Len(t, repo.applied.Creates, 2)
	first := repo.applied.Creates[0].Product
	require.Equal(t, "A100", first.Code)
	require.Equal(t, uint64(1), first.StatusID)
	require.Equal(t, uint64(70), *first.ClientID)
	require.Equal(t, uint64(1), *first.BranchID)
	require.NotNil(t, first.DateChina) // веха регистрации
	require.Nil(t, first.DateBishkek)

	second := repo.applied.Creates[1].Product
	require.Nil(t, second.ClientID)

	require.Len(t, repo.applied.Notices, 1)
	require.Equal(t, models.NoticeKindChina, repo.applied.Notices[0].Kind)
	require.Equal(t, "chat-7", repo.applied.Notices[0].ChatID)
}

func TestIngestSourced_DuplicateByCodeAndClient(t *testing.T) {
	c := client7()
	repo := &fakeRepo{
		clients:  map[int64]*models.Client{7: c},
		existing: []*models.Product{{ID: 5, Code: "A100", ClientID: &c.ID}},
	}
	s := New(repo, testStatuses).WithClock(func() time.Time { return frozen })

	res, err := s.IngestSourced(context.Background(), []Row{
		{Code: "A100", ClientCode: ptr(int64(7))}, // дубликат: тот же код и клиент
		{Code: "A100"},                            // не дубликат: без клиента
	}, models.User{ID: 1, Email: "op@cargo.kg"})
	require.NoError(t, err)

	require.Equal(t, 1, res.Skipped)
	require.Equal(t, 1, res.Created)
	require.Len(t, repo.applied.Creates, 1)
	require.Nil(t, repo.applied.Creates[0].Product.ClientID)
}

func TestIngestSourced_DuplicateWithinBatch(t *testing.T) {
	repo := &fakeRepo{clients: map[int64]*models.Client{7: client7()}}
	s := New(repo, testStatuses).WithClock(func() time.Time { return frozen })

	// Один и тот же код+клиент дважды в одной накладной — второй раз дубликат.
	res, err := s.IngestSourced(context.Background(), []Row{
		{Code: "A100", ClientCode: ptr(int64(7))},
		{Code: "A100", ClientCode: ptr(int64(7))},
		{Code: "A100"}, // другой ключ: без клиента
	}, models.User{ID: 1, Email: "op@cargo.kg"})
	require.NoError(t, err)

	require.Equal(t, 2, res.Created)
	require.Equal(t, 1, res.Skipped)
	require.Len(t, repo.applied.Creates, 2)
	require.Equal(t, map[string]int{"chat-7": 1}, res.PerClientCounts)
}

func TestIngestSourced_UnresolvedClientDegradesToClientless(t *testing.T) {
	repo := &fakeRepo{clients: map[int64]*models.Client{}}
	s := New(repo, testStatuses).WithClock(func() time.Time { return frozen })

	res, err := s.IngestSourced(context.Background(), []Row{
		{Code: "A100", ClientCode: ptr(int64(99))},
	}, models.User{ID: 1, Email: "op@cargo.kg"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)
	require.Empty(t, res.PerClientCounts)
	require.Nil(t, repo.applied.Creates[0].Product.ClientID)
}

func TestIngestSourced_SkipsRowsWithoutCode(t *testing.T) {
	repo := &fakeRepo{}
	s := New(repo, testStatuses).WithClock(func() time.Time { return frozen })

	res, err := s.IngestSourced(context.Background(), []Row{{Code: ""}}, models.User{ID: 1})
	require.NoError(t, err)
	require.Equal(t, 0, res.Created)
	require.Equal(t, 0, res.Skipped)
}

func TestIngestArrived_UpdatesExistingByCodeOnly(t *testing.T) {
	c := client7()
	existing := &models.Product{
		ID: 5, Code: "A100", StatusID: 1,
		Date:      time.Date(2025, 3, 1, 0, 0, 0, 0, lifecycle.TZ),
		DateChina: ptr(time.Date(2025, 3, 1, 0, 0, 0, 0, lifecycle.TZ)),
	}
	repo := &fakeRepo{
		clients:  map[int64]*models.Client{7: c},
		existing: []*models.Product{existing},
	}
	s := New(repo, testStatuses).WithClock(func() time.Time { return frozen })

	res, err := s.IngestArrived(context.Background(), []Row{
		{Code: "A100", ClientCode: ptr(int64(7)), Weight: ptr(2.5), Price: ptr(int64(300))},
	}, models.User{ID: 1, Email: "op@cargo.kg"})
	require.NoError(t, err)

	require.Equal(t, 1, res.Updated)
	require.Equal(t, 0, res.Created)
	require.Len(t, repo.applied.Updates, 1)

	upd := repo.applied.Updates[0]
	require.Equal(t, uint64(3), upd.Product.StatusID)
	require.Equal(t, 2.5, *upd.Product.Weight)
	require.Equal(t, int64(300), *upd.Product.Price)
	require.Equal(t, uint64(70), *upd.Product.ClientID)
	require.Equal(t, lifecycle.Today(frozen), upd.Product.Date)
	require.NotNil(t, upd.Product.DateBishkek)
	// Ранее установленная веха Китая не тронута.
	require.Equal(t, 1, upd.Product.DateChina.Day())

	require.Equal(t, history.ActionUpdated, upd.Record.Action)
	require.Contains(t, upd.Record.Description, "weight: <nil> -> 2.5")
	require.Contains(t, upd.Record.Description, "status_id: 1 -> 3")
}

func TestIngestArrived_CreatesWhenMissing(t *testing.T) {
	repo := &fakeRepo{}
	s := New(repo, testStatuses).WithClock(func() time.Time { return frozen })

	res, err := s.IngestArrived(context.Background(), []Row{
		{Code: "B200", Weight: ptr(1.0)},
	}, models.User{ID: 1, Email: "op@cargo.kg"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)
	require.Len(t, repo.applied.Creates, 1)
	require.Equal(t, uint64(3), repo.applied.Creates[0].Product.StatusID)
}

func TestIngestArrived_DuplicateWithinBatch(t *testing.T) {
	repo := &fakeRepo{clients: map[int64]*models.Client{7: client7()}}
	s := New(repo, testStatuses).WithClock(func() time.Time { return frozen })

	// Повторный код в одной накладной дополняет запланированный товар,
	// второй товар не создаётся.
	res, err := s.IngestArrived(context.Background(), []Row{
		{Code: "B200", Weight: ptr(1.0)},
		{Code: "B200", Weight: ptr(2.5), Price: ptr(int64(300)), ClientCode: ptr(int64(7))},
	}, models.User{ID: 1, Email: "op@cargo.kg"})
	require.NoError(t, err)

	require.Equal(t, 1, res.Created)
	require.Equal(t, 1, res.Updated)
	require.Len(t, repo.applied.Creates, 1)
	require.Empty(t, repo.applied.Updates)

	merged := repo.applied.Creates[0].Product
	require.Equal(t, 2.5, *merged.Weight)
	require.Equal(t, int64(300), *merged.Price)
	require.Equal(t, uint64(70), *merged.ClientID)
}

func TestIngestArrived_DuplicateOfExistingWithinBatch(t *testing.T) {
	existing := &models.Product{
		ID: 5, Code: "A100", StatusID: 1,
		Date: time.Date(2025, 3, 1, 0, 0, 0, 0, lifecycle.TZ),
	}
	repo := &fakeRepo{existing: []*models.Product{existing}}
	s := New(repo, testStatuses).WithClock(func() time.Time { return frozen })

	res, err := s.IngestArrived(context.Background(), []Row{
		{Code: "A100", Weight: ptr(1.0)},
		{Code: "A100", Weight: ptr(2.0)},
	}, models.User{ID: 1, Email: "op@cargo.kg"})
	require.NoError(t, err)

	require.Equal(t, 0, res.Created)
	require.Equal(t, 2, res.Updated)
	require.Len(t, repo.applied.Updates, 1)
	require.Equal(t, 2.0, *repo.applied.Updates[0].Product.Weight)
}

func TestIngestArrived_SkipsRowsWithoutWeight(t *testing.T) {
	repo := &fakeRepo{}
	s := New(repo, testStatuses).WithClock(func() time.Time { return frozen })

	res, err := s.IngestArrived(context.Background(), []Row{
		{Code: "B200"}, // без веса
		{Weight: ptr(1.0)}, // без кода
	}, models.User{ID: 1})
	require.NoError(t, err)
	require.Equal(t, 0, res.Created)
	require.Equal(t, 0, res.Updated)
}

func TestIngest_MissingRequiredStatusIsFatal(t *testing.T) {
	s := New(&fakeRepo{}, lifecycle.NewStatusSet(nil))
	_, err := s.IngestSourced(context.Background(), []Row{{Code: "A"}}, models.User{ID: 1})
	require.ErrorIs(t, err, ErrStatusNotConfigured)

	_, err = s.IngestArrived(context.Background(), []Row{{Code: "A", Weight: ptr(1.0)}}, models.User{ID: 1})
	require.ErrorIs(t, err, ErrStatusNotConfigured)
}
