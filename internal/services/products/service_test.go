package products

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/BearBump/CargoFlow/internal/lifecycle"
	"github.com/BearBump/CargoFlow/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	products map[uint64]*models.Product
	clients  map[string]*models.Client

	inserted    *models.Product
	insertedRec *models.ProductHistory
	updated     []*models.Product
	updatedRecs []models.ProductHistory
	deleted     []uint64
	history     []*models.ProductHistory

	byIDsCalls int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		products: map[uint64]*models.Product{},
		clients:  map[string]*models.Client{},
	}
}

func (f *fakeRepo) InsertProductWithHistory(_ context.Context, p *models.Product, rec models.ProductHistory) (*models.Product, error) {
	p.ID = uint64(len(f.products) + 1)
	rec.ProductID = p.ID
	f.products[p.ID] = p
	f.inserted = p
	f.insertedRec = &rec
	return p, nil
}

func (f *fakeRepo) UpdateProductWithHistory(_ context.Context, p *models.Product, rec models.ProductHistory) error {
	f.products[p.ID] = p
	f.updated = append(f.updated, p)
	f.updatedRecs = append(f.updatedRecs, rec)
	return nil
}

func (f *fakeRepo) UpdateProductsWithHistory(_ context.Context, ps []*models.Product, recs []models.ProductHistory) error {
	for _, p := range ps {
		f.products[p.ID] = p
	}
	f.updated = append(f.updated, ps...)
	f.updatedRecs = append(f.updatedRecs, recs...)
	return nil
}

func (f *fakeRepo) GetProductByID(_ context.Context, id uint64) (*models.Product, error) {
	return f.products[id], nil
}

func (f *fakeRepo) GetProductsByIDs(_ context.Context, ids []uint64) ([]*models.Product, error) {
	f.byIDsCalls++
	var out []*models.Product
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRepo) DeleteProducts(_ context.Context, ids []uint64) (int64, error) {
	var n int64
	for _, id := range ids {
		if _, ok := f.products[id]; ok {
			delete(f.products, id)
			n++
		}
	}
	f.deleted = append(f.deleted, ids...)
	return n, nil
}

func (f *fakeRepo) ListProductHistory(_ context.Context, productID uint64, _, _ int) ([]*models.ProductHistory, error) {
	var out []*models.ProductHistory
	for _, rec := range f.history {
		if rec.ProductID == productID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetClientByCode(_ context.Context, code string) (*models.Client, error) {
	return f.clients[code], nil
}

type memCache struct {
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, ok := m.data[key]
	return b, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.data[key] = value
	return nil
}

func (m *memCache) Del(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

var frozen = time.Date(2025, 3, 11, 10, 0, 0, 0, lifecycle.TZ)

func testStatuses() lifecycle.StatusSet {
	return lifecycle.NewStatusSet([]models.Status{
		{ID: 1, Name: lifecycle.StatusChina},
		{ID: 2, Name: lifecycle.StatusTransit},
		{ID: 3, Name: lifecycle.StatusBishkek},
		{ID: 4, Name: lifecycle.StatusPicked},
	})
}

func newService(repo *fakeRepo, c *memCache) *Service {
	if c == nil {
		return New(repo, testStatuses(), nil, 0).WithClock(func() time.Time { return frozen })
	}
	return New(repo, testStatuses(), c, time.Minute).WithClock(func() time.Time { return frozen })
}

func strPtr(s string) *string   { return &s }
func f64Ptr(v float64) *float64 { return &v }
func i64Ptr(v int64) *int64     { return &v }
func u64Ptr(v uint64) *uint64   { return &v }

func TestCreate_DefaultsToChina(t *testing.T) {
	repo := newFakeRepo()
	branchID := uint64(1)
	repo.clients["B7"] = &models.Client{ID: 7, Code: strPtr("B7"), BranchID: &branchID}
	svc := newService(repo, nil)
	actor := models.User{ID: 1, Email: "operator@cargo.kg"}

	p, err := svc.Create(context.Background(), CreateInput{
		Code:       "A100",
		Weight:     f64Ptr(2.5),
		ClientCode: "B7",
	}, actor)
	require.NoError(t, err)
	require.Equal(t, uint64(1), p.StatusID)
	require.Equal(t, uint64(7), *p.ClientID)
	require.Equal(t, branchID, *p.BranchID)

	// дата и веха — гражданская полночь UTC+6
	wantDay := time.Date(2025, 3, 11, 0, 0, 0, 0, lifecycle.TZ)
	require.True(t, p.Date.Equal(wantDay))
	require.NotNil(t, p.DateChina)
	require.True(t, p.DateChina.Equal(wantDay))
	require.Nil(t, p.DateTransit)

	require.NotNil(t, repo.insertedRec)
	require.Contains(t, repo.insertedRec.Description, "Товар A100")
	require.Contains(t, repo.insertedRec.Description, "для клиента B7")
}

func TestCreate_RequiresClient(t *testing.T) {
	svc := newService(newFakeRepo(), nil)

	_, err := svc.Create(context.Background(), CreateInput{Code: "A100", ClientCode: "NOPE"}, models.User{ID: 1})
	require.ErrorIs(t, err, ErrClientNotFound)
}

func TestCreate_UnknownStatus(t *testing.T) {
	repo := newFakeRepo()
	repo.clients["B7"] = &models.Client{ID: 7, Code: strPtr("B7")}
	svc := newService(repo, nil)

	_, err := svc.Create(context.Background(), CreateInput{Code: "A100", ClientCode: "B7", StatusName: "LOST"}, models.User{ID: 1})
	require.ErrorIs(t, err, ErrStatusNotFound)
}

func TestUpdate_StatusChangeAppliesMilestone(t *testing.T) {
	repo := newFakeRepo()
	day := time.Date(2025, 3, 9, 0, 0, 0, 0, lifecycle.TZ)
	repo.products[10] = &models.Product{ID: 10, Code: "A100", StatusID: 1, Date: day, DateChina: &day}
	svc := newService(repo, nil)

	p, err := svc.Update(context.Background(), 10, UpdateInput{StatusID: u64Ptr(3), Weight: f64Ptr(3.1)}, models.User{ID: 1, Email: "operator@cargo.kg"})
	require.NoError(t, err)
	require.Equal(t, uint64(3), p.StatusID)
	require.Equal(t, 3.1, *p.Weight)
	require.NotNil(t, p.DateBishkek)
	// старая веха не перезаписывается
	require.True(t, p.DateChina.Equal(day))

	require.Len(t, repo.updatedRecs, 1)
	rec := repo.updatedRecs[0]
	require.Contains(t, rec.Description, "со статусом BISHKEK")
	require.Contains(t, rec.Description, "status_id: 1 -> 3")
	require.Contains(t, rec.Description, "weight: <nil> -> 3.1")
}

func TestUpdate_NotFound(t *testing.T) {
	svc := newService(newFakeRepo(), nil)

	_, err := svc.Update(context.Background(), 99, UpdateInput{}, models.User{ID: 1})
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestBulkStatus(t *testing.T) {
	repo := newFakeRepo()
	repo.products[1] = &models.Product{ID: 1, Code: "A1", StatusID: 2}
	repo.products[2] = &models.Product{ID: 2, Code: "A2", StatusID: 2}
	svc := newService(repo, nil)

	ps, err := svc.BulkStatus(context.Background(), []uint64{1, 2, 99}, 3, models.User{ID: 1})
	require.NoError(t, err)
	require.Len(t, ps, 2)
	for _, p := range ps {
		require.Equal(t, uint64(3), p.StatusID)
		require.NotNil(t, p.DateBishkek)
	}
	require.Len(t, repo.updatedRecs, 2)

	_, err = svc.BulkStatus(context.Background(), []uint64{99}, 3, models.User{ID: 1})
	require.ErrorIs(t, err, ErrProductNotFound)

	_, err = svc.BulkStatus(context.Background(), []uint64{1}, 42, models.User{ID: 1})
	require.ErrorIs(t, err, ErrStatusNotFound)
}

func TestGetByIDs_CacheRoundTrip(t *testing.T) {
	repo := newFakeRepo()
	repo.products[10] = &models.Product{ID: 10, Code: "A100", StatusID: 1}
	c := newMemCache()
	svc := newService(repo, c)

	ps, err := svc.GetByIDs(context.Background(), []uint64{10})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	require.Equal(t, 1, repo.byIDsCalls)
	require.Contains(t, c.data, "product:10:current")

	// второй запрос обслуживается кэшем
	ps, err = svc.GetByIDs(context.Background(), []uint64{10})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	require.Equal(t, 1, repo.byIDsCalls)
}

func TestGetByIDs_BadCacheEntryFallsThrough(t *testing.T) {
	repo := newFakeRepo()
	repo.products[10] = &models.Product{ID: 10, Code: "A100", StatusID: 1}
	c := newMemCache()
	c.data["product:10:current"] = []byte("not json")
	svc := newService(repo, c)

	ps, err := svc.GetByIDs(context.Background(), []uint64{10})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	require.Equal(t, 1, repo.byIDsCalls)

	var cached models.Product
	require.NoError(t, json.Unmarshal(c.data["product:10:current"], &cached))
	require.Equal(t, "A100", cached.Code)
}

func TestUpdate_DropsCache(t *testing.T) {
	repo := newFakeRepo()
	repo.products[10] = &models.Product{ID: 10, Code: "A100", StatusID: 1}
	c := newMemCache()
	c.data["product:10:current"] = []byte(`{"id":10}`)
	svc := newService(repo, c)

	_, err := svc.Update(context.Background(), 10, UpdateInput{Price: i64Ptr(250)}, models.User{ID: 1})
	require.NoError(t, err)
	require.NotContains(t, c.data, "product:10:current")
}

func TestDelete(t *testing.T) {
	repo := newFakeRepo()
	repo.products[10] = &models.Product{ID: 10}
	c := newMemCache()
	c.data["product:10:current"] = []byte(`{"id":10}`)
	svc := newService(repo, c)

	n, err := svc.Delete(context.Background(), []uint64{10, 11})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.NotContains(t, c.data, "product:10:current")

	_, err = svc.Delete(context.Background(), nil)
	require.Error(t, err)
}

func TestGet_NotFound(t *testing.T) {
	svc := newService(newFakeRepo(), nil)

	_, err := svc.Get(context.Background(), 10)
	require.ErrorIs(t, err, ErrProductNotFound)
}
