package history

import (
	"testing"
	"time"

	"github.com/BearBump/CargoFlow/internal/lifecycle"
	"github.com/BearBump/CargoFlow/internal/models"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 11, 10, 0, 0, 0, lifecycle.TZ)

func ptr[T any](v T) *T { return &v }

func TestFormatChanges_DiffAndOrder(t *testing.T) {
	oldData := Snapshot{"product_code": "A100", "weight": nil, "price": int64(100), "client_id": nil}
	newData := Snapshot{"product_code": "A100", "weight": 2.5, "price": int64(250), "client_id": uint64(7)}

	got := FormatChanges(oldData, newData, "B7")
	require.Equal(t, "weight: <nil> -> 2.5, price: 100 -> 250, client_id: <nil> -> 7, client_code: <nil> -> B7", got)
}

func TestFormatChanges_NoDiff(t *testing.T) {
	data := Snapshot{"product_code": "A100", "price": int64(100)}
	require.Equal(t, NoChanges, FormatChanges(data, data, ""))

	// client_code добавляется только при смене client_id.
	same := Snapshot{"client_id": uint64(7)}
	require.Equal(t, NoChanges, FormatChanges(same, same, "B7"))
}

func TestFormatChanges_MissingOldIsBestEffort(t *testing.T) {
	got := FormatChanges(Snapshot{}, Snapshot{"price": int64(50)}, "")
	require.Equal(t, "price: <nil> -> 50", got)
}

func TestRecord_CreatedDescription(t *testing.T) {
	p := &models.Product{ID: 3, Code: "A100", StatusID: 1}
	actor := models.User{ID: 9, Email: "operator@cargo.kg"}

	h := Record(p, ActionCreated, actor, lifecycle.StatusChina, "B7", nil, nil, now)
	require.Equal(t, uint64(3), h.ProductID)
	require.Equal(t, ActionCreated, h.Action)
	require.Equal(t, uint64(9), h.ActionByID)
	require.Equal(t, "Товар A100 created пользователем operator@cargo.kg для клиента B7 со статусом CHINA", h.Description)
}

func TestRecord_UpdatedWithDiff(t *testing.T) {
	p := &models.Product{ID: 3, Code: "A100", StatusID: 3, Weight: ptr(1.2)}
	actor := models.User{ID: 9, Email: "operator@cargo.kg"}

	oldData := Snapshot{"weight": nil, "status_id": uint64(1)}
	newData := Snapshot{"weight": 1.2, "status_id": uint64(3)}

	h := Record(p, ActionUpdated, actor, lifecycle.StatusBishkek, "", oldData, newData, now)
	require.Contains(t, h.Description, "со статусом BISHKEK")
	require.Contains(t, h.Description, "weight: <nil> -> 1.2")
	require.Contains(t, h.Description, "status_id: 1 -> 3")
}

func TestRecord_IssuedSkipsStatusSuffix(t *testing.T) {
	p := &models.Product{ID: 3, Code: "A100", StatusID: 4}
	actor := models.User{ID: 9, Email: "operator@cargo.kg"}

	h := Record(p, ActionIssued, actor, lifecycle.StatusPicked, "B7", nil, nil, now)
	require.Equal(t, "Товар A100 issued пользователем operator@cargo.kg для клиента B7", h.Description)
}

func TestSnapshotProduct_TracksAllFields(t *testing.T) {
	d := time.Date(2025, 3, 11, 0, 0, 0, 0, lifecycle.TZ)
	p := &models.Product{
		ID: 1, Code: "A100", Weight: ptr(2.0), Price: ptr(int64(300)),
		Date: d, DateChina: &d, StatusID: 1, ClientID: ptr(uint64(7)),
	}
	snap := SnapshotProduct(p)
	require.Equal(t, "A100", snap["product_code"])
	require.Equal(t, 2.0, snap["weight"])
	require.Equal(t, int64(300), snap["price"])
	require.Equal(t, uint64(7), snap["client_id"])
	require.Equal(t, "2025-03-11", snap["date_china"])
	require.Nil(t, snap["take_time"])
}
