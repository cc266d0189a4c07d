// Package history строит append-only записи аудита по товарам.
// Пакет чистый: записи вставляются хранилищем в той же транзакции, что и
// само изменение товара.
package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/CargoFlow/internal/lifecycle"
	"github.com/BearBump/CargoFlow/internal/models"
)

const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionIssued  = "issued"
)

// NoChanges — строка-заглушка, когда diff пуст.
const NoChanges = "без изменений"

// Snapshot — значения полей товара на момент до/после изменения.
type Snapshot map[string]any

// Порядок ключей фиксированный, чтобы описание изменений было детерминированным.
var snapshotOrder = []string{
	"product_code", "weight", "price", "client_id", "status_id",
	"date", "date_china", "date_transit", "date_bishkek", "take_time", "branch_id",
}

// SnapshotProduct снимает все отслеживаемые поля товара.
func SnapshotProduct(p *models.Product) Snapshot {
	return Snapshot{
		"product_code": p.Code,
		"weight":       floatValue(p.Weight),
		"price":        intValue(p.Price),
		"client_id":    uintValue(p.ClientID),
		"status_id":    p.StatusID,
		"date":         dateValue(&p.Date),
		"date_china":   dateValue(p.DateChina),
		"date_transit": dateValue(p.DateTransit),
		"date_bishkek": dateValue(p.DateBishkek),
		"take_time":    timeValue(p.TakeTime),
		"branch_id":    uintValue(p.BranchID),
	}
}

// SnapshotStatus снимает только статус и вехи — для массовой смены статуса.
func SnapshotStatus(p *models.Product) Snapshot {
	return Snapshot{
		"status_id":    p.StatusID,
		"date_china":   dateValue(p.DateChina),
		"date_transit": dateValue(p.DateTransit),
		"date_bishkek": dateValue(p.DateBishkek),
		"take_time":    timeValue(p.TakeTime),
	}
}

// SnapshotArrival — фиксированный набор полей, сравниваемый при приёмке
// (импорт "BISHKEK"): код, вес, цена, клиент, статус, дата и веха прибытия.
func SnapshotArrival(p *models.Product) Snapshot {
	return Snapshot{
		"product_code": p.Code,
		"weight":       floatValue(p.Weight),
		"price":        intValue(p.Price),
		"client_id":    uintValue(p.ClientID),
		"status_id":    p.StatusID,
		"date":         dateValue(&p.Date),
		"date_bishkek": dateValue(p.DateBishkek),
	}
}

// FormatChanges собирает построчный diff "ключ: старое -> новое" по ключам
// нового снимка. Дополнительно, если задан код клиента и client_id сменился,
// добавляется строка перехода client_code. Diff — best-effort: отсутствующие
// снимки не считаются ошибкой.
func FormatChanges(oldData, newData Snapshot, clientCode string) string {
	var changes []string
	for _, key := range snapshotOrder {
		newValue, ok := newData[key]
		if !ok {
			continue
		}
		oldValue := oldData[key]
		if oldValue != newValue {
			changes = append(changes, fmt.Sprintf("%s: %v -> %v", key, oldValue, newValue))
		}
	}
	if clientCode != "" && oldData["client_id"] != newData["client_id"] {
		changes = append(changes, fmt.Sprintf("client_code: %v -> %s", oldData["client_id"], clientCode))
	}
	if len(changes) == 0 {
		return NoChanges
	}
	return strings.Join(changes, ", ")
}

// Record строит запись истории для товара. Описание:
// "Товар <код> <действие> пользователем <email>", плюс код клиента (если
// задан), имя статуса (для created/updated) и diff (если переданы снимки).
func Record(p *models.Product, action string, actor models.User, statusName, clientCode string, oldData, newData Snapshot, now time.Time) models.ProductHistory {
	parts := []string{fmt.Sprintf("Товар %s %s пользователем %s", p.Code, action, actor.Email)}

	if clientCode != "" {
		parts = append(parts, fmt.Sprintf("для клиента %s", clientCode))
	}
	if action == ActionCreated || action == ActionUpdated {
		parts = append(parts, fmt.Sprintf("со статусом %s", statusName))
	}
	if oldData != nil && newData != nil {
		parts = append(parts, FormatChanges(oldData, newData, clientCode))
	}

	return models.ProductHistory{
		ProductID:   p.ID,
		Action:      action,
		ActionByID:  actor.ID,
		ActionAt:    now.In(lifecycle.TZ),
		Description: strings.Join(parts, " "),
	}
}

func floatValue(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func intValue(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func uintValue(v *uint64) any {
	if v == nil {
		return nil
	}
	return *v
}

func dateValue(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.In(lifecycle.TZ).Format("2006-01-02")
}

func timeValue(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.In(lifecycle.TZ).Format("2006-01-02 15:04:05")
}
