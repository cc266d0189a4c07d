package lifecycle

import (
	"time"

	"github.com/BearBump/CargoFlow/internal/models"
)

// Канонические имена статусов. Бизнес-логика сверяет статусы по имени,
// поэтому набор закрыт и проверяется при старте (см. StatusSet.Validate).
const (
	StatusChina   = "CHINA"
	StatusTransit = "IN_TRANSIT"
	StatusBishkek = "BISHKEK"
	StatusPicked  = "PICKED"
)

// TZ — гражданский календарь Бишкека (UTC+6). Все "локальные" даты в этом
// ядре считаются в этой зоне.
var TZ = time.FixedZone("Asia/Bishkek", 6*60*60)

// Milestone — поле-веха товара, которым владеет статус.
type Milestone int

const (
	MilestoneNone Milestone = iota
	MilestoneChina
	MilestoneTransit
	MilestoneBishkek
	MilestoneTaken
)

// Статус -> веха. Таблица статическая: сейчас каждый статус владеет ровно
// одной вехой, но код ниже не полагается на это.
var statusMilestones = map[string]Milestone{
	StatusChina:   MilestoneChina,
	StatusTransit: MilestoneTransit,
	StatusBishkek: MilestoneBishkek,
	StatusPicked:  MilestoneTaken,
}

// RequiredStatuses — имена, которые обязаны существовать в справочнике
// статусов, иначе движок не может работать.
func RequiredStatuses() []string {
	return []string{StatusChina, StatusTransit, StatusBishkek, StatusPicked}
}

// Today возвращает полночь гражданской даты now в зоне Бишкека.
func Today(now time.Time) time.Time {
	y, m, d := now.In(TZ).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, TZ)
}

// ApplyStatusDates устанавливает вехи товара в зависимости от имени статуса.
// Чистая мутация без I/O:
//   - веха, которой владеет статус, заполняется только если ещё пуста
//     (повторное применение того же статуса ничего не меняет);
//   - уже установленные вехи никогда не очищаются и не перезаписываются;
//   - неизвестное имя статуса — безопасный no-op.
func ApplyStatusDates(p *models.Product, statusName string, now time.Time) {
	ms, ok := statusMilestones[statusName]
	if !ok {
		return
	}

	switch ms {
	case MilestoneChina:
		if p.DateChina == nil {
			d := Today(now)
			p.DateChina = &d
		}
	case MilestoneTransit:
		if p.DateTransit == nil {
			d := Today(now)
			p.DateTransit = &d
		}
	case MilestoneBishkek:
		if p.DateBishkek == nil {
			d := Today(now)
			p.DateBishkek = &d
		}
	case MilestoneTaken:
		if p.TakeTime == nil {
			t := now.In(TZ)
			p.TakeTime = &t
		}
	}
}
