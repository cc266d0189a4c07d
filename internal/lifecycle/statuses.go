package lifecycle

import (
	"github.com/BearBump/CargoFlow/internal/models"
	"github.com/pkg/errors"
)

// StatusSet — справочник статусов по имени, загруженный один раз при старте.
type StatusSet map[string]models.Status

func NewStatusSet(statuses []models.Status) StatusSet {
	set := make(StatusSet, len(statuses))
	for _, st := range statuses {
		set[st.Name] = st
	}
	return set
}

func (s StatusSet) ID(name string) (uint64, bool) {
	st, ok := s[name]
	return st.ID, ok
}

// NameByID возвращает имя статуса или "unknown", если id не найден.
func (s StatusSet) NameByID(id uint64) string {
	for name, st := range s {
		if st.ID == id {
			return name
		}
	}
	return "unknown"
}

// Validate проверяет, что все обязательные статусы присутствуют.
// Отсутствующий или переименованный статус — ошибка старта, а не тихий no-op.
func (s StatusSet) Validate() error {
	for _, name := range RequiredStatuses() {
		if _, ok := s[name]; !ok {
			return errors.Errorf("required status %q is not configured", name)
		}
	}
	return nil
}
