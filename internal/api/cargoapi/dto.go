package cargoapi

import (
	"time"

	"github.com/BearBump/CargoFlow/internal/lifecycle"
	"github.com/BearBump/CargoFlow/internal/models"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "2006-01-02 15:04:05"
)

type productDTO struct {
	ID           uint64   `json:"id"`
	Code         string   `json:"code"`
	Weight       *float64 `json:"weight,omitempty"`
	Price        *int64   `json:"price,omitempty"`
	Date         string   `json:"date"`
	DateChina    *string  `json:"date_china,omitempty"`
	DateTransit  *string  `json:"date_transit,omitempty"`
	DateBishkek  *string  `json:"date_bishkek,omitempty"`
	TakeTime     *string  `json:"take_time,omitempty"`
	StatusID     uint64   `json:"status_id"`
	ClientID     *uint64  `json:"client_id,omitempty"`
	BranchID     *uint64  `json:"branch_id,omitempty"`
	RegisteredAt string   `json:"registered_at"`
}

func toProductDTO(p *models.Product) productDTO {
	return productDTO{
		ID:           p.ID,
		Code:         p.Code,
		Weight:       p.Weight,
		Price:        p.Price,
		Date:         p.Date.In(lifecycle.TZ).Format(dateLayout),
		DateChina:    fmtDate(p.DateChina),
		DateTransit:  fmtDate(p.DateTransit),
		DateBishkek:  fmtDate(p.DateBishkek),
		TakeTime:     fmtTime(p.TakeTime),
		StatusID:     p.StatusID,
		ClientID:     p.ClientID,
		BranchID:     p.BranchID,
		RegisteredAt: p.RegisteredAt.In(lifecycle.TZ).Format(timeLayout),
	}
}

func toProductDTOs(ps []*models.Product) []productDTO {
	out := make([]productDTO, 0, len(ps))
	for _, p := range ps {
		out = append(out, toProductDTO(p))
	}
	return out
}

type clientDTO struct {
	ID             uint64  `json:"id"`
	Name           *string `json:"name,omitempty"`
	Number         *string `json:"number,omitempty"`
	City           *string `json:"city,omitempty"`
	TelegramChatID *string `json:"telegram_chat_id,omitempty"`
	NumericCode    *int64  `json:"numeric_code,omitempty"`
	Code           *string `json:"code,omitempty"`
	BranchID       *uint64 `json:"branch_id,omitempty"`
}

func toClientDTO(c *models.Client) clientDTO {
	return clientDTO{
		ID:             c.ID,
		Name:           c.Name,
		Number:         c.Number,
		City:           c.City,
		TelegramChatID: c.TelegramChatID,
		NumericCode:    c.NumericCode,
		Code:           c.Code,
		BranchID:       c.BranchID,
	}
}

type historyDTO struct {
	ID          uint64 `json:"id"`
	ProductID   uint64 `json:"product_id"`
	Action      string `json:"action"`
	ActionByID  uint64 `json:"action_by_id"`
	ActionAt    string `json:"action_at"`
	Description string `json:"description"`
}

func fmtDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.In(lifecycle.TZ).Format(dateLayout)
	return &s
}

func fmtTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.In(lifecycle.TZ).Format(timeLayout)
	return &s
}
