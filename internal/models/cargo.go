package models

import "time"

// Product — отслеживаемая посылка. Четыре полях-вехи (DateChina, DateTransit,
// DateBishkek, TakeTime) заполняются по одному разу за жизненный цикл и после
// установки не перезаписываются.
type Product struct {
	ID           uint64
	Code         string
	Weight       *float64
	Price        *int64
	Date         time.Time
	DateChina    *time.Time
	DateTransit  *time.Time
	DateBishkek  *time.Time
	TakeTime     *time.Time
	StatusID     uint64
	ClientID     *uint64
	BranchID     *uint64
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

type Status struct {
	ID   uint64
	Name string
}

type Branch struct {
	ID   uint64
	Name string
	Code string
}

// Client идентифицируется сгенерированным NumericCode и производным
// Code = код филиала + NumericCode.
type Client struct {
	ID             uint64
	Name           *string
	Number         *string
	City           *string
	TelegramChatID *string
	NumericCode    *int64
	Code           *string
	BranchID       *uint64
	RegisteredAt   time.Time
}

type User struct {
	ID    uint64
	Email string
}

// ProductHistory — append-only запись аудита. Строка переживает удаление
// товара, поэтому ProductID не является внешним ключом с каскадом.
type ProductHistory struct {
	ID          uint64
	ProductID   uint64
	Action      string
	ActionByID  uint64
	ActionAt    time.Time
	Description string
}

type PaymentMethod struct {
	ID       uint64
	Name     string
	IsActive bool
}

// Payment группирует товары, выданные за один раз. Amount — сумма цен
// товаров на момент выдачи.
type Payment struct {
	ID              uint64
	ClientID        uint64
	BranchID        *uint64
	PaymentMethodID uint64
	Amount          int64
	TakenByID       uint64
	PaidAt          time.Time
}

// Setting — строка конфигурации ключ/значение (например, transit_hours).
type Setting struct {
	ID    uint64
	Key   string
	Value string
}

// OutboxNotice — намерение отправить уведомление, записанное в той же
// транзакции, что и бизнес-изменение. Доставляется отдельным воркером.
type OutboxNotice struct {
	ID            uint64
	Kind          string
	ChatID        string
	Count         int
	Message       *string
	Attempts      int32
	NextAttemptAt time.Time
	SentAt        *time.Time
	CreatedAt     time.Time
}

const (
	NoticeKindChina   = "china"
	NoticeKindTransit = "transit"
	NoticeKindBishkek = "bishkek"
)
