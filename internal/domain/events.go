package domain

import (
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// EventType вид доменного события
type EventType string

const (
	EventStockDepleted    EventType = "StockDepleted"
	EventStockRestored    EventType = "StockRestored"
	EventOrderSplit       EventType = "OrderSplit"
	EventOrderCancelled   EventType = "OrderCancelled"
	EventOrderSubstituted EventType = "OrderSubstituted"
	EventPaymentRecorded  EventType = "PaymentRecorded"
	EventPaymentCompleted EventType = "PaymentCompleted"
	EventDebtRecorded     EventType = "DebtRecorded"
)

// Станции-получатели событий
const (
	TargetKitchen = "kitchen"
	TargetBar     = "bar"
	TargetWaiter  = "waiter"
	TargetCashier = "cashier"
)

// AllTenants событие общего склада: номера товаров общие для всех арендаторов,
// поэтому его получают станции каждого арендатора
const AllTenants int64 = 0

// Event закрытый набор событий ядра
type Event interface {
	Type() EventType
	Targets() []string
	isEvent()
}

type StockDepleted struct {
	ProductID int64  `json:"product_id,string"`
	Note      string `json:"note,omitempty"`
}

type StockRestored struct {
	ProductID int64 `json:"product_id,string"`
	Remaining int64 `json:"remaining"`
}

// ShortfallItem товар и количество, ушедшие в ожидание
type ShortfallItem struct {
	ProductID int64  `json:"product_id,string"`
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
}

type OrderSplit struct {
	OriginOrderID     int64           `json:"origin_order_id,string"`
	ResultingOrderID  int64           `json:"resulting_order_id,string,omitempty"`
	TableID           *int64          `json:"table_id,string,omitempty"`
	WholeOrderBlocked bool            `json:"whole_order_blocked"`
	Items             []ShortfallItem `json:"items"`
}

type OrderCancelled struct {
	OrderID int64  `json:"order_id,string"`
	TableID *int64 `json:"table_id,string,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type OrderSubstituted struct {
	OrderID int64           `json:"order_id,string"`
	TableID *int64          `json:"table_id,string,omitempty"`
	Total   decimal.Decimal `json:"total"`
}

type PaymentRecorded struct {
	OrderID   int64           `json:"order_id,string"`
	PaymentID int64           `json:"payment_id,string"`
	Amount    decimal.Decimal `json:"amount"`
	Remainder decimal.Decimal `json:"remainder"`
}

type PaymentCompleted struct {
	OrderID      int64           `json:"order_id,string"`
	TableID      *int64          `json:"table_id,string,omitempty"`
	Total        decimal.Decimal `json:"total"`
	PaymentState PaymentState    `json:"payment_state"`
	ClosedAt     time.Time       `json:"closed_at"`
}

type DebtRecorded struct {
	DebtID     int64           `json:"debt_id,string"`
	OrderID    int64           `json:"order_id,string"`
	CustomerID int64           `json:"customer_id,string"`
	Amount     decimal.Decimal `json:"amount"`
}

func (StockDepleted) Type() EventType    { return EventStockDepleted }
func (StockRestored) Type() EventType    { return EventStockRestored }
func (OrderSplit) Type() EventType       { return EventOrderSplit }
func (OrderCancelled) Type() EventType   { return EventOrderCancelled }
func (OrderSubstituted) Type() EventType { return EventOrderSubstituted }
func (PaymentRecorded) Type() EventType  { return EventPaymentRecorded }
func (PaymentCompleted) Type() EventType { return EventPaymentCompleted }
func (DebtRecorded) Type() EventType     { return EventDebtRecorded }

var (
	prepAndFloor = []string{TargetKitchen, TargetBar, TargetWaiter}
	floorAndTill = []string{TargetWaiter, TargetCashier}
)

func (StockDepleted) Targets() []string    { return prepAndFloor }
func (StockRestored) Targets() []string    { return prepAndFloor }
func (OrderSplit) Targets() []string       { return prepAndFloor }
func (OrderCancelled) Targets() []string   { return prepAndFloor }
func (OrderSubstituted) Targets() []string { return prepAndFloor }
func (PaymentRecorded) Targets() []string  { return floorAndTill }
func (PaymentCompleted) Targets() []string { return floorAndTill }
func (DebtRecorded) Targets() []string     { return []string{TargetCashier} }

func (StockDepleted) isEvent()    {}
func (StockRestored) isEvent()    {}
func (OrderSplit) isEvent()       {}
func (OrderCancelled) isEvent()   {}
func (OrderSubstituted) isEvent() {}
func (PaymentRecorded) isEvent()  {}
func (PaymentCompleted) isEvent() {}
func (DebtRecorded) isEvent()     {}

// OutboxStatus статус доставки события
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// MaxErrorLen предел last_error в байтах
const MaxErrorLen = 512

// TruncateError обрезает текст ошибки по границе символа UTF-8
func TruncateError(s string) string {
	if len(s) <= MaxErrorLen {
		return s
	}
	n := MaxErrorLen
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// OutboxEvent событие, сохранённое в той же транзакции, что и изменение
type OutboxEvent struct {
	ID        int64        `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	TenantID  int64        `json:"tenant_id,string" gorm:"index"`
	Type      EventType    `json:"type" gorm:"size:32"`
	Targets   string       `json:"targets" gorm:"size:128"`
	Payload   string       `json:"payload" gorm:"type:text"`
	Status    OutboxStatus `json:"status" gorm:"size:16;index"`
	Attempts  int          `json:"attempts"`
	LastError string       `json:"last_error,omitempty" gorm:"size:512"`
	CreatedAt time.Time    `json:"created_at"`
	SentAt    *time.Time   `json:"sent_at,omitempty"`
}

func (OutboxEvent) TableName() string { return "pos_outbox" }
