package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale знаков после запятой в денежных колонках decimal(12,2)
const MoneyScale = 2

var moneyLimit = decimal.New(1, 12-MoneyScale)

// ValidMoney сумма помещается в колонку без округления
func ValidMoney(d decimal.Decimal) bool {
	return !d.IsNegative() && d.Equal(d.Round(MoneyScale)) && d.LessThan(moneyLimit)
}

// OrderType тип обслуживания заказа
type OrderType string

const (
	OrderTypeDineIn   OrderType = "DINE_IN"
	OrderTypeTakeaway OrderType = "TAKEAWAY"
	OrderTypeCounter  OrderType = "COUNTER"
)

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeDineIn, OrderTypeTakeaway, OrderTypeCounter:
		return true
	}
	return false
}

// InventoryEntry ограниченный остаток товара. Отсутствие записи означает неограниченную доступность.
type InventoryEntry struct {
	ProductID         int64     `json:"product_id,string" gorm:"primaryKey;autoIncrement:false"`
	RemainingQuantity int64     `json:"remaining_quantity" gorm:"not null;check:remaining_quantity >= 0"`
	LastUpdatedBy     int64     `json:"last_updated_by,string"`
	LastUpdatedAt     time.Time `json:"last_updated_at"`
	Note              string    `json:"note" gorm:"size:255"`
}

func (InventoryEntry) TableName() string { return "pos_inventory" }

// ProductAvailability глобальный флаг доступности товара для новых заказов
type ProductAvailability struct {
	ProductID int64     `json:"product_id,string" gorm:"primaryKey;autoIncrement:false"`
	Available bool      `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ProductAvailability) TableName() string { return "pos_product_availability" }

// TableStatus состояние стола в зале
type TableStatus string

const (
	TableStatusFree     TableStatus = "FREE"
	TableStatusOccupied TableStatus = "OCCUPIED"
)

// DiningTable стол, к которому привязываются заказы DINE_IN
type DiningTable struct {
	ID        int64       `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	TenantID  int64       `json:"tenant_id,string" gorm:"index"`
	Name      string      `json:"name" gorm:"size:64"`
	Status    TableStatus `json:"status" gorm:"size:16"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (DiningTable) TableName() string { return "pos_table" }

// Order заказ со строками. Total и PaymentState производные.
type Order struct {
	ID            int64           `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	TenantID      int64           `json:"tenant_id,string" gorm:"index"`
	Type          OrderType       `json:"type" gorm:"size:16"`
	TableID       *int64          `json:"table_id,string,omitempty" gorm:"index"`
	CustomerName  string          `json:"customer_name,omitempty" gorm:"size:128"`
	CustomerID    *int64          `json:"customer_id,string,omitempty"`
	WaiterID      int64           `json:"waiter_id,string"`
	OriginOrderID *int64          `json:"origin_order_id,string,omitempty" gorm:"index"`
	State         OrderState      `json:"state" gorm:"size:24;index"`
	PaymentState  PaymentState    `json:"payment_state" gorm:"size:24"`
	Total         decimal.Decimal `json:"total" gorm:"type:decimal(12,2);not null;default:0"`
	OpenedAt      time.Time       `json:"opened_at"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Lines         []OrderLine     `json:"lines" gorm:"foreignKey:OrderID"`
}

func (Order) TableName() string { return "pos_order" }

// OrderLine позиция заказа; принадлежит ровно одному заказу
type OrderLine struct {
	ID        int64           `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	OrderID   int64           `json:"order_id,string" gorm:"index"`
	ProductID int64           `json:"product_id,string" gorm:"index"`
	Name      string          `json:"name" gorm:"size:128"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price" gorm:"type:decimal(12,2);not null"`
	State     LineState       `json:"state" gorm:"size:16"`
	Station   string          `json:"station" gorm:"size:32"`
	// PaidQuantity оплаченные единицы строки
	PaidQuantity int64  `json:"paid_quantity"`
	IsPaid       bool   `json:"is_paid"`
	PaidByName   string `json:"paid_by_name,omitempty" gorm:"size:128"`
	// ShortfallQuantity единицы, которых нет на складе (заказ в AWAITING_STOCK)
	ShortfallQuantity int64     `json:"shortfall_quantity,omitempty"`
	SplitFromLineID   *int64    `json:"split_from_line_id,string,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (OrderLine) TableName() string { return "pos_order_line" }

// Outstanding количество единиц, ещё не оплаченных
func (l OrderLine) Outstanding() int64 {
	return l.Quantity - l.PaidQuantity
}

func (l OrderLine) Live() bool { return l.State != LineStateCancelled }

func (l OrderLine) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
}

// PaymentRecord неизменяемая запись оплаты
type PaymentRecord struct {
	ID         int64           `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	OrderID    int64           `json:"order_id,string" gorm:"index"`
	Amount     decimal.Decimal `json:"amount" gorm:"type:decimal(12,2);not null"`
	Method     string          `json:"method" gorm:"size:32"`
	PayerName  string          `json:"payer_name,omitempty" gorm:"size:128"`
	OperatorID int64           `json:"operator_id,string"`
	CreatedAt  time.Time       `json:"created_at"`
	Items      []PaymentItem   `json:"items" gorm:"foreignKey:PaymentID"`
}

func (PaymentRecord) TableName() string { return "pos_payment" }

// PaymentItem покрытая платежом строка и количество
type PaymentItem struct {
	ID        int64           `json:"-" gorm:"primaryKey;autoIncrement:false"`
	PaymentID int64           `json:"-" gorm:"index"`
	LineID    int64           `json:"line_id,string" gorm:"index"`
	Quantity  int64           `json:"quantity"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:decimal(12,2);not null"`
}

func (PaymentItem) TableName() string { return "pos_payment_item" }

// CoveredLineIDs множество строк, покрытых платежом
func (p PaymentRecord) CoveredLineIDs() []int64 {
	ids := make([]int64, 0, len(p.Items))
	seen := make(map[int64]struct{}, len(p.Items))
	for _, it := range p.Items {
		if _, ok := seen[it.LineID]; ok {
			continue
		}
		seen[it.LineID] = struct{}{}
		ids = append(ids, it.LineID)
	}
	return ids
}

// DebtState состояние долга
type DebtState string

const (
	DebtStateOpen          DebtState = "OPEN"
	DebtStatePartiallyPaid DebtState = "PARTIALLY_PAID"
	DebtStateSettled       DebtState = "SETTLED"
)

// DebtRecord отложенная оплата заказа клиентом
type DebtRecord struct {
	ID         int64           `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	TenantID   int64           `json:"tenant_id,string" gorm:"index"`
	CustomerID int64           `json:"customer_id,string" gorm:"index"`
	OrderID    int64           `json:"order_id,string" gorm:"index"`
	Amount     decimal.Decimal `json:"amount" gorm:"type:decimal(12,2);not null"`
	AmountPaid decimal.Decimal `json:"amount_paid" gorm:"type:decimal(12,2);not null;default:0"`
	State      DebtState       `json:"state" gorm:"size:16"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Payments   []DebtPayment   `json:"payments,omitempty" gorm:"foreignKey:DebtID"`
}

func (DebtRecord) TableName() string { return "pos_debt" }

func (d DebtRecord) Outstanding() decimal.Decimal {
	return d.Amount.Sub(d.AmountPaid)
}

// DebtPayment погашение долга
type DebtPayment struct {
	ID         int64           `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	DebtID     int64           `json:"debt_id,string" gorm:"index"`
	Amount     decimal.Decimal `json:"amount" gorm:"type:decimal(12,2);not null"`
	Method     string          `json:"method" gorm:"size:32"`
	OperatorID int64           `json:"operator_id,string"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (DebtPayment) TableName() string { return "pos_debt_payment" }

// SplitRecord аудит разделения заказа; не изменяется после создания
type SplitRecord struct {
	ID                         int64     `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	OriginOrderID              int64     `json:"origin_order_id,string" gorm:"index"`
	ResultingOrderID           int64     `json:"resulting_order_id,string" gorm:"index"`
	ProductID                  int64     `json:"product_id,string"`
	Name                       string    `json:"name" gorm:"size:128"`
	ShortfallQuantity          int64     `json:"shortfall_quantity"`
	TotalQuantityAtTimeOfSplit int64     `json:"total_quantity_at_time_of_split"`
	WasWholeOrderBlocked       bool      `json:"was_whole_order_blocked"`
	CreatedAt                  time.Time `json:"created_at"`
}

func (SplitRecord) TableName() string { return "pos_split" }

// Balance остаток к оплате по заказу
type Balance struct {
	Total     decimal.Decimal `json:"total"`
	Paid      decimal.Decimal `json:"paid"`
	Deferred  decimal.Decimal `json:"deferred"`
	Remainder decimal.Decimal `json:"remainder"`
	Overpaid  bool            `json:"overpaid"`
}
