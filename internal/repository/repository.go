package repository

import (
	"context"
	"errors"
	"time"

	"tablepos/internal/domain"
)

// ErrNotFound возвращается, когда сущность не найдена
var ErrNotFound = errors.New("not found")

// InventoryRepository остатки и флаг доступности товаров
type InventoryRepository interface {
	// GetForUpdate блокирует строку остатка до конца транзакции
	GetForUpdate(ctx context.Context, productID int64) (*domain.InventoryEntry, error)
	Get(ctx context.Context, productID int64) (*domain.InventoryEntry, error)
	Save(ctx context.Context, e *domain.InventoryEntry) error
	Delete(ctx context.Context, productID int64) error
	// IsAvailable true, если флаг не сброшен
	IsAvailable(ctx context.Context, productID int64) (bool, error)
	SetAvailable(ctx context.Context, productID int64, available bool) error
}

// OrderRepository интерфейс репозитория заказов
type OrderRepository interface {
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	// GetForUpdate блокирует заказ; строки загружаются после блокировки
	GetForUpdate(ctx context.Context, id int64) (*domain.Order, error)
	// Update сохраняет только поля заказа, без строк
	Update(ctx context.Context, o *domain.Order) error
	CreateLine(ctx context.Context, l *domain.OrderLine) error
	UpdateLine(ctx context.Context, l *domain.OrderLine) error
	// ListOpenByTable незакрытые заказы стола
	ListOpenByTable(ctx context.Context, tableID int64) ([]domain.Order, error)
}

// TableRepository столы зала
type TableRepository interface {
	Create(ctx context.Context, t *domain.DiningTable) error
	GetByID(ctx context.Context, id int64) (*domain.DiningTable, error)
	GetForUpdate(ctx context.Context, id int64) (*domain.DiningTable, error)
	Update(ctx context.Context, t *domain.DiningTable) error
}

// PaymentRepository платежи по заказам
type PaymentRepository interface {
	Create(ctx context.Context, p *domain.PaymentRecord) error
	ListByOrder(ctx context.Context, orderID int64) ([]domain.PaymentRecord, error)
}

// DebtRepository долги и их погашения
type DebtRepository interface {
	Create(ctx context.Context, d *domain.DebtRecord) error
	GetByID(ctx context.Context, id int64) (*domain.DebtRecord, error)
	GetForUpdate(ctx context.Context, id int64) (*domain.DebtRecord, error)
	Update(ctx context.Context, d *domain.DebtRecord) error
	AddPayment(ctx context.Context, p *domain.DebtPayment) error
	ListByOrder(ctx context.Context, orderID int64) ([]domain.DebtRecord, error)
	ListByCustomer(ctx context.Context, customerID int64) ([]domain.DebtRecord, error)
}

// SplitRepository журнал разделений
type SplitRepository interface {
	Create(ctx context.Context, r *domain.SplitRecord) error
	ListByOrder(ctx context.Context, orderID int64) ([]domain.SplitRecord, error)
}

// OutboxRepository события, ожидающие доставки
type OutboxRepository interface {
	Append(ctx context.Context, events ...*domain.OutboxEvent) error
	FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkSent(ctx context.Context, id int64) error
	// MarkRetry увеличивает счётчик попыток; после maxAttempts событие становится failed
	MarkRetry(ctx context.Context, id int64, errMsg string, maxAttempts int) error
	PurgeSent(ctx context.Context, before time.Time) (int64, error)
}

// TxManager абстракция транзакции. Для in-memory — глобальная блокировка записи.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Repositories набор репозиториев одного хранилища
type Repositories struct {
	Inventory InventoryRepository
	Orders    OrderRepository
	Tables    TableRepository
	Payments  PaymentRepository
	Debts     DebtRepository
	Splits    SplitRepository
	Outbox    OutboxRepository
	Tx        TxManager
}

func isOpen(s domain.OrderState) bool { return !s.Terminal() }
