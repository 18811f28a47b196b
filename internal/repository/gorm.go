package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tablepos/internal/domain"
	"tablepos/internal/idgen"
)

type gormTxKey struct{}

// conn возвращает открытую транзакцию из контекста или базовое соединение
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(gormTxKey{}).(*gorm.DB); ok {
		return tx
	}
	return db.WithContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

var forUpdate = clause.Locking{Strength: "UPDATE"}

// NewGormRepositories собирает репозитории поверх gorm
func NewGormRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Inventory: &GormInventoryRepository{db: db},
		Orders:    &GormOrderRepository{db: db},
		Tables:    &GormTableRepository{db: db},
		Payments:  &GormPaymentRepository{db: db},
		Debts:     &GormDebtRepository{db: db},
		Splits:    &GormSplitRepository{db: db},
		Outbox:    &GormOutboxRepository{db: db},
		Tx:        NewGormTx(db),
	}
}

// GormTx транзакция БД, переносимая через контекст
type GormTx struct{ db *gorm.DB }

func NewGormTx(db *gorm.DB) *GormTx { return &GormTx{db: db} }

var _ TxManager = (*GormTx)(nil)

func (t *GormTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(gormTxKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, gormTxKey{}, tx))
	})
}

// GormInventoryRepository остатки в таблице pos_inventory
type GormInventoryRepository struct{ db *gorm.DB }

var _ InventoryRepository = (*GormInventoryRepository)(nil)

func (r *GormInventoryRepository) GetForUpdate(ctx context.Context, productID int64) (*domain.InventoryEntry, error) {
	var e domain.InventoryEntry
	err := conn(ctx, r.db).Clauses(forUpdate).Where("product_id = ?", productID).First(&e).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (r *GormInventoryRepository) Get(ctx context.Context, productID int64) (*domain.InventoryEntry, error) {
	var e domain.InventoryEntry
	err := conn(ctx, r.db).Where("product_id = ?", productID).First(&e).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (r *GormInventoryRepository) Save(ctx context.Context, e *domain.InventoryEntry) error {
	e.LastUpdatedAt = time.Now().UTC()
	return conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}},
		UpdateAll: true,
	}).Create(e).Error
}

func (r *GormInventoryRepository) Delete(ctx context.Context, productID int64) error {
	res := conn(ctx, r.db).Where("product_id = ?", productID).Delete(&domain.InventoryEntry{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormInventoryRepository) IsAvailable(ctx context.Context, productID int64) (bool, error) {
	var a domain.ProductAvailability
	err := conn(ctx, r.db).Where("product_id = ?", productID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return a.Available, nil
}

func (r *GormInventoryRepository) SetAvailable(ctx context.Context, productID int64, available bool) error {
	a := domain.ProductAvailability{ProductID: productID, Available: available, UpdatedAt: time.Now().UTC()}
	return conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"available", "updated_at"}),
	}).Create(&a).Error
}

// GormOrderRepository заказы и строки
type GormOrderRepository struct{ db *gorm.DB }

var _ OrderRepository = (*GormOrderRepository)(nil)

func (r *GormOrderRepository) Create(ctx context.Context, o *domain.Order) error {
	o.ID = idgen.Next()
	if o.OpenedAt.IsZero() {
		o.OpenedAt = time.Now().UTC()
	}
	for i := range o.Lines {
		o.Lines[i].ID = idgen.Next()
		o.Lines[i].OrderID = o.ID
	}
	return conn(ctx, r.db).Create(o).Error
}

func (r *GormOrderRepository) loadLines(ctx context.Context, o *domain.Order) error {
	o.Lines = make([]domain.OrderLine, 0)
	return conn(ctx, r.db).Where("order_id = ?", o.ID).Order("id").Find(&o.Lines).Error
}

func (r *GormOrderRepository) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	var o domain.Order
	if err := conn(ctx, r.db).First(&o, id).Error; err != nil {
		return nil, notFound(err)
	}
	if err := r.loadLines(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *GormOrderRepository) GetForUpdate(ctx context.Context, id int64) (*domain.Order, error) {
	var o domain.Order
	if err := conn(ctx, r.db).Clauses(forUpdate).First(&o, id).Error; err != nil {
		return nil, notFound(err)
	}
	if err := r.loadLines(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *GormOrderRepository) Update(ctx context.Context, o *domain.Order) error {
	res := conn(ctx, r.db).Model(o).Select("*").Omit("Lines").Updates(o)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormOrderRepository) CreateLine(ctx context.Context, l *domain.OrderLine) error {
	l.ID = idgen.Next()
	return conn(ctx, r.db).Create(l).Error
}

func (r *GormOrderRepository) UpdateLine(ctx context.Context, l *domain.OrderLine) error {
	res := conn(ctx, r.db).Model(l).Select("*").Updates(l)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormOrderRepository) ListOpenByTable(ctx context.Context, tableID int64) ([]domain.Order, error) {
	var list []domain.Order
	err := conn(ctx, r.db).
		Where("table_id = ? AND state NOT IN ?", tableID, []string{string(domain.OrderStatePaid), string(domain.OrderStateCancelled)}).
		Order("id").
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// GormTableRepository столы
type GormTableRepository struct{ db *gorm.DB }

var _ TableRepository = (*GormTableRepository)(nil)

func (r *GormTableRepository) Create(ctx context.Context, t *domain.DiningTable) error {
	t.ID = idgen.Next()
	return conn(ctx, r.db).Create(t).Error
}

func (r *GormTableRepository) GetByID(ctx context.Context, id int64) (*domain.DiningTable, error) {
	var t domain.DiningTable
	if err := conn(ctx, r.db).First(&t, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *GormTableRepository) GetForUpdate(ctx context.Context, id int64) (*domain.DiningTable, error) {
	var t domain.DiningTable
	if err := conn(ctx, r.db).Clauses(forUpdate).First(&t, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *GormTableRepository) Update(ctx context.Context, t *domain.DiningTable) error {
	res := conn(ctx, r.db).Model(t).Select("*").Updates(t)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GormPaymentRepository платежи с покрытыми строками
type GormPaymentRepository struct{ db *gorm.DB }

var _ PaymentRepository = (*GormPaymentRepository)(nil)

func (r *GormPaymentRepository) Create(ctx context.Context, p *domain.PaymentRecord) error {
	p.ID = idgen.Next()
	for i := range p.Items {
		p.Items[i].ID = idgen.Next()
		p.Items[i].PaymentID = p.ID
	}
	return conn(ctx, r.db).Create(p).Error
}

func (r *GormPaymentRepository) ListByOrder(ctx context.Context, orderID int64) ([]domain.PaymentRecord, error) {
	list := make([]domain.PaymentRecord, 0)
	err := conn(ctx, r.db).Where("order_id = ?", orderID).Order("id").Preload("Items").Find(&list).Error
	return list, err
}

// GormDebtRepository долги клиентов
type GormDebtRepository struct{ db *gorm.DB }

var _ DebtRepository = (*GormDebtRepository)(nil)

func (r *GormDebtRepository) Create(ctx context.Context, d *domain.DebtRecord) error {
	d.ID = idgen.Next()
	return conn(ctx, r.db).Omit("Payments").Create(d).Error
}

func (r *GormDebtRepository) GetByID(ctx context.Context, id int64) (*domain.DebtRecord, error) {
	var d domain.DebtRecord
	err := conn(ctx, r.db).Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).First(&d, id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *GormDebtRepository) GetForUpdate(ctx context.Context, id int64) (*domain.DebtRecord, error) {
	var d domain.DebtRecord
	if err := conn(ctx, r.db).Clauses(forUpdate).First(&d, id).Error; err != nil {
		return nil, notFound(err)
	}
	if err := conn(ctx, r.db).Where("debt_id = ?", id).Order("id").Find(&d.Payments).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *GormDebtRepository) Update(ctx context.Context, d *domain.DebtRecord) error {
	res := conn(ctx, r.db).Model(d).Select("*").Omit("Payments").Updates(d)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormDebtRepository) AddPayment(ctx context.Context, p *domain.DebtPayment) error {
	p.ID = idgen.Next()
	return conn(ctx, r.db).Create(p).Error
}

func (r *GormDebtRepository) ListByOrder(ctx context.Context, orderID int64) ([]domain.DebtRecord, error) {
	list := make([]domain.DebtRecord, 0)
	err := conn(ctx, r.db).Where("order_id = ?", orderID).Order("id").Preload("Payments").Find(&list).Error
	return list, err
}

func (r *GormDebtRepository) ListByCustomer(ctx context.Context, customerID int64) ([]domain.DebtRecord, error) {
	list := make([]domain.DebtRecord, 0)
	err := conn(ctx, r.db).Where("customer_id = ?", customerID).Order("id").Preload("Payments").Find(&list).Error
	return list, err
}

// GormSplitRepository журнал разделений
type GormSplitRepository struct{ db *gorm.DB }

var _ SplitRepository = (*GormSplitRepository)(nil)

func (r *GormSplitRepository) Create(ctx context.Context, s *domain.SplitRecord) error {
	s.ID = idgen.Next()
	return conn(ctx, r.db).Create(s).Error
}

func (r *GormSplitRepository) ListByOrder(ctx context.Context, orderID int64) ([]domain.SplitRecord, error) {
	list := make([]domain.SplitRecord, 0)
	err := conn(ctx, r.db).
		Where("origin_order_id = ? OR resulting_order_id = ?", orderID, orderID).
		Order("id").Find(&list).Error
	return list, err
}

// GormOutboxRepository outbox-таблица событий
type GormOutboxRepository struct{ db *gorm.DB }

var _ OutboxRepository = (*GormOutboxRepository)(nil)

func (r *GormOutboxRepository) Append(ctx context.Context, events ...*domain.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}
	for _, ev := range events {
		ev.ID = idgen.Next()
		if ev.Status == "" {
			ev.Status = domain.OutboxPending
		}
	}
	return conn(ctx, r.db).Create(events).Error
}

func (r *GormOutboxRepository) FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	list := make([]domain.OutboxEvent, 0)
	q := conn(ctx, r.db).Where("status = ?", string(domain.OutboxPending)).Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return list, q.Find(&list).Error
}

func (r *GormOutboxRepository) MarkSent(ctx context.Context, id int64) error {
	return conn(ctx, r.db).Model(&domain.OutboxEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     string(domain.OutboxSent),
		"sent_at":    time.Now().UTC(),
		"last_error": "",
	}).Error
}

func (r *GormOutboxRepository) MarkRetry(ctx context.Context, id int64, errMsg string, maxAttempts int) error {
	errMsg = domain.TruncateError(errMsg)
	updates := map[string]interface{}{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": errMsg,
	}
	if maxAttempts > 0 {
		updates["status"] = gorm.Expr("CASE WHEN attempts + 1 >= ? THEN ? ELSE status END", maxAttempts, string(domain.OutboxFailed))
	}
	return conn(ctx, r.db).Model(&domain.OutboxEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *GormOutboxRepository) PurgeSent(ctx context.Context, before time.Time) (int64, error) {
	res := conn(ctx, r.db).Where("status = ? AND sent_at < ?", string(domain.OutboxSent), before).Delete(&domain.OutboxEvent{})
	return res.RowsAffected, res.Error
}
