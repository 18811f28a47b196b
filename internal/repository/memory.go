package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"tablepos/internal/domain"
)

// MemoryStore объединённое in-memory хранилище и простой генератор ID
type MemoryStore struct {
	mu           sync.RWMutex
	seq          map[string]int64
	inventory    map[int64]domain.InventoryEntry
	availability map[int64]bool
	tables       map[int64]domain.DiningTable
	ordersByID   map[int64]domain.Order
	linesByID    map[int64]domain.OrderLine
	payments     map[int64]domain.PaymentRecord
	debts        map[int64]domain.DebtRecord
	debtPayments map[int64]domain.DebtPayment
	splits       map[int64]domain.SplitRecord
	outbox       map[int64]domain.OutboxEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seq:          make(map[string]int64),
		inventory:    make(map[int64]domain.InventoryEntry),
		availability: make(map[int64]bool),
		tables:       make(map[int64]domain.DiningTable),
		ordersByID:   make(map[int64]domain.Order),
		linesByID:    make(map[int64]domain.OrderLine),
		payments:     make(map[int64]domain.PaymentRecord),
		debts:        make(map[int64]domain.DebtRecord),
		debtPayments: make(map[int64]domain.DebtPayment),
		splits:       make(map[int64]domain.SplitRecord),
		outbox:       make(map[int64]domain.OutboxEvent),
	}
}

// NewMemoryRepositories собирает все репозитории поверх одного MemoryStore
func NewMemoryRepositories(store *MemoryStore) Repositories {
	return Repositories{
		Inventory: &MemoryInventory{store: store},
		Orders:    &MemoryOrders{store: store},
		Tables:    &MemoryTables{store: store},
		Payments:  &MemoryPayments{store: store},
		Debts:     &MemoryDebts{store: store},
		Splits:    &MemorySplits{store: store},
		Outbox:    &MemoryOutbox{store: store},
		Tx:        NewMemoryTx(store),
	}
}

func (m *MemoryStore) next(kind string) int64 {
	m.seq[kind]++
	return m.seq[kind]
}

// transaction-aware locking helpers
type txKey struct{}

func isTx(ctx context.Context) bool {
	v := ctx.Value(txKey{})
	if v == nil {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func (m *MemoryStore) rlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.RLock()
	}
}
func (m *MemoryStore) runlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.RUnlock()
	}
}
func (m *MemoryStore) wlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.Lock()
	}
}
func (m *MemoryStore) wunlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.Unlock()
	}
}

type memorySnapshot struct {
	seq          map[string]int64
	inventory    map[int64]domain.InventoryEntry
	availability map[int64]bool
	tables       map[int64]domain.DiningTable
	ordersByID   map[int64]domain.Order
	linesByID    map[int64]domain.OrderLine
	payments     map[int64]domain.PaymentRecord
	debts        map[int64]domain.DebtRecord
	debtPayments map[int64]domain.DebtPayment
	splits       map[int64]domain.SplitRecord
	outbox       map[int64]domain.OutboxEvent
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// caller holds mu
func (m *MemoryStore) snapshot() memorySnapshot {
	return memorySnapshot{
		seq:          cloneMap(m.seq),
		inventory:    cloneMap(m.inventory),
		availability: cloneMap(m.availability),
		tables:       cloneMap(m.tables),
		ordersByID:   cloneMap(m.ordersByID),
		linesByID:    cloneMap(m.linesByID),
		payments:     cloneMap(m.payments),
		debts:        cloneMap(m.debts),
		debtPayments: cloneMap(m.debtPayments),
		splits:       cloneMap(m.splits),
		outbox:       cloneMap(m.outbox),
	}
}

func (m *MemoryStore) restore(s memorySnapshot) {
	m.seq = s.seq
	m.inventory = s.inventory
	m.availability = s.availability
	m.tables = s.tables
	m.ordersByID = s.ordersByID
	m.linesByID = s.linesByID
	m.payments = s.payments
	m.debts = s.debts
	m.debtPayments = s.debtPayments
	m.splits = s.splits
	m.outbox = s.outbox
}

// Tx manager using write lock to emulate transaction boundary
type MemoryTx struct{ store *MemoryStore }

func NewMemoryTx(store *MemoryStore) *MemoryTx { return &MemoryTx{store: store} }

var _ TxManager = (*MemoryTx)(nil)

func (tx *MemoryTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	// nested call joins the outer transaction
	if isTx(ctx) {
		return fn(ctx)
	}
	// Для in-memory используем блокировку записи и помечаем контекст, чтобы репозитории пропускали внутренние локи
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	snap := tx.store.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		tx.store.restore(snap)
		return err
	}
	return nil
}

// InventoryRepository implementation
type MemoryInventory struct{ store *MemoryStore }

var _ InventoryRepository = (*MemoryInventory)(nil)

func (mi *MemoryInventory) GetForUpdate(ctx context.Context, productID int64) (*domain.InventoryEntry, error) {
	return mi.Get(ctx, productID)
}

func (mi *MemoryInventory) Get(ctx context.Context, productID int64) (*domain.InventoryEntry, error) {
	mi.store.rlock(ctx)
	defer mi.store.runlock(ctx)
	e, ok := mi.store.inventory[productID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := e
	return &cp, nil
}

func (mi *MemoryInventory) Save(ctx context.Context, e *domain.InventoryEntry) error {
	mi.store.wlock(ctx)
	defer mi.store.wunlock(ctx)
	e.LastUpdatedAt = time.Now().UTC()
	mi.store.inventory[e.ProductID] = *e
	return nil
}

func (mi *MemoryInventory) Delete(ctx context.Context, productID int64) error {
	mi.store.wlock(ctx)
	defer mi.store.wunlock(ctx)
	if _, ok := mi.store.inventory[productID]; !ok {
		return ErrNotFound
	}
	delete(mi.store.inventory, productID)
	return nil
}

func (mi *MemoryInventory) IsAvailable(ctx context.Context, productID int64) (bool, error) {
	mi.store.rlock(ctx)
	defer mi.store.runlock(ctx)
	v, ok := mi.store.availability[productID]
	if !ok {
		return true, nil
	}
	return v, nil
}

func (mi *MemoryInventory) SetAvailable(ctx context.Context, productID int64, available bool) error {
	mi.store.wlock(ctx)
	defer mi.store.wunlock(ctx)
	mi.store.availability[productID] = available
	return nil
}

// OrderRepository implementation on wrapper type
type MemoryOrders struct{ store *MemoryStore }

var _ OrderRepository = (*MemoryOrders)(nil)

func (mo *MemoryOrders) Create(ctx context.Context, o *domain.Order) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	o.ID = mo.store.next("order")
	if o.OpenedAt.IsZero() {
		o.OpenedAt = time.Now().UTC()
	}
	o.UpdatedAt = o.OpenedAt
	for i := range o.Lines {
		l := &o.Lines[i]
		l.ID = mo.store.next("line")
		l.OrderID = o.ID
		l.CreatedAt = o.OpenedAt
		l.UpdatedAt = o.OpenedAt
		mo.store.linesByID[l.ID] = *l
	}
	row := *o
	row.Lines = nil
	mo.store.ordersByID[o.ID] = row
	return nil
}

// caller holds lock
func (mo *MemoryOrders) load(id int64) (*domain.Order, error) {
	o, ok := mo.store.ordersByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := o
	cp.Lines = make([]domain.OrderLine, 0)
	for _, l := range mo.store.linesByID {
		if l.OrderID == id {
			cp.Lines = append(cp.Lines, l)
		}
	}
	sort.Slice(cp.Lines, func(i, j int) bool { return cp.Lines[i].ID < cp.Lines[j].ID })
	return &cp, nil
}

func (mo *MemoryOrders) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	return mo.load(id)
}

func (mo *MemoryOrders) GetForUpdate(ctx context.Context, id int64) (*domain.Order, error) {
	return mo.GetByID(ctx, id)
}

func (mo *MemoryOrders) Update(ctx context.Context, o *domain.Order) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	if _, ok := mo.store.ordersByID[o.ID]; !ok {
		return ErrNotFound
	}
	o.UpdatedAt = time.Now().UTC()
	row := *o
	row.Lines = nil
	mo.store.ordersByID[o.ID] = row
	return nil
}

func (mo *MemoryOrders) CreateLine(ctx context.Context, l *domain.OrderLine) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	if _, ok := mo.store.ordersByID[l.OrderID]; !ok {
		return ErrNotFound
	}
	l.ID = mo.store.next("line")
	l.CreatedAt = time.Now().UTC()
	l.UpdatedAt = l.CreatedAt
	mo.store.linesByID[l.ID] = *l
	return nil
}

func (mo *MemoryOrders) UpdateLine(ctx context.Context, l *domain.OrderLine) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	if _, ok := mo.store.linesByID[l.ID]; !ok {
		return ErrNotFound
	}
	if _, ok := mo.store.ordersByID[l.OrderID]; !ok {
		return ErrNotFound
	}
	l.UpdatedAt = time.Now().UTC()
	mo.store.linesByID[l.ID] = *l
	return nil
}

func (mo *MemoryOrders) ListOpenByTable(ctx context.Context, tableID int64) ([]domain.Order, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	out := make([]domain.Order, 0)
	for id, o := range mo.store.ordersByID {
		if o.TableID == nil || *o.TableID != tableID || !isOpen(o.State) {
			continue
		}
		full, err := mo.load(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *full)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// TableRepository implementation
type MemoryTables struct{ store *MemoryStore }

var _ TableRepository = (*MemoryTables)(nil)

func (mt *MemoryTables) Create(ctx context.Context, t *domain.DiningTable) error {
	mt.store.wlock(ctx)
	defer mt.store.wunlock(ctx)
	t.ID = mt.store.next("table")
	t.UpdatedAt = time.Now().UTC()
	mt.store.tables[t.ID] = *t
	return nil
}

func (mt *MemoryTables) GetByID(ctx context.Context, id int64) (*domain.DiningTable, error) {
	mt.store.rlock(ctx)
	defer mt.store.runlock(ctx)
	t, ok := mt.store.tables[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := t
	return &cp, nil
}

func (mt *MemoryTables) GetForUpdate(ctx context.Context, id int64) (*domain.DiningTable, error) {
	return mt.GetByID(ctx, id)
}

func (mt *MemoryTables) Update(ctx context.Context, t *domain.DiningTable) error {
	mt.store.wlock(ctx)
	defer mt.store.wunlock(ctx)
	if _, ok := mt.store.tables[t.ID]; !ok {
		return ErrNotFound
	}
	t.UpdatedAt = time.Now().UTC()
	mt.store.tables[t.ID] = *t
	return nil
}

// PaymentRepository implementation
type MemoryPayments struct{ store *MemoryStore }

var _ PaymentRepository = (*MemoryPayments)(nil)

func (mp *MemoryPayments) Create(ctx context.Context, p *domain.PaymentRecord) error {
	mp.store.wlock(ctx)
	defer mp.store.wunlock(ctx)
	p.ID = mp.store.next("payment")
	p.CreatedAt = time.Now().UTC()
	items := make([]domain.PaymentItem, len(p.Items))
	for i := range p.Items {
		p.Items[i].ID = mp.store.next("payment_item")
		p.Items[i].PaymentID = p.ID
		items[i] = p.Items[i]
	}
	row := *p
	row.Items = items
	mp.store.payments[p.ID] = row
	return nil
}

func (mp *MemoryPayments) ListByOrder(ctx context.Context, orderID int64) ([]domain.PaymentRecord, error) {
	mp.store.rlock(ctx)
	defer mp.store.runlock(ctx)
	out := make([]domain.PaymentRecord, 0)
	for _, p := range mp.store.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DebtRepository implementation
type MemoryDebts struct{ store *MemoryStore }

var _ DebtRepository = (*MemoryDebts)(nil)

func (md *MemoryDebts) Create(ctx context.Context, d *domain.DebtRecord) error {
	md.store.wlock(ctx)
	defer md.store.wunlock(ctx)
	d.ID = md.store.next("debt")
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt
	row := *d
	row.Payments = nil
	md.store.debts[d.ID] = row
	return nil
}

// caller holds lock
func (md *MemoryDebts) load(id int64) (*domain.DebtRecord, error) {
	d, ok := md.store.debts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := d
	for _, p := range md.store.debtPayments {
		if p.DebtID == id {
			cp.Payments = append(cp.Payments, p)
		}
	}
	sort.Slice(cp.Payments, func(i, j int) bool { return cp.Payments[i].ID < cp.Payments[j].ID })
	return &cp, nil
}

func (md *MemoryDebts) GetByID(ctx context.Context, id int64) (*domain.DebtRecord, error) {
	md.store.rlock(ctx)
	defer md.store.runlock(ctx)
	return md.load(id)
}

func (md *MemoryDebts) GetForUpdate(ctx context.Context, id int64) (*domain.DebtRecord, error) {
	return md.GetByID(ctx, id)
}

func (md *MemoryDebts) Update(ctx context.Context, d *domain.DebtRecord) error {
	md.store.wlock(ctx)
	defer md.store.wunlock(ctx)
	if _, ok := md.store.debts[d.ID]; !ok {
		return ErrNotFound
	}
	d.UpdatedAt = time.Now().UTC()
	row := *d
	row.Payments = nil
	md.store.debts[d.ID] = row
	return nil
}

func (md *MemoryDebts) AddPayment(ctx context.Context, p *domain.DebtPayment) error {
	md.store.wlock(ctx)
	defer md.store.wunlock(ctx)
	if _, ok := md.store.debts[p.DebtID]; !ok {
		return ErrNotFound
	}
	p.ID = md.store.next("debt_payment")
	p.CreatedAt = time.Now().UTC()
	md.store.debtPayments[p.ID] = *p
	return nil
}

func (md *MemoryDebts) list(match func(domain.DebtRecord) bool) ([]domain.DebtRecord, error) {
	out := make([]domain.DebtRecord, 0)
	for id, d := range md.store.debts {
		if !match(d) {
			continue
		}
		full, err := md.load(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *full)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (md *MemoryDebts) ListByOrder(ctx context.Context, orderID int64) ([]domain.DebtRecord, error) {
	md.store.rlock(ctx)
	defer md.store.runlock(ctx)
	return md.list(func(d domain.DebtRecord) bool { return d.OrderID == orderID })
}

func (md *MemoryDebts) ListByCustomer(ctx context.Context, customerID int64) ([]domain.DebtRecord, error) {
	md.store.rlock(ctx)
	defer md.store.runlock(ctx)
	return md.list(func(d domain.DebtRecord) bool { return d.CustomerID == customerID })
}

// SplitRepository implementation
type MemorySplits struct{ store *MemoryStore }

var _ SplitRepository = (*MemorySplits)(nil)

func (ms *MemorySplits) Create(ctx context.Context, r *domain.SplitRecord) error {
	ms.store.wlock(ctx)
	defer ms.store.wunlock(ctx)
	r.ID = ms.store.next("split")
	r.CreatedAt = time.Now().UTC()
	ms.store.splits[r.ID] = *r
	return nil
}

func (ms *MemorySplits) ListByOrder(ctx context.Context, orderID int64) ([]domain.SplitRecord, error) {
	ms.store.rlock(ctx)
	defer ms.store.runlock(ctx)
	out := make([]domain.SplitRecord, 0)
	for _, r := range ms.store.splits {
		if r.OriginOrderID == orderID || r.ResultingOrderID == orderID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// OutboxRepository implementation
type MemoryOutbox struct{ store *MemoryStore }

var _ OutboxRepository = (*MemoryOutbox)(nil)

func (mo *MemoryOutbox) Append(ctx context.Context, events ...*domain.OutboxEvent) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	now := time.Now().UTC()
	for _, ev := range events {
		ev.ID = mo.store.next("event")
		ev.CreatedAt = now
		if ev.Status == "" {
			ev.Status = domain.OutboxPending
		}
		mo.store.outbox[ev.ID] = *ev
	}
	return nil
}

func (mo *MemoryOutbox) FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	out := make([]domain.OutboxEvent, 0)
	for _, ev := range mo.store.outbox {
		if ev.Status == domain.OutboxPending {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (mo *MemoryOutbox) MarkSent(ctx context.Context, id int64) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	ev, ok := mo.store.outbox[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	ev.Status = domain.OutboxSent
	ev.SentAt = &now
	ev.LastError = ""
	mo.store.outbox[id] = ev
	return nil
}

func (mo *MemoryOutbox) MarkRetry(ctx context.Context, id int64, errMsg string, maxAttempts int) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	ev, ok := mo.store.outbox[id]
	if !ok {
		return ErrNotFound
	}
	ev.Attempts++
	ev.LastError = domain.TruncateError(errMsg)
	if maxAttempts > 0 && ev.Attempts >= maxAttempts {
		ev.Status = domain.OutboxFailed
	}
	mo.store.outbox[id] = ev
	return nil
}

func (mo *MemoryOutbox) PurgeSent(ctx context.Context, before time.Time) (int64, error) {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	var n int64
	for id, ev := range mo.store.outbox {
		if ev.Status == domain.OutboxSent && ev.SentAt != nil && ev.SentAt.Before(before) {
			delete(mo.store.outbox, id)
			n++
		}
	}
	return n, nil
}

// Get возвращает событие outbox по id
func (mo *MemoryOutbox) Get(ctx context.Context, id int64) (*domain.OutboxEvent, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	ev, ok := mo.store.outbox[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := ev
	return &cp, nil
}
