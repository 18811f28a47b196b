package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"tablepos/internal/domain"
	"tablepos/internal/repository"
)

type fakeIdentity struct {
	mu    sync.Mutex
	actor domain.Actor
}

func (f *fakeIdentity) CurrentActor(ctx context.Context) (domain.Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.actor.Role == "" {
		return domain.Actor{}, errors.New("no session")
	}
	return f.actor, nil
}

type countingNotifier struct{ n int32 }

func (c *countingNotifier) Notify() { atomic.AddInt32(&c.n, 1) }

type loyaltyCall struct {
	orderID    int64
	customerID int64
	amount     decimal.Decimal
}

type fakeLoyalty struct {
	calls  []loyaltyCall
	points int64
	err    error
}

func (f *fakeLoyalty) AwardPoints(ctx context.Context, orderID, customerID int64, amount decimal.Decimal) (int64, error) {
	f.calls = append(f.calls, loyaltyCall{orderID: orderID, customerID: customerID, amount: amount})
	if f.err != nil {
		return 0, f.err
	}
	return f.points, nil
}

type env struct {
	repos       repository.Repositories
	id          *fakeIdentity
	notifier    *countingNotifier
	loyalty     *fakeLoyalty
	inventory   *InventoryService
	orders      *OrderService
	tables      *TableService
	fulfillment *FulfillmentService
	settlement  *SettlementService
}

func setup(t *testing.T) *env {
	t.Helper()
	store := repository.NewMemoryStore()
	repos := repository.NewMemoryRepositories(store)
	id := &fakeIdentity{actor: domain.Actor{ID: 7, Role: domain.RoleWaiter, TenantID: 1}}
	n := &countingNotifier{}
	loy := &fakeLoyalty{points: 12}
	inv := NewInventoryService(repos, id, n)
	return &env{
		repos:       repos,
		id:          id,
		notifier:    n,
		loyalty:     loy,
		inventory:   inv,
		orders:      NewOrderService(repos, inv, id, n, loy),
		tables:      NewTableService(repos, id),
		fulfillment: NewFulfillmentService(repos, inv, id, n, loy),
		settlement:  NewSettlementService(repos, id, n, loy),
	}
}

// as меняет роль текущего актёра
func (e *env) as(role domain.Role) {
	e.id.mu.Lock()
	e.id.actor.Role = role
	e.id.mu.Unlock()
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func line(productID int64, name string, qty int64, price string) LineInput {
	return LineInput{ProductID: productID, Name: name, Quantity: qty, UnitPrice: money(price), Station: "kitchen"}
}

// openOrder открывает заказ навынос и добавляет строки
func (e *env) openOrder(t *testing.T, lines ...LineInput) *domain.Order {
	t.Helper()
	return e.openOrderWith(t, OpenOrderInput{Type: domain.OrderTypeTakeaway}, lines...)
}

// customerOrder заказ у стойки с привязанным покупателем
func (e *env) customerOrder(t *testing.T, customerID int64, lines ...LineInput) *domain.Order {
	t.Helper()
	return e.openOrderWith(t, OpenOrderInput{Type: domain.OrderTypeCounter, CustomerID: &customerID}, lines...)
}

func (e *env) openOrderWith(t *testing.T, in OpenOrderInput, lines ...LineInput) *domain.Order {
	t.Helper()
	ctx := context.Background()
	o, err := e.orders.OpenOrder(ctx, in)
	if err != nil {
		t.Fatalf("open order: %v", err)
	}
	for _, l := range lines {
		o, err = e.orders.AddLine(ctx, o.ID, l)
		if err != nil {
			t.Fatalf("add line %s: %v", l.Name, err)
		}
	}
	return o
}

func (e *env) order(t *testing.T, id int64) *domain.Order {
	t.Helper()
	o, err := e.orders.GetOrder(context.Background(), id)
	if err != nil {
		t.Fatalf("get order %d: %v", id, err)
	}
	return o
}

func lineOf(t *testing.T, o *domain.Order, productID int64) *domain.OrderLine {
	t.Helper()
	for i := range o.Lines {
		if o.Lines[i].ProductID == productID && o.Lines[i].Live() {
			return &o.Lines[i]
		}
	}
	t.Fatalf("order %d has no live line for product %d", o.ID, productID)
	return nil
}

func pendingTypes(t *testing.T, e *env) []domain.EventType {
	t.Helper()
	evs, err := e.repos.Outbox.FetchPending(context.Background(), 0)
	if err != nil {
		t.Fatalf("fetch outbox: %v", err)
	}
	out := make([]domain.EventType, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

func countType(types []domain.EventType, want domain.EventType) int {
	n := 0
	for _, tp := range types {
		if tp == want {
			n++
		}
	}
	return n
}

// checkTotal сумма заказа равна сумме живых строк
func checkTotal(t *testing.T, o *domain.Order) {
	t.Helper()
	want := decimal.Zero
	for _, l := range o.Lines {
		if l.Live() {
			want = want.Add(l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity)))
		}
	}
	if !want.Equal(o.Total) {
		t.Fatalf("order %d total %s, lines sum %s", o.ID, o.Total, want)
	}
}
