package service

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"tablepos/internal/domain"
	"tablepos/internal/repository"
)

// OrderService жизненный цикл заказа: открытие, строки, переходы, отмена
type OrderService struct {
	agg       aggregate
	inventory *InventoryService
	identity  Identity
}

func NewOrderService(repos repository.Repositories, inventory *InventoryService, identity Identity, notifier Notifier, loyalty Loyalty) *OrderService {
	return &OrderService{agg: newAggregate(repos, notifier, loyalty), inventory: inventory, identity: identity}
}

// OpenOrderInput параметры нового заказа
type OpenOrderInput struct {
	Type         domain.OrderType `json:"type"`
	TableID      *int64           `json:"table_id,string,omitempty"`
	CustomerName string           `json:"customer_name,omitempty"`
	CustomerID   *int64           `json:"customer_id,string,omitempty"`
}

// LineInput новая позиция заказа
type LineInput struct {
	ProductID int64           `json:"product_id,string"`
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Station   string          `json:"station"`
}

func (in LineInput) validate() error {
	if in.ProductID <= 0 || in.Quantity <= 0 || !domain.ValidMoney(in.UnitPrice) {
		return invalid("line product %d quantity %d price %s", in.ProductID, in.Quantity, in.UnitPrice)
	}
	if !domain.ValidMoney(in.UnitPrice.Mul(decimal.NewFromInt(in.Quantity))) {
		return invalid("line product %d: amount out of range", in.ProductID)
	}
	return nil
}

// ensureEditable строки можно менять только пока заказ готовится
func ensureEditable(o *domain.Order) error {
	switch {
	case o.State == domain.OrderStatePaid:
		return errors.Wrapf(ErrOrderAlreadySettled, "order %d", o.ID)
	case !o.State.Splittable():
		return errors.Wrapf(ErrInvalidTransition, "order %d is %s", o.ID, o.State)
	}
	return nil
}

// OpenOrder создаёт заказ в ORDERED и занимает стол
func (s *OrderService) OpenOrder(ctx context.Context, in OpenOrderInput) (*domain.Order, error) {
	actor, err := authorize(ctx, s.identity, domain.RoleWaiter)
	if err != nil {
		return nil, err
	}
	if !in.Type.Valid() {
		return nil, invalid("order type %q", in.Type)
	}
	if in.Type == domain.OrderTypeDineIn && in.TableID == nil {
		return nil, invalid("dine-in order requires a table")
	}
	var created *domain.Order
	err = s.agg.repos.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		if in.TableID != nil {
			t, err := s.agg.repos.Tables.GetForUpdate(ctx, *in.TableID)
			if err != nil {
				return err
			}
			if err := checkTenant(actor, t.TenantID); err != nil {
				return err
			}
			if t.Status != domain.TableStatusOccupied {
				t.Status = domain.TableStatusOccupied
				if err := s.agg.repos.Tables.Update(ctx, t); err != nil {
					return err
				}
			}
		}
		o := domain.Order{
			TenantID:     actor.TenantID,
			Type:         in.Type,
			TableID:      in.TableID,
			CustomerName: in.CustomerName,
			CustomerID:   in.CustomerID,
			WaiterID:     actor.ID,
			State:        domain.OrderStateOrdered,
			PaymentState: domain.PaymentStateUnpaid,
			Total:        decimal.Zero,
			Lines:        []domain.OrderLine{},
		}
		if err := s.agg.repos.Orders.Create(ctx, &o); err != nil {
			return err
		}
		created = &o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetOrder возвращает заказ по id
func (s *OrderService) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	actor, err := authorize(ctx, s.identity, domain.RoleGuest)
	if err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	o, err := s.agg.repos.Orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTenant(actor, o.TenantID); err != nil {
		return nil, err
	}
	return o, nil
}

// AddLine резервирует склад и добавляет строку в той же транзакции
func (s *OrderService) AddLine(ctx context.Context, orderID int64, in LineInput) (*domain.Order, error) {
	actor, err := authorize(ctx, s.identity, domain.RoleWaiter)
	if err != nil {
		return nil, err
	}
	if orderID <= 0 {
		return nil, ErrInvalidInput
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	var updated *domain.Order
	err = s.agg.repos.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.agg.lockOrder(ctx, actor, orderID)
		if err != nil {
			return err
		}
		if err := ensureEditable(o); err != nil {
			return err
		}
		line, err := s.newLine(ctx, actor, o.ID, in)
		if err != nil {
			return err
		}
		o.Lines = append(o.Lines, *line)
		if _, _, err := s.agg.refresh(ctx, o); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		reportConsistency("add_line", orderID, err)
		return nil, err
	}
	s.agg.events.kick()
	return updated, nil
}

// newLine резервирует и создаёт строку в состоянии INSERTED
func (s *OrderService) newLine(ctx context.Context, actor domain.Actor, orderID int64, in LineInput) (*domain.OrderLine, error) {
	return createLine(ctx, s.agg.repos, s.inventory, actor, orderID, in)
}

func createLine(ctx context.Context, repos repository.Repositories, inv *InventoryService, actor domain.Actor, orderID int64, in LineInput) (*domain.OrderLine, error) {
	r, err := inv.reserve(ctx, actor, in.ProductID, in.Quantity)
	if err != nil {
		return nil, err
	}
	if !r.OK {
		return nil, errors.Wrapf(ErrInsufficientStock, "product %d: requested %d, remaining %d", in.ProductID, in.Quantity, *r.Remaining)
	}
	l := &domain.OrderLine{
		OrderID:   orderID,
		ProductID: in.ProductID,
		Name:      in.Name,
		Quantity:  in.Quantity,
		UnitPrice: in.UnitPrice,
		State:     domain.LineStateInserted,
		Station:   in.Station,
	}
	if err := repos.Orders.CreateLine(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// ChangeLineQuantity меняет количество; разница резервируется или возвращается на склад
func (s *OrderService) ChangeLineQuantity(ctx context.Context, orderID, lineID, quantity int64) (*domain.Order, error) {
	actor, err := authorize(ctx, s.identity, domain.RoleWaiter)
	if err != nil {
		return nil, err
	}
	if orderID <= 0 || lineID <= 0 || quantity <= 0 {
		return nil, ErrInvalidInput
	}
	var (
		updated *domain.Order
		bal     domain.Balance
		closed  bool
	)
	err = s.agg.repos.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.agg.lockOrder(ctx, actor, orderID)
		if err != nil {
			return err
		}
		if err := ensureEditable(o); err != nil {
			return err
		}
		l, ok := o.Line(lineID)
		if !ok || !l.Live() {
			return invalid("line %d not on order %d", lineID, orderID)
		}
		if l.State == domain.LineStateDelivered {
			return errors.Wrapf(ErrInvalidTransition, "line %d already delivered", lineID)
		}
		if quantity < l.PaidQuantity {
			return invalid("line %d: quantity %d below paid %d", lineID, quantity, l.PaidQuantity)
		}
		delta := quantity - l.Quantity
		switch {
		case delta > 0:
			r, err := s.inventory.reserve(ctx, actor, l.ProductID, delta)
			if err != nil {
				return err
			}
			if !r.OK {
				return errors.Wrapf(ErrInsufficientStock, "product %d: requested %d, remaining %d", l.ProductID, delta, *r.Remaining)
			}
		case delta < 0:
			if _, err := s.inventory.release(ctx, actor, l.ProductID, -delta); err != nil {
				return err
			}
		}
		l.Quantity = quantity
		l.IsPaid = l.PaidQuantity == l.Quantity
		if err := s.agg.repos.Orders.UpdateLine(ctx, l); err != nil {
			return err
		}
		if bal, closed, err = s.agg.refresh(ctx, o); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		reportConsistency("change_line_quantity", orderID, err)
		return nil, err
	}
	s.agg.events.kick()
	if closed {
		s.agg.awardAfterClose(ctx, updated, bal)
	}
	return updated, nil
}

// AdvanceLine двигает строку по кухонным состояниям
func (s *OrderService) AdvanceLine(ctx context.Context, orderID, lineID int64, to domain.LineState) (*domain.Order, error) {
	actor, err := authorize(ctx, s.identity, domain.RoleStation)
	if err != nil {
		return nil, err
	}
	if orderID <= 0 || lineID <= 0 || !to.Valid() || to == domain.LineStateCancelled {
		return nil, ErrInvalidInput
	}
	var updated *domain.Order
	err = s.agg.repos.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.agg.lockOrder(ctx, actor, orderID)
		if err != nil {
			return err
		}
		if o.State == domain.OrderStateCancelled || o.State == domain.OrderStateAwaitingStock {
			return errors.Wrapf(ErrInvalidTransition, "order %d is %s", o.ID, o.State)
		}
		l, ok := o.Line(lineID)
		if !ok {
			return invalid("line %d not on order %d", lineID, orderID)
		}
		if !domain.CanAdvanceLine(l.State, to) {
			return errors.Wrapf(ErrInvalidTransition, "line %d: %s -> %s", l.ID, l.State, to)
		}
		l.State = to
		if err := s.agg.repos.Orders.UpdateLine(ctx, l); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CancelLine отменяет неоплаченную строку и возвращает её на склад
func (s *OrderService) CancelLine(ctx context.Context, orderID, lineID int64) (*domain.Order, error) {
	actor, err := authorize(ctx, s.identity, domain.RoleWaiter)
	if err != nil {
		return nil, err
	}
	if orderID <= 0 || lineID <= 0 {
		return nil, ErrInvalidInput
	}
	var (
		updated *domain.Order
		bal     domain.Balance
		closed  bool
	)
	err = s.agg.repos.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.agg.lockOrder(ctx, actor, orderID)
		if err != nil {
			return err
		}
		if err := ensureEditable(o); err != nil {
			return err
		}
		l, ok := o.Line(lineID)
		if !ok {
			return invalid("line %d not on order %d", lineID, orderID)
		}
		if l.PaidQuantity > 0 {
			return errors.Wrapf(ErrInvalidTransition, "line %d has paid units", l.ID)
		}
		if !domain.CanAdvanceLine(l.State, domain.LineStateCancelled) {
			return errors.Wrapf(ErrInvalidTransition, "line %d: %s -> %s", l.ID, l.State, domain.LineStateCancelled)
		}
		if _, err := s.inventory.release(ctx, actor, l.ProductID, l.Quantity-l.ShortfallQuantity); err != nil {
			return err
		}
		l.State = domain.LineStateCancelled
		if err := s.agg.repos.Orders.UpdateLine(ctx, l); err != nil {
			return err
		}
		if bal, closed, err = s.agg.refresh(ctx, o); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		reportConsistency("cancel_line", orderID, err)
		return nil, err
	}
	s.agg.events.kick()
	if closed {
		s.agg.awardAfterClose(ctx, updated, bal)
	}
	return updated, nil
}

// TransitionOrder переводит заказ по публичным рёбрам графа.
// AWAITING_STOCK, PAID и CANCELLED достигаются только своими операциями.
func (s *OrderService) TransitionOrder(ctx context.Context, orderID int64, to domain.OrderState) (*domain.Order, error) {
	actor, err := authorize(ctx, s.identity, domain.RoleWaiter)
	if err != nil {
		return nil, err
	}
	if orderID <= 0 || !to.Valid() {
		return nil, ErrInvalidInput
	}
	switch to {
	case domain.OrderStateAwaitingStock, domain.OrderStatePaid, domain.OrderStateCancelled:
		return nil, errors.Wrapf(ErrInvalidTransition, "state %s is not set directly", to)
	}
	var updated *domain.Order
	err = s.agg.repos.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.agg.lockOrder(ctx, actor, orderID)
		if err != nil {
			return err
		}
		if o.State == domain.OrderStatePaid {
			return errors.Wrapf(ErrOrderAlreadySettled, "order %d", o.ID)
		}
		if o.State == domain.OrderStateAwaitingStock {
			return errors.Wrapf(ErrInvalidTransition, "order %d awaits stock resolution", o.ID)
		}
		if err := o.Transition(to); err != nil {
			return err
		}
		if err := s.agg.repos.Orders.Update(ctx, o); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CancelOrder если заказ ещё готовится — возвращаем товары на склад и ставим CANCELLED
func (s *OrderService) CancelOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	actor, err := authorize(ctx, s.identity, domain.RoleWaiter)
	if err != nil {
		return nil, err
	}
	if orderID <= 0 {
		return nil, ErrInvalidInput
	}
	var updated *domain.Order
	err = s.agg.repos.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.agg.lockOrder(ctx, actor, orderID)
		if err != nil {
			return err
		}
		if err := ensureEditable(o); err != nil {
			return err
		}
		if err := cancelOrderTx(ctx, s.agg, s.inventory, actor, o, "cancelled by staff"); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		reportConsistency("cancel_order", orderID, err)
		return nil, err
	}
	s.agg.events.kick()
	return updated, nil
}

// cancelOrderTx отменяет все живые строки, освобождает стол и пишет событие
func cancelOrderTx(ctx context.Context, agg aggregate, inv *InventoryService, actor domain.Actor, o *domain.Order, reason string) error {
	for _, l := range o.LiveLines() {
		if l.PaidQuantity > 0 {
			return errors.Wrapf(ErrInvalidTransition, "order %d: line %d has paid units", o.ID, l.ID)
		}
	}
	if err := o.Transition(domain.OrderStateCancelled); err != nil {
		return err
	}
	for _, l := range o.LiveLines() {
		if _, err := inv.release(ctx, actor, l.ProductID, l.Quantity-l.ShortfallQuantity); err != nil {
			return err
		}
		l.State = domain.LineStateCancelled
		if err := agg.repos.Orders.UpdateLine(ctx, l); err != nil {
			return err
		}
	}
	if _, _, err := agg.refresh(ctx, o); err != nil {
		return err
	}
	if err := agg.events.add(ctx, o.TenantID, domain.OrderCancelled{OrderID: o.ID, TableID: o.TableID, Reason: reason}); err != nil {
		return err
	}
	return agg.releaseTableIfIdle(ctx, o)
}
