package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tablepos/internal/domain"
	"tablepos/internal/repository"
)

// FulfillmentService разделяет заказ при нехватке товара и разрешает ожидающие заказы
type FulfillmentService struct {
	agg       aggregate
	inventory *InventoryService
	identity  Identity
}

func NewFulfillmentService(repos repository.Repositories, inventory *InventoryService, identity Identity, notifier Notifier, loyalty Loyalty) *FulfillmentService {
	return &FulfillmentService{agg: newAggregate(repos, notifier, loyalty), inventory: inventory, identity: identity}
}

// Shortfall строка и количество, которое нельзя выдать
type Shortfall struct {
	LineID   int64 `json:"line_id,string"`
	Quantity int64 `json:"quantity"`
}

// SplitOutcome что изменилось: для станции это объяснение по позициям
type SplitOutcome struct {
	Origin            *domain.Order          `json:"origin"`
	Sibling           *domain.Order          `json:"sibling,omitempty"`
	WholeOrderBlocked bool                   `json:"whole_order_blocked"`
	Items             []domain.ShortfallItem `json:"items"`
	Records           []domain.SplitRecord   `json:"records"`
	LoyaltyPoints     int64                  `json:"loyalty_points,omitempty"`

	// остаток исходного заказа оказался оплачен и заказ закрыт
	originClosed  bool
	originBalance domain.Balance
}

// ResolveAction выход из AWAITING_STOCK
type ResolveAction string

const (
	ResolveCancel     ResolveAction = "cancel"
	ResolveSubstitute ResolveAction = "substitute"
)

// Resolution решение по ожидающему заказу; Lines только для substitute
type Resolution struct {
	Action ResolveAction `json:"action"`
	Lines  []LineInput   `json:"lines,omitempty"`
}

// cut сколько единиц строки уходит в ожидание
type cut struct {
	line      *domain.OrderLine
	lineID    int64
	productID int64
	name      string
	quantity  int64
	before    int64
}

// SplitForShortfall блокирует заказ целиком или выносит нехватку в новый заказ
func (s *FulfillmentService) SplitForShortfall(ctx context.Context, orderID int64, shortfalls []Shortfall, allowSplit bool) (*SplitOutcome, error) {
	actor, err := authorize(ctx, s.identity, domain.RoleWaiter)
	if err != nil {
		return nil, err
	}
	if orderID <= 0 || len(shortfalls) == 0 {
		return nil, invalid("order %d: empty shortfall set", orderID)
	}
	seen := make(map[int64]struct{}, len(shortfalls))
	for _, sf := range shortfalls {
		if sf.LineID <= 0 || sf.Quantity <= 0 {
			return nil, invalid("shortfall line %d quantity %d", sf.LineID, sf.Quantity)
		}
		if _, dup := seen[sf.LineID]; dup {
			return nil, invalid("line %d listed twice", sf.LineID)
		}
		seen[sf.LineID] = struct{}{}
	}

	var out *SplitOutcome
	err = s.agg.repos.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.agg.lockOrder(ctx, actor, orderID)
		if err != nil {
			return err
		}
		if err := ensureEditable(o); err != nil {
			return err
		}

		cuts, err := planCuts(o, shortfalls)
		if err != nil {
			return err
		}
		before := map[int64]int64{}
		for _, l := range o.LiveLines() {
			before[l.ProductID] += l.Quantity
		}

		// без незатронутых строк заказ блокируется целиком, даже если у строки остаётся часть
		unaffected := false
		for _, l := range o.LiveLines() {
			if _, affected := seen[l.ID]; !affected {
				unaffected = true
				break
			}
		}

		whole := !allowSplit || !unaffected
		if whole {
			out, err = s.blockWhole(ctx, o, cuts)
		} else {
			out, err = s.carve(ctx, o, cuts)
		}
		if err != nil {
			return err
		}

		out.Items, out.Records, err = s.record(ctx, o, out, cuts, before)
		if err != nil {
			return err
		}
		// товар снимается с продажи сразу; уже зарезервированное не отзывается
		for _, it := range out.Items {
			note := fmt.Sprintf("shortfall on order %d", o.ID)
			if _, err := s.inventory.setLimit(ctx, actor, it.ProductID, 0, note); err != nil {
				return err
			}
		}

		ev := domain.OrderSplit{
			OriginOrderID:     o.ID,
			TableID:           o.TableID,
			WholeOrderBlocked: out.WholeOrderBlocked,
			Items:             out.Items,
		}
		if out.Sibling != nil {
			ev.ResultingOrderID = out.Sibling.ID
		}
		return s.agg.events.add(ctx, o.TenantID, ev)
	})
	if err != nil {
		reportConsistency("split_for_shortfall", orderID, err)
		return nil, err
	}
	s.agg.events.kick()
	if out.originClosed {
		out.LoyaltyPoints = s.agg.awardAfterClose(ctx, out.Origin, out.originBalance)
	}
	zap.L().Info("order split for shortfall",
		zap.Int64("order_id", orderID),
		zap.Bool("whole_order_blocked", out.WholeOrderBlocked),
		zap.Int("products", len(out.Items)),
	)
	return out, nil
}

// planCuts проверяет строки и ограничивает нехватку количеством строки
func planCuts(o *domain.Order, shortfalls []Shortfall) ([]cut, error) {
	cuts := make([]cut, 0, len(shortfalls))
	for _, sf := range shortfalls {
		l, ok := o.Line(sf.LineID)
		if !ok || !l.Live() {
			return nil, invalid("line %d not on order %d", sf.LineID, o.ID)
		}
		if l.State == domain.LineStateDelivered {
			return nil, errors.Wrapf(ErrInvalidTransition, "line %d already delivered", l.ID)
		}
		q := sf.Quantity
		if q > l.Quantity {
			q = l.Quantity
		}
		if q > l.Outstanding() {
			return nil, invalid("line %d: shortfall %d exceeds unpaid %d", l.ID, q, l.Outstanding())
		}
		cuts = append(cuts, cut{line: l, lineID: l.ID, productID: l.ProductID, name: l.Name, quantity: q, before: l.Quantity})
	}
	return cuts, nil
}

// blockWhole переводит весь заказ в AWAITING_STOCK без создания нового
func (s *FulfillmentService) blockWhole(ctx context.Context, o *domain.Order, cuts []cut) (*SplitOutcome, error) {
	for _, l := range o.LiveLines() {
		if l.PaidQuantity > 0 {
			return nil, errors.Wrapf(ErrInvalidTransition, "order %d has paid lines and cannot be blocked", o.ID)
		}
	}
	for _, c := range cuts {
		c.line.ShortfallQuantity = c.quantity
		if err := s.agg.repos.Orders.UpdateLine(ctx, c.line); err != nil {
			return nil, err
		}
	}
	if err := o.Transition(domain.OrderStateAwaitingStock); err != nil {
		return nil, err
	}
	if _, _, err := s.agg.refresh(ctx, o); err != nil {
		return nil, err
	}
	return &SplitOutcome{Origin: o, WholeOrderBlocked: true}, nil
}

// carve переносит нехватку в новый заказ; остальное продолжает готовиться
func (s *FulfillmentService) carve(ctx context.Context, o *domain.Order, cuts []cut) (*SplitOutcome, error) {
	totalBefore := o.RecomputeTotal()
	origin := o.ID
	sibling := &domain.Order{
		TenantID:      o.TenantID,
		Type:          o.Type,
		TableID:       o.TableID,
		CustomerName:  o.CustomerName,
		CustomerID:    o.CustomerID,
		WaiterID:      o.WaiterID,
		OriginOrderID: &origin,
		State:         domain.OrderStateAwaitingStock,
		PaymentState:  domain.PaymentStateUnpaid,
		Total:         decimal.Zero,
		Lines:         []domain.OrderLine{},
	}
	if err := s.agg.repos.Orders.Create(ctx, sibling); err != nil {
		return nil, err
	}

	moved := map[int64]bool{}
	shortOf := map[int64]int64{}
	for _, c := range cuts {
		l := c.line
		if c.quantity == l.Quantity {
			l.OrderID = sibling.ID
			l.ShortfallQuantity = l.Quantity
			if err := s.agg.repos.Orders.UpdateLine(ctx, l); err != nil {
				return nil, err
			}
			sibling.Lines = append(sibling.Lines, *l)
			moved[l.ID] = true
			shortOf[l.ID] = l.Quantity
			continue
		}
		l.Quantity -= c.quantity
		l.IsPaid = l.PaidQuantity == l.Quantity
		if err := s.agg.repos.Orders.UpdateLine(ctx, l); err != nil {
			return nil, err
		}
		from := l.ID
		nl := &domain.OrderLine{
			OrderID:           sibling.ID,
			ProductID:         l.ProductID,
			Name:              l.Name,
			Quantity:          c.quantity,
			UnitPrice:         l.UnitPrice,
			State:             domain.LineStateInserted,
			Station:           l.Station,
			ShortfallQuantity: c.quantity,
			SplitFromLineID:   &from,
		}
		if err := s.agg.repos.Orders.CreateLine(ctx, nl); err != nil {
			return nil, err
		}
		sibling.Lines = append(sibling.Lines, *nl)
		shortOf[l.ID] = c.quantity
	}

	kept := make([]domain.OrderLine, 0, len(o.Lines))
	for _, l := range o.Lines {
		if !moved[l.ID] {
			kept = append(kept, l)
		}
	}
	o.Lines = kept

	for _, c := range cuts {
		var remaining int64
		if l, ok := o.Line(c.lineID); ok {
			remaining = l.Quantity
		}
		if remaining+shortOf[c.lineID] != c.before {
			return nil, errors.Wrapf(ErrConsistency, "line %d: kept %d + moved %d != %d",
				c.lineID, remaining, shortOf[c.lineID], c.before)
		}
	}

	if _, _, err := s.agg.refresh(ctx, sibling); err != nil {
		return nil, err
	}
	bal, closed, err := s.agg.refresh(ctx, o)
	if err != nil {
		return nil, err
	}
	if sum := o.Total.Add(sibling.Total); !sum.Equal(totalBefore) {
		return nil, errors.Wrapf(ErrConsistency, "order %d: split totals %s + %s != %s",
			o.ID, o.Total, sibling.Total, totalBefore)
	}
	return &SplitOutcome{Origin: o, Sibling: sibling, originClosed: closed, originBalance: bal}, nil
}

// record пишет одну запись аудита на товар
func (s *FulfillmentService) record(ctx context.Context, o *domain.Order, out *SplitOutcome, cuts []cut, before map[int64]int64) ([]domain.ShortfallItem, []domain.SplitRecord, error) {
	byProduct := map[int64]*domain.ShortfallItem{}
	for _, c := range cuts {
		it, ok := byProduct[c.productID]
		if !ok {
			it = &domain.ShortfallItem{ProductID: c.productID, Name: c.name}
			byProduct[c.productID] = it
		}
		it.Quantity += c.quantity
	}
	items := make([]domain.ShortfallItem, 0, len(byProduct))
	for _, it := range byProduct {
		items = append(items, *it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	resulting := o.ID
	if out.Sibling != nil {
		resulting = out.Sibling.ID
	}
	records := make([]domain.SplitRecord, 0, len(items))
	for _, it := range items {
		r := domain.SplitRecord{
			OriginOrderID:              o.ID,
			ResultingOrderID:           resulting,
			ProductID:                  it.ProductID,
			Name:                       it.Name,
			ShortfallQuantity:          it.Quantity,
			TotalQuantityAtTimeOfSplit: before[it.ProductID],
			WasWholeOrderBlocked:       out.WholeOrderBlocked,
		}
		if err := s.agg.repos.Splits.Create(ctx, &r); err != nil {
			return nil, nil, err
		}
		records = append(records, r)
	}
	return items, records, nil
}

// ResolveAwaitingOrder отменяет ожидающий заказ или заменяет его строки
func (s *FulfillmentService) ResolveAwaitingOrder(ctx context.Context, orderID int64, res Resolution) (*domain.Order, error) {
	actor, err := authorize(ctx, s.identity, domain.RoleWaiter)
	if err != nil {
		return nil, err
	}
	if orderID <= 0 {
		return nil, ErrInvalidInput
	}
	switch res.Action {
	case ResolveCancel:
	case ResolveSubstitute:
		if len(res.Lines) == 0 {
			return nil, invalid("substitute requires at least one line")
		}
		for _, in := range res.Lines {
			if err := in.validate(); err != nil {
				return nil, err
			}
		}
	default:
		return nil, invalid("resolve action %q", res.Action)
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
		if o.State != domain.OrderStateAwaitingStock {
			return errors.Wrapf(ErrInvalidTransition, "order %d is %s, not awaiting stock", o.ID, o.State)
		}
		for _, l := range o.Lines {
			if l.PaidQuantity > 0 {
				return errors.Wrapf(ErrConsistency, "order %d awaiting stock has paid line %d", o.ID, l.ID)
			}
		}
		if res.Action == ResolveCancel {
			if err := cancelOrderTx(ctx, s.agg, s.inventory, actor, o, "stock unavailable"); err != nil {
				return err
			}
			updated = o
			return nil
		}
		if err := s.substitute(ctx, actor, o, res.Lines); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		reportConsistency("resolve_awaiting_order", orderID, err)
		return nil, err
	}
	s.agg.events.kick()
	return updated, nil
}

// substitute заменяет все строки заказа и возвращает его в ORDERED
func (s *FulfillmentService) substitute(ctx context.Context, actor domain.Actor, o *domain.Order, lines []LineInput) error {
	for _, l := range o.LiveLines() {
		if _, err := s.inventory.release(ctx, actor, l.ProductID, l.Quantity-l.ShortfallQuantity); err != nil {
			return err
		}
		l.State = domain.LineStateCancelled
		if err := s.agg.repos.Orders.UpdateLine(ctx, l); err != nil {
			return err
		}
	}
	for _, in := range lines {
		nl, err := createLine(ctx, s.agg.repos, s.inventory, actor, o.ID, in)
		if err != nil {
			return err
		}
		o.Lines = append(o.Lines, *nl)
	}
	if err := o.Transition(domain.OrderStateOrdered); err != nil {
		return err
	}
	if _, _, err := s.agg.refresh(ctx, o); err != nil {
		return err
	}
	return s.agg.events.add(ctx, o.TenantID, domain.OrderSubstituted{OrderID: o.ID, TableID: o.TableID, Total: o.Total})
}

// ListSplits журнал разделений, где заказ исходный или результирующий
func (s *FulfillmentService) ListSplits(ctx context.Context, orderID int64) ([]domain.SplitRecord, error) {
	actor, err := authorize(ctx, s.identity, domain.RoleGuest)
	if err != nil {
		return nil, err
	}
	if orderID <= 0 {
		return nil, ErrInvalidInput
	}
	o, err := s.agg.repos.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkTenant(actor, o.TenantID); err != nil {
		return nil, err
	}
	return s.agg.repos.Splits.ListByOrder(ctx, orderID)
}
