package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidTransition недопустимый переход состояния
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrConsistency нарушен инвариант сумм или количеств
	ErrConsistency = errors.New("consistency violation")
)

// OrderState состояние заказа
type OrderState string

const (
	OrderStateOrdered          OrderState = "ORDERED"
	OrderStateInProgress       OrderState = "IN_PROGRESS"
	OrderStateReady            OrderState = "READY"
	OrderStateDelivered        OrderState = "DELIVERED"
	OrderStateBillRequested    OrderState = "BILL_REQUESTED"
	OrderStatePaymentRequested OrderState = "PAYMENT_REQUESTED"
	OrderStatePaid             OrderState = "PAID"
	OrderStateCancelled        OrderState = "CANCELLED"
	OrderStateAwaitingStock    OrderState = "AWAITING_STOCK"
)

var orderTransitions = map[OrderState][]OrderState{
	OrderStateOrdered:          {OrderStateInProgress, OrderStateCancelled, OrderStateAwaitingStock},
	OrderStateInProgress:       {OrderStateReady, OrderStateCancelled, OrderStateAwaitingStock},
	OrderStateReady:            {OrderStateDelivered, OrderStateCancelled, OrderStateAwaitingStock},
	OrderStateDelivered:        {OrderStateBillRequested, OrderStatePaymentRequested},
	OrderStateBillRequested:    {OrderStatePaymentRequested, OrderStatePaid},
	OrderStatePaymentRequested: {OrderStatePaid},
	OrderStateAwaitingStock:    {OrderStateOrdered, OrderStateCancelled},
}

func (s OrderState) Valid() bool {
	if s == OrderStatePaid || s == OrderStateCancelled {
		return true
	}
	_, ok := orderTransitions[s]
	return ok
}

func (s OrderState) Terminal() bool {
	return s == OrderStatePaid || s == OrderStateCancelled
}

// Payable заказ можно закрыть оплатой
func (s OrderState) Payable() bool {
	switch s {
	case OrderStateOrdered, OrderStateInProgress, OrderStateReady, OrderStateDelivered,
		OrderStateBillRequested, OrderStatePaymentRequested:
		return true
	}
	return false
}

// Splittable заказ ещё в работе и может быть разделён из-за нехватки
func (s OrderState) Splittable() bool {
	switch s {
	case OrderStateOrdered, OrderStateInProgress, OrderStateReady:
		return true
	}
	return false
}

// CanTransition проверяет ребро графа состояний заказа
func CanTransition(from, to OrderState) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// LineState состояние строки заказа
type LineState string

const (
	LineStateInserted   LineState = "INSERTED"
	LineStateInProgress LineState = "IN_PROGRESS"
	LineStateReady      LineState = "READY"
	LineStateDelivered  LineState = "DELIVERED"
	LineStateCancelled  LineState = "CANCELLED"
)

var lineRank = map[LineState]int{
	LineStateInserted:   0,
	LineStateInProgress: 1,
	LineStateReady:      2,
	LineStateDelivered:  3,
}

func (s LineState) Valid() bool {
	if s == LineStateCancelled {
		return true
	}
	_, ok := lineRank[s]
	return ok
}

// CanAdvanceLine строка двигается только вперёд; отменить можно до выдачи
func CanAdvanceLine(from, to LineState) bool {
	if from == LineStateCancelled || from == LineStateDelivered {
		return false
	}
	if to == LineStateCancelled {
		return true
	}
	fr, ok1 := lineRank[from]
	tr, ok2 := lineRank[to]
	return ok1 && ok2 && tr > fr
}

// PaymentState производное состояние оплаты
type PaymentState string

const (
	PaymentStateUnpaid        PaymentState = "UNPAID"
	PaymentStatePartiallyPaid PaymentState = "PARTIALLY_PAID"
	PaymentStatePaid          PaymentState = "PAID"
	PaymentStateSettledByDebt PaymentState = "SETTLED_BY_DEBT"
)

// RecomputeTotal пересчитывает сумму по живым строкам
func (o *Order) RecomputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		if !l.Live() {
			continue
		}
		total = total.Add(l.Amount())
	}
	o.Total = total
	return total
}

// Transition переводит заказ по ребру графа
func (o *Order) Transition(to OrderState) error {
	if !CanTransition(o.State, to) {
		return errors.Wrapf(ErrInvalidTransition, "order %d: %s -> %s", o.ID, o.State, to)
	}
	o.State = to
	if to.Terminal() {
		now := time.Now().UTC()
		o.ClosedAt = &now
	}
	return nil
}

// Settle закрывает заказ оплатой из любого оплачиваемого состояния
func (o *Order) Settle(ps PaymentState) error {
	if !o.State.Payable() {
		return errors.Wrapf(ErrInvalidTransition, "order %d: %s -> %s", o.ID, o.State, OrderStatePaid)
	}
	now := time.Now().UTC()
	o.State = OrderStatePaid
	o.PaymentState = ps
	o.ClosedAt = &now
	return nil
}

// Line возвращает строку заказа по id
func (o *Order) Line(id int64) (*OrderLine, bool) {
	for i := range o.Lines {
		if o.Lines[i].ID == id {
			return &o.Lines[i], true
		}
	}
	return nil, false
}

// LiveLines строки, не отменённые
func (o *Order) LiveLines() []*OrderLine {
	out := make([]*OrderLine, 0, len(o.Lines))
	for i := range o.Lines {
		if o.Lines[i].Live() {
			out = append(out, &o.Lines[i])
		}
	}
	return out
}

// CheckTotal сверяет сохранённую сумму с суммой строк
func (o *Order) CheckTotal() error {
	want := decimal.Zero
	for _, l := range o.Lines {
		if l.Live() {
			want = want.Add(l.Amount())
		}
		if l.Quantity <= 0 || l.PaidQuantity < 0 || l.PaidQuantity > l.Quantity {
			return errors.Wrapf(ErrConsistency, "order %d line %d: quantity %d paid %d", o.ID, l.ID, l.Quantity, l.PaidQuantity)
		}
		if l.OrderID != o.ID {
			return errors.Wrapf(ErrConsistency, "line %d attached to order %d, found on %d", l.ID, l.OrderID, o.ID)
		}
	}
	if !want.Equal(o.Total) {
		return errors.Wrapf(ErrConsistency, "order %d: total %s, lines sum %s", o.ID, o.Total, want)
	}
	return nil
}
