package service

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tablepos/internal/domain"
	"tablepos/internal/repository"
)

// aggregate общие операции над заказом внутри открытой транзакции
type aggregate struct {
	repos   repository.Repositories
	events  eventOutbox
	loyalty Loyalty
}

func newAggregate(repos repository.Repositories, notifier Notifier, loyalty Loyalty) aggregate {
	return aggregate{repos: repos, events: eventOutbox{repo: repos.Outbox, notifier: notifier}, loyalty: loyalty}
}

// lockOrder блокирует заказ и проверяет арендатора
func (a aggregate) lockOrder(ctx context.Context, actor domain.Actor, id int64) (*domain.Order, error) {
	o, err := a.repos.Orders.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTenant(actor, o.TenantID); err != nil {
		return nil, err
	}
	return o, nil
}

// balance считает итог, оплату и долг по записям журнала
func (a aggregate) balance(ctx context.Context, o *domain.Order) (domain.Balance, error) {
	payments, err := a.repos.Payments.ListByOrder(ctx, o.ID)
	if err != nil {
		return domain.Balance{}, err
	}
	debts, err := a.repos.Debts.ListByOrder(ctx, o.ID)
	if err != nil {
		return domain.Balance{}, err
	}
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}
	deferred := decimal.Zero
	for _, d := range debts {
		deferred = deferred.Add(d.Amount)
	}
	covered := paid.Add(deferred)
	remainder := o.Total.Sub(covered)
	b := domain.Balance{Total: o.Total, Paid: paid, Deferred: deferred, Remainder: remainder}
	if remainder.IsNegative() {
		b.Remainder = decimal.Zero
		b.Overpaid = true
	}
	return b, nil
}

func paidByLines(o *domain.Order) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range o.Lines {
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(l.PaidQuantity)))
	}
	return sum
}

func derivePaymentState(b domain.Balance) domain.PaymentState {
	switch {
	case b.Paid.IsZero() && b.Deferred.IsZero():
		return domain.PaymentStateUnpaid
	case b.Remainder.IsPositive():
		return domain.PaymentStatePartiallyPaid
	case b.Deferred.IsPositive():
		return domain.PaymentStateSettledByDebt
	default:
		return domain.PaymentStatePaid
	}
}

// refresh пересчитывает итог и состояние оплаты, проверяет инварианты,
// закрывает полностью оплаченный заказ и сохраняет его
func (a aggregate) refresh(ctx context.Context, o *domain.Order) (domain.Balance, bool, error) {
	o.RecomputeTotal()
	if err := o.CheckTotal(); err != nil {
		return domain.Balance{}, false, err
	}
	bal, err := a.balance(ctx, o)
	if err != nil {
		return domain.Balance{}, false, err
	}
	if byLines := paidByLines(o); !byLines.Equal(bal.Paid) {
		return domain.Balance{}, false, errors.Wrapf(ErrConsistency,
			"order %d: payments sum %s, paid lines sum %s", o.ID, bal.Paid, byLines)
	}
	if bal.Overpaid {
		zap.L().Warn("order overpaid",
			zap.Int64("order_id", o.ID),
			zap.String("total", bal.Total.String()),
			zap.String("paid", bal.Paid.String()),
			zap.String("deferred", bal.Deferred.String()),
		)
	}
	if o.State != domain.OrderStatePaid {
		o.PaymentState = derivePaymentState(bal)
	}
	closed, err := a.closeIfFullyPaid(ctx, o, bal)
	if err != nil {
		return domain.Balance{}, false, err
	}
	if err := a.repos.Orders.Update(ctx, o); err != nil {
		return domain.Balance{}, false, err
	}
	return bal, closed, nil
}

// closeIfFullyPaid переводит заказ в PAID, когда остаток ровно ноль
func (a aggregate) closeIfFullyPaid(ctx context.Context, o *domain.Order, bal domain.Balance) (bool, error) {
	if o.State == domain.OrderStatePaid || !o.State.Payable() {
		return false, nil
	}
	if !bal.Remainder.IsZero() || bal.Paid.Add(bal.Deferred).IsZero() {
		return false, nil
	}
	if err := o.Settle(derivePaymentState(bal)); err != nil {
		return false, err
	}
	if err := a.events.add(ctx, o.TenantID, domain.PaymentCompleted{
		OrderID:      o.ID,
		TableID:      o.TableID,
		Total:        o.Total,
		PaymentState: o.PaymentState,
		ClosedAt:     *o.ClosedAt,
	}); err != nil {
		return false, err
	}
	if err := a.releaseTableIfIdle(ctx, o); err != nil {
		return false, err
	}
	return true, nil
}

// releaseTableIfIdle освобождает стол, если на нём не осталось открытых заказов
func (a aggregate) releaseTableIfIdle(ctx context.Context, o *domain.Order) error {
	if o.TableID == nil {
		return nil
	}
	t, err := a.repos.Tables.GetForUpdate(ctx, *o.TableID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	open, err := a.repos.Orders.ListOpenByTable(ctx, t.ID)
	if err != nil {
		return err
	}
	for _, other := range open {
		if other.ID != o.ID {
			return nil
		}
	}
	if t.Status == domain.TableStatusFree {
		return nil
	}
	t.Status = domain.TableStatusFree
	return a.repos.Tables.Update(ctx, t)
}

// awardAfterClose начисляет баллы за заказ, закрытый в уже завершённой транзакции
func (a aggregate) awardAfterClose(ctx context.Context, o *domain.Order, bal domain.Balance) int64 {
	if o == nil || o.CustomerID == nil || o.State != domain.OrderStatePaid {
		return 0
	}
	return a.award(ctx, o.ID, *o.CustomerID, bal.Paid)
}

// award начисление баллов не влияет на результат операции
func (a aggregate) award(ctx context.Context, orderID, customerID int64, amount decimal.Decimal) int64 {
	if a.loyalty == nil {
		return 0
	}
	points, err := a.loyalty.AwardPoints(ctx, orderID, customerID, amount)
	if err != nil {
		zap.L().Warn("loyalty award failed",
			zap.Int64("order_id", orderID),
			zap.Int64("customer_id", customerID),
			zap.String("amount", amount.String()),
			zap.Error(err),
		)
		return 0
	}
	return points
}
