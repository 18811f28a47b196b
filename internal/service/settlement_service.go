package service

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"tablepos/internal/domain"
	"tablepos/internal/repository"
)

// Loyalty внешний сервис начисления баллов; вызывается после коммита
type Loyalty interface {
	AwardPoints(ctx context.Context, orderID, customerID int64, amount decimal.Decimal) (int64, error)
}

// SettlementService платежи по строкам, долги и остаток к оплате
type SettlementService struct {
	agg      aggregate
	identity Identity
}

func NewSettlementService(repos repository.Repositories, identity Identity, notifier Notifier, loyalty Loyalty) *SettlementService {
	return &SettlementService{agg: newAggregate(repos, notifier, loyalty), identity: identity}
}

// LineSelection строка и количество единиц к оплате
type LineSelection struct {
	LineID   int64 `json:"line_id,string"`
	Quantity int64 `json:"quantity"`
}

// Receipt результат оплаты
type Receipt struct {
	Payment       *domain.PaymentRecord `json:"payment"`
	Balance       domain.Balance        `json:"balance"`
	OrderState    domain.OrderState     `json:"order_state"`
	LoyaltyPoints int64                 `json:"loyalty_points,omitempty"`
}

// DebtReceipt результат погашения долга
type DebtReceipt struct {
	Debt          *domain.DebtRecord  `json:"debt"`
	Payment       *domain.DebtPayment `json:"payment"`
	LoyaltyPoints int64               `json:"loyalty_points,omitempty"`
}

type selector func(o *domain.Order) ([]LineSelection, error)

// PayLines оплачивает выбранные единицы строк
func (s *SettlementService) PayLines(ctx context.Context, orderID int64, selection []LineSelection, method, payerName string) (*Receipt, error) {
	if len(selection) == 0 {
		return nil, invalid("order %d: empty selection", orderID)
	}
	seen := make(map[int64]struct{}, len(selection))
	for _, sel := range selection {
		if sel.LineID <= 0 || sel.Quantity <= 0 {
			return nil, invalid("selection line %d quantity %d", sel.LineID, sel.Quantity)
		}
		if _, dup := seen[sel.LineID]; dup {
			return nil, invalid("line %d selected twice", sel.LineID)
		}
		seen[sel.LineID] = struct{}{}
	}
	return s.settle(ctx, orderID, method, payerName, func(*domain.Order) ([]LineSelection, error) {
		return selection, nil
	})
}

// PayRemainder оплачивает все неоплаченные единицы заказа
func (s *SettlementService) PayRemainder(ctx context.Context, orderID int64, method, payerName string) (*Receipt, error) {
	return s.settle(ctx, orderID, method, payerName, func(o *domain.Order) ([]LineSelection, error) {
		var sel []LineSelection
		for _, l := range o.LiveLines() {
			if n := l.Outstanding(); n > 0 {
				sel = append(sel, LineSelection{LineID: l.ID, Quantity: n})
			}
		}
		if len(sel) == 0 {
			return nil, invalid("order %d: nothing left to pay", o.ID)
		}
		return sel, nil
	})
}

func (s *SettlementService) settle(ctx context.Context, orderID int64, method, payerName string, pick selector) (*Receipt, error) {
	actor, err := authorize(ctx, s.identity, domain.RoleWaiter)
	if err != nil {
		return nil, err
	}
	method = strings.TrimSpace(method)
	if orderID <= 0 || method == "" {
		return nil, invalid("order %d method %q", orderID, method)
	}

	var (
		receipt Receipt
		closed  bool
		order   *domain.Order
	)
	err = s.agg.repos.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.agg.lockOrder(ctx, actor, orderID)
		if err != nil {
			return err
		}
		if o.State == domain.OrderStatePaid {
			return errors.Wrapf(ErrOrderAlreadySettled, "order %d", o.ID)
		}
		if !o.State.Payable() {
			return errors.Wrapf(ErrInvalidTransition, "order %d is %s and cannot take payments", o.ID, o.State)
		}
		selection, err := pick(o)
		if err != nil {
			return err
		}

		p := &domain.PaymentRecord{
			OrderID:    o.ID,
			Amount:     decimal.Zero,
			Method:     method,
			PayerName:  payerName,
			OperatorID: actor.ID,
		}
		for _, sel := range selection {
			l, ok := o.Line(sel.LineID)
			if !ok || !l.Live() {
				return invalid("line %d not on order %d", sel.LineID, o.ID)
			}
			if l.IsPaid || l.Outstanding() == 0 {
				return invalid("line %d already paid", l.ID)
			}
			if sel.Quantity > l.Outstanding() {
				return invalid("line %d: selected %d, outstanding %d", l.ID, sel.Quantity, l.Outstanding())
			}
			amount := l.UnitPrice.Mul(decimal.NewFromInt(sel.Quantity))
			p.Amount = p.Amount.Add(amount)
			p.Items = append(p.Items, domain.PaymentItem{LineID: l.ID, Quantity: sel.Quantity, Amount: amount})

			l.PaidQuantity += sel.Quantity
			l.IsPaid = l.PaidQuantity == l.Quantity
			if payerName != "" {
				l.PaidByName = payerName
			}
			if err := s.agg.repos.Orders.UpdateLine(ctx, l); err != nil {
				return err
			}
		}
		if err := s.agg.repos.Payments.Create(ctx, p); err != nil {
			return err
		}

		bal, isClosed, err := s.agg.refresh(ctx, o)
		if err != nil {
			return err
		}
		if err := s.agg.events.add(ctx, o.TenantID, domain.PaymentRecorded{
			OrderID:   o.ID,
			PaymentID: p.ID,
			Amount:    p.Amount,
			Remainder: bal.Remainder,
		}); err != nil {
			return err
		}
		receipt = Receipt{Payment: p, Balance: bal, OrderState: o.State}
		closed = isClosed
		order = o
		return nil
	})
	if err != nil {
		reportConsistency("pay_lines", orderID, err)
		return nil, err
	}
	s.agg.events.kick()
	if closed {
		receipt.LoyaltyPoints = s.agg.awardAfterClose(ctx, order, receipt.Balance)
	}
	return &receipt, nil
}

// DebtInput перенос остатка заказа в долг клиента
type DebtInput struct {
	CustomerID int64           `json:"customer_id,string"`
	OrderID    int64           `json:"order_id,string"`
	Amount     decimal.Decimal `json:"amount"`
}

// RecordDebt закрывает остаток заказа долгом; строки не помечаются оплаченными
func (s *SettlementService) RecordDebt(ctx context.Context, in DebtInput) (*domain.DebtRecord, error) {
	actor, err := authorize(ctx, s.identity, domain.RoleWaiter)
	if err != nil {
		return nil, err
	}
	if in.CustomerID <= 0 || in.OrderID <= 0 || !in.Amount.IsPositive() || !domain.ValidMoney(in.Amount) {
		return nil, invalid("debt customer %d order %d amount %s", in.CustomerID, in.OrderID, in.Amount)
	}
	var debt *domain.DebtRecord
	err = s.agg.repos.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.agg.lockOrder(ctx, actor, in.OrderID)
		if err != nil {
			return err
		}
		if o.State == domain.OrderStatePaid {
			return errors.Wrapf(ErrOrderAlreadySettled, "order %d", o.ID)
		}
		if !o.State.Payable() {
			return errors.Wrapf(ErrInvalidTransition, "order %d is %s and cannot be deferred", o.ID, o.State)
		}
		bal, err := s.agg.balance(ctx, o)
		if err != nil {
			return err
		}
		if !in.Amount.Equal(bal.Remainder) {
			return invalid("order %d: debt %s must equal remainder %s", o.ID, in.Amount, bal.Remainder)
		}
		d := &domain.DebtRecord{
			TenantID:   o.TenantID,
			CustomerID: in.CustomerID,
			OrderID:    o.ID,
			Amount:     in.Amount,
			AmountPaid: decimal.Zero,
			State:      domain.DebtStateOpen,
		}
		if err := s.agg.repos.Debts.Create(ctx, d); err != nil {
			return err
		}
		if o.CustomerID == nil {
			cid := in.CustomerID
			o.CustomerID = &cid
		}
		if _, _, err := s.agg.refresh(ctx, o); err != nil {
			return err
		}
		debt = d
		return s.agg.events.add(ctx, o.TenantID, domain.DebtRecorded{
			DebtID:     d.ID,
			OrderID:    o.ID,
			CustomerID: d.CustomerID,
			Amount:     d.Amount,
		})
	})
	if err != nil {
		reportConsistency("record_debt", in.OrderID, err)
		return nil, err
	}
	s.agg.events.kick()
	return debt, nil
}

// PayDebt гасит долг; заказ уже закрыт и не меняется
func (s *SettlementService) PayDebt(ctx context.Context, debtID int64, amount decimal.Decimal, method string) (*DebtReceipt, error) {
	actor, err := authorize(ctx, s.identity, domain.RoleWaiter)
	if err != nil {
		return nil, err
	}
	method = strings.TrimSpace(method)
	if debtID <= 0 || !amount.IsPositive() || !domain.ValidMoney(amount) || method == "" {
		return nil, invalid("debt %d amount %s method %q", debtID, amount, method)
	}
	var receipt DebtReceipt
	err = s.agg.repos.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		d, err := s.agg.repos.Debts.GetForUpdate(ctx, debtID)
		if err != nil {
			return err
		}
		if err := checkTenant(actor, d.TenantID); err != nil {
			return err
		}
		if d.State == domain.DebtStateSettled {
			return errors.Wrapf(ErrOrderAlreadySettled, "debt %d", d.ID)
		}
		if amount.GreaterThan(d.Outstanding()) {
			return invalid("debt %d: amount %s exceeds outstanding %s", d.ID, amount, d.Outstanding())
		}
		p := &domain.DebtPayment{DebtID: d.ID, Amount: amount, Method: method, OperatorID: actor.ID}
		if err := s.agg.repos.Debts.AddPayment(ctx, p); err != nil {
			return err
		}
		d.AmountPaid = d.AmountPaid.Add(amount)
		if d.Outstanding().IsZero() {
			d.State = domain.DebtStateSettled
		} else {
			d.State = domain.DebtStatePartiallyPaid
		}
		if err := s.agg.repos.Debts.Update(ctx, d); err != nil {
			return err
		}
		d.Payments = append(d.Payments, *p)
		receipt = DebtReceipt{Debt: d, Payment: p}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if receipt.Debt.State == domain.DebtStateSettled {
		receipt.LoyaltyPoints = s.agg.award(ctx, receipt.Debt.OrderID, receipt.Debt.CustomerID, receipt.Debt.Amount)
	}
	return &receipt, nil
}

// GetDebt возвращает долг с историей погашений
func (s *SettlementService) GetDebt(ctx context.Context, debtID int64) (*domain.DebtRecord, error) {
	actor, err := authorize(ctx, s.identity, domain.RoleGuest)
	if err != nil {
		return nil, err
	}
	if debtID <= 0 {
		return nil, ErrInvalidInput
	}
	d, err := s.agg.repos.Debts.GetByID(ctx, debtID)
	if err != nil {
		return nil, err
	}
	if err := checkTenant(actor, d.TenantID); err != nil {
		return nil, err
	}
	return d, nil
}

// ListDebts долги клиента в рамках арендатора
func (s *SettlementService) ListDebts(ctx context.Context, customerID int64) ([]domain.DebtRecord, error) {
	actor, err := authorize(ctx, s.identity, domain.RoleGuest)
	if err != nil {
		return nil, err
	}
	if customerID <= 0 {
		return nil, ErrInvalidInput
	}
	all, err := s.agg.repos.Debts.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DebtRecord, 0, len(all))
	for _, d := range all {
		if d.TenantID == actor.TenantID {
			out = append(out, d)
		}
	}
	return out, nil
}

// GetBalance итог, оплачено, отложено и остаток
func (s *SettlementService) GetBalance(ctx context.Context, orderID int64) (*domain.Balance, error) {
	o, err := s.readOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	bal, err := s.agg.balance(ctx, o)
	if err != nil {
		return nil, err
	}
	return &bal, nil
}

// ListPayments платежи заказа в порядке создания
func (s *SettlementService) ListPayments(ctx context.Context, orderID int64) ([]domain.PaymentRecord, error) {
	o, err := s.readOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.agg.repos.Payments.ListByOrder(ctx, o.ID)
}

func (s *SettlementService) readOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
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
	return o, nil
}
