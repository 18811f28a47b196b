package service

import (
	"context"
	"errors"
	"testing"

	"tablepos/internal/domain"
)

func TestPayLines_PartialQuantity(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	o := e.openOrder(t, line(1, "Pasta", 4, "2.50"))
	l := lineOf(t, o, 1)
	if !o.Total.Equal(money("10.00")) {
		t.Fatalf("total %s", o.Total)
	}

	r, err := e.settlement.PayLines(ctx, o.ID, []LineSelection{{LineID: l.ID, Quantity: 2}}, "cash", "Bob")
	if err != nil {
		t.Fatalf("pay 2: %v", err)
	}
	if !r.Payment.Amount.Equal(money("5.00")) || !r.Balance.Remainder.Equal(money("5.00")) {
		t.Fatalf("after 2 units: amount %s remainder %s", r.Payment.Amount, r.Balance.Remainder)
	}
	if r.OrderState != domain.OrderStateOrdered {
		t.Fatalf("state %s", r.OrderState)
	}
	got := e.order(t, o.ID)
	if got.PaymentState != domain.PaymentStatePartiallyPaid {
		t.Fatalf("payment state %s", got.PaymentState)
	}
	gl := lineOf(t, got, 1)
	if gl.PaidQuantity != 2 || gl.IsPaid || gl.PaidByName != "Bob" {
		t.Fatalf("line after partial payment %+v", gl)
	}

	r, err = e.settlement.PayLines(ctx, o.ID, []LineSelection{{LineID: l.ID, Quantity: 2}}, "card", "")
	if err != nil {
		t.Fatalf("pay rest: %v", err)
	}
	if !r.Balance.Remainder.IsZero() || r.OrderState != domain.OrderStatePaid {
		t.Fatalf("after all units: remainder %s state %s", r.Balance.Remainder, r.OrderState)
	}
	got = e.order(t, o.ID)
	if got.PaymentState != domain.PaymentStatePaid || got.ClosedAt == nil || !lineOf(t, got, 1).IsPaid {
		t.Fatalf("closed order %+v", got)
	}
	types := pendingTypes(t, e)
	if countType(types, domain.EventPaymentRecorded) != 2 || countType(types, domain.EventPaymentCompleted) != 1 {
		t.Fatalf("unexpected events %v", types)
	}

	if _, err := e.settlement.PayLines(ctx, o.ID, []LineSelection{{LineID: l.ID, Quantity: 1}}, "cash", ""); !errors.Is(err, ErrOrderAlreadySettled) {
		t.Fatalf("paid order must reject payments, got %v", err)
	}
}

func TestPayLines_NoDoublePayment(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	o := e.openOrder(t, line(1, "Pizza", 1, "8.00"), line(2, "Beer", 2, "4.00"))
	pizza := lineOf(t, o, 1)
	beer := lineOf(t, o, 2)

	if _, err := e.settlement.PayLines(ctx, o.ID, []LineSelection{{LineID: pizza.ID, Quantity: 1}}, "cash", ""); err != nil {
		t.Fatalf("pay pizza: %v", err)
	}
	if _, err := e.settlement.PayLines(ctx, o.ID, []LineSelection{{LineID: pizza.ID, Quantity: 1}}, "cash", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("repaying a paid line, got %v", err)
	}
	if _, err := e.settlement.PayLines(ctx, o.ID, []LineSelection{{LineID: beer.ID, Quantity: 3}}, "cash", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("over outstanding quantity, got %v", err)
	}
	mixed := []LineSelection{{LineID: beer.ID, Quantity: 1}, {LineID: pizza.ID, Quantity: 1}}
	if _, err := e.settlement.PayLines(ctx, o.ID, mixed, "cash", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("selection with a paid line, got %v", err)
	}
	// неудачная оплата не оставляет следов
	bal, err := e.settlement.GetBalance(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !bal.Paid.Equal(money("8.00")) || !bal.Remainder.Equal(money("8.00")) {
		t.Fatalf("balance %+v", bal)
	}
	if lineOf(t, e.order(t, o.ID), 2).PaidQuantity != 0 {
		t.Fatalf("beer must stay unpaid")
	}
	if _, err := e.settlement.PayLines(ctx, o.ID, nil, "cash", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty selection, got %v", err)
	}
	if _, err := e.settlement.PayLines(ctx, o.ID, []LineSelection{{LineID: beer.ID, Quantity: 1}}, " ", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank method, got %v", err)
	}
}

func TestPayLines_RemainderMonotonic(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	o := e.openOrder(t, line(1, "A", 3, "1.10"), line(2, "B", 2, "2.35"), line(3, "C", 1, "0.90"))
	o = e.order(t, o.ID)

	prev := o.Total
	steps := []LineSelection{
		{LineID: lineOf(t, o, 1).ID, Quantity: 1},
		{LineID: lineOf(t, o, 2).ID, Quantity: 2},
		{LineID: lineOf(t, o, 1).ID, Quantity: 2},
		{LineID: lineOf(t, o, 3).ID, Quantity: 1},
	}
	for i, sel := range steps {
		r, err := e.settlement.PayLines(ctx, o.ID, []LineSelection{sel}, "cash", "")
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if r.Balance.Remainder.GreaterThan(prev) {
			t.Fatalf("step %d: remainder grew %s -> %s", i, prev, r.Balance.Remainder)
		}
		last := i == len(steps)-1
		if r.Balance.Remainder.IsZero() != last || (r.OrderState == domain.OrderStatePaid) != last {
			t.Fatalf("step %d: remainder %s state %s", i, r.Balance.Remainder, r.OrderState)
		}
		prev = r.Balance.Remainder
	}
}

func TestPayRemainder_AwardsLoyalty(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	cust := int64(42)
	o, err := e.orders.OpenOrder(ctx, OpenOrderInput{Type: domain.OrderTypeCounter, CustomerID: &cust})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.orders.AddLine(ctx, o.ID, line(1, "Cake", 2, "3.00")); err != nil {
		t.Fatal(err)
	}

	r, err := e.settlement.PayRemainder(ctx, o.ID, "card", "")
	if err != nil {
		t.Fatalf("pay remainder: %v", err)
	}
	if r.OrderState != domain.OrderStatePaid || r.LoyaltyPoints != 12 {
		t.Fatalf("receipt %+v", r)
	}
	if len(e.loyalty.calls) != 1 || e.loyalty.calls[0].customerID != cust || !e.loyalty.calls[0].amount.Equal(money("6.00")) {
		t.Fatalf("loyalty calls %+v", e.loyalty.calls)
	}
	if len(r.Payment.CoveredLineIDs()) != 1 {
		t.Fatalf("covered lines %v", r.Payment.CoveredLineIDs())
	}
	payments, err := e.settlement.ListPayments(ctx, o.ID)
	if err != nil || len(payments) != 1 {
		t.Fatalf("list payments: %v %d", err, len(payments))
	}
}

func TestPayRemainder_LoyaltyFailureDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	e.loyalty.err = errors.New("loyalty down")
	cust := int64(42)
	o, _ := e.orders.OpenOrder(ctx, OpenOrderInput{Type: domain.OrderTypeCounter, CustomerID: &cust})
	if _, err := e.orders.AddLine(ctx, o.ID, line(1, "Cake", 1, "3.00")); err != nil {
		t.Fatal(err)
	}
	r, err := e.settlement.PayRemainder(ctx, o.ID, "cash", "")
	if err != nil {
		t.Fatalf("settlement must succeed: %v", err)
	}
	if r.LoyaltyPoints != 0 || e.order(t, o.ID).State != domain.OrderStatePaid {
		t.Fatalf("receipt %+v", r)
	}
}

func TestPayment_ReleasesTableOnlyWhenIdle(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	e.as(domain.RoleManager)
	tbl, _ := e.tables.CreateTable(ctx, "T4")
	e.as(domain.RoleWaiter)

	a, _ := e.orders.OpenOrder(ctx, OpenOrderInput{Type: domain.OrderTypeDineIn, TableID: &tbl.ID})
	b, _ := e.orders.OpenOrder(ctx, OpenOrderInput{Type: domain.OrderTypeDineIn, TableID: &tbl.ID})
	for _, id := range []int64{a.ID, b.ID} {
		if _, err := e.orders.AddLine(ctx, id, line(1, "Wine", 1, "6.00")); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := e.settlement.PayRemainder(ctx, a.ID, "cash", ""); err != nil {
		t.Fatal(err)
	}
	if got, _ := e.tables.GetTable(ctx, tbl.ID); got.Status != domain.TableStatusOccupied {
		t.Fatalf("table has another open order")
	}
	if _, err := e.settlement.PayRemainder(ctx, b.ID, "cash", ""); err != nil {
		t.Fatal(err)
	}
	if got, _ := e.tables.GetTable(ctx, tbl.ID); got.Status != domain.TableStatusFree {
		t.Fatalf("table should be free")
	}
}

func TestDebt_SettlesOrderWithoutDoubleCounting(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	o := e.openOrder(t, line(1, "Dinner", 2, "15.00"))
	l := lineOf(t, o, 1)
	if _, err := e.settlement.PayLines(ctx, o.ID, []LineSelection{{LineID: l.ID, Quantity: 1}}, "cash", ""); err != nil {
		t.Fatal(err)
	}

	if _, err := e.settlement.RecordDebt(ctx, DebtInput{CustomerID: 5, OrderID: o.ID, Amount: money("10.00")}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("debt must equal remainder, got %v", err)
	}
	d, err := e.settlement.RecordDebt(ctx, DebtInput{CustomerID: 5, OrderID: o.ID, Amount: money("15.00")})
	if err != nil {
		t.Fatalf("record debt: %v", err)
	}
	if d.State != domain.DebtStateOpen || !d.AmountPaid.IsZero() {
		t.Fatalf("debt %+v", d)
	}

	got := e.order(t, o.ID)
	if got.State != domain.OrderStatePaid || got.PaymentState != domain.PaymentStateSettledByDebt {
		t.Fatalf("order %s/%s", got.State, got.PaymentState)
	}
	if lineOf(t, got, 1).PaidQuantity != 1 {
		t.Fatalf("debt must not mark lines paid")
	}
	bal, _ := e.settlement.GetBalance(ctx, o.ID)
	if !bal.Paid.Equal(money("15.00")) || !bal.Deferred.Equal(money("15.00")) || !bal.Remainder.IsZero() || bal.Overpaid {
		t.Fatalf("balance %+v", bal)
	}
	if _, err := e.settlement.RecordDebt(ctx, DebtInput{CustomerID: 5, OrderID: o.ID, Amount: money("1.00")}); !errors.Is(err, ErrOrderAlreadySettled) {
		t.Fatalf("second debt, got %v", err)
	}

	dr, err := e.settlement.PayDebt(ctx, d.ID, money("5.00"), "cash")
	if err != nil {
		t.Fatalf("pay debt: %v", err)
	}
	if dr.Debt.State != domain.DebtStatePartiallyPaid || dr.LoyaltyPoints != 0 {
		t.Fatalf("debt after partial payment %+v", dr.Debt)
	}
	if _, err := e.settlement.PayDebt(ctx, d.ID, money("20.00"), "cash"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("overpaying a debt, got %v", err)
	}
	if _, err := e.settlement.PayDebt(ctx, d.ID, money("0.005"), "cash"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("sub-cent debt payment, got %v", err)
	}
	dr, err = e.settlement.PayDebt(ctx, d.ID, money("10.00"), "card")
	if err != nil {
		t.Fatalf("settle debt: %v", err)
	}
	if dr.Debt.State != domain.DebtStateSettled || dr.LoyaltyPoints != 12 {
		t.Fatalf("settled debt %+v", dr)
	}
	if len(e.loyalty.calls) != 1 || !e.loyalty.calls[0].amount.Equal(money("15.00")) || e.loyalty.calls[0].orderID != o.ID {
		t.Fatalf("loyalty calls %+v", e.loyalty.calls)
	}
	if _, err := e.settlement.PayDebt(ctx, d.ID, money("1.00"), "cash"); !errors.Is(err, ErrOrderAlreadySettled) {
		t.Fatalf("payment on settled debt, got %v", err)
	}

	// погашение долга не меняет заказ
	bal, _ = e.settlement.GetBalance(ctx, o.ID)
	if !bal.Deferred.Equal(money("15.00")) || !bal.Remainder.IsZero() {
		t.Fatalf("balance after debt payments %+v", bal)
	}
	stored, err := e.settlement.GetDebt(ctx, d.ID)
	if err != nil || len(stored.Payments) != 2 || !stored.AmountPaid.Equal(money("15.00")) {
		t.Fatalf("stored debt %+v %v", stored, err)
	}
	list, err := e.settlement.ListDebts(ctx, 5)
	if err != nil || len(list) != 1 {
		t.Fatalf("list debts %d %v", len(list), err)
	}
	if types := pendingTypes(t, e); countType(types, domain.EventDebtRecorded) != 1 {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestSettlement_Notifies(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	o := e.openOrder(t, line(1, "Tea", 1, "1.00"))
	before := e.notifier.n
	if _, err := e.settlement.PayRemainder(ctx, o.ID, "cash", ""); err != nil {
		t.Fatal(err)
	}
	if e.notifier.n != before+1 {
		t.Fatalf("expected one notify after commit, got %d", e.notifier.n-before)
	}
	if _, err := e.settlement.PayRemainder(ctx, o.ID, "cash", ""); err == nil {
		t.Fatalf("expected error")
	}
	if e.notifier.n != before+1 {
		t.Fatalf("failed operation must not notify")
	}
}
