package service

import (
	"context"
	"errors"
	"testing"

	"tablepos/internal/domain"
)

const (
	espresso = int64(1)
	cornetto = int64(2)
	tea      = int64(3)
)

func cafeOrder(t *testing.T, e *env) *domain.Order {
	t.Helper()
	return e.openOrder(t, line(espresso, "Espresso", 2, "1.20"), line(cornetto, "Cornetto", 1, "1.50"))
}

func TestSplit_WholeOrderBlocked(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	o := cafeOrder(t, e)
	esp := lineOf(t, o, espresso)

	out, err := e.fulfillment.SplitForShortfall(ctx, o.ID, []Shortfall{{LineID: esp.ID, Quantity: 2}}, false)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if !out.WholeOrderBlocked || out.Sibling != nil {
		t.Fatalf("expected whole order block, got %+v", out)
	}
	got := e.order(t, o.ID)
	if got.State != domain.OrderStateAwaitingStock {
		t.Fatalf("state %s", got.State)
	}
	if !got.Total.Equal(money("3.90")) {
		t.Fatalf("total %s, want 3.90", got.Total)
	}
	if lineOf(t, got, espresso).ShortfallQuantity != 2 {
		t.Fatalf("shortfall not recorded on line")
	}

	v, _ := e.inventory.Get(ctx, espresso)
	if !v.Tracked || v.Entry.RemainingQuantity != 0 || v.Available {
		t.Fatalf("espresso should be pulled: %+v", v)
	}

	if len(out.Records) != 1 {
		t.Fatalf("records %d", len(out.Records))
	}
	r := out.Records[0]
	if r.ProductID != espresso || r.ShortfallQuantity != 2 || r.TotalQuantityAtTimeOfSplit != 2 ||
		!r.WasWholeOrderBlocked || r.ResultingOrderID != o.ID {
		t.Fatalf("unexpected record %+v", r)
	}
	if len(out.Items) != 1 || out.Items[0].Quantity != 2 || out.Items[0].Name != "Espresso" {
		t.Fatalf("unexpected items %+v", out.Items)
	}
	if countType(pendingTypes(t, e), domain.EventOrderSplit) != 1 {
		t.Fatalf("expected one OrderSplit event")
	}

	// в ожидании допустимы только cancel и substitute
	if _, err := e.orders.AddLine(ctx, o.ID, line(tea, "Tea", 1, "1.00")); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("add line while awaiting stock, got %v", err)
	}
	if _, err := e.settlement.PayRemainder(ctx, o.ID, "cash", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("payment while awaiting stock, got %v", err)
	}
	if _, err := e.orders.TransitionOrder(ctx, o.ID, domain.OrderStateOrdered); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("direct exit from awaiting stock, got %v", err)
	}
}

func TestSplit_PartialCreatesSibling(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	o := cafeOrder(t, e)
	esp := lineOf(t, o, espresso)

	out, err := e.fulfillment.SplitForShortfall(ctx, o.ID, []Shortfall{{LineID: esp.ID, Quantity: 1}}, true)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if out.WholeOrderBlocked || out.Sibling == nil {
		t.Fatalf("expected sibling order, got %+v", out)
	}

	origin := e.order(t, o.ID)
	sibling := e.order(t, out.Sibling.ID)
	if origin.State != domain.OrderStateOrdered {
		t.Fatalf("origin state %s", origin.State)
	}
	if !origin.Total.Equal(money("2.70")) {
		t.Fatalf("origin total %s, want 2.70", origin.Total)
	}
	if lineOf(t, origin, espresso).Quantity != 1 || lineOf(t, origin, cornetto).Quantity != 1 {
		t.Fatalf("origin lines %+v", origin.Lines)
	}
	checkTotal(t, origin)

	if sibling.State != domain.OrderStateAwaitingStock {
		t.Fatalf("sibling state %s", sibling.State)
	}
	if sibling.OriginOrderID == nil || *sibling.OriginOrderID != o.ID || sibling.WaiterID != o.WaiterID {
		t.Fatalf("sibling provenance %+v", sibling)
	}
	if !sibling.Total.Equal(money("1.20")) {
		t.Fatalf("sibling total %s, want 1.20", sibling.Total)
	}
	sl := lineOf(t, sibling, espresso)
	if sl.Quantity != 1 || sl.ShortfallQuantity != 1 || sl.SplitFromLineID == nil || *sl.SplitFromLineID != esp.ID {
		t.Fatalf("sibling line %+v", sl)
	}
	checkTotal(t, sibling)

	if sum := origin.Total.Add(sibling.Total); !sum.Equal(money("3.90")) {
		t.Fatalf("totals sum %s, want 3.90", sum)
	}

	r := out.Records[0]
	if r.ResultingOrderID != sibling.ID || r.WasWholeOrderBlocked || r.TotalQuantityAtTimeOfSplit != 2 || r.ShortfallQuantity != 1 {
		t.Fatalf("unexpected record %+v", r)
	}
	recs, err := e.fulfillment.ListSplits(ctx, sibling.ID)
	if err != nil || len(recs) != 1 {
		t.Fatalf("list splits by resulting order: %v %d", err, len(recs))
	}
}

func TestSplit_WholeLineMovesToSibling(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	o := cafeOrder(t, e)
	esp := lineOf(t, o, espresso)

	// нехватка больше количества строки ограничивается строкой
	out, err := e.fulfillment.SplitForShortfall(ctx, o.ID, []Shortfall{{LineID: esp.ID, Quantity: 5}}, true)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	origin := e.order(t, o.ID)
	sibling := e.order(t, out.Sibling.ID)
	if len(origin.Lines) != 1 || origin.Lines[0].ProductID != cornetto {
		t.Fatalf("origin should keep only cornetto: %+v", origin.Lines)
	}
	if len(sibling.Lines) != 1 || sibling.Lines[0].ID != esp.ID || sibling.Lines[0].Quantity != 2 {
		t.Fatalf("espresso line should move as is: %+v", sibling.Lines)
	}
	if out.Items[0].Quantity != 2 {
		t.Fatalf("clamped shortfall %d", out.Items[0].Quantity)
	}
}

func TestSplit_NothingServableBlocksWhole(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	o := e.openOrder(t, line(espresso, "Espresso", 2, "1.20"))
	esp := lineOf(t, o, espresso)

	out, err := e.fulfillment.SplitForShortfall(ctx, o.ID, []Shortfall{{LineID: esp.ID, Quantity: 2}}, true)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if !out.WholeOrderBlocked || out.Sibling != nil {
		t.Fatalf("nothing servable must block in place: %+v", out)
	}
}

func TestSplit_OnlyLinePartiallyShortBlocksWhole(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	o := e.openOrder(t, line(espresso, "Espresso", 2, "1.20"))
	esp := lineOf(t, o, espresso)

	out, err := e.fulfillment.SplitForShortfall(ctx, o.ID, []Shortfall{{LineID: esp.ID, Quantity: 1}}, true)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if !out.WholeOrderBlocked || out.Sibling != nil {
		t.Fatalf("no unaffected line left, order must block in place: %+v", out)
	}
	got := e.order(t, o.ID)
	if got.State != domain.OrderStateAwaitingStock {
		t.Fatalf("origin state %s", got.State)
	}
	l := lineOf(t, got, espresso)
	if l.Quantity != 2 || l.ShortfallQuantity != 1 {
		t.Fatalf("line must stay whole with shortfall 1: %+v", l)
	}
	if !got.Total.Equal(money("2.40")) {
		t.Fatalf("total %s, want 2.40", got.Total)
	}
}

func TestSplit_RepeatedShortfallsConserveQuantity(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	o := e.openOrder(t, line(espresso, "Espresso", 5, "1.20"), line(cornetto, "Cornetto", 1, "1.50"))
	esp := lineOf(t, o, espresso)

	first, err := e.fulfillment.SplitForShortfall(ctx, o.ID, []Shortfall{{LineID: esp.ID, Quantity: 1}}, true)
	if err != nil {
		t.Fatalf("first split: %v", err)
	}
	second, err := e.fulfillment.SplitForShortfall(ctx, o.ID, []Shortfall{{LineID: esp.ID, Quantity: 2}}, true)
	if err != nil {
		t.Fatalf("second split: %v", err)
	}
	if second.Records[0].TotalQuantityAtTimeOfSplit != 4 {
		t.Fatalf("second split must see the current quantity, got %d", second.Records[0].TotalQuantityAtTimeOfSplit)
	}

	var sum int64
	for _, id := range []int64{o.ID, first.Sibling.ID, second.Sibling.ID} {
		got := e.order(t, id)
		checkTotal(t, got)
		for _, l := range got.Lines {
			if l.ProductID == espresso && l.Live() {
				sum += l.Quantity
			}
		}
	}
	if sum != 5 {
		t.Fatalf("espresso quantity across orders %d, want 5", sum)
	}
	if q := lineOf(t, e.order(t, o.ID), espresso).Quantity; q != 2 {
		t.Fatalf("origin espresso %d, want 2", q)
	}
}

func TestSplit_Validation(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	o := cafeOrder(t, e)
	esp := lineOf(t, o, espresso)
	cor := lineOf(t, o, cornetto)

	if _, err := e.fulfillment.SplitForShortfall(ctx, o.ID, nil, true); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty set, got %v", err)
	}
	if _, err := e.fulfillment.SplitForShortfall(ctx, o.ID, []Shortfall{{LineID: 999, Quantity: 1}}, true); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown line, got %v", err)
	}
	dup := []Shortfall{{LineID: esp.ID, Quantity: 1}, {LineID: esp.ID, Quantity: 1}}
	if _, err := e.fulfillment.SplitForShortfall(ctx, o.ID, dup, true); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("duplicate line, got %v", err)
	}

	e.as(domain.RoleStation)
	if _, err := e.orders.AdvanceLine(ctx, o.ID, cor.ID, domain.LineStateDelivered); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	e.as(domain.RoleWaiter)
	if _, err := e.fulfillment.SplitForShortfall(ctx, o.ID, []Shortfall{{LineID: cor.ID, Quantity: 1}}, true); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("delivered line cannot be short, got %v", err)
	}

	// оплаченные единицы не уходят в нехватку
	if _, err := e.settlement.PayLines(ctx, o.ID, []LineSelection{{LineID: esp.ID, Quantity: 1}}, "card", ""); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if _, err := e.fulfillment.SplitForShortfall(ctx, o.ID, []Shortfall{{LineID: esp.ID, Quantity: 2}}, true); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("shortfall over unpaid units, got %v", err)
	}
	if _, err := e.fulfillment.SplitForShortfall(ctx, o.ID, []Shortfall{{LineID: esp.ID, Quantity: 1}}, false); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("paid order cannot be blocked whole, got %v", err)
	}
	if got := e.order(t, o.ID); got.State != domain.OrderStateOrdered || len(got.Lines) != 2 {
		t.Fatalf("failed split must not change the order: %+v", got)
	}
}

func TestSplit_PartialAfterPaymentClosesOrigin(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	o := cafeOrder(t, e)
	esp := lineOf(t, o, espresso)
	cor := lineOf(t, o, cornetto)

	sel := []LineSelection{{LineID: esp.ID, Quantity: 1}, {LineID: cor.ID, Quantity: 1}}
	if _, err := e.settlement.PayLines(ctx, o.ID, sel, "cash", ""); err != nil {
		t.Fatalf("pay: %v", err)
	}
	out, err := e.fulfillment.SplitForShortfall(ctx, o.ID, []Shortfall{{LineID: esp.ID, Quantity: 1}}, true)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	origin := e.order(t, o.ID)
	if origin.State != domain.OrderStatePaid || !origin.Total.Equal(money("2.70")) {
		t.Fatalf("what is left is fully paid, origin should close: %s %s", origin.State, origin.Total)
	}
	if out.Sibling.State != domain.OrderStateAwaitingStock {
		t.Fatalf("sibling state %s", out.Sibling.State)
	}
}

func TestSplit_ClosingOriginAwardsLoyalty(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	o := e.customerOrder(t, 42, line(espresso, "Espresso", 2, "1.20"), line(cornetto, "Cornetto", 1, "1.50"))
	esp := lineOf(t, o, espresso)
	cor := lineOf(t, o, cornetto)

	sel := []LineSelection{{LineID: esp.ID, Quantity: 1}, {LineID: cor.ID, Quantity: 1}}
	if _, err := e.settlement.PayLines(ctx, o.ID, sel, "cash", ""); err != nil {
		t.Fatalf("pay: %v", err)
	}
	out, err := e.fulfillment.SplitForShortfall(ctx, o.ID, []Shortfall{{LineID: esp.ID, Quantity: 1}}, true)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if out.Origin.State != domain.OrderStatePaid || out.LoyaltyPoints != 12 {
		t.Fatalf("origin %s points %d", out.Origin.State, out.LoyaltyPoints)
	}
	if len(e.loyalty.calls) != 1 || e.loyalty.calls[0].orderID != o.ID || !e.loyalty.calls[0].amount.Equal(money("2.70")) {
		t.Fatalf("loyalty calls %+v", e.loyalty.calls)
	}
}

func TestResolve_Substitute(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	o := cafeOrder(t, e)
	esp := lineOf(t, o, espresso)
	out, err := e.fulfillment.SplitForShortfall(ctx, o.ID, []Shortfall{{LineID: esp.ID, Quantity: 1}}, true)
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	res := Resolution{Action: ResolveSubstitute, Lines: []LineInput{line(tea, "Tea", 2, "1.00")}}
	got, err := e.fulfillment.ResolveAwaitingOrder(ctx, out.Sibling.ID, res)
	if err != nil {
		t.Fatalf("substitute: %v", err)
	}
	if got.State != domain.OrderStateOrdered {
		t.Fatalf("state %s", got.State)
	}
	if !got.Total.Equal(money("2.00")) {
		t.Fatalf("total %s, want 2.00", got.Total)
	}
	live := got.LiveLines()
	if len(live) != 1 || live[0].ProductID != tea || live[0].Quantity != 2 || live[0].State != domain.LineStateInserted {
		t.Fatalf("live lines %+v", live)
	}
	for _, l := range got.Lines {
		if l.ProductID == espresso && l.Live() {
			t.Fatalf("shortfall line must be fully replaced")
		}
	}
	checkTotal(t, got)
	if countType(pendingTypes(t, e), domain.EventOrderSubstituted) != 1 {
		t.Fatalf("expected OrderSubstituted event")
	}

	if _, err := e.fulfillment.ResolveAwaitingOrder(ctx, out.Sibling.ID, res); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second resolve must fail, got %v", err)
	}
}

func TestResolve_SubstituteShortageRollsBack(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	e.as(domain.RoleManager)
	if _, err := e.inventory.SetLimit(ctx, tea, 1, ""); err != nil {
		t.Fatal(err)
	}
	e.as(domain.RoleWaiter)
	o := e.openOrder(t, line(espresso, "Espresso", 1, "1.20"))
	if _, err := e.fulfillment.SplitForShortfall(ctx, o.ID, []Shortfall{{LineID: lineOf(t, o, espresso).ID, Quantity: 1}}, false); err != nil {
		t.Fatalf("split: %v", err)
	}

	res := Resolution{Action: ResolveSubstitute, Lines: []LineInput{line(tea, "Tea", 2, "1.00")}}
	if _, err := e.fulfillment.ResolveAwaitingOrder(ctx, o.ID, res); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	got := e.order(t, o.ID)
	if got.State != domain.OrderStateAwaitingStock || lineOf(t, got, espresso).State == domain.LineStateCancelled {
		t.Fatalf("failed substitute must roll back: %+v", got)
	}
	v, _ := e.inventory.Get(ctx, tea)
	if v.Entry.RemainingQuantity != 1 {
		t.Fatalf("tea remaining %d", v.Entry.RemainingQuantity)
	}
}

func TestResolve_CancelReleasesServablePart(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	e.as(domain.RoleManager)
	if _, err := e.inventory.SetLimit(ctx, cornetto, 5, ""); err != nil {
		t.Fatal(err)
	}
	e.as(domain.RoleWaiter)
	o := cafeOrder(t, e)
	esp := lineOf(t, o, espresso)
	if _, err := e.fulfillment.SplitForShortfall(ctx, o.ID, []Shortfall{{LineID: esp.ID, Quantity: 2}}, false); err != nil {
		t.Fatalf("split: %v", err)
	}

	got, err := e.fulfillment.ResolveAwaitingOrder(ctx, o.ID, Resolution{Action: ResolveCancel})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.State != domain.OrderStateCancelled || !got.Total.IsZero() {
		t.Fatalf("unexpected order %+v", got)
	}
	v, _ := e.inventory.Get(ctx, cornetto)
	if v.Entry.RemainingQuantity != 5 {
		t.Fatalf("cornetto remaining %d, want 5", v.Entry.RemainingQuantity)
	}
	v, _ = e.inventory.Get(ctx, espresso)
	if v.Entry.RemainingQuantity != 0 || v.Available {
		t.Fatalf("shortfall units must not return to stock: %+v", v)
	}
	if countType(pendingTypes(t, e), domain.EventOrderCancelled) != 1 {
		t.Fatalf("expected OrderCancelled event")
	}
}

func TestResolve_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	o := cafeOrder(t, e)
	if _, err := e.fulfillment.ResolveAwaitingOrder(ctx, o.ID, Resolution{Action: "merge"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown action, got %v", err)
	}
	if _, err := e.fulfillment.ResolveAwaitingOrder(ctx, o.ID, Resolution{Action: ResolveSubstitute}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty substitute, got %v", err)
	}
	if _, err := e.fulfillment.ResolveAwaitingOrder(ctx, o.ID, Resolution{Action: ResolveCancel}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("order is not awaiting stock, got %v", err)
	}
}
