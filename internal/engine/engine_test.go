package engine

import (
	"context"
	"errors"
	"testing"

	"strike-guard-bot/internal/strategy"

	"go.uber.org/zap"
)

type gatewayCall struct {
	op      string
	orderID string
	req     OrderRequest
	price   float64
}

type mockGateway struct {
	calls     []gatewayCall
	submitID  string
	submitErr error
	amendErr  error
	cancelErr error
}

func (m *mockGateway) Submit(ctx context.Context, req OrderRequest) (string, error) {
	_ = ctx
	m.calls = append(m.calls, gatewayCall{op: "submit", req: req})
	if m.submitErr != nil {
		return "", m.submitErr
	}
	return m.submitID, nil
}

func (m *mockGateway) Amend(ctx context.Context, symbol, orderID string, price float64) error {
	_ = ctx
	_ = symbol
	m.calls = append(m.calls, gatewayCall{op: "amend", orderID: orderID, price: price})
	return m.amendErr
}

func (m *mockGateway) Cancel(ctx context.Context, symbol, orderID string) error {
	_ = ctx
	_ = symbol
	m.calls = append(m.calls, gatewayCall{op: "cancel", orderID: orderID})
	return m.cancelErr
}

func testSettings() strategy.Settings {
	return strategy.Settings{
		Symbol:           "ETHUSDT",
		Size:             1,
		LongStrikePrice:  2100,
		ShortStrikePrice: 1900,
		ThresholdPercent: 0.01,
		MaxBounceCount:   3,
		PricePrecision:   2,
		SizePrecision:    3,
	}
}

func newTestEngine(st *strategy.State, gw Gateway) *Engine {
	return New(testSettings(), st, gw, zap.NewNop(), nil)
}

func setMarket(st *strategy.State, bid, ask float64) {
	st.Market.Bid = bid
	st.Market.Ask = ask
	st.Market.Price = (bid + ask) / 2
}

func TestMustSellGate(t *testing.T) {
	cases := []struct {
		name     string
		bid      float64
		position strategy.PositionState
		want     bool
	}{
		{"bid below short strike while flat", 1890, strategy.PositionState{Side: strategy.SideNone}, true},
		{"bid below short strike holding long", 1890, strategy.PositionState{Size: 1, Side: strategy.SideBuy, EntryPrice: 2000}, true},
		{"bid below short strike already short", 1890, strategy.PositionState{Size: 1, Side: strategy.SideSell, EntryPrice: 1900}, false},
		{"bid above short strike", 1950, strategy.PositionState{Side: strategy.SideNone}, false},
	}
	for _, tc := range cases {
		st := strategy.NewState(testSettings())
		setMarket(st, tc.bid, tc.bid+1)
		st.Position = tc.position
		eng := newTestEngine(st, &mockGateway{})
		mustSell, _ := eng.sellGates()
		if mustSell != tc.want {
			t.Fatalf("%s: mustSell = %v, want %v", tc.name, mustSell, tc.want)
		}
	}
}

func TestPlaceProtectiveSell(t *testing.T) {
	st := strategy.NewState(testSettings())
	setMarket(st, 1890, 1891)
	gw := &mockGateway{submitID: "oid-1"}
	eng := newTestEngine(st, gw)

	if err := eng.Tick(context.Background(), true); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(gw.calls) != 1 || gw.calls[0].op != "submit" {
		t.Fatalf("expected single submit, got %+v", gw.calls)
	}
	req := gw.calls[0].req
	if req.Side != strategy.SideSell || req.Qty != 1 || req.ReduceOnly {
		t.Fatalf("unexpected order request %+v", req)
	}
	if st.Short.OrderID != "oid-1" || st.Short.OrderPrice != st.Market.Price {
		t.Fatalf("order state not recorded: %+v", st.Short)
	}
}

func TestAmendStaleOrder(t *testing.T) {
	st := strategy.NewState(testSettings())
	setMarket(st, 1890, 1891)
	st.Short.OrderID = "oid-1"
	st.Short.OrderPrice = 1895
	gw := &mockGateway{}
	eng := newTestEngine(st, gw)

	if err := eng.Tick(context.Background(), true); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(gw.calls) != 1 || gw.calls[0].op != "amend" {
		t.Fatalf("expected single amend, got %+v", gw.calls)
	}
	if gw.calls[0].price != st.Market.Price {
		t.Fatalf("amend price %v, want %v", gw.calls[0].price, st.Market.Price)
	}
	if st.Short.OrderPrice != st.Market.Price {
		t.Fatalf("order price not updated after amend: %v", st.Short.OrderPrice)
	}
}

func TestAmendResolvedOrderClearsWithoutResubmit(t *testing.T) {
	st := strategy.NewState(testSettings())
	setMarket(st, 1890, 1891)
	st.Short.OrderID = "oid-1"
	st.Short.OrderPrice = 1895
	gw := &mockGateway{amendErr: ErrOrderNotFound}
	eng := newTestEngine(st, gw)

	if err := eng.Tick(context.Background(), true); err != nil {
		t.Fatalf("tick should swallow resolved-order amend, got %v", err)
	}
	if st.Short.OrderID != "" {
		t.Fatalf("expected order id cleared, got %q", st.Short.OrderID)
	}
	for _, call := range gw.calls {
		if call.op == "submit" {
			t.Fatalf("must not resubmit within the same tick")
		}
	}

	// Next tick is free to place a fresh order.
	gw.amendErr = nil
	gw.submitID = "oid-2"
	if err := eng.Tick(context.Background(), true); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if st.Short.OrderID != "oid-2" {
		t.Fatalf("expected fresh order next tick, got %q", st.Short.OrderID)
	}
}

func TestCancelWhenTriggerOff(t *testing.T) {
	st := strategy.NewState(testSettings())
	setMarket(st, 1950, 1951)
	st.Short.OrderID = "oid-1"
	st.Short.OrderPrice = 1890
	gw := &mockGateway{}
	eng := newTestEngine(st, gw)

	if err := eng.Tick(context.Background(), true); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(gw.calls) != 1 || gw.calls[0].op != "cancel" {
		t.Fatalf("expected single cancel, got %+v", gw.calls)
	}
	if st.Short.OrderID != "" {
		t.Fatalf("expected order id cleared, got %q", st.Short.OrderID)
	}
}

func TestFlipSizingAndBounceCount(t *testing.T) {
	st := strategy.NewState(testSettings())
	setMarket(st, 1890, 1891)
	st.Position = strategy.PositionState{Size: 1, Side: strategy.SideBuy, EntryPrice: 2000}
	gw := &mockGateway{submitID: "oid-1"}
	eng := newTestEngine(st, gw)

	if err := eng.Tick(context.Background(), true); err != nil {
		t.Fatalf("tick: %v", err)
	}
	req := gw.calls[len(gw.calls)-1].req
	if req.Qty != 2 {
		t.Fatalf("flip sell should liquidate the long too: qty %v, want 2", req.Qty)
	}
	if st.BounceCount != 1 {
		t.Fatalf("bounce count %d, want 1", st.BounceCount)
	}
}

func TestBounceCountResetsWithoutHolding(t *testing.T) {
	st := strategy.NewState(testSettings())
	setMarket(st, 1890, 1891)
	st.BounceCount = 2
	gw := &mockGateway{submitID: "oid-1"}
	eng := newTestEngine(st, gw)

	if err := eng.Tick(context.Background(), true); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if st.BounceCount != 0 {
		t.Fatalf("bounce count should reset when not flipping, got %d", st.BounceCount)
	}
}

func TestBounceLimitSuppressesPlacement(t *testing.T) {
	st := strategy.NewState(testSettings())
	setMarket(st, 1890, 1891)
	st.Position = strategy.PositionState{Size: 1, Side: strategy.SideBuy, EntryPrice: 2000}
	st.BounceCount = 3 // increments to 4 > max 3 on this flip
	gw := &mockGateway{submitID: "oid-1"}
	eng := newTestEngine(st, gw)

	if err := eng.Tick(context.Background(), true); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(gw.calls) != 0 {
		t.Fatalf("expected no gateway calls, got %+v", gw.calls)
	}
	if st.Short.OrderID != "" {
		t.Fatalf("no order should be recorded when suppressed")
	}
}

func TestReduceOnlyAfterThresholdCross(t *testing.T) {
	st := strategy.NewState(testSettings())
	st.Position = strategy.PositionState{Size: 1, Side: strategy.SideBuy, EntryPrice: 2000}
	setMarket(st, 2025, 2026)
	gw := &mockGateway{submitID: "oid-1"}
	eng := newTestEngine(st, gw)

	// First tick latches the crossed threshold and pulls the short
	// strike to breakeven; price then falling below it forces a sell.
	if err := eng.Tick(context.Background(), true); err != nil {
		t.Fatalf("tick: %v", err)
	}
	setMarket(st, 1999, 2000)
	if err := eng.Tick(context.Background(), true); err != nil {
		t.Fatalf("tick: %v", err)
	}
	var submits []OrderRequest
	for _, call := range gw.calls {
		if call.op == "submit" {
			submits = append(submits, call.req)
		}
	}
	if len(submits) != 1 {
		t.Fatalf("expected one submit, got %d", len(submits))
	}
	if !submits[0].ReduceOnly {
		t.Fatalf("sell after profit lock must be reduce-only")
	}
}

func TestOverboughtSellsExcessOnly(t *testing.T) {
	st := strategy.NewState(testSettings())
	st.Position = strategy.PositionState{Size: 3, Side: strategy.SideBuy, EntryPrice: 2000}
	setMarket(st, 2150, 2151)
	gw := &mockGateway{submitID: "oid-1"}
	eng := newTestEngine(st, gw)

	if err := eng.Tick(context.Background(), true); err != nil {
		t.Fatalf("tick: %v", err)
	}
	var submit *OrderRequest
	for i := range gw.calls {
		if gw.calls[i].op == "submit" {
			submit = &gw.calls[i].req
		}
	}
	if submit == nil {
		t.Fatalf("expected a submit, got %+v", gw.calls)
	}
	if submit.Side != strategy.SideSell || submit.Qty != 2 {
		t.Fatalf("overbought should sell the excess above base size: %+v", submit)
	}
	if submit.ReduceOnly {
		t.Fatalf("overbought sizing forces reduce_only off")
	}
}

func TestShortSideWinsDoubleTrigger(t *testing.T) {
	// A dislocated book can fire both triggers at once: bid below the
	// short strike and ask above the long strike. The long side is
	// starved for the tick.
	settings := testSettings()
	st := strategy.NewState(settings)
	setMarket(st, 1890, 2110)
	gw := &mockGateway{submitID: "oid-1"}
	eng := New(settings, st, gw, zap.NewNop(), nil)

	if err := eng.Tick(context.Background(), true); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(gw.calls) != 1 {
		t.Fatalf("expected exactly one order mutation per tick, got %+v", gw.calls)
	}
	if gw.calls[0].req.Side != strategy.SideSell {
		t.Fatalf("short side must win the tick, got %+v", gw.calls[0].req)
	}
	if st.Long.OrderID != "" {
		t.Fatalf("long side must not act on a short-side tick")
	}
}

func TestGatewayFailureEndsTickWithoutOrderState(t *testing.T) {
	st := strategy.NewState(testSettings())
	setMarket(st, 1890, 1891)
	gw := &mockGateway{submitErr: errors.New("gateway down")}
	eng := newTestEngine(st, gw)

	if err := eng.Tick(context.Background(), true); err == nil {
		t.Fatalf("expected tick error")
	}
	if st.Short.OrderID != "" {
		t.Fatalf("failed submit must not record an order id")
	}
}

func TestBuySideMirrors(t *testing.T) {
	st := strategy.NewState(testSettings())
	st.Position = strategy.PositionState{Size: 1, Side: strategy.SideSell, EntryPrice: 2100}
	setMarket(st, 2149, 2150.5)
	gw := &mockGateway{submitID: "oid-1"}
	eng := newTestEngine(st, gw)

	if err := eng.Tick(context.Background(), true); err != nil {
		t.Fatalf("tick: %v", err)
	}
	var submit *OrderRequest
	for i := range gw.calls {
		if gw.calls[i].op == "submit" {
			submit = &gw.calls[i].req
		}
	}
	if submit == nil {
		t.Fatalf("expected a buy submit, got %+v", gw.calls)
	}
	if submit.Side != strategy.SideBuy || submit.Qty != 2 {
		t.Fatalf("flip buy should cover the short too: %+v", submit)
	}
	if st.BounceCount != 1 {
		t.Fatalf("bounce count %d, want 1", st.BounceCount)
	}
	if st.Long.OrderID != "oid-1" {
		t.Fatalf("long order state not recorded: %+v", st.Long)
	}
}

func TestFlipPlacementEmitsOutcome(t *testing.T) {
	st := strategy.NewState(testSettings())
	setMarket(st, 1890, 1891)
	st.Position = strategy.PositionState{Size: 1, Side: strategy.SideBuy, EntryPrice: 2000}
	gw := &mockGateway{submitID: "oid-1"}
	eng := newTestEngine(st, gw)
	var outcomes []OrderOutcome
	eng.SetNotifier(func(o OrderOutcome) { outcomes = append(outcomes, o) })

	if err := eng.Tick(context.Background(), true); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected one outcome, got %+v", outcomes)
	}
	o := outcomes[0]
	if o.Action != ActionPlace || !o.Flip || o.Suppressed {
		t.Fatalf("unexpected outcome %+v", o)
	}
	if o.Side != strategy.SideSell || o.OrderID != "oid-1" || o.Qty != 2 || o.Bounce != 1 {
		t.Fatalf("unexpected outcome fields %+v", o)
	}
}

func TestBounceLimitEmitsSuppressedOutcome(t *testing.T) {
	st := strategy.NewState(testSettings())
	setMarket(st, 1890, 1891)
	st.Position = strategy.PositionState{Size: 1, Side: strategy.SideBuy, EntryPrice: 2000}
	st.BounceCount = 3 // increments past the max on this flip
	gw := &mockGateway{submitID: "oid-1"}
	eng := newTestEngine(st, gw)
	var outcomes []OrderOutcome
	eng.SetNotifier(func(o OrderOutcome) { outcomes = append(outcomes, o) })

	if err := eng.Tick(context.Background(), true); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(gw.calls) != 0 {
		t.Fatalf("expected no gateway calls, got %+v", gw.calls)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected one outcome, got %+v", outcomes)
	}
	o := outcomes[0]
	if !o.Suppressed || o.Side != strategy.SideSell || o.Bounce != 4 {
		t.Fatalf("unexpected suppressed outcome %+v", o)
	}
	if o.OrderID != "" {
		t.Fatalf("suppressed outcome must carry no order id, got %q", o.OrderID)
	}
}

func TestAmendAndCancelEmitOutcomes(t *testing.T) {
	st := strategy.NewState(testSettings())
	setMarket(st, 1890, 1891)
	st.Short.OrderID = "oid-1"
	st.Short.OrderPrice = 1895
	gw := &mockGateway{}
	eng := newTestEngine(st, gw)
	var outcomes []OrderOutcome
	eng.SetNotifier(func(o OrderOutcome) { outcomes = append(outcomes, o) })

	if err := eng.Tick(context.Background(), true); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Action != ActionAmend {
		t.Fatalf("expected one amend outcome, got %+v", outcomes)
	}
	if outcomes[0].OrderID != "oid-1" || outcomes[0].Price != st.Market.Price {
		t.Fatalf("unexpected amend outcome %+v", outcomes[0])
	}

	setMarket(st, 1950, 1951)
	if err := eng.Tick(context.Background(), true); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(outcomes) != 2 || outcomes[1].Action != ActionCancel {
		t.Fatalf("expected a cancel outcome, got %+v", outcomes)
	}
	if outcomes[1].OrderID != "oid-1" {
		t.Fatalf("cancel outcome must carry the cancelled order id, got %+v", outcomes[1])
	}
}

func TestPausedSuppressesPlacementOnly(t *testing.T) {
	st := strategy.NewState(testSettings())
	setMarket(st, 1890, 1891)
	gw := &mockGateway{submitID: "oid-1"}
	eng := newTestEngine(st, gw)

	if err := eng.Tick(context.Background(), false); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(gw.calls) != 0 {
		t.Fatalf("paused tick must not place, got %+v", gw.calls)
	}

	// A resting order still gets cancelled when its trigger is off.
	st.Short.OrderID = "oid-9"
	setMarket(st, 1950, 1951)
	if err := eng.Tick(context.Background(), false); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if st.Short.OrderID != "" {
		t.Fatalf("paused tick should still cancel resting orders")
	}
}
