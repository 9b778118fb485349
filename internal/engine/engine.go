package engine

import (
	"context"
	"errors"

	"strike-guard-bot/internal/metrics"
	"strike-guard-bot/internal/strategy"

	"go.uber.org/zap"
)

// ErrOrderNotFound reports that the exchange has already resolved an
// order we tried to amend or cancel (filled, cancelled or expired).
// It is not a failure of intent: the local order id is cleared and the
// next tick re-decides from scratch.
var ErrOrderNotFound = errors.New("order not found")

type OrderRequest struct {
	Symbol     string
	Side       strategy.Side
	Price      float64
	Qty        float64
	ReduceOnly bool
}

// Gateway is the outbound order surface. Implementations carry their
// own timeout, retry and idempotency policy; the engine only sees the
// terminal outcome of each call.
type Gateway interface {
	Submit(ctx context.Context, req OrderRequest) (string, error)
	Amend(ctx context.Context, symbol, orderID string, price float64) error
	Cancel(ctx context.Context, symbol, orderID string) error
}

// Order mutation kinds reported through OrderOutcome.
const (
	ActionPlace  = "place"
	ActionAmend  = "amend"
	ActionCancel = "cancel"
)

// OrderOutcome describes one order mutation the engine performed, or a
// placement the bounce limit suppressed. Delivered synchronously on the
// tick goroutine; receivers must not block.
type OrderOutcome struct {
	Action     string
	Side       strategy.Side
	OrderID    string
	Price      float64
	Qty        float64
	Flip       bool
	Bounce     int
	Suppressed bool
}

// Engine is the per-tick reconciliation state machine. It owns no
// goroutines: the caller guarantees Tick never runs concurrently with
// event ingestion.
type Engine struct {
	settings strategy.Settings
	state    *strategy.State
	gateway  Gateway
	log      *zap.Logger
	metrics  *metrics.Metrics
	notify   func(OrderOutcome)
}

func New(settings strategy.Settings, st *strategy.State, gateway Gateway, log *zap.Logger, m *metrics.Metrics) *Engine {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Engine{
		settings: settings,
		state:    st,
		gateway:  gateway,
		log:      log,
		metrics:  m,
	}
}

// SetNotifier installs a hook that receives every OrderOutcome. Must
// be called before the first Tick.
func (e *Engine) SetNotifier(fn func(OrderOutcome)) {
	e.notify = fn
}

func (e *Engine) emit(o OrderOutcome) {
	if e.notify != nil {
		e.notify(o)
	}
}

// Tick re-derives thresholds and reconciles both protective orders
// against the market. The sell side runs first; any action it takes
// ends the tick, so at most one order mutates per tick. allowPlace
// false (operator pause) suppresses fresh placements while amends and
// cancels keep maintaining orders already resting.
func (e *Engine) Tick(ctx context.Context, allowPlace bool) error {
	if e.state.Market.Price == 0 {
		return nil
	}
	strategy.UpdateThresholds(e.state, e.settings)
	acted, err := e.sellSide(ctx, allowPlace)
	if err != nil || acted {
		return err
	}
	_, err = e.buySide(ctx, allowPlace)
	return err
}

func (e *Engine) sellGates() (mustSell, overbought bool) {
	st := e.state
	pos := st.Position
	overbought = pos.Size > e.settings.Size && pos.Side == strategy.SideBuy && st.Market.Price > st.Long.StrikePrice
	shortFilled := pos.Size == e.settings.Size && pos.Side == strategy.SideSell
	mustSell = (st.Market.Bid < st.Short.StrikePrice && !shortFilled) || overbought
	return mustSell, overbought
}

func (e *Engine) buyGates() (mustBuy, oversold bool) {
	st := e.state
	pos := st.Position
	oversold = pos.Size > e.settings.Size && pos.Side == strategy.SideSell && st.Market.Price < st.Short.StrikePrice
	longFilled := pos.Size == e.settings.Size && pos.Side == strategy.SideBuy
	mustBuy = (st.Market.Ask > st.Long.StrikePrice && !longFilled) || oversold
	return mustBuy, oversold
}

func (e *Engine) sellSide(ctx context.Context, allowPlace bool) (bool, error) {
	st := e.state
	mustSell, overbought := e.sellGates()
	dir := &st.Short

	switch {
	case mustSell && dir.OrderID != "" && dir.OrderPrice != st.Market.Price:
		return true, e.amend(ctx, dir, strategy.SideSell)
	case !mustSell && dir.OrderID != "":
		return true, e.cancel(ctx, dir, strategy.SideSell)
	case mustSell && dir.OrderID == "":
		qty := e.settings.Size
		reduceOnly := st.Long.CrossedThreshold
		flip := st.HoldingLong()
		if flip {
			// The sell both protects and liquidates the long holding.
			qty += st.Position.Size
			st.BounceCount++
		} else {
			st.BounceCount = 0
		}
		if overbought {
			qty = st.Position.Size - e.settings.Size
			reduceOnly = false
		}
		return true, e.place(ctx, dir, strategy.SideSell, qty, reduceOnly, flip, allowPlace)
	}
	return false, nil
}

func (e *Engine) buySide(ctx context.Context, allowPlace bool) (bool, error) {
	st := e.state
	mustBuy, oversold := e.buyGates()
	dir := &st.Long

	switch {
	case mustBuy && dir.OrderID != "" && dir.OrderPrice != st.Market.Price:
		return true, e.amend(ctx, dir, strategy.SideBuy)
	case !mustBuy && dir.OrderID != "":
		return true, e.cancel(ctx, dir, strategy.SideBuy)
	case mustBuy && dir.OrderID == "":
		qty := e.settings.Size
		reduceOnly := st.Short.CrossedThreshold
		flip := st.HoldingShort()
		if flip {
			qty += st.Position.Size
			st.BounceCount++
		} else {
			st.BounceCount = 0
		}
		if oversold {
			qty = st.Position.Size - e.settings.Size
			reduceOnly = false
		}
		return true, e.place(ctx, dir, strategy.SideBuy, qty, reduceOnly, flip, allowPlace)
	}
	return false, nil
}

func (e *Engine) amend(ctx context.Context, dir *strategy.DirectionState, side strategy.Side) error {
	price := e.state.Market.Price
	err := e.gateway.Amend(ctx, e.settings.Symbol, dir.OrderID, price)
	if errors.Is(err, ErrOrderNotFound) {
		// The exchange already settled this order; the order event that
		// reports it may still be in flight. Drop the local reference and
		// let the next tick re-decide.
		e.metrics.OrderNotFound.Inc()
		e.log.Info("amend hit resolved order",
			zap.String("side", string(side)),
			zap.String("order_id", dir.OrderID),
		)
		dir.OrderID = ""
		return nil
	}
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		return err
	}
	dir.OrderPrice = price
	e.metrics.OrdersAmended.Inc()
	e.emit(OrderOutcome{
		Action:  ActionAmend,
		Side:    side,
		OrderID: dir.OrderID,
		Price:   price,
	})
	return nil
}

func (e *Engine) cancel(ctx context.Context, dir *strategy.DirectionState, side strategy.Side) error {
	err := e.gateway.Cancel(ctx, e.settings.Symbol, dir.OrderID)
	if err != nil && !errors.Is(err, ErrOrderNotFound) {
		e.metrics.OrdersFailed.Inc()
		return err
	}
	e.log.Debug("cancelled protective order",
		zap.String("side", string(side)),
		zap.String("order_id", dir.OrderID),
	)
	orderID := dir.OrderID
	dir.OrderID = ""
	e.metrics.OrdersCancelled.Inc()
	e.emit(OrderOutcome{
		Action:  ActionCancel,
		Side:    side,
		OrderID: orderID,
	})
	return nil
}

func (e *Engine) place(ctx context.Context, dir *strategy.DirectionState, side strategy.Side, qty float64, reduceOnly, flip, allowPlace bool) error {
	if e.state.BounceCount > e.settings.MaxBounceCount {
		e.metrics.BounceSuppressed.Inc()
		e.log.Warn("placement suppressed by bounce limit",
			zap.String("side", string(side)),
			zap.Int("bounce_count", e.state.BounceCount),
			zap.Int("max_bounce_count", e.settings.MaxBounceCount),
		)
		e.emit(OrderOutcome{
			Action:     ActionPlace,
			Side:       side,
			Qty:        qty,
			Bounce:     e.state.BounceCount,
			Suppressed: true,
		})
		return nil
	}
	if !allowPlace {
		e.log.Debug("placement suppressed: trading paused", zap.String("side", string(side)))
		return nil
	}
	qty = e.settings.RoundSize(qty)
	if qty <= 0 {
		return nil
	}
	price := e.state.Market.Price
	orderID, err := e.gateway.Submit(ctx, OrderRequest{
		Symbol:     e.settings.Symbol,
		Side:       side,
		Price:      price,
		Qty:        qty,
		ReduceOnly: reduceOnly,
	})
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		return err
	}
	dir.OrderID = orderID
	dir.OrderPrice = price
	e.metrics.OrdersPlaced.Inc()
	e.log.Info("placed protective order",
		zap.String("side", string(side)),
		zap.String("order_id", orderID),
		zap.Float64("price", price),
		zap.Float64("qty", qty),
		zap.Bool("reduce_only", reduceOnly),
	)
	e.emit(OrderOutcome{
		Action:  ActionPlace,
		Side:    side,
		OrderID: orderID,
		Price:   price,
		Qty:     qty,
		Flip:    flip,
		Bounce:  e.state.BounceCount,
	})
	return nil
}
