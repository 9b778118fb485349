package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"strike-guard-bot/internal/alerts"
	"strike-guard-bot/internal/bybit"
	"strike-guard-bot/internal/bybit/rest"
	"strike-guard-bot/internal/bybit/ws"
	"strike-guard-bot/internal/config"
	"strike-guard-bot/internal/engine"
	"strike-guard-bot/internal/exec"
	"strike-guard-bot/internal/ingest"
	"strike-guard-bot/internal/metrics"
	"strike-guard-bot/internal/state"
	"strike-guard-bot/internal/state/sqlite"
	"strike-guard-bot/internal/strategy"
	"strike-guard-bot/internal/timescale"

	"go.uber.org/zap"
)

const snapshotInterval = time.Second

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     state.Store
	rest      *rest.Client
	wsPublic  *ws.Client
	wsPrivate *ws.Client
	executor  *exec.Executor
	engine    *engine.Engine
	settings  strategy.Settings
	state     *strategy.State
	metrics   *metrics.Metrics
	prom      *metrics.Prometheus
	alerts    *alerts.Telegram
	timescale *timescale.Writer
	events    chan ingest.Event

	// opsMu guards the operator-facing view of the bot. statusSnap is
	// the only strategy state the operator goroutine may read; the run
	// loop republishes it on the snapshot cadence.
	opsMu          sync.RWMutex
	paused         bool
	statusSnap     state.StrategySnapshot
	operatorWarned bool
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	creds, err := bybit.CredentialsFromEnv()
	if err != nil {
		return nil, err
	}
	precision := cfg.PrecisionFor(cfg.Strategy.Symbol)
	settings := strategy.Settings{
		Symbol:           cfg.Strategy.Symbol,
		Size:             cfg.Strategy.Size,
		LongStrikePrice:  cfg.Strategy.LongStrikePrice,
		ShortStrikePrice: cfg.Strategy.ShortStrikePrice,
		ThresholdPercent: cfg.Strategy.ThresholdPercent,
		MaxBounceCount:   cfg.Strategy.MaxBounceCount,
		PricePrecision:   precision.Price,
		SizePrecision:    precision.Size,
	}
	restClient := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, creds, log)
	wsPublic := ws.New(cfg.WS.PublicURL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
	wsPrivate := ws.New(cfg.WS.PrivateURL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log).
		WithAuth(func() []any { return bybit.WSAuthArgs(creds, time.Now()) })

	var m *metrics.Metrics
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	} else {
		m = metrics.NewNoop()
	}
	adapter := &gatewayAdapter{rest: restClient, settings: settings}
	executor := exec.New(adapter, store, log)
	st := strategy.NewState(settings)
	eng := engine.New(settings, st, executor, log, m)
	tsWriter, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a := &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		rest:      restClient,
		wsPublic:  wsPublic,
		wsPrivate: wsPrivate,
		executor:  executor,
		engine:    eng,
		settings:  settings,
		state:     st,
		metrics:   m,
		prom:      prom,
		alerts:    alerts.NewTelegram(cfg.Telegram, log),
		timescale: tsWriter,
		events:    make(chan ingest.Event, cfg.Strategy.EventQueueSize),
	}
	eng.SetNotifier(a.handleOrderOutcome)
	return a, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer func() {
		_ = a.timescale.Close()
	}()

	if err := a.reconcile(ctx); err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}
	a.log.Info("reconciled state",
		zap.Float64("position_size", a.state.Position.Size),
		zap.String("position_side", string(a.state.Position.Side)),
		zap.String("sell_order_id", a.state.Short.OrderID),
		zap.String("buy_order_id", a.state.Long.OrderID),
	)
	a.setStatusSnapshot(a.snapshot())

	a.timescale.Start(ctx)
	a.startMetricsServer(ctx)
	a.startOperator(ctx)

	errCh := make(chan error, 2)
	if err := a.startFeeds(ctx, errCh); err != nil {
		return err
	}

	if err := a.alerts.Send(ctx, fmt.Sprintf("strike guard started for %s", a.settings.Symbol)); err != nil {
		a.log.Warn("alert send failed", zap.Error(err))
	}

	ticker := time.NewTicker(a.cfg.Strategy.TickInterval)
	defer ticker.Stop()
	snapshots := time.NewTicker(snapshotInterval)
	defer snapshots.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case ev := <-a.events:
			ingest.Apply(a.state, a.settings, ev)
		case <-ticker.C:
			if err := a.engine.Tick(ctx, !a.isPaused()); err != nil {
				a.metrics.TickErrors.Inc()
				a.log.Warn("tick failed", zap.Error(err))
			}
		case <-snapshots.C:
			snap := a.snapshot()
			a.setStatusSnapshot(snap)
			if err := state.SaveStrategySnapshot(ctx, a.store, snap); err != nil {
				a.log.Warn("snapshot save failed", zap.Error(err))
			}
			a.recordTimescale()
		}
	}
}

// reconcile seeds the strategy state from the exchange before the first
// tick. A failure here is fatal: trading against an unknown position or
// order set is worse than not starting.
func (a *App) reconcile(ctx context.Context) error {
	symbol := a.settings.Symbol
	pos, err := a.rest.Position(ctx, symbol)
	if err != nil {
		return err
	}
	ingest.Apply(a.state, a.settings, ingest.PositionUpdate{
		Symbol:     symbol,
		Size:       floatFrom(pos.Size),
		Side:       strategy.Side(pos.Side),
		EntryPrice: floatFrom(pos.EntryPrice),
	})

	orders, err := a.rest.OpenOrders(ctx, symbol)
	if err != nil {
		return err
	}
	for _, order := range orders {
		if order.StopOrderType != "" {
			continue
		}
		if order.OrderStatus != ingest.StatusNew && order.OrderStatus != "PartiallyFilled" {
			continue
		}
		switch strategy.Side(order.Side) {
		case strategy.SideSell:
			a.state.Short.OrderID = order.OrderID
			a.state.Short.OrderPrice = floatFrom(order.Price)
		case strategy.SideBuy:
			a.state.Long.OrderID = order.OrderID
			a.state.Long.OrderPrice = floatFrom(order.Price)
		}
	}
	return nil
}

func (a *App) startFeeds(ctx context.Context, errCh chan<- error) error {
	symbol := a.settings.Symbol
	handler := func(raw json.RawMessage) {
		for _, ev := range ingest.Parse(raw, symbol) {
			select {
			case a.events <- ev:
			default:
				a.metrics.FeedEventsDropped.Inc()
			}
		}
	}
	if err := a.wsPublic.Connect(ctx); err != nil {
		return err
	}
	topic := fmt.Sprintf("orderbook.%d.%s", a.cfg.Strategy.OrderbookDepth, symbol)
	if err := a.wsPublic.Subscribe(ctx, topic); err != nil {
		return err
	}
	if err := a.wsPrivate.Connect(ctx); err != nil {
		return err
	}
	if err := a.wsPrivate.Subscribe(ctx, "position", "order"); err != nil {
		return err
	}
	go func() {
		if err := a.wsPublic.Run(ctx, handler); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("public stream: %w", err)
		}
	}()
	go func() {
		if err := a.wsPrivate.Run(ctx, handler); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("private stream: %w", err)
		}
	}()
	return nil
}

func (a *App) startMetricsServer(ctx context.Context) {
	if a.prom == nil {
		return
	}
	server := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: a.prom.Handler()}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

func (a *App) setStatusSnapshot(snap state.StrategySnapshot) {
	a.opsMu.Lock()
	a.statusSnap = snap
	a.opsMu.Unlock()
}

func (a *App) statusSnapshot() state.StrategySnapshot {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.statusSnap
}

// handleOrderOutcome runs on the tick goroutine. It records the order
// mutation for analytics and pushes operator alerts for the outcomes
// worth waking a human for.
func (a *App) handleOrderOutcome(outcome engine.OrderOutcome) {
	if ev, ok := orderEventFrom(outcome, a.settings.Symbol); ok {
		a.timescale.EnqueueOrderEvent(ev)
	}
	msg := outcomeAlert(outcome, a.settings.MaxBounceCount)
	if msg == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.alerts.Send(ctx, msg); err != nil {
			a.log.Warn("alert send failed", zap.Error(err))
		}
	}()
}

func orderEventFrom(outcome engine.OrderOutcome, symbol string) (timescale.OrderEvent, bool) {
	if outcome.Suppressed {
		return timescale.OrderEvent{}, false
	}
	return timescale.OrderEvent{
		Time:    time.Now().UTC(),
		Symbol:  symbol,
		Action:  outcome.Action,
		Side:    string(outcome.Side),
		OrderID: outcome.OrderID,
		Price:   outcome.Price,
		Qty:     outcome.Qty,
	}, true
}

func outcomeAlert(outcome engine.OrderOutcome, maxBounce int) string {
	switch {
	case outcome.Suppressed:
		return fmt.Sprintf("bounce limit engaged: %s placement suppressed (bounce %d, max %d)",
			outcome.Side, outcome.Bounce, maxBounce)
	case outcome.Action == engine.ActionPlace && outcome.Flip:
		return fmt.Sprintf("flip: placed %s %.6f @ %.6f (bounce %d of %d)",
			outcome.Side, outcome.Qty, outcome.Price, outcome.Bounce, maxBounce)
	}
	return ""
}

func (a *App) snapshot() state.StrategySnapshot {
	st := a.state
	return state.StrategySnapshot{
		Symbol:          a.settings.Symbol,
		Bid:             st.Market.Bid,
		Ask:             st.Market.Ask,
		Price:           st.Market.Price,
		PositionSize:    st.Position.Size,
		PositionSide:    string(st.Position.Side),
		EntryPrice:      st.Position.EntryPrice,
		LongOrderID:     st.Long.OrderID,
		LongOrderPrice:  st.Long.OrderPrice,
		LongStrike:      st.Long.StrikePrice,
		LongBreakEven:   st.Long.BreakEvenPrice,
		LongThreshold:   st.Long.Threshold,
		LongCrossed:     st.Long.CrossedThreshold,
		ShortOrderID:    st.Short.OrderID,
		ShortOrderPrice: st.Short.OrderPrice,
		ShortStrike:     st.Short.StrikePrice,
		ShortBreakEven:  st.Short.BreakEvenPrice,
		ShortThreshold:  st.Short.Threshold,
		ShortCrossed:    st.Short.CrossedThreshold,
		BounceCount:     st.BounceCount,
		UpdatedAtMS:     time.Now().UnixMilli(),
	}
}

func floatFrom(s string) float64 {
	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return val
}

// gatewayAdapter maps the executor's order surface onto the v5 REST
// client, translating exchange retCodes into the sentinels the retry
// policy keys on.
type gatewayAdapter struct {
	rest     *rest.Client
	settings strategy.Settings
}

func (g *gatewayAdapter) SubmitOrder(ctx context.Context, req exec.SubmitRequest) (string, error) {
	orderID, err := g.rest.CreateOrder(ctx, rest.CreateOrderParams{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         g.formatPrice(req.Price),
		Qty:           g.formatQty(req.Qty),
		ReduceOnly:    req.ReduceOnly,
		ClientOrderID: req.ClientOrderID,
	})
	if rest.IsDuplicateOrderLink(err) {
		return "", exec.ErrDuplicateClientOrderID
	}
	return orderID, err
}

func (g *gatewayAdapter) AmendOrder(ctx context.Context, symbol, orderID string, price float64) error {
	err := g.rest.AmendOrder(ctx, symbol, orderID, g.formatPrice(price))
	if rest.IsOrderNotFound(err) {
		return engine.ErrOrderNotFound
	}
	return err
}

func (g *gatewayAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	err := g.rest.CancelOrder(ctx, symbol, orderID)
	if rest.IsOrderNotFound(err) {
		return engine.ErrOrderNotFound
	}
	return err
}

func (g *gatewayAdapter) OrderIDByLinkID(ctx context.Context, symbol, clientOrderID string) (string, error) {
	order, err := g.rest.OrderByLinkID(ctx, symbol, clientOrderID)
	if err != nil {
		return "", err
	}
	return order.OrderID, nil
}

func (g *gatewayAdapter) formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', g.settings.PricePrecision, 64)
}

func (g *gatewayAdapter) formatQty(qty float64) string {
	return strconv.FormatFloat(qty, 'f', g.settings.SizePrecision, 64)
}
