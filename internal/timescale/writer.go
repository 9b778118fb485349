package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"strike-guard-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// TickSnapshot is one row of strategy state captured after a tick.
type TickSnapshot struct {
	Time           time.Time
	Symbol         string
	Bid            float64
	Ask            float64
	Price          float64
	PositionSize   float64
	PositionSide   string
	EntryPrice     float64
	LongStrike     float64
	ShortStrike    float64
	LongBreakEven  float64
	ShortBreakEven float64
	LongThreshold  float64
	ShortThreshold float64
	LongCrossed    bool
	ShortCrossed   bool
	SellOrderID    string
	SellOrderPrice float64
	BuyOrderID     string
	BuyOrderPrice  float64
	BounceCount    int
	Paused         bool
}

// OrderEvent is one order mutation the bot performed.
type OrderEvent struct {
	Time    time.Time
	Symbol  string
	Action  string
	Side    string
	OrderID string
	Price   float64
	Qty     float64
}

type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	ticks     chan TickSnapshot
	orders    chan OrderEvent
	started   atomic.Bool
	dropTick  atomic.Uint64
	dropOrder atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		ticks:  make(chan TickSnapshot, queueSize),
		orders: make(chan OrderEvent, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueTick(snapshot TickSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.ticks <- snapshot:
		return
	default:
		if w.dropTick.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale tick queue full")
		}
	}
}

func (w *Writer) EnqueueOrderEvent(event OrderEvent) {
	if w == nil {
		return
	}
	select {
	case w.orders <- event:
		return
	default:
		if w.dropOrder.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale order queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-w.ticks:
			w.writeTick(ctx, snap)
		case event := <-w.orders:
			w.writeOrderEvent(ctx, event)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		bid DOUBLE PRECISION NOT NULL,
		ask DOUBLE PRECISION NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		position_size DOUBLE PRECISION NOT NULL,
		position_side TEXT NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		long_strike DOUBLE PRECISION NOT NULL,
		short_strike DOUBLE PRECISION NOT NULL,
		long_break_even DOUBLE PRECISION NOT NULL,
		short_break_even DOUBLE PRECISION NOT NULL,
		long_threshold DOUBLE PRECISION NOT NULL,
		short_threshold DOUBLE PRECISION NOT NULL,
		long_crossed BOOLEAN NOT NULL,
		short_crossed BOOLEAN NOT NULL,
		sell_order_id TEXT NOT NULL,
		sell_order_price DOUBLE PRECISION NOT NULL,
		buy_order_id TEXT NOT NULL,
		buy_order_price DOUBLE PRECISION NOT NULL,
		bounce_count INTEGER NOT NULL,
		paused BOOLEAN NOT NULL
	)`, w.table("tick_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		action TEXT NOT NULL,
		side TEXT NOT NULL,
		order_id TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		qty DOUBLE PRECISION NOT NULL
	)`, w.table("order_events"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("tick_snapshots"))); err != nil && w.log != nil {
		w.log.Warn("timescale tick_snapshots hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("order_events"))); err != nil && w.log != nil {
		w.log.Warn("timescale order_events hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeTick(ctx context.Context, snap TickSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, symbol, bid, ask, price, position_size, position_side, entry_price,
		long_strike, short_strike, long_break_even, short_break_even,
		long_threshold, short_threshold, long_crossed, short_crossed,
		sell_order_id, sell_order_price, buy_order_id, buy_order_price,
		bounce_count, paused
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22
	)`, w.table("tick_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.Symbol,
		snap.Bid,
		snap.Ask,
		snap.Price,
		snap.PositionSize,
		snap.PositionSide,
		snap.EntryPrice,
		snap.LongStrike,
		snap.ShortStrike,
		snap.LongBreakEven,
		snap.ShortBreakEven,
		snap.LongThreshold,
		snap.ShortThreshold,
		snap.LongCrossed,
		snap.ShortCrossed,
		snap.SellOrderID,
		snap.SellOrderPrice,
		snap.BuyOrderID,
		snap.BuyOrderPrice,
		snap.BounceCount,
		snap.Paused,
	); err != nil && w.log != nil {
		w.log.Warn("timescale tick insert failed", zap.Error(err))
	}
}

func (w *Writer) writeOrderEvent(ctx context.Context, event OrderEvent) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, symbol, action, side, order_id, price, qty
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7
	)`, w.table("order_events"))
	if _, err := w.db.ExecContext(ctx, query,
		event.Time,
		event.Symbol,
		event.Action,
		event.Side,
		event.OrderID,
		event.Price,
		event.Qty,
	); err != nil && w.log != nil {
		w.log.Warn("timescale order event insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
