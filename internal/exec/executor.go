package exec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"strike-guard-bot/internal/engine"
	"strike-guard-bot/internal/state"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrDuplicateClientOrderID reports that the exchange already accepted
// an order with the same client order id. This happens when a submit
// timed out on our side but landed on theirs; the resting order is
// recovered by link id instead of being placed again.
var ErrDuplicateClientOrderID = errors.New("duplicate client order id")

// SubmitRequest is one outbound post-only limit order.
type SubmitRequest struct {
	Symbol        string
	Side          string
	Price         float64
	Qty           float64
	ReduceOnly    bool
	ClientOrderID string
}

// RestClient is the raw exchange surface the executor drives. An
// implementation maps exchange-specific error codes to
// engine.ErrOrderNotFound and ErrDuplicateClientOrderID so the retry
// policy can tell intent failures from already-settled orders.
type RestClient interface {
	SubmitOrder(ctx context.Context, req SubmitRequest) (string, error)
	AmendOrder(ctx context.Context, symbol, orderID string, price float64) error
	CancelOrder(ctx context.Context, symbol, orderID string) error
	OrderIDByLinkID(ctx context.Context, symbol, clientOrderID string) (string, error)
}

const (
	maxAttempts    = 5
	initialBackoff = 200 * time.Millisecond
	callTimeout    = 5 * time.Second
)

// Executor implements engine.Gateway with per-call timeouts, bounded
// exponential backoff, and client order ids that make a retried submit
// idempotent on the exchange side.
type Executor struct {
	rest  RestClient
	store state.Store
	log   *zap.Logger
}

func New(rest RestClient, store state.Store, log *zap.Logger) *Executor {
	return &Executor{rest: rest, store: store, log: log}
}

func (e *Executor) Submit(ctx context.Context, req engine.OrderRequest) (string, error) {
	clientOrderID := uuid.NewString()
	submit := SubmitRequest{
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Price:         req.Price,
		Qty:           req.Qty,
		ReduceOnly:    req.ReduceOnly,
		ClientOrderID: clientOrderID,
	}
	var orderID string
	err := e.retry(ctx, func(callCtx context.Context) error {
		var callErr error
		orderID, callErr = e.rest.SubmitOrder(callCtx, submit)
		if errors.Is(callErr, ErrDuplicateClientOrderID) {
			// A previous attempt landed; find the order it created.
			orderID, callErr = e.rest.OrderIDByLinkID(callCtx, req.Symbol, clientOrderID)
		}
		return callErr
	})
	if err != nil {
		return "", err
	}
	if orderID == "" {
		return "", errors.New("empty order id from exchange")
	}
	if e.store != nil {
		if err := e.store.Set(ctx, "cloid:"+clientOrderID, orderID); err != nil {
			e.log.Warn("failed to persist order id", zap.Error(err))
		}
	}
	return orderID, nil
}

func (e *Executor) Amend(ctx context.Context, symbol, orderID string, price float64) error {
	return e.retry(ctx, func(callCtx context.Context) error {
		return e.rest.AmendOrder(callCtx, symbol, orderID, price)
	})
}

func (e *Executor) Cancel(ctx context.Context, symbol, orderID string) error {
	return e.retry(ctx, func(callCtx context.Context) error {
		return e.rest.CancelOrder(callCtx, symbol, orderID)
	})
}

// retry runs fn with a per-call timeout and exponential backoff.
// engine.ErrOrderNotFound is surfaced immediately: the order has
// already been settled by the exchange and retrying cannot help.
func (e *Executor) retry(ctx context.Context, fn func(context.Context) error) error {
	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, engine.ErrOrderNotFound) {
			return err
		}
		if attempt == maxAttempts {
			return fmt.Errorf("gateway call failed after %d attempts: %w", attempt, err)
		}
		e.log.Debug("gateway call retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}
