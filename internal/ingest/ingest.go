package ingest

import (
	"math"

	"strike-guard-bot/internal/strategy"
)

// Apply folds one feed event into the strategy state. Field updates
// only: no decisions, no exchange calls. Applying the same event twice
// leaves the state unchanged.
func Apply(st *strategy.State, settings strategy.Settings, ev Event) {
	switch e := ev.(type) {
	case OrderbookUpdate:
		if e.Symbol != settings.Symbol {
			return
		}
		if e.Bid > 0 {
			st.Market.Bid = e.Bid
		}
		if e.Ask > 0 {
			st.Market.Ask = e.Ask
		}
		if st.Market.Bid > 0 && st.Market.Ask > 0 {
			st.Market.Price = settings.RoundPrice((st.Market.Bid + st.Market.Ask) / 2)
		}
	case PositionUpdate:
		if e.Symbol != settings.Symbol {
			return
		}
		size := math.Abs(e.Size)
		side := e.Side
		if size == 0 {
			side = strategy.SideNone
		}
		st.Position = strategy.PositionState{
			Size:       size,
			Side:       side,
			EntryPrice: e.EntryPrice,
		}
	case OrderUpdate:
		if e.Symbol != settings.Symbol {
			return
		}
		var dir *strategy.DirectionState
		switch e.Side {
		case strategy.SideBuy:
			dir = &st.Long
		case strategy.SideSell:
			dir = &st.Short
		default:
			return
		}
		switch e.Status {
		case StatusNew:
			dir.OrderID = e.OrderID
		case StatusFilled, StatusCancelled, StatusRejected, StatusDeactivated:
			dir.OrderID = ""
		}
	}
}
