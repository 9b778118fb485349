package ingest

import "strike-guard-bot/internal/strategy"

// Event is one typed feed update. Variants are applied to strategy
// state by Apply; they never trigger order actions themselves.
type Event interface {
	isEvent()
}

// OrderbookUpdate carries the best book levels. A zero Bid or Ask means
// the message did not include that side.
type OrderbookUpdate struct {
	Symbol string
	Bid    float64
	Ask    float64
}

type PositionUpdate struct {
	Symbol     string
	Size       float64
	Side       strategy.Side
	EntryPrice float64
}

type OrderUpdate struct {
	Symbol  string
	OrderID string
	Side    strategy.Side
	Status  string
}

func (OrderbookUpdate) isEvent() {}
func (PositionUpdate) isEvent()  {}
func (OrderUpdate) isEvent()     {}

// Order statuses that mean the order is no longer resting.
const (
	StatusNew         = "New"
	StatusFilled      = "Filled"
	StatusCancelled   = "Cancelled"
	StatusRejected    = "Rejected"
	StatusDeactivated = "Deactivated"
)
