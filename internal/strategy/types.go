package strategy

import "math"

type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
	SideNone Side = "None"
)

// Settings is the immutable strategy parameterization for one symbol.
type Settings struct {
	Symbol           string
	Size             float64
	LongStrikePrice  float64
	ShortStrikePrice float64
	ThresholdPercent float64
	MaxBounceCount   int
	PricePrecision   int
	SizePrecision    int
}

type MarketState struct {
	Bid   float64
	Ask   float64
	Price float64
}

type PositionState struct {
	Size       float64
	Side       Side
	EntryPrice float64
}

// DirectionState carries the resting protective order and the
// breakeven/threshold bookkeeping for one side.
type DirectionState struct {
	OrderID          string
	OrderPrice       float64
	StrikePrice      float64
	BreakEvenPrice   float64
	Threshold        float64
	CrossedThreshold bool
}

// State is the single mutable strategy snapshot. One goroutine owns it;
// the ingestor and the engine mutate it in turn, never concurrently.
type State struct {
	Market      MarketState
	Position    PositionState
	Long        DirectionState
	Short       DirectionState
	BounceCount int
}

func NewState(settings Settings) *State {
	return &State{
		Long:  DirectionState{StrikePrice: settings.LongStrikePrice},
		Short: DirectionState{StrikePrice: settings.ShortStrikePrice},
	}
}

func (s *State) HoldingLong() bool {
	return s.Position.Side == SideBuy && s.Position.Size > 0
}

func (s *State) HoldingShort() bool {
	return s.Position.Side == SideSell && s.Position.Size > 0
}

func (s *State) Flat() bool {
	return s.Position.Size == 0
}

// RoundPrice snaps a price to the instrument's price precision.
func (st Settings) RoundPrice(price float64) float64 {
	return roundTo(price, st.PricePrecision)
}

// RoundSize snaps a quantity to the instrument's size precision.
func (st Settings) RoundSize(size float64) float64 {
	return roundTo(size, st.SizePrecision)
}

func roundTo(value float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(value)
	}
	factor := math.Pow10(decimals)
	return math.Round(value*factor) / factor
}
