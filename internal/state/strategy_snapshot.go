package state

import (
	"context"
	"encoding/json"
	"strings"
)

const StrategySnapshotKey = "strategy:last_snapshot"

// StrategySnapshot is the last observed strategy picture, persisted each
// tick so an operator can inspect state after a crash. It is informational
// only; live state is always rebuilt from the exchange on startup.
type StrategySnapshot struct {
	Symbol          string  `json:"symbol"`
	Bid             float64 `json:"bid"`
	Ask             float64 `json:"ask"`
	Price           float64 `json:"price"`
	PositionSize    float64 `json:"position_size"`
	PositionSide    string  `json:"position_side"`
	EntryPrice      float64 `json:"entry_price"`
	LongOrderID     string  `json:"long_order_id"`
	LongOrderPrice  float64 `json:"long_order_price"`
	LongStrike      float64 `json:"long_strike"`
	LongBreakEven   float64 `json:"long_break_even"`
	LongThreshold   float64 `json:"long_threshold"`
	LongCrossed     bool    `json:"long_crossed"`
	ShortOrderID    string  `json:"short_order_id"`
	ShortOrderPrice float64 `json:"short_order_price"`
	ShortStrike     float64 `json:"short_strike"`
	ShortBreakEven  float64 `json:"short_break_even"`
	ShortThreshold  float64 `json:"short_threshold"`
	ShortCrossed    bool    `json:"short_crossed"`
	BounceCount     int     `json:"bounce_count"`
	UpdatedAtMS     int64   `json:"updated_at_ms"`
}

func LoadStrategySnapshot(ctx context.Context, store Store) (StrategySnapshot, bool, error) {
	if store == nil {
		return StrategySnapshot{}, false, nil
	}
	raw, ok, err := store.Get(ctx, StrategySnapshotKey)
	if err != nil {
		return StrategySnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return StrategySnapshot{}, false, nil
	}
	var snapshot StrategySnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return StrategySnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveStrategySnapshot(ctx context.Context, store Store, snapshot StrategySnapshot) error {
	if store == nil {
		return nil
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, StrategySnapshotKey, string(payload))
}
