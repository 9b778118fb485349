package app

import (
	"time"

	"strike-guard-bot/internal/timescale"
)

func (a *App) recordTimescale() {
	if a.timescale == nil {
		return
	}
	st := a.state
	a.timescale.EnqueueTick(timescale.TickSnapshot{
		Time:           time.Now().UTC(),
		Symbol:         a.settings.Symbol,
		Bid:            st.Market.Bid,
		Ask:            st.Market.Ask,
		Price:          st.Market.Price,
		PositionSize:   st.Position.Size,
		PositionSide:   string(st.Position.Side),
		EntryPrice:     st.Position.EntryPrice,
		LongStrike:     st.Long.StrikePrice,
		ShortStrike:    st.Short.StrikePrice,
		LongBreakEven:  st.Long.BreakEvenPrice,
		ShortBreakEven: st.Short.BreakEvenPrice,
		LongThreshold:  st.Long.Threshold,
		ShortThreshold: st.Short.Threshold,
		LongCrossed:    st.Long.CrossedThreshold,
		ShortCrossed:   st.Short.CrossedThreshold,
		SellOrderID:    st.Short.OrderID,
		SellOrderPrice: st.Short.OrderPrice,
		BuyOrderID:     st.Long.OrderID,
		BuyOrderPrice:  st.Long.OrderPrice,
		BounceCount:    st.BounceCount,
		Paused:         a.isPaused(),
	})
}
