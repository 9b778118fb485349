package strategy

// CommissionRate is the per-leg taker/maker commission assumed when
// deriving breakeven prices; a round trip pays it twice.
const CommissionRate = 0.0002

// UpdateThresholds derives strike, breakeven and profit-lock threshold
// values from the current market and position picture. Pure state
// derivation: it never talks to the exchange and is safe to call on
// every tick before decisions run.
func UpdateThresholds(st *State, settings Settings) {
	price := st.Market.Price

	if st.Flat() && price > settings.ShortStrikePrice && price < settings.LongStrikePrice {
		st.Long.StrikePrice = settings.LongStrikePrice
		st.Short.StrikePrice = settings.ShortStrikePrice
	}

	switch {
	case st.HoldingLong():
		clearEpisode(&st.Short)
		if st.Long.BreakEvenPrice == 0 {
			st.Long.BreakEvenPrice = st.Position.EntryPrice * (1 + 2*CommissionRate)
			st.Long.Threshold = st.Long.BreakEvenPrice * (1 + settings.ThresholdPercent)
		}
		if st.Long.Threshold > 0 && price > st.Long.Threshold && !st.Long.CrossedThreshold {
			st.Long.CrossedThreshold = true
		}
		if st.Long.CrossedThreshold {
			// Lock a no-loss exit for a reversal: the protective sell
			// now triggers at breakeven instead of the configured strike.
			st.Short.StrikePrice = st.Long.BreakEvenPrice
		}
	case st.HoldingShort():
		clearEpisode(&st.Long)
		if st.Short.BreakEvenPrice == 0 {
			st.Short.BreakEvenPrice = st.Position.EntryPrice * (1 - 2*CommissionRate)
			st.Short.Threshold = st.Short.BreakEvenPrice * (1 - settings.ThresholdPercent)
		}
		if st.Short.Threshold > 0 && price < st.Short.Threshold && !st.Short.CrossedThreshold {
			st.Short.CrossedThreshold = true
		}
		if st.Short.CrossedThreshold {
			st.Long.StrikePrice = st.Short.BreakEvenPrice
		}
	default:
		clearEpisode(&st.Long)
		clearEpisode(&st.Short)
	}
}

func clearEpisode(dir *DirectionState) {
	dir.BreakEvenPrice = 0
	dir.Threshold = 0
	dir.CrossedThreshold = false
}
