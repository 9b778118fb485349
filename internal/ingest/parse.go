package ingest

import (
	"encoding/json"
	"strconv"
	"strings"

	"strike-guard-bot/internal/strategy"
)

// Parse extracts the typed events the strategy cares about from one
// raw websocket frame. Frames for other symbols, conditional orders
// and malformed book levels yield no events; parsing never errors.
func Parse(raw json.RawMessage, symbol string) []Event {
	var frame struct {
		Topic string          `json:"topic"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Topic == "" || len(frame.Data) == 0 {
		return nil
	}
	switch {
	case strings.HasPrefix(frame.Topic, "orderbook."):
		return parseOrderbook(frame.Data, symbol)
	case frame.Topic == "position" || strings.HasPrefix(frame.Topic, "position."):
		return parsePositions(frame.Data, symbol)
	case frame.Topic == "order" || strings.HasPrefix(frame.Topic, "order."):
		return parseOrders(frame.Data, symbol)
	}
	return nil
}

func parseOrderbook(data json.RawMessage, symbol string) []Event {
	var book struct {
		Symbol string     `json:"s"`
		Bids   [][]string `json:"b"`
		Asks   [][]string `json:"a"`
	}
	if err := json.Unmarshal(data, &book); err != nil {
		return nil
	}
	if book.Symbol != symbol {
		return nil
	}
	ev := OrderbookUpdate{
		Symbol: book.Symbol,
		Bid:    bestLevelPrice(book.Bids),
		Ask:    bestLevelPrice(book.Asks),
	}
	if ev.Bid == 0 && ev.Ask == 0 {
		return nil
	}
	return []Event{ev}
}

func bestLevelPrice(levels [][]string) float64 {
	if len(levels) == 0 || len(levels[0]) == 0 {
		return 0
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(levels[0][0]), 64)
	if err != nil || price <= 0 {
		return 0
	}
	return price
}

func parsePositions(data json.RawMessage, symbol string) []Event {
	var rows []struct {
		Symbol     string `json:"symbol"`
		Side       string `json:"side"`
		Size       string `json:"size"`
		EntryPrice string `json:"entryPrice"`
		AvgPrice   string `json:"avgPrice"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil
	}
	var events []Event
	for _, row := range rows {
		if row.Symbol != symbol {
			continue
		}
		entry := floatFromString(row.EntryPrice)
		if entry == 0 {
			entry = floatFromString(row.AvgPrice)
		}
		events = append(events, PositionUpdate{
			Symbol:     row.Symbol,
			Size:       floatFromString(row.Size),
			Side:       sideFromString(row.Side),
			EntryPrice: entry,
		})
	}
	return events
}

func parseOrders(data json.RawMessage, symbol string) []Event {
	var rows []struct {
		Symbol        string `json:"symbol"`
		OrderID       string `json:"orderId"`
		Side          string `json:"side"`
		OrderStatus   string `json:"orderStatus"`
		StopOrderType string `json:"stopOrderType"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil
	}
	var events []Event
	for _, row := range rows {
		if row.Symbol != symbol {
			continue
		}
		// Conditional orders (stop loss, take profit, triggers) are not
		// ours to track.
		if strings.TrimSpace(row.StopOrderType) != "" {
			continue
		}
		side := sideFromString(row.Side)
		if side == strategy.SideNone {
			continue
		}
		events = append(events, OrderUpdate{
			Symbol:  row.Symbol,
			OrderID: row.OrderID,
			Side:    side,
			Status:  row.OrderStatus,
		})
	}
	return events
}

func sideFromString(s string) strategy.Side {
	switch strings.TrimSpace(s) {
	case "Buy":
		return strategy.SideBuy
	case "Sell":
		return strategy.SideSell
	default:
		return strategy.SideNone
	}
}

func floatFromString(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
