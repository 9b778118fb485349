package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"strike-guard-bot/internal/bybit"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	creds := bybit.Credentials{Key: "test-key", Secret: "test-secret"}
	client := New(server.URL, 2*time.Second, creds, zap.NewNop())
	client.nowMS = func() int64 { return 1700000000000 }
	return client, server
}

func TestCreateOrderSignsAndParses(t *testing.T) {
	var captured *http.Request
	var body map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		captured = r
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"orderId":"abc123"}}`))
	})

	orderID, err := client.CreateOrder(context.Background(), CreateOrderParams{
		Symbol:        "ETHUSDT",
		Side:          "Sell",
		Price:         "2000.15",
		Qty:           "0.5",
		ReduceOnly:    true,
		ClientOrderID: "link-1",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if orderID != "abc123" {
		t.Fatalf("orderID = %q, want abc123", orderID)
	}
	if captured.URL.Path != "/v5/order/create" {
		t.Fatalf("path = %q", captured.URL.Path)
	}
	if got := captured.Header.Get("X-BAPI-API-KEY"); got != "test-key" {
		t.Fatalf("api key header = %q", got)
	}
	if got := captured.Header.Get("X-BAPI-TIMESTAMP"); got != "1700000000000" {
		t.Fatalf("timestamp header = %q", got)
	}
	if captured.Header.Get("X-BAPI-SIGN") == "" {
		t.Fatal("missing signature header")
	}
	if body["timeInForce"] != "PostOnly" {
		t.Fatalf("timeInForce = %v", body["timeInForce"])
	}
	if body["reduceOnly"] != true {
		t.Fatalf("reduceOnly = %v", body["reduceOnly"])
	}
	if body["orderLinkId"] != "link-1" {
		t.Fatalf("orderLinkId = %v", body["orderLinkId"])
	}
}

func TestAPIErrorMapping(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":110001,"retMsg":"order not exists or too late to cancel"}`))
	})

	err := client.AmendOrder(context.Background(), "ETHUSDT", "gone", "2001.00")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsOrderNotFound(err) {
		t.Fatalf("IsOrderNotFound = false for %v", err)
	}
	if IsDuplicateOrderLink(err) {
		t.Fatalf("IsDuplicateOrderLink = true for %v", err)
	}
}

func TestDuplicateOrderLinkDetected(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":110072,"retMsg":"OrderLinkedID is duplicate"}`))
	})

	_, err := client.CreateOrder(context.Background(), CreateOrderParams{Symbol: "ETHUSDT", Side: "Buy", Price: "1990", Qty: "0.5"})
	if !IsDuplicateOrderLink(err) {
		t.Fatalf("IsDuplicateOrderLink = false for %v", err)
	}
}

func TestOpenOrdersSignsQuery(t *testing.T) {
	var captured *http.Request
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		captured = r
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			{"orderId":"o1","orderLinkId":"l1","symbol":"ETHUSDT","side":"Sell","price":"2010.00","qty":"0.5","orderStatus":"New","stopOrderType":""},
			{"orderId":"o2","orderLinkId":"l2","symbol":"ETHUSDT","side":"Buy","price":"1980.00","qty":"0.5","orderStatus":"New","stopOrderType":"Stop"}
		]}}`))
	})

	orders, err := client.OpenOrders(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatalf("OpenOrders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("got %d orders, want 2", len(orders))
	}
	if orders[1].StopOrderType != "Stop" {
		t.Fatalf("StopOrderType = %q", orders[1].StopOrderType)
	}
	if captured.Header.Get("X-BAPI-SIGN") == "" {
		t.Fatal("missing signature header on GET")
	}
	query := captured.URL.Query()
	if query.Get("category") != "linear" || query.Get("symbol") != "ETHUSDT" {
		t.Fatalf("query = %v", query)
	}
}

func TestPositionEmptyListMeansFlat(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[]}}`))
	})

	pos, err := client.Position(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if pos.Size != "0" || pos.Side != "None" {
		t.Fatalf("pos = %+v, want flat", pos)
	}
}

func TestHTTPErrorSurfaces(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	if err := client.CancelOrder(context.Background(), "ETHUSDT", "o1"); err == nil {
		t.Fatal("expected error on 502")
	}
}
