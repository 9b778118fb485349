package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"strike-guard-bot/internal/bybit"

	"go.uber.org/zap"
)

const (
	categoryLinear = "linear"
	recvWindow     = "5000"
)

// Bybit v5 retCodes the strategy needs to tell apart.
const (
	codeOK                 = 0
	codeOrderNotFound      = 110001
	codeTooLateToAmend     = 110010
	codeDuplicateOrderLink = 110072
)

// APIError is a non-zero retCode response from the exchange.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit retCode %d: %s", e.Code, e.Msg)
}

// IsOrderNotFound reports whether err means the exchange has already
// resolved the order (filled, cancelled or expired before our call).
func IsOrderNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == codeOrderNotFound || apiErr.Code == codeTooLateToAmend
}

// IsDuplicateOrderLink reports whether err means the client order id
// was already used, i.e. an earlier submit attempt landed.
func IsDuplicateOrderLink(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == codeDuplicateOrderLink
}

type Client struct {
	baseURL string
	creds   bybit.Credentials
	http    *http.Client
	log     *zap.Logger
	nowMS   func() int64
}

func New(baseURL string, timeout time.Duration, creds bybit.Credentials, log *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		creds:   creds,
		http:    &http.Client{Timeout: timeout},
		log:     log,
		nowMS:   func() int64 { return time.Now().UnixMilli() },
	}
}

type CreateOrderParams struct {
	Symbol        string
	Side          string
	Price         string
	Qty           string
	ReduceOnly    bool
	ClientOrderID string
}

// CreateOrder places a post-only limit order and returns the exchange
// order id.
func (c *Client) CreateOrder(ctx context.Context, params CreateOrderParams) (string, error) {
	body := map[string]any{
		"category":    categoryLinear,
		"symbol":      params.Symbol,
		"side":        params.Side,
		"orderType":   "Limit",
		"timeInForce": "PostOnly",
		"price":       params.Price,
		"qty":         params.Qty,
		"reduceOnly":  params.ReduceOnly,
	}
	if params.ClientOrderID != "" {
		body["orderLinkId"] = params.ClientOrderID
	}
	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := c.post(ctx, "/v5/order/create", body, &result); err != nil {
		return "", err
	}
	if result.OrderID == "" {
		return "", errors.New("create order response missing orderId")
	}
	return result.OrderID, nil
}

func (c *Client) AmendOrder(ctx context.Context, symbol, orderID, price string) error {
	body := map[string]any{
		"category": categoryLinear,
		"symbol":   symbol,
		"orderId":  orderID,
		"price":    price,
	}
	return c.post(ctx, "/v5/order/amend", body, nil)
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]any{
		"category": categoryLinear,
		"symbol":   symbol,
		"orderId":  orderID,
	}
	return c.post(ctx, "/v5/order/cancel", body, nil)
}

// OrderInfo is one row of /v5/order/realtime.
type OrderInfo struct {
	OrderID       string `json:"orderId"`
	OrderLinkID   string `json:"orderLinkId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	Qty           string `json:"qty"`
	OrderStatus   string `json:"orderStatus"`
	StopOrderType string `json:"stopOrderType"`
}

// OpenOrders returns the currently resting orders for symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]OrderInfo, error) {
	query := url.Values{}
	query.Set("category", categoryLinear)
	query.Set("symbol", symbol)
	query.Set("openOnly", "0")
	var result struct {
		List []OrderInfo `json:"list"`
	}
	if err := c.get(ctx, "/v5/order/realtime", query, &result); err != nil {
		return nil, err
	}
	return result.List, nil
}

// OrderByLinkID looks an order up by its client order id.
func (c *Client) OrderByLinkID(ctx context.Context, symbol, clientOrderID string) (OrderInfo, error) {
	query := url.Values{}
	query.Set("category", categoryLinear)
	query.Set("symbol", symbol)
	query.Set("orderLinkId", clientOrderID)
	var result struct {
		List []OrderInfo `json:"list"`
	}
	if err := c.get(ctx, "/v5/order/realtime", query, &result); err != nil {
		return OrderInfo{}, err
	}
	if len(result.List) == 0 {
		return OrderInfo{}, fmt.Errorf("no order for client order id %s", clientOrderID)
	}
	return result.List[0], nil
}

// PositionInfo is one row of /v5/position/list.
type PositionInfo struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Size       string `json:"size"`
	EntryPrice string `json:"avgPrice"`
}

// Position returns the current position for symbol. A missing row
// means flat.
func (c *Client) Position(ctx context.Context, symbol string) (PositionInfo, error) {
	query := url.Values{}
	query.Set("category", categoryLinear)
	query.Set("symbol", symbol)
	var result struct {
		List []PositionInfo `json:"list"`
	}
	if err := c.get(ctx, "/v5/position/list", query, &result); err != nil {
		return PositionInfo{}, err
	}
	if len(result.List) == 0 {
		return PositionInfo{Symbol: symbol, Side: "None", Size: "0"}, nil
	}
	return result.List[0], nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.signRequest(req, string(payload))
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	encoded := query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+encoded, nil)
	if err != nil {
		return err
	}
	c.signRequest(req, encoded)
	return c.do(req, out)
}

func (c *Client) signRequest(req *http.Request, payload string) {
	timestamp := c.nowMS()
	signature := bybit.Sign(c.creds.Secret, bybit.RESTPayload(timestamp, c.creds.Key, recvWindow, payload))
	req.Header.Set("X-BAPI-API-KEY", c.creds.Key)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	req.Header.Set("X-BAPI-SIGN", signature)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	var envelope struct {
		RetCode int             `json:"retCode"`
		RetMsg  string          `json:"retMsg"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return err
	}
	if envelope.RetCode != codeOK {
		return &APIError{Code: envelope.RetCode, Msg: envelope.RetMsg}
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}
