// Package exchange implements the REST and WebSocket clients for the single
// futures exchange THE CORE trades against.
//
// The REST client (Client) covers the full trading surface:
//   - PlaceOrder / CancelOrder / CancelAll / ClosePosition / SetLeverage
//   - OpenOrders, Balances, Positions, AccountSnapshot
//   - Klines, Ticker
//   - Funding, income, transfer, convert, deposit/withdraw, and dust history
//
// Every request is rate-limited via per-category TokenBuckets, retried on
// 5xx errors, and authenticated with the account's HMAC signature (except
// public market-data reads). All numeric fields cross the wire as strings
// and are parsed into decimal.Decimal at this boundary; nothing above the
// adapter ever sees a float64 price or quantity.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"alphaengine-core/internal/config"
	"alphaengine-core/internal/core"
	"alphaengine-core/pkg/types"
)

// OrderRequest is the adapter-level request to place a single order.
type OrderRequest struct {
	Symbol        string
	Side          types.Side
	Type          types.OrderType
	Qty           decimal.Decimal
	Price         decimal.Decimal // ignored for MARKET
	TimeInForce   types.TimeInForce
	ReduceOnly    bool
	PositionSide  types.PositionSide
	ClientOrderID string // "ae-" + command_id, see types.Command.ClientOrderID
}

// OrderResult is the adapter-level response to a successful order placement.
type OrderResult struct {
	ExchangeOrderID string
	ClientOrderID   string
	Status          string
	FilledQty       decimal.Decimal
	AvgPrice        decimal.Decimal
}

// Client is the exchange's REST API client: a resty HTTP client with rate
// limiting, retry, and HMAC signing.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.Exchange.RESTBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		dryRun: cfg.DryRun,
		logger: logger.With("component", "exchange_client"),
	}
}

// restOrderResponse is the wire shape returned by the order endpoints;
// numeric fields are strings per exchange convention.
type restOrderResponse struct {
	OrderID       string `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
}

func (r restOrderResponse) toResult() OrderResult {
	return OrderResult{
		ExchangeOrderID: r.OrderID,
		ClientOrderID:   r.ClientOrderID,
		Status:          r.Status,
		FilledQty:       parseDecimal(r.ExecutedQty),
		AvgPrice:        parseDecimal(r.AvgPrice),
	}
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// PlaceOrder submits a new order. The exchange enforces idempotency on
// ClientOrderID: a retried placement with the same id returns the original
// order rather than creating a duplicate.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order", "symbol", req.Symbol, "side", req.Side, "qty", req.Qty)
		return OrderResult{
			ExchangeOrderID: "dry-run-" + req.ClientOrderID,
			ClientOrderID:   req.ClientOrderID,
			Status:          "NEW",
			FilledQty:       decimal.Zero,
			AvgPrice:        decimal.Zero,
		}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return OrderResult{}, err
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", req.Qty.String())
	if req.Type == types.OrderTypeLimit {
		params.Set("price", req.Price.String())
		params.Set("timeInForce", string(req.TimeInForce))
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if req.PositionSide != "" {
		params.Set("positionSide", string(req.PositionSide))
	}
	params.Set("newClientOrderId", req.ClientOrderID)

	var result restOrderResponse
	resp, err := c.signedRequest(ctx, http.MethodPost, "/v1/order", params, &result)
	if err != nil {
		return OrderResult{}, fmt.Errorf("place order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return OrderResult{}, fmt.Errorf("place order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.toResult(), nil
}

// CancelOrder cancels a single order by exchange or client order id.
func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID, clientOrderID string) (OrderResult, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "symbol", symbol, "order_id", exchangeOrderID)
		return OrderResult{ExchangeOrderID: exchangeOrderID, ClientOrderID: clientOrderID, Status: "CANCELED"}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return OrderResult{}, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	if exchangeOrderID != "" {
		params.Set("orderId", exchangeOrderID)
	} else {
		params.Set("origClientOrderId", clientOrderID)
	}

	var result restOrderResponse
	resp, err := c.signedRequest(ctx, http.MethodDelete, "/v1/order", params, &result)
	if err != nil {
		return OrderResult{}, fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return OrderResult{}, fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.toResult(), nil
}

// CancelAll cancels every open order for a symbol.
func (c *Client) CancelAll(ctx context.Context, symbol string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders", "symbol", symbol)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	params := url.Values{}
	params.Set("symbol", symbol)

	resp, err := c.signedRequest(ctx, http.MethodDelete, "/v1/allOpenOrders", params, nil)
	if err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}
	c.logger.Warn("all orders cancelled", "symbol", symbol)
	return nil
}

// SetLeverage changes the account's leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would set leverage", "symbol", symbol, "leverage", leverage)
		return nil
	}
	if err := c.rl.Account.Wait(ctx); err != nil {
		return err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", fmt.Sprintf("%d", leverage))

	resp, err := c.signedRequest(ctx, http.MethodPost, "/v1/leverage", params, nil)
	if err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("set leverage: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// ClosePosition flattens the open position on a symbol with a reduce-only
// market order sized to the position's current quantity. The caller (the
// ClosePosition command handler) is responsible for reading the position
// first; this method only issues the order.
func (c *Client) ClosePosition(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal, clientOrderID string) (OrderResult, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would close position", "symbol", symbol, "qty", qty)
		return OrderResult{ExchangeOrderID: "dry-run-" + clientOrderID, ClientOrderID: clientOrderID, Status: "NEW"}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return OrderResult{}, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", string(types.OrderTypeMarket))
	params.Set("quantity", qty.String())
	params.Set("reduceOnly", "true")
	params.Set("newClientOrderId", clientOrderID)

	var result restOrderResponse
	resp, err := c.signedRequest(ctx, http.MethodPost, "/v1/order", params, &result)
	if err != nil {
		return OrderResult{}, fmt.Errorf("close position: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return OrderResult{}, fmt.Errorf("close position: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.toResult(), nil
}

type restOpenOrder struct {
	OrderID       string `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	OrigQty       string `json:"origQty"`
	Price         string `json:"price"`
	ReduceOnly    bool   `json:"reduceOnly"`
}

// OpenOrders lists resting orders for a symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]types.OpenOrder, error) {
	if err := c.rl.Account.Wait(ctx); err != nil {
		return nil, err
	}
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	var raw []restOpenOrder
	resp, err := c.signedRequest(ctx, http.MethodGet, "/v1/openOrders", params, &raw)
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("open orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := make([]types.OpenOrder, len(raw))
	for i, o := range raw {
		out[i] = types.OpenOrder{
			ExchangeOrderID: o.OrderID,
			ClientOrderID:   o.ClientOrderID,
			Symbol:          o.Symbol,
			Side:            types.Side(o.Side),
			Type:            types.OrderType(o.Type),
			Qty:             parseDecimal(o.OrigQty),
			Price:           parseDecimal(o.Price),
			ReduceOnly:      o.ReduceOnly,
		}
	}
	return out, nil
}

type restBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// Balances returns the account's asset balances for one venue.
func (c *Client) Balances(ctx context.Context, venue types.Venue) ([]types.Balance, error) {
	if err := c.rl.Account.Wait(ctx); err != nil {
		return nil, err
	}
	path := "/v1/account/balances"

	var raw []restBalance
	resp, err := c.signedRequest(ctx, http.MethodGet, path, url.Values{}, &raw)
	if err != nil {
		return nil, fmt.Errorf("balances: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("balances: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := make([]types.Balance, len(raw))
	for i, b := range raw {
		out[i] = types.Balance{Venue: venue, Asset: b.Asset, Free: parseDecimal(b.Free), Locked: parseDecimal(b.Locked)}
	}
	return out, nil
}

type restPosition struct {
	Symbol        string `json:"symbol"`
	PositionSide  string `json:"positionSide"`
	PositionAmt   string `json:"positionAmt"`
	EntryPrice    string `json:"entryPrice"`
	UnrealizedPnL string `json:"unRealizedProfit"`
	Leverage      string `json:"leverage"`
}

// Positions returns open positions across all symbols.
func (c *Client) Positions(ctx context.Context) ([]types.Position, error) {
	if err := c.rl.Account.Wait(ctx); err != nil {
		return nil, err
	}

	var raw []restPosition
	resp, err := c.signedRequest(ctx, http.MethodGet, "/v1/positionRisk", url.Values{}, &raw)
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("positions: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := make([]types.Position, 0, len(raw))
	for _, p := range raw {
		qty := parseDecimal(p.PositionAmt)
		if qty.IsZero() {
			continue
		}
		lev := 0
		fmt.Sscanf(p.Leverage, "%d", &lev)
		out = append(out, types.Position{
			Symbol:        p.Symbol,
			Side:          types.PositionSide(p.PositionSide),
			Qty:           qty,
			EntryPrice:    parseDecimal(p.EntryPrice),
			UnrealizedPnL: parseDecimal(p.UnrealizedPnL),
			Leverage:      lev,
		})
	}
	return out, nil
}

// Klines fetches OHLCV bars for symbol at the given interval string
// (exchange-native, e.g. "1m", "1h").
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]types.Bar, error) {
	if err := c.rl.Market.Wait(ctx); err != nil {
		return nil, err
	}

	var raw [][]any
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": interval,
			"limit":    fmt.Sprintf("%d", limit),
		}).
		SetResult(&raw).
		Get("/v1/klines")
	if err != nil {
		return nil, fmt.Errorf("klines: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("klines: status %d: %s", resp.StatusCode(), resp.String())
	}

	bars := make([]types.Bar, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		openTimeMS, _ := row[0].(float64)
		bars = append(bars, types.Bar{
			OpenTime: time.UnixMilli(int64(openTimeMS)).UTC(),
			Open:     parseDecimal(fmt.Sprint(row[1])),
			High:     parseDecimal(fmt.Sprint(row[2])),
			Low:      parseDecimal(fmt.Sprint(row[3])),
			Close:    parseDecimal(fmt.Sprint(row[4])),
			Volume:   parseDecimal(fmt.Sprint(row[5])),
		})
	}
	return bars, nil
}

// Ticker fetches the latest price for symbol.
func (c *Client) Ticker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := c.rl.Market.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	var result struct {
		Price string `json:"price"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&result).
		Get("/v1/ticker/price")
	if err != nil {
		return decimal.Zero, fmt.Errorf("ticker: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, fmt.Errorf("ticker: status %d: %s", resp.StatusCode(), resp.String())
	}
	return parseDecimal(result.Price), nil
}

// HistoryRecord is the common shape of the funding/income/transfer/convert/
// deposit-withdraw/dust history endpoints — all return a flat list of
// timestamped records distinguished by Kind.
type HistoryRecord struct {
	ID      string
	Kind    string // e.g. "FUNDING_FEE", "TRANSFER", "DEPOSIT"
	Symbol  string // trading pair, populated for income records; empty for asset transfers
	Asset   string
	Amount  decimal.Decimal
	Status  string
	TxTime  time.Time
	Payload map[string]any
}

type restHistoryRecord struct {
	TranID  string         `json:"tranId"`
	Type    string         `json:"type"`
	Symbol  string         `json:"symbol"`
	Asset   string         `json:"asset"`
	Amount  string         `json:"amount"`
	Status  string         `json:"status"`
	Time    int64          `json:"time"`
	Payload map[string]any `json:"-"`
}

func (c *Client) history(ctx context.Context, path string, params url.Values) ([]HistoryRecord, error) {
	if err := c.rl.Account.Wait(ctx); err != nil {
		return nil, err
	}

	var raw []restHistoryRecord
	resp, err := c.signedRequest(ctx, http.MethodGet, path, params, &raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d: %s", path, resp.StatusCode(), resp.String())
	}

	out := make([]HistoryRecord, len(raw))
	for i, r := range raw {
		out[i] = HistoryRecord{
			ID:     r.TranID,
			Kind:   r.Type,
			Symbol: r.Symbol,
			Asset:  r.Asset,
			Amount: parseDecimal(r.Amount),
			Status: r.Status,
			TxTime: time.UnixMilli(r.Time).UTC(),
		}
	}
	return out, nil
}

// FundingHistory returns funding-fee settlements since since.
func (c *Client) FundingHistory(ctx context.Context, symbol string, since time.Time) ([]HistoryRecord, error) {
	params := url.Values{"symbol": {symbol}}
	if !since.IsZero() {
		params.Set("startTime", fmt.Sprintf("%d", since.UnixMilli()))
	}
	return c.history(ctx, "/v1/income", params)
}

// IncomeHistory returns commission rebates and other income records.
func (c *Client) IncomeHistory(ctx context.Context, since time.Time) ([]HistoryRecord, error) {
	params := url.Values{}
	if !since.IsZero() {
		params.Set("startTime", fmt.Sprintf("%d", since.UnixMilli()))
	}
	return c.history(ctx, "/v1/income", params)
}

// TransferHistory returns internal transfer records since since.
func (c *Client) TransferHistory(ctx context.Context, since time.Time) ([]HistoryRecord, error) {
	params := url.Values{}
	if !since.IsZero() {
		params.Set("startTime", fmt.Sprintf("%d", since.UnixMilli()))
	}
	return c.history(ctx, "/v1/asset/transfer", params)
}

// ConvertHistory returns small-asset convert records since since.
func (c *Client) ConvertHistory(ctx context.Context, since time.Time) ([]HistoryRecord, error) {
	params := url.Values{}
	if !since.IsZero() {
		params.Set("startTime", fmt.Sprintf("%d", since.UnixMilli()))
	}
	return c.history(ctx, "/v1/convert/history", params)
}

// DepositWithdrawHistory returns deposit and withdraw records since since.
func (c *Client) DepositWithdrawHistory(ctx context.Context, since time.Time) ([]HistoryRecord, error) {
	params := url.Values{}
	if !since.IsZero() {
		params.Set("startTime", fmt.Sprintf("%d", since.UnixMilli()))
	}
	return c.history(ctx, "/v1/capital/deposit-withdraw", params)
}

// DustLog returns the account's dust-to-BNB conversion history.
func (c *Client) DustLog(ctx context.Context, since time.Time) ([]HistoryRecord, error) {
	params := url.Values{}
	if !since.IsZero() {
		params.Set("startTime", fmt.Sprintf("%d", since.UnixMilli()))
	}
	return c.history(ctx, "/v1/asset/dust-log", params)
}

// AccountSnapshot returns a point-in-time view of balances and positions,
// used by the initial-capital recorder and the opening reconciler.
func (c *Client) AccountSnapshot(ctx context.Context, venue types.Venue) (map[string]decimal.Decimal, error) {
	balances, err := c.Balances(ctx, venue)
	if err != nil {
		return nil, fmt.Errorf("account snapshot: %w", err)
	}
	out := make(map[string]decimal.Decimal, len(balances))
	for _, b := range balances {
		out[b.Asset] = b.Free.Add(b.Locked)
	}
	return out, nil
}

// TransferResult is the adapter-level response to an internal transfer or
// external withdrawal request.
type TransferResult struct {
	TranID string
	Status string
}

type restTransferResponse struct {
	TranID string `json:"tranId"`
	Status string `json:"status"`
}

// InternalTransfer moves an asset between the account's SPOT and FUTURES
// sub-ledgers. There is no dedicated rate-limit bucket for this low-frequency
// account operation; it shares the Account bucket.
func (c *Client) InternalTransfer(ctx context.Context, asset string, amount decimal.Decimal, from, to types.Venue) (TransferResult, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would transfer", "asset", asset, "amount", amount, "from", from, "to", to)
		return TransferResult{TranID: "dry-run-transfer", Status: "CONFIRMED"}, nil
	}
	if err := c.rl.Account.Wait(ctx); err != nil {
		return TransferResult{}, err
	}

	params := url.Values{}
	params.Set("asset", asset)
	params.Set("amount", amount.String())
	params.Set("fromAccountType", string(from))
	params.Set("toAccountType", string(to))

	var result restTransferResponse
	resp, err := c.signedRequest(ctx, http.MethodPost, "/v1/asset/transfer", params, &result)
	if err != nil {
		return TransferResult{}, fmt.Errorf("internal transfer: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return TransferResult{}, fmt.Errorf("internal transfer: status %d: %s", resp.StatusCode(), resp.String())
	}
	return TransferResult{TranID: result.TranID, Status: result.Status}, nil
}

// Withdraw requests an external withdrawal to an on-chain or fiat address.
// It shares the Account rate-limit bucket; withdrawals are rare enough that a
// dedicated bucket would sit idle.
func (c *Client) Withdraw(ctx context.Context, asset, address string, amount decimal.Decimal, network string) (TransferResult, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would withdraw", "asset", asset, "amount", amount, "address", address)
		return TransferResult{TranID: "dry-run-withdraw", Status: "PROCESSING"}, nil
	}
	if err := c.rl.Account.Wait(ctx); err != nil {
		return TransferResult{}, err
	}

	params := url.Values{}
	params.Set("coin", asset)
	params.Set("address", address)
	params.Set("amount", amount.String())
	if network != "" {
		params.Set("network", network)
	}

	var result restTransferResponse
	resp, err := c.signedRequest(ctx, http.MethodPost, "/v1/capital/withdraw", params, &result)
	if err != nil {
		return TransferResult{}, fmt.Errorf("withdraw: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return TransferResult{}, fmt.Errorf("withdraw: status %d: %s", resp.StatusCode(), resp.String())
	}
	return TransferResult{TranID: result.TranID, Status: result.Status}, nil
}

// signedRequest signs params, attaches the X-API-Key header, issues the
// request at method/path, and decodes the JSON body into result (if non-nil).
// It logs the exchange's rate-limit headers (used-weight, retry-after) itself
// and maps a 429 to a wrapped core.ErrRateLimited; the retry-after value is
// not returned to the caller.
func (c *Client) signedRequest(ctx context.Context, method, path string, params url.Values, result any) (*resty.Response, error) {
	signed := c.auth.Sign(params)

	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-API-Key", c.auth.APIKey())
	if result != nil {
		req = req.SetResult(result)
	}

	var resp *resty.Response
	var err error
	switch method {
	case http.MethodGet:
		resp, err = req.SetQueryString(signed).Get(path)
	case http.MethodPost:
		resp, err = req.SetQueryString(signed).Post(path)
	case http.MethodDelete:
		resp, err = req.SetQueryString(signed).Delete(path)
	default:
		return nil, fmt.Errorf("unsupported method %q", method)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTransientIO, err)
	}

	if used := resp.Header().Get("used-weight"); used != "" {
		c.logger.Debug("exchange rate-limit weight", "used_weight", used, "path", path)
	}
	if retryAfter := resp.Header().Get("retry-after"); retryAfter != "" {
		c.logger.Warn("exchange requested retry-after", "retry_after", retryAfter, "path", path)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return resp, fmt.Errorf("%s: %w", path, core.ErrRateLimited)
	}
	if resp.StatusCode() >= http.StatusBadRequest && resp.StatusCode() < http.StatusInternalServerError {
		return resp, fmt.Errorf("%s: %w", path, core.NewExchangeAPIError(resp.StatusCode(), resp.String()))
	}
	return resp, nil
}
