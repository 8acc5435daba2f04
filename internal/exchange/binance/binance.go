// Package binance implements market data, account and order execution
// against the Binance USD-M futures API.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"tradebot/internal/config"
	"tradebot/internal/core"
	apperrors "tradebot/pkg/errors"
	tbhttp "tradebot/pkg/http"
	"tradebot/pkg/retry"
)

const (
	defaultFuturesURL = "https://fapi.binance.com"

	// Binance weights kline and order calls differently; a single
	// conservative limit keeps us well under the per-minute budget.
	requestsPerSecond = 8
)

// Client talks to the Binance futures REST API. It implements
// core.MarketData, core.ExecutionGateway and core.AccountReader.
type Client struct {
	cfg     *config.ExchangeConfig
	http    *tbhttp.Client
	logger  core.ILogger
	limiter *rate.Limiter
	policy  retry.Policy

	interval string
	now      func() time.Time
}

// NewClient creates a Binance futures client.
func NewClient(cfg *config.ExchangeConfig, interval string, timeout time.Duration, logger core.ILogger) *Client {
	c := &Client{
		cfg:      cfg,
		logger:   logger.WithField("exchange", "binance"),
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		policy:   retry.DefaultPolicy,
		interval: interval,
		now:      time.Now,
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultFuturesURL
	}
	c.http = tbhttp.NewClient(baseURL, timeout, c)
	return c
}

// SignRequest adds the API key header and the HMAC-SHA256 signature
// Binance expects on authenticated endpoints. Public endpoints carry no
// timestamp and are left unsigned.
func (c *Client) SignRequest(req *http.Request) error {
	q := req.URL.Query()
	if q.Get("timestamp") == "" {
		return nil
	}

	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey.Reveal())

	mac := hmac.New(sha256.New, []byte(c.cfg.SecretKey.Reveal()))
	mac.Write([]byte(q.Encode()))
	q.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	req.URL.RawQuery = q.Encode()
	return nil
}

func (c *Client) parseError(err error) error {
	var apiErr *tbhttp.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	var errResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if jsonErr := json.Unmarshal(apiErr.Body, &errResp); jsonErr != nil {
		return fmt.Errorf("binance error (unmarshal failed): %s", apiErr.Body)
	}

	switch errResp.Code {
	case -2015:
		return apperrors.ErrAuthenticationFailed
	case -2010:
		return apperrors.ErrInsufficientFunds
	case -1003:
		return apperrors.ErrRateLimitExceeded
	case -1021:
		return apperrors.ErrTimestampOutOfBounds
	case -1121:
		return apperrors.ErrInvalidSymbol
	case -2011:
		return apperrors.ErrOrderNotFound
	case -2012:
		return apperrors.ErrDuplicateOrder
	}

	return fmt.Errorf("binance error %d: %s", errResp.Code, errResp.Msg)
}

// GetRecentPrices fetches the latest closed candles for a symbol and
// returns them oldest first. Transient failures are retried.
func (c *Client) GetRecentPrices(ctx context.Context, symbol string, count int) ([]core.PriceSample, error) {
	params := map[string]string{
		"symbol":   symbol,
		"interval": c.interval,
		"limit":    fmt.Sprintf("%d", count),
	}

	var body []byte
	err := retry.Do(ctx, c.policy, apperrors.IsTransient, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		var reqErr error
		body, reqErr = c.http.Get(ctx, "/fapi/v1/klines", params)
		if reqErr != nil {
			return c.parseError(reqErr)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s: %w", symbol, err)
	}

	// Each kline is a mixed-type JSON array; index 4 is the close and
	// index 6 the close time in ms.
	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode klines: %w", err)
	}

	samples := make([]core.PriceSample, 0, len(raw))
	for _, k := range raw {
		if len(k) < 7 {
			continue
		}
		closeStr, ok := k[4].(string)
		if !ok {
			continue
		}
		closePrice, err := decimal.NewFromString(closeStr)
		if err != nil {
			continue
		}
		closeMs, ok := k[6].(float64)
		if !ok {
			continue
		}
		samples = append(samples, core.PriceSample{
			Timestamp: time.UnixMilli(int64(closeMs)).UTC(),
			Close:     closePrice,
		})
	}
	return samples, nil
}

// SubmitEntry places the entry as a MARKET order and then attaches the
// protective orders: a STOP_MARKET stop loss and a reduce-only LIMIT
// take profit, both closing the position. A failure placing either
// protective order closes the position immediately rather than leaving
// it unprotected.
func (c *Client) SubmitEntry(ctx context.Context, req *core.OrderRequest) (*core.Fill, error) {
	entrySide, exitSide := "BUY", "SELL"
	if req.Side == core.SideShort {
		entrySide, exitSide = "SELL", "BUY"
	}

	order, err := c.placeOrder(ctx, map[string]string{
		"symbol":           req.Symbol,
		"side":             entrySide,
		"type":             "MARKET",
		"quantity":         req.Quantity.String(),
		"newClientOrderId": "tb-" + req.PositionID,
		"newOrderRespType": "RESULT",
	})
	if err != nil {
		return nil, fmt.Errorf("entry order failed for %s: %w", req.Symbol, err)
	}

	fillPrice := order.AvgPrice
	if fillPrice.IsZero() {
		fillPrice = req.EntryPrice
	}

	if err := c.placeProtectiveOrders(ctx, req, exitSide); err != nil {
		c.logger.Error("protective orders failed, flattening position",
			"symbol", req.Symbol, "position_id", req.PositionID, "error", err)
		if _, closeErr := c.placeOrder(ctx, map[string]string{
			"symbol":     req.Symbol,
			"side":       exitSide,
			"type":       "MARKET",
			"quantity":   req.Quantity.String(),
			"reduceOnly": "true",
		}); closeErr != nil {
			c.logger.Error("emergency flatten failed, manual intervention needed",
				"symbol", req.Symbol, "error", closeErr)
		}
		return nil, fmt.Errorf("protective orders failed for %s: %w", req.Symbol, err)
	}

	return &core.Fill{
		PositionID: req.PositionID,
		Symbol:     req.Symbol,
		Price:      fillPrice,
		Quantity:   order.ExecutedQty,
		At:         c.now(),
	}, nil
}

func (c *Client) placeProtectiveOrders(ctx context.Context, req *core.OrderRequest, exitSide string) error {
	if _, err := c.placeOrder(ctx, map[string]string{
		"symbol":        req.Symbol,
		"side":          exitSide,
		"type":          "STOP_MARKET",
		"stopPrice":     req.StopLoss.String(),
		"closePosition": "true",
	}); err != nil {
		return fmt.Errorf("stop loss: %w", err)
	}

	if _, err := c.placeOrder(ctx, map[string]string{
		"symbol":      req.Symbol,
		"side":        exitSide,
		"type":        "LIMIT",
		"timeInForce": "GTC",
		"price":       req.TakeProfit.String(),
		"quantity":    req.Quantity.String(),
		"reduceOnly":  "true",
	}); err != nil {
		return fmt.Errorf("take profit: %w", err)
	}
	return nil
}

// SubmitExit flattens the position with a reduce-only MARKET order and
// cancels any remaining protective orders for the symbol.
func (c *Client) SubmitExit(ctx context.Context, pos *core.Position, reason core.CloseReason) (*core.Fill, error) {
	exitSide := "SELL"
	if pos.Side == core.SideShort {
		exitSide = "BUY"
	}

	order, err := c.placeOrder(ctx, map[string]string{
		"symbol":           pos.Symbol,
		"side":             exitSide,
		"type":             "MARKET",
		"quantity":         pos.Quantity.String(),
		"reduceOnly":       "true",
		"newOrderRespType": "RESULT",
	})
	if err != nil {
		return nil, fmt.Errorf("exit order failed for %s: %w", pos.Symbol, err)
	}

	if err := c.cancelAllOrders(ctx, pos.Symbol); err != nil {
		// The position is flat; stale protective orders are reduce-only
		// and cannot reopen it, so log and continue.
		c.logger.Warn("failed to cancel protective orders",
			"symbol", pos.Symbol, "reason", string(reason), "error", err)
	}

	fillPrice := order.AvgPrice
	return &core.Fill{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Price:      fillPrice,
		Quantity:   order.ExecutedQty,
		At:         c.now(),
	}, nil
}

type orderResponse struct {
	OrderID     int64           `json:"orderId"`
	Symbol      string          `json:"symbol"`
	Status      string          `json:"status"`
	AvgPrice    decimal.Decimal `json:"avgPrice"`
	ExecutedQty decimal.Decimal `json:"executedQty"`
}

func (c *Client) placeOrder(ctx context.Context, params map[string]string) (*orderResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	params["timestamp"] = fmt.Sprintf("%d", c.now().UnixMilli())

	body, err := c.http.PostParams(ctx, "/fapi/v1/order", params)
	if err != nil {
		return nil, c.parseError(err)
	}

	var order orderResponse
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	if order.Status == "REJECTED" {
		return nil, apperrors.ErrOrderRejected
	}
	return &order, nil
}

func (c *Client) cancelAllOrders(ctx context.Context, symbol string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.http.Delete(ctx, "/fapi/v1/allOpenOrders", map[string]string{
		"symbol":    symbol,
		"timestamp": fmt.Sprintf("%d", c.now().UnixMilli()),
	})
	if err != nil {
		return c.parseError(err)
	}
	return nil
}

// Balance returns the available balance for an asset from the futures
// account.
func (c *Client) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	body, err := c.http.Get(ctx, "/fapi/v2/balance", map[string]string{
		"timestamp": fmt.Sprintf("%d", c.now().UnixMilli()),
	})
	if err != nil {
		return decimal.Zero, c.parseError(err)
	}

	var balances []struct {
		Asset            string          `json:"asset"`
		AvailableBalance decimal.Decimal `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &balances); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode balances: %w", err)
	}

	for _, b := range balances {
		if b.Asset == asset {
			return b.AvailableBalance, nil
		}
	}
	return decimal.Zero, fmt.Errorf("asset %s not found in account", asset)
}

// CheckHealth pings the exchange.
func (c *Client) CheckHealth(ctx context.Context) error {
	_, err := c.http.Get(ctx, "/fapi/v1/ping", nil)
	if err != nil {
		return fmt.Errorf("binance ping failed: %w", err)
	}
	return nil
}
