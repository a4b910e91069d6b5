// Package gateway 通过 REST/JSON 访问外部行情与执行网关。
// 客户端实现 port.MarketData 与 port.Execution；请求经过限流与熔断，不做重试，
// 失败的读请求包装为 ErrDataUnavailable，由下一个决策周期自然重试。
package gateway

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

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"funding-rate-arbitrage/internal/core/model"
	"funding-rate-arbitrage/internal/observability"
)

// Config 网关客户端配置
type Config struct {
	// BaseURL 网关地址，如 http://127.0.0.1:8080
	BaseURL string
	// Timeout 单次请求超时
	Timeout time.Duration
	// RateLimitPerSec 每秒请求数
	RateLimitPerSec float64
	// RateLimitBurst 突发请求数
	RateLimitBurst int
	// APIKey 通过 X-API-Key 头发送（可为空）
	APIKey string
	// BreakerFailures 熔断失败次数阈值
	BreakerFailures uint
	// BreakerWindow 熔断统计窗口（最近 N 次请求）
	BreakerWindow uint
	// BreakerDelay 熔断打开后的等待时间
	BreakerDelay time.Duration
}

// APIError 网关返回的错误
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("网关错误: status=%d msg=%s", e.StatusCode, e.Message)
}

// Client 网关客户端
type Client struct {
	http     *http.Client
	baseURL  string
	apiKey   string
	limiter  *rate.Limiter
	pipeline failsafe.Executor[*http.Response]

	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewClient 创建网关客户端
func NewClient(cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = 20
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 30
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerWindow < cfg.BreakerFailures {
		cfg.BreakerWindow = cfg.BreakerFailures * 2
	}
	if cfg.BreakerDelay <= 0 {
		cfg.BreakerDelay = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 网络错误与 5xx 计入熔断；4xx 是请求问题，不计入
	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(cfg.BreakerFailures, cfg.BreakerWindow).
		WithDelay(cfg.BreakerDelay).
		Build()

	return &Client{
		http:     &http.Client{Timeout: cfg.Timeout},
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst),
		pipeline: failsafe.With[*http.Response](breaker),
		logger:   logger.Named("gateway"),
		metrics:  metrics,
	}
}

type priceResponse struct {
	Price decimal.Decimal `json:"price"`
}

type feeResponse struct {
	Fee decimal.Decimal `json:"fee"`
}

type openResponse struct {
	LegID string `json:"leg_id"`
}

type pnlResponse struct {
	NetPnlQuote decimal.Decimal `json:"net_pnl_quote"`
}

type leverageRequest struct {
	Venue       string `json:"venue"`
	TradingPair string `json:"trading_pair"`
	Leverage    int    `json:"leverage"`
}

type positionModeRequest struct {
	Venue string             `json:"venue"`
	Mode  model.PositionMode `json:"mode"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// FundingRate 实现 port.MarketData
func (c *Client) FundingRate(ctx context.Context, venue, pair string) (model.FundingRateSnapshot, error) {
	var snap model.FundingRateSnapshot
	q := url.Values{"venue": {venue}, "trading_pair": {pair}}
	if err := c.get(ctx, "funding-rate", "/v1/funding-rate", q, &snap); err != nil {
		return model.FundingRateSnapshot{}, unavailable(err)
	}
	if snap.Venue == "" {
		snap.Venue = venue
	}
	if snap.TradingPair == "" {
		snap.TradingPair = pair
	}
	return snap, nil
}

// ExecutionPrice 实现 port.PriceSource
func (c *Client) ExecutionPrice(ctx context.Context, venue, pair string, notional decimal.Decimal, isBuy bool) (decimal.Decimal, error) {
	var resp priceResponse
	q := url.Values{
		"venue":          {venue},
		"trading_pair":   {pair},
		"notional_quote": {notional.String()},
		"is_buy":         {strconv.FormatBool(isBuy)},
	}
	if err := c.get(ctx, "execution-price", "/v1/execution-price", q, &resp); err != nil {
		return decimal.Zero, unavailable(err)
	}
	return resp.Price, nil
}

// MidPrice 实现 port.MarketData
func (c *Client) MidPrice(ctx context.Context, venue, pair string) (decimal.Decimal, error) {
	var resp priceResponse
	q := url.Values{"venue": {venue}, "trading_pair": {pair}}
	if err := c.get(ctx, "mid-price", "/v1/mid-price", q, &resp); err != nil {
		return decimal.Zero, unavailable(err)
	}
	return resp.Price, nil
}

// FeeQuote 实现 port.FeeSource
func (c *Client) FeeQuote(ctx context.Context, venue, pair string, side model.Side, notional decimal.Decimal, isMaker bool) (decimal.Decimal, error) {
	var resp feeResponse
	q := url.Values{
		"venue":          {venue},
		"trading_pair":   {pair},
		"side":           {string(side)},
		"notional_quote": {notional.String()},
		"is_maker":       {strconv.FormatBool(isMaker)},
	}
	if err := c.get(ctx, "fee", "/v1/fee", q, &resp); err != nil {
		return decimal.Zero, unavailable(err)
	}
	return resp.Fee, nil
}

// OpenPosition 实现 port.Execution
func (c *Client) OpenPosition(ctx context.Context, req model.OpenRequest) (string, error) {
	var resp openResponse
	if err := c.post(ctx, "open", "/v1/positions", req, &resp); err != nil {
		return "", fmt.Errorf("开仓 %s %s: %w", req.Venue, req.TradingPair, err)
	}
	if resp.LegID == "" {
		return "", fmt.Errorf("开仓 %s %s: 网关未返回 leg_id", req.Venue, req.TradingPair)
	}
	return resp.LegID, nil
}

// ClosePosition 实现 port.Execution
func (c *Client) ClosePosition(ctx context.Context, legID string) error {
	if err := c.post(ctx, "close", "/v1/positions/"+url.PathEscape(legID)+"/close", nil, nil); err != nil {
		return fmt.Errorf("平仓 %s: %w", legID, err)
	}
	return nil
}

// NetPnL 实现 port.Execution
func (c *Client) NetPnL(ctx context.Context, legID string) (decimal.Decimal, error) {
	var resp pnlResponse
	if err := c.get(ctx, "pnl", "/v1/positions/"+url.PathEscape(legID)+"/pnl", nil, &resp); err != nil {
		return decimal.Zero, unavailable(err)
	}
	return resp.NetPnlQuote, nil
}

// SetLeverage 实现 port.Execution
func (c *Client) SetLeverage(ctx context.Context, venue, pair string, leverage int) error {
	return c.post(ctx, "leverage", "/v1/leverage", leverageRequest{Venue: venue, TradingPair: pair, Leverage: leverage}, nil)
}

// SetPositionMode 实现 port.Execution
func (c *Client) SetPositionMode(ctx context.Context, venue string, mode model.PositionMode) error {
	return c.post(ctx, "position-mode", "/v1/position-mode", positionModeRequest{Venue: venue, Mode: mode}, nil)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", model.ErrDataUnavailable, err)
}

func (c *Client) get(ctx context.Context, endpoint, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	return c.do(endpoint, req, out)
}

func (c *Client) post(ctx context.Context, endpoint, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(endpoint, req, out)
}

// do 限流、熔断后发送请求并解析 JSON 响应
func (c *Client) do(endpoint string, req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("限流等待: %w", err)
	}

	req.Header.Set("User-Agent", "funding-rate-arbitrage/1.0")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.pipeline.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		return c.http.Do(req)
	})
	if err != nil {
		c.metrics.ObserveGatewayRequest(endpoint, false, time.Since(start))
		if errors.Is(err, circuitbreaker.ErrOpen) {
			c.logger.Debug("熔断打开，跳过请求", zap.String("endpoint", endpoint))
		}
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	c.metrics.ObserveGatewayRequest(endpoint, err == nil && resp.StatusCode < 400, time.Since(start))
	if err != nil {
		return fmt.Errorf("读取响应体失败: %w", err)
	}

	if resp.StatusCode >= 400 {
		var e errorResponse
		_ = json.Unmarshal(body, &e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}
