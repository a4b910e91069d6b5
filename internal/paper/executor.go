// Package paper 实现模拟执行服务。
// 重要：仅用于研究与演练，严禁真实下单。
//
// 开平仓按行情服务的可成交价格加滑点模拟成交，手续费按配置的费率表计算，
// Settle 在每条腿的结算时间到达时生成资金费支付事件。
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"funding-rate-arbitrage/internal/core/model"
	"funding-rate-arbitrage/internal/core/port"
	"funding-rate-arbitrage/internal/core/rate"
	"funding-rate-arbitrage/internal/util/timeutil"
)

var bpsDivisor = decimal.NewFromInt(10000)

// FeeSchedule 单个场所的手续费
type FeeSchedule struct {
	// Taker taker 费率（0-1）
	Taker decimal.Decimal
	// Maker maker 费率（可为负，表示返佣）
	Maker decimal.Decimal
	// Rebate 返佣比例（0-1）
	Rebate decimal.Decimal
}

// Effective 有效费率 = raw × (1 - rebate)
func (f FeeSchedule) Effective(isMaker bool) decimal.Decimal {
	raw := f.Taker
	if isMaker {
		raw = f.Maker
	}
	return raw.Mul(decimal.NewFromInt(1).Sub(f.Rebate))
}

// Config 模拟执行配置
type Config struct {
	// SlippageBps 滑点（基点），开平仓时额外扣除
	SlippageBps decimal.Decimal
	// Fees 按场所的手续费
	Fees map[string]FeeSchedule
	// Default 未配置场所的手续费
	Default FeeSchedule
	// EventBuffer 资金费事件通道容量
	EventBuffer int
}

// Leg 模拟持仓的一条腿
type Leg struct {
	ID          string
	Venue       string
	TradingPair string
	Side        model.Side
	Amount      decimal.Decimal
	Leverage    int
	EntryPx     decimal.Decimal
	FeeRate     decimal.Decimal
	OpenedAt    time.Time

	Closed   bool
	ExitPx   decimal.Decimal
	ClosedAt time.Time
	// closing 平仓成交模拟中，防止同一条腿被重复平仓
	closing bool

	// FundingCollected 已结算的资金费（仅用于展示，不计入 NetPnL）
	FundingCollected decimal.Decimal
	// nextFundingUnix 下次结算时间（0 表示尚未获取）
	nextFundingUnix int64
}

// Executor 模拟执行服务
// 实现 port.Execution。
type Executor struct {
	cfg    Config
	reg    *rate.Registry
	market port.MarketData
	clock  timeutil.Clock
	logger *zap.Logger

	mu       sync.Mutex
	legs     map[string]*Leg
	leverage map[string]int
	modes    map[string]model.PositionMode

	events chan model.FundingPaymentEvent
}

// NewExecutor 创建模拟执行服务
// 参数 market: 行情服务，用于成交价、中间价与资金费率
func NewExecutor(cfg Config, reg *rate.Registry, market port.MarketData, clock timeutil.Clock, logger *zap.Logger) *Executor {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cfg:      cfg,
		reg:      reg,
		market:   market,
		clock:    clock,
		logger:   logger.Named("paper"),
		legs:     make(map[string]*Leg),
		leverage: make(map[string]int),
		modes:    make(map[string]model.PositionMode),
		events:   make(chan model.FundingPaymentEvent, cfg.EventBuffer),
	}
}

// Events 资金费支付事件
func (e *Executor) Events() <-chan model.FundingPaymentEvent {
	return e.events
}

func (e *Executor) schedule(venue string) FeeSchedule {
	if f, ok := e.cfg.Fees[venue]; ok {
		return f
	}
	return e.cfg.Default
}

// FeeQuote 按费率表返回有效手续费比例
func (e *Executor) FeeQuote(_ context.Context, venue, _ string, _ model.Side, _ decimal.Decimal, isMaker bool) (decimal.Decimal, error) {
	return e.schedule(venue).Effective(isMaker), nil
}

// fillPx 按方向加滑点：买入上浮、卖出下浮
func (e *Executor) fillPx(ctx context.Context, venue, pair string, notional decimal.Decimal, side model.Side) (decimal.Decimal, error) {
	px, err := e.market.ExecutionPrice(ctx, venue, pair, notional, side.IsBuy())
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %s 成交价: %v", model.ErrDataUnavailable, venue, pair, err)
	}
	if !px.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s %s 成交价无效: %s", model.ErrDataUnavailable, venue, pair, px)
	}
	slip := e.cfg.SlippageBps.Div(bpsDivisor)
	if side.IsBuy() {
		return px.Mul(decimal.NewFromInt(1).Add(slip)), nil
	}
	return px.Mul(decimal.NewFromInt(1).Sub(slip)), nil
}

// OpenPosition 模拟市价开仓
func (e *Executor) OpenPosition(ctx context.Context, req model.OpenRequest) (string, error) {
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("开仓数量无效: %s", req.Amount)
	}
	px, err := e.fillPx(ctx, req.Venue, req.TradingPair, req.NotionalQuote, req.Side)
	if err != nil {
		return "", err
	}

	leg := &Leg{
		ID:               "paper-" + uuid.NewString(),
		Venue:            req.Venue,
		TradingPair:      req.TradingPair,
		Side:             req.Side,
		Amount:           req.Amount,
		Leverage:         req.Leverage,
		EntryPx:          px,
		FeeRate:          e.schedule(req.Venue).Effective(req.OrderKind != model.OrderKindMarket),
		OpenedAt:         e.clock.Now(),
		FundingCollected: decimal.Zero,
	}

	e.mu.Lock()
	e.legs[leg.ID] = leg
	e.mu.Unlock()

	e.logger.Info("模拟开仓",
		zap.String("leg_id", leg.ID),
		zap.String("venue", leg.Venue),
		zap.String("trading_pair", leg.TradingPair),
		zap.String("side", string(leg.Side)),
		zap.Stringer("amount", leg.Amount),
		zap.Stringer("entry_px", leg.EntryPx),
	)
	return leg.ID, nil
}

// ClosePosition 模拟市价平仓
// 已平仓的腿直接返回；同一条腿的平仓正在进行时返回错误，不会重复成交。
func (e *Executor) ClosePosition(ctx context.Context, legID string) error {
	e.mu.Lock()
	leg, ok := e.legs[legID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("未知腿 %s", legID)
	}
	if leg.Closed {
		e.mu.Unlock()
		return nil
	}
	if leg.closing {
		e.mu.Unlock()
		return fmt.Errorf("腿 %s 正在平仓", legID)
	}
	leg.closing = true
	venue, pair, side := leg.Venue, leg.TradingPair, leg.Side
	notional := leg.EntryPx.Mul(leg.Amount)
	e.mu.Unlock()

	px, err := e.fillPx(ctx, venue, pair, notional, side.Opposite())
	if err != nil {
		e.mu.Lock()
		leg.closing = false
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	leg.closing = false
	leg.Closed = true
	leg.ExitPx = px
	leg.ClosedAt = e.clock.Now()
	e.mu.Unlock()

	e.logger.Info("模拟平仓",
		zap.String("leg_id", legID),
		zap.String("venue", venue),
		zap.Stringer("exit_px", px),
	)
	return nil
}

// NetPnL 腿的净盈亏（计价币，不含资金费）
// 未平仓时按中间价估算，并扣除开平两次手续费。
func (e *Executor) NetPnL(ctx context.Context, legID string) (decimal.Decimal, error) {
	e.mu.Lock()
	leg, ok := e.legs[legID]
	if !ok {
		e.mu.Unlock()
		return decimal.Zero, fmt.Errorf("未知腿 %s", legID)
	}
	snapshot := *leg
	e.mu.Unlock()

	exitPx := snapshot.ExitPx
	if !snapshot.Closed {
		mid, err := e.market.MidPrice(ctx, snapshot.Venue, snapshot.TradingPair)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s %s 中间价: %v", model.ErrDataUnavailable, snapshot.Venue, snapshot.TradingPair, err)
		}
		exitPx = mid
	}
	return legPnL(snapshot, exitPx), nil
}

// legPnL (exit - entry) × amount × direction - (entry + exit) 名义价值 × fee
func legPnL(leg Leg, exitPx decimal.Decimal) decimal.Decimal {
	gross := exitPx.Sub(leg.EntryPx).Mul(leg.Amount).Mul(leg.Side.Direction())
	fees := leg.EntryPx.Add(exitPx).Mul(leg.Amount).Mul(leg.FeeRate)
	return gross.Sub(fees)
}

// SetLeverage 记录杠杆
func (e *Executor) SetLeverage(_ context.Context, venue, pair string, leverage int) error {
	if leverage <= 0 {
		return fmt.Errorf("杠杆必须为正数: %d", leverage)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leverage[venue+"|"+pair] = leverage
	return nil
}

// SetPositionMode 记录持仓模式
func (e *Executor) SetPositionMode(_ context.Context, venue string, mode model.PositionMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.modes[venue] = mode
	return nil
}

// Leg 获取腿的副本
func (e *Executor) Leg(legID string) (Leg, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	leg, ok := e.legs[legID]
	if !ok {
		return Leg{}, false
	}
	return *leg, true
}

// OpenLegs 未平仓腿数量
func (e *Executor) OpenLegs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, leg := range e.legs {
		if !leg.Closed {
			n++
		}
	}
	return n
}
