// Package cost 估算开仓双腿的即时成交成本（价格冲击 + 手续费）。
// 每次估算都向行情服务与执行服务重新报价，不做本地缓存。
package cost

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"funding-rate-arbitrage/internal/core/model"
	"funding-rate-arbitrage/internal/core/port"
	"funding-rate-arbitrage/internal/core/rate"
)

// Estimator 成本估算器
type Estimator struct {
	reg    *rate.Registry
	prices port.PriceSource
	fees   port.FeeSource
	mode   model.FeeMode
}

// Estimate 一次估算的明细
type Estimate struct {
	// Price1 Venue1 的可成交价格
	Price1 decimal.Decimal `json:"price_1"`
	// Price2 Venue2 的可成交价格
	Price2 decimal.Decimal `json:"price_2"`
	// Fee1 Venue1 手续费比例
	Fee1 decimal.Decimal `json:"fee_1"`
	// Fee2 Venue2 手续费比例
	Fee2 decimal.Decimal `json:"fee_2"`
	// RawPnlPct 扣费前的价差盈亏比例
	RawPnlPct decimal.Decimal `json:"raw_pnl_pct"`
	// PnlPct 扣费后的盈亏比例（可为负）
	PnlPct decimal.Decimal `json:"pnl_pct"`
}

// NewEstimator 创建成本估算器
func NewEstimator(reg *rate.Registry, prices port.PriceSource, fees port.FeeSource, mode model.FeeMode) *Estimator {
	if mode == "" {
		mode = model.FeeModeTaker
	}
	return &Estimator{reg: reg, prices: prices, fees: fees, mode: mode}
}

// Mode 当前手续费模式
func (e *Estimator) Mode() model.FeeMode {
	return e.mode
}

// TradePnlPct 估算扣费后的成交盈亏比例
// 参数 side: venue1 上的方向（buy 表示 venue1 做多、venue2 做空）
// 参数 notional: 每条腿的名义价值
// 任一价格或手续费缺失时返回包装 ErrDataUnavailable 的错误。
func (e *Estimator) TradePnlPct(ctx context.Context, token, venue1, venue2 string, side model.Side, notional decimal.Decimal) (decimal.Decimal, error) {
	est, err := e.Estimate(ctx, token, venue1, venue2, side, notional)
	if err != nil {
		return decimal.Zero, err
	}
	return est.PnlPct, nil
}

// Estimate 估算并返回明细
//
//	buy:  (p2 - p1) / p1 - fee1 - fee2
//	sell: (p1 - p2) / p2 - fee1 - fee2
func (e *Estimator) Estimate(ctx context.Context, token, venue1, venue2 string, side model.Side, notional decimal.Decimal) (Estimate, error) {
	pair1 := e.reg.TradingPair(token, venue1)
	pair2 := e.reg.TradingPair(token, venue2)
	side2 := side.Opposite()

	p1, err := e.price(ctx, venue1, pair1, notional, side)
	if err != nil {
		return Estimate{}, err
	}
	p2, err := e.price(ctx, venue2, pair2, notional, side2)
	if err != nil {
		return Estimate{}, err
	}

	maker1, maker2 := e.mode.MakerFlags()
	fee1, err := e.fee(ctx, venue1, pair1, side, notional, maker1)
	if err != nil {
		return Estimate{}, err
	}
	fee2, err := e.fee(ctx, venue2, pair2, side2, notional, maker2)
	if err != nil {
		return Estimate{}, err
	}

	var raw decimal.Decimal
	if side.IsBuy() {
		raw = p2.Sub(p1).Div(p1)
	} else {
		raw = p1.Sub(p2).Div(p2)
	}

	return Estimate{
		Price1:    p1,
		Price2:    p2,
		Fee1:      fee1,
		Fee2:      fee2,
		RawPnlPct: raw,
		PnlPct:    raw.Sub(fee1).Sub(fee2),
	}, nil
}

func (e *Estimator) price(ctx context.Context, venue, pair string, notional decimal.Decimal, side model.Side) (decimal.Decimal, error) {
	px, err := e.prices.ExecutionPrice(ctx, venue, pair, notional, side.IsBuy())
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %s %s 成交价: %v", model.ErrDataUnavailable, venue, pair, side, err)
	}
	if !px.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s %s %s 成交价无效: %s", model.ErrDataUnavailable, venue, pair, side, px)
	}
	return px, nil
}

func (e *Estimator) fee(ctx context.Context, venue, pair string, side model.Side, notional decimal.Decimal, isMaker bool) (decimal.Decimal, error) {
	fee, err := e.fees.FeeQuote(ctx, venue, pair, side, notional, isMaker)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %s 手续费 (maker=%t): %v", model.ErrDataUnavailable, venue, pair, isMaker, err)
	}
	return fee, nil
}
