package model

import "github.com/shopspring/decimal"

// Opportunity 套利机会
// Side 表示 Venue1 上的方向：buy 表示在 Venue1 做多、Venue2 做空；sell 相反。
// 每个周期重新计算，不持久化。
type Opportunity struct {
	// Token 基础资产
	Token string `json:"token"`
	// Venue1 第一条腿的场所
	Venue1 string `json:"venue_1"`
	// Venue2 第二条腿的场所
	Venue2 string `json:"venue_2"`
	// Side Venue1 上的方向
	Side Side `json:"side"`
	// Spread 按盈利周期缩放后的资金费率差（绝对值）
	Spread decimal.Decimal `json:"spread"`
}

// LongVenue 做多的场所（资金费率较低的一侧）
func (o Opportunity) LongVenue() string {
	if o.Side == SideBuy {
		return o.Venue1
	}
	return o.Venue2
}

// ShortVenue 做空的场所（资金费率较高的一侧）
func (o Opportunity) ShortVenue() string {
	if o.Side == SideBuy {
		return o.Venue2
	}
	return o.Venue1
}

// RejectReason 候选机会被拒绝的原因
type RejectReason string

const (
	// RejectBelowMinSpread 费率差低于最小盈利阈值
	RejectBelowMinSpread RejectReason = "below_min_spread"
	// RejectNegativeTradePnl 开仓即时成交盈亏（扣费后）为负
	RejectNegativeTradePnl RejectReason = "negative_trade_pnl"
	// RejectEstimateUnavailable 成本估算缺少价格或手续费
	RejectEstimateUnavailable RejectReason = "estimate_unavailable"
)

// Rejection 一次被拒绝的候选机会
type Rejection struct {
	// Opportunity 候选机会
	Opportunity Opportunity `json:"opportunity"`
	// Reason 拒绝原因
	Reason RejectReason `json:"reason"`
	// TradePnlPct 扣费后的成交盈亏比例（若已估算）
	TradePnlPct *decimal.Decimal `json:"trade_pnl_pct,omitempty"`
}
