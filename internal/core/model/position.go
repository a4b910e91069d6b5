package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExitReason 退出原因
type ExitReason string

const (
	// ExitTakeProfit 止盈退出
	// 当 资金费累计 + 两腿净盈亏 > profitability_to_take_profit × position_size_quote 时触发
	ExitTakeProfit ExitReason = "take_profit"
	// ExitStopLoss 止损退出
	// 当 (空头场所费率 - 多头场所费率) × 盈利周期 < funding_rate_diff_stop_loss 时触发
	ExitStopLoss ExitReason = "stop_loss"
)

// FundingPaymentEvent 执行服务推送的资金费支付事件
type FundingPaymentEvent struct {
	// Venue 场所（部分推送源不带该字段）
	Venue string `json:"venue,omitempty"`
	// TradingPair 交易对，如 WIF-USDT
	TradingPair string `json:"trading_pair"`
	// Amount 支付金额（正数为收到，负数为支付）
	Amount decimal.Decimal `json:"amount"`
	// Timestamp 结算时间
	Timestamp time.Time `json:"timestamp"`
}

// FundingPaymentRecord 已记入账本的资金费支付
// 追加后不再修改
type FundingPaymentRecord struct {
	// Token 基础资产
	Token string `json:"token"`
	// Venue 场所
	Venue string `json:"venue,omitempty"`
	// Amount 金额
	Amount decimal.Decimal `json:"amount"`
	// Timestamp 结算时间
	Timestamp time.Time `json:"timestamp"`
}

// ArbitragePosition 套利仓位（每个 token 至多一个活跃仓位）
// 两条腿位于不同场所、方向相反、入场名义价值相同
type ArbitragePosition struct {
	// ID 仓位唯一标识
	ID string `json:"id"`
	// Token 基础资产
	Token string `json:"token"`
	// Venue1 第一条腿场所
	Venue1 string `json:"venue_1"`
	// Venue2 第二条腿场所
	Venue2 string `json:"venue_2"`
	// Side Venue1 上的方向
	Side Side `json:"side"`
	// LegIDs 两条腿在执行服务中的 ID，顺序与 Venue1/Venue2 对应
	LegIDs [2]string `json:"leg_ids"`
	// Amount 每条腿的基础币数量
	Amount decimal.Decimal `json:"amount"`
	// NotionalQuote 每条腿的名义价值
	NotionalQuote decimal.Decimal `json:"notional_quote"`
	// EntrySpread 入场时的费率差
	EntrySpread decimal.Decimal `json:"entry_spread"`
	// EntryTradePnlPct 入场时估算的扣费后成交盈亏比例
	EntryTradePnlPct decimal.Decimal `json:"entry_trade_pnl_pct"`
	// FundingPayments 已收到的资金费支付（按到达顺序）
	FundingPayments []FundingPaymentRecord `json:"funding_payments"`
	// OpenedAt 开仓时间
	OpenedAt time.Time `json:"opened_at"`

	// ClosedAt 平仓时间（活跃时为零值）
	ClosedAt time.Time `json:"closed_at,omitempty"`
	// ExitReason 退出原因
	ExitReason ExitReason `json:"exit_reason,omitempty"`
	// ExitTotalPnl 退出时的总盈亏（资金费 + 两腿净盈亏）
	ExitTotalPnl decimal.Decimal `json:"exit_total_pnl"`
}

// LongVenue 做多场所
func (p *ArbitragePosition) LongVenue() string {
	if p.Side == SideBuy {
		return p.Venue1
	}
	return p.Venue2
}

// ShortVenue 做空场所
func (p *ArbitragePosition) ShortVenue() string {
	if p.Side == SideBuy {
		return p.Venue2
	}
	return p.Venue1
}

// FundingTotal 已累计的资金费
func (p *ArbitragePosition) FundingTotal() decimal.Decimal {
	total := decimal.Zero
	for _, rec := range p.FundingPayments {
		total = total.Add(rec.Amount)
	}
	return total
}

// Closed 是否已平仓
func (p *ArbitragePosition) Closed() bool {
	return !p.ClosedAt.IsZero()
}

// HoldDuration 持仓时长；未平仓时以 now 计算
func (p *ArbitragePosition) HoldDuration(now time.Time) time.Duration {
	if p.Closed() {
		return p.ClosedAt.Sub(p.OpenedAt)
	}
	return now.Sub(p.OpenedAt)
}

// Clone 深拷贝（资金费记录切片独立）
func (p *ArbitragePosition) Clone() *ArbitragePosition {
	clone := *p
	if p.FundingPayments != nil {
		clone.FundingPayments = make([]FundingPaymentRecord, len(p.FundingPayments))
		copy(clone.FundingPayments, p.FundingPayments)
	}
	return &clone
}

// EntryDecision 一次入场决策
type EntryDecision struct {
	// Token 基础资产
	Token string `json:"token"`
	// Opportunity 被接受的机会
	Opportunity Opportunity `json:"opportunity"`
	// TradePnlPct 扣费后的成交盈亏比例
	TradePnlPct decimal.Decimal `json:"trade_pnl_pct"`
	// Position 新建的套利仓位
	Position *ArbitragePosition `json:"position"`
	// Rejections 接受之前被拒绝的候选
	Rejections []Rejection `json:"rejections,omitempty"`
}

// ExitDecision 一次退出决策
type ExitDecision struct {
	// Token 基础资产
	Token string `json:"token"`
	// Reason 退出原因
	Reason ExitReason `json:"reason"`
	// FundingTotal 资金费累计
	FundingTotal decimal.Decimal `json:"funding_total"`
	// LegsPnl 两腿净盈亏之和
	LegsPnl decimal.Decimal `json:"legs_pnl"`
	// TotalPnl 总盈亏
	TotalPnl decimal.Decimal `json:"total_pnl"`
	// CurrentSpread 当前方向敏感的费率差（未能获取时为 nil）
	CurrentSpread *decimal.Decimal `json:"current_spread,omitempty"`
	// Position 已冻结并移入历史的仓位
	Position *ArbitragePosition `json:"position"`
	// CloseErrors 平仓请求失败信息（由执行服务负责后续处理）
	CloseErrors []string `json:"close_errors,omitempty"`
}
