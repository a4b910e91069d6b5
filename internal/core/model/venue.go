// Package model 定义资金费率套利引擎使用的核心数据结构。
// 包含交易场所、资金费率快照、套利机会、套利仓位与资金费支付记录等类型。
package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Side 交易方向
type Side string

const (
	// SideBuy 买入（多头腿）
	SideBuy Side = "buy"
	// SideSell 卖出（空头腿）
	SideSell Side = "sell"
)

// Opposite 返回相反方向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// IsBuy 判断是否为买入方向
func (s Side) IsBuy() bool {
	return s == SideBuy
}

// Direction 方向系数：买入返回 1，卖出返回 -1
func (s Side) Direction() decimal.Decimal {
	if s == SideBuy {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

// PositionMode 场所的持仓模式
type PositionMode string

const (
	// PositionModeOneWay 单向持仓
	PositionModeOneWay PositionMode = "oneway"
	// PositionModeHedge 双向持仓
	PositionModeHedge PositionMode = "hedge"
)

// OrderKind 下单类型
type OrderKind string

const (
	// OrderKindMarket 市价单（开仓、平仓均使用）
	OrderKindMarket OrderKind = "market"
)

// FeeMode 手续费计算模式
type FeeMode string

const (
	// FeeModeTaker 两条腿都按 taker 计费
	FeeModeTaker FeeMode = "taker"
	// FeeModeMaker 两条腿都按 maker 计费
	FeeModeMaker FeeMode = "maker"
	// FeeModeMixed 第一条腿 taker，第二条腿 maker
	FeeModeMixed FeeMode = "mixed"
)

// ParseFeeMode 解析手续费模式（大小写不敏感）
func ParseFeeMode(s string) (FeeMode, error) {
	switch FeeMode(strings.ToLower(strings.TrimSpace(s))) {
	case FeeModeTaker:
		return FeeModeTaker, nil
	case FeeModeMaker:
		return FeeModeMaker, nil
	case FeeModeMixed:
		return FeeModeMixed, nil
	default:
		return "", fmt.Errorf("%w: 未知 fee_mode '%s'，有效值: taker, maker, mixed", ErrConfig, s)
	}
}

// MakerFlags 返回两条腿是否按 maker 计费
func (m FeeMode) MakerFlags() (leg1Maker, leg2Maker bool) {
	switch m {
	case FeeModeMaker:
		return true, true
	case FeeModeMixed:
		return false, true
	default:
		return false, false
	}
}

// VenueSpec 交易场所描述
// 以显式配置代替按场所名称分支的隐式规则
type VenueSpec struct {
	// Name 场所标识，如 binance_perpetual
	Name string
	// QuoteCurrency 计价币种，用于拼接交易对，如 USDT
	QuoteCurrency string
	// FundingIntervalSec 资金费结算周期（秒）
	FundingIntervalSec int64
	// PositionMode 启动时设置的持仓模式
	PositionMode PositionMode
}

// FundingRateSnapshot 某 (Token, Venue) 的资金费率快照
// 每个决策周期重新获取，获取后不再修改
type FundingRateSnapshot struct {
	// Venue 场所
	Venue string `json:"venue"`
	// TradingPair 交易对，如 WIF-USDT
	TradingPair string `json:"trading_pair"`
	// Rate 原始资金费率（按场所自身周期）
	Rate decimal.Decimal `json:"rate"`
	// NextFundingUnix 下次结算时间（UTC 秒）
	NextFundingUnix int64 `json:"next_funding_unix"`
}

// OpenRequest 开仓请求（发往执行服务）
type OpenRequest struct {
	// ClientOrderID 客户端订单 ID
	ClientOrderID string `json:"client_order_id"`
	// Venue 场所
	Venue string `json:"venue"`
	// TradingPair 交易对
	TradingPair string `json:"trading_pair"`
	// Side 方向
	Side Side `json:"side"`
	// Amount 基础币数量
	Amount decimal.Decimal `json:"amount"`
	// NotionalQuote 名义价值（计价币）
	NotionalQuote decimal.Decimal `json:"notional_quote"`
	// Leverage 杠杆倍数
	Leverage int `json:"leverage"`
	// OrderKind 下单类型
	OrderKind OrderKind `json:"order_kind"`
}
