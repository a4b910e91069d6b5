// Package port 定义引擎依赖的外部协作方接口。
// 行情服务提供资金费率与成交价格，执行服务负责开平仓、盈亏与手续费报价。
// 所有调用都是即时查询，引擎不假设任何缓存。
package port

import (
	"context"

	"github.com/shopspring/decimal"

	"funding-rate-arbitrage/internal/core/model"
)

// PriceSource 按名义价值查询可成交价格
type PriceSource interface {
	// ExecutionPrice 以 notionalQuote 名义价值在当前深度上成交的均价
	ExecutionPrice(ctx context.Context, venue, tradingPair string, notionalQuote decimal.Decimal, isBuy bool) (decimal.Decimal, error)
}

// MarketData 行情服务
type MarketData interface {
	PriceSource
	// FundingRate 当前资金费率快照
	FundingRate(ctx context.Context, venue, tradingPair string) (model.FundingRateSnapshot, error)
	// MidPrice 中间价
	MidPrice(ctx context.Context, venue, tradingPair string) (decimal.Decimal, error)
}

// FeeSource 手续费报价
type FeeSource interface {
	// FeeQuote 返回手续费比例（例如 0.0005 表示 5bps）
	FeeQuote(ctx context.Context, venue, tradingPair string, side model.Side, notionalQuote decimal.Decimal, isMaker bool) (decimal.Decimal, error)
}

// Execution 执行与持仓跟踪服务
type Execution interface {
	FeeSource
	// OpenPosition 开仓，返回腿 ID
	OpenPosition(ctx context.Context, req model.OpenRequest) (string, error)
	// ClosePosition 平掉指定腿
	ClosePosition(ctx context.Context, legID string) error
	// NetPnL 指定腿的当前净盈亏（计价币）
	NetPnL(ctx context.Context, legID string) (decimal.Decimal, error)
	// SetLeverage 设置杠杆（仅启动时调用）
	SetLeverage(ctx context.Context, venue, tradingPair string, leverage int) error
	// SetPositionMode 设置持仓模式（仅启动时调用）
	SetPositionMode(ctx context.Context, venue string, mode model.PositionMode) error
}
