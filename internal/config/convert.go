package config

import (
	"os"
	"time"

	"github.com/shopspring/decimal"

	"funding-rate-arbitrage/internal/core/lifecycle"
	"funding-rate-arbitrage/internal/core/model"
	"funding-rate-arbitrage/internal/feed/natsfeed"
	"funding-rate-arbitrage/internal/feed/ws"
	"funding-rate-arbitrage/internal/gateway"
	"funding-rate-arbitrage/internal/paper"
)

// VenueSpecs 场所描述（保持配置顺序）
func (c *Config) VenueSpecs() []model.VenueSpec {
	specs := make([]model.VenueSpec, len(c.Venues))
	for i, v := range c.Venues {
		specs[i] = model.VenueSpec{
			Name:               v.Name,
			QuoteCurrency:      v.QuoteCurrency,
			FundingIntervalSec: v.FundingIntervalSec,
			PositionMode:       model.PositionMode(v.PositionMode),
		}
	}
	return specs
}

// LifecycleConfig 生命周期参数
// 浮点配置按最短十进制表示转换，0.001 即精确的 0.001。
func (c *Config) LifecycleConfig() (lifecycle.Config, error) {
	mode, err := model.ParseFeeMode(c.Strategy.FeeMode)
	if err != nil {
		return lifecycle.Config{}, err
	}
	s := c.Strategy
	return lifecycle.Config{
		Tokens:                             append([]string(nil), c.Tokens...),
		Leverage:                           s.Leverage,
		MinFundingRateProfitability:        decimalOrZero(s.MinFundingRateProfitability),
		PositionSizeQuote:                  decimal.NewFromFloat(s.PositionSizeQuote),
		ProfitabilityToTakeProfit:          decimal.NewFromFloat(s.ProfitabilityToTakeProfit),
		FundingRateDiffStopLoss:            decimalOrZero(s.FundingRateDiffStopLoss),
		TradeProfitabilityConditionToEnter: s.TradeProfitabilityConditionToEnter,
		FeeMode:                            mode,
		MaxParallelTokens:                  s.MaxParallelTokens,
	}, nil
}

func decimalOrZero(v *float64) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*v)
}

// PaperConfig 模拟执行配置
func (c *Config) PaperConfig() paper.Config {
	fees := make(map[string]paper.FeeSchedule, len(c.Execution.Fees))
	for venue, f := range c.Execution.Fees {
		fees[venue] = f.schedule()
	}
	return paper.Config{
		SlippageBps: decimal.NewFromFloat(c.Execution.SlippageBps),
		Fees:        fees,
		Default:     c.Execution.DefaultFee.schedule(),
		EventBuffer: c.Feed.BufferSize,
	}
}

// schedule 转换为模拟执行的费率表；有效费率（含返佣）统一由 paper.FeeSchedule.Effective 计算
func (f FeeDetail) schedule() paper.FeeSchedule {
	return paper.FeeSchedule{
		Taker:  decimal.NewFromFloat(f.TakerRate),
		Maker:  decimal.NewFromFloat(f.MakerRate),
		Rebate: decimal.NewFromFloat(f.RebateRate),
	}
}

// GatewayClientConfig 网关客户端配置；API Key 从 APIKeyEnv 指定的环境变量读取
func (c *Config) GatewayClientConfig() gateway.Config {
	g := c.Gateway
	return gateway.Config{
		BaseURL:         g.BaseURL,
		Timeout:         time.Duration(g.TimeoutMs) * time.Millisecond,
		RateLimitPerSec: g.RateLimitPerSec,
		RateLimitBurst:  g.RateLimitBurst,
		APIKey:          os.Getenv(g.APIKeyEnv),
		BreakerFailures: g.BreakerFailures,
		BreakerWindow:   g.BreakerWindow,
		BreakerDelay:    time.Duration(g.BreakerDelayMs) * time.Millisecond,
	}
}

// WSConfig WebSocket 推送配置
func (c *Config) WSConfig() ws.Config {
	return ws.Config{
		URL:            c.Feed.URL,
		PingIntervalMs: c.Feed.PingIntervalMs,
		ReadTimeoutMs:  c.Feed.ReadTimeoutMs,
		BufferSize:     c.Feed.BufferSize,
	}
}

// NATSConfig NATS 推送配置
func (c *Config) NATSConfig() natsfeed.Config {
	return natsfeed.Config{
		URL:        c.Feed.URL,
		Subject:    c.Feed.Subject,
		BufferSize: c.Feed.BufferSize,
	}
}
