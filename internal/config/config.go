// Package config 负责加载和验证 YAML 配置文件。
// 提供引擎所需的全部配置项：token 与场所、策略参数、执行方式、网关、资金费推送与输出。
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"funding-rate-arbitrage/internal/core/model"
)

// 执行方式
const (
	// ExecutionPaper 模拟执行（行情仍来自网关）
	ExecutionPaper = "paper"
	// ExecutionGateway 通过网关真实下单
	ExecutionGateway = "gateway"
)

// 资金费推送源
const (
	FeedNone = "none"
	FeedWS   = "ws"
	FeedNATS = "nats"
)

// Config 应用配置根结构
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// Tokens 参与套利的 token，如 WIF、FET
	Tokens []string `yaml:"tokens"`
	// Venues 交易场所（顺序即排序时的发现顺序）
	Venues []VenueConfig `yaml:"venues"`
	// Strategy 策略参数
	Strategy StrategyConfig `yaml:"strategy"`
	// Execution 执行方式与模拟成交参数
	Execution ExecutionConfig `yaml:"execution"`
	// Gateway 行情/执行网关
	Gateway GatewayConfig `yaml:"gateway"`
	// Feed 资金费支付推送
	Feed FeedConfig `yaml:"feed"`
	// Output 输出配置
	Output OutputConfig `yaml:"output"`
	// Metrics Prometheus 指标
	Metrics MetricsConfig `yaml:"metrics"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// VenueConfig 场所配置
type VenueConfig struct {
	// Name 场所标识，如 binance_perpetual
	Name string `yaml:"name"`
	// QuoteCurrency 计价币种（默认 USDT）
	QuoteCurrency string `yaml:"quote_currency"`
	// FundingIntervalSec 资金费结算周期（秒，默认 28800）
	FundingIntervalSec int64 `yaml:"funding_interval_sec"`
	// PositionMode 持仓模式: oneway, hedge（默认 hedge）
	PositionMode string `yaml:"position_mode"`
}

// StrategyConfig 策略参数
type StrategyConfig struct {
	// Leverage 杠杆倍数
	Leverage int `yaml:"leverage"`
	// MinFundingRateProfitability 入场最小费率差（盈利周期内）；未配置时为 0.001，可显式配置为 0
	MinFundingRateProfitability *float64 `yaml:"min_funding_rate_profitability"`
	// PositionSizeQuote 每条腿的名义价值
	PositionSizeQuote float64 `yaml:"position_size_quote"`
	// ProfitabilityToTakeProfit 止盈比例（含两腿盈亏与已收资金费）
	ProfitabilityToTakeProfit float64 `yaml:"profitability_to_take_profit"`
	// FundingRateDiffStopLoss 止损费率差（不大于 0）；未配置时为 -0.001，可显式配置为 0
	FundingRateDiffStopLoss *float64 `yaml:"funding_rate_diff_stop_loss"`
	// TradeProfitabilityConditionToEnter 是否要求扣费后成交盈亏非负
	TradeProfitabilityConditionToEnter bool `yaml:"trade_profitability_condition_to_enter"`
	// FeeMode 手续费模式: taker, maker, mixed
	FeeMode string `yaml:"fee_mode"`
	// ProfitabilityHorizonSec 盈利周期（秒）
	ProfitabilityHorizonSec int64 `yaml:"profitability_horizon_sec"`
	// CycleIntervalMs 决策周期间隔（毫秒）
	CycleIntervalMs int `yaml:"cycle_interval_ms"`
	// MaxParallelTokens 周期内并行评估的 token 数
	MaxParallelTokens int `yaml:"max_parallel_tokens"`
	// StatusIntervalMs 状态快照间隔（毫秒）
	StatusIntervalMs int `yaml:"status_interval_ms"`
}

// ExecutionConfig 执行配置
type ExecutionConfig struct {
	// Mode 执行方式: paper, gateway
	Mode string `yaml:"mode"`
	// SlippageBps 模拟成交滑点（基点）
	SlippageBps float64 `yaml:"slippage_bps"`
	// Fees 模拟成交的场所手续费（key 为场所名称）
	Fees map[string]FeeDetail `yaml:"fees"`
	// DefaultFee 未配置场所的手续费
	DefaultFee FeeDetail `yaml:"default_fee"`
}

// FeeDetail 手续费详情
type FeeDetail struct {
	// TakerRate Taker 手续费率（0-1）
	TakerRate float64 `yaml:"taker_rate"`
	// MakerRate Maker 手续费率（-1 到 1，负数为返佣）
	MakerRate float64 `yaml:"maker_rate"`
	// RebateRate 返佣比例（0-1）
	RebateRate float64 `yaml:"rebate_rate"`
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	// BaseURL 网关地址
	BaseURL string `yaml:"base_url"`
	// TimeoutMs 请求超时（毫秒）
	TimeoutMs int `yaml:"timeout_ms"`
	// RateLimitPerSec 每秒请求数
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	// RateLimitBurst 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst"`
	// APIKeyEnv 存放 API Key 的环境变量名
	APIKeyEnv string `yaml:"api_key_env"`
	// BreakerFailures 熔断失败次数阈值
	BreakerFailures uint `yaml:"breaker_failures"`
	// BreakerWindow 熔断统计窗口（请求数）
	BreakerWindow uint `yaml:"breaker_window"`
	// BreakerDelayMs 熔断打开后的等待时间（毫秒）
	BreakerDelayMs int `yaml:"breaker_delay_ms"`
}

// FeedConfig 资金费推送配置
type FeedConfig struct {
	// Kind 推送源: ws, nats, none
	Kind string `yaml:"kind"`
	// URL 推送地址（ws:// 或 nats://）
	URL string `yaml:"url"`
	// Subject NATS 主题
	Subject string `yaml:"subject"`
	// PingIntervalMs WebSocket 心跳间隔（毫秒）
	PingIntervalMs int `yaml:"ping_interval_ms"`
	// ReadTimeoutMs WebSocket 读取超时（毫秒）
	ReadTimeoutMs int `yaml:"read_timeout_ms"`
	// BufferSize 事件通道容量
	BufferSize int `yaml:"buffer_size"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// DecisionsEnabled 是否输出 decisions.jsonl
	DecisionsEnabled bool `yaml:"decisions_enabled"`
	// StatusEnabled 是否输出 status.jsonl
	StatusEnabled bool `yaml:"status_enabled"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Enabled 是否开启 /metrics
	Enabled bool `yaml:"enabled"`
	// ListenAddr 监听地址
	ListenAddr string `yaml:"listen_addr"`
}

// Load 从文件加载配置并验证
// 参数 path: 配置文件路径
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return &cfg, nil
}

// setDefaults 设置配置默认值
// 数值为 0 视为未配置。
func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "funding-rate-arbitrage"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	if len(c.Tokens) == 0 {
		c.Tokens = []string{"WIF", "FET"}
	}
	for i, t := range c.Tokens {
		c.Tokens[i] = strings.ToUpper(strings.TrimSpace(t))
	}

	if len(c.Venues) == 0 {
		c.Venues = []VenueConfig{
			{Name: "hyperliquid_perpetual", QuoteCurrency: "USD", FundingIntervalSec: 3600, PositionMode: string(model.PositionModeOneWay)},
			{Name: "binance_perpetual", QuoteCurrency: "USDT", FundingIntervalSec: 28800, PositionMode: string(model.PositionModeHedge)},
		}
	}
	for i := range c.Venues {
		v := &c.Venues[i]
		if v.QuoteCurrency == "" {
			v.QuoteCurrency = "USDT"
		}
		if v.FundingIntervalSec == 0 {
			v.FundingIntervalSec = 8 * 60 * 60
		}
		if v.PositionMode == "" {
			v.PositionMode = string(model.PositionModeHedge)
		}
	}

	// 策略默认值与原策略一致
	s := &c.Strategy
	if s.Leverage == 0 {
		s.Leverage = 20
	}
	if s.MinFundingRateProfitability == nil {
		s.MinFundingRateProfitability = float64Ptr(0.001)
	}
	if s.PositionSizeQuote == 0 {
		s.PositionSizeQuote = 100
	}
	if s.ProfitabilityToTakeProfit == 0 {
		s.ProfitabilityToTakeProfit = 0.01
	}
	if s.FundingRateDiffStopLoss == nil {
		s.FundingRateDiffStopLoss = float64Ptr(-0.001)
	}
	if s.FeeMode == "" {
		s.FeeMode = string(model.FeeModeTaker)
	}
	if s.ProfitabilityHorizonSec == 0 {
		s.ProfitabilityHorizonSec = 24 * 60 * 60
	}
	if s.CycleIntervalMs == 0 {
		s.CycleIntervalMs = 1000
	}
	if s.MaxParallelTokens == 0 {
		s.MaxParallelTokens = 8
	}
	if s.StatusIntervalMs == 0 {
		s.StatusIntervalMs = 60000
	}

	if c.Execution.Mode == "" {
		c.Execution.Mode = ExecutionPaper
	}

	g := &c.Gateway
	if g.TimeoutMs == 0 {
		g.TimeoutMs = 5000
	}
	if g.RateLimitPerSec == 0 {
		g.RateLimitPerSec = 20
	}
	if g.RateLimitBurst == 0 {
		g.RateLimitBurst = 30
	}
	if g.APIKeyEnv == "" {
		g.APIKeyEnv = "ARB_GATEWAY_API_KEY"
	}
	if g.BreakerFailures == 0 {
		g.BreakerFailures = 5
	}
	if g.BreakerWindow == 0 {
		g.BreakerWindow = 10
	}
	if g.BreakerDelayMs == 0 {
		g.BreakerDelayMs = 10000
	}

	if c.Feed.Kind == "" {
		c.Feed.Kind = FeedNone
	}
	if c.Feed.PingIntervalMs == 0 {
		c.Feed.PingIntervalMs = 15000
	}
	if c.Feed.ReadTimeoutMs == 0 {
		c.Feed.ReadTimeoutMs = 60000
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = 256
	}

	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
}

// Validate 验证配置合法性
// 收集全部问题后一次性返回。
func (c *Config) Validate() error {
	var errs []string

	// token
	if len(c.Tokens) == 0 {
		errs = append(errs, "tokens: 至少需要配置一个 token")
	}
	seenTokens := make(map[string]bool, len(c.Tokens))
	for i, t := range c.Tokens {
		if t == "" || strings.Contains(t, "-") {
			errs = append(errs, fmt.Sprintf("tokens[%d]: 无效的 token '%s'", i, t))
		}
		if seenTokens[t] {
			errs = append(errs, fmt.Sprintf("tokens[%d]: 重复的 token '%s'", i, t))
		}
		seenTokens[t] = true
	}

	// 场所
	if len(c.Venues) < 2 {
		errs = append(errs, "venues: 至少需要两个场所")
	}
	seenVenues := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		if v.Name == "" {
			errs = append(errs, fmt.Sprintf("venues[%d].name: 场所名称不能为空", i))
		}
		if seenVenues[v.Name] {
			errs = append(errs, fmt.Sprintf("venues[%d].name: 重复的场所 '%s'", i, v.Name))
		}
		seenVenues[v.Name] = true
		if v.FundingIntervalSec <= 0 {
			errs = append(errs, fmt.Sprintf("venues[%d].funding_interval_sec: 结算周期必须为正数", i))
		}
		switch model.PositionMode(v.PositionMode) {
		case model.PositionModeOneWay, model.PositionModeHedge:
		default:
			errs = append(errs, fmt.Sprintf("venues[%d].position_mode: 无效的持仓模式 '%s'，有效值: oneway, hedge", i, v.PositionMode))
		}
	}

	// 策略
	s := c.Strategy
	if s.Leverage <= 0 {
		errs = append(errs, "strategy.leverage: 杠杆必须为正数")
	}
	if s.MinFundingRateProfitability == nil {
		errs = append(errs, "strategy.min_funding_rate_profitability: 未设置")
	} else if *s.MinFundingRateProfitability < 0 {
		errs = append(errs, "strategy.min_funding_rate_profitability: 不能为负数")
	}
	if s.PositionSizeQuote <= 0 {
		errs = append(errs, "strategy.position_size_quote: 名义价值必须为正数")
	}
	if s.ProfitabilityToTakeProfit <= 0 {
		errs = append(errs, "strategy.profitability_to_take_profit: 止盈比例必须为正数")
	}
	if s.FundingRateDiffStopLoss == nil {
		errs = append(errs, "strategy.funding_rate_diff_stop_loss: 未设置")
	} else if *s.FundingRateDiffStopLoss > 0 {
		errs = append(errs, "strategy.funding_rate_diff_stop_loss: 止损费率差不能为正数")
	}
	if _, err := model.ParseFeeMode(s.FeeMode); err != nil {
		errs = append(errs, fmt.Sprintf("strategy.fee_mode: 无效的手续费模式 '%s'，有效值: taker, maker, mixed", s.FeeMode))
	}
	if s.ProfitabilityHorizonSec <= 0 {
		errs = append(errs, "strategy.profitability_horizon_sec: 盈利周期必须为正数")
	}
	if s.CycleIntervalMs <= 0 {
		errs = append(errs, "strategy.cycle_interval_ms: 周期间隔必须为正数")
	}
	if s.MaxParallelTokens < 0 {
		errs = append(errs, "strategy.max_parallel_tokens: 不能为负数")
	}
	if s.StatusIntervalMs < 0 {
		errs = append(errs, "strategy.status_interval_ms: 不能为负数")
	}

	// 执行
	switch c.Execution.Mode {
	case ExecutionPaper, ExecutionGateway:
	default:
		errs = append(errs, fmt.Sprintf("execution.mode: 无效的执行方式 '%s'，有效值: paper, gateway", c.Execution.Mode))
	}
	if c.Execution.SlippageBps < 0 {
		errs = append(errs, "execution.slippage_bps: 滑点不能为负数")
	}
	for venue, fee := range c.Execution.Fees {
		if !seenVenues[venue] {
			errs = append(errs, fmt.Sprintf("execution.fees.%s: 未配置的场所", venue))
		}
		errs = append(errs, validateFee(fee, "execution.fees."+venue)...)
	}
	errs = append(errs, validateFee(c.Execution.DefaultFee, "execution.default_fee")...)

	// 网关（paper 模式也从网关获取行情）
	if c.Gateway.BaseURL == "" {
		errs = append(errs, "gateway.base_url: 网关地址不能为空")
	}
	if c.Gateway.TimeoutMs <= 0 {
		errs = append(errs, "gateway.timeout_ms: 超时必须为正数")
	}
	if c.Gateway.RateLimitPerSec <= 0 {
		errs = append(errs, "gateway.rate_limit_per_sec: 限流必须为正数")
	}
	if c.Gateway.BreakerWindow < c.Gateway.BreakerFailures {
		errs = append(errs, "gateway.breaker_window: 统计窗口不能小于失败阈值")
	}

	// 资金费推送
	switch c.Feed.Kind {
	case FeedNone:
	case FeedWS, FeedNATS:
		if c.Feed.URL == "" {
			errs = append(errs, fmt.Sprintf("feed.url: %s 推送地址不能为空", c.Feed.Kind))
		}
	default:
		errs = append(errs, fmt.Sprintf("feed.kind: 无效的推送源 '%s'，有效值: ws, nats, none", c.Feed.Kind))
	}

	// 日志级别
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: 配置验证错误:\n  - %s", model.ErrConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// validateFee 验证手续费范围
func validateFee(f FeeDetail, field string) []string {
	var errs []string
	if f.TakerRate < 0 || f.TakerRate > 1 {
		errs = append(errs, fmt.Sprintf("%s.taker_rate: 费率必须在 0-1 之间，当前值: %f", field, f.TakerRate))
	}
	if f.MakerRate < -1 || f.MakerRate > 1 {
		errs = append(errs, fmt.Sprintf("%s.maker_rate: 费率必须在 -1 到 1 之间，当前值: %f", field, f.MakerRate))
	}
	if f.RebateRate < 0 || f.RebateRate > 1 {
		errs = append(errs, fmt.Sprintf("%s.rebate_rate: 返佣比例必须在 0-1 之间，当前值: %f", field, f.RebateRate))
	}
	return errs
}

// CycleInterval 决策周期间隔
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Strategy.CycleIntervalMs) * time.Millisecond
}

// StatusInterval 状态快照间隔（0 表示不输出）
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.Strategy.StatusIntervalMs) * time.Millisecond
}

func float64Ptr(v float64) *float64 {
	return &v
}
