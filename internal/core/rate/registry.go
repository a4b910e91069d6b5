// Package rate 实现资金费率归一化。
// 不同场所的结算周期不同（1h、8h 等），统一换算为每秒费率后才可比较；
// 盈利周期（默认 24h）在这里统一持有，排序、入场过滤、出场过滤与状态报告使用同一个值。
package rate

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"funding-rate-arbitrage/internal/core/model"
)

const (
	// DefaultFundingIntervalSec 未配置场所的默认结算周期：8 小时
	DefaultFundingIntervalSec int64 = 8 * 60 * 60
	// DefaultQuoteCurrency 未配置场所的默认计价币种
	DefaultQuoteCurrency = "USDT"
	// DefaultHorizonSec 默认盈利周期：24 小时
	DefaultHorizonSec int64 = 24 * 60 * 60

	// normalizePrecision 每秒费率的小数位数
	normalizePrecision int32 = 32
)

// Registry 场所注册表
// 构造后只读，可在多个 goroutine 间共享。
type Registry struct {
	// specs 按名称索引的场所描述
	specs map[string]model.VenueSpec
	// order 场所的配置顺序（决定排序时的发现顺序）
	order []string
	// horizon 盈利周期（秒）
	horizon decimal.Decimal
	// horizonSec 盈利周期（秒，整数）
	horizonSec int64
}

// NewRegistry 创建场所注册表
// 参数 specs: 场所列表（顺序即发现顺序）
// 参数 horizonSec: 盈利周期（秒），<=0 时使用 24h
func NewRegistry(specs []model.VenueSpec, horizonSec int64) (*Registry, error) {
	if horizonSec <= 0 {
		horizonSec = DefaultHorizonSec
	}
	r := &Registry{
		specs:      make(map[string]model.VenueSpec, len(specs)),
		order:      make([]string, 0, len(specs)),
		horizon:    decimal.NewFromInt(horizonSec),
		horizonSec: horizonSec,
	}
	for i, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("%w: venues[%d] 名称不能为空", model.ErrConfig, i)
		}
		if _, dup := r.specs[spec.Name]; dup {
			return nil, fmt.Errorf("%w: 重复的场所 '%s'", model.ErrConfig, spec.Name)
		}
		if spec.FundingIntervalSec < 0 {
			return nil, fmt.Errorf("%w: 场所 '%s' 的结算周期不能为负数", model.ErrConfig, spec.Name)
		}
		r.specs[spec.Name] = spec
		r.order = append(r.order, spec.Name)
	}
	return r, nil
}

// Venues 按配置顺序返回场所名称
func (r *Registry) Venues() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Has 场所是否已配置
func (r *Registry) Has(venue string) bool {
	_, ok := r.specs[venue]
	return ok
}

// Spec 获取场所描述
func (r *Registry) Spec(venue string) (model.VenueSpec, bool) {
	spec, ok := r.specs[venue]
	return spec, ok
}

// IntervalSeconds 场所的结算周期（秒）
// 未配置或配置为 0 时使用 8 小时默认值（策略约定，不视为错误）
func (r *Registry) IntervalSeconds(venue string) int64 {
	if spec, ok := r.specs[venue]; ok && spec.FundingIntervalSec > 0 {
		return spec.FundingIntervalSec
	}
	return DefaultFundingIntervalSec
}

// QuoteCurrency 场所的计价币种，未配置时为 USDT
func (r *Registry) QuoteCurrency(venue string) string {
	if spec, ok := r.specs[venue]; ok && spec.QuoteCurrency != "" {
		return spec.QuoteCurrency
	}
	return DefaultQuoteCurrency
}

// TradingPair 构造 token 在场所上的交易对，如 WIF-USD
func (r *Registry) TradingPair(token, venue string) string {
	return token + "-" + r.QuoteCurrency(venue)
}

// HorizonSeconds 盈利周期（秒）
func (r *Registry) HorizonSeconds() int64 {
	return r.horizonSec
}

// Normalize 将原始资金费率换算为每秒费率
// 公式: rawRate / fundingIntervalSeconds(venue)
// 每秒费率只用于跨场所比较的展示，阈值判断一律使用 HorizonRate（先乘后除，避免截断误差）。
func (r *Registry) Normalize(rawRate decimal.Decimal, venue string) decimal.Decimal {
	return rawRate.DivRound(decimal.NewFromInt(r.IntervalSeconds(venue)), normalizePrecision)
}

// HorizonRate 场所原始费率在盈利周期内的比例
// 公式: rawRate × horizon / fundingIntervalSeconds(venue)
// 盈利周期是结算周期整数倍时结果精确，等于阈值的费率差不会因舍入落到阈值之下。
func (r *Registry) HorizonRate(rawRate decimal.Decimal, venue string) decimal.Decimal {
	return rawRate.Mul(r.horizon).DivRound(decimal.NewFromInt(r.IntervalSeconds(venue)), normalizePrecision)
}

// DirectionalSpread 方向敏感的费率差
// 公式: horizonRate(shortRate) - horizonRate(longRate)
// 为正表示持仓方向仍在收取资金费差
func (r *Registry) DirectionalSpread(longVenue string, longRate decimal.Decimal, shortVenue string, shortRate decimal.Decimal) decimal.Decimal {
	return r.HorizonRate(shortRate, shortVenue).Sub(r.HorizonRate(longRate, longVenue))
}

// TokenFromPair 从交易对中取出 token（第一个 '-' 之前的部分）
func TokenFromPair(tradingPair string) string {
	if i := strings.IndexByte(tradingPair, '-'); i >= 0 {
		return tradingPair[:i]
	}
	return tradingPair
}
