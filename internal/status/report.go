// Package status 生成引擎状态快照（只生成数据，不负责渲染）。
// 快照内容：各 token 的场所费率、排序后的套利路径及其回本/止盈天数、
// 活跃套利、已平仓结果统计与决策周期耗时。
package status

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"funding-rate-arbitrage/internal/core/lifecycle"
	"funding-rate-arbitrage/internal/core/model"
	"funding-rate-arbitrage/internal/core/ranker"
	"funding-rate-arbitrage/internal/stats/cycle"
	"funding-rate-arbitrage/internal/stats/outcome"
	"funding-rate-arbitrage/internal/util/timeutil"
)

var hundred = decimal.NewFromInt(100)

// VenueRate 某场所按盈利周期缩放后的费率
type VenueRate struct {
	Venue string `json:"venue"`
	// HorizonRatePct 盈利周期费率（%）
	HorizonRatePct decimal.Decimal `json:"horizon_rate_pct"`
	// MinutesToFunding 距离下次结算的分钟数
	MinutesToFunding float64 `json:"minutes_to_funding"`
}

// PathStatus 一条套利路径
type PathStatus struct {
	Venue1 string     `json:"venue_1"`
	Venue2 string     `json:"venue_2"`
	Side   model.Side `json:"side"`
	// SpreadPct 费率差（%）
	SpreadPct decimal.Decimal `json:"spread_pct"`
	// TradePnlPct 扣费后成交盈亏比例；估算失败时为 nil
	TradePnlPct *decimal.Decimal `json:"trade_pnl_pct,omitempty"`
	// DaysTradeProfitable 资金费覆盖成交成本所需天数 = -tradePnl / spread
	DaysTradeProfitable *decimal.Decimal `json:"days_trade_profitable,omitempty"`
	// DaysToTakeProfit 达到止盈所需天数 = (takeProfit - tradePnl) / spread
	DaysToTakeProfit *decimal.Decimal `json:"days_to_take_profit,omitempty"`
	// MinutesToFunding1 Venue1 距离下次结算的分钟数
	MinutesToFunding1 float64 `json:"minutes_to_funding_1"`
	// MinutesToFunding2 Venue2 距离下次结算的分钟数
	MinutesToFunding2 float64 `json:"minutes_to_funding_2"`
}

// TokenStatus 单个 token 的行情视图
type TokenStatus struct {
	Token string       `json:"token"`
	Rates []VenueRate  `json:"rates"`
	Paths []PathStatus `json:"paths"`
	// Err 费率不可用时的错误信息
	Err string `json:"error,omitempty"`
}

// ActiveStatus 活跃套利视图
type ActiveStatus struct {
	Token           string                       `json:"token"`
	ID              string                       `json:"id"`
	LongVenue       string                       `json:"long_venue"`
	ShortVenue      string                       `json:"short_venue"`
	LegIDs          [2]string                    `json:"leg_ids"`
	EntrySpread     decimal.Decimal              `json:"entry_spread"`
	FundingPayments []model.FundingPaymentRecord `json:"funding_payments"`
	FundingTotal    decimal.Decimal              `json:"funding_total"`
	OpenedAt        time.Time                    `json:"opened_at"`
	HoldHours       float64                      `json:"hold_hours"`
}

// Report 状态快照
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	// MinFundingRateProfitability 入场最小费率差
	MinFundingRateProfitability decimal.Decimal `json:"min_funding_rate_profitability"`
	// ProfitabilityToTakeProfit 止盈比例
	ProfitabilityToTakeProfit decimal.Decimal `json:"profitability_to_take_profit"`

	Tokens      []TokenStatus        `json:"tokens"`
	Active      []ActiveStatus       `json:"active"`
	ClosedCount int                  `json:"closed_count"`
	Outcome     outcome.OutcomeStats `json:"outcome"`
	Cycle       cycle.CycleStats     `json:"cycle"`
}

// Builder 状态快照构建器
type Builder struct {
	mgr     *lifecycle.Manager
	outcome *outcome.Calculator
	cycle   *cycle.Tracker
	clock   timeutil.Clock
	logger  *zap.Logger
}

// NewBuilder 创建构建器；outcome/cycle 可为 nil
func NewBuilder(mgr *lifecycle.Manager, oc *outcome.Calculator, ct *cycle.Tracker, clock timeutil.Clock, logger *zap.Logger) *Builder {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{mgr: mgr, outcome: oc, cycle: ct, clock: clock, logger: logger.Named("status")}
}

// Build 生成一次快照
// 单个 token 的费率不可用只记录在该 token 的 Err 中。
func (b *Builder) Build(ctx context.Context) Report {
	cfg := b.mgr.Config()
	now := b.clock.Now()

	rep := Report{
		GeneratedAt:                 now,
		MinFundingRateProfitability: cfg.MinFundingRateProfitability,
		ProfitabilityToTakeProfit:   cfg.ProfitabilityToTakeProfit,
		ClosedCount:                 b.mgr.Store().HistoryCount(),
	}

	for _, token := range cfg.Tokens {
		rep.Tokens = append(rep.Tokens, b.tokenStatus(ctx, token, now))
	}

	for _, pos := range b.mgr.Store().ActivePositions() {
		rep.Active = append(rep.Active, ActiveStatus{
			Token:           pos.Token,
			ID:              pos.ID,
			LongVenue:       pos.LongVenue(),
			ShortVenue:      pos.ShortVenue(),
			LegIDs:          pos.LegIDs,
			EntrySpread:     pos.EntrySpread,
			FundingPayments: pos.FundingPayments,
			FundingTotal:    pos.FundingTotal(),
			OpenedAt:        pos.OpenedAt,
			HoldHours:       pos.HoldDuration(now).Hours(),
		})
	}

	if b.outcome != nil {
		rep.Outcome = b.outcome.Stats()
	}
	if b.cycle != nil {
		rep.Cycle = b.cycle.Stats()
	}
	return rep
}

func (b *Builder) tokenStatus(ctx context.Context, token string, now time.Time) TokenStatus {
	ts := TokenStatus{Token: token}
	reg := b.mgr.Registry()
	cfg := b.mgr.Config()

	snaps, err := b.mgr.FundingSnapshots(ctx, token)
	if len(snaps) == 0 && err != nil {
		ts.Err = err.Error()
		return ts
	}

	nextFunding := make(map[string]float64, len(snaps))
	for _, s := range snaps {
		mins := minutesUntil(s.NextFundingUnix, now)
		nextFunding[s.Venue] = mins
		ts.Rates = append(ts.Rates, VenueRate{
			Venue:            s.Venue,
			HorizonRatePct:   reg.HorizonRate(s.Rate, s.Venue).Mul(hundred).Round(8),
			MinutesToFunding: mins,
		})
	}
	if err != nil {
		ts.Err = err.Error()
		return ts
	}

	for _, opp := range ranker.Rank(reg, token, snaps) {
		path := PathStatus{
			Venue1:            opp.Venue1,
			Venue2:            opp.Venue2,
			Side:              opp.Side,
			SpreadPct:         opp.Spread.Mul(hundred).Round(8),
			MinutesToFunding1: nextFunding[opp.Venue1],
			MinutesToFunding2: nextFunding[opp.Venue2],
		}

		pnl, err := b.mgr.Estimator().TradePnlPct(ctx, token, opp.Venue1, opp.Venue2, opp.Side, cfg.PositionSizeQuote)
		if err != nil {
			b.logger.Debug("估算成交盈亏失败",
				zap.String("token", token),
				zap.String("venue_1", opp.Venue1),
				zap.String("venue_2", opp.Venue2),
				zap.Error(err),
			)
		} else {
			path.TradePnlPct = &pnl
			if opp.Spread.IsPositive() {
				daysProf := pnl.Neg().DivRound(opp.Spread, 8)
				daysTP := cfg.ProfitabilityToTakeProfit.Sub(pnl).DivRound(opp.Spread, 8)
				path.DaysTradeProfitable = &daysProf
				path.DaysToTakeProfit = &daysTP
			}
		}
		ts.Paths = append(ts.Paths, path)
	}
	return ts
}

func minutesUntil(unix int64, now time.Time) float64 {
	if unix <= 0 {
		return 0
	}
	return time.Unix(unix, 0).Sub(now).Minutes()
}
