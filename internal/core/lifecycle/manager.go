// Package lifecycle 实现每个 token 的套利生命周期状态机。
//
// 状态只有两个：Idle（无活跃套利）与 Active（存在 ArbitragePosition）。
// Idle 的 token 每个周期评估一次入场，Active 的 token 每个周期评估一次退出；
// 入场同时发出两条腿的开仓请求，退出同时发出两条腿的平仓请求。
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"funding-rate-arbitrage/internal/core/cost"
	"funding-rate-arbitrage/internal/core/model"
	"funding-rate-arbitrage/internal/core/port"
	"funding-rate-arbitrage/internal/core/ranker"
	"funding-rate-arbitrage/internal/core/rate"
	"funding-rate-arbitrage/internal/core/store"
	"funding-rate-arbitrage/internal/observability"
	"funding-rate-arbitrage/internal/util/timeutil"
)

// Config 生命周期参数（已解析为强类型）
type Config struct {
	// Tokens 参与套利的 token
	Tokens []string
	// Leverage 杠杆倍数
	Leverage int
	// MinFundingRateProfitability 最小费率差（与盈利周期缩放后的 spread 同单位）
	MinFundingRateProfitability decimal.Decimal
	// PositionSizeQuote 每条腿的名义价值
	PositionSizeQuote decimal.Decimal
	// ProfitabilityToTakeProfit 止盈比例（相对 PositionSizeQuote）
	ProfitabilityToTakeProfit decimal.Decimal
	// FundingRateDiffStopLoss 止损阈值（负数）
	FundingRateDiffStopLoss decimal.Decimal
	// TradeProfitabilityConditionToEnter 是否要求扣费后成交盈亏非负才入场
	TradeProfitabilityConditionToEnter bool
	// FeeMode 手续费模式
	FeeMode model.FeeMode
	// MaxParallelTokens 同一周期内并行评估的 token 数（<=0 时不限制）
	MaxParallelTokens int
}

// Option 可选项
type Option func(*Manager)

// WithClock 指定时钟
func WithClock(c timeutil.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger 指定日志
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l.Named("lifecycle")
		}
	}
}

// WithMetrics 指定指标
func WithMetrics(mt *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Manager 生命周期管理器
type Manager struct {
	cfg       Config
	reg       *rate.Registry
	market    port.MarketData
	exec      port.Execution
	estimator *cost.Estimator
	store     *store.Store

	clock   timeutil.Clock
	logger  *zap.Logger
	metrics *observability.Metrics

	// cycleMu 保证同一时刻只有一个决策周期
	cycleMu sync.Mutex
}

// NewManager 创建生命周期管理器
// 配置不合法时返回包装 ErrConfig 的错误。
func NewManager(cfg Config, reg *rate.Registry, market port.MarketData, exec port.Execution, st *store.Store, opts ...Option) (*Manager, error) {
	if err := validate(cfg, reg); err != nil {
		return nil, err
	}
	if st == nil {
		st = store.New()
	}

	m := &Manager{
		cfg:       cfg,
		reg:       reg,
		market:    market,
		exec:      exec,
		estimator: cost.NewEstimator(reg, market, exec, cfg.FeeMode),
		store:     st,
		clock:     timeutil.SystemClock{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func validate(cfg Config, reg *rate.Registry) error {
	var errs []string

	if reg == nil {
		return fmt.Errorf("%w: 缺少场所注册表", model.ErrConfig)
	}
	if len(cfg.Tokens) == 0 {
		errs = append(errs, "tokens 不能为空")
	}
	seen := make(map[string]bool, len(cfg.Tokens))
	for _, token := range cfg.Tokens {
		if token == "" || strings.Contains(token, "-") {
			errs = append(errs, fmt.Sprintf("token '%s' 不合法", token))
		}
		if seen[token] {
			errs = append(errs, fmt.Sprintf("token '%s' 重复", token))
		}
		seen[token] = true
	}
	if len(reg.Venues()) < 2 {
		errs = append(errs, "至少需要两个场所")
	}
	if cfg.Leverage <= 0 {
		errs = append(errs, "leverage 必须为正数")
	}
	if !cfg.PositionSizeQuote.IsPositive() {
		errs = append(errs, "position_size_quote 必须为正数")
	}
	if _, err := model.ParseFeeMode(string(cfg.FeeMode)); err != nil {
		errs = append(errs, fmt.Sprintf("fee_mode '%s' 不合法", cfg.FeeMode))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", model.ErrConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// Store 仓位存储
func (m *Manager) Store() *store.Store {
	return m.store
}

// Registry 场所注册表
func (m *Manager) Registry() *rate.Registry {
	return m.reg
}

// Estimator 成本估算器
func (m *Manager) Estimator() *cost.Estimator {
	return m.estimator
}

// Config 生命周期参数
func (m *Manager) Config() Config {
	return m.cfg
}

// Prepare 启动时设置每个场所的持仓模式与每个交易对的杠杆
// 单项失败只记录日志；仅在 ctx 取消时返回错误。
func (m *Manager) Prepare(ctx context.Context) error {
	for _, venue := range m.reg.Venues() {
		if err := ctx.Err(); err != nil {
			return err
		}
		mode := model.PositionModeHedge
		if spec, ok := m.reg.Spec(venue); ok && spec.PositionMode != "" {
			mode = spec.PositionMode
		}
		if err := m.exec.SetPositionMode(ctx, venue, mode); err != nil {
			m.logger.Warn("设置持仓模式失败",
				zap.String("venue", venue),
				zap.String("mode", string(mode)),
				zap.Error(err),
			)
		}
		for _, token := range m.cfg.Tokens {
			pair := m.reg.TradingPair(token, venue)
			if err := m.exec.SetLeverage(ctx, venue, pair, m.cfg.Leverage); err != nil {
				m.logger.Warn("设置杠杆失败",
					zap.String("venue", venue),
					zap.String("trading_pair", pair),
					zap.Int("leverage", m.cfg.Leverage),
					zap.Error(err),
				)
			}
		}
	}
	m.logger.Info("场所初始化完成",
		zap.Strings("venues", m.reg.Venues()),
		zap.Strings("tokens", m.cfg.Tokens),
		zap.Int("leverage", m.cfg.Leverage),
	)
	return nil
}

// FundingSnapshots 按场所配置顺序获取 token 的资金费率快照
// 单个场所失败时跳过该场所；可用场所少于两个时返回 ErrDataUnavailable。
func (m *Manager) FundingSnapshots(ctx context.Context, token string) ([]model.FundingRateSnapshot, error) {
	venues := m.reg.Venues()
	out := make([]model.FundingRateSnapshot, 0, len(venues))
	var missing []string

	for _, venue := range venues {
		pair := m.reg.TradingPair(token, venue)
		snap, err := m.market.FundingRate(ctx, venue, pair)
		if err != nil {
			m.logger.Warn("获取资金费率失败",
				zap.String("token", token),
				zap.String("venue", venue),
				zap.Error(err),
			)
			missing = append(missing, venue)
			continue
		}
		snap.Venue = venue
		if snap.TradingPair == "" {
			snap.TradingPair = pair
		}
		out = append(out, snap)
	}

	if len(out) < 2 {
		return out, fmt.Errorf("%w: %s 可用资金费率不足两个场所 (缺少 %s)",
			model.ErrDataUnavailable, token, strings.Join(missing, ","))
	}
	return out, nil
}

// Opportunities 获取 token 当前排序后的套利机会
func (m *Manager) Opportunities(ctx context.Context, token string) ([]model.Opportunity, error) {
	snaps, err := m.FundingSnapshots(ctx, token)
	if err != nil {
		return nil, err
	}
	return ranker.Rank(m.reg, token, snaps), nil
}

// EvaluateEntry 评估 Idle token 的入场
// 按排序逐个检查候选：费率差低于阈值或（开启门槛时）扣费后成交盈亏为负的跳过，
// 第一个通过的候选即为入场对。无候选通过时返回 nil 决策。
func (m *Manager) EvaluateEntry(ctx context.Context, token string) (*model.EntryDecision, []model.Rejection, error) {
	if m.store.IsActive(token) {
		return nil, nil, nil
	}

	opps, err := m.Opportunities(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	var rejections []model.Rejection
	reject := func(opp model.Opportunity, reason model.RejectReason, pnl *decimal.Decimal) {
		rejections = append(rejections, model.Rejection{Opportunity: opp, Reason: reason, TradePnlPct: pnl})
		m.metrics.ObserveRejection(token, string(reason))
	}

	for _, opp := range opps {
		if opp.Spread.LessThan(m.cfg.MinFundingRateProfitability) {
			reject(opp, model.RejectBelowMinSpread, nil)
			m.logger.Debug("费率差低于阈值",
				zap.String("token", token),
				zap.String("venue_1", opp.Venue1),
				zap.String("venue_2", opp.Venue2),
				zap.Stringer("spread", opp.Spread),
				zap.Stringer("min", m.cfg.MinFundingRateProfitability),
			)
			continue
		}

		pnl, err := m.estimator.TradePnlPct(ctx, token, opp.Venue1, opp.Venue2, opp.Side, m.cfg.PositionSizeQuote)
		if err != nil {
			reject(opp, model.RejectEstimateUnavailable, nil)
			m.logger.Warn("成本估算失败，跳过该场所对",
				zap.String("token", token),
				zap.String("venue_1", opp.Venue1),
				zap.String("venue_2", opp.Venue2),
				zap.Error(err),
			)
			continue
		}

		if m.cfg.TradeProfitabilityConditionToEnter && pnl.IsNegative() {
			p := pnl
			reject(opp, model.RejectNegativeTradePnl, &p)
			m.logger.Info("扣费后成交盈亏为负，跳过",
				zap.String("token", token),
				zap.String("venue_1", opp.Venue1),
				zap.String("venue_2", opp.Venue2),
				zap.String("side", string(opp.Side)),
				zap.Stringer("spread", opp.Spread),
				zap.Stringer("trade_pnl_pct", pnl),
			)
			continue
		}

		pos, err := m.open(ctx, opp, pnl)
		if err != nil {
			return nil, rejections, err
		}
		m.logger.Info("开启资金费率套利",
			zap.String("token", token),
			zap.String("id", pos.ID),
			zap.String("venue_long", pos.LongVenue()),
			zap.String("venue_short", pos.ShortVenue()),
			zap.Stringer("spread", opp.Spread),
			zap.Stringer("trade_pnl_pct", pnl),
			zap.Stringer("amount", pos.Amount),
		)
		return &model.EntryDecision{
			Token:       token,
			Opportunity: opp,
			TradePnlPct: pnl,
			Position:    pos,
			Rejections:  rejections,
		}, rejections, nil
	}

	return nil, rejections, nil
}

// open 发出两条腿的开仓请求并激活仓位
// 第二条腿失败时平掉第一条腿，token 保持 Idle。
func (m *Manager) open(ctx context.Context, opp model.Opportunity, pnl decimal.Decimal) (*model.ArbitragePosition, error) {
	token := opp.Token
	pair1 := m.reg.TradingPair(token, opp.Venue1)
	pair2 := m.reg.TradingPair(token, opp.Venue2)

	mid, err := m.market.MidPrice(ctx, opp.Venue1, pair1)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s 中间价: %v", model.ErrDataUnavailable, opp.Venue1, pair1, err)
	}
	if !mid.IsPositive() {
		return nil, fmt.Errorf("%w: %s %s 中间价无效: %s", model.ErrDataUnavailable, opp.Venue1, pair1, mid)
	}
	amount := m.cfg.PositionSizeQuote.Div(mid)

	req1 := model.OpenRequest{
		ClientOrderID: uuid.NewString(),
		Venue:         opp.Venue1,
		TradingPair:   pair1,
		Side:          opp.Side,
		Amount:        amount,
		NotionalQuote: m.cfg.PositionSizeQuote,
		Leverage:      m.cfg.Leverage,
		OrderKind:     model.OrderKindMarket,
	}
	req2 := req1
	req2.ClientOrderID = uuid.NewString()
	req2.Venue = opp.Venue2
	req2.TradingPair = pair2
	req2.Side = opp.Side.Opposite()

	leg1, err := m.exec.OpenPosition(ctx, req1)
	if err != nil {
		m.metrics.ObserveEntryFailure(token)
		return nil, fmt.Errorf("开仓 %s %s 失败: %w", opp.Venue1, pair1, err)
	}
	leg2, err := m.exec.OpenPosition(ctx, req2)
	if err != nil {
		m.metrics.ObserveEntryFailure(token)
		if cerr := m.exec.ClosePosition(ctx, leg1); cerr != nil {
			m.logger.Error("回滚第一条腿失败",
				zap.String("token", token),
				zap.String("leg_id", leg1),
				zap.Error(cerr),
			)
		}
		return nil, fmt.Errorf("开仓 %s %s 失败，已回滚 %s: %w", opp.Venue2, pair2, leg1, err)
	}

	pos := &model.ArbitragePosition{
		ID:               uuid.NewString(),
		Token:            token,
		Venue1:           opp.Venue1,
		Venue2:           opp.Venue2,
		Side:             opp.Side,
		LegIDs:           [2]string{leg1, leg2},
		Amount:           amount,
		NotionalQuote:    m.cfg.PositionSizeQuote,
		EntrySpread:      opp.Spread,
		EntryTradePnlPct: pnl,
		FundingPayments:  []model.FundingPaymentRecord{},
		OpenedAt:         m.clock.Now(),
	}
	if err := m.store.Open(pos); err != nil {
		m.closeLegs(ctx, token, pos.LegIDs)
		return nil, err
	}
	m.metrics.ObserveEntry(token)
	m.metrics.SetActive(len(m.store.ActiveTokens()))
	return pos.Clone(), nil
}

// EvaluateExit 评估 Active token 的退出
// 先检查止盈，再检查止损；两者同时满足时按止盈处理。未触发时返回 nil 决策。
func (m *Manager) EvaluateExit(ctx context.Context, token string) (*model.ExitDecision, error) {
	pos, ok := m.store.Active(token)
	if !ok {
		return nil, nil
	}

	fundingTotal := pos.FundingTotal()
	legsPnl := decimal.Zero
	for _, legID := range pos.LegIDs {
		pnl, err := m.exec.NetPnL(ctx, legID)
		if err != nil {
			return nil, fmt.Errorf("%w: 腿 %s 净盈亏: %v", model.ErrDataUnavailable, legID, err)
		}
		legsPnl = legsPnl.Add(pnl)
	}
	total := fundingTotal.Add(legsPnl)

	decision := &model.ExitDecision{
		Token:        token,
		FundingTotal: fundingTotal,
		LegsPnl:      legsPnl,
		TotalPnl:     total,
	}

	target := m.cfg.ProfitabilityToTakeProfit.Mul(m.cfg.PositionSizeQuote)
	if total.GreaterThan(target) {
		decision.Reason = model.ExitTakeProfit
		m.logger.Info("达到止盈条件，平仓",
			zap.String("token", token),
			zap.Stringer("funding_total", fundingTotal),
			zap.Stringer("legs_pnl", legsPnl),
			zap.Stringer("total_pnl", total),
			zap.Stringer("target", target),
		)
		return m.exit(ctx, pos, decision)
	}

	spread, err := m.currentSpread(ctx, pos)
	if err != nil {
		return nil, err
	}
	decision.CurrentSpread = &spread

	if spread.LessThan(m.cfg.FundingRateDiffStopLoss) {
		decision.Reason = model.ExitStopLoss
		m.logger.Info("费率差达到止损条件，平仓",
			zap.String("token", token),
			zap.String("venue_long", pos.LongVenue()),
			zap.String("venue_short", pos.ShortVenue()),
			zap.Stringer("current_spread", spread),
			zap.Stringer("stop_loss", m.cfg.FundingRateDiffStopLoss),
			zap.Stringer("total_pnl", total),
		)
		return m.exit(ctx, pos, decision)
	}

	m.logger.Debug("持仓中",
		zap.String("token", token),
		zap.Stringer("total_pnl", total),
		zap.Stringer("current_spread", spread),
	)
	return nil, nil
}

// currentSpread 当前方向敏感的费率差: (空头场所 - 多头场所) × 盈利周期
func (m *Manager) currentSpread(ctx context.Context, pos *model.ArbitragePosition) (decimal.Decimal, error) {
	longVenue, shortVenue := pos.LongVenue(), pos.ShortVenue()

	longSnap, err := m.market.FundingRate(ctx, longVenue, m.reg.TradingPair(pos.Token, longVenue))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s 资金费率: %v", model.ErrDataUnavailable, longVenue, err)
	}
	shortSnap, err := m.market.FundingRate(ctx, shortVenue, m.reg.TradingPair(pos.Token, shortVenue))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s 资金费率: %v", model.ErrDataUnavailable, shortVenue, err)
	}
	return m.reg.DirectionalSpread(longVenue, longSnap.Rate, shortVenue, shortSnap.Rate), nil
}

// exit 平掉两条腿并把仓位移入历史
// 平仓请求失败只记录在决策中，由执行服务负责后续处理。
func (m *Manager) exit(ctx context.Context, pos *model.ArbitragePosition, decision *model.ExitDecision) (*model.ExitDecision, error) {
	decision.CloseErrors = m.closeLegs(ctx, pos.Token, pos.LegIDs)

	closed, err := m.store.Close(pos.Token, decision.Reason, m.clock.Now(), decision.LegsPnl)
	if err != nil {
		return nil, err
	}
	// 判断之后、冻结之前到达的资金费计入最终结果
	decision.Position = closed
	decision.FundingTotal = closed.FundingTotal()
	decision.TotalPnl = closed.ExitTotalPnl

	m.metrics.ObserveExit(pos.Token, string(decision.Reason))
	m.metrics.SetActive(len(m.store.ActiveTokens()))
	return decision, nil
}

func (m *Manager) closeLegs(ctx context.Context, token string, legIDs [2]string) []string {
	var errs []string
	for _, legID := range legIDs {
		if err := m.exec.ClosePosition(ctx, legID); err != nil {
			m.logger.Error("平仓请求失败",
				zap.String("token", token),
				zap.String("leg_id", legID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", legID, err))
		}
	}
	return errs
}

// errorKind 错误分类（用于指标与报告）
func errorKind(err error) string {
	switch {
	case errors.Is(err, model.ErrDataUnavailable):
		return "data_unavailable"
	case errors.Is(err, model.ErrInconsistentState):
		return "inconsistent_state"
	case errors.Is(err, errPanic):
		return "panic"
	default:
		return "other"
	}
}
