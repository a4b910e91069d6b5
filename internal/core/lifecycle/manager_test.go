package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funding-rate-arbitrage/internal/core/ledger"
	"funding-rate-arbitrage/internal/core/model"
	"funding-rate-arbitrage/internal/core/port/porttest"
	"funding-rate-arbitrage/internal/core/rate"
	"funding-rate-arbitrage/internal/core/store"
	"funding-rate-arbitrage/internal/util/timeutil"
)

const (
	binance = "binance_perpetual"
	hyper   = "hyperliquid_perpetual"
)

var start = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	mgr    *Manager
	market *porttest.Market
	exec   *porttest.Execution
	store  *store.Store
	ledger *ledger.Ledger
	clock  *timeutil.ManualClock
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func baseConfig() Config {
	return Config{
		Tokens:                      []string{"WIF"},
		Leverage:                    20,
		MinFundingRateProfitability: dec("0.001"),
		PositionSizeQuote:           dec("100"),
		ProfitabilityToTakeProfit:   dec("0.01"),
		FundingRateDiffStopLoss:     dec("-0.001"),
		FeeMode:                     model.FeeModeTaker,
	}
}

func newRegistry(t *testing.T) *rate.Registry {
	t.Helper()
	reg, err := rate.NewRegistry([]model.VenueSpec{
		{Name: binance, QuoteCurrency: "USDT", FundingIntervalSec: 28800, PositionMode: model.PositionModeHedge},
		{Name: hyper, QuoteCurrency: "USD", FundingIntervalSec: 3600, PositionMode: model.PositionModeOneWay},
	}, 0)
	require.NoError(t, err)
	return reg
}

// newHarness 两个场所、零手续费、价格 100；binance 0.01%/8h，hyperliquid 0.03%/1h
func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	reg := newRegistry(t)

	market := porttest.NewMarket()
	exec := porttest.NewExecution()
	for _, token := range cfg.Tokens {
		market.SetRate(binance, token+"-USDT", "0.0001", start.Add(8*time.Hour).Unix())
		market.SetRate(hyper, token+"-USD", "0.0003", start.Add(time.Hour).Unix())
		market.SetPrice(binance, token+"-USDT", "100")
		market.SetPrice(hyper, token+"-USD", "100")
	}
	for _, v := range []string{binance, hyper} {
		exec.SetFee(v, false, "0")
		exec.SetFee(v, true, "0")
	}

	st := store.New()
	clock := timeutil.NewManualClock(start)
	mgr, err := NewManager(cfg, reg, market, exec, st, WithClock(clock))
	require.NoError(t, err)

	return &harness{
		mgr:    mgr,
		market: market,
		exec:   exec,
		store:  st,
		ledger: ledger.New(st, nil, nil),
		clock:  clock,
	}
}

func (h *harness) fund(token, amount string) {
	h.ledger.Record(model.FundingPaymentEvent{
		TradingPair: token + "-USDT",
		Amount:      dec(amount),
		Timestamp:   h.clock.Now(),
	})
}

func (h *harness) setLegsPnl(t *testing.T, token, pnl1, pnl2 string) {
	t.Helper()
	pos, ok := h.store.Active(token)
	require.True(t, ok)
	h.exec.SetPnL(pos.LegIDs[0], pnl1)
	h.exec.SetPnL(pos.LegIDs[1], pnl2)
}

// 场景 1：0.01%/8h 与 0.03%/1h，24h 费率差 0.0069 > 0.001，开出两条方向相反、名义价值相同的腿
func TestScenario_EntryAccepted(t *testing.T) {
	h := newHarness(t, baseConfig())

	opps, err := h.mgr.Opportunities(context.Background(), "WIF")
	require.NoError(t, err)
	require.Len(t, opps, 2)
	assert.True(t, opps[0].Spread.Equal(dec("0.0069")), "spread=%s", opps[0].Spread)
	assert.Equal(t, binance, opps[0].LongVenue())
	assert.Equal(t, hyper, opps[0].ShortVenue())

	report := h.mgr.RunCycle(context.Background())
	require.Len(t, report.Tokens, 1)
	require.NoError(t, report.Tokens[0].Err)

	entry := report.Tokens[0].Entry
	require.NotNil(t, entry)
	assert.Equal(t, binance, entry.Position.LongVenue())
	assert.Equal(t, hyper, entry.Position.ShortVenue())
	assert.True(t, entry.Position.OpenedAt.Equal(start))
	assert.Empty(t, entry.Position.FundingPayments)

	legs := h.exec.Opened()
	require.Len(t, legs, 2)
	assert.Equal(t, model.SideBuy, legs[0].Req.Side)
	assert.Equal(t, model.SideSell, legs[1].Req.Side)
	assert.Equal(t, binance, legs[0].Req.Venue)
	assert.Equal(t, "WIF-USDT", legs[0].Req.TradingPair)
	assert.Equal(t, hyper, legs[1].Req.Venue)
	assert.Equal(t, "WIF-USD", legs[1].Req.TradingPair)
	assert.True(t, legs[0].Req.NotionalQuote.Equal(legs[1].Req.NotionalQuote))
	assert.True(t, legs[0].Req.Amount.Equal(legs[1].Req.Amount))
	assert.True(t, legs[0].Req.Amount.Equal(dec("1")))
	assert.Equal(t, 20, legs[0].Req.Leverage)
	assert.Equal(t, model.OrderKindMarket, legs[1].Req.OrderKind)
	assert.NotEqual(t, legs[0].Req.ClientOrderID, legs[1].Req.ClientOrderID)

	assert.True(t, h.store.IsActive("WIF"))

	// Active 期间不再入场
	report = h.mgr.RunCycle(context.Background())
	assert.Nil(t, report.Tokens[0].Entry)
	assert.True(t, report.Tokens[0].WasActive)
	assert.Len(t, h.exec.Opened(), 2)
}

// 场景 2：开启成交盈亏门槛，第一候选扣费后 -0.002 被拒，转而评估下一候选
func TestScenario_NegativeTradePnlFallsThrough(t *testing.T) {
	cfg := baseConfig()
	cfg.TradeProfitabilityConditionToEnter = true
	cfg.FeeMode = model.FeeModeMixed
	h := newHarness(t, cfg)

	h.exec.SetFee(binance, false, "0.001")
	h.exec.SetFee(hyper, true, "0.001")
	h.exec.SetFee(hyper, false, "0")
	h.exec.SetFee(binance, true, "-0.0005")

	entry, rejections, err := h.mgr.EvaluateEntry(context.Background(), "WIF")
	require.NoError(t, err)

	require.Len(t, rejections, 1)
	assert.Equal(t, model.RejectNegativeTradePnl, rejections[0].Reason)
	assert.Equal(t, binance, rejections[0].Opportunity.Venue1)
	require.NotNil(t, rejections[0].TradePnlPct)
	assert.True(t, rejections[0].TradePnlPct.Equal(dec("-0.002")), "pnl=%s", rejections[0].TradePnlPct)

	require.NotNil(t, entry)
	assert.Equal(t, hyper, entry.Opportunity.Venue1)
	assert.Equal(t, model.SideSell, entry.Opportunity.Side)
	assert.True(t, entry.TradePnlPct.Equal(dec("0.0005")), "pnl=%s", entry.TradePnlPct)
	assert.Equal(t, binance, entry.Position.LongVenue())
	assert.Equal(t, [2]string{"leg-1", "leg-2"}, entry.Position.LegIDs)
}

func TestEntry_GateDisabledAcceptsNegativePnl(t *testing.T) {
	cfg := baseConfig()
	cfg.FeeMode = model.FeeModeMixed
	h := newHarness(t, cfg)
	h.exec.SetFee(binance, false, "0.001")
	h.exec.SetFee(hyper, true, "0.001")

	entry, rejections, err := h.mgr.EvaluateEntry(context.Background(), "WIF")
	require.NoError(t, err)
	assert.Empty(t, rejections)
	require.NotNil(t, entry)
	assert.Equal(t, binance, entry.Opportunity.Venue1)
	assert.True(t, entry.TradePnlPct.Equal(dec("-0.002")))
}

func TestEntry_BelowThresholdStaysIdle(t *testing.T) {
	cfg := baseConfig()
	cfg.MinFundingRateProfitability = dec("0.01")
	h := newHarness(t, cfg)

	report := h.mgr.RunCycle(context.Background())
	rep := report.Tokens[0]
	require.NoError(t, rep.Err)
	assert.Nil(t, rep.Entry)
	require.Len(t, rep.Rejections, 2)
	for _, r := range rep.Rejections {
		assert.Equal(t, model.RejectBelowMinSpread, r.Reason)
	}
	assert.False(t, h.store.IsActive("WIF"))
	assert.Empty(t, h.exec.Opened())
}

func TestEntry_ThresholdBoundaries(t *testing.T) {
	// 场景 1 的费率差恰为 0.0069
	tests := []struct {
		name      string
		minSpread string
		wantEntry bool
	}{
		{"exactly at threshold", "0.0069", true},
		{"threshold just above spread", "0.00690001", false},
		{"threshold just below spread", "0.00689999", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.MinFundingRateProfitability = dec(tt.minSpread)
			h := newHarness(t, cfg)

			entry, rejections, err := h.mgr.EvaluateEntry(context.Background(), "WIF")
			require.NoError(t, err)
			if tt.wantEntry {
				require.NotNil(t, entry)
				assert.True(t, entry.Opportunity.Spread.Equal(dec("0.0069")), "spread=%s", entry.Opportunity.Spread)
				assert.Empty(t, rejections)
				return
			}
			assert.Nil(t, entry)
			require.Len(t, rejections, 2)
			for _, r := range rejections {
				assert.Equal(t, model.RejectBelowMinSpread, r.Reason)
			}
			assert.Empty(t, h.exec.Opened())
		})
	}
}

func TestEntry_EstimateUnavailableSkipsPair(t *testing.T) {
	cfg := baseConfig()
	cfg.FeeMode = model.FeeModeMixed
	h := newHarness(t, cfg)

	// 缺少 binance taker 报价：第一候选（binance taker）不可估算，第二候选（hyperliquid taker + binance maker）可以
	exec := porttest.NewExecution()
	exec.SetFee(hyper, false, "0")
	exec.SetFee(hyper, true, "0")
	exec.SetFee(binance, true, "0")

	mgr, err := NewManager(cfg, newRegistry(t), h.market, exec, h.store, WithClock(h.clock))
	require.NoError(t, err)

	entry, rejections, err := mgr.EvaluateEntry(context.Background(), "WIF")
	require.NoError(t, err)
	require.Len(t, rejections, 1)
	assert.Equal(t, model.RejectEstimateUnavailable, rejections[0].Reason)
	assert.Equal(t, binance, rejections[0].Opportunity.Venue1)
	require.NotNil(t, entry)
	assert.Equal(t, hyper, entry.Opportunity.Venue1)
}

func TestEntry_SecondLegFailureRollsBack(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.exec.OpenErr[hyper] = errors.New("insufficient margin")

	report := h.mgr.RunCycle(context.Background())
	rep := report.Tokens[0]
	require.Error(t, rep.Err)
	assert.Equal(t, "other", rep.ErrKind)
	assert.Nil(t, rep.Entry)
	assert.False(t, h.store.IsActive("WIF"))

	legs := h.exec.Opened()
	require.Len(t, legs, 1)
	assert.True(t, legs[0].Closed)
	assert.Equal(t, []string{legs[0].ID}, h.exec.Closes())

	// 下个周期恢复后正常入场
	delete(h.exec.OpenErr, hyper)
	report = h.mgr.RunCycle(context.Background())
	require.NoError(t, report.Tokens[0].Err)
	assert.NotNil(t, report.Tokens[0].Entry)
}

// 场景 3：资金费 40 + 两腿 70 = 110 > 0.1 × 1000，止盈退出
func TestScenario_TakeProfit(t *testing.T) {
	cfg := baseConfig()
	cfg.PositionSizeQuote = dec("1000")
	cfg.ProfitabilityToTakeProfit = dec("0.1")
	h := newHarness(t, cfg)

	report := h.mgr.RunCycle(context.Background())
	require.NotNil(t, report.Tokens[0].Entry)

	h.fund("WIF", "25")
	h.fund("WIF", "15")
	h.setLegsPnl(t, "WIF", "30", "40")
	h.clock.Advance(6 * time.Hour)

	report = h.mgr.RunCycle(context.Background())
	rep := report.Tokens[0]
	require.NoError(t, rep.Err)
	require.NotNil(t, rep.Exit)

	exit := rep.Exit
	assert.Equal(t, model.ExitTakeProfit, exit.Reason)
	assert.True(t, exit.FundingTotal.Equal(dec("40")))
	assert.True(t, exit.LegsPnl.Equal(dec("70")))
	assert.True(t, exit.TotalPnl.Equal(dec("110")))
	assert.Nil(t, exit.CurrentSpread)
	assert.Empty(t, exit.CloseErrors)

	assert.ElementsMatch(t, []string{"leg-1", "leg-2"}, h.exec.Closes())
	assert.False(t, h.store.IsActive("WIF"))

	history := h.store.History("WIF")
	require.Len(t, history, 1)
	assert.Equal(t, model.ExitTakeProfit, history[0].ExitReason)
	assert.Len(t, history[0].FundingPayments, 2)
	assert.Equal(t, 6*time.Hour, history[0].HoldDuration(h.clock.Now()))

	// 平仓后迟到的资金费被丢弃，历史不变
	h.fund("WIF", "5")
	assert.Len(t, h.store.History("WIF")[0].FundingPayments, 2)
}

func TestTakeProfit_Boundaries(t *testing.T) {
	tests := []struct {
		name     string
		legPnl   string
		wantExit bool
	}{
		{"exactly at threshold", "60", false},
		{"just above", "60.01", true},
		{"just below", "59.99", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.PositionSizeQuote = dec("1000")
			cfg.ProfitabilityToTakeProfit = dec("0.1")
			h := newHarness(t, cfg)
			h.mgr.RunCycle(context.Background())

			h.fund("WIF", "40")
			h.setLegsPnl(t, "WIF", tt.legPnl, "0")

			exit, err := h.mgr.EvaluateExit(context.Background(), "WIF")
			require.NoError(t, err)
			if tt.wantExit {
				require.NotNil(t, exit)
				assert.Equal(t, model.ExitTakeProfit, exit.Reason)
			} else {
				assert.Nil(t, exit)
				assert.True(t, h.store.IsActive("WIF"))
			}
		})
	}
}

func TestTakeProfit_WinsOverStopLoss(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.mgr.RunCycle(context.Background())

	// 两个条件同时满足
	h.market.SetRate(hyper, "WIF-USD", "-0.001", 0)
	h.setLegsPnl(t, "WIF", "5", "0")

	exit, err := h.mgr.EvaluateExit(context.Background(), "WIF")
	require.NoError(t, err)
	require.NotNil(t, exit)
	assert.Equal(t, model.ExitTakeProfit, exit.Reason)
}

// 多 binance、空 hyperliquid：hyperliquid 费率转负后止损
func TestStopLoss_LongVenue1(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.mgr.RunCycle(context.Background())

	pos, _ := h.store.Active("WIF")
	require.Equal(t, model.SideBuy, pos.Side)

	// (-0.0024 - 0.0003) = -0.0027 < -0.001
	h.market.SetRate(hyper, "WIF-USD", "-0.0001", 0)

	exit, err := h.mgr.EvaluateExit(context.Background(), "WIF")
	require.NoError(t, err)
	require.NotNil(t, exit)
	assert.Equal(t, model.ExitStopLoss, exit.Reason)
	require.NotNil(t, exit.CurrentSpread)
	assert.True(t, exit.CurrentSpread.Equal(dec("-0.0027")), "spread=%s", exit.CurrentSpread)
	assert.False(t, h.store.IsActive("WIF"))
	assert.Equal(t, model.ExitStopLoss, h.store.History("WIF")[0].ExitReason)
}

// 空 binance、多 hyperliquid：方向相反时同样按「空头 - 多头」计算
func TestStopLoss_ShortVenue1(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.market.SetRate(binance, "WIF-USDT", "0.003", 0)
	h.market.SetRate(hyper, "WIF-USD", "0.0001", 0)
	h.mgr.RunCycle(context.Background())

	pos, ok := h.store.Active("WIF")
	require.True(t, ok)
	require.Equal(t, binance, pos.Venue1)
	require.Equal(t, model.SideSell, pos.Side)
	require.Equal(t, hyper, pos.LongVenue())

	// 费率差收敛到 0：不止损
	h.market.SetRate(binance, "WIF-USDT", "0.0008", 0)
	exit, err := h.mgr.EvaluateExit(context.Background(), "WIF")
	require.NoError(t, err)
	assert.Nil(t, exit)

	// 反转：(0 - 0.0024) = -0.0024 < -0.001
	h.market.SetRate(binance, "WIF-USDT", "0", 0)
	exit, err = h.mgr.EvaluateExit(context.Background(), "WIF")
	require.NoError(t, err)
	require.NotNil(t, exit)
	assert.Equal(t, model.ExitStopLoss, exit.Reason)
	assert.True(t, exit.CurrentSpread.IsNegative())
}

func TestStopLoss_Boundaries(t *testing.T) {
	tests := []struct {
		name     string
		shortV1  bool
		stopLoss string
		wantExit bool
	}{
		// 多 binance、空 hyperliquid：当前费率差 -0.0024 - 0.0003 = -0.0027
		{"long venue1 exactly at stop-loss", false, "-0.0027", false},
		{"long venue1 spread just below stop-loss", false, "-0.00269999", true},
		{"long venue1 spread just above stop-loss", false, "-0.00270001", false},
		// 空 binance、多 hyperliquid：当前费率差 0 - 0.0024 = -0.0024
		{"short venue1 exactly at stop-loss", true, "-0.0024", false},
		{"short venue1 spread just below stop-loss", true, "-0.00239999", true},
		{"short venue1 spread just above stop-loss", true, "-0.00240001", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.FundingRateDiffStopLoss = dec(tt.stopLoss)
			h := newHarness(t, cfg)
			if tt.shortV1 {
				h.market.SetRate(binance, "WIF-USDT", "0.003", 0)
				h.market.SetRate(hyper, "WIF-USD", "0.0001", 0)
			}
			h.mgr.RunCycle(context.Background())
			pos, ok := h.store.Active("WIF")
			require.True(t, ok)

			want := dec("-0.0027")
			if tt.shortV1 {
				require.Equal(t, model.SideSell, pos.Side)
				h.market.SetRate(binance, "WIF-USDT", "0", 0)
				want = dec("-0.0024")
			} else {
				require.Equal(t, model.SideBuy, pos.Side)
				h.market.SetRate(hyper, "WIF-USD", "-0.0001", 0)
			}

			exit, err := h.mgr.EvaluateExit(context.Background(), "WIF")
			require.NoError(t, err)
			if !tt.wantExit {
				assert.Nil(t, exit)
				assert.True(t, h.store.IsActive("WIF"))
				return
			}
			require.NotNil(t, exit)
			assert.Equal(t, model.ExitStopLoss, exit.Reason)
			require.NotNil(t, exit.CurrentSpread)
			assert.True(t, exit.CurrentSpread.Equal(want), "spread=%s", exit.CurrentSpread)
		})
	}
}

// fundingOnClose 平仓请求期间到达一笔资金费
type fundingOnClose struct {
	*porttest.Execution
	onClose func()
}

func (f fundingOnClose) ClosePosition(ctx context.Context, legID string) error {
	if f.onClose != nil {
		f.onClose()
	}
	return f.Execution.ClosePosition(ctx, legID)
}

func TestExit_LateFundingCountedInTotal(t *testing.T) {
	cfg := baseConfig()
	cfg.PositionSizeQuote = dec("1000")
	cfg.ProfitabilityToTakeProfit = dec("0.1")
	h := newHarness(t, cfg)

	var once sync.Once
	exec := fundingOnClose{
		Execution: h.exec,
		onClose:   func() { once.Do(func() { h.fund("WIF", "5") }) },
	}
	mgr, err := NewManager(cfg, newRegistry(t), h.market, exec, h.store, WithClock(h.clock))
	require.NoError(t, err)
	mgr.RunCycle(context.Background())

	h.fund("WIF", "40")
	h.setLegsPnl(t, "WIF", "70", "0")

	exit, err := mgr.EvaluateExit(context.Background(), "WIF")
	require.NoError(t, err)
	require.NotNil(t, exit)
	assert.Equal(t, model.ExitTakeProfit, exit.Reason)
	assert.True(t, exit.FundingTotal.Equal(dec("45")), "funding=%s", exit.FundingTotal)
	assert.True(t, exit.TotalPnl.Equal(dec("115")), "total=%s", exit.TotalPnl)

	history := h.store.History("WIF")
	require.Len(t, history, 1)
	assert.Len(t, history[0].FundingPayments, 2)
	assert.True(t, history[0].ExitTotalPnl.Equal(exit.TotalPnl))
	assert.True(t, history[0].FundingTotal().Add(exit.LegsPnl).Equal(history[0].ExitTotalPnl))
}

func TestExit_NetPnlUnavailableSkipsToken(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.mgr.RunCycle(context.Background())
	h.exec.PnlErr["leg-2"] = errors.New("timeout")

	report := h.mgr.RunCycle(context.Background())
	rep := report.Tokens[0]
	require.Error(t, rep.Err)
	assert.True(t, errors.Is(rep.Err, model.ErrDataUnavailable))
	assert.Equal(t, "data_unavailable", rep.ErrKind)
	assert.True(t, h.store.IsActive("WIF"))
}

func TestExit_RatesUnavailable(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.mgr.RunCycle(context.Background())
	h.market.RateErr[hyper] = errors.New("stale")

	// 止盈未触发时需要费率判断止损
	_, err := h.mgr.EvaluateExit(context.Background(), "WIF")
	require.ErrorIs(t, err, model.ErrDataUnavailable)
	assert.True(t, h.store.IsActive("WIF"))

	// 止盈不依赖费率
	h.setLegsPnl(t, "WIF", "2", "0")
	exit, err := h.mgr.EvaluateExit(context.Background(), "WIF")
	require.NoError(t, err)
	require.NotNil(t, exit)
	assert.Equal(t, model.ExitTakeProfit, exit.Reason)
}

func TestExit_CloseFailureStillMovesToHistory(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.mgr.RunCycle(context.Background())
	h.exec.CloseErr["leg-1"] = errors.New("venue down")
	h.setLegsPnl(t, "WIF", "2", "0")

	exit, err := h.mgr.EvaluateExit(context.Background(), "WIF")
	require.NoError(t, err)
	require.NotNil(t, exit)
	require.Len(t, exit.CloseErrors, 1)
	assert.True(t, strings.HasPrefix(exit.CloseErrors[0], "leg-1"))
	assert.Equal(t, []string{"leg-1", "leg-2"}, h.exec.Closes())
	assert.False(t, h.store.IsActive("WIF"))
	assert.Len(t, h.store.History("WIF"), 1)
}

// flakyMarket 对指定 token 的费率查询触发 panic，对指定交易对返回错误
type flakyMarket struct {
	*porttest.Market
	panicToken string
	failPair   string
}

func (f flakyMarket) FundingRate(ctx context.Context, venue, pair string) (model.FundingRateSnapshot, error) {
	if rate.TokenFromPair(pair) == f.panicToken {
		panic("boom")
	}
	if pair == f.failPair {
		return model.FundingRateSnapshot{}, errors.New("no data")
	}
	return f.Market.FundingRate(ctx, venue, pair)
}

func TestRunCycle_TokenIsolation(t *testing.T) {
	cfg := baseConfig()
	cfg.Tokens = []string{"BAD", "WIF", "FET"}
	h := newHarness(t, cfg)

	// BAD panic；FET 只剩 binance 一个场所
	market := flakyMarket{Market: h.market, panicToken: "BAD", failPair: "FET-USD"}
	mgr, err := NewManager(cfg, newRegistry(t), market, h.exec, h.store, WithClock(h.clock))
	require.NoError(t, err)

	report := mgr.RunCycle(context.Background())
	require.Len(t, report.Tokens, 3)

	bad := report.Tokens[0]
	assert.Equal(t, "BAD", bad.Token)
	require.Error(t, bad.Err)
	assert.Equal(t, "panic", bad.ErrKind)

	wif := report.Tokens[1]
	require.NoError(t, wif.Err)
	assert.NotNil(t, wif.Entry)

	fet := report.Tokens[2]
	require.Error(t, fet.Err)
	assert.True(t, errors.Is(fet.Err, model.ErrDataUnavailable))
	assert.Equal(t, "data_unavailable", fet.ErrKind)

	assert.Equal(t, 2, report.Errors())
	assert.Equal(t, []string{"WIF"}, h.store.ActiveTokens())

	// 下一个周期仍正常运行
	report = mgr.RunCycle(context.Background())
	assert.True(t, report.Tokens[1].WasActive)
	assert.Equal(t, 2, report.Errors())
}

func TestPrepare(t *testing.T) {
	cfg := baseConfig()
	cfg.Tokens = []string{"WIF", "FET"}
	h := newHarness(t, cfg)

	require.NoError(t, h.mgr.Prepare(context.Background()))
	assert.Equal(t, model.PositionModeHedge, h.exec.Modes[binance])
	assert.Equal(t, model.PositionModeOneWay, h.exec.Modes[hyper])
	assert.Equal(t, 20, h.exec.Leverage[binance+"|WIF-USDT"])
	assert.Equal(t, 20, h.exec.Leverage[hyper+"|FET-USD"])
	assert.Len(t, h.exec.Leverage, 4)
}

func TestNewManager_ConfigErrors(t *testing.T) {
	reg := newRegistry(t)
	one, err := rate.NewRegistry([]model.VenueSpec{{Name: binance}}, 0)
	require.NoError(t, err)

	noTokens := baseConfig()
	noTokens.Tokens = nil
	badFee := baseConfig()
	badFee.FeeMode = "vip"
	zeroSize := baseConfig()
	zeroSize.PositionSizeQuote = decimal.Zero

	cases := []struct {
		name string
		cfg  Config
		reg  *rate.Registry
	}{
		{"empty tokens", noTokens, reg},
		{"single venue", baseConfig(), one},
		{"bad fee mode", badFee, reg},
		{"zero size", zeroSize, reg},
		{"nil registry", baseConfig(), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewManager(tc.cfg, tc.reg, porttest.NewMarket(), porttest.NewExecution(), nil)
			assert.ErrorIs(t, err, model.ErrConfig)
		})
	}
}
