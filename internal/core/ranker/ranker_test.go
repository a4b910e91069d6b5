package ranker

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"funding-rate-arbitrage/internal/core/model"
	"funding-rate-arbitrage/internal/core/rate"
)

func testRegistry(t *testing.T) *rate.Registry {
	t.Helper()
	reg, err := rate.NewRegistry([]model.VenueSpec{
		{Name: "binance_perpetual", QuoteCurrency: "USDT", FundingIntervalSec: 28800},
		{Name: "hyperliquid_perpetual", QuoteCurrency: "USD", FundingIntervalSec: 3600},
		{Name: "okx_perpetual", QuoteCurrency: "USDT", FundingIntervalSec: 28800},
	}, 0)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func snap(venue, r string) model.FundingRateSnapshot {
	return model.FundingRateSnapshot{Venue: venue, TradingPair: "WIF-USDT", Rate: decimal.RequireFromString(r)}
}

func TestRank_TwoVenues(t *testing.T) {
	reg := testRegistry(t)

	opps := Rank(reg, "WIF", []model.FundingRateSnapshot{
		snap("binance_perpetual", "0.0001"),
		snap("hyperliquid_perpetual", "0.0003"),
	})
	if len(opps) != 2 {
		t.Fatalf("机会数量 = %d, want 2", len(opps))
	}

	want := decimal.RequireFromString("0.0069")
	for _, o := range opps {
		if !o.Spread.Equal(want) {
			t.Fatalf("spread = %s, want 0.0069", o.Spread)
		}
		if o.LongVenue() != "binance_perpetual" || o.ShortVenue() != "hyperliquid_perpetual" {
			t.Fatalf("方向错误: long=%s short=%s", o.LongVenue(), o.ShortVenue())
		}
	}

	// 同分时保持发现顺序：(binance, hyperliquid) 先于 (hyperliquid, binance)
	if opps[0].Venue1 != "binance_perpetual" || opps[0].Side != model.SideBuy {
		t.Fatalf("第一个机会 = %+v, want binance 买入", opps[0])
	}
	if opps[1].Venue1 != "hyperliquid_perpetual" || opps[1].Side != model.SideSell {
		t.Fatalf("第二个机会 = %+v, want hyperliquid 卖出", opps[1])
	}
}

func TestRank_SingleVenue(t *testing.T) {
	reg := testRegistry(t)
	if opps := Rank(reg, "WIF", []model.FundingRateSnapshot{snap("binance_perpetual", "0.0001")}); len(opps) != 0 {
		t.Fatalf("单场所应无机会，got %d", len(opps))
	}
	if opps := Rank(reg, "WIF", nil); len(opps) != 0 {
		t.Fatalf("空输入应无机会，got %d", len(opps))
	}
}

func TestRank_EqualRatesDiscarded(t *testing.T) {
	reg := testRegistry(t)
	opps := Rank(reg, "WIF", []model.FundingRateSnapshot{
		snap("binance_perpetual", "0.0001"),
		snap("okx_perpetual", "0.0001"),
	})
	if len(opps) != 0 {
		t.Fatalf("费率相同应无机会，got %d", len(opps))
	}
}

func TestRank_Descending(t *testing.T) {
	reg := testRegistry(t)
	opps := Rank(reg, "FET", []model.FundingRateSnapshot{
		snap("binance_perpetual", "0.0001"),
		snap("hyperliquid_perpetual", "0.0003"),
		snap("okx_perpetual", "-0.0002"),
	})
	if len(opps) != 6 {
		t.Fatalf("机会数量 = %d, want 6", len(opps))
	}
	for i := 1; i < len(opps); i++ {
		if opps[i].Spread.GreaterThan(opps[i-1].Spread) {
			t.Fatalf("未按降序排列: [%d]=%s > [%d]=%s", i, opps[i].Spread, i-1, opps[i-1].Spread)
		}
	}
	// 最大差值在 hyperliquid(0.0072/天) 与 okx(-0.0006/天) 之间
	top := opps[0]
	if top.LongVenue() != "okx_perpetual" || top.ShortVenue() != "hyperliquid_perpetual" {
		t.Fatalf("最优机会 = %+v", top)
	}
	if top.Venue1 != "hyperliquid_perpetual" {
		t.Fatalf("同分时应保持发现顺序, got venue1=%s", top.Venue1)
	}
}

func TestRank_NegativeRates(t *testing.T) {
	reg := testRegistry(t)
	opps := Rank(reg, "WIF", []model.FundingRateSnapshot{
		snap("binance_perpetual", "-0.0003"),
		snap("okx_perpetual", "-0.0001"),
	})
	if len(opps) != 2 {
		t.Fatalf("机会数量 = %d, want 2", len(opps))
	}
	if opps[0].LongVenue() != "binance_perpetual" {
		t.Fatalf("应在费率更低的 binance 做多, got %s", opps[0].LongVenue())
	}
}

// **Feature: funding-rate-arbitrage, Property 2: Ranking Determinism**

func TestRank_Deterministic_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	reg := testRegistry(t)

	properties.Property("相同输入重复排序结果一致且降序", prop.ForAll(
		func(a, b, c float64) bool {
			snaps := []model.FundingRateSnapshot{
				{Venue: "binance_perpetual", Rate: decimal.NewFromFloat(a)},
				{Venue: "hyperliquid_perpetual", Rate: decimal.NewFromFloat(b)},
				{Venue: "okx_perpetual", Rate: decimal.NewFromFloat(c)},
			}
			first := Rank(reg, "WIF", snaps)
			second := Rank(reg, "WIF", snaps)
			if len(first) != len(second) {
				return false
			}
			for i := range first {
				if first[i].Venue1 != second[i].Venue1 || first[i].Venue2 != second[i].Venue2 ||
					first[i].Side != second[i].Side || !first[i].Spread.Equal(second[i].Spread) {
					return false
				}
				if !first[i].Spread.IsPositive() {
					return false
				}
				if i > 0 && first[i].Spread.GreaterThan(first[i-1].Spread) {
					return false
				}
			}
			return true
		},
		gen.Float64Range(-0.01, 0.01),
		gen.Float64Range(-0.01, 0.01),
		gen.Float64Range(-0.01, 0.01),
	))

	properties.TestingRun(t)
}
