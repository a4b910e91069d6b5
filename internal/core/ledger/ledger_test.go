package ledger

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"funding-rate-arbitrage/internal/core/model"
	"funding-rate-arbitrage/internal/core/store"
)

func openWIF(t *testing.T, st *store.Store) {
	t.Helper()
	err := st.Open(&model.ArbitragePosition{
		ID:     "arb-1",
		Token:  "WIF",
		Venue1: "binance_perpetual",
		Venue2: "hyperliquid_perpetual",
		Side:   model.SideBuy,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
}

func event(pair, amount string) model.FundingPaymentEvent {
	return model.FundingPaymentEvent{
		TradingPair: pair,
		Amount:      decimal.RequireFromString(amount),
		Timestamp:   time.Unix(1700000000, 0),
	}
}

func TestRecord_NoActivePositionDiscarded(t *testing.T) {
	st := store.New()
	l := New(st, nil, nil)

	if l.Record(event("WIF-USDT", "12.5")) {
		t.Fatalf("无活跃仓位时应丢弃")
	}
	if st.IsActive("WIF") || st.HistoryCount() != 0 {
		t.Fatalf("丢弃事件不应修改状态")
	}
}

func TestRecord_AppendsToActive(t *testing.T) {
	st := store.New()
	openWIF(t, st)
	l := New(st, nil, nil)

	if !l.Record(event("WIF-USDT", "12.5")) {
		t.Fatalf("应追加到 WIF")
	}
	if !l.Record(event("WIF-USD", "-2.5")) {
		t.Fatalf("不同计价币的交易对也应归属 WIF")
	}
	if l.Record(event("FET-USDT", "1")) {
		t.Fatalf("FET 无活跃仓位，应丢弃")
	}

	pos, _ := st.Active("WIF")
	if len(pos.FundingPayments) != 2 {
		t.Fatalf("资金费记录数 = %d, want 2", len(pos.FundingPayments))
	}
	if !pos.FundingTotal().Equal(decimal.NewFromInt(10)) {
		t.Fatalf("资金费累计 = %s, want 10", pos.FundingTotal())
	}
	if pos.FundingPayments[0].Token != "WIF" {
		t.Fatalf("记录 token = %s", pos.FundingPayments[0].Token)
	}
}

func TestRun_StopsOnClose(t *testing.T) {
	st := store.New()
	openWIF(t, st)
	l := New(st, nil, nil)

	ch := make(chan model.FundingPaymentEvent, 4)
	ch <- event("WIF-USDT", "1")
	ch <- event("WIF-USDT", "2")
	close(ch)

	done := make(chan struct{})
	go func() {
		l.Run(context.Background(), ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run 未在通道关闭后退出")
	}
	pos, _ := st.Active("WIF")
	if !pos.FundingTotal().Equal(decimal.NewFromInt(3)) {
		t.Fatalf("资金费累计 = %s, want 3", pos.FundingTotal())
	}
}

func TestRecord_Concurrent(t *testing.T) {
	st := store.New()
	openWIF(t, st)
	l := New(st, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(event("WIF-USDT", "1"))
			_, _ = st.Active("WIF")
		}()
	}
	wg.Wait()

	pos, _ := st.Active("WIF")
	if !pos.FundingTotal().Equal(decimal.NewFromInt(100)) {
		t.Fatalf("并发追加丢失: %s", pos.FundingTotal())
	}
}

// **Feature: funding-rate-arbitrage, Property 3: Ledger Only Touches Active Tokens**

func TestRecord_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("事件只追加到活跃 token，其余丢弃且不改变状态", prop.ForAll(
		func(tokens []string) bool {
			st := store.New()
			_ = st.Open(&model.ArbitragePosition{ID: "a", Token: "WIF"})
			l := New(st, nil, nil)

			want := 0
			for _, tok := range tokens {
				applied := l.Record(event(tok+"-USDT", "1"))
				if applied != (tok == "WIF") {
					return false
				}
				if applied {
					want++
				}
			}
			pos, ok := st.Active("WIF")
			if !ok || len(pos.FundingPayments) != want {
				return false
			}
			return len(st.ActiveTokens()) == 1 && st.HistoryCount() == 0
		},
		gen.SliceOf(gen.OneConstOf("WIF", "FET", "BTC"), reflect.TypeOf("")),
	))

	properties.TestingRun(t)
}
