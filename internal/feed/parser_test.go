// Package feed 资金费消息解析器测试
package feed

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

func TestParser_Single(t *testing.T) {
	p := NewParser([]string{"WIF", "FET"})

	events, err := p.Parse([]byte(`{"e":"fundingPayment","s":"wif-usdt","v":"binance_perpetual","a":"-0.0123","T":1714521600000}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("事件数 = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.TradingPair != "WIF-USDT" || ev.Venue != "binance_perpetual" {
		t.Fatalf("事件字段错误: %+v", ev)
	}
	if !ev.Amount.Equal(decimal.RequireFromString("-0.0123")) {
		t.Fatalf("Amount = %s", ev.Amount)
	}
	if ev.Timestamp.UnixMilli() != 1714521600000 {
		t.Fatalf("Timestamp = %v", ev.Timestamp)
	}
}

func TestParser_ArrayAndFilter(t *testing.T) {
	p := NewParser([]string{"WIF"})
	data := `[
		{"e":"fundingPayment","s":"WIF-USD","a":"1","T":1},
		{"e":"fundingPayment","s":"BTC-USDT","a":"2","T":2},
		{"e":"subscribed","s":"WIF-USD"}
	]`
	events, err := p.Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 1 || events[0].TradingPair != "WIF-USD" {
		t.Fatalf("events = %+v", events)
	}
}

func TestParser_Errors(t *testing.T) {
	p := NewParser(nil)
	if _, err := p.Parse([]byte(`{not json`)); err == nil {
		t.Fatalf("非法 JSON 应返回错误")
	}
	if _, err := p.Parse([]byte(`{"e":"fundingPayment","a":"1"}`)); err == nil {
		t.Fatalf("缺少交易对应返回错误")
	}
	if _, err := p.Parse([]byte(`{"e":"fundingPayment","s":"WIF-USDT","a":"abc"}`)); err == nil {
		t.Fatalf("非法金额应返回错误")
	}
	events, err := p.Parse([]byte(`{"result":null,"id":1}`))
	if err != nil || len(events) != 0 {
		t.Fatalf("订阅回执应忽略: events=%v err=%v", events, err)
	}
	if events, _ := p.Parse([]byte("  ")); events != nil {
		t.Fatalf("空消息应忽略")
	}
}

// **Feature: funding-rate-arbitrage, Property 6: Funding Message Round Trip**

func TestParser_RoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	p := NewParser(nil)

	properties.Property("解析保留金额、交易对与时间", prop.ForAll(
		func(amount float64, ts int64, token string) bool {
			msg := FundingPaymentMessage{
				EventType:   EventFundingPayment,
				TradingPair: token + "-USDT",
				Amount:      decimal.NewFromFloat(amount),
				TimestampMs: ts,
			}
			data, err := json.Marshal(msg)
			if err != nil {
				return false
			}
			events, err := p.Parse(data)
			if err != nil || len(events) != 1 {
				return false
			}
			ev := events[0]
			return ev.Amount.Equal(msg.Amount) &&
				ev.TradingPair == msg.TradingPair &&
				ev.Timestamp.UnixMilli() == ts
		},
		gen.Float64Range(-1000, 1000),
		gen.Int64Range(0, 4102444800000),
		gen.OneConstOf("WIF", "FET", "BTC"),
	))

	properties.TestingRun(t)
}
