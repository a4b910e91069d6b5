// Package feed 解析执行服务推送的资金费支付消息。
// websocket 与 NATS 两种推送源共用同一消息格式：
//
//	{"e":"fundingPayment","s":"WIF-USDT","v":"binance_perpetual","a":"-0.0123","T":1714521600000}
package feed

import "github.com/shopspring/decimal"

// EventFundingPayment 资金费支付事件类型
const EventFundingPayment = "fundingPayment"

// FundingPaymentMessage 资金费支付推送消息
type FundingPaymentMessage struct {
	// EventType 事件类型，固定为 fundingPayment
	EventType string `json:"e"`
	// TradingPair 交易对，如 WIF-USDT
	TradingPair string `json:"s"`
	// Venue 场所（可选）
	Venue string `json:"v,omitempty"`
	// Amount 支付金额（字符串形式的十进制数）
	Amount decimal.Decimal `json:"a"`
	// TimestampMs 结算时间（毫秒）
	TimestampMs int64 `json:"T"`
}

// SubscribeRequest websocket 订阅请求
type SubscribeRequest struct {
	// Method 请求方法: SUBSCRIBE
	Method string `json:"method"`
	// Params 订阅的频道
	Params []string `json:"params"`
	// ID 请求 ID
	ID int `json:"id"`
}
