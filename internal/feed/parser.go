package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"funding-rate-arbitrage/internal/core/model"
	"funding-rate-arbitrage/internal/core/rate"
	"funding-rate-arbitrage/internal/util/timeutil"
)

// Parser 资金费支付消息解析器
type Parser struct {
	// tokens 关注的 token（为空时不过滤）
	tokens map[string]struct{}
}

// NewParser 创建解析器
// 参数 tokens: 关注的 token，未配置的 token 的消息被忽略
func NewParser(tokens []string) *Parser {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[strings.ToUpper(t)] = struct{}{}
	}
	return &Parser{tokens: set}
}

// Parse 解析单条消息或消息数组
// 非资金费消息（订阅回执等）返回空切片。
func (p *Parser) Parse(data []byte) ([]model.FundingPaymentEvent, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var msgs []FundingPaymentMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, fmt.Errorf("解析资金费消息失败: %w", err)
		}
	} else {
		var msg FundingPaymentMessage
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return nil, fmt.Errorf("解析资金费消息失败: %w", err)
		}
		msgs = []FundingPaymentMessage{msg}
	}

	events := make([]model.FundingPaymentEvent, 0, len(msgs))
	for _, msg := range msgs {
		if msg.EventType != EventFundingPayment {
			continue
		}
		if msg.TradingPair == "" {
			return nil, fmt.Errorf("资金费消息缺少交易对")
		}
		if !p.wants(msg.TradingPair) {
			continue
		}
		events = append(events, model.FundingPaymentEvent{
			Venue:       msg.Venue,
			TradingPair: strings.ToUpper(msg.TradingPair),
			Amount:      msg.Amount,
			Timestamp:   timeutil.MsToTime(msg.TimestampMs),
		})
	}
	return events, nil
}

func (p *Parser) wants(pair string) bool {
	if len(p.tokens) == 0 {
		return true
	}
	_, ok := p.tokens[strings.ToUpper(rate.TokenFromPair(pair))]
	return ok
}
