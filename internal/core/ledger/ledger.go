// Package ledger 把执行服务推送的资金费支付事件记入对应 token 的活跃套利仓位。
// 没有活跃仓位的事件（例如平仓之后迟到的结算）直接丢弃，不视为错误。
package ledger

import (
	"context"

	"go.uber.org/zap"

	"funding-rate-arbitrage/internal/core/model"
	"funding-rate-arbitrage/internal/core/rate"
	"funding-rate-arbitrage/internal/core/store"
	"funding-rate-arbitrage/internal/observability"
)

// Ledger 资金费累计账本
type Ledger struct {
	store   *store.Store
	logger  *zap.Logger
	metrics *observability.Metrics
}

// New 创建账本
// 参数 metrics: 可为 nil
func New(st *store.Store, logger *zap.Logger, metrics *observability.Metrics) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:   st,
		logger:  logger.Named("ledger"),
		metrics: metrics,
	}
}

// Record 记录一次资金费支付
// 返回是否追加到了活跃仓位。
func (l *Ledger) Record(ev model.FundingPaymentEvent) bool {
	token := rate.TokenFromPair(ev.TradingPair)
	if token == "" {
		l.logger.Debug("资金费事件缺少交易对，丢弃", zap.Stringer("amount", ev.Amount))
		l.metrics.ObserveFunding(token, false)
		return false
	}

	applied := l.store.AppendFunding(model.FundingPaymentRecord{
		Token:     token,
		Venue:     ev.Venue,
		Amount:    ev.Amount,
		Timestamp: ev.Timestamp,
	})
	l.metrics.ObserveFunding(token, applied)

	if !applied {
		l.logger.Debug("无活跃套利，丢弃资金费事件",
			zap.String("token", token),
			zap.String("trading_pair", ev.TradingPair),
			zap.String("venue", ev.Venue),
			zap.Stringer("amount", ev.Amount),
		)
		return false
	}

	l.logger.Info("资金费已记入",
		zap.String("token", token),
		zap.String("venue", ev.Venue),
		zap.Stringer("amount", ev.Amount),
		zap.Time("timestamp", ev.Timestamp),
	)
	return true
}

// Run 持续消费事件直到 ctx 取消或通道关闭
func (l *Ledger) Run(ctx context.Context, events <-chan model.FundingPaymentEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			l.Record(ev)
		}
	}
}
