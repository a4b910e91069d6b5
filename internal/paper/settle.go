package paper

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"funding-rate-arbitrage/internal/core/model"
	"funding-rate-arbitrage/internal/util/timeutil"
)

// Settle 对到达结算时间的未平仓腿生成资金费支付
// 多头在费率为正时支付、空头收取：amount = -direction × rate × amount × mid。
// 返回本次生成的事件数；事件通道已满时丢弃并记录日志。
func (e *Executor) Settle(ctx context.Context) int {
	now := e.clock.Now()

	e.mu.Lock()
	open := make([]*Leg, 0, len(e.legs))
	for _, leg := range e.legs {
		if !leg.Closed {
			open = append(open, leg)
		}
	}
	e.mu.Unlock()

	emitted := 0
	for _, leg := range open {
		if ctx.Err() != nil {
			return emitted
		}
		ev, ok := e.settleLeg(ctx, leg, now)
		if !ok {
			continue
		}
		select {
		case e.events <- ev:
			emitted++
		default:
			e.logger.Warn("资金费事件通道已满，丢弃",
				zap.String("leg_id", leg.ID),
				zap.Stringer("amount", ev.Amount),
			)
		}
	}
	return emitted
}

func (e *Executor) settleLeg(ctx context.Context, leg *Leg, now time.Time) (model.FundingPaymentEvent, bool) {
	snap, err := e.market.FundingRate(ctx, leg.Venue, leg.TradingPair)
	if err != nil {
		e.logger.Debug("结算时获取资金费率失败", zap.String("leg_id", leg.ID), zap.Error(err))
		return model.FundingPaymentEvent{}, false
	}

	e.mu.Lock()
	next := leg.nextFundingUnix
	if next == 0 {
		// 首次观测只记录结算时间
		leg.nextFundingUnix = e.followingFunding(leg.Venue, snap.NextFundingUnix, now)
		e.mu.Unlock()
		return model.FundingPaymentEvent{}, false
	}
	if now.Unix() < next || leg.Closed {
		e.mu.Unlock()
		return model.FundingPaymentEvent{}, false
	}
	leg.nextFundingUnix = e.followingFunding(leg.Venue, snap.NextFundingUnix, timeutil.UnixToTime(next))
	amount, side := leg.Amount, leg.Side
	e.mu.Unlock()

	mid, err := e.market.MidPrice(ctx, leg.Venue, leg.TradingPair)
	if err != nil {
		e.logger.Debug("结算时获取中间价失败", zap.String("leg_id", leg.ID), zap.Error(err))
		return model.FundingPaymentEvent{}, false
	}
	payment := snap.Rate.Mul(amount).Mul(mid).Mul(side.Direction()).Neg()

	e.mu.Lock()
	leg.FundingCollected = leg.FundingCollected.Add(payment)
	e.mu.Unlock()

	return model.FundingPaymentEvent{
		Venue:       leg.Venue,
		TradingPair: leg.TradingPair,
		Amount:      payment,
		Timestamp:   timeutil.UnixToTime(next),
	}, true
}

// followingFunding 下一次结算时间：优先使用行情给出的时间，否则按场所周期推算
func (e *Executor) followingFunding(venue string, reported int64, after time.Time) int64 {
	if reported > after.Unix() {
		return reported
	}
	interval := e.reg.IntervalSeconds(venue)
	next := after.Unix() + interval
	return next - next%interval
}

// FundingCollected 所有腿已结算的资金费合计
func (e *Executor) FundingCollected() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := decimal.Zero
	for _, leg := range e.legs {
		total = total.Add(leg.FundingCollected)
	}
	return total
}
