// Package outcome 统计已平仓套利的结果（滚动窗口）。
// 胜负以退出时的总盈亏（资金费 + 两腿净盈亏）判定，总盈亏 > 0 记为盈利。
package outcome

import (
	"sync"

	"funding-rate-arbitrage/internal/core/model"
)

type sample struct {
	win       bool
	totalPnl  float64
	holdHours float64
	reason    model.ExitReason
}

// OutcomeStats 结果统计快照
type OutcomeStats struct {
	// Count 窗口内样本数
	Count int64 `json:"count"`
	// WinCount 盈利样本数
	WinCount int64 `json:"win_count"`
	// LossCount 亏损样本数（总盈亏 <= 0）
	LossCount int64 `json:"loss_count"`
	// TakeProfitCount 止盈退出次数
	TakeProfitCount int64 `json:"take_profit_count"`
	// StopLossCount 止损退出次数
	StopLossCount int64 `json:"stop_loss_count"`

	// WinRate 胜率
	WinRate float64 `json:"win_rate"`
	// AvgTotalPnl 平均总盈亏（计价货币）
	AvgTotalPnl float64 `json:"avg_total_pnl"`
	// AvgHoldHours 平均持仓小时数
	AvgHoldHours float64 `json:"avg_hold_hours"`
}

// Calculator 结果统计器（滚动窗口，并发安全）
type Calculator struct {
	mu sync.Mutex

	windowSize int
	buf        []sample
	pos        int
	full       bool

	// 滚动累计（O(1) 更新）
	count     int64
	winCount  int64
	tpCount   int64
	slCount   int64
	sumPnl    float64
	sumHoldHr float64
}

// NewCalculator 创建统计器
// 参数 windowSize: 滚动窗口大小（<=0 时使用 500）
func NewCalculator(windowSize int) *Calculator {
	if windowSize <= 0 {
		windowSize = 500
	}
	return &Calculator{
		windowSize: windowSize,
		buf:        make([]sample, windowSize),
	}
}

// Add 记录一笔已平仓套利；未平仓的仓位被忽略
func (c *Calculator) Add(pos *model.ArbitragePosition) {
	if pos == nil || !pos.Closed() {
		return
	}

	pnl := pos.ExitTotalPnl.InexactFloat64()
	s := sample{
		win:       pnl > 0,
		totalPnl:  pnl,
		holdHours: pos.HoldDuration(pos.ClosedAt).Hours(),
		reason:    pos.ExitReason,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// 环已满时先移除最旧样本的贡献
	if c.full {
		c.remove(c.buf[c.pos])
	}

	c.buf[c.pos] = s
	c.pos++
	if c.pos >= c.windowSize {
		c.pos = 0
		c.full = true
	}

	c.count++
	if s.win {
		c.winCount++
	}
	switch s.reason {
	case model.ExitTakeProfit:
		c.tpCount++
	case model.ExitStopLoss:
		c.slCount++
	}
	c.sumPnl += s.totalPnl
	c.sumHoldHr += s.holdHours
}

func (c *Calculator) remove(old sample) {
	c.count--
	if old.win {
		c.winCount--
	}
	switch old.reason {
	case model.ExitTakeProfit:
		c.tpCount--
	case model.ExitStopLoss:
		c.slCount--
	}
	c.sumPnl -= old.totalPnl
	c.sumHoldHr -= old.holdHours
}

// Stats 返回滚动窗口统计
func (c *Calculator) Stats() OutcomeStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := OutcomeStats{
		Count:           c.count,
		WinCount:        c.winCount,
		LossCount:       c.count - c.winCount,
		TakeProfitCount: c.tpCount,
		StopLossCount:   c.slCount,
	}
	if c.count <= 0 {
		return out
	}

	n := float64(c.count)
	out.WinRate = float64(c.winCount) / n
	out.AvgTotalPnl = c.sumPnl / n
	out.AvgHoldHours = c.sumHoldHr / n
	return out
}
