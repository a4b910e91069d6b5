package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"funding-rate-arbitrage/internal/core/model"
)

var errPanic = errors.New("token 评估 panic")

// TokenReport 单个 token 在一个周期内的评估结果
type TokenReport struct {
	// Token 基础资产
	Token string `json:"token"`
	// WasActive 周期开始时是否处于 Active
	WasActive bool `json:"was_active"`
	// Entry 入场决策（未入场为 nil）
	Entry *model.EntryDecision `json:"entry,omitempty"`
	// Exit 退出决策（未退出为 nil）
	Exit *model.ExitDecision `json:"exit,omitempty"`
	// Rejections 本周期被拒绝的候选
	Rejections []model.Rejection `json:"rejections,omitempty"`
	// Err 评估错误（不影响其他 token）
	Err error `json:"-"`
	// ErrKind 错误分类
	ErrKind string `json:"err_kind,omitempty"`
	// ErrMsg 错误信息
	ErrMsg string `json:"error,omitempty"`
}

// CycleReport 一个决策周期的结果
type CycleReport struct {
	// StartedAt 周期开始时间
	StartedAt time.Time `json:"started_at"`
	// Duration 周期耗时
	Duration time.Duration `json:"duration"`
	// Tokens 各 token 的结果（按配置顺序）
	Tokens []TokenReport `json:"tokens"`
}

// Entries 本周期的入场决策
func (r CycleReport) Entries() []*model.EntryDecision {
	var out []*model.EntryDecision
	for _, t := range r.Tokens {
		if t.Entry != nil {
			out = append(out, t.Entry)
		}
	}
	return out
}

// Exits 本周期的退出决策
func (r CycleReport) Exits() []*model.ExitDecision {
	var out []*model.ExitDecision
	for _, t := range r.Tokens {
		if t.Exit != nil {
			out = append(out, t.Exit)
		}
	}
	return out
}

// Errors 本周期出错的 token 数
func (r CycleReport) Errors() int {
	n := 0
	for _, t := range r.Tokens {
		if t.Err != nil {
			n++
		}
	}
	return n
}

// RunCycle 执行一个决策周期
// 同一时刻只运行一个周期；每个 token 在独立 goroutine 中评估，
// 单个 token 的错误或 panic 只记录在报告中，不影响其他 token 与后续周期。
func (m *Manager) RunCycle(ctx context.Context) CycleReport {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	started := m.clock.Now()
	wallStart := time.Now()
	reports := make([]TokenReport, len(m.cfg.Tokens))

	var g errgroup.Group
	if m.cfg.MaxParallelTokens > 0 {
		g.SetLimit(m.cfg.MaxParallelTokens)
	}
	for i, token := range m.cfg.Tokens {
		i, token := i, token
		g.Go(func() error {
			reports[i] = m.evaluateToken(ctx, token)
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(wallStart)
	m.metrics.ObserveCycle(elapsed)

	report := CycleReport{
		StartedAt: started,
		Duration:  elapsed,
		Tokens:    reports,
	}
	m.logger.Debug("决策周期完成",
		zap.Duration("duration", elapsed),
		zap.Int("entries", len(report.Entries())),
		zap.Int("exits", len(report.Exits())),
		zap.Int("errors", report.Errors()),
	)
	return report
}

// evaluateToken Idle 评估入场，Active 评估退出
func (m *Manager) evaluateToken(ctx context.Context, token string) (rep TokenReport) {
	rep.Token = token

	defer func() {
		if r := recover(); r != nil {
			rep.Err = fmt.Errorf("%w: %s: %v", errPanic, token, r)
			m.logger.Error("token 评估 panic",
				zap.String("token", token),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
		if rep.Err != nil {
			rep.ErrKind = errorKind(rep.Err)
			rep.ErrMsg = rep.Err.Error()
			m.metrics.ObserveTokenError(token, rep.ErrKind)
		}
	}()

	if err := ctx.Err(); err != nil {
		rep.Err = err
		return rep
	}

	if m.store.IsActive(token) {
		rep.WasActive = true
		rep.Exit, rep.Err = m.EvaluateExit(ctx, token)
		if rep.Err != nil {
			m.logger.Warn("退出评估失败，下个周期重试", zap.String("token", token), zap.Error(rep.Err))
		}
		return rep
	}

	rep.Entry, rep.Rejections, rep.Err = m.EvaluateEntry(ctx, token)
	if rep.Err != nil {
		m.logger.Warn("入场评估失败，下个周期重试", zap.String("token", token), zap.Error(rep.Err))
	}
	return rep
}
