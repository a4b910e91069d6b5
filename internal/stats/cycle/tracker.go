// Package cycle 统计决策周期耗时（滚动窗口分位数）。
package cycle

import (
	"sort"
	"sync"
	"time"
)

// CycleStats 周期耗时统计快照（毫秒）
type CycleStats struct {
	// Count 累计周期数
	Count int64 `json:"count"`
	// Errors 累计 token 级错误数
	Errors int64 `json:"errors"`
	// P50Ms P50 耗时
	P50Ms float64 `json:"p50_ms"`
	// P90Ms P90 耗时
	P90Ms float64 `json:"p90_ms"`
	// P99Ms P99 耗时
	P99Ms float64 `json:"p99_ms"`
	// MaxMs 窗口内最大耗时
	MaxMs float64 `json:"max_ms"`
}

// Tracker 周期耗时追踪器（并发安全）
type Tracker struct {
	mu sync.Mutex

	size   int
	buf    []int64
	pos    int
	full   bool
	count  int64
	errors int64
}

// NewTracker 创建追踪器
// 参数 windowSize: 滚动窗口大小（<=0 时使用 1000）
func NewTracker(windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &Tracker{size: windowSize, buf: make([]int64, 0, windowSize)}
}

// Add 记录一次周期耗时与该周期的错误数
func (t *Tracker) Add(d time.Duration, errs int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.count++
	t.errors += int64(errs)

	if !t.full {
		t.buf = append(t.buf, int64(d))
		if len(t.buf) == t.size {
			t.full = true
			t.pos = 0
		}
		return
	}

	t.buf[t.pos] = int64(d)
	t.pos++
	if t.pos >= t.size {
		t.pos = 0
	}
}

// Stats 获取统计快照
func (t *Tracker) Stats() CycleStats {
	t.mu.Lock()
	out := CycleStats{Count: t.count, Errors: t.errors}
	tmp := make([]int64, len(t.buf))
	copy(tmp, t.buf)
	t.mu.Unlock()

	if len(tmp) == 0 {
		return out
	}
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })

	out.P50Ms = nsToMs(quantile(tmp, 0.50))
	out.P90Ms = nsToMs(quantile(tmp, 0.90))
	out.P99Ms = nsToMs(quantile(tmp, 0.99))
	out.MaxMs = nsToMs(tmp[len(tmp)-1])
	return out
}

// quantile 已排序切片上的最近秩分位数
func quantile(sorted []int64, q float64) int64 {
	n := len(sorted)
	idx := int(float64(n-1) * q)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

func nsToMs(ns int64) float64 {
	return float64(ns) / 1_000_000.0
}
