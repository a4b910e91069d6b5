// Package timeutil 提供时钟抽象与时间戳换算。
// 决策引擎通过 Clock 取时间，测试中可替换为手动推进的时钟。
package timeutil

import (
	"sync"
	"time"
)

var (
	// baseTime 基准时间点（包含单调时钟读数）
	baseTime = time.Now()
	// baseUnixNs 基准时间点对应的 Unix 纳秒时间戳
	baseUnixNs = baseTime.UnixNano()
)

// NowNano 获取当前时间的纳秒时间戳
// NowNano = baseUnixNs + time.Since(baseTime)，系统时间跳变时持仓时长仍保持单调。
func NowNano() int64 {
	return baseUnixNs + time.Since(baseTime).Nanoseconds()
}

// MsToTime 将毫秒时间戳转换为 UTC time.Time
func MsToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// UnixToTime 将秒时间戳转换为 UTC time.Time
func UnixToTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// Clock 时钟
type Clock interface {
	Now() time.Time
}

// SystemClock 系统时钟（单调）
type SystemClock struct{}

// Now 当前 UTC 时间
func (SystemClock) Now() time.Time {
	return time.Unix(0, NowNano()).UTC()
}

// ManualClock 手动推进的时钟
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock 创建手动时钟
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now 当前时间
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set 设置当前时间
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance 向前推进
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
