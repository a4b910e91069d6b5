// Package observability 定义引擎的 Prometheus 指标。
// 所有方法对 nil 接收者安全，未启用指标时直接传 nil。
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 引擎指标
type Metrics struct {
	// --- 决策 ---
	Entries          *prometheus.CounterVec
	Exits            *prometheus.CounterVec
	PairRejections   *prometheus.CounterVec
	EntryFailures    *prometheus.CounterVec
	ActiveArbitrages prometheus.Gauge

	// --- 资金费 ---
	FundingApplied   *prometheus.CounterVec
	FundingDiscarded prometheus.Counter

	// --- 周期 ---
	CycleDuration   prometheus.Histogram
	TokenErrors     *prometheus.CounterVec
	FeedReconnects  *prometheus.CounterVec
	GatewayRequests *prometheus.CounterVec
	GatewayLatency  *prometheus.HistogramVec
}

// NewMetrics 创建并注册所有指标
// 参数 reg: 注册器；测试中传入 prometheus.NewRegistry() 避免重复注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Entries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fra_entries_total",
			Help: "Arbitrage entries by token",
		}, []string{"token"}),

		Exits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fra_exits_total",
			Help: "Arbitrage exits by token and reason",
		}, []string{"token", "reason"}),

		PairRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fra_pair_rejections_total",
			Help: "Candidate venue pairs rejected at entry",
		}, []string{"token", "reason"}),

		EntryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fra_entry_failures_total",
			Help: "Accepted entries whose leg open requests failed",
		}, []string{"token"}),

		ActiveArbitrages: f.NewGauge(prometheus.GaugeOpts{
			Name: "fra_active_arbitrages",
			Help: "Tokens currently holding an active arbitrage",
		}),

		FundingApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fra_funding_payments_applied_total",
			Help: "Funding payments appended to an active arbitrage",
		}, []string{"token"}),

		FundingDiscarded: f.NewCounter(prometheus.CounterOpts{
			Name: "fra_funding_payments_discarded_total",
			Help: "Funding payments for tokens without an active arbitrage",
		}),

		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fra_cycle_duration_seconds",
			Help:    "Decision cycle wall time",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		TokenErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fra_token_errors_total",
			Help: "Per-token evaluation errors by kind",
		}, []string{"token", "kind"}),

		FeedReconnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fra_feed_reconnects_total",
			Help: "Funding feed reconnect attempts",
		}, []string{"feed"}),

		GatewayRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fra_gateway_requests_total",
			Help: "Gateway REST requests by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),

		GatewayLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fra_gateway_request_duration_seconds",
			Help:    "Gateway REST request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}

// ObserveEntry 记录一次入场
func (m *Metrics) ObserveEntry(token string) {
	if m == nil {
		return
	}
	m.Entries.WithLabelValues(token).Inc()
}

// ObserveExit 记录一次退出
func (m *Metrics) ObserveExit(token, reason string) {
	if m == nil {
		return
	}
	m.Exits.WithLabelValues(token, reason).Inc()
}

// ObserveRejection 记录一个被拒绝的候选场所对
func (m *Metrics) ObserveRejection(token, reason string) {
	if m == nil {
		return
	}
	m.PairRejections.WithLabelValues(token, reason).Inc()
}

// ObserveEntryFailure 记录开仓请求失败
func (m *Metrics) ObserveEntryFailure(token string) {
	if m == nil {
		return
	}
	m.EntryFailures.WithLabelValues(token).Inc()
}

// SetActive 设置活跃套利数量
func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.ActiveArbitrages.Set(float64(n))
}

// ObserveFunding 记录资金费事件的处理结果
func (m *Metrics) ObserveFunding(token string, applied bool) {
	if m == nil {
		return
	}
	if applied {
		m.FundingApplied.WithLabelValues(token).Inc()
		return
	}
	m.FundingDiscarded.Inc()
}

// ObserveCycle 记录决策周期耗时
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.Observe(d.Seconds())
}

// ObserveTokenError 记录 token 评估错误
// kind: data_unavailable / inconsistent_state / panic / other
func (m *Metrics) ObserveTokenError(token, kind string) {
	if m == nil {
		return
	}
	m.TokenErrors.WithLabelValues(token, kind).Inc()
}

// ObserveFeedReconnect 记录推送源重连
func (m *Metrics) ObserveFeedReconnect(feed string) {
	if m == nil {
		return
	}
	m.FeedReconnects.WithLabelValues(feed).Inc()
}

// ObserveGatewayRequest 记录网关请求
func (m *Metrics) ObserveGatewayRequest(endpoint string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.GatewayRequests.WithLabelValues(endpoint, outcome).Inc()
	m.GatewayLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}
