// Package ws 通过 WebSocket 订阅执行服务推送的资金费支付。
// 心跳机制: 协议层 ping/pong；断线后按指数退避重连并重新订阅。
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"funding-rate-arbitrage/internal/core/model"
	"funding-rate-arbitrage/internal/feed"
	"funding-rate-arbitrage/internal/observability"
	"funding-rate-arbitrage/internal/util/timeutil"
)

// Config WebSocket 配置
type Config struct {
	// URL 推送地址
	URL string
	// Channel 订阅频道（默认 fundingPayment）
	Channel string
	// PingIntervalMs 心跳间隔（毫秒）
	PingIntervalMs int
	// ReadTimeoutMs 读取超时（毫秒）
	ReadTimeoutMs int
	// BufferSize 事件通道容量
	BufferSize int
}

// ConnectionMetrics 连接指标
type ConnectionMetrics struct {
	// ReconnectCount 重连次数
	ReconnectCount int64 `json:"reconnect_count"`
	// ParseErrorCount 解析错误次数
	ParseErrorCount int64 `json:"parse_error_count"`
	// EventCount 已推送事件数
	EventCount int64 `json:"event_count"`
	// LastMessageAgeMs 距离最后一条消息的毫秒数
	LastMessageAgeMs int64 `json:"last_message_age_ms"`
}

// Client 资金费推送客户端
type Client struct {
	cfg     Config
	parser  *feed.Parser
	logger  *zap.Logger
	metrics *observability.Metrics

	conn   *websocket.Conn
	connMu sync.Mutex

	events chan model.FundingPaymentEvent

	stats   ConnectionMetrics
	statsMu sync.RWMutex

	lastMsgTime int64
	backoff     *backoff.Backoff
	closed      int32

	parseErrSampleCount uint64
	lastParseErrLogNs   int64
}

// NewClient 创建客户端
func NewClient(cfg Config, parser *feed.Parser, logger *zap.Logger, metrics *observability.Metrics) *Client {
	if cfg.Channel == "" {
		cfg.Channel = feed.EventFundingPayment
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		parser:  parser,
		logger:  logger.Named("feed.ws"),
		metrics: metrics,
		events:  make(chan model.FundingPaymentEvent, cfg.BufferSize),
		backoff: &backoff.Backoff{
			Min:    time.Second,
			Max:    30 * time.Second,
			Factor: 2,
			Jitter: true,
		},
	}
}

// Connect 建立连接
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	header := http.Header{}
	header.Set("User-Agent", "funding-rate-arbitrage/1.0")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("连接资金费推送失败: %w", err)
	}

	readTimeout := time.Duration(c.readTimeoutMs()) * time.Millisecond
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		atomic.StoreInt64(&c.lastMsgTime, timeutil.NowNano())
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	c.conn = conn
	c.backoff.Reset()
	c.logger.Info("资金费推送连接成功", zap.String("url", c.cfg.URL))
	return nil
}

// Subscribe 订阅资金费频道
func (c *Client) Subscribe() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("WebSocket 未连接")
	}
	data, err := json.Marshal(feed.SubscribeRequest{
		Method: "SUBSCRIBE",
		Params: []string{c.cfg.Channel},
		ID:     1,
	})
	if err != nil {
		return fmt.Errorf("序列化订阅请求失败: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("发送订阅请求失败: %w", err)
	}
	c.logger.Info("资金费订阅请求已发送", zap.String("channel", c.cfg.Channel))
	return nil
}

// Run 主循环，直到 ctx 取消或 Close
func (c *Client) Run(ctx context.Context) {
	go c.pingLoop(ctx)
	c.readLoop(ctx)
}

func (c *Client) readLoop(ctx context.Context) {
	readTimeout := time.Duration(c.readTimeoutMs()) * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if atomic.LoadInt32(&c.closed) == 1 {
			return
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			c.reconnect(ctx)
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if atomic.LoadInt32(&c.closed) == 1 || ctx.Err() != nil {
				return
			}
			c.logger.Warn("读取资金费推送失败", zap.Error(err))
			c.statsMu.Lock()
			c.stats.ReconnectCount++
			c.statsMu.Unlock()
			c.metrics.ObserveFeedReconnect("ws")
			c.reconnect(ctx)
			continue
		}

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		atomic.StoreInt64(&c.lastMsgTime, timeutil.NowNano())

		events, err := c.parser.Parse(data)
		if err != nil {
			c.statsMu.Lock()
			c.stats.ParseErrorCount++
			c.statsMu.Unlock()
			c.maybeLogParseError(err, data)
			continue
		}

		for _, ev := range events {
			c.statsMu.Lock()
			c.stats.EventCount++
			c.statsMu.Unlock()
			select {
			case c.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	intervalMs := c.cfg.PingIntervalMs
	if intervalMs <= 0 {
		intervalMs = c.readTimeoutMs() / 2
	}

	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}
			c.connMu.Lock()
			conn := c.conn
			if conn == nil {
				c.connMu.Unlock()
				continue
			}
			deadline := time.Now().Add(5 * time.Second)
			err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline)
			c.connMu.Unlock()
			if err != nil {
				c.logger.Warn("发送 ping 失败", zap.Error(err))
			}
		}
	}
}

func (c *Client) reconnect(ctx context.Context) {
	c.closeConn()

	delay := c.backoff.Duration()
	c.logger.Info("资金费推送准备重连", zap.Duration("delay", delay))

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	if err := c.Connect(ctx); err != nil {
		c.logger.Error("资金费推送重连失败", zap.Error(err))
		return
	}
	if err := c.Subscribe(); err != nil {
		c.logger.Error("资金费推送重新订阅失败", zap.Error(err))
	}
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close 关闭客户端
// 调用后 Run 返回；事件通道不关闭，消费方以 ctx 退出。
func (c *Client) Close() error {
	atomic.StoreInt32(&c.closed, 1)
	c.closeConn()
	c.logger.Info("资金费推送客户端已关闭")
	return nil
}

// Events 资金费事件通道
func (c *Client) Events() <-chan model.FundingPaymentEvent {
	return c.events
}

// Metrics 连接指标
func (c *Client) Metrics() ConnectionMetrics {
	c.statsMu.RLock()
	m := c.stats
	c.statsMu.RUnlock()

	if last := atomic.LoadInt64(&c.lastMsgTime); last > 0 {
		m.LastMessageAgeMs = (timeutil.NowNano() - last) / 1_000_000
	}
	return m
}

func (c *Client) readTimeoutMs() int {
	if c.cfg.ReadTimeoutMs > 0 {
		return c.cfg.ReadTimeoutMs
	}
	// 未配置时使用 60s
	return 60000
}

// maybeLogParseError 采样记录解析错误：每 100 次记录 1 条，且至少间隔 1 分钟
func (c *Client) maybeLogParseError(err error, data []byte) {
	count := atomic.AddUint64(&c.parseErrSampleCount, 1)
	if count%100 != 1 {
		return
	}

	nowNs := timeutil.NowNano()
	last := atomic.LoadInt64(&c.lastParseErrLogNs)
	if last > 0 && nowNs-last < int64(time.Minute) {
		return
	}
	atomic.StoreInt64(&c.lastParseErrLogNs, nowNs)

	sample := data
	if len(sample) > 200 {
		sample = sample[:200]
	}
	c.logger.Warn("解析资金费消息失败（采样）", zap.Error(err), zap.ByteString("data", sample))
}
