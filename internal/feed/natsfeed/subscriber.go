// Package natsfeed 通过 NATS 订阅执行服务发布的资金费支付。
package natsfeed

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"funding-rate-arbitrage/internal/core/model"
	"funding-rate-arbitrage/internal/feed"
	"funding-rate-arbitrage/internal/observability"
)

// DefaultSubject 默认订阅主题
const DefaultSubject = "arb.funding.payments.>"

// Config NATS 订阅配置
type Config struct {
	// URL NATS 服务地址
	URL string
	// Subject 订阅主题
	Subject string
	// BufferSize 事件通道容量
	BufferSize int
}

// Subscriber NATS 资金费订阅者
type Subscriber struct {
	cfg     Config
	parser  *feed.Parser
	logger  *zap.Logger
	metrics *observability.Metrics

	nc     *nats.Conn
	sub    *nats.Subscription
	events chan model.FundingPaymentEvent
}

// NewSubscriber 创建订阅者（尚未连接）
func NewSubscriber(cfg Config, parser *feed.Parser, logger *zap.Logger, metrics *observability.Metrics) *Subscriber {
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		cfg:     cfg,
		parser:  parser,
		logger:  logger.Named("feed.nats"),
		metrics: metrics,
		events:  make(chan model.FundingPaymentEvent, cfg.BufferSize),
	}
}

// Start 连接并订阅；消息处理在 nats 的回调协程中进行，ctx 取消后停止投递
func (s *Subscriber) Start(ctx context.Context) error {
	nc, err := nats.Connect(s.cfg.URL,
		nats.Name("funding-rate-arbitrage"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.logger.Warn("NATS 连接断开", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			s.metrics.ObserveFeedReconnect("nats")
			s.logger.Info("NATS 已重连")
		}),
	)
	if err != nil {
		return fmt.Errorf("连接 NATS 失败: %w", err)
	}

	sub, err := nc.Subscribe(s.cfg.Subject, func(msg *nats.Msg) {
		s.handle(ctx, msg)
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("订阅 %s 失败: %w", s.cfg.Subject, err)
	}

	s.nc = nc
	s.sub = sub
	s.logger.Info("NATS 资金费订阅成功", zap.String("subject", s.cfg.Subject))
	return nil
}

// handle 解析单条消息并投递；解析失败只记录日志
func (s *Subscriber) handle(ctx context.Context, msg *nats.Msg) {
	events, err := s.parser.Parse(msg.Data)
	if err != nil {
		s.logger.Warn("解析 NATS 资金费消息失败",
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
		return
	}
	for _, ev := range events {
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// Events 资金费事件通道
func (s *Subscriber) Events() <-chan model.FundingPaymentEvent {
	return s.events
}

// Close 排空订阅并关闭连接
func (s *Subscriber) Close() error {
	if s.nc == nil {
		return nil
	}
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
		return fmt.Errorf("关闭 NATS 连接失败: %w", err)
	}
	s.logger.Info("NATS 订阅已关闭")
	return nil
}
