// Package main 是资金费率套利引擎的入口点。
// 引擎在多个永续合约场所之间比较归一化资金费率，对每个 token 维护至多一个
// 双腿套利（低费率场所做多、高费率场所做空），按止盈/止损条件退出。
// 行情来自外部网关；execution.mode=paper 时下单为模拟成交。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"funding-rate-arbitrage/internal/config"
	"funding-rate-arbitrage/internal/core/ledger"
	"funding-rate-arbitrage/internal/core/lifecycle"
	"funding-rate-arbitrage/internal/core/port"
	"funding-rate-arbitrage/internal/core/rate"
	"funding-rate-arbitrage/internal/core/store"
	"funding-rate-arbitrage/internal/feed"
	"funding-rate-arbitrage/internal/feed/natsfeed"
	"funding-rate-arbitrage/internal/feed/ws"
	"funding-rate-arbitrage/internal/gateway"
	"funding-rate-arbitrage/internal/observability"
	"funding-rate-arbitrage/internal/output/jsonl"
	"funding-rate-arbitrage/internal/paper"
	"funding-rate-arbitrage/internal/stats/cycle"
	"funding-rate-arbitrage/internal/stats/outcome"
	"funding-rate-arbitrage/internal/status"
	"funding-rate-arbitrage/internal/util/timeutil"
)

func main() {
	var configPath, envPath string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.StringVar(&envPath, "env", ".env", "环境变量文件路径（不存在时忽略）")
	flag.Parse()

	// .env 中的密钥（网关 API Key）不覆盖已有环境变量
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "加载 %s 失败: %v\n", envPath, err)
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel).With(zap.String("app", cfg.App.Name))
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("指标服务退出", zap.Error(err))
			}
		}()
		logger.Info("指标服务已启动", zap.String("addr", cfg.Metrics.ListenAddr))
	}

	reg, err := rate.NewRegistry(cfg.VenueSpecs(), cfg.Strategy.ProfitabilityHorizonSec)
	if err != nil {
		logger.Error("构建场所注册表失败", zap.Error(err))
		os.Exit(1)
	}

	// 行情始终来自网关；执行按 execution.mode 选择
	gw := gateway.NewClient(cfg.GatewayClientConfig(), logger, metrics)
	var (
		exec      port.Execution
		paperExec *paper.Executor
	)
	switch cfg.Execution.Mode {
	case config.ExecutionPaper:
		paperExec = paper.NewExecutor(cfg.PaperConfig(), reg, gw, timeutil.SystemClock{}, logger)
		exec = paperExec
	default:
		exec = gw
	}

	lcCfg, err := cfg.LifecycleConfig()
	if err != nil {
		logger.Error("解析策略参数失败", zap.Error(err))
		os.Exit(1)
	}
	st := store.New()
	mgr, err := lifecycle.NewManager(lcCfg, reg, gw, exec, st,
		lifecycle.WithLogger(logger),
		lifecycle.WithMetrics(metrics),
	)
	if err != nil {
		logger.Error("创建生命周期管理器失败", zap.Error(err))
		os.Exit(1)
	}

	// 资金费支付 -> 账本
	led := ledger.New(st, logger, metrics)
	if paperExec != nil {
		go led.Run(ctx, paperExec.Events())
	}
	closeFeed, err := startFeed(ctx, cfg, logger, metrics, led)
	if err != nil {
		logger.Error("启动资金费推送失败", zap.Error(err))
		os.Exit(1)
	}

	sink, err := jsonl.NewSink(cfg.Output.Dir, cfg.Output.BufferSize, cfg.Output.DecisionsEnabled, cfg.Output.StatusEnabled)
	if err != nil {
		logger.Error("创建输出文件失败", zap.Error(err))
		os.Exit(1)
	}

	if err := mgr.Prepare(ctx); err != nil {
		logger.Warn("启动准备被中断", zap.Error(err))
	}

	oc := outcome.NewCalculator(0)
	ct := cycle.NewTracker(0)
	builder := status.NewBuilder(mgr, oc, ct, timeutil.SystemClock{}, logger)

	logger.Info("引擎启动",
		zap.Strings("tokens", cfg.Tokens),
		zap.Strings("venues", reg.Venues()),
		zap.String("execution", cfg.Execution.Mode),
		zap.String("feed", cfg.Feed.Kind),
		zap.Duration("cycle_interval", cfg.CycleInterval()),
	)

	runLoop(ctx, loopDeps{
		logger:         logger,
		mgr:            mgr,
		paper:          paperExec,
		sink:           sink,
		outcome:        oc,
		cycle:          ct,
		status:         builder,
		cycleInterval:  cfg.CycleInterval(),
		statusInterval: cfg.StatusInterval(),
	})

	// 输出最后一条状态快照（便于离线复盘）
	finalCtx, finalCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = sink.WriteStatus(builder.Build(finalCtx))
	finalCancel()

	// 优雅关闭（10s 超时）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if closeFeed != nil {
			_ = closeFeed()
		}
		if err := sink.Close(); err != nil {
			logger.Warn("关闭输出文件失败", zap.Error(err))
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("关闭超时，强制退出")
	case <-done:
		logger.Info("关闭完成",
			zap.Int("active", len(st.ActiveTokens())),
			zap.Int("closed", st.HistoryCount()),
		)
	}
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// startFeed 按 feed.kind 启动资金费推送，返回关闭函数
func startFeed(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics, led *ledger.Ledger) (func() error, error) {
	parser := feed.NewParser(cfg.Tokens)

	switch cfg.Feed.Kind {
	case config.FeedWS:
		client := ws.NewClient(cfg.WSConfig(), parser, logger, metrics)
		startCtx, startCancel := context.WithTimeout(ctx, 10*time.Second)
		defer startCancel()
		// 首次连接失败不退出，由读循环按退避重连
		if err := client.Connect(startCtx); err != nil {
			logger.Warn("资金费推送首次连接失败", zap.Error(err))
		} else if err := client.Subscribe(); err != nil {
			logger.Warn("资金费推送订阅失败", zap.Error(err))
		}
		go client.Run(ctx)
		go led.Run(ctx, client.Events())
		return client.Close, nil

	case config.FeedNATS:
		sub := natsfeed.NewSubscriber(cfg.NATSConfig(), parser, logger, metrics)
		if err := sub.Start(ctx); err != nil {
			return nil, err
		}
		go led.Run(ctx, sub.Events())
		return sub.Close, nil

	default:
		logger.Info("未配置资金费推送源")
		return nil, nil
	}
}

type loopDeps struct {
	logger  *zap.Logger
	mgr     *lifecycle.Manager
	paper   *paper.Executor
	sink    *jsonl.Sink
	outcome *outcome.Calculator
	cycle   *cycle.Tracker
	status  *status.Builder

	cycleInterval  time.Duration
	statusInterval time.Duration
}

// runLoop 按固定间隔运行决策周期，直到 ctx 取消
// 周期在本 goroutine 内串行执行，上一个周期未结束时不会开始下一个。
func runLoop(ctx context.Context, d loopDeps) {
	ticker := time.NewTicker(d.cycleInterval)
	defer ticker.Stop()

	var statusC <-chan time.Time
	if d.statusInterval > 0 {
		statusTicker := time.NewTicker(d.statusInterval)
		defer statusTicker.Stop()
		statusC = statusTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if d.paper != nil {
				if n := d.paper.Settle(ctx); n > 0 {
					d.logger.Debug("模拟资金费已结算", zap.Int("payments", n))
				}
			}

			rep := d.mgr.RunCycle(ctx)
			d.cycle.Add(rep.Duration, rep.Errors())
			for _, exit := range rep.Exits() {
				d.outcome.Add(exit.Position)
			}
			if _, err := d.sink.WriteCycle(rep); err != nil {
				d.logger.Warn("写入决策记录失败", zap.Error(err))
			}

		case <-statusC:
			snap := d.status.Build(ctx)
			if err := d.sink.WriteStatus(snap); err != nil {
				d.logger.Warn("写入状态快照失败", zap.Error(err))
			}
			if err := d.sink.Flush(); err != nil {
				d.logger.Warn("输出文件刷新异常", zap.Error(err), zap.Int64("dropped_total", d.sink.Dropped()))
			}
			d.logger.Info("状态快照",
				zap.Int("active", len(snap.Active)),
				zap.Int("closed", snap.ClosedCount),
				zap.Int64("cycles", snap.Cycle.Count),
				zap.Float64("cycle_p99_ms", snap.Cycle.P99Ms),
				zap.Float64("win_rate", snap.Outcome.WinRate),
			)
		}
	}
}
