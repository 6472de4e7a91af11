// Package main 是面板守护进程的入口点。
// 守护进程连接远端部署，维护日志流、执行详情、定时任务和
// 部署状态四条流水线，并通过 HTTP API 与 WebSocket 对外服务。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/oriys/lumen/internal/api"
	"github.com/oriys/lumen/internal/auth"
	"github.com/oriys/lumen/internal/config"
	"github.com/oriys/lumen/internal/correlator"
	"github.com/oriys/lumen/internal/deploy"
	"github.com/oriys/lumen/internal/domain"
	"github.com/oriys/lumen/internal/events"
	"github.com/oriys/lumen/internal/feed"
	"github.com/oriys/lumen/internal/jobs"
	"github.com/oriys/lumen/internal/logstore"
	"github.com/oriys/lumen/internal/mcp"
	"github.com/oriys/lumen/internal/metrics"
	"github.com/oriys/lumen/internal/storage"
	"github.com/oriys/lumen/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "/etc/lumen/config.yaml", "Path to config file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	// 配置文件缺失时用默认值启动，部署连接可稍后经环境变量给出
	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WithError(err).Fatal("Failed to load config")
		}
		cfg = config.Default()
		logger.WithField("path", *configPath).Info("Config file not found, using defaults")
	}

	switch cfg.Logging.Level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	}
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	logger.Info("Starting Lumen panel daemon")

	// 初始化遥测系统 (OpenTelemetry)
	var tel *telemetry.Telemetry
	if cfg.Telemetry.Enabled {
		telCfg := telemetry.Config{
			Enabled:     cfg.Telemetry.Enabled,
			Endpoint:    cfg.Telemetry.Endpoint,
			ServiceName: cfg.Telemetry.ServiceName,
			SampleRate:  cfg.Telemetry.SampleRate,
			Environment: cfg.Telemetry.Environment,
		}
		var err error
		tel, err = telemetry.New(context.Background(), telCfg)
		if err != nil {
			// 遥测初始化失败不影响主服务运行
			logger.WithError(err).Warn("Failed to initialize telemetry, continuing without tracing")
		} else {
			defer tel.Shutdown(context.Background())
			logger.AddHook(telemetry.NewLogrusHook())
			logger.WithFields(logrus.Fields{
				"endpoint":    cfg.Telemetry.Endpoint,
				"sample_rate": cfg.Telemetry.SampleRate,
			}).Info("Telemetry initialized")
		}
	}

	// 指标收集器
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics(cfg.Metrics.Namespace)
	}

	// 日志缓冲区与流控制器
	store := logstore.NewStore(cfg.Stream.MaxEntries)
	controller := logstore.NewController(logstore.Config{
		Interval:    cfg.Stream.Interval,
		PollTimeout: cfg.Stream.PollTimeout,
	}, store, m, logger)

	// 远端馈送客户端。未配置部署时流水线保持空闲
	newFeedClient := func(adminKey string) *feed.Client {
		client := feed.New(cfg.Deployment.BaseURL, adminKey)
		if tel != nil {
			client.SetTransport(telemetry.HTTPClientTransport(nil))
		}
		return client
	}

	adminKey := cfg.Deployment.AdminKey
	if cfg.Deployment.AdminKeyFile != "" && adminKey == "" {
		if b, err := os.ReadFile(cfg.Deployment.AdminKeyFile); err == nil {
			adminKey = strings.TrimSpace(string(b))
		}
	}

	var client *feed.Client
	if cfg.Deployment.Configured() && adminKey != "" {
		client = newFeedClient(adminKey)
	}

	// 执行详情关联器，可选 Redis 二级缓存
	var analysisCache correlator.AnalysisCache
	var redisStore *storage.RedisStore
	if cfg.Storage.Sessions {
		redisStore, err = storage.NewRedisStore(
			cfg.Storage.Redis.Address, cfg.Storage.Redis.Password, cfg.Storage.Redis.DB, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisStore.Close()
		analysisCache = redisStore
	}
	var fetcher correlator.Fetcher
	if client != nil {
		fetcher = client
	} else {
		fetcher = unconfiguredFetcher{}
	}
	corr := correlator.New(fetcher, analysisCache, m, logger)

	// 定时任务轮询器
	var jobSource jobs.Source
	if client != nil {
		jobSource = client
	}
	poller := jobs.NewPoller(jobs.Config{
		Interval: cfg.Jobs.Interval,
		PageSize: cfg.Jobs.PageSize,
	}, jobSource, m, logger)

	// 部署状态观察者：暂停态同时传导给日志控制器与任务轮询器
	var stateSource deploy.Source
	if client != nil {
		stateSource = client
	}
	watcher := deploy.NewWatcher(stateSource, cfg.Deployment.StateInterval, logger)
	watcher.OnChange(func(state domain.DeploymentState) {
		paused := state != domain.DeploymentRunning
		controller.SetDeploymentPaused(paused)
		poller.SetDeploymentPaused(paused)
		logger.WithField("state", state).Info("Deployment state changed")
	})

	// 启动流水线
	if client != nil {
		controller.Start(client)
		poller.Start()
		watcher.Start()
	} else {
		logger.Info("Deployment not configured, pipelines idle")
	}
	defer controller.Stop()
	defer poller.Stop()
	defer watcher.Stop()

	// 管理密钥热加载：密钥轮换重启日志流，密钥移除转入空闲
	if cfg.Deployment.AdminKeyFile != "" {
		stop, err := config.WatchAdminKey(cfg.Deployment.AdminKeyFile, logger, func(newKey string) {
			if newKey == "" {
				controller.Start(nil)
				logger.Info("Admin key removed, stream idle")
				return
			}
			controller.Start(newFeedClient(newKey))
			logger.Info("Admin key rotated, stream restarted")
		})
		if err != nil {
			logger.WithError(err).Warn("Failed to watch admin key file")
		} else {
			defer stop()
		}
	}

	// 历史归档：订阅流控制器，批量落库并按留存策略清理
	var pgStore *storage.PostgresStore
	var recorder *storage.Recorder
	if cfg.Storage.History {
		pgStore, err = storage.NewPostgresStore(cfg.Storage.Postgres.DSN(), logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to PostgreSQL")
		}
		defer pgStore.Close()

		recorder = storage.NewRecorder(pgStore, m, logger)
		entries, unsubscribe := controller.Subscribe()
		defer unsubscribe()
		if err := recorder.Start(entries, cfg.Storage.SweepSpec); err != nil {
			logger.WithError(err).Fatal("Failed to start history recorder")
		}
		defer recorder.Stop()
		logger.Info("History archive enabled")
	}

	// NATS 旁路日志源：与 HTTP 轮询共享去重缓冲
	if cfg.Events.NatsURL != "" {
		subscriber, err := events.NewLogSubscriber(cfg.Events.NatsURL, cfg.Events.Subject, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to NATS")
		}
		defer subscriber.Close()

		natsCtx, natsCancel := context.WithCancel(context.Background())
		defer natsCancel()
		go func() {
			if err := subscriber.Run(natsCtx, controller.Ingest); err != nil {
				logger.WithError(err).Error("NATS log subscriber stopped")
			}
		}()
		logger.WithField("subject", cfg.Events.Subject).Info("NATS log bypass enabled")
	}

	// 面板认证
	var authMiddleware *auth.Middleware
	var jwtManager *auth.JWTManager
	var keyValidator *auth.StaticKeyValidator
	if cfg.Auth.Enabled {
		jwtManager = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		keyValidator = auth.NewStaticKeyValidator(cfg.Auth.APIKeys)
		authMiddleware = auth.NewMiddleware(jwtManager, keyValidator, true)
	}

	handler := api.NewHandler(api.HandlerConfig{
		Controller: controller,
		Correlator: corr,
		Jobs:       poller,
		Deploy:     watcher,
		History:    pgStore,
		Sessions:   redisStore,
		JWT:        jwtManager,
		Keys:       keyValidator,
		Logger:     logger,
	})
	router := api.NewRouter(&api.RouterConfig{
		Handler: handler,
		Auth:    authMiddleware,
	})

	// MCP 服务：把面板的只读能力挂到 /mcp 供 AI 客户端使用
	if cfg.MCP.Enabled {
		mcpServer := mcp.NewServer(mcp.Config{
			Controller: controller,
			Correlator: corr,
			Jobs:       poller,
			Deploy:     watcher,
			Logger:     logger,
		})
		router.Mount("/mcp", mcpServer.HTTPServer())
		logger.Info("MCP server mounted at /mcp")
	}

	// 指标端口与主端口不同时单独启动指标服务器
	var metricsServer *http.Server
	if cfg.Metrics.Enabled && cfg.Server.MetricsPort != cfg.Server.HTTPPort {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.MetricsPort),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.WithField("port", cfg.Server.MetricsPort).Info("Starting metrics server")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Fatal("Metrics server failed")
			}
		}()
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: router,
		// WebSocket 流是长连接，写超时留空交给各处理器自己控制
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Server.HTTPPort).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("Metrics server shutdown error")
		}
	}

	logger.Info("Server stopped")
}

// unconfiguredFetcher 在部署未配置时顶替远端馈送，
// 所有查询返回 ErrNotConfigured 而不是空指针。
type unconfiguredFetcher struct{}

func (unconfiguredFetcher) QueryExecutionDetail(ctx context.Context, requestID string) (*domain.ExecutionDetail, error) {
	return nil, domain.ErrNotConfigured
}

func (unconfiguredFetcher) QueryErrorAnalysis(ctx context.Context, requestID string) (*domain.ErrorAnalysis, error) {
	return nil, domain.ErrNotConfigured
}

func (unconfiguredFetcher) RequestErrorAnalysis(ctx context.Context, req domain.AnalysisRequest, onPartial func(string)) (*domain.ErrorAnalysis, error) {
	return nil, domain.ErrNotConfigured
}

func (unconfiguredFetcher) RequestFixSuggestion(ctx context.Context, req domain.AnalysisRequest) (*domain.FixSuggestion, error) {
	return nil, domain.ErrNotConfigured
}
