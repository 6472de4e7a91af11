package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oriys/lumen/internal/auth"
	"github.com/oriys/lumen/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig 路由器配置选项
type RouterConfig struct {
	// Handler API 处理器
	Handler *Handler
	// Auth 认证中间件，nil 时全部路由公开
	Auth *auth.Middleware
	// RequestTimeout 非流式端点的请求级超时，零值取 60 秒
	RequestTimeout time.Duration
}

// NewRouter 创建并配置HTTP路由器。
//
// 路由结构：
//
//	/health                  - 基本健康检查
//	/health/ready            - 就绪探针（已启用的存储可达）
//	/health/live             - 存活探针
//	/metrics                 - Prometheus指标端点
//	/api/v1/auth/login       - API Key 换取会话令牌
//	/api/v1/logs             - 日志流与历史回放
//	/api/v1/executions       - 执行详情与错误诊断
//	/api/v1/jobs             - 定时任务快照
//	/api/v1/deployment       - 部署运行状态
//	/api/v1/sessions         - 会话过滤状态与已关闭警告
func NewRouter(cfg *RouterConfig) *chi.Mux {
	h := cfg.Handler
	rt := cfg.RequestTimeout
	if rt <= 0 {
		rt = 60 * time.Second
	}
	r := chi.NewRouter()

	// 中间件按照添加顺序执行，形成洋葱模型
	r.Use(telemetry.HTTPMiddleware("lumen-paneld"))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5, "application/json", "text/plain"))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// 请求级超时只挂在非流式端点上：WebSocket 流与 NDJSON 诊断流
	// 的生命周期由连接本身和上游决定，统一超时会在窗口边界切断活跃流
	timeout := middleware.Timeout(rt)

	// 健康检查端点 - 用于负载均衡器和Kubernetes探针
	r.With(timeout).Get("/health", h.Health)
	r.With(timeout).Get("/health/ready", h.Ready)
	r.With(timeout).Get("/health/live", h.Live)

	// Prometheus指标端点
	r.With(timeout).Handle("/metrics", promhttp.Handler())

	// 登录不走认证中间件
	r.With(timeout).Post("/api/v1/auth/login", h.Login)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(cfg.Auth.Authenticate)
		}

		// GET /api/v1/deployment - 部署与流水线状态
		r.With(timeout).Get("/deployment", h.GetDeployment)

		// 日志流路由组
		r.Route("/logs", func(r chi.Router) {
			// GET /api/v1/logs/stream - WebSocket 实时日志流（不限时）
			r.Get("/stream", h.StreamLogs)

			r.Group(func(r chi.Router) {
				r.Use(timeout)
				// GET /api/v1/logs - 过滤后的缓冲区快照
				r.Get("/", h.ListLogs)
				// GET /api/v1/logs/history - 归档历史回放
				r.Get("/history", h.ListHistory)
				// POST /api/v1/logs/pause - 手动暂停/恢复
				r.Post("/pause", h.SetPaused)
				// POST /api/v1/logs/live-edge - 最新端跟随状态
				r.Post("/live-edge", h.SetLiveEdge)
				// POST /api/v1/logs/inspecting - 详情视图开闭状态
				r.Post("/inspecting", h.SetInspecting)
				// POST /api/v1/logs/clear - 清空缓冲区
				r.Post("/clear", h.ClearLogs)
			})
		})

		// 执行详情与诊断路由组
		r.Route("/executions/{requestID}", func(r chi.Router) {
			// 诊断与修复要等上游 AI 生成完毕，完成时间由上游决定（不限时）
			// POST /api/v1/executions/{requestID}/analysis - 触发诊断（NDJSON 流）
			r.Post("/analysis", h.RequestAnalysis)
			// POST /api/v1/executions/{requestID}/fix - 修复建议
			r.Post("/fix", h.RequestFix)

			r.Group(func(r chi.Router) {
				r.Use(timeout)
				// GET /api/v1/executions/{requestID} - 执行详情
				r.Get("/", h.GetExecutionDetail)
				// DELETE /api/v1/executions/{requestID}/cache - 丢弃缓存
				r.Delete("/cache", h.InvalidateExecution)
				// GET /api/v1/executions/{requestID}/analysis - 读取已持久化诊断
				r.Get("/analysis", h.GetErrorAnalysis)
			})
		})

		// 定时任务路由组
		r.Route("/jobs", func(r chi.Router) {
			// GET /api/v1/jobs/stream - WebSocket 快照推送（不限时）
			r.Get("/stream", h.StreamJobs)

			r.Group(func(r chi.Router) {
				r.Use(timeout)
				// GET /api/v1/jobs - 最新快照
				r.Get("/", h.ListJobs)
				// POST /api/v1/jobs/filter - 更换函数过滤器
				r.Post("/filter", h.SetJobFilter)
				// POST /api/v1/jobs/refresh - 手动刷新
				r.Post("/refresh", h.RefreshJobs)
			})
		})

		// 会话偏好路由组
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Use(timeout)
			// GET /api/v1/sessions/{sessionID}/filter - 读取过滤状态
			r.Get("/filter", h.GetSessionFilter)
			// PUT /api/v1/sessions/{sessionID}/filter - 保存过滤状态
			r.Put("/filter", h.PutSessionFilter)
			// GET /api/v1/sessions/{sessionID}/dismissed - 已关闭警告
			r.Get("/dismissed", h.ListDismissedWarnings)
			// POST /api/v1/sessions/{sessionID}/dismissed - 关闭警告
			r.Post("/dismissed", h.DismissWarning)
		})
	})

	return r
}

// corsMiddleware 处理跨域资源共享(CORS)。
// 面板前端通常与守护进程同源部署，放开全部来源便于本地开发。
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
