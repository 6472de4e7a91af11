// Package api 提供控制面板的 HTTP API 处理程序。
// 该包把日志流、执行详情、定时任务和部署状态暴露为
// REST 与 WebSocket 接口，供面板前端和 CLI 消费。
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/oriys/lumen/internal/auth"
	"github.com/oriys/lumen/internal/correlator"
	"github.com/oriys/lumen/internal/deploy"
	"github.com/oriys/lumen/internal/domain"
	"github.com/oriys/lumen/internal/filter"
	"github.com/oriys/lumen/internal/jobs"
	"github.com/oriys/lumen/internal/logstore"
	"github.com/oriys/lumen/internal/storage"
	"github.com/sirupsen/logrus"
)

// Handler 是面板 API 的处理器集合。
type Handler struct {
	controller *logstore.Controller
	correlator *correlator.Correlator
	jobs       *jobs.Poller
	deploy     *deploy.Watcher
	// history 历史归档存储，未启用时为 nil
	history *storage.PostgresStore
	// sessions 会话偏好存储，未启用时为 nil
	sessions *storage.RedisStore
	jwt      *auth.JWTManager
	keys     auth.APIKeyValidator
	logger   *logrus.Logger

	upgrader websocket.Upgrader
}

// HandlerConfig 汇总处理器的依赖。
type HandlerConfig struct {
	Controller *logstore.Controller
	Correlator *correlator.Correlator
	Jobs       *jobs.Poller
	Deploy     *deploy.Watcher
	History    *storage.PostgresStore
	Sessions   *storage.RedisStore
	JWT        *auth.JWTManager
	Keys       auth.APIKeyValidator
	Logger     *logrus.Logger
}

// NewHandler 创建 API 处理器。
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		controller: cfg.Controller,
		correlator: cfg.Correlator,
		jobs:       cfg.Jobs,
		deploy:     cfg.Deploy,
		history:    cfg.History,
		sessions:   cfg.Sessions,
		jwt:        cfg.JWT,
		keys:       cfg.Keys,
		logger:     cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Health 处理基本健康检查。
// HTTP 端点: GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready 处理就绪探针：已启用的存储后端全部可达才算就绪。
// HTTP 端点: GET /health/ready
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.history != nil {
		if err := h.history.Ping(r.Context()); err != nil {
			writeError(w, r, http.StatusServiceUnavailable, "history store not ready")
			return
		}
	}
	if h.sessions != nil {
		if err := h.sessions.Ping(r.Context()); err != nil {
			writeError(w, r, http.StatusServiceUnavailable, "session store not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Live 处理存活探针。
// HTTP 端点: GET /health/live
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Login 用 API Key 换取面板会话令牌。
// HTTP 端点: POST /api/v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if h.keys == nil || h.jwt == nil {
		writeError(w, r, http.StatusServiceUnavailable, "authentication not configured")
		return
	}

	user, err := h.keys.ValidateAPIKey(req.APIKey)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid api key")
		return
	}

	token, err := h.jwt.Generate(user.UserID, user.Role)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// GetDeployment 返回部署运行状态与两条流水线的当前状态。
// HTTP 端点: GET /api/v1/deployment
func (h *Handler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"deployment_state": h.deploy.State(),
		"stream_state":     h.controller.State(),
		"stream_stale":     h.controller.Stale(),
		"jobs_state":       h.jobs.State(),
	})
}

// ListLogs 返回按过滤状态投影后的缓冲区快照。
// HTTP 端点: GET /api/v1/logs
//
// Query 参数：
//   - q: 自由文本搜索
//   - components: 逗号分隔的组件集合，"*" 表示全部（默认）
//   - functions: 逗号分隔的函数标识集合
//   - types: 逗号分隔的日志归类子集，缺省为全部
//   - limit: 返回条目上限，从最新往回数（默认不限）
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	state := filterStateFromQuery(r)
	entries := filter.Apply(h.controller.Store().Snapshot(), state)

	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 && limit < len(entries) {
			entries = entries[len(entries)-limit:]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   h.controller.Store().Len(),
	})
}

// SetPaused 切换手动暂停。
// HTTP 端点: POST /api/v1/logs/pause
func (h *Handler) SetPaused(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paused bool `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	h.controller.SetPaused(req.Paused)
	writeJSON(w, http.StatusOK, map[string]any{"state": h.controller.State()})
}

// SetLiveEdge 更新消费者是否停留在流的最新端。
// HTTP 端点: POST /api/v1/logs/live-edge
func (h *Handler) SetLiveEdge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AtEdge bool `json:"at_edge"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	h.controller.SetAtLiveEdge(req.AtEdge)
	writeJSON(w, http.StatusOK, map[string]any{"state": h.controller.State()})
}

// SetInspecting 更新详情视图开闭状态。
// HTTP 端点: POST /api/v1/logs/inspecting
func (h *Handler) SetInspecting(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Inspecting bool `json:"inspecting"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	h.controller.SetInspecting(req.Inspecting)
	writeJSON(w, http.StatusOK, map[string]any{"state": h.controller.State()})
}

// ClearLogs 清空缓冲区。已见过的条目不会因远端重放再次出现。
// HTTP 端点: POST /api/v1/logs/clear
func (h *Handler) ClearLogs(w http.ResponseWriter, r *http.Request) {
	h.controller.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// ListHistory 回放已归档的历史日志。
// HTTP 端点: GET /api/v1/logs/history
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, r, http.StatusNotImplemented, "history archive not enabled")
		return
	}

	q := r.URL.Query()
	query := storage.HistoryQuery{
		RequestID:    q.Get("request_id"),
		FunctionPath: q.Get("function_path"),
		Search:       q.Get("q"),
	}
	if v := q.Get("before"); v != "" {
		query.Before, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("limit"); v != "" {
		query.Limit, _ = strconv.Atoi(v)
	}

	entries, err := h.history.QueryHistory(r.Context(), query)
	if err != nil {
		h.logger.WithError(err).Error("History query failed")
		writeError(w, r, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// GetExecutionDetail 解析一次执行的详情。
// HTTP 端点: GET /api/v1/executions/{requestID}
//
// 默认等待在途取数完成后返回完整详情；wait=false 时
// 未命中缓存立即返回 202 和 pending 状态。
func (h *Handler) GetExecutionDetail(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	res := h.correlator.GetDetail(r.Context(), requestID)
	if res.State == correlator.DetailPending && r.URL.Query().Get("wait") != "false" {
		res = h.correlator.Wait(r.Context(), requestID)
	}

	switch res.State {
	case correlator.DetailReady:
		writeJSON(w, http.StatusOK, res.Detail)
	case correlator.DetailPending:
		writeJSON(w, http.StatusAccepted, map[string]string{"state": "pending"})
	default:
		if errors.Is(res.Err, domain.ErrDetailNotFound) {
			writeError(w, r, http.StatusNotFound, "execution detail not found")
			return
		}
		writeError(w, r, http.StatusBadGateway, "detail fetch failed: "+res.Err.Error())
	}
}

// InvalidateExecution 丢弃某次执行的缓存详情与诊断。
// HTTP 端点: DELETE /api/v1/executions/{requestID}/cache
func (h *Handler) InvalidateExecution(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")
	h.correlator.Invalidate(r.Context(), requestID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// GetErrorAnalysis 查找已持久化的诊断，不触发生成。
// HTTP 端点: GET /api/v1/executions/{requestID}/analysis
func (h *Handler) GetErrorAnalysis(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	a, err := h.correlator.GetErrorAnalysis(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, domain.ErrAnalysisNotFound) {
			writeError(w, r, http.StatusNotFound, "no analysis for this execution")
			return
		}
		writeError(w, r, http.StatusBadGateway, "analysis lookup failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// RequestAnalysis 触发 AI 诊断生成。
// HTTP 端点: POST /api/v1/executions/{requestID}/analysis
//
// 响应为 NDJSON 流：若干 {"text": "..."} 片段行用于渐进展示，
// 最后一行 {"final": true, "analysis": {...}} 为权威结果。
func (h *Handler) RequestAnalysis(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	var req domain.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.RequestID = requestID

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	analysis, err := h.correlator.RequestAnalysis(r.Context(), req, func(text string) {
		enc.Encode(domain.AnalysisChunk{Text: text})
		if flusher != nil {
			flusher.Flush()
		}
	})
	if err != nil {
		enc.Encode(map[string]string{"error": err.Error()})
		return
	}
	enc.Encode(domain.AnalysisChunk{Final: true, Analysis: analysis})
}

// RequestFix 请求针对某次失败的修复建议。
// HTTP 端点: POST /api/v1/executions/{requestID}/fix
func (h *Handler) RequestFix(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	var req domain.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.RequestID = requestID

	fix, err := h.correlator.RequestFixSuggestion(r.Context(), req)
	if err != nil {
		writeError(w, r, http.StatusBadGateway, "fix suggestion failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, fix)
}

// ListJobs 返回定时任务的最新快照。
// HTTP 端点: GET /api/v1/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  h.jobs.Jobs(),
		"state": h.jobs.State(),
	})
}

// SetJobFilter 更换任务查询的函数过滤器并立即重取。
// HTTP 端点: POST /api/v1/jobs/filter
func (h *Handler) SetJobFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UdfPath string `json:"udf_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	h.jobs.SetFilter(domain.NormalizeFunctionPath(req.UdfPath))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RefreshJobs 手动触发一次任务快照刷新。
// HTTP 端点: POST /api/v1/jobs/refresh
func (h *Handler) RefreshJobs(w http.ResponseWriter, r *http.Request) {
	h.jobs.Refresh()
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshing"})
}

// GetSessionFilter 读取面板会话保存的过滤状态。
// HTTP 端点: GET /api/v1/sessions/{sessionID}/filter
func (h *Handler) GetSessionFilter(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeError(w, r, http.StatusNotImplemented, "session store not enabled")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	state, err := h.sessions.LoadFilterState(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			writeError(w, r, http.StatusNotFound, "no saved filter for this session")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "session load failed")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// PutSessionFilter 保存面板会话的过滤状态。
// HTTP 端点: PUT /api/v1/sessions/{sessionID}/filter
func (h *Handler) PutSessionFilter(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeError(w, r, http.StatusNotImplemented, "session store not enabled")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	var state domain.FilterState
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.sessions.SaveFilterState(r.Context(), sessionID, state); err != nil {
		writeError(w, r, http.StatusInternalServerError, "session save failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// DismissWarning 记录会话内被关闭的警告。
// HTTP 端点: POST /api/v1/sessions/{sessionID}/dismissed
func (h *Handler) DismissWarning(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeError(w, r, http.StatusNotImplemented, "session store not enabled")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	var req struct {
		WarningID string `json:"warning_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WarningID == "" {
		writeError(w, r, http.StatusBadRequest, "warning_id required")
		return
	}
	if err := h.sessions.DismissWarning(r.Context(), sessionID, req.WarningID); err != nil {
		writeError(w, r, http.StatusInternalServerError, "dismiss failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

// ListDismissedWarnings 返回会话内全部已关闭的警告。
// HTTP 端点: GET /api/v1/sessions/{sessionID}/dismissed
func (h *Handler) ListDismissedWarnings(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeError(w, r, http.StatusNotImplemented, "session store not enabled")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	ids, err := h.sessions.DismissedWarnings(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "session load failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"warning_ids": ids})
}

// filterStateFromQuery 从查询参数构建过滤状态。
func filterStateFromQuery(r *http.Request) domain.FilterState {
	q := r.URL.Query()
	state := domain.NewFilterState()
	state.SearchQuery = q.Get("q")

	if v := q.Get("components"); v != "" && v != domain.ComponentsAll {
		state.ComponentsSentinel = false
		state.SelectedComponents = make(map[string]bool)
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				state.SelectedComponents[c] = true
			}
		}
	}
	if v := q.Get("functions"); v != "" {
		state.SelectedFunctions = make(map[string]bool)
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				state.SelectedFunctions[domain.NormalizeFunctionPath(f)] = true
			}
		}
	}
	if v := q.Get("types"); v != "" {
		state.SelectedLogTypes = make(map[domain.LogClass]bool)
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				state.SelectedLogTypes[domain.LogClass(t)] = true
			}
		}
	}
	return state
}

// writeJSON 以 JSON 编码写出响应。
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse 是错误响应结构体，携带请求 ID 便于关联日志。
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError 写出带请求追踪信息的错误响应。
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:     message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}
