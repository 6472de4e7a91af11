// 该文件包含API处理器的单元测试，使用模拟对象来隔离测试环境。
package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oriys/lumen/internal/correlator"
	"github.com/oriys/lumen/internal/deploy"
	"github.com/oriys/lumen/internal/domain"
	"github.com/oriys/lumen/internal/feed"
	"github.com/oriys/lumen/internal/jobs"
	"github.com/oriys/lumen/internal/logstore"
	"github.com/sirupsen/logrus"
)

// MockFetcher 是用于测试的模拟远端馈送实现。
type MockFetcher struct {
	details  map[string]*domain.ExecutionDetail
	analyses map[string]*domain.ErrorAnalysis
}

func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		details:  make(map[string]*domain.ExecutionDetail),
		analyses: make(map[string]*domain.ErrorAnalysis),
	}
}

func (m *MockFetcher) QueryExecutionDetail(ctx context.Context, requestID string) (*domain.ExecutionDetail, error) {
	if d, ok := m.details[requestID]; ok {
		return d, nil
	}
	return nil, domain.ErrDetailNotFound
}

func (m *MockFetcher) QueryErrorAnalysis(ctx context.Context, requestID string) (*domain.ErrorAnalysis, error) {
	if a, ok := m.analyses[requestID]; ok {
		return a, nil
	}
	return nil, domain.ErrAnalysisNotFound
}

func (m *MockFetcher) RequestErrorAnalysis(ctx context.Context, req domain.AnalysisRequest, onPartial func(string)) (*domain.ErrorAnalysis, error) {
	if onPartial != nil {
		onPartial("analyzing ")
		onPartial("failure")
	}
	return &domain.ErrorAnalysis{
		ErrorID:   req.RequestID,
		RequestID: req.RequestID,
		RootCause: "mock root cause",
		Severity:  domain.SeverityHigh,
	}, nil
}

func (m *MockFetcher) RequestFixSuggestion(ctx context.Context, req domain.AnalysisRequest) (*domain.FixSuggestion, error) {
	return &domain.FixSuggestion{Suggestion: "mock fix"}, nil
}

// MockJobSource 返回固定的任务页。
type MockJobSource struct {
	page []domain.ScheduledJob
}

func (m *MockJobSource) QueryScheduledJobs(ctx context.Context, opts feed.PaginationOpts, udfPath string) (*feed.JobPage, error) {
	return &feed.JobPage{Page: m.page, IsDone: true}, nil
}

// MockStateSource 返回固定的部署状态。
type MockStateSource struct {
	state domain.DeploymentState
}

func (m *MockStateSource) QueryDeploymentState(ctx context.Context) (domain.DeploymentState, error) {
	return m.state, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newTestHandler 组装一个不启动任何后台轮询的处理器。
func newTestHandler(t *testing.T) (*Handler, *MockFetcher) {
	t.Helper()
	logger := testLogger()

	store := logstore.NewStore(1000)
	controller := logstore.NewController(logstore.Config{Interval: time.Hour}, store, nil, logger)

	fetcher := NewMockFetcher()
	corr := correlator.New(fetcher, nil, nil, logger)

	jobSource := &MockJobSource{page: []domain.ScheduledJob{
		{ID: "job-1", UdfPath: "crons:cleanup", State: domain.JobPending, NextTs: 1000},
	}}
	poller := jobs.NewPoller(jobs.Config{Interval: time.Hour}, jobSource, nil, logger)

	watcher := deploy.NewWatcher(&MockStateSource{state: domain.DeploymentRunning}, time.Hour, logger)

	return NewHandler(HandlerConfig{
		Controller: controller,
		Correlator: corr,
		Jobs:       poller,
		Deploy:     watcher,
		Logger:     logger,
	}), fetcher
}

// TestHealth 验证基本健康检查返回200与healthy状态。
func TestHealth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h := &Handler{}
	h.Health(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Health() status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["status"] != "healthy" {
		t.Errorf("Health() status = %s, want healthy", resp["status"])
	}
}

// TestLive 验证存活探针。
func TestLive(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()

	h := &Handler{}
	h.Live(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Live() status = %d, want %d", w.Code, http.StatusOK)
	}
}

// TestListLogs 验证快照端点应用查询参数里的过滤状态。
func TestListLogs(t *testing.T) {
	h, _ := newTestHandler(t)
	h.controller.Ingest([]domain.LogEntry{
		{Timestamp: 100, RequestID: "a", FunctionPath: "messages:send", Status: domain.StatusSuccess},
		{Timestamp: 200, RequestID: "b", FunctionPath: "users:create", Status: domain.StatusFailure, ErrorMessage: "boom"},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs?types=failure", nil)
	w := httptest.NewRecorder()
	h.ListLogs(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("ListLogs() status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Entries []domain.LogEntry `json:"entries"`
		Total   int               `json:"total"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Entries) != 1 || resp.Entries[0].RequestID != "b" {
		t.Errorf("ListLogs() entries = %+v, want only request b", resp.Entries)
	}
	if resp.Total != 2 {
		t.Errorf("ListLogs() total = %d, want 2", resp.Total)
	}
}

// TestListLogs_Limit 验证limit从最新端截取。
func TestListLogs_Limit(t *testing.T) {
	h, _ := newTestHandler(t)
	h.controller.Ingest([]domain.LogEntry{
		{Timestamp: 100, RequestID: "a"},
		{Timestamp: 200, RequestID: "b"},
		{Timestamp: 300, RequestID: "c"},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs?limit=2", nil)
	w := httptest.NewRecorder()
	h.ListLogs(w, req)

	var resp struct {
		Entries []domain.LogEntry `json:"entries"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Entries) != 2 || resp.Entries[0].RequestID != "b" {
		t.Errorf("ListLogs() entries = %+v, want newest two", resp.Entries)
	}
}

// TestSetPaused 验证暂停端点切换流状态。
func TestSetPaused(t *testing.T) {
	h, _ := newTestHandler(t)

	body := bytes.NewBufferString(`{"paused": true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/logs/pause", body)
	w := httptest.NewRecorder()
	h.SetPaused(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("SetPaused() status = %d, want %d", w.Code, http.StatusOK)
	}
}

// TestSetPaused_BadBody 验证非法请求体返回400。
func TestSetPaused_BadBody(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/logs/pause", strings.NewReader("not json"))
	w := httptest.NewRecorder()
	h.SetPaused(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("SetPaused() status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// TestClearLogs 验证清空后快照为空且总数归零。
func TestClearLogs(t *testing.T) {
	h, _ := newTestHandler(t)
	h.controller.Ingest([]domain.LogEntry{{Timestamp: 100, RequestID: "a"}})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/logs/clear", nil)
	w := httptest.NewRecorder()
	h.ClearLogs(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("ClearLogs() status = %d, want %d", w.Code, http.StatusOK)
	}
	if n := h.controller.Store().Len(); n != 0 {
		t.Errorf("buffer length after clear = %d, want 0", n)
	}
}

// TestListHistory_NotEnabled 验证未配置归档时返回501。
func TestListHistory_NotEnabled(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/history", nil)
	w := httptest.NewRecorder()
	h.ListHistory(w, req)

	if w.Code != http.StatusNotImplemented {
		t.Errorf("ListHistory() status = %d, want %d", w.Code, http.StatusNotImplemented)
	}
}

// TestGetExecutionDetail 验证详情端点等待取数完成后返回完整详情。
func TestGetExecutionDetail(t *testing.T) {
	h, fetcher := newTestHandler(t)
	fetcher.details["req-1"] = &domain.ExecutionDetail{
		ExecutionID: "exec-1",
		RequestID:   "req-1",
		Usage:       domain.UsageStats{MemoryUsedMB: 64},
	}

	r := NewRouter(&RouterConfig{Handler: h})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/executions/req-1/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GetExecutionDetail() status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var detail domain.ExecutionDetail
	json.NewDecoder(w.Body).Decode(&detail)
	if detail.ExecutionID != "exec-1" {
		t.Errorf("GetExecutionDetail() execution_id = %s, want exec-1", detail.ExecutionID)
	}
}

// TestGetExecutionDetail_NotFound 验证未知请求返回404。
func TestGetExecutionDetail_NotFound(t *testing.T) {
	h, _ := newTestHandler(t)

	r := NewRouter(&RouterConfig{Handler: h})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/executions/missing/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("GetExecutionDetail() status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// TestRequestAnalysis 验证NDJSON流先推部分文本、末行携带权威结果。
func TestRequestAnalysis(t *testing.T) {
	h, _ := newTestHandler(t)

	r := NewRouter(&RouterConfig{Handler: h})
	body := bytes.NewBufferString(`{"error_message": "boom"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/executions/req-1/analysis", body)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("RequestAnalysis() status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var chunks []domain.AnalysisChunk
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		var c domain.AnalysisChunk
		if err := json.Unmarshal(scanner.Bytes(), &c); err != nil {
			t.Fatalf("invalid ndjson line %q: %v", scanner.Text(), err)
		}
		chunks = append(chunks, c)
	}

	if len(chunks) != 3 {
		t.Fatalf("RequestAnalysis() chunks = %d, want 3", len(chunks))
	}
	if chunks[0].Final || chunks[1].Final {
		t.Error("partial chunks should not be marked final")
	}
	final := chunks[len(chunks)-1]
	if !final.Final || final.Analysis == nil || final.Analysis.RootCause != "mock root cause" {
		t.Errorf("final chunk = %+v, want authoritative analysis", final)
	}
}

// TestRequestFix 验证修复建议端点。
func TestRequestFix(t *testing.T) {
	h, _ := newTestHandler(t)

	r := NewRouter(&RouterConfig{Handler: h})
	body := bytes.NewBufferString(`{"error_message": "boom"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/executions/req-1/fix", body)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("RequestFix() status = %d, want %d", w.Code, http.StatusOK)
	}
	var fix domain.FixSuggestion
	json.NewDecoder(w.Body).Decode(&fix)
	if fix.Suggestion != "mock fix" {
		t.Errorf("RequestFix() suggestion = %s, want mock fix", fix.Suggestion)
	}
}

// TestListJobs 验证任务快照端点返回轮询结果。
func TestListJobs(t *testing.T) {
	h, _ := newTestHandler(t)
	if err := h.jobs.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()
	h.ListJobs(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("ListJobs() status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Jobs []domain.ScheduledJob `json:"jobs"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Jobs) != 1 || resp.Jobs[0].ID != "job-1" {
		t.Errorf("ListJobs() jobs = %+v, want job-1", resp.Jobs)
	}
}

// TestSetJobFilter 验证过滤器端点做路径规范化。
func TestSetJobFilter(t *testing.T) {
	h, _ := newTestHandler(t)

	body := bytes.NewBufferString(`{"udf_path": "crons.js:cleanup"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/filter", body)
	w := httptest.NewRecorder()
	h.SetJobFilter(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("SetJobFilter() status = %d, want %d", w.Code, http.StatusOK)
	}
}

// TestGetDeployment 验证部署状态端点聚合两条流水线的状态。
func TestGetDeployment(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/deployment", nil)
	w := httptest.NewRecorder()
	h.GetDeployment(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GetDeployment() status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]any
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["deployment_state"] != string(domain.DeploymentRunning) {
		t.Errorf("GetDeployment() deployment_state = %v, want running", resp["deployment_state"])
	}
}

// TestSessions_NotEnabled 验证未配置会话存储时相关端点返回501。
func TestSessions_NotEnabled(t *testing.T) {
	h, _ := newTestHandler(t)

	r := NewRouter(&RouterConfig{Handler: h})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/filter", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotImplemented {
		t.Errorf("GetSessionFilter() status = %d, want %d", w.Code, http.StatusNotImplemented)
	}
}

// TestLogin_NotConfigured 验证未配置认证时登录返回503。
func TestLogin_NotConfigured(t *testing.T) {
	h, _ := newTestHandler(t)

	body := bytes.NewBufferString(`{"api_key": "lm_whatever"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", body)
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Login() status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}
