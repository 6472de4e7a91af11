// Package feed 提供访问远端部署管理 API 的 Go 客户端封装。
// 该包将面板用到的查询（日志增量、定时任务分页、部署状态、错误分析）
// 封装为结构化方法，并在边界完成时间戳单位归一等数据清洗。
package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oriys/lumen/internal/domain"
)

// Client 是部署管理 API 的 HTTP 客户端。
type Client struct {
	baseURL  string
	adminKey string

	httpClient *http.Client
	// streamClient 不设整体超时，用于分析生成这类长请求，取消依赖 ctx
	streamClient *http.Client
}

// New 创建一个新的客户端。
// baseURL 为空时默认使用 http://localhost:3210。
func New(baseURL, adminKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:3210"
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		adminKey: adminKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		streamClient: &http.Client{},
	}
}

// SetTransport 为两个底层客户端注入传输层，用于挂接追踪。
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.httpClient.Transport = rt
	c.streamClient.Transport = rt
}

// LogBatch 表示一次日志增量查询的结果。
type LogBatch struct {
	// Entries 本批次的日志条目，批内按远端给出的顺序
	Entries []domain.LogEntry `json:"entries"`
	// NextCursor 下一次查询的续传游标（不透明）
	NextCursor string `json:"next_cursor"`
}

// PaginationOpts 表示分页查询选项。
type PaginationOpts struct {
	// NumItems 单页条数
	NumItems int `json:"num_items"`
	// Cursor 续传游标，空表示第一页
	Cursor string `json:"cursor,omitempty"`
}

// JobPage 表示一页定时任务查询结果。
type JobPage struct {
	// Page 本页任务，NextTs 已在边界归一为毫秒
	Page []domain.ScheduledJob `json:"page"`
	// ContinueCursor 续传游标
	ContinueCursor string `json:"continue_cursor"`
	// IsDone 是否已到末页
	IsDone bool `json:"is_done"`
}

// rawScheduledJob 是定时任务的线上形态，next_ts 单位不定。
type rawScheduledJob struct {
	ID      string          `json:"id"`
	UdfPath string          `json:"udf_path"`
	Args    json.RawMessage `json:"args,omitempty"`
	State   domain.JobState `json:"state"`
	NextTs  int64           `json:"next_ts"`
}

// apiError 是远端返回的标准错误结构。
type apiError struct {
	Message string `json:"error"`
	Code    string `json:"code,omitempty"`
}

func (e *apiError) Error() string {
	if e == nil || e.Message == "" {
		return "api error"
	}
	return e.Message
}

// do 是内部通用请求方法，负责：
// - 拼接 URL 与 query
// - JSON 编码请求体并附加管理密钥
// - 发起 HTTP 请求并解析 JSON 响应
// - 将 4xx/5xx 转换为可读错误
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, result any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.adminKey != "" {
		req.Header.Set("Authorization", "Convex "+c.adminKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return &apiErr
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// QueryLogs 查询自 cursor 以来的新日志条目。
// cursor 为空表示从远端的最新位置开始。
func (c *Client) QueryLogs(ctx context.Context, cursor string) (*LogBatch, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var batch LogBatch
	if err := c.do(ctx, http.MethodGet, "/api/stream_function_logs", q, nil, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

// QueryScheduledJobs 查询一页定时任务，可按函数标识过滤。
// 返回前把每个任务的 next_ts 归一为毫秒，下游不再猜测单位。
func (c *Client) QueryScheduledJobs(ctx context.Context, opts PaginationOpts, udfPath string) (*JobPage, error) {
	if opts.NumItems <= 0 {
		opts.NumItems = 50
	}

	body := struct {
		Pagination PaginationOpts `json:"pagination"`
		UdfPath    string         `json:"udf_path,omitempty"`
	}{Pagination: opts, UdfPath: udfPath}

	var raw struct {
		Page           []rawScheduledJob `json:"page"`
		ContinueCursor string            `json:"continue_cursor"`
		IsDone         bool              `json:"is_done"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/scheduled_jobs", nil, body, &raw); err != nil {
		return nil, err
	}

	page := &JobPage{
		Page:           make([]domain.ScheduledJob, 0, len(raw.Page)),
		ContinueCursor: raw.ContinueCursor,
		IsDone:         raw.IsDone,
	}
	for _, rj := range raw.Page {
		page.Page = append(page.Page, domain.ScheduledJob{
			ID:      rj.ID,
			UdfPath: domain.NormalizeFunctionPath(rj.UdfPath),
			Args:    rj.Args,
			State:   rj.State,
			NextTs:  domain.NormalizeTimestampMs(rj.NextTs),
		})
	}
	return page, nil
}

// QueryDeploymentState 查询部署的运行状态。
func (c *Client) QueryDeploymentState(ctx context.Context) (domain.DeploymentState, error) {
	var resp struct {
		State domain.DeploymentState `json:"state"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/deployment_state", nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.State, nil
}

// QueryExecutionDetail 查询一次执行的展开详情。
// 远端未记录该执行时返回 domain.ErrDetailNotFound。
func (c *Client) QueryExecutionDetail(ctx context.Context, requestID string) (*domain.ExecutionDetail, error) {
	q := url.Values{}
	q.Set("request_id", requestID)

	var detail domain.ExecutionDetail
	err := c.do(ctx, http.MethodGet, "/api/execution_detail", q, nil, &detail)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Code == "not_found" {
			return nil, domain.ErrDetailNotFound
		}
		return nil, err
	}
	return &detail, nil
}

// QueryErrorAnalysis 查询已持久化的错误分析。
// 不触发生成；没有分析时返回 domain.ErrAnalysisNotFound。
func (c *Client) QueryErrorAnalysis(ctx context.Context, requestID string) (*domain.ErrorAnalysis, error) {
	q := url.Values{}
	q.Set("request_id", requestID)

	var resp struct {
		Analysis *domain.ErrorAnalysis `json:"analysis"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/error_analysis", q, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Analysis == nil {
		return nil, domain.ErrAnalysisNotFound
	}
	return resp.Analysis, nil
}

// RequestErrorAnalysis 触发错误分析生成。
// 远端以换行分隔的 JSON 块流式返回；每个携带部分文本的块
// 会回调 onPartial（可为 nil）。部分文本只服务于渐进展示，
// 权威结果是终结块里的完整分析对象。
func (c *Client) RequestErrorAnalysis(ctx context.Context, req domain.AnalysisRequest, onPartial func(string)) (*domain.ErrorAnalysis, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/error_analysis/generate", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")
	if c.adminKey != "" {
		httpReq.Header.Set("Authorization", "Convex "+c.adminKey)
	}

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, &apiErr
		}
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var final *domain.ErrorAnalysis
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk domain.AnalysisChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			// 无法解析的块按部分文本丢弃，不中断流
			continue
		}
		if chunk.Final {
			final = chunk.Analysis
			break
		}
		if onPartial != nil && chunk.Text != "" {
			onPartial(chunk.Text)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read analysis stream: %w", err)
	}
	if final == nil {
		return nil, fmt.Errorf("analysis stream ended without a final result")
	}
	return final, nil
}

// RequestFixSuggestion 请求针对一个错误的修复建议。
func (c *Client) RequestFixSuggestion(ctx context.Context, req domain.AnalysisRequest) (*domain.FixSuggestion, error) {
	var suggestion domain.FixSuggestion
	if err := c.do(ctx, http.MethodPost, "/api/fix_suggestion", nil, req, &suggestion); err != nil {
		return nil, err
	}
	return &suggestion, nil
}
