// Package cmd 提供 lumen 命令行工具的所有子命令实现。
// 本文件实现面板守护进程的 API 客户端。
//
// Client 封装了与守护进程的全部交互，包括：
//   - 日志缓冲区查询与流控制
//   - 执行详情与错误诊断
//   - 定时任务快照查询
//   - 部署状态查询
//
// 客户端使用 HTTP/JSON 协议通信，认证启用时通过 X-API-Key 头携带密钥。
package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oriys/lumen/internal/domain"
	"github.com/spf13/viper"
)

// Client 是面板守护进程的 API 客户端。
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient 创建一个新的 API 客户端实例。
// 从 viper 配置中读取 api_url 和 api_key。
func NewClient() *Client {
	baseURL := viper.GetString("api_url")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  viper.GetString("api_key"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// LogsResponse 是日志快照查询的响应体。
type LogsResponse struct {
	Entries []domain.LogEntry `json:"entries"`
	Total   int               `json:"total"`
}

// JobsResponse 是任务快照查询的响应体。
type JobsResponse struct {
	Jobs  []domain.ScheduledJob `json:"jobs"`
	State string                `json:"state"`
}

// StatusResponse 是部署状态查询的响应体。
type StatusResponse struct {
	DeploymentState string `json:"deployment_state"`
	StreamState     string `json:"stream_state"`
	StreamStale     bool   `json:"stream_stale"`
	JobsState       string `json:"jobs_state"`
}

// ListLogs 查询过滤后的日志缓冲区快照。
func (c *Client) ListLogs(query, types string, limit int) (*LogsResponse, error) {
	params := url.Values{}
	if query != "" {
		params.Set("q", query)
	}
	if types != "" {
		params.Set("types", types)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}

	var resp LogsResponse
	if err := c.get("/api/v1/logs?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearLogs 清空守护进程的日志缓冲区。
func (c *Client) ClearLogs() error {
	return c.post("/api/v1/logs/clear", nil, nil)
}

// GetDetail 查询一次执行的详情。
func (c *Client) GetDetail(requestID string) (*domain.ExecutionDetail, error) {
	var detail domain.ExecutionDetail
	if err := c.get("/api/v1/executions/"+url.PathEscape(requestID), &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// RequestAnalysis 触发 AI 诊断并流式消费 NDJSON 响应。
// 每个部分文本片段回调一次 onPartial，返回最终的权威结果。
func (c *Client) RequestAnalysis(requestID, errorMessage string, onPartial func(string)) (*domain.ErrorAnalysis, error) {
	body, _ := json.Marshal(map[string]string{"error_message": errorMessage})
	req, err := http.NewRequest(http.MethodPost,
		c.baseURL+"/api/v1/executions/"+url.PathEscape(requestID)+"/analysis",
		bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	// 诊断生成可能远超常规超时，这里不限制整体时长
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var chunk domain.AnalysisChunk
		if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
			continue
		}
		if chunk.Final {
			return chunk.Analysis, nil
		}
		if chunk.Text != "" && onPartial != nil {
			onPartial(chunk.Text)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("analysis stream ended without a final result")
}

// RequestFix 请求修复建议。
func (c *Client) RequestFix(requestID, errorMessage string) (*domain.FixSuggestion, error) {
	var fix domain.FixSuggestion
	body := map[string]string{"error_message": errorMessage}
	if err := c.post("/api/v1/executions/"+url.PathEscape(requestID)+"/fix", body, &fix); err != nil {
		return nil, err
	}
	return &fix, nil
}

// ListJobs 查询定时任务的最新快照。
func (c *Client) ListJobs() (*JobsResponse, error) {
	var resp JobsResponse
	if err := c.get("/api/v1/jobs", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefreshJobs 触发一次任务快照刷新。
func (c *Client) RefreshJobs() error {
	return c.post("/api/v1/jobs/refresh", nil, nil)
}

// SetJobFilter 更换任务查询的函数过滤器。
func (c *Client) SetJobFilter(udfPath string) error {
	return c.post("/api/v1/jobs/filter", map[string]string{"udf_path": udfPath}, nil)
}

// GetStatus 查询部署与流水线状态。
func (c *Client) GetStatus() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.get("/api/v1/deployment", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach panel daemon at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

// decodeError 把错误响应还原为可读错误。
func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("%s (HTTP %d)", body.Error, resp.StatusCode)
	}
	return fmt.Errorf("request failed with HTTP %d", resp.StatusCode)
}
