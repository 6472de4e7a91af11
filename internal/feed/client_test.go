// Package feed 提供访问远端部署管理 API 的 Go 客户端封装。
package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oriys/lumen/internal/domain"
)

// TestClient_QueryLogs 测试日志增量查询与游标传递。
func TestClient_QueryLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/stream_function_logs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("cursor"); got != "cur-1" {
			t.Errorf("cursor = %q, want %q", got, "cur-1")
		}
		if got := r.Header.Get("Authorization"); got != "Convex test-key" {
			t.Errorf("auth header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"entries":[{"timestamp":100,"request_id":"a","status":"success"}],"next_cursor":"cur-2"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	batch, err := c.QueryLogs(context.Background(), "cur-1")
	if err != nil {
		t.Fatalf("QueryLogs() error = %v", err)
	}
	if len(batch.Entries) != 1 || batch.Entries[0].RequestID != "a" {
		t.Errorf("unexpected entries: %+v", batch.Entries)
	}
	if batch.NextCursor != "cur-2" {
		t.Errorf("NextCursor = %q, want %q", batch.NextCursor, "cur-2")
	}
}

// TestClient_QueryScheduledJobs_NormalizesTimestamps 测试任务时间戳在边界被归一。
func TestClient_QueryScheduledJobs_NormalizesTimestamps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// 一个毫秒级、一个纳秒级，归一后应一致
		fmt.Fprint(w, `{"page":[
			{"id":"j1","udf_path":"crons.js:cleanup","state":"pending","next_ts":1700000000000},
			{"id":"j2","udf_path":"crons:cleanup","state":"pending","next_ts":1700000000000000000}
		],"continue_cursor":"","is_done":true}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	page, err := c.QueryScheduledJobs(context.Background(), PaginationOpts{NumItems: 50}, "")
	if err != nil {
		t.Fatalf("QueryScheduledJobs() error = %v", err)
	}
	if len(page.Page) != 2 {
		t.Fatalf("got %d jobs, want 2", len(page.Page))
	}
	for _, j := range page.Page {
		if j.NextTs != 1700000000000 {
			t.Errorf("job %s NextTs = %d, want normalized millis", j.ID, j.NextTs)
		}
		// .js 构件同样在边界规范化
		if j.UdfPath != "crons:cleanup" {
			t.Errorf("job %s UdfPath = %q, want normalized", j.ID, j.UdfPath)
		}
	}
}

// TestClient_QueryErrorAnalysis_Miss 测试无已持久化分析时的哨兵错误。
func TestClient_QueryErrorAnalysis_Miss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"analysis":null}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.QueryErrorAnalysis(context.Background(), "req-1")
	if err != domain.ErrAnalysisNotFound {
		t.Errorf("error = %v, want ErrAnalysisNotFound", err)
	}
}

// TestClient_RequestErrorAnalysis_Streaming 测试分析生成的流式消费：
// 部分文本逐块回调，终结块给出权威结果。
func TestClient_RequestErrorAnalysis_Streaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"text":"Root cause: "}`)
		fmt.Fprintln(w, `{"text":"nil pointer"}`)
		fmt.Fprintln(w, `{"final":true,"analysis":{"error_id":"req-1","root_cause":"nil pointer dereference","severity":"high","confidence":0.9}}`)
	}))
	defer srv.Close()

	var partials []string
	c := New(srv.URL, "")
	analysis, err := c.RequestErrorAnalysis(context.Background(), domain.AnalysisRequest{RequestID: "req-1"}, func(text string) {
		partials = append(partials, text)
	})
	if err != nil {
		t.Fatalf("RequestErrorAnalysis() error = %v", err)
	}
	if analysis.RootCause != "nil pointer dereference" {
		t.Errorf("RootCause = %q", analysis.RootCause)
	}
	if analysis.Severity != domain.SeverityHigh {
		t.Errorf("Severity = %q", analysis.Severity)
	}
	if strings.Join(partials, "") != "Root cause: nil pointer" {
		t.Errorf("partials = %v", partials)
	}
}

// TestClient_APIError 测试 4xx 响应转换为可读错误。
func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":"invalid admin key"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "bad-key")
	_, err := c.QueryDeploymentState(context.Background())
	if err == nil || err.Error() != "invalid admin key" {
		t.Errorf("error = %v, want api error message", err)
	}
}
