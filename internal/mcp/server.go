// Package mcp 把面板的只读能力暴露为 MCP 工具，
// 供 AI 编码助手直接查询日志、执行详情和定时任务。
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/oriys/lumen/internal/correlator"
	"github.com/oriys/lumen/internal/deploy"
	"github.com/oriys/lumen/internal/domain"
	"github.com/oriys/lumen/internal/filter"
	"github.com/oriys/lumen/internal/jobs"
	"github.com/oriys/lumen/internal/logstore"
	"github.com/sirupsen/logrus"
)

// Server 是面板的 MCP 服务端。
type Server struct {
	mcp        *server.MCPServer
	controller *logstore.Controller
	correlator *correlator.Correlator
	jobs       *jobs.Poller
	deploy     *deploy.Watcher
	logger     *logrus.Logger
}

// Config 汇总 MCP 服务端的依赖。
type Config struct {
	Controller *logstore.Controller
	Correlator *correlator.Correlator
	Jobs       *jobs.Poller
	Deploy     *deploy.Watcher
	Logger     *logrus.Logger
}

// NewServer 创建 MCP 服务端并注册全部工具。
func NewServer(cfg Config) *Server {
	s := &Server{
		controller: cfg.Controller,
		correlator: cfg.Correlator,
		jobs:       cfg.Jobs,
		deploy:     cfg.Deploy,
		logger:     cfg.Logger,
	}

	s.mcp = server.NewMCPServer("lumen-panel", "0.1.0",
		server.WithToolCapabilities(false),
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("query_logs",
		mcp.WithDescription("Query the live log buffer of the connected deployment. Returns entries in timestamp order, newest last."),
		mcp.WithString("q", mcp.Description("Case-insensitive substring to match against message, function path, request id and error message")),
		mcp.WithString("types", mcp.Description("Comma-separated log classes to include: success, failure, debug, info, warn, error. Empty means all")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of entries to return, counted from the newest. Default 100")),
	), s.handleQueryLogs)

	s.mcp.AddTool(mcp.NewTool("get_execution_detail",
		mcp.WithDescription("Resolve the expanded view of one function execution: usage stats, caller identity and nested calls."),
		mcp.WithString("request_id", mcp.Required(), mcp.Description("Request id of the execution, as seen in log entries")),
	), s.handleExecutionDetail)

	s.mcp.AddTool(mcp.NewTool("request_error_analysis",
		mcp.WithDescription("Ask the deployment's AI service to diagnose a failed execution. Returns root cause, severity and suggestions."),
		mcp.WithString("request_id", mcp.Required(), mcp.Description("Request id of the failed execution")),
		mcp.WithString("error_message", mcp.Description("Error message observed in the logs, improves diagnosis quality")),
	), s.handleErrorAnalysis)

	s.mcp.AddTool(mcp.NewTool("list_scheduled_jobs",
		mcp.WithDescription("List the current snapshot of scheduled function jobs on the deployment."),
	), s.handleListJobs)

	s.mcp.AddTool(mcp.NewTool("deployment_status",
		mcp.WithDescription("Report the running state of the deployment and of the panel's log and job pipelines."),
	), s.handleDeploymentStatus)
}

func (s *Server) handleQueryLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state := domain.NewFilterState()
	state.SearchQuery = req.GetString("q", "")
	if types := req.GetString("types", ""); types != "" {
		state.SelectedLogTypes = make(map[domain.LogClass]bool)
		for _, t := range splitCSV(types) {
			state.SelectedLogTypes[domain.LogClass(t)] = true
		}
	}

	entries := filter.Apply(s.controller.Store().Snapshot(), state)
	limit := req.GetInt("limit", 100)
	if limit > 0 && limit < len(entries) {
		entries = entries[len(entries)-limit:]
	}
	return jsonResult(map[string]any{
		"entries": entries,
		"total":   s.controller.Store().Len(),
	})
}

func (s *Server) handleExecutionDetail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	requestID, err := req.RequireString("request_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res := s.correlator.GetDetail(ctx, requestID)
	if res.State == correlator.DetailPending {
		res = s.correlator.Wait(ctx, requestID)
	}
	if res.State != correlator.DetailReady {
		return mcp.NewToolResultError(fmt.Sprintf("detail for %s unavailable: %v", requestID, res.Err)), nil
	}
	return jsonResult(res.Detail)
}

func (s *Server) handleErrorAnalysis(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	requestID, err := req.RequireString("request_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	analysis, err := s.correlator.RequestAnalysis(ctx, domain.AnalysisRequest{
		RequestID:    requestID,
		ErrorMessage: req.GetString("error_message", ""),
	}, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("analysis failed: %v", err)), nil
	}
	return jsonResult(analysis)
}

func (s *Server) handleListJobs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{
		"jobs":  s.jobs.Jobs(),
		"state": s.jobs.State(),
	})
}

func (s *Server) handleDeploymentStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{
		"deployment_state": s.deploy.State(),
		"stream_state":     s.controller.State(),
		"stream_stale":     s.controller.Stale(),
		"jobs_state":       s.jobs.State(),
	})
}

// HTTPServer 返回可挂载到现有监听器上的流式 HTTP 服务端。
func (s *Server) HTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(s.mcp)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
