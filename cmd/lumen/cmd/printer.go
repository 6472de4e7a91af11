// Package cmd 提供 lumen 命令行工具的所有子命令实现。
// 本文件实现输出格式化打印功能，支持多种输出格式。
//
// Printer 支持以下输出格式：
//   - table: 表格格式（默认），适合人类阅读
//   - json:  JSON 格式，适合程序处理
//   - yaml:  YAML 格式，适合配置文件
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/oriys/lumen/internal/domain"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Printer 是格式化输出的处理器。
type Printer struct {
	format string
	writer io.Writer
}

// NewPrinter 创建一个新的 Printer 实例。
// 从 viper 配置中读取 output 格式，未配置时默认 table。
func NewPrinter() *Printer {
	format := viper.GetString("output")
	if format == "" {
		format = "table"
	}
	return &Printer{
		format: format,
		writer: os.Stdout,
	}
}

// PrintLogs 打印日志条目列表。
func (p *Printer) PrintLogs(entries []domain.LogEntry) error {
	switch p.format {
	case "json":
		return p.printJSON(entries)
	case "yaml":
		return p.printYAML(entries)
	default:
		return p.printLogsTable(entries)
	}
}

func (p *Printer) printLogsTable(entries []domain.LogEntry) error {
	w := tabwriter.NewWriter(p.writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tCLASS\tFUNCTION\tREQUEST\tMESSAGE")
	for i := range entries {
		e := &entries[i]
		msg := e.Message
		if msg == "" && e.ErrorMessage != "" {
			msg = e.ErrorMessage
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			formatTimestamp(e.Timestamp), e.Class(), e.FunctionPath, shortID(e.RequestID), truncate(msg, 80))
	}
	return w.Flush()
}

// PrintJobs 打印定时任务列表。
func (p *Printer) PrintJobs(jobs []domain.ScheduledJob) error {
	switch p.format {
	case "json":
		return p.printJSON(jobs)
	case "yaml":
		return p.printYAML(jobs)
	default:
		return p.printJobsTable(jobs)
	}
}

func (p *Printer) printJobsTable(jobs []domain.ScheduledJob) error {
	w := tabwriter.NewWriter(p.writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFUNCTION\tSTATE\tNEXT RUN\tARGS")
	for i := range jobs {
		j := &jobs[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			shortID(j.ID), j.UdfPath, j.State, formatTimestamp(j.NextTs), truncate(j.DecodedArgs(), 40))
	}
	return w.Flush()
}

// PrintDetail 打印一次执行的详情。
func (p *Printer) PrintDetail(detail *domain.ExecutionDetail) error {
	switch p.format {
	case "json":
		return p.printJSON(detail)
	case "yaml":
		return p.printYAML(detail)
	}

	fmt.Fprintf(p.writer, "Execution:    %s\n", detail.ExecutionID)
	fmt.Fprintf(p.writer, "Request:      %s\n", detail.RequestID)
	if detail.FunctionPath != "" {
		fmt.Fprintf(p.writer, "Function:     %s\n", detail.FunctionPath)
	}
	if detail.Caller != "" {
		fmt.Fprintf(p.writer, "Caller:       %s\n", detail.Caller)
	}
	if detail.IdentityType != "" {
		fmt.Fprintf(p.writer, "Identity:     %s\n", detail.IdentityType)
	}
	fmt.Fprintf(p.writer, "Memory:       %.1f MB\n", detail.Usage.MemoryUsedMB)
	fmt.Fprintf(p.writer, "DB read:      %d bytes / %d documents\n",
		detail.Usage.DatabaseReadBytes, detail.Usage.DatabaseReadDocuments)
	fmt.Fprintf(p.writer, "DB write:     %d bytes / %d documents\n",
		detail.Usage.DatabaseWriteBytes, detail.Usage.DatabaseWriteDocuments)
	fmt.Fprintf(p.writer, "Return size:  %d bytes\n", detail.ReturnBytes)

	if len(detail.NestedCalls) > 0 {
		fmt.Fprintln(p.writer, "\nNested calls:")
		w := tabwriter.NewWriter(p.writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  FUNCTION\tOK\tDURATION")
		for _, call := range detail.NestedCalls {
			fmt.Fprintf(w, "  %s\t%v\t%.1fms\n", call.FunctionPath, call.Success, call.DurationMs)
		}
		return w.Flush()
	}
	return nil
}

// PrintAnalysis 打印错误诊断结果。
func (p *Printer) PrintAnalysis(a *domain.ErrorAnalysis) error {
	switch p.format {
	case "json":
		return p.printJSON(a)
	case "yaml":
		return p.printYAML(a)
	}

	fmt.Fprintf(p.writer, "Severity:    %s (confidence %.0f%%)\n", a.Severity, a.Confidence*100)
	fmt.Fprintf(p.writer, "Root cause:  %s\n", a.RootCause)
	if len(a.Suggestions) > 0 {
		fmt.Fprintln(p.writer, "Suggestions:")
		for i, s := range a.Suggestions {
			fmt.Fprintf(p.writer, "  %d. %s\n", i+1, s)
		}
	}
	return nil
}

// PrintStatus 打印部署与流水线状态。
func (p *Printer) PrintStatus(status *StatusResponse) error {
	switch p.format {
	case "json":
		return p.printJSON(status)
	case "yaml":
		return p.printYAML(status)
	}

	fmt.Fprintf(p.writer, "Deployment:  %s\n", status.DeploymentState)
	stream := status.StreamState
	if status.StreamStale {
		stream += " (stale)"
	}
	fmt.Fprintf(p.writer, "Log stream:  %s\n", stream)
	fmt.Fprintf(p.writer, "Job poller:  %s\n", status.JobsState)
	return nil
}

func (p *Printer) printJSON(v any) error {
	enc := json.NewEncoder(p.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *Printer) printYAML(v any) error {
	return yaml.NewEncoder(p.writer).Encode(v)
}

// formatTimestamp 把毫秒时间戳渲染为本地时间。
func formatTimestamp(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("15:04:05.000")
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	if id == "" {
		return "-"
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-1] + "…"
	}
	return s
}
