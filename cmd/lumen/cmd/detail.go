// Package cmd 提供 lumen 命令行工具的所有子命令实现。
// 本文件实现 detail 与 analyze 命令，用于解析执行详情和请求 AI 诊断。
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// detailCmd 查看一次执行的展开详情。
var detailCmd = &cobra.Command{
	Use:   "detail <request-id>",
	Short: "View execution detail",
	Long: `Resolve the expanded view of one function execution:
usage stats, caller identity and nested calls.

Examples:
  lumen detail req-01hq3k...
  lumen detail req-01hq3k... -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runDetail,
}

// analyzeCmd 对失败执行请求 AI 诊断。
var analyzeCmd = &cobra.Command{
	Use:   "analyze <request-id>",
	Short: "Request AI diagnosis for a failed execution",
	Long: `Ask the deployment's AI service to diagnose a failed execution.
Partial text is shown while the diagnosis is being generated; the
final structured result is printed when generation completes.

Examples:
  lumen analyze req-01hq3k...
  lumen analyze req-01hq3k... --message "Uncaught TypeError: ..."
  lumen analyze req-01hq3k... --fix`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

var (
	analyzeMessage string // 失败时观测到的错误信息
	analyzeFix     bool   // 是否同时请求修复建议
)

// init 注册 detail 与 analyze 命令。
func init() {
	rootCmd.AddCommand(detailCmd)
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVarP(&analyzeMessage, "message", "m", "", "Error message observed in the logs")
	analyzeCmd.Flags().BoolVar(&analyzeFix, "fix", false, "Also request a fix suggestion")
}

// runDetail 是 detail 命令的执行函数。
func runDetail(cmd *cobra.Command, args []string) error {
	detail, err := NewClient().GetDetail(args[0])
	if err != nil {
		return err
	}
	return NewPrinter().PrintDetail(detail)
}

// runAnalyze 是 analyze 命令的执行函数。
// 表格输出时部分文本实时写到 stderr，结构化结果写到 stdout，
// 管道场景下只拿到最终结果。
func runAnalyze(cmd *cobra.Command, args []string) error {
	requestID := args[0]
	client := NewClient()

	var onPartial func(string)
	if viper.GetString("output") == "table" {
		onPartial = func(text string) {
			fmt.Fprint(os.Stderr, text)
		}
	}

	analysis, err := client.RequestAnalysis(requestID, analyzeMessage, onPartial)
	if err != nil {
		return err
	}
	if onPartial != nil {
		fmt.Fprintln(os.Stderr)
	}

	printer := NewPrinter()
	if err := printer.PrintAnalysis(analysis); err != nil {
		return err
	}

	if analyzeFix {
		fix, err := client.RequestFix(requestID, analyzeMessage)
		if err != nil {
			return err
		}
		fmt.Printf("\nFix suggestion:\n%s\n", fix.Suggestion)
		if fix.CodeExample != "" {
			fmt.Printf("\n%s\n", fix.CodeExample)
		}
		for _, link := range fix.DocumentationLinks {
			fmt.Printf("  - %s\n", link)
		}
	}
	return nil
}
