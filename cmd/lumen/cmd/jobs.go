// Package cmd 提供 lumen 命令行工具的所有子命令实现。
// 本文件实现 jobs 命令，用于查看定时任务快照。
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// jobsCmd 是 jobs 命令的 cobra.Command 实例。
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "View scheduled function jobs",
	Long: `View the current snapshot of scheduled jobs on the deployment.

Examples:
  # View the snapshot
  lumen jobs

  # Narrow to one function and refetch immediately
  lumen jobs --filter crons:cleanup

  # Force a refresh before printing
  lumen jobs --refresh`,
	RunE: runJobs,
}

var (
	jobsFilter  string // 任务查询的函数过滤器
	jobsRefresh bool   // 是否在打印前强制刷新
)

// init 注册 jobs 命令并设置命令行标志。
func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.Flags().StringVar(&jobsFilter, "filter", "", "Only show jobs for this function path")
	jobsCmd.Flags().BoolVar(&jobsRefresh, "refresh", false, "Trigger an immediate refetch before printing")
}

// runJobs 是 jobs 命令的执行函数。
// 过滤器变更与手动刷新都会触发守护进程立即重取，
// 这里留一个短暂窗口等快照落地再读取。
func runJobs(cmd *cobra.Command, args []string) error {
	client := NewClient()

	if cmd.Flags().Changed("filter") {
		if err := client.SetJobFilter(jobsFilter); err != nil {
			return err
		}
		time.Sleep(500 * time.Millisecond)
	} else if jobsRefresh {
		if err := client.RefreshJobs(); err != nil {
			return err
		}
		time.Sleep(500 * time.Millisecond)
	}

	resp, err := client.ListJobs()
	if err != nil {
		return err
	}

	if resp.State == "suspended" {
		fmt.Println("Note: job polling is suspended (deployment paused or disabled).")
	}
	if len(resp.Jobs) == 0 {
		fmt.Println("No scheduled jobs in the current snapshot.")
		return nil
	}

	printer := NewPrinter()
	return printer.PrintJobs(resp.Jobs)
}
