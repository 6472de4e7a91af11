// Package cmd 提供 lumen 命令行工具的所有子命令实现。
// 本文件实现 status 命令，用于查看部署与流水线状态。
package cmd

import (
	"github.com/spf13/cobra"
)

// statusCmd 查看部署运行状态和面板流水线状态。
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View deployment and pipeline status",
	Long: `View the running state of the deployment and the panel's
log stream and job polling pipelines.

Examples:
  lumen status
  lumen status -o json`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// runStatus 是 status 命令的执行函数。
func runStatus(cmd *cobra.Command, args []string) error {
	status, err := NewClient().GetStatus()
	if err != nil {
		return err
	}
	return NewPrinter().PrintStatus(status)
}
