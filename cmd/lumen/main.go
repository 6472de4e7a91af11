// Package main 是 lumen 命令行工具的入口点
// lumen 是面板守护进程的终端客户端，提供日志查看、
// 执行详情解析、错误诊断和定时任务查询等操作
package main

import (
	"os"

	"github.com/oriys/lumen/cmd/lumen/cmd"
)

// main 是 CLI 工具的主函数
// 它调用 cmd 包的 Execute 函数来解析和执行用户命令
func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
