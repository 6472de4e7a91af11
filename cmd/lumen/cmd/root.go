// Package cmd 包含 lumen CLI 工具的所有命令实现
// 使用 cobra 框架构建命令行接口
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// 全局命令行标志变量
var (
	cfgFile   string // 配置文件路径
	apiURL    string // 面板守护进程地址
	apiKey    string // 面板 API Key
	outputFmt string // 输出格式（table/json/yaml）
)

// rootCmd 是 CLI 的根命令
// 所有子命令都挂载在这个根命令下
var rootCmd = &cobra.Command{
	Use:   "lumen",
	Short: "Lumen - deployment panel CLI",
	Long: `lumen 是面板守护进程的命令行客户端，用于在终端里观察一个
部署的日志流、执行详情、错误诊断和定时任务。

使用示例:
  # 查看最近的日志
  lumen logs

  # 实时跟随失败日志
  lumen logs --follow --types failure,error

  # 查看一次执行的详情
  lumen detail req-01hq3k...

  # 对失败执行请求 AI 诊断
  lumen analyze req-01hq3k...

  # 查看定时任务快照
  lumen jobs`,
}

// Execute 执行根命令
// 这是 CLI 的入口函数，由 main 包调用
func Execute() error {
	return rootCmd.Execute()
}

// init 初始化命令行工具
// 注册全局标志和配置初始化函数
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径（默认为 $HOME/.lumen.yaml）")
	rootCmd.PersistentFlags().StringVarP(&apiURL, "api-url", "u", "http://localhost:8080", "面板守护进程地址")
	rootCmd.PersistentFlags().StringVarP(&apiKey, "api-key", "k", "", "面板 API Key（认证启用时必需）")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "输出格式（table、json、yaml）")

	viper.BindPFlag("api_url", rootCmd.PersistentFlags().Lookup("api-url"))
	viper.BindPFlag("api_key", rootCmd.PersistentFlags().Lookup("api-key"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
}

// initConfig 初始化配置
// 按优先级加载配置：命令行标志 > 环境变量 > 配置文件
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".lumen")
	}

	// 环境变量格式：LUMEN_<KEY>，如 LUMEN_API_URL
	viper.SetEnvPrefix("LUMEN")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}
