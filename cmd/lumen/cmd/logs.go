// Package cmd 提供 lumen 命令行工具的所有子命令实现。
// 本文件实现 logs 命令，用于查看与实时跟随部署日志。
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/oriys/lumen/internal/domain"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// logsCmd 是 logs 命令的 cobra.Command 实例。
var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View deployment logs",
	Long: `View the panel daemon's log buffer, or follow the live stream.

Examples:
  # View the most recent logs
  lumen logs

  # Search for a term
  lumen logs -q "payment"

  # Only failures and errors
  lumen logs --types failure,error

  # Follow the live stream (Ctrl+C to stop)
  lumen logs --follow

  # Output as JSON
  lumen logs -o json`,
	RunE: runLogs,
}

var (
	logsLimit  int    // 显示的条目数量上限
	logsQuery  string // 自由文本搜索词
	logsTypes  string // 逗号分隔的日志归类子集
	logsFollow bool   // 是否跟随实时日志流
)

// init 注册 logs 命令并设置命令行标志。
func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 50, "Number of entries to show")
	logsCmd.Flags().StringVarP(&logsQuery, "query", "q", "", "Case-insensitive search term")
	logsCmd.Flags().StringVar(&logsTypes, "types", "", "Comma-separated log classes (success,failure,debug,info,warn,error)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow the live stream over WebSocket")
}

// runLogs 是 logs 命令的执行函数。
func runLogs(cmd *cobra.Command, args []string) error {
	client := NewClient()

	if logsFollow {
		return followLogs(client)
	}

	resp, err := client.ListLogs(logsQuery, logsTypes, logsLimit)
	if err != nil {
		return err
	}
	if len(resp.Entries) == 0 {
		fmt.Println("No log entries match the current filter.")
		return nil
	}

	printer := NewPrinter()
	if err := printer.PrintLogs(resp.Entries); err != nil {
		return err
	}
	if viper.GetString("output") == "table" && resp.Total > len(resp.Entries) {
		fmt.Printf("\nShowing %d of %d buffered entries.\n", len(resp.Entries), resp.Total)
	}
	return nil
}

// followLogs 通过 WebSocket 跟随实时日志流。
// 服务端先推当前快照再推增量批次，条目按批次渲染。
func followLogs(client *Client) error {
	wsURL, err := buildWebSocketURL(client.baseURL, "/api/v1/logs/stream", url.Values{
		"q":     {logsQuery},
		"types": {logsTypes},
	})
	if err != nil {
		return err
	}

	header := make(map[string][]string)
	if client.apiKey != "" {
		header["X-API-Key"] = []string{client.apiKey}
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		return fmt.Errorf("failed to connect log stream: %w", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	fmt.Println("Following logs (Ctrl+C to stop)...")

	printer := NewPrinter()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// 用户中断按正常退出处理
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("log stream closed: %w", err)
		}

		var batch []domain.LogEntry
		if err := json.Unmarshal(data, &batch); err != nil {
			continue
		}
		if err := printer.PrintLogs(batch); err != nil {
			return err
		}
	}
}

// clearCmd 清空守护进程的日志缓冲区。
// 清空不会让已见过的条目因远端重放再次出现。
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the log buffer",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := NewClient().ClearLogs(); err != nil {
			return err
		}
		fmt.Println("Log buffer cleared.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clearCmd)
}

// buildWebSocketURL 把 HTTP 基地址转换为 WebSocket 地址并拼接查询参数。
func buildWebSocketURL(baseURL, path string, params url.Values) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid api url %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path

	q := u.Query()
	for key, values := range params {
		for _, v := range values {
			if v != "" {
				q.Set(key, v)
			}
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
