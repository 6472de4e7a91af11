package domain

import "errors"

// 领域错误定义
// 这些错误用于在应用程序的不同层之间传递业务逻辑相关的错误信息。

var (
	// ========== 日志流相关错误 ==========

	// ErrNotConfigured 表示远端端点或凭据尚未配置。
	// 这是合法的“未配置”状态而非故障，流控制器据此停留在 Idle。
	ErrNotConfigured = errors.New("deployment not configured")
	// ErrStreamClosed 表示日志流控制器已关闭
	ErrStreamClosed = errors.New("log stream closed")
	// ErrSuperseded 表示请求已被更新的请求取代，结果被丢弃
	ErrSuperseded = errors.New("request superseded")

	// ========== 执行详情相关错误 ==========

	// ErrDetailNotFound 表示请求 id 对应的执行详情不存在
	ErrDetailNotFound = errors.New("execution detail not found")
	// ErrAnalysisNotFound 表示该执行没有已持久化的错误分析
	ErrAnalysisNotFound = errors.New("error analysis not found")
	// ErrAnalysisInFlight 表示同一请求 id 的分析正在生成中
	ErrAnalysisInFlight = errors.New("analysis already in flight")

	// ========== 定时任务相关错误 ==========

	// ErrJobNotFound 表示请求的定时任务不存在
	ErrJobNotFound = errors.New("scheduled job not found")
	// ErrPollerSuspended 表示轮询因部署暂停而挂起
	ErrPollerSuspended = errors.New("poller suspended")

	// ========== 会话相关错误 ==========

	// ErrSessionNotFound 表示会话不存在或已过期
	ErrSessionNotFound = errors.New("session not found")
)

// DeploymentState 表示远端部署的运行状态。
type DeploymentState string

// 部署状态常量定义
const (
	// DeploymentRunning 表示部署正常运行
	DeploymentRunning DeploymentState = "running"
	// DeploymentPaused 表示部署被暂停，轮询器应挂起
	DeploymentPaused DeploymentState = "paused"
	// DeploymentDisabled 表示部署被禁用
	DeploymentDisabled DeploymentState = "disabled"
)
