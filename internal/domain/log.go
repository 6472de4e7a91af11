// Package domain 定义了控制面板的核心领域模型。
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// LogStatus 表示一次函数执行的结果状态。
type LogStatus string

// 执行状态常量定义
const (
	// StatusSuccess 表示函数执行成功
	StatusSuccess LogStatus = "success"
	// StatusError 表示函数执行返回了显式错误
	StatusError LogStatus = "error"
	// StatusFailure 表示函数执行失败（未完成）
	StatusFailure LogStatus = "failure"
	// StatusCached 表示结果命中缓存，未真正执行
	StatusCached LogStatus = "cached"
	// StatusUnknown 表示状态未知（例如纯日志行）
	StatusUnknown LogStatus = "unknown"
)

// LogLevel 表示一条日志行的级别。
// 空字符串表示该条目没有显式级别（例如执行结果行）。
type LogLevel string

// 日志级别常量定义
const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelLog   LogLevel = "log"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogClass 表示日志条目在过滤器中的归类。
// 每个条目恰好归入一类，归类规则见 LogEntry.Class。
type LogClass string

// 日志归类常量定义
const (
	ClassSuccess LogClass = "success"
	ClassFailure LogClass = "failure"
	ClassDebug   LogClass = "debug"
	ClassInfo    LogClass = "info"
	ClassWarn    LogClass = "warn"
	ClassError   LogClass = "error"
)

// AllLogClasses 返回全部六个归类的集合，供“全选即不过滤”的快速路径使用。
func AllLogClasses() []LogClass {
	return []LogClass{ClassSuccess, ClassFailure, ClassDebug, ClassInfo, ClassWarn, ClassError}
}

// LogEntry 表示从远端部署观测到的一条日志事件。
// Timestamp 为毫秒级 Unix 时间戳，是缓冲区的主排序键。
// (Timestamp, RequestID) 不保证全局唯一：一次执行会产生多条日志行，
// 去重身份由 IdentityKey 基于条目内容派生。
type LogEntry struct {
	// Timestamp 事件时间，毫秒级 Unix 时间戳
	Timestamp int64 `json:"timestamp"`
	// FunctionPath 函数标识，形如 "component:file:function" 或 "file:function"
	FunctionPath string `json:"function_path,omitempty"`
	// RequestID 执行关联键，同一次执行的所有日志行共享同一个值
	RequestID string `json:"request_id,omitempty"`
	// Status 执行结果状态
	Status LogStatus `json:"status,omitempty"`
	// LogLevel 日志行级别（可选）
	LogLevel LogLevel `json:"log_level,omitempty"`
	// Message 日志正文
	Message string `json:"message,omitempty"`
	// ErrorMessage 错误信息（仅失败条目携带）
	ErrorMessage string `json:"error_message,omitempty"`
	// ExecutionTimeMs 执行耗时（毫秒，非负）
	ExecutionTimeMs float64 `json:"execution_time_ms,omitempty"`
	// Raw 尚未提升为类型化字段的透传负载（用量统计、身份、调用方、组件 id 等）
	Raw map[string]any `json:"raw,omitempty"`
}

// IdentityKey 返回条目的去重身份键。
// 键由时间戳、请求 id、级别、函数路径和正文派生，
// 与条目在批次中的位置无关，因此跨轮询稳定。
func (e *LogEntry) IdentityKey() string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(e.Timestamp, 10)))
	h.Write([]byte{0})
	h.Write([]byte(e.RequestID))
	h.Write([]byte{0})
	h.Write([]byte(e.LogLevel))
	h.Write([]byte{0})
	h.Write([]byte(e.FunctionPath))
	h.Write([]byte{0})
	h.Write([]byte(e.Message))
	return hex.EncodeToString(h.Sum(nil))
}

// Class 将条目归入六个过滤类之一。
//
// 归类优先级：
//  1. 显式级别 error ⇒ error
//  2. 状态 error ⇒ error
//  3. 状态 failure 或携带错误信息 ⇒ failure
//  4. 其他显式级别按级别归类（log 归入 info）
//  5. 状态 success / cached ⇒ success
//  6. 以上皆无 ⇒ info
func (e *LogEntry) Class() LogClass {
	if e.LogLevel == LevelError {
		return ClassError
	}
	switch e.Status {
	case StatusError:
		return ClassError
	case StatusFailure:
		return ClassFailure
	}
	if e.ErrorMessage != "" {
		return ClassFailure
	}
	switch e.LogLevel {
	case LevelDebug:
		return ClassDebug
	case LevelWarn:
		return ClassWarn
	case LevelInfo, LevelLog:
		return ClassInfo
	}
	switch e.Status {
	case StatusSuccess, StatusCached:
		return ClassSuccess
	}
	return ClassInfo
}

// DefaultComponent 是没有组件前缀的函数所归属的合成组件名。
const DefaultComponent = "app"

// NormalizeFunctionPath 清理函数路径中的历史 ".js:" 构件，
// 使 "messages.js:send" 与 "messages:send" 匹配同一个函数。
func NormalizeFunctionPath(path string) string {
	return strings.ReplaceAll(path, ".js:", ":")
}

// Component 返回条目所属的组件名。
// 规范化后形如 "component:file:function" 的路径取第一段，
// 只含一个分隔符的 "file:function" 路径视为无组件前缀，归入 DefaultComponent。
func (e *LogEntry) Component() string {
	path := NormalizeFunctionPath(e.FunctionPath)
	if strings.Count(path, ":") >= 2 {
		return path[:strings.Index(path, ":")]
	}
	return DefaultComponent
}
