package domain

import "time"

// AnalysisSeverity 表示错误分析给出的严重程度。
type AnalysisSeverity string

// 严重程度常量定义
const (
	SeverityLow      AnalysisSeverity = "low"
	SeverityMedium   AnalysisSeverity = "medium"
	SeverityHigh     AnalysisSeverity = "high"
	SeverityCritical AnalysisSeverity = "critical"
)

// ErrorAnalysis 表示 AI 对一次失败执行的诊断结果。
// 由外部分析服务生成并在远端持久化；客户端可以增量接收
// 部分文本用于渐进展示，但最终权威值始终是服务调用返回的完整对象。
type ErrorAnalysis struct {
	// ErrorID 分析的标识，通常为 RequestID，无关联请求时为合成 id
	ErrorID string `json:"error_id"`
	// RequestID 被诊断执行的请求 id
	RequestID string `json:"request_id,omitempty"`
	// RootCause 根因描述
	RootCause string `json:"root_cause"`
	// Suggestions 按优先级排列的修复建议
	Suggestions []string `json:"suggestions,omitempty"`
	// Severity 严重程度
	Severity AnalysisSeverity `json:"severity"`
	// Confidence 置信度，0 到 1
	Confidence float64 `json:"confidence"`
	// RelatedIssues 相关问题引用（可选）
	RelatedIssues []string `json:"related_issues,omitempty"`
	// CreatedAt 分析生成时间
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// AnalysisRequest 是触发错误分析的输入上下文。
type AnalysisRequest struct {
	// RequestID 失败执行的请求 id
	RequestID string `json:"request_id"`
	// FunctionPath 失败函数的标识
	FunctionPath string `json:"function_path,omitempty"`
	// ErrorMessage 失败时的错误信息
	ErrorMessage string `json:"error_message"`
	// ContextLines 失败前后的日志行，用于提供上下文
	ContextLines []string `json:"context_lines,omitempty"`
}

// AnalysisChunk 是分析生成过程中推送的一个增量事件。
// Final 为 true 的事件携带权威的完整分析结果，此前的
// 部分文本仅用于展示，消费者可以完全忽略而不损失正确性。
type AnalysisChunk struct {
	// Text 本次增量的部分文本
	Text string `json:"text,omitempty"`
	// Final 是否为终结事件
	Final bool `json:"final"`
	// Analysis 终结事件携带的完整分析结果
	Analysis *ErrorAnalysis `json:"analysis,omitempty"`
}

// FixSuggestion 表示针对一个错误的修复建议。
type FixSuggestion struct {
	// Suggestion 修复思路描述
	Suggestion string `json:"suggestion"`
	// CodeExample 示例代码（可选）
	CodeExample string `json:"code_example,omitempty"`
	// DocumentationLinks 相关文档链接
	DocumentationLinks []string `json:"documentation_links,omitempty"`
}
