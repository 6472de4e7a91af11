package telemetry

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// LogrusHook 把追踪上下文注入日志条目。
// 日志条目携带有效 Span 时自动追加 trace_id 与 span_id 字段。
type LogrusHook struct{}

// NewLogrusHook 创建日志追踪钩子，添加到 Logger 即可生效。
func NewLogrusHook() *LogrusHook {
	return &LogrusHook{}
}

// Levels 在所有日志级别触发。
func (h *LogrusHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire 在日志条目生成时检查其上下文中的 Span 并注入追踪字段。
func (h *LogrusHook) Fire(entry *logrus.Entry) error {
	ctx := entry.Context
	if ctx == nil {
		return nil
	}
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return nil
	}
	entry.Data["trace_id"] = span.SpanContext().TraceID().String()
	entry.Data["span_id"] = span.SpanContext().SpanID().String()
	return nil
}

// WithTrace 返回绑定了追踪上下文的日志入口。
func WithTrace(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	return logger.WithContext(ctx)
}
