package domain

import "testing"

// TestLogEntry_Class 测试日志条目的归类规则。
// 覆盖规则的全部优先级，特别是带错误信息但无显式状态的条目
// 归入 failure 而非 error 这一决定。
func TestLogEntry_Class(t *testing.T) {
	tests := []struct {
		name  string   // 测试用例名称
		entry LogEntry // 输入条目
		want  LogClass // 期望归类
	}{
		{
			// 显式级别 error 优先于一切
			name:  "level error wins",
			entry: LogEntry{LogLevel: LevelError, Status: StatusSuccess},
			want:  ClassError,
		},
		{
			// 状态 error 归入 error 类
			name:  "status error",
			entry: LogEntry{Status: StatusError},
			want:  ClassError,
		},
		{
			// 状态 failure 归入 failure 类
			name:  "status failure",
			entry: LogEntry{Status: StatusFailure},
			want:  ClassFailure,
		},
		{
			// 只有错误信息、无状态的条目归入 failure，不是 error
			name:  "error message without status is failure",
			entry: LogEntry{ErrorMessage: "boom"},
			want:  ClassFailure,
		},
		{
			name:  "status success",
			entry: LogEntry{Status: StatusSuccess},
			want:  ClassSuccess,
		},
		{
			name:  "status cached counts as success",
			entry: LogEntry{Status: StatusCached},
			want:  ClassSuccess,
		},
		{
			name:  "level debug",
			entry: LogEntry{LogLevel: LevelDebug, Status: StatusUnknown},
			want:  ClassDebug,
		},
		{
			name:  "level warn",
			entry: LogEntry{LogLevel: LevelWarn},
			want:  ClassWarn,
		},
		{
			// log 级别与 info 同类
			name:  "level log maps to info",
			entry: LogEntry{LogLevel: LevelLog},
			want:  ClassInfo,
		},
		{
			// 既无级别也无状态时默认归入 info
			name:  "bare entry defaults to info",
			entry: LogEntry{Message: "hello"},
			want:  ClassInfo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Class(); got != tt.want {
				t.Errorf("Class() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestLogEntry_IdentityKey 测试去重身份键的稳定性与区分度。
func TestLogEntry_IdentityKey(t *testing.T) {
	a := LogEntry{Timestamp: 100, RequestID: "req-1", LogLevel: LevelInfo, Message: "m"}
	b := LogEntry{Timestamp: 100, RequestID: "req-1", LogLevel: LevelInfo, Message: "m"}

	// 相同内容的条目跨批次产生相同的键
	if a.IdentityKey() != b.IdentityKey() {
		t.Error("identical entries must share an identity key")
	}

	// 同一请求的不同日志行（级别不同）必须区分
	c := LogEntry{Timestamp: 100, RequestID: "req-1", LogLevel: LevelWarn, Message: "m"}
	if a.IdentityKey() == c.IdentityKey() {
		t.Error("entries differing only in level must not collide")
	}

	// 同一时间戳不同请求必须区分
	d := LogEntry{Timestamp: 100, RequestID: "req-2", LogLevel: LevelInfo, Message: "m"}
	if a.IdentityKey() == d.IdentityKey() {
		t.Error("entries differing only in request id must not collide")
	}
}

// TestLogEntry_Component 测试组件名推导。
func TestLogEntry_Component(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{
			// 带组件前缀的三段路径取第一段
			name: "component prefix",
			path: "waitlist:messages:send",
			want: "waitlist",
		},
		{
			// 普通两段路径没有组件前缀
			name: "plain path maps to app",
			path: "messages:send",
			want: DefaultComponent,
		},
		{
			// .js 构件在推导前被规范化
			name: "js artifact normalized",
			path: "waitlist:messages.js:send",
			want: "waitlist",
		},
		{
			name: "empty path maps to app",
			path: "",
			want: DefaultComponent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := LogEntry{FunctionPath: tt.path}
			if got := e.Component(); got != tt.want {
				t.Errorf("Component() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestNormalizeFunctionPath 测试 .js 构件清理。
func TestNormalizeFunctionPath(t *testing.T) {
	if got := NormalizeFunctionPath("messages.js:send"); got != "messages:send" {
		t.Errorf("NormalizeFunctionPath() = %q, want %q", got, "messages:send")
	}
	if got := NormalizeFunctionPath("messages:send"); got != "messages:send" {
		t.Errorf("NormalizeFunctionPath() should be a no-op on clean paths, got %q", got)
	}
}
