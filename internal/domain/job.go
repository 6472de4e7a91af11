package domain

import "encoding/json"

// JobState 表示一个定时任务的状态。
type JobState string

// 定时任务状态常量定义
const (
	// JobPending 表示任务等待执行
	JobPending JobState = "pending"
	// JobSuccess 表示任务执行成功
	JobSuccess JobState = "success"
	// JobFailed 表示任务执行失败
	JobFailed JobState = "failed"
	// JobCanceled 表示任务被取消
	JobCanceled JobState = "canceled"
)

// nanosThreshold 之上的时间戳视为纳秒。
// 毫秒级时间戳在公元 33658 年才会超过该值，纳秒级时间戳自 1970 年起即超过。
const nanosThreshold = int64(1e15)

// NormalizeTimestampMs 把来源单位不一的时间戳统一为毫秒。
// 远端在不同查询里分别返回纳秒和毫秒，归一只在馈送边界做一次，
// 下游不再做任何单位猜测。
func NormalizeTimestampMs(ts int64) int64 {
	if ts > nanosThreshold {
		return ts / 1e6
	}
	return ts
}

// ScheduledJob 表示一个待执行或已执行的定时调用。
type ScheduledJob struct {
	// ID 任务的唯一标识
	ID string `json:"id"`
	// UdfPath 目标函数的标识
	UdfPath string `json:"udf_path"`
	// Args 调用参数的原始字节，按需解码为 JSON
	Args []byte `json:"args,omitempty"`
	// State 任务状态
	State JobState `json:"state"`
	// NextTs 下次执行时间，毫秒级 Unix 时间戳（构造时已归一）
	NextTs int64 `json:"next_ts"`
}

// DecodedArgs 把任务参数解码为 JSON 文本。
// 不可解码的参数降级为 "[]"，不向调用方传播错误。
func (j *ScheduledJob) DecodedArgs() string {
	if len(j.Args) == 0 {
		return "[]"
	}
	if !json.Valid(j.Args) {
		return "[]"
	}
	return string(j.Args)
}
