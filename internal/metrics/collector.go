// Package metrics 提供 Prometheus 指标采集与上报的统一封装。
// 该包集中定义面板关键指标（日志轮询、缓冲区、详情关联、任务轮询等），
// 便于在各模块复用并保持标签一致。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 封装面板运行时指标集合。
// 所有字段均为 Prometheus 指标类型，通过辅助方法更新指标值。
//
// 指标分类:
//   - 日志流指标: 轮询次数、去重丢弃、缓冲区大小、订阅者数
//   - 详情关联指标: 详情拉取、分析生成、合并命中
//   - 任务轮询指标: 轮询次数与挂起窗口
type Metrics struct {
	// ========== 日志流相关指标 ==========

	// LogPollsTotal 日志轮询总次数计数器
	// 标签: result (ok/error/superseded)
	LogPollsTotal *prometheus.CounterVec

	// EntriesAccepted 合并进缓冲区的条目总数
	EntriesAccepted prometheus.Counter

	// DedupDiscards 因身份键重复被丢弃的条目总数
	DedupDiscards prometheus.Counter

	// BufferSize 缓冲区当前条目数
	BufferSize prometheus.Gauge

	// StreamSubscribers 当前订阅实时流的消费者数
	StreamSubscribers prometheus.Gauge

	// PollDuration 单次日志轮询耗时直方图（单位：毫秒）
	PollDuration prometheus.Histogram

	// ========== 详情关联相关指标 ==========

	// DetailFetchesTotal 执行详情拉取次数计数器
	// 标签: result (ok/error/coalesced/cached)
	DetailFetchesTotal *prometheus.CounterVec

	// AnalysisRequestsTotal 错误分析生成请求计数器
	// 标签: result (ok/error/coalesced)
	AnalysisRequestsTotal *prometheus.CounterVec

	// ========== 定时任务轮询相关指标 ==========

	// JobPollsTotal 定时任务轮询次数计数器
	// 标签: result (ok/error/suspended)
	JobPollsTotal *prometheus.CounterVec

	// ========== 历史存储相关指标 ==========

	// HistoryInserts 写入历史存储的条目总数
	HistoryInserts prometheus.Counter

	// HistorySweeps 保留策略清理删除的条目总数
	HistorySweeps prometheus.Counter
}

// NewMetrics 创建并注册一组 Prometheus 指标。
// namespace 用于作为所有指标名前缀，便于在同一 Prometheus 中区分不同应用。
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		LogPollsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "log_polls_total",
				Help:      "Total number of log feed polls",
			},
			[]string{"result"},
		),
		EntriesAccepted: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "log_entries_accepted_total",
				Help:      "Total log entries merged into the buffer",
			},
		),
		DedupDiscards: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "log_dedup_discards_total",
				Help:      "Total log entries discarded as duplicates",
			},
		),
		BufferSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "log_buffer_size",
				Help:      "Current number of entries in the log buffer",
			},
		),
		StreamSubscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_subscribers",
				Help:      "Current number of live stream subscribers",
			},
		),
		PollDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "log_poll_duration_ms",
				Help:      "Log poll duration in milliseconds",
				Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
			},
		),
		DetailFetchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "detail_fetches_total",
				Help:      "Total execution detail fetches",
			},
			[]string{"result"},
		),
		AnalysisRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analysis_requests_total",
				Help:      "Total error analysis generation requests",
			},
			[]string{"result"},
		),
		JobPollsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_polls_total",
				Help:      "Total scheduled job polls",
			},
			[]string{"result"},
		),
		HistoryInserts: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_inserts_total",
				Help:      "Total log entries persisted to the history store",
			},
		),
		HistorySweeps: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_sweeps_total",
				Help:      "Total log entries removed by retention sweeps",
			},
		),
	}
}
