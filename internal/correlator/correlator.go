// Package correlator 为选中的执行解析并缓存二级详情：
// 用量统计、嵌套调用轮廓与 AI 错误诊断。
// 缓存按 requestID 独立键控，与日志缓冲区之间只有弱关联，
// 失效只由显式的重取操作触发。
package correlator

import (
	"context"
	"sync"

	"github.com/oriys/lumen/internal/domain"
	"github.com/oriys/lumen/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Fetcher 定义关联器所需的远端能力。*feed.Client 实现了该接口。
type Fetcher interface {
	QueryExecutionDetail(ctx context.Context, requestID string) (*domain.ExecutionDetail, error)
	QueryErrorAnalysis(ctx context.Context, requestID string) (*domain.ErrorAnalysis, error)
	RequestErrorAnalysis(ctx context.Context, req domain.AnalysisRequest, onPartial func(string)) (*domain.ErrorAnalysis, error)
	RequestFixSuggestion(ctx context.Context, req domain.AnalysisRequest) (*domain.FixSuggestion, error)
}

// AnalysisCache 是诊断结果的可选二级缓存（如 Redis）。
// 为 nil 时关联器只使用进程内缓存。
type AnalysisCache interface {
	GetAnalysis(ctx context.Context, requestID string) (*domain.ErrorAnalysis, error)
	PutAnalysis(ctx context.Context, a *domain.ErrorAnalysis) error
	DeleteAnalysis(ctx context.Context, requestID string) error
}

// DetailState 表示某个 requestID 的详情解析状态。
type DetailState string

// 详情状态常量定义
const (
	// DetailPending 表示取数在途
	DetailPending DetailState = "pending"
	// DetailReady 表示已缓存
	DetailReady DetailState = "ready"
	// DetailFailed 表示上次取数失败，等待重试
	DetailFailed DetailState = "failed"
)

// DetailResult 是 GetDetail 的返回值。
// State 为 DetailPending 时 Detail 为 nil，调用方应等待 done 通道；
// State 为 DetailFailed 时 Err 携带该键的失败原因。
type DetailResult struct {
	State  DetailState
	Detail *domain.ExecutionDetail
	Err    error
}

// detailEntry 是进程内缓存的一个槽位。
// done 在首个取数者发起远端调用时创建，完成后关闭，
// 并发的后来者等待同一个通道而不是发起第二次远端调用。
type detailEntry struct {
	state  DetailState
	detail *domain.ExecutionDetail
	err    error
	done   chan struct{}
}

// Correlator 解析并缓存执行详情与错误诊断。
type Correlator struct {
	fetcher Fetcher
	cache   AnalysisCache
	logger  *logrus.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	details  map[string]*detailEntry
	analyses map[string]*domain.ErrorAnalysis
	// inFlight 记录在途的诊断生成请求，用于合并并发的重复请求
	inFlight map[string]*analysisCall
}

// analysisCall 是一次在途的诊断生成。
type analysisCall struct {
	done   chan struct{}
	result *domain.ErrorAnalysis
	err    error
}

// New 创建关联器。cache 与 m 均可为 nil。
func New(fetcher Fetcher, cache AnalysisCache, m *metrics.Metrics, logger *logrus.Logger) *Correlator {
	return &Correlator{
		fetcher:  fetcher,
		cache:    cache,
		logger:   logger,
		metrics:  m,
		details:  make(map[string]*detailEntry),
		analyses: make(map[string]*domain.ErrorAnalysis),
		inFlight: make(map[string]*analysisCall),
	}
}

// GetDetail 返回 requestID 的执行详情。
//
// 命中缓存直接返回 DetailReady；未命中时发起一次远端取数并立即
// 返回 DetailPending，调用方可用 Wait 等待完成。同一个键上并发的
// GetDetail 只产生一次远端取数。上次失败的键会重新取数（用户重试）。
// 取数脱离发起者的取消信号：发起者中途断开不会把合并等待者
// 一并拖进 context.Canceled。
func (c *Correlator) GetDetail(ctx context.Context, requestID string) DetailResult {
	c.mu.Lock()
	if e, ok := c.details[requestID]; ok && e.state != DetailFailed {
		res := DetailResult{State: e.state, Detail: e.detail, Err: e.err}
		c.mu.Unlock()
		return res
	}

	e := &detailEntry{state: DetailPending, done: make(chan struct{})}
	c.details[requestID] = e
	c.mu.Unlock()

	go c.fetchDetail(context.WithoutCancel(ctx), requestID, e)
	return DetailResult{State: DetailPending}
}

// fetchDetail 执行一次详情取数并落缓存。
func (c *Correlator) fetchDetail(ctx context.Context, requestID string, e *detailEntry) {
	detail, err := c.fetcher.QueryExecutionDetail(ctx, requestID)

	c.mu.Lock()
	if c.details[requestID] != e {
		// 已被 Invalidate 换掉，结果丢弃
		c.mu.Unlock()
		close(e.done)
		return
	}
	if err != nil {
		e.state = DetailFailed
		e.err = err
		c.countDetail("error")
		c.logger.WithError(err).WithField("request_id", requestID).Warn("Execution detail fetch failed")
	} else {
		e.state = DetailReady
		e.detail = detail
		c.countDetail("ok")
	}
	c.mu.Unlock()
	close(e.done)
}

// Wait 阻塞到 requestID 的在途详情取数完成（或 ctx 取消），
// 返回最终结果。没有在途取数时立即返回当前缓存状态。
func (c *Correlator) Wait(ctx context.Context, requestID string) DetailResult {
	c.mu.Lock()
	e, ok := c.details[requestID]
	c.mu.Unlock()
	if !ok {
		return DetailResult{State: DetailFailed, Err: domain.ErrDetailNotFound}
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return DetailResult{State: DetailPending, Err: ctx.Err()}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return DetailResult{State: e.state, Detail: e.detail, Err: e.err}
}

// GetErrorAnalysis 查找已持久化的诊断。不触发生成；
// 未找到返回 domain.ErrAnalysisNotFound。
// 查找顺序：进程内缓存 → 二级缓存 → 远端。
func (c *Correlator) GetErrorAnalysis(ctx context.Context, requestID string) (*domain.ErrorAnalysis, error) {
	c.mu.Lock()
	if a, ok := c.analyses[requestID]; ok {
		c.mu.Unlock()
		return a, nil
	}
	c.mu.Unlock()

	if c.cache != nil {
		if a, err := c.cache.GetAnalysis(ctx, requestID); err == nil && a != nil {
			c.remember(a)
			return a, nil
		}
	}

	a, err := c.fetcher.QueryErrorAnalysis(ctx, requestID)
	if err != nil {
		return nil, err
	}
	c.remember(a)
	return a, nil
}

// RequestAnalysis 触发外部 AI 诊断生成。
//
// 在途期间通过 onPartial 向调用方递增推送展示用的片段文本；
// 片段只用于渐进展示，最终以服务返回的完整对象为准并覆盖缓存。
// 同一个 requestID 上并发的重复请求被合并：后来者等待首个请求
// 的结果，onPartial 只对发起者生效。
func (c *Correlator) RequestAnalysis(ctx context.Context, req domain.AnalysisRequest, onPartial func(string)) (*domain.ErrorAnalysis, error) {
	c.mu.Lock()
	if call, ok := c.inFlight[req.RequestID]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.result, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &analysisCall{done: make(chan struct{})}
	c.inFlight[req.RequestID] = call
	c.mu.Unlock()

	result, err := c.fetcher.RequestErrorAnalysis(ctx, req, onPartial)

	c.mu.Lock()
	delete(c.inFlight, req.RequestID)
	c.mu.Unlock()

	call.result = result
	call.err = err
	close(call.done)

	if err != nil {
		c.countAnalysis("error")
		return nil, err
	}
	c.countAnalysis("ok")
	c.remember(result)
	if c.cache != nil {
		if cerr := c.cache.PutAnalysis(ctx, result); cerr != nil {
			c.logger.WithError(cerr).Warn("Analysis cache write failed")
		}
	}
	return result, nil
}

// RequestFixSuggestion 请求针对某次失败的修复建议。不缓存：
// 建议依赖调用时刻的上下文行，缓存收益有限。
func (c *Correlator) RequestFixSuggestion(ctx context.Context, req domain.AnalysisRequest) (*domain.FixSuggestion, error) {
	return c.fetcher.RequestFixSuggestion(ctx, req)
}

// Invalidate 丢弃 requestID 的缓存详情与诊断，
// 下一次 GetDetail / GetErrorAnalysis 将重新取数。
func (c *Correlator) Invalidate(ctx context.Context, requestID string) {
	c.mu.Lock()
	delete(c.details, requestID)
	delete(c.analyses, requestID)
	c.mu.Unlock()

	if c.cache != nil {
		if err := c.cache.DeleteAnalysis(ctx, requestID); err != nil {
			c.logger.WithError(err).Warn("Analysis cache invalidation failed")
		}
	}
}

// remember 把诊断写入进程内缓存。
func (c *Correlator) remember(a *domain.ErrorAnalysis) {
	c.mu.Lock()
	c.analyses[a.RequestID] = a
	c.mu.Unlock()
}

func (c *Correlator) countDetail(result string) {
	if c.metrics != nil {
		c.metrics.DetailFetchesTotal.WithLabelValues(result).Inc()
	}
}

func (c *Correlator) countAnalysis(result string) {
	if c.metrics != nil {
		c.metrics.AnalysisRequestsTotal.WithLabelValues(result).Inc()
	}
}
