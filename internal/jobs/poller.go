// Package jobs 实现定时任务的快照轮询器。
// 轮询器以固定间隔重取定时任务列表的第一页（最新快照语义，
// 不做游标推进），并受部署暂停门控：暂停期间不发起取数，
// 在途取数被立即取消。
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oriys/lumen/internal/domain"
	"github.com/oriys/lumen/internal/feed"
	"github.com/oriys/lumen/internal/metrics"
	"github.com/sirupsen/logrus"
)

// PollerState 表示任务轮询器的状态。
type PollerState string

// 轮询器状态常量定义
const (
	// StateActive 表示按固定间隔轮询
	StateActive PollerState = "active"
	// StateSuspended 表示被部署暂停或消费者暂停门控挂起
	StateSuspended PollerState = "suspended"
)

// Source 定义任务轮询器所需的馈送能力。*feed.Client 实现了该接口。
type Source interface {
	QueryScheduledJobs(ctx context.Context, opts feed.PaginationOpts, udfPath string) (*feed.JobPage, error)
}

// Config 是任务轮询器的配置。
type Config struct {
	// Interval 轮询间隔，默认 2 秒
	Interval time.Duration
	// PageSize 每次快照取数的条目数，默认 50
	PageSize int
}

// Poller 以固定间隔拉取定时任务快照。
type Poller struct {
	cfg     Config
	source  Source
	logger  *logrus.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	jobs       []domain.ScheduledJob
	udfPath    string
	suspended  bool
	pausedGate bool
	lastErr    error

	// pollGen 随每次取数递增；被取代或被挂起中止的旧取数结果按代号丢弃
	pollGen    uint64
	pollCancel context.CancelFunc
	loopCancel context.CancelFunc
	// kick 触发一次立即取数并重置间隔（SetFilter 与手动刷新使用）
	kick chan struct{}

	subMu       sync.RWMutex
	subscribers map[chan []domain.ScheduledJob]struct{}
}

// NewPoller 创建任务轮询器。m 可为 nil。
func NewPoller(cfg Config, source Source, m *metrics.Metrics, logger *logrus.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &Poller{
		cfg:         cfg,
		source:      source,
		logger:      logger,
		metrics:     m,
		kick:        make(chan struct{}, 1),
		subscribers: make(map[chan []domain.ScheduledJob]struct{}),
	}
}

// Start 启动轮询循环。重复调用会先停掉现有循环再重启。
func (p *Poller) Start() {
	p.mu.Lock()
	if p.loopCancel != nil {
		p.loopCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.loopCancel = cancel
	p.mu.Unlock()

	p.logger.WithField("interval", p.cfg.Interval).Info("Scheduled job poller started")
	go p.run(ctx)
}

// Stop 停止轮询循环并取消在途取数。
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loopCancel != nil {
		p.loopCancel()
		p.loopCancel = nil
	}
	if p.pollCancel != nil {
		p.pollCancel()
		p.pollCancel = nil
	}
}

// run 是轮询循环。挂起期间错过的 tick 不补发；
// kick 触发立即取数并把间隔对齐到触发时刻。
func (p *Poller) run(ctx context.Context) {
	go func() { _ = p.Poll(ctx) }()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go func() { _ = p.Poll(ctx) }()
		case <-p.kick:
			ticker.Reset(p.cfg.Interval)
			go func() { _ = p.Poll(ctx) }()
		}
	}
}

// Poll 发起一次快照取数：固定页大小，从空游标取第一页。
// 挂起期间调用被短路为 domain.ErrPollerSuspended。
// 取代语义与日志轮询一致：新取数取消旧取数，旧结果按代号丢弃。
func (p *Poller) Poll(ctx context.Context) error {
	p.mu.Lock()
	if p.source == nil {
		p.mu.Unlock()
		return domain.ErrNotConfigured
	}
	if p.suspendedLocked() {
		p.mu.Unlock()
		p.countPoll("suspended")
		return domain.ErrPollerSuspended
	}
	if p.pollCancel != nil {
		p.pollCancel()
	}
	pollCtx, cancel := context.WithTimeout(ctx, p.cfg.Interval)
	p.pollCancel = cancel
	p.pollGen++
	gen := p.pollGen
	udfPath := p.udfPath
	p.mu.Unlock()

	page, err := p.source.QueryScheduledJobs(pollCtx, feed.PaginationOpts{NumItems: p.cfg.PageSize}, udfPath)

	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.pollGen {
		p.countPoll("superseded")
		return nil
	}
	cancel()
	p.pollCancel = nil

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// 挂起中止或取代取消，不是用户可见的失败
			p.countPoll("superseded")
			return nil
		}
		p.lastErr = err
		p.countPoll("error")
		p.logger.WithError(err).Warn("Scheduled job poll failed, will retry")
		return err
	}

	p.lastErr = nil
	p.jobs = page.Page
	p.countPoll("ok")
	p.broadcast(page.Page)
	return nil
}

// SetFilter 更换查询范围的函数标识（空串表示全部），
// 触发一次立即取数并取代任何在途取数。
func (p *Poller) SetFilter(udfPath string) {
	p.mu.Lock()
	p.udfPath = udfPath
	if p.pollCancel != nil {
		p.pollCancel()
	}
	suspended := p.suspendedLocked()
	p.mu.Unlock()

	if !suspended {
		p.requestKick()
	}
}

// Refresh 手动触发一次立即取数并重置间隔。
func (p *Poller) Refresh() {
	p.requestKick()
}

// SetDeploymentPaused 更新部署暂停门控。
// 挂起立即取消在途取数；恢复对齐到下一个 tick，不立即补发。
func (p *Poller) SetDeploymentPaused(paused bool) {
	p.setGate(&p.pausedGate, paused)
}

// SetSuspended 更新消费者级暂停门控，语义与部署门控相同。
func (p *Poller) SetSuspended(suspended bool) {
	p.setGate(&p.suspended, suspended)
}

// setGate 更新一个门控标志，挂起时中止在途取数。
// 恢复不触发立即取数：错过的 tick 不补发。
func (p *Poller) setGate(flag *bool, v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	*flag = v
	if p.suspendedLocked() && p.pollCancel != nil {
		p.pollCancel()
		p.pollCancel = nil
		// 在途取数作废
		p.pollGen++
	}
}

// suspendedLocked 汇总全部挂起条件。调用此方法前必须持有 p.mu 锁。
func (p *Poller) suspendedLocked() bool {
	return p.suspended || p.pausedGate
}

// requestKick 请求一次立即取数，已有待处理请求时合并。
func (p *Poller) requestKick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// State 返回轮询器当前状态。
func (p *Poller) State() PollerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.suspendedLocked() {
		return StateSuspended
	}
	return StateActive
}

// Jobs 返回最近一次成功取数得到的快照副本。
func (p *Poller) Jobs() []domain.ScheduledJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.ScheduledJob, len(p.jobs))
	copy(out, p.jobs)
	return out
}

// LastError 返回最近一次取数失败的原因，成功后清空。
func (p *Poller) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Subscribe 订阅任务快照更新，返回接收通道与取消订阅函数。
func (p *Poller) Subscribe() (<-chan []domain.ScheduledJob, func()) {
	ch := make(chan []domain.ScheduledJob, 4)

	p.subMu.Lock()
	p.subscribers[ch] = struct{}{}
	p.subMu.Unlock()

	return ch, func() {
		p.subMu.Lock()
		delete(p.subscribers, ch)
		p.subMu.Unlock()
	}
}

// broadcast 把快照推给所有订阅者，慢消费者丢弃本次快照。
func (p *Poller) broadcast(jobs []domain.ScheduledJob) {
	p.subMu.RLock()
	defer p.subMu.RUnlock()
	for ch := range p.subscribers {
		select {
		case ch <- jobs:
		default:
		}
	}
}

func (p *Poller) countPoll(result string) {
	if p.metrics != nil {
		p.metrics.JobPollsTotal.WithLabelValues(result).Inc()
	}
}
