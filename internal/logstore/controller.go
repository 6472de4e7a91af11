package logstore

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

// StreamState 表示流控制器的生命周期状态。
type StreamState string

// 流状态常量定义
const (
	// StateIdle 表示未配置远端，控制器静止
	StateIdle StreamState = "idle"
	// StateStreaming 表示正在轮询并向消费者推送
	StateStreaming StreamState = "streaming"
	// StatePaused 表示推送被暂停；底层采集不停止
	StatePaused StreamState = "paused"
)

// Source 定义流控制器所需的最小馈送能力。
// *feed.Client 实现了该接口；测试使用假实现。
type Source interface {
	QueryLogs(ctx context.Context, cursor string) (*feed.LogBatch, error)
}

// Config 是流控制器的配置。
type Config struct {
	// Interval 轮询间隔
	// 默认值：2 秒
	Interval time.Duration
	// PollTimeout 单次轮询的超时，超时按瞬时失败处理
	// 默认值：一个轮询间隔
	PollTimeout time.Duration
}

// Controller 管理日志流的采集与推送生命周期。
//
// 状态机：Idle →（配置远端）→ Streaming ⇄ Paused →（移除远端）→ Idle。
// 暂停只关闭对消费者的推送，采集照常进行，恢复时把完整快照
// 推给消费者以对齐到最新条目。
type Controller struct {
	cfg     Config
	store   *Store
	logger  *logrus.Logger
	metrics *metrics.Metrics

	mu           sync.Mutex
	source       Source
	cursor       string
	stale        bool
	manualPause  bool
	awayFromEdge bool
	inspecting   bool
	deployPaused bool

	// pollGen 随每次轮询递增；迟到的旧轮询结果按代号丢弃
	pollGen    uint64
	pollCancel context.CancelFunc
	loopCancel context.CancelFunc

	subMu       sync.RWMutex
	subscribers map[chan []domain.LogEntry]struct{}
}

// NewController 创建一个流控制器。m 可为 nil（不上报指标）。
func NewController(cfg Config, store *Store, m *metrics.Metrics, logger *logrus.Logger) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = cfg.Interval
	}
	return &Controller{
		cfg:         cfg,
		store:       store,
		logger:      logger,
		metrics:     m,
		subscribers: make(map[chan []domain.LogEntry]struct{}),
	}
}

// Store 返回控制器拥有的缓冲区。
func (c *Controller) Store() *Store {
	return c.store
}

// Start 配置远端馈送并启动轮询循环。
// source 为 nil 表示远端尚未配置：控制器静默停留在 Idle，
// 这是合法状态而非错误。重复调用会先停掉现有循环再按新馈送重启，
// 供凭据热加载使用。
func (c *Controller) Start(source Source) {
	c.mu.Lock()
	if c.loopCancel != nil {
		c.loopCancel()
		c.loopCancel = nil
	}
	c.source = source
	if source == nil {
		c.mu.Unlock()
		c.logger.Info("Log stream idle: deployment not configured")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.loopCancel = cancel
	c.mu.Unlock()

	c.logger.WithField("interval", c.cfg.Interval).Info("Log stream started")
	go c.run(ctx)
}

// Stop 停止轮询循环并回到 Idle。
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loopCancel != nil {
		c.loopCancel()
		c.loopCancel = nil
	}
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
	c.source = nil
}

// run 是轮询循环。每个 tick 发起一次轮询；
// 单次轮询卡住不会阻塞循环，下一个 tick 的轮询会取代它。
func (c *Controller) run(ctx context.Context) {
	// 启动后立即拉一次，不等第一个 tick
	go func() { _ = c.Poll(ctx) }()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go func() { _ = c.Poll(ctx) }()
		}
	}
}

// Poll 发起一次日志增量查询并合并结果。
// 部署暂停期间调用被短路为 domain.ErrPollerSuspended。
//
// 取代语义：调用时先取消上一次仍在途的轮询；被取代的轮询
// 即使最终返回，其结果也按代号检查丢弃，绝不写入缓冲区。
// 瞬时失败置 stale 标志并留待下一个 tick 重试，不中断循环。
func (c *Controller) Poll(ctx context.Context) error {
	c.mu.Lock()
	src := c.source
	if src == nil {
		c.mu.Unlock()
		return domain.ErrNotConfigured
	}
	if c.deployPaused {
		c.mu.Unlock()
		c.countPoll("suspended")
		return domain.ErrPollerSuspended
	}
	if c.pollCancel != nil {
		c.pollCancel()
	}
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	c.pollCancel = cancel
	c.pollGen++
	gen := c.pollGen
	cursor := c.cursor
	c.mu.Unlock()

	start := time.Now()
	batch, err := src.QueryLogs(pollCtx, cursor)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.pollGen {
		// 已被更新的轮询取代，结果静默丢弃
		c.countPoll("superseded")
		return nil
	}
	cancel()
	c.pollCancel = nil

	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.countPoll("superseded")
			return nil
		}
		// 瞬时失败：数据保持原样，打上陈旧标记，下个 tick 重试
		c.stale = true
		c.countPoll("error")
		c.logger.WithError(err).Warn("Log poll failed, will retry")
		return err
	}

	c.stale = false
	c.cursor = batch.NextCursor
	accepted := c.store.Merge(batch.Entries)
	c.countPoll("ok")

	if c.metrics != nil {
		c.metrics.PollDuration.Observe(float64(time.Since(start).Milliseconds()))
		c.metrics.EntriesAccepted.Add(float64(len(accepted)))
		c.metrics.DedupDiscards.Add(float64(len(batch.Entries) - len(accepted)))
		c.metrics.BufferSize.Set(float64(c.store.Len()))
	}

	if len(accepted) > 0 && !c.pausedLocked() {
		c.broadcast(accepted)
	}
	return nil
}

// Ingest 合并一批来自旁路源（如 NATS）的条目。
// 与轮询共享同一个去重缓冲区，两个来源重叠时条目不重复；
// 推送同样受暂停门控。
func (c *Controller) Ingest(entries []domain.LogEntry) {
	if len(entries) == 0 {
		return
	}

	c.mu.Lock()
	accepted := c.store.Merge(entries)
	paused := c.pausedLocked()
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.EntriesAccepted.Add(float64(len(accepted)))
		c.metrics.DedupDiscards.Add(float64(len(entries) - len(accepted)))
		c.metrics.BufferSize.Set(float64(c.store.Len()))
	}
	if len(accepted) > 0 && !paused {
		c.broadcast(accepted)
	}
}

// countPoll 上报一次轮询结果。调用方可不持锁。
func (c *Controller) countPoll(result string) {
	if c.metrics != nil {
		c.metrics.LogPollsTotal.WithLabelValues(result).Inc()
	}
}

// SetPaused 切换手动暂停。
// 恢复时把完整快照推给所有订阅者，使消费者确定性地跳到最新条目。
func (c *Controller) SetPaused(paused bool) {
	c.mu.Lock()
	wasPaused := c.pausedLocked()
	c.manualPause = paused
	nowPaused := c.pausedLocked()
	c.mu.Unlock()

	if wasPaused && !nowPaused {
		c.broadcastSnapshot()
	}
}

// SetAtLiveEdge 记录消费者是否停留在流的最新端。
// 离开最新端是一个派生暂停条件；回到最新端且未手动暂停时自动恢复。
func (c *Controller) SetAtLiveEdge(atEdge bool) {
	c.mu.Lock()
	wasPaused := c.pausedLocked()
	c.awayFromEdge = !atEdge
	nowPaused := c.pausedLocked()
	c.mu.Unlock()

	if wasPaused && !nowPaused {
		c.broadcastSnapshot()
	}
}

// SetInspecting 记录消费者是否打开了详情视图。
// 打开详情视图时冻结推送，避免检视某一行时视图被刷走。
func (c *Controller) SetInspecting(inspecting bool) {
	c.mu.Lock()
	wasPaused := c.pausedLocked()
	c.inspecting = inspecting
	nowPaused := c.pausedLocked()
	c.mu.Unlock()

	if wasPaused && !nowPaused {
		c.broadcastSnapshot()
	}
}

// SetDeploymentPaused 更新部署暂停门控。
// 与消费者暂停不同，部署暂停挂起采集本身：期间不发起轮询，
// 在途轮询被立即中止；恢复对齐到下一个 tick，不立即补发。
func (c *Controller) SetDeploymentPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deployPaused = paused
	if paused && c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
		// 在途轮询作废
		c.pollGen++
	}
}

// pausedLocked 汇总全部消费者侧暂停条件。调用此方法前必须持有 c.mu 锁。
func (c *Controller) pausedLocked() bool {
	return c.manualPause || c.awayFromEdge || c.inspecting
}

// State 返回控制器当前状态。
func (c *Controller) State() StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source == nil {
		return StateIdle
	}
	if c.deployPaused || c.pausedLocked() {
		return StatePaused
	}
	return StateStreaming
}

// Stale 报告最近一次轮询是否失败（数据可能陈旧）。
func (c *Controller) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

// Clear 清空缓冲区。
// 采集游标不受影响：下一次轮询仍从最新的远端位置继续，
// 且已见过的条目不会因远端重放而再次出现。
func (c *Controller) Clear() {
	c.store.Clear()
	if c.metrics != nil {
		c.metrics.BufferSize.Set(0)
	}
}

// Subscribe 订阅被接受的日志批次。
// 返回接收通道和取消订阅函数。通道缓冲写满时该订阅者的
// 本批推送被丢弃（慢消费者不阻塞其他订阅者）。
func (c *Controller) Subscribe() (<-chan []domain.LogEntry, func()) {
	ch := make(chan []domain.LogEntry, 16)

	c.subMu.Lock()
	c.subscribers[ch] = struct{}{}
	n := len(c.subscribers)
	c.subMu.Unlock()

	if c.metrics != nil {
		c.metrics.StreamSubscribers.Set(float64(n))
	}

	return ch, func() {
		c.subMu.Lock()
		delete(c.subscribers, ch)
		n := len(c.subscribers)
		c.subMu.Unlock()
		if c.metrics != nil {
			c.metrics.StreamSubscribers.Set(float64(n))
		}
	}
}

// broadcast 把一批条目推给所有订阅者。
func (c *Controller) broadcast(entries []domain.LogEntry) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for ch := range c.subscribers {
		select {
		case ch <- entries:
		default:
			// 通道满了，丢弃本批
		}
	}
}

// broadcastSnapshot 推送完整快照，用于恢复时的确定性对齐。
func (c *Controller) broadcastSnapshot() {
	snap := c.store.Snapshot()
	if len(snap) == 0 {
		return
	}
	c.broadcast(snap)
}
