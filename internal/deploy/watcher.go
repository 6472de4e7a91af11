// Package deploy 跟踪远端部署的运行状态。
// 状态由独立的远端查询周期性刷新，作为门控输入共享给
// 日志流控制器与定时任务轮询器。
package deploy

import (
	"context"
	"sync"
	"time"

	"github.com/oriys/lumen/internal/domain"
	"github.com/sirupsen/logrus"
)

// Source 定义状态查询能力。*feed.Client 实现了该接口。
type Source interface {
	QueryDeploymentState(ctx context.Context) (domain.DeploymentState, error)
}

// Watcher 周期性刷新部署状态并在变化时通知监听者。
type Watcher struct {
	source   Source
	logger   *logrus.Logger
	interval time.Duration

	mu         sync.Mutex
	state      domain.DeploymentState
	known      bool
	listeners  []func(domain.DeploymentState)
	loopCancel context.CancelFunc
}

// NewWatcher 创建状态监视器。interval 非正时取 5 秒。
func NewWatcher(source Source, interval time.Duration, logger *logrus.Logger) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		source:   source,
		logger:   logger,
		interval: interval,
		state:    domain.DeploymentRunning,
	}
}

// OnChange 注册状态变化监听者。监听者在持锁外被调用，
// 必须在 Start 之前注册完毕。
func (w *Watcher) OnChange(fn func(domain.DeploymentState)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Start 启动刷新循环。
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.loopCancel != nil {
		w.loopCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.loopCancel = cancel
	w.mu.Unlock()

	go w.run(ctx)
}

// Stop 停止刷新循环。
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.loopCancel != nil {
		w.loopCancel()
		w.loopCancel = nil
	}
}

func (w *Watcher) run(ctx context.Context) {
	w.Refresh(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Refresh(ctx)
		}
	}
}

// Refresh 立即执行一次状态查询。
// 查询失败保持上一个已知状态不变：门控宁可保守也不抖动。
func (w *Watcher) Refresh(ctx context.Context) {
	if w.source == nil {
		return
	}
	queryCtx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()

	state, err := w.source.QueryDeploymentState(queryCtx)
	if err != nil {
		w.logger.WithError(err).Debug("Deployment state query failed, keeping last known state")
		return
	}

	w.mu.Lock()
	changed := !w.known || state != w.state
	w.state = state
	w.known = true
	listeners := w.listeners
	w.mu.Unlock()

	if changed {
		w.logger.WithField("state", state).Info("Deployment state changed")
		for _, fn := range listeners {
			fn(state)
		}
	}
}

// State 返回最近一次已知的部署状态。
func (w *Watcher) State() domain.DeploymentState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}
