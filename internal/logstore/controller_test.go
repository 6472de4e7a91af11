package logstore

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/oriys/lumen/internal/domain"
	"github.com/oriys/lumen/internal/feed"
	"github.com/sirupsen/logrus"
)

// fakeSource 按脚本响应查询的假馈送。
type fakeSource struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, ctx context.Context, cursor string) (*feed.LogBatch, error)
}

func (f *fakeSource) QueryLogs(ctx context.Context, cursor string) (*feed.LogBatch, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call, ctx, cursor)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestController() *Controller {
	return NewController(Config{Interval: time.Hour}, NewStore(0), nil, testLogger())
}

// TestController_PollNotConfigured 测试未配置远端时轮询返回哨兵错误，
// 控制器停留在 Idle。
func TestController_PollNotConfigured(t *testing.T) {
	c := newTestController()

	if err := c.Poll(context.Background()); err != domain.ErrNotConfigured {
		t.Fatalf("Poll() error = %v, want ErrNotConfigured", err)
	}
	if got := c.State(); got != StateIdle {
		t.Errorf("State() = %v, want idle", got)
	}
}

// TestController_PollMergesAndAdvancesCursor 测试成功轮询合并条目并推进游标。
func TestController_PollMergesAndAdvancesCursor(t *testing.T) {
	c := newTestController()
	var gotCursor string
	src := &fakeSource{fn: func(call int, _ context.Context, cursor string) (*feed.LogBatch, error) {
		gotCursor = cursor
		return &feed.LogBatch{
			Entries:    []domain.LogEntry{entry(100, "a")},
			NextCursor: "42",
		}, nil
	}}
	c.mu.Lock()
	c.source = src
	c.mu.Unlock()

	if err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if gotCursor != "" {
		t.Errorf("first poll cursor = %q, want empty", gotCursor)
	}
	if c.store.Len() != 1 {
		t.Errorf("store.Len() = %d, want 1", c.store.Len())
	}

	_ = c.Poll(context.Background())
	if gotCursor != "42" {
		t.Errorf("second poll cursor = %q, want 42", gotCursor)
	}
}

// TestController_SupersededPollDiscarded 测试轮询取代语义：
// 新轮询发起后，旧轮询迟到的结果被丢弃，缓冲区只含新结果。
func TestController_SupersededPollDiscarded(t *testing.T) {
	c := newTestController()

	started := make(chan struct{})
	release := make(chan struct{})
	src := &fakeSource{fn: func(call int, ctx context.Context, _ string) (*feed.LogBatch, error) {
		if call == 1 {
			close(started)
			// 无视取消信号，模拟最终还是带着结果返回的慢请求
			<-release
			return &feed.LogBatch{Entries: []domain.LogEntry{entry(100, "slow")}}, nil
		}
		return &feed.LogBatch{Entries: []domain.LogEntry{entry(200, "fast")}}, nil
	}}
	c.mu.Lock()
	c.source = src
	c.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- c.Poll(context.Background()) }()
	<-started

	// 第二次轮询取代第一次
	if err := c.Poll(context.Background()); err != nil {
		t.Fatalf("second Poll() error = %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("superseded Poll() error = %v, want nil", err)
	}

	snap := c.store.Snapshot()
	if len(snap) != 1 || snap[0].RequestID != "fast" {
		t.Errorf("store = %+v, want only the fast entry", snap)
	}
}

// TestController_PollErrorSetsStale 测试瞬时失败置陈旧标志，
// 成功后清除；失败不清空已有数据。
func TestController_PollErrorSetsStale(t *testing.T) {
	c := newTestController()
	src := &fakeSource{fn: func(call int, _ context.Context, _ string) (*feed.LogBatch, error) {
		if call == 2 {
			return nil, context.DeadlineExceeded
		}
		return &feed.LogBatch{Entries: []domain.LogEntry{entry(int64(call)*100, "r")}}, nil
	}}
	c.mu.Lock()
	c.source = src
	c.mu.Unlock()

	_ = c.Poll(context.Background())
	if c.Stale() {
		t.Fatal("Stale() = true after successful poll")
	}

	if err := c.Poll(context.Background()); err == nil {
		t.Fatal("Poll() error = nil, want transient failure")
	}
	if !c.Stale() {
		t.Error("Stale() = false after failed poll")
	}
	if c.store.Len() != 1 {
		t.Errorf("store.Len() = %d after failed poll, want data untouched", c.store.Len())
	}

	_ = c.Poll(context.Background())
	if c.Stale() {
		t.Error("Stale() = true after recovery poll")
	}
}

// TestController_PauseDoesNotLoseEntries 测试暂停不丢数据：
// 暂停期间采集继续写入缓冲区但不推送，恢复时订阅者
// 收到包含暂停期间条目的完整快照。
func TestController_PauseDoesNotLoseEntries(t *testing.T) {
	c := newTestController()
	src := &fakeSource{fn: func(call int, _ context.Context, _ string) (*feed.LogBatch, error) {
		return &feed.LogBatch{Entries: []domain.LogEntry{entry(int64(call)*100, "r")}}, nil
	}}
	c.mu.Lock()
	c.source = src
	c.mu.Unlock()

	ch, cancel := c.Subscribe()
	defer cancel()

	c.SetPaused(true)
	if got := c.State(); got != StatePaused {
		t.Fatalf("State() = %v, want paused", got)
	}

	// 暂停期间轮询两次：采集照常，推送被关闭
	_ = c.Poll(context.Background())
	_ = c.Poll(context.Background())

	select {
	case batch := <-ch:
		t.Fatalf("subscriber received %d entries while paused", len(batch))
	default:
	}
	if c.store.Len() != 2 {
		t.Fatalf("store.Len() = %d while paused, want 2", c.store.Len())
	}

	// 恢复：完整快照送达
	c.SetPaused(false)
	select {
	case batch := <-ch:
		if len(batch) != 2 {
			t.Errorf("resume snapshot has %d entries, want 2", len(batch))
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot broadcast on resume")
	}
}

// TestController_DerivedPauseConditions 测试派生暂停条件的汇总：
// 离开最新端或打开详情视图均暂停；全部解除才恢复。
func TestController_DerivedPauseConditions(t *testing.T) {
	c := newTestController()
	c.mu.Lock()
	c.source = &fakeSource{fn: func(int, context.Context, string) (*feed.LogBatch, error) {
		return &feed.LogBatch{}, nil
	}}
	c.mu.Unlock()

	c.SetAtLiveEdge(false)
	c.SetInspecting(true)
	if got := c.State(); got != StatePaused {
		t.Fatalf("State() = %v, want paused", got)
	}

	// 只解除一个条件仍然暂停
	c.SetInspecting(false)
	if got := c.State(); got != StatePaused {
		t.Errorf("State() = %v after clearing one condition, want paused", got)
	}

	c.SetAtLiveEdge(true)
	if got := c.State(); got != StateStreaming {
		t.Errorf("State() = %v after clearing all conditions, want streaming", got)
	}
}

// TestController_DeploymentPausedSuspendsPolling 测试部署暂停门控：
// 暂停期间 Poll 不发起取数并返回哨兵错误，恢复后采集继续。
func TestController_DeploymentPausedSuspendsPolling(t *testing.T) {
	c := newTestController()
	src := &fakeSource{fn: func(call int, _ context.Context, _ string) (*feed.LogBatch, error) {
		return &feed.LogBatch{Entries: []domain.LogEntry{entry(int64(call)*100, "r")}}, nil
	}}
	c.mu.Lock()
	c.source = src
	c.mu.Unlock()

	c.SetDeploymentPaused(true)
	if got := c.State(); got != StatePaused {
		t.Fatalf("State() = %v, want paused", got)
	}

	if err := c.Poll(context.Background()); err != domain.ErrPollerSuspended {
		t.Fatalf("Poll() error = %v, want ErrPollerSuspended", err)
	}
	src.mu.Lock()
	calls := src.calls
	src.mu.Unlock()
	if calls != 0 {
		t.Errorf("source called %d times while deployment paused, want 0", calls)
	}

	c.SetDeploymentPaused(false)
	if got := c.State(); got != StateStreaming {
		t.Fatalf("State() = %v after resume, want streaming", got)
	}
	if err := c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() after resume error = %v", err)
	}
	if c.store.Len() != 1 {
		t.Errorf("store.Len() = %d after resume, want 1", c.store.Len())
	}
}

// TestController_DeploymentPauseAbortsInFlight 测试部署暂停立即中止在途轮询，
// 其迟到的结果不进入缓冲区。
func TestController_DeploymentPauseAbortsInFlight(t *testing.T) {
	c := newTestController()
	started := make(chan struct{})
	release := make(chan struct{})
	src := &fakeSource{fn: func(_ int, _ context.Context, _ string) (*feed.LogBatch, error) {
		close(started)
		// 无视取消信号，模拟最终还是带着结果返回的慢请求
		<-release
		return &feed.LogBatch{Entries: []domain.LogEntry{entry(100, "stale")}}, nil
	}}
	c.mu.Lock()
	c.source = src
	c.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- c.Poll(context.Background()) }()
	<-started

	c.SetDeploymentPaused(true)
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("aborted Poll() error = %v, want nil", err)
	}
	if c.store.Len() != 0 {
		t.Errorf("store.Len() = %d, aborted poll result must be discarded", c.store.Len())
	}
}

// TestController_ClearKeepsCursor 测试清空缓冲区不重置采集游标。
func TestController_ClearKeepsCursor(t *testing.T) {
	c := newTestController()
	var gotCursor string
	src := &fakeSource{fn: func(call int, _ context.Context, cursor string) (*feed.LogBatch, error) {
		gotCursor = cursor
		return &feed.LogBatch{
			Entries:    []domain.LogEntry{entry(int64(call)*100, "r")},
			NextCursor: "7",
		}, nil
	}}
	c.mu.Lock()
	c.source = src
	c.mu.Unlock()

	_ = c.Poll(context.Background())
	c.Clear()

	if c.store.Len() != 0 {
		t.Fatalf("store.Len() = %d after Clear, want 0", c.store.Len())
	}

	_ = c.Poll(context.Background())
	if gotCursor != "7" {
		t.Errorf("cursor after Clear = %q, want 7", gotCursor)
	}
}

// TestController_StartStopLifecycle 测试 Start/Stop 的状态迁移。
func TestController_StartStopLifecycle(t *testing.T) {
	c := NewController(Config{Interval: 10 * time.Millisecond}, NewStore(0), nil, testLogger())
	src := &fakeSource{fn: func(int, context.Context, string) (*feed.LogBatch, error) {
		return &feed.LogBatch{Entries: []domain.LogEntry{entry(100, "a")}}, nil
	}}

	c.Start(src)
	if got := c.State(); got != StateStreaming {
		t.Fatalf("State() after Start = %v, want streaming", got)
	}

	// 启动后立即轮询一次
	deadline := time.After(time.Second)
	for c.store.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("no poll happened after Start")
		case <-time.After(5 * time.Millisecond):
		}
	}

	c.Stop()
	if got := c.State(); got != StateIdle {
		t.Errorf("State() after Stop = %v, want idle", got)
	}
}

// TestController_StartNilSourceStaysIdle 测试未配置部署时 Start(nil) 静默停在 Idle。
func TestController_StartNilSourceStaysIdle(t *testing.T) {
	c := newTestController()
	c.Start(nil)
	if got := c.State(); got != StateIdle {
		t.Errorf("State() = %v, want idle", got)
	}
}
