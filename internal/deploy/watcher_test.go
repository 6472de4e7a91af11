package deploy

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/oriys/lumen/internal/domain"
	"github.com/sirupsen/logrus"
)

type fakeStateSource struct {
	mu    sync.Mutex
	state domain.DeploymentState
	err   error
}

func (f *fakeStateSource) QueryDeploymentState(context.Context) (domain.DeploymentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.err
}

func (f *fakeStateSource) set(state domain.DeploymentState, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
	f.err = err
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// TestWatcher_NotifiesOnChange 测试状态变化通知监听者，
// 状态不变时不重复通知。
func TestWatcher_NotifiesOnChange(t *testing.T) {
	src := &fakeStateSource{state: domain.DeploymentRunning}
	w := NewWatcher(src, time.Hour, testLogger())

	var mu sync.Mutex
	var seen []domain.DeploymentState
	w.OnChange(func(s domain.DeploymentState) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	ctx := context.Background()
	w.Refresh(ctx) // 首次确认 running
	w.Refresh(ctx) // 不变，不通知
	src.set(domain.DeploymentPaused, nil)
	w.Refresh(ctx)
	src.set(domain.DeploymentRunning, nil)
	w.Refresh(ctx)

	mu.Lock()
	defer mu.Unlock()
	want := []domain.DeploymentState{domain.DeploymentRunning, domain.DeploymentPaused, domain.DeploymentRunning}
	if len(seen) != len(want) {
		t.Fatalf("notifications = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("notification %d = %v, want %v", i, seen[i], want[i])
		}
	}
}

// TestWatcher_KeepsLastKnownOnFailure 测试查询失败保持上一个已知状态。
func TestWatcher_KeepsLastKnownOnFailure(t *testing.T) {
	src := &fakeStateSource{state: domain.DeploymentPaused}
	w := NewWatcher(src, time.Hour, testLogger())
	ctx := context.Background()

	w.Refresh(ctx)
	if got := w.State(); got != domain.DeploymentPaused {
		t.Fatalf("State() = %v, want paused", got)
	}

	src.set(domain.DeploymentRunning, errors.New("network down"))
	w.Refresh(ctx)
	if got := w.State(); got != domain.DeploymentPaused {
		t.Errorf("State() after failed query = %v, want last known paused", got)
	}
}
