package correlator

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/lumen/internal/domain"
	"github.com/sirupsen/logrus"
)

// fakeFetcher 可编程的假远端。
type fakeFetcher struct {
	detailCalls   int64
	analysisCalls int64

	detailFn   func(requestID string) (*domain.ExecutionDetail, error)
	queryFn    func(requestID string) (*domain.ErrorAnalysis, error)
	generateFn func(req domain.AnalysisRequest, onPartial func(string)) (*domain.ErrorAnalysis, error)

	// block 非 nil 时详情取数阻塞到该通道关闭
	block chan struct{}
}

func (f *fakeFetcher) QueryExecutionDetail(ctx context.Context, requestID string) (*domain.ExecutionDetail, error) {
	atomic.AddInt64(&f.detailCalls, 1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.detailFn != nil {
		return f.detailFn(requestID)
	}
	return &domain.ExecutionDetail{RequestID: requestID}, nil
}

func (f *fakeFetcher) QueryErrorAnalysis(_ context.Context, requestID string) (*domain.ErrorAnalysis, error) {
	if f.queryFn != nil {
		return f.queryFn(requestID)
	}
	return nil, domain.ErrAnalysisNotFound
}

func (f *fakeFetcher) RequestErrorAnalysis(_ context.Context, req domain.AnalysisRequest, onPartial func(string)) (*domain.ErrorAnalysis, error) {
	atomic.AddInt64(&f.analysisCalls, 1)
	if f.block != nil {
		<-f.block
	}
	if f.generateFn != nil {
		return f.generateFn(req, onPartial)
	}
	return &domain.ErrorAnalysis{RequestID: req.RequestID, RootCause: "generated"}, nil
}

func (f *fakeFetcher) RequestFixSuggestion(_ context.Context, req domain.AnalysisRequest) (*domain.FixSuggestion, error) {
	return &domain.FixSuggestion{Suggestion: "retry"}, nil
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// TestGetDetail_Coalescing 测试并发合并：
// 同一 requestID 上两个并发的 GetDetail 只产生一次远端取数。
func TestGetDetail_Coalescing(t *testing.T) {
	f := &fakeFetcher{block: make(chan struct{})}
	c := New(f, nil, nil, testLogger())
	ctx := context.Background()

	r1 := c.GetDetail(ctx, "req-1")
	r2 := c.GetDetail(ctx, "req-1")
	if r1.State != DetailPending || r2.State != DetailPending {
		t.Fatalf("states = %v, %v, want both pending", r1.State, r2.State)
	}

	close(f.block)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := c.Wait(ctx, "req-1")
			if res.State != DetailReady || res.Detail.RequestID != "req-1" {
				t.Errorf("Wait() = %+v, want ready req-1", res)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&f.detailCalls); got != 1 {
		t.Errorf("remote detail fetches = %d, want 1", got)
	}
}

// TestGetDetail_SurvivesInitiatorCancel 测试取数脱离发起者的取消信号：
// 首个调用者断开后远端取数照常完成，合并等待者拿到的是结果而非
// context.Canceled。
func TestGetDetail_SurvivesInitiatorCancel(t *testing.T) {
	f := &fakeFetcher{block: make(chan struct{})}
	c := New(f, nil, nil, testLogger())

	initCtx, cancel := context.WithCancel(context.Background())
	if res := c.GetDetail(initCtx, "req-1"); res.State != DetailPending {
		t.Fatalf("State = %v, want pending", res.State)
	}
	// 发起者在取数完成前断开
	cancel()
	close(f.block)

	res := c.Wait(context.Background(), "req-1")
	if res.State != DetailReady || res.Detail == nil || res.Detail.RequestID != "req-1" {
		t.Fatalf("Wait() = %+v, want ready despite initiator cancel", res)
	}
}

// TestGetDetail_CachedHit 测试缓存命中不再触发远端取数。
func TestGetDetail_CachedHit(t *testing.T) {
	f := &fakeFetcher{}
	c := New(f, nil, nil, testLogger())
	ctx := context.Background()

	c.GetDetail(ctx, "req-1")
	c.Wait(ctx, "req-1")

	res := c.GetDetail(ctx, "req-1")
	if res.State != DetailReady {
		t.Fatalf("State = %v, want ready", res.State)
	}
	if got := atomic.LoadInt64(&f.detailCalls); got != 1 {
		t.Errorf("remote detail fetches = %d, want 1", got)
	}
}

// TestGetDetail_FailureScopedAndRetryable 测试失败语义：
// 失败限定在该键，不影响其他缓存项；重试会重新取数。
func TestGetDetail_FailureScopedAndRetryable(t *testing.T) {
	var failFirst int64 = 1
	f := &fakeFetcher{detailFn: func(requestID string) (*domain.ExecutionDetail, error) {
		if requestID == "req-bad" && atomic.SwapInt64(&failFirst, 0) == 1 {
			return nil, errors.New("upstream 500")
		}
		return &domain.ExecutionDetail{RequestID: requestID}, nil
	}}
	c := New(f, nil, nil, testLogger())
	ctx := context.Background()

	c.GetDetail(ctx, "req-bad")
	if res := c.Wait(ctx, "req-bad"); res.State != DetailFailed || res.Err == nil {
		t.Fatalf("Wait() = %+v, want failed with error", res)
	}

	// 其他键不受影响
	c.GetDetail(ctx, "req-ok")
	if res := c.Wait(ctx, "req-ok"); res.State != DetailReady {
		t.Fatalf("unrelated key state = %v, want ready", res.State)
	}

	// 失败键的重试重新取数并成功
	c.GetDetail(ctx, "req-bad")
	if res := c.Wait(ctx, "req-bad"); res.State != DetailReady {
		t.Errorf("retry state = %v, want ready", res.State)
	}
}

// TestInvalidate_ForcesRefetch 测试显式失效后下一次 GetDetail 重新取数。
func TestInvalidate_ForcesRefetch(t *testing.T) {
	f := &fakeFetcher{}
	c := New(f, nil, nil, testLogger())
	ctx := context.Background()

	c.GetDetail(ctx, "req-1")
	c.Wait(ctx, "req-1")
	c.Invalidate(ctx, "req-1")

	c.GetDetail(ctx, "req-1")
	c.Wait(ctx, "req-1")

	if got := atomic.LoadInt64(&f.detailCalls); got != 2 {
		t.Errorf("remote detail fetches = %d, want 2 after invalidate", got)
	}
}

// TestRequestAnalysis_Coalescing 测试诊断生成的并发合并：
// 第二个调用者等待第一个的结果而不是发起第二次远端调用。
func TestRequestAnalysis_Coalescing(t *testing.T) {
	f := &fakeFetcher{block: make(chan struct{})}
	c := New(f, nil, nil, testLogger())
	ctx := context.Background()
	req := domain.AnalysisRequest{RequestID: "req-1", ErrorMessage: "boom"}

	results := make(chan *domain.ErrorAnalysis, 2)
	for i := 0; i < 2; i++ {
		go func() {
			a, err := c.RequestAnalysis(ctx, req, nil)
			if err != nil {
				t.Errorf("RequestAnalysis() error = %v", err)
			}
			results <- a
		}()
	}

	// 等两个调用都挂上后再放行
	time.Sleep(50 * time.Millisecond)
	close(f.block)

	a1, a2 := <-results, <-results
	if a1.RootCause != "generated" || a2.RootCause != "generated" {
		t.Errorf("results = %+v, %+v", a1, a2)
	}
	if got := atomic.LoadInt64(&f.analysisCalls); got != 1 {
		t.Errorf("remote analysis calls = %d, want 1", got)
	}
}

// TestRequestAnalysis_PartialThenFinal 测试渐进展示：
// 片段按序送达发起者，最终值以完整对象为准。
func TestRequestAnalysis_PartialThenFinal(t *testing.T) {
	f := &fakeFetcher{generateFn: func(req domain.AnalysisRequest, onPartial func(string)) (*domain.ErrorAnalysis, error) {
		if onPartial != nil {
			onPartial("root ")
			onPartial("cause")
		}
		return &domain.ErrorAnalysis{RequestID: req.RequestID, RootCause: "authoritative root cause"}, nil
	}}
	c := New(f, nil, nil, testLogger())

	var partials []string
	a, err := c.RequestAnalysis(context.Background(), domain.AnalysisRequest{RequestID: "req-1"}, func(s string) {
		partials = append(partials, s)
	})
	if err != nil {
		t.Fatalf("RequestAnalysis() error = %v", err)
	}
	if len(partials) != 2 || partials[0] != "root " {
		t.Errorf("partials = %v", partials)
	}
	if a.RootCause != "authoritative root cause" {
		t.Errorf("final root cause = %q, partials must not be authoritative", a.RootCause)
	}

	// 完整对象进入缓存，查找不再打远端
	got, err := c.GetErrorAnalysis(context.Background(), "req-1")
	if err != nil || got.RootCause != "authoritative root cause" {
		t.Errorf("GetErrorAnalysis() = %+v, %v", got, err)
	}
}

// fakeAnalysisCache 进程内的假二级缓存。
type fakeAnalysisCache struct {
	mu   sync.Mutex
	data map[string]*domain.ErrorAnalysis
}

func (f *fakeAnalysisCache) GetAnalysis(_ context.Context, requestID string) (*domain.ErrorAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[requestID], nil
}

func (f *fakeAnalysisCache) PutAnalysis(_ context.Context, a *domain.ErrorAnalysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		f.data = make(map[string]*domain.ErrorAnalysis)
	}
	f.data[a.RequestID] = a
	return nil
}

func (f *fakeAnalysisCache) DeleteAnalysis(_ context.Context, requestID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, requestID)
	return nil
}

// TestGetErrorAnalysis_CacheLookupOrder 测试查找顺序：
// 二级缓存命中时不打远端；远端缺失返回 ErrAnalysisNotFound。
func TestGetErrorAnalysis_CacheLookupOrder(t *testing.T) {
	cache := &fakeAnalysisCache{data: map[string]*domain.ErrorAnalysis{
		"req-cached": {RequestID: "req-cached", RootCause: "from cache"},
	}}
	f := &fakeFetcher{}
	c := New(f, cache, nil, testLogger())
	ctx := context.Background()

	a, err := c.GetErrorAnalysis(ctx, "req-cached")
	if err != nil || a.RootCause != "from cache" {
		t.Errorf("GetErrorAnalysis() = %+v, %v, want cache hit", a, err)
	}

	if _, err := c.GetErrorAnalysis(ctx, "req-missing"); !errors.Is(err, domain.ErrAnalysisNotFound) {
		t.Errorf("error = %v, want ErrAnalysisNotFound", err)
	}
}
