package storage

import (
	"context"
	"time"

	"github.com/oriys/lumen/internal/domain"
	"github.com/oriys/lumen/internal/metrics"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Recorder 把实时流接受的日志批次归档到历史存储，
// 并按计划执行留存清理。
type Recorder struct {
	store   *PostgresStore
	logger  *logrus.Logger
	metrics *metrics.Metrics
	cron    *cron.Cron
	cancel  context.CancelFunc
}

// NewRecorder 创建归档器。m 可为 nil。
func NewRecorder(store *PostgresStore, m *metrics.Metrics, logger *logrus.Logger) *Recorder {
	return &Recorder{
		store:   store,
		logger:  logger,
		metrics: m,
		cron:    cron.New(),
	}
}

// Start 启动归档循环与留存清理计划。
// entries 通常来自流控制器的订阅通道；通道关闭后归档循环退出。
func (r *Recorder) Start(entries <-chan []domain.LogEntry, sweepSpec string) error {
	if sweepSpec == "" {
		sweepSpec = "@hourly"
	}
	if _, err := r.cron.AddFunc(sweepSpec, r.sweep); err != nil {
		return err
	}
	r.cron.Start()

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.run(ctx, entries)

	r.logger.WithField("sweep", sweepSpec).Info("History recorder started")
	return nil
}

// Stop 停止归档循环与清理计划。
func (r *Recorder) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.cron.Stop()
}

func (r *Recorder) run(ctx context.Context, entries <-chan []domain.LogEntry) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-entries:
			if !ok {
				return
			}
			inserted, _, err := r.store.InsertEntries(ctx, batch)
			if err != nil {
				r.logger.WithError(err).Warn("History archive failed")
				continue
			}
			if r.metrics != nil {
				r.metrics.HistoryInserts.Add(float64(inserted))
			}
		}
	}
}

// sweep 执行一次留存清理。
func (r *Recorder) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if _, err := r.store.SweepExpired(ctx); err != nil {
		r.logger.WithError(err).Warn("Retention sweep failed")
		return
	}
	if r.metrics != nil {
		r.metrics.HistorySweeps.Inc()
	}
}
