// Package events 提供日志条目的 NATS 旁路源。
// 除 HTTP 轮询外，部署侧的采集代理可以把日志批次发布到
// NATS JetStream 主题，面板订阅后将其合并进同一个缓冲区。
// 去重身份键保证两个来源重叠时条目不重复。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oriys/lumen/internal/domain"
	"github.com/sirupsen/logrus"
)

// logStreamName 日志旁路流的 JetStream Stream 名称
const logStreamName = "PANEL_LOGS"

// Sink 接收一批规范化后的日志条目。
// 流控制器的缓冲区合并入口实现了该签名。
type Sink func(entries []domain.LogEntry)

// LogSubscriber 订阅 NATS 上的日志批次并送入缓冲区。
type LogSubscriber struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
	logger  *logrus.Logger
}

// NewLogSubscriber 连接 NATS 并初始化日志流。
func NewLogSubscriber(natsURL, subject string, logger *logrus.Logger) (*LogSubscriber, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	cfg := nats.StreamConfig{
		Name:     logStreamName,
		Subjects: []string{subject},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	}
	if _, err := js.AddStream(&cfg); err != nil && err != nats.ErrStreamNameAlreadyInUse {
		js.UpdateStream(&cfg)
	}

	return &LogSubscriber{
		conn:    nc,
		js:      js,
		subject: subject,
		logger:  logger,
	}, nil
}

// Close 关闭底层 NATS 连接。
func (s *LogSubscriber) Close() error {
	s.conn.Close()
	return nil
}

// Run 订阅日志主题并把每个批次规范化后交给 sink。
// 时间戳在入口处统一归为毫秒。坏消息记日志后确认丢弃，
// 不让单条坏数据阻塞消费进度。ctx 取消时自动退订。
func (s *LogSubscriber) Run(ctx context.Context, sink Sink) error {
	sub, err := s.js.Subscribe(s.subject, func(msg *nats.Msg) {
		var entries []domain.LogEntry
		if err := json.Unmarshal(msg.Data, &entries); err != nil {
			s.logger.WithError(err).Error("Failed to unmarshal log batch from NATS")
			msg.Ack()
			return
		}
		for i := range entries {
			entries[i].Timestamp = domain.NormalizeTimestampMs(entries[i].Timestamp)
			entries[i].FunctionPath = domain.NormalizeFunctionPath(entries[i].FunctionPath)
		}
		sink(entries)
		msg.Ack()
	}, nats.Durable("panel-log-feed"), nats.ManualAck())
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	s.logger.WithField("subject", s.subject).Info("NATS log source attached")

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()
	return nil
}
