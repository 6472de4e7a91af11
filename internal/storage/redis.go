package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oriys/lumen/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// 会话与缓存的默认生存期
const (
	sessionTTL  = 7 * 24 * time.Hour
	analysisTTL = 24 * time.Hour
)

// RedisStore 承载面板会话偏好与诊断结果的二级缓存。
type RedisStore struct {
	client *redis.Client
	logger *logrus.Logger
}

// NewRedisStore 连接 Redis 并验证连通性。
func NewRedisStore(addr, password string, db int, logger *logrus.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisStore{client: client, logger: logger}, nil
}

// Close 关闭连接。
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping 检查连通性，供健康检查使用。
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SaveFilterState 保存某个面板会话的过滤状态。
func (s *RedisStore) SaveFilterState(ctx context.Context, sessionID string, state domain.FilterState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling filter state: %w", err)
	}
	key := fmt.Sprintf("panel:session:%s:filter", sessionID)
	return s.client.Set(ctx, key, data, sessionTTL).Err()
}

// LoadFilterState 读取某个面板会话保存的过滤状态。
// 没有保存过时返回 domain.ErrSessionNotFound。
func (s *RedisStore) LoadFilterState(ctx context.Context, sessionID string) (domain.FilterState, error) {
	key := fmt.Sprintf("panel:session:%s:filter", sessionID)
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return domain.FilterState{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.FilterState{}, fmt.Errorf("loading filter state: %w", err)
	}

	var state domain.FilterState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.FilterState{}, fmt.Errorf("unmarshaling filter state: %w", err)
	}
	return state, nil
}

// DismissWarning 记录会话内被用户关闭的警告标识。
func (s *RedisStore) DismissWarning(ctx context.Context, sessionID, warningID string) error {
	key := fmt.Sprintf("panel:session:%s:dismissed", sessionID)
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, key, warningID)
	pipe.Expire(ctx, key, sessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// DismissedWarnings 返回会话内全部已关闭的警告标识。
func (s *RedisStore) DismissedWarnings(ctx context.Context, sessionID string) ([]string, error) {
	key := fmt.Sprintf("panel:session:%s:dismissed", sessionID)
	return s.client.SMembers(ctx, key).Result()
}

// GetAnalysis 读取缓存的诊断结果，未命中返回 (nil, nil)。
func (s *RedisStore) GetAnalysis(ctx context.Context, requestID string) (*domain.ErrorAnalysis, error) {
	data, err := s.client.Get(ctx, analysisKey(requestID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading cached analysis: %w", err)
	}

	var a domain.ErrorAnalysis
	if err := json.Unmarshal(data, &a); err != nil {
		// 缓存损坏按未命中处理，删除坏值
		s.logger.WithError(err).WithField("request_id", requestID).Warn("Dropping corrupt cached analysis")
		s.client.Del(ctx, analysisKey(requestID))
		return nil, nil
	}
	return &a, nil
}

// PutAnalysis 缓存一份诊断结果。
func (s *RedisStore) PutAnalysis(ctx context.Context, a *domain.ErrorAnalysis) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling analysis: %w", err)
	}
	return s.client.Set(ctx, analysisKey(a.RequestID), data, analysisTTL).Err()
}

// DeleteAnalysis 删除缓存的诊断结果。
func (s *RedisStore) DeleteAnalysis(ctx context.Context, requestID string) error {
	return s.client.Del(ctx, analysisKey(requestID)).Err()
}

func analysisKey(requestID string) string {
	return "panel:analysis:" + requestID
}
