// Package logstore 实现日志条目的权威内存缓冲与实时流控制。
// 该包负责把远端馈送的批次合并为一个有序、去重的缓冲区，
// 并管理实时流的启动、暂停与恢复生命周期。
// 主要功能包括：
//   - 按时间戳升序维护唯一的规范缓冲区
//   - 基于内容身份键的有界去重集合
//   - 轮询循环与“后发请求取代先发请求”的取消语义
//   - 暂停期间继续采集、恢复时确定性对齐到最新条目
package logstore

import (
	"sort"
	"sync"

	"github.com/oriys/lumen/internal/domain"
)

// defaultSeenCapacity 是去重身份集合的默认容量。
// 集合满时按先进先出淘汰最旧的键。
const defaultSeenCapacity = 8192

// Store 是日志条目的单一可信缓冲区。
// 条目按 Timestamp 升序存放；变更只由流控制器发起，
// 其他组件通过 Snapshot 读取某一时刻的一致副本。
type Store struct {
	mu      sync.RWMutex
	entries []domain.LogEntry

	// seen 与 seenRing 共同构成有界去重集合：
	// seen 提供 O(1) 成员判定，seenRing 记录插入顺序用于淘汰
	seen     map[string]struct{}
	seenRing []string
	seenCap  int

	// maxEntries 为缓冲区上限，0 表示不限；超限时淘汰最旧条目
	maxEntries int
}

// NewStore 创建一个新的日志缓冲区。
// maxEntries 为 0 时缓冲区不设上限。
func NewStore(maxEntries int) *Store {
	return &Store{
		seen:       make(map[string]struct{}, defaultSeenCapacity),
		seenRing:   make([]string, 0, defaultSeenCapacity),
		seenCap:    defaultSeenCapacity,
		maxEntries: maxEntries,
	}
}

// Merge 把一个批次合并进缓冲区并返回实际接受的条目。
//
// 算法：
//  1. 丢弃身份键已出现过的条目（跨轮询幂等）
//  2. 对批内接受的条目做稳定排序（远端批内可能乱序）
//  3. 与现有缓冲区按时间戳归并，保持整体升序
//
// 返回值是按最终顺序排列的新接受条目，供广播使用。
func (s *Store) Merge(batch []domain.LogEntry) []domain.LogEntry {
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accepted := make([]domain.LogEntry, 0, len(batch))
	for _, e := range batch {
		key := e.IdentityKey()
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.remember(key)
		accepted = append(accepted, e)
	}
	if len(accepted) == 0 {
		return nil
	}

	// 批内稳定排序：相同时间戳的条目保持到达顺序
	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Timestamp < accepted[j].Timestamp
	})

	if n := len(s.entries); n == 0 || accepted[0].Timestamp >= s.entries[n-1].Timestamp {
		// 常见情形：整批都在当前末尾之后，直接追加
		s.entries = append(s.entries, accepted...)
	} else {
		s.entries = mergeSorted(s.entries, accepted)
	}

	if s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		drop := len(s.entries) - s.maxEntries
		s.entries = append(s.entries[:0], s.entries[drop:]...)
	}

	return accepted
}

// remember 记录一个身份键，集合满时淘汰最旧的键。
// 调用此方法前必须持有 s.mu 锁。
func (s *Store) remember(key string) {
	if len(s.seenRing) >= s.seenCap {
		oldest := s.seenRing[0]
		s.seenRing = s.seenRing[1:]
		delete(s.seen, oldest)
	}
	s.seen[key] = struct{}{}
	s.seenRing = append(s.seenRing, key)
}

// mergeSorted 归并两个按时间戳升序的切片。
// 时间戳相同时 existing 的条目在前，保证合并稳定。
func mergeSorted(existing, incoming []domain.LogEntry) []domain.LogEntry {
	out := make([]domain.LogEntry, 0, len(existing)+len(incoming))
	i, j := 0, 0
	for i < len(existing) && j < len(incoming) {
		if existing[i].Timestamp <= incoming[j].Timestamp {
			out = append(out, existing[i])
			i++
		} else {
			out = append(out, incoming[j])
			j++
		}
	}
	out = append(out, existing[i:]...)
	out = append(out, incoming[j:]...)
	return out
}

// Snapshot 返回缓冲区当前内容的一致副本。
func (s *Store) Snapshot() []domain.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.LogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len 返回缓冲区中的条目数。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear 清空缓冲区。
// 去重集合保持不变：已见过的条目即使被远端重放也不会再次出现。
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}
