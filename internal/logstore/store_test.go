package logstore

import (
	"sort"
	"testing"

	"github.com/oriys/lumen/internal/domain"
)

// entry 构造测试条目的辅助函数。
func entry(ts int64, requestID string) domain.LogEntry {
	return domain.LogEntry{Timestamp: ts, RequestID: requestID, Status: domain.StatusSuccess}
}

// TestStore_DedupIdempotence 测试去重幂等性：
// 无论重叠批次被合并多少次，每个不同身份键的条目只出现一次。
func TestStore_DedupIdempotence(t *testing.T) {
	s := NewStore(0)

	batch := []domain.LogEntry{entry(100, "a"), entry(200, "b")}
	s.Merge(batch)
	s.Merge(batch)
	s.Merge([]domain.LogEntry{entry(200, "b"), entry(300, "c")})

	if got := s.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	seen := make(map[string]int)
	for _, e := range s.Snapshot() {
		seen[e.RequestID]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("entry %q appears %d times, want 1", id, n)
		}
	}
}

// TestStore_OrderInvariant 测试缓冲区始终按时间戳升序，
// 包括远端批内乱序交付的情形。
func TestStore_OrderInvariant(t *testing.T) {
	s := NewStore(0)

	// 批内乱序
	s.Merge([]domain.LogEntry{entry(300, "c"), entry(100, "a")})
	// 跨批乱序：批内条目早于缓冲区末尾
	s.Merge([]domain.LogEntry{entry(200, "b"), entry(400, "d")})

	snap := s.Snapshot()
	if !sort.SliceIsSorted(snap, func(i, j int) bool { return snap[i].Timestamp < snap[j].Timestamp }) {
		t.Errorf("buffer not sorted by timestamp: %+v", snap)
	}
}

// TestStore_MergeScenario 测试规定的合并场景：
// 缓冲区 [100a,200b,300c] 合并批次 [200b,400d] 后
// 恰为 [100a,200b,300c,400d]，b 不重复。
func TestStore_MergeScenario(t *testing.T) {
	s := NewStore(0)
	s.Merge([]domain.LogEntry{entry(100, "a"), entry(200, "b"), entry(300, "c")})
	s.Merge([]domain.LogEntry{entry(200, "b"), entry(400, "d")})

	snap := s.Snapshot()
	want := []struct {
		ts int64
		id string
	}{{100, "a"}, {200, "b"}, {300, "c"}, {400, "d"}}

	if len(snap) != len(want) {
		t.Fatalf("got %d entries, want %d: %+v", len(snap), len(want), snap)
	}
	for i, w := range want {
		if snap[i].Timestamp != w.ts || snap[i].RequestID != w.id {
			t.Errorf("entry %d = (%d,%s), want (%d,%s)", i, snap[i].Timestamp, snap[i].RequestID, w.ts, w.id)
		}
	}
}

// TestStore_MergeReturnsAccepted 测试 Merge 只返回新接受的条目。
func TestStore_MergeReturnsAccepted(t *testing.T) {
	s := NewStore(0)
	s.Merge([]domain.LogEntry{entry(100, "a")})

	accepted := s.Merge([]domain.LogEntry{entry(100, "a"), entry(200, "b")})
	if len(accepted) != 1 || accepted[0].RequestID != "b" {
		t.Errorf("accepted = %+v, want only b", accepted)
	}
}

// TestStore_ClearKeepsDedupMemory 测试清空后的保证：
// 已见过的条目即使被远端重放也不会再次出现。
func TestStore_ClearKeepsDedupMemory(t *testing.T) {
	s := NewStore(0)
	s.Merge([]domain.LogEntry{entry(100, "a"), entry(200, "b")})
	s.Clear()

	if s.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", s.Len())
	}

	// 重放旧条目加一条新条目：只有新条目被接受
	accepted := s.Merge([]domain.LogEntry{entry(100, "a"), entry(300, "c")})
	if len(accepted) != 1 || accepted[0].RequestID != "c" {
		t.Errorf("accepted after clear = %+v, want only c", accepted)
	}
}

// TestStore_SeenRingEviction 测试去重集合的有界淘汰不影响新条目接受。
func TestStore_SeenRingEviction(t *testing.T) {
	s := NewStore(0)
	s.seenCap = 4

	for i := int64(0); i < 10; i++ {
		accepted := s.Merge([]domain.LogEntry{entry(i*100, "r")})
		if len(accepted) != 1 {
			t.Fatalf("entry at ts %d not accepted", i*100)
		}
	}
	if s.Len() != 10 {
		t.Errorf("Len() = %d, want 10", s.Len())
	}
}

// TestStore_MaxEntriesEviction 测试缓冲区上限淘汰最旧条目。
func TestStore_MaxEntriesEviction(t *testing.T) {
	s := NewStore(3)
	s.Merge([]domain.LogEntry{entry(100, "a"), entry(200, "b"), entry(300, "c"), entry(400, "d")})

	snap := s.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Len() = %d, want 3", len(snap))
	}
	if snap[0].Timestamp != 200 {
		t.Errorf("oldest entry ts = %d, want 200 (100 evicted)", snap[0].Timestamp)
	}
}

// TestStore_SnapshotIsolation 测试快照是独立副本，不受后续合并影响。
func TestStore_SnapshotIsolation(t *testing.T) {
	s := NewStore(0)
	s.Merge([]domain.LogEntry{entry(100, "a")})

	snap := s.Snapshot()
	s.Merge([]domain.LogEntry{entry(200, "b")})

	if len(snap) != 1 {
		t.Errorf("snapshot grew after merge: %d entries", len(snap))
	}
}
