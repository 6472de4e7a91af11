package api

import (
	"net/http"

	"github.com/oriys/lumen/internal/filter"
)

// StreamLogs 通过 WebSocket 推送日志流。
// HTTP 端点: GET /api/v1/logs/stream
//
// 连接建立后先推送经过滤的当前缓冲区快照，随后每当流水线
// 接受新条目或从暂停恢复时推送对应批次。过滤状态来自查询
// 参数，对每个连接独立生效。广播迟滞的连接会丢批而非阻塞
// 流水线，丢失的条目在恢复后的快照中补齐。
func (h *Handler) StreamLogs(w http.ResponseWriter, r *http.Request) {
	state := filterStateFromQuery(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade websocket")
		return
	}
	defer conn.Close()

	entries, cancel := h.controller.Subscribe()
	defer cancel()

	// 读循环只为感知对端关闭
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// 初始快照让迟到的订阅者立即对齐
	snapshot := filter.Apply(h.controller.Store().Snapshot(), state)
	if len(snapshot) > 0 {
		if err := conn.WriteJSON(snapshot); err != nil {
			return
		}
	}

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case batch, ok := <-entries:
			if !ok {
				return
			}
			visible := filter.Apply(batch, state)
			if len(visible) == 0 {
				continue
			}
			if err := conn.WriteJSON(visible); err != nil {
				h.logger.WithError(err).Debug("Log stream write failed, closing")
				return
			}
		}
	}
}

// StreamJobs 通过 WebSocket 推送定时任务快照。
// HTTP 端点: GET /api/v1/jobs/stream
//
// 每次轮询成功产生的完整快照整体推送，客户端无需做增量合并。
func (h *Handler) StreamJobs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade websocket")
		return
	}
	defer conn.Close()

	snapshots, cancel := h.jobs.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if current := h.jobs.Jobs(); len(current) > 0 {
		if err := conn.WriteJSON(current); err != nil {
			return
		}
	}

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case snapshot, ok := <-snapshots:
			if !ok {
				return
			}
			if err := conn.WriteJSON(snapshot); err != nil {
				h.logger.WithError(err).Debug("Jobs stream write failed, closing")
				return
			}
		}
	}
}
