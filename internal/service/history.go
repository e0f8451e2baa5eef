package service

import (
	"sync"
	"time"

	"lchat/internal/metrics"
	"lchat/internal/models"
)

const DefaultHistoryLimit = 200

// HistoryBuffer 为每个会话保存最近 limit 条消息，超出后从头部淘汰。
type HistoryBuffer struct {
	mu    sync.RWMutex
	limit int
	logs  map[models.ConversationKey]*ring
	seq   uint64
	last  time.Time
	now   func() time.Time
}

type ring struct {
	items []models.Message
	head  int
}

func NewHistoryBuffer(limit int) *HistoryBuffer {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &HistoryBuffer{limit: limit, logs: make(map[models.ConversationKey]*ring), now: time.Now}
}

// Append 在锁内分配序号和不递减的服务器时间戳，因此会话内的顺序就是到达顺序。
func (h *HistoryBuffer) Append(key models.ConversationKey, msg models.Message) models.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	ts := h.now().UTC()
	if ts.Before(h.last) {
		ts = h.last
	}
	h.last = ts
	h.seq++
	msg.Seq = h.seq
	msg.Timestamp = ts
	msg.Room = key.String()

	r := h.logs[key]
	if r == nil {
		r = &ring{}
		h.logs[key] = r
		metrics.Conversations.Set(float64(len(h.logs)))
	}
	if len(r.items) < h.limit {
		r.items = append(r.items, msg)
	} else {
		r.items[r.head] = msg
		r.head = (r.head + 1) % h.limit
	}
	return msg
}

// Fetch 按从旧到新的顺序返回会话窗口的副本，没有历史时返回空切片。
func (h *HistoryBuffer) Fetch(key models.ConversationKey) []models.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r := h.logs[key]
	if r == nil {
		return []models.Message{}
	}
	out := make([]models.Message, 0, len(r.items))
	out = append(out, r.items[r.head:]...)
	out = append(out, r.items[:r.head]...)
	return out
}

// Conversations 返回当前保存的会话数量。
func (h *HistoryBuffer) Conversations() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.logs)
}
