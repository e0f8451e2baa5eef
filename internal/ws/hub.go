package ws

import (
	"encoding/json"
	"sync"

	"lchat/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Frame 是线上的事件帧：{"event": "...", "data": ...}。
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub 按连接 id 管理所有在线连接，实现 service.Emitter。
// 投递只做非阻塞入队：发送缓冲区满的连接会被踢掉，不会拖慢调用方。
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub { return &Hub{clients: make(map[string]*Client)} }

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	metrics.WsConnections.Inc()
}

// Unregister 移除连接并关闭其发送通道，重复调用是安全的。
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
		close(c.send)
		metrics.WsConnections.Dec()
	}
}

func (h *Hub) Emit(connID, event string, payload any) {
	b, err := encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[connID]; ok {
		c.enqueue(b)
	}
}

func (h *Hub) Broadcast(event string, payload any) {
	b, err := encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.enqueue(b)
	}
}

// Online 返回当前连接数，供健康检查复用。
func (h *Hub) Online() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func encode(event string, payload any) ([]byte, error) {
	return json.Marshal(outFrame{Event: event, Data: payload})
}
