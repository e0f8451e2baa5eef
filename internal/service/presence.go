package service

import (
	"sync"
	"time"

	"lchat/internal/metrics"

	"github.com/rs/zerolog/log"
)

// StatusChange 是 user_status_change 事件的载荷。
type StatusChange struct {
	Username string     `json:"username"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// PresenceTracker 把连接生命周期翻译成在线状态，并广播给所有连接。
// 在线状态只从连接派生，不能单独设置。
// 广播在 mu 内读取存储的当前状态，因此最后一次广播总是与存储一致。
type PresenceTracker struct {
	store *IdentityStore
	out   Emitter

	mu sync.Mutex
}

func NewPresenceTracker(store *IdentityStore, out Emitter) *PresenceTracker {
	return &PresenceTracker{store: store, out: out}
}

// Connected 在注册、登录或恢复会话成功后调用。
func (p *PresenceTracker) Connected(res AuthResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if res.Released != nil {
		p.announceLocked(res.Released.Username)
	}
	p.announceLocked(res.User.Username)
}

// Disconnected 处理传输层断线，未认证的连接不产生任何事件。
func (p *PresenceTracker) Disconnected(connID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.store.Disconnect(connID)
	if !ok {
		return "", false
	}
	p.announceLocked(rec.Username)
	return rec.Username, true
}

func (p *PresenceTracker) announceLocked(username string) {
	rec, ok := p.store.Lookup(username)
	if !ok {
		return
	}
	metrics.OnlineUsers.Set(float64(p.store.OnlineCount()))
	log.Debug().Str("username", rec.Username).Bool("online", rec.Online).Msg("presence change")
	sc := StatusChange{Username: rec.Username, Online: rec.Online}
	if !rec.Online {
		sc.LastSeen = rec.LastSeen
	}
	p.out.Broadcast(EventUserStatusChange, sc)
}
