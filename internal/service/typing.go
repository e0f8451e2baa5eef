package service

import "sync"

// TypingPayload 是 display_typing / hide_typing 的载荷。
type TypingPayload struct {
	Username string `json:"username"`
}

// TypingRelay 只把输入状态转发给收件人，不持久化、不限流、不去重。
// 它记住尚未结束的输入对，发送方断线时替它补发 hide_typing。
type TypingRelay struct {
	store *IdentityStore
	out   Emitter

	mu     sync.Mutex
	active map[string]map[string]struct{}
}

func NewTypingRelay(store *IdentityStore, out Emitter) *TypingRelay {
	return &TypingRelay{store: store, out: out, active: make(map[string]map[string]struct{})}
}

func (t *TypingRelay) Start(from, to string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	peers := t.active[from]
	if peers == nil {
		peers = make(map[string]struct{})
		t.active[from] = peers
	}
	peers[to] = struct{}{}
	t.forward(EventDisplayTyping, from, to)
}

func (t *TypingRelay) Stop(from, to string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if peers := t.active[from]; peers != nil {
		delete(peers, to)
		if len(peers) == 0 {
			delete(t.active, from)
		}
	}
	t.forward(EventHideTyping, from, to)
}

// SenderGone 清除 from 的全部输入状态。
func (t *TypingRelay) SenderGone(from string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for to := range t.active[from] {
		t.forward(EventHideTyping, from, to)
	}
	delete(t.active, from)
}

func (t *TypingRelay) forward(event, from, to string) {
	connID, ok := t.store.ConnOf(to)
	if !ok {
		return
	}
	t.out.Emit(connID, event, TypingPayload{Username: from})
}
