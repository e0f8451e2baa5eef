package service

import (
	"fmt"
	"strings"
	"sync"

	"lchat/internal/metrics"
	"lchat/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MessageRouter 校验消息、写入历史并投递给收发双方的活动连接。
// 发送方收到的服务器副本就是确认，没有单独的 ack 事件。
type MessageRouter struct {
	store    *IdentityStore
	history  *HistoryBuffer
	out      Emitter
	maxBytes int

	// deliver 串行化写入历史与投递，实时收到的顺序与历史中的 Seq 顺序一致。
	deliver sync.Mutex
}

func NewMessageRouter(store *IdentityStore, history *HistoryBuffer, out Emitter, maxBytes int) *MessageRouter {
	return &MessageRouter{store: store, history: history, out: out, maxBytes: maxBytes}
}

// Send 所有校验都在写入历史之前完成，失败的发送不会留下任何痕迹。离线收件人只保留在历史中。
func (r *MessageRouter) Send(sender, recipient, text string, kind models.MessageKind) (models.Message, error) {
	recipient = strings.TrimSpace(recipient)
	if kind == "" {
		kind = models.KindText
	}
	switch {
	case recipient == "":
		return models.Message{}, fmt.Errorf("%w: recipient is required", ErrValidation)
	case recipient == sender:
		return models.Message{}, fmt.Errorf("%w: cannot message yourself", ErrValidation)
	case strings.TrimSpace(text) == "":
		return models.Message{}, fmt.Errorf("%w: text is required", ErrValidation)
	case r.maxBytes > 0 && len(text) > r.maxBytes:
		return models.Message{}, fmt.Errorf("%w: message too large", ErrValidation)
	case !kind.Valid():
		return models.Message{}, fmt.Errorf("%w: unknown message type %q", ErrValidation, kind)
	}
	if _, ok := r.store.Lookup(recipient); !ok {
		return models.Message{}, ErrNotFound
	}

	key := models.NewConversationKey(sender, recipient)
	r.deliver.Lock()
	defer r.deliver.Unlock()
	msg := r.history.Append(key, models.Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Text:      text,
		Kind:      kind,
	})
	metrics.WsMessagesTotal.WithLabelValues(string(msg.Kind)).Inc()

	delivered := false
	if connID, ok := r.store.ConnOf(recipient); ok {
		r.out.Emit(connID, EventReceiveMessage, msg)
		delivered = true
	}
	if connID, ok := r.store.ConnOf(sender); ok {
		r.out.Emit(connID, EventReceiveMessage, msg)
	}
	log.Debug().Str("id", msg.ID).Str("room", msg.Room).Bool("delivered", delivered).Msg("message routed")
	return msg, nil
}

// LoadHistory 返回 requester 与 peer 之间的会话窗口。
func (r *MessageRouter) LoadHistory(requester, peer string) []models.Message {
	return r.history.Fetch(models.NewConversationKey(requester, strings.TrimSpace(peer)))
}
