package service

// Emitter 是传输层对核心暴露的投递能力。实现必须是非阻塞的：慢连接不能拖住调用方。
type Emitter interface {
	// Emit 向单个连接投递事件，连接不存在时静默丢弃。
	Emit(connID, event string, payload any)
	// Broadcast 向所有连接投递事件。
	Broadcast(event string, payload any)
}

// 出站事件名。
const (
	EventAuthSuccess      = "auth_success"
	EventAuthError        = "auth_error"
	EventAllUsers         = "all_users"
	EventUserStatusChange = "user_status_change"
	EventDisplayTyping    = "display_typing"
	EventHideTyping       = "hide_typing"
	EventReceiveMessage   = "receive_message"
	EventLoadHistory      = "load_history"
	EventContactAdded     = "contact_added_success"
	EventContactError     = "contact_error"
	EventError            = "error"
)
