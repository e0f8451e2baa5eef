package models

import (
	"sort"
	"strings"
	"time"
)

// UserRecord 是身份存储中的一条用户记录，Password 保存的是凭据哈希。
type UserRecord struct {
	Username string
	Phone    string
	Password string
	Online   bool
	ConnID   string
	LastSeen *time.Time
	Avatar   string
}

// UserView 是对外输出的用户数据，不包含凭据。
type UserView struct {
	Username string     `json:"username"`
	Phone    string     `json:"phone"`
	Online   bool       `json:"online"`
	Avatar   string     `json:"avatar"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// View 投影出公开字段。
func (u UserRecord) View() UserView {
	return UserView{Username: u.Username, Phone: u.Phone, Online: u.Online, Avatar: u.Avatar, LastSeen: u.LastSeen}
}

// Account 是持久化的账号行，只保存注册信息，在线状态从不落库。
type Account struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	Phone        string `gorm:"uniqueIndex;size:32;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
}

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindVoice MessageKind = "voice"
)

// Valid reports whether k is one of the known kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVoice:
		return true
	}
	return false
}

// ConversationKey 标识两人会话，与参数顺序无关。
type ConversationKey struct {
	A, B string
}

func NewConversationKey(u1, u2 string) ConversationKey {
	pair := []string{u1, u2}
	sort.Strings(pair)
	return ConversationKey{A: pair[0], B: pair[1]}
}

// String 返回客户端使用的房间 id。
func (k ConversationKey) String() string {
	return strings.Join([]string{k.A, k.B}, "_")
}

type Message struct {
	ID        string      `json:"id"`
	Room      string      `json:"room"`
	Sender    string      `json:"sender"`
	Recipient string      `json:"recipient"`
	Text      string      `json:"text"`
	Kind      MessageKind `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Seq       uint64      `json:"seq"`
}
