package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"lchat/internal/auth"
	"lchat/internal/config"
	"lchat/internal/metrics"
	"lchat/internal/models"
	"lchat/internal/service"

	"github.com/rs/zerolog/log"
)

// 入站事件名。
const (
	EventRegister    = "register"
	EventLogin       = "login"
	EventResume      = "resume"
	EventGetUsers    = "get_users"
	EventAddContact  = "add_contact"
	EventJoinRoom    = "join_room"
	EventTyping      = "typing"
	EventStopTyping  = "stop_typing"
	EventSendMessage = "send_message"
)

// Services 聚合 Dispatcher 依赖的核心组件。
type Services struct {
	Store    *service.IdentityStore
	Presence *service.PresenceTracker
	Router   *service.MessageRouter
	Typing   *service.TypingRelay
	Out      service.Emitter
}

// Dispatcher 把入站事件映射到核心操作，本身不持有状态。
type Dispatcher struct {
	svc Services
	cfg config.Config
}

func NewDispatcher(svc Services, cfg config.Config) *Dispatcher {
	return &Dispatcher{svc: svc, cfg: cfg}
}

type registerPayload struct {
	Username string `json:"username"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type loginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type resumePayload struct {
	Token string `json:"token"`
}

type contactPayload struct {
	Contact string `json:"contact"`
}

type joinPayload struct {
	Peer string `json:"peer"`
}

type typingPayload struct {
	Recipient string `json:"recipient"`
}

type sendPayload struct {
	Recipient string             `json:"recipient"`
	Text      string             `json:"text"`
	Kind      models.MessageKind `json:"type"`
}

// AuthSuccess 是 auth_success 事件的载荷，Token 用于断线后 resume。
type AuthSuccess struct {
	Username string `json:"username"`
	Phone    string `json:"phone"`
	Token    string `json:"token,omitempty"`
}

type messagePayload struct {
	Message string `json:"message"`
}

// ErrorPayload 是 error 事件的载荷。
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handle 处理一条入站事件。同一连接的事件由 readPump 顺序调用。
func (d *Dispatcher) Handle(connID, event string, data json.RawMessage) {
	err := d.handle(connID, event, data)
	outcome := "ok"
	if err != nil {
		outcome = errorCode(err)
	}
	metrics.ObserveEvent(event, outcome, knownEvent(event))
	if err == nil {
		return
	}

	lg := log.Warn()
	if outcome == "internal" {
		lg = log.Error()
	}
	lg.Err(err).Str("conn_id", connID).Str("event", event).Msg("handle event")

	switch event {
	case EventRegister, EventLogin, EventResume:
		msg := err.Error()
		if outcome == "internal" {
			msg = "authentication failed"
		}
		d.svc.Out.Emit(connID, service.EventAuthError, messagePayload{Message: msg})
	case EventAddContact:
		d.svc.Out.Emit(connID, service.EventContactError, messagePayload{Message: err.Error()})
	default:
		msg := err.Error()
		if outcome == "internal" {
			msg = "internal error"
		}
		d.reject(connID, outcome, msg)
	}
}

func (d *Dispatcher) handle(connID, event string, data json.RawMessage) error {
	switch event {
	case EventRegister:
		var p registerPayload
		if err := decode(data, &p); err != nil {
			return err
		}
		res, err := d.svc.Store.Register(context.Background(), connID, p.Username, p.Phone, p.Password)
		if err != nil {
			return err
		}
		d.authenticated(connID, res)
	case EventLogin:
		var p loginPayload
		if err := decode(data, &p); err != nil {
			return err
		}
		res, err := d.svc.Store.Login(connID, p.Username, p.Password)
		if err != nil {
			return err
		}
		d.authenticated(connID, res)
	case EventResume:
		var p resumePayload
		if err := decode(data, &p); err != nil {
			return err
		}
		claims, err := auth.ParseSessionToken(p.Token, d.cfg.JWTSecret)
		if err != nil {
			return service.ErrInvalidCredentials
		}
		res, err := d.svc.Store.Resume(connID, claims.Username)
		if err != nil {
			return err
		}
		d.authenticated(connID, res)
	case EventGetUsers:
		me, _ := d.svc.Store.UsernameFor(connID)
		d.svc.Out.Emit(connID, service.EventAllUsers, d.svc.Store.ListAll(me))
	case EventAddContact:
		var p contactPayload
		if err := decode(data, &p); err != nil {
			return err
		}
		u, err := d.svc.Store.Find(p.Contact)
		if err != nil {
			return err
		}
		d.svc.Out.Emit(connID, service.EventContactAdded, u)
	case EventJoinRoom:
		me, err := d.caller(connID)
		if err != nil {
			return err
		}
		var p joinPayload
		if err := decode(data, &p); err != nil {
			return err
		}
		if strings.TrimSpace(p.Peer) == "" {
			return errRequired("peer")
		}
		d.svc.Out.Emit(connID, service.EventLoadHistory, d.svc.Router.LoadHistory(me, p.Peer))
	case EventTyping, EventStopTyping:
		me, err := d.caller(connID)
		if err != nil {
			return err
		}
		var p typingPayload
		if err := decode(data, &p); err != nil {
			return err
		}
		to := strings.TrimSpace(p.Recipient)
		if to == "" {
			return errRequired("recipient")
		}
		if event == EventTyping {
			d.svc.Typing.Start(me, to)
		} else {
			d.svc.Typing.Stop(me, to)
		}
	case EventSendMessage:
		me, err := d.caller(connID)
		if err != nil {
			return err
		}
		var p sendPayload
		if err := decode(data, &p); err != nil {
			return err
		}
		if _, err := d.svc.Router.Send(me, p.Recipient, p.Text, p.Kind); err != nil {
			return err
		}
	default:
		return errUnknownEvent
	}
	return nil
}

// Disconnect 在传输层断线时调用。
func (d *Dispatcher) Disconnect(connID string) {
	if username, ok := d.svc.Presence.Disconnected(connID); ok {
		d.svc.Typing.SenderGone(username)
	}
}

func (d *Dispatcher) authenticated(connID string, res service.AuthResult) {
	token, err := auth.GenerateSessionToken(res.User.Username, d.cfg.JWTSecret, d.cfg.SessionTokenTTLMinutes)
	if err != nil {
		log.Error().Err(err).Str("username", res.User.Username).Msg("generate session token")
	}
	if res.Released != nil {
		d.svc.Typing.SenderGone(res.Released.Username)
	}
	d.svc.Out.Emit(connID, service.EventAuthSuccess, AuthSuccess{Username: res.User.Username, Phone: res.User.Phone, Token: token})
	d.svc.Presence.Connected(res)
	d.svc.Out.Emit(connID, service.EventAllUsers, d.svc.Store.ListAll(res.User.Username))
	log.Info().Str("conn_id", connID).Str("username", res.User.Username).Msg("authenticated")
}

func (d *Dispatcher) caller(connID string) (string, error) {
	me, ok := d.svc.Store.UsernameFor(connID)
	if !ok {
		return "", service.ErrUnauthenticated
	}
	return me, nil
}

func (d *Dispatcher) reject(connID, code, msg string) {
	d.svc.Out.Emit(connID, service.EventError, ErrorPayload{Code: code, Message: msg})
}

var (
	errUnknownEvent = errors.New("unknown event")
	errBadPayload   = errors.New("malformed payload")
)

func errRequired(field string) error {
	return fmt.Errorf("%w: %s is required", service.ErrValidation, field)
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errBadPayload
	}
	return nil
}

func knownEvent(event string) bool {
	switch event {
	case EventRegister, EventLogin, EventResume, EventGetUsers, EventAddContact,
		EventJoinRoom, EventTyping, EventStopTyping, EventSendMessage:
		return true
	}
	return false
}

// errorCode 把业务错误映射成客户端可识别的错误码。
func errorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrDuplicateUsername):
		return "duplicate_username"
	case errors.Is(err, service.ErrDuplicatePhone):
		return "duplicate_phone"
	case errors.Is(err, service.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, service.ErrNotFound):
		return "not_found"
	case errors.Is(err, service.ErrValidation):
		return "validation"
	case errors.Is(err, service.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, errBadPayload):
		return "bad_request"
	case errors.Is(err, errUnknownEvent):
		return "unknown_event"
	default:
		return "internal"
	}
}
