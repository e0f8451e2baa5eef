package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"lchat/internal/config"
	clog "lchat/internal/log"
	"lchat/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	// 帧头和 JSON 字段名的额外开销。
	frameOverhead = 4 << 10
)

type Client struct {
	id    string
	conn  *websocket.Conn
	send  chan []byte
	evict sync.Once
}

// NewClient 创建一个尚未绑定 socket 的连接，主要供测试和 Serve 使用。
func NewClient(id string, buffer int) *Client {
	return &Client{id: id, send: make(chan []byte, buffer)}
}

func (c *Client) ID() string { return c.id }

// Outbox 暴露发送通道，只读。
func (c *Client) Outbox() <-chan []byte { return c.send }

// enqueue 必须在持有 Hub 读锁时调用，保证不会写入已关闭的通道。
func (c *Client) enqueue(b []byte) {
	select {
	case c.send <- b:
	default:
		metrics.WsDroppedFrames.Inc()
		c.kick()
	}
}

// kick 关闭底层 socket，readPump 随即退出并走正常的断线流程。
func (c *Client) kick() {
	c.evict.Do(func() {
		l := clog.ForConn(c.id)
		l.Warn().Msg("send buffer full, evicting connection")
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 升级 WebSocket 连接并把入站事件交给 Dispatcher。
func Serve(h *Hub, d *Dispatcher, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := NewClient(uuid.NewString(), cfg.SendBuffer)
		client.conn = conn
		h.Register(client)
		l := clog.ForConn(client.id)
		l.Info().Str("remote", c.Request.RemoteAddr).Msg("connected")

		go client.writePump()
		client.readPump(h, d, int64(cfg.MaxMessageBytes)+frameOverhead)
	}
}

func (c *Client) readPump(h *Hub, d *Dispatcher, limit int64) {
	defer func() {
		h.Unregister(c)
		d.Disconnect(c.id)
		_ = c.conn.Close()
		l := clog.ForConn(c.id)
		l.Info().Msg("disconnected")
	}()
	c.conn.SetReadLimit(limit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var in Frame
		if err := json.Unmarshal(data, &in); err != nil || in.Event == "" {
			d.reject(c.id, "bad_request", "malformed frame")
			continue
		}
		d.Handle(c.id, in.Event, in.Data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
