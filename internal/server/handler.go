package server

import (
	"errors"
	"net/http"

	"lchat/internal/auth"
	"lchat/internal/service"
	"lchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合只读的 HTTP 接口，依赖注入核心组件。
type Handler struct {
	store   *service.IdentityStore
	history *service.HistoryBuffer
	hub     *ws.Hub
}

func NewHandler(store *service.IdentityStore, history *service.HistoryBuffer, hub *ws.Hub) *Handler {
	return &Handler{store: store, history: history, hub: hub}
}

// Healthz 返回进程状态和几个便于排查的计数。
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"connections":   h.hub.Online(),
		"online":        h.store.OnlineCount(),
		"conversations": h.history.Conversations(),
	})
}

// ListUsers 返回除调用者以外的全部用户，与 all_users 事件的投影一致。
func (h *Handler) ListUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.store.ListAll(auth.GetUsername(c))})
}

// FindUser 按用户名或手机号查找用户。
func (h *Handler) FindUser(c *gin.Context) {
	u, err := h.store.Find(c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		log.Error().Err(err).Str("id", c.Param("id")).Msg("find user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}
