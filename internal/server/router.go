package server

import (
	"time"

	"lchat/internal/auth"
	"lchat/internal/config"
	"lchat/internal/metrics"
	"lchat/internal/mw"
	"lchat/internal/service"
	"lchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// App 持有一次进程生命周期内的全部核心组件。
type App struct {
	Store      *service.IdentityStore
	History    *service.HistoryBuffer
	Hub        *ws.Hub
	Dispatcher *ws.Dispatcher
	Limiter    *mw.Limiter
	Engine     *gin.Engine
}

// New 组装身份存储、历史缓冲、路由器、输入状态转发和 WebSocket Hub。repo 为 nil 时纯内存运行。
func New(cfg config.Config, repo service.AccountRepo) *App {
	hub := ws.NewHub()
	store := service.NewIdentityStore(service.IdentityOptions{
		Repo:          repo,
		BcryptCost:    cfg.BcryptCost,
		AvatarBaseURL: cfg.AvatarBaseURL,
	})
	history := service.NewHistoryBuffer(cfg.HistoryLimit)
	disp := ws.NewDispatcher(ws.Services{
		Store:    store,
		Presence: service.NewPresenceTracker(store, hub),
		Router:   service.NewMessageRouter(store, history, hub, cfg.MaxMessageBytes),
		Typing:   service.NewTypingRelay(store, hub),
		Out:      hub,
	}, cfg)
	// 控制单个 IP+路由的速率，WebSocket 升级同样受限。
	lim := mw.NewLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)
	lim.StartGC(30 * time.Second)
	app := &App{Store: store, History: history, Hub: hub, Dispatcher: disp, Limiter: lim}
	app.Engine = SetupRouter(cfg, app)
	return app
}

// Close 释放后台资源，可重复调用。
func (a *App) Close() {
	a.Limiter.Stop()
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, app *App) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	r.Use(mw.RateLimit(app.Limiter))

	h := NewHandler(app.Store, app.History, app.Hub)
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.Use(auth.AuthMiddleware(cfg))
	api.GET("/users", h.ListUsers)
	api.GET("/users/:id", h.FindUser)

	r.GET("/ws", ws.Serve(app.Hub, app.Dispatcher, cfg))
	return r
}
