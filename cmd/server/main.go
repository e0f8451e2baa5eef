package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lchat/internal/config"
	"lchat/internal/db"
	clog "lchat/internal/log"
	"lchat/internal/server"
	"lchat/internal/service"

	"github.com/rs/zerolog/log"
)

func main() {
	// main 函数负责加载配置、初始化日志、可选地连接账号库并启动 Gin 服务，收到信号后优雅停服。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	var repo service.AccountRepo
	if cfg.DatabaseDSN != "" {
		gdb, err := db.Connect(cfg.DatabaseDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("db connect")
		}
		if err := db.Migrate(gdb); err != nil {
			log.Fatal().Err(err).Msg("db migrate")
		}
		repo = db.NewAccountStore(gdb)
	}

	app := server.New(cfg, repo)
	defer app.Close()
	n, err := app.Store.Restore(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("restore accounts")
	}
	log.Info().Int("accounts", n).Str("port", cfg.Port).Msg("L-Chat relay starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: app.Engine}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server run")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}
	}
}
