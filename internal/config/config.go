package config

import (
	"errors"
	"os"
	"strconv"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                   string
	DatabaseDSN            string
	JWTSecret              string
	Env                    string
	SessionTokenTTLMinutes int
	HistoryLimit           int
	MaxMessageBytes        int
	SendBuffer             int
	BcryptCost             int
	AvatarBaseURL          string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 读取正整数配置，非法值回落到默认值。
func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func Load() Config {
	return Config{
		Port:                   getenv("APP_PORT", "8080"),
		DatabaseDSN:            getenv("DATABASE_DSN", ""),
		JWTSecret:              getenv("JWT_SECRET", defaultJWTSecret),
		Env:                    getenv("APP_ENV", "dev"),
		SessionTokenTTLMinutes: getenvInt("SESSION_TOKEN_TTL_MINUTES", 24*60),
		HistoryLimit:           getenvInt("HISTORY_LIMIT", 200),
		MaxMessageBytes:        getenvInt("MAX_MESSAGE_BYTES", 1<<20),
		SendBuffer:             getenvInt("WS_SEND_BUFFER", 256),
		BcryptCost:             getenvInt("BCRYPT_COST", 10),
		AvatarBaseURL:          getenv("AVATAR_BASE_URL", "https://api.dicebear.com/7.x/avataaars/svg"),
	}
}

// Validate 在启动时检查配置，非 dev 环境禁止使用默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: APP_PORT is empty")
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is empty")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("config: default JWT_SECRET is only allowed in dev")
	}
	if cfg.HistoryLimit <= 0 {
		return errors.New("config: HISTORY_LIMIT must be positive")
	}
	if cfg.MaxMessageBytes <= 0 {
		return errors.New("config: MAX_MESSAGE_BYTES must be positive")
	}
	return nil
}
