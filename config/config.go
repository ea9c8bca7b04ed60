package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string
	JWTSecret        string
	JWTExpiry        int // in hours
	UploadsDir       string
	MaxMessageLength int
	HistoryLimit     int // messages kept per room

	DatabaseURL string // when set, rooms/users/messages live in Postgres
	RedisAddr   string // when set, message history lives in Redis

	PingInterval  time.Duration
	IdleInterval  time.Duration
	IdleThreshold time.Duration
}

// Load reads configuration from environment variables and an optional
// tunnel-chat.yaml in the working directory. Env vars win over the file.
func Load() Config {
	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("jwt_secret", "dev-super-secret-change-me")
	v.SetDefault("jwt_expiry", 24)
	v.SetDefault("uploads_dir", "uploads")
	v.SetDefault("max_message_length", 2000)
	v.SetDefault("history_limit", 100)
	v.SetDefault("database_url", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("ping_interval", "60s")
	v.SetDefault("idle_interval", "10m")
	v.SetDefault("idle_threshold", "30m")

	v.SetConfigName("tunnel-chat")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Config file is optional; env and defaults cover everything.
	_ = v.ReadInConfig()

	return Config{
		Port:             v.GetString("port"),
		JWTSecret:        v.GetString("jwt_secret"),
		JWTExpiry:        v.GetInt("jwt_expiry"),
		UploadsDir:       v.GetString("uploads_dir"),
		MaxMessageLength: v.GetInt("max_message_length"),
		HistoryLimit:     v.GetInt("history_limit"),
		DatabaseURL:      v.GetString("database_url"),
		RedisAddr:        v.GetString("redis_addr"),
		PingInterval:     v.GetDuration("ping_interval"),
		IdleInterval:     v.GetDuration("idle_interval"),
		IdleThreshold:    v.GetDuration("idle_threshold"),
	}
}
