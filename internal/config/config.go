// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the service. Durations are configured as
// millisecond integers and exposed through the helper methods below.
type Config struct {
	Port          string `yaml:"port"`
	PublicBaseURL string `yaml:"public_base_url"`
	StoreDriver   string `yaml:"store_driver"`
	DatabaseURL   string `yaml:"database_url"`

	RedisAddr      string `yaml:"redis_addr"`
	RedisDB        int    `yaml:"redis_db"`
	AuditQueueName string `yaml:"audit_queue_name"`

	JWTPrivateKeyPath string `yaml:"jwt_private_key_path"`
	JWTPublicKeyPath  string `yaml:"jwt_public_key_path"`
	TokenExpireTime   string `yaml:"token_expire_time"`

	PresenceStaleMs        int `yaml:"presence_stale_ms"`
	PresenceQueryTimeoutMs int `yaml:"presence_query_timeout_ms"`
	RateLimitWindowMs      int `yaml:"rate_limit_window_ms"`
	LockTTLMs              int `yaml:"lock_ttl_ms"`
	AutoRejoinGraceMs      int `yaml:"auto_rejoin_grace_ms"`
	InviteTTLMs            int `yaml:"invite_ttl_ms"`

	IdleRoomMs       int `yaml:"idle_room_ms"`
	GhostRoomMs      int `yaml:"ghost_room_ms"`
	RoomTTLMs        int `yaml:"room_ttl_ms"`
	EventRetentionMs int `yaml:"event_retention_ms"`

	HistorianBatchSize int `yaml:"historian_batch_size"`
	HistorianFlushMs   int `yaml:"historian_flush_ms"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:                   "8080",
		PublicBaseURL:          "http://localhost:8080",
		StoreDriver:            "postgres",
		RedisAddr:              "localhost:6379",
		AuditQueueName:         "sequence_audit",
		PresenceStaleMs:        45_000,
		PresenceQueryTimeoutMs: 600,
		RateLimitWindowMs:      1_200,
		LockTTLMs:              8_000,
		AutoRejoinGraceMs:      120_000,
		InviteTTLMs:            24 * 60 * 60 * 1000,
		IdleRoomMs:             30 * 60 * 1000,
		GhostRoomMs:            10 * 60 * 1000,
		RoomTTLMs:              24 * 60 * 60 * 1000,
		EventRetentionMs:       7 * 24 * 60 * 60 * 1000,
		HistorianBatchSize:     20,
		HistorianFlushMs:       500,
	}
}

// Load builds the configuration from defaults, then the optional YAML file named by
// SEQUENCE_CONFIG, then environment variables. Environment always wins.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("SEQUENCE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if cfg.DatabaseURL == "" && os.Getenv("PG_HOST") != "" {
		cfg.DatabaseURL = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s",
			os.Getenv("POSTGRES_USER"),
			os.Getenv("POSTGRES_PASSWORD"),
			os.Getenv("PG_HOST"),
			getEnv("PG_PORT", "5432"),
			os.Getenv("PG_DATABASE"),
		)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.PublicBaseURL = getEnv("PUBLIC_BASE_URL", c.PublicBaseURL)
	c.StoreDriver = getEnv("STORE_DRIVER", c.StoreDriver)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.AuditQueueName = getEnv("AUDIT_QUEUE_NAME", c.AuditQueueName)
	c.JWTPrivateKeyPath = getEnv("JWT_PRIVATE_KEY_PATH", c.JWTPrivateKeyPath)
	c.JWTPublicKeyPath = getEnv("JWT_PUBLIC_KEY_PATH", c.JWTPublicKeyPath)
	c.TokenExpireTime = getEnv("TOKEN_EXPIRE_TIME", c.TokenExpireTime)

	c.PresenceStaleMs = getEnvInt("PRESENCE_STALE_MS", c.PresenceStaleMs)
	c.PresenceQueryTimeoutMs = getEnvInt("PRESENCE_QUERY_TIMEOUT_MS", c.PresenceQueryTimeoutMs)
	c.RateLimitWindowMs = getEnvInt("RATE_LIMIT_WINDOW_MS", c.RateLimitWindowMs)
	c.LockTTLMs = getEnvInt("LOCK_TTL_MS", c.LockTTLMs)
	c.AutoRejoinGraceMs = getEnvInt("AUTO_REJOIN_GRACE_MS", c.AutoRejoinGraceMs)
	c.InviteTTLMs = getEnvInt("INVITE_TTL_MS", c.InviteTTLMs)

	c.IdleRoomMs = getEnvInt("IDLE_ROOM_MS", c.IdleRoomMs)
	c.GhostRoomMs = getEnvInt("GHOST_ROOM_MS", c.GhostRoomMs)
	c.RoomTTLMs = getEnvInt("ROOM_TTL_MS", c.RoomTTLMs)
	c.EventRetentionMs = getEnvInt("EVENT_RETENTION_MS", c.EventRetentionMs)

	c.HistorianBatchSize = getEnvInt("HISTORIAN_BATCH_SIZE", c.HistorianBatchSize)
	c.HistorianFlushMs = getEnvInt("HISTORIAN_FLUSH_MS", c.HistorianFlushMs)
}

func (c *Config) PresenceStale() time.Duration   { return ms(c.PresenceStaleMs) }
func (c *Config) PresenceTimeout() time.Duration { return ms(c.PresenceQueryTimeoutMs) }
func (c *Config) RateLimitWindow() time.Duration { return ms(c.RateLimitWindowMs) }
func (c *Config) LockTTL() time.Duration         { return ms(c.LockTTLMs) }
func (c *Config) AutoRejoinGrace() time.Duration { return ms(c.AutoRejoinGraceMs) }
func (c *Config) InviteTTL() time.Duration       { return ms(c.InviteTTLMs) }
func (c *Config) IdleRoom() time.Duration        { return ms(c.IdleRoomMs) }
func (c *Config) GhostRoom() time.Duration       { return ms(c.GhostRoomMs) }
func (c *Config) RoomTTL() time.Duration         { return ms(c.RoomTTLMs) }
func (c *Config) EventRetention() time.Duration  { return ms(c.EventRetentionMs) }
func (c *Config) HistorianFlush() time.Duration  { return ms(c.HistorianFlushMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
