package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server  ServerConfig
	DB      DBConfig
	Auth    AuthConfig
	Quota   QuotaConfig
	Deploy  DeployConfig
	Cleanup CleanupConfig
	Redis   RedisConfig
	CORS    CORSConfig
	NodeID  string
}

type ServerConfig struct {
	Host string
	Port string
}

type DBConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

type AuthConfig struct {
	JWTSecret     string
	JWTExpiry     time.Duration
	AdminEmail    string
	AdminPassword string
}

type QuotaConfig struct {
	MaxTargetsPerManualAssignment int
	MaxActionsPerTarget           int
}

type DeployConfig struct {
	// ChunkSize bounds the number of ids per multi-row statement.
	ChunkSize int
	// ActionPageLimit bounds one rollout scheduler page transaction.
	ActionPageLimit int
	// ActionsAutoclose is the default for tenants without an own setting.
	ActionsAutoclose bool
}

type CleanupConfig struct {
	Interval  time.Duration
	Retention time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins string
}

func Load() (*Config, error) {
	jwtExpiry, err := time.ParseDuration(envOrDefault("ARMADA_JWT_EXPIRY", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid ARMADA_JWT_EXPIRY: %w", err)
	}

	cleanupInterval, err := time.ParseDuration(envOrDefault("ARMADA_CLEANUP_INTERVAL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid ARMADA_CLEANUP_INTERVAL: %w", err)
	}

	cleanupRetention, err := time.ParseDuration(envOrDefault("ARMADA_CLEANUP_RETENTION", "720h"))
	if err != nil {
		return nil, fmt.Errorf("invalid ARMADA_CLEANUP_RETENTION: %w", err)
	}

	nodeID := envOrDefault("ARMADA_NODE_ID", "")
	if nodeID == "" {
		if host, hostErr := os.Hostname(); hostErr == nil {
			nodeID = host
		} else {
			nodeID = "armada"
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: envOrDefault("ARMADA_HOST", "0.0.0.0"),
			Port: envOrDefault("ARMADA_PORT", "8080"),
		},
		DB: DBConfig{
			Host:     envOrDefault("ARMADA_DB_HOST", "localhost"),
			Port:     envOrDefault("ARMADA_DB_PORT", "5432"),
			Name:     envOrDefault("ARMADA_DB_NAME", "armada"),
			User:     envOrDefault("ARMADA_DB_USER", "armada"),
			Password: envOrDefault("ARMADA_DB_PASSWORD", "armada"),
			SSLMode:  envOrDefault("ARMADA_DB_SSLMODE", "disable"),
		},
		Auth: AuthConfig{
			JWTSecret:     envOrDefault("ARMADA_JWT_SECRET", "change-me-in-production"),
			JWTExpiry:     jwtExpiry,
			AdminEmail:    envOrDefault("ARMADA_ADMIN_EMAIL", "admin@armada.local"),
			AdminPassword: envOrDefault("ARMADA_ADMIN_PASSWORD", "admin"),
		},
		Quota: QuotaConfig{
			MaxTargetsPerManualAssignment: envIntOrDefault("ARMADA_QUOTA_MAX_TARGETS_PER_ASSIGNMENT", 400),
			MaxActionsPerTarget:           envIntOrDefault("ARMADA_QUOTA_MAX_ACTIONS_PER_TARGET", 600),
		},
		Deploy: DeployConfig{
			ChunkSize:        envIntOrDefault("ARMADA_DEPLOY_CHUNK_SIZE", 1000),
			ActionPageLimit:  envIntOrDefault("ARMADA_DEPLOY_ACTION_PAGE_LIMIT", 1000),
			ActionsAutoclose: envBoolOrDefault("ARMADA_DEPLOY_ACTIONS_AUTOCLOSE", false),
		},
		Cleanup: CleanupConfig{
			Interval:  cleanupInterval,
			Retention: cleanupRetention,
		},
		Redis: RedisConfig{
			Addr:     envOrDefault("ARMADA_REDIS_ADDR", ""),
			Password: envOrDefault("ARMADA_REDIS_PASSWORD", ""),
			DB:       envIntOrDefault("ARMADA_REDIS_DB", 0),
		},
		CORS: CORSConfig{
			AllowedOrigins: envOrDefault("ARMADA_CORS_ORIGINS", "http://localhost:3000"),
		},
		NodeID: nodeID,
	}

	return cfg, nil
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBoolOrDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
