package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/lendbus/internal/model"
)

// Config is the server configuration, read from the environment.
type Config struct {
	HTTPAddr    string // LENDBUS_HTTP_ADDR (default ":8080")
	DatabaseURL string // LENDBUS_DATABASE_URL (optional, empty = in-memory store)
	NATSURL     string // LENDBUS_NATS_URL (optional, empty = no mirror)
	JWTSecret   string // LENDBUS_JWT_SECRET (required)
	JWTIssuer   string // LENDBUS_JWT_ISSUER (optional)
	LogFormat   string // LENDBUS_LOG_FORMAT ("text" or "json", default "text")
	LogLevel    string // LENDBUS_LOG_LEVEL (default "info")

	SendBuffer  int           // LENDBUS_SEND_BUFFER (default 64)
	PongWait    time.Duration // LENDBUS_PONG_WAIT (default 60s)
	IdleTimeout time.Duration // LENDBUS_IDLE_TIMEOUT (default 2m; 0 = sweeper disabled)

	// SeedUsers populates the user directory at startup.
	SeedUsers []model.User // LENDBUS_SEED_USERS ("id:role,...")

	// Ledger export settings
	ExportInterval   time.Duration // LENDBUS_EXPORT_INTERVAL (default 0 = disabled)
	ExportS3Bucket   string        // LENDBUS_EXPORT_S3_BUCKET (required when export is enabled)
	ExportS3Key      string        // LENDBUS_EXPORT_S3_KEY (default "lendbus/loans.jsonl")
	ExportS3Region   string        // LENDBUS_EXPORT_S3_REGION (default "us-east-1")
	ExportS3Endpoint string        // LENDBUS_EXPORT_S3_ENDPOINT (custom endpoint for MinIO)
}

func Load() (*Config, error) {
	c := &Config{
		HTTPAddr:         envOrDefault("LENDBUS_HTTP_ADDR", ":8080"),
		DatabaseURL:      os.Getenv("LENDBUS_DATABASE_URL"),
		NATSURL:          os.Getenv("LENDBUS_NATS_URL"),
		JWTSecret:        os.Getenv("LENDBUS_JWT_SECRET"),
		JWTIssuer:        os.Getenv("LENDBUS_JWT_ISSUER"),
		LogFormat:        envOrDefault("LENDBUS_LOG_FORMAT", "text"),
		LogLevel:         envOrDefault("LENDBUS_LOG_LEVEL", "info"),
		ExportS3Bucket:   os.Getenv("LENDBUS_EXPORT_S3_BUCKET"),
		ExportS3Key:      envOrDefault("LENDBUS_EXPORT_S3_KEY", "lendbus/loans.jsonl"),
		ExportS3Region:   envOrDefault("LENDBUS_EXPORT_S3_REGION", "us-east-1"),
		ExportS3Endpoint: os.Getenv("LENDBUS_EXPORT_S3_ENDPOINT"),
	}
	if c.JWTSecret == "" {
		return nil, fmt.Errorf("LENDBUS_JWT_SECRET is required")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return nil, fmt.Errorf("LENDBUS_LOG_FORMAT: want text or json, got %q", c.LogFormat)
	}

	var err error
	if c.SendBuffer, err = envInt("LENDBUS_SEND_BUFFER", 64); err != nil {
		return nil, err
	}
	if c.SendBuffer <= 0 {
		return nil, fmt.Errorf("LENDBUS_SEND_BUFFER: must be positive")
	}
	if c.PongWait, err = envDuration("LENDBUS_PONG_WAIT", "60s"); err != nil {
		return nil, err
	}
	if c.IdleTimeout, err = envDuration("LENDBUS_IDLE_TIMEOUT", "2m"); err != nil {
		return nil, err
	}
	if c.ExportInterval, err = envDuration("LENDBUS_EXPORT_INTERVAL", "0"); err != nil {
		return nil, err
	}
	if c.ExportInterval > 0 && c.ExportS3Bucket == "" {
		return nil, fmt.Errorf("LENDBUS_EXPORT_S3_BUCKET is required when LENDBUS_EXPORT_INTERVAL is set")
	}

	if c.SeedUsers, err = ParseSeedUsers(os.Getenv("LENDBUS_SEED_USERS")); err != nil {
		return nil, fmt.Errorf("LENDBUS_SEED_USERS: %w", err)
	}

	return c, nil
}

// ParseSeedUsers parses "id:role,id:role". The role defaults to user.
func ParseSeedUsers(s string) ([]model.User, error) {
	var users []model.User
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, role, _ := strings.Cut(part, ":")
		if id == "" {
			return nil, fmt.Errorf("empty user id in %q", part)
		}
		r := model.Role(role)
		switch r {
		case "":
			r = model.RoleUser
		case model.RoleUser, model.RoleAdmin:
		default:
			return nil, fmt.Errorf("unknown role %q for %s", role, id)
		}
		users = append(users, model.User{ID: id, Role: r})
	}
	return users, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}
