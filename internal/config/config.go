package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	RevocationStoreMemory = "memory"
	RevocationStoreRedis  = "redis"

	base64SecretPrefix = "base64:"
)

type Config struct {
	ServerPort              string
	ServerReadHeaderTimeout time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	RequestTimeout          time.Duration

	JWTSecret []byte
	JWTTTL    time.Duration

	RevocationStore         string
	RevocationSweepInterval time.Duration
	RedisURL                string

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	CORSOrigins      []string
	RateLimitRPM     int
	AuthRateLimitRPM int

	AdminUsername string
	AdminPassword string
	BcryptCost    int

	LogFormat string
	LogLevel  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	secret, err := decodeSecret(os.Getenv("JWT_SECRET"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServerPort:              getEnv("SERVER_PORT", "8080"),
		ServerReadHeaderTimeout: getDuration("SERVER_READ_HEADER_TIMEOUT", 10*time.Second),
		ServerWriteTimeout:      getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:       getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:          getDuration("REQUEST_TIMEOUT", 30*time.Second),
		JWTSecret:               secret,
		JWTTTL:                  getMillis("JWT_EXPIRATION_MS", 24*time.Hour),
		RevocationStore:         strings.ToLower(getEnv("REVOCATION_STORE", RevocationStoreMemory)),
		RevocationSweepInterval: getDuration("REVOCATION_SWEEP_INTERVAL", time.Hour),
		RedisURL:                getEnv("REDIS_URL", ""),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		DBMaxConns:              int32(getInt("DB_MAX_CONNS", 10)),
		DBMinConns:              int32(getInt("DB_MIN_CONNS", 1)),
		CORSOrigins:             splitCSV(getEnv("CORS_ORIGINS", "*")),
		RateLimitRPM:            getInt("RATE_LIMIT_RPM", 300),
		AuthRateLimitRPM:        getInt("AUTH_RATE_LIMIT_RPM", 10),
		AdminUsername:           getEnv("ADMIN_USERNAME", ""),
		AdminPassword:           strings.TrimSpace(os.Getenv("ADMIN_PASSWORD")),
		BcryptCost:              getInt("BCRYPT_COST", 12),
		LogFormat:               strings.ToLower(getEnv("LOG_FORMAT", "pretty")),
		LogLevel:                strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks presence and shape. The secret's minimum length is enforced
// by the token codec itself when it is constructed.
func (c *Config) Validate() error {
	if len(c.JWTSecret) == 0 {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_EXPIRATION_MS must be positive")
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.RevocationSweepInterval <= 0 {
		return fmt.Errorf("REVOCATION_SWEEP_INTERVAL must be positive")
	}

	switch c.RevocationStore {
	case RevocationStoreMemory:
	case RevocationStoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when REVOCATION_STORE=redis")
		}
	default:
		return fmt.Errorf("REVOCATION_STORE must be %q or %q, got %q", RevocationStoreMemory, RevocationStoreRedis, c.RevocationStore)
	}

	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD must be set together")
	}

	return nil
}

// decodeSecret returns the raw bytes of JWT_SECRET. A "base64:" prefix marks
// a standard base64 encoded key.
func decodeSecret(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, base64SecretPrefix) {
		return []byte(raw), nil
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(raw, base64SecretPrefix))
	if err != nil {
		return nil, fmt.Errorf("JWT_SECRET is not valid base64: %w", err)
	}
	return decoded, nil
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getMillis(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}

	return time.Duration(v) * time.Millisecond
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
