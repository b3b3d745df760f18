// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the broker.
type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Telegram   TelegramConfig
	Auth       AuthConfig
	Logger     LoggerConfig
	Moderation ModerationConfig
	Match      MatchConfig
	Retention  RetentionConfig
}

type AppConfig struct {
	Env      string
	HTTPAddr string
}

// DatabaseConfig selects the gorm driver. Driver is "postgres" or "sqlite".
type DatabaseConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// TelegramConfig holds the bot token. An empty token disables the bot and
// leaves notifications log-only.
type TelegramConfig struct {
	BotToken string
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type LoggerConfig struct {
	Level string
	Env   string
}

// Load reads configuration from environment variables, applying defaults
// where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	env := getEnv("APP_ENV", "development")
	cfg := &Config{
		App: AppConfig{
			Env:      env,
			HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		},
		Database: DatabaseConfig{
			Driver:      getEnv("DB_DRIVER", "postgres"),
			DSN:         getEnv("DB_DSN", postgresDSNFromParts()),
			AutoMigrate: getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Telegram: TelegramConfig{
			BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret"),
			TokenTTL:  time.Duration(getEnvAsInt("JWT_TTL_HOURS", 72)) * time.Hour,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			Env:   env,
		},
		Moderation: ModerationConfig{
			SuspendThreshold: getEnvAsInt("SUSPEND_THRESHOLD", DefaultSuspendThreshold),
			RevokeThreshold:  getEnvAsInt("REVOKE_THRESHOLD", DefaultRevokeThreshold),
		},
		Match: MatchConfig{
			MaxAttempts:  getEnvAsInt("MAX_MATCH_ATTEMPTS", DefaultMaxMatchAttempts),
			PollInterval: time.Duration(getEnvAsInt("MATCH_POLL_INTERVAL_MS", int(DefaultMatchPollInterval/time.Millisecond))) * time.Millisecond,
		},
		Retention: RetentionConfig{
			SessionRetentionDays: getEnvAsInt("SESSION_RETENTION_DAYS", DefaultSessionRetentionDays),
			Schedule:             getEnv("RETENTION_SCHEDULE", DefaultRetentionSchedule),
		},
	}

	if err := cfg.Moderation.Validate(); err != nil {
		return nil, err
	}
	if cfg.Database.Driver != "postgres" && cfg.Database.Driver != "sqlite" {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Database.Driver)
	}
	return cfg, nil
}

// IsProduction reports whether the service runs with APP_ENV=production.
func (a AppConfig) IsProduction() bool {
	return a.Env == "production"
}

func postgresDSNFromParts() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_USER", "user"),
		getEnv("DB_PASSWORD", "password"),
		getEnv("DB_NAME", "sanctuarydb"),
		getEnv("DB_PORT", "5432"),
	)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
