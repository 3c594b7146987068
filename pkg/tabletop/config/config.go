package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm/logger"
)

// Config holds all server configuration
type Config struct {
	// SaveFile is the path of the sqlite save file
	SaveFile string
	Port     string
	GinMode  string

	// ShutdownTimeout bounds how long open event streams get to drain on exit
	ShutdownTimeout time.Duration

	// JWTSecret signs session tokens. When empty the save file's secret token is used.
	JWTSecret     string
	TokenDuration time.Duration

	LogLevel   slog.Level
	DBLogLevel logger.LogLevel

	// SessionBuffer is the number of queued events per connected session
	SessionBuffer int
}

// Load reads configuration from the environment, after loading an optional .env file
func Load() *Config {
	// .env is optional
	_ = godotenv.Load()

	return &Config{
		SaveFile:        getEnv("TABLETOP_SAVE_FILE", "planar.sqlite"),
		Port:            getEnv("PORT", "8000"),
		GinMode:         getEnv("GIN_MODE", "release"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		TokenDuration:   time.Duration(getEnvAsInt("JWT_EXPIRATION_HOURS", 24)) * time.Hour,
		LogLevel:        getEnvAsSlogLevel("LOG_LEVEL", slog.LevelInfo),
		DBLogLevel:      getEnvAsLogLevel("DB_LOG_LEVEL", logger.Warn),
		SessionBuffer:   getEnvAsInt("SESSION_BUFFER", 64),
	}
}

// LogValue lets the config be logged as a single slog attribute without leaking secrets
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("save_file", c.SaveFile),
		slog.String("port", c.Port),
		slog.String("gin_mode", c.GinMode),
		slog.Bool("jwt_secret_set", c.JWTSecret != ""),
		slog.Duration("token_duration", c.TokenDuration),
		slog.String("log_level", c.LogLevel.String()),
		slog.Int("session_buffer", c.SessionBuffer),
	)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlogLevel(key string, defaultValue slog.Level) slog.Level {
	switch strings.ToLower(getEnv(key, "")) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultValue
	}
}

func getEnvAsLogLevel(key string, defaultValue logger.LogLevel) logger.LogLevel {
	switch strings.ToLower(getEnv(key, "")) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return defaultValue
	}
}
