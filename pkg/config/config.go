package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	CORS        CORSConfig
	Log         LogConfig
	Occurrences OccurrenceConfig
	Audit       AuditConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int

	TimeZone         string
	StatementTimeout time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize  int
	OpTimeout time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
	MaxAge         time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// OccurrenceConfig tunes recurring lesson expansion.
type OccurrenceConfig struct {
	Timezone       string
	Location       *time.Location
	CacheEnabled   bool
	CacheTTL       time.Duration
	MaxWindow      time.Duration
	UpsertRetries  int
	MaxPerTemplate int
}

// AuditConfig controls the attendance audit sweep.
type AuditConfig struct {
	Schedule string
	PageSize int

	ReportDir       string
	ReportRetention time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),

		StatementTimeout: parseDuration(v.GetString("DB_STATEMENT_TIMEOUT"), 0),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),

		PoolSize:  v.GetInt("REDIS_POOL_SIZE"),
		OpTimeout: parseDuration(v.GetString("REDIS_OP_TIMEOUT"), 250*time.Millisecond),
	}

	cfg.CORS = CORSConfig{
		AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS")),
		MaxAge:         parseDuration(v.GetString("CORS_MAX_AGE"), 10*time.Minute),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	tz := v.GetString("SCHOOL_TIMEZONE")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load SCHOOL_TIMEZONE %q: %w", tz, err)
	}
	cfg.Database.TimeZone = tz
	retries := v.GetInt("EXCEPTION_UPSERT_RETRIES")
	if retries <= 0 {
		retries = 3
	}
	cfg.Occurrences = OccurrenceConfig{
		Timezone:       tz,
		Location:       loc,
		CacheEnabled:   v.GetBool("ENABLE_OCCURRENCE_CACHE"),
		CacheTTL:       parseDuration(v.GetString("OCCURRENCE_CACHE_TTL"), 15*time.Minute),
		MaxWindow:      parseDuration(v.GetString("OCCURRENCE_MAX_WINDOW"), 400*24*time.Hour),
		UpsertRetries:  retries,
		MaxPerTemplate: v.GetInt("OCCURRENCE_MAX_PER_TEMPLATE"),
	}

	pageSize := v.GetInt("AUDIT_PAGE_SIZE")
	if pageSize <= 0 {
		pageSize = 500
	}
	cfg.Audit = AuditConfig{
		Schedule: strings.TrimSpace(v.GetString("AUDIT_SCHEDULE")),
		PageSize: pageSize,

		ReportDir:       v.GetString("AUDIT_REPORT_DIR"),
		ReportRetention: parseDuration(v.GetString("AUDIT_REPORT_RETENTION"), 30*24*time.Hour),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "school_lessons")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_STATEMENT_TIMEOUT", "")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_OP_TIMEOUT", "250ms")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("CORS_MAX_AGE", "10m")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHOOL_TIMEZONE", "Asia/Jakarta")
	v.SetDefault("ENABLE_OCCURRENCE_CACHE", false)
	v.SetDefault("OCCURRENCE_CACHE_TTL", "15m")
	v.SetDefault("OCCURRENCE_MAX_WINDOW", "9600h")
	v.SetDefault("OCCURRENCE_MAX_PER_TEMPLATE", 5000)
	v.SetDefault("EXCEPTION_UPSERT_RETRIES", 3)

	v.SetDefault("AUDIT_SCHEDULE", "")
	v.SetDefault("AUDIT_PAGE_SIZE", 500)
	v.SetDefault("AUDIT_REPORT_DIR", "./reports")
	v.SetDefault("AUDIT_REPORT_RETENTION", "720h")
}

// isMissingFile treats an absent .env as "use env + defaults".
func isMissingFile(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no such file")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
