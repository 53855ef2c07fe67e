package config

import (
	"errors"
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

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	EVV        EVVConfig
	Submission SubmissionConfig
	Summary    SummaryConfig
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
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// EVVConfig carries engine-wide policy defaults. Jurisdiction rule sets may
// override the geofence and spoofing thresholds per (state, payer, service).
type EVVConfig struct {
	DefaultGeofenceRadiusMeters float64
	SpoofAccuracyFloorMeters    float64
	MaxTravelSpeedMPS           float64
	CredentialWarningWindow     time.Duration
	ReconcileInterval           time.Duration
}

// SubmissionConfig tunes the aggregator delivery pipeline.
type SubmissionConfig struct {
	WorkerConcurrency int
	MaxAttempts       int
	BackoffBase       time.Duration
	RequestTimeout    time.Duration
	AggregatorURLs    map[string]string
	IdempotencyTTL    time.Duration
}

// SummaryConfig governs compliance summary caching.
type SummaryConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
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
		if !errors.As(err, &notFound) {
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
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.EVV = EVVConfig{
		DefaultGeofenceRadiusMeters: v.GetFloat64("EVV_DEFAULT_GEOFENCE_RADIUS_M"),
		SpoofAccuracyFloorMeters:    v.GetFloat64("EVV_SPOOF_ACCURACY_FLOOR_M"),
		MaxTravelSpeedMPS:           v.GetFloat64("EVV_MAX_TRAVEL_SPEED_MPS"),
		CredentialWarningWindow:     parseDuration(v.GetString("EVV_CREDENTIAL_WARNING_WINDOW"), 30*24*time.Hour),
		ReconcileInterval:           parseDuration(v.GetString("EVV_RECONCILE_INTERVAL"), time.Minute),
	}

	cfg.Submission = SubmissionConfig{
		WorkerConcurrency: v.GetInt("SUBMISSION_WORKER_CONCURRENCY"),
		MaxAttempts:       v.GetInt("SUBMISSION_MAX_ATTEMPTS"),
		BackoffBase:       parseDuration(v.GetString("SUBMISSION_BACKOFF_BASE"), 30*time.Second),
		RequestTimeout:    parseDuration(v.GetString("SUBMISSION_REQUEST_TIMEOUT"), 15*time.Second),
		AggregatorURLs:    parseKeyValues(v.GetString("SUBMISSION_AGGREGATOR_URLS")),
		IdempotencyTTL:    parseDuration(v.GetString("SUBMISSION_IDEMPOTENCY_TTL"), 30*24*time.Hour),
	}

	cfg.Summary = SummaryConfig{
		CacheEnabled: v.GetBool("SUMMARY_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("SUMMARY_CACHE_TTL"), 5*time.Minute),
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
	v.SetDefault("DB_NAME", "evv_engine")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("EVV_DEFAULT_GEOFENCE_RADIUS_M", 50.0)
	v.SetDefault("EVV_SPOOF_ACCURACY_FLOOR_M", 3.0)
	v.SetDefault("EVV_MAX_TRAVEL_SPEED_MPS", 33.0)
	v.SetDefault("EVV_CREDENTIAL_WARNING_WINDOW", "720h")
	v.SetDefault("EVV_RECONCILE_INTERVAL", "1m")

	v.SetDefault("SUBMISSION_WORKER_CONCURRENCY", 2)
	v.SetDefault("SUBMISSION_MAX_ATTEMPTS", 5)
	v.SetDefault("SUBMISSION_BACKOFF_BASE", "30s")
	v.SetDefault("SUBMISSION_REQUEST_TIMEOUT", "15s")
	v.SetDefault("SUBMISSION_AGGREGATOR_URLS", "")
	v.SetDefault("SUBMISSION_IDEMPOTENCY_TTL", "720h")

	v.SetDefault("SUMMARY_CACHE_ENABLED", true)
	v.SetDefault("SUMMARY_CACHE_TTL", "5m")
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

// parseKeyValues parses "AGGREGATOR_ID=url" pairs separated by commas.
func parseKeyValues(raw string) map[string]string {
	result := make(map[string]string)
	for _, pair := range splitAndTrim(raw) {
		idx := strings.Index(pair, "=")
		if idx <= 0 {
			continue
		}
		result[pair[:idx]] = pair[idx+1:]
	}
	return result
}
