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

// ErrMissingJWTSecret aborts startup: tokens cannot be issued or verified
// without a signing secret.
var ErrMissingJWTSecret = errors.New("JWT_SECRET is required")

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	Exam        ExamConfig
	Recordings  RecordingsConfig
	Billing     BillingConfig
	QuestionGen QuestionGenConfig
	Proctor     ProctorConfig
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
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ExamConfig controls session composition and the subscription gate cache.
type ExamConfig struct {
	QuestionCount        int
	MinDifficulty        int
	MaxDifficulty        int
	SubscriptionCacheTTL time.Duration
}

// RecordingsConfig controls proctoring recording uploads.
type RecordingsConfig struct {
	StorageDir       string
	MaxFileSizeBytes int64
}

// BillingConfig carries Stripe credentials and plan price identifiers.
// Enabled is derived: billing degrades to disabled when keys are absent.
type BillingConfig struct {
	Enabled        bool
	SecretKey      string
	WebhookSecret  string
	PriceBasic     string
	PricePro       string
	PricePremium   string
	SuccessURL     string
	CancelURL      string
	RequestTimeout time.Duration
}

// QuestionGenConfig carries the LLM provider settings for question generation.
type QuestionGenConfig struct {
	Enabled        bool
	APIKey         string
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
}

// ProctorConfig selects the proctoring event source. The simulated source is
// a development fixture and stays off in production regardless of the flag.
type ProctorConfig struct {
	Simulated    bool
	QueueWorkers int
	EventBuffer  int
	EmitInterval time.Duration
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
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}
	if cfg.JWT.Secret == "" {
		return nil, ErrMissingJWTSecret
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Exam = ExamConfig{
		QuestionCount:        v.GetInt("EXAM_QUESTION_COUNT"),
		MinDifficulty:        v.GetInt("EXAM_MIN_DIFFICULTY"),
		MaxDifficulty:        v.GetInt("EXAM_MAX_DIFFICULTY"),
		SubscriptionCacheTTL: parseDuration(v.GetString("SUBSCRIPTION_CACHE_TTL"), 5*time.Minute),
	}

	maxRecordingSize := v.GetInt64("RECORDINGS_MAX_FILE_SIZE")
	if maxRecordingSize <= 0 {
		maxRecordingSize = 50 * 1024 * 1024
	}
	cfg.Recordings = RecordingsConfig{
		StorageDir:       v.GetString("RECORDINGS_STORAGE_DIR"),
		MaxFileSizeBytes: maxRecordingSize,
	}

	cfg.Billing = BillingConfig{
		SecretKey:      v.GetString("STRIPE_SECRET_KEY"),
		WebhookSecret:  v.GetString("STRIPE_WEBHOOK_SECRET"),
		PriceBasic:     v.GetString("STRIPE_PRICE_BASIC"),
		PricePro:       v.GetString("STRIPE_PRICE_PRO"),
		PricePremium:   v.GetString("STRIPE_PRICE_PREMIUM"),
		SuccessURL:     v.GetString("BILLING_SUCCESS_URL"),
		CancelURL:      v.GetString("BILLING_CANCEL_URL"),
		RequestTimeout: parseDuration(v.GetString("BILLING_REQUEST_TIMEOUT"), 10*time.Second),
	}
	cfg.Billing.Enabled = cfg.Billing.SecretKey != "" && cfg.Billing.WebhookSecret != ""

	cfg.QuestionGen = QuestionGenConfig{
		APIKey:         v.GetString("OPENAI_API_KEY"),
		BaseURL:        v.GetString("OPENAI_BASE_URL"),
		Model:          v.GetString("OPENAI_MODEL"),
		RequestTimeout: parseDuration(v.GetString("OPENAI_REQUEST_TIMEOUT"), 30*time.Second),
	}
	cfg.QuestionGen.Enabled = cfg.QuestionGen.APIKey != ""

	cfg.Proctor = ProctorConfig{
		Simulated:    v.GetBool("PROCTOR_SIMULATED") && cfg.Env != EnvProduction,
		QueueWorkers: v.GetInt("PROCTOR_QUEUE_WORKERS"),
		EventBuffer:  v.GetInt("PROCTOR_EVENT_BUFFER"),
		EmitInterval: parseDuration(v.GetString("PROCTOR_EMIT_INTERVAL"), 15*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "aegis")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "aegis-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("EXAM_QUESTION_COUNT", 5)
	v.SetDefault("EXAM_MIN_DIFFICULTY", 1)
	v.SetDefault("EXAM_MAX_DIFFICULTY", 8)
	v.SetDefault("SUBSCRIPTION_CACHE_TTL", "5m")

	v.SetDefault("RECORDINGS_STORAGE_DIR", "./recordings")
	v.SetDefault("RECORDINGS_MAX_FILE_SIZE", 50*1024*1024)

	v.SetDefault("BILLING_SUCCESS_URL", "http://localhost:3000/billing/success")
	v.SetDefault("BILLING_CANCEL_URL", "http://localhost:3000/billing/cancel")
	v.SetDefault("BILLING_REQUEST_TIMEOUT", "10s")

	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("OPENAI_REQUEST_TIMEOUT", "30s")

	v.SetDefault("PROCTOR_SIMULATED", false)
	v.SetDefault("PROCTOR_QUEUE_WORKERS", 1)
	v.SetDefault("PROCTOR_EVENT_BUFFER", 64)
	v.SetDefault("PROCTOR_EMIT_INTERVAL", "15s")
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
