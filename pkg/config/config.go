package config

import (
	"errors"
	"os"
	"strconv"
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

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Auth      AuthConfig
	CORS      CORSConfig
	Log       LogConfig
	Scheduler SchedulerConfig
	Exports   ExportsConfig
	Kafka     KafkaConfig
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
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

// AuthConfig seeds the first ADMIN account when the users table is empty.
type AuthConfig struct {
	BootstrapUsername string
	BootstrapPassword string
	BcryptCost        int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// Slot addresses a single (day, period) of the weekly grid.
type Slot struct {
	Day    int
	Period int
}

// SchedulerConfig tunes the timetable engine and the run queue.
type SchedulerConfig struct {
	TimeBudget      time.Duration
	AggressiveAfter time.Duration
	MaxAttempts     int
	Workers         int

	Days          int
	Periods       int
	LunchPeriod   int
	EveningPeriod int
	Homeroom      []Slot
	Activity      []Slot

	Strategies      []string
	Relax           []string
	SubstituteScope string
	WeightTeacher   int
	WeightGroup     int
	WeightTask      int

	QueueWorkers int
	QueueRetries int
	CacheTTL     time.Duration
}

// ExportsConfig controls rendered timetable storage and signed downloads.
type ExportsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	CleanupInterval time.Duration
}

// KafkaConfig configures run event publication.
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
	Acks    int
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
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
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
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Issuer:     v.GetString("JWT_ISSUER"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.Auth = AuthConfig{
		BootstrapUsername: v.GetString("AUTH_BOOTSTRAP_USERNAME"),
		BootstrapPassword: v.GetString("AUTH_BOOTSTRAP_PASSWORD"),
		BcryptCost:        v.GetInt("AUTH_BCRYPT_COST"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Scheduler = SchedulerConfig{
		TimeBudget:      parseDuration(v.GetString("SCHEDULER_TIME_BUDGET"), 30*time.Second),
		AggressiveAfter: parseDuration(v.GetString("SCHEDULER_AGGRESSIVE_AFTER"), 5*time.Second),
		MaxAttempts:     v.GetInt("SCHEDULER_MAX_ATTEMPTS"),
		Workers:         v.GetInt("SCHEDULER_WORKERS"),
		Days:            v.GetInt("SCHEDULER_DAYS"),
		Periods:         v.GetInt("SCHEDULER_PERIODS"),
		LunchPeriod:     v.GetInt("SCHEDULER_LUNCH_PERIOD"),
		EveningPeriod:   v.GetInt("SCHEDULER_EVENING_PERIOD"),
		Homeroom:        parseSlots(v.GetString("SCHEDULER_HOMEROOM"), []Slot{{Day: 1, Period: 1}}),
		Activity:        parseSlots(v.GetString("SCHEDULER_ACTIVITY"), []Slot{{Day: 3, Period: 8}, {Day: 3, Period: 9}}),
		Strategies:      splitAndTrim(v.GetString("SCHEDULER_STRATEGIES")),
		Relax:           splitAndTrim(v.GetString("SCHEDULER_RELAX")),
		SubstituteScope: v.GetString("SCHEDULER_SUBSTITUTE_SCOPE"),
		WeightTeacher:   v.GetInt("SCHEDULER_WEIGHT_TEACHER"),
		WeightGroup:     v.GetInt("SCHEDULER_WEIGHT_GROUP"),
		WeightTask:      v.GetInt("SCHEDULER_WEIGHT_TASK"),
		QueueWorkers:    v.GetInt("SCHEDULER_QUEUE_WORKERS"),
		QueueRetries:    v.GetInt("SCHEDULER_QUEUE_RETRIES"),
		CacheTTL:        parseDuration(v.GetString("SCHEDULER_CACHE_TTL"), time.Hour),
	}

	cfg.Exports = ExportsConfig{
		StorageDir:      v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval: parseDuration(v.GetString("EXPORTS_CLEANUP_INTERVAL"), time.Hour),
	}

	cfg.Kafka = KafkaConfig{
		Enabled: v.GetBool("ENABLE_KAFKA"),
		Brokers: splitAndTrim(v.GetString("KAFKA_BROKERS")),
		Topic:   v.GetString("KAFKA_RUN_TOPIC"),
		Acks:    v.GetInt("KAFKA_ACKS"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "timetable")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("ENABLE_REDIS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "sma-timetable")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("AUTH_BCRYPT_COST", 10)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHEDULER_TIME_BUDGET", "30s")
	v.SetDefault("SCHEDULER_AGGRESSIVE_AFTER", "5s")
	v.SetDefault("SCHEDULER_MAX_ATTEMPTS", 0)
	v.SetDefault("SCHEDULER_WORKERS", 1)
	v.SetDefault("SCHEDULER_DAYS", 5)
	v.SetDefault("SCHEDULER_PERIODS", 13)
	v.SetDefault("SCHEDULER_LUNCH_PERIOD", 5)
	v.SetDefault("SCHEDULER_EVENING_PERIOD", 13)
	v.SetDefault("SCHEDULER_HOMEROOM", "1:1")
	v.SetDefault("SCHEDULER_ACTIVITY", "3:8,3:9")
	v.SetDefault("SCHEDULER_STRATEGIES", "")
	v.SetDefault("SCHEDULER_RELAX", "LUNCH,EVENING")
	v.SetDefault("SCHEDULER_SUBSTITUTE_SCOPE", "SAME_SUBJECT")
	v.SetDefault("SCHEDULER_WEIGHT_TEACHER", 50)
	v.SetDefault("SCHEDULER_WEIGHT_GROUP", 20)
	v.SetDefault("SCHEDULER_WEIGHT_TASK", 10)
	v.SetDefault("SCHEDULER_QUEUE_WORKERS", 2)
	v.SetDefault("SCHEDULER_QUEUE_RETRIES", 1)
	v.SetDefault("SCHEDULER_CACHE_TTL", "1h")

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("EXPORTS_CLEANUP_INTERVAL", "1h")

	v.SetDefault("ENABLE_KAFKA", false)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_RUN_TOPIC", "timetable.run.completed")
	v.SetDefault("KAFKA_ACKS", -1)
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

// parseSlots reads "day:period" pairs separated by commas. Any malformed entry discards the value.
func parseSlots(raw string, fallback []Slot) []Slot {
	parts := splitAndTrim(raw)
	if len(parts) == 0 {
		return fallback
	}
	slots := make([]Slot, 0, len(parts))
	for _, part := range parts {
		pieces := strings.SplitN(part, ":", 2)
		if len(pieces) != 2 {
			return fallback
		}
		day, err := strconv.Atoi(strings.TrimSpace(pieces[0]))
		if err != nil {
			return fallback
		}
		period, err := strconv.Atoi(strings.TrimSpace(pieces[1]))
		if err != nil {
			return fallback
		}
		slots = append(slots, Slot{Day: day, Period: period})
	}
	return slots
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
