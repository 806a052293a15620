package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	HTTP      HTTPConfig
	Evaluator EvaluatorConfig
	SMTP      SMTPConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers     []string
	TopicAlerts string
}

type HTTPConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MigrationsDir  string
	DefaultPageLen int
	MaxPageLen     int
}

type EvaluatorConfig struct {
	// TickInterval is the scheduler period. A tick still running when the
	// next is due causes the next one to be skipped, never queued.
	TickInterval time.Duration
	// StalenessBound is the maximum reading age the evaluator accepts; older
	// readings are treated as unknown, not as below threshold.
	StalenessBound time.Duration
	// Workers bounds concurrent threshold evaluation within one tick.
	Workers int
	// StoreTimeout caps every individual store call made during a tick.
	StoreTimeout time.Duration
	// LockTTL is the lifetime of the distributed tick guard.
	LockTTL time.Duration
	// ThresholdCacheTTL bounds how long loaded threshold rules are reused
	// before re-reading them from the store.
	ThresholdCacheTTL time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "enviro_user"),
			Password: getEnv("DB_PASSWORD", "enviro_pass"),
			DBName:   getEnv("DB_NAME", "enviro_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:     strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicAlerts: getEnv("KAFKA_TOPIC_ALERTS", "enviro.alerts"),
		},
		HTTP: HTTPConfig{
			Port:           getEnvAsInt("HTTP_PORT", 8080),
			ReadTimeout:    getEnvAsDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:   getEnvAsDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
			MigrationsDir:  getEnv("MIGRATIONS_DIR", "migrations"),
			DefaultPageLen: getEnvAsInt("HTTP_DEFAULT_PAGE_LEN", 20),
			MaxPageLen:     getEnvAsInt("HTTP_MAX_PAGE_LEN", 200),
		},
		Evaluator: EvaluatorConfig{
			TickInterval:      getEnvAsDuration("EVALUATOR_TICK_INTERVAL", 60*time.Second),
			StalenessBound:    getEnvAsDuration("EVALUATOR_STALENESS_BOUND", 30*time.Minute),
			Workers:           getEnvAsInt("EVALUATOR_WORKERS", 4),
			StoreTimeout:      getEnvAsDuration("EVALUATOR_STORE_TIMEOUT", 5*time.Second),
			LockTTL:           getEnvAsDuration("EVALUATOR_LOCK_TTL", 55*time.Second),
			ThresholdCacheTTL: getEnvAsDuration("EVALUATOR_THRESHOLD_CACHE_TTL", 5*time.Minute),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "enviro-server@example.com"),
			To:       getEnv("SMTP_TO", "ops@example.com"),
		},
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
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
