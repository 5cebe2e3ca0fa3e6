// Конфигурация из переменных окружения (и .env, если он есть)
package loyalty

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Env      string
	HTTPPort string
	GRPCPort string

	Storage     string
	PostgresDSN string

	RedisAddr     string
	RedisUser     string
	RedisPassword string
	CacheTTL      time.Duration

	KafkaBrokers     string
	KafkaWashesTopic string
	KafkaEventsTopic string
	KafkaGroup       string

	RabbitURL string

	MongoURI      string
	MongoDatabase string

	WebhookURL string

	OtelEndpoint string

	NotifyWorkers int
	NotifyBuffer  int
	WashWorkers   int
	RedeemWorkers int
	SweepLimit    int
}

// Load читает .env (если есть) и переменные окружения LOYALTY_*
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:              getEnv("LOYALTY_ENV", "development"),
		HTTPPort:         getEnv("LOYALTY_HTTP_PORT", "8080"),
		GRPCPort:         getEnv("LOYALTY_GRPC_PORT", "9090"),
		Storage:          getEnv("LOYALTY_STORAGE", StoragePostgres),
		RedisAddr:        os.Getenv("LOYALTY_REDIS_ADDR"),
		RedisUser:        os.Getenv("LOYALTY_REDIS_USER"),
		RedisPassword:    os.Getenv("LOYALTY_REDIS_PWD"),
		KafkaBrokers:     os.Getenv("LOYALTY_KAFKA_BROKERS"),
		KafkaWashesTopic: getEnv("LOYALTY_KAFKA_WASHES_TOPIC", "washes"),
		KafkaEventsTopic: getEnv("LOYALTY_KAFKA_EVENTS_TOPIC", "loyalty_events"),
		KafkaGroup:       getEnv("LOYALTY_KAFKA_GROUP", "washloyalty"),
		MongoURI:         os.Getenv("LOYALTY_MONGO_URI"),
		MongoDatabase:    getEnv("LOYALTY_MONGO_DB", "loyalty"),
		WebhookURL:       os.Getenv("LOYALTY_WEBHOOK_URL"),
		OtelEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		NotifyWorkers:    getInt("LOYALTY_NOTIFY_WORKERS", 4),
		NotifyBuffer:     getInt("LOYALTY_NOTIFY_BUFFER", 256),
		WashWorkers:      getInt("LOYALTY_WASH_COUNT", 5),
		RedeemWorkers:    getInt("LOYALTY_REDEEM_COUNT", 5),
		SweepLimit:       getInt("LOYALTY_SWEEP_LIMIT", 8),
	}

	ttl, err := time.ParseDuration(getEnv("LOYALTY_CACHE_TTL", "15s"))
	if err != nil {
		return nil, fmt.Errorf("env LOYALTY_CACHE_TTL is not a duration: %w", err)
	}
	cfg.CacheTTL = ttl

	switch cfg.Storage {
	case StorageMemory:
	case StoragePostgres:
		cfg.PostgresDSN, err = postgresDSN()
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("env LOYALTY_STORAGE must be %q or %q", StoragePostgres, StorageMemory)
	}

	cfg.RabbitURL = rabbitURL()
	return cfg, nil
}

func (c *Config) Production() bool {
	return c.Env == "production"
}

// DSN целиком или по частям, как в остальных сервисах
func postgresDSN() (string, error) {
	if dsn := os.Getenv("LOYALTY_DB_DSN"); dsn != "" {
		return dsn, nil
	}
	host := os.Getenv("LOYALTY_DB")
	if host == "" {
		return "", fmt.Errorf("env LOYALTY_DB is not set")
	}
	port := os.Getenv("LOYALTY_DB_PORT")
	if port == "" {
		return "", fmt.Errorf("env LOYALTY_DB_PORT is not set")
	}
	user := os.Getenv("LOYALTY_DB_USER")
	if user == "" {
		return "", fmt.Errorf("env LOYALTY_DB_USER is not set")
	}
	pwd := os.Getenv("LOYALTY_DB_PASSWORD")
	if pwd == "" {
		return "", fmt.Errorf("env LOYALTY_DB_PASSWORD is not set")
	}
	base := os.Getenv("LOYALTY_DB_BASE")
	if base == "" {
		return "", fmt.Errorf("env LOYALTY_DB_BASE is not set")
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pwd),
		Host:   host + ":" + port,
		Path:   base,
	}
	return u.String(), nil
}

func rabbitURL() string {
	if u := os.Getenv("LOYALTY_RABBIT_URL"); u != "" {
		return u
	}
	host := os.Getenv("LOYALTY_RABBIT_HOST")
	if host == "" {
		return ""
	}
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(getEnv("LOYALTY_RABBIT_USER", "guest"), getEnv("LOYALTY_RABBIT_PWD", "guest")),
		Host:   host + ":" + getEnv("LOYALTY_RABBIT_PORT", "5672"),
		Path:   "/",
	}
	return u.String()
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
