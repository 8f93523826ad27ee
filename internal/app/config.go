package app

import (
	"time"

	"github.com/vladislavdragonenkov/brandcatalog/internal/messaging/kafka"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса каталога.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	// Пул соединений; нулевые значения заменяются значениями postgres.DefaultPoolConfig.
	PostgresMaxOpenConns    int
	PostgresMaxIdleConns    int
	PostgresConnMaxLifetime time.Duration
	PostgresConnMaxIdleTime time.Duration

	RetryMaxAttempts int
	RetryBackoff     time.Duration

	CacheTTL  time.Duration
	CacheSize int
	// RedisAddr включает общий кеш в Redis; пустое значение означает локальный кеш.
	RedisAddr string

	RejectDuplicateCategory bool

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	// KafkaBrokers — список брокеров через запятую; пустое значение отключает события.
	KafkaBrokers string
	KafkaTopic   string
}

// DefaultConfig возвращает настройки по умолчанию: in-memory хранилище,
// локальный кеш и отключённая Kafka.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		PostgresMaxOpenConns:        20,
		PostgresMaxIdleConns:        10,
		PostgresConnMaxLifetime:     30 * time.Minute,
		PostgresConnMaxIdleTime:     5 * time.Minute,
		RetryMaxAttempts:            3,
		RetryBackoff:                500 * time.Millisecond,
		CacheTTL:                    5 * time.Minute,
		CacheSize:                   1000,
		RejectDuplicateCategory:     true,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		KafkaTopic:                  kafka.TopicCatalogEvents,
	}
}
