package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/brandcatalog/internal/app"
	"github.com/vladislavdragonenkov/brandcatalog/internal/version"
)

const (
	envHTTPAddr                    = "CATALOG_HTTP_ADDR"
	envGRPCAddr                    = "CATALOG_GRPC_ADDR"
	envMetricsAddr                 = "CATALOG_METRICS_ADDR"
	envStorageDriver               = "CATALOG_STORAGE_DRIVER"
	envPostgresDSN                 = "CATALOG_POSTGRES_DSN"
	envPostgresAutoMigrate         = "CATALOG_POSTGRES_AUTO_MIGRATE"
	envPostgresMaxOpenConns        = "CATALOG_POSTGRES_MAX_OPEN_CONNS"
	envPostgresMaxIdleConns        = "CATALOG_POSTGRES_MAX_IDLE_CONNS"
	envPostgresConnMaxLifetime     = "CATALOG_POSTGRES_CONN_MAX_LIFETIME"
	envPostgresConnMaxIdleTime     = "CATALOG_POSTGRES_CONN_MAX_IDLE_TIME"
	envRetryMaxAttempts            = "CATALOG_RETRY_MAX_ATTEMPTS"
	envRetryBackoff                = "CATALOG_RETRY_BACKOFF"
	envCacheTTL                    = "CATALOG_CACHE_TTL"
	envCacheSize                   = "CATALOG_CACHE_SIZE"
	envRedisAddr                   = "CATALOG_REDIS_ADDR"
	envRejectDuplicateCategory     = "CATALOG_REJECT_DUPLICATE_CATEGORY"
	envOutboxPollInterval          = "CATALOG_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "CATALOG_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "CATALOG_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "CATALOG_OUTBOX_RETRY_DELAY"
	envIdempotencyTTL              = "CATALOG_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "CATALOG_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "CATALOG_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envKafkaBrokers                = "CATALOG_KAFKA_BROKERS"
	envKafkaTopic                  = "CATALOG_KAFKA_TOPIC"
	envLogLevel                    = "CATALOG_LOG_LEVEL"
)

type envLookup func(string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) []string {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	raw, ok := lookup(envLogLevel)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	level, err := log.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return []string{fmt.Sprintf("%s: %v", envLogLevel, err)}
	}
	log.SetLevel(level)
	return nil
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не прерывают запуск: остаётся значение по умолчанию,
// а причина возвращается предупреждением.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
	}
	str := func(key string, target *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, target *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warn(key, err)
			return
		}
		*target = parsed
	}
	positiveInt := func(key string, target *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0")
		if err != nil {
			warn(key, err)
			return
		}
		*target = parsed
	}
	duration := func(key string, target *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warn(key, err)
			return
		}
		*target = parsed
	}
	positive := func(d time.Duration) bool { return d > 0 }
	nonNegative := func(d time.Duration) bool { return d >= 0 }

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	str(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	positiveInt(envPostgresMaxOpenConns, &cfg.PostgresMaxOpenConns)
	positiveInt(envPostgresMaxIdleConns, &cfg.PostgresMaxIdleConns)
	duration(envPostgresConnMaxLifetime, &cfg.PostgresConnMaxLifetime, positive, "must be > 0")
	duration(envPostgresConnMaxIdleTime, &cfg.PostgresConnMaxIdleTime, positive, "must be > 0")

	positiveInt(envRetryMaxAttempts, &cfg.RetryMaxAttempts)
	duration(envRetryBackoff, &cfg.RetryBackoff, nonNegative, "must be >= 0")

	duration(envCacheTTL, &cfg.CacheTTL, positive, "must be > 0")
	positiveInt(envCacheSize, &cfg.CacheSize)
	str(envRedisAddr, &cfg.RedisAddr)

	boolean(envRejectDuplicateCategory, &cfg.RejectDuplicateCategory)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positive, "must be > 0")
	positiveInt(envOutboxBatchSize, &cfg.OutboxBatchSize)
	positiveInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegative, "must be >= 0")

	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positive, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positive, "must be > 0")
	positiveInt(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaTopic, &cfg.KafkaTopic)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q", raw)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", raw)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}

func main() {
	warnings := setupLogger(os.LookupEnv)
	cfg, configWarnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range append(warnings, configWarnings...) {
		log.Warnf("invalid config value, using default: %s", warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"version":        version.GetVersion(),
		"commit":         version.GetCommit(),
		"http_addr":      cfg.HTTPAddr,
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"redis":          cfg.RedisAddr != "",
		"kafka":          cfg.KafkaBrokers != "",
	}).Info("запускаем CatalogService")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("CatalogService остановлен")
}
