package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/brandcatalog/internal/cache"
	healthcheck "github.com/vladislavdragonenkov/brandcatalog/internal/health"
)

// viewCache — кеш view и сопутствующие ему ресурсы.
type viewCache struct {
	cache *cache.Cache
	// shared означает, что view лежат в Redis и видны всем экземплярам.
	shared  bool
	checker healthcheck.Checker
	closeFn func() error
}

func (v *viewCache) close(logger *log.Entry) {
	if v == nil || v.closeFn == nil {
		return
	}
	if err := v.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close redis client")
	}
}

// initViewCache выбирает backend кеша. Redis используется, если задан адрес и
// он доступен при старте; иначе сервис работает с локальным кешем.
func initViewCache(ctx context.Context, cfg Config, recorder cache.Recorder, logger *log.Entry) *viewCache {
	options := []cache.Option{cache.WithRecorder(recorder), cache.WithLogger(logger.WithField("component", "cache"))}

	if cfg.RedisAddr != "" {
		rdb, err := cache.DialRedis(ctx, cfg.RedisAddr, "", 0)
		if err == nil {
			backend := cache.NewRedisBackend(rdb, "", cfg.CacheSize, cfg.CacheTTL)
			logger.WithField("redis_addr", cfg.RedisAddr).Info("using redis view cache")
			return &viewCache{
				cache:   cache.New(backend, options...),
				shared:  true,
				checker: healthcheck.NewOptionalChecker("redis", backend.Ping),
				closeFn: rdb.Close,
			}
		}
		logger.WithError(err).WithField("redis_addr", cfg.RedisAddr).Warn("redis is unavailable, falling back to local view cache")
	}

	logger.WithFields(log.Fields{
		"size": cfg.CacheSize,
		"ttl":  cfg.CacheTTL,
	}).Info("using local view cache")
	return &viewCache{cache: cache.New(cache.NewLocalBackend(cfg.CacheSize, cfg.CacheTTL), options...)}
}
