package cache

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultTTL — время жизни записи view независимо от явной инвалидации.
	DefaultTTL = 5 * time.Minute
	// DefaultSize — максимальное число записей в одном view.
	DefaultSize = 1000
)

// Backend хранит сериализованные значения view.
//
// У каждого view есть поколение, которое Delete и Clear увеличивают. Поколение
// живёт в самом backend, поэтому его видят все экземпляры сервиса, делящие кеш.
// SetIfGeneration записывает значение, только если поколение не изменилось с
// момента, когда загрузчик начал читать хранилище.
type Backend interface {
	Get(ctx context.Context, view View, key string) ([]byte, bool, error)
	Set(ctx context.Context, view View, key string, value []byte) error
	Generation(ctx context.Context, view View) (uint64, error)
	SetIfGeneration(ctx context.Context, view View, key string, value []byte, generation uint64) (bool, error)
	Delete(ctx context.Context, view View, key string) error
	Clear(ctx context.Context, view View) error
}

// Recorder получает события кеша (метрики).
type Recorder interface {
	CacheHit(view string)
	CacheMiss(view string)
	CacheInvalidated(view string)
}

// Cache — набор view поверх Backend. Хранилище остаётся источником истины:
// ошибки backend логируются, а чтение уходит в загрузчик.
type Cache struct {
	backend  Backend
	recorder Recorder
	logger   *log.Entry
}

// Option настраивает Cache.
type Option func(*Cache)

// WithRecorder подключает метрики.
func WithRecorder(recorder Recorder) Option {
	return func(c *Cache) {
		c.recorder = recorder
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New создаёт Cache поверх backend.
func New(backend Backend, options ...Option) *Cache {
	c := &Cache{
		backend: backend,
		logger:  log.WithField("component", "cache"),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// GetOrLoad возвращает значение view или загружает его и сохраняет.
// Ошибки загрузчика не кешируются. Nil Cache всегда вызывает загрузчик.
func GetOrLoad[T any](ctx context.Context, c *Cache, view View, key string, load func(ctx context.Context) (T, error)) (T, error) {
	if c == nil || c.backend == nil {
		return load(ctx)
	}

	if raw, ok, err := c.backend.Get(ctx, view, key); err != nil {
		c.logger.WithError(err).WithFields(log.Fields{"view": view, "key": key}).Warn("cache get failed")
	} else if ok {
		var value T
		if err := json.Unmarshal(raw, &value); err == nil {
			c.record(func(r Recorder) { r.CacheHit(string(view)) })
			return value, nil
		}
		c.logger.WithFields(log.Fields{"view": view, "key": key}).Warn("cache entry is corrupted, reloading")
	}

	c.record(func(r Recorder) { r.CacheMiss(string(view)) })

	generation, genErr := c.backend.Generation(ctx, view)
	if genErr != nil {
		c.logger.WithError(genErr).WithField("view", view).Warn("cache generation read failed")
	}
	value, err := load(ctx)
	if err != nil || genErr != nil {
		return value, err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).WithField("view", view).Warn("cache marshal failed")
		return value, nil
	}
	c.store(ctx, view, key, raw, generation)
	return value, nil
}

// Apply сбрасывает view, затронутые зафиксированной мутацией.
func (c *Cache) Apply(ctx context.Context, m Mutation) {
	if c == nil {
		return
	}
	c.Invalidate(ctx, InvalidationsFor(m)...)
}

// Invalidate сбрасывает ключи или view целиком.
func (c *Cache) Invalidate(ctx context.Context, invalidations ...Invalidation) {
	if c == nil || c.backend == nil {
		return
	}

	for _, inv := range invalidations {
		var err error
		if inv.Whole() {
			err = c.backend.Clear(ctx, inv.View)
		} else {
			err = c.backend.Delete(ctx, inv.View, inv.Key)
		}
		if err != nil {
			// Оставшуюся запись ограничивает TTL.
			c.logger.WithError(err).WithField("invalidation", inv.String()).Error("cache invalidation failed")
			continue
		}
		c.record(func(r Recorder) { r.CacheInvalidated(string(inv.View)) })
	}
}

func (c *Cache) store(ctx context.Context, view View, key string, raw []byte, generation uint64) {
	stored, err := c.backend.SetIfGeneration(ctx, view, key, raw, generation)
	if err != nil {
		c.logger.WithError(err).WithFields(log.Fields{"view": view, "key": key}).Warn("cache set failed")
		return
	}
	if !stored {
		c.logger.WithFields(log.Fields{"view": view, "key": key}).Debug("view invalidated during load, value not cached")
	}
}

func (c *Cache) record(fn func(Recorder)) {
	if c.recorder != nil {
		fn(c.recorder)
	}
}
