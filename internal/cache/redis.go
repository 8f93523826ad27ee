package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "catalog"
	redisScanCount     = 200
)

// RedisBackend хранит view в Redis, чтобы несколько экземпляров сервиса делили кеш.
// Ключ значения: <prefix>:<view>:<key>, индекс ключей view хранится в sorted set
// <prefix>:_index:<view> с временем записи в качестве score; по нему
// соблюдается ограничение размера view. Счётчик инвалидаций view лежит в
// <prefix>:_gen:<view> и общий для всех экземпляров.
type RedisBackend struct {
	rdb    goredis.UniversalClient
	prefix string
	size   int
	ttl    time.Duration
}

// NewRedisBackend создаёт backend поверх готового клиента.
func NewRedisBackend(rdb goredis.UniversalClient, prefix string, size int, ttl time.Duration) *RedisBackend {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisBackend{rdb: rdb, prefix: prefix, size: size, ttl: ttl}
}

// DialRedis подключается к Redis и проверяет соединение.
func DialRedis(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (b *RedisBackend) valueKey(view View, key string) string {
	return b.prefix + ":" + string(view) + ":" + key
}

func (b *RedisBackend) indexKey(view View) string {
	return b.prefix + ":_index:" + string(view)
}

func (b *RedisBackend) Get(ctx context.Context, view View, key string) ([]byte, bool, error) {
	raw, err := b.rdb.Get(ctx, b.valueKey(view, key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", view, err)
	}
	return raw, true, nil
}

func (b *RedisBackend) generationKey(view View) string {
	return b.prefix + ":_gen:" + string(view)
}

func (b *RedisBackend) Set(ctx context.Context, view View, key string, value []byte) error {
	var card *goredis.IntCmd
	_, err := b.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		card = b.queueSet(ctx, pipe, view, key, value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", view, err)
	}
	return b.evict(ctx, view, card.Val())
}

// Generation возвращает счётчик инвалидаций view; отсутствующий ключ означает 0.
func (b *RedisBackend) Generation(ctx context.Context, view View) (uint64, error) {
	gen, err := readGeneration(ctx, b.rdb, b.generationKey(view))
	if err != nil {
		return 0, fmt.Errorf("redis generation %s: %w", view, err)
	}
	return gen, nil
}

// SetIfGeneration записывает значение под WATCH на счётчике поколения: если другой
// экземпляр успел инвалидировать view, транзакция не выполнится.
func (b *RedisBackend) SetIfGeneration(ctx context.Context, view View, key string, value []byte, generation uint64) (bool, error) {
	genKey := b.generationKey(view)

	var card *goredis.IntCmd
	err := b.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := readGeneration(ctx, tx, genKey)
		if err != nil {
			return err
		}
		if current != generation {
			return errGenerationChanged
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			card = b.queueSet(ctx, pipe, view, key, value)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, errGenerationChanged) || errors.Is(err, goredis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis set %s: %w", view, err)
	}
	return true, b.evict(ctx, view, card.Val())
}

var errGenerationChanged = errors.New("cache generation changed")

func readGeneration(ctx context.Context, c goredis.Cmdable, genKey string) (uint64, error) {
	gen, err := c.Get(ctx, genKey).Uint64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (b *RedisBackend) queueSet(ctx context.Context, pipe goredis.Pipeliner, view View, key string, value []byte) *goredis.IntCmd {
	index := b.indexKey(view)
	now := time.Now()

	pipe.Set(ctx, b.valueKey(view, key), value, b.ttl)
	pipe.ZAdd(ctx, index, goredis.Z{Score: float64(now.UnixNano()), Member: key})
	// Записи старше TTL уже истекли, их место в индексе освобождаем.
	pipe.ZRemRangeByScore(ctx, index, "-inf", fmt.Sprintf("(%d", now.Add(-b.ttl).UnixNano()))
	pipe.Expire(ctx, index, b.ttl)
	return pipe.ZCard(ctx, index)
}

func (b *RedisBackend) evict(ctx context.Context, view View, card int64) error {
	excess := card - int64(b.size)
	if excess <= 0 {
		return nil
	}

	index := b.indexKey(view)
	evicted, err := b.rdb.ZPopMin(ctx, index, excess).Result()
	if err != nil {
		return fmt.Errorf("redis evict %s: %w", view, err)
	}
	keys := make([]string, 0, len(evicted))
	for _, z := range evicted {
		if member, ok := z.Member.(string); ok {
			keys = append(keys, b.valueKey(view, member))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := b.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis evict %s: %w", view, err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, view View, key string) error {
	_, err := b.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Incr(ctx, b.generationKey(view))
		pipe.Del(ctx, b.valueKey(view, key))
		pipe.ZRem(ctx, b.indexKey(view), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", view, err)
	}
	return nil
}

// Clear удаляет все ключи view через SCAN, не блокируя Redis командой KEYS.
// Поколение увеличивается до удаления, поэтому загрузка, начатая раньше, уже
// не запишет значение в очищенный view.
func (b *RedisBackend) Clear(ctx context.Context, view View) error {
	if err := b.rdb.Incr(ctx, b.generationKey(view)).Err(); err != nil {
		return fmt.Errorf("redis bump generation %s: %w", view, err)
	}

	pattern := b.prefix + ":" + string(view) + ":*"

	var cursor uint64
	for {
		keys, next, err := b.rdb.Scan(ctx, cursor, pattern, redisScanCount).Result()
		if err != nil {
			return fmt.Errorf("redis scan %s: %w", view, err)
		}
		if len(keys) > 0 {
			if err := b.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis clear %s: %w", view, err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if err := b.rdb.Del(ctx, b.indexKey(view)).Err(); err != nil {
		return fmt.Errorf("redis clear index %s: %w", view, err)
	}
	return nil
}

// Ping проверяет доступность Redis (для health-check).
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

var _ Backend = (*RedisBackend)(nil)
