package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LocalBackend держит каждый view в отдельном LRU с TTL внутри процесса.
type LocalBackend struct {
	views map[View]*expirable.LRU[string, []byte]

	// mu делает проверку поколения и запись атомарными относительно инвалидации.
	mu          sync.Mutex
	generations map[View]uint64
}

// NewLocalBackend создаёт LRU на size записей с временем жизни ttl для каждого view.
func NewLocalBackend(size int, ttl time.Duration) *LocalBackend {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	views := make(map[View]*expirable.LRU[string, []byte], len(Views()))
	for _, view := range Views() {
		views[view] = expirable.NewLRU[string, []byte](size, nil, ttl)
	}
	return &LocalBackend{views: views, generations: make(map[View]uint64, len(views))}
}

func (b *LocalBackend) Get(_ context.Context, view View, key string) ([]byte, bool, error) {
	lru, ok := b.views[view]
	if !ok {
		return nil, false, nil
	}
	value, ok := lru.Get(key)
	return value, ok, nil
}

func (b *LocalBackend) Set(_ context.Context, view View, key string, value []byte) error {
	if lru, ok := b.views[view]; ok {
		lru.Add(key, value)
	}
	return nil
}

func (b *LocalBackend) Generation(_ context.Context, view View) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generations[view], nil
}

func (b *LocalBackend) SetIfGeneration(_ context.Context, view View, key string, value []byte, generation uint64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.generations[view] != generation {
		return false, nil
	}
	if lru, ok := b.views[view]; ok {
		lru.Add(key, value)
	}
	return true, nil
}

func (b *LocalBackend) Delete(_ context.Context, view View, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.generations[view]++
	if lru, ok := b.views[view]; ok {
		lru.Remove(key)
	}
	return nil
}

func (b *LocalBackend) Clear(_ context.Context, view View) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.generations[view]++
	if lru, ok := b.views[view]; ok {
		lru.Purge()
	}
	return nil
}

// Len возвращает число живых записей view.
func (b *LocalBackend) Len(view View) int {
	if lru, ok := b.views[view]; ok {
		return lru.Len()
	}
	return 0
}

var _ Backend = (*LocalBackend)(nil)
