package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryCache implements Cache using in-process storage.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string]cacheItem
	now  func() time.Time
	done chan struct{}
	once sync.Once
}

type cacheItem struct {
	value      []byte
	expiration time.Time
}

// NewMemoryCache creates a new in-memory cache with a background sweeper.
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithClock(time.Now, time.Minute)
}

// NewMemoryCacheWithClock creates a memory cache using now as its time source.
// A non-positive sweep interval disables the background sweeper.
func NewMemoryCacheWithClock(now func() time.Time, sweep time.Duration) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	mc := &MemoryCache{
		data: make(map[string]cacheItem),
		now:  now,
		done: make(chan struct{}),
	}
	if sweep > 0 {
		go mc.cleanup(sweep)
	}
	return mc
}

// Get retrieves a value from cache.
func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.data[key]
	if !ok || m.expired(item) {
		return nil, ErrCacheMiss
	}
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

// Set stores a value. A non-positive ttl keeps the entry until deleted.
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	item := cacheItem{value: stored}
	if ttl > 0 {
		item.expiration = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.data[key] = item
	m.mu.Unlock()
	return nil
}

// Delete removes a value from cache.
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Exists checks if a live key exists.
func (m *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.data[key]
	return ok && !m.expired(item), nil
}

// Clear removes all keys matching pattern. Only a trailing '*' wildcard is supported.
func (m *MemoryCache) Clear(ctx context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.data {
		if matchPattern(key, pattern) {
			delete(m.data, key)
		}
	}
	return nil
}

// Close stops the background sweeper.
func (m *MemoryCache) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryCache) expired(item cacheItem) bool {
	return !item.expiration.IsZero() && !m.now().Before(item.expiration)
}

func (m *MemoryCache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			for key, item := range m.data {
				if m.expired(item) {
					delete(m.data, key)
				}
			}
			m.mu.Unlock()
		case <-m.done:
			return
		}
	}
}

func matchPattern(s, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(s, strings.TrimSuffix(pattern, "*"))
	}
	return s == pattern
}
