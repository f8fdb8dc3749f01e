package pawn

import (
	"sync"
	"time"
)

// Clock supplies the current time. Tests inject a fixed or stepping clock.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// DefaultCacheTTL is how long a loaded configuration is served before the
// next read goes back to the store.
const DefaultCacheTTL = 5 * time.Minute

// Cache holds a single value for a fixed TTL measured on an injected clock.
type Cache[T any] struct {
	ttl   time.Duration
	clock Clock

	mu        sync.RWMutex
	value     T
	expiresAt time.Time
	loaded    bool
}

// NewCache returns an empty cache. A nil clock means the system clock,
// a non-positive ttl means DefaultCacheTTL.
func NewCache[T any](ttl time.Duration, clock Clock) *Cache[T] {
	if clock == nil {
		clock = SystemClock{}
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache[T]{ttl: ttl, clock: clock}
}

// Get returns the cached value if present and not yet expired.
func (c *Cache[T]) Get() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero T
	if !c.loaded || !c.clock.Now().Before(c.expiresAt) {
		return zero, false
	}
	return c.value, true
}

func (c *Cache[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value = v
	c.expiresAt = c.clock.Now().Add(c.ttl)
	c.loaded = true
}

func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	c.value = zero
	c.loaded = false
}

func (c *Cache[T]) TTL() time.Duration { return c.ttl }
