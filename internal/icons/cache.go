// Package icons resolves file extensions to icons with a permanent,
// negatively-caching lookup cache.
package icons

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rescale/duopane/internal/constants"
	"github.com/rescale/duopane/internal/events"
	"github.com/rescale/duopane/internal/logging"
)

// Icon is a renderable icon reference.
type Icon struct {
	Name     string // freedesktop icon name, e.g. "text-x-generic"
	MimeType string
}

var (
	// Placeholder is shown while a lookup is pending.
	Placeholder = Icon{Name: "content-loading"}

	// Fallback is shown for extensions whose lookup failed.
	Fallback = Icon{Name: "text-x-generic"}
)

// Source performs the actual (possibly slow) lookup.
type Source interface {
	FileIcon(ctx context.Context, ext string) (Icon, error)
}

type entry struct {
	icon   Icon
	failed bool
}

// Cache maps extensions to icons. Each extension is looked up at most once
// for the cache's lifetime, including failed lookups. There is no eviction.
type Cache struct {
	source  Source
	bus     *events.EventBus
	logger  *logging.Logger
	timeout time.Duration

	mu       sync.Mutex
	entries  map[string]entry
	inflight map[string]bool
	wg       sync.WaitGroup

	onResolved func(ext string, icon Icon)
}

// Option configures a Cache.
type Option func(*Cache)

// WithEventBus publishes an IconResolvedEvent per finished lookup.
func WithEventBus(bus *events.EventBus) Option {
	return func(c *Cache) { c.bus = bus }
}

// WithOnResolved registers a callback invoked after each finished lookup.
func WithOnResolved(fn func(ext string, icon Icon)) Option {
	return func(c *Cache) { c.onResolved = fn }
}

// WithTimeout bounds one lookup.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) { c.timeout = d }
}

// NewCache creates an empty cache over source.
func NewCache(source Source, opts ...Option) *Cache {
	c := &Cache{
		source:   source,
		logger:   logging.NewLogger("icons"),
		timeout:  constants.IconLookupTimeout,
		entries:  make(map[string]entry),
		inflight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Normalize lower-cases ext and strips a leading dot.
func Normalize(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// Resolve returns the cached icon and true, or Placeholder and false while
// the first lookup for ext runs in the background. Concurrent first calls
// share one lookup.
func (c *Cache) Resolve(ext string) (Icon, bool) {
	key := Normalize(ext)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		if e.failed {
			return Fallback, true
		}
		return e.icon, true
	}
	if c.inflight[key] {
		c.mu.Unlock()
		return Placeholder, false
	}
	c.inflight[key] = true
	c.wg.Add(1)
	c.mu.Unlock()

	go c.lookup(key)
	return Placeholder, false
}

func (c *Cache) lookup(key string) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	icon, err := c.source.FileIcon(ctx, key)

	c.mu.Lock()
	delete(c.inflight, key)
	if err != nil {
		c.entries[key] = entry{failed: true}
	} else {
		c.entries[key] = entry{icon: icon}
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug().Str("ext", key).Err(err).Msg("icon lookup failed, caching fallback")
		icon = Fallback
	}

	c.bus.Publish(&events.IconResolvedEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventIconResolved, Time: time.Now()},
		Extension: key,
		Icon:      icon.Name,
		Failed:    err != nil,
	})
	if c.onResolved != nil {
		c.onResolved(key, icon)
	}
}

// Wait blocks until every lookup started so far has finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// Len returns the number of cached extensions (successes and failures).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
