// Package tilecache keeps recently composited tile PNGs so that repeated
// requests for an unchanged tile cost one lookup instead of a render.
package tilecache

import (
	"go.uber.org/zap"

	"github.com/penandalokasi/skirkmarble/internal/cache"
	"github.com/penandalokasi/skirkmarble/internal/events"
	"github.com/penandalokasi/skirkmarble/pkg/canvas"
)

// Defaults mirror the config defaults.
const (
	DefaultMaxEntries = 256
	DefaultByteBudget = 64 << 20
)

// Key identifies one cached render. Content is the hash of the site tile
// bytes, Settings the combined rendering fingerprint; either changing is a
// miss, never a merge.
type Key struct {
	Tile     canvas.Tile
	Content  uint64
	Settings uint64
}

// Cache is a bounded LRU for composited tile blobs. Safe for concurrent
// use.
type Cache struct {
	lru *cache.LRU[Key, []byte]
	log *zap.Logger
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	maxEntries int
	byteBudget int64
}

// WithMaxEntries overrides the entry bound.
func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}

// WithByteBudget overrides the soft byte budget.
func WithByteBudget(n int64) Option {
	return func(o *options) { o.byteBudget = n }
}

// New builds a Cache.
func New(log *zap.Logger, opts ...Option) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	o := options{maxEntries: DefaultMaxEntries, byteBudget: DefaultByteBudget}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache{
		lru: cache.New(o.maxEntries,
			cache.WithCost[Key, []byte](o.byteBudget, func(blob []byte) int64 { return int64(len(blob)) })),
		log: log,
	}
}

// Get returns the cached blob for the key, or ok=false.
func (c *Cache) Get(key Key) ([]byte, bool) {
	return c.lru.Get(key)
}

// Put stores a composited blob, evicting LRU entries past the bounds.
func (c *Cache) Put(key Key, blob []byte) {
	c.lru.Set(key, blob)
}

// InvalidateByContent drops every entry for one tile, regardless of hash.
// Called when the site content of the tile is known to have changed.
func (c *Cache) InvalidateByContent(tile canvas.Tile) {
	n := c.lru.DeleteFunc(func(k Key) bool { return k.Tile == tile })
	if n > 0 {
		c.log.Debug("tile cache invalidated by content",
			zap.Stringer("tile", tile), zap.Int("dropped", n))
	}
}

// InvalidateAll drops everything. Called on any fingerprint change.
func (c *Cache) InvalidateAll() {
	c.lru.Clear()
}

// InvalidateByArea drops the tile under the coords and its eight
// neighbors. Coarse on purpose: a write near a tile border repaints
// adjacent tiles too.
func (c *Cache) InvalidateByArea(at canvas.Point) {
	affected := canvas.Tile{X: at.Tx, Y: at.Ty}.Neighbors()
	n := c.lru.DeleteFunc(func(k Key) bool {
		for _, t := range affected {
			if k.Tile == t {
				return true
			}
		}
		return false
	})
	if n > 0 {
		c.log.Debug("tile cache invalidated by area",
			zap.Stringer("tile", canvas.Tile{X: at.Tx, Y: at.Ty}), zap.Int("dropped", n))
	}
}

// Attach subscribes the cache to the engine bus: settings and template
// mutations flush everything, canvas-change events invalidate coarsely.
func (c *Cache) Attach(bus *events.Bus) {
	bus.Subscribe(func(ev events.Event) {
		switch e := ev.(type) {
		case events.SettingsChanged:
			c.InvalidateAll()
		case events.TemplateChanged:
			c.InvalidateAll()
		case events.CanvasChanged:
			if e.Coords != nil {
				c.InvalidateByArea(*e.Coords)
			} else {
				c.InvalidateAll()
			}
		}
	})
}

// Stats reports hit, miss, and eviction counters.
func (c *Cache) Stats() cache.Stats {
	return c.lru.Stats()
}
