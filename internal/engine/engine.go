// Package engine wires the template store, settings, compositor, and tile
// cache into the render pipeline behind the interception transport.
package engine

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/penandalokasi/skirkmarble/internal/cache"
	"github.com/penandalokasi/skirkmarble/internal/compositor"
	"github.com/penandalokasi/skirkmarble/internal/events"
	"github.com/penandalokasi/skirkmarble/internal/progress"
	"github.com/penandalokasi/skirkmarble/internal/settings"
	"github.com/penandalokasi/skirkmarble/internal/template"
	"github.com/penandalokasi/skirkmarble/internal/tilecache"
	"github.com/penandalokasi/skirkmarble/pkg/canvas"
)

// ErrDeadlineExceeded means the render missed its soft deadline; the
// original tile is forwarded while the render finishes into the cache.
var ErrDeadlineExceeded = errors.New("engine: render deadline exceeded")

// ErrStaleSettings means the settings changed while a render was in
// flight; the caller gets the original tile and a fresh render is queued
// for warm-up.
var ErrStaleSettings = errors.New("engine: settings changed during render")

// DefaultDeadline is the soft per-request compositing deadline.
const DefaultDeadline = 250 * time.Millisecond

// Config holds the engine's collaborators and bounds.
type Config struct {
	Store    *template.Store
	Settings *settings.Facade
	Bus      *events.Bus
	Log      *zap.Logger

	Deadline        time.Duration
	CacheMaxEntries int
	CacheByteBudget int64
}

// flight is one in-progress render; waiters block on done.
type flight struct {
	done chan struct{}
	blob []byte
	err  error
}

// Engine runs the render pipeline. Safe for concurrent use.
type Engine struct {
	store    *template.Store
	settings *settings.Facade
	comp     *compositor.Compositor
	tiles    *tilecache.Cache
	tracker  *progress.Tracker
	bus      *events.Bus
	log      *zap.Logger
	deadline time.Duration

	mu       sync.Mutex
	inflight map[tilecache.Key]*flight
}

// New builds an Engine and attaches the tile cache to the bus.
func New(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	deadline := cfg.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}

	var cacheOpts []tilecache.Option
	if cfg.CacheMaxEntries > 0 {
		cacheOpts = append(cacheOpts, tilecache.WithMaxEntries(cfg.CacheMaxEntries))
	}
	if cfg.CacheByteBudget > 0 {
		cacheOpts = append(cacheOpts, tilecache.WithByteBudget(cfg.CacheByteBudget))
	}

	e := &Engine{
		store:    cfg.Store,
		settings: cfg.Settings,
		comp:     compositor.New(log.Named("compositor")),
		tiles:    tilecache.New(log.Named("tilecache"), cacheOpts...),
		tracker:  progress.NewTracker(),
		bus:      cfg.Bus,
		log:      log,
		deadline: deadline,
		inflight: make(map[tilecache.Key]*flight),
	}
	if cfg.Bus != nil {
		e.tiles.Attach(cfg.Bus)
	}
	return e
}

// Fingerprint is the combined rendering fingerprint: any settings or
// template mutation that can change pixels changes it.
func (e *Engine) Fingerprint() uint64 {
	return e.settings.Fingerprint() ^ e.store.RenderFingerprint()
}

// Progress exposes the tracker for progress queries.
func (e *Engine) Progress() *progress.Tracker {
	return e.tracker
}

// TileCacheStats reports the composited tile cache counters.
func (e *Engine) TileCacheStats() cache.Stats {
	return e.tiles.Stats()
}

// RenderTile composites the templates covering a tile over freshly
// fetched site tile bytes. It returns the composited PNG, or an error
// when the caller should forward the original: a decode failure, a missed
// deadline, or a settings change mid-render. Concurrent requests for the
// same (tile, content, settings) share one render.
func (e *Engine) RenderTile(ctx context.Context, tile canvas.Tile, siteTile []byte) ([]byte, error) {
	snaps := e.store.EnabledSnapshots()
	if !covers(snaps, tile) {
		// Nothing to draw; run the cheap analysis path only if the tile
		// was previously covered.
		if e.tracker.Tile(tile) != nil {
			e.tracker.Forget(tile)
		}
		return nil, nil
	}

	key := tilecache.Key{
		Tile:     tile,
		Content:  hashBytes(siteTile),
		Settings: e.Fingerprint(),
	}

	// With the cache option off every request re-renders; writes still
	// land in the cache so turning it back on starts warm.
	if e.settings.Snapshot().SmartCache {
		if blob, ok := e.tiles.Get(key); ok {
			return blob, nil
		}
	}

	e.mu.Lock()
	if f, ok := e.inflight[key]; ok {
		e.mu.Unlock()
		return e.await(ctx, f)
	}
	f := &flight{done: make(chan struct{})}
	e.inflight[key] = f
	e.mu.Unlock()

	go e.compute(key, siteTile, snaps, f)
	return e.await(ctx, f)
}

// await blocks on a flight until it finishes, the request context ends,
// or the soft deadline passes.
func (e *Engine) await(ctx context.Context, f *flight) ([]byte, error) {
	timer := time.NewTimer(e.deadline)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.blob, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		e.log.Debug("render missed the soft deadline; forwarding original")
		return nil, ErrDeadlineExceeded
	}
}

// compute renders one tile, records progress, and fills the cache. It
// never carries the request context: a caller that gave up still wants
// the cache warm for the next request.
func (e *Engine) compute(key tilecache.Key, siteTile []byte, snaps []template.Snapshot, f *flight) {
	opts := e.settings.Snapshot()
	blob, stats, err := e.comp.Render(key.Tile, siteTile, snaps, opts)
	if err != nil {
		f.err = err
		e.finish(key, f)
		return
	}

	stats.ContentHash = key.Content
	stats.SettingsHash = key.Settings
	e.tracker.Record(key.Tile, stats)
	e.tiles.Put(key, blob)

	if fp := e.Fingerprint(); fp != key.Settings {
		// The render is stale but the work is not wasted: queue a fresh
		// render so the next request hits the cache.
		f.err = ErrStaleSettings
		e.finish(key, f)
		go e.warm(key.Tile, siteTile)
		return
	}

	f.blob = blob
	e.finish(key, f)
}

func (e *Engine) finish(key tilecache.Key, f *flight) {
	e.mu.Lock()
	delete(e.inflight, key)
	e.mu.Unlock()
	close(f.done)
}

// warm renders a tile under the current fingerprint straight into the
// cache.
func (e *Engine) warm(tile canvas.Tile, siteTile []byte) {
	snaps := e.store.EnabledSnapshots()
	if !covers(snaps, tile) {
		return
	}
	key := tilecache.Key{Tile: tile, Content: hashBytes(siteTile), Settings: e.Fingerprint()}
	opts := e.settings.Snapshot()
	blob, stats, err := e.comp.Render(tile, siteTile, snaps, opts)
	if err != nil {
		e.log.Debug("cache warm-up render failed", zap.Stringer("tile", tile), zap.Error(err))
		return
	}
	stats.ContentHash = key.Content
	stats.SettingsHash = key.Settings
	e.tracker.Record(tile, stats)
	e.tiles.Put(key, blob)
}

// Analyze updates progress for a tile without producing a PNG.
func (e *Engine) Analyze(tile canvas.Tile, siteTile []byte) (*progress.TileStats, error) {
	snaps := e.store.EnabledSnapshots()
	stats, err := e.comp.Analyze(tile, siteTile, snaps)
	if err != nil {
		return nil, err
	}
	stats.ContentHash = hashBytes(siteTile)
	stats.SettingsHash = e.Fingerprint()
	e.tracker.Record(tile, stats)
	return stats, nil
}

// Overall reports the display percentage across analyzed covered tiles,
// honoring the settings' excluded colors.
func (e *Engine) Overall(includeWrong bool) float64 {
	snap := e.settings.Snapshot()
	return e.tracker.Overall(e.coveredFunc(), snap.Excluded, includeWrong)
}

// TotalsByColor reports per-color totals across analyzed covered tiles.
func (e *Engine) TotalsByColor() map[int]progress.Totals {
	snap := e.settings.Snapshot()
	return e.tracker.TotalsByColor(e.coveredFunc(), snap.Excluded)
}

// coveredFunc restricts progress queries to tiles under an enabled
// template.
func (e *Engine) coveredFunc() func(canvas.Tile) bool {
	snaps := e.store.EnabledSnapshots()
	return func(t canvas.Tile) bool { return covers(snaps, t) }
}

func covers(snaps []template.Snapshot, tile canvas.Tile) bool {
	for _, s := range snaps {
		if len(s.ShardsInTile(tile)) > 0 {
			return true
		}
	}
	return false
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}
