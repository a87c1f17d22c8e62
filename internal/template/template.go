package template

import (
	"fmt"
	"sort"
	"sync"

	"github.com/penandalokasi/skirkmarble/pkg/canvas"
)

// Template is one reference image pinned to the canvas, split into
// per-tile shards. Field mutation goes through the Store; readers take a
// Snapshot so a concurrent edit can never produce a half-applied render.
type Template struct {
	mu sync.RWMutex

	id          string
	displayName string
	anchor      canvas.Point
	imageW      int
	imageH      int
	shards      map[canvas.ShardKey]*Shard
	byTile      map[canvas.Tile][]*Shard

	pixelCount      int
	validPixelCount int

	disabled ColorSet
	enhanced ColorSet
	enabled  bool

	thumbnail []byte // PNG

	// Unknown serialized fields, preserved across read-modify-write.
	extra map[string]any
}

// ID returns the stable template identifier (sortID plus authorID).
func (t *Template) ID() string { return t.id }

// DisplayName returns the user-visible name.
func (t *Template) DisplayName() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.displayName
}

// Anchor returns the canvas position of the image's top-left pixel.
func (t *Template) Anchor() canvas.Point { return t.anchor }

// Size returns the source image dimensions in canvas pixels.
func (t *Template) Size() (w, h int) { return t.imageW, t.imageH }

// PixelCount returns the number of opaque source pixels.
func (t *Template) PixelCount() int { return t.pixelCount }

// ValidPixelCount returns the opaque pixels that quantized to a
// non-transparent palette entry.
func (t *Template) ValidPixelCount() int { return t.validPixelCount }

// Enabled reports whether the template participates in compositing.
func (t *Template) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// Thumbnail returns the small PNG preview.
func (t *Template) Thumbnail() []byte { return t.thumbnail }

// Tiles lists every tile the template's shards cover.
func (t *Template) Tiles() []canvas.Tile {
	tiles := make([]canvas.Tile, 0, len(t.byTile))
	for tile := range t.byTile {
		tiles = append(tiles, tile)
	}
	return tiles
}

// CoversTile reports whether any shard lies in the tile.
func (t *Template) CoversTile(tile canvas.Tile) bool {
	return len(t.byTile[tile]) > 0
}

// ShardsInTile returns the shards covering a tile. The slice is shared;
// callers must not modify it.
func (t *Template) ShardsInTile(tile canvas.Tile) []*Shard {
	return t.byTile[tile]
}

// ShardCount returns the number of shards.
func (t *Template) ShardCount() int { return len(t.shards) }

// Snapshot is an immutable view of the rendering state a compositing pass
// needs. Shard bitmaps are never mutated after ingestion, so sharing the
// pointers is safe.
type Snapshot struct {
	ID       string
	Enabled  bool
	Disabled ColorSet
	Enhanced ColorSet
	shards   map[canvas.Tile][]*Shard
}

// ShardsInTile returns the snapshot's shards for a tile.
func (s Snapshot) ShardsInTile(tile canvas.Tile) []*Shard {
	return s.shards[tile]
}

// Snapshot captures the rendering state under the template's lock.
func (t *Template) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		ID:       t.id,
		Enabled:  t.enabled,
		Disabled: t.disabled,
		Enhanced: t.enhanced,
		shards:   t.byTile,
	}
}

// ColorState returns the current disabled and enhanced sets.
func (t *Template) ColorState() (disabled, enhanced ColorSet) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.disabled, t.enhanced
}

// RenderFingerprint hashes the state that affects composited bytes:
// enablement and both color sets.
func (t *Template) RenderFingerprint() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h := t.disabled.Hash()*31 + t.enhanced.Hash()
	if t.enabled {
		h ^= 0x9e3779b97f4a7c15
	}
	return h
}

func (t *Template) String() string {
	return fmt.Sprintf("template %s (%q, %dx%d at %s, %d shards)",
		t.id, t.displayName, t.imageW, t.imageH, t.anchor.Tile(), len(t.shards))
}

// indexShards rebuilds the per-tile index from the shard map. Shards are
// ordered by position so rendering is deterministic.
func (t *Template) indexShards() {
	t.byTile = make(map[canvas.Tile][]*Shard)
	for key, s := range t.shards {
		tile := key.Tile()
		t.byTile[tile] = append(t.byTile[tile], s)
	}
	for _, shards := range t.byTile {
		sort.Slice(shards, func(i, j int) bool {
			a, b := shards[i].Key, shards[j].Key
			if a.Py != b.Py {
				return a.Py < b.Py
			}
			return a.Px < b.Px
		})
	}
}
