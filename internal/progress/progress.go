// Package progress tracks how much of each template is painted on the
// canvas, per tile and per palette color.
//
// Counts are produced during compositing from the exact shard and site
// pixels that were rendered, so a tile's statistics are always coherent
// with the tile the user sees. Aggregation across tiles reads whatever has
// been analyzed so far; unseen tiles contribute zero.
package progress

import (
	"sync"

	"github.com/penandalokasi/skirkmarble/pkg/canvas"
)

// ColorStats counts one palette color within one tile.
type ColorStats struct {
	Required int
	Painted  int
	Wrong    int
	// FirstWrong is the canvas position of the first wrong pixel seen for
	// this color in this tile, nil if none.
	FirstWrong *canvas.Point
}

// TileStats is the per-tile result of one compositing pass.
type TileStats struct {
	Required int
	Painted  int
	Wrong    int
	Colors   map[int]*ColorStats

	// Fingerprint of the render that produced these counts.
	ContentHash  uint64
	SettingsHash uint64

	seq uint64
}

// NewTileStats returns an empty result ready for counting.
func NewTileStats() *TileStats {
	return &TileStats{Colors: make(map[int]*ColorStats)}
}

// Stale reports whether these counts were produced under a different
// site tile or rendering fingerprint than the given one.
func (s *TileStats) Stale(contentHash, settingsHash uint64) bool {
	return s.ContentHash != contentHash || s.SettingsHash != settingsHash
}

// Missing derives the unpainted pixel count.
func (s *TileStats) Missing() int {
	return s.Required - s.Painted - s.Wrong
}

// CountRequired records one template pixel of a color.
func (s *TileStats) CountRequired(paletteID int) {
	s.Required++
	s.color(paletteID).Required++
}

// CountPainted records a template pixel whose site color matches.
func (s *TileStats) CountPainted(paletteID int) {
	s.Painted++
	s.color(paletteID).Painted++
}

// CountWrong records a template pixel covered by a different palette
// color, remembering the first such position per color.
func (s *TileStats) CountWrong(paletteID int, at canvas.Point) {
	s.Wrong++
	c := s.color(paletteID)
	c.Wrong++
	if c.FirstWrong == nil {
		p := at
		c.FirstWrong = &p
	}
}

func (s *TileStats) color(paletteID int) *ColorStats {
	c, ok := s.Colors[paletteID]
	if !ok {
		c = &ColorStats{}
		s.Colors[paletteID] = c
	}
	return c
}

// Totals aggregates counts for one palette color across tiles.
type Totals struct {
	Required int
	Painted  int
	Wrong    int
}

// Tracker is the global tile-progress map.
type Tracker struct {
	mu    sync.RWMutex
	tiles map[canvas.Tile]*TileStats
	seq   uint64
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{tiles: make(map[canvas.Tile]*TileStats)}
}

// Record replaces the entry for a tile with a fresh analysis.
func (tr *Tracker) Record(tile canvas.Tile, stats *TileStats) {
	tr.mu.Lock()
	tr.seq++
	if prev, ok := tr.tiles[tile]; ok {
		stats.seq = prev.seq // keep first-seen ordering stable per tile
	} else {
		stats.seq = tr.seq
	}
	tr.tiles[tile] = stats
	tr.mu.Unlock()
}

// Tile returns the stats recorded for a tile, or nil.
func (tr *Tracker) Tile(tile canvas.Tile) *TileStats {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.tiles[tile]
}

// Forget drops a tile's entry (template removed, tile no longer covered).
func (tr *Tracker) Forget(tile canvas.Tile) {
	tr.mu.Lock()
	delete(tr.tiles, tile)
	tr.mu.Unlock()
}

// Reset drops everything.
func (tr *Tracker) Reset() {
	tr.mu.Lock()
	tr.tiles = make(map[canvas.Tile]*TileStats)
	tr.seq = 0
	tr.mu.Unlock()
}

// TotalsByColor sums per-color counts over the analyzed tiles. covered
// filters tiles (nil means all); excluded filters palette IDs out of the
// result (nil means none).
func (tr *Tracker) TotalsByColor(covered func(canvas.Tile) bool, excluded func(int) bool) map[int]Totals {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	out := make(map[int]Totals)
	for tile, stats := range tr.tiles {
		if covered != nil && !covered(tile) {
			continue
		}
		for id, c := range stats.Colors {
			if excluded != nil && excluded(id) {
				continue
			}
			t := out[id]
			t.Required += c.Required
			t.Painted += c.Painted
			t.Wrong += c.Wrong
			out[id] = t
		}
	}
	return out
}

// Overall computes the display percentage over the non-excluded totals.
// When includeWrong is set, wrong pixels count as painted (they are not
// added twice). The result clamps to 99.99 unless painted equals required,
// which reads exactly 100; an empty required reads 100.
func (tr *Tracker) Overall(covered func(canvas.Tile) bool, excluded func(int) bool, includeWrong bool) float64 {
	totals := tr.TotalsByColor(covered, excluded)

	var required, painted int
	for _, t := range totals {
		required += t.Required
		p := t.Painted
		if includeWrong {
			p += t.Wrong
		}
		painted += p
	}

	if required == 0 {
		return 100
	}
	if painted >= required {
		return 100
	}
	pct := float64(painted) / float64(required) * 100
	if pct > 99.99 {
		return 99.99
	}
	return pct
}

// FirstWrongForColor returns the earliest-recorded wrong pixel for a
// palette color across all analyzed tiles, or nil.
func (tr *Tracker) FirstWrongForColor(paletteID int) *canvas.Point {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	var best *canvas.Point
	var bestSeq uint64
	for _, stats := range tr.tiles {
		c, ok := stats.Colors[paletteID]
		if !ok || c.FirstWrong == nil {
			continue
		}
		if best == nil || stats.seq < bestSeq {
			best = c.FirstWrong
			bestSeq = stats.seq
		}
	}
	return best
}
