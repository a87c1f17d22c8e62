// Package canvas provides coordinate arithmetic for the wplace pixel canvas.
//
// The canvas is an infinite grid of 1000x1000 pixel tiles addressed by
// (tileX, tileY). A position on the canvas is a tile plus a pixel offset
// inside it. The compositor works at a fixed 3x upscale so that single
// canvas pixels can carry crosshair decorations; scaled coordinates are the
// canvas coordinates multiplied by Upscale.
package canvas

import "fmt"

const (
	// TileSize is the side length of one canvas tile in canvas pixels.
	TileSize = 1000

	// Upscale is the fixed render upscale factor.
	Upscale = 3

	// ScaledTileSize is the side length of a rendered tile in output pixels.
	ScaledTileSize = TileSize * Upscale
)

// Tile identifies one canvas tile.
type Tile struct {
	X, Y int
}

// String formats the tile as "x,y".
func (t Tile) String() string {
	return fmt.Sprintf("%d,%d", t.X, t.Y)
}

// Neighbors returns the tile and its 8 immediate neighbors.
func (t Tile) Neighbors() []Tile {
	out := make([]Tile, 0, 9)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			out = append(out, Tile{X: t.X + dx, Y: t.Y + dy})
		}
	}
	return out
}

// Point is an absolute canvas position: a tile plus a pixel offset within it.
// Px and Py are in [0, TileSize) for a normalized point.
type Point struct {
	Tx, Ty int
	Px, Py int
}

// Valid reports whether the pixel offset lies inside its tile.
func (p Point) Valid() bool {
	return p.Px >= 0 && p.Px < TileSize && p.Py >= 0 && p.Py < TileSize
}

// Tile returns the tile containing the point.
func (p Point) Tile() Tile {
	return Tile{X: p.Tx, Y: p.Ty}
}

// GlobalX returns the absolute canvas X coordinate.
func (p Point) GlobalX() int {
	return p.Tx*TileSize + p.Px
}

// GlobalY returns the absolute canvas Y coordinate.
func (p Point) GlobalY() int {
	return p.Ty*TileSize + p.Py
}

// Translate returns the point moved by (dx, dy) canvas pixels, renormalized
// so the pixel offset stays inside [0, TileSize).
func (p Point) Translate(dx, dy int) Point {
	return FromGlobal(p.GlobalX()+dx, p.GlobalY()+dy)
}

// FromGlobal converts absolute canvas coordinates into a normalized Point.
// Negative coordinates land in negative tiles (floor division).
func FromGlobal(gx, gy int) Point {
	tx := floorDiv(gx, TileSize)
	ty := floorDiv(gy, TileSize)
	return Point{
		Tx: tx,
		Ty: ty,
		Px: gx - tx*TileSize,
		Py: gy - ty*TileSize,
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// ShardKey addresses the slice of a template that falls inside one tile.
// (Px, Py) is the shard's top-left corner within the tile, in canvas pixels.
type ShardKey struct {
	Tx, Ty int
	Px, Py int
}

// String formats the key in the persistence layout: zero-padded
// "tttt,tttt,ppp,ppp".
func (k ShardKey) String() string {
	return fmt.Sprintf("%04d,%04d,%03d,%03d", k.Tx, k.Ty, k.Px, k.Py)
}

// Tile returns the tile the shard belongs to.
func (k ShardKey) Tile() Tile {
	return Tile{X: k.Tx, Y: k.Ty}
}

// ParseShardKey parses the persistence layout produced by String.
func ParseShardKey(s string) (ShardKey, error) {
	var k ShardKey
	if _, err := fmt.Sscanf(s, "%d,%d,%d,%d", &k.Tx, &k.Ty, &k.Px, &k.Py); err != nil {
		return ShardKey{}, fmt.Errorf("parsing shard key %q: %w", s, err)
	}
	if k.Px < 0 || k.Px >= TileSize || k.Py < 0 || k.Py >= TileSize {
		return ShardKey{}, fmt.Errorf("shard key %q: pixel offset out of range", s)
	}
	return k, nil
}
