// Package template holds the template model: palette-quantized shards, the
// ingestion pipeline that builds them from an uploaded image, and the store
// that owns every template's lifecycle.
package template

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/penandalokasi/skirkmarble/internal/palette"
	"github.com/penandalokasi/skirkmarble/pkg/canvas"
)

// Shard is the slice of a template that falls inside one canvas tile.
//
// In memory it is a paletted bitmap at canvas-pixel resolution: Pix holds
// one palette ID per pixel, row-major, 0 for transparent. The rendered form
// is the 3x upscale where each source pixel occupies the center cell of its
// 3x3 block; only persistence and rendering ever materialize that form.
type Shard struct {
	Key  canvas.ShardKey
	W, H int
	Pix  []uint8
}

// NewShard allocates a transparent shard. Dimensions are clamped nowhere;
// the builder guarantees W, H are within a tile.
func NewShard(key canvas.ShardKey, w, h int) *Shard {
	return &Shard{Key: key, W: w, H: h, Pix: make([]uint8, w*h)}
}

// At returns the palette ID at shard-local (x, y), or palette.Transparent
// outside the shard.
func (s *Shard) At(x, y int) int {
	if x < 0 || y < 0 || x >= s.W || y >= s.H {
		return palette.Transparent
	}
	return int(s.Pix[y*s.W+x])
}

// Set writes a palette ID at shard-local (x, y).
func (s *Shard) Set(x, y, paletteID int) {
	s.Pix[y*s.W+x] = uint8(paletteID)
}

// Opaque counts the non-transparent pixels.
func (s *Shard) Opaque() int {
	n := 0
	for _, p := range s.Pix {
		if p != palette.Transparent {
			n++
		}
	}
	return n
}

// Empty reports whether the shard carries no pixels at all.
func (s *Shard) Empty() bool {
	return s.Opaque() == 0
}

// Upscaled renders the shard at the fixed upscale: each palette pixel
// becomes the center cell of its 3x3 block, everything else transparent.
func (s *Shard) Upscaled() *image.NRGBA {
	k := canvas.Upscale
	img := image.NewNRGBA(image.Rect(0, 0, s.W*k, s.H*k))
	for y := 0; y < s.H; y++ {
		for x := 0; x < s.W; x++ {
			id := s.Pix[y*s.W+x]
			if id == palette.Transparent {
				continue
			}
			e := palette.Lookup(int(id))
			off := img.PixOffset(x*k+k/2, y*k+k/2)
			img.Pix[off+0] = e.R
			img.Pix[off+1] = e.G
			img.Pix[off+2] = e.B
			img.Pix[off+3] = 0xff
		}
	}
	return img
}

// EncodeDataURL serializes the shard as a data-URL PNG of its upscaled
// bitmap, the layout the persistence schema requires.
func (s *Shard) EncodeDataURL() (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, s.Upscaled()); err != nil {
		return "", fmt.Errorf("encoding shard %s: %w", s.Key, err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeShardDataURL rebuilds a shard from its persisted data-URL PNG.
func DecodeShardDataURL(key canvas.ShardKey, dataURL string) (*Shard, error) {
	idx := strings.Index(dataURL, ",")
	if idx < 0 || !strings.HasPrefix(dataURL, "data:image/") {
		return nil, fmt.Errorf("shard %s: not a data URL", key)
	}
	raw, err := base64.StdEncoding.DecodeString(dataURL[idx+1:])
	if err != nil {
		return nil, fmt.Errorf("shard %s: %w", key, err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding shard %s: %w", key, err)
	}

	k := canvas.Upscale
	b := img.Bounds()
	if b.Dx()%k != 0 || b.Dy()%k != 0 {
		return nil, fmt.Errorf("shard %s: dimensions %dx%d not a multiple of %d", key, b.Dx(), b.Dy(), k)
	}
	s := NewShard(key, b.Dx()/k, b.Dy()/k)
	for y := 0; y < s.H; y++ {
		for x := 0; x < s.W; x++ {
			c := img.At(b.Min.X+x*k+k/2, b.Min.Y+y*k+k/2)
			s.Set(x, y, palette.NearestColor(c))
		}
	}
	return s, nil
}
