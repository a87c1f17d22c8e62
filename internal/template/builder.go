package template

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	// Source images arrive in whatever format the user uploaded.
	_ "image/gif"
	_ "image/jpeg"

	xdraw "golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/penandalokasi/skirkmarble/internal/palette"
	"github.com/penandalokasi/skirkmarble/pkg/canvas"
)

// Ingestion failures. No template state mutates when these are returned.
var (
	ErrMalformedImage   = errors.New("template: malformed image")
	ErrAnchorOutOfRange = errors.New("template: anchor pixel outside its tile")
	ErrTemplateTooLarge = errors.New("template: too many pixels")
)

// DefaultMaxPixels bounds the opaque pixel count of one template.
const DefaultMaxPixels = 4_000_000

// thumbnailMax is the thumbnail's longest side.
const thumbnailMax = 64

// built is the outcome of ingesting one image: everything a Template needs
// except its identity.
type built struct {
	anchor          canvas.Point
	imageW, imageH  int
	shards          map[canvas.ShardKey]*Shard
	pixelCount      int
	validPixelCount int
	thumbnail       []byte
}

// build decodes, quantizes, and splits a source image into shards.
// Deterministic: the same bytes and anchor always produce identical shards.
func build(imageBytes []byte, anchor canvas.Point, maxPixels int) (*built, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if !anchor.Valid() {
		return nil, fmt.Errorf("%w: (%d,%d)", ErrAnchorOutOfRange, anchor.Px, anchor.Py)
	}

	src, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedImage, err)
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: zero dimensions", ErrMalformedImage)
	}

	// Quantize once. quant[y*w+x] is the palette ID of each source pixel;
	// the compositing hot path never touches the palette again.
	quant := make([]uint8, w*h)
	pixelCount := 0
	validPixelCount := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bb, a := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			a8 := uint8(a >> 8)
			if a8 >= palette.OpacityThreshold {
				pixelCount++
			}
			id := palette.Nearest(uint8(r>>8), uint8(g>>8), uint8(bb>>8), a8)
			if id != palette.Transparent {
				validPixelCount++
			}
			quant[y*w+x] = uint8(id)
		}
	}
	if pixelCount > maxPixels {
		return nil, fmt.Errorf("%w: %d opaque pixels (limit %d)", ErrTemplateTooLarge, pixelCount, maxPixels)
	}

	shards := splitShards(quant, w, h, anchor)
	thumb, err := thumbnail(quant, w, h)
	if err != nil {
		return nil, err
	}

	return &built{
		anchor:          anchor,
		imageW:          w,
		imageH:          h,
		shards:          shards,
		pixelCount:      pixelCount,
		validPixelCount: validPixelCount,
		thumbnail:       thumb,
	}, nil
}

// splitShards slices the quantized image along tile boundaries. Every
// non-empty tile intersection becomes one shard; empty slices are dropped.
func splitShards(quant []uint8, w, h int, anchor canvas.Point) map[canvas.ShardKey]*Shard {
	gx0, gy0 := anchor.GlobalX(), anchor.GlobalY()
	first := canvas.FromGlobal(gx0, gy0)
	last := canvas.FromGlobal(gx0+w-1, gy0+h-1)

	shards := make(map[canvas.ShardKey]*Shard)
	for ty := first.Ty; ty <= last.Ty; ty++ {
		for tx := first.Tx; tx <= last.Tx; tx++ {
			// Intersection of the image with this tile, in global coords.
			x0 := max(gx0, tx*canvas.TileSize)
			y0 := max(gy0, ty*canvas.TileSize)
			x1 := min(gx0+w, (tx+1)*canvas.TileSize)
			y1 := min(gy0+h, (ty+1)*canvas.TileSize)
			if x1 <= x0 || y1 <= y0 {
				continue
			}

			key := canvas.ShardKey{
				Tx: tx, Ty: ty,
				Px: x0 - tx*canvas.TileSize,
				Py: y0 - ty*canvas.TileSize,
			}
			s := NewShard(key, x1-x0, y1-y0)
			for y := y0; y < y1; y++ {
				srcRow := (y - gy0) * w
				dstRow := (y - y0) * s.W
				for x := x0; x < x1; x++ {
					s.Pix[dstRow+(x-x0)] = quant[srcRow+(x-gx0)]
				}
			}
			if !s.Empty() {
				shards[key] = s
			}
		}
	}
	return shards
}

// thumbnail renders the quantized image and downscales it to fit
// thumbnailMax, nearest-neighbor so palette colors stay exact.
func thumbnail(quant []uint8, w, h int) ([]byte, error) {
	full := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			id := quant[y*w+x]
			if id == palette.Transparent {
				continue
			}
			e := palette.Lookup(int(id))
			off := full.PixOffset(x, y)
			full.Pix[off+0] = e.R
			full.Pix[off+1] = e.G
			full.Pix[off+2] = e.B
			full.Pix[off+3] = 0xff
		}
	}

	tw, th := w, h
	if longest := max(w, h); longest > thumbnailMax {
		tw = max(1, w*thumbnailMax/longest)
		th = max(1, h*thumbnailMax/longest)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, tw, th))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), full, full.Bounds(), xdraw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encoding thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
