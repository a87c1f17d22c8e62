// Package compositor renders template shards over freshly fetched site
// tiles.
//
// Rendering is a pure function of the site tile bytes, the template
// snapshots, and the settings snapshot: identical inputs produce
// byte-identical PNGs, which is what keeps the tile cache sound. The same
// pass counts progress, so statistics always agree with the delivered tile.
package compositor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sort"

	"go.uber.org/zap"

	"github.com/penandalokasi/skirkmarble/internal/cache"
	"github.com/penandalokasi/skirkmarble/internal/palette"
	"github.com/penandalokasi/skirkmarble/internal/progress"
	"github.com/penandalokasi/skirkmarble/internal/settings"
	"github.com/penandalokasi/skirkmarble/internal/template"
	"github.com/penandalokasi/skirkmarble/pkg/canvas"
)

// ErrSiteTileDecode means the site tile bytes were not a decodable image;
// the caller forwards the original response.
var ErrSiteTileDecode = errors.New("compositor: site tile decode failed")

// Error-map block colors.
var (
	errorMapPainted = [4]uint8{0, 255, 0, 255} // opaque green
	errorMapWrong   = [4]uint8{255, 0, 0, 255} // opaque red
	errorMapMissing = [4]uint8{255, 0, 0, 96}  // translucent red
	borderColor     = [4]uint8{0, 0, 0, 255}   // crosshair corner halo
)

// overlayCacheSize bounds the memoized enhancement masks.
const overlayCacheSize = 512

// Compositor renders tiles. Safe for concurrent use.
type Compositor struct {
	overlays *cache.LRU[overlayKey, []uint8]
	log      *zap.Logger
}

// New builds a Compositor.
func New(log *zap.Logger) *Compositor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Compositor{
		overlays: cache.New[overlayKey, []uint8](overlayCacheSize),
		log:      log,
	}
}

// Render composites every snapshot's shards for one tile over the site
// tile bytes and returns the upscaled PNG plus the tile's progress counts.
// Snapshots are rendered in ID order regardless of input order.
func (c *Compositor) Render(tile canvas.Tile, siteTile []byte, snaps []template.Snapshot, opts settings.Snapshot) ([]byte, *progress.TileStats, error) {
	site, err := decodeSite(siteTile)
	if err != nil {
		return nil, nil, err
	}
	w, h := site.Rect.Dx(), site.Rect.Dy()
	k := canvas.Upscale

	ordered := append([]template.Snapshot(nil), snaps...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	out := upscaleSite(site)
	stats := progress.NewTileStats()
	siteIDs := newSiteIndex(site)

	for _, snap := range ordered {
		if !snap.Enabled {
			continue
		}
		for _, shard := range snap.ShardsInTile(tile) {
			c.renderShard(out, site, siteIDs, tile, shard, snap, opts, stats, w, h, k)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, nil, fmt.Errorf("encoding composited tile %s: %w", tile, err)
	}
	return buf.Bytes(), stats, nil
}

// Analyze runs only the progress half of a render, for callers that need
// statistics without the PNG.
func (c *Compositor) Analyze(tile canvas.Tile, siteTile []byte, snaps []template.Snapshot) (*progress.TileStats, error) {
	site, err := decodeSite(siteTile)
	if err != nil {
		return nil, err
	}
	w, h := site.Rect.Dx(), site.Rect.Dy()

	stats := progress.NewTileStats()
	siteIDs := newSiteIndex(site)
	for _, snap := range snaps {
		if !snap.Enabled {
			continue
		}
		for _, shard := range snap.ShardsInTile(tile) {
			countShard(siteIDs, tile, shard, stats, w, h)
		}
	}
	return stats, nil
}

// renderShard draws one shard and counts its progress in a single pass.
func (c *Compositor) renderShard(out, site *image.NRGBA, siteIDs *siteIndex, tile canvas.Tile, shard *template.Shard, snap template.Snapshot, opts settings.Snapshot, stats *progress.TileStats, w, h, k int) {
	key := shard.Key
	for v := 0; v < shard.H; v++ {
		sy := key.Py + v
		if sy < 0 || sy >= h {
			continue
		}
		for u := 0; u < shard.W; u++ {
			p := shard.At(u, v)
			if p == palette.Transparent {
				continue
			}
			sx := key.Px + u
			if sx < 0 || sx >= w {
				continue
			}

			q := siteIDs.at(sx, sy)
			countPixel(stats, tile, p, q, sx, sy)

			if snap.Disabled.Has(p) {
				continue // the site pixel shows through
			}

			if opts.ErrorMap {
				var block [4]uint8
				switch {
				case q == p:
					block = errorMapPainted
				case q != palette.Transparent:
					block = errorMapWrong
				default:
					block = errorMapMissing
				}
				fillBlock(out, sx*k, sy*k, k, block)
				continue
			}

			// Center pixel carries the quantized palette color.
			e := palette.Lookup(p)
			setPixel(out, sx*k+k/2, sy*k+k/2, [4]uint8{e.R, e.G, e.B, 0xff})

			if opts.EnhanceWrongColors && q != p && q != palette.Transparent {
				drawCrosshair(out, sx*k+k/2, sy*k+k/2, opts)
			}
		}
	}

	// Enhanced-color crosshairs come from the memoized mask; the mask is
	// site-independent so it survives across renders of the same shard.
	if !opts.ErrorMap {
		if mask := c.enhancementMask(shard, snap, opts); mask != nil {
			applyMask(out, mask, shard, opts)
		}
	}
}

// countShard is the progress-only inner loop.
func countShard(siteIDs *siteIndex, tile canvas.Tile, shard *template.Shard, stats *progress.TileStats, w, h int) {
	key := shard.Key
	for v := 0; v < shard.H; v++ {
		sy := key.Py + v
		if sy < 0 || sy >= h {
			continue
		}
		for u := 0; u < shard.W; u++ {
			p := shard.At(u, v)
			if p == palette.Transparent {
				continue
			}
			sx := key.Px + u
			if sx < 0 || sx >= w {
				continue
			}
			countPixel(stats, tile, p, siteIDs.at(sx, sy), sx, sy)
		}
	}
}

func countPixel(stats *progress.TileStats, tile canvas.Tile, p, q, sx, sy int) {
	stats.CountRequired(p)
	switch {
	case q == p:
		stats.CountPainted(p)
	case q != palette.Transparent:
		stats.CountWrong(p, canvas.Point{Tx: tile.X, Ty: tile.Y, Px: sx, Py: sy})
	}
}

// drawCrosshair paints arms around an already painted center. Arm length
// is radius-1 outward in the four cardinal directions; pixels are written,
// not blended, and clamp at the buffer edge.
func drawCrosshair(out *image.NRGBA, cx, cy int, opts settings.Snapshot) {
	r := canvas.Upscale / 2
	if opts.EnhancedSize {
		r = opts.EnhancedRadius
	}
	cc := opts.CrosshairColor
	arm := [4]uint8{cc.R, cc.G, cc.B, cc.A}

	for d := 1; d <= r-1; d++ {
		setPixel(out, cx+d, cy, arm)
		setPixel(out, cx-d, cy, arm)
		setPixel(out, cx, cy+d, arm)
		setPixel(out, cx, cy-d, arm)
	}

	if opts.Borders {
		// Corner halo: diagonals at distance 1 for the small cross, the
		// bounding-box corners for an extended one.
		d := 1
		if r > canvas.Upscale/2 {
			d = r - 1
		}
		setPixel(out, cx+d, cy+d, borderColor)
		setPixel(out, cx-d, cy+d, borderColor)
		setPixel(out, cx+d, cy-d, borderColor)
		setPixel(out, cx-d, cy-d, borderColor)
	}
}

// decodeSite decodes site tile bytes into NRGBA.
func decodeSite(siteTile []byte) (*image.NRGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(siteTile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSiteTileDecode, err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: zero dimensions", ErrSiteTileDecode)
	}
	if n, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) {
		return n, nil
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst, nil
}

// upscaleSite expands every site pixel into a k x k block.
func upscaleSite(site *image.NRGBA) *image.NRGBA {
	k := canvas.Upscale
	w, h := site.Rect.Dx(), site.Rect.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w*k, h*k))
	for y := 0; y < h; y++ {
		srcRow := site.PixOffset(0, y)
		for x := 0; x < w; x++ {
			o := srcRow + x*4
			r, g, b, a := site.Pix[o], site.Pix[o+1], site.Pix[o+2], site.Pix[o+3]
			for dy := 0; dy < k; dy++ {
				dst := out.PixOffset(x*k, y*k+dy)
				for dx := 0; dx < k; dx++ {
					out.Pix[dst+0] = r
					out.Pix[dst+1] = g
					out.Pix[dst+2] = b
					out.Pix[dst+3] = a
					dst += 4
				}
			}
		}
	}
	return out
}

// siteIndex memoizes palette lookups for site pixels; most of a tile is
// never under a shard, so IDs resolve lazily.
type siteIndex struct {
	site *image.NRGBA
	ids  []uint8 // palette ID + 1; 0 means not yet computed
	w    int
}

func newSiteIndex(site *image.NRGBA) *siteIndex {
	w, h := site.Rect.Dx(), site.Rect.Dy()
	return &siteIndex{site: site, ids: make([]uint8, w*h), w: w}
}

func (s *siteIndex) at(x, y int) int {
	i := y*s.w + x
	if v := s.ids[i]; v != 0 {
		return int(v) - 1
	}
	o := s.site.PixOffset(x, y)
	id := palette.Nearest(s.site.Pix[o], s.site.Pix[o+1], s.site.Pix[o+2], s.site.Pix[o+3])
	s.ids[i] = uint8(id) + 1
	return id
}

func fillBlock(out *image.NRGBA, x0, y0, k int, c [4]uint8) {
	for dy := 0; dy < k; dy++ {
		dst := out.PixOffset(x0, y0+dy)
		for dx := 0; dx < k; dx++ {
			out.Pix[dst+0] = c[0]
			out.Pix[dst+1] = c[1]
			out.Pix[dst+2] = c[2]
			out.Pix[dst+3] = c[3]
			dst += 4
		}
	}
}

func setPixel(out *image.NRGBA, x, y int, c [4]uint8) {
	if x < 0 || y < 0 || x >= out.Rect.Dx() || y >= out.Rect.Dy() {
		return
	}
	o := out.PixOffset(x, y)
	out.Pix[o+0] = c[0]
	out.Pix[o+1] = c[1]
	out.Pix[o+2] = c[2]
	out.Pix[o+3] = c[3]
}
