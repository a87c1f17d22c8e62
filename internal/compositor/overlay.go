package compositor

import (
	"image"

	"github.com/penandalokasi/skirkmarble/internal/settings"
	"github.com/penandalokasi/skirkmarble/internal/template"
	"github.com/penandalokasi/skirkmarble/pkg/canvas"
)

// Mask cell values.
const (
	maskNone   = 0
	maskArm    = 1
	maskBorder = 2
)

// overlayKey identifies one memoized enhancement mask. Shard bitmaps are
// immutable after ingestion, so the pointer is a stable identity.
type overlayKey struct {
	shard    *template.Shard
	enhanced template.ColorSet
	disabled template.ColorSet
	radius   int
	extended bool
	borders  bool
}

// enhancementMask returns the cached crosshair mask for a shard's enhanced
// colors, or nil when nothing in the shard is enhanced. The mask covers
// the upscaled shard plus a margin so arms can spill past the shard's
// bounding box; overlayMargin reports that margin for the given options.
func (c *Compositor) enhancementMask(shard *template.Shard, snap template.Snapshot, opts settings.Snapshot) []uint8 {
	if snap.Enhanced == 0 {
		return nil
	}
	key := overlayKey{
		shard:    shard,
		enhanced: snap.Enhanced,
		disabled: snap.Disabled,
		radius:   opts.EnhancedRadius,
		extended: opts.EnhancedSize,
		borders:  opts.Borders,
	}
	if mask, ok := c.overlays.Get(key); ok {
		return mask
	}
	mask := buildMask(shard, snap, opts)
	c.overlays.Set(key, mask)
	return mask
}

// overlayMargin is the mask padding in output pixels: the farthest a
// crosshair pixel can sit from its center.
func overlayMargin(opts settings.Snapshot) int {
	r := canvas.Upscale / 2
	if opts.EnhancedSize {
		r = opts.EnhancedRadius
	}
	if r < 2 {
		// The small cross has no arms, but its border halo sits at
		// distance 1.
		return 1
	}
	return r - 1
}

// buildMask rasterizes arms and border halos for every enhanced,
// non-disabled pixel of the shard. The mask may be nil-equivalent (all
// zero) when every enhanced color is also disabled.
func buildMask(shard *template.Shard, snap template.Snapshot, opts settings.Snapshot) []uint8 {
	k := canvas.Upscale
	margin := overlayMargin(opts)
	mw := shard.W*k + 2*margin
	mh := shard.H*k + 2*margin
	mask := make([]uint8, mw*mh)

	r := k / 2
	if opts.EnhancedSize {
		r = opts.EnhancedRadius
	}

	set := func(x, y int, v uint8) {
		if x < 0 || y < 0 || x >= mw || y >= mh {
			return
		}
		mask[y*mw+x] = v
	}

	for v := 0; v < shard.H; v++ {
		for u := 0; u < shard.W; u++ {
			p := shard.At(u, v)
			if p == 0 || !snap.Enhanced.Has(p) || snap.Disabled.Has(p) {
				continue
			}
			cx := margin + u*k + k/2
			cy := margin + v*k + k/2
			for d := 1; d <= r-1; d++ {
				set(cx+d, cy, maskArm)
				set(cx-d, cy, maskArm)
				set(cx, cy+d, maskArm)
				set(cx, cy-d, maskArm)
			}
			if opts.Borders {
				d := 1
				if r > k/2 {
					d = r - 1
				}
				set(cx+d, cy+d, maskBorder)
				set(cx-d, cy+d, maskBorder)
				set(cx+d, cy-d, maskBorder)
				set(cx-d, cy-d, maskBorder)
			}
		}
	}
	return mask
}

// applyMask writes the mask's arm and border pixels into the output,
// clamped to the buffer; arms never wrap into a neighboring tile.
func applyMask(out *image.NRGBA, mask []uint8, shard *template.Shard, opts settings.Snapshot) {
	k := canvas.Upscale
	margin := overlayMargin(opts)
	mw := shard.W*k + 2*margin
	mh := shard.H*k + 2*margin

	cc := opts.CrosshairColor
	arm := [4]uint8{cc.R, cc.G, cc.B, cc.A}

	x0 := shard.Key.Px*k - margin
	y0 := shard.Key.Py*k - margin
	for my := 0; my < mh; my++ {
		row := my * mw
		for mx := 0; mx < mw; mx++ {
			switch mask[row+mx] {
			case maskArm:
				setPixel(out, x0+mx, y0+my, arm)
			case maskBorder:
				setPixel(out, x0+mx, y0+my, borderColor)
			}
		}
	}
}
