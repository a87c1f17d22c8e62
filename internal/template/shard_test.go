package template

import (
	"testing"

	"github.com/penandalokasi/skirkmarble/internal/palette"
	"github.com/penandalokasi/skirkmarble/pkg/canvas"
)

func TestShardUpscaledCenters(t *testing.T) {
	key := canvas.ShardKey{Tx: 0, Ty: 0, Px: 0, Py: 0}
	s := NewShard(key, 2, 1)
	s.Set(0, 0, 7)

	img := s.Upscaled()
	if img.Bounds().Dx() != 6 || img.Bounds().Dy() != 3 {
		t.Fatalf("upscaled bounds %v", img.Bounds())
	}

	// Only the center of the first 3x3 block is opaque.
	for y := 0; y < 3; y++ {
		for x := 0; x < 6; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			opaque := a != 0
			wantOpaque := x == 1 && y == 1
			if opaque != wantOpaque {
				t.Errorf("pixel (%d,%d) opaque=%v, want %v", x, y, opaque, wantOpaque)
			}
		}
	}

	r, g, b, _ := img.At(1, 1).RGBA()
	e := palette.Lookup(7)
	if uint8(r>>8) != e.R || uint8(g>>8) != e.G || uint8(b>>8) != e.B {
		t.Error("center pixel does not carry the palette color")
	}
}

func TestShardDataURLRoundTrip(t *testing.T) {
	key := canvas.ShardKey{Tx: 3, Ty: 4, Px: 10, Py: 20}
	s := NewShard(key, 5, 4)
	s.Set(0, 0, 1)
	s.Set(4, 3, 19)
	s.Set(2, 2, 63)

	dataURL, err := s.EncodeDataURL()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	back, err := DecodeShardDataURL(key, dataURL)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if back.W != s.W || back.H != s.H {
		t.Fatalf("dims %dx%d, want %dx%d", back.W, back.H, s.W, s.H)
	}
	for y := 0; y < s.H; y++ {
		for x := 0; x < s.W; x++ {
			if back.At(x, y) != s.At(x, y) {
				t.Errorf("pixel (%d,%d) = %d, want %d", x, y, back.At(x, y), s.At(x, y))
			}
		}
	}
}

func TestDecodeShardRejectsJunk(t *testing.T) {
	key := canvas.ShardKey{}
	if _, err := DecodeShardDataURL(key, "nonsense"); err == nil {
		t.Error("expected error for a non data-URL")
	}
	if _, err := DecodeShardDataURL(key, "data:image/png;base64,!!!"); err == nil {
		t.Error("expected error for bad base64")
	}
}

func TestShardAtOutOfBounds(t *testing.T) {
	s := NewShard(canvas.ShardKey{}, 2, 2)
	if s.At(-1, 0) != palette.Transparent || s.At(0, 2) != palette.Transparent {
		t.Error("out-of-bounds reads should be transparent")
	}
}
