package compositor

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/penandalokasi/skirkmarble/internal/palette"
	"github.com/penandalokasi/skirkmarble/internal/settings"
	"github.com/penandalokasi/skirkmarble/internal/template"
	"github.com/penandalokasi/skirkmarble/pkg/canvas"
)

func paletteNRGBA(id int) color.NRGBA {
	e := palette.Lookup(id)
	return color.NRGBA{R: e.R, G: e.G, B: e.B, A: 255}
}

// siteTile builds a PNG site tile of the given size with specific palette
// pixels set; everything else is transparent.
func siteTile(t *testing.T, w, h int, pixels map[[2]int]int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for pos, id := range pixels {
		img.SetNRGBA(pos[0], pos[1], paletteNRGBA(id))
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding site tile: %v", err)
	}
	return buf.Bytes()
}

// makeTemplate ingests a solid-colored image and returns its snapshot plus
// the store for further edits.
func makeTemplate(t *testing.T, w, h, paletteID int, anchor canvas.Point) (*template.Store, *template.Template) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, paletteNRGBA(paletteID))
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	store := template.NewStore(nil, nil, nil)
	tpl, err := store.CreateFromImage(buf.Bytes(), "test", anchor)
	if err != nil {
		t.Fatalf("ingesting template: %v", err)
	}
	return store, tpl
}

func decodeOut(t *testing.T, data []byte) *image.NRGBA {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	out := image.NewNRGBA(img.Bounds())
	for y := out.Rect.Min.Y; y < out.Rect.Max.Y; y++ {
		for x := out.Rect.Min.X; x < out.Rect.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out
}

func nrgbaAt(img *image.NRGBA, x, y int) color.NRGBA {
	return img.NRGBAAt(x, y)
}

func TestExactMatch(t *testing.T) {
	// A 2x2 red template over a site that already has red everywhere it
	// should: everything painted, nothing wrong.
	anchor := canvas.Point{Tx: 100, Ty: 100, Px: 500, Py: 500}
	_, tpl := makeTemplate(t, 2, 2, 7, anchor)
	tile := canvas.Tile{X: 100, Y: 100}

	site := siteTile(t, 1000, 1000, map[[2]int]int{
		{500, 500}: 7, {501, 500}: 7, {500, 501}: 7, {501, 501}: 7,
	})

	c := New(nil)
	out, stats, err := c.Render(tile, site, []template.Snapshot{tpl.Snapshot()}, settings.Default())
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if stats.Required != 4 || stats.Painted != 4 || stats.Wrong != 0 {
		t.Errorf("stats = %d/%d/%d, want 4/4/0", stats.Required, stats.Painted, stats.Wrong)
	}

	img := decodeOut(t, out)
	if img.Bounds().Dx() != 3000 || img.Bounds().Dy() != 3000 {
		t.Errorf("output bounds %v, want 3000x3000", img.Bounds())
	}
	if got := nrgbaAt(img, 500*3+1, 500*3+1); got != paletteNRGBA(7) {
		t.Errorf("center pixel = %+v, want red", got)
	}
}

func TestSingleWrongPixel(t *testing.T) {
	anchor := canvas.Point{Tx: 100, Ty: 100, Px: 500, Py: 500}
	_, tpl := makeTemplate(t, 2, 2, 7, anchor)
	tile := canvas.Tile{X: 100, Y: 100}

	site := siteTile(t, 1000, 1000, map[[2]int]int{
		{500, 500}: 19, // Blue where red is required
		{501, 500}: 7, {500, 501}: 7, {501, 501}: 7,
	})

	c := New(nil)
	_, stats, err := c.Render(tile, site, []template.Snapshot{tpl.Snapshot()}, settings.Default())
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if stats.Painted != 3 || stats.Wrong != 1 {
		t.Errorf("painted/wrong = %d/%d, want 3/1", stats.Painted, stats.Wrong)
	}
	fw := stats.Colors[7].FirstWrong
	if fw == nil || fw.Px != 500 || fw.Py != 500 {
		t.Errorf("firstWrong = %v, want (500,500)", fw)
	}
}

func TestDisabledColorShowsSiteThrough(t *testing.T) {
	anchor := canvas.Point{Tx: 0, Ty: 0, Px: 2, Py: 2}
	store, tpl := makeTemplate(t, 2, 2, 7, anchor)
	if err := store.DisableColor(tpl.ID(), 7); err != nil {
		t.Fatal(err)
	}
	tile := canvas.Tile{X: 0, Y: 0}

	site := siteTile(t, 10, 10, map[[2]int]int{{2, 2}: 19})

	c := New(nil)
	out, stats, err := c.Render(tile, site, []template.Snapshot{tpl.Snapshot()}, settings.Default())
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	// Required counting is unaffected by the disabled set.
	if stats.Required != 4 {
		t.Errorf("required = %d, want 4", stats.Required)
	}

	// The whole template area equals the plain upscaled site.
	img := decodeOut(t, out)
	for y := 6; y < 12; y++ {
		for x := 6; x < 12; x++ {
			want := color.NRGBA{}
			if x/3 == 2 && y/3 == 2 {
				want = paletteNRGBA(19)
			}
			if got := nrgbaAt(img, x, y); got != want {
				t.Fatalf("pixel (%d,%d) = %+v, want site content %+v", x, y, got, want)
			}
		}
	}
}

func TestDeterminism(t *testing.T) {
	anchor := canvas.Point{Tx: 0, Ty: 0, Px: 1, Py: 1}
	store, tpl := makeTemplate(t, 3, 3, 7, anchor)
	if err := store.SetEnhanced(tpl.ID(), 7, true); err != nil {
		t.Fatal(err)
	}
	tile := canvas.Tile{X: 0, Y: 0}
	site := siteTile(t, 8, 8, map[[2]int]int{{1, 1}: 7, {2, 2}: 19})

	opts := settings.Default()
	opts.EnhancedSize = true
	opts.EnhancedRadius = 14
	opts.Borders = true
	opts.EnhanceWrongColors = true

	c := New(nil)
	a, _, err := c.Render(tile, site, []template.Snapshot{tpl.Snapshot()}, opts)
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := c.Render(tile, site, []template.Snapshot{tpl.Snapshot()}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("two renders of identical inputs differ")
	}
}

func TestErrorMapBlocks(t *testing.T) {
	anchor := canvas.Point{Tx: 0, Ty: 0, Px: 1, Py: 1}
	_, tpl := makeTemplate(t, 3, 1, 7, anchor)
	tile := canvas.Tile{X: 0, Y: 0}

	// First pixel painted, second wrong, third missing.
	site := siteTile(t, 8, 8, map[[2]int]int{{1, 1}: 7, {2, 1}: 19})

	opts := settings.Default()
	opts.ErrorMap = true
	opts.EnhanceWrongColors = true // must be ignored in error-map mode

	c := New(nil)
	out, _, err := c.Render(tile, site, []template.Snapshot{tpl.Snapshot()}, opts)
	if err != nil {
		t.Fatal(err)
	}
	img := decodeOut(t, out)

	// Whole 3x3 block, not just the center.
	for _, check := range []struct {
		sx, sy int
		want   color.NRGBA
	}{
		{1, 1, color.NRGBA{G: 255, A: 255}},
		{2, 1, color.NRGBA{R: 255, A: 255}},
		{3, 1, color.NRGBA{R: 255, A: 96}},
	} {
		for dy := 0; dy < 3; dy++ {
			for dx := 0; dx < 3; dx++ {
				got := nrgbaAt(img, check.sx*3+dx, check.sy*3+dy)
				if got != check.want {
					t.Fatalf("error-map block (%d,%d)+(%d,%d) = %+v, want %+v",
						check.sx, check.sy, dx, dy, got, check.want)
				}
			}
		}
	}
}

func TestEnhancedCrosshairArms(t *testing.T) {
	anchor := canvas.Point{Tx: 0, Ty: 0, Px: 5, Py: 5}
	store, tpl := makeTemplate(t, 1, 1, 7, anchor)
	if err := store.SetEnhanced(tpl.ID(), 7, true); err != nil {
		t.Fatal(err)
	}
	tile := canvas.Tile{X: 0, Y: 0}
	site := siteTile(t, 12, 12, nil)

	opts := settings.Default()
	opts.EnhancedSize = true
	opts.EnhancedRadius = 12
	opts.CrosshairColor = settings.Color{R: 255, A: 200}

	c := New(nil)
	out, _, err := c.Render(tile, site, []template.Snapshot{tpl.Snapshot()}, opts)
	if err != nil {
		t.Fatal(err)
	}
	img := decodeOut(t, out)

	cx, cy := 5*3+1, 5*3+1
	arm := color.NRGBA{R: 255, A: 200}
	if got := nrgbaAt(img, cx, cy); got != paletteNRGBA(7) {
		t.Errorf("center = %+v, want the palette color", got)
	}
	for _, d := range []int{1, 5, 11} {
		if got := nrgbaAt(img, cx+d, cy); got != arm {
			t.Errorf("arm pixel at +%d = %+v, want crosshair color", d, got)
		}
		if got := nrgbaAt(img, cx, cy-d); got != arm {
			t.Errorf("arm pixel at -%d = %+v, want crosshair color", d, got)
		}
	}
	// Off-cross pixels untouched.
	if got := nrgbaAt(img, cx+2, cy+2); got != (color.NRGBA{}) {
		t.Errorf("diagonal pixel = %+v, want untouched", got)
	}
}

func TestCrosshairTruncatesAtTileEdge(t *testing.T) {
	// Template pixel at the very corner: arms clamp, never wrap.
	anchor := canvas.Point{Tx: 0, Ty: 0, Px: 0, Py: 0}
	store, tpl := makeTemplate(t, 1, 1, 7, anchor)
	if err := store.SetEnhanced(tpl.ID(), 7, true); err != nil {
		t.Fatal(err)
	}
	tile := canvas.Tile{X: 0, Y: 0}
	site := siteTile(t, 4, 4, nil)

	opts := settings.Default()
	opts.EnhancedSize = true
	opts.EnhancedRadius = 32

	c := New(nil)
	out, _, err := c.Render(tile, site, []template.Snapshot{tpl.Snapshot()}, opts)
	if err != nil {
		t.Fatal(err)
	}
	img := decodeOut(t, out)

	// The right edge of the arm is clamped inside the 12x12 output; the
	// right-most row pixel on the arm line is crosshair colored.
	cc := settings.Default().CrosshairColor
	arm := color.NRGBA{R: cc.R, G: cc.G, B: cc.B, A: cc.A}
	if got := nrgbaAt(img, 11, 1); got != arm {
		t.Errorf("clamped arm pixel = %+v, want crosshair color", got)
	}
}

func TestBordersChangeBytes(t *testing.T) {
	anchor := canvas.Point{Tx: 0, Ty: 0, Px: 2, Py: 2}
	store, tpl := makeTemplate(t, 1, 1, 7, anchor)
	if err := store.SetEnhanced(tpl.ID(), 7, true); err != nil {
		t.Fatal(err)
	}
	tile := canvas.Tile{X: 0, Y: 0}
	site := siteTile(t, 6, 6, nil)

	c := New(nil)
	plain, _, err := c.Render(tile, site, []template.Snapshot{tpl.Snapshot()}, settings.Default())
	if err != nil {
		t.Fatal(err)
	}

	opts := settings.Default()
	opts.Borders = true
	bordered, _, err := c.Render(tile, site, []template.Snapshot{tpl.Snapshot()}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(plain, bordered) {
		t.Error("toggling borders must change output bytes")
	}

	// Corner halo at distance 1 from the center.
	img := decodeOut(t, bordered)
	if got := nrgbaAt(img, 2*3+1+1, 2*3+1+1); got != (color.NRGBA{A: 255}) {
		t.Errorf("border corner = %+v, want border color", got)
	}
}

func TestSiteDecodeFailure(t *testing.T) {
	c := New(nil)
	_, _, err := c.Render(canvas.Tile{}, []byte("junk"), nil, settings.Default())
	if !errors.Is(err, ErrSiteTileDecode) {
		t.Errorf("err = %v, want ErrSiteTileDecode", err)
	}
}

func TestAnalyzeMatchesRender(t *testing.T) {
	anchor := canvas.Point{Tx: 0, Ty: 0, Px: 1, Py: 1}
	_, tpl := makeTemplate(t, 3, 3, 7, anchor)
	tile := canvas.Tile{X: 0, Y: 0}
	site := siteTile(t, 8, 8, map[[2]int]int{{1, 1}: 7, {2, 2}: 19, {3, 3}: 7})

	c := New(nil)
	_, renderStats, err := c.Render(tile, site, []template.Snapshot{tpl.Snapshot()}, settings.Default())
	if err != nil {
		t.Fatal(err)
	}
	analyzeStats, err := c.Analyze(tile, site, []template.Snapshot{tpl.Snapshot()})
	if err != nil {
		t.Fatal(err)
	}

	if renderStats.Required != analyzeStats.Required ||
		renderStats.Painted != analyzeStats.Painted ||
		renderStats.Wrong != analyzeStats.Wrong {
		t.Errorf("Analyze %d/%d/%d != Render %d/%d/%d",
			analyzeStats.Required, analyzeStats.Painted, analyzeStats.Wrong,
			renderStats.Required, renderStats.Painted, renderStats.Wrong)
	}
}

func TestOverlayMaskMemoized(t *testing.T) {
	anchor := canvas.Point{Tx: 0, Ty: 0, Px: 1, Py: 1}
	store, tpl := makeTemplate(t, 2, 2, 7, anchor)
	if err := store.SetEnhanced(tpl.ID(), 7, true); err != nil {
		t.Fatal(err)
	}
	tile := canvas.Tile{X: 0, Y: 0}
	site := siteTile(t, 6, 6, nil)

	opts := settings.Default()
	opts.EnhancedSize = true
	opts.EnhancedRadius = 12

	c := New(nil)
	for i := 0; i < 3; i++ {
		if _, _, err := c.Render(tile, site, []template.Snapshot{tpl.Snapshot()}, opts); err != nil {
			t.Fatal(err)
		}
	}
	st := c.overlays.Stats()
	if st.Entries != 1 {
		t.Errorf("overlay cache entries = %d, want 1", st.Entries)
	}
	if st.Hits < 2 {
		t.Errorf("overlay cache hits = %d, want >= 2", st.Hits)
	}
}

func TestUpscalePreservesSiteOutsideTemplate(t *testing.T) {
	tile := canvas.Tile{X: 0, Y: 0}
	site := siteTile(t, 4, 4, map[[2]int]int{{0, 0}: 19})

	c := New(nil)
	out, stats, err := c.Render(tile, site, nil, settings.Default())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Required != 0 {
		t.Errorf("required = %d with no templates", stats.Required)
	}
	img := decodeOut(t, out)
	for dy := 0; dy < 3; dy++ {
		for dx := 0; dx < 3; dx++ {
			if got := nrgbaAt(img, dx, dy); got != paletteNRGBA(19) {
				t.Fatalf("upscaled block pixel (%d,%d) = %+v", dx, dy, got)
			}
		}
	}
}
