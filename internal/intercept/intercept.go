// Package intercept substitutes composited tiles into HTTP traffic.
//
// The Transport wraps an http.RoundTripper. Tile image responses are
// re-rendered through the engine before they reach the caller; everything
// else passes through untouched. Write requests against the canvas raise
// invalidation events.
package intercept

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/penandalokasi/skirkmarble/internal/events"
	"github.com/penandalokasi/skirkmarble/pkg/canvas"
)

// Renderer composites a site tile. On any error the original response is
// forwarded; the renderer owns its own deadline policy.
type Renderer interface {
	RenderTile(ctx context.Context, tile canvas.Tile, siteTile []byte) ([]byte, error)
}

// Profile describes one deployment's URL shapes.
type Profile struct {
	// TilePattern matches tile image URLs. Capture groups named x and y
	// carry the tile coordinates; unnamed groups 1 and 2 are the
	// fallback.
	TilePattern string `yaml:"tile_pattern"`
	// WritePattern matches canvas write endpoints hit with PUT or POST.
	// Optional groups x, y, px, py locate the write.
	WritePattern string `yaml:"write_pattern"`
	// DenyHosts lists base-map providers whose tiles are never touched.
	DenyHosts []string `yaml:"deny_hosts"`
}

// Transport is an http.RoundTripper decorator. Safe for concurrent use.
type Transport struct {
	base     http.RoundTripper
	renderer Renderer
	bus      *events.Bus
	log      *zap.Logger

	tileRe  *regexp.Regexp
	writeRe *regexp.Regexp
	deny    []string
}

// NewTransport compiles the profile and wraps base. A nil base means
// http.DefaultTransport.
func NewTransport(base http.RoundTripper, renderer Renderer, profile Profile, bus *events.Bus, log *zap.Logger) (*Transport, error) {
	if base == nil {
		base = http.DefaultTransport
	}
	if log == nil {
		log = zap.NewNop()
	}
	tileRe, err := regexp.Compile(profile.TilePattern)
	if err != nil {
		return nil, fmt.Errorf("compiling tile pattern: %w", err)
	}
	var writeRe *regexp.Regexp
	if profile.WritePattern != "" {
		if writeRe, err = regexp.Compile(profile.WritePattern); err != nil {
			return nil, fmt.Errorf("compiling write pattern: %w", err)
		}
	}
	return &Transport{
		base:     base,
		renderer: renderer,
		bus:      bus,
		log:      log,
		tileRe:   tileRe,
		writeRe:  writeRe,
		deny:     profile.DenyHosts,
	}, nil
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	if req.Method == http.MethodPut || req.Method == http.MethodPost {
		t.observeWrite(req)
		return resp, nil
	}

	tile, ok := t.matchTile(req)
	if !ok || resp.StatusCode != http.StatusOK || !isImage(resp) {
		return resp, nil
	}

	original, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading tile body for %s: %w", tile, err)
	}

	body := original
	if rendered, err := t.renderer.RenderTile(req.Context(), tile, original); err != nil {
		t.log.Debug("forwarding original tile", zap.Stringer("tile", tile), zap.Error(err))
	} else if rendered != nil {
		body = rendered
	}

	// Status and headers survive; only Content-Length tracks the new
	// body.
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Del("Content-Length")
	return resp, nil
}

// matchTile reports whether the request is for a renderable tile and
// extracts its coordinates.
func (t *Transport) matchTile(req *http.Request) (canvas.Tile, bool) {
	host := req.URL.Hostname()
	for _, d := range t.deny {
		if host == d || strings.HasSuffix(host, "."+d) {
			return canvas.Tile{}, false
		}
	}
	x, y, ok := extractXY(t.tileRe, req.URL.Path)
	if !ok {
		return canvas.Tile{}, false
	}
	return canvas.Tile{X: x, Y: y}, true
}

// observeWrite publishes a canvas-change event for a write request, with
// coordinates when the URL carries them.
func (t *Transport) observeWrite(req *http.Request) {
	if t.bus == nil || t.writeRe == nil {
		return
	}
	m := t.writeRe.FindStringSubmatch(req.URL.Path)
	if m == nil {
		return
	}
	ev := events.CanvasChanged{Source: "canvas-change"}
	if x, y, ok := namedXY(t.writeRe, m); ok {
		pt := canvas.Point{Tx: x, Ty: y}
		if px, ok := namedInt(t.writeRe, m, "px"); ok {
			pt.Px = px
		}
		if py, ok := namedInt(t.writeRe, m, "py"); ok {
			pt.Py = py
		}
		ev.Coords = &pt
	}
	t.bus.Publish(ev)
}

func isImage(resp *http.Response) bool {
	ct := resp.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "image/")
}

func extractXY(re *regexp.Regexp, path string) (x, y int, ok bool) {
	m := re.FindStringSubmatch(path)
	if m == nil {
		return 0, 0, false
	}
	return namedXY(re, m)
}

// namedXY resolves x and y from named groups, falling back to the first
// two unnamed groups.
func namedXY(re *regexp.Regexp, m []string) (x, y int, ok bool) {
	if x, ok = namedInt(re, m, "x"); ok {
		if y, ok = namedInt(re, m, "y"); ok {
			return x, y, true
		}
		return 0, 0, false
	}
	if len(m) < 3 {
		return 0, 0, false
	}
	var err error
	if x, err = strconv.Atoi(m[1]); err != nil {
		return 0, 0, false
	}
	if y, err = strconv.Atoi(m[2]); err != nil {
		return 0, 0, false
	}
	return x, y, true
}

func namedInt(re *regexp.Regexp, m []string, name string) (int, bool) {
	for i, n := range re.SubexpNames() {
		if n == name && i < len(m) && m[i] != "" {
			v, err := strconv.Atoi(m[i])
			return v, err == nil
		}
	}
	return 0, false
}
