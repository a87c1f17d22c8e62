package tilecache

import (
	"fmt"
	"testing"

	"github.com/penandalokasi/skirkmarble/internal/events"
	"github.com/penandalokasi/skirkmarble/pkg/canvas"
)

func TestFingerprintMismatchIsMiss(t *testing.T) {
	c := New(nil)
	key := Key{Tile: canvas.Tile{X: 1, Y: 2}, Content: 10, Settings: 20}
	c.Put(key, []byte("blob"))

	if _, ok := c.Get(Key{Tile: key.Tile, Content: 10, Settings: 21}); ok {
		t.Error("settings mismatch must miss")
	}
	if _, ok := c.Get(Key{Tile: key.Tile, Content: 11, Settings: 20}); ok {
		t.Error("content mismatch must miss")
	}
	if got, ok := c.Get(key); !ok || string(got) != "blob" {
		t.Errorf("exact key = %q, %v", got, ok)
	}
}

func TestInvalidateByContentDropsAllHashes(t *testing.T) {
	c := New(nil)
	tile := canvas.Tile{X: 3, Y: 4}
	for i := uint64(0); i < 3; i++ {
		c.Put(Key{Tile: tile, Content: i, Settings: 9}, []byte{byte(i)})
	}
	c.Put(Key{Tile: canvas.Tile{X: 5, Y: 5}, Content: 0, Settings: 9}, []byte("keep"))

	c.InvalidateByContent(tile)

	for i := uint64(0); i < 3; i++ {
		if _, ok := c.Get(Key{Tile: tile, Content: i, Settings: 9}); ok {
			t.Errorf("entry with content hash %d survived", i)
		}
	}
	if _, ok := c.Get(Key{Tile: canvas.Tile{X: 5, Y: 5}, Content: 0, Settings: 9}); !ok {
		t.Error("unrelated tile dropped")
	}
}

func TestInvalidateByAreaHitsNeighbors(t *testing.T) {
	c := New(nil)
	for x := 0; x < 5; x++ {
		for y := 0; y < 5; y++ {
			c.Put(Key{Tile: canvas.Tile{X: x, Y: y}}, []byte("x"))
		}
	}

	c.InvalidateByArea(canvas.Point{Tx: 2, Ty: 2, Px: 999, Py: 0})

	for x := 0; x < 5; x++ {
		for y := 0; y < 5; y++ {
			_, ok := c.Get(Key{Tile: canvas.Tile{X: x, Y: y}})
			inArea := x >= 1 && x <= 3 && y >= 1 && y <= 3
			if inArea && ok {
				t.Errorf("tile (%d,%d) inside the area survived", x, y)
			}
			if !inArea && !ok {
				t.Errorf("tile (%d,%d) outside the area dropped", x, y)
			}
		}
	}
}

func TestLRUEvictionOrder(t *testing.T) {
	c := New(nil, WithMaxEntries(2))
	a := Key{Tile: canvas.Tile{X: 1}}
	b := Key{Tile: canvas.Tile{X: 2}}
	d := Key{Tile: canvas.Tile{X: 3}}

	c.Put(a, []byte("a"))
	c.Put(b, []byte("b"))
	c.Get(a) // a is now most recent
	c.Put(d, []byte("d"))

	if _, ok := c.Get(b); ok {
		t.Error("least recently used entry survived")
	}
	if _, ok := c.Get(a); !ok {
		t.Error("recently touched entry evicted")
	}
}

func TestByteBudgetEviction(t *testing.T) {
	c := New(nil, WithMaxEntries(100), WithByteBudget(10))
	big := make([]byte, 6)
	for i := 0; i < 3; i++ {
		c.Put(Key{Tile: canvas.Tile{X: i}}, big)
	}
	st := c.Stats()
	if st.Entries > 1 {
		t.Errorf("entries = %d, want the budget to hold one 6-byte blob", st.Entries)
	}
	if st.Evictions == 0 {
		t.Error("expected evictions under the byte budget")
	}
}

func TestBusInvalidation(t *testing.T) {
	bus := events.NewBus()
	c := New(nil)
	c.Attach(bus)

	fill := func() {
		for x := 0; x < 3; x++ {
			c.Put(Key{Tile: canvas.Tile{X: x, Y: 7}}, []byte("x"))
		}
	}
	count := func() int {
		n := 0
		for x := 0; x < 3; x++ {
			if _, ok := c.Get(Key{Tile: canvas.Tile{X: x, Y: 7}}); ok {
				n++
			}
		}
		return n
	}

	fill()
	bus.Publish(events.SettingsChanged{Fingerprint: 1})
	if n := count(); n != 0 {
		t.Errorf("%d entries survived a settings change", n)
	}

	fill()
	bus.Publish(events.TemplateChanged{TemplateID: "1 anon", Kind: events.ChangeData})
	if n := count(); n != 0 {
		t.Errorf("%d entries survived a template change", n)
	}

	fill()
	pt := canvas.Point{Tx: 1, Ty: 7}
	bus.Publish(events.CanvasChanged{Source: "canvas-change", Coords: &pt})
	if n := count(); n != 0 {
		t.Errorf("%d entries survived an area invalidation", n)
	}

	fill()
	bus.Publish(events.CanvasChanged{Source: "canvas-change"})
	if n := count(); n != 0 {
		t.Errorf("%d entries survived a coarse canvas change", n)
	}
}

func TestStatsCounters(t *testing.T) {
	c := New(nil)
	key := Key{Tile: canvas.Tile{X: 9}}
	c.Get(key)
	c.Put(key, []byte("x"))
	c.Get(key)

	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", st.Hits, st.Misses)
	}
	if got := fmt.Sprintf("%d", st.Entries); got != "1" {
		t.Errorf("entries = %s, want 1", got)
	}
}
