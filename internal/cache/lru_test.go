package cache

import (
	"fmt"
	"testing"
)

func TestGetSet(t *testing.T) {
	c := New[string, int](4)

	if _, ok := c.Get("a"); ok {
		t.Error("empty cache should miss")
	}

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d,%v, want 1,true", v, ok)
	}

	c.Set("a", 2)
	if v, _ := c.Get("a"); v != 2 {
		t.Errorf("updated value = %d, want 2", v)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestEvictionOrder(t *testing.T) {
	c := New[int, string](3)
	c.Set(1, "a")
	c.Set(2, "b")
	c.Set(3, "c")

	// Touch 1 so 2 becomes the eviction candidate.
	c.Get(1)
	c.Set(4, "d")

	if _, ok := c.Get(2); ok {
		t.Error("expected 2 to be evicted")
	}
	for _, k := range []int{1, 3, 4} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("expected %d to survive", k)
		}
	}
}

func TestCostBudget(t *testing.T) {
	c := New(100, WithCost[string, []byte](10, func(b []byte) int64 { return int64(len(b)) }))

	c.Set("a", make([]byte, 4))
	c.Set("b", make([]byte, 4))
	c.Set("c", make([]byte, 4)) // pushes cost to 12, evicts "a"

	if _, ok := c.Get("a"); ok {
		t.Error("expected a evicted by cost budget")
	}
	if st := c.Stats(); st.Cost != 8 {
		t.Errorf("cost = %d, want 8", st.Cost)
	}

	// An oversized value is still stored on its own.
	c.Clear()
	c.Set("big", make([]byte, 64))
	if _, ok := c.Get("big"); !ok {
		t.Error("oversized value should be kept alone")
	}
}

func TestDeleteFunc(t *testing.T) {
	c := New[string, int](16)
	for i := 0; i < 8; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}

	removed := c.DeleteFunc(func(k string) bool { return k >= "k4" })
	if removed != 4 {
		t.Errorf("removed %d, want 4", removed)
	}
	if c.Len() != 4 {
		t.Errorf("Len = %d, want 4", c.Len())
	}
	if _, ok := c.Get("k2"); !ok {
		t.Error("k2 should survive")
	}
}

func TestStats(t *testing.T) {
	c := New[string, int](2)
	c.Set("a", 1)
	c.Get("a")
	c.Get("b")
	c.Set("b", 2)
	c.Set("c", 3) // evicts a

	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Evictions != 1 || st.Entries != 2 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestClear(t *testing.T) {
	c := New(8, WithCost[string, []byte](1000, func(b []byte) int64 { return int64(len(b)) }))
	c.Set("a", make([]byte, 10))
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d", c.Len())
	}
	if st := c.Stats(); st.Cost != 0 {
		t.Errorf("cost after Clear = %d", st.Cost)
	}
	c.Set("a", make([]byte, 10))
	if _, ok := c.Get("a"); !ok {
		t.Error("cache unusable after Clear")
	}
}
