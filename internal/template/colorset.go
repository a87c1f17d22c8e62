package template

import "hash/fnv"

// ColorSet is a set of palette IDs as a 64-bit mask. The palette has at
// most 64 entries so one word covers every ID.
type ColorSet uint64

// Has reports membership.
func (c ColorSet) Has(paletteID int) bool {
	if paletteID < 0 || paletteID > 63 {
		return false
	}
	return c&(1<<uint(paletteID)) != 0
}

// With returns the set plus one ID.
func (c ColorSet) With(paletteID int) ColorSet {
	if paletteID < 0 || paletteID > 63 {
		return c
	}
	return c | 1<<uint(paletteID)
}

// Without returns the set minus one ID.
func (c ColorSet) Without(paletteID int) ColorSet {
	if paletteID < 0 || paletteID > 63 {
		return c
	}
	return c &^ (1 << uint(paletteID))
}

// IDs expands the set into a sorted slice for serialization.
func (c ColorSet) IDs() []int {
	var ids []int
	for i := 0; i < 64; i++ {
		if c.Has(i) {
			ids = append(ids, i)
		}
	}
	return ids
}

// FromIDs builds a set from a slice of palette IDs.
func FromIDs(ids []int) ColorSet {
	var c ColorSet
	for _, id := range ids {
		c = c.With(id)
	}
	return c
}

// Hash folds the set into the fingerprint arithmetic.
func (c ColorSet) Hash() uint64 {
	h := fnv.New64a()
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(c >> (8 * i))
	}
	_, _ = h.Write(b[:])
	return h.Sum64()
}
