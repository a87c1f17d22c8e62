// Package palette holds the wplace color palette and nearest-color lookup.
//
// The palette is fixed and ordered; an entry's ID is its position in the
// canonical list and matches the IDs the site uses. ID 0 is transparent.
// Lookup happens once per source pixel at template ingestion; the
// compositing hot path only ever indexes by palette ID.
package palette

import "image/color"

// Transparent is the palette ID for fully transparent pixels.
const Transparent = 0

// OpacityThreshold is the minimum alpha for a pixel to be considered opaque.
// Anything below quantizes to Transparent.
const OpacityThreshold = 64

// Entry is one palette color.
type Entry struct {
	ID   int
	Name string
	R    uint8
	G    uint8
	B    uint8
	Free bool
}

// RGBA returns the entry as an opaque color.RGBA.
func (e Entry) RGBA() color.RGBA {
	return color.RGBA{R: e.R, G: e.G, B: e.B, A: 0xff}
}

// entries is the canonical palette; index == ID. Entry 0 is the transparent
// placeholder and never matches a lookup.
var entries = []Entry{
	{0, "Transparent", 0, 0, 0, true},
	{1, "Black", 0, 0, 0, true},
	{2, "Dark Gray", 60, 60, 60, true},
	{3, "Gray", 120, 120, 120, true},
	{4, "Light Gray", 210, 210, 210, true},
	{5, "White", 255, 255, 255, true},
	{6, "Deep Red", 96, 0, 24, true},
	{7, "Red", 237, 28, 36, true},
	{8, "Orange", 255, 127, 39, true},
	{9, "Gold", 246, 170, 9, true},
	{10, "Yellow", 249, 221, 59, true},
	{11, "Light Yellow", 255, 250, 188, true},
	{12, "Dark Green", 14, 185, 104, true},
	{13, "Green", 19, 230, 123, true},
	{14, "Light Green", 135, 255, 94, true},
	{15, "Dark Teal", 12, 129, 110, true},
	{16, "Teal", 16, 174, 166, true},
	{17, "Light Teal", 19, 225, 190, true},
	{18, "Dark Blue", 40, 80, 158, true},
	{19, "Blue", 64, 147, 228, true},
	{20, "Cyan", 96, 247, 242, true},
	{21, "Indigo", 107, 80, 246, true},
	{22, "Light Indigo", 153, 177, 251, true},
	{23, "Dark Purple", 120, 12, 153, true},
	{24, "Purple", 170, 56, 185, true},
	{25, "Light Purple", 224, 159, 249, true},
	{26, "Dark Pink", 203, 0, 122, true},
	{27, "Pink", 236, 31, 128, true},
	{28, "Light Pink", 243, 141, 169, true},
	{29, "Dark Brown", 104, 70, 52, true},
	{30, "Brown", 149, 104, 42, true},
	{31, "Beige", 248, 178, 179, true},
	{32, "Medium Gray", 170, 170, 170, false},
	{33, "Dark Red", 165, 14, 30, false},
	{34, "Light Red", 250, 128, 114, false},
	{35, "Dark Orange", 228, 92, 26, false},
	{36, "Light Tan", 214, 181, 148, false},
	{37, "Dark Goldenrod", 156, 132, 49, false},
	{38, "Goldenrod", 197, 173, 49, false},
	{39, "Light Goldenrod", 232, 212, 95, false},
	{40, "Dark Olive", 74, 107, 58, false},
	{41, "Olive", 90, 148, 74, false},
	{42, "Light Olive", 132, 197, 115, false},
	{43, "Dark Cyan", 15, 121, 159, false},
	{44, "Light Cyan", 187, 250, 242, false},
	{45, "Light Blue", 125, 199, 255, false},
	{46, "Dark Indigo", 77, 49, 184, false},
	{47, "Dark Slate Blue", 74, 66, 132, false},
	{48, "Slate Blue", 122, 113, 196, false},
	{49, "Light Slate Blue", 181, 174, 241, false},
	{50, "Light Brown", 219, 164, 99, false},
	{51, "Dark Beige", 209, 128, 81, false},
	{52, "Light Beige", 255, 197, 165, false},
	{53, "Dark Peach", 155, 82, 73, false},
	{54, "Peach", 209, 128, 120, false},
	{55, "Light Peach", 250, 182, 164, false},
	{56, "Dark Tan", 123, 99, 82, false},
	{57, "Tan", 156, 132, 107, false},
	{58, "Dark Slate", 51, 57, 65, false},
	{59, "Slate", 109, 117, 141, false},
	{60, "Light Slate", 179, 185, 209, false},
	{61, "Dark Stone", 109, 100, 63, false},
	{62, "Stone", 148, 140, 107, false},
	{63, "Light Stone", 205, 197, 158, false},
}

// Size returns the number of palette entries including the transparent slot.
func Size() int {
	return len(entries)
}

// Entries returns the ordered palette. The slice is shared; do not modify.
func Entries() []Entry {
	return entries
}

// Lookup returns the entry for an ID, or a zero Entry if out of range.
func Lookup(id int) Entry {
	if id < 0 || id >= len(entries) {
		return Entry{}
	}
	return entries[id]
}

// IsPremium reports whether the palette entry requires a paid unlock.
func IsPremium(id int) bool {
	if id <= 0 || id >= len(entries) {
		return false
	}
	return !entries[id].Free
}

// Nearest maps an arbitrary RGBA pixel to a palette ID. Pixels with alpha
// below OpacityThreshold map to Transparent. Otherwise the entry with the
// smallest squared RGB distance wins; ties go to the lowest ID.
func Nearest(r, g, b, a uint8) int {
	if a < OpacityThreshold {
		return Transparent
	}
	best := 1
	bestDist := dist2(entries[1], r, g, b)
	for i := 2; i < len(entries); i++ {
		if d := dist2(entries[i], r, g, b); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// NearestColor is Nearest over a color.Color.
func NearestColor(c color.Color) int {
	r, g, b, a := c.RGBA()
	return Nearest(uint8(r>>8), uint8(g>>8), uint8(b>>8), uint8(a>>8))
}

func dist2(e Entry, r, g, b uint8) int {
	dr := int(e.R) - int(r)
	dg := int(e.G) - int(g)
	db := int(e.B) - int(b)
	return dr*dr + dg*dg + db*db
}
