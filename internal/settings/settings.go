// Package settings is the typed facade over the engine's rendering options.
//
// Every mutation moves the settings fingerprint and publishes a
// SettingsChanged event; the tile cache subscribes and drops everything.
// Values persist as JSON strings under their bm* storage keys.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/penandalokasi/skirkmarble/internal/events"
)

// Storage keys. All values are JSON-encoded strings.
const (
	KeyCrosshairColor        = "bmCrosshairColor"
	KeyCrosshairBorder       = "bmCrosshairBorder"
	KeyCrosshairEnhancedSize = "bmCrosshairEnhancedSize"
	KeyCrosshairRadius       = "bmCrosshairRadius"
	KeyErrorMap              = "bmErrorMap"
	KeyEnhanceWrongColors    = "bmEnhanceWrongColors"
	KeyIncludeWrong          = "bmIncludeWrongInProgress"
	KeyExcludedColors        = "bmExcludedColorsFromProgress"
	KeySmartCache            = "bmSmartCache"
	KeyNavigationMethod      = "bmNavigationMethod"
)

// EnhancedRadius bounds.
const (
	MinEnhancedRadius = 12
	MaxEnhancedRadius = 32
)

// NavigationMethod selects how the UI chrome jumps to a location. The
// engine only stores and forwards it.
type NavigationMethod string

const (
	NavigateFlyTo   NavigationMethod = "flyto"
	NavigateOpenURL NavigationMethod = "openurl"
)

// Color is an RGBA color as stored in settings.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
	A uint8 `json:"a"`
}

// Snapshot is an immutable copy of all options, safe to hold across a
// compositing pass.
type Snapshot struct {
	CrosshairColor     Color
	Borders            bool
	EnhancedSize       bool
	EnhancedRadius     int
	ErrorMap           bool
	EnhanceWrongColors bool
	IncludeWrong       bool
	ExcludedColors     []int // sorted palette IDs excluded from progress
	SmartCache         bool
	Navigation         NavigationMethod
}

// Fingerprint hashes every field that affects composited bytes or progress
// arithmetic. Equal fingerprints mean equal rendering behavior.
func (s Snapshot) Fingerprint() uint64 {
	h := fnv.New64a()
	put := func(vals ...byte) { _, _ = h.Write(vals) }
	put(s.CrosshairColor.R, s.CrosshairColor.G, s.CrosshairColor.B, s.CrosshairColor.A)
	put(b2b(s.Borders), b2b(s.EnhancedSize), byte(s.EnhancedRadius))
	put(b2b(s.ErrorMap), b2b(s.EnhanceWrongColors), b2b(s.IncludeWrong))
	for _, id := range s.ExcludedColors {
		put(byte(id))
	}
	return h.Sum64()
}

// Excluded reports whether a palette ID is filtered from progress totals.
func (s Snapshot) Excluded(paletteID int) bool {
	i := sort.SearchInts(s.ExcludedColors, paletteID)
	return i < len(s.ExcludedColors) && s.ExcludedColors[i] == paletteID
}

func b2b(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// KV is the slice of the storage adapter the facade needs.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Facade owns the mutable options.
type Facade struct {
	mu   sync.RWMutex
	snap Snapshot
	bus  *events.Bus
	kv   KV
	log  *zap.Logger
}

// Default returns the option values used before anything is loaded.
func Default() Snapshot {
	return Snapshot{
		CrosshairColor: Color{R: 255, G: 0, B: 0, A: 255},
		EnhancedRadius: 16,
		SmartCache:     true,
		Navigation:     NavigateFlyTo,
	}
}

// New builds a facade publishing on bus and persisting through kv. Both
// bus and kv may be nil (tests, offline tools).
func New(bus *events.Bus, kv KV, log *zap.Logger) *Facade {
	if log == nil {
		log = zap.NewNop()
	}
	return &Facade{snap: Default(), bus: bus, kv: kv, log: log}
}

// Snapshot returns a copy of the current options.
func (f *Facade) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s := f.snap
	s.ExcludedColors = append([]int(nil), f.snap.ExcludedColors...)
	return s
}

// Fingerprint returns the current settings fingerprint.
func (f *Facade) Fingerprint() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snap.Fingerprint()
}

func (f *Facade) mutate(key string, apply func(*Snapshot), value any) {
	f.mu.Lock()
	apply(&f.snap)
	snap := f.snap
	f.mu.Unlock()

	f.persist(key, value)
	if f.bus != nil {
		f.bus.Publish(events.SettingsChanged{Fingerprint: snap.Fingerprint()})
	}
}

func (f *Facade) persist(key string, value any) {
	if f.kv == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		f.log.Error("encoding setting", zap.String("key", key), zap.Error(err))
		return
	}
	if err := f.kv.Set(context.Background(), key, string(raw)); err != nil {
		f.log.Warn("persisting setting", zap.String("key", key), zap.Error(err))
	}
}

// SetCrosshairColor sets the crosshair overlay color.
func (f *Facade) SetCrosshairColor(c Color) {
	f.mutate(KeyCrosshairColor, func(s *Snapshot) { s.CrosshairColor = c }, c)
}

// SetBorders toggles the corner halo around crosshairs.
func (f *Facade) SetBorders(on bool) {
	f.mutate(KeyCrosshairBorder, func(s *Snapshot) { s.Borders = on }, on)
}

// SetEnhancedSize toggles the extended crosshair radius.
func (f *Facade) SetEnhancedSize(on bool) {
	f.mutate(KeyCrosshairEnhancedSize, func(s *Snapshot) { s.EnhancedSize = on }, on)
}

// SetEnhancedRadius sets the crosshair arm length, clamped to [12, 32].
func (f *Facade) SetEnhancedRadius(r int) {
	r = clampRadius(r)
	f.mutate(KeyCrosshairRadius, func(s *Snapshot) { s.EnhancedRadius = r }, r)
}

// SetErrorMap toggles error-map rendering.
func (f *Facade) SetErrorMap(on bool) {
	f.mutate(KeyErrorMap, func(s *Snapshot) { s.ErrorMap = on }, on)
}

// SetEnhanceWrongColors toggles crosshairs on every wrong pixel.
func (f *Facade) SetEnhanceWrongColors(on bool) {
	f.mutate(KeyEnhanceWrongColors, func(s *Snapshot) { s.EnhanceWrongColors = on }, on)
}

// SetIncludeWrong controls whether wrong pixels count as painted in the
// overall progress ratio.
func (f *Facade) SetIncludeWrong(on bool) {
	f.mutate(KeyIncludeWrong, func(s *Snapshot) { s.IncludeWrong = on }, on)
}

// SetExcludedColors replaces the set of palette IDs filtered from totals.
func (f *Facade) SetExcludedColors(ids []int) {
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)
	f.mutate(KeyExcludedColors, func(s *Snapshot) { s.ExcludedColors = sorted }, sorted)
}

// SetSmartCache controls whether the tile cache serves hits.
func (f *Facade) SetSmartCache(on bool) {
	f.mutate(KeySmartCache, func(s *Snapshot) { s.SmartCache = on }, on)
}

// SetNavigation stores the UI navigation method.
func (f *Facade) SetNavigation(m NavigationMethod) {
	if m != NavigateFlyTo && m != NavigateOpenURL {
		m = NavigateFlyTo
	}
	f.mutate(KeyNavigationMethod, func(s *Snapshot) { s.Navigation = m }, string(m))
}

// Load reads all persisted options. Missing keys keep their defaults;
// malformed values are logged and skipped, never fatal.
func (f *Facade) Load(ctx context.Context) error {
	if f.kv == nil {
		return nil
	}

	snap := Default()
	load := func(key string, into any) {
		raw, ok, err := f.kv.Get(ctx, key)
		if err != nil {
			f.log.Warn("reading setting", zap.String("key", key), zap.Error(err))
			return
		}
		if !ok {
			return
		}
		if err := json.Unmarshal([]byte(raw), into); err != nil {
			f.log.Warn("decoding setting", zap.String("key", key), zap.Error(err))
		}
	}

	load(KeyCrosshairColor, &snap.CrosshairColor)
	load(KeyCrosshairBorder, &snap.Borders)
	load(KeyCrosshairEnhancedSize, &snap.EnhancedSize)
	load(KeyCrosshairRadius, &snap.EnhancedRadius)
	load(KeyErrorMap, &snap.ErrorMap)
	load(KeyEnhanceWrongColors, &snap.EnhanceWrongColors)
	load(KeyIncludeWrong, &snap.IncludeWrong)
	load(KeyExcludedColors, &snap.ExcludedColors)
	load(KeySmartCache, &snap.SmartCache)

	var nav string
	load(KeyNavigationMethod, &nav)
	if nav != "" {
		snap.Navigation = NavigationMethod(nav)
	}

	snap.EnhancedRadius = clampRadius(snap.EnhancedRadius)
	sort.Ints(snap.ExcludedColors)

	f.mu.Lock()
	f.snap = snap
	f.mu.Unlock()
	return nil
}

func clampRadius(r int) int {
	if r < MinEnhancedRadius {
		return MinEnhancedRadius
	}
	if r > MaxEnhancedRadius {
		return MaxEnhancedRadius
	}
	return r
}

// String renders a snapshot for debug logs.
func (s Snapshot) String() string {
	return fmt.Sprintf("crosshair=%02x%02x%02x/%d borders=%v enhSize=%v r=%d errorMap=%v wrong=%v",
		s.CrosshairColor.R, s.CrosshairColor.G, s.CrosshairColor.B, s.CrosshairColor.A,
		s.Borders, s.EnhancedSize, s.EnhancedRadius, s.ErrorMap, s.EnhanceWrongColors)
}
