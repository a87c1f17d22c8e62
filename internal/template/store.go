package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/penandalokasi/skirkmarble/internal/events"
	"github.com/penandalokasi/skirkmarble/pkg/canvas"
)

// ErrNotFound is returned for operations on a template the store does not
// hold (never created, or already deleted).
var ErrNotFound = errors.New("template: not found")

// KV is the slice of the storage adapter the store persists through.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Store owns every template. All mutation goes through its methods so that
// invalidation events fire exactly once per edit and persistence sees a
// consistent snapshot.
type Store struct {
	mu        sync.RWMutex
	templates map[string]*Template
	nextSort  int
	docExtra  map[string]json.RawMessage

	whoami        string
	scriptVersion string
	maxPixels     int

	bus *events.Bus
	kv  KV
	log *zap.Logger
	now func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxPixels overrides the per-template opaque pixel limit.
func WithMaxPixels(n int) StoreOption {
	return func(s *Store) { s.maxPixels = n }
}

// WithIdentity sets the author identity stamped into persisted documents.
func WithIdentity(whoami, scriptVersion string) StoreOption {
	return func(s *Store) { s.whoami = whoami; s.scriptVersion = scriptVersion }
}

// WithStoreClock overrides the lastModified clock (tests).
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore builds an empty store. bus and kv may be nil.
func NewStore(bus *events.Bus, kv KV, log *zap.Logger, opts ...StoreOption) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		templates:     make(map[string]*Template),
		nextSort:      1,
		docExtra:      make(map[string]json.RawMessage),
		whoami:        "anon",
		scriptVersion: "0.0.0",
		maxPixels:     DefaultMaxPixels,
		bus:           bus,
		kv:            kv,
		log:           log,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateFromImage ingests an uploaded image into a ready template. On any
// ingestion error no state mutates.
func (s *Store) CreateFromImage(imageBytes []byte, name string, anchor canvas.Point) (*Template, error) {
	b, err := build(imageBytes, anchor, s.maxPixels)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	id := fmt.Sprintf("%d %s", s.nextSort, s.whoami)
	s.nextSort++
	t := &Template{
		id:              id,
		displayName:     name,
		anchor:          b.anchor,
		imageW:          b.imageW,
		imageH:          b.imageH,
		shards:          b.shards,
		pixelCount:      b.pixelCount,
		validPixelCount: b.validPixelCount,
		enabled:         true,
		thumbnail:       b.thumbnail,
		extra:           make(map[string]any),
	}
	t.indexShards()
	s.templates[id] = t
	s.mu.Unlock()

	s.log.Info("template created",
		zap.String("id", id),
		zap.String("name", name),
		zap.Int("pixels", t.pixelCount),
		zap.Int("shards", len(t.shards)))
	s.publish(id, events.ChangeData)
	return t, nil
}

// List returns all templates in unspecified order.
func (s *Store) List() []*Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	return out
}

// Get returns one template.
func (s *Store) Get(id string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, nil
}

// Remove deletes a template.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	_, ok := s.templates[id]
	if ok {
		delete(s.templates, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.log.Info("template removed", zap.String("id", id))
	s.publish(id, events.ChangeData)
	return nil
}

// Rename sets the display name.
func (s *Store) Rename(id, name string) error {
	return s.edit(id, func(t *Template) { t.displayName = name })
}

// SetEnabled toggles a template's participation in compositing.
func (s *Store) SetEnabled(id string, enabled bool) error {
	return s.edit(id, func(t *Template) { t.enabled = enabled })
}

// DisableColor hides a palette color: its pixels stop rendering but stay
// counted as required.
func (s *Store) DisableColor(id string, paletteID int) error {
	return s.edit(id, func(t *Template) { t.disabled = t.disabled.With(paletteID) })
}

// EnableColor reverses DisableColor.
func (s *Store) EnableColor(id string, paletteID int) error {
	return s.edit(id, func(t *Template) { t.disabled = t.disabled.Without(paletteID) })
}

// SetEnhanced flags or unflags a color for crosshair overlay.
func (s *Store) SetEnhanced(id string, paletteID int, enhanced bool) error {
	return s.edit(id, func(t *Template) {
		if enhanced {
			t.enhanced = t.enhanced.With(paletteID)
		} else {
			t.enhanced = t.enhanced.Without(paletteID)
		}
	})
}

// edit applies a rendering mutation under the template's lock and emits
// one rendering invalidation.
func (s *Store) edit(id string, apply func(*Template)) error {
	s.mu.RLock()
	t, ok := s.templates[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.mu.Lock()
	apply(t)
	t.mu.Unlock()
	s.publish(id, events.ChangeRendering)
	return nil
}

// EnabledSnapshots captures the rendering state of every enabled template.
func (s *Store) EnabledSnapshots() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Snapshot
	for _, t := range s.templates {
		if snap := t.Snapshot(); snap.Enabled {
			out = append(out, snap)
		}
	}
	return out
}

// RenderFingerprint folds every template's rendering state into one hash.
// Combined with the settings fingerprint it keys the tile cache.
func (s *Store) RenderFingerprint() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var h uint64 = 1469598103934665603 // FNV offset basis
	for id, t := range s.templates {
		h ^= t.RenderFingerprint()
		for i := 0; i < len(id); i++ {
			h = (h ^ uint64(id[i])) * 1099511628211
		}
	}
	return h
}

// Persist serializes all templates through the storage adapter. On failure
// the in-memory state is untouched and the error is returned to the caller.
func (s *Store) Persist(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	s.mu.RLock()
	value, err := encodeDocument(s.whoami, s.scriptVersion, s.templates, s.docExtra, s.now())
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, StorageKey, value); err != nil {
		return fmt.Errorf("persisting templates: %w", err)
	}
	s.log.Debug("templates persisted", zap.Int("count", s.Count()))
	return nil
}

// Load replaces the store contents with the persisted document. A missing
// document loads as empty. A corrupted document returns an error and leaves
// the store untouched; the caller decides how loudly to surface it.
func (s *Store) Load(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	value, ok, err := s.kv.Get(ctx, StorageKey)
	if err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}
	if !ok {
		return nil
	}

	templates, extra, err := decodeDocument(value)
	if err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}

	maxSort := 0
	for id := range templates {
		var sort int
		if _, err := fmt.Sscanf(id, "%d", &sort); err == nil && sort > maxSort {
			maxSort = sort
		}
	}

	s.mu.Lock()
	s.templates = templates
	s.docExtra = extra
	s.nextSort = maxSort + 1
	s.mu.Unlock()

	s.log.Info("templates loaded", zap.Int("count", len(templates)))
	s.publish("", events.ChangeData)
	return nil
}

// Count returns the number of templates.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.templates)
}

func (s *Store) publish(id string, kind events.ChangeKind) {
	if s.bus != nil {
		s.bus.Publish(events.TemplateChanged{TemplateID: id, Kind: kind})
	}
}
