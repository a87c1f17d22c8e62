// Package events carries the engine's internal notifications.
//
// Settings mutations, template edits, and canvas-change signals are
// published here instead of calling cache internals directly; subscribers
// (tile cache, engine) react to what they care about. Delivery is
// synchronous and in subscription order.
package events

import (
	"sync"

	"github.com/penandalokasi/skirkmarble/pkg/canvas"
)

// ChangeKind classifies a template mutation.
type ChangeKind int

const (
	// ChangeData means shards were rebuilt or removed (create, delete).
	ChangeData ChangeKind = iota
	// ChangeRendering means only rendering state moved (color sets, enabled).
	ChangeRendering
)

// Event is one of the concrete event types in this package.
type Event interface {
	event()
}

// TemplateChanged reports a template mutation.
type TemplateChanged struct {
	TemplateID string
	Kind       ChangeKind
}

// SettingsChanged reports that the settings fingerprint moved.
type SettingsChanged struct {
	Fingerprint uint64
}

// CanvasChanged reports that the site canvas may have been written.
// Coords is nil when the write location is unknown.
type CanvasChanged struct {
	Source string
	Coords *canvas.Point
}

func (TemplateChanged) event() {}
func (SettingsChanged) event() {}
func (CanvasChanged) event()   {}

// Bus is a synchronous publish/subscribe hub.
type Bus struct {
	mu   sync.RWMutex
	subs []func(Event)
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for every published event. Handlers must
// not block; they run on the publisher's goroutine.
func (b *Bus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	b.subs = append(b.subs, fn)
	b.mu.Unlock()
}

// Publish delivers ev to all subscribers in subscription order.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}
