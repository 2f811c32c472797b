// Package events provides the publish/subscribe bus shared by adapters and the aggregator.
package events

import (
	"errors"
	"reflect"
	"runtime/debug"
	"sync"

	"github.com/riptide-dl/riptide/internal/utils"
)

// Event names emitted on adapter and aggregator buses.
const (
	DownloadNew      = "download-new"
	DownloadUpdate   = "download-update"
	DownloadRemove   = "download-remove"
	DownloadHidden   = "download-hidden"
	DownloadUnhidden = "download-unhidden"

	AdapterAdded   = "adapter-added"
	AdapterRemoved = "adapter-removed"
)

// DownloadEvents are forwarded unchanged from adapters to the aggregator.
var DownloadEvents = []string{DownloadNew, DownloadUpdate, DownloadRemove, DownloadHidden, DownloadUnhidden}

// ErrReplayLocked is returned when replay is configured after a handler registered.
var ErrReplayLocked = errors.New("events: replay must be configured before handlers register")

// Handler receives the arguments passed to Emit.
type Handler func(args ...any)

// ReplayMode controls what a late subscriber is shown on registration.
type ReplayMode int

const (
	ReplayNone ReplayMode = iota
	// ReplayAll keeps every emission and replays them in order.
	ReplayAll
	// ReplayLast keeps only the most recent emission.
	ReplayLast
)

// Bus is a synchronous publish/subscribe primitive.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	replay   map[string]ReplayMode
	history  map[string][][]any
	locked   bool
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		replay:   make(map[string]ReplayMode),
		history:  make(map[string][][]any),
	}
}

// SetReplay configures replay for event. It fails once any handler is registered.
func (b *Bus) SetReplay(event string, mode ReplayMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.locked {
		return ErrReplayLocked
	}
	if mode == ReplayNone {
		delete(b.replay, event)
		delete(b.history, event)
		return nil
	}
	b.replay[event] = mode
	return nil
}

// On registers h for event. Retained emissions are replayed to h before On returns.
func (b *Bus) On(event string, h Handler) {
	b.mu.Lock()
	b.locked = true
	b.handlers[event] = append(b.handlers[event], h)
	backlog := make([][]any, len(b.history[event]))
	copy(backlog, b.history[event])
	b.mu.Unlock()

	for _, args := range backlog {
		b.call(event, h, args)
	}
}

// Emit calls every handler for event in registration order.
func (b *Bus) Emit(event string, args ...any) {
	b.mu.Lock()
	switch b.replay[event] {
	case ReplayAll:
		b.history[event] = append(b.history[event], args)
	case ReplayLast:
		b.history[event] = [][]any{args}
	}
	hs := make([]Handler, len(b.handlers[event]))
	copy(hs, b.handlers[event])
	b.mu.Unlock()

	for _, h := range hs {
		b.call(event, h, args)
	}
}

// CancelReplay drops one retained emission of event whose arguments equal args.
// It reports whether an emission was dropped.
func (b *Bus) CancelReplay(event string, args ...any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	hist := b.history[event]
	for i, prev := range hist {
		if sameArgs(prev, args) {
			b.history[event] = append(hist[:i:i], hist[i+1:]...)
			return true
		}
	}
	return false
}

// Retained returns how many emissions of event would be replayed.
func (b *Bus) Retained(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.history[event])
}

func (b *Bus) call(event string, h Handler, args []any) {
	defer func() {
		if r := recover(); r != nil {
			log := utils.Logger("events")
			log.Error().
				Str("event", event).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("event handler panicked")
		}
	}()
	h(args...)
}

func sameArgs(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !reflect.DeepEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}
