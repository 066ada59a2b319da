package events

import (
	"sync"

	"vaultchain/core/types"
)

// Renderable is implemented by events that expose a structured payload.
type Renderable interface {
	Event
	Event() *types.Event
}

// Recorder buffers emitted events until they are drained. It is used to
// collect the events of a single transaction so that rejected transactions
// leave no trace.
type Recorder struct {
	mu     sync.Mutex
	events []*types.Event
}

// Emit implements the Emitter interface. Events without a payload are
// recorded by type only.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	var rendered *types.Event
	if withPayload, ok := evt.(Renderable); ok {
		rendered = withPayload.Event()
	}
	if rendered == nil {
		rendered = types.NewEvent(evt.EventType())
	}
	r.mu.Lock()
	r.events = append(r.events, rendered)
	r.mu.Unlock()
}

// Drain returns the buffered events and resets the recorder.
func (r *Recorder) Drain() []*types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

// Reset drops the buffered events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
