package events

import "vaultchain/core/types"

// Event is anything the loan module reports while applying a block.
type Event interface {
	EventType() string
}

// Emitter receives events as they happen. The processor hands each
// transaction its own emitter so rejected work can be dropped.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards everything. Read-only queries run with it.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

type payload struct {
	evt *types.Event
}

func (p payload) EventType() string {
	if p.evt == nil {
		return ""
	}
	return p.evt.Type
}

func (p payload) Event() *types.Event { return p.evt }

// Wrap turns a rendered event into an Event carrying its attributes.
func Wrap(evt *types.Event) Event {
	return payload{evt: evt}
}
