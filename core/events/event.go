package events

import (
	"math/big"

	"swapcore/core/types"
)

// Event represents a structured state change emitted by the protocol.
type Event interface {
	EventType() string
}

// Renderable events know their canonical wire representation.
type Renderable interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. the archive or a
// websocket stream).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Committed wraps a log entry that has been durably appended to the audit log.
// Only committed events are ever handed to emitters.
type Committed struct {
	Entry types.LogEntry
}

func (c Committed) EventType() string {
	if c.Entry.Event == nil {
		return ""
	}
	return c.Entry.Event.Type
}

// Render converts an event into its wire form. Events that do not implement
// Renderable are rendered with their type only.
func Render(e Event) *types.Event {
	if e == nil {
		return nil
	}
	if r, ok := e.(Renderable); ok {
		return r.Event()
	}
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{}}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func intToString(v int64) string {
	return big.NewInt(v).String()
}
