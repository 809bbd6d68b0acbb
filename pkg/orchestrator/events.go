package orchestrator

import (
	"sync"

	"github.com/parkds/hotstuff-bft/pkg/event"
)

// Event is the structured record spec.md §6 names: "every event is a
// structured record with type and a source tag." It is a type alias
// for pkg/event.Event so replicas and learners (which cannot import
// this package without a cycle) can construct the same wire shape.
type Event = event.Event

// Emitter is injected at construction, per spec.md §9: "model as an
// injected callback at construction."
type Emitter = event.Emitter

const (
	sourceOrchestrator = "orchestrator"
)

// NewStatusEvent builds a STATUS event. state is one of starting,
// running, stopped, finished; cfg is echoed only on "running".
func NewStatusEvent(state string, cfg *Config) Event {
	kv := []any{"state", state}
	if cfg != nil {
		kv = append(kv, "config", cfg)
	}
	return event.New("STATUS", sourceOrchestrator, kv...)
}

// NewWarnEvent builds a WARN event carrying a human-readable string.
func NewWarnEvent(message string) Event {
	return event.New("WARN", sourceOrchestrator, "message", message)
}

// CollectingEmitter returns an Emitter that appends every event to an
// in-memory slice, for test assertion (spec.md §9: "in tests it
// appends to a vector for assertion"), plus an accessor that returns a
// defensive copy.
func CollectingEmitter() (Emitter, func() []Event) {
	var mu sync.Mutex
	var events []Event
	emit := func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}
	snapshot := func() []Event {
		mu.Lock()
		defer mu.Unlock()
		out := make([]Event, len(events))
		copy(out, events)
		return out
	}
	return emit, snapshot
}
