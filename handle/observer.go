package handle

// EventType identifies a registry lifecycle event.
type EventType uint8

const (
	EventInserted EventType = iota
	EventCloned
	EventRemoved
	EventDestroyed
)

func (e EventType) String() string {
	switch e {
	case EventInserted:
		return "inserted"
	case EventCloned:
		return "cloned"
	case EventRemoved:
		return "removed"
	case EventDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Event describes a change to one binding. Refs is the number of bindings
// sharing the value after the change.
type Event[T any] struct {
	Value  T
	Handle Handle
	Type   EventType
	Refs   int
}

// Observer receives registry events.
type Observer[T any] interface {
	OnHandleEvent(Event[T])
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc[T any] func(Event[T])

// OnHandleEvent implements Observer.
func (f ObserverFunc[T]) OnHandleEvent(e Event[T]) {
	f(e)
}

// Dropper is implemented by values that release resources when their last
// binding is removed.
type Dropper interface {
	Drop()
}
