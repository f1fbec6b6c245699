package session

import "sync"

// Event is a host environment transition the handler reacts to.
type Event int

const (
	EventOnline         Event = iota + 1 // connectivity restored
	EventOffline                         // connectivity lost
	EventVisible                         // tab/terminal back in front
	EventHidden                          // tab/terminal backgrounded
	EventNetworkChanged                  // network interface changed
	EventUnload                          // tab/window/process closing
)

func (e Event) String() string {
	switch e {
	case EventOnline:
		return "online"
	case EventOffline:
		return "offline"
	case EventVisible:
		return "visible"
	case EventHidden:
		return "hidden"
	case EventNetworkChanged:
		return "network-changed"
	case EventUnload:
		return "unload"
	default:
		return "unknown"
	}
}

// EventSource delivers host events to subscribers.
type EventSource interface {
	Subscribe(fn func(Event)) (unsubscribe func())
}

// Bus is an in-process EventSource. Emit calls every subscriber synchronously
// on the emitting goroutine.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Event)
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Emit delivers e to the current subscribers.
func (b *Bus) Emit(e Event) {
	b.mu.Lock()
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}
