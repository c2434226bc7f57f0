package supervisor

import "sync"

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	// ShuttingDown is terminal: no transition leaves it.
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// validTransition reports whether from -> to is an edge of the state machine.
func validTransition(from, to State) bool {
	if from == ShuttingDown {
		return false
	}
	if to == ShuttingDown {
		return true
	}
	switch from {
	case Disconnected:
		return to == Connecting
	case Connecting:
		// Connecting -> Connecting is a retry with a longer delay.
		return to == Connecting || to == Connected
	case Connected:
		return to == Connecting || to == Disconnected
	}
	return false
}

// broadcast wakes every waiter on each transition. Waiters call C() and
// re-call it after each wakeup to get the next channel.
type broadcast struct {
	mu sync.Mutex
	ch chan struct{}
}

func newBroadcast() *broadcast { return &broadcast{ch: make(chan struct{})} }

func (b *broadcast) notify() {
	b.mu.Lock()
	close(b.ch)
	b.ch = make(chan struct{})
	b.mu.Unlock()
}

func (b *broadcast) C() <-chan struct{} {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	return ch
}
