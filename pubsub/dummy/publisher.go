package dummy

import (
	"sync"
	"time"

	"github.com/hearth-home/hearth/pubsub"
)

// Publisher collects emitted events for test assertions.
type Publisher struct {
	mu     sync.Mutex
	Events []*pubsub.Event
}

func (pub *Publisher) ID() string {
	return "dummy"
}

func (pub *Publisher) Emit(ev *pubsub.Event) {
	pub.mu.Lock()
	pub.Events = append(pub.Events, ev)
	pub.mu.Unlock()
	if ev.Published != nil {
		ev.Published.Set()
	}
}

// WaitFor blocks until n events have been emitted, for tests whose events
// arrive from goroutines.
func (pub *Publisher) WaitFor(n int) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		pub.mu.Lock()
		count := len(pub.Events)
		pub.mu.Unlock()
		if count >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func (pub *Publisher) Close() {
}
