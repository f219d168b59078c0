package dummy

import "github.com/hearth-home/hearth/pubsub"

// Subscriber replays scripted events to matching subscriptions, for tests.
// Each subscription receives the events matching its own topics, then the
// channel closes, so service loops terminate once the script runs out.
type Subscriber struct {
	Events []*pubsub.Event
}

func (sub *Subscriber) ID() string {
	return "dummy"
}

func (sub *Subscriber) Subscribe(topics ...pubsub.Topic) <-chan *pubsub.Event {
	ch := make(chan *pubsub.Event)
	go func() {
		for _, ev := range sub.Events {
			for _, s := range topics {
				if s.Match(ev.Topic) {
					ch <- ev
					break
				}
			}
		}
		close(ch)
	}()
	return ch
}

func (sub *Subscriber) Close(<-chan *pubsub.Event) {
}
