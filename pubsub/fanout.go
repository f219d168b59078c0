package pubsub

import "sync"

type eventChannel struct {
	C      chan *Event
	topics []Topic
}

// Fanout delivers events to subscription channels client side, each
// filtered by its topic matchers. Transports embed it.
type Fanout struct {
	channels []eventChannel
	lock     sync.Mutex
}

func (f *Fanout) Add(topics []Topic) chan *Event {
	ch := eventChannel{
		C:      make(chan *Event, 16),
		topics: topics,
	}
	f.lock.Lock()
	f.channels = append(f.channels, ch)
	f.lock.Unlock()
	return ch.C
}

// Remove drops and closes a subscription channel, returning the topics it
// was registered with so transports can unsubscribe upstream.
func (f *Fanout) Remove(channel <-chan *Event) []Topic {
	f.lock.Lock()
	defer f.lock.Unlock()
	var channels []eventChannel
	var topics []Topic
	for _, ch := range f.channels {
		if channel == (<-chan *Event)(ch.C) {
			topics = ch.topics
			close(ch.C)
		} else {
			channels = append(channels, ch)
		}
	}
	f.channels = channels
	return topics
}

func (f *Fanout) Dispatch(event *Event) {
	f.lock.Lock()
	for _, ch := range f.channels {
		for _, t := range ch.topics {
			if t.Match(event.Topic) {
				ch.C <- event
				break
			}
		}
	}
	f.lock.Unlock()
}
