package mqtt

import (
	"log"

	"github.com/hearth-home/hearth/pubsub"
)

// Publisher emits bus events over mqtt. Publishing happens on a dedicated
// goroutine; each event's Published flag is set once the broker has acked.
type Publisher struct {
	broker  *Broker
	channel chan *pubsub.Event
	done    chan struct{}
}

func NewPublisher(broker *Broker) *Publisher {
	pub := &Publisher{
		broker:  broker,
		channel: make(chan *pubsub.Event, 16),
		done:    make(chan struct{}),
	}
	go pub.loop()
	return pub
}

func (pub *Publisher) ID() string {
	return pub.broker.ID()
}

func (pub *Publisher) loop() {
	for ev := range pub.channel {
		topic := busPrefix + ev.Topic
		token := pub.broker.client.Publish(topic, 1, ev.Retained, ev.Bytes())
		token.Wait()
		if err := token.Error(); err != nil {
			log.Println("Error publishing:", err)
		}
		ev.Published.Set()
	}
	close(pub.done)
}

func (pub *Publisher) Emit(ev *pubsub.Event) {
	pub.channel <- ev
}

// Close flushes queued events and disconnects.
func (pub *Publisher) Close() {
	close(pub.channel)
	<-pub.done
	pub.broker.client.Disconnect(250)
}
