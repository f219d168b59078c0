package mqtt

import (
	"log"
	"strings"
	"sync"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/hearth-home/hearth/pubsub"
)

// Subscriber bridges mqtt messages back onto bus subscription channels.
// Upstream mqtt subscriptions are reference counted so overlapping bus
// subscriptions share a single broker subscription.
type Subscriber struct {
	broker         *Broker
	fanout         pubsub.Fanout
	topicCount     map[string]int
	topicCountLock sync.RWMutex
	persist        bool
}

func NewSubscriber(broker *Broker, persist bool) *Subscriber {
	return &Subscriber{broker: broker, topicCount: map[string]int{}, persist: persist}
}

func (sub *Subscriber) ID() string {
	return sub.broker.ID()
}

func (sub *Subscriber) receive(msg MQTT.Message) {
	topic := strings.TrimPrefix(msg.Topic(), busPrefix)
	event := pubsub.Parse(string(msg.Payload()), topic)
	if event == nil {
		return
	}
	event.SetRetained(msg.Retained())
	sub.fanout.Dispatch(event)
}

// connected (re)subscribes on (re)connect. Clean sessions lose broker side
// subscription state, persistent ones keep it.
func (sub *Subscriber) connected() {
	if sub.persist {
		return
	}
	subs := map[string]byte{}
	sub.topicCountLock.RLock()
	for topic := range sub.topicCount {
		subs[topic] = 1 // QOS
	}
	sub.topicCountLock.RUnlock()

	if len(subs) > 0 {
		log.Println("Connected, subscribing:", subs)
		if token := sub.broker.client.SubscribeMultiple(subs, nil); token.Wait() && token.Error() != nil {
			log.Println("Error subscribing:", token.Error())
		}
	}
}

func topicToMqtt(topic pubsub.Topic) string {
	switch topic := topic.(type) {
	case *pubsub.AllTopic:
		return busPrefix + "#"
	case *pubsub.ExactTopic:
		return busPrefix + topic.Exact
	case *pubsub.PrefixTopic:
		return busPrefix + topic.Prefix + "/#"
	default:
		log.Panicln("Topic type unsupported")
	}
	return ""
}

func (sub *Subscriber) Subscribe(topics ...pubsub.Topic) <-chan *pubsub.Event {
	// subscribe topics not yet subscribed to
	subs := map[string]byte{}
	sub.topicCountLock.Lock()
	for _, topic := range topics {
		t := topicToMqtt(topic)
		if sub.topicCount[t] == 0 {
			subs[t] = 1 // QOS
		}
		sub.topicCount[t]++
	}
	sub.topicCountLock.Unlock()

	ch := sub.fanout.Add(topics)

	if len(subs) > 0 {
		// nil = all messages go to the default handler
		if token := sub.broker.client.SubscribeMultiple(subs, nil); token.Wait() && token.Error() != nil {
			log.Println("Error subscribing:", token.Error())
		}
	}
	return ch
}

func (sub *Subscriber) Close(channel <-chan *pubsub.Event) {
	topics := sub.fanout.Remove(channel)
	for _, topic := range topics {
		t := topicToMqtt(topic)
		sub.topicCountLock.Lock()
		sub.topicCount[t]--
		remaining := sub.topicCount[t]
		if remaining == 0 {
			delete(sub.topicCount, t)
		}
		sub.topicCountLock.Unlock()
		if remaining == 0 {
			if token := sub.broker.client.Unsubscribe(t); token.Wait() && token.Error() != nil {
				log.Println("Error unsubscribing:", token.Error())
			}
		}
	}
}
