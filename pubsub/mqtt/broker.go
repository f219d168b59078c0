package mqtt

import (
	"fmt"
	"log"
	"math/rand"
	"os"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/hearth-home/hearth/pubsub"
)

// busPrefix namespaces all bus traffic on the shared broker.
const busPrefix = "hearth/"

// Client is the shared mqtt connection. Services bridging foreign MQTT
// namespaces (device firmwares, discovery) subscribe through it directly.
var Client MQTT.Client

type Broker struct {
	url        string
	name       string
	client     MQTT.Client
	subscriber *Subscriber
}

func NewBroker(url, name string) *Broker {
	broker := &Broker{url: url, name: name}
	hostname, _ := os.Hostname()
	clientID := fmt.Sprintf("hearth/%s-%d-%d", hostname, os.Getpid(), rand.Int())
	opts := MQTT.NewClientOptions()
	opts.AddBroker(url)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetDefaultPublishHandler(broker.onMessage)
	opts.SetOnConnectHandler(broker.onConnect)
	opts.SetConnectionLostHandler(func(client MQTT.Client, err error) {
		log.Println("MQTT connection lost:", err)
	})
	broker.client = MQTT.NewClient(opts)
	if token := broker.client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalln("Couldn't connect to mqtt:", token.Error())
	}
	Client = broker.client
	return broker
}

func (b *Broker) ID() string {
	return "mqtt: " + b.url
}

func (b *Broker) onMessage(client MQTT.Client, msg MQTT.Message) {
	if b.subscriber != nil {
		b.subscriber.receive(msg)
	}
}

func (b *Broker) onConnect(client MQTT.Client) {
	if b.subscriber != nil {
		b.subscriber.connected()
	}
}

func (b *Broker) Subscriber() pubsub.Subscriber {
	if b.subscriber == nil {
		b.subscriber = NewSubscriber(b, false)
	}
	return b.subscriber
}

func (b *Broker) Publisher() pubsub.Publisher {
	return NewPublisher(b)
}
