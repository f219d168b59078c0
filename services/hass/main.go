// Service bridging the hub's entities to Home Assistant over MQTT
// discovery. Every registry entity gets a retained config under the
// discovery prefix pointing at its bus state topic, so a Home Assistant on
// the same broker adopts them without any configuration. Switch commands
// flow back the other way.
package hass

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/hearth-home/hearth/pubsub"
	"github.com/hearth-home/hearth/pubsub/mqtt"
	"github.com/hearth-home/hearth/registry"
	"github.com/hearth-home/hearth/services"
)

const defaultPrefix = "homeassistant"

type deviceBlock struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SwVersion    string   `json:"sw_version,omitempty"`
}

// configPayload is the discovery document Home Assistant expects.
type configPayload struct {
	Name                 string       `json:"name"`
	UniqueID             string       `json:"unique_id"`
	StateTopic           string       `json:"state_topic"`
	ValueTemplate        string       `json:"value_template,omitempty"`
	CommandTopic         string       `json:"command_topic,omitempty"`
	PayloadOn            string       `json:"payload_on,omitempty"`
	PayloadOff           string       `json:"payload_off,omitempty"`
	DeviceClass          string       `json:"device_class,omitempty"`
	StateClass           string       `json:"state_class,omitempty"`
	UnitOfMeasurement    string       `json:"unit_of_measurement,omitempty"`
	EntityCategory       string       `json:"entity_category,omitempty"`
	AvailabilityTopic    string       `json:"availability_topic,omitempty"`
	AvailabilityTemplate string       `json:"availability_template,omitempty"`
	Device               *deviceBlock `json:"device,omitempty"`
}

// Service hass
type Service struct {
	mu        sync.Mutex
	published map[string]string // entity id -> config topic
}

func (self *Service) ID() string {
	return "hass"
}

func prefix() string {
	if p := services.Config.Hass.Prefix; p != "" {
		return p
	}
	return defaultPrefix
}

// components the bridge knows how to express.
var components = map[string]string{
	"sensor":        "sensor",
	"binary_sensor": "binary_sensor",
	"switch":        "switch",
}

func stateTopic(entityID string) string {
	return "hearth/state/" + entityID
}

func commandTopic(entityID string) string {
	return "hearth/hass/" + entityID + "/set"
}

func configTopic(e registry.Entity) string {
	objectID := strings.Replace(e.ID, ".", "_", -1)
	return fmt.Sprintf("%s/%s/%s/config", prefix(), components[e.Domain], objectID)
}

func configFor(e registry.Entity) *configPayload {
	if components[e.Domain] == "" {
		return nil
	}
	payload := &configPayload{
		Name:                 e.Name,
		UniqueID:             e.UniqueID,
		StateTopic:           stateTopic(e.ID),
		ValueTemplate:        "{{ value_json.state }}",
		DeviceClass:          e.DeviceClass,
		StateClass:           e.StateClass,
		UnitOfMeasurement:    e.Unit,
		EntityCategory:       e.Category,
		AvailabilityTopic:    stateTopic(e.ID),
		AvailabilityTemplate: "{{ 'offline' if value_json.state == 'unavailable' else 'online' }}",
	}
	if e.Domain == "switch" {
		payload.CommandTopic = commandTopic(e.ID)
		payload.PayloadOn = "on"
		payload.PayloadOff = "off"
	}
	if e.Device != nil {
		device := &deviceBlock{
			Name:         e.Device.Name,
			Manufacturer: e.Device.Manufacturer,
			Model:        e.Device.Model,
			SwVersion:    e.Device.SwVersion,
		}
		for _, id := range e.Device.Identifiers {
			device.Identifiers = append(device.Identifiers, id[0]+"_"+id[1])
		}
		payload.Device = device
	}
	return payload
}

func (self *Service) publishConfig(e registry.Entity) {
	payload := configFor(e)
	if payload == nil {
		return
	}
	topic := configTopic(e)
	value, _ := json.Marshal(payload)
	mqtt.Client.Publish(topic, 1, true, value)
	self.mu.Lock()
	self.published[e.ID] = topic
	self.mu.Unlock()
}

func (self *Service) removeConfig(entityID string) {
	self.mu.Lock()
	topic, ok := self.published[entityID]
	delete(self.published, entityID)
	self.mu.Unlock()
	if !ok {
		return
	}
	// an empty retained payload removes the discovered entity
	mqtt.Client.Publish(topic, 1, true, []byte{})
}

func (self *Service) publishAll() {
	all := registry.All()
	for _, e := range all {
		self.publishConfig(e)
	}
	log.Printf("Announced %d entities to %s", len(all), prefix())
}

// onCommand relays a Home Assistant switch command back onto the bus.
func (self *Service) onCommand(client MQTT.Client, msg MQTT.Message) {
	ps := strings.Split(msg.Topic(), "/")
	if len(ps) != 4 {
		return
	}
	entityID := ps[2]
	command := string(msg.Payload())
	if command != "on" && command != "off" {
		return
	}
	log.Printf("Command from hass: %s %s", entityID, command)
	services.Publisher.Emit(pubsub.NewCommand(entityID, command, 0))
}

// onStatus republishes configs when Home Assistant announces its birth.
func (self *Service) onStatus(client MQTT.Client, msg MQTT.Message) {
	if string(msg.Payload()) != "online" {
		return
	}
	log.Println("Home assistant restarted, reannouncing")
	self.publishAll()
}

func (self *Service) Run() error {
	self.published = map[string]string{}

	mqtt.Client.Subscribe(prefix()+"/status", 1, self.onStatus)
	mqtt.Client.Subscribe("hearth/hass/+/set", 1, self.onCommand)

	self.publishAll()

	for ev := range services.Subscriber.Subscribe(pubsub.Exact("registry")) {
		id := ev.Entity()
		switch ev.StringField("action") {
		case "added":
			if e, ok := registry.Get(id); ok {
				self.publishConfig(e)
			}
		case "removed":
			self.removeConfig(id)
		}
	}
	return nil
}

func (self *Service) queryStatus(q services.Question) string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return fmt.Sprintf("%d entities announced under %s\n", len(self.published), prefix())
}

func (self *Service) QueryHandlers() services.QueryHandlers {
	return services.QueryHandlers{
		"status": services.TextHandler(self.queryStatus),
		"help":   services.StaticHandler("status: bridge status\n"),
	}
}
