package pubsub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hearth-home/hearth/util"
)

type Fields map[string]interface{}

// Event is a single message on the hearth bus. Topic is the full slash
// separated path (eg "state/sensor.hall_temperature"), Fields the payload.
type Event struct {
	Topic     string
	Timestamp time.Time
	Fields    Fields
	Retained  bool
	Published *util.Event
}

const TimeFormat = "2006-01-02 15:04:05.000"

func NewEvent(topic string, fields map[string]interface{}) *Event {
	timestamp := time.Now().UTC()
	if ts, ok := fields["timestamp"].(string); ok {
		delete(fields, "timestamp")
		timestamp, _ = time.Parse(TimeFormat, ts)
	}
	return &Event{Topic: topic, Timestamp: timestamp, Fields: fields, Published: util.NewEvent()}
}

// NewCommand creates a command event addressed to an entity. level is
// optional (0 omits it), for dimmable targets.
func NewCommand(entity string, command string, level int) *Event {
	fields := map[string]interface{}{
		"topic":   "command",
		"entity":  entity,
		"command": command,
	}
	if level != 0 {
		fields["level"] = level
	}
	return NewEvent(fmt.Sprintf("command/%s", entity), fields)
}

// NewState creates a state event for an entity. attrs follow the usual
// attribute vocabulary (friendly_name, device_class, unit_of_measurement...).
func NewState(entity string, state string, attrs Fields) *Event {
	fields := map[string]interface{}{
		"topic":  "state",
		"entity": entity,
		"state":  state,
	}
	for k, v := range attrs {
		fields[k] = v
	}
	return NewEvent(fmt.Sprintf("state/%s", entity), fields)
}

func NewAlert(message string, target string) *Event {
	fields := map[string]interface{}{
		"topic":   "alert",
		"message": message,
	}
	if target != "" {
		fields["target"] = target
	}
	return NewEvent("alert", fields)
}

func (event *Event) Map() map[string]interface{} {
	data := make(map[string]interface{})
	data["topic"] = event.Topic
	data["timestamp"] = event.Timestamp.Format(TimeFormat)
	for k, v := range event.Fields {
		data[k] = v
	}
	return data
}

func (event *Event) Bytes() []byte {
	v, _ := json.Marshal(event.Map())
	return v
}

func (event *Event) String() string {
	return string(event.Bytes())
}

func (event *Event) StringField(name string) string {
	ret, _ := event.Fields[name].(string)
	return ret
}

func (event *Event) IntField(name string) int64 {
	ret, _ := event.Fields[name].(float64)
	return int64(ret)
}

func (event *Event) FloatField(name string) float64 {
	ret, _ := event.Fields[name].(float64)
	return ret
}

func (event *Event) BoolField(name string) bool {
	ret, _ := event.Fields[name].(bool)
	return ret
}

func (event *Event) SetField(name string, value interface{}) {
	event.Fields[name] = value
}

func (event *Event) SetFields(fields map[string]interface{}) {
	for key, value := range fields {
		event.Fields[key] = value
	}
}

func (event *Event) SetRetained(retained bool) {
	event.Retained = retained
}

func (event *Event) Target() string {
	return event.StringField("target")
}

func (event *Event) Entity() string {
	return event.StringField("entity")
}

func (event *Event) Source() string {
	return event.StringField("source")
}

func (event *Event) Command() string {
	return event.StringField("command")
}

func (event *Event) State() string {
	return event.StringField("state")
}

func (event *Event) Message() string {
	return event.StringField("message")
}

// Parse decodes the wire form. topic overrides the payload "topic" field
// when non-empty (transports know the real full topic, payloads only carry
// the category). Returns nil on undecodable input.
func Parse(msg string, topic string) *Event {
	var fields map[string]interface{}
	err := json.Unmarshal([]byte(msg), &fields)
	if err != nil {
		return nil
	}
	if topic == "" {
		var ok bool
		topic, ok = fields["topic"].(string)
		if !ok {
			return nil
		}
		delete(fields, "topic")
	}
	return NewEvent(topic, fields)
}
