package registry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hearth-home/hearth/pubsub"
	"github.com/hearth-home/hearth/pubsub/dummy"
	"github.com/hearth-home/hearth/services"
)

func setup() *dummy.Publisher {
	reset()
	services.Stor = services.NewMockStore()
	pub := &dummy.Publisher{}
	services.Publisher = pub
	return pub
}

func stateEvents(pub *dummy.Publisher) []*pubsub.Event {
	var ret []*pubsub.Event
	for _, ev := range pub.Events {
		if strings.HasPrefix(ev.Topic, "state/") {
			ret = append(ret, ev)
		}
	}
	return ret
}

var exampleDevice = &DeviceInfo{
	Identifiers:  [][2]string{{"example", "example_device_001"}},
	Name:         "Example Device",
	Manufacturer: "Example Manufacturer",
	Model:        "Example Model v1.0",
	SwVersion:    "1.2.3",
}

func TestAddAssignsIds(t *testing.T) {
	setup()
	id := Add("entry1", Entity{
		UniqueID: "example_example_device_001_temperature",
		Name:     "Temperature",
		Domain:   "sensor",
		Device:   exampleDevice,
	})
	assert.Equal(t, "sensor.example_device_temperature", id)

	// same unique id keeps its entity id
	id2 := Add("entry1", Entity{
		UniqueID: "example_example_device_001_temperature",
		Name:     "Temperature",
		Domain:   "sensor",
		Device:   exampleDevice,
	})
	assert.Equal(t, id, id2)

	// a colliding name gets a suffix
	id3 := Add("entry2", Entity{
		UniqueID: "another_unique_id",
		Name:     "Temperature",
		Domain:   "sensor",
		Device:   exampleDevice,
	})
	assert.Equal(t, "sensor.example_device_temperature_2", id3)
}

func TestSetStateDedup(t *testing.T) {
	pub := setup()
	id := Add("entry1", Entity{
		UniqueID:    "u1",
		Name:        "Temperature",
		Domain:      "sensor",
		DeviceClass: "temperature",
		StateClass:  "measurement",
		Unit:        "°C",
		Device:      exampleDevice,
	})

	SetState(id, "20.5", nil)
	SetState(id, "20.5", nil)
	SetState(id, "21.0", nil)

	events := stateEvents(pub)
	assert.Len(t, events, 2)
	assert.Equal(t, "20.5", events[0].State())
	assert.Equal(t, "Example Device Temperature", events[0].StringField("friendly_name"))
	assert.Equal(t, "°C", events[0].StringField("unit_of_measurement"))

	st, ok := GetState(id)
	assert.True(t, ok)
	assert.Equal(t, "21.0", st.State)
	assert.Equal(t, "measurement", st.Attributes["state_class"])
}

func TestAvailability(t *testing.T) {
	pub := setup()
	id := Add("entry1", Entity{UniqueID: "u2", Name: "Power", Domain: "switch"})

	SetState(id, "on", nil)
	SetAvailable(id, false)
	st, _ := GetState(id)
	assert.Equal(t, "unavailable", st.State)

	SetAvailable(id, true)
	st, _ = GetState(id)
	assert.Equal(t, "on", st.State)

	assert.Len(t, stateEvents(pub), 3)
}

func TestRemoveEntry(t *testing.T) {
	setup()
	id := Add("entry1", Entity{UniqueID: "u3", Name: "Power", Domain: "switch"})
	SetState(id, "on", nil)
	other := Add("entry2", Entity{UniqueID: "u4", Name: "Spare", Domain: "switch"})
	SetState(other, "off", nil)

	RemoveEntry("entry1")
	_, ok := GetState(id)
	assert.False(t, ok)
	_, ok = Get(id)
	assert.False(t, ok)
	states := States()
	assert.Len(t, states, 1)
	assert.Equal(t, other, states[0].EntityID)
}

func TestMatchEntities(t *testing.T) {
	setup()
	Add("entry1", Entity{UniqueID: "u5", Name: "Porch Light", Domain: "switch"})
	Add("entry1", Entity{UniqueID: "u6", Name: "Porch Temperature", Domain: "sensor"})
	Add("entry1", Entity{UniqueID: "u9", Name: "Garden Light", Domain: "switch"})

	assert.Equal(t, []string{"switch.porch_light"}, MatchEntities("porch"))
	assert.Equal(t, []string{"switch.porch_light"}, MatchEntities("switch.porch_light"))
	assert.Empty(t, MatchEntities("garage"))
	assert.Empty(t, MatchEntities(""))
}

func TestSetStateWithoutPublisher(t *testing.T) {
	setup()
	Add("entry1", Entity{UniqueID: "u10", Name: "Cellar Temperature", Domain: "sensor"})
	services.Publisher = nil

	SetState("sensor.cellar_temperature", "12.5", nil)
	st, ok := GetState("sensor.cellar_temperature")
	assert.True(t, ok)
	assert.Equal(t, "12.5", st.State)
}

func TestDevices(t *testing.T) {
	setup()
	Add("entry1", Entity{UniqueID: "u7", Name: "Temperature", Domain: "sensor", Device: exampleDevice})
	Add("entry1", Entity{UniqueID: "u8", Name: "Humidity", Domain: "sensor", Device: exampleDevice})

	devices := Devices()
	assert.Len(t, devices, 1)
	assert.Equal(t, "Example Device", devices[0].Info.Name)
	assert.Equal(t, []string{"sensor.example_device_humidity", "sensor.example_device_temperature"}, devices[0].Entities)
}
