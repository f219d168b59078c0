package hass

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-home/hearth/config"
	"github.com/hearth-home/hearth/registry"
	"github.com/hearth-home/hearth/services"
)

func Example_interfaces() {
	var _ services.Service = (*Service)(nil)
	var _ services.Queryable = (*Service)(nil)
	// Output:
}

var sensor = registry.Entity{
	ID:          "sensor.porch_temperature",
	UniqueID:    "example_device1_temperature",
	Name:        "Temperature",
	Domain:      "sensor",
	DeviceClass: "temperature",
	StateClass:  "measurement",
	Unit:        "°C",
	Device: &registry.DeviceInfo{
		Identifiers:  [][2]string{{"example", "device1"}},
		Name:         "Porch",
		Manufacturer: "Example Manufacturer",
		Model:        "Example Model v1.0",
		SwVersion:    "1.2.3",
	},
}

func TestConfigTopic(t *testing.T) {
	services.Config = config.Must(config.OpenRaw(nil))
	assert.Equal(t, "homeassistant/sensor/sensor_porch_temperature/config", configTopic(sensor))

	services.Config = config.Must(config.OpenRaw([]byte("hass:\n  prefix: ha\n")))
	assert.Equal(t, "ha/sensor/sensor_porch_temperature/config", configTopic(sensor))
}

func TestConfigForSensor(t *testing.T) {
	services.Config = config.Must(config.OpenRaw(nil))
	payload := configFor(sensor)
	require.NotNil(t, payload)
	assert.Equal(t, "example_device1_temperature", payload.UniqueID)
	assert.Equal(t, "hearth/state/sensor.porch_temperature", payload.StateTopic)
	assert.Equal(t, "{{ value_json.state }}", payload.ValueTemplate)
	assert.Equal(t, "temperature", payload.DeviceClass)
	assert.Equal(t, "°C", payload.UnitOfMeasurement)
	assert.Empty(t, payload.CommandTopic)
	require.NotNil(t, payload.Device)
	assert.Equal(t, []string{"example_device1"}, payload.Device.Identifiers)
	assert.Equal(t, "Porch", payload.Device.Name)
}

func TestConfigForSwitch(t *testing.T) {
	services.Config = config.Must(config.OpenRaw(nil))
	payload := configFor(registry.Entity{
		ID:       "switch.porch_power",
		UniqueID: "example_device1_power",
		Name:     "Power",
		Domain:   "switch",
	})
	require.NotNil(t, payload)
	assert.Equal(t, "hearth/hass/switch.porch_power/set", payload.CommandTopic)
	assert.Equal(t, "on", payload.PayloadOn)
	assert.Equal(t, "off", payload.PayloadOff)
}

func TestConfigForUnknownDomain(t *testing.T) {
	assert.Nil(t, configFor(registry.Entity{ID: "light.porch", Domain: "light"}))
}
