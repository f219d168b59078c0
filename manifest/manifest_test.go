package manifest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ExampleLoad() {
	m, err := Load([]byte(`{
		"domain": "example",
		"name": "Example Device",
		"version": "1.0.0",
		"config_flow": true,
		"integration_type": "device",
		"iot_class": "local_polling",
		"requirements": [],
		"unknown_key": 42
	}`))
	fmt.Println(err)
	fmt.Println(m.Domain, m.ConfigFlow, m.IoTClass)
	// Output:
	// <nil>
	// example true local_polling
}

func TestValidate(t *testing.T) {
	good := Manifest{
		Domain:          "example",
		Name:            "Example Device",
		Version:         "1.0.0",
		ConfigFlow:      true,
		IntegrationType: "device",
		IoTClass:        "local_polling",
		Zeroconf:        []string{"_example._tcp.local."},
	}
	assert.NoError(t, good.Validate())

	bad := good
	bad.Domain = "Example Device"
	assert.Error(t, bad.Validate())

	bad = good
	bad.Version = "1.0"
	assert.Error(t, bad.Validate())

	bad = good
	bad.Name = ""
	assert.Error(t, bad.Validate())

	bad = good
	bad.IntegrationType = "gadget"
	assert.Error(t, bad.Validate())

	bad = good
	bad.IoTClass = "psychic"
	assert.Error(t, bad.Validate())

	bad = good
	bad.Zeroconf = []string{"example.tcp"}
	assert.Error(t, bad.Validate())
}

func TestLoadBad(t *testing.T) {
	_, err := Load([]byte(`{"domain": `))
	assert.Error(t, err)
}

func TestMustParse(t *testing.T) {
	m := MustParse([]byte(`{"domain": "acme", "name": "Acme", "version": "1.0.0",
		"integration_type": "hub", "iot_class": "local_polling"}`))
	assert.Equal(t, "acme", m.Domain)

	assert.Panics(t, func() { MustParse([]byte(`{"domain": "Not Valid"}`)) })
}
