package ping

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-home/hearth/config"
	"github.com/hearth-home/hearth/entries"
	"github.com/hearth-home/hearth/services"
)

func ExampleInterfaces() {
	var _ services.Service = (*Service)(nil)
	var _ services.Queryable = (*Service)(nil)
	var _ entries.Integration = (*Service)(nil)
	// Output:
}

func TestManifest(t *testing.T) {
	service := &Service{}
	assert.NoError(t, service.Manifest().Validate())
	assert.Equal(t, service.ID(), service.Manifest().Domain)
}

func TestInterval(t *testing.T) {
	services.Config = config.Must(config.OpenRaw(nil))
	assert.Equal(t, defaultInterval, interval())
	services.Config = config.Must(config.OpenRaw([]byte("ping:\n  interval: 10s\n")))
	assert.Equal(t, 10*time.Second, interval())
}

func TestFlowForm(t *testing.T) {
	flow := (&Service{}).ConfigFlow()
	step := flow.Steps()["user"]
	require.NotNil(t, step)

	result := step(&entries.Flow{}, nil)
	assert.Equal(t, entries.ResultForm, result.Type)
	require.Len(t, result.Schema, 1)
	assert.Equal(t, "host", result.Schema[0].Name)
	assert.Empty(t, result.Schema[0].Default)
}

func TestFlowDiscoveryPrefill(t *testing.T) {
	flow := (&Service{}).ConfigFlow()
	step := flow.Steps()["user"]

	result := step(&entries.Flow{Discovery: map[string]string{"host": "10.0.0.2"}}, nil)
	assert.Equal(t, entries.ResultForm, result.Type)
	require.Len(t, result.Schema, 1)
	assert.Equal(t, "10.0.0.2", result.Schema[0].Default)
}

func TestFlowMissingHost(t *testing.T) {
	flow := (&Service{}).ConfigFlow()
	step := flow.Steps()["user"]

	result := step(&entries.Flow{}, map[string]string{})
	assert.Equal(t, entries.ResultForm, result.Type)
	assert.Equal(t, "required", result.Errors["host"])
}

func TestQueryStatusEmpty(t *testing.T) {
	service := &Service{}
	assert.Equal(t, "no hosts configured", service.queryStatus(services.Question{}))
}
