package entries

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-home/hearth/pubsub/dummy"
	"github.com/hearth-home/hearth/services"
)

func TestFlowCreatesEntry(t *testing.T) {
	ti := setup()

	result, err := StartFlow("acme")
	require.NoError(t, err)
	assert.Equal(t, ResultForm, result.Type)
	assert.Equal(t, "user", result.StepID)
	assert.NotEmpty(t, result.FlowID)
	require.Len(t, result.Schema, 2)
	assert.Equal(t, "host", result.Schema[0].Name)
	assert.Equal(t, "10.0.0.1", result.Schema[0].Default)
	assert.True(t, result.Schema[1].Secret)
	assert.Len(t, ActiveFlows(), 1)

	result, err = SubmitFlow(result.FlowID, map[string]string{"host": "10.0.0.5", "api_key": "k1"})
	require.NoError(t, err)
	assert.Equal(t, ResultCreateEntry, result.Type)
	assert.Equal(t, "Device 10.0.0.5", result.Title)
	assert.NotEmpty(t, result.EntryID)
	assert.Empty(t, ActiveFlows())

	e, ok := Get(result.EntryID)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", e.UniqueID)
	assert.Equal(t, StateLoaded, e.State)
	assert.Equal(t, []string{e.ID}, ti.setups)
}

func TestFlowValidationErrors(t *testing.T) {
	setup()

	result, err := StartFlow("acme")
	require.NoError(t, err)
	result, err = SubmitFlow(result.FlowID, map[string]string{"host": "10.0.0.5", "api_key": "wrong"})
	require.NoError(t, err)
	assert.Equal(t, ResultForm, result.Type)
	assert.Equal(t, map[string]string{"base": "invalid_auth"}, result.Errors)
	// the flow stays open for another attempt
	assert.Len(t, ActiveFlows(), 1)

	result, err = SubmitFlow(result.FlowID, map[string]string{"host": "10.0.0.5", "api_key": "k1"})
	require.NoError(t, err)
	assert.Equal(t, ResultCreateEntry, result.Type)
}

func TestFlowAlreadyConfigured(t *testing.T) {
	setup()
	configure(t, "10.0.0.5")

	result, err := StartFlow("acme")
	require.NoError(t, err)
	result, err = SubmitFlow(result.FlowID, map[string]string{"host": "10.0.0.5", "api_key": "k9"})
	require.NoError(t, err)
	assert.Equal(t, ResultAbort, result.Type)
	assert.Equal(t, "already_configured", result.Reason)
	assert.Len(t, All(), 1)
}

func TestFlowSingleInstance(t *testing.T) {
	setup()
	solo := &testIntegration{domain: "solo", single: true}
	RegisterIntegration(solo)

	result, err := StartFlow("solo")
	require.NoError(t, err)
	result, err = SubmitFlow(result.FlowID, map[string]string{"host": "10.0.1.1", "api_key": "k1"})
	require.NoError(t, err)
	require.Equal(t, ResultCreateEntry, result.Type)

	result, err = StartFlow("solo")
	require.NoError(t, err)
	assert.Equal(t, ResultAbort, result.Type)
	assert.Equal(t, "single_instance_allowed", result.Reason)
}

func TestDiscoveryFlow(t *testing.T) {
	setup()

	result, err := StartDiscovery("acme", map[string]string{"host": "10.0.0.7", "name": "Found Hub"})
	require.NoError(t, err)
	assert.Equal(t, ResultForm, result.Type)
	// discovered host prefills the form
	assert.Equal(t, "10.0.0.7", result.Schema[0].Default)

	again, err := StartDiscovery("acme", map[string]string{"host": "10.0.0.7"})
	require.NoError(t, err)
	assert.Equal(t, "already_in_progress", again.Reason)

	result, err = SubmitFlow(result.FlowID, map[string]string{"host": "10.0.0.7", "api_key": "k1"})
	require.NoError(t, err)
	require.Equal(t, ResultCreateEntry, result.Type)

	again, err = StartDiscovery("acme", map[string]string{"host": "10.0.0.7"})
	require.NoError(t, err)
	assert.Equal(t, "already_configured", again.Reason)
}

func TestReauthFlow(t *testing.T) {
	ti := setup()
	id := configure(t, "10.0.0.9")

	NotifyAuthFailure(id)
	e, _ := Get(id)
	assert.Equal(t, StateAuthFailed, e.State)

	active := ActiveFlows()
	require.Len(t, active, 1)
	assert.Equal(t, SourceReauth, active[0].Source)
	assert.Equal(t, id, active[0].EntryID)

	// an alert goes out so someone fixes the credentials
	em := services.Publisher.(*dummy.Publisher)
	alerted := false
	for _, ev := range em.Events {
		if ev.Topic == "alert" {
			alerted = true
		}
	}
	assert.True(t, alerted)

	// repeated failures do not stack up flows
	NotifyAuthFailure(id)
	assert.Len(t, ActiveFlows(), 1)

	result, err := SubmitFlow(active[0].ID, map[string]string{"api_key": "fresh"})
	require.NoError(t, err)
	assert.Equal(t, ResultAbort, result.Type)
	assert.Equal(t, "reauth_successful", result.Reason)

	e, _ = Get(id)
	assert.Equal(t, "fresh", e.Data["api_key"])
	assert.Equal(t, StateLoaded, e.State)
	assert.Len(t, ti.setups, 2)
	assert.Empty(t, ActiveFlows())
}

func TestFlowAbandonAndExpiry(t *testing.T) {
	setup()

	result, err := StartFlow("acme")
	require.NoError(t, err)
	require.NoError(t, AbandonFlow(result.FlowID))
	assert.Empty(t, ActiveFlows())
	assert.Equal(t, ErrUnknownFlow, errors.Cause(AbandonFlow(result.FlowID)))

	result, err = StartFlow("acme")
	require.NoError(t, err)
	mu.Lock()
	flows[result.FlowID].created = time.Now().Add(-flowTTL - time.Minute)
	mu.Unlock()
	_, err = SubmitFlow(result.FlowID, map[string]string{"host": "10.0.0.5", "api_key": "k1"})
	assert.Equal(t, ErrUnknownFlow, errors.Cause(err))
}

func TestFlowUnknownDomain(t *testing.T) {
	setup()
	_, err := StartFlow("nonexistent")
	assert.Error(t, err)
	_, err = SubmitFlow("nonexistent", map[string]string{})
	assert.Equal(t, ErrUnknownFlow, errors.Cause(err))
}
