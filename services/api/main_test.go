package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-home/hearth/config"
	"github.com/hearth-home/hearth/pubsub"
	"github.com/hearth-home/hearth/pubsub/dummy"
	"github.com/hearth-home/hearth/registry"
	"github.com/hearth-home/hearth/services"
)

func Example_interfaces() {
	var _ services.Service = (*Service)(nil)
	// Output:
}

func ExampleIndex() {
	rec := httptest.NewRecorder()
	r := http.Request{}
	apiIndex(rec, &r)
	fmt.Println(rec.Body)
	// Output:
	// <html>Hearth is listening</html>
}

var envOnce sync.Once

// setupEnv seeds the store and registry once. The registry keeps memory for
// the life of the test binary, so the store must too.
func setupEnv() {
	envOnce.Do(func() {
		services.Config = config.ExampleConfig
		services.Stor = services.NewMockStore()
		services.Publisher = &dummy.Publisher{}
		registry.Add("apitest", registry.Entity{
			UniqueID: "apitest_switch",
			Name:     "Porch Light",
			Domain:   "switch",
		})
		registry.SetState("switch.porch_light", "off", nil)
	})
	services.Publisher = &dummy.Publisher{}
}

func get(t *testing.T, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router().ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

func TestStates(t *testing.T) {
	setupEnv()
	rec := get(t, "/api/states")
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "switch.porch_light")

	rec = get(t, "/api/states/switch.porch_light")
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"off"`)

	rec = get(t, "/api/states/sensor.nonexistent")
	assert.Equal(t, 404, rec.Code)
	assert.Equal(t, "not found: sensor.nonexistent", rec.Body.String())
}

func TestStatus(t *testing.T) {
	setupEnv()
	rec := get(t, "/api/status")
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"entities"`)
	assert.Contains(t, rec.Body.String(), `"uptime"`)
}

func TestControl(t *testing.T) {
	setupEnv()
	registry.Add("apitest", registry.Entity{
		UniqueID: "apitest_switch2",
		Name:     "Back Door",
		Domain:   "switch",
	})
	em := &dummy.Publisher{}
	services.Publisher = em

	// entity= addresses exactly the named switch, not every switch
	rec := get(t, "/api/services/control?entity=switch.porch_light&command=on")
	assert.Equal(t, 200, rec.Code)
	require.Len(t, em.Events, 1)
	assert.Equal(t, "command", em.Events[0].Topic)
	assert.Equal(t, "on", em.Events[0].Command())
	assert.Equal(t, "switch.porch_light", em.Events[0].Entity())

	rec = get(t, "/api/services/control?id=switch.porch_light&control=1")
	assert.Equal(t, 200, rec.Code)
	require.Len(t, em.Events, 2)
	assert.Equal(t, "on", em.Events[1].Command())

	rec = get(t, "/api/services/control?id=porch&command=off&level=3")
	assert.Equal(t, 200, rec.Code)
	require.Len(t, em.Events, 3)
	assert.Equal(t, "off", em.Events[2].Command())

	rec = get(t, "/api/services/control?id=nothing&control=1")
	assert.Equal(t, 404, rec.Code)

	rec = get(t, "/api/services/control?command=on")
	assert.Equal(t, 404, rec.Code)
	require.Len(t, em.Events, 3)
}

func TestEntriesAndFlows(t *testing.T) {
	setupEnv()

	rec := get(t, "/api/entries")
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = get(t, "/api/manifests")
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = get(t, "/api/flows")
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = httptest.NewRecorder()
	router().ServeHTTP(rec, httptest.NewRequest("POST", "/api/flows", strings.NewReader(`{"domain":"nonexistent"}`)))
	assert.Equal(t, 400, rec.Code)

	rec = httptest.NewRecorder()
	router().ServeHTTP(rec, httptest.NewRequest("POST", "/api/flows/zzz", strings.NewReader(`{"host":"x"}`)))
	assert.Equal(t, 404, rec.Code)

	rec = httptest.NewRecorder()
	router().ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/entries/zzz", nil))
	assert.Equal(t, 404, rec.Code)

	rec = httptest.NewRecorder()
	router().ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/flows/zzz", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestConfigEndpoint(t *testing.T) {
	setupEnv()
	em := services.Publisher.(*dummy.Publisher)

	rec := httptest.NewRecorder()
	router().ServeHTTP(rec, httptest.NewRequest("POST", "/api/config?path=hearth/config", strings.NewReader(config.ExampleYaml)))
	require.Equal(t, 200, rec.Code)

	value, err := services.Stor.Get("hearth/config")
	require.NoError(t, err)
	assert.Equal(t, config.ExampleYaml, value)

	require.Len(t, em.Events, 1)
	ev := em.Events[0]
	assert.Equal(t, "config", ev.Topic)
	assert.True(t, ev.Retained)
	assert.Equal(t, config.ExampleYaml, ev.StringField("config"))

	// unchanged config does not emit again
	rec = httptest.NewRecorder()
	router().ServeHTTP(rec, httptest.NewRequest("POST", "/api/config?path=hearth/config", strings.NewReader(config.ExampleYaml)))
	assert.Len(t, em.Events, 1)

	rec = get(t, "/api/config?path=hearth/config")
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, config.ExampleYaml, rec.Body.String())

	rec = httptest.NewRecorder()
	router().ServeHTTP(rec, httptest.NewRequest("POST", "/api/config?path=hearth/config", strings.NewReader("{")))
	assert.Equal(t, 400, rec.Code)

	rec = get(t, "/api/config?path=other/key")
	assert.Equal(t, 400, rec.Code)
}

func TestEventsFeed(t *testing.T) {
	setupEnv()
	services.Subscriber = &dummy.Subscriber{Events: []*pubsub.Event{
		pubsub.NewEvent("state/switch.porch_light", pubsub.Fields{"state": "on"}),
		pubsub.NewEvent("command", pubsub.Fields{"entity": "switch.porch_light", "command": "off"}),
	}}

	rec := get(t, "/api/events/feed?topics=command")
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"topic":"command"`)
	assert.NotContains(t, rec.Body.String(), "state/switch.porch_light")

	services.Subscriber = &dummy.Subscriber{Events: []*pubsub.Event{
		pubsub.NewEvent("state/switch.porch_light", pubsub.Fields{"state": "on"}),
		pubsub.NewEvent("command", pubsub.Fields{"entity": "switch.porch_light", "command": "off"}),
	}}
	rec = get(t, "/api/events/feed")
	assert.Contains(t, rec.Body.String(), "state/switch.porch_light")
	assert.Contains(t, rec.Body.String(), `"topic":"command"`)
}

func TestAuthHandler(t *testing.T) {
	setupEnv()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	h := authHandler{Handler: inner}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/states", nil))
	assert.Equal(t, 401, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/states", nil)
	req.Header.Set("Authorization", "Bearer hunter2")
	h.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/states", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	h.ServeHTTP(rec, req)
	assert.Equal(t, 401, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/events/feed?token=hunter2", nil))
	assert.Equal(t, 200, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, 200, rec.Code)
}

func TestCORSHandler(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	c := CORSHandler{Handler: inner, SupportsCredentials: true}
	c.AllowHeaders = func(headers []string) bool {
		for _, header := range headers {
			if header != "accept" && header != "authorization" {
				return false
			}
		}
		return true
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/states", nil)
	req.Header.Set("Origin", "http://frontend.local")
	c.ServeHTTP(rec, req)
	assert.Equal(t, "http://frontend.local", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("OPTIONS", "/api/states", nil)
	req.Header.Set("Origin", "http://frontend.local")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	c.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "GET, POST, DELETE, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("OPTIONS", "/api/states", nil)
	req.Header.Set("Origin", "http://frontend.local")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("Access-Control-Request-Headers", "X-Evil")
	c.ServeHTTP(rec, req)
	assert.Equal(t, 403, rec.Code)
}
