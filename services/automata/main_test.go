package automata

import (
	"testing"

	"github.com/barnybug/gofsm"
	"github.com/stretchr/testify/assert"

	"github.com/hearth-home/hearth/pubsub"
	"github.com/hearth-home/hearth/services"
)

var (
	evOn      = NewEventWrapper(pubsub.NewEvent("command", pubsub.Fields{"entity": "switch.porch", "command": "on", "timestamp": "2017-09-26 19:24:22.069"}))
	evState   = NewEventWrapper(pubsub.NewEvent("state", pubsub.Fields{"entity": "sensor.porch_temperature", "state": "unavailable", "timestamp": "2017-09-26 19:24:22.069"}))
	evTime    = NewEventWrapper(pubsub.NewEvent("time", pubsub.Fields{"entity": "time", "hhmm": "2230", "timestamp": "2017-09-26 22:30:00.000"}))
	evMissing = NewEventWrapper(pubsub.NewEvent("command", pubsub.Fields{"timestamp": "2017-09-26 19:24:22.069"}))
)

func ExampleInterfaces() {
	var _ services.Service = (*Service)(nil)
	var _ services.Queryable = (*Service)(nil)
	// Output:
}

func TestEventSimple(t *testing.T) {
	assert.True(t, evOn.Match("entity=='switch.porch' && command=='on'"))
	assert.False(t, evOn.Match("entity=='switch.porch' && command=='off'"))
}

func TestEventDomain(t *testing.T) {
	assert.True(t, evOn.Match("domain=='switch' && command=='on'"))
	assert.True(t, evState.Match("domain=='sensor' && state=='unavailable'"))
}

func TestEventTopic(t *testing.T) {
	assert.True(t, evState.Match("topic=='state'"))
	assert.False(t, evState.Match("topic=='command'"))
}

func TestEventOr(t *testing.T) {
	assert.True(t, evOn.Match("entity=='binary_sensor.front_door' && command=='off' || entity=='switch.porch' && command=='on'"))
	assert.True(t, evOn.Match("entity=='switch.porch' && command=='on' || entity=='binary_sensor.front_door' && command=='off'"))
}

func TestEventNotABoolean(t *testing.T) {
	assert.False(t, evOn.Match("'abc'"))
}

func TestBadExpression(t *testing.T) {
	assert.False(t, evOn.Match("blah()"))
}

var SimpleAutomata = `
simple:
  start: Start
  states:
    Start: {}
  transitions:
    Start: []
`

func TestStateFunction(t *testing.T) {
	assert.False(t, evOn.Match("State()"))
	automata, _ = gofsm.Load([]byte(SimpleAutomata))
	assert.True(t, evOn.Match("State('simple')=='Start'"))
	assert.False(t, evOn.Match("State('simple')=='Cobblers'"))
	assert.False(t, evOn.Match("State('blah')=='Cobblers'"))
}

func BenchmarkEventTrue(b *testing.B) {
	for i := 0; i < b.N; i++ {
		evOn.Match("entity=='binary_sensor.front_door' && command=='off' || entity=='switch.porch' && command=='on'")
	}
}

func BenchmarkEventSimple(b *testing.B) {
	for i := 0; i < b.N; i++ {
		evOn.Match("entity=='switch.porch' && command=='on'")
	}
}

func BenchmarkEventFalse(b *testing.B) {
	for i := 0; i < b.N; i++ {
		evMissing.Match("entity=='binary_sensor.front_door' && command=='off' || entity=='switch.porch' && command=='on'")
	}
}

func TestEventMissing(t *testing.T) {
	assert.False(t, evMissing.Match("entity=='switch.porch' && command=='on'"))
}

func TestEventTime(t *testing.T) {
	assert.False(t, evTime.Match("entity=='time' && hhmm=='2229'"))
	assert.True(t, evTime.Match("entity=='time' && hhmm=='2230'"))
}

func TestEventWrapperString(t *testing.T) {
	assert.Equal(t, "switch.porch command=on", evOn.String())
}
