package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFanoutDispatch(t *testing.T) {
	var fanout Fanout
	commands := fanout.Add([]Topic{Prefix("command")})
	all := fanout.Add([]Topic{All()})

	fanout.Dispatch(NewCommand("switch.porch", "on", 0))
	fanout.Dispatch(NewEvent("heartbeat", Fields{}))

	assert.Len(t, commands, 1)
	assert.Len(t, all, 2)
	ev := <-commands
	assert.Equal(t, "command/switch.porch", ev.Topic)
}

func TestFanoutRemove(t *testing.T) {
	var fanout Fanout
	ch := fanout.Add([]Topic{Exact("state/sensor.x")})
	topics := fanout.Remove(ch)
	assert.Len(t, topics, 1)
	_, open := <-ch
	assert.False(t, open)

	// dispatch after removal goes nowhere
	fanout.Dispatch(NewEvent("state/sensor.x", Fields{}))
}
