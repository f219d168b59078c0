package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-home/hearth/pubsub"
	"github.com/hearth-home/hearth/pubsub/dummy"
	"github.com/hearth-home/hearth/services"
)

func dialWebsocket(t *testing.T, server *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebsocketAuthInvalid(t *testing.T) {
	setupEnv()
	server := httptest.NewServer(http.HandlerFunc(apiWebsocket))
	defer server.Close()

	conn := dialWebsocket(t, server)
	defer conn.Close()
	assert.Equal(t, "auth_required", readMessage(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "access_token": "wrong"}))
	assert.Equal(t, "auth_invalid", readMessage(t, conn)["type"])
}

func TestWebsocketSession(t *testing.T) {
	setupEnv()
	services.Subscriber = &dummy.Subscriber{Events: []*pubsub.Event{
		pubsub.NewEvent("alert", pubsub.Fields{"message": "hello"}),
	}}
	server := httptest.NewServer(http.HandlerFunc(apiWebsocket))
	defer server.Close()

	conn := dialWebsocket(t, server)
	defer conn.Close()
	assert.Equal(t, "auth_required", readMessage(t, conn)["type"])
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "access_token": "hunter2"}))
	assert.Equal(t, "auth_ok", readMessage(t, conn)["type"])

	// get_states returns the registry contents
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"id": 1, "type": "get_states"}))
	msg := readMessage(t, conn)
	assert.Equal(t, "result", msg["type"])
	assert.Equal(t, true, msg["success"])

	// subscribing replays the scripted alert
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"id": 2, "type": "subscribe_events", "topics": []string{"alert"},
	}))
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		msg = readMessage(t, conn)
		seen[msg["type"].(string)] = true
		if msg["type"] == "event" {
			event := msg["event"].(map[string]interface{})
			assert.Equal(t, "alert", event["topic"])
		}
	}
	assert.True(t, seen["result"])
	assert.True(t, seen["event"])

	// call_service emits a command
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"id": 3, "type": "call_service", "entity": "switch.porch_light", "command": "on",
	}))
	msg = readMessage(t, conn)
	assert.Equal(t, true, msg["success"])
	em := services.Publisher.(*dummy.Publisher)
	require.True(t, em.WaitFor(1))
	assert.Equal(t, "command", em.Events[0].Topic)

	// a missing entity commands nothing
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"id": 4, "type": "call_service", "command": "on",
	}))
	msg = readMessage(t, conn)
	assert.Equal(t, false, msg["success"])

	// unknown commands report an error
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"id": 5, "type": "bogus"}))
	msg = readMessage(t, conn)
	assert.Equal(t, false, msg["success"])
}
