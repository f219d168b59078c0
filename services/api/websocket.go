package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hearth-home/hearth/pubsub"
	"github.com/hearth-home/hearth/registry"
	"github.com/hearth-home/hearth/services"
)

var upgrader = websocket.Upgrader{
	// cross-origin access is governed by the auth handshake
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsCommand is a client message: the auth handshake or a numbered command.
type wsCommand struct {
	ID          int      `json:"id"`
	Type        string   `json:"type"`
	AccessToken string   `json:"access_token,omitempty"`
	Topics      []string `json:"topics,omitempty"`
	Entity      string   `json:"entity,omitempty"`
	Command     string   `json:"command,omitempty"`
	Level       int      `json:"level,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes from the event pumps
	subs []<-chan *pubsub.Event
}

func apiWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Websocket upgrade:", err)
		return
	}
	client := &wsClient{conn: conn}
	client.serve()
}

// writeTimeout bounds how long a stalled client can block an event pump,
// and with it bus dispatch.
const writeTimeout = 10 * time.Second

func (ws *wsClient) send(v interface{}) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.conn.WriteJSON(v)
}

func (ws *wsClient) result(id int, success bool, result interface{}) {
	ws.send(map[string]interface{}{
		"id":      id,
		"type":    "result",
		"success": success,
		"result":  result,
	})
}

// serve runs the auth handshake, then handles commands until the client
// goes away.
func (ws *wsClient) serve() {
	defer func() {
		for _, ch := range ws.subs {
			services.Subscriber.Close(ch)
		}
		ws.conn.Close()
	}()

	ws.send(map[string]string{"type": "auth_required"})
	var auth wsCommand
	if err := ws.conn.ReadJSON(&auth); err != nil {
		return
	}
	token := ""
	if services.Config != nil {
		token = services.Config.Endpoints.Api.Token
	}
	if auth.Type != "auth" || (token != "" && auth.AccessToken != token) {
		ws.send(map[string]string{"type": "auth_invalid", "message": "invalid access token"})
		return
	}
	ws.send(map[string]string{"type": "auth_ok"})

	for {
		var cmd wsCommand
		if err := ws.conn.ReadJSON(&cmd); err != nil {
			return
		}
		switch cmd.Type {
		case "subscribe_events":
			var ch <-chan *pubsub.Event
			if len(cmd.Topics) > 0 {
				ch = services.Subscriber.Subscribe(pubsub.Prefixes(cmd.Topics)...)
			} else {
				ch = services.Subscriber.Subscribe(pubsub.All())
			}
			ws.subs = append(ws.subs, ch)
			go ws.pump(cmd.ID, ch)
			ws.result(cmd.ID, true, nil)
		case "get_states":
			states := registry.States()
			if states == nil {
				states = []registry.State{}
			}
			ws.result(cmd.ID, true, states)
		case "call_service":
			matches := registry.MatchEntities(cmd.Entity)
			for _, entity := range matches {
				services.Publisher.Emit(pubsub.NewCommand(entity, cmd.Command, cmd.Level))
			}
			ws.result(cmd.ID, len(matches) > 0, matches)
		default:
			ws.send(map[string]interface{}{
				"id":      cmd.ID,
				"type":    "result",
				"success": false,
				"error":   map[string]string{"code": "unknown_command"},
			})
		}
	}
}

// pump relays bus events to the client until the subscription closes.
func (ws *wsClient) pump(id int, ch <-chan *pubsub.Event) {
	for ev := range ch {
		msg := map[string]interface{}{
			"id":    id,
			"type":  "event",
			"event": ev.Map(),
		}
		if err := ws.send(msg); err != nil {
			return
		}
	}
}
