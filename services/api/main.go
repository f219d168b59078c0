// Package api is a service providing an HTTP REST API to access hearth and
// control entities.
//
// The endpoints supported are:
//
// http://localhost:8723/api/status - hub status summary
//
// http://localhost:8723/api/states - all entity states
//
// http://localhost:8723/api/states/{entity} - state of one entity
//
// http://localhost:8723/api/devices - devices and their entities
//
// http://localhost:8723/api/entries - config entries, DELETE {id} to remove,
// POST {id}/reload to reload
//
// http://localhost:8723/api/manifests - manifests of the registered integrations
//
// http://localhost:8723/api/flows - config flows: POST {"domain":...} to start,
// POST /api/flows/{id} with input to submit, DELETE to abandon
//
// http://localhost:8723/api/services/control?entity=id&command=on - switch an entity on or off
//
// http://localhost:8723/api/query/{query} - query a service, e.g. /api/query/example/status
//
// http://localhost:8723/api/events/feed - continuous live stream of events (line delimited)
//
// http://localhost:8723/api/config?path=hearth/config - GET configuration or POST to update
//
// http://localhost:8723/api/websocket - websocket: auth handshake, then
// subscribe_events/get_states/call_service commands
//
// Requests need Authorization: Bearer {token} when a token is configured.
package api

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/config"
	"github.com/hearth-home/hearth/entries"
	"github.com/hearth-home/hearth/manifest"
	"github.com/hearth-home/hearth/pubsub"
	"github.com/hearth-home/hearth/registry"
	"github.com/hearth-home/hearth/services"
	"github.com/hearth-home/hearth/util"
)

// Service api
type Service struct {
}

// ID of the service
func (service *Service) ID() string {
	return "api"
}

var started = time.Now()

func errorResponse(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), 500)
}

func notFound(w http.ResponseWriter, what string) {
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintf(w, "not found: %s", what)
}

func apiIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", "text/html")
	fmt.Fprintf(w, "<html>Hearth is listening</html>")
}

func jsonResponse(w http.ResponseWriter, obj interface{}) {
	w.Header().Add("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	err := enc.Encode(obj)
	if err != nil {
		errorResponse(w, err)
	}
}

func apiStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]interface{}{
		"entities": len(registry.All()),
		"entries":  len(entries.All()),
		"flows":    len(entries.ActiveFlows()),
		"services": services.Enabled(),
		"uptime":   util.FriendlyDuration(time.Since(started)),
	})
}

func apiStates(w http.ResponseWriter, r *http.Request) {
	states := registry.States()
	if states == nil {
		states = []registry.State{}
	}
	jsonResponse(w, states)
}

func apiStatesSingle(w http.ResponseWriter, r *http.Request, params map[string]string) {
	state, ok := registry.GetState(params["entity"])
	if !ok {
		notFound(w, params["entity"])
		return
	}
	jsonResponse(w, state)
}

func apiDevices(w http.ResponseWriter, r *http.Request) {
	devices := registry.Devices()
	if devices == nil {
		devices = []registry.Device{}
	}
	jsonResponse(w, devices)
}

func apiEntries(w http.ResponseWriter, r *http.Request) {
	all := entries.All()
	if all == nil {
		all = []*entries.Entry{}
	}
	jsonResponse(w, all)
}

func apiEntriesDelete(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if err := entries.Remove(params["id"]); err != nil {
		notFound(w, params["id"])
		return
	}
	jsonResponse(w, true)
}

func apiEntriesReload(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if err := entries.Reload(params["id"]); err != nil {
		if errors.Cause(err) == entries.ErrUnknownEntry {
			notFound(w, params["id"])
			return
		}
		// entry exists but setup failed - report its state
	}
	entry, _ := entries.Get(params["id"])
	jsonResponse(w, entry)
}

func apiManifests(w http.ResponseWriter, r *http.Request) {
	manifests := entries.Manifests()
	if manifests == nil {
		manifests = []manifest.Manifest{}
	}
	jsonResponse(w, manifests)
}

func apiFlows(w http.ResponseWriter, r *http.Request) {
	flows := entries.ActiveFlows()
	if flows == nil {
		flows = []*entries.Flow{}
	}
	jsonResponse(w, flows)
}

func apiFlowsStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Domain string `json:"domain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	result, err := entries.StartFlow(body.Domain)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	jsonResponse(w, result)
}

func apiFlowsSubmit(w http.ResponseWriter, r *http.Request, params map[string]string) {
	input := map[string]string{}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	result, err := entries.SubmitFlow(params["id"], input)
	if err != nil {
		if errors.Cause(err) == entries.ErrUnknownFlow {
			notFound(w, params["id"])
			return
		}
		errorResponse(w, err)
		return
	}
	jsonResponse(w, result)
}

func apiFlowsAbandon(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if err := entries.AbandonFlow(params["id"]); err != nil {
		notFound(w, params["id"])
		return
	}
	jsonResponse(w, true)
}

func apiControl(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("entity")
	if id == "" {
		id = q.Get("id")
	}
	command := q.Get("command")
	if command == "" {
		if q.Get("control") == "1" {
			command = "on"
		} else {
			command = "off"
		}
	}
	level := 0
	if l := q.Get("level"); l != "" {
		level, _ = strconv.Atoi(l)
	}

	matches := registry.MatchEntities(id)
	if len(matches) == 0 {
		notFound(w, id)
		return
	}
	for _, entity := range matches {
		services.Publisher.Emit(pubsub.NewCommand(entity, command, level))
	}
	jsonResponse(w, matches)
}

func query(endpoint string, q string, w http.ResponseWriter) {
	w.Header().Add("Content-Type", "application/json; charset=utf-8")

	ch := services.QueryChannel(endpoint+" "+q, 500*time.Millisecond)

	for ev := range ch {
		fmt.Fprintf(w, ev.String()+"\r\n")
		w.(http.Flusher).Flush()
	}
}

func apiQuery(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Path[len("/api/query/"):]
	q := r.URL.Query().Get("q")
	query(endpoint, q, w)
}

func apiEventsFeed(w http.ResponseWriter, r *http.Request) {
	topics := r.URL.Query().Get("topics")
	w.Header().Add("Content-Type", "application/json; boundary=NL")

	var ch <-chan *pubsub.Event
	if topics != "" {
		ch = services.Subscriber.Subscribe(pubsub.Prefixes(strings.Split(topics, ","))...)
	} else {
		ch = services.Subscriber.Subscribe(pubsub.All())
	}
	defer services.Subscriber.Close(ch)

	encoder := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := encoder.Encode(ev.Map()); err != nil {
				return
			}
			w.Write([]byte("\r\n")) // separator
			w.(http.Flusher).Flush()
		}
	}
}

// apiConfig reads or updates configuration in the store. Updates are
// announced with a retained config event carrying the yaml, which running
// services pick up live.
func apiConfig(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if !strings.HasPrefix(path, "hearth/config") {
		http.Error(w, "path must begin with 'hearth/config'", 400)
		return
	}

	if r.Method == "POST" {
		data, err := ioutil.ReadAll(r.Body)
		if err != nil {
			errorResponse(w, err)
			return
		}
		if path == "hearth/config" {
			if _, err := config.OpenRaw(data); err != nil {
				http.Error(w, fmt.Sprintf("invalid config: %s", err), 400)
				return
			}
		}

		value, _ := services.Stor.Get(path)
		sout := string(data)
		if sout != value {
			services.Stor.Set(path, sout)
			topic := strings.TrimPrefix(path, "hearth/")
			ev := pubsub.NewEvent(topic, pubsub.Fields{"config": sout})
			ev.SetRetained(true)
			services.Publisher.Emit(ev)
			log.Printf("%s changed, emitted config event", path)
		}
		jsonResponse(w, true)
		return
	}

	value, err := services.Stor.Get(path)
	if err != nil {
		notFound(w, path)
		return
	}
	w.Header().Add("Content-Type", "application/yaml; charset=utf-8")
	w.Write([]byte(value))
}

func vars(fn func(http.ResponseWriter, *http.Request, map[string]string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(w, r, mux.Vars(r))
	}
}

func router() *mux.Router {
	router := mux.NewRouter()
	router.Path("/").HandlerFunc(apiIndex)
	router.Path("/api/status").HandlerFunc(apiStatus)
	router.Path("/api/states").HandlerFunc(apiStates)
	router.Path("/api/states/{entity}").HandlerFunc(vars(apiStatesSingle))
	router.Path("/api/devices").HandlerFunc(apiDevices)
	router.Path("/api/entries").HandlerFunc(apiEntries)
	router.Path("/api/entries/{id}").Methods("DELETE").HandlerFunc(vars(apiEntriesDelete))
	router.Path("/api/entries/{id}/reload").Methods("POST").HandlerFunc(vars(apiEntriesReload))
	router.Path("/api/manifests").HandlerFunc(apiManifests)
	router.Path("/api/flows").Methods("POST").HandlerFunc(apiFlowsStart)
	router.Path("/api/flows").HandlerFunc(apiFlows)
	router.Path("/api/flows/{id}").Methods("POST").HandlerFunc(vars(apiFlowsSubmit))
	router.Path("/api/flows/{id}").Methods("DELETE").HandlerFunc(vars(apiFlowsAbandon))
	router.Path("/api/services/control").HandlerFunc(apiControl)
	router.PathPrefix("/api/query/").HandlerFunc(apiQuery)
	router.Path("/api/events/feed").HandlerFunc(apiEventsFeed)
	router.Path("/api/config").HandlerFunc(apiConfig)
	router.Path("/api/websocket").HandlerFunc(apiWebsocket)
	return router
}

type loggingHandler struct {
	Handler http.Handler
}

func (service loggingHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	log.Printf("%s %s\n", req.Method, req.RequestURI)
	service.Handler.ServeHTTP(w, req)
}

// authHandler checks the configured bearer token. The index page and the
// websocket (which has its own auth handshake) are open.
type authHandler struct {
	Handler http.Handler
}

func (h authHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	token := ""
	if services.Config != nil {
		token = services.Config.Endpoints.Api.Token
	}
	switch {
	case token == "",
		req.URL.Path == "/",
		req.URL.Path == "/api/websocket",
		req.Header.Get("Authorization") == "Bearer "+token,
		req.URL.Query().Get("token") == token:
		h.Handler.ServeHTTP(w, req)
	default:
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func httpEndpoint() {
	// logging is innermost so ResponseWriter.Flush stays accessible
	var handler http.Handler = router()
	handler = loggingHandler{Handler: handler}
	handler = authHandler{Handler: handler}
	// Allow CORS (so the api can be used from browser frontends)
	corsHandler := CORSHandler{Handler: handler}
	corsHandler.SupportsCredentials = true
	corsHandler.AllowHeaders = func(headers []string) bool {
		for _, header := range headers {
			if header != "accept" && header != "authorization" && header != "content-type" {
				return false
			}
		}
		return true
	}
	http.Handle("/", corsHandler)
	addr := ":8723"
	if services.Config != nil && services.Config.Endpoints.Api.Addr != "" {
		addr = services.Config.Endpoints.Api.Addr
	}
	log.Println("Listening on " + addr)
	err := http.ListenAndServe(addr, nil)
	if err != nil {
		log.Fatalln(err)
	}
}

// recordConfig persists config events to the store, so config pushed over
// the bus (hearth config set) reads back over the api.
func recordConfig() {
	for ev := range services.Subscriber.Subscribe(pubsub.Exact("config"), pubsub.Prefix("config/")) {
		value := ev.StringField("config")
		if value == "" {
			continue
		}
		key := "hearth/" + ev.Topic
		if current, _ := services.Stor.Get(key); current != value {
			services.Stor.Set(key, value)
		}
	}
}

// Run the service
func (service *Service) Run() error {
	go recordConfig()
	httpEndpoint()
	return nil
}
