// Service for state machine based automation of behaviour. A whole variety of
// complex behaviour can be achieved by linking together triggering events and
// actions.
//
// This is the glue that links the hub's entities together in smart ways.
//
// Some examples:
//
// - switch on a light when a switch entity turns on
//
// - alert when the battery of a sensor runs low
//
// - at 22:30 dim the living room lights
//
// - a presence based alarm (when the house is empty, arm it)
//
// The automata are configured in yaml under the store key
// hearth/config/automata, editable at:
//
// http://localhost:8723/api/config?path=hearth/config/automata
//
// Transition conditions are expressions over the event fields plus entity,
// domain and topic, for example:
//
//	entity=='switch.porch' && command=='on'
//	domain=='sensor' && state=='unavailable'
//	entity=='time' && hhmm=='2230'
//	entity=='sun.sun' && command=='sunset'
//	State('alarm.house')=='Armed'
//
// For details of the state machine format, see:
//
// http://godoc.org/github.com/barnybug/gofsm
package automata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/barnybug/gofsm"

	"github.com/hearth-home/hearth/config"
	"github.com/hearth-home/hearth/pubsub"
	"github.com/hearth-home/hearth/registry"
	"github.com/hearth-home/hearth/services"
	"github.com/hearth-home/hearth/util"
	"github.com/pkg/errors"
)

const configKey = "hearth/config/automata"
const statePrefix = "hearth/state/automata"

var eventsLogPath = config.LogPath("events.log")

func openLogFile() *os.File {
	os.MkdirAll(path.Dir(eventsLogPath), 0755)
	logfile, err := os.OpenFile(eventsLogPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		log.Println("Couldn't open events.log:", err)
		logfile, _ = os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		return logfile
	}
	return logfile
}

var automata *gofsm.Automata

// Service automata
type Service struct {
	timers  map[string]*time.Timer
	persist chan persistMsg
	log     *os.File
}

func (self *Service) ID() string {
	return "automata"
}

type EventAction struct {
	service *Service
	event   *pubsub.Event
	change  gofsm.Change
}

type EventWrapper struct {
	event *pubsub.Event
}

func NewEventWrapper(event *pubsub.Event) EventWrapper {
	return EventWrapper{event}
}

func (self EventWrapper) String() string {
	s := self.event.Entity()
	if command := self.event.Command(); command != "" {
		s += fmt.Sprintf(" command=%s", command)
	} else if state := self.event.State(); state != "" {
		s += fmt.Sprintf(" state=%s", state)
	}
	return s
}

var functions = map[string]govaluate.ExpressionFunction{
	"State": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, errors.New("State() takes a single automaton name")
		}
		name, ok := args[0].(string)
		if !ok {
			return nil, errors.New("State() takes a string automaton name")
		}
		if automata == nil {
			return "", nil
		}
		if aut, ok := automata.Automaton[name]; ok {
			return aut.State.Name, nil
		}
		return "", nil
	},
}

var exprMu sync.Mutex
var exprCache = map[string]*govaluate.EvaluableExpression{}

func compile(when string) *govaluate.EvaluableExpression {
	exprMu.Lock()
	defer exprMu.Unlock()
	if expr, ok := exprCache[when]; ok {
		return expr
	}
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(when, functions)
	if err != nil {
		log.Printf("Bad condition %q: %s", when, err)
		expr = nil
	}
	exprCache[when] = expr
	return expr
}

// Match evaluates a transition condition against the event. The parameters
// available are the event fields plus entity, domain and topic.
func (self EventWrapper) Match(when string) bool {
	expr := compile(when)
	if expr == nil {
		return false
	}
	params := map[string]interface{}{}
	for k, v := range self.event.Fields {
		// json numbers evaluate as float64, match locally built events
		switch n := v.(type) {
		case int:
			params[k] = float64(n)
		case int64:
			params[k] = float64(n)
		default:
			params[k] = v
		}
	}
	entity := self.event.Entity()
	params["entity"] = entity
	params["domain"] = ""
	if i := strings.Index(entity, "."); i > 0 {
		params["domain"] = entity[:i]
	}
	params["topic"] = self.event.Topic

	result, err := expr.Evaluate(params)
	if err != nil {
		return false
	}
	b, ok := result.(bool)
	return ok && b
}

type persistMsg struct {
	name  string
	state gofsm.AutomatonState
}

func persistState(msg persistMsg) {
	value, _ := json.Marshal(msg.state)
	if err := services.Stor.Set(statePrefix+"/"+msg.name, string(value)); err != nil {
		log.Println("Persisting automata state failed:", err)
	}
}

func restoreState(aut *gofsm.Automata) {
	p := gofsm.AutomataState{}
	for name := range aut.Automaton {
		value, err := services.Stor.Get(statePrefix + "/" + name)
		if err != nil {
			// not yet persisted
			continue
		}
		var ps gofsm.AutomatonState
		if err := json.Unmarshal([]byte(value), &ps); err != nil {
			log.Println("Restoring automata state failed:", err)
			continue
		}
		p[name] = ps
	}
	aut.Restore(p)
}

// loadAutomata reads the yaml definitions from the store, expanding
// text/template directives with the entity registry.
func loadAutomata() (*gofsm.Automata, error) {
	data, err := services.Stor.Get(configKey)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New("automata").Parse(data)
	if err != nil {
		return nil, err
	}
	entities := map[string]registry.Entity{}
	for _, e := range registry.All() {
		entities[e.ID] = e
	}
	context := map[string]interface{}{
		"entities": entities,
	}
	wr := new(bytes.Buffer)
	if err := tmpl.Execute(wr, context); err != nil {
		return nil, err
	}
	return gofsm.Load(wr.Bytes())
}

func (self *Service) reload() {
	log.Println("Automata config updated, reloading")
	updated, err := loadAutomata()
	if err != nil {
		log.Println("Failed to reload automata:", err)
		return
	}
	restoreState(updated)
	automata = updated
	log.Println("Automata reloaded successfully")
}

func (self *Service) handleChange(change gofsm.Change) {
	trigger := change.Trigger.(EventWrapper)
	s := fmt.Sprintf("%-17s %s->%s", "["+change.Automaton+"]", change.Old, change.New)
	log.Printf("%-40s (event: %s)", s, trigger)
	if aut, ok := automata.Automaton[change.Automaton]; ok {
		self.persist <- persistMsg{change.Automaton, gofsm.AutomatonState{State: aut.State.Name, Since: aut.Since}}
	}
	if !strings.Contains(change.Automaton, ".") {
		return
	}
	// announce the change on the bus
	ps := strings.SplitN(change.Automaton, ".", 2)
	fields := pubsub.Fields{
		"source":  ps[1],
		"state":   change.New,
		"trigger": trigger.String(),
	}
	ev := pubsub.NewEvent(ps[0], fields)
	services.Publisher.Emit(ev)
}

func (self *Service) handleAction(action gofsm.Action) {
	wrapper := action.Trigger.(EventWrapper)
	ea := EventAction{self, wrapper.event, action.Change}
	if err := DynamicCall(ea, action.Name); err != nil {
		log.Println("Error:", err)
	}
}

// drain handles the changes and actions queued by a Process call.
func (self *Service) drain() {
	for {
		select {
		case change := <-automata.Changes:
			self.handleChange(change)
		case action := <-automata.Actions:
			self.handleAction(action)
		default:
			return
		}
	}
}

func (self *Service) processEvent(ev *pubsub.Event) {
	automata.Process(NewEventWrapper(ev))
	self.drain()
}

func (self *Service) Run() error {
	self.log = openLogFile()
	defer self.log.Close()
	self.timers = map[string]*time.Timer{}
	var err error
	automata, err = loadAutomata()
	if err != nil {
		return err
	}

	// persisting to the store can lag, run it in the background
	self.persist = make(chan persistMsg, 32)
	defer close(self.persist)
	go func() {
		for msg := range self.persist {
			persistState(msg)
		}
	}()

	restoreState(automata)
	log.Printf("Initial states: %s", automata)

	ticker := util.NewScheduler(0, time.Minute)
	events := services.Subscriber.Subscribe(pubsub.All())
	configEvents := services.Subscriber.Subscribe(pubsub.Exact("config/automata"))
	var earth chan TimeEvent
	if services.Config.Earth != (config.EarthConf{}) {
		// sunrise/light/dark/sunset triggers
		earth = earthChannel()
	}
	for {
		select {
		case tev := <-earth:
			ev := pubsub.NewEvent("sun", pubsub.Fields{"entity": "sun.sun", "command": tev.Event})
			services.Publisher.Emit(ev)
			self.processEvent(ev)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Command() == "" && ev.State() == "" {
				continue
			}
			self.processEvent(ev)
		case tick := <-ticker.C:
			// minute ticks let conditions match on the time of day
			ev := pubsub.NewEvent("time", pubsub.Fields{"entity": "time", "hhmm": tick.Format("1504")})
			self.processEvent(ev)
		case _, ok := <-configEvents:
			if !ok {
				configEvents = nil
				continue
			}
			self.reload()
		}
	}
}

func (self *Service) QueryHandlers() services.QueryHandlers {
	return services.QueryHandlers{
		"status": services.TextHandler(self.queryStatus),
		"switch": services.TextHandler(self.querySwitch),
		"logs":   services.TextHandler(self.queryLogs),
		"help": services.StaticHandler("" +
			"status: get automata states\n" +
			"switch entity on|off: switch an entity\n" +
			"logs: get recent event logs\n"),
	}
}

func (self *Service) queryStatus(q services.Question) string {
	if automata == nil {
		return ""
	}
	var out string
	now := time.Now()
	var keys []string
	for k := range automata.Automaton {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	group := ""
	for _, k := range keys {
		if g := strings.Split(k, ".")[0]; g != group {
			group = g
			out += group + "\n"
		}
		name := k
		if e, ok := registry.Get(k); ok && e.Name != "" {
			name = e.Name
		}
		aut := automata.Automaton[k]
		du := util.ShortDuration(now.Sub(aut.Since))
		out += fmt.Sprintf("- %s: %s for %s\n", name, aut.State.Name, du)
	}
	return out
}

func (self *Service) querySwitch(q services.Question) string {
	if q.Args == "" {
		// list the switchable entities
		var ids []string
		for _, e := range registry.All() {
			if e.Domain == "switch" {
				ids = append(ids, e.ID)
			}
		}
		sort.Strings(ids)
		return strings.Join(ids, ", ")
	}
	args := strings.Split(q.Args, " ")
	name := args[0]
	command := "on"
	if len(args) > 1 && args[1] == "off" {
		command = "off"
	}
	matches := registry.MatchEntities(name)
	if len(matches) == 0 {
		return fmt.Sprintf("entity %s not found", name)
	}
	if len(matches) > 1 {
		return fmt.Sprintf("%s is ambiguous: %s", name, strings.Join(matches, ", "))
	}
	ev := pubsub.NewCommand(matches[0], command, 0)
	services.Publisher.Emit(ev)
	return fmt.Sprintf("Switched %s %s", matches[0], command)
}

func tail(filename string, lines int64) ([]byte, error) {
	n := fmt.Sprintf("-n%d", lines)
	return exec.Command("tail", n, filename).Output()
}

func (self *Service) queryLogs(q services.Question) string {
	data, err := tail(eventsLogPath, 25)
	if err != nil {
		return fmt.Sprintf("Couldn't retrieve logs: %s", err)
	}
	return string(data)
}

func (self *Service) appendLog(msg string) {
	fmt.Fprintln(self.log, msg)
}

func (self EventAction) substitute(msg string) string {
	entity := self.event.Entity()
	name := entity
	if e, ok := registry.Get(entity); ok && e.Name != "" {
		name = e.Name
	}
	now := time.Now()
	vals := map[string]string{
		"name":      name,
		"duration":  util.FriendlyDuration(self.change.Duration),
		"timestamp": now.Format(time.Kitchen),
		"datetime":  now.Format(time.StampMilli),
	}
	return Substitute(msg, vals)
}

func (self EventAction) Log(msg string) {
	msg = self.substitute("$datetime: " + msg)
	self.service.appendLog(msg)
}

func (self EventAction) Alert(message string, target string) {
	message = self.substitute(message)
	log.Printf("Alert (%s): %s", target, message)
	services.SendAlert(message, target, "", 0)
}

func (self EventAction) Switch(entity string, state bool) {
	command := "off"
	if state {
		command = "on"
	}
	log.Printf("Switching %s %s", entity, command)
	ev := pubsub.NewCommand(entity, command, 0)
	services.Publisher.Emit(ev)
}

func (self EventAction) Script(cmd string) {
	log.Println("Script:", cmd)
	// run exec non-blocking
	go func() {
		cmd = util.ExpandUser(cmd)
		_, err := exec.Command(cmd).Output()
		if err != nil {
			log.Printf("Exec %s: %s", cmd, err)
		}
	}()
}

func (self EventAction) Flux(entity string, specs ...string) {
	args := make([]interface{}, len(specs))
	for i, s := range specs {
		args[i] = s
	}
	p, err := fluxParse(args)
	if err != nil {
		log.Println("Flux:", err)
		return
	}
	ev := fluxCommand(p, entity)
	services.Publisher.Emit(ev)
}

func (self EventAction) StartTimer(name string, d int64) {
	duration := time.Duration(d) * time.Second
	if timer, ok := self.service.timers[name]; ok {
		// cancel any existing
		timer.Stop()
	}

	timer := time.AfterFunc(duration, func() {
		// emit timer event
		fields := pubsub.Fields{
			"entity":  "timer." + name,
			"source":  name,
			"command": "on",
		}
		ev := pubsub.NewEvent("timer", fields)
		services.Publisher.Emit(ev)
	})
	self.service.timers[name] = timer
}
