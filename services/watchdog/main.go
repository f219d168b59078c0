// Service for monitoring entities and services to ensure they're still alive
// and emitting events. Watches a given list of entity ids, marks them
// unavailable and alerts if an event has not been seen in a configurable time
// period, and likewise watches the heartbeats of running services.
package watchdog

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/hearth-home/hearth/pubsub"
	"github.com/hearth-home/hearth/registry"
	"github.com/hearth-home/hearth/services"
	"github.com/hearth-home/hearth/util"
)

type Watch struct {
	Entity      string
	Name        string
	Timeout     time.Duration
	Alerted     bool
	LastAlerted time.Time
	LastEvent   time.Time
}

type Watches []*Watch

func (self Watches) Less(i, j int) bool {
	return self[i].LastEvent.Before(self[j].LastEvent)
}

func (self Watches) Len() int {
	return len(self)
}

func (self Watches) Swap(i, j int) {
	self[i], self[j] = self[j], self[i]
}

var repeatInterval, _ = time.ParseDuration("12h")

func sendAlert(names string, state string, since time.Time) {
	log.Printf("Sending %s watchdog alert for: %s\n", state, names)
	ago := util.ShortDuration(time.Since(since))
	message := fmt.Sprintf("%s: %s since %s (%s ago)", state, names, since.Local().Format(time.Stamp), ago)
	services.SendAlert(message, services.Config.Watchdog.Alert, "", 0)
}

// Service watchdog
type Service struct {
	watches map[string]*Watch
}

func (self *Service) ID() string {
	return "watchdog"
}

func (self *Service) checkEvent(ev *pubsub.Event) {
	// ignore the unavailable markings emitted below
	if ev.StringField("state") == "unavailable" {
		return
	}
	w := self.watches[ev.Entity()]
	if w == nil {
		return
	}

	// recovered?
	if w.Alerted {
		w.Alerted = false
		sendAlert(w.Name, "RECOVERED", w.LastEvent)
		if _, ok := registry.Get(w.Entity); ok {
			registry.SetAvailable(w.Entity, true)
		}
	}
	w.LastEvent = ev.Timestamp
}

func (self *Service) checkTimeouts() {
	timeouts := []string{}
	var lastEvent time.Time
	for id, w := range self.watches {
		if w.Alerted {
			// check if should repeat
			if time.Since(w.LastAlerted) > repeatInterval {
				timeouts = append(timeouts, w.Name)
				lastEvent = w.LastEvent
				w.LastAlerted = time.Now()
			}
		} else if time.Since(w.LastEvent) > w.Timeout {
			// first alert
			timeouts = append(timeouts, w.Name)
			lastEvent = w.LastEvent
			w.Alerted = true
			w.LastAlerted = time.Now()
			if _, ok := registry.Get(id); ok {
				registry.SetAvailable(id, false)
			}
		}
	}

	// send a single alert for multiple entities
	if len(timeouts) > 0 {
		sendAlert(strings.Join(timeouts, ", "), "PROBLEM", lastEvent)
	}
}

func (self *Service) setup() {
	self.watches = map[string]*Watch{}
	now := time.Now()
	for entity, timeout := range services.Config.Watchdog.Entities {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			log.Println("Failed to parse timeout:", timeout)
			continue
		}
		name := entity
		if e, ok := registry.Get(entity); ok {
			name = e.Name
		}
		// give entities a grace period for the first event
		self.watches[entity] = &Watch{
			Entity:    entity,
			Name:      name,
			Timeout:   duration,
			LastEvent: now,
		}
	}

	// monitor service heartbeats
	for _, name := range services.Config.Watchdog.Services {
		entity := fmt.Sprintf("heartbeat.%s", name)
		// if a service misses 2 heartbeats, mark as problem
		self.watches[entity] = &Watch{
			Entity:    entity,
			Name:      fmt.Sprintf("Service %s", name),
			Timeout:   time.Second * 121,
			LastEvent: now,
		}
	}
}

func (self *Service) Run() error {
	self.setup()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	events := services.Subscriber.Subscribe(pubsub.Prefix("state"), pubsub.Exact("heartbeat"))
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			self.checkEvent(ev)
		case <-ticker.C:
			self.checkTimeouts()
		}
	}
}

func (self *Service) QueryHandlers() services.QueryHandlers {
	return services.QueryHandlers{
		"status": services.TextHandler(self.queryStatus),
		"help":   services.StaticHandler("status: get status\n"),
	}
}

func (self *Service) queryStatus(q services.Question) string {
	var out string
	var list Watches
	for _, w := range self.watches {
		list = append(list, w)
	}
	// return oldest last
	sort.Sort(sort.Reverse(list))

	now := time.Now()
	for _, w := range list {
		problem := ""
		if w.Alerted {
			problem = "PROBLEM"
		}
		ago := util.ShortDuration(now.Sub(w.LastEvent))
		out += fmt.Sprintf("- %-6s %s %s\n", ago, w.Name, problem)
	}
	return out
}
