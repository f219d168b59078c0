// Service integrating example devices: polled temperature, humidity and
// battery sensors plus a power switch, configured through a config flow.
package example

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hearth-home/hearth/entries"
	"github.com/hearth-home/hearth/manifest"
	"github.com/hearth-home/hearth/pubsub"
	"github.com/hearth-home/hearth/registry"
	"github.com/hearth-home/hearth/services"
	"github.com/hearth-home/hearth/util"
)

const scanInterval = 30 * time.Second

// runtime is the per config entry state: the device client, its poller and
// the entity ids registered for it.
type runtime struct {
	client      *Client
	coordinator *services.Coordinator
	entities    map[string]string // entity type -> entity id
}

// Service example
type Service struct {
	mu       sync.Mutex
	runtimes map[string]*runtime
}

func (self *Service) ID() string {
	return "example"
}

func (self *Service) Manifest() manifest.Manifest {
	return manifest.Manifest{
		Domain:          "example",
		Name:            "Example Device",
		Version:         "1.0.0",
		ConfigFlow:      true,
		IntegrationType: "hub",
		IoTClass:        "local_polling",
		Zeroconf:        []string{"_example._tcp.local."},
	}
}

func (self *Service) SetupEntry(ctx context.Context, entry *entries.Entry) error {
	client := NewClient(entry.Data["host"], entry.Data["api_key"])
	if err := client.Authenticate(ctx); err != nil {
		return err
	}

	coordinator := services.NewCoordinator("example: "+entry.Title, scanInterval,
		func(ctx context.Context) (interface{}, error) {
			return client.FetchData(ctx)
		})
	if err := coordinator.FirstRefresh(ctx); err != nil {
		return err
	}

	data := coordinator.Data().(*DeviceData)
	device := &registry.DeviceInfo{
		Identifiers:  [][2]string{{"example", data.DeviceID}},
		Name:         data.Name,
		Manufacturer: "Example Manufacturer",
		Model:        data.Model,
		SwVersion:    data.Firmware,
	}
	rt := &runtime{
		client:      client,
		coordinator: coordinator,
		entities:    map[string]string{},
	}
	add := func(entityType string, e registry.Entity) {
		e.UniqueID = fmt.Sprintf("example_%s_%s", data.DeviceID, entityType)
		e.Device = device
		rt.entities[entityType] = registry.Add(entry.ID, e)
	}
	add("temperature", registry.Entity{
		Name:        "Temperature",
		Domain:      "sensor",
		DeviceClass: "temperature",
		StateClass:  "measurement",
		Unit:        "°C",
		Precision:   1,
	})
	add("humidity", registry.Entity{
		Name:        "Humidity",
		Domain:      "sensor",
		DeviceClass: "humidity",
		StateClass:  "measurement",
		Unit:        "%",
		Precision:   1,
	})
	add("battery", registry.Entity{
		Name:        "Battery",
		Domain:      "sensor",
		DeviceClass: "battery",
		StateClass:  "measurement",
		Unit:        "%",
	})
	add("power", registry.Entity{
		Name:   "Power",
		Domain: "switch",
	})

	entryID := entry.ID
	coordinator.AddListener(func() { self.publish(rt) })
	coordinator.OnAuthFailure(func() { entries.NotifyAuthFailure(entryID) })

	self.mu.Lock()
	if self.runtimes == nil {
		self.runtimes = map[string]*runtime{}
	}
	self.runtimes[entryID] = rt
	self.mu.Unlock()

	self.publish(rt)
	go coordinator.Run(ctx)
	return nil
}

func (self *Service) UnloadEntry(ctx context.Context, entry *entries.Entry) error {
	self.mu.Lock()
	rt, ok := self.runtimes[entry.ID]
	delete(self.runtimes, entry.ID)
	self.mu.Unlock()
	if !ok {
		return nil
	}
	for _, id := range rt.entities {
		registry.SetAvailable(id, false)
	}
	return nil
}

// publish pushes the coordinator's data into the registry. Entities go
// unavailable when polling fails or the device reports itself offline.
func (self *Service) publish(rt *runtime) {
	data, ok := rt.coordinator.Data().(*DeviceData)
	if !ok {
		return
	}
	if !rt.coordinator.Healthy() || !data.Online {
		for _, id := range rt.entities {
			registry.SetAvailable(id, false)
		}
		return
	}
	reading := func(name string, precision int) string {
		return strconv.FormatFloat(data.Sensors[name], 'f', precision, 64)
	}
	registry.SetState(rt.entities["temperature"], reading("temperature", 1), nil)
	registry.SetState(rt.entities["humidity"], reading("humidity", 1), nil)
	registry.SetState(rt.entities["battery"], reading("battery", 0), nil)
	power := "off"
	if data.Power {
		power = "on"
	}
	registry.SetState(rt.entities["power"], power, nil)
}

// findSwitch resolves an entity id to the runtime owning it as a switch.
func (self *Service) findSwitch(id string) *runtime {
	self.mu.Lock()
	defer self.mu.Unlock()
	for _, rt := range self.runtimes {
		if rt.entities["power"] == id {
			return rt
		}
	}
	return nil
}

func (self *Service) handleCommand(ev *pubsub.Event) {
	id := ev.Entity()
	rt := self.findSwitch(id)
	if rt == nil {
		return
	}
	command := ev.Command()
	if command != "on" && command != "off" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.client.SetPower(ctx, command == "on"); err != nil {
		services.SendAlert(fmt.Sprintf("%s failed to switch %s: %s", id, command, err), "", "", 0)
		return
	}
	registry.SetState(id, command, nil)
}

func (self *Service) queryStatus(q services.Question) string {
	self.mu.Lock()
	defer self.mu.Unlock()
	if len(self.runtimes) == 0 {
		return "no devices configured"
	}
	msg := ""
	for _, id := range util.SortedKeys(self.runtimes) {
		rt := self.runtimes[id]
		state := "unhealthy"
		if rt.coordinator.Healthy() {
			state = "healthy"
		}
		last := "never"
		if t := rt.coordinator.LastSuccess(); !t.IsZero() {
			last = util.ShortDuration(time.Since(t)) + " ago"
		}
		msg += fmt.Sprintf("%s: %s, last poll %s\n", id, state, last)
	}
	return msg
}

func (self *Service) QueryHandlers() services.QueryHandlers {
	return services.QueryHandlers{
		"status": services.TextHandler(self.queryStatus),
		"help":   services.StaticHandler("status: device polling status\n"),
	}
}

func (self *Service) Run() error {
	for ev := range services.Subscriber.Subscribe(pubsub.Prefix("command")) {
		self.handleCommand(ev)
	}
	return nil
}
