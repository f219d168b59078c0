// Service monitoring host reachability by ICMP ping. Each configured host
// gets a connectivity binary_sensor and a round trip time sensor, useful for
// watching routers, bridges and anything else that should always answer.
package ping

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tatsushid/go-fastping"

	"github.com/hearth-home/hearth/entries"
	"github.com/hearth-home/hearth/manifest"
	"github.com/hearth-home/hearth/registry"
	"github.com/hearth-home/hearth/services"
	"github.com/hearth-home/hearth/util"
)

const defaultInterval = 30 * time.Second

// result of one ping round.
type result struct {
	Alive bool          `json:"alive"`
	RTT   time.Duration `json:"rtt"`
}

type runtime struct {
	host        string
	coordinator *services.Coordinator
	entities    map[string]string
}

// Service ping
type Service struct {
	mu       sync.Mutex
	runtimes map[string]*runtime
}

func (self *Service) ID() string {
	return "ping"
}

func (self *Service) Manifest() manifest.Manifest {
	return manifest.Manifest{
		Domain:          "ping",
		Name:            "Ping",
		Version:         "1.0.0",
		ConfigFlow:      true,
		IntegrationType: "device",
		IoTClass:        "local_polling",
	}
}

func interval() time.Duration {
	if conf := services.Config.Ping.Interval; conf != nil && conf.Duration > 0 {
		return conf.Duration
	}
	return defaultInterval
}

// pingOnce runs a single ping round against the host, waiting up to 4
// seconds for an answer.
func pingOnce(host string) (*result, error) {
	addr, err := net.ResolveIPAddr("ip4:icmp", host)
	if err != nil {
		return nil, errors.Wrapf(services.ErrCannotConnect, "resolving %s: %s", host, err)
	}
	p := fastping.NewPinger()
	p.MaxRTT = 4 * time.Second
	p.AddIPAddr(addr)
	res := &result{}
	p.OnRecv = func(addr *net.IPAddr, rtt time.Duration) {
		res.Alive = true
		res.RTT = rtt
	}
	if err := p.Run(); err != nil {
		// typically a missing raw socket capability
		return nil, errors.Wrapf(services.ErrCannotConnect, "pinging %s: %s", host, err)
	}
	return res, nil
}

func (self *Service) SetupEntry(ctx context.Context, entry *entries.Entry) error {
	host := entry.Data["host"]
	coordinator := services.NewCoordinator("ping: "+host, interval(),
		func(ctx context.Context) (interface{}, error) {
			return pingOnce(host)
		})
	if err := coordinator.FirstRefresh(ctx); err != nil {
		return err
	}

	device := &registry.DeviceInfo{
		Identifiers: [][2]string{{"ping", host}},
		Name:        entry.Title,
	}
	rt := &runtime{
		host:        host,
		coordinator: coordinator,
		entities:    map[string]string{},
	}
	add := func(entityType string, e registry.Entity) {
		e.UniqueID = fmt.Sprintf("ping_%s_%s", host, entityType)
		e.Device = device
		rt.entities[entityType] = registry.Add(entry.ID, e)
	}
	add("connectivity", registry.Entity{
		Name:        "Connectivity",
		Domain:      "binary_sensor",
		DeviceClass: "connectivity",
	})
	add("round_trip_time", registry.Entity{
		Name:       "Round Trip Time",
		Domain:     "sensor",
		StateClass: "measurement",
		Unit:       "ms",
		Category:   "diagnostic",
	})

	coordinator.AddListener(func() { publish(rt) })

	self.mu.Lock()
	if self.runtimes == nil {
		self.runtimes = map[string]*runtime{}
	}
	self.runtimes[entry.ID] = rt
	self.mu.Unlock()

	publish(rt)
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

func publish(rt *runtime) {
	res, ok := rt.coordinator.Data().(*result)
	if !ok {
		return
	}
	if !rt.coordinator.Healthy() {
		for _, id := range rt.entities {
			registry.SetAvailable(id, false)
		}
		return
	}
	if res.Alive {
		registry.SetState(rt.entities["connectivity"], "on", nil)
		ms := float64(res.RTT) / float64(time.Millisecond)
		registry.SetState(rt.entities["round_trip_time"], strconv.FormatFloat(ms, 'f', 1, 64), nil)
	} else {
		registry.SetState(rt.entities["connectivity"], "off", nil)
		// rtt is meaningless while down
		registry.SetAvailable(rt.entities["round_trip_time"], false)
	}
}

func (self *Service) queryStatus(q services.Question) string {
	self.mu.Lock()
	defer self.mu.Unlock()
	if len(self.runtimes) == 0 {
		return "no hosts configured"
	}
	msg := ""
	for _, id := range util.SortedKeys(self.runtimes) {
		rt := self.runtimes[id]
		state := "down"
		if res, ok := rt.coordinator.Data().(*result); ok && rt.coordinator.Healthy() && res.Alive {
			state = fmt.Sprintf("up (%.1fms)", float64(res.RTT)/float64(time.Millisecond))
		}
		msg += fmt.Sprintf("%s: %s\n", rt.host, state)
	}
	return msg
}

func (self *Service) QueryHandlers() services.QueryHandlers {
	return services.QueryHandlers{
		"status": services.TextHandler(self.queryStatus),
		"help":   services.StaticHandler("status: host reachability\n"),
	}
}

func (self *Service) Run() error {
	// pollers run per entry, nothing to do here
	select {}
}
