// Service exposing the hub machine's own health: cpu, memory, load and
// uptime sensors read from /proc. A single config entry covers the machine.
package sysmon

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	linuxproc "github.com/c9s/goprocinfo/linux"
	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/entries"
	"github.com/hearth-home/hearth/manifest"
	"github.com/hearth-home/hearth/registry"
	"github.com/hearth-home/hearth/services"
)

const defaultInterval = 60 * time.Second

// /proc paths, overridable in tests.
var (
	procStat    = "/proc/stat"
	procMeminfo = "/proc/meminfo"
	procLoadavg = "/proc/loadavg"
	procUptime  = "/proc/uptime"
)

type stats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Load1m        float64 `json:"load_1m"`
	Uptime        int64   `json:"uptime"`
}

type runtime struct {
	coordinator *services.Coordinator
	entities    map[string]string

	mu   sync.Mutex
	prev *linuxproc.CPUStat
}

// Service sysmon
type Service struct {
	mu sync.Mutex
	rt *runtime
}

func (self *Service) ID() string {
	return "sysmon"
}

func (self *Service) Manifest() manifest.Manifest {
	return manifest.Manifest{
		Domain:          "sysmon",
		Name:            "System Monitor",
		Version:         "1.0.0",
		ConfigFlow:      true,
		IntegrationType: "service",
		IoTClass:        "local_polling",
		SingleInstance:  true,
	}
}

func interval() time.Duration {
	if conf := services.Config.Sysmon.Interval; conf != nil && conf.Duration > 0 {
		return conf.Duration
	}
	return defaultInterval
}

func busy(c *linuxproc.CPUStat) uint64 {
	return c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal
}

func total(c *linuxproc.CPUStat) uint64 {
	return busy(c) + c.Idle + c.IOWait
}

// cpuPercent derives usage from the delta to the previous sample. The first
// sample reports usage since boot.
func (rt *runtime) cpuPercent(current linuxproc.CPUStat) float64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	prev := rt.prev
	rt.prev = &current
	if prev == nil {
		prev = &linuxproc.CPUStat{}
	}
	db := busy(&current) - busy(prev)
	dt := total(&current) - total(prev)
	if dt == 0 {
		return 0
	}
	return 100 * float64(db) / float64(dt)
}

func (rt *runtime) sample() (*stats, error) {
	stat, err := linuxproc.ReadStat(procStat)
	if err != nil {
		return nil, errors.Wrap(err, "reading cpu stat")
	}
	mem, err := linuxproc.ReadMemInfo(procMeminfo)
	if err != nil {
		return nil, errors.Wrap(err, "reading meminfo")
	}
	load, err := linuxproc.ReadLoadAvg(procLoadavg)
	if err != nil {
		return nil, errors.Wrap(err, "reading loadavg")
	}
	uptime, err := linuxproc.ReadUptime(procUptime)
	if err != nil {
		return nil, errors.Wrap(err, "reading uptime")
	}

	s := &stats{
		CPUPercent: rt.cpuPercent(stat.CPUStatAll),
		Load1m:     load.Last1Min,
		Uptime:     int64(uptime.Total),
	}
	if mem.MemTotal > 0 {
		s.MemoryPercent = 100 * float64(mem.MemTotal-mem.MemAvailable) / float64(mem.MemTotal)
	}
	return s, nil
}

func (self *Service) SetupEntry(ctx context.Context, entry *entries.Entry) error {
	rt := &runtime{entities: map[string]string{}}
	rt.coordinator = services.NewCoordinator("sysmon", interval(),
		func(ctx context.Context) (interface{}, error) {
			return rt.sample()
		})
	if err := rt.coordinator.FirstRefresh(ctx); err != nil {
		return err
	}

	hostname, _ := os.Hostname()
	device := &registry.DeviceInfo{
		Identifiers: [][2]string{{"sysmon", hostname}},
		Name:        entry.Title,
		Model:       "linux",
	}
	add := func(entityType string, e registry.Entity) {
		e.UniqueID = fmt.Sprintf("sysmon_%s_%s", hostname, entityType)
		e.Device = device
		rt.entities[entityType] = registry.Add(entry.ID, e)
	}
	add("cpu_percent", registry.Entity{
		Name:       "CPU",
		Domain:     "sensor",
		StateClass: "measurement",
		Unit:       "%",
		Precision:  1,
	})
	add("memory_percent", registry.Entity{
		Name:       "Memory",
		Domain:     "sensor",
		StateClass: "measurement",
		Unit:       "%",
		Precision:  1,
	})
	add("load_1m", registry.Entity{
		Name:       "Load (1m)",
		Domain:     "sensor",
		StateClass: "measurement",
		Precision:  2,
	})
	add("uptime", registry.Entity{
		Name:        "Uptime",
		Domain:      "sensor",
		DeviceClass: "duration",
		Unit:        "s",
		Category:    "diagnostic",
	})

	rt.coordinator.AddListener(func() { publish(rt) })

	self.mu.Lock()
	self.rt = rt
	self.mu.Unlock()

	publish(rt)
	go rt.coordinator.Run(ctx)
	return nil
}

func (self *Service) UnloadEntry(ctx context.Context, entry *entries.Entry) error {
	self.mu.Lock()
	rt := self.rt
	self.rt = nil
	self.mu.Unlock()
	if rt == nil {
		return nil
	}
	for _, id := range rt.entities {
		registry.SetAvailable(id, false)
	}
	return nil
}

func publish(rt *runtime) {
	s, ok := rt.coordinator.Data().(*stats)
	if !ok {
		return
	}
	if !rt.coordinator.Healthy() {
		for _, id := range rt.entities {
			registry.SetAvailable(id, false)
		}
		return
	}
	registry.SetState(rt.entities["cpu_percent"], fmt.Sprintf("%.1f", s.CPUPercent), nil)
	registry.SetState(rt.entities["memory_percent"], fmt.Sprintf("%.1f", s.MemoryPercent), nil)
	registry.SetState(rt.entities["load_1m"], fmt.Sprintf("%.2f", s.Load1m), nil)
	registry.SetState(rt.entities["uptime"], fmt.Sprintf("%d", s.Uptime), nil)
}

func (self *Service) queryStatus(q services.Question) string {
	self.mu.Lock()
	rt := self.rt
	self.mu.Unlock()
	if rt == nil {
		return "not configured"
	}
	s, ok := rt.coordinator.Data().(*stats)
	if !ok || !rt.coordinator.Healthy() {
		return "unhealthy"
	}
	return fmt.Sprintf("cpu: %.1f%% memory: %.1f%% load: %.2f uptime: %ds\n",
		s.CPUPercent, s.MemoryPercent, s.Load1m, s.Uptime)
}

func (self *Service) QueryHandlers() services.QueryHandlers {
	return services.QueryHandlers{
		"status": services.TextHandler(self.queryStatus),
		"help":   services.StaticHandler("status: system stats\n"),
	}
}

func (self *Service) Run() error {
	// the poller runs per entry, nothing to do here
	select {}
}
