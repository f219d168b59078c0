// Service discovering devices on the local network over mDNS. Integrations
// declare zeroconf service types in their manifests; matching devices start
// prefilled config flows and are announced on the bus.
package discovery

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/enbility/zeroconf/v3"

	"github.com/hearth-home/hearth/entries"
	"github.com/hearth-home/hearth/pubsub"
	"github.com/hearth-home/hearth/services"
)

// Service discovery
type Service struct {
	mu   sync.Mutex
	seen map[string]bool // integration|host
}

func (self *Service) ID() string {
	return "discovery"
}

// splitServiceType splits a manifest zeroconf entry ("_example._tcp.local.")
// into the service and domain zeroconf browsing wants.
func splitServiceType(s string) (service, domain string) {
	if strings.HasSuffix(s, ".local.") {
		return strings.TrimSuffix(s, ".local."), "local."
	}
	return s, "local."
}

func hostOf(entry *zeroconf.ServiceEntry) string {
	if len(entry.AddrIPv4) > 0 {
		return entry.AddrIPv4[0].String()
	}
	if len(entry.AddrIPv6) > 0 {
		return entry.AddrIPv6[0].String()
	}
	return strings.TrimSuffix(entry.HostName, ".")
}

func (self *Service) discovered(integration string, entry *zeroconf.ServiceEntry) {
	host := hostOf(entry)
	if host == "" {
		return
	}
	key := integration + "|" + host
	self.mu.Lock()
	if self.seen[key] {
		self.mu.Unlock()
		return
	}
	self.seen[key] = true
	self.mu.Unlock()

	log.Printf("Discovered %s device: %s (%s)", integration, entry.Instance, host)

	info := map[string]string{
		"host": host,
		"name": entry.Instance,
		"port": fmt.Sprint(entry.Port),
	}
	for _, txt := range entry.Text {
		if i := strings.Index(txt, "="); i > 0 {
			info[txt[:i]] = txt[i+1:]
		}
	}

	fields := pubsub.Fields{
		"integration": integration,
		"source":      "discovery",
	}
	for k, v := range info {
		fields[k] = v
	}
	ev := pubsub.NewEvent("discovery", fields)
	ev.SetRetained(true)
	services.Publisher.Emit(ev)

	result, err := entries.StartDiscovery(integration, info)
	if err != nil {
		log.Printf("Starting %s flow failed: %s", integration, err)
		return
	}
	if result.Type == entries.ResultAbort {
		log.Printf("%s flow for %s: %s", integration, host, result.Reason)
	}
}

// browse follows one zeroconf service type for one integration, forever.
func (self *Service) browse(ctx context.Context, integration, serviceType string) {
	service, domain := splitServiceType(serviceType)
	found := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	go func() {
		for {
			select {
			case entry, ok := <-found:
				if !ok {
					return
				}
				self.discovered(integration, entry)
			case <-removed:
			case <-ctx.Done():
				return
			}
		}
	}()
	if err := zeroconf.Browse(ctx, service, domain, found, removed); err != nil {
		log.Printf("Browsing %s failed: %s", serviceType, err)
	}
}

func (self *Service) Run() error {
	if !services.Config.Discovery.Enabled {
		log.Println("Discovery disabled in config")
		select {}
	}
	self.seen = map[string]bool{}

	ctx := context.Background()
	n := 0
	for _, m := range entries.Manifests() {
		for _, serviceType := range m.Zeroconf {
			go self.browse(ctx, m.Domain, serviceType)
			n++
		}
	}
	log.Printf("Browsing %d zeroconf service types", n)
	select {}
}

func (self *Service) queryStatus(q services.Question) string {
	self.mu.Lock()
	defer self.mu.Unlock()
	if len(self.seen) == 0 {
		return "nothing discovered"
	}
	var lines []string
	for key := range self.seen {
		ps := strings.SplitN(key, "|", 2)
		lines = append(lines, fmt.Sprintf("%s: %s", ps[0], ps[1]))
	}
	return strings.Join(lines, "\n") + "\n"
}

func (self *Service) QueryHandlers() services.QueryHandlers {
	return services.QueryHandlers{
		"status": services.TextHandler(self.queryStatus),
		"help":   services.StaticHandler("status: discovered devices\n"),
	}
}
