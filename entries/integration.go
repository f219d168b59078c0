// Package entries manages config entries: configured instances of
// integrations, how they are created through config flows, and their setup
// lifecycle. Entries persist to the store and survive restarts.
package entries

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/hearth-home/hearth/manifest"
	"github.com/hearth-home/hearth/services"
)

// Integration is a service that devices/services are configured into via
// config entries. Its service ID must equal its manifest domain.
type Integration interface {
	services.Service
	Manifest() manifest.Manifest
	ConfigFlow() Handler
	SetupEntry(ctx context.Context, entry *Entry) error
	UnloadEntry(ctx context.Context, entry *Entry) error
}

var (
	mu           sync.Mutex
	integrations = map[string]Integration{}
)

// RegisterIntegration registers an integration for config entry routing and
// as a runnable service.
func RegisterIntegration(integration Integration) {
	m := integration.Manifest()
	if err := m.Validate(); err != nil {
		log.Fatalf("Invalid manifest for %s: %s", integration.ID(), err)
	}
	if m.Domain != integration.ID() {
		log.Fatalf("Integration %s: manifest domain %q must match service ID", integration.ID(), m.Domain)
	}
	mu.Lock()
	integrations[m.Domain] = integration
	mu.Unlock()
	for _, name := range services.Registered() {
		if name == m.Domain {
			return
		}
	}
	services.Register(integration)
}

// IntegrationFor looks up a registered integration by domain.
func IntegrationFor(domain string) (Integration, bool) {
	mu.Lock()
	defer mu.Unlock()
	integration, ok := integrations[domain]
	return integration, ok
}

// Manifests returns the manifests of all registered integrations, sorted by
// domain.
func Manifests() []manifest.Manifest {
	mu.Lock()
	defer mu.Unlock()
	var ret []manifest.Manifest
	for _, integration := range integrations {
		ret = append(ret, integration.Manifest())
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Domain < ret[j].Domain })
	return ret
}
