// Package manifest describes integrations: identity, versioning and how
// they are set up and discovered.
package manifest

import (
	"encoding/json"
	"regexp"

	"github.com/pkg/errors"
)

type Manifest struct {
	Domain          string   `json:"domain"`
	Name            string   `json:"name"`
	Version         string   `json:"version"`
	ConfigFlow      bool     `json:"config_flow"`
	IntegrationType string   `json:"integration_type"`
	IoTClass        string   `json:"iot_class"`
	Requirements    []string `json:"requirements,omitempty"`
	Zeroconf        []string `json:"zeroconf,omitempty"`
	SingleInstance  bool     `json:"single_config_entry,omitempty"`
}

var (
	reDomain   = regexp.MustCompile(`^[a-z0-9_]+$`)
	reVersion  = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	reZeroconf = regexp.MustCompile(`^_[a-z0-9-]+\._(tcp|udp)\.local\.$`)
)

var integrationTypes = map[string]bool{
	"device":  true,
	"hub":     true,
	"service": true,
}

var iotClasses = map[string]bool{
	"assumed_state": true,
	"calculated":    true,
	"cloud_polling": true,
	"cloud_push":    true,
	"local_polling": true,
	"local_push":    true,
}

func (m Manifest) Validate() error {
	if !reDomain.MatchString(m.Domain) {
		return errors.Errorf("invalid domain: %q", m.Domain)
	}
	if m.Name == "" {
		return errors.New("name required")
	}
	if !reVersion.MatchString(m.Version) {
		return errors.Errorf("invalid version: %q", m.Version)
	}
	if !integrationTypes[m.IntegrationType] {
		return errors.Errorf("invalid integration_type: %q", m.IntegrationType)
	}
	if !iotClasses[m.IoTClass] {
		return errors.Errorf("invalid iot_class: %q", m.IoTClass)
	}
	for _, z := range m.Zeroconf {
		if !reZeroconf.MatchString(z) {
			return errors.Errorf("invalid zeroconf service: %q", z)
		}
	}
	return nil
}

// Load parses and validates a manifest document. Unknown keys are ignored.
func Load(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return m, errors.Wrap(err, "parsing manifest")
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

// MustParse is Load for compiled-in manifests. It panics on error.
func MustParse(data []byte) Manifest {
	m, err := Load(data)
	if err != nil {
		panic(err)
	}
	return m
}
