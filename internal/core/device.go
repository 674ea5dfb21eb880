package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/edvin/deviceca/internal/model"
)

var validate = validator.New()

// deviceFiles are tried in order inside the config store. YAML is a superset
// of JSON, so one decoder reads both.
var deviceFiles = []string{"devices.json", "devices.yaml", "devices.yml"}

type deviceEntry struct {
	SecretKey   string       `yaml:"secretKey" validate:"required"`
	Certificate *policyEntry `yaml:"certificate"`
}

type policyEntry struct {
	Extensions string `yaml:"extensions" validate:"omitempty,oneof=default server user usr_cert server_cert user_cert"`
	Days       int    `yaml:"days" validate:"gte=0"`
}

func (p *policyEntry) toModel() *model.CertificatePolicy {
	if p == nil {
		return nil
	}
	var profile model.ExtensionProfile
	switch p.Extensions {
	case "server", "server_cert":
		profile = model.ExtensionProfileServer
	case "user", "user_cert":
		profile = model.ExtensionProfileUser
	default:
		profile = model.ExtensionProfileDefault
	}
	return &model.CertificatePolicy{Extensions: profile, Days: p.Days}
}

// DeviceRegistry is the read-only set of known devices, keyed by ID. It is
// loaded once at startup and safe for concurrent reads.
type DeviceRegistry struct {
	devices map[string]model.Device
}

// NewDeviceRegistry builds a registry from devices.
func NewDeviceRegistry(devices ...model.Device) *DeviceRegistry {
	r := &DeviceRegistry{devices: make(map[string]model.Device, len(devices))}
	for _, d := range devices {
		r.devices[d.ID] = d
	}
	return r
}

// LoadDeviceRegistry reads the device definitions from the config store.
func LoadDeviceRegistry(configStore string) (*DeviceRegistry, error) {
	for _, name := range deviceFiles {
		path := filepath.Join(configStore, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read devices: %w", err)
		}
		return ParseDeviceRegistry(data)
	}
	return nil, fmt.Errorf("no device definitions found in %s", configStore)
}

// ParseDeviceRegistry decodes a map of device ID to device definition.
func ParseDeviceRegistry(data []byte) (*DeviceRegistry, error) {
	var entries map[string]deviceEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse devices: %w", err)
	}

	devices := make([]model.Device, 0, len(entries))
	for id, entry := range entries {
		if id == "" {
			return nil, fmt.Errorf("device with empty ID")
		}
		if err := validate.Struct(entry); err != nil {
			return nil, fmt.Errorf("device %s: %w", id, err)
		}
		devices = append(devices, model.Device{
			ID:          id,
			SecretKey:   entry.SecretKey,
			Certificate: entry.Certificate.toModel(),
		})
	}
	return NewDeviceRegistry(devices...), nil
}

// Lookup returns the device with the given ID.
func (r *DeviceRegistry) Lookup(id string) (model.Device, bool) {
	d, ok := r.devices[id]
	return d, ok
}

// IDs returns all device IDs in sorted order.
func (r *DeviceRegistry) IDs() []string {
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len is the number of registered devices.
func (r *DeviceRegistry) Len() int {
	return len(r.devices)
}
