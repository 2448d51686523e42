package models

import (
	"path/filepath"
	"strings"
	"time"

	"emperror.dev/errors"
)

// ModuleStatus is the last-known lifecycle state recorded for a module. It is
// informational only: live state always comes from the process supervisor.
type ModuleStatus string

const (
	StatusInstalled ModuleStatus = "installed"
	StatusActive    ModuleStatus = "active"
	StatusInactive  ModuleStatus = "inactive"
	StatusFailed    ModuleStatus = "failed"
	StatusRemoved   ModuleStatus = "removed"
	StatusUnknown   ModuleStatus = "unknown"
)

// Capability tags recognized by the platform. A module may carry any set of
// these; the "service" capability is what gates supervisor-backed operations.
const (
	CapabilityService     = "service"
	CapabilityHardware    = "hardware"
	CapabilitySensor      = "sensor"
	CapabilityAPI         = "api"
	CapabilityIntegration = "integration"
)

// HardwareSpec describes the physical wiring a hardware module declared at
// install time. Sensors are associated with GPIO pins positionally by index.
type HardwareSpec struct {
	GPIOPins []int    `json:"gpio_pins,omitempty"`
	Sensors  []string `json:"sensors,omitempty"`
}

// ModuleRecord represents a module's persisted registry entry. The record is
// keyed by ModulePath, a slash-joined "<category>/<name>" string that is
// unique and never reused for a different logical module.
type ModuleRecord struct {
	ModulePath string `json:"module_path"`
	Name       string `json:"name"`
	Category   string `json:"category"`

	// Version is an opaque string compared only for equality, never ordered.
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`

	Status       ModuleStatus `json:"status"`
	Capabilities []string     `json:"capabilities,omitempty"`

	// Dependencies are declarative module paths; the registry never verifies
	// that a referenced module exists or is installed.
	Dependencies []string      `json:"dependencies,omitempty"`
	AptPackages  []string      `json:"apt_packages,omitempty"`
	Provides     []string      `json:"provides,omitempty"`
	Hardware     *HardwareSpec `json:"hardware,omitempty"`

	// Derived by convention from ModulePath/Name, never settable by callers.
	ServiceName string `json:"service_name,omitempty"`
	ConfigPath  string `json:"config_path,omitempty"`
	LogPath     string `json:"log_path,omitempty"`

	InstalledAt   time.Time `json:"installed_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	InstalledBy   string    `json:"installed_by,omitempty"`
	InstallMethod string    `json:"install_method,omitempty"`

	ServiceEnabled bool `json:"service_enabled"`
}

// ModuleMetadata is the caller-supplied portion of a registry upsert, usually
// sourced from a module's manifest. Everything derivable (name, category,
// service name, artifact paths, timestamps) is intentionally absent.
type ModuleMetadata struct {
	Version        string
	Description    string
	Author         string
	Capabilities   []string
	Dependencies   []string
	AptPackages    []string
	Provides       []string
	Hardware       *HardwareSpec
	InstalledBy    string
	InstallMethod  string
	ServiceEnabled bool
}

// RuntimeSnapshot holds live operational facts for a service module. It is
// recomputed on every detail request and never persisted. Each field is
// independently best-effort: a failed lookup leaves it nil rather than
// failing the whole snapshot.
type RuntimeSnapshot struct {
	ActiveState   *string `json:"active_state"`
	Enabled       *bool   `json:"enabled"`
	PID           *int32  `json:"pid"`
	UptimeSeconds *int64  `json:"uptime_seconds"`
	MemoryBytes   *uint64 `json:"memory_bytes"`
}

// SplitModulePath breaks a "<category>/<name>" module path into its parts.
func SplitModulePath(modulePath string) (category string, name string, err error) {
	parts := strings.Split(modulePath, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Errorf("models: invalid module path %q, expected \"<category>/<name>\"", modulePath)
	}
	return parts[0], parts[1], nil
}

// ServiceNameFor returns the systemd unit name for a module by convention.
func ServiceNameFor(name string) string {
	return name + ".service"
}

// ConfigPathFor returns the conventional configuration file location for a
// module: <config-root>/<category>/<name>/<name>.conf.
func ConfigPathFor(configRoot, category, name string) string {
	return filepath.Join(configRoot, category, name, name+".conf")
}

// LogPathFor returns the conventional log file location for a module:
// <log-root>/<name>.log.
func LogPathFor(logRoot, name string) string {
	return filepath.Join(logRoot, name+".log")
}

// HasCapability reports whether the record carries the given capability tag.
func (m *ModuleRecord) HasCapability(capability string) bool {
	for _, c := range m.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// IsRemoved reports whether the record is in the terminal soft-deleted state.
func (m *ModuleRecord) IsRemoved() bool {
	return m.Status == StatusRemoved
}
