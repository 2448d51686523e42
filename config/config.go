package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/asaskevich/govalidator"
	"github.com/creasty/defaults"
	"gopkg.in/yaml.v2"
)

// DefaultLocation is the configuration file read when no --config flag is
// passed on the command line.
const DefaultLocation = "/etc/hearth/config.yml"

var (
	mu            sync.RWMutex
	_config       *Configuration
	_debugViaFlag bool
)

// Locker specific to writing the configuration to the disk, this happens
// in areas that might already be locked, so we don't want to crash the process.
var _writeLock sync.Mutex

// ApiConfiguration defines the configuration for the administrative API that
// is exposed by the hearth webserver.
type ApiConfiguration struct {
	// The interface that the internal webserver should bind to.
	Host string `default:"0.0.0.0" yaml:"host"`

	// The port that the internal webserver should bind to.
	Port int `default:"8090" yaml:"port"`

	// The token the dashboard and CLI tooling must present in the
	// Authorization header to reach the protected routes.
	Token string `yaml:"token"`

	// A list of IP addresses of proxies that may send a X-Forwarded-For
	// header to set the true client IP.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// SystemConfiguration defines where the platform keeps its state on disk and
// which identities bridge the per-module service users.
type SystemConfiguration struct {
	// The root directory where hearth data is stored.
	RootDirectory string `default:"/var/lib/hearth" yaml:"root_directory"`

	// Directory holding one persisted registry record per installed module.
	RegistryDirectory string `default:"/var/lib/hearth/registry" yaml:"registry_directory"`

	// Directory the module sources (and their manifests) live under.
	ModulesDirectory string `default:"/opt/hearth" yaml:"modules_directory"`

	// Root for per-module configuration artifacts.
	ConfigDirectory string `default:"/etc/hearth/modules" yaml:"config_directory"`

	// Root for per-module log files, and for hearth's own daemon log.
	LogDirectory string `default:"/var/log/hearth" yaml:"log_directory"`

	// The single group identity shared between every per-module service user
	// and the administrative process, granting the latter read access to
	// artifacts it does not own.
	SharedGroup string `default:"hearth" yaml:"shared_group"`

	// Prefix for the per-module system users created at install time.
	ServiceUserPrefix string `default:"hearth-" yaml:"service_user_prefix"`

	// Supplementary groups granted to service users of hardware modules.
	HardwareGroups []string `default:"[\"gpio\",\"i2c\",\"video\"]" yaml:"hardware_groups"`

	// Seconds a start/stop/restart command may run before it is treated as
	// failed. A timeout stops the wait, not the underlying action.
	ControlTimeout int `default:"30" yaml:"control_timeout"`

	Timezone string `yaml:"timezone"`
}

// Configuration is the root configuration object for the hearth daemon and
// its helper commands.
type Configuration struct {
	// The location from which this configuration was read, used when the
	// running configuration is flushed back to the disk.
	path string

	// Determines if hearth should be running in debug mode. This value is
	// ignored if the debug flag is passed through the command line arguments.
	Debug bool `default:"false" yaml:"debug"`

	Api    ApiConfiguration    `yaml:"api"`
	System SystemConfiguration `yaml:"system"`
}

// NewAtPath creates a new struct and set the path where it should be stored.
// This function does not modify the currently stored global configuration.
func NewAtPath(path string) (*Configuration, error) {
	var c Configuration
	// Configures the default values for many of the configuration options
	// present in the structs.
	if err := defaults.Set(&c); err != nil {
		return nil, err
	}
	c.path = path
	return &c, nil
}

// Set the global configuration instance.
func Set(c *Configuration) {
	mu.Lock()
	_config = c
	mu.Unlock()
}

// SetDebugViaFlag tracks a change in the debug flag when loading the
// configuration from the command line.
func SetDebugViaFlag(d bool) {
	mu.Lock()
	_config.Debug = d
	_debugViaFlag = d
	mu.Unlock()
}

// Get returns the global configuration instance. This is a thread-safe
// operation that will block if the configuration is presently being modified.
//
// Be aware that you CANNOT make modifications to the currently stored
// configuration by modifying the struct returned by this function.
func Get() *Configuration {
	mu.RLock()
	// Create a copy of the struct so that all modifications made beyond this
	// point are immutable.
	c := *_config
	mu.RUnlock()
	return &c
}

// Update performs an in-situ update of the global configuration object using
// a thread-safe mutex lock.
func Update(callback func(c *Configuration)) {
	mu.Lock()
	callback(_config)
	mu.Unlock()
}

// FromFile reads the configuration from the provided file and stores it in
// the global singleton for this instance.
func FromFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "config: could not read configuration file")
	}
	c, err := NewAtPath(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return errors.Wrap(err, "config: could not decode configuration file")
	}
	if _, err := govalidator.ValidateStruct(c); err != nil {
		return errors.Wrap(err, "config: configuration failed validation")
	}
	Set(c)
	return nil
}

// WriteToDisk writes the configuration to the disk. This is a thread safe
// operation and will only allow one write at a time.
func WriteToDisk(c *Configuration) error {
	_writeLock.Lock()
	defer _writeLock.Unlock()

	ccopy := *c
	if _debugViaFlag {
		ccopy.Debug = false
	}
	if c.path == "" {
		return errors.New("config: cannot write to disk, no path defined in configuration")
	}
	b, err := yaml.Marshal(&ccopy)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(c.path, b, 0o600)
}

// EnsureDirectories ensures the on-disk roots this instance depends on exist
// before anything tries to read or write records into them.
func EnsureDirectories(c *Configuration) error {
	for _, dir := range []string{
		c.System.RootDirectory,
		c.System.RegistryDirectory,
		c.System.ConfigDirectory,
		c.System.LogDirectory,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "config: failed to create directory %s", dir)
		}
	}
	return nil
}

// ConfigureTimezone sets the timezone for the configuration if it is
// currently missing, falling back to the host TZ variable and finally UTC.
func ConfigureTimezone() error {
	mu.Lock()
	defer mu.Unlock()
	if _config.System.Timezone == "" {
		if tz := os.Getenv("TZ"); tz != "" {
			_config.System.Timezone = tz
		} else {
			_config.System.Timezone = "UTC"
		}
	}
	if _, err := time.LoadLocation(_config.System.Timezone); err != nil {
		return errors.WithMessagef(err, "the supplied timezone %s is invalid", _config.System.Timezone)
	}
	return nil
}

func init() {
	// A bare default configuration keeps the helper commands functional even
	// when no configuration file has been loaded yet.
	c, err := NewAtPath(DefaultLocation)
	if err != nil {
		log.WithField("error", err).Fatal("config: failed to build default configuration")
	}
	Set(c)
}
