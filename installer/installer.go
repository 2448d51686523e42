// Package installer drives the install and removal flows: capture a module's
// manifest into the registry, then secure its artifacts behind the shared
// group. Permission setup is strictly advisory here; a module that installed
// correctly must keep working even when the admin layer cannot see it yet.
package installer

import (
	"context"
	"os"
	"os/user"
	"path/filepath"

	"github.com/apex/log"

	"github.com/luigi-project/hearth/internal/models"
	"github.com/luigi-project/hearth/manifest"
	"github.com/luigi-project/hearth/permissions"
	"github.com/luigi-project/hearth/registry"
	"github.com/luigi-project/hearth/supervisor"
)

// Options carries the host conventions the installer stamps onto modules.
type Options struct {
	// ModulesRoot is where module sources (and manifests) live.
	ModulesRoot string
	// HomeRoot is where per-module service users get their home directories.
	HomeRoot string
	// ServiceUserPrefix prefixes every per-module system username.
	ServiceUserPrefix string
	// HardwareGroups are granted to service users of hardware modules.
	HardwareGroups []string
}

// Installer composes the registry, the permission broker and the supervisor
// into the install/remove control flow.
type Installer struct {
	store  *registry.Store
	broker *permissions.Broker
	sup    supervisor.Supervisor
	opts   Options
}

// New returns an installer over the given collaborators.
func New(store *registry.Store, broker *permissions.Broker, sup supervisor.Supervisor, opts Options) *Installer {
	return &Installer{store: store, broker: broker, sup: sup, opts: opts}
}

// ServiceUsername returns the per-module system username by convention.
func (i *Installer) ServiceUsername(name string) string {
	return i.opts.ServiceUserPrefix + name
}

// Install captures a module's manifest into the registry and secures its
// artifacts. Manifest and registry failures are structural and abort the
// flow; permission failures are logged as warnings and never do.
func (i *Installer) Install(ctx context.Context, modulePath string) (*models.ModuleRecord, error) {
	m, err := manifest.Load(filepath.Join(i.opts.ModulesRoot, filepath.FromSlash(modulePath)))
	if err != nil {
		return nil, err
	}

	rec, err := i.store.Upsert(ctx, modulePath, m.Metadata(currentUsername(), "installer"), models.StatusInstalled)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"module": modulePath, "version": rec.Version}).Info("installer: module registered")

	i.securePermissions(ctx, rec)

	if rec.HasCapability(models.CapabilityService) && rec.ServiceEnabled {
		if err := i.sup.Enable(ctx, rec.ServiceName); err != nil {
			log.WithFields(log.Fields{"module": modulePath, "error": err}).Warn("installer: failed to enable service")
		}
	}
	return rec, nil
}

// Remove stops and disables a module's service best-effort, then soft-deletes
// its registry record. The record is retained indefinitely.
func (i *Installer) Remove(ctx context.Context, modulePath string) (*models.ModuleRecord, error) {
	rec, err := i.store.Get(ctx, modulePath)
	if err != nil {
		return nil, err
	}
	if rec.HasCapability(models.CapabilityService) && !rec.IsRemoved() {
		if err := i.sup.Stop(ctx, rec.ServiceName); err != nil {
			log.WithFields(log.Fields{"module": modulePath, "error": err}).Warn("installer: failed to stop service during removal")
		}
		if err := i.sup.Disable(ctx, rec.ServiceName); err != nil {
			log.WithFields(log.Fields{"module": modulePath, "error": err}).Warn("installer: failed to disable service during removal")
		}
	}
	return i.store.MarkRemoved(ctx, modulePath)
}

// securePermissions runs the advisory side of an installation: shared group,
// service identity, and artifact grants. Every failure is demoted to a
// warning; functional correctness of the module outranks admin visibility.
func (i *Installer) securePermissions(ctx context.Context, rec *models.ModuleRecord) {
	l := log.WithField("module", rec.ModulePath)

	if err := i.broker.EnsureSharedGroup(ctx); err != nil {
		l.WithField("error", err).Warn("installer: shared group setup failed")
	}

	logOwner := "root"
	if rec.HasCapability(models.CapabilityService) {
		username := i.ServiceUsername(rec.Name)
		home := filepath.Join(i.opts.HomeRoot, rec.Name)
		var extra []string
		if rec.HasCapability(models.CapabilityHardware) {
			extra = i.opts.HardwareGroups
		}
		if err := i.broker.CreateServiceIdentity(ctx, username, "Hearth module "+rec.ModulePath, home, extra...); err != nil {
			l.WithField("error", err).Warn("installer: service identity setup failed")
		} else {
			logOwner = username
		}
	}

	configDir := filepath.Dir(rec.ConfigPath)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		l.WithField("error", err).Warn("installer: could not create module config directory")
	} else if err := i.broker.GrantConfigAccess(ctx, configDir); err != nil {
		l.WithField("error", err).Warn("installer: config access grant failed")
	}

	if err := i.broker.GrantLogAccess(ctx, rec.LogPath, logOwner); err != nil {
		l.WithField("error", err).Warn("installer: log access grant failed")
	}
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}
