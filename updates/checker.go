// Package updates implements advisory version-drift detection. The checker
// compares what the registry recorded at install time against what a module's
// source manifest currently declares. It never mutates state and never
// enforces anything; acting on a reported drift is entirely up to the caller.
package updates

import (
	"context"
	"path/filepath"
	"time"

	"emperror.dev/errors"
	gocache "github.com/patrickmn/go-cache"

	"github.com/luigi-project/hearth/manifest"
	"github.com/luigi-project/hearth/registry"
)

// State classifies the outcome of one drift check.
type State string

const (
	StateUpToDate        State = "up_to_date"
	StateUpdateAvailable State = "update_available"
	// StateSourceMissing means no manifest could be found for the module, so
	// there is nothing to compare against.
	StateSourceMissing State = "source_missing"
)

// Result is the outcome of a drift check for one module. Versions are opaque
// strings compared only for equality; "available" does not imply "newer".
type Result struct {
	ModulePath string `json:"module_path"`
	Current    string `json:"current"`
	Available  string `json:"available,omitempty"`
	State      State  `json:"state"`
}

// Checker reads module manifests from the modules root and compares them with
// registry records. Manifest reads are cached briefly so a repeated check
// over many modules does not re-parse every file.
type Checker struct {
	store       *registry.Store
	modulesRoot string
	cache       *gocache.Cache
}

// New returns a checker reading manifests under the given modules root.
func New(store *registry.Store, modulesRoot string) *Checker {
	return &Checker{
		store:       store,
		modulesRoot: modulesRoot,
		cache:       gocache.New(30*time.Second, 5*time.Minute),
	}
}

// CheckUpdate compares the recorded version of one module against its
// manifest's declared version.
func (c *Checker) CheckUpdate(ctx context.Context, modulePath string) (*Result, error) {
	rec, err := c.store.Get(ctx, modulePath)
	if err != nil {
		return nil, err
	}

	m, err := c.loadManifest(modulePath)
	if err != nil {
		if errors.Is(err, manifest.ErrNotFound) {
			return &Result{ModulePath: modulePath, Current: rec.Version, State: StateSourceMissing}, nil
		}
		return nil, err
	}

	result := &Result{
		ModulePath: modulePath,
		Current:    rec.Version,
		Available:  m.Version,
		State:      StateUpToDate,
	}
	if m.Version != rec.Version {
		result.State = StateUpdateAvailable
	}
	return result, nil
}

// CheckAll runs a drift check over every non-removed record in the registry.
func (c *Checker) CheckAll(ctx context.Context) ([]Result, error) {
	records, err := c.store.List(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(records))
	for _, rec := range records {
		res, err := c.CheckUpdate(ctx, rec.ModulePath)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, nil
}

func (c *Checker) loadManifest(modulePath string) (*manifest.Manifest, error) {
	if cached, ok := c.cache.Get(modulePath); ok {
		return cached.(*manifest.Manifest), nil
	}
	m, err := manifest.Load(filepath.Join(c.modulesRoot, filepath.FromSlash(modulePath)))
	if err != nil {
		return nil, err
	}
	c.cache.Set(modulePath, m, gocache.DefaultExpiration)
	return m, nil
}
