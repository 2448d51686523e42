// Package manifest loads the static metadata a module declares about itself.
// A manifest is consumed once at install time to populate the registry record
// and read again by the update checker to detect version drift; nothing in it
// is validated against actual installation state.
package manifest

import (
	"os"
	"path/filepath"
	"strings"

	"emperror.dev/errors"
	"github.com/goccy/go-json"
	"gopkg.in/ini.v1"

	"github.com/luigi-project/hearth/internal/models"
)

// ErrNotFound is returned when a module source directory carries no manifest.
var ErrNotFound = errors.New("manifest: no manifest found")

const (
	jsonManifest = "module.json"
	// Older modules ship an INI manifest next to their .conf files instead.
	iniManifest = "module.conf"
)

// Manifest is a module's declared metadata.
type Manifest struct {
	Name           string               `json:"name"`
	Version        string               `json:"version"`
	Description    string               `json:"description"`
	Author         string               `json:"author"`
	Capabilities   []string             `json:"capabilities"`
	Dependencies   []string             `json:"dependencies"`
	AptPackages    []string             `json:"apt_packages"`
	Provides       []string             `json:"provides"`
	Hardware       *models.HardwareSpec `json:"hardware"`
	ServiceEnabled bool                 `json:"service_enabled"`
}

// Load reads the manifest from a module source directory, preferring
// module.json and falling back to the legacy module.conf format.
func Load(dir string) (*Manifest, error) {
	if m, err := loadJSON(filepath.Join(dir, jsonManifest)); err == nil {
		return m, nil
	} else if !os.IsNotExist(errors.Cause(err)) {
		return nil, err
	}
	if m, err := loadINI(filepath.Join(dir, iniManifest)); err == nil {
		return m, nil
	} else if !os.IsNotExist(errors.Cause(err)) {
		return nil, err
	}
	return nil, errors.WithMessagef(ErrNotFound, "in %s", dir)
}

func loadJSON(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrapf(err, "manifest: failed to parse %s", path)
	}
	return &m, nil
}

func loadINI(path string) (*Manifest, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.WithStack(err)
	}
	f, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "manifest: failed to parse %s", path)
	}
	section := f.Section("module")
	m := &Manifest{
		Name:           section.Key("name").String(),
		Version:        section.Key("version").String(),
		Description:    section.Key("description").String(),
		Author:         section.Key("author").String(),
		Capabilities:   splitList(section.Key("capabilities").String()),
		Dependencies:   splitList(section.Key("dependencies").String()),
		AptPackages:    splitList(section.Key("apt_packages").String()),
		Provides:       splitList(section.Key("provides").String()),
		ServiceEnabled: section.Key("service_enabled").MustBool(false),
	}
	return m, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Metadata converts the manifest into the registry's upsert input, stamped
// with the given provenance.
func (m *Manifest) Metadata(installedBy, installMethod string) models.ModuleMetadata {
	return models.ModuleMetadata{
		Version:        m.Version,
		Description:    m.Description,
		Author:         m.Author,
		Capabilities:   m.Capabilities,
		Dependencies:   m.Dependencies,
		AptPackages:    m.AptPackages,
		Provides:       m.Provides,
		Hardware:       m.Hardware,
		InstalledBy:    installedBy,
		InstallMethod:  installMethod,
		ServiceEnabled: m.ServiceEnabled,
	}
}
