package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luigi-project/hearth/internal/models"
)

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	body := `{
		"name": "mario",
		"version": "1.2.0",
		"description": "Plays Mario sounds when motion is detected",
		"author": "Luigi Project",
		"capabilities": ["service", "hardware"],
		"dependencies": ["iot/ha-mqtt"],
		"apt_packages": ["mpg123"],
		"hardware": {"gpio_pins": [23], "sensors": ["pir"]},
		"service_enabled": true
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "module.json"), []byte(body), 0o644))

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "mario", m.Name)
	assert.Equal(t, "1.2.0", m.Version)
	assert.Equal(t, []string{"service", "hardware"}, m.Capabilities)
	assert.Equal(t, []string{"iot/ha-mqtt"}, m.Dependencies)
	require.NotNil(t, m.Hardware)
	assert.Equal(t, []int{23}, m.Hardware.GPIOPins)
	assert.Equal(t, []string{"pir"}, m.Hardware.Sensors)
	assert.True(t, m.ServiceEnabled)
}

func TestLoadINIFallback(t *testing.T) {
	dir := t.TempDir()
	body := `[module]
name = climate
version = 0.3.0
description = Publishes temperature and humidity readings
author = Luigi Project
capabilities = service, sensor, hardware
apt_packages = python3-smbus, i2c-tools
service_enabled = true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "module.conf"), []byte(body), 0o644))

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "climate", m.Name)
	assert.Equal(t, "0.3.0", m.Version)
	assert.Equal(t, []string{"service", "sensor", "hardware"}, m.Capabilities)
	assert.Equal(t, []string{"python3-smbus", "i2c-tools"}, m.AptPackages)
	assert.True(t, m.ServiceEnabled)
}

func TestLoadPrefersJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "module.json"), []byte(`{"name":"mario","version":"2.0.0"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "module.conf"), []byte("[module]\nversion = 1.0.0\n"), 0o644))

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", m.Version)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "module.json"), []byte("{broken"), 0o644))
	_, err := Load(dir)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestMetadataConversion(t *testing.T) {
	m := Manifest{
		Version:        "1.0.0",
		Description:    "desc",
		Author:         "Luigi Project",
		Capabilities:   []string{models.CapabilityService},
		ServiceEnabled: true,
	}
	meta := m.Metadata("root", "installer")
	assert.Equal(t, "1.0.0", meta.Version)
	assert.Equal(t, "root", meta.InstalledBy)
	assert.Equal(t, "installer", meta.InstallMethod)
	assert.True(t, meta.ServiceEnabled)
}
