package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luigi-project/hearth/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "registry"), "/etc/hearth/modules", "/var/log/hearth")
	require.NoError(t, err)
	return s
}

func marioMetadata() models.ModuleMetadata {
	return models.ModuleMetadata{
		Version:        "1.0.0",
		Description:    "Plays Mario sounds when motion is detected",
		Author:         "Luigi Project",
		Capabilities:   []string{models.CapabilityService, models.CapabilityHardware},
		Hardware:       &models.HardwareSpec{GPIOPins: []int{23}, Sensors: []string{"pir"}},
		InstalledBy:    "root",
		InstallMethod:  "installer",
		ServiceEnabled: true,
	}
}

func TestUpsertCreatesRecordWithDerivedFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Upsert(ctx, "motion-detection/mario", marioMetadata(), models.StatusInstalled)
	require.NoError(t, err)

	assert.Equal(t, "motion-detection/mario", rec.ModulePath)
	assert.Equal(t, "mario", rec.Name)
	assert.Equal(t, "motion-detection", rec.Category)
	assert.Equal(t, models.StatusInstalled, rec.Status)
	assert.Equal(t, "mario.service", rec.ServiceName)
	assert.True(t, strings.HasSuffix(rec.ConfigPath, "motion-detection/mario/mario.conf"), "config path was %s", rec.ConfigPath)
	assert.True(t, strings.HasSuffix(rec.LogPath, "mario.log"), "log path was %s", rec.LogPath)
	assert.False(t, rec.InstalledAt.IsZero())
	assert.Equal(t, rec.InstalledAt, rec.UpdatedAt)

	got, err := s.Get(ctx, "motion-detection/mario")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// One file per record, slash replaced by the fixed separator.
	_, err = os.Stat(filepath.Join(s.Root(), "motion-detection__mario.json"))
	require.NoError(t, err)
}

func TestUpsertRejectsInvalidModulePath(t *testing.T) {
	s := newTestStore(t)
	for _, path := range []string{"", "mario", "a/b/c", "/mario", "motion-detection/"} {
		_, err := s.Upsert(context.Background(), path, marioMetadata(), models.StatusInstalled)
		assert.Error(t, err, "expected %q to be rejected", path)
	}
}

func TestUpsertPreservesInstalledAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Upsert(ctx, "motion-detection/mario", marioMetadata(), models.StatusInstalled)
	require.NoError(t, err)

	meta := marioMetadata()
	meta.Description = "a different description"
	meta.Version = "1.1.0"
	second, err := s.Upsert(ctx, "motion-detection/mario", meta, models.StatusInstalled)
	require.NoError(t, err)

	assert.Equal(t, first.InstalledAt, second.InstalledAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt), "updated_at must strictly increase")
	assert.Equal(t, "a different description", second.Description)
	assert.Equal(t, "1.1.0", second.Version)
}

func TestUpdatedAtMonotonicAcrossRapidWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	prev, err := s.Upsert(ctx, "iot/ha-mqtt", models.ModuleMetadata{Version: "1.0.0"}, models.StatusInstalled)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		next, err := s.Upsert(ctx, "iot/ha-mqtt", models.ModuleMetadata{Version: "1.0.0"}, models.StatusInstalled)
		require.NoError(t, err)
		assert.True(t, next.UpdatedAt.After(prev.UpdatedAt))
		assert.Equal(t, prev.InstalledAt, next.InstalledAt)
		prev = next
	}
}

func TestSetStatusTouchesOnlyStatusFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	before, err := s.Upsert(ctx, "motion-detection/mario", marioMetadata(), models.StatusInstalled)
	require.NoError(t, err)

	after, err := s.SetStatus(ctx, "motion-detection/mario", models.StatusActive, true)
	require.NoError(t, err)

	assert.Equal(t, models.StatusActive, after.Status)
	assert.True(t, after.ServiceEnabled)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Description, after.Description)
	assert.Equal(t, before.InstalledAt, after.InstalledAt)
	assert.Equal(t, before.Hardware, after.Hardware)
}

func TestSetStatusUnknownModule(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SetStatus(context.Background(), "sensors/climate", models.StatusActive, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkRemovedIsSoft(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "motion-detection/mario", marioMetadata(), models.StatusActive)
	require.NoError(t, err)

	removed, err := s.MarkRemoved(ctx, "motion-detection/mario")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRemoved, removed.Status)
	assert.False(t, removed.ServiceEnabled)

	// The record must survive removal and stay retrievable.
	got, err := s.Get(ctx, "motion-detection/mario")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRemoved, got.Status)

	records, err := s.List(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = s.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "motion-detection/mario", records[0].ModulePath)
}

func TestGetUnknownModule(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "sensors/climate")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCorruptRecordIsSurfaced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "motion-detection/mario", marioMetadata(), models.StatusInstalled)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "iot__broken.json"), []byte("{not json"), 0o644))

	_, err = s.Get(ctx, "iot/broken")
	assert.ErrorIs(t, err, ErrCorrupt)

	// Listing must fail loudly instead of silently dropping the bad record.
	_, err = s.List(ctx, false)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestRecordMissingKeyIsCorrupt(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "iot__odd.json"), []byte(`{"version":"1.0.0"}`), 0o644))
	_, err := s.Get(context.Background(), "iot/odd")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestUnknownFieldsSurviveRewrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "motion-detection/mario", marioMetadata(), models.StatusInstalled)
	require.NoError(t, err)

	// Simulate a newer tool having written a field this schema doesn't know.
	path := filepath.Join(s.Root(), "motion-detection__mario.json")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	doc["cooldown_minutes"] = 30
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o644))

	_, err = s.SetStatus(ctx, "motion-detection/mario", models.StatusActive, true)
	require.NoError(t, err)

	raw, err = os.ReadFile(path)
	require.NoError(t, err)
	doc = map[string]interface{}{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.EqualValues(t, 30, doc["cooldown_minutes"])
	assert.Equal(t, "active", doc["status"])
}

func TestSetField(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "motion-detection/mario", marioMetadata(), models.StatusInstalled)
	require.NoError(t, err)

	t.Run("extension field", func(t *testing.T) {
		rec, err := s.SetField(ctx, "motion-detection/mario", "cooldown_minutes", 30)
		require.NoError(t, err)
		assert.False(t, rec.UpdatedAt.IsZero())

		raw, err := os.ReadFile(filepath.Join(s.Root(), "motion-detection__mario.json"))
		require.NoError(t, err)
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &doc))
		assert.EqualValues(t, 30, doc["cooldown_minutes"])
	})

	t.Run("schema field", func(t *testing.T) {
		rec, err := s.SetField(ctx, "motion-detection/mario", "description", "updated text")
		require.NoError(t, err)
		assert.Equal(t, "updated text", rec.Description)
	})

	t.Run("nested path", func(t *testing.T) {
		rec, err := s.SetField(ctx, "motion-detection/mario", "hardware.gpio_pins", []int{23, 24})
		require.NoError(t, err)
		require.NotNil(t, rec.Hardware)
		assert.Equal(t, []int{23, 24}, rec.Hardware.GPIOPins)
	})

	t.Run("reserved field", func(t *testing.T) {
		_, err := s.SetField(ctx, "motion-detection/mario", "module_path", "something/else")
		assert.Error(t, err)
		_, err = s.SetField(ctx, "motion-detection/mario", "installed_at", "2020-01-01T00:00:00Z")
		assert.Error(t, err)
	})

	t.Run("unknown module", func(t *testing.T) {
		_, err := s.SetField(ctx, "sensors/climate", "cooldown_minutes", 30)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestConcurrentUpsertsSameKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "iot/ha-mqtt", models.ModuleMetadata{Version: "1.0.0"}, models.StatusInstalled)
	require.NoError(t, err)

	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, err := s.Upsert(ctx, "iot/ha-mqtt", models.ModuleMetadata{Version: "1.0.0"}, models.StatusInstalled)
			done <- err
		}()
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, <-done)
	}

	rec, err := s.Get(ctx, "iot/ha-mqtt")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", rec.Version)
}
