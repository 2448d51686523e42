package status

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luigi-project/hearth/internal/models"
	"github.com/luigi-project/hearth/registry"
	"github.com/luigi-project/hearth/supervisor"
)

type fixture struct {
	store *registry.Store
	sup   *supervisor.Fake
	procs supervisor.FakeProcessTable
	agg   *Aggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := registry.New(filepath.Join(t.TempDir(), "registry"), "/etc/hearth/modules", "/var/log/hearth")
	require.NoError(t, err)
	sup := supervisor.NewFake()
	procs := supervisor.FakeProcessTable{Memory: map[int32]uint64{}}
	agg := New(store, sup, procs, time.Second)
	t.Cleanup(agg.Close)
	return &fixture{store: store, sup: sup, procs: procs, agg: agg}
}

func (f *fixture) seed(t *testing.T, modulePath string, capabilities []string, status models.ModuleStatus) *models.ModuleRecord {
	t.Helper()
	rec, err := f.store.Upsert(context.Background(), modulePath, models.ModuleMetadata{
		Version:        "1.0.0",
		Capabilities:   capabilities,
		ServiceEnabled: true,
	}, status)
	require.NoError(t, err)
	return rec
}

func TestListSummariesProjection(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "motion-detection/mario", []string{models.CapabilityService, models.CapabilityHardware}, models.StatusActive)

	summaries, err := f.agg.ListSummaries(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	// The projection must expose exactly these four fields, nothing more,
	// no matter how much else is on the record.
	b, err := json.Marshal(summaries[0])
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Len(t, doc, 4)
	assert.Contains(t, doc, "name")
	assert.Contains(t, doc, "status")
	assert.Contains(t, doc, "version")
	assert.Contains(t, doc, "capabilities")
	assert.Equal(t, "mario", doc["name"])
}

func TestListSummariesExcludesRemoved(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "motion-detection/mario", nil, models.StatusActive)
	f.seed(t, "sensors/climate", nil, models.StatusActive)
	_, err := f.store.MarkRemoved(context.Background(), "sensors/climate")
	require.NoError(t, err)

	summaries, err := f.agg.ListSummaries(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "mario", summaries[0].Name)
}

func TestGetDetailLiveStateOverridesCached(t *testing.T) {
	f := newFixture(t)
	// The registry still believes the module is running.
	f.seed(t, "motion-detection/mario", []string{models.CapabilityService}, models.StatusActive)
	// The supervisor knows it is not.
	f.sup.SetUnit("mario.service", supervisor.FakeUnit{ActiveState: supervisor.StateInactive})

	detail, err := f.agg.GetDetail(context.Background(), "motion-detection/mario")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInactive, detail.Status)
	require.NotNil(t, detail.Runtime)
	require.NotNil(t, detail.Runtime.ActiveState)
	assert.Equal(t, supervisor.StateInactive, *detail.Runtime.ActiveState)

	// The stored record keeps its last-known value; only the view changed.
	rec, err := f.store.Get(context.Background(), "motion-detection/mario")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, rec.Status)
}

func TestGetDetailRuntimeFacts(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "motion-detection/mario", []string{models.CapabilityService}, models.StatusActive)

	started := time.Now().Add(-90 * time.Second)
	f.sup.SetUnit("mario.service", supervisor.FakeUnit{
		ActiveState: supervisor.StateActive,
		MainPID:     4321,
		StartedAt:   started,
		Enabled:     true,
	})
	f.procs.Memory[4321] = 18 << 20
	f.agg.now = func() time.Time { return started.Add(90 * time.Second) }

	detail, err := f.agg.GetDetail(context.Background(), "motion-detection/mario")
	require.NoError(t, err)
	require.NotNil(t, detail.Runtime)
	require.NotNil(t, detail.Runtime.PID)
	assert.EqualValues(t, 4321, *detail.Runtime.PID)
	require.NotNil(t, detail.Runtime.UptimeSeconds)
	assert.EqualValues(t, 90, *detail.Runtime.UptimeSeconds)
	require.NotNil(t, detail.Runtime.MemoryBytes)
	assert.EqualValues(t, 18<<20, *detail.Runtime.MemoryBytes)
	require.NotNil(t, detail.Runtime.Enabled)
	assert.True(t, *detail.Runtime.Enabled)
}

func TestGetDetailLiveEnablementOverridesRecord(t *testing.T) {
	f := newFixture(t)
	// The record claims the service is enabled at boot; the supervisor
	// disagrees, and the snapshot reports what the supervisor says.
	f.seed(t, "motion-detection/mario", []string{models.CapabilityService}, models.StatusActive)
	f.sup.SetUnit("mario.service", supervisor.FakeUnit{
		ActiveState: supervisor.StateActive,
		Enabled:     false,
	})

	detail, err := f.agg.GetDetail(context.Background(), "motion-detection/mario")
	require.NoError(t, err)
	assert.True(t, detail.ServiceEnabled)
	require.NotNil(t, detail.Runtime)
	require.NotNil(t, detail.Runtime.Enabled)
	assert.False(t, *detail.Runtime.Enabled)
}

func TestGetDetailDegradesPerField(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "motion-detection/mario", []string{models.CapabilityService}, models.StatusActive)
	f.sup.QueryErr = assert.AnError

	detail, err := f.agg.GetDetail(context.Background(), "motion-detection/mario")
	require.NoError(t, err, "live lookup failures must not fail the request")
	require.NotNil(t, detail.Runtime)
	assert.Nil(t, detail.Runtime.ActiveState)
	assert.Nil(t, detail.Runtime.Enabled)
	assert.Nil(t, detail.Runtime.PID)
	assert.Nil(t, detail.Runtime.UptimeSeconds)
	assert.Nil(t, detail.Runtime.MemoryBytes)
	// With no live data, the stored status is all there is.
	assert.Equal(t, models.StatusActive, detail.Status)
}

func TestGetDetailNonServiceModuleSkipsSupervisor(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "system/optimization", []string{models.CapabilityIntegration}, models.StatusInstalled)

	detail, err := f.agg.GetDetail(context.Background(), "system/optimization")
	require.NoError(t, err)
	assert.Nil(t, detail.Runtime)
	assert.Zero(t, f.sup.CallCount())
}

func TestGetDetailUnknownModule(t *testing.T) {
	f := newFixture(t)
	_, err := f.agg.GetDetail(context.Background(), "sensors/climate")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestControlActionRequiresServiceCapability(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "system/optimization", []string{models.CapabilityIntegration}, models.StatusInstalled)

	err := f.agg.ControlAction(context.Background(), "system/optimization", ActionStart)
	assert.ErrorIs(t, err, ErrActionNotSupported)
	// The supervision facility must not have been contacted at all.
	assert.Zero(t, f.sup.CallCount())
}

func TestControlActionRejectsRemovedModule(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "motion-detection/mario", []string{models.CapabilityService}, models.StatusActive)
	_, err := f.store.MarkRemoved(context.Background(), "motion-detection/mario")
	require.NoError(t, err)

	err = f.agg.ControlAction(context.Background(), "motion-detection/mario", ActionStart)
	assert.ErrorIs(t, err, ErrActionNotSupported)
	assert.Zero(t, f.sup.CallCount())
}

func TestControlActionUnknownVerb(t *testing.T) {
	f := newFixture(t)
	err := f.agg.ControlAction(context.Background(), "motion-detection/mario", Action("reload"))
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestControlActionStartDelegatesToSupervisor(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "motion-detection/mario", []string{models.CapabilityService}, models.StatusInactive)
	f.sup.SetUnit("mario.service", supervisor.FakeUnit{ActiveState: supervisor.StateInactive})

	require.NoError(t, f.agg.ControlAction(context.Background(), "motion-detection/mario", ActionStart))

	state, err := f.sup.ActiveState(context.Background(), "mario.service")
	require.NoError(t, err)
	assert.Equal(t, supervisor.StateActive, state)

	// The last-known status is updated, informationally.
	rec, err := f.store.Get(context.Background(), "motion-detection/mario")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, rec.Status)
}

func TestControlActionSurfacesSupervisorFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "motion-detection/mario", []string{models.CapabilityService}, models.StatusInactive)
	f.sup.ControlErr = supervisor.ErrControlFailed

	err := f.agg.ControlAction(context.Background(), "motion-detection/mario", ActionRestart)
	assert.ErrorIs(t, err, supervisor.ErrControlFailed)
}
