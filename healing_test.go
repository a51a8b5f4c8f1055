package hotswap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// healingFixture wires a registry and manager with one monitored slot
// holding a loaded module.
func healingFixture(t *testing.T) (*HotReloadRegistry, *SelfHealingManager, SlotID) {
	t.Helper()
	registry := NewHotReloadRegistry()
	manager := NewSelfHealingManager(registry)

	slot := registry.CreateSlot(CategoryCustom)
	require.NoError(t, registry.LoadModule(slot, newFakeModule("worker")))
	manager.Register(slot, "worker", func() Module { return newFakeModule("worker") })
	return registry, manager, slot
}

func TestReportHealthTransitions(t *testing.T) {
	t.Parallel()
	_, manager, slot := healingFixture(t)

	statuses := manager.ModuleStatuses()
	assert.Equal(t, HealthHealthy, statuses[slot].Status)

	manager.ReportHealth(slot, false)
	statuses = manager.ModuleStatuses()
	assert.Equal(t, HealthDegraded, statuses[slot].Status)
	assert.Equal(t, 1, statuses[slot].ConsecutiveFailures)

	manager.ReportHealth(slot, false)
	statuses = manager.ModuleStatuses()
	assert.Equal(t, HealthDegraded, statuses[slot].Status)

	// Third consecutive failure flips to Unresponsive.
	manager.ReportHealth(slot, false)
	statuses = manager.ModuleStatuses()
	assert.Equal(t, HealthUnresponsive, statuses[slot].Status)
	assert.Equal(t, 3, statuses[slot].ConsecutiveFailures)

	// A healthy report resets everything.
	manager.ReportHealth(slot, true)
	statuses = manager.ModuleStatuses()
	assert.Equal(t, HealthHealthy, statuses[slot].Status)
	assert.Equal(t, 0, statuses[slot].ConsecutiveFailures)
}

func TestReportHealthResetBreaksFailureRun(t *testing.T) {
	t.Parallel()
	_, manager, slot := healingFixture(t)

	manager.ReportHealth(slot, false)
	manager.ReportHealth(slot, false)
	manager.ReportHealth(slot, true)
	manager.ReportHealth(slot, false)
	manager.ReportHealth(slot, false)

	// Never three in a row, so never Unresponsive.
	statuses := manager.ModuleStatuses()
	assert.Equal(t, HealthDegraded, statuses[slot].Status)
	assert.Equal(t, 2, statuses[slot].ConsecutiveFailures)
}

func TestReportHealthUnmonitoredIgnored(t *testing.T) {
	t.Parallel()
	registry := NewHotReloadRegistry()
	manager := NewSelfHealingManager(registry)

	manager.ReportHealth(SlotID(7), false)
	assert.Empty(t, manager.ModuleStatuses())
	assert.Equal(t, uint64(0), manager.Stats().ChecksPerformed)
}

func TestReportHealthDoesNotTriggerRecovery(t *testing.T) {
	t.Parallel()
	_, manager, slot := healingFixture(t)

	for i := 0; i < 10; i++ {
		manager.ReportHealth(slot, false)
	}

	statuses := manager.ModuleStatuses()
	assert.Equal(t, HealthUnresponsive, statuses[slot].Status)
	assert.Equal(t, 0, statuses[slot].RestartCount)
	assert.Equal(t, uint64(0), manager.Stats().SuccessfulRecoveries)
}

func TestReportCrashRecovers(t *testing.T) {
	t.Parallel()
	registry, manager, slot := healingFixture(t)

	recovered := manager.ReportCrash(slot)
	assert.True(t, recovered)

	statuses := manager.ModuleStatuses()
	assert.Equal(t, HealthHealthy, statuses[slot].Status)
	assert.Equal(t, 1, statuses[slot].RestartCount)
	assert.Equal(t, 0, statuses[slot].ConsecutiveFailures)

	status, err := registry.SlotStatus(slot)
	require.NoError(t, err)
	assert.Equal(t, SlotActive, status)

	count, err := registry.ReloadCount(slot)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	stats := manager.Stats()
	assert.Equal(t, uint64(1), stats.SuccessfulRecoveries)
	assert.Equal(t, uint64(1), stats.FailuresDetected)
}

func TestReportCrashUnmonitoredIgnored(t *testing.T) {
	t.Parallel()
	registry := NewHotReloadRegistry()
	manager := NewSelfHealingManager(registry)
	assert.False(t, manager.ReportCrash(SlotID(3)))
}

func TestRecoveryBoundedByRestartLimit(t *testing.T) {
	t.Parallel()
	registry := NewHotReloadRegistry()
	manager := NewSelfHealingManagerWithConfig(registry, HealingConfig{MaxRestarts: 2})

	slot := registry.CreateSlot(CategoryCustom)
	require.NoError(t, registry.LoadModule(slot, newFakeModule("worker")))
	manager.Register(slot, "worker", func() Module { return newFakeModule("worker") })

	// The first two crashes recover.
	assert.True(t, manager.ReportCrash(slot))
	assert.True(t, manager.ReportCrash(slot))

	// The third is refused: the ceiling is reached.
	assert.False(t, manager.ReportCrash(slot))

	statuses := manager.ModuleStatuses()
	assert.Equal(t, HealthUnrecoverable, statuses[slot].Status)
	assert.Equal(t, 2, statuses[slot].RestartCount)

	// Unrecoverable is terminal: further crashes never recover.
	assert.False(t, manager.ReportCrash(slot))

	kinds := make([]RecoveryEventKind, 0)
	for _, ev := range manager.Events() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, RecoveryEventExhausted)
}

func TestRecoveryRefusedWithoutFactory(t *testing.T) {
	t.Parallel()
	registry := NewHotReloadRegistry()
	manager := NewSelfHealingManager(registry)

	slot := registry.CreateSlot(CategoryCustom)
	require.NoError(t, registry.LoadModule(slot, newFakeModule("orphan")))
	manager.Register(slot, "orphan", nil)

	assert.False(t, manager.ReportCrash(slot))

	statuses := manager.ModuleStatuses()
	assert.Equal(t, HealthUnrecoverable, statuses[slot].Status)

	found := false
	for _, ev := range manager.Events() {
		if ev.Kind == RecoveryEventRefused {
			found = true
		}
	}
	assert.True(t, found)
}

func TestFailedRecoveryDoesNotConsumeRestart(t *testing.T) {
	t.Parallel()
	registry := NewHotReloadRegistry()
	manager := NewSelfHealingManager(registry)

	slot := registry.CreateSlot(CategoryCustom)
	require.NoError(t, registry.LoadModule(slot, newFakeModule("worker")))

	// First replacement attempt fails its Init; later attempts succeed.
	attempts := 0
	manager.Register(slot, "worker", func() Module {
		attempts++
		mod := newFakeModule("worker")
		if attempts == 1 {
			mod.initErr = assert.AnError
		}
		return mod
	})

	assert.False(t, manager.ReportCrash(slot))
	statuses := manager.ModuleStatuses()
	assert.Equal(t, HealthCrashed, statuses[slot].Status)
	assert.Equal(t, 0, statuses[slot].RestartCount)
	assert.Equal(t, uint64(1), manager.Stats().FailedRecoveries)

	// Retry succeeds and consumes the first restart.
	assert.True(t, manager.AttemptRecovery(slot))
	statuses = manager.ModuleStatuses()
	assert.Equal(t, HealthHealthy, statuses[slot].Status)
	assert.Equal(t, 1, statuses[slot].RestartCount)
}

func TestCheckpointSeedsFreshInstance(t *testing.T) {
	t.Parallel()
	registry := NewHotReloadRegistry()
	manager := NewSelfHealingManager(registry)

	slot := registry.CreateSlot(CategoryCustom)
	require.NoError(t, registry.LoadModule(slot, newFakeModule("worker")))

	var replacement *fakeModule
	manager.Register(slot, "worker", func() Module {
		replacement = newFakeModule("worker")
		return replacement
	})
	manager.StoreCheckpoint(slot, NewModuleState(1, []byte("counter=4")))

	assert.True(t, manager.ReportCrash(slot))
	require.NotNil(t, replacement)
	require.NotNil(t, replacement.imported)
	assert.Equal(t, []byte("counter=4"), replacement.imported.Bytes())
}

func TestCorruptCheckpointDiscarded(t *testing.T) {
	t.Parallel()
	registry := NewHotReloadRegistry()
	manager := NewSelfHealingManager(registry)

	slot := registry.CreateSlot(CategoryCustom)
	require.NoError(t, registry.LoadModule(slot, newFakeModule("worker")))

	var replacement *fakeModule
	manager.Register(slot, "worker", func() Module {
		replacement = newFakeModule("worker")
		return replacement
	})

	checkpoint := NewModuleState(1, []byte("counter=4"))
	checkpoint.data[0] = 'X'
	manager.StoreCheckpoint(slot, checkpoint)

	assert.True(t, manager.ReportCrash(slot))
	require.NotNil(t, replacement)
	assert.Equal(t, 0, replacement.importCalled)
}

func TestRegisterResetsHealth(t *testing.T) {
	t.Parallel()
	_, manager, slot := healingFixture(t)

	manager.ReportHealth(slot, false)
	manager.ReportHealth(slot, false)

	manager.Register(slot, "worker", func() Module { return newFakeModule("worker") })

	statuses := manager.ModuleStatuses()
	assert.Equal(t, HealthHealthy, statuses[slot].Status)
	assert.Equal(t, 0, statuses[slot].ConsecutiveFailures)
}

func TestUnregisterIdempotent(t *testing.T) {
	t.Parallel()
	_, manager, slot := healingFixture(t)

	manager.Unregister(slot)
	manager.Unregister(slot)
	manager.Unregister(SlotID(99))

	assert.Empty(t, manager.ModuleStatuses())
}

func TestSystemHealthAggregate(t *testing.T) {
	t.Parallel()
	registry := NewHotReloadRegistry()
	manager := NewSelfHealingManagerWithConfig(registry, HealingConfig{CheckIntervalTicks: 2})

	// No monitored modules: perfectly healthy.
	manager.Tick()
	manager.Tick()
	assert.Equal(t, float64(100), manager.SystemHealth())

	a := registry.CreateSlot(CategoryCustom)
	b := registry.CreateSlot(CategoryCustom)
	require.NoError(t, registry.LoadModule(a, newFakeModule("a")))
	require.NoError(t, registry.LoadModule(b, newFakeModule("b")))
	manager.Register(a, "a", nil)
	manager.Register(b, "b", nil)

	for i := 0; i < 3; i++ {
		manager.ReportHealth(b, false)
	}

	manager.Tick()
	manager.Tick()
	assert.Equal(t, float64(50), manager.SystemHealth())
}

func TestSetMaxRestartsAppliesToMonitored(t *testing.T) {
	t.Parallel()
	_, manager, slot := healingFixture(t)

	manager.SetMaxRestarts(7)
	statuses := manager.ModuleStatuses()
	assert.Equal(t, 7, statuses[slot].MaxRestarts)

	// Non-positive values are ignored.
	manager.SetMaxRestarts(0)
	statuses = manager.ModuleStatuses()
	assert.Equal(t, 7, statuses[slot].MaxRestarts)
}

func TestHealingEventsEmitted(t *testing.T) {
	t.Parallel()
	observer := newCaptureObserver("healing")
	logger := &mockLogger{}
	broker := NewEventBroker(logger)
	require.NoError(t, broker.RegisterObserver(observer))

	_, manager, slot := healingFixture(t)
	manager.SetEventSubject(broker)

	for i := 0; i < 3; i++ {
		manager.ReportHealth(slot, false)
	}
	assert.True(t, manager.ReportCrash(slot))

	for _, eventType := range []string{
		EventTypeHealthDegraded,
		EventTypeModuleUnresponsive,
		EventTypeModuleCrashed,
		EventTypeRecoverySucceeded,
	} {
		assert.Eventually(t, func() bool {
			return observer.hasType(eventType)
		}, eventWait, eventPoll, "missing event %s", eventType)
	}
}
