package hotswap

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// opModule is a counter module whose Do operation faults after a
// configured number of calls, simulating a module that works for a while
// and then crashes.
type opModule struct {
	counter   uint64
	failAfter uint64
}

func newOpModule(failAfter uint64) *opModule {
	return &opModule{failAfter: failAfter}
}

func (m *opModule) Name() string             { return "op-counter" }
func (m *opModule) Version() ModuleVersion   { return ModuleVersion{Major: 1} }
func (m *opModule) Category() ModuleCategory { return CategoryCustom }
func (m *opModule) Init() error              { return nil }
func (m *opModule) PrepareUnload() error     { return nil }
func (m *opModule) CanUnload() bool          { return true }

func (m *opModule) ExportState() *ModuleState {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, m.counter)
	return NewModuleState(1, data)
}

func (m *opModule) ImportState(state *ModuleState) error {
	data := state.Bytes()
	if len(data) < 8 {
		return errors.New("short state")
	}
	m.counter = binary.BigEndian.Uint64(data)
	return nil
}

// Do performs one unit of work, faulting once the failure point is hit.
func (m *opModule) Do() error {
	if m.failAfter > 0 && m.counter >= m.failAfter {
		return errors.New("op fault")
	}
	m.counter++
	return nil
}

func TestCrashRecoveryEndToEnd(t *testing.T) {
	t.Parallel()
	registry := NewHotReloadRegistry()
	manager := NewSelfHealingManager(registry)

	slot := registry.CreateSlot(CategoryCustom)

	live := newOpModule(4)
	require.NoError(t, registry.LoadModule(slot, live))

	var replacement *opModule
	manager.Register(slot, "op-counter", func() Module {
		replacement = newOpModule(0)
		return replacement
	})

	// Four operations succeed, the fifth faults.
	for i := 0; i < 4; i++ {
		require.NoError(t, live.Do())
	}
	err := live.Do()
	require.Error(t, err)

	// The fault collaborator reports the crash; the manager repairs the
	// slot with a fresh instance starting from a zero counter.
	recovered := manager.ReportCrash(slot)
	assert.True(t, recovered)
	require.NotNil(t, replacement)
	assert.Equal(t, uint64(0), replacement.counter)

	info, ierr := registry.SlotInfo(slot)
	require.NoError(t, ierr)
	assert.Equal(t, SlotActive, info.Status)
	assert.Equal(t, "op-counter", info.ModuleName)
	assert.Equal(t, uint64(1), info.ReloadCount)

	statuses := manager.ModuleStatuses()
	assert.Equal(t, HealthHealthy, statuses[slot].Status)
	assert.Equal(t, 1, statuses[slot].RestartCount)
}

func TestCheckpointedRecoveryEndToEnd(t *testing.T) {
	t.Parallel()
	registry := NewHotReloadRegistry()
	manager := NewSelfHealingManager(registry)

	slot := registry.CreateSlot(CategoryCustom)

	live := newOpModule(4)
	require.NoError(t, registry.LoadModule(slot, live))

	var replacement *opModule
	manager.Register(slot, "op-counter", func() Module {
		replacement = newOpModule(0)
		return replacement
	})

	// Checkpoint after three good operations, then crash on the fifth.
	for i := 0; i < 3; i++ {
		require.NoError(t, live.Do())
	}
	manager.StoreCheckpoint(slot, live.ExportState())
	require.NoError(t, live.Do())
	require.Error(t, live.Do())

	require.True(t, manager.ReportCrash(slot))
	require.NotNil(t, replacement)

	// The fresh instance resumed from the checkpoint, not from zero and
	// not from the crashed module's final state.
	assert.Equal(t, uint64(3), replacement.counter)
	require.NoError(t, replacement.Do())
	assert.Equal(t, uint64(4), replacement.counter)
}

func TestHotSwapCarriesCounterEndToEnd(t *testing.T) {
	t.Parallel()
	registry := NewHotReloadRegistry()
	slot := registry.CreateSlot(CategoryCustom)

	v1 := newOpModule(0)
	require.NoError(t, registry.LoadModule(slot, v1))
	for i := 0; i < 7; i++ {
		require.NoError(t, v1.Do())
	}

	v2 := newOpModule(0)
	require.NoError(t, registry.HotSwap(slot, v2))
	assert.Equal(t, uint64(7), v2.counter)
}

func TestTicksAdvanceClocksEndToEnd(t *testing.T) {
	t.Parallel()
	registry := NewHotReloadRegistry()
	manager := NewSelfHealingManagerWithConfig(registry, HealingConfig{CheckIntervalTicks: 1})

	// Drive the clocks directly, as Heartbeat does on each beat.
	for i := 0; i < 5; i++ {
		registry.Tick()
		manager.Tick()
	}

	assert.Equal(t, uint64(5), registry.CurrentTick())
	assert.Equal(t, float64(100), manager.SystemHealth())
}
