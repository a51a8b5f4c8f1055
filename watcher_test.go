package hotswap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWatcherAppliesDynamicSettings(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "hotswap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("registry:\n  hotSwapEnabled: true\n"), 0o600))

	registry := NewHotReloadRegistry()
	manager := NewSelfHealingManager(registry)
	slot := registry.CreateSlot(CategoryCustom)
	require.NoError(t, registry.LoadModule(slot, newFakeModule("worker")))
	manager.Register(slot, "worker", nil)

	watcher := NewConfigWatcher(path, registry, manager, &mockLogger{})
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	contents := `
registry:
  hotSwapEnabled: false
healing:
  maxRestarts: 9
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	assert.Eventually(t, func() bool {
		return !registry.HotSwapEnabled()
	}, 5*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		return manager.ModuleStatuses()[slot].MaxRestarts == 9
	}, 5*time.Second, 20*time.Millisecond)
}

func TestConfigWatcherSurvivesBadReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "hotswap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("registry:\n  hotSwapEnabled: true\n"), 0o600))

	logger := &mockLogger{}
	registry := NewHotReloadRegistry()
	watcher := NewConfigWatcher(path, registry, nil, logger)
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(path, []byte(":::: not yaml"), 0o600))

	assert.Eventually(t, func() bool {
		return logger.hasMessage("Config reload failed, keeping current settings")
	}, 5*time.Second, 20*time.Millisecond)

	// The running settings are untouched.
	assert.True(t, registry.HotSwapEnabled())
}

func TestConfigWatcherIgnoresOtherFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "hotswap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("registry:\n  hotSwapEnabled: true\n"), 0o600))

	registry := NewHotReloadRegistry()
	watcher := NewConfigWatcher(path, registry, nil, nil)
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	other := filepath.Join(dir, "unrelated.yaml")
	require.NoError(t, os.WriteFile(other, []byte("registry:\n  hotSwapEnabled: false\n"), 0o600))

	time.Sleep(200 * time.Millisecond)
	assert.True(t, registry.HotSwapEnabled())
}

func TestConfigWatcherStopIdempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "hotswap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	watcher := NewConfigWatcher(path, NewHotReloadRegistry(), nil, nil)
	require.NoError(t, watcher.Start())
	watcher.Stop()
	watcher.Stop()
}
