package hotswap

import (
	"fmt"
	"sort"
	"sync"
)

// HotReloadRegistry owns the slot table and provides the only path by
// which a module may be installed, removed, or atomically replaced.
//
// The registry provides:
//   - Typed slots with process-wide unique, monotonically assigned ids
//   - Atomic hot-swap with state migration and rollback on init failure
//   - Forced replacement for modules presumed broken
//   - An append-only audit trail of every install attempt
//   - Event emission for all mutating operations
//
// The whole table is guarded by one reader-writer lock. Every mutating
// operation holds the write lock for its entire duration, including the
// calls into module code, which is what makes a multi-step swap appear
// indivisible to every other caller. Read-only introspection takes the
// read lock. This serializes unrelated slot operations during a swap; the
// tradeoff is accepted for the strength of the atomicity guarantee.
type HotReloadRegistry struct {
	mu     sync.RWMutex
	slots  map[SlotID]*slot
	nextID SlotID
	tick   uint64

	enabled      bool
	versionGate  bool
	history      []ReloadEvent
	historyLimit int

	logger       Logger
	eventSubject Subject
}

// RegistryConfig provides configuration for the hot-reload registry.
type RegistryConfig struct {
	// HotSwapEnabled controls whether HotSwap is globally permitted.
	// When false, HotSwap fails with ErrPermissionDenied; forced
	// replacement by the self-healing manager is unaffected.
	// Default: true
	HotSwapEnabled bool `yaml:"hotSwapEnabled" toml:"hot_swap_enabled" env:"HOTSWAP_ENABLED"`

	// EnforceVersionCompat controls whether HotSwap rejects an incoming
	// module whose major version differs from the current module's.
	// Default: true
	EnforceVersionCompat bool `yaml:"enforceVersionCompat" toml:"enforce_version_compat" env:"HOTSWAP_ENFORCE_VERSION"`

	// HistoryLimit bounds the audit trail; the oldest records are dropped
	// past the limit. Zero or negative selects the default.
	// Default: 256
	HistoryLimit int `yaml:"historyLimit" toml:"history_limit" env:"HOTSWAP_HISTORY_LIMIT"`
}

// NewHotReloadRegistry creates a registry with default configuration:
// hot swap enabled, version compatibility enforced, 256 audit records.
func NewHotReloadRegistry() *HotReloadRegistry {
	return NewHotReloadRegistryWithConfig(RegistryConfig{
		HotSwapEnabled:       true,
		EnforceVersionCompat: true,
		HistoryLimit:         256,
	})
}

// NewHotReloadRegistryWithConfig creates a registry with custom
// configuration.
func NewHotReloadRegistryWithConfig(config RegistryConfig) *HotReloadRegistry {
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 256
	}

	return &HotReloadRegistry{
		slots:        make(map[SlotID]*slot),
		enabled:      config.HotSwapEnabled,
		versionGate:  config.EnforceVersionCompat,
		historyLimit: config.HistoryLimit,
		logger:       noopLogger{},
	}
}

// SetLogger sets the structured logger used by the registry.
func (r *HotReloadRegistry) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if logger != nil {
		r.logger = logger
	}
}

// SetEventSubject sets the event subject used to publish registry events.
func (r *HotReloadRegistry) SetEventSubject(subject Subject) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventSubject = subject
}

// CreateSlot allocates a fresh empty slot for the given category and
// returns its id. Slots are long-lived handles; they are never destroyed
// during normal operation and their category never changes.
func (r *HotReloadRegistry) CreateSlot(category ModuleCategory) SlotID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.slots[id] = &slot{
		id:       id,
		category: category,
		status:   SlotEmpty,
	}

	r.logger.Info("Slot created", "slot", id, "category", category.String())
	emitEvent(r.eventSubject, r.logger, EventTypeSlotCreated, eventSourceRegistry, map[string]interface{}{
		"slot":     id,
		"category": category.String(),
	})

	return id
}

// LoadModule installs a module into an empty slot. The module's Init is
// called under the table lock; on failure the slot transitions to Failed
// and remains moduleless.
func (r *HotReloadRegistry) LoadModule(id SlotID, m Module) error {
	if m == nil {
		return fmt.Errorf("hot reload: load: %w", ErrModuleNil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return fmt.Errorf("hot reload: slot %d: %w", id, ErrSlotNotFound)
	}
	if m.Category() != s.category {
		return fmt.Errorf("hot reload: slot %d expects %s, module %q is %s: %w",
			id, s.category, m.Name(), m.Category(), ErrCategoryMismatch)
	}
	if s.status != SlotEmpty {
		return fmt.Errorf("hot reload: slot %d: %w", id, ErrAlreadyLoaded)
	}

	s.status = SlotLoading
	if err := m.Init(); err != nil {
		s.status = SlotFailed
		r.appendHistory(ReloadEvent{
			Slot:      id,
			NewModule: m.Name(),
			Tick:      r.tick,
			Success:   false,
			Error:     err.Error(),
		})
		r.logger.Error("Module init failed during load", "slot", id, "module", m.Name(), "error", err)
		emitEvent(r.eventSubject, r.logger, EventTypeLoadFailed, eventSourceRegistry, map[string]interface{}{
			"slot":   id,
			"module": m.Name(),
			"error":  err.Error(),
		})
		return fmt.Errorf("hot reload: module %q: %w: %v", m.Name(), ErrInitFailed, err)
	}

	s.module = m
	s.status = SlotActive
	s.lastReloadTick = r.tick
	r.appendHistory(ReloadEvent{
		Slot:      id,
		NewModule: m.Name(),
		Tick:      r.tick,
		Success:   true,
	})

	r.logger.Info("Module loaded", "slot", id, "module", m.Name(), "version", m.Version().String())
	emitEvent(r.eventSubject, r.logger, EventTypeModuleLoaded, eventSourceRegistry, map[string]interface{}{
		"slot":    id,
		"module":  m.Name(),
		"version": m.Version().String(),
	})

	return nil
}

// UnloadModule removes the module from a slot, returning it to Empty.
// The module's CanUnload is consulted first; PrepareUnload failures are
// logged but do not block the removal.
func (r *HotReloadRegistry) UnloadModule(id SlotID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return fmt.Errorf("hot reload: slot %d: %w", id, ErrSlotNotFound)
	}
	if s.module == nil {
		return fmt.Errorf("hot reload: slot %d: %w", id, ErrSlotEmpty)
	}
	if !s.module.CanUnload() {
		return fmt.Errorf("hot reload: slot %d, module %q: %w", id, s.module.Name(), ErrModuleBusy)
	}

	name := s.module.Name()
	s.status = SlotUnloading
	if err := s.module.PrepareUnload(); err != nil {
		r.logger.Warn("PrepareUnload failed, removing anyway", "slot", id, "module", name, "error", err)
	}

	s.module = nil
	s.status = SlotEmpty

	r.logger.Info("Module unloaded", "slot", id, "module", name)
	emitEvent(r.eventSubject, r.logger, EventTypeModuleUnloaded, eventSourceRegistry, map[string]interface{}{
		"slot":   id,
		"module": name,
	})

	return nil
}

// HotSwap atomically replaces the module in an active slot with a new
// module, migrating exported state best-effort.
//
// The procedure is indivisible from the point of view of every other
// caller: the table lock is held across export, cleanup, init and import.
// If the incoming module's Init fails, the outgoing module is restored
// untouched and the slot returns to Active; this is the only rollback
// path. An ImportState failure does not abort the swap: the new module
// simply starts from its own default state (fail-open, continued service
// over perfect state continuity).
func (r *HotReloadRegistry) HotSwap(id SlotID, m Module) error {
	if m == nil {
		return fmt.Errorf("hot reload: swap: %w", ErrModuleNil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return fmt.Errorf("hot reload: slot %d: %w", id, ErrSlotNotFound)
	}
	if !r.enabled {
		return fmt.Errorf("hot reload: slot %d: hot swap disabled: %w", id, ErrPermissionDenied)
	}
	if m.Category() != s.category {
		return fmt.Errorf("hot reload: slot %d expects %s, module %q is %s: %w",
			id, s.category, m.Name(), m.Category(), ErrCategoryMismatch)
	}
	if s.module == nil {
		return fmt.Errorf("hot reload: slot %d: %w", id, ErrSlotEmpty)
	}
	if r.versionGate && !m.Version().CompatibleWith(s.module.Version()) {
		return fmt.Errorf("hot reload: slot %d: module %q v%s replacing v%s: %w",
			id, m.Name(), m.Version(), s.module.Version(), ErrVersionMismatch)
	}

	// Take exclusive ownership of the current module; from here on the
	// swap is committed unless the incoming module fails to initialize.
	outgoing := s.module
	oldName := outgoing.Name()
	s.module = nil
	s.status = SlotSwapping

	state := outgoing.ExportState()

	if err := outgoing.PrepareUnload(); err != nil {
		r.logger.Warn("Outgoing module PrepareUnload failed", "slot", id, "module", oldName, "error", err)
	}

	if err := m.Init(); err != nil {
		// Roll back: the outgoing module is restored as-is, not
		// reinitialized. It was never torn down past PrepareUnload.
		s.module = outgoing
		s.status = SlotActive
		r.appendHistory(ReloadEvent{
			Slot:          id,
			OldModule:     oldName,
			NewModule:     m.Name(),
			Tick:          r.tick,
			StateMigrated: false,
			Success:       false,
			Error:         err.Error(),
		})
		r.logger.Error("Swap rolled back, incoming module init failed",
			"slot", id, "old", oldName, "new", m.Name(), "error", err)
		emitEvent(r.eventSubject, r.logger, EventTypeSwapRolledBack, eventSourceRegistry, map[string]interface{}{
			"slot":  id,
			"old":   oldName,
			"new":   m.Name(),
			"error": err.Error(),
		})
		return fmt.Errorf("hot reload: module %q: %w: %v", m.Name(), ErrInitFailed, err)
	}

	migrated := false
	if state != nil {
		migrated = true
		if err := m.ImportState(state); err != nil {
			r.logger.Warn("State migration failed, new module starts fresh",
				"slot", id, "module", m.Name(), "error", fmt.Errorf("%w: %v", ErrStateMigrationFailed, err))
			emitEvent(r.eventSubject, r.logger, EventTypeStateMigrationFailed, eventSourceRegistry, map[string]interface{}{
				"slot":   id,
				"module": m.Name(),
				"error":  err.Error(),
			})
		}
	}

	s.module = m
	s.status = SlotActive
	s.reloadCount++
	s.lastReloadTick = r.tick
	r.appendHistory(ReloadEvent{
		Slot:          id,
		OldModule:     oldName,
		NewModule:     m.Name(),
		Tick:          r.tick,
		StateMigrated: migrated,
		Success:       true,
	})

	r.logger.Info("Module hot-swapped", "slot", id, "old", oldName, "new", m.Name(), "stateMigrated", migrated)
	emitEvent(r.eventSubject, r.logger, EventTypeSwapCompleted, eventSourceRegistry, map[string]interface{}{
		"slot":          id,
		"old":           oldName,
		"new":           m.Name(),
		"stateMigrated": migrated,
	})

	return nil
}

// ForceReplace unconditionally replaces whatever the slot holds with a new
// module. It is intended for the self-healing manager, when the outgoing
// module is presumed broken: no state is exported from it and its
// PrepareUnload is never called. If the incoming module's Init fails the
// slot is left empty and Failed; there is nothing safe to roll back to.
//
// Unlike HotSwap, a forced replacement is permitted on a moduleless slot
// (one left Failed by a previous attempt) and ignores the global hot-swap
// switch and the version gate.
func (r *HotReloadRegistry) ForceReplace(id SlotID, m Module) error {
	if m == nil {
		return fmt.Errorf("hot reload: force replace: %w", ErrModuleNil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return fmt.Errorf("hot reload: slot %d: %w", id, ErrSlotNotFound)
	}
	if m.Category() != s.category {
		return fmt.Errorf("hot reload: slot %d expects %s, module %q is %s: %w",
			id, s.category, m.Name(), m.Category(), ErrCategoryMismatch)
	}

	oldName := ""
	if s.module != nil {
		oldName = s.module.Name()
	}

	// The broken module is simply dropped; its state is untrustworthy.
	s.module = nil
	s.status = SlotSwapping

	if err := m.Init(); err != nil {
		s.status = SlotFailed
		r.appendHistory(ReloadEvent{
			Slot:      id,
			OldModule: oldName,
			NewModule: m.Name(),
			Tick:      r.tick,
			Success:   false,
			Error:     err.Error(),
		})
		r.logger.Error("Force replace failed, slot left failed",
			"slot", id, "old", oldName, "new", m.Name(), "error", err)
		emitEvent(r.eventSubject, r.logger, EventTypeForceReplaceFailed, eventSourceRegistry, map[string]interface{}{
			"slot":  id,
			"old":   oldName,
			"new":   m.Name(),
			"error": err.Error(),
		})
		return fmt.Errorf("hot reload: module %q: %w: %v", m.Name(), ErrInitFailed, err)
	}

	s.module = m
	s.status = SlotActive
	s.reloadCount++
	s.lastReloadTick = r.tick
	r.appendHistory(ReloadEvent{
		Slot:      id,
		OldModule: oldName,
		NewModule: m.Name(),
		Tick:      r.tick,
		Success:   true,
	})

	r.logger.Info("Module force-replaced", "slot", id, "old", oldName, "new", m.Name())
	emitEvent(r.eventSubject, r.logger, EventTypeForceReplaced, eventSourceRegistry, map[string]interface{}{
		"slot": id,
		"old":  oldName,
		"new":  m.Name(),
	})

	return nil
}

// SlotStatus returns the current status of a slot.
func (r *HotReloadRegistry) SlotStatus(id SlotID) (SlotStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.slots[id]
	if !ok {
		return 0, fmt.Errorf("hot reload: slot %d: %w", id, ErrSlotNotFound)
	}
	return s.status, nil
}

// ReloadCount returns the number of successful swaps and forced
// replacements a slot has gone through.
func (r *HotReloadRegistry) ReloadCount(id SlotID) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.slots[id]
	if !ok {
		return 0, fmt.Errorf("hot reload: slot %d: %w", id, ErrSlotNotFound)
	}
	return s.reloadCount, nil
}

// SlotInfo returns a read-only snapshot of a slot.
func (r *HotReloadRegistry) SlotInfo(id SlotID) (SlotInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.slots[id]
	if !ok {
		return SlotInfo{}, fmt.Errorf("hot reload: slot %d: %w", id, ErrSlotNotFound)
	}
	return s.info(), nil
}

// ListSlots returns snapshots of all slots, ordered by id.
func (r *HotReloadRegistry) ListSlots() []SlotInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]SlotInfo, 0, len(r.slots))
	for _, s := range r.slots {
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// History returns a copy of the audit trail, oldest first.
func (r *HotReloadRegistry) History() []ReloadEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ReloadEvent, len(r.history))
	copy(out, r.history)
	return out
}

// Tick advances the registry's logical clock. It is expected to be called
// at a regular cadence by a timer collaborator such as Heartbeat.
func (r *HotReloadRegistry) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tick++
}

// CurrentTick returns the registry's logical clock.
func (r *HotReloadRegistry) CurrentTick() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tick
}

// SetHotSwapEnabled toggles the global hot-swap switch. Disabling it makes
// HotSwap fail with ErrPermissionDenied; loads, unloads and forced
// replacements are unaffected.
func (r *HotReloadRegistry) SetHotSwapEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enabled != enabled {
		r.logger.Info("Hot swap switch changed", "enabled", enabled)
	}
	r.enabled = enabled
}

// HotSwapEnabled reports whether hot swapping is globally permitted.
func (r *HotReloadRegistry) HotSwapEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// appendHistory records an audit event, dropping the oldest past the
// configured limit. Caller must hold the write lock.
func (r *HotReloadRegistry) appendHistory(ev ReloadEvent) {
	r.history = append(r.history, ev)
	if len(r.history) > r.historyLimit {
		r.history = r.history[len(r.history)-r.historyLimit:]
	}
}
