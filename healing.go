package hotswap

import (
	"fmt"
	"sync"
)

// HealthStatus represents the health of a monitored module as seen by the
// self-healing manager.
//
// The machine starts Healthy. Failed health reports degrade it; three
// consecutive failures make it Unresponsive. An explicit crash report
// marks it Crashed and triggers recovery, which passes through Recovering
// back to Healthy on success. Exhausting the restart ceiling, or having no
// replacement factory, parks it in the terminal Unrecoverable state.
type HealthStatus int

const (
	// HealthHealthy indicates the module is operating normally.
	HealthHealthy HealthStatus = iota
	// HealthDegraded indicates recent failed health checks below the
	// unresponsiveness threshold.
	HealthDegraded
	// HealthUnresponsive indicates three or more consecutive failed
	// health checks.
	HealthUnresponsive
	// HealthCrashed indicates an external fault collaborator reported the
	// module faulted.
	HealthCrashed
	// HealthRecovering indicates a forced replacement is in flight.
	HealthRecovering
	// HealthUnrecoverable indicates recovery has been permanently refused
	// for this slot. Terminal.
	HealthUnrecoverable
)

// String returns the status name.
func (s HealthStatus) String() string {
	switch s {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnresponsive:
		return "unresponsive"
	case HealthCrashed:
		return "crashed"
	case HealthRecovering:
		return "recovering"
	case HealthUnrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the status as its string name.
func (s HealthStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// unresponsiveThreshold is the number of consecutive failed health checks
// after which a module is considered unresponsive.
const unresponsiveThreshold = 3

// ModuleHealth is the per-slot health record maintained by the manager.
type ModuleHealth struct {
	Status              HealthStatus `json:"status"`
	LastCheckTick       uint64       `json:"lastCheckTick"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	RestartCount        int          `json:"restartCount"`
	MaxRestarts         int          `json:"maxRestarts"`
}

// monitoredModule is the manager's private record for one monitored slot.
type monitoredModule struct {
	name      string
	health    ModuleHealth
	factory   ModuleFactory
	lastState *ModuleState
}

// RecoveryEventKind classifies entries in the self-healing audit log.
type RecoveryEventKind int

const (
	// RecoveryEventCheckFailed records a failed periodic health check.
	RecoveryEventCheckFailed RecoveryEventKind = iota
	// RecoveryEventUnresponsive records the transition to Unresponsive.
	RecoveryEventUnresponsive
	// RecoveryEventCrashed records an explicit crash report.
	RecoveryEventCrashed
	// RecoveryEventRecovered records a successful recovery.
	RecoveryEventRecovered
	// RecoveryEventRecoveryFailed records a recovery attempt whose forced
	// replacement failed.
	RecoveryEventRecoveryFailed
	// RecoveryEventRefused records a recovery refused for lack of a
	// factory.
	RecoveryEventRefused
	// RecoveryEventExhausted records a recovery refused because the
	// restart ceiling was reached.
	RecoveryEventExhausted
)

// String returns the event kind name.
func (k RecoveryEventKind) String() string {
	switch k {
	case RecoveryEventCheckFailed:
		return "check-failed"
	case RecoveryEventUnresponsive:
		return "unresponsive"
	case RecoveryEventCrashed:
		return "crashed"
	case RecoveryEventRecovered:
		return "recovered"
	case RecoveryEventRecoveryFailed:
		return "recovery-failed"
	case RecoveryEventRefused:
		return "recovery-refused"
	case RecoveryEventExhausted:
		return "recovery-exhausted"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the kind as its string name.
func (k RecoveryEventKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// RecoveryEvent is an audit record of a health-check failure, crash, or
// recovery attempt and its outcome.
type RecoveryEvent struct {
	Slot    SlotID            `json:"slot"`
	Module  string            `json:"module"`
	Tick    uint64            `json:"tick"`
	Kind    RecoveryEventKind `json:"kind"`
	Success bool              `json:"success"`
	Detail  string            `json:"detail,omitempty"`
}

// HealingStats holds the manager's aggregate counters.
type HealingStats struct {
	ChecksPerformed      uint64 `json:"checksPerformed"`
	FailuresDetected     uint64 `json:"failuresDetected"`
	SuccessfulRecoveries uint64 `json:"successfulRecoveries"`
	FailedRecoveries     uint64 `json:"failedRecoveries"`
}

// HealingConfig provides configuration for the self-healing manager.
type HealingConfig struct {
	// MaxRestarts is the per-slot restart ceiling. Once a slot has been
	// successfully recovered this many times, further crash reports leave
	// it Unrecoverable. Zero or negative selects the default.
	// Default: 3
	MaxRestarts int `yaml:"maxRestarts" toml:"max_restarts" env:"HOTSWAP_MAX_RESTARTS"`

	// CheckIntervalTicks is how many logical ticks pass between aggregate
	// system-health recomputations. Zero or negative selects the default.
	// Default: 10
	CheckIntervalTicks uint64 `yaml:"checkIntervalTicks" toml:"check_interval_ticks" env:"HOTSWAP_CHECK_INTERVAL"`

	// EventLimit bounds the recovery audit log. Zero or negative selects
	// the default.
	// Default: 256
	EventLimit int `yaml:"eventLimit" toml:"event_limit" env:"HOTSWAP_EVENT_LIMIT"`
}

// SelfHealingManager watches monitored slots for health degradation and
// crash reports, and autonomously repairs crashed slots through the
// registry's forced replacement, bounded by a per-slot restart ceiling.
//
// Health assessment is pushed in by external collaborators via
// ReportHealth and ReportCrash; Tick only advances the logical clock and
// periodically recomputes the aggregate system-health percentage.
//
// The manager's bookkeeping is locked independently of the registry and
// the lock is never held across the call into ForceReplace, so a brief
// window where the manager says Recovering while the registry has already
// finished the replacement is possible and benign.
type SelfHealingManager struct {
	mu       sync.RWMutex
	registry *HotReloadRegistry

	monitored map[SlotID]*monitoredModule
	events    []RecoveryEvent
	stats     HealingStats

	tick          uint64
	checkInterval uint64
	systemHealth  float64
	maxRestarts   int
	eventLimit    int

	logger       Logger
	eventSubject Subject
}

// NewSelfHealingManager creates a manager with default configuration over
// the given registry.
func NewSelfHealingManager(registry *HotReloadRegistry) *SelfHealingManager {
	return NewSelfHealingManagerWithConfig(registry, HealingConfig{})
}

// NewSelfHealingManagerWithConfig creates a manager with custom
// configuration.
func NewSelfHealingManagerWithConfig(registry *HotReloadRegistry, config HealingConfig) *SelfHealingManager {
	if config.MaxRestarts <= 0 {
		config.MaxRestarts = 3
	}
	if config.CheckIntervalTicks == 0 {
		config.CheckIntervalTicks = 10
	}
	if config.EventLimit <= 0 {
		config.EventLimit = 256
	}

	return &SelfHealingManager{
		registry:      registry,
		monitored:     make(map[SlotID]*monitoredModule),
		checkInterval: config.CheckIntervalTicks,
		maxRestarts:   config.MaxRestarts,
		eventLimit:    config.EventLimit,
		systemHealth:  100,
		logger:        noopLogger{},
	}
}

// SetLogger sets the structured logger used by the manager.
func (m *SelfHealingManager) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if logger != nil {
		m.logger = logger
	}
}

// SetEventSubject sets the event subject used to publish healing events.
func (m *SelfHealingManager) SetEventSubject(subject Subject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventSubject = subject
}

// Register begins monitoring a slot. The factory, when non-nil, is used to
// manufacture replacement instances during recovery; without one, recovery
// is structurally impossible for the slot. Registering an already
// monitored slot resets its health record.
func (m *SelfHealingManager) Register(id SlotID, name string, factory ModuleFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.monitored[id] = &monitoredModule{
		name:    name,
		factory: factory,
		health: ModuleHealth{
			Status:      HealthHealthy,
			MaxRestarts: m.maxRestarts,
		},
	}
	m.logger.Info("Slot monitored", "slot", id, "module", name, "hasFactory", factory != nil)
}

// Unregister stops monitoring a slot. Idempotent: unregistering a slot
// that was never registered, or twice, has no effect.
func (m *SelfHealingManager) Unregister(id SlotID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.monitored, id)
}

// ReportHealth records the outcome of an external health check. A healthy
// report resets the consecutive-failure counter; a failed one increments
// it, and at three consecutive failures the slot is marked Unresponsive.
// Recovery is never triggered from this path: that is reserved for
// explicit crash reports.
//
// Reports for slots that are not monitored are ignored.
func (m *SelfHealingManager) ReportHealth(id SlotID, healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.monitored[id]
	if !ok {
		return
	}

	m.stats.ChecksPerformed++
	entry.health.LastCheckTick = m.tick

	// Unrecoverable is terminal; keep recording checks but never revive.
	if entry.health.Status == HealthUnrecoverable {
		if !healthy {
			m.stats.FailuresDetected++
		}
		return
	}

	if healthy {
		entry.health.ConsecutiveFailures = 0
		entry.health.Status = HealthHealthy
		return
	}

	entry.health.ConsecutiveFailures++
	m.stats.FailuresDetected++
	m.appendEvent(RecoveryEvent{
		Slot:   id,
		Module: entry.name,
		Tick:   m.tick,
		Kind:   RecoveryEventCheckFailed,
	})

	if entry.health.ConsecutiveFailures >= unresponsiveThreshold {
		if entry.health.Status != HealthUnresponsive {
			entry.health.Status = HealthUnresponsive
			m.appendEvent(RecoveryEvent{
				Slot:   id,
				Module: entry.name,
				Tick:   m.tick,
				Kind:   RecoveryEventUnresponsive,
			})
			m.logger.Warn("Module unresponsive", "slot", id, "module", entry.name,
				"consecutiveFailures", entry.health.ConsecutiveFailures)
			emitEvent(m.eventSubject, m.logger, EventTypeModuleUnresponsive, eventSourceHealing, map[string]interface{}{
				"slot":   id,
				"module": entry.name,
			})
		}
		return
	}

	entry.health.Status = HealthDegraded
	emitEvent(m.eventSubject, m.logger, EventTypeHealthDegraded, eventSourceHealing, map[string]interface{}{
		"slot":   id,
		"module": entry.name,
	})
}

// ReportCrash records that an external fault collaborator observed the
// slot's module fault, and immediately attempts recovery. It returns the
// recovery outcome. Crash reports for unmonitored slots are ignored.
func (m *SelfHealingManager) ReportCrash(id SlotID) bool {
	m.mu.Lock()

	entry, ok := m.monitored[id]
	if !ok {
		m.mu.Unlock()
		return false
	}

	entry.health.Status = HealthCrashed
	entry.health.ConsecutiveFailures++
	m.stats.FailuresDetected++
	m.appendEvent(RecoveryEvent{
		Slot:   id,
		Module: entry.name,
		Tick:   m.tick,
		Kind:   RecoveryEventCrashed,
	})
	m.logger.Error("Module crashed", "slot", id, "module", entry.name)
	emitEvent(m.eventSubject, m.logger, EventTypeModuleCrashed, eventSourceHealing, map[string]interface{}{
		"slot":   id,
		"module": entry.name,
	})
	m.mu.Unlock()

	return m.AttemptRecovery(id)
}

// AttemptRecovery tries to repair a monitored slot by manufacturing a
// fresh instance with the slot's factory and force-replacing the broken
// module. It returns true only if the replacement succeeded.
//
// Recovery is refused, and the slot marked Unrecoverable, when the restart
// ceiling has been reached or no factory is registered. A failed forced
// replacement does not consume a restart: the slot stays Crashed and the
// attempt may be retried.
func (m *SelfHealingManager) AttemptRecovery(id SlotID) bool {
	m.mu.Lock()

	entry, ok := m.monitored[id]
	if !ok {
		m.mu.Unlock()
		return false
	}

	name := entry.name
	if entry.health.RestartCount >= entry.health.MaxRestarts {
		entry.health.Status = HealthUnrecoverable
		m.appendEvent(RecoveryEvent{
			Slot:   id,
			Module: name,
			Tick:   m.tick,
			Kind:   RecoveryEventExhausted,
			Detail: fmt.Sprintf("%v: %d restarts", ErrRestartLimit, entry.health.RestartCount),
		})
		m.logger.Error("Recovery refused, restart limit reached",
			"slot", id, "module", name, "restarts", entry.health.RestartCount)
		emitEvent(m.eventSubject, m.logger, EventTypeRecoveryExhausted, eventSourceHealing, map[string]interface{}{
			"slot":     id,
			"module":   name,
			"restarts": entry.health.RestartCount,
		})
		m.mu.Unlock()
		return false
	}

	if entry.factory == nil {
		entry.health.Status = HealthUnrecoverable
		m.appendEvent(RecoveryEvent{
			Slot:   id,
			Module: name,
			Tick:   m.tick,
			Kind:   RecoveryEventRefused,
			Detail: ErrNoFactory.Error(),
		})
		m.logger.Error("Recovery refused, no factory", "slot", id, "module", name)
		emitEvent(m.eventSubject, m.logger, EventTypeRecoveryRefused, eventSourceHealing, map[string]interface{}{
			"slot":   id,
			"module": name,
		})
		m.mu.Unlock()
		return false
	}

	entry.health.Status = HealthRecovering
	factory := entry.factory
	checkpoint := entry.lastState
	m.mu.Unlock()

	// The registry call happens without the manager lock held; a moment
	// of Recovering-vs-replaced inconsistency is accepted as benign.
	instance := factory()
	err := m.registry.ForceReplace(id, instance)

	if err == nil && checkpoint != nil {
		// Best-effort: seed the fresh instance with the last known good
		// snapshot, discarding it if the checksum no longer holds.
		if !checkpoint.Validate() {
			m.logger.Warn("Checkpoint corrupted, discarding", "slot", id, "module", name)
		} else if impErr := instance.ImportState(checkpoint); impErr != nil {
			m.logger.Warn("Checkpoint import failed, fresh start",
				"slot", id, "module", name, "error", impErr)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// The entry may have been unregistered while the lock was released.
	entry, ok = m.monitored[id]
	if !ok {
		return err == nil
	}

	if err != nil {
		entry.health.Status = HealthCrashed
		m.stats.FailedRecoveries++
		m.appendEvent(RecoveryEvent{
			Slot:   id,
			Module: name,
			Tick:   m.tick,
			Kind:   RecoveryEventRecoveryFailed,
			Detail: err.Error(),
		})
		m.logger.Error("Recovery failed", "slot", id, "module", name, "error", err)
		emitEvent(m.eventSubject, m.logger, EventTypeRecoveryFailed, eventSourceHealing, map[string]interface{}{
			"slot":   id,
			"module": name,
			"error":  err.Error(),
		})
		return false
	}

	entry.health.Status = HealthHealthy
	entry.health.RestartCount++
	entry.health.ConsecutiveFailures = 0
	m.stats.SuccessfulRecoveries++
	m.appendEvent(RecoveryEvent{
		Slot:    id,
		Module:  name,
		Tick:    m.tick,
		Kind:    RecoveryEventRecovered,
		Success: true,
	})
	m.logger.Info("Module recovered", "slot", id, "module", name,
		"restartCount", entry.health.RestartCount)
	emitEvent(m.eventSubject, m.logger, EventTypeRecoverySucceeded, eventSourceHealing, map[string]interface{}{
		"slot":         id,
		"module":       name,
		"restartCount": entry.health.RestartCount,
	})
	return true
}

// StoreCheckpoint keeps a last-known-good state snapshot for a monitored
// slot. After a successful recovery, the checkpoint is offered to the
// fresh instance via ImportState, best-effort. Checkpoints for unmonitored
// slots are ignored.
func (m *SelfHealingManager) StoreCheckpoint(id SlotID, state *ModuleState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.monitored[id]
	if !ok {
		return
	}
	entry.lastState = state
}

// Tick advances the manager's logical clock. Every CheckIntervalTicks
// ticks, the aggregate system-health percentage is recomputed as the share
// of monitored slots currently Healthy. This is a cheap aggregate, not a
// health-check trigger.
func (m *SelfHealingManager) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tick++
	if m.tick%m.checkInterval != 0 {
		return
	}

	if len(m.monitored) == 0 {
		m.systemHealth = 100
		return
	}

	healthy := 0
	for _, entry := range m.monitored {
		if entry.health.Status == HealthHealthy {
			healthy++
		}
	}
	m.systemHealth = float64(healthy) / float64(len(m.monitored)) * 100
}

// SystemHealth returns the last computed aggregate health percentage.
func (m *SelfHealingManager) SystemHealth() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.systemHealth
}

// Stats returns a copy of the aggregate counters.
func (m *SelfHealingManager) Stats() HealingStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// ModuleStatuses returns the health records of all monitored slots.
func (m *SelfHealingManager) ModuleStatuses() map[SlotID]ModuleHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[SlotID]ModuleHealth, len(m.monitored))
	for id, entry := range m.monitored {
		out[id] = entry.health
	}
	return out
}

// Events returns a copy of the recovery audit log, oldest first.
func (m *SelfHealingManager) Events() []RecoveryEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]RecoveryEvent, len(m.events))
	copy(out, m.events)
	return out
}

// SetMaxRestarts updates the restart ceiling, both the default for future
// registrations and the ceiling of every currently monitored slot. Used
// by the config watcher to apply dynamic settings.
func (m *SelfHealingManager) SetMaxRestarts(limit int) {
	if limit <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.maxRestarts = limit
	for _, entry := range m.monitored {
		entry.health.MaxRestarts = limit
	}
}

// SetCheckInterval updates the tick interval between aggregate health
// recomputations.
func (m *SelfHealingManager) SetCheckInterval(ticks uint64) {
	if ticks == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkInterval = ticks
}

// appendEvent records an audit event, dropping the oldest past the
// configured limit. Caller must hold the write lock.
func (m *SelfHealingManager) appendEvent(ev RecoveryEvent) {
	m.events = append(m.events, ev)
	if len(m.events) > m.eventLimit {
		m.events = m.events[len(m.events)-m.eventLimit:]
	}
}
