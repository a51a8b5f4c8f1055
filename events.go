package hotswap

import "context"

// Event type constants for registry and self-healing events.
// Following CloudEvents specification reverse domain notation.
const (
	// Slot lifecycle events
	EventTypeSlotCreated    = "com.hotswap.slot.created"
	EventTypeModuleLoaded   = "com.hotswap.module.loaded"
	EventTypeModuleUnloaded = "com.hotswap.module.unloaded"
	EventTypeLoadFailed     = "com.hotswap.module.load_failed"

	// Swap events
	EventTypeSwapCompleted        = "com.hotswap.swap.completed"
	EventTypeSwapRolledBack       = "com.hotswap.swap.rolledback"
	EventTypeStateMigrationFailed = "com.hotswap.swap.migration_failed"
	EventTypeForceReplaced        = "com.hotswap.replace.forced"
	EventTypeForceReplaceFailed   = "com.hotswap.replace.failed"

	// Health events
	EventTypeHealthDegraded     = "com.hotswap.health.degraded"
	EventTypeModuleUnresponsive = "com.hotswap.health.unresponsive"
	EventTypeModuleCrashed      = "com.hotswap.health.crashed"

	// Recovery events
	EventTypeRecoverySucceeded = "com.hotswap.recovery.succeeded"
	EventTypeRecoveryFailed    = "com.hotswap.recovery.failed"
	EventTypeRecoveryRefused   = "com.hotswap.recovery.refused"
	EventTypeRecoveryExhausted = "com.hotswap.recovery.exhausted"
)

// Event sources used by the core components.
const (
	eventSourceRegistry = "hotswap.registry"
	eventSourceHealing  = "hotswap.healing"
)

// emitEvent publishes a CloudEvent through the subject without blocking
// the caller. Safe to call while holding component locks.
func emitEvent(subject Subject, logger Logger, eventType, source string, data map[string]interface{}) {
	if subject == nil {
		return
	}

	event := NewCloudEvent(eventType, source, data, nil)

	go func() {
		if err := subject.NotifyObservers(context.Background(), event); err != nil {
			logger.Error("Failed to notify observers", "event", eventType, "error", err)
		}
	}()
}
