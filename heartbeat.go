package hotswap

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
)

// HeartbeatConfig configures the periodic tick driver.
type HeartbeatConfig struct {
	// Schedule is a cron expression for the tick cadence, including the
	// "@every <duration>" form. Empty selects the default.
	// Default: "@every 1s"
	Schedule string `yaml:"schedule" toml:"schedule" env:"HOTSWAP_HEARTBEAT_SCHEDULE"`
}

// Heartbeat is the periodic-timer collaborator: it advances the logical
// clocks of the registry and the self-healing manager on a cron schedule.
// Timestamps in audit records and the manager's periodic system-health
// aggregation are driven by these ticks.
type Heartbeat struct {
	registry *HotReloadRegistry
	manager  *SelfHealingManager
	schedule string
	logger   Logger

	cron    *cron.Cron
	mu      sync.Mutex
	started bool
}

// NewHeartbeat creates a heartbeat over the given registry and manager.
// Either may be nil; only the non-nil ones are ticked.
func NewHeartbeat(registry *HotReloadRegistry, manager *SelfHealingManager, config HeartbeatConfig, logger Logger) *Heartbeat {
	if config.Schedule == "" {
		config.Schedule = "@every 1s"
	}
	if logger == nil {
		logger = noopLogger{}
	}

	return &Heartbeat{
		registry: registry,
		manager:  manager,
		schedule: config.Schedule,
		logger:   logger,
	}
}

// Start begins ticking. Calling Start on a running heartbeat is a no-op.
func (h *Heartbeat) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return nil
	}

	h.cron = cron.New()
	if _, err := h.cron.AddFunc(h.schedule, h.beat); err != nil {
		return fmt.Errorf("heartbeat: invalid schedule %q: %w", h.schedule, err)
	}

	h.cron.Start()
	h.started = true
	h.logger.Info("Heartbeat started", "schedule", h.schedule)
	return nil
}

// Stop halts ticking. The in-flight tick, if any, completes. Idempotent.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}

	ctx := h.cron.Stop()
	<-ctx.Done()
	h.started = false
	h.logger.Info("Heartbeat stopped")
}

func (h *Heartbeat) beat() {
	if h.registry != nil {
		h.registry.Tick()
	}
	if h.manager != nil {
		h.manager.Tick()
	}
}
