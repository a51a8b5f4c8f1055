package hotswap

// SlotID identifies a slot. IDs are process-wide unique and assigned
// monotonically by the registry that created the slot.
type SlotID uint64

// SlotStatus tracks where a slot is in its lifecycle state machine.
//
// Steady states are Empty and Active; Loading, Unloading and Swapping are
// transient and only observable by callers racing a mutating operation on
// another slot table. Failed is entered when a module's Init fails during
// load or forced replacement and is not exited automatically.
type SlotStatus int

const (
	// SlotEmpty indicates the slot holds no module.
	SlotEmpty SlotStatus = iota
	// SlotLoading indicates a module is being installed into the slot.
	SlotLoading
	// SlotActive indicates the slot holds a live module.
	SlotActive
	// SlotUnloading indicates the slot's module is being removed.
	SlotUnloading
	// SlotSwapping indicates the slot's module is being replaced.
	SlotSwapping
	// SlotFailed indicates the last install attempt failed unrecoverably.
	SlotFailed
)

// String returns the status name.
func (s SlotStatus) String() string {
	switch s {
	case SlotEmpty:
		return "empty"
	case SlotLoading:
		return "loading"
	case SlotActive:
		return "active"
	case SlotUnloading:
		return "unloading"
	case SlotSwapping:
		return "swapping"
	case SlotFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the status as its string name.
func (s SlotStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// slot is the registry's internal record for one typed module container.
// All fields are guarded by the registry's table lock.
type slot struct {
	id             SlotID
	category       ModuleCategory
	module         Module
	status         SlotStatus
	reloadCount    uint64
	lastReloadTick uint64
}

// SlotInfo is a read-only snapshot of a slot, as returned by ListSlots and
// the admin surfaces.
type SlotInfo struct {
	ID             SlotID         `json:"id"`
	Category       ModuleCategory `json:"category"`
	Status         SlotStatus     `json:"status"`
	ModuleName     string         `json:"moduleName,omitempty"`
	ModuleVersion  string         `json:"moduleVersion,omitempty"`
	ReloadCount    uint64         `json:"reloadCount"`
	LastReloadTick uint64         `json:"lastReloadTick"`
}

// ReloadEvent is an immutable audit record appended once per completed
// load, hot-swap or force-replace attempt, successful or not.
type ReloadEvent struct {
	// Slot identifies the slot the attempt targeted.
	Slot SlotID `json:"slot"`

	// OldModule is the name of the module that was in the slot before the
	// attempt, empty for an initial load.
	OldModule string `json:"oldModule,omitempty"`

	// NewModule is the name of the module the attempt tried to install.
	NewModule string `json:"newModule"`

	// Tick is the registry's logical clock at the time of the attempt.
	Tick uint64 `json:"tick"`

	// StateMigrated records whether a state snapshot was carried from the
	// outgoing module to the incoming one. It reflects that migration was
	// attempted, not that the import succeeded.
	StateMigrated bool `json:"stateMigrated"`

	// Success records whether the attempt installed the new module.
	Success bool `json:"success"`

	// Error carries the failure reason for unsuccessful attempts.
	Error string `json:"error,omitempty"`
}

func (s *slot) info() SlotInfo {
	info := SlotInfo{
		ID:             s.id,
		Category:       s.category,
		Status:         s.status,
		ReloadCount:    s.reloadCount,
		LastReloadTick: s.lastReloadTick,
	}
	if s.module != nil {
		info.ModuleName = s.module.Name()
		info.ModuleVersion = s.module.Version().String()
	}
	return info
}
