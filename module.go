// Package hotswap provides live module replacement and self-healing for
// long-running systems built out of swappable subsystem implementations.
//
// The package is organized around three pieces: the Module contract that
// every swappable component implements, the HotReloadRegistry that owns
// typed slots and performs atomic load/unload/swap operations, and the
// SelfHealingManager that watches slot health and autonomously replaces
// crashed modules through a bounded retry policy.
//
// Basic usage:
//
//	registry := hotswap.NewHotReloadRegistry()
//	slot := registry.CreateSlot(hotswap.CategoryScheduler)
//	if err := registry.LoadModule(slot, mySchedulerModule); err != nil {
//		log.Fatal(err)
//	}
//	// later, replace it without stopping the system
//	if err := registry.HotSwap(slot, betterSchedulerModule); err != nil {
//		log.Fatal(err)
//	}
package hotswap

import "fmt"

// Module represents a swappable unit of behavior managed by the registry.
// A module encapsulates one subsystem implementation (a scheduler, an
// allocator, a driver) behind a uniform lifecycle surface so the registry
// can install, remove, and atomically replace it without knowing anything
// about its internals.
//
// A module instance is exclusively owned by at most one slot at a time;
// ownership transfers during a swap and is never shared.
type Module interface {
	// Name returns the stable, human-readable identifier for this module.
	// It appears in audit records, events, and log output.
	Name() string

	// Version returns the module's semantic version. Two modules are
	// swap-compatible when their major versions match.
	Version() ModuleVersion

	// Category returns the category this module belongs to. A module may
	// only ever be placed in a slot created for the same category.
	Category() ModuleCategory

	// Init allocates the module's resources. It is called exactly once per
	// instance, before any other lifecycle operation, while the registry
	// holds the slot table lock. A failure here aborts the installation:
	// during a hot swap it triggers rollback to the previous module.
	Init() error

	// PrepareUnload quiesces and releases resources in preparation for
	// removal. By the time it is called the removal decision is already
	// committed, so the registry treats a failure as best-effort and
	// proceeds regardless.
	PrepareUnload() error

	// ExportState returns a snapshot of the module's migratable state, or
	// nil for stateless modules. It must not block and has no error
	// channel: if serialization is impossible the module returns nil and
	// its successor starts fresh.
	ExportState() *ModuleState

	// ImportState restores state exported by a predecessor of the same
	// category. It is best-effort: a failure is recorded but does not
	// abort the swap that carried the state.
	ImportState(state *ModuleState) error

	// CanUnload reports whether the module is currently safe to remove.
	// It must be synchronous and non-blocking; callers re-check it
	// immediately before any unload.
	CanUnload() bool
}

// ModuleFactory produces a fresh, uninitialized instance of a module.
// The self-healing manager uses factories to manufacture replacements for
// crashed modules without operator intervention.
type ModuleFactory func() Module

// ModuleVersion identifies a module implementation using semantic
// versioning. Compatibility gating only considers the major component.
type ModuleVersion struct {
	Major uint16 `json:"major"`
	Minor uint16 `json:"minor"`
	Patch uint16 `json:"patch"`
}

// CompatibleWith reports whether state exported by a module at version
// other can be consumed by a module at version v. Versions are compatible
// iff their major components match.
func (v ModuleVersion) CompatibleWith(other ModuleVersion) bool {
	return v.Major == other.Major
}

// String returns the dotted form, e.g. "1.4.2".
func (v ModuleVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// ModuleCategory statically types a slot: a slot created for one category
// may only ever hold modules reporting that category.
type ModuleCategory int

const (
	// CategoryScheduler covers CPU/task scheduling implementations.
	CategoryScheduler ModuleCategory = iota
	// CategoryMemoryAllocator covers memory allocation implementations.
	CategoryMemoryAllocator
	// CategoryFilesystem covers filesystem implementations.
	CategoryFilesystem
	// CategoryDriver covers device driver implementations.
	CategoryDriver
	// CategoryNetwork covers network stack implementations.
	CategoryNetwork
	// CategorySecurity covers security policy implementations.
	CategorySecurity
	// CategoryIPC covers inter-process communication implementations.
	CategoryIPC
	// CategoryCustom covers anything outside the built-in categories.
	CategoryCustom
)

// String returns the category name.
func (c ModuleCategory) String() string {
	switch c {
	case CategoryScheduler:
		return "scheduler"
	case CategoryMemoryAllocator:
		return "memory-allocator"
	case CategoryFilesystem:
		return "filesystem"
	case CategoryDriver:
		return "driver"
	case CategoryNetwork:
		return "network"
	case CategorySecurity:
		return "security"
	case CategoryIPC:
		return "ipc"
	case CategoryCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the category as its string name.
func (c ModuleCategory) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// ParseModuleCategory parses a category name as produced by String.
func ParseModuleCategory(s string) (ModuleCategory, error) {
	switch s {
	case "scheduler":
		return CategoryScheduler, nil
	case "memory-allocator":
		return CategoryMemoryAllocator, nil
	case "filesystem":
		return CategoryFilesystem, nil
	case "driver":
		return CategoryDriver, nil
	case "network":
		return CategoryNetwork, nil
	case "security":
		return CategorySecurity, nil
	case "ipc":
		return CategoryIPC, nil
	case "custom":
		return CategoryCustom, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
}

// ModuleState is an opaque, versioned snapshot of a module's migratable
// state. The registry and the self-healing manager pass it between modules
// of the same category without ever interpreting the bytes; format
// compatibility is entirely the producing and consuming modules'
// responsibility.
//
// A checksum is computed at construction so that checkpoints held across
// recovery attempts can be validated before import.
type ModuleState struct {
	version  uint32
	data     []byte
	checksum uint64
}

// NewModuleState creates a state snapshot from serialized module data.
// The data is copied; callers may reuse the slice afterwards.
func NewModuleState(version uint32, data []byte) *ModuleState {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &ModuleState{
		version:  version,
		data:     buf,
		checksum: stateChecksum(buf),
	}
}

// Version returns the state format version declared by the producer.
func (s *ModuleState) Version() uint32 {
	return s.version
}

// Bytes returns the serialized state. The returned slice must not be
// mutated.
func (s *ModuleState) Bytes() []byte {
	return s.data
}

// Validate reports whether the data still matches the checksum captured at
// construction.
func (s *ModuleState) Validate() bool {
	return stateChecksum(s.data) == s.checksum
}

func stateChecksum(data []byte) uint64 {
	// FNV-1a over the raw bytes.
	const offset = 0xcbf29ce484222325
	const prime = 0x100000001b3

	hash := uint64(offset)
	for _, b := range data {
		hash ^= uint64(b)
		hash *= prime
	}
	return hash
}
