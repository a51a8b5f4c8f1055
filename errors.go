package hotswap

import (
	"errors"
)

// Registry errors
var (
	// ErrSlotNotFound indicates the slot id is not known to the registry.
	ErrSlotNotFound = errors.New("slot not found")

	// ErrAlreadyLoaded indicates a load was attempted on a non-empty slot.
	ErrAlreadyLoaded = errors.New("slot already holds a module")

	// ErrSlotEmpty indicates an operation that requires a current module
	// was attempted on an empty slot.
	ErrSlotEmpty = errors.New("slot is empty")

	// ErrModuleBusy indicates the current module reported it is not safe
	// to unload.
	ErrModuleBusy = errors.New("module is busy and cannot be unloaded")

	// ErrVersionMismatch indicates the incoming module's major version is
	// incompatible with the module it would replace.
	ErrVersionMismatch = errors.New("module version incompatible with current module")

	// ErrStateMigrationFailed indicates the incoming module rejected the
	// state exported by its predecessor. Swaps carrying this condition
	// still complete; the error surfaces only in logs and audit records.
	ErrStateMigrationFailed = errors.New("state migration failed")

	// ErrInitFailed indicates a module's Init returned an error.
	ErrInitFailed = errors.New("module initialization failed")

	// ErrCategoryMismatch indicates the module's category differs from the
	// slot's fixed category.
	ErrCategoryMismatch = errors.New("module category does not match slot category")

	// ErrPermissionDenied indicates hot swapping is globally disabled, or
	// an external authorization collaborator rejected the caller.
	ErrPermissionDenied = errors.New("hot swap not permitted")

	// ErrRollbackFailed is part of the shared error vocabulary for callers
	// and collaborators. Restoring the outgoing module under the exclusive
	// table lock cannot fail in this in-memory implementation, so the
	// registry itself never constructs it; it is reserved for swap schemes
	// where re-installation is fallible.
	ErrRollbackFailed = errors.New("failed to restore previous module after aborted swap")

	// ErrInternal indicates an invariant violation inside the registry.
	ErrInternal = errors.New("internal hot reload error")

	// ErrModuleNil indicates a nil module was passed to a mutating operation.
	ErrModuleNil = errors.New("module cannot be nil")

	// ErrUnknownCategory indicates a category name could not be parsed.
	ErrUnknownCategory = errors.New("unknown module category")
)

// Self-healing errors
var (
	// ErrNoFactory indicates recovery was refused because the monitored
	// slot has no replacement factory registered.
	ErrNoFactory = errors.New("no replacement factory registered")

	// ErrRestartLimit indicates recovery was refused because the slot has
	// exhausted its restart ceiling.
	ErrRestartLimit = errors.New("restart limit exceeded")
)

// Configuration errors
var (
	// ErrUnsupportedConfigFormat indicates the config file extension is
	// neither YAML nor TOML.
	ErrUnsupportedConfigFormat = errors.New("unsupported config format")

	// ErrConfigFieldNotSettable indicates an env override targeted a field
	// that cannot be set by reflection.
	ErrConfigFieldNotSettable = errors.New("config field cannot be set")
)
