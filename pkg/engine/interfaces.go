package engine

import (
	"context"
)

// Registry is the hierarchical configuration store.
// Paths use backslash separators with a hive prefix, e.g. HKLM\SOFTWARE\Vendor.
type Registry interface {
	// SubKeys returns the names of the direct children of path in OS order.
	SubKeys(ctx context.Context, path string) ([]string, error)

	// StringValue reads a named string value of the key at path.
	StringValue(ctx context.Context, path, name string) (string, error)

	// KeyExists reports whether the key exists.
	KeyExists(ctx context.Context, path string) (bool, error)

	// DeleteTree deletes the key and its whole subtree in one operation.
	DeleteTree(ctx context.Context, path string) error
}

// ServiceControl is the OS service manager.
type ServiceControl interface {
	// ListServices returns every installed service.
	ListServices(ctx context.Context) ([]ServiceDescriptor, error)

	// DependentServices returns the services that depend on name.
	DependentServices(ctx context.Context, name string) ([]ServiceDescriptor, error)

	// QueryState returns the current state of a service.
	QueryState(ctx context.Context, name string) (ServiceState, error)

	// Start starts a service and returns once the start request was accepted.
	Start(ctx context.Context, name string) error

	// Stop stops a service and waits for it to reach the stopped state.
	Stop(ctx context.Context, name string) error

	// Uninstall removes a service through the native service manager.
	Uninstall(ctx context.Context, name string) error

	// UninstallFallback removes a service through the low-level control tool.
	UninstallFallback(ctx context.Context, name string) error
}

// EntryInfo describes one filesystem entry found by Walk.
type EntryInfo struct {
	Path  string
	IsDir bool
	Size  int64
}

// FileSystem is the subset of filesystem operations the remover needs.
type FileSystem interface {
	// Exists reports whether path exists.
	Exists(ctx context.Context, path string) (bool, error)

	// IsDir reports whether path is a directory.
	IsDir(ctx context.Context, path string) (bool, error)

	// Walk lists every entry below root, excluding root itself.
	// Unreadable subtrees are skipped.
	Walk(ctx context.Context, root string) ([]EntryInfo, error)

	// RemoveFile deletes one regular file.
	RemoveFile(ctx context.Context, path string) error

	// RemoveDir deletes one empty directory.
	RemoveDir(ctx context.Context, path string) error
}

// ModuleLoader registers and unregisters loadable handler modules.
type ModuleLoader interface {
	// Unregister runs the unregistration facility for path synchronously and
	// returns its exit code. err is non-nil only if the facility could not be launched.
	Unregister(ctx context.Context, path string) (exitCode int, err error)
}

// DeviceManager enumerates and removes network adapters and PnP devices.
type DeviceManager interface {
	ListAdapters(ctx context.Context) ([]AdapterDescriptor, error)
	RemoveAdapter(ctx context.Context, adapter AdapterDescriptor) error
	ListDevices(ctx context.Context, class string) ([]DeviceDescriptor, error)
	DisableDevice(ctx context.Context, device DeviceDescriptor) error
	RemoveDevice(ctx context.Context, device DeviceDescriptor) error
}

// OSInfo exposes host identity.
type OSInfo interface {
	// MajorVersion returns the OS major version number.
	MajorVersion(ctx context.Context) (int, error)

	// Getenv returns an environment variable used in path expansion.
	Getenv(name string) string

	// Arch returns the host architecture (amd64, arm64, 386).
	Arch() string
}

// Host bundles every platform collaborator.
type Host struct {
	Registry Registry
	Services ServiceControl
	Files    FileSystem
	Modules  ModuleLoader
	Devices  DeviceManager
	OS       OSInfo
}

// Condition is a predicate over host facts, compiled from profile expressions.
type Condition interface {
	Holds(facts HostFacts) (bool, error)
	String() string
}

// HostFacts are the facts conditions can reference.
type HostFacts struct {
	OSMajor int
	Arch    string
}

// PlanGuard reviews a plan before it is shown for confirmation.
// It returns the plan with refused items moved into Exclusions.
type PlanGuard interface {
	Review(ctx context.Context, plan *Plan) (*Plan, error)
}

// Confirmer asks the operator whether to execute a plan.
type Confirmer interface {
	Confirm(ctx context.Context, plan *Plan) (bool, error)
}

// Observer receives progress notifications from the orchestrator.
type Observer interface {
	RunStarted(ctx context.Context, runID, profile string)
	StateChanged(ctx context.Context, runID string, from, to RunState)
	ActionRecorded(ctx context.Context, runID string, action ActionRecord)
	RunFinished(ctx context.Context, report *RunReport)
}
