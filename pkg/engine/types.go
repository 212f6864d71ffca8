package engine

import (
	"path/filepath"
	"strings"
	"time"
)

// TargetKind discriminates the Target union.
type TargetKind string

const (
	// TargetConfigEntry is a registry key removed with its whole subtree.
	TargetConfigEntry TargetKind = "config_entry"

	// TargetFileTree is a file or directory removed recursively.
	TargetFileTree TargetKind = "file_tree"
)

// Target is a removable OS resource.
type Target struct {
	// Kind selects the removal code path.
	Kind TargetKind `json:"kind" yaml:"kind"`

	// Path is the hierarchical key identifier or absolute filesystem path.
	Path string `json:"path" yaml:"path"`

	// Origin names the profile rule that produced the target.
	Origin string `json:"origin,omitempty" yaml:"origin,omitempty"`

	// SizeBytes is the on-disk size of a file tree at plan time.
	SizeBytes int64 `json:"size_bytes,omitempty" yaml:"size_bytes,omitempty"`
}

// NewConfigEntry returns a registry key target.
func NewConfigEntry(path, origin string) Target {
	return Target{Kind: TargetConfigEntry, Path: normalizeKeyPath(path), Origin: origin}
}

// NewFileTree returns a filesystem target.
func NewFileTree(path, origin string) Target {
	return Target{Kind: TargetFileTree, Path: filepath.Clean(path), Origin: origin}
}

// IsRootedPath reports whether path is anchored at a drive root
// (C:\ or C:/), a UNC share (\\server\share) or is absolute on the
// running OS. Drive-relative forms such as C:foo are not rooted.
func IsRootedPath(path string) bool {
	if len(path) >= 3 && isDriveLetter(path[0]) && path[1] == ':' && isSeparator(path[2]) {
		return true
	}
	if len(path) > 2 && isSeparator(path[0]) && isSeparator(path[1]) && !isSeparator(path[2]) {
		return true
	}
	return filepath.IsAbs(path)
}

func isDriveLetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isSeparator(c byte) bool {
	return c == '\\' || c == '/'
}

// Key is the normalized identity used for deduplication.
// Both registry keys and Windows paths compare case-insensitively.
func (t Target) Key() string {
	p := t.Path
	if t.Kind == TargetFileTree {
		p = filepath.ToSlash(filepath.Clean(p))
	}
	return string(t.Kind) + ":" + strings.ToLower(strings.TrimRight(p, `\/`))
}

func (t Target) String() string {
	return string(t.Kind) + " " + t.Path
}

// normalizeKeyPath trims separators and collapses doubled backslashes.
func normalizeKeyPath(path string) string {
	p := strings.ReplaceAll(strings.TrimSpace(path), "/", `\`)
	for strings.Contains(p, `\\`) {
		p = strings.ReplaceAll(p, `\\`, `\`)
	}
	return strings.Trim(p, `\`)
}

// ServiceState is the run state reported by service control.
type ServiceState string

const (
	ServiceRunning      ServiceState = "running"
	ServiceStopped      ServiceState = "stopped"
	ServiceStartPending ServiceState = "start_pending"
	ServiceStopPending  ServiceState = "stop_pending"
	ServicePaused       ServiceState = "paused"
	ServiceUnknown      ServiceState = "unknown"
)

// IsActive reports whether the service holds resources.
func (s ServiceState) IsActive() bool {
	return s == ServiceRunning || s == ServiceStartPending || s == ServicePaused
}

// ServiceDescriptor is a typed record of an OS service.
type ServiceDescriptor struct {
	// Name is the unique service key name.
	Name string `json:"name" yaml:"name"`

	// DisplayName is the human-readable name used for pattern matching.
	DisplayName string `json:"display_name" yaml:"display_name"`

	// State is the state observed when the descriptor was taken.
	State ServiceState `json:"state" yaml:"state"`
}

// AdapterDescriptor is a typed record of a network adapter.
type AdapterDescriptor struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`

	// InstanceID is the PnP instance backing the adapter, used for removal.
	InstanceID string `json:"instance_id,omitempty" yaml:"instance_id,omitempty"`
}

// DeviceDescriptor is a typed record of a plug-and-play device.
type DeviceDescriptor struct {
	InstanceID   string `json:"instance_id" yaml:"instance_id"`
	FriendlyName string `json:"friendly_name" yaml:"friendly_name"`
	Class        string `json:"class" yaml:"class"`
}

// LocateResult identifies an installed product.
type LocateResult struct {
	// RegistryProductID is the installer's packed product key name.
	RegistryProductID string `json:"registry_product_id"`

	// InstallerID is the curly-brace product code used by the uninstall key.
	InstallerID string `json:"installer_id"`
}

// Exclusion records a planned item that a guard refused to execute.
type Exclusion struct {
	Subject  string `json:"subject" yaml:"subject"`
	Policy   string `json:"policy" yaml:"policy"`
	Severity string `json:"severity" yaml:"severity"`
	Message  string `json:"message" yaml:"message"`
}

// Plan is the filtered, existence-checked set of targets and services for one run.
type Plan struct {
	ID         string              `json:"id" yaml:"id"`
	Product    string              `json:"product" yaml:"product"`
	OSMajor    int                 `json:"os_major" yaml:"os_major"`
	CreatedAt  time.Time           `json:"created_at" yaml:"created_at"`
	Located    *LocateResult       `json:"located,omitempty" yaml:"located,omitempty"`
	Targets    []Target            `json:"targets" yaml:"targets"`
	Services   []ServiceDescriptor `json:"services" yaml:"services"`
	Modules    []string            `json:"modules,omitempty" yaml:"modules,omitempty"`
	Exclusions []Exclusion         `json:"exclusions,omitempty" yaml:"exclusions,omitempty"`
}

// IsEmpty reports whether there is nothing to remove.
func (p *Plan) IsEmpty() bool {
	return p == nil || (len(p.Targets) == 0 && len(p.Services) == 0)
}

// TargetsOfKind returns the targets of the given kind in plan order.
func (p *Plan) TargetsOfKind(kind TargetKind) []Target {
	var out []Target
	for _, t := range p.Targets {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// TotalBytes sums the planned file tree sizes.
func (p *Plan) TotalBytes() int64 {
	var n int64
	for _, t := range p.Targets {
		n += t.SizeBytes
	}
	return n
}

// DependentServiceSet is the set of platform services and their dependents
// that one run stopped to release file handles.
type DependentServiceSet struct {
	// Platform lists the platform and monitoring services that were running and got stopped.
	Platform []string `json:"platform"`

	// Dependents lists the dependents that were running and got stopped.
	Dependents []ServiceDescriptor `json:"dependents"`

	// SuspendedAt is when the settle wait started.
	SuspendedAt time.Time `json:"suspended_at"`
}

// Len returns the total number of stopped services.
func (s *DependentServiceSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Platform) + len(s.Dependents)
}

// RunOutcome is the verification result of a run.
type RunOutcome struct {
	Succeeded        bool                `json:"succeeded" yaml:"succeeded"`
	ResidualServices []ServiceDescriptor `json:"residual_services,omitempty" yaml:"residual_services,omitempty"`
	ResidualTargets  []Target            `json:"residual_targets,omitempty" yaml:"residual_targets,omitempty"`
}

// Phase names the step that produced an action record.
type Phase string

const (
	PhaseUnregister         Phase = "unregister"
	PhaseStopTargetServices Phase = "stop_target_services"
	PhaseSuspendDependents  Phase = "suspend_dependents"
	PhaseRemoveTargets      Phase = "remove_targets"
	PhaseRemoveDevices      Phase = "remove_devices"
	PhaseRestoreDependents  Phase = "restore_dependents"
)

// ActionKind names the kind of resource an action touched.
type ActionKind string

const (
	ActionConfigEntry ActionKind = "config_entry"
	ActionFileTree    ActionKind = "file_tree"
	ActionService     ActionKind = "service"
	ActionModule      ActionKind = "module"
	ActionAdapter     ActionKind = "adapter"
	ActionDevice      ActionKind = "device"
)

// ActionRecord is the uniform log entry for one operation.
type ActionRecord struct {
	Phase      Phase        `json:"phase" yaml:"phase"`
	Kind       ActionKind   `json:"kind" yaml:"kind"`
	Subject    string       `json:"subject" yaml:"subject"`
	Status     ResultStatus `json:"status" yaml:"status"`
	Attempts   int          `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Error      string       `json:"error,omitempty" yaml:"error,omitempty"`
	RecordedAt time.Time    `json:"recorded_at" yaml:"recorded_at"`
}

// newAction builds an ActionRecord from a Result.
func newAction(phase Phase, kind ActionKind, subject string, res Result) ActionRecord {
	rec := ActionRecord{
		Phase:      phase,
		Kind:       kind,
		Subject:    subject,
		Status:     res.Status,
		Attempts:   res.Attempts,
		RecordedAt: time.Now(),
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	return rec
}

// RunReport is everything one invocation did.
type RunReport struct {
	RunID       string         `json:"run_id" yaml:"run_id"`
	Profile     string         `json:"profile" yaml:"profile"`
	State       RunState       `json:"state" yaml:"state"`
	Plan        *Plan          `json:"plan,omitempty" yaml:"plan,omitempty"`
	Outcome     *RunOutcome    `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	Actions     []ActionRecord `json:"actions,omitempty" yaml:"actions,omitempty"`
	Suspended   int            `json:"suspended_services" yaml:"suspended_services"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at" yaml:"started_at"`
	CompletedAt time.Time      `json:"completed_at" yaml:"completed_at"`
}

// Duration returns the wall time of the run.
func (r *RunReport) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Failures returns the actions that did not succeed.
func (r *RunReport) Failures() []ActionRecord {
	var out []ActionRecord
	for _, a := range r.Actions {
		if !a.Status.IsSuccess() {
			out = append(out, a)
		}
	}
	return out
}
