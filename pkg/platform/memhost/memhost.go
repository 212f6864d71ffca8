// Package memhost provides an in-memory host implementing every engine
// collaborator. It backs the engine tests and the CLI's --simulate mode.
package memhost

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/openfroyo/decom/pkg/engine"
)

// Call is one mutating operation issued against the host.
type Call struct {
	Op      string
	Subject string
}

type regKey struct {
	path   string
	values map[string]string
}

type service struct {
	desc        engine.ServiceDescriptor
	dependsOn   []string
	failDelete  bool
	failSC      bool
	failStart   bool
	failStop    bool
	uninstalled bool
}

type entry struct {
	path string
	dir  bool
	size int64
}

// Host is an in-memory Windows-like host. The zero value is not usable; call New.
type Host struct {
	mu sync.Mutex

	keys     map[string]*regKey
	keyOrder []string

	services []*service

	files  map[string]*entry
	locks  map[string]int
	denied map[string]bool

	adapters []engine.AdapterDescriptor
	devices  []engine.DeviceDescriptor

	modules         map[string]int
	launcherMissing bool

	osMajor int
	arch    string
	env     map[string]string

	calls []Call
}

// New returns an empty host reporting OS major version 10 on amd64.
func New() *Host {
	return &Host{
		keys:    make(map[string]*regKey),
		files:   make(map[string]*entry),
		locks:   make(map[string]int),
		denied:  make(map[string]bool),
		modules: make(map[string]int),
		osMajor: 10,
		arch:    "amd64",
		env:     make(map[string]string),
	}
}

// Engine returns the host as an engine.Host.
func (h *Host) Engine() engine.Host {
	return engine.Host{Registry: h, Services: h, Files: h, Modules: h, Devices: h, OS: h}
}

// Calls returns the mutating operations issued so far.
func (h *Host) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Call(nil), h.calls...)
}

// CallsWithPrefix returns the calls whose Op starts with prefix.
func (h *Host) CallsWithPrefix(prefix string) []Call {
	var out []Call
	for _, c := range h.Calls() {
		if strings.HasPrefix(c.Op, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (h *Host) record(op, subject string) {
	h.calls = append(h.calls, Call{Op: op, Subject: subject})
}

// SetOS sets the reported OS major version and architecture.
func (h *Host) SetOS(major int, arch string) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.osMajor, h.arch = major, arch
	return h
}

// SetEnv sets an environment variable used for %VAR% expansion.
func (h *Host) SetEnv(name, value string) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.env[strings.ToUpper(name)] = value
	return h
}

// ---- registry ----

func keyID(path string) string {
	return strings.ToLower(strings.Trim(strings.ReplaceAll(path, "/", `\`), `\`))
}

// AddKey creates a key and its ancestors, merging values.
func (h *Host) AddKey(path string, values map[string]string) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	path = strings.Trim(strings.ReplaceAll(path, "/", `\`), `\`)
	parts := strings.Split(path, `\`)
	for i := 1; i <= len(parts); i++ {
		p := strings.Join(parts[:i], `\`)
		id := keyID(p)
		if _, ok := h.keys[id]; !ok {
			h.keys[id] = &regKey{path: p, values: make(map[string]string)}
			h.keyOrder = append(h.keyOrder, id)
		}
	}
	for k, v := range values {
		h.keys[keyID(path)].values[k] = v
	}
	return h
}

// HasKey reports whether the key exists.
func (h *Host) HasKey(path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.keys[keyID(path)]
	return ok
}

func notFound(what, subject string) error {
	return engine.NewNotFoundError(what+" not found", nil).WithSubject(subject)
}

// SubKeys implements engine.Registry. Children are returned in creation order.
func (h *Host) SubKeys(_ context.Context, path string) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := keyID(path)
	if _, ok := h.keys[id]; !ok {
		return nil, notFound("key", path)
	}
	var out []string
	for _, k := range h.keyOrder {
		rest, ok := strings.CutPrefix(k, id+`\`)
		if !ok || strings.Contains(rest, `\`) {
			continue
		}
		p := h.keys[k].path
		out = append(out, p[strings.LastIndex(p, `\`)+1:])
	}
	return out, nil
}

// StringValue implements engine.Registry.
func (h *Host) StringValue(_ context.Context, path, name string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	k, ok := h.keys[keyID(path)]
	if !ok {
		return "", notFound("key", path)
	}
	v, ok := k.values[name]
	if !ok {
		return "", notFound("value", path+`\`+name)
	}
	return v, nil
}

// KeyExists implements engine.Registry.
func (h *Host) KeyExists(_ context.Context, path string) (bool, error) {
	return h.HasKey(path), nil
}

// DeleteTree implements engine.Registry.
func (h *Host) DeleteTree(_ context.Context, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("registry.delete", path)
	id := keyID(path)
	if _, ok := h.keys[id]; !ok {
		return notFound("key", path)
	}
	if h.denied[id] {
		return engine.NewPermissionError("access denied", nil).WithSubject(path)
	}
	kept := h.keyOrder[:0]
	for _, k := range h.keyOrder {
		if k == id || strings.HasPrefix(k, id+`\`) {
			delete(h.keys, k)
			continue
		}
		kept = append(kept, k)
	}
	h.keyOrder = kept
	return nil
}

// ---- services ----

// ServiceOption configures a service added with AddService.
type ServiceOption func(*service)

// DependsOn declares the services this service depends on.
func DependsOn(names ...string) ServiceOption {
	return func(s *service) { s.dependsOn = append(s.dependsOn, names...) }
}

// FailUninstall makes native deletion fail.
func FailUninstall() ServiceOption {
	return func(s *service) { s.failDelete = true }
}

// FailFallback makes the control tool deletion fail.
func FailFallback() ServiceOption {
	return func(s *service) { s.failSC = true }
}

// FailStart makes starting the service fail.
func FailStart() ServiceOption {
	return func(s *service) { s.failStart = true }
}

// FailStop makes stopping the service fail.
func FailStop() ServiceOption {
	return func(s *service) { s.failStop = true }
}

// AddService installs a service.
func (h *Host) AddService(name, displayName string, state engine.ServiceState, opts ...ServiceOption) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &service{desc: engine.ServiceDescriptor{Name: name, DisplayName: displayName, State: state}}
	for _, opt := range opts {
		opt(s)
	}
	h.services = append(h.services, s)
	return h
}

func (h *Host) findService(name string) *service {
	for _, s := range h.services {
		if !s.uninstalled && strings.EqualFold(s.desc.Name, name) {
			return s
		}
	}
	return nil
}

// Running returns the names of running services in installation order.
func (h *Host) Running() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, s := range h.services {
		if !s.uninstalled && s.desc.State == engine.ServiceRunning {
			out = append(out, s.desc.Name)
		}
	}
	return out
}

// HasService reports whether the service is installed.
func (h *Host) HasService(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.findService(name) != nil
}

// ListServices implements engine.ServiceControl.
func (h *Host) ListServices(context.Context) ([]engine.ServiceDescriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []engine.ServiceDescriptor
	for _, s := range h.services {
		if !s.uninstalled {
			out = append(out, s.desc)
		}
	}
	return out, nil
}

// DependentServices implements engine.ServiceControl.
func (h *Host) DependentServices(_ context.Context, name string) ([]engine.ServiceDescriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.findService(name) == nil {
		return nil, notFound("service", name)
	}
	var out []engine.ServiceDescriptor
	for _, s := range h.services {
		if s.uninstalled {
			continue
		}
		for _, d := range s.dependsOn {
			if strings.EqualFold(d, name) {
				out = append(out, s.desc)
				break
			}
		}
	}
	return out, nil
}

// QueryState implements engine.ServiceControl.
func (h *Host) QueryState(_ context.Context, name string) (engine.ServiceState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.findService(name)
	if s == nil {
		return engine.ServiceUnknown, notFound("service", name)
	}
	return s.desc.State, nil
}

// Start implements engine.ServiceControl.
func (h *Host) Start(_ context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("service.start", name)
	s := h.findService(name)
	if s == nil {
		return notFound("service", name)
	}
	if s.failStart {
		return engine.NewSystemError("service failed to start", nil).WithSubject(name)
	}
	s.desc.State = engine.ServiceRunning
	return nil
}

// Stop implements engine.ServiceControl.
func (h *Host) Stop(_ context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("service.stop", name)
	s := h.findService(name)
	if s == nil {
		return notFound("service", name)
	}
	if s.failStop {
		return engine.NewSystemError("service failed to stop", nil).WithSubject(name)
	}
	s.desc.State = engine.ServiceStopped
	return nil
}

// Uninstall implements engine.ServiceControl.
func (h *Host) Uninstall(_ context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("service.uninstall", name)
	s := h.findService(name)
	if s == nil {
		return notFound("service", name)
	}
	if s.failDelete {
		return engine.NewSystemError("native delete failed", nil).WithSubject(name)
	}
	s.uninstalled = true
	return nil
}

// UninstallFallback implements engine.ServiceControl.
func (h *Host) UninstallFallback(_ context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("service.sc_delete", name)
	s := h.findService(name)
	if s == nil {
		return notFound("service", name)
	}
	if s.failSC {
		return engine.NewSystemError("sc.exe delete failed", nil).WithSubject(name)
	}
	s.uninstalled = true
	return nil
}

// ---- filesystem ----

func fileID(path string) string {
	return strings.ToLower(strings.TrimRight(strings.ReplaceAll(path, `\`, "/"), "/"))
}

func parentID(id string) (string, bool) {
	i := strings.LastIndex(id, "/")
	if i <= 0 {
		return "", false
	}
	return id[:i], true
}

// AddDir creates a directory and its ancestors.
func (h *Host) AddDir(path string) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addEntry(path, true, 0)
	return h
}

// AddFile creates a file of size bytes and its parent directories.
func (h *Host) AddFile(path string, size int64) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addEntry(path, false, size)
	return h
}

func (h *Host) addEntry(path string, dir bool, size int64) {
	id := fileID(path)
	h.files[id] = &entry{path: path, dir: dir, size: size}
	display := strings.TrimRight(path, `\/`)
	for {
		pid, ok := parentID(id)
		if !ok {
			return
		}
		cut := strings.LastIndexAny(display, `\/`)
		if cut <= 0 {
			return
		}
		display = display[:cut]
		if _, exists := h.files[pid]; !exists {
			h.files[pid] = &entry{path: display, dir: true}
		}
		id = pid
	}
}

// LockFor makes the next n removal calls on path fail as a sharing violation.
func (h *Host) LockFor(path string, n int) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.locks[fileID(path)] = n
	return h
}

// Deny makes removal of path, or deletion of the registry key, fail with access denied.
func (h *Host) Deny(path string) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.denied[fileID(path)] = true
	h.denied[keyID(path)] = true
	return h
}

// HasPath reports whether a file or directory exists.
func (h *Host) HasPath(path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.files[fileID(path)]
	return ok
}

// Exists implements engine.FileSystem.
func (h *Host) Exists(_ context.Context, path string) (bool, error) {
	return h.HasPath(path), nil
}

// IsDir implements engine.FileSystem.
func (h *Host) IsDir(_ context.Context, path string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.files[fileID(path)]
	if !ok {
		return false, notFound("path", path)
	}
	return e.dir, nil
}

// Walk implements engine.FileSystem. Entries are sorted by path.
func (h *Host) Walk(_ context.Context, root string) ([]engine.EntryInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := fileID(root)
	if _, ok := h.files[id]; !ok {
		return nil, notFound("path", root)
	}
	var out []engine.EntryInfo
	for k, e := range h.files {
		if strings.HasPrefix(k, id+"/") {
			out = append(out, engine.EntryInfo{Path: e.path, IsDir: e.dir, Size: e.size})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (h *Host) checkRemovable(id, path string) error {
	if h.denied[id] {
		return engine.NewPermissionError("access denied", nil).WithSubject(path)
	}
	if n := h.locks[id]; n > 0 {
		h.locks[id] = n - 1
		return engine.NewTransientLockError("sharing violation", nil).WithSubject(path)
	}
	return nil
}

// RemoveFile implements engine.FileSystem.
func (h *Host) RemoveFile(_ context.Context, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("fs.remove_file", path)
	id := fileID(path)
	e, ok := h.files[id]
	if !ok {
		return notFound("path", path)
	}
	if e.dir {
		return engine.NewSystemError("is a directory", nil).WithSubject(path)
	}
	if err := h.checkRemovable(id, path); err != nil {
		return err
	}
	delete(h.files, id)
	return nil
}

// RemoveDir implements engine.FileSystem.
func (h *Host) RemoveDir(_ context.Context, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("fs.remove_dir", path)
	id := fileID(path)
	e, ok := h.files[id]
	if !ok {
		return notFound("path", path)
	}
	if !e.dir {
		return engine.NewSystemError("not a directory", nil).WithSubject(path)
	}
	if err := h.checkRemovable(id, path); err != nil {
		return err
	}
	for k := range h.files {
		if strings.HasPrefix(k, id+"/") {
			return engine.NewTransientLockError("directory not empty", nil).WithSubject(path)
		}
	}
	delete(h.files, id)
	return nil
}

// ---- modules ----

// AddModule creates the module file and sets the exit code its unregistration returns.
func (h *Host) AddModule(path string, exitCode int) *Host {
	h.AddFile(path, 0)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.modules[fileID(path)] = exitCode
	return h
}

// SetLauncherMissing makes every unregistration fail to launch.
func (h *Host) SetLauncherMissing(missing bool) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.launcherMissing = missing
	return h
}

// Unregister implements engine.ModuleLoader.
func (h *Host) Unregister(_ context.Context, path string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("module.unregister", path)
	if h.launcherMissing {
		return -1, fmt.Errorf("regsvr32.exe: executable file not found")
	}
	code, ok := h.modules[fileID(path)]
	if !ok {
		return 3, nil
	}
	h.modules[fileID(path)] = 0
	return code, nil
}

// ---- devices ----

// AddAdapter adds a network adapter.
func (h *Host) AddAdapter(a engine.AdapterDescriptor) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.adapters = append(h.adapters, a)
	return h
}

// AddDevice adds a PnP device.
func (h *Host) AddDevice(d engine.DeviceDescriptor) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.devices = append(h.devices, d)
	return h
}

// Adapters returns the remaining adapters.
func (h *Host) Adapters() []engine.AdapterDescriptor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]engine.AdapterDescriptor(nil), h.adapters...)
}

// ListAdapters implements engine.DeviceManager.
func (h *Host) ListAdapters(context.Context) ([]engine.AdapterDescriptor, error) {
	return h.Adapters(), nil
}

// RemoveAdapter implements engine.DeviceManager.
func (h *Host) RemoveAdapter(_ context.Context, a engine.AdapterDescriptor) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("adapter.remove", a.Name)
	for i, x := range h.adapters {
		if x.Name == a.Name {
			h.adapters = append(h.adapters[:i], h.adapters[i+1:]...)
			return nil
		}
	}
	return notFound("adapter", a.Name)
}

// ListDevices implements engine.DeviceManager.
func (h *Host) ListDevices(_ context.Context, class string) ([]engine.DeviceDescriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []engine.DeviceDescriptor
	for _, d := range h.devices {
		if strings.EqualFold(d.Class, class) {
			out = append(out, d)
		}
	}
	return out, nil
}

// DisableDevice implements engine.DeviceManager.
func (h *Host) DisableDevice(_ context.Context, d engine.DeviceDescriptor) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("device.disable", d.InstanceID)
	return nil
}

// RemoveDevice implements engine.DeviceManager.
func (h *Host) RemoveDevice(_ context.Context, d engine.DeviceDescriptor) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("device.remove", d.InstanceID)
	for i, x := range h.devices {
		if x.InstanceID == d.InstanceID {
			h.devices = append(h.devices[:i], h.devices[i+1:]...)
			return nil
		}
	}
	return notFound("device", d.InstanceID)
}

// ---- os ----

// MajorVersion implements engine.OSInfo.
func (h *Host) MajorVersion(context.Context) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.osMajor, nil
}

// Getenv implements engine.OSInfo. Names are case-insensitive.
func (h *Host) Getenv(name string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.env[strings.ToUpper(name)]
}

// Arch implements engine.OSInfo.
func (h *Host) Arch() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.arch
}
