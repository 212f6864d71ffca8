package memhost

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/decom/pkg/engine"
)

// Fixture is the YAML description of a simulated host.
type Fixture struct {
	OSMajor  int                        `yaml:"os_major"`
	Arch     string                     `yaml:"arch"`
	Env      map[string]string          `yaml:"env"`
	Registry []FixtureKey               `yaml:"registry"`
	Services []FixtureService           `yaml:"services"`
	Files    []FixtureFile              `yaml:"files"`
	Modules  []FixtureModule            `yaml:"modules"`
	Adapters []engine.AdapterDescriptor `yaml:"adapters"`
	Devices  []engine.DeviceDescriptor  `yaml:"devices"`
}

// FixtureKey is a registry key with string values.
type FixtureKey struct {
	Path   string            `yaml:"path"`
	Values map[string]string `yaml:"values"`
}

// FixtureService is an installed service.
type FixtureService struct {
	Name          string   `yaml:"name"`
	DisplayName   string   `yaml:"display_name"`
	State         string   `yaml:"state"`
	DependsOn     []string `yaml:"depends_on"`
	FailUninstall bool     `yaml:"fail_uninstall"`
}

// FixtureFile is a file or directory. Locked makes the first removals fail.
type FixtureFile struct {
	Path   string `yaml:"path"`
	Dir    bool   `yaml:"dir"`
	Size   int64  `yaml:"size"`
	Locked int    `yaml:"locked"`
}

// FixtureModule is a registered handler module.
type FixtureModule struct {
	Path     string `yaml:"path"`
	ExitCode int    `yaml:"exit_code"`
}

// Load decodes a fixture and builds the host it describes.
func Load(r io.Reader) (*Host, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode host fixture: %w", err)
	}
	return f.Build(), nil
}

// LoadFile loads a fixture from path.
func LoadFile(path string) (*Host, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open host fixture: %w", err)
	}
	defer file.Close()
	return Load(file)
}

// Build creates the host.
func (f *Fixture) Build() *Host {
	h := New()
	if f.OSMajor != 0 || f.Arch != "" {
		major, arch := f.OSMajor, f.Arch
		if major == 0 {
			major = 10
		}
		if arch == "" {
			arch = "amd64"
		}
		h.SetOS(major, arch)
	}
	for k, v := range f.Env {
		h.SetEnv(k, v)
	}
	for _, k := range f.Registry {
		h.AddKey(k.Path, k.Values)
	}
	for _, s := range f.Services {
		var opts []ServiceOption
		if len(s.DependsOn) > 0 {
			opts = append(opts, DependsOn(s.DependsOn...))
		}
		if s.FailUninstall {
			opts = append(opts, FailUninstall())
		}
		state := engine.ServiceState(s.State)
		if state == "" {
			state = engine.ServiceStopped
		}
		display := s.DisplayName
		if display == "" {
			display = s.Name
		}
		h.AddService(s.Name, display, state, opts...)
	}
	for _, file := range f.Files {
		if file.Dir {
			h.AddDir(file.Path)
		} else {
			h.AddFile(file.Path, file.Size)
		}
		if file.Locked > 0 {
			h.LockFor(file.Path, file.Locked)
		}
	}
	for _, m := range f.Modules {
		h.AddModule(m.Path, m.ExitCode)
	}
	for _, a := range f.Adapters {
		h.AddAdapter(a)
	}
	for _, d := range f.Devices {
		h.AddDevice(d)
	}
	return h
}
