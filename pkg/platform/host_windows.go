//go:build windows

package platform

import (
	"context"
	"os"
	"runtime"
	"time"

	"golang.org/x/sys/windows"

	"github.com/openfroyo/decom/pkg/engine"
)

// WindowsOS reports host identity.
type WindowsOS struct{}

// MajorVersion returns the real OS major version, unaffected by manifest shims.
func (WindowsOS) MajorVersion(context.Context) (int, error) {
	return int(windows.RtlGetVersion().MajorVersion), nil
}

// Getenv reads the process environment.
func (WindowsOS) Getenv(name string) string {
	return os.Getenv(name)
}

// Arch returns the architecture of the binary.
func (WindowsOS) Arch() string {
	return runtime.GOARCH
}

// NewHost returns the native Windows host.
func NewHost() (engine.Host, error) {
	runner := &ExecRunner{Timeout: 5 * time.Minute}
	return engine.Host{
		Registry: WindowsRegistry{},
		Services: &WindowsServices{Runner: runner},
		Files:    OSFileSystem{},
		Modules:  &Regsvr32{Runner: runner},
		Devices:  &PowerShellDevices{Runner: runner},
		OS:       WindowsOS{},
	}, nil
}
