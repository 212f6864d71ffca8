package platform

import (
	"context"

	"github.com/openfroyo/decom/pkg/engine"
)

// Regsvr32 is the engine.ModuleLoader backed by regsvr32.exe.
type Regsvr32 struct {
	Runner CommandRunner
}

var _ engine.ModuleLoader = (*Regsvr32)(nil)

// Unregister runs "regsvr32 /s /u path" and returns its exit code.
func (r *Regsvr32) Unregister(ctx context.Context, path string) (int, error) {
	res, err := r.Runner.Run(ctx, "regsvr32.exe", "/s", "/u", path)
	if err != nil {
		return -1, err
	}
	return res.ExitCode, nil
}

// scDelete removes a service through the service control tool.
func scDelete(ctx context.Context, runner CommandRunner, name string) error {
	res, err := runner.Run(ctx, "sc.exe", "delete", name)
	if err != nil {
		return engine.NewSystemError("failed to launch sc.exe", err).WithSubject(name).WithCode(engine.ErrCodeLaunchFailed)
	}
	switch res.ExitCode {
	case 0:
		return nil
	case scServiceDoesNotExist:
		return engine.NewNotFoundError("service not installed", nil).WithSubject(name)
	case scAccessDenied:
		return engine.NewPermissionError("sc.exe delete denied", nil).WithSubject(name)
	}
	return engine.NewSystemError("sc.exe delete failed", nil).WithSubject(name).WithCode(engine.ErrCodeNonZeroExit)
}

// sc.exe exits with the Win32 error code.
const (
	scAccessDenied        = 5
	scServiceDoesNotExist = 1060
)
