package platform

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/openfroyo/decom/pkg/engine"
)

// ErrUnsupportedPlatform is returned by NewHost on hosts without a native adapter.
var ErrUnsupportedPlatform = errors.New("decommissioning is only supported on windows; use --simulate elsewhere")

// classify wraps an OS error into a classified engine error.
func classify(op, subject string, err error) error {
	if err == nil {
		return nil
	}
	var (
		errno syscall.Errno
		class engine.ErrorClass
	)
	if errors.As(err, &errno) {
		class = classifyErrno(errno)
	} else {
		class = engine.Classify(err)
	}

	msg := fmt.Sprintf("%s failed", op)
	var e *engine.EngineError
	switch class {
	case engine.ErrorClassNotFound:
		e = engine.NewNotFoundError(msg, err)
	case engine.ErrorClassTransientLock:
		e = engine.NewTransientLockError(msg, err)
	case engine.ErrorClassPermission:
		e = engine.NewPermissionError(msg, err)
	default:
		e = engine.NewSystemError(msg, err)
	}
	return e.WithSubject(subject).WithOperation(op)
}
