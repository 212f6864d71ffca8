//go:build windows

package platform

import (
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/openfroyo/decom/pkg/engine"
)

func classifyErrno(errno syscall.Errno) engine.ErrorClass {
	switch errno {
	case windows.ERROR_FILE_NOT_FOUND, windows.ERROR_PATH_NOT_FOUND,
		windows.ERROR_SERVICE_DOES_NOT_EXIST, windows.ERROR_NOT_FOUND:
		return engine.ErrorClassNotFound
	case windows.ERROR_SHARING_VIOLATION, windows.ERROR_LOCK_VIOLATION,
		windows.ERROR_DIR_NOT_EMPTY, windows.ERROR_BUSY,
		windows.ERROR_SERVICE_MARKED_FOR_DELETE:
		return engine.ErrorClassTransientLock
	case windows.ERROR_ACCESS_DENIED:
		return engine.ErrorClassPermission
	}
	return engine.ErrorClassSystem
}
