//go:build !windows

package platform

import (
	"syscall"

	"github.com/openfroyo/decom/pkg/engine"
)

func classifyErrno(errno syscall.Errno) engine.ErrorClass {
	switch errno {
	case syscall.ENOENT, syscall.ENOTDIR:
		return engine.ErrorClassNotFound
	case syscall.EBUSY, syscall.ENOTEMPTY, syscall.ETXTBSY, syscall.EAGAIN:
		return engine.ErrorClassTransientLock
	case syscall.EACCES, syscall.EPERM, syscall.EROFS:
		return engine.ErrorClassPermission
	}
	return engine.ErrorClassSystem
}
