package engine_test

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/openfroyo/decom/pkg/engine"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want engine.ErrorClass
	}{
		{name: "nil", err: nil, want: ""},
		{name: "engine error", err: engine.NewTransientLockError("busy", nil), want: engine.ErrorClassTransientLock},
		{name: "wrapped engine error", err: fmt.Errorf("remove: %w", engine.NewPermissionError("denied", nil)), want: engine.ErrorClassPermission},
		{name: "fs not exist", err: &fs.PathError{Op: "remove", Path: "x", Err: fs.ErrNotExist}, want: engine.ErrorClassNotFound},
		{name: "fs permission", err: fs.ErrPermission, want: engine.ErrorClassPermission},
		{name: "plain", err: errors.New("boom"), want: engine.ErrorClassSystem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.Classify(tt.err); got != tt.want {
				t.Errorf("Expected class %q, got %q", tt.want, got)
			}
		})
	}
}

func TestEngineError_Message(t *testing.T) {
	err := engine.NewSystemError("delete failed", errors.New("rpc")).
		WithSubject(`HKLM\SOFTWARE\Contoso`).
		WithOperation("registry.delete")
	want := `[system] delete failed (subject=HKLM\SOFTWARE\Contoso, operation=registry.delete): rpc`
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}

	err = engine.NewNotFoundError("key not found", nil).WithSubject("k")
	if want := "[not_found] key not found (subject=k)"; err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}

func TestEngineError_Is(t *testing.T) {
	exhausted := engine.NewTransientLockError("retries exhausted", nil).WithCode(engine.ErrCodeRetriesExhausted)
	wrapped := fmt.Errorf("file tree: %w", exhausted)

	if !errors.Is(wrapped, &engine.EngineError{Class: engine.ErrorClassTransientLock, Code: engine.ErrCodeRetriesExhausted}) {
		t.Error("Expected wrapped error to match transient_lock with retries exhausted")
	}
	if errors.Is(wrapped, &engine.EngineError{Class: engine.ErrorClassPermission}) {
		t.Error("Expected wrapped error not to match permission")
	}
}

func TestResultFromError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		want        engine.ResultStatus
		wantSuccess bool
	}{
		{name: "success", want: engine.ResultRemoved, wantSuccess: true},
		{name: "absent", err: engine.NewNotFoundError("gone", nil), want: engine.ResultNotFound, wantSuccess: true},
		{name: "locked", err: engine.NewTransientLockError("busy", nil), want: engine.ResultTransientLock},
		{name: "denied", err: engine.NewPermissionError("denied", nil), want: engine.ResultPermissionDenied},
		{name: "other", err: errors.New("boom"), want: engine.ResultFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := engine.ResultFromError(tt.err, 2)
			if res.Status != tt.want {
				t.Errorf("Expected status %s, got %s", tt.want, res.Status)
			}
			if res.Attempts != 2 {
				t.Errorf("Expected 2 attempts, got %d", res.Attempts)
			}
			if res.Status.IsSuccess() != tt.wantSuccess {
				t.Errorf("Expected IsSuccess() = %v for %s", tt.wantSuccess, res.Status)
			}
			if tt.wantSuccess && res.Err != nil {
				t.Errorf("Expected no error, got %v", res.Err)
			}
		})
	}
}
