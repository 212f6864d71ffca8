//go:build windows

package platform

import (
	"context"
	"time"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"

	"github.com/openfroyo/decom/pkg/engine"
)

// WindowsServices is the engine.ServiceControl backed by the service control manager.
type WindowsServices struct {
	// Runner executes the sc.exe fallback.
	Runner CommandRunner

	// StopTimeout bounds the wait for a service to reach the stopped state.
	StopTimeout time.Duration
}

var _ engine.ServiceControl = (*WindowsServices)(nil)

func (s *WindowsServices) connect() (*mgr.Mgr, error) {
	m, err := mgr.Connect()
	if err != nil {
		return nil, classify("connect", "service control manager", err)
	}
	return m, nil
}

func (s *WindowsServices) withService(name string, fn func(*mgr.Service) error) error {
	m, err := s.connect()
	if err != nil {
		return err
	}
	defer m.Disconnect()
	svcHandle, err := m.OpenService(name)
	if err != nil {
		return classify("open", name, err)
	}
	defer svcHandle.Close()
	return fn(svcHandle)
}

// ListServices returns every installed service with its display name and state.
func (s *WindowsServices) ListServices(_ context.Context) ([]engine.ServiceDescriptor, error) {
	m, err := s.connect()
	if err != nil {
		return nil, err
	}
	defer m.Disconnect()

	names, err := m.ListServices()
	if err != nil {
		return nil, classify("enumerate", "services", err)
	}
	out := make([]engine.ServiceDescriptor, 0, len(names))
	for _, name := range names {
		if d, ok := describe(m, name); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// DependentServices returns the services depending on name.
func (s *WindowsServices) DependentServices(_ context.Context, name string) ([]engine.ServiceDescriptor, error) {
	m, err := s.connect()
	if err != nil {
		return nil, err
	}
	defer m.Disconnect()

	h, err := m.OpenService(name)
	if err != nil {
		return nil, classify("open", name, err)
	}
	deps, err := h.ListDependentServices(svc.AnyActivity)
	h.Close()
	if err != nil {
		return nil, classify("dependents", name, err)
	}
	out := make([]engine.ServiceDescriptor, 0, len(deps))
	for _, dep := range deps {
		if d, ok := describe(m, dep); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// QueryState returns the current state of name.
func (s *WindowsServices) QueryState(_ context.Context, name string) (engine.ServiceState, error) {
	state := engine.ServiceUnknown
	err := s.withService(name, func(h *mgr.Service) error {
		st, err := h.Query()
		if err != nil {
			return classify("query", name, err)
		}
		state = mapState(st.State)
		return nil
	})
	return state, err
}

// Start requests a start. An already running service is not an error.
func (s *WindowsServices) Start(_ context.Context, name string) error {
	return s.withService(name, func(h *mgr.Service) error {
		if err := h.Start(); err != nil && err != windows.ERROR_SERVICE_ALREADY_RUNNING {
			return classify("start", name, err)
		}
		return nil
	})
}

// Stop sends a stop control and waits for the stopped state.
func (s *WindowsServices) Stop(ctx context.Context, name string) error {
	return s.withService(name, func(h *mgr.Service) error {
		st, err := h.Control(svc.Stop)
		if err != nil && err != windows.ERROR_SERVICE_NOT_ACTIVE {
			return classify("stop", name, err)
		}
		if err == nil && st.State == svc.Stopped {
			return nil
		}
		timeout := s.StopTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		deadline := time.NewTimer(timeout)
		defer deadline.Stop()
		tick := time.NewTicker(250 * time.Millisecond)
		defer tick.Stop()
		for {
			st, err := h.Query()
			if err != nil {
				return classify("query", name, err)
			}
			if st.State == svc.Stopped {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-deadline.C:
				return engine.NewTransientLockError("service did not stop in time", nil).WithSubject(name)
			case <-tick.C:
			}
		}
	})
}

// Uninstall marks the service for deletion through the service control manager.
func (s *WindowsServices) Uninstall(_ context.Context, name string) error {
	return s.withService(name, func(h *mgr.Service) error {
		if err := h.Delete(); err != nil {
			return classify("delete", name, err)
		}
		return nil
	})
}

// UninstallFallback deletes the service with sc.exe.
func (s *WindowsServices) UninstallFallback(ctx context.Context, name string) error {
	return scDelete(ctx, s.Runner, name)
}

func describe(m *mgr.Mgr, name string) (engine.ServiceDescriptor, bool) {
	h, err := m.OpenService(name)
	if err != nil {
		return engine.ServiceDescriptor{}, false
	}
	defer h.Close()
	d := engine.ServiceDescriptor{Name: name, DisplayName: name, State: engine.ServiceUnknown}
	if cfg, err := h.Config(); err == nil && cfg.DisplayName != "" {
		d.DisplayName = cfg.DisplayName
	}
	if st, err := h.Query(); err == nil {
		d.State = mapState(st.State)
	}
	return d, true
}

func mapState(s svc.State) engine.ServiceState {
	switch s {
	case svc.Running:
		return engine.ServiceRunning
	case svc.Stopped:
		return engine.ServiceStopped
	case svc.StartPending, svc.ContinuePending:
		return engine.ServiceStartPending
	case svc.StopPending:
		return engine.ServiceStopPending
	case svc.Paused, svc.PausePending:
		return engine.ServicePaused
	}
	return engine.ServiceUnknown
}
