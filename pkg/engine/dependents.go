package engine

import (
	"context"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

// Recorder receives an ActionRecord each time an operation completes.
type Recorder func(ActionRecord)

func (r Recorder) record(rec ActionRecord) {
	if r != nil {
		r(rec)
	}
}

// DependencyManager suspends platform services and their running dependents
// so that files they hold open indirectly can be deleted, then restores them.
type DependencyManager struct {
	services   ServiceControl
	platform   []string
	monitoring []string
	settle     time.Duration
	enabled    bool
	clock      clock.Clock
	logger     zerolog.Logger
	recorder   Recorder
}

// NewDependencyManager creates a manager for the given platform and monitoring services.
func NewDependencyManager(services ServiceControl, platform, monitoring []string, settings Settings, clk clock.Clock, logger zerolog.Logger) *DependencyManager {
	if clk == nil {
		clk = clock.WallClock
	}
	return &DependencyManager{
		services:   services,
		platform:   platform,
		monitoring: monitoring,
		settle:     settings.Settle,
		enabled:    settings.SuspendDependents,
		clock:      clk,
		logger:     logger.With().Str("component", "dependents").Logger(),
	}
}

// WithRecorder sets the action recorder.
func (m *DependencyManager) WithRecorder(r Recorder) *DependencyManager {
	m.recorder = r
	return m
}

// SuspendDependents stops the running dependents of every platform service,
// then the platform services, then the monitoring services, and waits for the
// settle interval. Services in exclude are never touched. The returned set
// holds exactly the services this call stopped.
func (m *DependencyManager) SuspendDependents(ctx context.Context, exclude []ServiceDescriptor) *DependentServiceSet {
	set := &DependentServiceSet{}
	if !m.enabled {
		m.logger.Info().Msg("Platform service suspension disabled")
		return set
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, svc := range exclude {
		excluded[strings.ToLower(svc.Name)] = struct{}{}
	}
	isExcluded := func(name string) bool {
		_, ok := excluded[strings.ToLower(name)]
		return ok
	}

	captured := make(map[string]struct{})
	var running []ServiceDescriptor
	for _, platform := range m.platform {
		deps, err := m.services.DependentServices(ctx, platform)
		if err != nil {
			if !IsNotFound(err) {
				m.logger.Warn().Err(err).Str("service", platform).Msg("Failed to query dependent services")
			}
			continue
		}
		for _, dep := range deps {
			key := strings.ToLower(dep.Name)
			if _, dup := captured[key]; dup || isExcluded(dep.Name) || !dep.State.IsActive() {
				continue
			}
			captured[key] = struct{}{}
			running = append(running, dep)
		}
	}

	for _, dep := range running {
		if m.stop(ctx, dep.Name) {
			set.Dependents = append(set.Dependents, dep)
		}
	}

	for _, name := range append(append([]string(nil), m.platform...), m.monitoring...) {
		if isExcluded(name) {
			continue
		}
		state, err := m.services.QueryState(ctx, name)
		if err != nil {
			if !IsNotFound(err) {
				m.logger.Warn().Err(err).Str("service", name).Msg("Failed to query platform service")
			}
			continue
		}
		if !state.IsActive() {
			continue
		}
		if m.stop(ctx, name) {
			set.Platform = append(set.Platform, name)
		}
	}

	if set.Len() > 0 {
		m.logger.Warn().
			Strs("platform", set.Platform).
			Int("dependents", len(set.Dependents)).
			Msg("Stopped platform services to release file handles; unrelated software may be briefly disrupted")
	}

	set.SuspendedAt = m.clock.Now()
	if m.settle > 0 {
		m.logger.Debug().Dur("settle", m.settle).Msg("Waiting for handles to be released")
		select {
		case <-m.clock.After(m.settle):
		case <-ctx.Done():
		}
	}
	return set
}

// Restore starts the captured platform services first, then each captured
// dependent. Individual start failures are logged and ignored.
func (m *DependencyManager) Restore(ctx context.Context, set *DependentServiceSet) {
	if set.Len() == 0 {
		return
	}
	for _, name := range set.Platform {
		m.start(ctx, name)
	}
	for _, dep := range set.Dependents {
		m.start(ctx, dep.Name)
	}
	m.logger.Info().Int("services", set.Len()).Msg("Restored suspended services")
}

func (m *DependencyManager) stop(ctx context.Context, name string) bool {
	err := m.services.Stop(ctx, name)
	m.recorder.record(newAction(PhaseSuspendDependents, ActionService, name, ResultFromError(err, 1)))
	if err != nil {
		m.logger.Warn().Err(err).Str("service", name).Msg("Failed to stop service")
		return false
	}
	m.logger.Debug().Str("service", name).Msg("Stopped service")
	return true
}

func (m *DependencyManager) start(ctx context.Context, name string) {
	err := m.services.Start(ctx, name)
	res := ResultFromError(err, 1)
	if err != nil {
		res.Status = ResultWarning
		m.logger.Warn().Err(err).Str("service", name).Msg("Failed to restart service")
	}
	m.recorder.record(newAction(PhaseRestoreDependents, ActionService, name, res))
}
