package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Unregistrar unregisters handler modules before their files are removed.
type Unregistrar struct {
	modules  ModuleLoader
	files    FileSystem
	logger   zerolog.Logger
	recorder Recorder
}

// NewUnregistrar creates an unregistration step.
func NewUnregistrar(modules ModuleLoader, files FileSystem, logger zerolog.Logger) *Unregistrar {
	return &Unregistrar{
		modules: modules,
		files:   files,
		logger:  logger.With().Str("component", "unregister").Logger(),
	}
}

// WithRecorder sets the action recorder.
func (u *Unregistrar) WithRecorder(r Recorder) *Unregistrar {
	u.recorder = r
	return u
}

// UnregisterHandlers unregisters every existing module path in order.
// Exit code 0 is success, a nonzero exit is a warning, and a launch failure
// is an error. None of them stop the loop.
func (u *Unregistrar) UnregisterHandlers(ctx context.Context, paths []string) []Result {
	results := make([]Result, 0, len(paths))
	for _, path := range paths {
		res := u.unregister(ctx, path)
		results = append(results, res)
		u.recorder.record(newAction(PhaseUnregister, ActionModule, path, res))
	}
	return results
}

func (u *Unregistrar) unregister(ctx context.Context, path string) Result {
	log := u.logger.With().Str("target", path).Logger()

	exists, err := u.files.Exists(ctx, path)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to check module, skipping")
		return Result{Status: ResultSkipped, Err: err}
	}
	if !exists {
		log.Debug().Msg("Module not present")
		return Result{Status: ResultNotFound}
	}

	code, err := u.modules.Unregister(ctx, path)
	if err != nil {
		log.Error().Err(err).Msg("Failed to launch module unregistration")
		return Result{
			Status:   ResultFailed,
			Attempts: 1,
			Err:      NewSystemError("failed to launch unregistration", err).WithSubject(path).WithCode(ErrCodeLaunchFailed),
		}
	}
	if code != 0 {
		log.Warn().Int("exit_code", code).Msg("Module unregistration returned nonzero, it may already be unregistered")
		return Result{
			Status:   ResultWarning,
			Attempts: 1,
			Err: NewSystemError(fmt.Sprintf("unregistration exited with code %d", code), nil).
				WithSubject(path).WithCode(ErrCodeNonZeroExit),
		}
	}
	log.Info().Str("status", string(ResultRemoved)).Msg("Module unregistered")
	return Result{Status: ResultRemoved, Attempts: 1}
}
