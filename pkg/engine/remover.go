package engine

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"
)

// Remover deletes planned targets and the product's own services.
// Every operation is idempotent and reports a Result instead of failing the run.
type Remover struct {
	host     Host
	retry    *RetryPolicy
	logger   zerolog.Logger
	recorder Recorder
}

// NewRemover creates a remover. File tree removal is bounded by policy.
func NewRemover(host Host, policy *RetryPolicy, logger zerolog.Logger) *Remover {
	if policy == nil {
		policy = NewRetryPolicy(DefaultRetrySettings(), nil)
	}
	return &Remover{
		host:   host,
		retry:  policy,
		logger: logger.With().Str("component", "remover").Logger(),
	}
}

// WithRecorder sets the action recorder.
func (r *Remover) WithRecorder(rec Recorder) *Remover {
	r.recorder = rec
	return r
}

// RemoveTargets removes every target in plan order.
func (r *Remover) RemoveTargets(ctx context.Context, targets []Target) []Result {
	results := make([]Result, 0, len(targets))
	for _, t := range targets {
		var (
			res  Result
			kind ActionKind
		)
		switch t.Kind {
		case TargetConfigEntry:
			res, kind = r.RemoveConfigEntry(ctx, t.Path), ActionConfigEntry
		case TargetFileTree:
			res, kind = r.RemoveFileTree(ctx, t.Path), ActionFileTree
		default:
			res = Result{Status: ResultSkipped}
		}
		results = append(results, res)
		r.recorder.record(newAction(PhaseRemoveTargets, kind, t.Path, res))
	}
	return results
}

// RemoveConfigEntry deletes a key with its subtree in one call. It does not retry.
func (r *Remover) RemoveConfigEntry(ctx context.Context, path string) Result {
	err := r.host.Registry.DeleteTree(ctx, path)
	res := ResultFromError(err, 1)
	r.log(res, path, TargetConfigEntry, 1)
	return res
}

// RemoveFileTree deletes a file or directory tree, retrying while it stays locked.
// Each attempt deletes files, then directories deepest first, then the root;
// only the root decides whether the attempt succeeded.
func (r *Remover) RemoveFileTree(ctx context.Context, path string) Result {
	existed := false
	attempts, err := r.retry.Do(ctx,
		func() error {
			found, err := r.removeTreeOnce(ctx, path)
			existed = existed || found
			return err
		},
		isRetryableFileError,
		func(err error, attempt int) {
			r.logger.Warn().
				Err(err).
				Str("target", path).
				Str("kind", string(TargetFileTree)).
				Int("attempt", attempt).
				Int("max_attempts", r.retry.Attempts()).
				Msg("File tree still present, retrying")
		},
	)

	var res Result
	switch {
	case err == nil && !existed:
		res = Result{Status: ResultNotFound, Attempts: attempts}
	default:
		res = ResultFromError(err, attempts)
	}
	r.log(res, path, TargetFileTree, attempts)
	return res
}

// removeTreeOnce performs one removal attempt. found reports whether the root existed.
func (r *Remover) removeTreeOnce(ctx context.Context, root string) (found bool, err error) {
	fs := r.host.Files
	exists, err := fs.Exists(ctx, root)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	isDir, err := fs.IsDir(ctx, root)
	if err != nil {
		return true, err
	}
	if !isDir {
		return true, ignoreNotFound(fs.RemoveFile(ctx, root))
	}

	entries, err := fs.Walk(ctx, root)
	if err != nil {
		r.logger.Debug().Err(err).Str("target", root).Msg("Partial enumeration")
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir {
			dirs = append(dirs, e.Path)
			continue
		}
		_ = fs.RemoveFile(ctx, e.Path)
	}
	sort.SliceStable(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, d := range dirs {
		_ = fs.RemoveDir(ctx, d)
	}
	return true, ignoreNotFound(fs.RemoveDir(ctx, root))
}

// RemoveService stops a service, ignoring stop failures, then uninstalls it
// natively, falling back to the low-level control tool.
func (r *Remover) RemoveService(ctx context.Context, svc ServiceDescriptor) Result {
	log := r.logger.With().Str("target", svc.Name).Str("kind", string(ActionService)).Logger()

	if err := r.host.Services.Stop(ctx, svc.Name); err != nil && !IsNotFound(err) {
		log.Debug().Err(err).Msg("Stop failed, continuing with uninstall")
	}

	err := r.host.Services.Uninstall(ctx, svc.Name)
	if err == nil || IsNotFound(err) {
		res := ResultFromError(err, 1)
		log.Info().Str("status", string(res.Status)).Msg("Service removed")
		return res
	}
	log.Debug().Err(err).Msg("Native uninstall failed, falling back to control tool")

	fallbackErr := r.host.Services.UninstallFallback(ctx, svc.Name)
	if fallbackErr == nil || IsNotFound(fallbackErr) {
		res := ResultFromError(fallbackErr, 2)
		log.Info().Str("status", string(res.Status)).Msg("Service removed by fallback")
		return res
	}

	log.Warn().Err(fallbackErr).Msg("Failed to remove service")
	return Result{Status: ResultWarning, Attempts: 2, Err: errors.Join(err, fallbackErr)}
}

// StopAndRemoveServices removes each service in enumeration order.
func (r *Remover) StopAndRemoveServices(ctx context.Context, services []ServiceDescriptor) []Result {
	results := make([]Result, 0, len(services))
	for _, svc := range services {
		res := r.RemoveService(ctx, svc)
		results = append(results, res)
		r.recorder.record(newAction(PhaseStopTargetServices, ActionService, svc.Name, res))
	}
	return results
}

func (r *Remover) log(res Result, path string, kind TargetKind, attempts int) {
	var ev *zerolog.Event
	switch {
	case res.Status.IsSuccess():
		ev = r.logger.Info()
	case res.Status == ResultTransientLock:
		ev = r.logger.Error()
	default:
		ev = r.logger.Warn()
	}
	ev.Err(res.Err).
		Str("target", path).
		Str("kind", string(kind)).
		Str("status", string(res.Status)).
		Int("attempt", attempts).
		Msg("Target processed")
}

// isRetryableFileError treats everything but absence and denial as a lock that may clear.
func isRetryableFileError(err error) bool {
	switch Classify(err) {
	case ErrorClassNotFound, ErrorClassPermission:
		return false
	}
	return true
}

func ignoreNotFound(err error) error {
	if IsNotFound(err) {
		return nil
	}
	return err
}
