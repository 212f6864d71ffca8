package stores

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/decom/pkg/engine"
)

// Journal records runs into a Store. It is an engine.Observer; write failures
// are logged and never affect the run.
type Journal struct {
	store  Store
	logger zerolog.Logger
}

var _ engine.Observer = (*Journal)(nil)

// NewJournal creates a journal writing to store.
func NewJournal(store Store, logger zerolog.Logger) *Journal {
	return &Journal{
		store:  store,
		logger: logger.With().Str("component", "journal").Logger(),
	}
}

// RunStarted inserts the run row.
func (j *Journal) RunStarted(ctx context.Context, runID, profile string) {
	run := &Run{
		ID:        runID,
		Profile:   profile,
		State:     engine.StateDiscover,
		StartedAt: time.Now(),
	}
	if err := j.store.CreateRun(ctx, run); err != nil {
		j.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to journal run start")
	}
}

// StateChanged updates the run state.
func (j *Journal) StateChanged(ctx context.Context, runID string, _, to engine.RunState) {
	if err := j.store.UpdateRunState(ctx, runID, to); err != nil {
		j.logger.Error().Err(err).Str("run_id", runID).Str("state", string(to)).Msg("Failed to journal state change")
	}
}

// ActionRecorded appends the action.
func (j *Journal) ActionRecorded(ctx context.Context, runID string, action engine.ActionRecord) {
	a := &Action{
		RunID:      runID,
		Phase:      action.Phase,
		Kind:       action.Kind,
		Subject:    action.Subject,
		Status:     action.Status,
		Attempts:   action.Attempts,
		RecordedAt: action.RecordedAt,
	}
	if action.Error != "" {
		msg := action.Error
		a.Error = &msg
	}
	if err := j.store.AppendAction(ctx, a); err != nil {
		j.logger.Error().Err(err).Str("run_id", runID).Str("target", action.Subject).Msg("Failed to journal action")
	}
}

// RunFinished stores the outcome and the residuals.
func (j *Journal) RunFinished(ctx context.Context, report *engine.RunReport) {
	ctx = context.WithoutCancel(ctx)

	completed := report.CompletedAt
	run := &Run{
		ID:          report.RunID,
		Profile:     report.Profile,
		State:       report.State,
		Suspended:   report.Suspended,
		CompletedAt: &completed,
	}
	if report.Plan != nil {
		run.Product = report.Plan.Product
		run.OSMajor = report.Plan.OSMajor
	}
	if report.Outcome != nil {
		run.Succeeded = report.Outcome.Succeeded
	}
	if report.Error != "" {
		msg := report.Error
		run.Error = &msg
	}

	if err := j.store.FinishRun(ctx, run); err != nil {
		j.logger.Error().Err(err).Str("run_id", report.RunID).Msg("Failed to journal run outcome")
		return
	}

	if report.Outcome == nil {
		return
	}
	var residuals []*Residual
	for _, s := range report.Outcome.ResidualServices {
		residuals = append(residuals, &Residual{Kind: "service", Subject: s.Name})
	}
	for _, t := range report.Outcome.ResidualTargets {
		residuals = append(residuals, &Residual{Kind: string(t.Kind), Subject: t.Path})
	}
	if err := j.store.AddResiduals(ctx, report.RunID, residuals); err != nil {
		j.logger.Error().Err(err).Str("run_id", report.RunID).Msg("Failed to journal residuals")
	}
}
