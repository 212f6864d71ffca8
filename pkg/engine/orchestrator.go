package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Orchestrator drives one decommissioning run through the state machine.
type Orchestrator struct {
	host      Host
	knowledge Knowledge
	settings  Settings
	profile   string
	clock     clock.Clock
	guard     PlanGuard
	confirmer Confirmer
	observers []Observer
	tracer    trace.Tracer
	logger    zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock used for settle waits and retry delays.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithGuard sets the plan guard.
func WithGuard(g PlanGuard) Option {
	return func(o *Orchestrator) { o.guard = g }
}

// WithConfirmer sets the confirmation collaborator.
func WithConfirmer(c Confirmer) Option {
	return func(o *Orchestrator) { o.confirmer = c }
}

// WithObserver adds a progress observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithProfileName records the profile name on reports.
func WithProfileName(name string) Option {
	return func(o *Orchestrator) { o.profile = name }
}

// NewOrchestrator validates the knowledge and builds an orchestrator.
func NewOrchestrator(host Host, knowledge Knowledge, settings Settings, logger zerolog.Logger, opts ...Option) (*Orchestrator, error) {
	knowledge = knowledge.WithDefaults()
	if err := knowledge.Validate(); err != nil {
		return nil, fmt.Errorf("invalid product knowledge: %w", err)
	}
	if host.Registry == nil || host.Services == nil || host.Files == nil {
		return nil, fmt.Errorf("host must provide registry, services and files")
	}
	o := &Orchestrator{
		host:      host,
		knowledge: knowledge,
		settings:  settings,
		clock:     clock.WallClock,
		tracer:    otel.Tracer("github.com/openfroyo/decom/engine"),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// run holds the mutable state of one invocation.
type run struct {
	report *RunReport
	span   trace.Span
	logger zerolog.Logger
}

// fail records err on the report and the span and returns it.
func (r *run) fail(err error) error {
	r.report.Error = err.Error()
	r.span.SetStatus(codes.Error, err.Error())
	r.logger.Error().Err(err).Msg("Decommissioning run aborted")
	return err
}

// Discover locates the product, computes the plan and passes it through the guard.
// It does not mutate the host.
func (o *Orchestrator) Discover(ctx context.Context) (*Plan, error) {
	return o.discover(ctx, o.logger)
}

func (o *Orchestrator) discover(ctx context.Context, logger zerolog.Logger) (*Plan, error) {
	located, _ := NewLocator(o.host.Registry, o.knowledge.ProductsNamespace, logger).Locate(ctx, o.knowledge.Product)
	osMajor := o.osMajor(ctx, logger)

	planner, err := NewPlanner(o.host, o.knowledge, logger)
	if err != nil {
		return nil, err
	}
	plan := planner.Plan(ctx, located, osMajor)

	if o.guard != nil {
		reviewed, err := o.guard.Review(ctx, plan)
		if err != nil {
			return nil, fmt.Errorf("plan guard failed: %w", err)
		}
		plan = reviewed
		for _, ex := range plan.Exclusions {
			logger.Warn().Str("target", ex.Subject).Str("policy", ex.Policy).Msg(ex.Message)
		}
	}
	return plan, nil
}

// Verify re-scans the host for residuals of plan.
func (o *Orchestrator) Verify(ctx context.Context, plan *Plan) (RunOutcome, error) {
	v, err := NewVerifier(o.host, o.knowledge, o.logger)
	if err != nil {
		return RunOutcome{}, err
	}
	return v.Verify(ctx, plan), nil
}

// Run executes one full decommissioning run. Removal failures never abort the
// run; an error is returned only when the guard or the confirmer fails, and in
// both cases nothing has been mutated.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	runID := uuid.New().String()
	r := &run{
		report: &RunReport{
			RunID:     runID,
			Profile:   o.profile,
			State:     StateDiscover,
			StartedAt: o.clock.Now(),
		},
		logger: o.logger.With().Str("run_id", runID).Logger(),
	}

	ctx, r.span = o.tracer.Start(ctx, "decom.run",
		trace.WithAttributes(
			attribute.String("decom.run_id", runID),
			attribute.String("decom.product", o.knowledge.Product),
		))
	defer r.span.End()

	for _, obs := range o.observers {
		obs.RunStarted(ctx, runID, o.profile)
	}
	defer func() {
		r.report.CompletedAt = o.clock.Now()
		r.span.SetAttributes(attribute.String("decom.state", string(r.report.State)))
		for _, obs := range o.observers {
			obs.RunFinished(ctx, r.report)
		}
	}()

	r.logger.Info().Str("product", o.knowledge.Product).Msg("Starting decommissioning run")

	o.transition(ctx, r, StatePlan)
	plan, err := o.discover(ctx, r.logger)
	if err != nil {
		return r.report, r.fail(err)
	}
	r.report.Plan = plan

	if plan.IsEmpty() {
		o.transition(ctx, r, StateNothingToDo)
		r.logger.Info().Msg("Nothing to remove")
		return r.report, nil
	}

	o.transition(ctx, r, StateConfirm)
	if !o.settings.SkipConfirmation && o.confirmer != nil {
		ok, err := o.confirmer.Confirm(ctx, plan)
		if err != nil {
			return r.report, r.fail(fmt.Errorf("confirmation failed: %w", err))
		}
		if !ok {
			o.transition(ctx, r, StateDeclined)
			r.logger.Info().Msg("Run declined by operator")
			return r.report, nil
		}
	}

	if err := o.execute(ctx, r, plan); err != nil {
		return r.report, r.fail(err)
	}

	o.transition(ctx, r, StateVerify)
	verifier, err := NewVerifier(o.host, o.knowledge, r.logger)
	if err != nil {
		return r.report, r.fail(err)
	}
	outcome := verifier.Verify(ctx, plan)
	r.report.Outcome = &outcome

	o.transition(ctx, r, StateReport)
	if outcome.Succeeded {
		o.transition(ctx, r, StateCompleted)
	} else {
		o.transition(ctx, r, StateCompletedWithResiduals)
	}
	r.logger.Info().
		Str("state", string(r.report.State)).
		Int("actions", len(r.report.Actions)).
		Int("failures", len(r.report.Failures())).
		Msg("Decommissioning run finished")
	return r.report, nil
}

// execute runs the mutating states. Dependents are restored by a deferred call
// in the scope that suspended them, whatever removal did.
func (o *Orchestrator) execute(ctx context.Context, r *run, plan *Plan) error {
	record := o.recorder(ctx, r)
	retry := NewRetryPolicy(o.settings.Retry, o.clock)
	remover := NewRemover(o.host, retry, r.logger).WithRecorder(record)
	devices, err := NewDeviceRemover(o.host.Devices, o.knowledge, o.settings.PreserveNetworkAdapters, r.logger)
	if err != nil {
		return err
	}
	devices.WithRecorder(record)
	deps := NewDependencyManager(o.host.Services, o.knowledge.PlatformServices, o.knowledge.MonitoringServices, o.settings, o.clock, r.logger).
		WithRecorder(record)

	o.transition(ctx, r, StateUnregister)
	if o.host.Modules != nil {
		NewUnregistrar(o.host.Modules, o.host.Files, r.logger).WithRecorder(record).
			UnregisterHandlers(ctx, plan.Modules)
	}

	o.transition(ctx, r, StateStopTargetSvcs)
	remover.StopAndRemoveServices(ctx, plan.Services)

	o.transition(ctx, r, StateSuspendDependents)
	set := deps.SuspendDependents(ctx, plan.Services)
	r.report.Suspended = set.Len()
	defer func() {
		o.transition(ctx, r, StateRestoreDependents)
		deps.Restore(context.WithoutCancel(ctx), set)
	}()

	o.transition(ctx, r, StateRemoveTargets)
	remover.RemoveTargets(ctx, plan.Targets)

	o.transition(ctx, r, StateRemoveDevices)
	devices.RemoveDevices(ctx)
	return nil
}

// recorder appends to the report, annotates the run span and notifies observers.
func (o *Orchestrator) recorder(ctx context.Context, r *run) Recorder {
	return func(rec ActionRecord) {
		rec.RecordedAt = o.clock.Now()
		r.report.Actions = append(r.report.Actions, rec)
		r.span.AddEvent("action", trace.WithAttributes(
			attribute.String("decom.phase", string(rec.Phase)),
			attribute.String("decom.kind", string(rec.Kind)),
			attribute.String("decom.subject", rec.Subject),
			attribute.String("decom.status", string(rec.Status)),
			attribute.Int("decom.attempts", rec.Attempts),
		))
		for _, obs := range o.observers {
			obs.ActionRecorded(ctx, r.report.RunID, rec)
		}
	}
}

func (o *Orchestrator) transition(ctx context.Context, r *run, to RunState) {
	from := r.report.State
	if !from.CanTransition(to) {
		r.logger.Error().Str("from", string(from)).Str("to", string(to)).Msg("Unexpected state transition")
	}
	r.report.State = to
	r.span.AddEvent("state", trace.WithAttributes(
		attribute.String("decom.from", string(from)),
		attribute.String("decom.to", string(to)),
	))
	r.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("State transition")
	for _, obs := range o.observers {
		obs.StateChanged(ctx, r.report.RunID, from, to)
	}
}

// osMajor returns the host major version. When it cannot be determined the
// host is assumed not to be legacy.
func (o *Orchestrator) osMajor(ctx context.Context, logger zerolog.Logger) int {
	if o.host.OS == nil {
		return o.knowledge.LegacyBelowMajor
	}
	major, err := o.host.OS.MajorVersion(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read OS version, assuming a current release")
		return o.knowledge.LegacyBelowMajor
	}
	return major
}
