package engine

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Verifier re-scans the host for leftovers after removal.
type Verifier struct {
	host     Host
	services *serviceMatcher
	logger   zerolog.Logger
}

// NewVerifier creates a verifier using the product's service matching rules.
func NewVerifier(host Host, knowledge Knowledge, logger zerolog.Logger) (*Verifier, error) {
	matcher, err := newServiceMatcher(knowledge.ServicePattern, knowledge.AuxiliaryServices)
	if err != nil {
		return nil, err
	}
	return &Verifier{
		host:     host,
		services: matcher,
		logger:   logger.With().Str("component", "verifier").Logger(),
	}, nil
}

// Verify re-queries services and re-checks every planned file tree.
// Registry keys are not re-checked; a failed key deletion is already
// reported by its action record. A path whose existence cannot be
// determined counts as residual. Succeeded is true only when nothing is left.
func (v *Verifier) Verify(ctx context.Context, plan *Plan) RunOutcome {
	var out RunOutcome

	all, err := v.host.Services.ListServices(ctx)
	if err != nil {
		v.logger.Warn().Err(err).Msg("Failed to enumerate services during verification")
	}
	out.ResidualServices = v.services.Filter(all)

	if plan != nil {
		for _, t := range plan.Targets {
			if t.Kind != TargetFileTree {
				continue
			}
			exists, err := v.host.Files.Exists(ctx, t.Path)
			if err != nil {
				v.logger.Warn().Err(err).Str("target", t.Path).Msg("Existence check failed, reporting as residual")
				exists = true
			}
			if exists {
				out.ResidualTargets = append(out.ResidualTargets, t)
			}
		}
	}

	out.Succeeded = len(out.ResidualServices) == 0 && len(out.ResidualTargets) == 0
	if out.Succeeded {
		v.logger.Info().Msg("Verification found no residuals")
	} else {
		v.logger.Warn().
			Int("residual_services", len(out.ResidualServices)).
			Int("residual_targets", len(out.ResidualTargets)).
			Msg("Residuals remain, manual follow-up or a reboot is required")
	}
	return out
}

// Residuals returns the outcome's leftovers as one aggregated error, or nil.
func (o RunOutcome) Residuals() error {
	var result *multierror.Error
	for _, s := range o.ResidualServices {
		result = multierror.Append(result, NewResidualError("service still installed", nil).WithSubject(s.Name))
	}
	for _, t := range o.ResidualTargets {
		result = multierror.Append(result, NewResidualError(fmt.Sprintf("%s still present", t.Kind), nil).WithSubject(t.Path))
	}
	return result.ErrorOrNil()
}

// FailureSummary aggregates the failed actions of a report, or returns nil.
func (r *RunReport) FailureSummary() error {
	var result *multierror.Error
	for _, a := range r.Failures() {
		result = multierror.Append(result, fmt.Errorf("%s %s %s: %s", a.Phase, a.Kind, a.Subject, a.Status))
	}
	return result.ErrorOrNil()
}
