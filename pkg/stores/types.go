package stores

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/decom/pkg/engine"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Run is one journaled decommissioning run
type Run struct {
	ID          string          `json:"id" yaml:"id"`
	Product     string          `json:"product" yaml:"product"`
	Profile     string          `json:"profile" yaml:"profile"`
	State       engine.RunState `json:"state" yaml:"state"`
	Succeeded   bool            `json:"succeeded" yaml:"succeeded"`
	OSMajor     int             `json:"os_major" yaml:"os_major"`
	Suspended   int             `json:"suspended_services" yaml:"suspended_services"`
	StartedAt   time.Time       `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Error       *string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// Action is one journaled operation of a run
type Action struct {
	ID         int64               `json:"id" yaml:"id"`
	RunID      string              `json:"run_id" yaml:"run_id"`
	Phase      engine.Phase        `json:"phase" yaml:"phase"`
	Kind       engine.ActionKind   `json:"kind" yaml:"kind"`
	Subject    string              `json:"subject" yaml:"subject"`
	Status     engine.ResultStatus `json:"status" yaml:"status"`
	Attempts   int                 `json:"attempts" yaml:"attempts"`
	Error      *string             `json:"error,omitempty" yaml:"error,omitempty"`
	RecordedAt time.Time           `json:"recorded_at" yaml:"recorded_at"`
}

// Residual is an item verification still found after a run
type Residual struct {
	ID      int64  `json:"id" yaml:"id"`
	RunID   string `json:"run_id" yaml:"run_id"`
	Kind    string `json:"kind" yaml:"kind"` // file_tree or service
	Subject string `json:"subject" yaml:"subject"`
}

// RunDetail is a run with everything recorded for it
type RunDetail struct {
	Run       *Run        `json:"run" yaml:"run"`
	Actions   []*Action   `json:"actions" yaml:"actions"`
	Residuals []*Residual `json:"residuals" yaml:"residuals"`
}

// Store defines the interface for the run journal
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunState(ctx context.Context, id string, state engine.RunState) error
	FinishRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Action operations
	AppendAction(ctx context.Context, action *Action) error
	ListActionsByRun(ctx context.Context, runID string) ([]*Action, error)

	// Residual operations
	AddResiduals(ctx context.Context, runID string, residuals []*Residual) error
	ListResidualsByRun(ctx context.Context, runID string) ([]*Residual, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
