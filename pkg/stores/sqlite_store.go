package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/decom/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Every connection to :memory: is a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = cfg.MaxOpenConns
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database with foreign keys, WAL mode and a busy timeout.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if s.cfg.Path != ":memory:" {
		dsn = "file:" + dsn + "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, product, profile, state, succeeded, os_major, suspended, started_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Product,
		run.Profile,
		string(run.State),
		run.Succeeded,
		run.OSMajor,
		run.Suspended,
		run.StartedAt.UTC(),
		utcPtr(run.CompletedAt),
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

const runColumns = `id, product, profile, state, succeeded, os_major, suspended, started_at, completed_at, error`

// GetRun retrieves a run by ID. A unique ID prefix is accepted.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ? OR id LIKE ? ORDER BY id = ? DESC LIMIT 2`

	rows, err := s.db.QueryContext(ctx, query, id, escapeLike(id)+"%", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}

	switch {
	case len(runs) == 0:
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	case runs[0].ID == id || len(runs) == 1:
		return runs[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %s is ambiguous", id)
	}
}

// UpdateRunState records a state transition
func (s *SQLiteStore) UpdateRunState(ctx context.Context, id string, state engine.RunState) error {
	result, err := s.db.ExecContext(ctx, `UPDATE runs SET state = ? WHERE id = ?`, string(state), id)
	if err != nil {
		return fmt.Errorf("failed to update run state: %w", err)
	}
	return expectRow(result, "run", id)
}

// FinishRun stores the final fields of a run
func (s *SQLiteStore) FinishRun(ctx context.Context, run *Run) error {
	query := `
		UPDATE runs
		SET product = ?, state = ?, succeeded = ?, os_major = ?, suspended = ?, completed_at = ?, error = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		run.Product,
		string(run.State),
		run.Succeeded,
		run.OSMajor,
		run.Suspended,
		utcPtr(run.CompletedAt),
		run.Error,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return expectRow(result, "run", run.ID)
}

// ListRuns lists runs with pagination, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// DeleteRun deletes a run and, by cascade, its actions and residuals
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return expectRow(result, "run", id)
}

// AppendAction appends an action record and sets its ID
func (s *SQLiteStore) AppendAction(ctx context.Context, action *Action) error {
	query := `
		INSERT INTO actions (run_id, phase, kind, subject, status, attempts, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		action.RunID,
		string(action.Phase),
		string(action.Kind),
		action.Subject,
		string(action.Status),
		action.Attempts,
		action.Error,
		action.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append action: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get action id: %w", err)
	}
	action.ID = id
	return nil
}

// ListActionsByRun lists the actions of a run in recording order
func (s *SQLiteStore) ListActionsByRun(ctx context.Context, runID string) ([]*Action, error) {
	query := `
		SELECT id, run_id, phase, kind, subject, status, attempts, error, recorded_at
		FROM actions
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	actions := []*Action{}
	for rows.Next() {
		a := &Action{}
		err := rows.Scan(
			&a.ID,
			&a.RunID,
			&a.Phase,
			&a.Kind,
			&a.Subject,
			&a.Status,
			&a.Attempts,
			&a.Error,
			&a.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}

	return actions, nil
}

// AddResiduals stores the residuals of a run in one transaction
func (s *SQLiteStore) AddResiduals(ctx context.Context, runID string, residuals []*Residual) error {
	if len(residuals) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO residuals (run_id, kind, subject) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare residual insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range residuals {
		result, err := stmt.ExecContext(ctx, runID, r.Kind, r.Subject)
		if err != nil {
			return fmt.Errorf("failed to add residual: %w", err)
		}
		if r.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get residual id: %w", err)
		}
		r.RunID = runID
	}

	return tx.Commit()
}

// ListResidualsByRun lists the residuals of a run
func (s *SQLiteStore) ListResidualsByRun(ctx context.Context, runID string) ([]*Residual, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, kind, subject FROM residuals WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list residuals: %w", err)
	}
	defer rows.Close()

	residuals := []*Residual{}
	for rows.Next() {
		r := &Residual{}
		if err := rows.Scan(&r.ID, &r.RunID, &r.Kind, &r.Subject); err != nil {
			return nil, fmt.Errorf("failed to scan residual: %w", err)
		}
		residuals = append(residuals, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating residuals: %w", err)
	}

	return residuals, nil
}

// GetRunDetail loads a run with its actions and residuals
func (s *SQLiteStore) GetRunDetail(ctx context.Context, id string) (*RunDetail, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	actions, err := s.ListActionsByRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	residuals, err := s.ListResidualsByRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	return &RunDetail{Run: run, Actions: actions, Residuals: residuals}, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		err := rows.Scan(
			&run.ID,
			&run.Product,
			&run.Profile,
			&run.State,
			&run.Succeeded,
			&run.OSMajor,
			&run.Suspended,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func expectRow(result sql.Result, what, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// escapeLike drops the LIKE wildcards from s.
func escapeLike(s string) string {
	return strings.NewReplacer("%", "", "_", "").Replace(s)
}
