package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/decom/pkg/config"
	"github.com/openfroyo/decom/pkg/engine"
	"github.com/openfroyo/decom/pkg/platform"
	"github.com/openfroyo/decom/pkg/platform/memhost"
	"github.com/openfroyo/decom/pkg/policy"
	"github.com/openfroyo/decom/pkg/stores"
	"github.com/openfroyo/decom/pkg/telemetry"
)

// hostOptions select the host a command runs against.
type hostOptions struct {
	simulate string
}

func (h *hostOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&h.simulate, "simulate", "", "run against a YAML host fixture instead of this machine")
}

// session is everything a command needs to drive an orchestrator.
type session struct {
	doc       *config.Document
	tel       *telemetry.Telemetry
	logger    zerolog.Logger
	knowledge engine.Knowledge
	settings  engine.Settings
	host      engine.Host
	simulated *memhost.Host
	guard     *policy.Guard
	store     *stores.SQLiteStore
}

// loadDocument reads --config, or the built-in --profile.
func loadDocument() (*config.Document, error) {
	loader, err := config.NewLoader()
	if err != nil {
		return nil, err
	}
	switch {
	case configPath != "":
		return loader.LoadFile(configPath)
	case profileName != "":
		return loader.LoadProfile(profileName)
	default:
		return nil, errors.New("either --config or --profile is required")
	}
}

// telemetryConfig merges document settings with the global flags. Flags win,
// then LOG_LEVEL, then the document.
func telemetryConfig(s config.Settings) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = buildVersion

	if s.Logging.Level != "" {
		cfg.Logging.Level = s.Logging.Level
	}
	if s.Logging.Format != "" {
		cfg.Logging.Format = s.Logging.Format
	}
	if s.Logging.Output != "" {
		cfg.Logging.Output = s.Logging.Output
	}
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		cfg.Logging.Level = env
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	if s.Tracing.Exporter != "" {
		cfg.Tracing.Exporter = s.Tracing.Exporter
	}
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	cfg.Tracing.Insecure = s.Tracing.Insecure

	cfg.Metrics.Textfile = s.Metrics.Textfile
	cfg.Metrics.Pushgateway = s.Metrics.Pushgateway
	if s.Metrics.Job != "" {
		cfg.Metrics.Job = s.Metrics.Job
	}
	return cfg
}

// newSession loads configuration and builds the collaborators. The journal is
// opened only when withJournal is set and a path is configured.
func newSession(ctx context.Context, doc *config.Document, hostOpts hostOptions, withJournal bool) (*session, error) {
	tel, err := telemetry.NewTelemetry(ctx, telemetryConfig(doc.Settings))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s := &session{
		doc:    doc,
		tel:    tel,
		logger: tel.Logger.Component("cli"),
	}

	if err := s.init(ctx, hostOpts, withJournal); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *session) init(ctx context.Context, hostOpts hostOptions, withJournal bool) error {
	var err error
	if s.knowledge, err = s.doc.Profile.Knowledge(); err != nil {
		return fmt.Errorf("invalid profile %s: %w", s.doc.Profile.Name, err)
	}
	if s.settings, err = s.doc.Settings.EngineSettings(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	if hostOpts.simulate != "" {
		s.simulated, err = memhost.LoadFile(hostOpts.simulate)
		if err != nil {
			return err
		}
		s.host = s.simulated.Engine()
		s.logger.Warn().Str("fixture", hostOpts.simulate).Msg("Running against a simulated host")
	} else if s.host, err = platform.NewHost(); err != nil {
		return err
	}

	protected := append(append([]string(nil), s.knowledge.PlatformServices...), s.knowledge.MonitoringServices...)
	s.guard, err = policy.NewGuard(ctx, s.tel.Logger.Component("policy"), protected)
	if err != nil {
		return err
	}
	paths := append(append([]string(nil), s.doc.Settings.Policies.Paths...), policyPaths...)
	if len(paths) > 0 {
		if err := s.guard.LoadPaths(ctx, paths...); err != nil {
			return err
		}
	}
	for _, name := range s.doc.Settings.Policies.Disabled {
		if err := s.guard.DisablePolicy(name); err != nil {
			return err
		}
		s.logger.Warn().Str("policy", name).Msg("Policy disabled by configuration")
	}

	if withJournal && s.doc.Settings.Journal.Path != "" {
		if s.store, err = openJournal(ctx, s.doc.Settings.Journal.Path); err != nil {
			return err
		}
	}
	return nil
}

// openJournal opens and migrates the journal database.
func openJournal(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}
	return store, nil
}

// orchestrator builds an orchestrator wired to the guard, telemetry and
// journal.
func (s *session) orchestrator(confirmer engine.Confirmer) (*engine.Orchestrator, error) {
	opts := []engine.Option{
		engine.WithGuard(s.guard),
		engine.WithProfileName(s.doc.Profile.Name),
	}
	opts = append(opts, s.tel.OrchestratorOptions()...)
	if confirmer != nil {
		opts = append(opts, engine.WithConfirmer(confirmer))
	}
	if s.store != nil {
		opts = append(opts, engine.WithObserver(stores.NewJournal(s.store, s.tel.Logger.Component("journal"))))
	}
	return engine.NewOrchestrator(s.host, s.knowledge, s.settings, s.tel.Logger.Component("orchestrator"), opts...)
}

// logSimulatedCalls lists the mutations a simulated run made.
func (s *session) logSimulatedCalls() {
	if s.simulated == nil {
		return
	}
	for _, c := range s.simulated.Calls() {
		s.logger.Debug().Str("op", c.Op).Str("subject", c.Subject).Msg("Simulated host call")
	}
}

// Close releases the journal and flushes telemetry.
func (s *session) Close(ctx context.Context) error {
	var result *multierror.Error
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := s.tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
