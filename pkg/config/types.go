package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/decom/pkg/engine"
)

// Document is one decommissioning configuration: the product profile and the
// run settings.
type Document struct {
	// Profile describes the product's footprint.
	Profile Profile `json:"profile" yaml:"profile"`

	// Settings are the run tunables.
	Settings Settings `json:"settings" yaml:"settings"`

	// Source is the file or built-in name the document was loaded from.
	Source string `json:"-" yaml:"-"`
}

// Profile is the product knowledge as written in configuration.
type Profile struct {
	// Name is the short identifier used with --profile.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Product is the exact installer display name.
	Product string `json:"product" yaml:"product" validate:"required"`

	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	ProductsNamespace   string   `json:"productsNamespace,omitempty" yaml:"productsNamespace,omitempty"`
	InstallerNamespaces []string `json:"installerNamespaces,omitempty" yaml:"installerNamespaces,omitempty" validate:"dive,contains={product_id}"`
	UninstallKey        string   `json:"uninstallKey,omitempty" yaml:"uninstallKey,omitempty" validate:"omitempty,contains={installer_id}"`

	// LegacyBelowMajor selects LegacyEntries on older OS releases.
	LegacyBelowMajor int      `json:"legacyBelowMajor,omitempty" yaml:"legacyBelowMajor,omitempty" validate:"gte=0"`
	LegacyEntries    []string `json:"legacyEntries,omitempty" yaml:"legacyEntries,omitempty" validate:"dive,required"`

	// Conditional targets carry a Starlark expression over host facts.
	Conditional []ConditionalTarget `json:"conditional,omitempty" yaml:"conditional,omitempty" validate:"dive"`

	VendorKeys  []string `json:"vendorKeys,omitempty" yaml:"vendorKeys,omitempty" validate:"dive,required"`
	FileTrees   []string `json:"fileTrees,omitempty" yaml:"fileTrees,omitempty" validate:"dive,required,filepath_root"`
	ModulePaths []string `json:"modulePaths,omitempty" yaml:"modulePaths,omitempty" validate:"dive,required,filepath_root"`

	Services ServiceProfile `json:"services" yaml:"services"`
	Devices  DeviceProfile  `json:"devices,omitempty" yaml:"devices,omitempty"`

	PlatformServices   []string `json:"platformServices,omitempty" yaml:"platformServices,omitempty"`
	MonitoringServices []string `json:"monitoringServices,omitempty" yaml:"monitoringServices,omitempty"`
}

// ServiceProfile selects the product's services.
type ServiceProfile struct {
	// Pattern is a glob over display names.
	Pattern string `json:"pattern" yaml:"pattern" validate:"required,glob"`

	// Auxiliary lists extra display names that do not match Pattern.
	Auxiliary []string `json:"auxiliary,omitempty" yaml:"auxiliary,omitempty"`
}

// DeviceProfile selects the product's virtual adapters and devices.
type DeviceProfile struct {
	AdapterPattern string `json:"adapterPattern,omitempty" yaml:"adapterPattern,omitempty" validate:"omitempty,glob"`
	DevicePattern  string `json:"devicePattern,omitempty" yaml:"devicePattern,omitempty" validate:"omitempty,glob"`
	Class          string `json:"class,omitempty" yaml:"class,omitempty"`
}

// ConditionalTarget is a target guarded by a condition.
type ConditionalTarget struct {
	Kind string `json:"kind" yaml:"kind" validate:"required,oneof=config_entry file_tree"`
	Path string `json:"path" yaml:"path" validate:"required"`

	// When is a Starlark expression; empty means always.
	When string `json:"when,omitempty" yaml:"when,omitempty" validate:"omitempty,condition"`
}

// Settings are the run tunables as written in configuration.
type Settings struct {
	Retry                   RetrySettings      `json:"retry" yaml:"retry"`
	Settle                  string             `json:"settle,omitempty" yaml:"settle,omitempty" validate:"omitempty,duration"`
	Dependents              DependentsSettings `json:"dependents" yaml:"dependents"`
	PreserveNetworkAdapters bool               `json:"preserveNetworkAdapters" yaml:"preserveNetworkAdapters"`
	SkipConfirmation        bool               `json:"skipConfirmation" yaml:"skipConfirmation"`
	FailOnResiduals         bool               `json:"failOnResiduals" yaml:"failOnResiduals"`
	Journal                 JournalSettings    `json:"journal" yaml:"journal"`
	Policies                PolicySettings     `json:"policies" yaml:"policies"`
	Metrics                 MetricsSettings    `json:"metrics" yaml:"metrics"`
	Logging                 LoggingSettings    `json:"logging" yaml:"logging"`
	Tracing                 TracingSettings    `json:"tracing" yaml:"tracing"`
}

// RetrySettings bound file tree removal.
type RetrySettings struct {
	Attempts int    `json:"attempts,omitempty" yaml:"attempts,omitempty" validate:"omitempty,min=1,max=100"`
	Delay    string `json:"delay,omitempty" yaml:"delay,omitempty" validate:"omitempty,duration"`
}

// DependentsSettings control the platform service suspension step.
type DependentsSettings struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// JournalSettings configure the run journal.
type JournalSettings struct {
	// Path is the SQLite database file. Empty disables the journal.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// PolicySettings configure the plan guard.
type PolicySettings struct {
	// Paths are extra .rego or .json policy files and directories.
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty" validate:"dive,required"`

	// Disabled names built-in policies to switch off.
	Disabled []string `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// MetricsSettings configure end-of-run metric delivery.
type MetricsSettings struct {
	// Textfile is written in the text exposition format for a textfile collector.
	Textfile string `json:"textfile,omitempty" yaml:"textfile,omitempty"`

	// Pushgateway is the URL metrics are pushed to.
	Pushgateway string `json:"pushgateway,omitempty" yaml:"pushgateway,omitempty" validate:"omitempty,url"`

	Job string `json:"job,omitempty" yaml:"job,omitempty"`
}

// LoggingSettings configure the logger.
type LoggingSettings struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `json:"format,omitempty" yaml:"format,omitempty" validate:"omitempty,oneof=console json"`
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
}

// TracingSettings configure the trace exporter.
type TracingSettings struct {
	Exporter string `json:"exporter,omitempty" yaml:"exporter,omitempty" validate:"omitempty,oneof=stdout otlp none"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" validate:"required_if=Exporter otlp"`
	Insecure bool   `json:"insecure" yaml:"insecure"`
}

// Knowledge converts the profile into engine knowledge, compiling conditions.
func (p *Profile) Knowledge() (engine.Knowledge, error) {
	k := engine.Knowledge{
		Product:             p.Product,
		ProductsNamespace:   p.ProductsNamespace,
		InstallerNamespaces: p.InstallerNamespaces,
		UninstallKey:        p.UninstallKey,
		LegacyBelowMajor:    p.LegacyBelowMajor,
		LegacyEntries:       p.LegacyEntries,
		VendorKeys:          p.VendorKeys,
		FileTrees:           p.FileTrees,
		ModulePaths:         p.ModulePaths,
		ServicePattern:      p.Services.Pattern,
		AuxiliaryServices:   p.Services.Auxiliary,
		AdapterPattern:      p.Devices.AdapterPattern,
		DevicePattern:       p.Devices.DevicePattern,
		DeviceClass:         p.Devices.Class,
		PlatformServices:    p.PlatformServices,
		MonitoringServices:  p.MonitoringServices,
	}

	for i, c := range p.Conditional {
		var target engine.Target
		switch engine.TargetKind(c.Kind) {
		case engine.TargetConfigEntry:
			target = engine.NewConfigEntry(c.Path, engine.OriginConditional)
		case engine.TargetFileTree:
			target = engine.NewFileTree(c.Path, engine.OriginConditional)
		default:
			return engine.Knowledge{}, fmt.Errorf("conditional[%d]: unknown kind %q", i, c.Kind)
		}
		ct := engine.ConditionalTarget{Target: target}
		if strings.TrimSpace(c.When) != "" {
			cond, err := CompileCondition(c.When)
			if err != nil {
				return engine.Knowledge{}, fmt.Errorf("conditional[%d]: %w", i, err)
			}
			ct.When = cond
		}
		k.Conditional = append(k.Conditional, ct)
	}

	k = k.WithDefaults()
	if err := k.Validate(); err != nil {
		return engine.Knowledge{}, err
	}
	return k, nil
}

// EngineSettings converts the settings into engine tunables. Unset fields
// keep the engine defaults.
func (s *Settings) EngineSettings() (engine.Settings, error) {
	out := engine.DefaultSettings()
	out.SuspendDependents = s.Dependents.Enabled
	out.PreserveNetworkAdapters = s.PreserveNetworkAdapters
	out.SkipConfirmation = s.SkipConfirmation

	if s.Retry.Attempts > 0 {
		out.Retry.Attempts = s.Retry.Attempts
	}
	if s.Retry.Delay != "" {
		d, err := time.ParseDuration(s.Retry.Delay)
		if err != nil {
			return out, fmt.Errorf("retry.delay: %w", err)
		}
		out.Retry.Delay = d
	}
	if s.Settle != "" {
		d, err := time.ParseDuration(s.Settle)
		if err != nil {
			return out, fmt.Errorf("settle: %w", err)
		}
		out.Settle = d
	}
	return out, nil
}

// DefaultSettings returns the settings a document gets when it has none.
func DefaultSettings() Settings {
	return Settings{
		Retry:      RetrySettings{Attempts: 3, Delay: "2s"},
		Settle:     "5s",
		Dependents: DependentsSettings{Enabled: true},
		Metrics:    MetricsSettings{Job: "decom"},
		Logging:    LoggingSettings{Level: "info", Format: "console", Output: "stderr"},
		Tracing:    TracingSettings{Exporter: "none", Insecure: true},
	}
}
