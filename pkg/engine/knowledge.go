package engine

import (
	"fmt"
	"strings"
	"time"
)

// Placeholders substituted into namespace templates.
const (
	PlaceholderProductID   = "{product_id}"
	PlaceholderInstallerID = "{installer_id}"
)

// DefaultProductsNamespace is the per-machine installer product data searched by the locator.
const DefaultProductsNamespace = `HKLM\SOFTWARE\Microsoft\Windows\CurrentVersion\Installer\UserData\S-1-5-18\Products`

// DefaultInstallerNamespaces are the well-known installer namespaces keyed by packed product id.
var DefaultInstallerNamespaces = []string{
	`HKCR\Installer\Features\{product_id}`,
	`HKCR\Installer\Products\{product_id}`,
	`HKLM\SOFTWARE\Classes\Installer\Features\{product_id}`,
	`HKLM\SOFTWARE\Classes\Installer\Products\{product_id}`,
	DefaultProductsNamespace + `\{product_id}`,
}

// DefaultUninstallKey is the uninstall registration keyed by installer id.
const DefaultUninstallKey = `HKLM\SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall\{installer_id}`

// DefaultLegacyBelowMajor is the first OS major version that is not legacy.
const DefaultLegacyBelowMajor = 6

// DefaultPlatformServices are stopped to release indirect file handles.
var DefaultPlatformServices = []string{"EventLog", "Winmgmt"}

// DefaultMonitoringServices are stopped after the platform services.
var DefaultMonitoringServices = []string{"wscsvc"}

// DefaultDeviceClass is the PnP class searched for vendor devices.
const DefaultDeviceClass = "Net"

// ConditionalTarget is a target included only when its condition holds.
type ConditionalTarget struct {
	Target Target
	When   Condition
}

// Knowledge is everything the engine knows about one product.
// It is built from a profile and never changes during a run.
type Knowledge struct {
	// Product is the exact installer display name.
	Product string

	// ProductsNamespace is the key whose children the locator enumerates.
	ProductsNamespace string

	// InstallerNamespaces are templates containing {product_id}.
	InstallerNamespaces []string

	// UninstallKey is a template containing {installer_id}.
	UninstallKey string

	// LegacyBelowMajor selects LegacyEntries when the OS major version is lower.
	LegacyBelowMajor int
	LegacyEntries    []string

	Conditional []ConditionalTarget

	// VendorKeys and FileTrees are existence-filtered at plan time.
	VendorKeys []string
	FileTrees  []string

	// ModulePaths are handler modules unregistered before file removal.
	ModulePaths []string

	// ServicePattern is a case-insensitive glob over service display names.
	ServicePattern    string
	AuxiliaryServices []string

	// AdapterPattern matches network adapter descriptions.
	AdapterPattern string

	// DevicePattern matches PnP device friendly names of DeviceClass.
	DevicePattern string
	DeviceClass   string

	PlatformServices   []string
	MonitoringServices []string
}

// WithDefaults returns a copy with empty fields set to their defaults.
func (k Knowledge) WithDefaults() Knowledge {
	if k.ProductsNamespace == "" {
		k.ProductsNamespace = DefaultProductsNamespace
	}
	if len(k.InstallerNamespaces) == 0 {
		k.InstallerNamespaces = append([]string(nil), DefaultInstallerNamespaces...)
	}
	if k.UninstallKey == "" {
		k.UninstallKey = DefaultUninstallKey
	}
	if k.LegacyBelowMajor == 0 {
		k.LegacyBelowMajor = DefaultLegacyBelowMajor
	}
	if k.DeviceClass == "" {
		k.DeviceClass = DefaultDeviceClass
	}
	if k.PlatformServices == nil {
		k.PlatformServices = append([]string(nil), DefaultPlatformServices...)
	}
	if k.MonitoringServices == nil {
		k.MonitoringServices = append([]string(nil), DefaultMonitoringServices...)
	}
	return k
}

// Validate checks the knowledge for fields the engine cannot work without.
func (k Knowledge) Validate() error {
	if strings.TrimSpace(k.Product) == "" {
		return fmt.Errorf("product display name is required")
	}
	for _, ns := range k.InstallerNamespaces {
		if !strings.Contains(ns, PlaceholderProductID) {
			return fmt.Errorf("installer namespace %q lacks %s", ns, PlaceholderProductID)
		}
	}
	if k.UninstallKey != "" && !strings.Contains(k.UninstallKey, PlaceholderInstallerID) {
		return fmt.Errorf("uninstall key %q lacks %s", k.UninstallKey, PlaceholderInstallerID)
	}
	for _, p := range []string{k.ServicePattern, k.AdapterPattern, k.DevicePattern} {
		if p == "" {
			continue
		}
		if _, err := CompilePattern(p); err != nil {
			return err
		}
	}
	return nil
}

// Settings are the tunables of one run.
type Settings struct {
	// Retry bounds file tree removal.
	Retry RetrySettings

	// SuspendDependents enables the platform service suspension step.
	SuspendDependents bool

	// Settle is how long to wait after suspension for handles to be released.
	Settle time.Duration

	// PreserveNetworkAdapters skips the device removal step entirely.
	PreserveNetworkAdapters bool

	// SkipConfirmation executes without asking the Confirmer.
	SkipConfirmation bool
}

// DefaultSettings returns the reference tunables.
func DefaultSettings() Settings {
	return Settings{
		Retry:             DefaultRetrySettings(),
		SuspendDependents: true,
		Settle:            5 * time.Second,
	}
}
