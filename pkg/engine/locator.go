package engine

import (
	"context"
	"regexp"

	"github.com/rs/zerolog"
)

// installerIDPattern extracts the first curly-brace token.
var installerIDPattern = regexp.MustCompile(`\{[^{}]+\}`)

// Registry value names read by the locator.
const (
	installPropertiesKey = "InstallProperties"
	valueDisplayName     = "DisplayName"
	valueUninstallString = "UninstallString"
	valueModifyPath      = "ModifyPath"
)

// Locator resolves a product display name to its installer identifiers.
type Locator struct {
	registry  Registry
	namespace string
	logger    zerolog.Logger
}

// NewLocator creates a locator searching the given products namespace.
func NewLocator(registry Registry, namespace string, logger zerolog.Logger) *Locator {
	if namespace == "" {
		namespace = DefaultProductsNamespace
	}
	return &Locator{
		registry:  registry,
		namespace: namespace,
		logger:    logger.With().Str("component", "locator").Logger(),
	}
}

// Locate returns the first product whose display name equals product exactly.
// Children are visited in the order the registry returns them. Absence is not an error.
func (l *Locator) Locate(ctx context.Context, product string) (*LocateResult, bool) {
	children, err := l.registry.SubKeys(ctx, l.namespace)
	if err != nil {
		if !IsNotFound(err) {
			l.logger.Warn().Err(err).Str("namespace", l.namespace).Msg("Failed to enumerate installed products")
		}
		return nil, false
	}

	for _, child := range children {
		props := l.namespace + `\` + child + `\` + installPropertiesKey
		name, err := l.registry.StringValue(ctx, props, valueDisplayName)
		if err != nil {
			if !IsNotFound(err) {
				l.logger.Debug().Err(err).Str("key", props).Msg("Skipping unreadable product entry")
			}
			continue
		}
		if name != product {
			continue
		}

		result := &LocateResult{RegistryProductID: child}
		for _, value := range []string{valueUninstallString, valueModifyPath} {
			raw, err := l.registry.StringValue(ctx, props, value)
			if err != nil {
				continue
			}
			if id := installerIDPattern.FindString(raw); id != "" {
				result.InstallerID = id
				break
			}
		}

		l.logger.Info().
			Str("product", product).
			Str("product_id", result.RegistryProductID).
			Str("installer_id", result.InstallerID).
			Msg("Located installed product")
		return result, true
	}

	l.logger.Info().Str("product", product).Msg("Product is not registered with the installer")
	return nil, false
}
