//go:build !windows

package platform

import (
	"github.com/openfroyo/decom/pkg/engine"
)

// NewHost returns ErrUnsupportedPlatform outside Windows.
func NewHost() (engine.Host, error) {
	return engine.Host{}, ErrUnsupportedPlatform
}
