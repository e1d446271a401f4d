package providers

import (
	"context"

	"github.com/medigate/navigator/internal/domain/entities"
)

// GroundingProvider defines the interface for the web-search-grounded
// generation collaborator used for per-clinic specialist lookups.
type GroundingProvider interface {
	// FindSpecialistInfo searches the web for specialist and certification
	// information about one clinic. Every returned finding carries at least
	// one source URL; findings that cannot be attributed are discarded by
	// the implementation. An empty result with a nil error is the expected
	// outcome when nothing attributable was found.
	FindSpecialistInfo(ctx context.Context, clinicName, clinicAddress string) ([]entities.SpecialistFinding, error)
}
