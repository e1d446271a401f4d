package repositories

import (
	"context"

	"github.com/medigate/navigator/internal/domain/entities"
)

// ClinicDirectory defines the interface for proximity queries over the
// read-only clinic dataset. The directory is loaded once at startup and is
// safe for unbounded concurrent readers.
type ClinicDirectory interface {
	// Query returns clinics within the radius of the origin, sorted by
	// department-match priority, minutes-to-close, then ascending distance,
	// truncated to the clamped result count. Zero matches surface as an
	// EmptyResult error so callers can offer to widen the radius.
	Query(ctx context.Context, params QueryParams) ([]entities.ClinicMatch, error)

	// GetByID retrieves one clinic record
	GetByID(ctx context.Context, id string) (*entities.Clinic, error)

	// ClampRadius clamps a requested radius in meters into the configured
	// bounds, substituting the default for zero
	ClampRadius(radiusM int) int

	// ClampResults clamps a requested result count into the configured
	// bounds, substituting the default for zero
	ClampResults(n int) int

	// Size returns the number of loaded clinic records
	Size() int
}

// QueryParams defines parameters for a directory proximity query
type QueryParams struct {
	Origin       entities.Location
	RadiusMeters int
	MaxResults   int

	// DepartmentKeywords restricts results to clinics advertising at least
	// one of these departments; order expresses recommendation priority.
	DepartmentKeywords []string

	// ExcludeDepartments drops clinics advertising any of these departments
	ExcludeDepartments []string

	// ExcludeNameKeywords drops clinics whose name contains any of these
	// (used to filter home-visit style practices)
	ExcludeNameKeywords []string

	// OnlyAcceptingNow keeps only clinics currently inside a reception window
	OnlyAcceptingNow bool
}
