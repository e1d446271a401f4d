package providers

import (
	"context"

	"github.com/medigate/navigator/internal/domain/entities"
)

// GeolocationProvider defines the interface for resolving place names to
// coordinates. The directory itself computes distances; this collaborator
// only supplies coordinates for named reference locations.
type GeolocationProvider interface {
	// ResolvePlace converts a place name (e.g. a station name) to coordinates
	ResolvePlace(ctx context.Context, name string) (*entities.Location, error)

	// ReferencePoints lists the named reference locations users can pick as
	// a search origin
	ReferencePoints() []ReferencePoint
}

// ReferencePoint is a named search origin offered to users
type ReferencePoint struct {
	Name     string            `json:"name"`
	Location entities.Location `json:"location"`
}
