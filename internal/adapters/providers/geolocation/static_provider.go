package geolocation

import (
	"context"
	"fmt"
	"strings"

	"github.com/medigate/navigator/internal/domain/entities"
	"github.com/medigate/navigator/internal/domain/providers"
)

// referencePoints are the named search origins offered to users. Coordinates
// come from the station master data the clinic dataset was built against.
var referencePoints = []providers.ReferencePoint{
	{Name: "田町駅", Location: entities.Location{Latitude: 35.645736, Longitude: 139.747575}},
	{Name: "上野駅", Location: entities.Location{Latitude: 35.713768, Longitude: 139.777254}},
	{Name: "柏駅", Location: entities.Location{Latitude: 35.862222, Longitude: 139.970556}},
}

// StaticProvider resolves place names against the fixed reference point set.
// The default provider; no network access, no API key.
type StaticProvider struct{}

// NewStaticProvider creates a new static geolocation provider
func NewStaticProvider() providers.GeolocationProvider {
	return &StaticProvider{}
}

// ResolvePlace converts a reference point name to coordinates
func (p *StaticProvider) ResolvePlace(_ context.Context, name string) (*entities.Location, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, fmt.Errorf("place name is required")
	}
	for _, point := range referencePoints {
		if point.Name == trimmed {
			loc := point.Location
			return &loc, nil
		}
	}
	return nil, fmt.Errorf("unknown reference point: %s", trimmed)
}

// ReferencePoints lists the named reference locations
func (p *StaticProvider) ReferencePoints() []providers.ReferencePoint {
	points := make([]providers.ReferencePoint, len(referencePoints))
	copy(points, referencePoints)
	return points
}
