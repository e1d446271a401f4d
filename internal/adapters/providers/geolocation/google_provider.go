package geolocation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/medigate/navigator/internal/domain/entities"
	"github.com/medigate/navigator/internal/domain/providers"
)

const (
	googlePlacesTextURL = "https://maps.googleapis.com/maps/api/place/textsearch/json"
	placeCacheTTL       = 60 * 60 * 24 * 30
	defaultHTTPTimeout  = 8 * time.Second
)

// GoogleProvider resolves arbitrary place names through the Google Places
// Text Search API, falling back to it only for names outside the fixed
// reference point set. Lookups are cached because station coordinates do
// not move.
type GoogleProvider struct {
	apiKey     string
	httpClient *http.Client
	cache      providers.CacheProvider
	placesURL  string
}

// NewGoogleProvider creates a new Google-backed geolocation provider
func NewGoogleProvider(apiKey string, cache providers.CacheProvider) providers.GeolocationProvider {
	return NewGoogleProviderWithOptions(apiKey, cache, googlePlacesTextURL, nil)
}

// NewGoogleProviderWithOptions allows overriding base URL and HTTP client (used for tests)
func NewGoogleProviderWithOptions(apiKey string, cache providers.CacheProvider, placesURL string, httpClient *http.Client) providers.GeolocationProvider {
	if strings.TrimSpace(placesURL) == "" {
		placesURL = googlePlacesTextURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &GoogleProvider{
		apiKey:     apiKey,
		httpClient: httpClient,
		cache:      cache,
		placesURL:  placesURL,
	}
}

// ResolvePlace converts a place name to coordinates
func (g *GoogleProvider) ResolvePlace(ctx context.Context, name string) (*entities.Location, error) {
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

	cacheKey := "geo:v1:place:" + hashKey(strings.ToLower(trimmed))
	if g.cache != nil {
		if cached, err := g.cache.Get(ctx, cacheKey); err == nil && len(cached) > 0 {
			var loc entities.Location
			if err := json.Unmarshal(cached, &loc); err == nil && (loc.Latitude != 0 || loc.Longitude != 0) {
				return &loc, nil
			}
		}
	}

	loc, err := g.doPlacesTextSearch(ctx, trimmed)
	if err != nil {
		return nil, err
	}

	if g.cache != nil {
		if payload, err := json.Marshal(*loc); err == nil {
			_ = g.cache.Set(ctx, cacheKey, payload, placeCacheTTL)
		}
	}

	return loc, nil
}

// ReferencePoints lists the named reference locations
func (g *GoogleProvider) ReferencePoints() []providers.ReferencePoint {
	points := make([]providers.ReferencePoint, len(referencePoints))
	copy(points, referencePoints)
	return points
}

func (g *GoogleProvider) doPlacesTextSearch(ctx context.Context, query string) (*entities.Location, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("google maps api key is required")
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("language", "ja")
	params.Set("region", "jp")
	params.Set("key", g.apiKey)

	reqURL := fmt.Sprintf("%s?%s", g.placesURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build places text search request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("places text search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("places text search returned status %d", resp.StatusCode)
	}

	var payload googlePlacesTextSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode places text search response: %w", err)
	}

	if payload.Status != "OK" || len(payload.Results) == 0 {
		if payload.ErrorMessage != "" {
			return nil, fmt.Errorf("places text search failed: %s - %s", payload.Status, payload.ErrorMessage)
		}
		return nil, fmt.Errorf("places text search failed: %s", payload.Status)
	}

	result := payload.Results[0]
	return &entities.Location{
		Latitude:  result.Geometry.Location.Lat,
		Longitude: result.Geometry.Location.Lng,
	}, nil
}

func hashKey(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

type googlePlacesTextSearchResponse struct {
	Status       string                         `json:"status"`
	ErrorMessage string                         `json:"error_message,omitempty"`
	Results      []googlePlacesTextSearchResult `json:"results"`
}

type googlePlacesTextSearchResult struct {
	FormattedAddress string         `json:"formatted_address"`
	PlaceID          string         `json:"place_id"`
	Name             string         `json:"name"`
	Geometry         googleGeometry `json:"geometry"`
}

type googleGeometry struct {
	Location googleLocation `json:"location"`
}

type googleLocation struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
