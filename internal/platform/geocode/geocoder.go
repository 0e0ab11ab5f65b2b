package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/RelayDigital/vrem-sub004/internal/services"
)

const (
	defaultEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"
	defaultTimeout  = 5 * time.Second
)

// ErrNoResults is returned when the geocoding API has no match for the address.
var ErrNoResults = errors.New("geocode: no results for address")

// GoogleGeocoder resolves free-form addresses through the Google Geocoding API.
type GoogleGeocoder struct {
	apiKey   string
	endpoint string
	http     *http.Client
}

// Option configures optional behaviour on the geocoder.
type Option func(*GoogleGeocoder)

// WithHTTPClient overrides the HTTP client, used by tests.
func WithHTTPClient(client *http.Client) Option {
	return func(g *GoogleGeocoder) {
		if client != nil {
			g.http = client
		}
	}
}

// WithEndpoint overrides the API endpoint, used by tests.
func WithEndpoint(endpoint string) Option {
	return func(g *GoogleGeocoder) {
		if trimmed := strings.TrimSpace(endpoint); trimmed != "" {
			g.endpoint = trimmed
		}
	}
}

// NewGoogleGeocoder constructs a geocoder. The API key is required.
func NewGoogleGeocoder(apiKey string, opts ...Option) (*GoogleGeocoder, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, errors.New("geocode: api key is required")
	}
	g := &GoogleGeocoder{
		apiKey:   key,
		endpoint: defaultEndpoint,
		http:     &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

var _ services.Geocoder = (*GoogleGeocoder)(nil)

type geocodePayload struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		PlaceID          string `json:"place_id"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
	ErrorMessage string `json:"error_message"`
}

// Geocode resolves the address to a canonical formatted address and location.
func (g *GoogleGeocoder) Geocode(ctx context.Context, address string) (services.GeocodeResult, error) {
	if g == nil {
		return services.GeocodeResult{}, errors.New("geocode: geocoder is nil")
	}
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return services.GeocodeResult{}, errors.New("geocode: address is required")
	}

	query := url.Values{}
	query.Set("address", trimmed)
	query.Set("key", g.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return services.GeocodeResult{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return services.GeocodeResult{}, fmt.Errorf("geocode: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return services.GeocodeResult{}, fmt.Errorf("geocode: unexpected status %d", resp.StatusCode)
	}

	var payload geocodePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return services.GeocodeResult{}, fmt.Errorf("geocode: decode response: %w", err)
	}

	switch payload.Status {
	case "OK":
	case "ZERO_RESULTS":
		return services.GeocodeResult{}, ErrNoResults
	default:
		if payload.ErrorMessage != "" {
			return services.GeocodeResult{}, fmt.Errorf("geocode: api status %s: %s", payload.Status, payload.ErrorMessage)
		}
		return services.GeocodeResult{}, fmt.Errorf("geocode: api status %s", payload.Status)
	}
	if len(payload.Results) == 0 {
		return services.GeocodeResult{}, ErrNoResults
	}

	best := payload.Results[0]
	return services.GeocodeResult{
		Formatted: best.FormattedAddress,
		PlaceID:   best.PlaceID,
		Lat:       best.Geometry.Location.Lat,
		Lng:       best.Geometry.Location.Lng,
	}, nil
}
