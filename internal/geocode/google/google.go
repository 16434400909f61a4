// Package google resolves addresses through the Google Maps Geocoding API.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/civicsignal/permitpipe/internal/pipeline"
)

const defaultBaseURL = "https://maps.googleapis.com/maps/api/geocode/json"

// Geocoder calls the Google geocoding endpoint. Region biases results to a
// country code; Bounds biases them to a viewport, which keeps street-only
// addresses inside the municipality.
type Geocoder struct {
	client  *http.Client
	baseURL string
	apiKey  string
	region  string
	bounds  string
}

// Option adjusts a Geocoder.
type Option func(*Geocoder)

// WithBaseURL overrides the API endpoint, used by tests.
func WithBaseURL(u string) Option {
	return func(g *Geocoder) { g.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Geocoder) { g.client = c }
}

// WithRegion sets the region bias (ccTLD, e.g. "us").
func WithRegion(region string) Option {
	return func(g *Geocoder) { g.region = region }
}

// WithBounds sets the viewport bias ("lat,lng|lat,lng").
func WithBounds(bounds string) Option {
	return func(g *Geocoder) { g.bounds = bounds }
}

// New builds a Geocoder with the given API key.
func New(apiKey string, opts ...Option) *Geocoder {
	g := &Geocoder{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type response struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Resolve geocodes the address, returning ErrNoLocation when the API finds
// nothing.
func (g *Geocoder) Resolve(ctx context.Context, address string) (pipeline.Location, error) {
	params := url.Values{}
	params.Set("address", address)
	params.Set("key", g.apiKey)
	if g.region != "" {
		params.Set("region", g.region)
	}
	if g.bounds != "" {
		params.Set("bounds", g.bounds)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return pipeline.Location{}, fmt.Errorf("build geocode request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return pipeline.Location{}, fmt.Errorf("geocode %q: %w", address, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return pipeline.Location{}, fmt.Errorf("geocode %q: unexpected status %d", address, resp.StatusCode)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return pipeline.Location{}, fmt.Errorf("decode geocode response: %w", err)
	}
	switch body.Status {
	case "OK":
	case "ZERO_RESULTS":
		return pipeline.Location{}, pipeline.ErrNoLocation
	default:
		return pipeline.Location{}, fmt.Errorf("geocode %q: status %s", address, body.Status)
	}
	if len(body.Results) == 0 {
		return pipeline.Location{}, pipeline.ErrNoLocation
	}

	loc := body.Results[0].Geometry.Location
	return pipeline.Location{Latitude: loc.Lat, Longitude: loc.Lng}, nil
}
