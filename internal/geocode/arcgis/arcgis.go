// Package arcgis resolves addresses through the ArcGIS World Geocoding
// Service using client-credential OAuth tokens.
package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/civicsignal/permitpipe/internal/pipeline"
)

const (
	defaultTokenURL   = "https://www.arcgis.com/sharing/oauth2/token"
	defaultGeocodeURL = "https://geocode.arcgis.com/arcgis/rest/services/World/GeocodeServer/findAddressCandidates"
)

// Geocoder calls the ArcGIS findAddressCandidates endpoint. Access tokens
// are fetched lazily and cached until shortly before expiry.
type Geocoder struct {
	client       *http.Client
	tokenURL     string
	geocodeURL   string
	clientID     string
	clientSecret string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// Option adjusts a Geocoder.
type Option func(*Geocoder)

// WithTokenURL overrides the OAuth endpoint, used by tests.
func WithTokenURL(u string) Option {
	return func(g *Geocoder) { g.tokenURL = u }
}

// WithGeocodeURL overrides the geocode endpoint, used by tests.
func WithGeocodeURL(u string) Option {
	return func(g *Geocoder) { g.geocodeURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Geocoder) { g.client = c }
}

// New builds a Geocoder with the given OAuth client credentials.
func New(clientID, clientSecret string, opts ...Option) *Geocoder {
	g := &Geocoder{
		client:       &http.Client{Timeout: 10 * time.Second},
		tokenURL:     defaultTokenURL,
		geocodeURL:   defaultGeocodeURL,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type candidatesResponse struct {
	Candidates []struct {
		Location struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		} `json:"location"`
		Score float64 `json:"score"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Resolve geocodes the address, returning ErrNoLocation when no candidate
// comes back.
func (g *Geocoder) Resolve(ctx context.Context, address string) (pipeline.Location, error) {
	token, err := g.accessToken(ctx)
	if err != nil {
		return pipeline.Location{}, err
	}

	params := url.Values{}
	params.Set("f", "json")
	params.Set("singleLine", address)
	params.Set("maxLocations", "1")
	params.Set("forStorage", "true")
	params.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.geocodeURL+"?"+params.Encode(), nil)
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

	var body candidatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return pipeline.Location{}, fmt.Errorf("decode geocode response: %w", err)
	}
	if body.Error != nil {
		return pipeline.Location{}, fmt.Errorf("geocode %q: %s (code %d)", address, body.Error.Message, body.Error.Code)
	}
	if len(body.Candidates) == 0 {
		return pipeline.Location{}, pipeline.ErrNoLocation
	}

	loc := body.Candidates[0].Location
	return pipeline.Location{Latitude: loc.Y, Longitude: loc.X}, nil
}

// accessToken returns a cached token or fetches a fresh one.
func (g *Geocoder) accessToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.token != "" && time.Now().Before(g.tokenExpiry) {
		return g.token, nil
	}

	form := url.Values{}
	form.Set("client_id", g.clientID)
	form.Set("client_secret", g.clientSecret)
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch arcgis token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch arcgis token: unexpected status %d", resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("fetch arcgis token: empty token")
	}

	g.token = body.AccessToken
	// Refresh a minute early so in-flight requests never carry a stale token.
	g.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn)*time.Second - time.Minute)
	return g.token, nil
}
