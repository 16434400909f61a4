// Package records fetches normalized planning-case records from the upstream
// feed.
package records

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/civicsignal/permitpipe/internal/pipeline"
)

// HTTPSource pulls records from a JSON feed. The feed returns every case
// updated since the `since` query parameter; omitting it returns everything.
type HTTPSource struct {
	client  *http.Client
	feedURL string
	logger  *zap.Logger
}

// New builds an HTTPSource for the given feed URL.
func New(client *http.Client, feedURL string, logger *zap.Logger) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSource{client: client, feedURL: feedURL, logger: logger}
}

// feedRecord mirrors the upstream wire shape. Fixed fields are named; every
// other key is a candidate document section and is inspected for links.
type feedRecord struct {
	CaseNumber  string   `json:"caseNumber"`
	Number      string   `json:"number"`
	Street      string   `json:"street"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	Updated     string   `json:"updatedDate"`
	Lat         *float64 `json:"lat"`
	Long        *float64 `json:"long"`
}

var fixedFields = map[string]bool{
	"caseNumber": true, "number": true, "street": true,
	"summary": true, "description": true, "updatedDate": true,
	"lat": true, "long": true,
}

// RecordsSince fetches the feed and normalizes each entry. A zero since
// requests the full history.
func (s *HTTPSource) RecordsSince(ctx context.Context, since time.Time) ([]pipeline.Record, error) {
	u, err := url.Parse(s.feedURL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	if !since.IsZero() {
		q := u.Query()
		q.Set("since", since.UTC().Format(time.RFC3339))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch records: unexpected status %d", resp.StatusCode)
	}

	var raw []map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}

	out := make([]pipeline.Record, 0, len(raw))
	for i, entry := range raw {
		rec, err := normalize(entry)
		if err != nil {
			s.logger.Warn("skipping malformed feed entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func normalize(entry map[string]json.RawMessage) (pipeline.Record, error) {
	blob, err := json.Marshal(entry)
	if err != nil {
		return pipeline.Record{}, err
	}
	var fr feedRecord
	if err := json.Unmarshal(blob, &fr); err != nil {
		return pipeline.Record{}, err
	}

	rec := pipeline.Record{
		CaseNumber:  fr.CaseNumber,
		Number:      fr.Number,
		Street:      fr.Street,
		Summary:     fr.Summary,
		Description: fr.Description,
	}
	if fr.Updated != "" {
		t, err := time.Parse(time.RFC3339, fr.Updated)
		if err != nil {
			return pipeline.Record{}, fmt.Errorf("parse updatedDate %q: %w", fr.Updated, err)
		}
		rec.Updated = t.UTC()
	}
	if fr.Lat != nil && fr.Long != nil {
		rec.Location = &pipeline.Location{Latitude: *fr.Lat, Longitude: *fr.Long}
	}

	for key, val := range entry {
		if fixedFields[key] {
			continue
		}
		var section pipeline.RecordSection
		if err := json.Unmarshal(val, &section); err != nil {
			// Scalar extras (status flags and the like) are not sections.
			continue
		}
		if len(section.Links) == 0 {
			continue
		}
		if rec.Sections == nil {
			rec.Sections = make(map[string]pipeline.RecordSection)
		}
		rec.Sections[key] = section
	}
	return rec, nil
}
