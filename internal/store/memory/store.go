// Package memory provides an in-memory entity store for development/testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/civicsignal/permitpipe/internal/pipeline"
)

// Store implements pipeline.Store with mutex-guarded maps. Attribute
// application locks the whole store for the duration of the batch, which
// stands in for the transaction scope the Postgres store uses.
type Store struct {
	mu           sync.RWMutex
	proposals    map[string]pipeline.Proposal // by ID
	caseNumbers  map[string]string            // case number -> proposal ID
	documents    map[string]pipeline.Document // by ID
	documentURLs map[string]string            // proposalID|url -> document ID
	images       map[string]pipeline.Image    // by ID
	imageKeys    map[string]string            // proposalID|documentID|path -> image ID
	attributes   map[string]pipeline.Attribute // proposalID|handle
	runs         map[string]pipeline.PipelineRun
	stageResults map[string][]pipeline.StageResult // by batch ID
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		proposals:    make(map[string]pipeline.Proposal),
		caseNumbers:  make(map[string]string),
		documents:    make(map[string]pipeline.Document),
		documentURLs: make(map[string]string),
		images:       make(map[string]pipeline.Image),
		imageKeys:    make(map[string]string),
		attributes:   make(map[string]pipeline.Attribute),
		runs:         make(map[string]pipeline.PipelineRun),
		stageResults: make(map[string][]pipeline.StageResult),
	}
}

// GetProposalByCaseNumber fetches a proposal by its natural key.
func (s *Store) GetProposalByCaseNumber(_ context.Context, caseNumber string) (pipeline.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.caseNumbers[caseNumber]
	if !ok {
		return pipeline.Proposal{}, pipeline.ErrNotFound
	}
	return s.proposals[id], nil
}

// CreateProposal stores a new proposal.
func (s *Store) CreateProposal(_ context.Context, p pipeline.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[p.ID] = p
	s.caseNumbers[p.CaseNumber] = p.ID
	return nil
}

// UpdateProposal overwrites an existing proposal.
func (s *Store) UpdateProposal(_ context.Context, p pipeline.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; !ok {
		return pipeline.ErrNotFound
	}
	s.proposals[p.ID] = p
	return nil
}

// GetDocument fetches a document by ID.
func (s *Store) GetDocument(_ context.Context, id string) (pipeline.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return pipeline.Document{}, pipeline.ErrNotFound
	}
	return doc, nil
}

// GetDocumentByURL fetches a document by its (proposal, URL) natural key.
func (s *Store) GetDocumentByURL(_ context.Context, proposalID, url string) (pipeline.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.documentURLs[proposalID+"|"+url]
	if !ok {
		return pipeline.Document{}, pipeline.ErrNotFound
	}
	return s.documents[id], nil
}

// CreateDocument stores a new document.
func (s *Store) CreateDocument(_ context.Context, d pipeline.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[d.ID] = d
	s.documentURLs[d.ProposalID+"|"+d.URL] = d.ID
	return nil
}

// SetDocumentContent records the fetched content path and a sniffed
// publication date. Stage setters mutate only their own fields under the
// store lock, so concurrent branches cannot erase each other's writes.
func (s *Store) SetDocumentContent(_ context.Context, id, contentPath string, published *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	doc.ContentPath = contentPath
	if published != nil {
		doc.Published = published
	}
	s.documents[id] = doc
	return nil
}

// SetDocumentText records the extracted text path and its encoding.
func (s *Store) SetDocumentText(_ context.Context, id, textPath, textEncoding string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	doc.TextPath = textPath
	doc.TextEncoding = textEncoding
	s.documents[id] = doc
	return nil
}

// SetDocumentThumbnail records the rendered thumbnail path.
func (s *Store) SetDocumentThumbnail(_ context.Context, id, thumbnailPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	doc.ThumbnailPath = thumbnailPath
	s.documents[id] = doc
	return nil
}

// ListUnfetchedDocuments returns documents without local content, oldest
// first by ID for deterministic sweeps.
func (s *Store) ListUnfetchedDocuments(_ context.Context) ([]pipeline.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.Document
	for _, doc := range s.documents {
		if !doc.Fetched() {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateImageIfAbsent inserts the image unless its natural key is taken.
func (s *Store) CreateImageIfAbsent(_ context.Context, img pipeline.Image) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := img.ProposalID + "|" + img.DocumentID + "|" + img.Path
	if _, exists := s.imageKeys[key]; exists {
		return false, nil
	}
	s.images[img.ID] = img
	s.imageKeys[key] = img.ID
	return true, nil
}

// GetImage fetches an image by ID.
func (s *Store) GetImage(_ context.Context, id string) (pipeline.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[id]
	if !ok {
		return pipeline.Image{}, pipeline.ErrNotFound
	}
	return img, nil
}

// UpdateImage overwrites an existing image.
func (s *Store) UpdateImage(_ context.Context, img pipeline.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.images[img.ID]; !ok {
		return pipeline.ErrNotFound
	}
	s.images[img.ID] = img
	return nil
}

// ListImagesForDocument returns all images extracted from a document.
func (s *Store) ListImagesForDocument(_ context.Context, documentID string) ([]pipeline.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.Image
	for _, img := range s.images {
		if img.DocumentID == documentID {
			out = append(out, img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ApplyAttributes applies an attribute set atomically with the
// strictly-newer publication guard.
func (s *Store) ApplyAttributes(_ context.Context, proposalID string, attrs []pipeline.Attribute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, attr := range attrs {
		key := proposalID + "|" + attr.Handle
		existing, ok := s.attributes[key]
		if ok && !attr.Published.After(existing.Published) {
			continue
		}
		attr.ProposalID = proposalID
		s.attributes[key] = attr
	}
	return nil
}

// GetAttribute fetches an attribute by its (proposal, handle) natural key.
func (s *Store) GetAttribute(_ context.Context, proposalID, handle string) (pipeline.Attribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attr, ok := s.attributes[proposalID+"|"+handle]
	if !ok {
		return pipeline.Attribute{}, pipeline.ErrNotFound
	}
	return attr, nil
}

// CreateRun stores a new run record.
func (s *Store) CreateRun(_ context.Context, run pipeline.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

// UpdateRun overwrites an existing run record.
func (s *Store) UpdateRun(_ context.Context, run pipeline.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return pipeline.ErrNotFound
	}
	s.runs[run.ID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *Store) GetRun(_ context.Context, id string) (pipeline.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return pipeline.PipelineRun{}, pipeline.ErrNotFound
	}
	return run, nil
}

// LastSuccessfulRun returns the most recently finished succeeded run of a kind.
func (s *Store) LastSuccessfulRun(_ context.Context, kind pipeline.RunKind) (pipeline.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best pipeline.PipelineRun
	var bestAt time.Time
	found := false
	for _, run := range s.runs {
		if run.Kind != kind || run.Status != pipeline.RunStatusSucceeded || run.Finished == nil {
			continue
		}
		if !found || run.Finished.After(bestAt) {
			best = run
			bestAt = *run.Finished
			found = true
		}
	}
	if !found {
		return pipeline.PipelineRun{}, pipeline.ErrNotFound
	}
	return best, nil
}

// RecordStageResult appends a stage outcome for a batch.
func (s *Store) RecordStageResult(_ context.Context, res pipeline.StageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stageResults[res.BatchID] = append(s.stageResults[res.BatchID], res)
	return nil
}

// ListStageResults returns all recorded results for a batch.
func (s *Store) ListStageResults(_ context.Context, batchID string) ([]pipeline.StageResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := s.stageResults[batchID]
	out := make([]pipeline.StageResult, len(results))
	copy(out, results)
	return out, nil
}
