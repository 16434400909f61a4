package pipeline

import (
	"context"
	"time"
)

// Store persists proposals, documents, images, attributes, runs, and stage
// results. Implementations must enforce the natural-key uniqueness rules of
// each entity; CreateImageIfAbsent and ApplyAttributes carry the concurrency
// contracts the pipeline depends on.
type Store interface {
	GetProposalByCaseNumber(ctx context.Context, caseNumber string) (Proposal, error)
	CreateProposal(ctx context.Context, p Proposal) error
	UpdateProposal(ctx context.Context, p Proposal) error

	GetDocument(ctx context.Context, id string) (Document, error)
	GetDocumentByURL(ctx context.Context, proposalID, url string) (Document, error)
	CreateDocument(ctx context.Context, d Document) error
	// The Set* operations update only the fields their stage owns. Converter
	// branches of one document run concurrently, so a full-row write from a
	// stale read could erase a sibling branch's persisted paths.
	SetDocumentContent(ctx context.Context, id, contentPath string, published *time.Time) error
	SetDocumentText(ctx context.Context, id, textPath, textEncoding string) error
	SetDocumentThumbnail(ctx context.Context, id, thumbnailPath string) error
	ListUnfetchedDocuments(ctx context.Context) ([]Document, error)

	// CreateImageIfAbsent inserts the image unless one with the same
	// (proposal, document, path) key already exists. The boolean reports
	// whether a row was created; a lost race is not an error.
	CreateImageIfAbsent(ctx context.Context, img Image) (bool, error)
	GetImage(ctx context.Context, id string) (Image, error)
	UpdateImage(ctx context.Context, img Image) error
	ListImagesForDocument(ctx context.Context, documentID string) ([]Image, error)

	// ApplyAttributes applies one document's extracted attribute set
	// atomically. Per attribute, an existing value is replaced only when the
	// incoming publication timestamp is strictly newer.
	ApplyAttributes(ctx context.Context, proposalID string, attrs []Attribute) error
	GetAttribute(ctx context.Context, proposalID, handle string) (Attribute, error)

	CreateRun(ctx context.Context, run PipelineRun) error
	UpdateRun(ctx context.Context, run PipelineRun) error
	GetRun(ctx context.Context, id string) (PipelineRun, error)
	// LastSuccessfulRun returns the most recently finished succeeded run of
	// the given kind, or ErrNotFound when none is recorded.
	LastSuccessfulRun(ctx context.Context, kind RunKind) (PipelineRun, error)

	RecordStageResult(ctx context.Context, res StageResult) error
	ListStageResults(ctx context.Context, batchID string) ([]StageResult, error)
}

// Queue provides enqueue/dequeue semantics for stage tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
}

// Geocoder resolves a street address to a geographic point. Implementations
// return ErrNoLocation when the address cannot be resolved.
type Geocoder interface {
	Resolve(ctx context.Context, address string) (Location, error)
}

// RecordSource yields normalized planning-case records updated since the
// given time. A zero time requests everything.
type RecordSource interface {
	RecordsSince(ctx context.Context, since time.Time) ([]Record, error)
}

// Runner executes an external command, letting converters stub tool
// invocations in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces entity and batch IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
