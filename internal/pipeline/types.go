// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"time"
)

// Proposal is a municipal planning case, keyed by its externally-assigned
// case number. Scalar fields are overwritten on every upsert of the same
// case number; the proposal itself is never deleted.
type Proposal struct {
	ID          string    `json:"id"`
	CaseNumber  string    `json:"case_number"`
	Address     string    `json:"address"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Summary     string    `json:"summary,omitempty"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source"`
	Modified    time.Time `json:"modified"`

	// Complete records whether the upstream record carried at least one
	// decision-document link. This says nothing about whether the proposal
	// was approved; it is kept with the upstream's semantics.
	Complete bool `json:"complete"`
}

// Document is a file linked from a proposal record, unique per (proposal, URL).
// Record-sourced fields (URL, Title, Field, Published) are written only by the
// upsert service; pipeline stages append derived paths and never regress them.
type Document struct {
	ID         string     `json:"id"`
	ProposalID string     `json:"proposal_id"`
	URL        string     `json:"url"`
	Title      string     `json:"title"`
	Field      string     `json:"field"`
	Published  *time.Time `json:"published,omitempty"`

	ContentPath   string `json:"content_path,omitempty"`
	TextPath      string `json:"text_path,omitempty"`
	TextEncoding  string `json:"text_encoding,omitempty"`
	ThumbnailPath string `json:"thumbnail_path,omitempty"`
}

// Fetched reports whether the document's remote content has been copied to
// local storage.
func (d Document) Fetched() bool {
	return d.ContentPath != ""
}

// Image is a picture extracted from a document, unique per
// (proposal, document, path).
type Image struct {
	ID            string `json:"id"`
	ProposalID    string `json:"proposal_id"`
	DocumentID    string `json:"document_id"`
	Path          string `json:"path"`
	ThumbnailPath string `json:"thumbnail_path,omitempty"`
}

// Attribute is a structured property extracted from a document's text,
// unique per (proposal, handle). Its value is replaced only by extractions
// with a strictly newer publication timestamp.
type Attribute struct {
	ProposalID string    `json:"proposal_id"`
	Name       string    `json:"name"`
	Handle     string    `json:"handle"`
	Value      string    `json:"value"`
	Published  time.Time `json:"published"`
}

// RunKind distinguishes the recurring jobs the coordinator executes.
type RunKind string

// Run kinds persisted in the run store.
const (
	RunScrape  RunKind = "scrape"
	RunRecover RunKind = "recover"
)

// RunStatus represents the lifecycle state of a coordinator run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// PipelineRun is the persisted record of one coordinator run. The most recent
// succeeded scrape run supplies the lower bound of the next scrape window.
type PipelineRun struct {
	ID               string     `json:"id"`
	Kind             RunKind    `json:"kind"`
	Status           RunStatus  `json:"status"`
	Started          time.Time  `json:"started_at"`
	Finished         *time.Time `json:"finished_at,omitempty"`
	RecordsUpserted  int        `json:"records_upserted"`
	RecordsSkipped   int        `json:"records_skipped"`
	DocumentsQueued  int        `json:"documents_queued"`
	DocumentsFailed  int        `json:"documents_failed"`
	ErrorText        string     `json:"error_text,omitempty"`
}

// Stage identifies one unit of work in the per-document task graph.
type Stage string

// Stages of the document processing graph.
const (
	StageFetch          Stage = "fetch"
	StageExtractText    Stage = "extract_text"
	StageExtractImages  Stage = "extract_images"
	StageDocThumbnail   Stage = "doc_thumbnail"
	StageAttributes     Stage = "attributes"
	StageImageThumbnail Stage = "image_thumbnail"
)

// Outcome is the terminal result of one stage execution.
type Outcome string

// Stage outcomes recorded per task.
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Task is a stage descriptor submitted to the work queue. Tasks run to
// completion on whichever worker dequeues them; successors are enqueued as
// new descriptors, so branches of the graph retry and fail independently.
type Task struct {
	BatchID    string `json:"batch_id"`
	DocumentID string `json:"document_id"`
	ImageID    string `json:"image_id,omitempty"`
	Stage      Stage  `json:"stage"`
	Attempt    int    `json:"attempt"`
	Submitted  int64  `json:"submitted"`
}

// StageResult is recorded for every terminal stage execution and powers
// batch summaries.
type StageResult struct {
	BatchID    string    `json:"batch_id"`
	DocumentID string    `json:"document_id"`
	ImageID    string    `json:"image_id,omitempty"`
	Stage      Stage     `json:"stage"`
	Outcome    Outcome   `json:"outcome"`
	ErrorText  string    `json:"error_text,omitempty"`
	Attempt    int       `json:"attempt"`
	RecordedAt time.Time `json:"recorded_at"`
}

// DocumentFailure pairs a document with one failed branch of its graph.
type DocumentFailure struct {
	DocumentID string `json:"document_id"`
	Stage      Stage  `json:"stage"`
	Error      string `json:"error"`
}

// BatchSummary separates documents that completed every branch from
// documents with per-branch failures.
type BatchSummary struct {
	BatchID   string            `json:"batch_id"`
	Completed []string          `json:"completed"`
	Failures  []DocumentFailure `json:"failures"`
}

// Location is a resolved geographic point.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// RecordLink is one document link inside a record section.
type RecordLink struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// RecordSection is a link-bearing field of an upstream record.
type RecordSection struct {
	Links []RecordLink `json:"links"`
}

// Record is a normalized upstream planning-case record. Sections map the
// source field name ("decisions", "reports", ...) to its links. Location is
// nil when the upstream carried no resolvable geolocation.
type Record struct {
	CaseNumber  string                   `json:"case_number"`
	Number      string                   `json:"number"`
	Street      string                   `json:"street"`
	Summary     string                   `json:"summary,omitempty"`
	Description string                   `json:"description,omitempty"`
	Updated     time.Time                `json:"updated"`
	Location    *Location                `json:"location,omitempty"`
	Sections    map[string]RecordSection `json:"sections,omitempty"`
}

// Address joins the record's street number and street name.
func (r Record) Address() string {
	return r.Number + " " + r.Street
}

// DecisionLinks returns the links of the record's decision section.
func (r Record) DecisionLinks() []RecordLink {
	return r.Sections["decisions"].Links
}
