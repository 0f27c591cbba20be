package model

import (
	"time"

	"github.com/google/uuid"
)

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "PENDING"
	StatusProcessing DocumentStatus = "PROCESSING"
	StatusSuccess    DocumentStatus = "SUCCESS"
	StatusFailed     DocumentStatus = "FAILED"
)

// Document is a submitted (name, url) pair and the summary derived from it.
type Document struct {
	ID           uuid.UUID      `json:"id"`
	Name         string         `json:"name"`
	URL          string         `json:"url"`
	Summary      *string        `json:"summary"`
	Status       DocumentStatus `json:"status"`
	ErrorMessage string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NewDocument creates a pending Document with a fresh identifier.
func NewDocument(name, rawURL string) Document {
	now := time.Now().UTC()
	return Document{
		ID:        uuid.New(),
		Name:      name,
		URL:       rawURL,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Progress maps the status onto the indicator shown to clients.
// FAILED reports a negative value.
func (d Document) Progress() float64 {
	switch d.Status {
	case StatusProcessing:
		return 0.5
	case StatusSuccess:
		return 1.0
	case StatusFailed:
		return -1.0
	default:
		return 0.0
	}
}

// Valid reports whether s is one of the known statuses.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the pipeline has finished with the document.
func (s DocumentStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// pipelineTransitions lists the moves the processing pipeline may make.
// A PROCESSING document may be picked up again when its job is redelivered.
var pipelineTransitions = map[DocumentStatus][]DocumentStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusProcessing, StatusSuccess, StatusFailed},
}

// CanAdvance reports whether the pipeline may move a document from s to next.
// Resets to PENDING are not pipeline moves; they happen through resubmission only.
func (s DocumentStatus) CanAdvance(next DocumentStatus) bool {
	for _, allowed := range pipelineTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
