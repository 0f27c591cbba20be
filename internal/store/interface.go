package store

import (
	"context"
	"errors"

	"docsum/internal/model"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("document not found")
	ErrDuplicate         = errors.New("document name or url already taken")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStaleAttempt      = errors.New("processing attempt superseded")
	ErrNoContentStore    = errors.New("badgerdb is not initialized")
)

type Store interface {
	Insert(ctx context.Context, doc *model.Document) error
	Get(ctx context.Context, id uuid.UUID) (*model.Document, error)
	FindByName(ctx context.Context, name string) (*model.Document, error)
	FindByURL(ctx context.Context, rawURL string) (*model.Document, error)
	List(ctx context.Context, limit, offset int) ([]model.Document, error)

	// Resubmit resets a document to PENDING from any status.
	Resubmit(ctx context.Context, id uuid.UUID) (*model.Document, error)
	// BeginProcessing moves a document to PROCESSING and returns the attempt
	// number that the matching Complete or Fail call must present.
	BeginProcessing(ctx context.Context, id uuid.UUID) (int64, error)
	Complete(ctx context.Context, id uuid.UUID, attempt int64, summary string) error
	Fail(ctx context.Context, id uuid.UUID, attempt int64, reason string) error

	SaveText(ctx context.Context, id uuid.UUID, text string) error
	LoadText(ctx context.Context, id uuid.UUID) (string, error)
}
