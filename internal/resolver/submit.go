package resolver

import (
	"context"
	"errors"
	"fmt"

	"docsum/internal/metrics"
	"docsum/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher enqueues the processing pipeline for a document.
type Dispatcher interface {
	Dispatch(ctx context.Context, documentID uuid.UUID) error
}

// Submission is the outcome of an accepted submission.
type Submission struct {
	Document    *model.Document
	Resubmitted bool
}

// Submitter resolves a submission and dispatches one job for every accepted one,
// resubmissions included.
type Submitter struct {
	resolver   *Resolver
	dispatcher Dispatcher
	logger     *zap.Logger
}

func NewSubmitter(resolver *Resolver, dispatcher Dispatcher, logger *zap.Logger) *Submitter {
	return &Submitter{resolver: resolver, dispatcher: dispatcher, logger: logger}
}

func (s *Submitter) Submit(ctx context.Context, name, rawURL string) (*Submission, error) {
	if err := Validate(name, rawURL); err != nil {
		return nil, err
	}

	doc, resubmitted, err := s.resolver.Resolve(ctx, name, rawURL)
	if errors.Is(err, ErrConflict) {
		metrics.Submissions.WithLabelValues("conflict").Inc()
		s.logger.Info("Submission rejected", zap.String("name", name), zap.String("url", rawURL))
		return nil, err
	} else if err != nil {
		return nil, err
	}

	outcome := "created"
	if resubmitted {
		outcome = "resubmitted"
	}
	metrics.Submissions.WithLabelValues(outcome).Inc()

	// The document is already PENDING; if this fails the caller may resubmit.
	if err := s.dispatcher.Dispatch(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("dispatch job for %s: %w", doc.ID, err)
	}
	metrics.JobsDispatched.Inc()

	s.logger.Info("Document queued",
		zap.String("id", doc.ID.String()),
		zap.String("url", rawURL),
		zap.Bool("resubmitted", resubmitted))

	return &Submission{Document: doc, Resubmitted: resubmitted}, nil
}
