package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"docsum/internal/fetch"
	"docsum/internal/metrics"
	"docsum/internal/model"
	"docsum/internal/sanitize"
	"docsum/internal/store"
	"docsum/internal/summarize"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInterrupted is returned when shutdown cut a run short. The job should
// not be acknowledged.
var ErrInterrupted = errors.New("processing interrupted")

// PageFetcher downloads a document's source page.
// This allows us to mock the network in tests.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Page, error)
}

// TextExtractor turns a fetched page into plain text.
type TextExtractor interface {
	Extract(body []byte, pageURL *url.URL) (string, error)
}

// Processor runs the processing pipeline for one document.
type Processor struct {
	store      store.Store
	logger     *zap.Logger
	fetcher    PageFetcher
	extractor  TextExtractor
	summarizer summarize.Summarizer
	maxChars   int
}

func NewProcessor(st store.Store, fetcher PageFetcher, extractor TextExtractor, summarizer summarize.Summarizer, maxChars int, logger *zap.Logger) *Processor {
	return &Processor{
		store:      st,
		logger:     logger,
		fetcher:    fetcher,
		extractor:  extractor,
		summarizer: summarizer,
		maxChars:   maxChars,
	}
}

// outcome is what a pipeline run produced: a summary, or the step that failed and why.
type outcome struct {
	summary string
	step    string
	err     error
}

func failed(step string, err error) outcome {
	return outcome{step: step, err: err}
}

func (o outcome) reason() string {
	return fmt.Sprintf("%s: %v", o.step, o.err)
}

// Process runs fetch, extract, summarize and sanitize for id and records the
// result on the document. Pipeline failures end up as FAILED status, not as a
// returned error; only store errors are returned.
func (p *Processor) Process(ctx context.Context, id uuid.UUID) error {
	logger := p.logger.With(zap.String("job_id", id.String()))

	doc, err := p.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("Job dropped: document not found")
		metrics.PipelineRuns.WithLabelValues("dropped").Inc()
		return nil
	} else if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	if !doc.Status.CanAdvance(model.StatusProcessing) {
		p.dropProcessed(logger, doc.Status)
		return nil
	}

	attempt, err := p.store.BeginProcessing(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		logger.Warn("Job dropped: document not found")
		metrics.PipelineRuns.WithLabelValues("dropped").Inc()
		return nil
	case errors.Is(err, store.ErrInvalidTransition):
		// finished between Get and BeginProcessing
		logger.Info("Job dropped: document already processed")
		metrics.PipelineRuns.WithLabelValues("dropped").Inc()
		return nil
	case err != nil:
		return fmt.Errorf("begin processing: %w", err)
	}

	logger = logger.With(zap.Int64("attempt", attempt))
	logger.Info("Processing started", zap.String("url", doc.URL))
	start := time.Now()

	out := p.run(ctx, id, doc.URL, logger)
	if out.err != nil && ctx.Err() != nil {
		// shutting down: leave it PROCESSING so the redelivered job picks it up
		logger.Info("Processing interrupted", zap.String("step", out.step))
		return fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
	}

	if out.err != nil {
		logger.Error("Processing failed", zap.String("step", out.step), zap.Error(out.err))
		err = p.store.Fail(ctx, id, attempt, out.reason())
	} else {
		err = p.store.Complete(ctx, id, attempt, out.summary)
		if err != nil && !errors.Is(err, store.ErrStaleAttempt) && !errors.Is(err, store.ErrNotFound) {
			// don't leave it PROCESSING behind an acked job
			logger.Error("Failed to save summary", zap.Error(err))
			out = failed("save", err)
			err = p.store.Fail(ctx, id, attempt, out.reason())
		}
	}
	if errors.Is(err, store.ErrStaleAttempt) || errors.Is(err, store.ErrNotFound) {
		logger.Info("Result discarded: document was resubmitted", zap.Error(err))
		metrics.PipelineRuns.WithLabelValues("dropped").Inc()
		return nil
	} else if err != nil {
		return fmt.Errorf("save result: %w", err)
	}

	metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	if out.err != nil {
		metrics.PipelineRuns.WithLabelValues("failed").Inc()
		return nil
	}
	metrics.PipelineRuns.WithLabelValues("success").Inc()
	logger.Info("Processing complete", zap.Int("summary_chars", len([]rune(out.summary))))
	return nil
}

// dropProcessed records a redelivered job whose document the pipeline may not pick up again.
func (p *Processor) dropProcessed(logger *zap.Logger, status model.DocumentStatus) {
	if status.Terminal() {
		logger.Info("Job dropped: document already processed", zap.String("status", string(status)))
	} else {
		logger.Warn("Job dropped: unexpected document status", zap.String("status", string(status)))
	}
	metrics.PipelineRuns.WithLabelValues("dropped").Inc()
}

func (p *Processor) run(ctx context.Context, id uuid.UUID, rawURL string, logger *zap.Logger) outcome {
	page, err := p.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return failed("fetch", err)
	}

	text, err := p.extractor.Extract(page.Body, page.URL)
	if err != nil {
		return failed("extract", err)
	}
	if text == "" {
		logger.Warn("No readable text extracted")
	}

	// best effort
	if err := p.store.SaveText(ctx, id, text); err != nil && !errors.Is(err, store.ErrNoContentStore) {
		logger.Warn("Failed to archive extracted text", zap.Error(err))
	}

	raw, err := p.summarizer.Summarize(ctx, text, p.maxChars)
	if err != nil {
		return failed("summarize", err)
	}

	return outcome{summary: sanitize.Clean(raw, p.maxChars)}
}
