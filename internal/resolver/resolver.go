package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"docsum/internal/model"
	"docsum/internal/store"

	"go.uber.org/zap"
)

var (
	// ErrConflict rejects a submission whose name or url belongs to another document.
	// Retrying with the same input reproduces it.
	ErrConflict = errors.New("document with same name or URL exists")
	ErrInvalid  = errors.New("invalid submission")
)

// maxAttempts bounds re-resolution after losing an insert race.
const maxAttempts = 3

// Resolver decides whether a submission restarts an existing document,
// conflicts with one, or creates a new one.
type Resolver struct {
	store  store.Store
	logger *zap.Logger
}

func NewResolver(st store.Store, logger *zap.Logger) *Resolver {
	return &Resolver{store: st, logger: logger}
}

// Validate checks that name is non-blank and rawURL is an absolute http(s) URL.
func Validate(name, rawURL string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("%w: url is required", ErrInvalid)
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalid)
	}
	return nil
}

// Resolve returns the document the submission maps to and whether it was a
// resubmission of an existing one.
//
// The store claims name and url atomically on insert, so two racing first
// submissions cannot both create a document: the loser gets
// store.ErrDuplicate and resolves again against the winner's row.
func (r *Resolver) Resolve(ctx context.Context, name, rawURL string) (*model.Document, bool, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		doc, resubmitted, err := r.resolveOnce(ctx, name, rawURL)
		if errors.Is(err, store.ErrDuplicate) {
			r.logger.Debug("Lost insert race, resolving again",
				zap.String("name", name), zap.String("url", rawURL), zap.Int("attempt", attempt))
			continue
		}
		return doc, resubmitted, err
	}
	return nil, false, fmt.Errorf("resolve %q: %w", name, store.ErrDuplicate)
}

func (r *Resolver) resolveOnce(ctx context.Context, name, rawURL string) (*model.Document, bool, error) {
	byName, err := r.lookup(ctx, r.store.FindByName, name)
	if err != nil {
		return nil, false, err
	}
	byURL, err := r.lookup(ctx, r.store.FindByURL, rawURL)
	if err != nil {
		return nil, false, err
	}

	// exact match wins over any clash
	if byName != nil && byName.URL == rawURL {
		doc, err := r.store.Resubmit(ctx, byName.ID)
		if err != nil {
			return nil, false, fmt.Errorf("resubmit %s: %w", byName.ID, err)
		}
		return doc, true, nil
	}

	if byName != nil || byURL != nil {
		return nil, false, ErrConflict
	}

	doc := model.NewDocument(name, rawURL)
	if err := r.store.Insert(ctx, &doc); err != nil {
		return nil, false, err
	}
	return &doc, false, nil
}

func (r *Resolver) lookup(ctx context.Context, find func(context.Context, string) (*model.Document, error), key string) (*model.Document, error) {
	doc, err := find(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return doc, err
}
