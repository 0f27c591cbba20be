package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"docsum/internal/model"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	docKeyPrefix    = "doc:"
	nameIndexPrefix = "idx:name:"
	urlIndexPrefix  = "idx:url:"
	textKeyPrefix   = "text:"
	recentKey       = "list:created"
)

// HybridStore keeps document metadata in Redis and the extracted page text in Badger.
type HybridStore struct {
	rdb *redis.Client
	db  *badger.DB
	now func() time.Time
}

var _ Store = (*HybridStore)(nil)

// NewHybridStore initializes databases.
// redisAddr is either host:port or a redis:// URL.
// Pass badgerPath="" to run in "Redis-Only" mode (for CLI tools).
func NewHybridStore(redisAddr string, badgerPath string) (*HybridStore, error) {
	opts, err := redisOptions(redisAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid redis address: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	var db *badger.DB
	if badgerPath != "" {
		bopts := badger.DefaultOptions(badgerPath)
		bopts.Logger = nil
		db, err = badger.Open(bopts)
		if err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to open badger: %w", err)
		}
	}

	return newHybridStore(rdb, db), nil
}

func newHybridStore(rdb *redis.Client, db *badger.DB) *HybridStore {
	return &HybridStore{
		rdb: rdb,
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func redisOptions(addr string) (*redis.Options, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		return redis.ParseURL(addr)
	}
	return &redis.Options{Addr: addr}, nil
}

// Client exposes the shared Redis connection pool (the job queue lives on it too).
func (s *HybridStore) Client() *redis.Client {
	return s.rdb
}

// Ping checks the Redis connection.
func (s *HybridStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close cleans up connections
func (s *HybridStore) Close() {
	if s.rdb != nil {
		s.rdb.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

// RunGC reclaims Badger value log space until ctx is cancelled.
func (s *HybridStore) RunGC(ctx context.Context, interval time.Duration) {
	if s.db == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for s.db.RunValueLogGC(0.7) == nil {
			}
		}
	}
}

func docKey(id string) string {
	return docKeyPrefix + id
}

// indexKey hashes the value so arbitrary names and URLs make bounded keys.
func indexKey(prefix, value string) string {
	sum := sha256.Sum256([]byte(value))
	return prefix + hex.EncodeToString(sum[:])
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Insert persists a new document and claims its name and url.
// Returns ErrDuplicate when another document already owns either of them.
func (s *HybridStore) Insert(ctx context.Context, doc *model.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now()
	}
	if doc.UpdatedAt.Before(doc.CreatedAt) {
		doc.UpdatedAt = doc.CreatedAt
	}

	id := doc.ID.String()
	keys := []string{
		docKey(id),
		indexKey(nameIndexPrefix, doc.Name),
		indexKey(urlIndexPrefix, doc.URL),
		recentKey,
	}
	res, err := insertScript.Run(ctx, s.rdb, keys,
		id, doc.Name, doc.URL, string(doc.Status),
		formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt),
		doc.CreatedAt.UnixMicro(),
	).Int64()
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	if res == 0 {
		return ErrDuplicate
	}
	return nil
}

// Get reads a document's metadata from Redis
func (s *HybridStore) Get(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	return s.get(ctx, id.String())
}

func (s *HybridStore) get(ctx context.Context, id string) (*model.Document, error) {
	fields, err := s.rdb.HGetAll(ctx, docKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeDocument(fields)
}

// FindByName returns the document owning name.
func (s *HybridStore) FindByName(ctx context.Context, name string) (*model.Document, error) {
	return s.findByIndex(ctx, indexKey(nameIndexPrefix, name))
}

// FindByURL returns the document owning rawURL.
func (s *HybridStore) FindByURL(ctx context.Context, rawURL string) (*model.Document, error) {
	return s.findByIndex(ctx, indexKey(urlIndexPrefix, rawURL))
}

func (s *HybridStore) findByIndex(ctx context.Context, key string) (*model.Document, error) {
	id, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return s.get(ctx, id)
}

// List returns documents newest first.
func (s *HybridStore) List(ctx context.Context, limit, offset int) ([]model.Document, error) {
	if limit <= 0 {
		return []model.Document{}, nil
	}
	if offset < 0 {
		offset = 0
	}

	ids, err := s.rdb.ZRevRange(ctx, recentKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, err
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	pipe := s.rdb.Pipeline()
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, docKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
	}

	docs := make([]model.Document, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		doc, err := decodeDocument(fields)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

// Resubmit flips the document back to PENDING and drops the previous result.
func (s *HybridStore) Resubmit(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	res, err := resubmitScript.Run(ctx, s.rdb, []string{docKey(id.String())},
		string(model.StatusPending), formatTime(s.now()),
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("resubmit document: %w", err)
	}
	if res == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *HybridStore) BeginProcessing(ctx context.Context, id uuid.UUID) (int64, error) {
	res, err := beginScript.Run(ctx, s.rdb, []string{docKey(id.String())},
		string(model.StatusPending), string(model.StatusProcessing), formatTime(s.now()),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("begin processing: %w", err)
	}
	switch res {
	case -2:
		return 0, ErrNotFound
	case -1:
		return 0, ErrInvalidTransition
	}
	return res, nil
}

// Complete stores the summary and marks the document SUCCESS in one write.
func (s *HybridStore) Complete(ctx context.Context, id uuid.UUID, attempt int64, summary string) error {
	return s.finish(ctx, id, attempt, model.StatusSuccess, "summary", summary, "error")
}

// Fail marks the document FAILED, leaving any summary untouched.
func (s *HybridStore) Fail(ctx context.Context, id uuid.UUID, attempt int64, reason string) error {
	return s.finish(ctx, id, attempt, model.StatusFailed, "error", reason, "")
}

func (s *HybridStore) finish(ctx context.Context, id uuid.UUID, attempt int64, status model.DocumentStatus, field, value, clear string) error {
	res, err := finishScript.Run(ctx, s.rdb, []string{docKey(id.String())},
		strconv.FormatInt(attempt, 10), string(model.StatusProcessing), string(status),
		formatTime(s.now()), field, value, clear,
	).Int64()
	if err != nil {
		return fmt.Errorf("finish processing: %w", err)
	}
	switch res {
	case -2:
		return ErrNotFound
	case -1:
		return ErrStaleAttempt
	}
	return nil
}

// SaveText archives the extracted text in Badger, gzip-compressed.
func (s *HybridStore) SaveText(ctx context.Context, id uuid.UUID, text string) error {
	if s.db == nil {
		return ErrNoContentStore
	}

	var compressed bytes.Buffer
	zw := gzip.NewWriter(&compressed)
	if _, err := io.WriteString(zw, text); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(textKeyPrefix+id.String()), compressed.Bytes())
	})
}

// LoadText reads the archived text back from Badger.
func (s *HybridStore) LoadText(ctx context.Context, id uuid.UUID) (string, error) {
	if s.db == nil {
		return "", ErrNoContentStore
	}

	var compressed []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(textKeyPrefix + id.String()))
		if err != nil {
			return err
		}
		compressed, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	} else if err != nil {
		return "", err
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return "", err
	}
	defer zr.Close()

	text, err := io.ReadAll(zr)
	if err != nil {
		return "", err
	}
	return string(text), nil
}

func decodeDocument(fields map[string]string) (*model.Document, error) {
	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("decode document id: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, fields["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}

	status := model.DocumentStatus(fields["status"])
	if !status.Valid() {
		return nil, fmt.Errorf("decode document %s: unknown status %q", id, fields["status"])
	}

	doc := &model.Document{
		ID:           id,
		Name:         fields["name"],
		URL:          fields["url"],
		Status:       status,
		ErrorMessage: fields["error"],
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}
	if summary, ok := fields["summary"]; ok {
		doc.Summary = &summary
	}
	return doc, nil
}
