package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"docsum/internal/extract"
	"docsum/internal/fetch"
	"docsum/internal/model"
	"docsum/internal/queue"
	"docsum/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockFetcher struct {
	Body       string
	ShouldFail bool
	// Block waits for ctx to be cancelled before failing.
	Block bool

	// Store, when set, is used to record the document's status at fetch time.
	Store      store.Store
	SeenStatus model.DocumentStatus
}

func (m *MockFetcher) Fetch(ctx context.Context, rawURL string) (*fetch.Page, error) {
	if m.Store != nil {
		doc, err := m.Store.FindByURL(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		m.SeenStatus = doc.Status
	}
	if m.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.ShouldFail {
		return nil, fmt.Errorf("unexpected status 404 Not Found")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &fetch.Page{URL: u, Body: []byte(m.Body)}, nil
}

type MockSummarizer struct {
	Response   string
	ShouldFail bool

	mu     sync.Mutex
	inputs []string
}

func (m *MockSummarizer) Summarize(ctx context.Context, text string, maxChars int) (string, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, text)
	m.mu.Unlock()
	if m.ShouldFail {
		return "", fmt.Errorf("simulated inference error")
	}
	return m.Response, nil
}

func (m *MockSummarizer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.inputs...)
}

const articleHTML = `<html><head><title>Fake</title></head><body>
<article>
<h1>Fake article</h1>
<p>This is the first paragraph of a fake article, long enough for readability to keep it around.</p>
<p>The second paragraph adds a little more text so the extractor has real content to work with.
Readability scores blocks by their length and punctuation, so this one keeps going for a while,
talking about nothing in particular, until it is comfortably long enough to be picked as content.</p>
<p>A third paragraph, for good measure, repeats the idea: plenty of words, a few commas, and full
sentences that look like the body of a real article rather than navigation or boilerplate.</p>
</article>
</body></html>`

func newTestStore(t *testing.T) (*store.HybridStore, *miniredis.Miniredis) {
	t.Helper()

	// Spin up fake Redis
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	// Real store wired to fake Redis + temp Badger
	st, err := store.NewHybridStore(mr.Addr(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st, mr
}

// flakyStore counts BeginProcessing calls and can fail Complete.
type flakyStore struct {
	store.Store
	begins      int
	completeErr error
}

func (s *flakyStore) BeginProcessing(ctx context.Context, id uuid.UUID) (int64, error) {
	s.begins++
	return s.Store.BeginProcessing(ctx, id)
}

func (s *flakyStore) Complete(ctx context.Context, id uuid.UUID, attempt int64, summary string) error {
	if s.completeErr != nil {
		return s.completeErr
	}
	return s.Store.Complete(ctx, id, attempt, summary)
}

func seed(t *testing.T, st store.Store, name, rawURL string) model.Document {
	t.Helper()
	doc := model.NewDocument(name, rawURL)
	require.NoError(t, st.Insert(context.Background(), &doc))
	return doc
}

func TestProcessor_StripsPrefaceAndSucceeds(t *testing.T) {
	st, _ := newTestStore(t)
	summarizer := &MockSummarizer{
		Response: "Here's a summary of the text, under 1500 characters:\n\nActual content.",
	}
	fetcher := &MockFetcher{Body: articleHTML, Store: st}
	p := NewProcessor(st, fetcher, extract.NewExtractor(), summarizer, 1500, zap.NewNop())

	doc := seed(t, st, "Fake", "http://fake-url.com")
	require.NoError(t, p.Process(context.Background(), doc.ID))

	// PROCESSING is persisted before the page is fetched
	assert.Equal(t, model.StatusProcessing, fetcher.SeenStatus)

	got, err := st.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, got.Status)
	require.NotNil(t, got.Summary)
	assert.Equal(t, "Actual content.", *got.Summary)
	assert.Empty(t, got.ErrorMessage)

	// the extracted text went to the summarizer and into the archive
	calls := summarizer.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "first paragraph of a fake article")
	text, err := st.LoadText(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, calls[0], text)
}

func TestProcessor_SummarizerFailure(t *testing.T) {
	st, _ := newTestStore(t)
	p := NewProcessor(st, &MockFetcher{Body: articleHTML}, extract.NewExtractor(),
		&MockSummarizer{ShouldFail: true}, 1500, zap.NewNop())

	doc := seed(t, st, "Fake", "http://fake-url.com")
	// pipeline failures are recorded, not returned
	require.NoError(t, p.Process(context.Background(), doc.ID))

	got, err := st.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Nil(t, got.Summary)
	assert.Equal(t, "summarize: simulated inference error", got.ErrorMessage)
}

func TestProcessor_FetchFailureSkipsRemainingSteps(t *testing.T) {
	st, _ := newTestStore(t)
	summarizer := &MockSummarizer{Response: "never used"}
	p := NewProcessor(st, &MockFetcher{ShouldFail: true}, extract.NewExtractor(), summarizer, 1500, zap.NewNop())

	doc := seed(t, st, "Fake", "http://bad-url.com")
	require.NoError(t, p.Process(context.Background(), doc.ID))

	got, err := st.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.True(t, strings.HasPrefix(got.ErrorMessage, "fetch: "))
	assert.Empty(t, summarizer.Calls())

	_, err = st.LoadText(context.Background(), doc.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessor_EmptyExtractionIsSummarized(t *testing.T) {
	st, _ := newTestStore(t)
	summarizer := &MockSummarizer{Response: "Nothing to summarize."}
	p := NewProcessor(st, &MockFetcher{Body: ""}, extract.NewExtractor(), summarizer, 1500, zap.NewNop())

	doc := seed(t, st, "Empty", "http://empty.test")
	require.NoError(t, p.Process(context.Background(), doc.ID))

	calls := summarizer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "", calls[0])

	got, err := st.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, got.Status)
}

func TestProcessor_TruncatesToBudget(t *testing.T) {
	st, _ := newTestStore(t)
	summarizer := &MockSummarizer{Response: strings.Repeat("é", 50)}
	p := NewProcessor(st, &MockFetcher{Body: articleHTML}, extract.NewExtractor(), summarizer, 20, zap.NewNop())

	doc := seed(t, st, "Long", "http://long.test")
	require.NoError(t, p.Process(context.Background(), doc.ID))

	got, err := st.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Summary)
	assert.Equal(t, strings.Repeat("é", 20), *got.Summary)
}

func TestProcessor_MissingDocument(t *testing.T) {
	st, _ := newTestStore(t)
	summarizer := &MockSummarizer{}
	p := NewProcessor(st, &MockFetcher{}, extract.NewExtractor(), summarizer, 1500, zap.NewNop())

	assert.NoError(t, p.Process(context.Background(), uuid.New()))
	assert.Empty(t, summarizer.Calls())
}

func TestProcessor_RedeliveryAfterCompletionIsDropped(t *testing.T) {
	st, _ := newTestStore(t)
	summarizer := &MockSummarizer{Response: "First run."}
	p := NewProcessor(st, &MockFetcher{Body: articleHTML}, extract.NewExtractor(), summarizer, 1500, zap.NewNop())

	doc := seed(t, st, "Fake", "http://fake-url.com")
	require.NoError(t, p.Process(context.Background(), doc.ID))

	summarizer.Response = "Second run."
	require.NoError(t, p.Process(context.Background(), doc.ID))

	got, err := st.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, got.Status)
	require.NotNil(t, got.Summary)
	assert.Equal(t, "First run.", *got.Summary)
	assert.Len(t, summarizer.Calls(), 1)
}

func TestProcessor_RedeliveryWhileProcessingTakesOver(t *testing.T) {
	st, _ := newTestStore(t)
	summarizer := &MockSummarizer{Response: "Recovered."}
	p := NewProcessor(st, &MockFetcher{Body: articleHTML}, extract.NewExtractor(), summarizer, 1500, zap.NewNop())

	// a crashed worker left the document PROCESSING
	doc := seed(t, st, "Fake", "http://fake-url.com")
	_, err := st.BeginProcessing(context.Background(), doc.ID)
	require.NoError(t, err)

	require.NoError(t, p.Process(context.Background(), doc.ID))

	got, err := st.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, got.Status)
}

func TestProcessor_FailedDocumentIsNotPickedUp(t *testing.T) {
	base, _ := newTestStore(t)
	st := &flakyStore{Store: base}
	summarizer := &MockSummarizer{Response: "Should not run."}
	p := NewProcessor(st, &MockFetcher{Body: articleHTML}, extract.NewExtractor(), summarizer, 1500, zap.NewNop())

	doc := seed(t, base, "Fake", "http://fake-url.com")
	attempt, err := base.BeginProcessing(context.Background(), doc.ID)
	require.NoError(t, err)
	require.NoError(t, base.Fail(context.Background(), doc.ID, attempt, "fetch: timeout"))

	require.NoError(t, p.Process(context.Background(), doc.ID))

	assert.Zero(t, st.begins)
	assert.Empty(t, summarizer.Calls())
	got, err := base.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "fetch: timeout", got.ErrorMessage)
}

func TestProcessor_SaveFailureMarksDocumentFailed(t *testing.T) {
	base, _ := newTestStore(t)
	st := &flakyStore{Store: base, completeErr: errors.New("i/o timeout")}
	p := NewProcessor(st, &MockFetcher{Body: articleHTML}, extract.NewExtractor(),
		&MockSummarizer{Response: "Summary."}, 1500, zap.NewNop())

	doc := seed(t, base, "Fake", "http://fake-url.com")
	require.NoError(t, p.Process(context.Background(), doc.ID))

	got, err := base.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Nil(t, got.Summary)
	assert.Equal(t, "save: i/o timeout", got.ErrorMessage)
}

func TestProcessor_InterruptedLeavesDocumentProcessing(t *testing.T) {
	st, _ := newTestStore(t)
	p := NewProcessor(st, &MockFetcher{Block: true}, extract.NewExtractor(), &MockSummarizer{}, 1500, zap.NewNop())

	doc := seed(t, st, "Fake", "http://slow.test")
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	err := p.Process(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrInterrupted)

	got, err := st.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)
}

// TestPool_ProcessesDispatchedJobs runs the whole worker side against the Redis queue.
func TestPool_ProcessesDispatchedJobs(t *testing.T) {
	st, _ := newTestStore(t)
	q := queue.NewRedisQueue(st.Client())
	summarizer := &MockSummarizer{Response: "Summary:\nActual content."}
	p := NewProcessor(st, &MockFetcher{Body: articleHTML}, extract.NewExtractor(), summarizer, 1500, zap.NewNop())

	pool := NewPool(q, 3, 50*time.Millisecond, zap.NewNop())
	pool.Register(queue.TaskProcessDocument, p.Process)

	ctx := context.Background()
	var docs []model.Document
	for i := 0; i < 5; i++ {
		doc := seed(t, st, fmt.Sprintf("Doc %d", i), fmt.Sprintf("http://fake-%d.test", i))
		require.NoError(t, q.Dispatch(ctx, doc.ID))
		docs = append(docs, doc)
	}
	// jobs for unknown tasks are acknowledged and skipped
	require.NoError(t, q.Enqueue(ctx, "resize_image", uuid.New()))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		pool.Start(runCtx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		for _, doc := range docs {
			got, err := st.Get(ctx, doc.ID)
			if err != nil || got.Status != model.StatusSuccess {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		n, err := q.Len(ctx)
		return err == nil && n == 0
	}, time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}

	for _, doc := range docs {
		got, err := st.Get(ctx, doc.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Summary)
		assert.Equal(t, "Actual content.", *got.Summary)
	}
	assert.Len(t, summarizer.Calls(), len(docs))
}

// fakeSource hands out a fixed list of jobs and records acks.
type fakeSource struct {
	mu        sync.Mutex
	jobs      []*queue.Job
	acked     []*queue.Job
	recovered bool
}

func (f *fakeSource) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) == 0 {
		return nil, queue.ErrEmpty
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]
	return job, nil
}

func (f *fakeSource) Ack(ctx context.Context, job *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, job)
	return nil
}

func (f *fakeSource) Recover(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovered = true
	return 0, nil
}

func (f *fakeSource) Acked() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acked)
}

func TestPool_HandlerErrorsAreAcked(t *testing.T) {
	src := &fakeSource{jobs: []*queue.Job{
		{Task: queue.TaskProcessDocument, DocumentID: uuid.New()},
		{Task: "unknown", DocumentID: uuid.New()},
	}}
	pool := NewPool(src, 1, time.Millisecond, zap.NewNop())

	var calls int
	var mu sync.Mutex
	pool.Register(queue.TaskProcessDocument, func(ctx context.Context, id uuid.UUID) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return fmt.Errorf("redis unavailable")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.Acked() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.True(t, src.recovered)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}
