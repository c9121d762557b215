package indexing

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/ragindex/ai/mock"
	"github.com/poiesic/ragindex/chunking"
	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/fetch"
	"github.com/poiesic/ragindex/quota"
	"github.com/poiesic/ragindex/retry"
	"github.com/poiesic/ragindex/storage"
	"github.com/poiesic/ragindex/storage/badger"
	"github.com/poiesic/ragindex/vector"
	"github.com/stretchr/testify/require"
)

const testProject = "proj-1"

// testFetcher serves canned pages and counts scrapes per URL.
type testFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	fail     map[string]error
	calls    map[string]int
	inFlight map[string]int
	overlaps int
}

func newTestFetcher() *testFetcher {
	return &testFetcher{
		pages:    make(map[string]string),
		fail:     make(map[string]error),
		calls:    make(map[string]int),
		inFlight: make(map[string]int),
	}
}

func (f *testFetcher) set(url, markdown string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = markdown
	delete(f.fail, url)
}

func (f *testFetcher) failWith(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[url] = err
}

func (f *testFetcher) Scrape(ctx context.Context, url string) (*fetch.Page, error) {
	f.mu.Lock()
	f.calls[url]++
	f.inFlight[url]++
	if f.inFlight[url] > 1 {
		f.overlaps++
	}
	err, failing := f.fail[url]
	markdown, ok := f.pages[url]
	f.mu.Unlock()

	time.Sleep(time.Millisecond)

	f.mu.Lock()
	f.inFlight[url]--
	f.mu.Unlock()

	if failing {
		return nil, err
	}
	if !ok {
		return nil, fetch.ErrScrapeFailed
	}
	return &fetch.Page{Title: "Title of " + url, Markdown: markdown}, nil
}

func (f *testFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// testVectorStore keeps points in memory and deletes through Filter.Matches.
type testVectorStore struct {
	mu        sync.Mutex
	points    []core.EmbeddingPoint
	upsertErr error
	deleteErr error
	deletes   int
}

var _ vector.Store = (*testVectorStore)(nil)

func (s *testVectorStore) Upsert(ctx context.Context, points []core.EmbeddingPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	if err := vector.ValidatePoints(points); err != nil {
		return err
	}
	s.points = append(s.points, points...)
	return nil
}

func (s *testVectorStore) Delete(ctx context.Context, filter vector.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if err := filter.Validate(); err != nil {
		return err
	}
	s.points = slices.DeleteFunc(s.points, func(p core.EmbeddingPoint) bool {
		return filter.Matches(p.Payload)
	})
	return nil
}

func (s *testVectorStore) Close() error { return nil }

func (s *testVectorStore) count(filter vector.Filter) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.points {
		if filter.Matches(p.Payload) {
			n++
		}
	}
	return n
}

func (s *testVectorStore) contents(filter vector.Filter) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, p := range s.points {
		if filter.Matches(p.Payload) {
			out = append(out, p.Payload.Content)
		}
	}
	return out
}

// testGate is an enabled quota gate that authorizes a fixed number of documents.
type testGate struct {
	mu         sync.Mutex
	allowed    int
	resolveErr error
	authorized int
	usage      []quota.Usage
}

func (g *testGate) Enabled() bool { return true }

func (g *testGate) ResolveCustomer(ctx context.Context, projectID string) (string, error) {
	if g.resolveErr != nil {
		return "", g.resolveErr
	}
	return "cus_" + projectID, nil
}

func (g *testGate) Authorize(ctx context.Context, customerID string, req quota.Request) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.authorized >= g.allowed {
		return &quota.DeniedError{Reason: "monthly limit reached"}
	}
	g.authorized++
	return nil
}

func (g *testGate) LogUsage(ctx context.Context, customerID string, usage quota.Usage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.usage = append(g.usage, usage)
	return nil
}

// testClock is a settable time source.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	store    *badger.Store
	sources  storage.SourceRepository
	docs     storage.DocumentRepository
	vectors  *testVectorStore
	fetcher  *testFetcher
	embedder *mock.MockEmbedder
	clock    *testClock
	pipeline *Pipeline
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		store:    store,
		sources:  store.Sources(),
		docs:     store.Documents(),
		vectors:  &testVectorStore{},
		fetcher:  newTestFetcher(),
		embedder: mock.NewMockEmbedder(),
		clock:    newTestClock(),
	}

	base := []Option{
		WithFetchRetry(retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}),
		WithClock(env.clock.Now),
	}
	pipeline, err := NewPipeline(env.sources, env.docs, env.vectors, env.fetcher,
		chunking.NewDefault(), env.embedder, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(pipeline.Release)
	env.pipeline = pipeline
	return env
}

func (e *testEnv) worker(t *testing.T, opts ...WorkerOption) *Worker {
	t.Helper()
	base := []WorkerOption{WithWorkerClock(e.clock.Now), WithPollInterval(5 * time.Millisecond)}
	w, err := NewWorker(e.sources, e.pipeline, append(base, opts...)...)
	require.NoError(t, err)
	return w
}

// addSource creates a pending source with one pending document per URL.
func (e *testEnv) addSource(t *testing.T, urls ...string) *core.Source {
	t.Helper()
	ctx := context.Background()
	src, err := e.sources.CreateSource(ctx, &core.Source{
		ID:        core.NewSourceID(),
		ProjectID: testProject,
		Name:      "docs",
		Status:    core.StatusPending,
		Data:      core.SourceData{Type: core.SourceTypeURLs, URLs: urls},
	})
	require.NoError(t, err)

	docs := make([]*core.Document, len(urls))
	for i, url := range urls {
		docs[i] = &core.Document{
			ID:        core.DocumentID(src.ID, url),
			SourceID:  src.ID,
			ProjectID: testProject,
			Name:      url,
			Status:    core.StatusPending,
		}
	}
	_, err = e.docs.AddDocuments(ctx, docs...)
	require.NoError(t, err)
	return src
}

func (e *testEnv) source(t *testing.T, id string) *core.Source {
	t.Helper()
	src, err := e.sources.GetSource(context.Background(), id)
	require.NoError(t, err)
	return src
}

func (e *testEnv) document(t *testing.T, src *core.Source, url string) *core.Document {
	t.Helper()
	doc, err := e.docs.GetDocument(context.Background(), core.DocumentID(src.ID, url))
	require.NoError(t, err)
	return doc
}

// setSource applies mutate to the stored source through a version-guarded write.
func (e *testEnv) setSource(t *testing.T, id string, mutate func(*core.Source)) *core.Source {
	t.Helper()
	src := e.source(t, id)
	mutate(src)
	applied, err := e.sources.UpdateSource(context.Background(), src)
	require.NoError(t, err)
	require.True(t, applied)
	return src
}

func (e *testEnv) setDocument(t *testing.T, src *core.Source, url string, mutate func(*core.Document)) *core.Document {
	t.Helper()
	doc := e.document(t, src, url)
	mutate(doc)
	applied, err := e.docs.UpdateDocument(context.Background(), doc)
	require.NoError(t, err)
	require.True(t, applied)
	return doc
}

// drain runs the worker until nothing is claimable.
func drain(t *testing.T, w *Worker) int {
	t.Helper()
	runs := 0
	for {
		worked, err := w.RunOnce(context.Background())
		require.NoError(t, err)
		if !worked {
			return runs
		}
		runs++
		require.Less(t, runs, 100, "worker did not settle")
	}
}

var errUnreachable = errors.New("host unreachable")
