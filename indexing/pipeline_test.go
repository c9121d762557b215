package indexing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/poiesic/ragindex/ai"
	"github.com/poiesic/ragindex/chunking"
	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/quota"
	"github.com/poiesic/ragindex/storage"
	"github.com/poiesic/ragindex/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPipeline_RequiresCollaborators(t *testing.T) {
	env := newTestEnv(t)
	splitter := chunking.NewDefault()

	tests := []struct {
		name string
		new  func() (*Pipeline, error)
		want error
	}{
		{"sources", func() (*Pipeline, error) {
			return NewPipeline(nil, env.docs, env.vectors, env.fetcher, splitter, env.embedder)
		}, ErrSourceRepositoryRequired},
		{"documents", func() (*Pipeline, error) {
			return NewPipeline(env.sources, nil, env.vectors, env.fetcher, splitter, env.embedder)
		}, ErrDocumentRepositoryRequired},
		{"vectors", func() (*Pipeline, error) {
			return NewPipeline(env.sources, env.docs, nil, env.fetcher, splitter, env.embedder)
		}, ErrVectorStoreRequired},
		{"fetcher", func() (*Pipeline, error) {
			return NewPipeline(env.sources, env.docs, env.vectors, nil, splitter, env.embedder)
		}, ErrFetcherRequired},
		{"splitter", func() (*Pipeline, error) {
			return NewPipeline(env.sources, env.docs, env.vectors, env.fetcher, nil, env.embedder)
		}, ErrSplitterRequired},
		{"embedder", func() (*Pipeline, error) {
			return NewPipeline(env.sources, env.docs, env.vectors, env.fetcher, splitter, nil)
		}, ErrEmbedderRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.new()
			assert.Nil(t, p)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestProcessSource_PartialFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.fetcher.set("https://a.test", "Hello world")
	env.fetcher.failWith("https://b.test", errUnreachable)
	src := env.addSource(t, "https://a.test", "https://b.test")

	worked, err := env.worker(t).RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, worked)

	a := env.document(t, src, "https://a.test")
	assert.Equal(t, core.StatusReady, a.Status)
	assert.Equal(t, "Hello world", a.Content)
	assert.Empty(t, a.Error)
	assert.GreaterOrEqual(t, env.vectors.count(vector.DocumentFilter(testProject, src.ID, a.ID)), 1)

	b := env.document(t, src, "https://b.test")
	assert.Equal(t, core.StatusError, b.Status)
	assert.Contains(t, b.Error, "host unreachable")
	assert.Zero(t, env.vectors.count(vector.DocumentFilter(testProject, src.ID, b.ID)))
	assert.Equal(t, 3, env.fetcher.callCount("https://b.test"), "fetch is retried three times")

	stored := env.source(t, src.ID)
	assert.Equal(t, core.StatusError, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, SourceErrorMessage, stored.Error)
	assert.Empty(t, stored.BillingError)
}

func TestProcessSource_Result(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.fetcher.set("https://a.test", "Hello world")
	env.fetcher.failWith("https://b.test", errUnreachable)
	src := env.addSource(t, "https://a.test", "https://b.test")

	claimed, err := env.sources.ClaimProcessing(ctx, env.clock.Now(), storage.DefaultClaimPolicy())
	require.NoError(t, err)
	require.NotNil(t, claimed)

	result, err := env.pipeline.ProcessSource(ctx, claimed)
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 2)
	assert.True(t, result.Failed())
	assert.True(t, result.Finalized)
	assert.Equal(t, core.StatusError, result.FinalStatus())
	assert.Equal(t, 1, result.Count(ActionIndexed))
	assert.Equal(t, 1, result.Count(ActionFailed))
	assert.Equal(t, 2, result.Tokens(), "two words embedded")
	assert.ErrorIs(t, result.Err(), errUnreachable)

	// The claimed record now reflects the stored final state.
	assert.Equal(t, core.StatusError, claimed.Status)
	assert.Equal(t, env.source(t, src.ID).Version, claimed.Version)
}

func TestProcessSource_AllReady(t *testing.T) {
	env := newTestEnv(t)

	env.fetcher.set("https://a.test", "Hello world")
	env.fetcher.set("https://b.test", "Second page\n\nwith two paragraphs")
	src := env.addSource(t, "https://a.test", "https://b.test")

	drain(t, env.worker(t))

	stored := env.source(t, src.ID)
	assert.Equal(t, core.StatusReady, stored.Status)
	assert.Empty(t, stored.Error)

	for _, url := range []string{"https://a.test", "https://b.test"} {
		doc := env.document(t, src, url)
		assert.Equal(t, core.StatusReady, doc.Status, url)
		assert.Positive(t, env.vectors.count(vector.DocumentFilter(testProject, src.ID, doc.ID)), url)
	}
}

func TestProcessSource_PayloadFields(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.set("https://a.test", "Hello world")
	src := env.addSource(t, "https://a.test")

	drain(t, env.worker(t))

	require.Len(t, env.vectors.points, 1)
	point := env.vectors.points[0]
	assert.NotEmpty(t, point.ID)
	assert.Len(t, point.Vector, 8)
	assert.Equal(t, core.Payload{
		ProjectID: testProject,
		SourceID:  src.ID,
		DocID:     core.DocumentID(src.ID, "https://a.test"),
		Content:   "Hello world",
		Title:     "Title of https://a.test",
		Name:      "https://a.test",
	}, point.Payload)
}

func TestProcessSource_ReembedReplacesPoints(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(t)

	env.fetcher.set("https://a.test", "First version")
	src := env.addSource(t, "https://a.test")
	drain(t, w)

	env.fetcher.set("https://a.test", "Second version")
	env.setDocument(t, src, "https://a.test", func(d *core.Document) { d.Status = core.StatusPending })
	env.setSource(t, src.ID, func(s *core.Source) {
		s.Status = core.StatusPending
		s.Attempts = 0
	})
	drain(t, w)

	doc := env.document(t, src, "https://a.test")
	assert.Equal(t, "Second version", doc.Content)
	assert.Equal(t, []string{"Second version"}, env.vectors.contents(vector.DocumentFilter(testProject, src.ID, doc.ID)))
}

func TestProcessSource_EmptyContent(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.set("https://a.test", "   ")
	src := env.addSource(t, "https://a.test")

	drain(t, env.worker(t))

	doc := env.document(t, src, "https://a.test")
	assert.Equal(t, core.StatusReady, doc.Status)
	assert.Zero(t, env.vectors.count(vector.SourceFilter(testProject, src.ID)))
	assert.Zero(t, env.embedder.CallCount(), "no chunks means no embedding call")
	assert.Equal(t, core.StatusReady, env.source(t, src.ID).Status)
}

func TestProcessSource_EmbeddingFailurePurgesPoints(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(t)

	env.fetcher.set("https://a.test", "Hello world")
	src := env.addSource(t, "https://a.test")
	drain(t, w)
	require.Equal(t, 1, env.vectors.count(vector.SourceFilter(testProject, src.ID)))

	env.embedder.EmbedManyFunc = func(ctx context.Context, texts []string) (*ai.EmbeddingResult, error) {
		return nil, errors.New("rate limited")
	}
	env.setDocument(t, src, "https://a.test", func(d *core.Document) { d.Status = core.StatusPending })
	env.setSource(t, src.ID, func(s *core.Source) {
		s.Status = core.StatusPending
		s.Attempts = 0
	})
	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, worked)

	doc := env.document(t, src, "https://a.test")
	assert.Equal(t, core.StatusError, doc.Status)
	assert.Contains(t, doc.Error, "rate limited")
	assert.Zero(t, env.vectors.count(vector.DocumentFilter(testProject, src.ID, doc.ID)), "error documents hold no points")
}

func TestProcessSource_EmbeddingCountMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.embedder.EmbedManyFunc = func(ctx context.Context, texts []string) (*ai.EmbeddingResult, error) {
		return &ai.EmbeddingResult{}, nil
	}
	env.fetcher.set("https://a.test", "Hello world")
	src := env.addSource(t, "https://a.test")

	_, err := env.worker(t).RunOnce(context.Background())
	require.NoError(t, err)

	doc := env.document(t, src, "https://a.test")
	assert.Equal(t, core.StatusError, doc.Status)
	assert.Contains(t, doc.Error, ai.ErrEmbeddingCount.Error())
}

func TestProcessSource_UpsertFailure(t *testing.T) {
	env := newTestEnv(t)
	env.vectors.upsertErr = errors.New("collection missing")
	env.fetcher.set("https://a.test", "Hello world")
	src := env.addSource(t, "https://a.test")

	_, err := env.worker(t).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, core.StatusError, env.document(t, src, "https://a.test").Status)
	assert.Equal(t, core.StatusError, env.source(t, src.ID).Status)
}

func TestProcessSource_DocumentVersionGuard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fetcher.set("https://a.test", "Hello world")
	src := env.addSource(t, "https://a.test")
	docID := core.DocumentID(src.ID, "https://a.test")

	// A concurrent writer renames the document while it is being embedded.
	env.embedder.EmbedManyFunc = func(ctx context.Context, texts []string) (*ai.EmbeddingResult, error) {
		doc, err := env.docs.GetDocument(ctx, docID)
		require.NoError(t, err)
		doc.Error = "edited elsewhere"
		applied, err := env.docs.UpdateDocument(ctx, doc)
		require.NoError(t, err)
		require.True(t, applied)

		res := &ai.EmbeddingResult{Embeddings: make([][]float32, len(texts))}
		for i := range texts {
			res.Embeddings[i] = []float32{1, 0}
		}
		return res, nil
	}

	claimed, err := env.sources.ClaimProcessing(ctx, env.clock.Now(), storage.DefaultClaimPolicy())
	require.NoError(t, err)
	result, err := env.pipeline.ProcessSource(ctx, claimed)
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, ActionSuperseded, result.Outcomes[0].Action)

	doc := env.document(t, src, "https://a.test")
	assert.Equal(t, core.StatusPending, doc.Status, "newer state is not overwritten")
	assert.Empty(t, doc.Content)
	assert.Equal(t, "edited elsewhere", doc.Error)
	assert.Equal(t, int64(2), doc.Version)
	assert.Zero(t, env.vectors.count(vector.DocumentFilter(testProject, src.ID, docID)),
		"points written for a dropped save are purged")
}

func TestProcessSource_SupersededByReadyKeepsPoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fetcher.set("https://a.test", "Hello world")
	src := env.addSource(t, "https://a.test")
	docID := core.DocumentID(src.ID, "https://a.test")

	// Another writer finishes the document first.
	env.embedder.EmbedManyFunc = func(ctx context.Context, texts []string) (*ai.EmbeddingResult, error) {
		doc, err := env.docs.GetDocument(ctx, docID)
		require.NoError(t, err)
		doc.Status = core.StatusReady
		doc.Content = "Hello world"
		applied, err := env.docs.UpdateDocument(ctx, doc)
		require.NoError(t, err)
		require.True(t, applied)

		res := &ai.EmbeddingResult{Embeddings: make([][]float32, len(texts))}
		for i := range texts {
			res.Embeddings[i] = []float32{1, 0}
		}
		return res, nil
	}

	claimed, err := env.sources.ClaimProcessing(ctx, env.clock.Now(), storage.DefaultClaimPolicy())
	require.NoError(t, err)
	result, err := env.pipeline.ProcessSource(ctx, claimed)
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, ActionSuperseded, result.Outcomes[0].Action)
	assert.Equal(t, core.StatusReady, env.document(t, src, "https://a.test").Status)
	assert.Equal(t, 1, env.vectors.count(vector.DocumentFilter(testProject, src.ID, docID)))
}

func TestProcessSource_SourceVersionGuard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fetcher.set("https://a.test", "Hello world")
	src := env.addSource(t, "https://a.test")

	claimed, err := env.sources.ClaimProcessing(ctx, env.clock.Now(), storage.DefaultClaimPolicy())
	require.NoError(t, err)

	// The source is deleted by a user while the worker holds the claim.
	env.setSource(t, src.ID, func(s *core.Source) {
		s.Status = core.StatusDeleted
		s.Attempts = 0
	})

	result, err := env.pipeline.ProcessSource(ctx, claimed)
	require.NoError(t, err)
	assert.False(t, result.Finalized)
	assert.Equal(t, core.StatusDeleted, env.source(t, src.ID).Status)
}

func TestProcessSource_DeletedDocumentInLiveSource(t *testing.T) {
	env := newTestEnv(t)
	w := env.worker(t)

	env.fetcher.set("https://a.test", "Hello world")
	env.fetcher.set("https://b.test", "Goodbye world")
	src := env.addSource(t, "https://a.test", "https://b.test")
	drain(t, w)

	b := env.setDocument(t, src, "https://b.test", func(d *core.Document) { d.Status = core.StatusDeleted })
	env.setSource(t, src.ID, func(s *core.Source) {
		s.Status = core.StatusPending
		s.Attempts = 0
	})
	drain(t, w)

	_, err := env.docs.GetDocument(context.Background(), b.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, env.vectors.count(vector.DocumentFilter(testProject, src.ID, b.ID)))

	a := env.document(t, src, "https://a.test")
	assert.Equal(t, core.StatusReady, a.Status)
	assert.Equal(t, 1, env.vectors.count(vector.DocumentFilter(testProject, src.ID, a.ID)))
	assert.Equal(t, core.StatusReady, env.source(t, src.ID).Status)
}

func TestProcessSource_DocumentDeletionFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	src := env.addSource(t, "https://a.test")
	env.setDocument(t, src, "https://a.test", func(d *core.Document) { d.Status = core.StatusDeleted })
	env.vectors.deleteErr = errors.New("vector store down")

	worked, err := env.worker(t).RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, worked)

	doc := env.document(t, src, "https://a.test")
	assert.Equal(t, core.StatusDeleted, doc.Status, "removal is retried, not reindexed")
	assert.Contains(t, doc.Error, "vector store down")
	assert.Equal(t, core.StatusError, env.source(t, src.ID).Status)
}

func TestProcessSource_DocumentConcurrency(t *testing.T) {
	env := newTestEnv(t, WithDocumentConcurrency(4))

	urls := make([]string, 10)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://site.test/page/%d", i)
		env.fetcher.set(urls[i], fmt.Sprintf("Page number %d", i))
	}
	src := env.addSource(t, urls...)

	drain(t, env.worker(t))

	assert.Equal(t, core.StatusReady, env.source(t, src.ID).Status)
	for _, url := range urls {
		assert.Equal(t, core.StatusReady, env.document(t, src, url).Status, url)
		assert.Equal(t, 1, env.fetcher.callCount(url), url)
	}
	assert.Equal(t, len(urls), env.vectors.count(vector.SourceFilter(testProject, src.ID)))
}

func TestProcessSource_QuotaDenial(t *testing.T) {
	gate := &testGate{allowed: 1}
	env := newTestEnv(t, WithQuotaGate(gate))

	urls := []string{"https://a.test", "https://b.test", "https://c.test"}
	for _, url := range urls {
		env.fetcher.set(url, "Hello world")
	}
	src := env.addSource(t, urls...)

	claimed, err := env.sources.ClaimProcessing(context.Background(), env.clock.Now(), storage.DefaultClaimPolicy())
	require.NoError(t, err)
	require.Equal(t, src.ID, claimed.ID)

	result, err := env.pipeline.ProcessSource(context.Background(), claimed)
	require.NoError(t, err)

	require.NotNil(t, result.BillingErr)
	assert.ErrorIs(t, result.BillingErr, quota.ErrDenied)
	assert.Equal(t, 1, result.Count(ActionIndexed))
	assert.Equal(t, 2, result.Count(ActionSkipped))

	stored := env.source(t, src.ID)
	assert.Equal(t, core.StatusError, stored.Status)
	assert.Contains(t, stored.BillingError, "monthly limit reached")

	assert.Equal(t, core.StatusReady, env.document(t, src, "https://a.test").Status)
	for _, url := range urls[1:] {
		assert.Equal(t, core.StatusPending, env.document(t, src, url).Status, "denied documents are left for a later pass")
		assert.Zero(t, env.fetcher.callCount(url))
	}

	require.Len(t, gate.usage, 1)
	assert.Equal(t, quota.Usage{Type: quota.UsageRAGTokens, Amount: 2}, gate.usage[0])
}

func TestProcessSource_QuotaDenialSkipsDocumentDeletion(t *testing.T) {
	gate := &testGate{allowed: 0}
	env := newTestEnv(t, WithQuotaGate(gate))
	env.fetcher.set("https://a.test", "Hello world")
	src := env.addSource(t, "https://a.test", "https://b.test")
	env.setDocument(t, src, "https://b.test", func(d *core.Document) { d.Status = core.StatusDeleted })

	_, err := env.worker(t).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, core.StatusDeleted, env.document(t, src, "https://b.test").Status)
	assert.Equal(t, core.StatusError, env.source(t, src.ID).Status)
}

func TestProcessSource_CustomerResolutionFailure(t *testing.T) {
	gate := &testGate{allowed: 10, resolveErr: quota.ErrCustomerNotFound}
	env := newTestEnv(t, WithQuotaGate(gate))
	env.fetcher.set("https://a.test", "Hello world")
	src := env.addSource(t, "https://a.test")

	_, err := env.worker(t).RunOnce(context.Background())
	require.NoError(t, err)

	stored := env.source(t, src.ID)
	assert.Equal(t, core.StatusError, stored.Status)
	assert.Contains(t, stored.BillingError, "customer resolution failed")
	assert.Zero(t, env.fetcher.callCount("https://a.test"))
	assert.Equal(t, core.StatusPending, env.document(t, src, "https://a.test").Status)
}

func TestDeleteSource_Cascade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.worker(t)

	env.fetcher.set("https://a.test", "Hello world")
	env.fetcher.set("https://b.test", "Goodbye world")
	src := env.addSource(t, "https://a.test", "https://b.test")
	other := env.addSource(t, "https://a.test")
	drain(t, w)
	require.Equal(t, 2, env.vectors.count(vector.SourceFilter(testProject, src.ID)))

	marked := env.setSource(t, src.ID, func(s *core.Source) {
		s.Status = core.StatusDeleted
		s.Attempts = 0
	})

	worked, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, worked)

	assert.Zero(t, env.vectors.count(vector.SourceFilter(testProject, src.ID)))
	docs, err := env.docs.ListDocuments(ctx, src.ID)
	require.NoError(t, err)
	assert.Empty(t, docs)
	_, err = env.sources.GetSource(ctx, src.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Other sources are untouched.
	assert.Equal(t, 1, env.vectors.count(vector.SourceFilter(testProject, other.ID)))

	// A second cascade on the absent source is a no-op.
	require.NoError(t, env.pipeline.DeleteSource(ctx, marked))
	assert.Zero(t, env.vectors.count(vector.SourceFilter(testProject, src.ID)))

	worked, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestDeleteDocument_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fetcher.set("https://a.test", "Hello world")
	src := env.addSource(t, "https://a.test")
	drain(t, env.worker(t))

	doc := env.document(t, src, "https://a.test")
	require.NoError(t, env.pipeline.DeleteDocument(ctx, src, doc))
	require.NoError(t, env.pipeline.DeleteDocument(ctx, src, doc))

	_, err := env.docs.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, env.vectors.count(vector.DocumentFilter(testProject, src.ID, doc.ID)))
}
