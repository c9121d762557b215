package badger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDocument(sourceID, url string) *core.Document {
	return &core.Document{
		ID:        core.DocumentID(sourceID, url),
		SourceID:  sourceID,
		ProjectID: "proj-1",
		Name:      url,
		Status:    core.StatusPending,
	}
}

func TestAddDocuments_KeepsExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.Documents().AddDocuments(ctx, newDocument("src-1", "https://a.test"))
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, int64(1), added[0].Version)

	added[0].Status = core.StatusReady
	added[0].Content = "body"
	applied, err := store.Documents().UpdateDocument(ctx, added[0])
	require.NoError(t, err)
	require.True(t, applied)

	again, err := store.Documents().AddDocuments(ctx,
		newDocument("src-1", "https://a.test"),
		newDocument("src-1", "https://b.test"),
	)
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.Equal(t, core.StatusReady, again[0].Status)
	assert.Equal(t, "body", again[0].Content)
	assert.Equal(t, core.StatusPending, again[1].Status)
}

func TestListDocuments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC().Truncate(time.Microsecond)

	var docs []*core.Document
	for i := range 3 {
		doc := newDocument("src-1", fmt.Sprintf("https://a.test/%d", i))
		doc.CreatedAt = t0.Add(time.Duration(i) * time.Second)
		if i == 1 {
			doc.Status = core.StatusDeleted
		}
		docs = append(docs, doc)
	}
	docs = append(docs, newDocument("src-2", "https://other.test"))

	_, err := store.Documents().AddDocuments(ctx, docs...)
	require.NoError(t, err)

	all, err := store.Documents().ListDocuments(ctx, "src-1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "https://a.test/0", all[0].Name)
	assert.Equal(t, "https://a.test/2", all[2].Name)

	deleted, err := store.Documents().ListDocuments(ctx, "src-1", core.StatusDeleted)
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, "https://a.test/1", deleted[0].Name)

	active, err := store.Documents().ListDocuments(ctx, "src-1", core.StatusPending, core.StatusReady, core.StatusError)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	none, err := store.Documents().ListDocuments(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdateDocument_VersionGuard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.Documents().AddDocuments(ctx, newDocument("src-1", "https://a.test"))
	require.NoError(t, err)
	doc := added[0]
	stale := doc.Clone()

	doc.Status = core.StatusReady
	applied, err := store.Documents().UpdateDocument(ctx, doc)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(2), doc.Version)

	stale.Status = core.StatusError
	applied, err = store.Documents().UpdateDocument(ctx, stale)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := store.Documents().GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusReady, got.Status)
}

func TestDeleteDocument_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.Documents().AddDocuments(ctx, newDocument("src-1", "https://a.test"))
	require.NoError(t, err)

	require.NoError(t, store.Documents().DeleteDocument(ctx, added[0].ID))
	require.NoError(t, store.Documents().DeleteDocument(ctx, added[0].ID))

	_, err = store.Documents().GetDocument(ctx, added[0].ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	docs, err := store.Documents().ListDocuments(ctx, "src-1")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDeleteSourceDocuments_Batches(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var docs []*core.Document
	for i := range deleteBatchSize + 10 {
		docs = append(docs, newDocument("src-1", fmt.Sprintf("https://a.test/%d", i)))
	}
	_, err := store.Documents().AddDocuments(ctx, docs...)
	require.NoError(t, err)
	_, err = store.Documents().AddDocuments(ctx, newDocument("src-2", "https://keep.test"))
	require.NoError(t, err)

	removed, err := store.Documents().DeleteSourceDocuments(ctx, "src-1")
	require.NoError(t, err)
	assert.Equal(t, deleteBatchSize+10, removed)

	removed, err = store.Documents().DeleteSourceDocuments(ctx, "src-1")
	require.NoError(t, err)
	assert.Zero(t, removed)

	kept, err := store.Documents().ListDocuments(ctx, "src-2")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestAddDocuments_BatchKeepsInsertionOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var docs []*core.Document
	var want []string
	for i := range 20 {
		url := fmt.Sprintf("https://a.test/%02d", i)
		docs = append(docs, newDocument("src-1", url))
		want = append(want, url)
	}
	_, err := store.Documents().AddDocuments(ctx, docs...)
	require.NoError(t, err)

	listed, err := store.Documents().ListDocuments(ctx, "src-1")
	require.NoError(t, err)
	var got []string
	for _, doc := range listed {
		got = append(got, doc.Name)
	}
	assert.Equal(t, want, got)
}
