package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	query  string
	apiKey string
	body   map[string]any
}

func newServer(t *testing.T, status int, calls *[]recorded) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		*calls = append(*calls, recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			apiKey: r.Header.Get("api-key"),
			body:   body,
		})
		w.WriteHeader(status)
		w.Write([]byte(`{"status":"ok","time":0.001,"result":{"operation_id":1,"status":"completed"}}`))
	}))
}

func TestUpsert(t *testing.T) {
	var calls []recorded
	srv := newServer(t, http.StatusOK, &calls)
	defer srv.Close()

	client, err := New(srv.URL, "docs", WithAPIKey("secret"))
	require.NoError(t, err)

	err = client.Upsert(context.Background(), []core.EmbeddingPoint{{
		ID:      "9b2b6a8e-0000-4000-8000-000000000001",
		Vector:  []float32{0.5, 0.25},
		Payload: core.Payload{ProjectID: "p", SourceID: "s", DocID: "d", Content: "text", Title: "T", Name: "https://a.test"},
	}})
	require.NoError(t, err)

	require.Len(t, calls, 1)
	call := calls[0]
	assert.Equal(t, http.MethodPut, call.method)
	assert.Equal(t, "/collections/docs/points", call.path)
	assert.Equal(t, "wait=true", call.query)
	assert.Equal(t, "secret", call.apiKey)

	points := call.body["points"].([]any)
	require.Len(t, points, 1)
	p := points[0].(map[string]any)
	assert.Equal(t, "9b2b6a8e-0000-4000-8000-000000000001", p["id"])
	payload := p["payload"].(map[string]any)
	assert.Equal(t, "p", payload["projectId"])
	assert.Equal(t, "s", payload["sourceId"])
	assert.Equal(t, "d", payload["docId"])
	assert.Equal(t, "text", payload["content"])
}

func TestDelete(t *testing.T) {
	var calls []recorded
	srv := newServer(t, http.StatusOK, &calls)
	defer srv.Close()

	client, err := New(srv.URL, "docs")
	require.NoError(t, err)

	require.NoError(t, client.Delete(context.Background(), vector.DocumentFilter("p", "s", "d")))

	require.Len(t, calls, 1)
	call := calls[0]
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, "/collections/docs/points/delete", call.path)
	assert.Empty(t, call.apiKey)

	must := call.body["filter"].(map[string]any)["must"].([]any)
	require.Len(t, must, 3)
	first := must[0].(map[string]any)
	assert.Equal(t, "projectId", first["key"])
	assert.Equal(t, map[string]any{"value": "p"}, first["match"])
	assert.Equal(t, "docId", must[2].(map[string]any)["key"])
}

func TestDelete_RequiresScope(t *testing.T) {
	client, err := New("http://127.0.0.1:1", "docs")
	require.NoError(t, err)

	err = client.Delete(context.Background(), vector.Filter{ProjectID: "p"})
	assert.ErrorIs(t, err, vector.ErrUnscopedFilter)
}

func TestErrorStatus(t *testing.T) {
	var calls []recorded
	srv := newServer(t, http.StatusBadRequest, &calls)
	defer srv.Close()

	client, err := New(srv.URL, "docs")
	require.NoError(t, err)

	err = client.Delete(context.Background(), vector.SourceFilter("p", "s"))
	assert.ErrorContains(t, err, "status 400")
}

func TestNew_Invalid(t *testing.T) {
	_, err := New("not a url", "docs")
	assert.Error(t, err)

	_, err = New("http://localhost:6333", "")
	assert.Error(t, err)
}
