package quota

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabled(t *testing.T) {
	gate := Disabled()
	ctx := context.Background()

	assert.False(t, gate.Enabled())
	id, err := gate.ResolveCustomer(ctx, "proj-1")
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.NoError(t, gate.Authorize(ctx, "", Request{Type: RequestProcessRAG}))
	assert.NoError(t, gate.LogUsage(ctx, "", Usage{Type: UsageRAGTokens, Amount: 10}))
}

func TestDeniedError(t *testing.T) {
	err := error(&DeniedError{Reason: "monthly limit reached"})
	assert.ErrorIs(t, err, ErrDenied)
	assert.Equal(t, "quota denied: monthly limit reached", err.Error())

	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, "monthly limit reached", denied.Reason)
}

type billingServer struct {
	authorizeStatus int
	usage           []Usage
}

func (b *billingServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /customers/resolve", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req["projectId"] == "unknown" {
			http.Error(w, `{"error":"no customer"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"customerId": "cus_" + req["projectId"]})
	})
	mux.HandleFunc("POST /customers/{id}/authorize", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cus_proj-1", r.PathValue("id"))
		assert.Equal(t, "Bearer billing-key", r.Header.Get("Authorization"))
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, RequestProcessRAG, req.Type)
		if b.authorizeStatus != 0 {
			w.WriteHeader(b.authorizeStatus)
			w.Write([]byte(`{"message":"monthly limit reached"}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("POST /customers/{id}/usage", func(w http.ResponseWriter, r *http.Request) {
		var u Usage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&u))
		b.usage = append(b.usage, u)
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func TestClient(t *testing.T) {
	billing := &billingServer{}
	srv := httptest.NewServer(billing.handler(t))
	defer srv.Close()

	client, err := NewClient(srv.URL, WithAPIKey("billing-key"))
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, client.Enabled())

	customer, err := client.ResolveCustomer(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "cus_proj-1", customer)

	_, err = client.ResolveCustomer(ctx, "unknown")
	assert.ErrorIs(t, err, ErrCustomerNotFound)

	require.NoError(t, client.Authorize(ctx, customer, Request{Type: RequestProcessRAG}))

	require.NoError(t, client.LogUsage(ctx, customer, Usage{Type: UsageRAGTokens, Amount: 42}))
	assert.Equal(t, []Usage{{Type: UsageRAGTokens, Amount: 42}}, billing.usage)
}

func TestClient_Denied(t *testing.T) {
	for _, status := range []int{http.StatusPaymentRequired, http.StatusForbidden} {
		billing := &billingServer{authorizeStatus: status}
		srv := httptest.NewServer(billing.handler(t))

		client, err := NewClient(srv.URL, WithAPIKey("billing-key"))
		require.NoError(t, err)

		err = client.Authorize(context.Background(), "cus_proj-1", Request{Type: RequestProcessRAG})
		assert.ErrorIs(t, err, ErrDenied)
		assert.ErrorContains(t, err, "monthly limit reached")
		srv.Close()
	}
}

func TestClient_ServerErrorIsNotDenial(t *testing.T) {
	billing := &billingServer{authorizeStatus: http.StatusInternalServerError}
	srv := httptest.NewServer(billing.handler(t))
	defer srv.Close()

	client, err := NewClient(srv.URL, WithAPIKey("billing-key"))
	require.NoError(t, err)

	err = client.Authorize(context.Background(), "cus_proj-1", Request{Type: RequestProcessRAG})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDenied)
}
