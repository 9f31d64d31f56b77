package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expensedash/internal/core"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newGateway(t *testing.T, h http.HandlerFunc, tokens TokenSource) *Gateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL + "/", Tokens: tokens})
}

func TestGateway_AttachesBearerToken(t *testing.T) {
	var gotAuth, gotPath string
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Write([]byte(`{"ok":true}`))
	}, staticToken("abc"))

	var out struct{ OK bool }
	require.NoError(t, gw.Get(context.Background(), "/expense/get-expenses/1", &out))
	assert.True(t, out.OK)
	assert.Equal(t, "Bearer abc", gotAuth)
	assert.Equal(t, "/expense/get-expenses/1", gotPath)
}

func TestGateway_NoTokenNoHeader(t *testing.T) {
	var gotAuth string
	var called bool
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		gotAuth = r.Header.Get("Authorization")
	}, staticToken(""))

	require.NoError(t, gw.Post(context.Background(), "auth/login", map[string]string{"a": "b"}, nil))
	assert.True(t, called)
	assert.Empty(t, gotAuth)
}

func TestGateway_SendsJSONBody(t *testing.T) {
	var got map[string]any
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}, nil)

	require.NoError(t, gw.Put(context.Background(), "/expense/edit-expense/3", map[string]any{"amount": 5}, nil))
	assert.Equal(t, float64(5), got["amount"])
}

func TestGateway_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		status   int
		body     string
		wantKind core.Kind
		wantMsg  string
	}{
		{"get 404", http.MethodGet, 404, `{"error":"Expense not found"}`, core.KindNotFound, "Expense not found"},
		{"delete 404", http.MethodDelete, 404, ``, core.KindNotFound, "DELETE /x: 404 Not Found"},
		{"get 401", http.MethodGet, 401, `{"message":"jwt expired"}`, core.KindAuth, "jwt expired"},
		{"put 403", http.MethodPut, 403, `{}`, core.KindAuth, "PUT /x: 403 Forbidden"},
		{"get 500", http.MethodGet, 500, `oops`, core.KindFetch, "GET /x: 500 Internal Server Error"},
		{"post 400", http.MethodPost, 400, `{"error":"amount required"}`, core.KindWrite, "amount required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}, nil)

			var err error
			ctx := context.Background()
			switch tt.method {
			case http.MethodGet:
				err = gw.Get(ctx, "/x", nil)
			case http.MethodPost:
				err = gw.Post(ctx, "/x", map[string]int{}, nil)
			case http.MethodPut:
				err = gw.Put(ctx, "/x", map[string]int{}, nil)
			case http.MethodDelete:
				err = gw.Delete(ctx, "/x", nil)
			}

			require.Error(t, err)
			assert.Equal(t, tt.wantKind, core.KindOf(err))
			assert.Equal(t, tt.wantMsg, core.UserMessage(err))

			var ce *core.Error
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.status, ce.Status)
			assert.NotNil(t, ce.Cause)
		})
	}
}

func TestGateway_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()
	gw := New(Options{BaseURL: base})

	err := gw.Get(context.Background(), "/x", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrFetch)

	err = gw.Delete(context.Background(), "/x", nil)
	assert.ErrorIs(t, err, core.ErrWrite)
}

func TestGateway_UndecodableSuccess(t *testing.T) {
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}, nil)

	var out map[string]any
	err := gw.Get(context.Background(), "/x", &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrFetch)
}
