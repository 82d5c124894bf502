package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/oauth2"
)

func staticCreds(token string) *Credentials {
	return NewCredentials(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
}

func TestDirectGetDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/families/fam-1/docs/templates", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Write([]byte(`{"templates":[]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	d, err := NewDirect(srv.URL, "fam-1", staticCreds("tok-1"), zaptest.NewLogger(t))
	require.NoError(t, err)

	b, err := d.GetDocument(context.Background(), DocTemplates)
	require.NoError(t, err)
	assert.JSONEq(t, `{"templates":[]}`, string(b))
}

func TestDirectPutDocument(t *testing.T) {
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		got, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d, err := NewDirect(srv.URL, "fam-1", staticCreds("tok-1"), zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, d.PutDocument(context.Background(), DocInstances, []byte(`{"chores":[]}`)))
	assert.JSONEq(t, `{"chores":[]}`, string(got))
}

func TestDirectClassifiesStatuses(t *testing.T) {
	status := http.StatusUnauthorized
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	d, err := NewDirect(srv.URL, "fam-1", staticCreds("tok-1"), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = d.GetDocument(context.Background(), DocTemplates)
	assert.ErrorIs(t, err, ErrUnauthorized)

	status = http.StatusNotFound
	_, err = d.GetDocument(context.Background(), DocTemplates)
	assert.ErrorIs(t, err, ErrNotFound)

	status = http.StatusInternalServerError
	_, err = d.GetDocument(context.Background(), DocTemplates)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestDirectNoTokenIsUnauthorized(t *testing.T) {
	d, err := NewDirect("http://example.invalid", "fam-1", NewCredentials(nil), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = d.GetDocument(context.Background(), DocTemplates)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestGatewayGetData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req gatewayRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, actionGetData, req.Action)
		assert.Equal(t, "fam-1", req.FamilyID)
		assert.Equal(t, DocInstances, req.Type)

		json.NewEncoder(w).Encode(gatewayResponse{ //nolint:errcheck
			OK:   true,
			Data: json.RawMessage(`{"chores":[]}`),
		})
	}))
	defer srv.Close()

	g, err := NewGateway(srv.URL, "fam-1", zaptest.NewLogger(t))
	require.NoError(t, err)

	b, err := g.GetDocument(context.Background(), DocInstances)
	require.NoError(t, err)
	assert.JSONEq(t, `{"chores":[]}`, string(b))
}

func TestGatewaySaveData(t *testing.T) {
	var seen gatewayRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&seen)              //nolint:errcheck
		json.NewEncoder(w).Encode(gatewayResponse{OK: true}) //nolint:errcheck
	}))
	defer srv.Close()

	g, err := NewGateway(srv.URL, "fam-1", zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, g.PutDocument(context.Background(), DocTemplates, []byte(`{"templates":[]}`)))
	assert.Equal(t, actionSaveData, seen.Action)
	assert.Equal(t, DocTemplates, seen.Type)
	assert.JSONEq(t, `{"templates":[]}`, string(seen.Payload))
}

func TestGatewayAuthRequiredMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(gatewayResponse{ //nolint:errcheck
			OK:    false,
			Error: "AUTH_REQUIRED:https://consent.example/start|Grant access to the family folder",
		})
	}))
	defer srv.Close()

	g, err := NewGateway(srv.URL, "fam-1", zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = g.GetDocument(context.Background(), DocInstances)
	require.Error(t, err)

	var are *AuthRequiredError
	require.ErrorAs(t, err, &are)
	assert.Equal(t, "https://consent.example/start", are.URL)
	assert.Equal(t, "Grant access to the family folder", are.Reason)
	assert.True(t, IsAuthRequired(err))
}

func TestGatewayErrorIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(gatewayResponse{OK: false, Error: "script exploded"}) //nolint:errcheck
	}))
	defer srv.Close()

	g, err := NewGateway(srv.URL, "fam-1", zaptest.NewLogger(t))
	require.NoError(t, err)

	err = g.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script exploded")
}

func TestCredentialsForcedRefreshDedup(t *testing.T) {
	src := &fakeTokenSource{}
	c := NewCredentials(src)

	tok1, err := c.ForceRefresh(context.Background())
	require.NoError(t, err)
	tok2, err := c.ForceRefresh(context.Background())
	require.NoError(t, err)

	// The second forced refresh inside the dedup window reuses the
	// token minted by the first; no redundant grant.
	assert.Equal(t, tok1, tok2)
	assert.Equal(t, 1, src.issued)
}
