package plm

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallcrawler78/arena-sheets-sync/internal/secretstore"
	"github.com/wallcrawler78/arena-sheets-sync/internal/syncerr"
)

func TestSession_Token_CachesWithinTTL(t *testing.T) {
	var logins int
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		logins++
		writeJSON(w, map[string]any{"sessionId": "tok", "workspaceId": "ws-1"})
	})
	_, srv := newTestAPI(t, mux)
	defer srv.Close()

	secrets := newSeededSecrets(srv.URL)
	session := NewSession(secrets, srv.Client(), 0, nil)

	tok1, err := session.Token(t.Context())
	require.NoError(t, err)
	tok2, err := session.Token(t.Context())
	require.NoError(t, err)
	assert.Equal(t, tok1, tok2)
	assert.Equal(t, 1, logins)
}

// Login response must carry both session token and workspace id; a
// mismatched workspace id fails with WorkspaceMismatch (spec.md §4.1).
func TestSession_Token_WorkspaceMismatchFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"sessionId": "tok", "workspaceId": "some-other-workspace"})
	})
	_, srv := newTestAPI(t, mux)
	defer srv.Close()

	secrets := newSeededSecrets(srv.URL) // seeds workspace id "ws-1"
	session := NewSession(secrets, srv.Client(), 0, nil)

	_, err := session.Token(t.Context())
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindWorkspaceMismatch))
}

func TestSession_Token_MissingCredentialsFailsConfiguration(t *testing.T) {
	session := NewSession(secretstore.NewMemory(), http.DefaultClient, 0, nil)
	_, err := session.Token(t.Context())
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindConfiguration))
}

func TestSession_Invalidate_ForcesReauthentication(t *testing.T) {
	var logins int
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		logins++
		writeJSON(w, map[string]any{"sessionId": "tok", "workspaceId": "ws-1"})
	})
	_, srv := newTestAPI(t, mux)
	defer srv.Close()

	secrets := newSeededSecrets(srv.URL)
	session := NewSession(secrets, srv.Client(), 0, nil)
	_, err := session.Token(t.Context())
	require.NoError(t, err)
	session.Invalidate()
	assert.False(t, session.Active())
	_, err = session.Token(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, logins)
}

func TestSession_Logout_BestEffortIgnoresErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", loginHandler)
	// No /logout handler registered: the server 404s, which Logout must
	// swallow rather than propagate (spec.md §4.1).
	_, srv := newTestAPI(t, mux)
	defer srv.Close()

	secrets := newSeededSecrets(srv.URL)
	session := NewSession(secrets, srv.Client(), 0, nil)
	_, err := session.Token(t.Context())
	require.NoError(t, err)

	session.Logout(t.Context())
	assert.False(t, session.Active())
}
