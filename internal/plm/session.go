package plm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/wallcrawler78/arena-sheets-sync/internal/resilience"
	"github.com/wallcrawler78/arena-sheets-sync/internal/secretstore"
	"github.com/wallcrawler78/arena-sheets-sync/internal/syncerr"
)

// sessionState is the cached (token, acquisition time) pair, held by the
// Session Manager per spec.md §4.1.
type sessionState struct {
	token      string
	acquiredAt time.Time
}

// Session manages authentication against the PLM: it caches a session
// token with a TTL and re-authenticates transparently. Credentials come
// from a secretstore.Store, never from process configuration directly
// (spec.md §6).
type Session struct {
	secrets     secretstore.Store
	httpClient  *http.Client
	apiBase     string
	workspaceID string
	ttl         time.Duration
	logger      *slog.Logger

	mu    sync.Mutex
	state *sessionState
}

// NewSession constructs a Session Manager. ttl defaults to 6h per
// spec.md §4.1 when zero.
func NewSession(secrets secretstore.Store, httpClient *http.Client, ttl time.Duration, logger *slog.Logger) *Session {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{secrets: secrets, httpClient: httpClient, ttl: ttl, logger: logger}
}

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	WorkspaceID string `json:"workspaceId"`
}

type loginResponse struct {
	SessionID   string `json:"sessionId"`
	WorkspaceID string `json:"workspaceId"`
}

// Token returns a valid session token, re-authenticating if the cached
// one is absent or stale. Safe for concurrent callers; re-authentication
// is single-flight under mu.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != nil && time.Since(s.state.acquiredAt) < s.ttl {
		return s.state.token, nil
	}
	return s.authenticateLocked(ctx)
}

// Active reports whether a cached token exists and hasn't aged past its
// TTL, without triggering re-authentication the way Token does. Used by
// the status endpoint (SPEC_FULL.md §3) to report session state cheaply.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != nil && time.Since(s.state.acquiredAt) < s.ttl
}

// Invalidate clears the cached token so the next Token() call
// re-authenticates. Used by the HTTP client's single 401 retry.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
}

// Reauthenticate forces a fresh login regardless of TTL freshness.
func (s *Session) Reauthenticate(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticateLocked(ctx)
}

func (s *Session) authenticateLocked(ctx context.Context) (string, error) {
	creds, err := secretstore.LoadCredentials(ctx, s.secrets)
	if err != nil {
		return "", syncerr.Wrap(syncerr.KindConfiguration, "loading PLM credentials", err)
	}
	s.apiBase = strings.TrimRight(creds.APIBase, "/")
	s.workspaceID = creds.WorkspaceID

	body, err := json.Marshal(loginRequest{
		Email:       creds.Email,
		Password:    creds.Password,
		WorkspaceID: creds.WorkspaceID,
	})
	if err != nil {
		return "", syncerr.Wrap(syncerr.KindTransport, "encoding login request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBase+"/login", strings.NewReader(string(body)))
	if err != nil {
		return "", syncerr.Wrap(syncerr.KindTransport, "building login request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", syncerr.Wrap(syncerr.KindTransport, "login request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := extractErrorMessage(resp)
		return "", syncerr.New(syncerr.KindConfiguration, fmt.Sprintf("login failed: %s", msg)).WithStatus(resp.StatusCode)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", syncerr.Wrap(syncerr.KindTransport, "decoding login response", err)
	}
	if lr.SessionID == "" {
		return "", syncerr.New(syncerr.KindTransport, "login response carried no session id")
	}
	if lr.WorkspaceID != "" && lr.WorkspaceID != s.workspaceID {
		return "", syncerr.New(syncerr.KindWorkspaceMismatch,
			fmt.Sprintf("login returned workspace %q, configured workspace is %q", lr.WorkspaceID, s.workspaceID))
	}

	s.state = &sessionState{token: lr.SessionID, acquiredAt: time.Now()}
	_ = s.secrets.Set(ctx, secretstore.KeySessionToken, lr.SessionID)
	s.logger.Info("plm session acquired", "workspace_id", s.workspaceID)
	return lr.SessionID, nil
}

// Logout clears the cached session and performs a best-effort server
// logout; failures are logged, not raised (spec.md §4.1).
func (s *Session) Logout(ctx context.Context) {
	s.mu.Lock()
	token := ""
	if s.state != nil {
		token = s.state.token
	}
	s.state = nil
	base := s.apiBase
	s.mu.Unlock()

	_ = s.secrets.Delete(ctx, secretstore.KeySessionToken)
	if token == "" || base == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/logout", nil)
	if err != nil {
		s.logger.Warn("logout request build failed", "error", err)
		return
	}
	req.Header.Set(SessionHeader, token)

	policy := resilience.SingleRetryPolicy(time.Second, resilience.AlwaysRetry{})
	policy.Logger = s.logger
	err = resilience.WithRetry(ctx, policy, func() error {
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
	if err != nil {
		s.logger.Warn("logout request failed", "error", err)
	}
}

// APIBase returns the configured API base URL, available only after the
// first successful authentication populated it from secrets.
func (s *Session) APIBase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiBase
}
