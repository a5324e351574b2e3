package sheets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/sheetsync/internal/tokenfile"
)

const testTokenJSON = `{
	"access_token": "test-access-token",
	"token_type": "Bearer",
	"refresh_token": "test-refresh-token",
	"expires_in": 3600
}`

// newMockAuthCodeServer serves /authorize (redirecting back with a code and
// the given state, or the request's state when empty) and /token.
func newMockAuthCodeServer(t *testing.T, forcedState string) *oauth2.Endpoint {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("GET /authorize", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "S256", q.Get("code_challenge_method"))
		assert.Equal(t, ScopeSpreadsheets, q.Get("scope"))

		state := q.Get("state")
		if forcedState != "" {
			state = forcedState
		}

		http.Redirect(w, r, q.Get("redirect_uri")+"?code=test-auth-code&state="+url.QueryEscape(state), http.StatusFound)
	})

	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "test-auth-code", r.PostForm.Get("code"))
		assert.NotEmpty(t, r.PostForm.Get("code_verifier"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(testTokenJSON))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &oauth2.Endpoint{
		AuthURL:  srv.URL + "/authorize",
		TokenURL: srv.URL + "/token",
	}
}

// simulateBrowserCallback plays the browser: hits the authorize URL and
// follows its redirect to the loopback callback.
func simulateBrowserCallback(t *testing.T) func(string) error {
	t.Helper()

	client := &http.Client{
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return func(authURL string) error {
		resp, err := client.Get(authURL) //nolint:noctx // test helper
		if err != nil {
			return err
		}
		resp.Body.Close()

		location := resp.Header.Get("Location")
		if location == "" {
			t.Errorf("authorize endpoint did not redirect")
			return nil
		}

		cb, err := http.Get(location) //nolint:noctx // test helper
		if err != nil {
			return err
		}
		cb.Body.Close()

		return nil
	}
}

func testAuthConfig(t *testing.T, tokenPath string, endpoint *oauth2.Endpoint) *oauth2.Config {
	t.Helper()

	cfg := oauthConfig(tokenPath, OAuthClient{ID: "client-1", Secret: "s"}, nil, testLogger(t))
	cfg.Endpoint = *endpoint

	return cfg
}

func TestDoAuthCodeLogin_Success(t *testing.T) {
	t.Parallel()

	tokenPath := filepath.Join(t.TempDir(), "tokens", "user.json")
	cfg := testAuthConfig(t, tokenPath, newMockAuthCodeServer(t, ""))

	ts, err := doAuthCodeLogin(context.Background(), tokenPath, cfg, simulateBrowserCallback(t), testLogger(t))
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "test-access-token", tok)

	saved, meta, err := tokenfile.Load(tokenPath)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "test-refresh-token", saved.RefreshToken)
	assert.Equal(t, "client-1", meta[metaClientID])
}

func TestDoAuthCodeLogin_StateMismatch(t *testing.T) {
	t.Parallel()

	tokenPath := filepath.Join(t.TempDir(), "user.json")
	cfg := testAuthConfig(t, tokenPath, newMockAuthCodeServer(t, "forged"))

	_, err := doAuthCodeLogin(context.Background(), tokenPath, cfg, simulateBrowserCallback(t), testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state mismatch")

	_, statErr := os.Stat(tokenPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDoAuthCodeLogin_ContextCancel(t *testing.T) {
	t.Parallel()

	tokenPath := filepath.Join(t.TempDir(), "user.json")
	cfg := testAuthConfig(t, tokenPath, newMockAuthCodeServer(t, ""))

	ctx, cancel := context.WithCancel(context.Background())

	// The browser never comes back.
	openURL := func(string) error {
		cancel()
		return nil
	}

	_, err := doAuthCodeLogin(ctx, tokenPath, cfg, openURL, testLogger(t))
	require.ErrorIs(t, err, context.Canceled)
}

func TestTokenSourceFromPath_NotLoggedIn(t *testing.T) {
	t.Parallel()

	_, err := TokenSourceFromPath(context.Background(), filepath.Join(t.TempDir(), "missing.json"),
		OAuthClient{}, testLogger(t))
	require.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestTokenSourceFromPath_ValidToken(t *testing.T) {
	t.Parallel()

	tokenPath := filepath.Join(t.TempDir(), "user.json")
	require.NoError(t, tokenfile.Save(tokenPath, &oauth2.Token{
		AccessToken: "still-valid",
		TokenType:   "Bearer",
	}, nil))

	ts, err := TokenSourceFromPath(context.Background(), tokenPath, OAuthClient{ID: "c"}, testLogger(t))
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "still-valid", tok)
}

func TestLogout(t *testing.T) {
	t.Parallel()

	tokenPath := filepath.Join(t.TempDir(), "user.json")
	require.NoError(t, tokenfile.Save(tokenPath, &oauth2.Token{AccessToken: "a"}, nil))

	require.NoError(t, Logout(tokenPath, testLogger(t)))
	_, err := os.Stat(tokenPath)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, Logout(tokenPath, testLogger(t)), "second logout is a no-op")
}

func TestServiceAccountTokenSource_BadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := ServiceAccountTokenSource(context.Background(), filepath.Join(dir, "none.json"), testLogger(t))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("not json"), 0o600))

	_, err = ServiceAccountTokenSource(context.Background(), bad, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing credentials")
}
