package sheets

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/tonimelisma/sheetsync/internal/tokenfile"
)

// ScopeSpreadsheets grants read/write access to spreadsheets.
const ScopeSpreadsheets = "https://www.googleapis.com/auth/spreadsheets"

// OAuthClient identifies the installed-app OAuth client used for user login.
type OAuthClient struct {
	ID     string
	Secret string
}

// token file metadata keys.
const (
	metaClientID = "client_id"
	metaScope    = "scope"
)

const stateTokenBytes = 16

const callbackPath = "/"

// shutdownTimeout bounds the callback server drain.
const shutdownTimeout = 5 * time.Second

type callbackResult struct {
	code string
	err  error
}

// ServiceAccountTokenSource builds a TokenSource from a service-account (or
// any Google credentials) JSON key file.
func ServiceAccountTokenSource(ctx context.Context, credentialsPath string, logger *slog.Logger) (TokenSource, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("sheets: reading credentials %s: %w", credentialsPath, err)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, ScopeSpreadsheets)
	if err != nil {
		return nil, fmt.Errorf("sheets: parsing credentials %s: %w", credentialsPath, err)
	}

	logger.Info("using service account credentials", slog.String("path", credentialsPath))

	return &tokenBridge{src: creds.TokenSource, logger: logger}, nil
}

// LoginWithBrowser runs the authorization code + PKCE flow against Google
// on a loopback listener, saves the token at tokenPath and returns a
// TokenSource. openURL launches the browser; on failure the URL is printed
// to stderr instead.
func LoginWithBrowser(
	ctx context.Context,
	tokenPath string,
	client OAuthClient,
	openURL func(string) error,
	logger *slog.Logger,
) (TokenSource, error) {
	cfg := oauthConfig(tokenPath, client, nil, logger)

	return doAuthCodeLogin(ctx, tokenPath, cfg, openURL, logger)
}

// doAuthCodeLogin takes a pre-built config so tests can point it at a fake
// authorization server.
func doAuthCodeLogin(
	ctx context.Context,
	tokenPath string,
	cfg *oauth2.Config,
	openURL func(string) error,
	logger *slog.Logger,
) (TokenSource, error) {
	logger.Info("starting browser auth flow", slog.String("path", tokenPath))

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, resultCh, logger)
	if err != nil {
		return nil, err
	}

	defer shutdownCallbackServer(srv, logger)

	cfg.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d", port)

	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("sheets: generating state token: %w", err)
	}

	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})

	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)

	logger.Info("opening browser for authorization")

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL", slog.String("error", openErr.Error()))
		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}

	var code string

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}

		code = res.code
	case <-ctx.Done():
		return nil, fmt.Errorf("sheets: browser auth canceled: %w", ctx.Err())
	}

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("sheets: token exchange failed: %w", err)
	}

	meta := map[string]string{metaClientID: cfg.ClientID, metaScope: ScopeSpreadsheets}
	if saveErr := tokenfile.Save(tokenPath, tok, meta); saveErr != nil {
		return nil, fmt.Errorf("sheets: saving token: %w", saveErr)
	}

	logger.Info("browser login successful",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
	)

	return &tokenBridge{src: cfg.TokenSource(ctx, tok), logger: logger}, nil
}

func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("sheets: binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, fmt.Errorf("sheets: listener address is not TCP")
	}

	logger.Info("callback server listening", slog.Int("port", tcpAddr.Port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			resultCh <- callbackResult{err: fmt.Errorf("sheets: callback server error: %w", serveErr)}
		}
	}()

	return srv, tcpAddr.Port, nil
}

func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	query := r.URL.Query()

	if query.Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("sheets: OAuth2 state mismatch")}

		return
	}

	if errParam := query.Get("error"); errParam != "" {
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("sheets: authorization failed: %s", errParam)}

		return
	}

	code := query.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("sheets: callback missing authorization code")}

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	resultCh <- callbackResult{code: code}
}

func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

// TokenSourceFromPath loads a saved user token and returns a TokenSource
// that refreshes silently and persists refreshed tokens back to tokenPath.
// Returns ErrNotLoggedIn if no token file exists.
//
// ctx must outlive the TokenSource; refreshes use it.
func TokenSourceFromPath(ctx context.Context, tokenPath string, client OAuthClient, logger *slog.Logger) (TokenSource, error) {
	tok, meta, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, ErrNotLoggedIn
	}

	if id := meta[metaClientID]; id != "" && client.ID != "" && id != client.ID {
		logger.Warn("token was issued to a different OAuth client",
			slog.String("path", tokenPath),
			slog.String("token_client", id),
		)
	}

	logger.Info("loaded saved token",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
		slog.Bool("expired", !tok.Expiry.IsZero() && tok.Expiry.Before(time.Now())),
	)

	cfg := oauthConfig(tokenPath, client, meta, logger)

	return &tokenBridge{src: cfg.TokenSource(ctx, tok), logger: logger}, nil
}

// Logout removes the saved token file. A missing file is not an error.
func Logout(tokenPath string, logger *slog.Logger) error {
	err := os.Remove(tokenPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("logout: no token file to remove", slog.String("path", tokenPath))
		return nil
	}

	if err != nil {
		return fmt.Errorf("sheets: removing token %s: %w", tokenPath, err)
	}

	logger.Info("logout: removed token file", slog.String("path", tokenPath))

	return nil
}

// oauthConfig persists every silent refresh through OnTokenChange; meta is
// carried along so it survives refreshes.
func oauthConfig(tokenPath string, client OAuthClient, meta map[string]string, logger *slog.Logger) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     client.ID,
		ClientSecret: client.Secret,
		Scopes:       []string{ScopeSpreadsheets},
		Endpoint:     google.Endpoint,
		OnTokenChange: func(tok *oauth2.Token) {
			if err := tokenfile.Save(tokenPath, tok, meta); err != nil {
				logger.Warn("failed to persist refreshed token",
					slog.String("path", tokenPath),
					slog.String("error", err.Error()),
				)

				return
			}

			logger.Info("persisted refreshed token",
				slog.String("path", tokenPath),
				slog.Time("new_expiry", tok.Expiry),
			)
		},
	}
}

// tokenBridge adapts oauth2.TokenSource to sheets.TokenSource.
type tokenBridge struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("sheets: obtaining token: %w", err)
	}

	b.logger.Debug("token acquired", slog.Time("expiry", t.Expiry))

	return t.AccessToken, nil
}
