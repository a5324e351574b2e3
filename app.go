package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tonimelisma/sheetsync/internal/config"
	"github.com/tonimelisma/sheetsync/internal/runlock"
	"github.com/tonimelisma/sheetsync/internal/sheets"
	"github.com/tonimelisma/sheetsync/internal/store"
	"github.com/tonimelisma/sheetsync/internal/sync"
)

// idleConnTimeout keeps pooled Sheets connections warm between cycles.
const idleConnTimeout = 90 * time.Second

// app bundles the resources one sync cycle needs. close releases all of
// them.
type app struct {
	store  *store.Store
	engine *sync.Engine
	locker *runlock.RedisLocker // nil when sync.lock_url is unset
}

func (a *app) close(logger *slog.Logger) {
	if a.locker != nil {
		if err := a.locker.Close(); err != nil {
			logger.Warn("closing run lock client", slog.String("error", err.Error()))
		}
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("closing store", slog.String("error", err.Error()))
		}
	}
}

// openStore opens the configured letters database.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	return store.Open(ctx, store.Options{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
	}, logger)
}

// newApp wires the store, the Sheets client, the optional run lock and the
// engine from one config snapshot.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := cfg.RequireSpreadsheet(); err != nil {
		return nil, err
	}

	token, err := tokenSource(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{store: st}

	client := sheets.NewClient(sheets.Options{
		BaseURL:       cfg.Network.BaseURL,
		SpreadsheetID: cfg.Sheets.SpreadsheetID,
		HTTPClient:    newHTTPClient(&cfg.Network),
		Token:         token,
		Logger:        logger,
		UserAgent:     userAgent(&cfg.Network),
		MaxRetries:    cfg.Sheets.MaxRetries,
	})

	var lock sync.Locker = runlock.Noop{}

	if cfg.Sync.LockURL != "" {
		l, lockErr := runlock.New(ctx, runlock.Options{
			URL:    cfg.Sync.LockURL,
			Key:    cfg.Sync.LockKey,
			TTL:    cfg.Sync.LockTTLDuration(),
			Logger: logger,
		})
		if lockErr != nil {
			a.close(logger)
			return nil, lockErr
		}

		a.locker = l
		lock = l
	}

	engine, err := sync.NewEngine(&sync.EngineConfig{
		Letters:             st,
		Directory:           st,
		Ledger:              st,
		Sheet:               client,
		Lock:                lock,
		SheetName:           cfg.Sheets.SheetName,
		FormulaSeparator:    cfg.Sheets.FormulaSeparator,
		DeadlineWorkingDays: cfg.Sync.DeadlineWorkingDays,
		Logger:              logger,
	})
	if err != nil {
		a.close(logger)
		return nil, err
	}

	a.engine = engine

	return a, nil
}

// tokenSource prefers a service-account key and falls back to the token
// saved by "sheetsync login".
func tokenSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sheets.TokenSource, error) {
	if cfg.Sheets.CredentialsFile != "" {
		return sheets.ServiceAccountTokenSource(ctx, cfg.Sheets.CredentialsFile, logger)
	}

	ts, err := sheets.TokenSourceFromPath(ctx, cfg.Sheets.TokenFile, oauthClient(cfg), logger)
	if errors.Is(err, sheets.ErrNotLoggedIn) {
		return nil, fmt.Errorf("no credentials: set sheets.credentials_file or run 'sheetsync login': %w", err)
	}

	return ts, err
}

func oauthClient(cfg *config.Config) sheets.OAuthClient {
	return sheets.OAuthClient{ID: cfg.Sheets.ClientID, Secret: cfg.Sheets.ClientSecret}
}

// newHTTPClient applies the network timeouts: connect_timeout bounds
// dialing and TLS, data_timeout bounds a whole request.
func newHTTPClient(n *config.NetworkConfig) *http.Client {
	connect := n.ConnectTimeoutDuration()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connect}).DialContext
	transport.TLSHandshakeTimeout = connect
	transport.IdleConnTimeout = idleConnTimeout

	return &http.Client{
		Transport: transport,
		Timeout:   n.DataTimeoutDuration(),
	}
}

func userAgent(n *config.NetworkConfig) string {
	if n.UserAgent != "" {
		return n.UserAgent
	}

	return "sheetsync/" + version
}

// syncMode maps sync.mode onto the engine's mode.
func syncMode(s string) sync.SyncMode {
	switch s {
	case config.ModeExportOnly:
		return sync.SyncExportOnly
	case config.ModeImportOnly:
		return sync.SyncImportOnly
	default:
		return sync.SyncBidirectional
	}
}
