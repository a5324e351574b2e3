package config

import (
	"fmt"
	"io"
	"net/url"
)

const redacted = "xxxxx"

// RenderEffective writes the resolved configuration as an annotated TOML
// summary to w, with secrets redacted. This powers "config show".
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)

	ew.printf("[database]\n")
	ew.printf("driver = %q\n", cfg.Database.Driver)
	ew.printf("dsn    = %q\n\n", RedactURL(cfg.Database.DSN))

	s := &cfg.Sheets
	ew.printf("[sheets]\n")
	ew.printf("spreadsheet_id    = %q\n", s.SpreadsheetID)
	ew.printf("sheet_name        = %q\n", s.SheetName)
	ew.printf("formula_separator = %q\n", s.FormulaSeparator)
	ew.printf("credentials_file  = %q\n", s.CredentialsFile)
	ew.printf("token_file        = %q\n", s.TokenFile)
	ew.printf("client_id         = %q\n", s.ClientID)

	if s.ClientSecret != "" {
		ew.printf("client_secret     = %q\n", redacted)
	}

	ew.printf("max_retries       = %d\n\n", s.MaxRetries)

	y := &cfg.Sync
	ew.printf("[sync]\n")
	ew.printf("mode                  = %q\n", y.Mode)
	ew.printf("interval              = %q\n", y.Interval)
	ew.printf("run_timeout           = %q\n", y.RunTimeout)
	ew.printf("deadline_working_days = %d\n", y.DeadlineWorkingDays)

	if y.LockURL != "" {
		ew.printf("lock_url              = %q\n", RedactURL(y.LockURL))
		ew.printf("lock_key              = %q\n", y.LockKey)
		ew.printf("lock_ttl              = %q\n", y.LockTTL)
	} else {
		ew.printf("# lock_url unset: cycles are not locked across hosts\n")
	}

	ew.printf("\n[logging]\n")
	ew.printf("log_level  = %q\n", cfg.Logging.LogLevel)
	ew.printf("log_file   = %q\n", cfg.Logging.LogFile)
	ew.printf("log_format = %q\n\n", cfg.Logging.LogFormat)

	n := &cfg.Network
	ew.printf("[network]\n")
	ew.printf("connect_timeout = %q\n", n.ConnectTimeout)
	ew.printf("data_timeout    = %q\n", n.DataTimeout)

	if n.UserAgent != "" {
		ew.printf("user_agent      = %q\n", n.UserAgent)
	}

	if n.BaseURL != "" {
		ew.printf("base_url        = %q\n", n.BaseURL)
	}

	return ew.err
}

// RedactURL hides the password of URL-shaped values. Anything else (a
// SQLite file path) is returned unchanged.
func RedactURL(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.User == nil {
		return s
	}

	return u.Redacted()
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
