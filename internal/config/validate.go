package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validation bounds.
const (
	minInterval       = 30 * time.Second
	minRunTimeout     = 10 * time.Second
	minLockTTL        = 30 * time.Second
	minConnectTimeout = 1 * time.Second
	minDataTimeout    = 5 * time.Second
	maxDeadlineDays   = 365
	maxMaxRetries     = 10
)

// ErrNoSpreadsheet is returned by RequireSpreadsheet when no spreadsheet
// id is configured.
var ErrNoSpreadsheet = errors.New("sheets.spreadsheet_id is not set (config file, " +
	EnvSpreadsheetID + " or --spreadsheet)")

// Validate checks every field and returns all problems at once, joined.
// A missing spreadsheet id is not an error here: commands that never touch
// the sheet (runs, config show) work without one.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateSheets(&cfg.Sheets)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

// RequireSpreadsheet reports whether the config names a spreadsheet.
func (c *Config) RequireSpreadsheet() error {
	if strings.TrimSpace(c.Sheets.SpreadsheetID) == "" {
		return ErrNoSpreadsheet
	}

	return nil
}

func validateDatabase(d *DatabaseConfig) []error {
	var errs []error

	switch d.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver: must be \"sqlite\" or \"postgres\", got %q", d.Driver))
	}

	if strings.TrimSpace(d.DSN) == "" {
		errs = append(errs, errors.New("database.dsn: must not be empty"))
	}

	if d.Driver == "postgres" && d.DSN != "" {
		u, err := url.Parse(d.DSN)
		if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			errs = append(errs, errors.New("database.dsn: postgres driver needs a postgres:// URL"))
		}
	}

	return errs
}

func validateSheets(s *SheetsConfig) []error {
	var errs []error

	if strings.TrimSpace(s.SheetName) == "" {
		errs = append(errs, errors.New("sheets.sheet_name: must not be empty"))
	}

	if s.FormulaSeparator != ";" && s.FormulaSeparator != "," {
		errs = append(errs, fmt.Errorf("sheets.formula_separator: must be \";\" or \",\", got %q",
			s.FormulaSeparator))
	}

	if s.MaxRetries < 0 || s.MaxRetries > maxMaxRetries {
		errs = append(errs, fmt.Errorf("sheets.max_retries: must be between 0 and %d, got %d",
			maxMaxRetries, s.MaxRetries))
	}

	if s.CredentialsFile == "" && s.TokenFile == "" {
		errs = append(errs, errors.New("sheets: one of credentials_file or token_file must be set"))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	switch s.Mode {
	case ModeBidirectional, ModeExportOnly, ModeImportOnly:
	default:
		errs = append(errs, fmt.Errorf("sync.mode: must be one of %s, %s, %s; got %q",
			ModeBidirectional, ModeExportOnly, ModeImportOnly, s.Mode))
	}

	errs = append(errs, validateDurationMin("sync.interval", s.Interval, minInterval)...)
	errs = append(errs, validateDurationMin("sync.run_timeout", s.RunTimeout, minRunTimeout)...)
	errs = append(errs, validateDurationMin("sync.lock_ttl", s.LockTTL, minLockTTL)...)

	if s.DeadlineWorkingDays < 1 || s.DeadlineWorkingDays > maxDeadlineDays {
		errs = append(errs, fmt.Errorf("sync.deadline_working_days: must be between 1 and %d, got %d",
			maxDeadlineDays, s.DeadlineWorkingDays))
	}

	if s.LockURL != "" {
		u, err := url.Parse(s.LockURL)
		if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			errs = append(errs, errors.New("sync.lock_url: must be a redis:// or rediss:// URL"))
		}
	}

	if s.LockURL != "" && strings.TrimSpace(s.LockKey) == "" {
		errs = append(errs, errors.New("sync.lock_key: must not be empty when lock_url is set"))
	}

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q",
			l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q",
			l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("network.connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("network.data_timeout", n.DataTimeout, minDataTimeout)...)

	if n.BaseURL != "" {
		if u, err := url.Parse(n.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("network.base_url: not an absolute URL: %q", n.BaseURL))
		}
	}

	return errs
}

// Duration accessors. They assume a validated Config and fall back to the
// default when a value does not parse.

// IntervalDuration returns sync.interval.
func (s *SyncConfig) IntervalDuration() time.Duration {
	return parseDurationOr(s.Interval, defaultInterval)
}

// RunTimeoutDuration returns sync.run_timeout.
func (s *SyncConfig) RunTimeoutDuration() time.Duration {
	return parseDurationOr(s.RunTimeout, defaultRunTimeout)
}

// LockTTLDuration returns sync.lock_ttl.
func (s *SyncConfig) LockTTLDuration() time.Duration {
	return parseDurationOr(s.LockTTL, defaultLockTTL)
}

// ConnectTimeoutDuration returns network.connect_timeout.
func (n *NetworkConfig) ConnectTimeoutDuration() time.Duration {
	return parseDurationOr(n.ConnectTimeout, defaultConnectTimeout)
}

// DataTimeoutDuration returns network.data_timeout.
func (n *NetworkConfig) DataTimeoutDuration() time.Duration {
	return parseDurationOr(n.DataTimeout, defaultDataTimeout)
}

func parseDurationOr(value, fallback string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}

	d, _ := time.ParseDuration(fallback)

	return d
}
