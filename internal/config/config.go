// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for sheetsync. Values resolve through a
// four-layer chain: defaults -> config file -> environment -> CLI flags.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Sheets   SheetsConfig   `toml:"sheets"`
	Sync     SyncConfig     `toml:"sync"`
	Logging  LoggingConfig  `toml:"logging"`
	Network  NetworkConfig  `toml:"network"`
}

// DatabaseConfig selects the letters database. DSN is a file path for
// sqlite and a postgres:// URL for postgres.
type DatabaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// SheetsConfig identifies the tracking spreadsheet and how to authenticate
// against it. CredentialsFile (a service-account key) takes precedence over
// the user token saved by "sheetsync login".
type SheetsConfig struct {
	SpreadsheetID    string `toml:"spreadsheet_id"`
	SheetName        string `toml:"sheet_name"`
	FormulaSeparator string `toml:"formula_separator"`
	CredentialsFile  string `toml:"credentials_file"`
	TokenFile        string `toml:"token_file"`
	ClientID         string `toml:"client_id"`
	ClientSecret     string `toml:"client_secret"`
	MaxRetries       int    `toml:"max_retries"`
}

// SyncConfig controls the reconciliation cycle and the daemon schedule.
type SyncConfig struct {
	Mode                string `toml:"mode"`
	Interval            string `toml:"interval"`
	RunTimeout          string `toml:"run_timeout"`
	DeadlineWorkingDays int    `toml:"deadline_working_days"`
	LockURL             string `toml:"lock_url"`
	LockKey             string `toml:"lock_key"`
	LockTTL             string `toml:"lock_ttl"`
}

// LoggingConfig controls log output: level, destination and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls the Sheets HTTP client.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
	BaseURL        string `toml:"base_url"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish "not
// specified" (nil) from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath    string  // --config flag (empty = use default)
	SpreadsheetID *string // --spreadsheet flag
	SheetName     *string // --sheet flag
}
