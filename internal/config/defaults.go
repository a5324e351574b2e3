package config

import "path/filepath"

// Default values for configuration options. These are chosen to be safe
// for a single-host deployment against a local SQLite database.
const (
	defaultDriver           = "sqlite"
	defaultSheetName        = "Letters"
	defaultFormulaSeparator = ";"
	defaultMaxRetries       = 0
	defaultMode             = ModeBidirectional
	defaultInterval         = "5m"
	defaultRunTimeout       = "10m"
	defaultDeadlineDays     = 10
	defaultLockKey          = "sheetsync:run-lock"
	defaultLockTTL          = "15m"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultConnectTimeout   = "10s"
	defaultDataTimeout      = "60s"

	databaseFileName = "sheetsync.db"
	tokenFileName    = "token.json"
)

// Sync modes accepted by sync.mode.
const (
	ModeBidirectional = "bidirectional"
	ModeExportOnly    = "export-only"
	ModeImportOnly    = "import-only"
)

// DefaultConfig returns a Config populated with all default values. Paths
// that depend on the platform data directory are left empty when the home
// directory cannot be determined.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: defaultDriver,
			DSN:    dataPath(databaseFileName),
		},
		Sheets: SheetsConfig{
			SheetName:        defaultSheetName,
			FormulaSeparator: defaultFormulaSeparator,
			TokenFile:        dataPath(tokenFileName),
			MaxRetries:       defaultMaxRetries,
		},
		Sync: SyncConfig{
			Mode:                defaultMode,
			Interval:            defaultInterval,
			RunTimeout:          defaultRunTimeout,
			DeadlineWorkingDays: defaultDeadlineDays,
			LockKey:             defaultLockKey,
			LockTTL:             defaultLockTTL,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
		},
	}
}

func dataPath(name string) string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}
