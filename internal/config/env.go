package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig        = "SHEETSYNC_CONFIG"
	EnvDatabaseDSN   = "SHEETSYNC_DATABASE_DSN"
	EnvSpreadsheetID = "SHEETSYNC_SPREADSHEET_ID"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath    string // SHEETSYNC_CONFIG: override config file path
	DatabaseDSN   string // SHEETSYNC_DATABASE_DSN: database.dsn override
	SpreadsheetID string // SHEETSYNC_SPREADSHEET_ID: sheets.spreadsheet_id override
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:    os.Getenv(EnvConfig),
		DatabaseDSN:   os.Getenv(EnvDatabaseDSN),
		SpreadsheetID: os.Getenv(EnvSpreadsheetID),
	}
}
