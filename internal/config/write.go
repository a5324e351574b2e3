package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// configFilePermissions is owner read/write only: the file may carry an
// OAuth client secret or a database password.
const configFilePermissions = 0o600

const configDirPermissions = 0o755

// ErrConfigExists is returned by WriteDefault when the target file exists.
var ErrConfigExists = errors.New("config file already exists")

// configTemplate is the file written by "sheetsync config init". Every
// option is present as a commented-out default.
const configTemplate = `# sheetsync configuration

[database]
# "sqlite" (dsn is a file path) or "postgres" (dsn is a postgres:// URL)
# driver = "sqlite"
# dsn = ""

[sheets]
spreadsheet_id = %q
# sheet_name = "Letters"
# Formula argument separator of the spreadsheet locale: ";" or ","
# formula_separator = ";"
# Service-account key; when unset the token from 'sheetsync login' is used
# credentials_file = ""
# token_file = ""
# client_id = ""
# client_secret = ""
# max_retries = 0

[sync]
# bidirectional, export-only or import-only
# mode = "bidirectional"
# interval = "5m"
# run_timeout = "10m"
# deadline_working_days = 10
# Redis lock shared by every host that syncs this spreadsheet
# lock_url = "redis://localhost:6379/0"
# lock_key = "sheetsync:run-lock"
# lock_ttl = "15m"

[logging]
# log_level = "info"
# log_file = ""
# auto, text or json
# log_format = "auto"

[network]
# connect_timeout = "10s"
# data_timeout = "60s"
`

// WriteDefault creates a commented config file at path. It refuses to
// overwrite an existing file.
func WriteDefault(path, spreadsheetID string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	return atomicWriteFile(path, fmt.Appendf(nil, configTemplate, spreadsheetID))
}

// atomicWriteFile writes data to a temp file in the same directory and
// renames it over path, so readers never see a partial file.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
