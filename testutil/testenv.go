// Package testutil provides shared environment helpers for E2E tests. It
// depends only on stdlib so that E2E tests (which cannot import internal/)
// can use it.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvAllowedSpreadsheets lists the spreadsheet ids E2E runs may write to.
const EnvAllowedSpreadsheets = "SHEETSYNC_ALLOWED_TEST_SPREADSHEETS"

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// RequireAllowedSpreadsheet returns the spreadsheet id in idEnvVar, or an
// error when it is unset or not named in the allowlist. E2E tests rewrite
// whole sheets, so a typo must never reach a production spreadsheet.
func RequireAllowedSpreadsheet(idEnvVar string) (string, error) {
	allowlist := os.Getenv(EnvAllowedSpreadsheets)
	if allowlist == "" {
		return "", fmt.Errorf("%s not set (example: %s=1AbC...)", EnvAllowedSpreadsheets, EnvAllowedSpreadsheets)
	}

	id := os.Getenv(idEnvVar)
	if id == "" {
		return "", fmt.Errorf("%s not set", idEnvVar)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.TrimSpace(a) == id {
			return id, nil
		}
	}

	return "", fmt.Errorf("%s=%q is not in %s", idEnvVar, id, EnvAllowedSpreadsheets)
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}
