//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/sheetsync/testutil"
)

const (
	envSpreadsheet = "SHEETSYNC_TEST_SPREADSHEET"
	envCredentials = "SHEETSYNC_TEST_CREDENTIALS"
	envSheetName   = "SHEETSYNC_TEST_SHEET"
)

var (
	binaryPath string
	configPath string
)

func TestMain(m *testing.M) {
	root := testutil.FindModuleRoot(".")
	testutil.LoadDotEnv(filepath.Join(root, ".env"))

	spreadsheet, err := testutil.RequireAllowedSpreadsheet(envSpreadsheet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	creds := os.Getenv(envCredentials)
	if creds == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set (path to a service account key)\n", envCredentials)
		os.Exit(1)
	}

	sheetName := os.Getenv(envSheetName)
	if sheetName == "" {
		sheetName = "E2E"
	}

	tmpDir, err := os.MkdirTemp("", "sheetsync-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath = filepath.Join(tmpDir, "sheetsync")

	build := exec.Command("go", "build", "-o", binaryPath, ".")
	build.Dir = root
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr

	if err := build.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building binary: %v\n", err)
		os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	configPath = filepath.Join(tmpDir, "config.toml")

	cfg := fmt.Sprintf(`[database]
dsn = %q

[sheets]
spreadsheet_id = %q
sheet_name = %q
credentials_file = %q

[logging]
log_level = "debug"
log_format = "text"
`, filepath.Join(tmpDir, "e2e.db"), spreadsheet, sheetName, creds)

	if err := os.WriteFile(configPath, []byte(cfg), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "writing config: %v\n", err)
		os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	code := m.Run()

	os.RemoveAll(tmpDir)
	os.Exit(code)
}

func runCLI(t *testing.T, args ...string) (string, string) {
	t.Helper()

	fullArgs := append([]string{"--config", configPath}, args...)
	cmd := exec.Command(binaryPath, fullArgs...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		t.Fatalf("CLI command %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout.String(), stderr.String())
	}

	return stdout.String(), stderr.String()
}

func TestE2E_SyncCycle(t *testing.T) {
	t.Run("first_cycle", func(t *testing.T) {
		stdout, _ := runCLI(t, "sync", "--json")

		var out map[string]any
		require.NoError(t, json.Unmarshal([]byte(stdout), &out))
		assert.Equal(t, "bidirectional", out["mode"])
		assert.Contains(t, out, "export")
		assert.Contains(t, out, "import")
	})

	t.Run("second_cycle_is_quiet", func(t *testing.T) {
		stdout, _ := runCLI(t, "sync", "--json")

		var out struct {
			Export struct {
				Updated  int `json:"updated"`
				Appended int `json:"appended"`
			} `json:"export"`
		}
		require.NoError(t, json.Unmarshal([]byte(stdout), &out))
		assert.Zero(t, out.Export.Appended, "everything was exported by the first cycle")
	})

	t.Run("runs", func(t *testing.T) {
		stdout, _ := runCLI(t, "runs", "--json")

		var runs []map[string]any
		require.NoError(t, json.Unmarshal([]byte(stdout), &runs))
		require.GreaterOrEqual(t, len(runs), 4)

		for _, r := range runs[:4] {
			assert.Equal(t, "COMPLETED", r["status"])
		}
	})

	t.Run("conflicts", func(t *testing.T) {
		stdout, _ := runCLI(t, "conflicts")
		assert.Contains(t, strings.ToLower(stdout), "import")
	})
}
