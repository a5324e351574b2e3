package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatch_FiresOnRewrite(t *testing.T) {
	t.Parallel()

	path := writeTestConfig(t, "[sheets]\n")
	changed := make(chan struct{}, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- Watch(ctx, path, func() { changed <- struct{}{} }, nil)
	}()

	// Keep rewriting until the watcher is up and reports the change.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	seen := false
	for !seen {
		select {
		case <-changed:
			seen = true
		case <-tick.C:
			require.NoError(t, atomicWriteFile(path, []byte("[sheets]\nsheet_name = \"X\"\n")))
		case <-deadline:
			require.FailNow(t, "no change notification")
		}
	}

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "watcher did not stop")
	}
}

func TestWatch_IgnoresSiblings(t *testing.T) {
	t.Parallel()

	path := writeTestConfig(t, "")
	changed := make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = Watch(ctx, path, func() { changed <- struct{}{} }, nil)
	}()

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.txt"), []byte("x"), 0o600))

	select {
	case <-changed:
		require.FailNow(t, "sibling write triggered a reload")
	case <-time.After(3 * watchDebounce):
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	t.Parallel()

	err := Watch(context.Background(), filepath.Join(t.TempDir(), "gone", "config.toml"), func() {}, nil)
	require.Error(t, err)
}
