package config

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaths_XDG(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("XDG variables apply on Linux only")
	}

	cfgHome := t.TempDir()
	dataHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", cfgHome)
	t.Setenv("XDG_DATA_HOME", dataHome)

	assert.Equal(t, filepath.Join(cfgHome, "sheetsync"), DefaultConfigDir())
	assert.Equal(t, filepath.Join(cfgHome, "sheetsync", "config.toml"), DefaultConfigPath())
	assert.Equal(t, filepath.Join(dataHome, "sheetsync"), DefaultDataDir())
	assert.Equal(t, filepath.Join(dataHome, "sheetsync", "sheetsync.pid"), DefaultPIDPath())

	cfg := DefaultConfig()
	assert.Equal(t, filepath.Join(dataHome, "sheetsync", "sheetsync.db"), cfg.Database.DSN)
	assert.Equal(t, filepath.Join(dataHome, "sheetsync", "token.json"), cfg.Sheets.TokenFile)
}

func TestPaths_HomeFallback(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("layout differs per platform")
	}

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")

	assert.Equal(t, filepath.Join(home, ".config", "sheetsync"), DefaultConfigDir())
	assert.Equal(t, filepath.Join(home, ".local", "share", "sheetsync"), DefaultDataDir())
}
