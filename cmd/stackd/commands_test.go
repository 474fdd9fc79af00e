package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, manifestContent string) *Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stackd.yaml"), []byte(manifestContent), 0o644))

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	cfg.Stack.Project = "blog"
	cfg.Stack.Dir = dir
	cfg.Ledger.DSN = filepath.Join(dir, "data", "stackd.db")
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Up Validation Tests
// =============================================================================

func TestCmdUp_PortConflictIsConfigError(t *testing.T) {
	clearEnv(t)
	cfg := testConfig(t, `services:
  a:
    image: nginx:1.27
    ports:
      - "8080:80"
  b:
    image: nginx:1.27
    ports:
      - "8080:81"
`)

	code := cmdUp(cfg, discardLogger(), nil)
	assert.Equal(t, ExitConfigError, code)

	// Rejected before any resource work: the ledger was never created.
	_, err := os.Stat(cfg.Ledger.DSN)
	assert.True(t, os.IsNotExist(err))
}

func TestCmdUp_CyclicDependencyIsConfigError(t *testing.T) {
	clearEnv(t)
	cfg := testConfig(t, `services:
  backend:
    image: backend:latest
    depends_on:
      - cache
  cache:
    image: redis:7
    depends_on:
      - backend
`)

	code := cmdUp(cfg, discardLogger(), nil)
	assert.Equal(t, ExitConfigError, code)
}

func TestCmdUp_UnknownDependencyIsConfigError(t *testing.T) {
	clearEnv(t)
	cfg := testConfig(t, `services:
  backend:
    image: backend:latest
    depends_on:
      - ghost
`)

	code := cmdUp(cfg, discardLogger(), nil)
	assert.Equal(t, ExitConfigError, code)
}
