package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultServerAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultRequestTimeout, cfg.Front.RequestTimeout)
	assert.Equal(t, 1, cfg.Front.EvalConcurrency)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: 0.0.0.0:9000
front:
  server_url: http://blind:9000
  request_timeout: 30s
log:
  level: debug
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, DefaultServerArtifact, cfg.Server.ArtifactPath)
	assert.Equal(t, "http://blind:9000", cfg.Front.ServerURL)
	assert.Equal(t, 30*time.Second, cfg.Front.RequestTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("front:\n  eval_concurrency: 0\n"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestPassphraseFromEnv(t *testing.T) {
	cfg := DefaultConfig().Front
	cfg.PassphraseEnv = "FHECREDIT_TEST_PASSPHRASE"

	t.Setenv("FHECREDIT_TEST_PASSPHRASE", "")
	assert.Nil(t, cfg.Passphrase())

	t.Setenv("FHECREDIT_TEST_PASSPHRASE", "hunter2")
	assert.Equal(t, []byte("hunter2"), cfg.Passphrase())
}
