package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReturnsDefaultsWhenPathEmpty(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "least_busy", cfg.Backend.Pool.Strategy)
}

func TestLoadReturnsDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  auth: supersecrettoken123
queue:
  queueBuffer: 10
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "supersecrettoken123", cfg.Server.Auth)
	assert.Equal(t, 10, cfg.Queue.QueueBuffer)
	// Untouched defaults survive the merge.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [this is not valid: yaml"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsDuplicateInstanceNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend:
  pool:
    instances:
      - name: inst-a
        userDataMark: a
      - name: inst-a
        userDataMark: b
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadAllowsDistinctInstancesThatBothOmitUserDataMark(t *testing.T) {
	// Two Instances with distinct names but no userDataMark resolve to
	// distinct directories ("inst-a", "inst-b") via the Instance name
	// fallback, so this must not be flagged as a duplicate.
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend:
  pool:
    instances:
      - name: inst-a
      - name: inst-b
`), 0o644))

	_, err := Load(path)
	assert.NoError(t, err)
}

func TestLoadRejectsDuplicateUserDataMarks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend:
  pool:
    instances:
      - name: inst-a
        userDataMark: shared
      - name: inst-b
        userDataMark: shared
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnvOverridesPortAndAuth(t *testing.T) {
	t.Setenv("GATEWAY_SERVER_PORT", "7070")
	t.Setenv("GATEWAY_SERVER_AUTH", "env-token-1234567890")

	cfg := Defaults()
	applyEnvOverrides(cfg)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "env-token-1234567890", cfg.Server.Auth)
}

func TestApplyEnvOverridesProxyHostAlsoEnablesProxy(t *testing.T) {
	t.Setenv("GATEWAY_PROXY_HOST", "proxy.internal")

	cfg := Defaults()
	applyEnvOverrides(cfg)

	assert.Equal(t, "proxy.internal", cfg.Browser.Proxy.Host)
	assert.True(t, cfg.Browser.Proxy.Enable)
}

func TestApplyFlagOverridesOnlyAppliesNonZeroValues(t *testing.T) {
	cfg := Defaults()
	ApplyFlagOverrides(cfg, 0, "")
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)

	ApplyFlagOverrides(cfg, 9999, "debug")
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestResolveAuthTokenPrefersEnvOverConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Auth = "from-config-file-1234"

	t.Setenv("GATEWAY_SERVER_AUTH", "from-env-1234567890")
	assert.Equal(t, "from-env-1234567890", ResolveAuthToken(cfg))
}

func TestResolveAuthTokenFallsBackToConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Auth = "from-config-file-1234"
	assert.Equal(t, "from-config-file-1234", ResolveAuthToken(cfg))
}
