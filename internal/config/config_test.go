package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.Addr)
	assert.Equal(t, BackendLocal, cfg.Backend)
	assert.Equal(t, 2, cfg.Retries)
	assert.Equal(t, 3*time.Second, cfg.RetryDelay)
	assert.Equal(t, 30*time.Second, cfg.LoginWait)
	assert.True(t, cfg.SimulatedFallback)
	assert.Empty(t, cfg.GateURL)
	assert.False(t, cfg.TrustProxy)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("SK_ADDR", ":9000")
	t.Setenv("SK_BACKEND", "docker")
	t.Setenv("SK_RETRIES", "4")
	t.Setenv("SK_LOGIN_WAIT", "45s")
	t.Setenv("SK_SIMULATED_FALLBACK", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, BackendDocker, cfg.Backend)
	assert.Equal(t, 4, cfg.Retries)
	assert.Equal(t, 45*time.Second, cfg.LoginWait)
	assert.False(t, cfg.SimulatedFallback)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SK_GATE_URL=https://gate.example.com/check\nSK_ADDR=:7000\n"), 0o644))

	// godotenv never overrides variables that are already set
	t.Setenv("SK_ADDR", ":8000")
	t.Setenv("SK_GATE_URL", "")
	os.Unsetenv("SK_GATE_URL")
	t.Cleanup(func() { os.Unsetenv("SK_GATE_URL") })

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://gate.example.com/check", cfg.GateURL)
	assert.Equal(t, ":8000", cfg.Addr)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("SK_BACKEND", "kubernetes")
	_, err := Load("")
	assert.ErrorContains(t, err, "invalid backend")

	t.Setenv("SK_BACKEND", "local")
	t.Setenv("SK_RETRIES", "many")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Config{Backend: BackendLocal, VerifyPerHour: 10, DBPath: "a.db", ProfilesDir: "p"}
	assert.NoError(t, cfg.Validate())

	cfg.Retries = -1
	assert.Error(t, cfg.Validate())
}
