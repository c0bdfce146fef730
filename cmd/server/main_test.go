package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/session-keeper/internal/config"
	"github.com/shehryarbajwa/session-keeper/internal/store"
	"github.com/shehryarbajwa/session-keeper/pkg/models"
)

func TestStepBudget(t *testing.T) {
	c := &config.Config{
		Retries:        2,
		RetryDelay:     3 * time.Second,
		StartupTimeout: 30 * time.Second,
		LoginWait:      30 * time.Second,
		OpTimeout:      60 * time.Second,
	}
	assert.Equal(t, 3*120*time.Second+6*time.Second+time.Minute, stepBudget(c))
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--env-file", ""))
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestProfilesCommands(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sessions.db")
	t.Setenv("SK_DB_PATH", dbPath)
	t.Setenv("SK_PROFILES_DIR", filepath.Join(dir, "profiles"))

	st, err := store.Open(dbPath, zap.NewNop())
	require.NoError(t, err)
	require.True(t, st.Save(context.Background(), "alice", "UA", []models.Cookie{{Name: "SID", Value: "1"}}))
	require.NoError(t, st.Close())

	out := execute(t, "profiles", "list")
	assert.Contains(t, out, "PROFILE")
	assert.Contains(t, out, "alice")

	out = execute(t, "profiles", "delete", "alice", "--purge")
	assert.Contains(t, out, "Profile alice deleted")

	out = execute(t, "profiles", "list")
	assert.NotContains(t, out, "alice")

	out = execute(t, "db", "check")
	assert.Contains(t, out, "profile_id")
	assert.Contains(t, out, "profiles: 0")
}
