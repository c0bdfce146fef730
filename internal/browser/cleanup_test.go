package browser

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingCleaner struct{ calls int }

func (c *countingCleaner) ForceCleanup(ctx context.Context) { c.calls++ }

func TestProcessKillerTargetsProfilesRoot(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses powershell on windows")
	}

	k := NewProcessKiller("/var/lib/profiles", zap.NewNop())
	var gotName string
	var gotArgs []string
	k.exec = func(ctx context.Context, name string, args ...string) error {
		gotName, gotArgs = name, args
		return errors.New("pkill: not found")
	}

	k.ForceCleanup(context.Background())
	assert.Equal(t, "pkill", gotName)
	assert.Equal(t, []string{"-f", "--", "/var/lib/profiles"}, gotArgs)
}

func TestProcessKillerWindowsStaysInsideRoot(t *testing.T) {
	k := NewProcessKiller(`C:\Users\op's\profiles`, zap.NewNop())

	name, args := k.commandFor("windows")
	assert.Equal(t, "powershell", name)
	require.Len(t, args, 4)
	script := args[3]

	assert.Contains(t, script, `Contains('C:\Users\op''s\profiles')`)
	assert.Contains(t, script, "Name='chrome.exe'")
	assert.NotContains(t, script, "taskkill")

	name, args = k.commandFor("linux")
	assert.Equal(t, "pkill", name)
	assert.Equal(t, []string{"-f", "--", `C:\Users\op's\profiles`}, args)
}

func TestCleanersRunAll(t *testing.T) {
	a, b := &countingCleaner{}, &countingCleaner{}
	Cleaners{a, b}.ForceCleanup(context.Background())
	Cleaners{a, b}.ForceCleanup(context.Background())
	assert.Equal(t, 2, a.calls)
	assert.Equal(t, 2, b.calls)
}
