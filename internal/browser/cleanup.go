package browser

import (
	"context"
	"os/exec"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// Cleaner forcibly removes browser leftovers. It is a safety net that runs
// after every orderly Close and on shutdown, and must be safe to repeat.
type Cleaner interface {
	ForceCleanup(ctx context.Context)
}

// Cleaners runs several cleaners in order
type Cleaners []Cleaner

func (c Cleaners) ForceCleanup(ctx context.Context) {
	for _, cleaner := range c {
		cleaner.ForceCleanup(ctx)
	}
}

// ProcessKiller kills Chrome processes whose command line mentions the
// profiles root, so browsers the operator started by hand survive.
type ProcessKiller struct {
	pattern string
	logger  *zap.Logger
	exec    func(ctx context.Context, name string, args ...string) error
}

// NewProcessKiller targets processes started with a user-data-dir under root
func NewProcessKiller(root string, logger *zap.Logger) *ProcessKiller {
	return &ProcessKiller{
		pattern: root,
		logger:  logger.Named("cleanup"),
		exec: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

func (k *ProcessKiller) ForceCleanup(ctx context.Context) {
	name, args := k.command()
	err := k.exec(ctx, name, args...)
	if err == nil {
		k.logger.Info("killed lingering browser processes")
		return
	}

	// pkill exits 1 when nothing matched
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return
	}
	k.logger.Debug("browser process cleanup did not run", zap.String("command", name), zap.Error(err))
}

func (k *ProcessKiller) command() (string, []string) {
	return k.commandFor(runtime.GOOS)
}

func (k *ProcessKiller) commandFor(goos string) (string, []string) {
	if goos == "windows" {
		// Match on the command line the same way pkill -f does
		root := strings.ReplaceAll(k.pattern, "'", "''")
		script := "Get-CimInstance Win32_Process -Filter \"Name='chrome.exe'\" | " +
			"Where-Object { $_.CommandLine -and $_.CommandLine.Contains('" + root + "') } | " +
			"ForEach-Object { Stop-Process -Id $_.ProcessId -Force -ErrorAction SilentlyContinue }"
		return "powershell", []string{"-NoProfile", "-NonInteractive", "-Command", script}
	}
	return "pkill", []string{"-f", "--", k.pattern}
}
