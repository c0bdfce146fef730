// Package browser launches controllable browser instances bound to a profile
// directory and restores or captures their sessions.
package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/shehryarbajwa/session-keeper/pkg/models"
)

// ErrClosed is returned by handle operations after Close
var ErrClosed = errors.New("browser handle is closed")

// Mode reports how a handle's browser is backed
type Mode string

const (
	ModeLocal     Mode = "local"
	ModeDocker    Mode = "docker"
	ModeSimulated Mode = "simulated"
)

// Handle is a live browser bound to exactly one profile. Close is idempotent.
type Handle interface {
	Mode() Mode
	InjectScript(ctx context.Context, source string) error
	Navigate(ctx context.Context, url string) error
	SetCookie(ctx context.Context, cookie models.Cookie) error
	Cookies(ctx context.Context) ([]models.Cookie, error)
	UserAgent(ctx context.Context) (string, error)
	Close() error
}

// LaunchError reports that no browser could be started for a profile
type LaunchError struct {
	ProfileID string
	Err       error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch browser for %s: %v", e.ProfileID, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
