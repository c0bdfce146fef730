// Package queue sequences a roster of profiles through the browser, one at a
// time: save and close the current profile, move on, launch the next.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/session-keeper/internal/browser"
	"github.com/shehryarbajwa/session-keeper/pkg/models"
)

// ErrBusy is returned when a step or reset is already running
var ErrBusy = errors.New("another queue step is in progress")

// Launcher starts a browser for a profile
type Launcher interface {
	Launch(ctx context.Context, profileID, proxy string) (browser.Handle, error)
}

// SessionSaver persists a profile's session
type SessionSaver interface {
	Save(ctx context.Context, profileID, userAgent string, cookies []models.Cookie) bool
}

const (
	defaultRetries    = 2
	defaultRetryDelay = 3 * time.Second
)

// Controller owns the roster, the cursor and the single active browser
type Controller struct {
	launcher   Launcher
	store      SessionSaver
	cleaner    browser.Cleaner
	logger     *zap.Logger
	retries    int
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	newRunID   func() string

	// step admits one Advance, Reset or Shutdown at a time
	step *semaphore.Weighted

	mu            sync.RWMutex
	profiles      []models.Profile
	cursor        int
	active        browser.Handle
	transitioning bool
	runID         string
}

// Option configures a Controller
type Option func(*Controller)

// WithRetries sets how many extra launch attempts a profile gets and the
// fixed delay between them.
func WithRetries(retries int, delay time.Duration) Option {
	return func(c *Controller) {
		c.retries = retries
		c.retryDelay = delay
	}
}

// WithCleaner sets the safety-net cleanup run after every close
func WithCleaner(cleaner browser.Cleaner) Option {
	return func(c *Controller) { c.cleaner = cleaner }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// New creates an idle controller with an empty roster
func New(launcher Launcher, store SessionSaver, opts ...Option) *Controller {
	c := &Controller{
		launcher:   launcher,
		store:      store,
		cleaner:    browser.Cleaners{},
		logger:     zap.NewNop(),
		retries:    defaultRetries,
		retryDelay: defaultRetryDelay,
		sleep:      sleepContext,
		newRunID:   func() string { return uuid.New().String() },
		step:       semaphore.NewWeighted(1),
		cursor:     -1,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("queue")
	return c
}

// Reset replaces the roster and rewinds the cursor. A browser that is still
// open is saved and closed first. It returns the new run id.
func (c *Controller) Reset(ctx context.Context, profiles []models.Profile) (string, error) {
	if !c.step.TryAcquire(1) {
		return "", ErrBusy
	}
	defer c.step.Release(1)

	c.finishActive(ctx)

	roster := make([]models.Profile, len(profiles))
	copy(roster, profiles)

	c.mu.Lock()
	c.profiles = roster
	c.cursor = -1
	c.active = nil
	c.runID = c.newRunID()
	runID := c.runID
	c.mu.Unlock()

	c.logger.Info("queue reset", zap.String("run_id", runID), zap.Int("profiles", len(roster)))
	return runID, nil
}

// Profiles returns a copy of the current roster
func (c *Controller) Profiles() []models.Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Profile, len(c.profiles))
	copy(out, c.profiles)
	return out
}

// Advance finishes the current profile and starts the next one. The only
// error is ErrBusy; launch failures come back as a StepFailed result.
func (c *Controller) Advance(ctx context.Context) (models.StepResult, error) {
	if !c.step.TryAcquire(1) {
		return models.StepResult{}, ErrBusy
	}
	defer c.step.Release(1)

	c.setTransitioning(true)
	defer c.setTransitioning(false)

	c.finishActive(ctx)

	c.mu.Lock()
	if c.cursor < len(c.profiles) {
		c.cursor++
	}
	cursor, total, runID := c.cursor, len(c.profiles), c.runID
	c.mu.Unlock()

	logger := c.logger.With(zap.String("run_id", runID))

	if cursor >= total {
		logger.Info("all profiles processed", zap.Int("total", total))
		return models.StepResult{
			Kind:    models.StepComplete,
			RunID:   runID,
			Total:   total,
			Message: "All profiles processed",
		}, nil
	}

	profile := c.profiles[cursor]
	logger = logger.With(zap.String("profile_id", profile.ProfileID))
	logger.Info(fmt.Sprintf("starting profile %d/%d", cursor+1, total), zap.String("proxy", proxyLabel(profile.Proxy)))

	h, err := c.launchWithRetry(ctx, profile, logger)
	if err != nil {
		attempts := c.retries + 1
		logger.Error("giving up on profile", zap.Int("attempts", attempts), zap.Error(err))
		return models.StepResult{
			Kind:             models.StepFailed,
			RunID:            runID,
			Profile:          &profile,
			Current:          cursor + 1,
			Total:            total,
			Error:            err.Error(),
			HasMoreAfterThis: cursor < total-1,
			Message:          fmt.Sprintf("Failed to launch browser for %s after %d attempts", profile.ProfileID, attempts),
		}, nil
	}

	c.mu.Lock()
	c.active = h
	c.mu.Unlock()

	return models.StepResult{
		Kind:    models.StepStarted,
		RunID:   runID,
		Profile: &profile,
		Current: cursor + 1,
		Total:   total,
		Message: fmt.Sprintf("Started profile %s", profile.ProfileID),
	}, nil
}

func (c *Controller) launchWithRetry(ctx context.Context, profile models.Profile, logger *zap.Logger) (browser.Handle, error) {
	attempts := c.retries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		logger.Info(fmt.Sprintf("launching browser (attempt %d/%d)", attempt, attempts))

		h, err := c.launcher.Launch(ctx, profile.ProfileID, profile.Proxy)
		if err == nil {
			return h, nil
		}
		lastErr = err
		logger.Warn("launch failed", zap.Int("attempt", attempt), zap.Error(err))

		if attempt < attempts {
			logger.Info("retrying launch", zap.Duration("delay", c.retryDelay))
			if err := c.sleep(ctx, c.retryDelay); err != nil {
				return nil, err
			}
		}
	}

	return nil, lastErr
}

// finishActive saves the active profile's session, closes its browser and
// runs the cleanup safety net. Nothing here can stop the queue from moving on.
func (c *Controller) finishActive(ctx context.Context) {
	c.mu.RLock()
	h := c.active
	var profile models.Profile
	if h != nil && c.cursor >= 0 && c.cursor < len(c.profiles) {
		profile = c.profiles[c.cursor]
	}
	c.mu.RUnlock()

	if h == nil {
		return
	}

	logger := c.logger.With(zap.String("profile_id", profile.ProfileID))

	c.saveSession(ctx, h, profile.ProfileID, logger)

	logger.Info("closing browser")
	if err := closeHandle(h); err != nil {
		logger.Warn("failed to close browser", zap.Error(err))
	}

	c.cleaner.ForceCleanup(ctx)

	c.mu.Lock()
	c.active = nil
	c.mu.Unlock()
}

func (c *Controller) saveSession(ctx context.Context, h browser.Handle, profileID string, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while saving session", zap.Any("panic", r))
		}
	}()

	if profileID == "" {
		return
	}

	logger.Info("saving current session")
	cookies, err := h.Cookies(ctx)
	if err != nil {
		logger.Warn("could not read cookies, session not saved", zap.Error(err))
		return
	}

	userAgent, err := h.UserAgent(ctx)
	if err != nil {
		logger.Warn("could not read user agent", zap.Error(err))
	}

	if !c.store.Save(ctx, profileID, userAgent, cookies) {
		logger.Warn("could not save session")
	}
}

func closeHandle(h browser.Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while closing browser: %v", r)
		}
	}()
	return h.Close()
}

// Shutdown closes any active browser and runs cleanup. If a step is still
// running when ctx expires, the browser is closed without saving.
func (c *Controller) Shutdown(ctx context.Context) {
	if err := c.step.Acquire(ctx, 1); err == nil {
		c.finishActive(ctx)
		c.step.Release(1)
	} else {
		c.mu.RLock()
		h := c.active
		c.mu.RUnlock()
		if h != nil {
			c.logger.Warn("step still running at shutdown, closing browser without saving")
			if err := closeHandle(h); err != nil {
				c.logger.Warn("failed to close browser", zap.Error(err))
			}
		}
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.cleaner.ForceCleanup(cleanupCtx)
}

// Status returns a snapshot of the queue
func (c *Controller) Status() models.QueueStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := models.QueueStatus{
		RunID:    c.runID,
		Cursor:   c.cursor,
		Total:    len(c.profiles),
		Profiles: make([]models.Profile, len(c.profiles)),
	}
	copy(status.Profiles, c.profiles)

	switch {
	case c.transitioning:
		status.State = models.QueueTransitioning
	case c.cursor < 0:
		status.State = models.QueueIdle
	case c.cursor >= len(c.profiles):
		status.State = models.QueueExhausted
	case c.active != nil:
		status.State = models.QueueActive
	default:
		status.State = models.QueueFailed
	}

	if c.active != nil && c.cursor >= 0 && c.cursor < len(c.profiles) {
		p := c.profiles[c.cursor]
		status.ActiveProfile = &p
		status.BrowserMode = string(c.active.Mode())
	}

	return status
}

func (c *Controller) setTransitioning(v bool) {
	c.mu.Lock()
	c.transitioning = v
	c.mu.Unlock()
}

func proxyLabel(proxy string) string {
	if proxy == "" {
		return "none"
	}
	if p, err := browser.ParseProxy(proxy); err == nil && p != nil {
		return p.String()
	}
	return "invalid"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
