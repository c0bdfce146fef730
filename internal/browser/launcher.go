package browser

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/session-keeper/pkg/models"
)

// SessionStore is the part of the session store the launcher needs
type SessionStore interface {
	Load(ctx context.Context, profileID string) (string, []models.Cookie)
	Save(ctx context.Context, profileID, userAgent string, cookies []models.Cookie) bool
}

// DirResolver maps a profile to its on-disk directory, creating it if absent
type DirResolver interface {
	Resolve(profileID string) (string, error)
}

// Config holds the launcher's fixed URLs and timings
type Config struct {
	// AccountRootURL is visited before restoring cookies so they can be set
	// on its domain.
	AccountRootURL string
	// TargetURL is the authenticated page opened after restoring cookies
	TargetURL string
	// LoginURL is opened for profiles without a stored session
	LoginURL string
	// LoginWait is how long the operator has to log in by hand
	LoginWait time.Duration
	Viewport  Viewport
	// FallbackToSimulated swaps in a SimulatedBrowser when no real browser
	// can be acquired.
	FallbackToSimulated bool
}

// DefaultConfig mirrors the Google account flow
func DefaultConfig() Config {
	return Config{
		AccountRootURL:      "https://accounts.google.com/",
		TargetURL:           "https://mail.google.com/",
		LoginURL:            "https://accounts.google.com/signup",
		LoginWait:           30 * time.Second,
		Viewport:            DefaultViewport,
		FallbackToSimulated: true,
	}
}

// Launcher produces ready-to-use handles for profiles
type Launcher struct {
	cfg      Config
	store    SessionStore
	dirs     DirResolver
	acquirer Acquirer
	logger   *zap.Logger

	pickUserAgent func() string
	sleep         func(ctx context.Context, d time.Duration) error
}

// NewLauncher wires a launcher
func NewLauncher(cfg Config, store SessionStore, dirs DirResolver, acquirer Acquirer, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Viewport == (Viewport{}) {
		cfg.Viewport = DefaultViewport
	}
	return &Launcher{
		cfg:           cfg,
		store:         store,
		dirs:          dirs,
		acquirer:      acquirer,
		logger:        logger.Named("launcher"),
		pickUserAgent: RandomUserAgent,
		sleep:         sleepContext,
	}
}

// Launch starts a browser for profileID and either restores its stored
// session or waits for a manual login and saves the result. Only failure to
// obtain any browser at all is returned, as a *LaunchError.
func (l *Launcher) Launch(ctx context.Context, profileID, proxy string) (Handle, error) {
	logger := l.logger.With(zap.String("profile_id", profileID))
	logger.Info("launching browser")

	dir, err := l.dirs.Resolve(profileID)
	if err != nil {
		return nil, &LaunchError{ProfileID: profileID, Err: err}
	}

	parsedProxy, err := ParseProxy(proxy)
	if err != nil {
		return nil, &LaunchError{ProfileID: profileID, Err: err}
	}
	if parsedProxy != nil {
		logger.Info("using proxy", zap.Stringer("proxy", parsedProxy))
	} else {
		logger.Info("no proxy set")
	}

	userAgent, cookies := l.store.Load(ctx, profileID)
	if userAgent == "" {
		userAgent = l.pickUserAgent()
		logger.Debug("generated user agent", zap.String("user_agent", userAgent))
	}

	h, err := l.acquirer.Acquire(ctx, AcquireOptions{
		ProfileID:  profileID,
		ProfileDir: dir,
		UserAgent:  userAgent,
		Proxy:      parsedProxy,
		Viewport:   l.cfg.Viewport,
	})
	if err != nil {
		if !l.cfg.FallbackToSimulated || ctx.Err() != nil {
			return nil, &LaunchError{ProfileID: profileID, Err: err}
		}
		logger.Warn("could not start a real browser, falling back to simulated mode", zap.Error(err))
		h = NewSimulated(userAgent, logger.Named("simulated"))
	}
	logger = logger.With(zap.String("mode", string(h.Mode())))

	if err := h.InjectScript(ctx, StealthJS); err != nil {
		logger.Warn("failed to inject stealth script", zap.Error(err))
	}

	if len(cookies) > 0 {
		l.restore(ctx, h, cookies, logger)
	} else if err := l.freshLogin(ctx, h, profileID, userAgent, logger); err != nil {
		if closeErr := h.Close(); closeErr != nil {
			logger.Debug("failed to close browser", zap.Error(closeErr))
		}
		return nil, &LaunchError{ProfileID: profileID, Err: err}
	}

	logger.Info("browser ready")
	return h, nil
}

func (l *Launcher) restore(ctx context.Context, h Handle, cookies []models.Cookie, logger *zap.Logger) {
	logger.Info("restoring session", zap.Int("cookies", len(cookies)))

	if err := h.Navigate(ctx, l.cfg.AccountRootURL); err != nil {
		logger.Warn("failed to open account root", zap.Error(err))
	}

	restored := 0
	for _, c := range cookies {
		if err := h.SetCookie(ctx, sanitizeCookie(c)); err != nil {
			logger.Warn("failed to set cookie", zap.String("cookie", c.Name), zap.String("domain", c.Domain), zap.Error(err))
			continue
		}
		restored++
	}
	logger.Info("cookies restored", zap.Int("restored", restored), zap.Int("skipped", len(cookies)-restored))

	if err := h.Navigate(ctx, l.cfg.TargetURL); err != nil {
		logger.Warn("failed to open target page", zap.Error(err))
	}
}

// freshLogin only fails when ctx is cancelled during the login window
func (l *Launcher) freshLogin(ctx context.Context, h Handle, profileID, userAgent string, logger *zap.Logger) error {
	logger.Info("no stored cookies, opening login page", zap.String("url", l.cfg.LoginURL))
	if err := h.Navigate(ctx, l.cfg.LoginURL); err != nil {
		logger.Warn("failed to open login page", zap.Error(err))
	}

	logger.Info("waiting for manual login", zap.Duration("wait", l.cfg.LoginWait))
	if err := l.sleep(ctx, l.cfg.LoginWait); err != nil {
		return err
	}

	cookies, err := h.Cookies(ctx)
	if err != nil {
		logger.Warn("failed to capture cookies after login", zap.Error(err))
		return nil
	}

	if !l.store.Save(ctx, profileID, userAgent, cookies) {
		logger.Warn("could not save new session")
	}
	return nil
}

// sanitizeCookie drops SameSite values Chrome would reject
func sanitizeCookie(c models.Cookie) models.Cookie {
	switch strings.ToLower(c.SameSite) {
	case "strict":
		c.SameSite = "Strict"
	case "lax":
		c.SameSite = "Lax"
	case "none":
		if c.Secure {
			c.SameSite = "None"
		} else {
			c.SameSite = ""
		}
	default:
		c.SameSite = ""
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
