package browser

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// AcquireOptions describes the browser a launch needs
type AcquireOptions struct {
	ProfileID  string
	ProfileDir string
	UserAgent  string
	Proxy      *Proxy
	Viewport   Viewport
}

// Acquirer starts a fully-featured browser for a profile
type Acquirer interface {
	Acquire(ctx context.Context, opts AcquireOptions) (Handle, error)
}

// LocalConfig configures Chrome processes started on this host
type LocalConfig struct {
	ExecPath       string
	Headless       bool
	StartupTimeout time.Duration
	OpTimeout      time.Duration
}

// LocalAcquirer runs Chrome as a child process with the profile directory as
// its user-data-dir.
type LocalAcquirer struct {
	cfg    LocalConfig
	logger *zap.Logger
}

// NewLocalAcquirer creates an acquirer for local Chrome
func NewLocalAcquirer(cfg LocalConfig, logger *zap.Logger) *LocalAcquirer {
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 30 * time.Second
	}
	if cfg.OpTimeout == 0 {
		cfg.OpTimeout = 60 * time.Second
	}
	return &LocalAcquirer{cfg: cfg, logger: logger.Named("local")}
}

// Acquire launches Chrome. The returned handle owns the process.
func (a *LocalAcquirer) Acquire(ctx context.Context, opts AcquireOptions) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// chromedp.DefaultExecAllocatorOptions turns on enable-automation, so the
	// flag list is built by hand.
	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoSandbox,
		chromedp.UserDataDir(opts.ProfileDir),
		chromedp.UserAgent(opts.UserAgent),
		chromedp.WindowSize(opts.Viewport.Width, opts.Viewport.Height),
		chromedp.Flag("headless", a.cfg.Headless),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("password-store", "basic"),
	}
	if a.cfg.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(a.cfg.ExecPath))
	}
	if opts.Proxy != nil {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.Proxy.Server()))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	logger := a.logger.With(zap.String("profile_id", opts.ProfileID))
	logger.Debug("starting chrome", zap.String("user_data_dir", opts.ProfileDir))

	h, err := startChrome(chromeStart{
		mode:      ModeLocal,
		allocCtx:  allocCtx,
		cancel:    cancel,
		userAgent: opts.UserAgent,
		proxy:     opts.Proxy,
		viewport:  opts.Viewport,
		startup:   a.cfg.StartupTimeout,
		opTimeout: a.cfg.OpTimeout,
		logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}
