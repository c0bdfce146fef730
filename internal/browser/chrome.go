package browser

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/session-keeper/pkg/models"
)

// Viewport is the fixed window size of launched browsers
type Viewport struct {
	Width  int
	Height int
}

// DefaultViewport matches a common laptop screen
var DefaultViewport = Viewport{Width: 1366, Height: 768}

// chromeHandle drives a Chrome target over CDP
type chromeHandle struct {
	mode      Mode
	ctx       context.Context
	cancel    context.CancelFunc
	userAgent string
	opTimeout time.Duration
	release   func(context.Context) error
	logger    *zap.Logger

	mu         sync.Mutex
	currentURL string

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

type chromeStart struct {
	mode      Mode
	allocCtx  context.Context
	cancel    context.CancelFunc
	userAgent string
	proxy     *Proxy
	viewport  Viewport
	startup   time.Duration
	opTimeout time.Duration
	release   func(context.Context) error
	logger    *zap.Logger
}

// startChrome creates a tab on the allocator and waits for the browser to come
// up. On failure everything started so far is torn down.
func startChrome(opts chromeStart) (*chromeHandle, error) {
	tabCtx, tabCancel := chromedp.NewContext(opts.allocCtx)

	cancel := func() {
		tabCancel()
		opts.cancel()
	}

	h := &chromeHandle{
		mode:      opts.mode,
		ctx:       tabCtx,
		cancel:    cancel,
		userAgent: opts.userAgent,
		opTimeout: opts.opTimeout,
		release:   opts.release,
		logger:    opts.logger,
		closed:    make(chan struct{}),
	}

	// The first Run starts the browser; its context must not carry a deadline
	// or the browser dies with it, so a timer bounds startup instead.
	timer := time.AfterFunc(opts.startup, cancel)
	err := chromedp.Run(tabCtx)
	timer.Stop()
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	if opts.proxy != nil && opts.proxy.HasAuth() {
		h.listenProxyAuth(opts.proxy)
	}

	setup := []chromedp.Action{
		emulation.SetUserAgentOverride(opts.userAgent).WithAcceptLanguage("en-US,en"),
		chromedp.EmulateViewport(int64(opts.viewport.Width), int64(opts.viewport.Height)),
	}
	if opts.proxy != nil && opts.proxy.HasAuth() {
		setup = append(setup, fetch.Enable().WithHandleAuthRequests(true))
	}

	if err := h.run(context.Background(), setup...); err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to configure browser: %w", err)
	}

	return h, nil
}

func (h *chromeHandle) listenProxyAuth(proxy *Proxy) {
	chromedp.ListenTarget(h.ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *fetch.EventRequestPaused:
			go func() {
				if err := chromedp.Run(h.ctx, fetch.ContinueRequest(ev.RequestID)); err != nil {
					h.logger.Debug("failed to continue paused request", zap.Error(err))
				}
			}()
		case *fetch.EventAuthRequired:
			go func() {
				resp := &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: proxy.Username,
					Password: proxy.Password,
				}
				if err := chromedp.Run(h.ctx, fetch.ContinueWithAuth(ev.RequestID, resp)); err != nil {
					h.logger.Warn("failed to answer proxy auth challenge", zap.Error(err))
				}
			}()
		}
	})
}

// run executes actions on the tab, bounded by the handle's op timeout and
// abandoned if ctx is cancelled.
func (h *chromeHandle) run(ctx context.Context, actions ...chromedp.Action) error {
	select {
	case <-h.closed:
		return ErrClosed
	default:
	}

	opCtx, cancel := context.WithTimeout(h.ctx, h.opTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(opCtx, actions...)
}

func (h *chromeHandle) Mode() Mode { return h.mode }

func (h *chromeHandle) InjectScript(ctx context.Context, source string) error {
	return h.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(source).Do(ctx)
		return err
	}))
}

func (h *chromeHandle) Navigate(ctx context.Context, url string) error {
	if err := h.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	h.mu.Lock()
	h.currentURL = url
	h.mu.Unlock()
	return nil
}

func (h *chromeHandle) SetCookie(ctx context.Context, c models.Cookie) error {
	params := network.SetCookie(c.Name, c.Value).
		WithPath(c.Path).
		WithSecure(c.Secure).
		WithHTTPOnly(c.HTTPOnly)

	if c.Domain != "" {
		params = params.WithDomain(c.Domain)
	} else {
		h.mu.Lock()
		params = params.WithURL(h.currentURL)
		h.mu.Unlock()
	}
	if c.SameSite != "" {
		params = params.WithSameSite(network.CookieSameSite(c.SameSite))
	}
	if !c.Session && c.Expires > 0 {
		sec, frac := math.Modf(c.Expires)
		expires := cdp.TimeSinceEpoch(time.Unix(int64(sec), int64(frac*1e9)))
		params = params.WithExpires(&expires)
	}

	return h.run(ctx, params)
}

func (h *chromeHandle) Cookies(ctx context.Context) ([]models.Cookie, error) {
	var raw []*network.Cookie
	err := h.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	cookies := make([]models.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			Session:  c.Session,
			SameSite: string(c.SameSite),
		})
	}
	return cookies, nil
}

func (h *chromeHandle) UserAgent(ctx context.Context) (string, error) {
	var ua string
	if err := h.run(ctx, chromedp.Evaluate(`navigator.userAgent`, &ua)); err != nil {
		return h.userAgent, fmt.Errorf("failed to read user agent: %w", err)
	}
	return ua, nil
}

// Close asks the browser to exit, then tears down the allocator and any
// backing container. Later calls return the first result.
func (h *chromeHandle) Close() error {
	h.closeOnce.Do(func() {
		close(h.closed)

		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(h.ctx) }()
		select {
		case err := <-done:
			if err != nil {
				h.logger.Debug("graceful browser close failed", zap.Error(err))
			}
		case <-time.After(10 * time.Second):
			h.logger.Warn("browser did not close in time")
		}
		h.cancel()

		if h.release != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			h.closeErr = h.release(ctx)
		}
	})
	return h.closeErr
}
