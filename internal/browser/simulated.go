package browser

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/session-keeper/pkg/models"
)

// SimulatedBrowser stands in for a real browser when none can be started.
// It keeps an in-memory cookie jar and only logs navigation.
type SimulatedBrowser struct {
	mu        sync.Mutex
	userAgent string
	url       string
	scripts   int
	cookies   []models.Cookie
	closed    bool
	logger    *zap.Logger
}

// NewSimulated returns a simulated handle reporting userAgent
func NewSimulated(userAgent string, logger *zap.Logger) *SimulatedBrowser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulatedBrowser{
		userAgent: userAgent,
		logger:    logger,
	}
}

func (s *SimulatedBrowser) Mode() Mode { return ModeSimulated }

func (s *SimulatedBrowser) InjectScript(ctx context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.scripts++
	return nil
}

func (s *SimulatedBrowser) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.logger.Info("simulated navigation", zap.String("url", url))
	s.url = url
	return nil
}

// SetCookie replaces any cookie with the same name, domain and path
func (s *SimulatedBrowser) SetCookie(ctx context.Context, cookie models.Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for i, c := range s.cookies {
		if c.Name == cookie.Name && c.Domain == cookie.Domain && c.Path == cookie.Path {
			s.cookies[i] = cookie
			return nil
		}
	}
	s.cookies = append(s.cookies, cookie)
	return nil
}

func (s *SimulatedBrowser) Cookies(ctx context.Context) ([]models.Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]models.Cookie, len(s.cookies))
	copy(out, s.cookies)
	return out, nil
}

func (s *SimulatedBrowser) UserAgent(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	return s.userAgent, nil
}

// URL returns the last navigated URL
func (s *SimulatedBrowser) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *SimulatedBrowser) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
