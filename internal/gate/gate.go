// Package gate checks operator API credentials before processing may start.
package gate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Verifier checks an API user/key pair
type Verifier interface {
	Verify(ctx context.Context, userID, keyID string) (bool, error)
}

// Demo accepts any non-empty pair
type Demo struct {
	logger *zap.Logger
}

// NewDemo creates a verifier that only checks for presence
func NewDemo(logger *zap.Logger) *Demo {
	return &Demo{logger: logger.Named("gate")}
}

func (d *Demo) Verify(ctx context.Context, userID, keyID string) (bool, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(keyID) == "" {
		d.logger.Info("api credentials cannot be empty")
		return false, nil
	}
	d.logger.Info("api credentials accepted (demo mode)")
	return true, nil
}

// HTTP asks a remote endpoint, which answers "1" for valid credentials
type HTTP struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTP creates a verifier for baseURL
func NewHTTP(baseURL string, logger *zap.Logger) *HTTP {
	return &HTTP{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.Named("gate"),
	}
}

func (h *HTTP) Verify(ctx context.Context, userID, keyID string) (bool, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(keyID) == "" {
		return false, nil
	}

	u, err := url.Parse(h.baseURL)
	if err != nil {
		return false, fmt.Errorf("invalid verification url: %w", err)
	}
	q := u.Query()
	q.Set("menuname", "seeding")
	q.Set("userid", userID)
	q.Set("keyid", keyID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("api verification failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return false, fmt.Errorf("failed to read verification response: %w", err)
	}

	ok := resp.StatusCode == http.StatusOK && strings.TrimSpace(string(body)) == "1"
	h.logger.Info("api credentials checked", zap.String("user_id", userID), zap.Bool("valid", ok))
	return ok, nil
}
