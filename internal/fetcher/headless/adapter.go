// Package headless adapts a real browser session to the retrieval backend contract.
package headless

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/legifetch/internal/browser"
	"github.com/JakeFAU/legifetch/internal/retrieval"
)

// Navigator loads pages in a browser.
type Navigator interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) (browser.Page, error)
}

// Config controls the adapter.
type Config struct {
	// NavigationTimeout applies when a request carries no timeout.
	NavigationTimeout time.Duration
}

// Fetcher serves GET requests from a browser. Browsers do not expose the document status,
// so envelopes always carry retrieval.StatusUnknown.
type Fetcher struct {
	nav    Navigator
	cfg    Config
	logger *zap.Logger
}

// New wraps nav.
func New(nav Navigator, cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = browser.DefaultNavTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{nav: nav, cfg: cfg, logger: logger.Named("headless")}
}

// Fetch implements retrieval.Backend. Request headers and cookies are not applied;
// the browser profile carries its own session state.
func (f *Fetcher) Fetch(ctx context.Context, request retrieval.Request) (retrieval.Envelope, error) {
	if request.Method != "" && request.Method != http.MethodGet {
		return retrieval.Envelope{}, fmt.Errorf("%w: %s", retrieval.ErrUnsupportedMethod, request.Method)
	}
	target, err := request.Identity.RequestURL()
	if err != nil {
		return retrieval.Envelope{}, err
	}
	timeout := request.Timeout.Total()
	if timeout <= 0 {
		timeout = f.cfg.NavigationTimeout
	}

	start := time.Now()
	page, err := f.nav.Fetch(ctx, target, timeout)
	if err != nil {
		return retrieval.Envelope{}, fmt.Errorf("browser fetch: %w", err)
	}
	f.logger.Debug("Browser fetched page",
		zap.String("url", target),
		zap.String("final_url", page.URL),
		zap.Duration("duration", time.Since(start)),
		zap.Int("cookies", len(page.Cookies)),
	)

	env := retrieval.Envelope{
		FinalURL:   page.URL,
		StatusCode: retrieval.StatusUnknown,
		Body:       []byte(page.HTML),
	}
	if env.FinalURL == "" {
		env.FinalURL = target
	}
	for _, c := range page.Cookies {
		env.Cookies = append(env.Cookies, ToCookie(c))
	}
	return env, nil
}

// ToCookie translates a browser cookie. Session cookies and non-positive expiries carry no expiry.
func ToCookie(c browser.NativeCookie) retrieval.Cookie {
	out := retrieval.Cookie{
		Name:   c.Name,
		Value:  c.Value,
		Domain: c.Domain,
		Path:   c.Path,
		Secure: c.Secure,
	}
	if !c.Session && c.Expires > 0 {
		sec, frac := math.Modf(c.Expires)
		out.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	return out
}
