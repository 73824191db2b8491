// Package collyfetcher implements the direct HTTP retrieval backend using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/legifetch/internal/policy/ratelimit"
	"github.com/JakeFAU/legifetch/internal/retrieval"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout applies when a request carries no timeout of its own.
	Timeout           time.Duration
	RequestsPerSecond float64
	// Retries bounds transport-level retries of transient network errors.
	Retries      int
	RetryBackoff time.Duration
	RetryMax     time.Duration
}

// Fetcher implements retrieval.Backend using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       *ratelimit.Limiter
	retry         retrypolicy.RetryPolicy[retrieval.Envelope]
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 5 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(0),
	)
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	// Cookies are owned by the session profile, not by the collector jar.
	c.DisableCookies()

	f := &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		limiter:       ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RequestsPerSecond}),
		logger:        logger.Named("direct"),
	}
	f.retry = retrypolicy.NewBuilder[retrieval.Envelope]().
		WithBackoff(cfg.RetryBackoff, cfg.RetryMax).
		WithMaxRetries(cfg.Retries).
		WithJitterFactor(0.1).
		HandleIf(func(_ retrieval.Envelope, err error) bool {
			return isTransient(err)
		}).
		OnRetry(func(e failsafe.ExecutionEvent[retrieval.Envelope]) {
			f.logger.Warn("Retrying transient fetch error",
				zap.Int("attempt", e.Attempts()),
				zap.Error(e.LastError()),
			)
		}).
		Build()
	return f
}

// Fetch executes a single HTTP GET, retrying transient transport errors.
func (f *Fetcher) Fetch(ctx context.Context, request retrieval.Request) (retrieval.Envelope, error) {
	if request.Method != "" && request.Method != http.MethodGet {
		return retrieval.Envelope{}, fmt.Errorf("%w: %s", retrieval.ErrUnsupportedMethod, request.Method)
	}
	target, err := request.Identity.RequestURL()
	if err != nil {
		return retrieval.Envelope{}, err
	}
	if err := f.limiter.Wait(ctx, target); err != nil {
		return retrieval.Envelope{}, err
	}
	env, err := failsafe.With(f.retry).WithContext(ctx).Get(func() (retrieval.Envelope, error) {
		return f.fetchOnce(ctx, request, target)
	})
	if err != nil {
		return retrieval.Envelope{}, err
	}
	return env, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, request retrieval.Request, target string) (retrieval.Envelope, error) {
	var (
		result   retrieval.Envelope
		fetchErr error
	)
	collector := f.buildCollector(request, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, target, &fetchErr); err != nil {
		return retrieval.Envelope{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	request retrieval.Request,
	result *retrieval.Envelope,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := request.Timeout.Total()
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	collector.SetRequestTimeout(timeout)
	f.configureCollectorHooks(collector, request, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request retrieval.Request,
	result *retrieval.Envelope,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request.Headers, r)
		if header := cookieHeader(request.Cookies); header != "" {
			r.Headers.Set("Cookie", header)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = retrieval.Envelope{
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Cookies:    responseCookies(r),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		if strings.EqualFold(key, "User-Agent") && len(values) > 0 {
			r.Headers.Set("User-Agent", values[0])
			continue
		}
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func cookieHeader(cookies []retrieval.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func responseCookies(r *colly.Response) []retrieval.Cookie {
	if r.Headers == nil {
		return nil
	}
	parsed := (&http.Response{Header: *r.Headers}).Cookies()
	if len(parsed) == 0 {
		return nil
	}
	host := ""
	if r.Request != nil && r.Request.URL != nil {
		host = r.Request.URL.Hostname()
	}
	out := make([]retrieval.Cookie, 0, len(parsed))
	for _, hc := range parsed {
		c := retrieval.CookieFromHTTP(hc)
		if c.Domain == "" {
			c.Domain = host
		}
		if c.Path == "" {
			c.Path = "/"
		}
		out = append(out, c)
	}
	return out
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
