// Package profile holds the request session state shared by every retrieval: headers, user agent and cookies.
package profile

import (
	"errors"
	"fmt"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/legifetch/internal/retrieval"
)

// Profile decorates outgoing requests and collects cookies from responses.
type Profile struct {
	mu        sync.RWMutex
	headers   http.Header
	userAgent string
	jar       *Jar
	logger    *zap.Logger
}

// New creates an empty Profile.
func New(logger *zap.Logger) *Profile {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Profile{
		headers: http.Header{},
		jar:     NewJar(),
		logger:  logger.Named("profile"),
	}
}

// ApplyHeaders applies "Name: value" lines. A line without a value removes the header.
func (p *Profile) ApplyHeaders(lines []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, line := range lines {
		name, value, _ := strings.Cut(line, ":")
		name = textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if name == "" {
			continue
		}
		if value == "" {
			p.headers.Del(name)
			if name == "User-Agent" {
				p.userAgent = ""
			}
			continue
		}
		if name == "User-Agent" {
			p.userAgent = value
			continue
		}
		p.headers.Set(name, value)
	}
}

// SetUserAgent overrides the User-Agent header.
func (p *Profile) SetUserAgent(ua string) {
	p.ApplyHeaders([]string{"User-Agent: " + ua})
}

// UserAgent returns the configured User-Agent, if any.
func (p *Profile) UserAgent() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.userAgent
}

// Headers returns a copy of the configured headers, User-Agent included.
func (p *Profile) Headers() http.Header {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h := p.headers.Clone()
	if p.userAgent != "" {
		h.Set("User-Agent", p.userAgent)
	}
	return h
}

// LoadCookies accepts either "a=b; c=d" or the path of a Netscape cookie file.
func (p *Profile) LoadCookies(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if !strings.Contains(raw, "=") {
		cookies, err := loadCookieFile(raw)
		if err != nil {
			return err
		}
		p.jar.Merge(cookies)
		p.logger.Debug("Loaded cookie file", zap.String("path", raw), zap.Int("cookies", len(cookies)))
		return nil
	}
	var cookies []retrieval.Cookie
	for _, pair := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.Contains(value, "=") {
			p.logger.Warn("Invalid cookie", zap.String("cookie", strings.TrimSpace(pair)))
			continue
		}
		cookies = append(cookies, retrieval.Cookie{Name: name, Value: strings.TrimSpace(value)})
	}
	p.jar.Merge(cookies)
	return nil
}

func loadCookieFile(path string) ([]retrieval.Cookie, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("cookie file %s does not exist", path)
		}
		return nil, fmt.Errorf("open cookie file: %w", err)
	}
	defer f.Close()
	return ReadNetscape(f)
}

// Jar exposes the cookie jar.
func (p *Profile) Jar() *Jar {
	return p.jar
}

// Merge implements retrieval.CookieSink.
func (p *Profile) Merge(cookies []retrieval.Cookie) {
	p.jar.Merge(cookies)
}

// Decorate implements retrieval.RequestDecorator.
func (p *Profile) Decorate(request *retrieval.Request) {
	request.Headers = p.Headers()
	reqURL, err := request.Identity.RequestURL()
	if err != nil {
		return
	}
	request.Cookies = append(request.Cookies, p.jar.ForURL(reqURL)...)
}

// SaveCookieJar writes every cookie to path in Netscape format.
func (p *Profile) SaveCookieJar(path string) error {
	cookies := p.jar.All()
	if err := SaveNetscapeFile(path, cookies); err != nil {
		return err
	}
	p.logger.Debug("Saved cookie jar", zap.String("path", path), zap.Int("cookies", len(cookies)))
	return nil
}
