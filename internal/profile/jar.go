package profile

import (
	"net/url"
	"strings"
	"sync"

	"github.com/JakeFAU/legifetch/internal/retrieval"
)

type cookieKey struct {
	domain string
	path   string
	name   string
}

// Jar is an insertion-ordered cookie set keyed by domain, path and name.
type Jar struct {
	mu      sync.RWMutex
	order   []cookieKey
	cookies map[cookieKey]retrieval.Cookie
}

// NewJar creates an empty Jar.
func NewJar() *Jar {
	return &Jar{cookies: make(map[cookieKey]retrieval.Cookie)}
}

// Merge inserts or replaces cookies.
func (j *Jar) Merge(cookies []retrieval.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		k := cookieKey{domain: strings.ToLower(c.Domain), path: c.Path, name: c.Name}
		if _, ok := j.cookies[k]; !ok {
			j.order = append(j.order, k)
		}
		j.cookies[k] = c
	}
}

// All returns every cookie in insertion order.
func (j *Jar) All() []retrieval.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]retrieval.Cookie, 0, len(j.order))
	for _, k := range j.order {
		out = append(out, j.cookies[k])
	}
	return out
}

// Len returns the number of cookies held.
func (j *Jar) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.order)
}

// ForURL returns the cookies that apply to rawURL. Cookies without a domain match every host.
func (j *Jar) ForURL(rawURL string) []retrieval.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	var out []retrieval.Cookie
	for _, c := range j.All() {
		if c.Secure && u.Scheme != "https" {
			continue
		}
		if !domainMatch(host, c.Domain) {
			continue
		}
		if c.Path != "" && !strings.HasPrefix(path, c.Path) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func domainMatch(host, domain string) bool {
	domain = strings.TrimPrefix(strings.ToLower(domain), ".")
	if domain == "" {
		return true
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}
