// Package retrieval defines the shared retrieval types and the soft-failure retry loop.
package retrieval

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// StatusUnknown marks an envelope whose backend cannot observe the HTTP status.
const StatusUnknown = 0

// Identity names a cacheable resource: a URL plus its query parameters.
type Identity struct {
	URL    string            `json:"url"`
	Params map[string]string `json:"params,omitempty"`
}

// NewIdentity builds an Identity for rawURL with optional params.
func NewIdentity(rawURL string, params map[string]string) Identity {
	return Identity{URL: rawURL, Params: params}
}

// RequestURL returns the URL with params merged into its query string.
func (id Identity) RequestURL() (string, error) {
	u, err := url.Parse(id.URL)
	if err != nil {
		return "", fmt.Errorf("parse identity url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("identity url %q must be absolute", id.URL)
	}
	u.Fragment = ""
	u.RawFragment = ""
	if len(id.Params) > 0 {
		q := u.Query()
		for k, v := range id.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Key returns the normalized cache key. Identities with equal keys name the same resource.
func (id Identity) Key() string {
	if reqURL, err := id.RequestURL(); err == nil {
		return reqURL
	}
	keys := make([]string, 0, len(id.Params))
	for k := range id.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(id.URL)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(url.QueryEscape(k))
		b.WriteString("=")
		b.WriteString(url.QueryEscape(id.Params[k]))
	}
	return b.String()
}

// String implements fmt.Stringer.
func (id Identity) String() string {
	return id.Key()
}

// Cookie is a backend-neutral cookie record. A zero Expires means the cookie has no expiry.
type Cookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain,omitempty"`
	Path    string    `json:"path,omitempty"`
	Secure  bool      `json:"secure,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

// HasExpiry reports whether the cookie carries an expiry.
func (c Cookie) HasExpiry() bool {
	return !c.Expires.IsZero()
}

// HTTPCookie converts c into a net/http cookie.
func (c Cookie) HTTPCookie() *http.Cookie {
	return &http.Cookie{
		Name:    c.Name,
		Value:   c.Value,
		Domain:  c.Domain,
		Path:    c.Path,
		Secure:  c.Secure,
		Expires: c.Expires,
	}
}

// CookieFromHTTP converts a net/http cookie into a Cookie.
func CookieFromHTTP(hc *http.Cookie) Cookie {
	c := Cookie{
		Name:   hc.Name,
		Value:  hc.Value,
		Domain: hc.Domain,
		Path:   hc.Path,
		Secure: hc.Secure,
	}
	if !hc.Expires.IsZero() {
		c.Expires = hc.Expires.UTC()
	}
	return c
}

// Envelope is the response contract shared by every backend.
type Envelope struct {
	FinalURL   string   `json:"final_url"`
	StatusCode int      `json:"status_code"`
	Body       []byte   `json:"body"`
	Cookies    []Cookie `json:"cookies,omitempty"`
	FromCache  bool     `json:"-"`
}

// HasStatus reports whether the backend observed an HTTP status.
func (e Envelope) HasStatus() bool {
	return e.StatusCode != StatusUnknown
}

// Timeout carries the connect and read budgets of a request.
type Timeout struct {
	Connect time.Duration
	Read    time.Duration
}

// Total returns the combined budget.
func (t Timeout) Total() time.Duration {
	return t.Connect + t.Read
}

// Request is a single backend fetch.
type Request struct {
	Method   string
	Identity Identity
	Headers  http.Header
	Cookies  []Cookie
	Timeout  Timeout
	// Refresh skips cached entries for this fetch.
	Refresh bool
}

// NewGetRequest builds a GET request for id.
func NewGetRequest(id Identity) Request {
	return Request{Method: http.MethodGet, Identity: id}
}

// CacheEntry is a stored envelope keyed by identity.
type CacheEntry struct {
	Identity Identity  `json:"identity"`
	Envelope Envelope  `json:"envelope"`
	StoredAt time.Time `json:"stored_at"`
}
