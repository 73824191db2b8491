// Package browser drives a real browser that can outlive the process that launched it.
package browser

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Driver names.
const (
	DriverChromedp = "chromedp"
	DriverRod      = "rod"
)

// NativeCookie is a cookie as reported by the browser engine.
type NativeCookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  float64 // seconds since epoch; non-positive for session cookies
	Session  bool
	Secure   bool
	HTTPOnly bool
}

// Page is a fully loaded document.
type Page struct {
	URL     string
	HTML    string
	Cookies []NativeCookie
}

// Endpoint is everything a later process needs to reattach to a running engine.
type Endpoint struct {
	URL          string
	SessionID    string
	Capabilities map[string]any
	W3C          bool
}

// LaunchOptions configure a freshly launched engine.
type LaunchOptions struct {
	Headless   bool
	ProfileDir string
	UserAgent  string
	ExecPath   string
}

// Engine is one browser tab with a stable session id.
type Engine interface {
	// Load navigates to url and returns the loaded page. ctx bounds the whole navigation.
	Load(ctx context.Context, url string) (Page, error)
	// Ping performs a cheap round trip to prove the engine is alive.
	Ping(ctx context.Context) error
	Endpoint() Endpoint
	// Close releases the engine. Attached engines leave the remote browser running.
	Close() error
}

// Driver creates engines.
type Driver interface {
	Name() string
	Launch(ctx context.Context, opts LaunchOptions) (Engine, error)
	Attach(ctx context.Context, endpoint Endpoint) (Engine, error)
}

// Registry maps driver names to drivers.
type Registry map[string]Driver

// NewRegistry indexes drivers by name.
func NewRegistry(drivers ...Driver) Registry {
	r := make(Registry, len(drivers))
	for _, d := range drivers {
		r[d.Name()] = d
	}
	return r
}

// Lookup returns the driver registered under name. "chrome" is accepted for chromedp.
func (r Registry) Lookup(name string) (Driver, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "chrome" || name == "" {
		name = DriverChromedp
	}
	d, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("unknown browser driver %q (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	return d, nil
}

// Names lists registered drivers.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultNavTimeout bounds a navigation when the caller gives none.
const DefaultNavTimeout = 30 * time.Second

func capabilities(driver string, extra map[string]any) map[string]any {
	caps := map[string]any{"driver": driver}
	for k, v := range extra {
		if v == "" {
			continue
		}
		caps[k] = v
	}
	return caps
}
