package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/legifetch/internal/browser"
)

// ErrClosed is returned by a Lazy navigator after Close.
var ErrClosed = errors.New("browser session closed")

// Opener opens a browser session.
type Opener func(ctx context.Context) (*browser.Session, error)

// Lazy defers opening the browser until the first page is requested, so cache hits never start one.
type Lazy struct {
	open Opener

	mu      sync.Mutex
	session *browser.Session
	closed  bool
}

// NewLazy returns a navigator that calls open on first use.
func NewLazy(open Opener) *Lazy {
	return &Lazy{open: open}
}

// Fetch implements Navigator.
func (l *Lazy) Fetch(ctx context.Context, url string, timeout time.Duration) (browser.Page, error) {
	s, err := l.Session(ctx)
	if err != nil {
		return browser.Page{}, err
	}
	return s.Fetch(ctx, url, timeout)
}

// Session returns the open session, opening it if needed.
func (l *Lazy) Session(ctx context.Context) (*browser.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	if l.session != nil {
		return l.session, nil
	}
	s, err := l.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open browser: %w", err)
	}
	l.session = s
	return s, nil
}

// Opened reports whether a session was ever opened.
func (l *Lazy) Opened() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session != nil
}

// Close closes the session if one was opened.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.session == nil {
		return nil
	}
	return l.session.Close()
}
