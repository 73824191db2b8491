package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const rodStableDuration = 500 * time.Millisecond

// Rod drives Chromium through go-rod with stealth evasions applied to the tab.
type Rod struct{}

// NewRod returns the rod driver.
func NewRod() *Rod {
	return &Rod{}
}

// Name implements Driver.
func (*Rod) Name() string { return DriverRod }

// Launch starts Chromium and opens a stealth tab.
func (*Rod) Launch(ctx context.Context, opts LaunchOptions) (Engine, error) {
	l := launcher.New().
		Headless(opts.Headless).
		Set("disable-blink-features", "AutomationControlled")
	if opts.Headless {
		l = l.Set("disable-gpu")
	}
	if opts.ProfileDir != "" {
		l = l.UserDataDir(opts.ProfileDir)
	}
	if opts.ExecPath != "" {
		l = l.Bin(opts.ExecPath)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}
	page, err := stealth.Page(b)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("create tab: %w", err)
	}
	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("set user agent: %w", err)
		}
	}
	e := &rodEngine{browser: b, page: page, owned: true}
	if err := e.describe(ctx, u); err != nil {
		_ = b.Close()
		return nil, err
	}
	return e, nil
}

// Attach reconnects to the tab recorded in endpoint. The websocket is released on
// failure and on Close; the browser itself keeps running.
func (*Rod) Attach(ctx context.Context, endpoint Endpoint) (Engine, error) {
	if endpoint.URL == "" || endpoint.SessionID == "" {
		return nil, errors.New("rod attach needs a control url and a target id")
	}
	ws := &cdp.WebSocket{}
	if err := ws.Connect(ctx, endpoint.URL, nil); err != nil {
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}
	fail := func(err error) (Engine, error) {
		_ = ws.Close()
		return nil, err
	}
	b := rod.New().Client(cdp.New().Start(ws)).Context(ctx)
	if err := b.Connect(); err != nil {
		return fail(fmt.Errorf("connect to chromium: %w", err))
	}
	page, err := b.PageFromTarget(proto.TargetTargetID(endpoint.SessionID))
	if err != nil {
		return fail(fmt.Errorf("attach target %s: %w", endpoint.SessionID, err))
	}
	e := &rodEngine{browser: b.Context(context.Background()), page: page.Context(context.Background()), conn: ws}
	if err := e.describe(ctx, endpoint.URL); err != nil {
		return fail(err)
	}
	return e, nil
}

type rodEngine struct {
	browser *rod.Browser
	page    *rod.Page
	owned   bool
	// conn is the attach websocket; nil for launched engines.
	conn io.Closer

	mu       sync.Mutex
	endpoint Endpoint
	closed   bool
}

func (e *rodEngine) describe(ctx context.Context, url string) error {
	version, err := proto.BrowserGetVersion{}.Call(e.browser.Context(ctx))
	if err != nil {
		return fmt.Errorf("browser version: %w", err)
	}
	e.endpoint = Endpoint{
		URL:       url,
		SessionID: string(e.page.TargetID),
		Capabilities: capabilities(DriverRod, map[string]any{
			"browserName":     version.Product,
			"protocolVersion": version.ProtocolVersion,
			"userAgent":       version.UserAgent,
		}),
	}
	return nil
}

func (e *rodEngine) Load(ctx context.Context, url string) (Page, error) {
	p := e.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return Page{}, fmt.Errorf("navigate: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return Page{}, fmt.Errorf("wait load: %w", err)
	}
	_ = p.WaitStable(rodStableDuration)

	info, err := p.Info()
	if err != nil {
		return Page{}, fmt.Errorf("page info: %w", err)
	}
	html, err := p.HTML()
	if err != nil {
		return Page{}, fmt.Errorf("page html: %w", err)
	}
	cookies, err := p.Cookies(nil)
	if err != nil {
		return Page{}, fmt.Errorf("page cookies: %w", err)
	}

	page := Page{URL: info.URL, HTML: html}
	for _, c := range cookies {
		if c == nil {
			continue
		}
		page.Cookies = append(page.Cookies, NativeCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			Session:  c.Session,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	return page, nil
}

func (e *rodEngine) Ping(ctx context.Context) error {
	if _, err := e.page.Context(ctx).Eval(`() => document.readyState`); err != nil {
		return fmt.Errorf("rod ping: %w", err)
	}
	return nil
}

func (e *rodEngine) Endpoint() Endpoint {
	return e.endpoint
}

// Close quits a launched browser. Attached engines only drop their connection.
func (e *rodEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if !e.owned {
		if e.conn != nil {
			_ = e.conn.Close()
		}
		return nil
	}
	if err := e.browser.Close(); err != nil {
		return fmt.Errorf("close chromium: %w", err)
	}
	return nil
}
