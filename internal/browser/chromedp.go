package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Chromedp drives Chrome over the DevTools protocol with chromedp.
type Chromedp struct{}

// NewChromedp returns the chromedp driver.
func NewChromedp() *Chromedp {
	return &Chromedp{}
}

// Name implements Driver.
func (*Chromedp) Name() string { return DriverChromedp }

// Launch starts Chrome on a fixed debugging port so other processes can reattach.
func (*Chromedp) Launch(ctx context.Context, opts LaunchOptions) (Engine, error) {
	port, err := freePort()
	if err != nil {
		return nil, err
	}
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", opts.Headless),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("remote-debugging-address", "127.0.0.1"),
		chromedp.Flag("remote-debugging-port", strconv.Itoa(port)),
	)
	if opts.ProfileDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.ProfileDir))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	// The browser lives until Close, independent of the launch context.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	e := &chromedpEngine{
		tabCtx: tabCtx,
		cancel: func() { tabCancel(); allocCancel() },
		owned:  true,
	}
	if err := e.start(ctx, "http://127.0.0.1:"+strconv.Itoa(port)); err != nil {
		e.cancel()
		return nil, err
	}
	return e, nil
}

// Attach connects to an existing tab of a running Chrome.
func (*Chromedp) Attach(ctx context.Context, endpoint Endpoint) (Engine, error) {
	if endpoint.URL == "" || endpoint.SessionID == "" {
		return nil, errors.New("chromedp attach needs a debugger url and a target id")
	}
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), endpoint.URL)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithTargetID(target.ID(endpoint.SessionID)))

	e := &chromedpEngine{
		tabCtx: tabCtx,
		cancel: func() { tabCancel(); allocCancel() },
	}
	if err := e.start(ctx, endpoint.URL); err != nil {
		return nil, err
	}
	return e, nil
}

type chromedpEngine struct {
	tabCtx context.Context
	cancel context.CancelFunc
	owned  bool

	mu       sync.Mutex
	endpoint Endpoint
	closed   bool
}

// start connects the tab and records its endpoint, bounded by ctx.
func (e *chromedpEngine) start(ctx context.Context, url string) error {
	runCtx, stop := forwardCancel(ctx, e.tabCtx)
	defer stop()

	var product, protocol, userAgent string
	err := chromedp.Run(runCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			protocol, product, _, userAgent, _, err = browser.GetVersion().Do(ctx)
			return err
		}),
	)
	if err != nil {
		return fmt.Errorf("connect chromedp tab: %w", err)
	}
	c := chromedp.FromContext(e.tabCtx)
	if c == nil || c.Target == nil {
		return errors.New("chromedp tab has no target")
	}
	e.endpoint = Endpoint{
		URL:       url,
		SessionID: string(c.Target.TargetID),
		Capabilities: capabilities(DriverChromedp, map[string]any{
			"browserName":     product,
			"protocolVersion": protocol,
			"userAgent":       userAgent,
		}),
	}
	return nil
}

func (e *chromedpEngine) Load(ctx context.Context, url string) (Page, error) {
	runCtx, stop := forwardCancel(ctx, e.tabCtx)
	defer stop()

	var (
		page    Page
		cookies []*network.Cookie
	)
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&page.URL),
		chromedp.OuterHTML("html", &page.HTML, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().Do(ctx)
			return err
		}),
	)
	if err != nil {
		return Page{}, fmt.Errorf("chromedp run: %w", err)
	}
	for _, c := range cookies {
		if c == nil {
			continue
		}
		page.Cookies = append(page.Cookies, NativeCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Session:  c.Session,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	return page, nil
}

func (e *chromedpEngine) Ping(ctx context.Context) error {
	runCtx, stop := forwardCancel(ctx, e.tabCtx)
	defer stop()
	var ready string
	if err := chromedp.Run(runCtx, chromedp.Evaluate(`document.readyState`, &ready)); err != nil {
		return fmt.Errorf("chromedp ping: %w", err)
	}
	return nil
}

func (e *chromedpEngine) Endpoint() Endpoint {
	return e.endpoint
}

// Close quits a launched browser. Attached engines leave the tab alone.
func (e *chromedpEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	// Canceling an attached tab context closes the daemon's tab.
	if !e.owned {
		return nil
	}
	defer e.cancel()
	if err := chromedp.Cancel(e.tabCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}

// forwardCancel derives a context from the tab context that is also canceled with parent.
func forwardCancel(parent, tab context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(tab)
	if deadline, ok := parent.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		ctx, cancelDeadline = context.WithDeadline(ctx, deadline)
		prev := cancel
		cancel = func() { cancelDeadline(); prev() }
	}
	stop := context.AfterFunc(parent, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("reserve debugging port: %w", err)
	}
	defer l.Close()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, errors.New("unexpected listener address")
	}
	return addr.Port, nil
}
