package browser

import (
	"context"
	"errors"
	"sync"
)

type fakeEngine struct {
	mu       sync.Mutex
	endpoint Endpoint
	page     Page
	loadErr  error
	pingErr  error
	loads    []string
	closed   int
	deadline bool
}

func (e *fakeEngine) Load(ctx context.Context, url string) (Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads = append(e.loads, url)
	_, e.deadline = ctx.Deadline()
	if e.loadErr != nil {
		return Page{}, e.loadErr
	}
	return e.page, nil
}

func (e *fakeEngine) Ping(context.Context) error { return e.pingErr }

func (e *fakeEngine) Endpoint() Endpoint { return e.endpoint }

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return nil
}

type fakeDriver struct {
	name      string
	launched  *fakeEngine
	attached  *fakeEngine
	attachErr error
	launches  int
	attaches  []Endpoint
	lastOpts  LaunchOptions
}

func (d *fakeDriver) Name() string { return d.name }

func (d *fakeDriver) Launch(_ context.Context, opts LaunchOptions) (Engine, error) {
	d.launches++
	d.lastOpts = opts
	if d.launched == nil {
		return nil, errors.New("no browser")
	}
	return d.launched, nil
}

func (d *fakeDriver) Attach(_ context.Context, endpoint Endpoint) (Engine, error) {
	d.attaches = append(d.attaches, endpoint)
	if d.attachErr != nil {
		return nil, d.attachErr
	}
	if d.attached == nil {
		return nil, errors.New("nothing to attach to")
	}
	return d.attached, nil
}
