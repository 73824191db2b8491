package headless

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/legifetch/internal/browser"
)

type stubEngine struct {
	closed int
}

func (e *stubEngine) Load(_ context.Context, url string) (browser.Page, error) {
	return browser.Page{URL: url, HTML: "<html></html>"}, nil
}
func (e *stubEngine) Ping(context.Context) error { return nil }
func (e *stubEngine) Endpoint() browser.Endpoint { return browser.Endpoint{} }
func (e *stubEngine) Close() error               { e.closed++; return nil }

type stubDriver struct {
	engine   *stubEngine
	launches int
}

func (d *stubDriver) Name() string { return browser.DriverChromedp }
func (d *stubDriver) Launch(context.Context, browser.LaunchOptions) (browser.Engine, error) {
	d.launches++
	return d.engine, nil
}
func (d *stubDriver) Attach(context.Context, browser.Endpoint) (browser.Engine, error) {
	return nil, errors.New("not attachable")
}

func TestLazyOpensOnce(t *testing.T) {
	t.Parallel()

	driver := &stubDriver{engine: &stubEngine{}}
	opens := 0
	lazy := NewLazy(func(ctx context.Context) (*browser.Session, error) {
		opens++
		return browser.Launch(ctx, browser.Options{Drivers: browser.NewRegistry(driver)})
	})
	assert.False(t, lazy.Opened())

	for range 3 {
		page, err := lazy.Fetch(context.Background(), "https://example.com", time.Second)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com", page.URL)
	}
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, driver.launches)
	assert.True(t, lazy.Opened())

	require.NoError(t, lazy.Close())
	require.NoError(t, lazy.Close())
	assert.Equal(t, 1, driver.engine.closed)

	_, err := lazy.Fetch(context.Background(), "https://example.com", time.Second)
	require.ErrorIs(t, err, ErrClosed)
}

func TestLazyCloseWithoutOpen(t *testing.T) {
	t.Parallel()

	lazy := NewLazy(func(context.Context) (*browser.Session, error) {
		t.Fatal("must not open")
		return nil, nil
	})
	require.NoError(t, lazy.Close())
}

func TestLazyOpenError(t *testing.T) {
	t.Parallel()

	lazy := NewLazy(func(context.Context) (*browser.Session, error) {
		return nil, errors.New("chrome not found")
	})
	_, err := lazy.Fetch(context.Background(), "https://example.com", 0)
	require.ErrorContains(t, err, "chrome not found")
	assert.False(t, lazy.Opened())
}
