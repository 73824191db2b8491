package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestChromedpLaunchAndAttach(t *testing.T) {
	if testing.Short() {
		t.Skip("real browser test")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "abc", Path: "/"})
		fmt.Fprint(w, `<!doctype html><html><body><script>document.body.innerHTML = '<div id="late">late content</div>';</script></body></html>`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sess, err := Launch(ctx, Options{
		Drivers: NewRegistry(NewChromedp()),
		Driver:  DriverChromedp,
		Launch:  LaunchOptions{Headless: true, ProfileDir: t.TempDir()},
		Logger:  zap.NewNop(),
	})
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	defer sess.Close()

	page, err := sess.Fetch(ctx, srv.URL, 10*time.Second)
	if err != nil {
		t.Skipf("navigation failed: %v", err)
	}
	if !strings.Contains(page.HTML, "late content") {
		t.Fatal("rendered body missing dynamic content")
	}

	d := sess.Descriptor()
	if d.URL == "" || d.SessionID == "" {
		t.Fatalf("descriptor missing endpoint: %+v", d)
	}

	attached, err := NewChromedp().Attach(ctx, Endpoint{URL: d.URL, SessionID: d.SessionID})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer attached.Close()
	if err := attached.Ping(ctx); err != nil {
		t.Fatalf("ping attached tab: %v", err)
	}
	if err := sess.Ping(ctx); err != nil {
		t.Fatalf("owned tab gone after attach: %v", err)
	}
}
