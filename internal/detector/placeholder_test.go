package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlaceholderDetect(t *testing.T) {
	t.Parallel()

	d := NewPlaceholder(nil)
	tests := []struct {
		name    string
		body    string
		soft    bool
		message string
	}{
		{
			name:    "bare text body",
			body:    "<html><body>Please enable JavaScript</body></html>",
			soft:    true,
			message: "Please enable JavaScript",
		},
		{
			name:    "single trivial element",
			body:    "<html><body>\n  <p>Request   blocked.\n Ref 42</p>\n</body></html>",
			soft:    true,
			message: "Request blocked. Ref 42",
		},
		{
			name: "empty body",
			body: "<html><head><title>x</title></head><body>  </body></html>",
			soft: true,
		},
		{
			name: "scripts are ignored",
			body: "<html><body><script>var a=1;</script><div>challenge</div><noscript>js</noscript></body></html>",
			soft: true,
		},
		{
			name: "single nested element is real content",
			body: "<html><body><div id=\"main\"><h1>Code civil</h1><ul><li>Livre I</li></ul></div></body></html>",
		},
		{
			name: "several top-level nodes",
			body: "<html><body><header>Legifrance</header><main>Article 1</main></body></html>",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := d.Detect([]byte(tc.body))
			assert.Equal(t, tc.soft, got.Soft)
			if tc.message != "" {
				assert.Equal(t, tc.message, got.Message)
			}
		})
	}
}

func TestPlaceholderMarkers(t *testing.T) {
	t.Parallel()

	d := NewPlaceholder([]string{"  ", "Access Denied"})
	body := "<html><body><header>x</header> <main>access denied for robots</main></body></html>"
	got := d.Detect([]byte(body))
	assert.True(t, got.Soft)
	assert.Equal(t, "x access denied for robots", got.Message)

	assert.False(t, d.Detect([]byte("<html><body><header>x</header><main>y</main></body></html>")).Soft)
}

func TestPlaceholderWithoutMarkersIgnoresText(t *testing.T) {
	t.Parallel()

	body := []byte("<html><body><header>x</header><main>Access denied. Veuillez patienter</main></body></html>")
	assert.False(t, NewPlaceholder(nil).Detect(body).Soft)
	assert.True(t, NewPlaceholder([]string{"veuillez patienter"}).Detect(body).Soft)
}
