package descriptor

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "nested", FileName))
	require.NoError(t, err)
	return store
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	want := Descriptor{
		PID:          4242,
		URL:          "http://127.0.0.1:9222",
		SessionID:    "S",
		Capabilities: map[string]any{"driver": "chromedp", "browserName": "chrome"},
		W3C:          true,
	}
	require.NoError(t, store.Save(want))

	got, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, "chromedp", got.Driver())

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestStoreWritesExpectedKeys(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.Save(Descriptor{PID: 1, URL: "u", SessionID: "s", W3C: true}))

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, key := range []string{"pid", "url", "session_id", "capabilities", "w3c"} {
		assert.Contains(t, fields, key)
	}
}

func TestStoreLoadMissingOrCorrupt(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	_, ok := store.Load()
	assert.False(t, ok)

	require.NoError(t, os.MkdirAll(store.Dir(), 0o700))
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o600))
	_, ok = store.Load()
	assert.False(t, ok)
}

func TestStoreDeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.Delete())
	require.NoError(t, store.Save(Descriptor{PID: 7, URL: "u"}))
	require.NoError(t, store.Delete())
	require.NoError(t, store.Delete())
	_, ok := store.Load()
	assert.False(t, ok)
}

func TestStoreDeleteIfOwned(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.Save(Descriptor{PID: 10, URL: "u"}))

	require.NoError(t, store.DeleteIfOwned(11))
	_, ok := store.Load()
	assert.True(t, ok, "descriptor of another daemon must survive")

	require.NoError(t, store.DeleteIfOwned(10))
	_, ok = store.Load()
	assert.False(t, ok)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	for pid := 1; pid <= 3; pid++ {
		require.NoError(t, store.Save(Descriptor{PID: pid, URL: "u"}))
	}
	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, FileName, entries[0].Name())
}

func TestDescriptorValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		d    Descriptor
		ok   bool
	}{
		{name: "valid", d: Descriptor{PID: 1, URL: "http://x"}, ok: true},
		{name: "zero pid", d: Descriptor{URL: "http://x"}},
		{name: "negative pid", d: Descriptor{PID: -4, URL: "http://x"}},
		{name: "missing url", d: Descriptor{PID: 3}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.d.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrInvalidDescriptor))
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Parallel()

	path, err := DefaultPath()
	if err != nil {
		t.Skipf("no user cache dir: %v", err)
	}
	assert.Equal(t, FileName, filepath.Base(path))
	assert.Equal(t, "legifetch", filepath.Base(filepath.Dir(path)))
}
