package retrieval

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityKey(t *testing.T) {
	t.Parallel()

	a := NewIdentity("https://www.legifrance.gouv.fr/affichCode.do", map[string]string{"cidTexte": "X", "dateTexte": "20200101"})
	b := NewIdentity("https://www.legifrance.gouv.fr/affichCode.do?dateTexte=20200101", map[string]string{"cidTexte": "X"})
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "https://www.legifrance.gouv.fr/affichCode.do?cidTexte=X&dateTexte=20200101", a.Key())
	assert.Equal(t, a.Key(), a.String())

	c := NewIdentity("https://www.legifrance.gouv.fr/affichCode.do", map[string]string{"cidTexte": "Y"})
	assert.NotEqual(t, a.Key(), c.Key())

	frag := NewIdentity("https://example.com/a#section", nil)
	assert.Equal(t, "https://example.com/a", frag.Key())
}

func TestIdentityRequestURLRejectsRelative(t *testing.T) {
	t.Parallel()

	_, err := NewIdentity("/codes/", nil).RequestURL()
	require.Error(t, err)

	rel := NewIdentity("/codes/", map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, "/codes/|a=1|b=2", rel.Key())
}

func TestCleanURL(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"https://www.legifrance.gouv.fr/affichCode.do;jsessionid=ABC.tpdila1?cidTexte=X": "https://www.legifrance.gouv.fr/affichCode.do?cidTexte=X",
		"https://www.legifrance.gouv.fr/affichCode.do?cidTexte=X":                        "https://www.legifrance.gouv.fr/affichCode.do?cidTexte=X",
		"https://www.legifrance.gouv.fr/affichCode.do;jsessionid=ABC":                    "https://www.legifrance.gouv.fr/affichCode.do;jsessionid=ABC",
	}
	for in, want := range tests {
		assert.Equal(t, want, CleanURL(in), in)
	}
}

func TestCookieConversion(t *testing.T) {
	t.Parallel()

	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Cookie{Name: "a", Value: "b", Domain: "example.com", Path: "/", Secure: true, Expires: exp}
	assert.True(t, c.HasExpiry())
	assert.Equal(t, c, CookieFromHTTP(c.HTTPCookie()))

	session := CookieFromHTTP(&http.Cookie{Name: "s", Value: "v"})
	assert.False(t, session.HasExpiry())
}

func TestEnvelopeStatusAndTimeout(t *testing.T) {
	t.Parallel()

	assert.False(t, Envelope{}.HasStatus())
	assert.True(t, Envelope{StatusCode: http.StatusOK}.HasStatus())
	assert.Equal(t, 5*time.Second, Timeout{Connect: 2 * time.Second, Read: 3 * time.Second}.Total())
	assert.Equal(t, http.MethodGet, NewGetRequest(NewIdentity("https://x", nil)).Method)
}

func TestErrors(t *testing.T) {
	t.Parallel()

	id := NewIdentity("https://example.com", nil)
	hard := &HardFailureError{Identity: id, StatusCode: 503}
	assert.ErrorIs(t, hard, ErrHardFailure)
	assert.Contains(t, hard.Error(), "503")

	exhausted := &ExhaustedError{Identity: id, Attempts: 10}
	assert.ErrorIs(t, exhausted, ErrRetrievalExhausted)
	assert.ErrorIs(t, exhausted, ErrSoftFailure)
	assert.NotErrorIs(t, exhausted, ErrHardFailure)
}
