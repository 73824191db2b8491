package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNowIsCurrentUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	got := New().Now()
	after := time.Now().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after), "got %v", got)
}
