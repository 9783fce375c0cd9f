package id

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsMonotonic(t *testing.T) {
	t.Parallel()

	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		assert.Len(t, next, 26)
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestTimeRoundTrip(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	s := New()

	got, err := Time(strings.ToLower(s))
	require.NoError(t, err)
	assert.True(t, got.After(before))

	_, err = Time("not-a-ulid")
	assert.Error(t, err)
}
