package identifier

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustID(t *testing.T, fill byte, name string) Identifier {
	t.Helper()
	digest := bytes.Repeat([]byte{fill}, Size)
	id, err := New(digest, name)
	require.NoError(t, err)
	return id
}

func TestEqualityAndOrdering(t *testing.T) {
	a := mustID(t, 1, "")
	b := mustID(t, 1, "")
	c := mustID(t, 2, "")
	d := mustID(t, 1, "phone")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d))
	assert.Equal(t, -1, a.Compare(c))
	assert.Equal(t, -1, a.Compare(d))
}

func TestBinaryRoundTrip(t *testing.T) {
	orig := mustID(t, 0xAB, "laptop")
	buf := &bytes.Buffer{}
	_, err := orig.WriteTo(buf)
	require.NoError(t, err)

	var got Identifier
	_, err = got.ReadFrom(buf)
	require.NoError(t, err)
	assert.True(t, orig.Equal(got))
}

func TestTextRoundTrip(t *testing.T) {
	orig := mustID(t, 0xCD, "desktop")
	s := orig.String()
	got, err := Parse(s)
	require.NoError(t, err)
	assert.True(t, orig.Equal(got))
}

func TestTextRoundTripNoName(t *testing.T) {
	orig := mustID(t, 0xEF, "")
	got, err := Parse(orig.String())
	require.NoError(t, err)
	assert.True(t, orig.Equal(got))
}

func TestIsNull(t *testing.T) {
	var zero Identifier
	assert.True(t, zero.IsNull())
	nonZero := mustID(t, 1, "")
	assert.False(t, nonZero.IsNull())
}
