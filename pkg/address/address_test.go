package address

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextRoundTrip(t *testing.T) {
	cases := []string{"192.168.1.10:9876", "[2001:db8::1]:443"}
	for _, s := range cases {
		a, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, s, a.String())
	}
}

func TestBinaryRoundTripIPv4(t *testing.T) {
	a, err := Parse("10.0.0.1:1234")
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	_, err = a.WriteTo(buf)
	require.NoError(t, err)

	var got Address
	_, err = got.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, a.String(), got.String())
	assert.Equal(t, FamilyIPv4, got.Family)
}

func TestBinaryRoundTripIPv6(t *testing.T) {
	a, err := Parse("[::1]:8080")
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	_, err = a.WriteTo(buf)
	require.NoError(t, err)

	var got Address
	_, err = got.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, a.String(), got.String())
	assert.Equal(t, FamilyIPv6, got.Family)
}

func TestBinaryRoundTripNull(t *testing.T) {
	buf := &bytes.Buffer{}
	_, err := Null.WriteTo(buf)
	require.NoError(t, err)

	var got Address
	_, err = got.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, FamilyNull, got.Family)
	assert.Equal(t, "", got.String())
}
