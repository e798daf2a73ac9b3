package proto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWriter(buf)
	err := w.WriteCommand(VerbRequest, "42 file:/doc.txt", map[string]string{
		"Size": "8195",
	})
	require.NoError(t, err)

	r := NewReader(buf)
	cmd, err := r.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, VerbRequest, cmd.Verb)
	assert.Equal(t, "42 file:/doc.txt", cmd.Args)
	v, ok := cmd.Header("size")
	assert.True(t, ok)
	assert.Equal(t, "8195", v)
}

func TestHeaderCaseInsensitive(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWriter(buf)
	err := w.WriteCommand(VerbData, "7", map[string]string{"Length": "4096"})
	require.NoError(t, err)

	r := NewReader(buf)
	cmd, err := r.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, 4096, cmd.Length())
}

func TestDataBodyRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWriter(buf)
	body := []byte("hello world this is a data chunk")
	err := w.WriteCommand(VerbData, "3", map[string]string{"length": "32"})
	require.NoError(t, err)
	require.NoError(t, w.WriteBody(body))

	r := NewReader(buf)
	cmd, err := r.ReadCommand()
	require.NoError(t, err)
	got, err := r.ReadBody(cmd.Length())
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestMalformedCommandIsError(t *testing.T) {
	r := NewReader(bytes.NewBufferString("X\r\n\r\n"))
	_, err := r.ReadCommand()
	assert.Error(t, err)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusInterrupted.Terminal())
}
