package crypto

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// loopback is an io.ReadWriter backed by two independent byte buffers, one
// per direction, so encrypt/decrypt round-trips can be tested without a
// real socket.
type loopback struct {
	out *bytes.Buffer
	in  *bytes.Buffer
}

func (l *loopback) Write(p []byte) (int, error) { return l.out.Write(p) }
func (l *loopback) Read(p []byte) (int, error)  { return l.in.Read(p) }

func TestCipherRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 17, 4096, 1 << 20}
	for _, size := range sizes {
		plaintext := make([]byte, size)
		rand.New(rand.NewSource(int64(size))).Read(plaintext)

		wire := &bytes.Buffer{}
		writer, err := NewStream(&loopback{out: wire, in: bytes.NewBuffer(nil)})
		require.NoError(t, err)
		_, err = writer.Write(plaintext)
		require.NoError(t, err)

		reader, err := NewStream(&loopback{out: bytes.NewBuffer(nil), in: wire})
		require.NoError(t, err)
		got := make([]byte, size)
		_, err = io.ReadFull(reader, got)
		if size > 0 {
			require.NoError(t, err)
		}
		require.True(t, bytes.Equal(plaintext, got), "size=%d", size)
	}
}

func TestCipherRekeyChangesOutput(t *testing.T) {
	wire := &bytes.Buffer{}
	s, err := NewStream(&loopback{out: wire, in: bytes.NewBuffer(nil)})
	require.NoError(t, err)

	plaintext := []byte("same plaintext before and after rekey")
	_, err = s.Write(plaintext)
	require.NoError(t, err)
	before := append([]byte(nil), wire.Bytes()...)
	wire.Reset()

	err = s.Rekey(nil, nil, []byte("0123456789abcdef0123456789abcdef"), []byte("0123456789abcdef"))
	require.NoError(t, err)
	_, err = s.Write(plaintext)
	require.NoError(t, err)

	require.False(t, bytes.Equal(before, wire.Bytes()), "ciphertext must change after rekey")
}

func TestCipherDumpTeesCiphertext(t *testing.T) {
	wire := &bytes.Buffer{}
	writer, err := NewStream(&loopback{out: wire, in: bytes.NewBuffer(nil)})
	require.NoError(t, err)
	_, err = writer.Write([]byte("hello rendezvous"))
	require.NoError(t, err)

	dump := &bytes.Buffer{}
	reader, err := NewStream(&loopback{out: bytes.NewBuffer(nil), in: bytes.NewBuffer(wire.Bytes())})
	require.NoError(t, err)
	reader.SetDump(dump)

	got := make([]byte, wire.Len())
	_, err = io.ReadFull(reader, got)
	require.NoError(t, err)
	require.Equal(t, wire.Bytes(), dump.Bytes())
}
