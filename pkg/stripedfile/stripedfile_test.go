package stripedfile

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestStripesPartitionFile writes interleaved stripes of a super-block and
// verifies the whole backing file matches the expected concatenation,
// exercising invariant 5: reading stripe i yields exactly the bytes whose
// offset within each blockSize super-block falls in
// [i*stripeSize, (i+1)*stripeSize).
func TestStripesPartitionFile(t *testing.T) {
	const blockSize = 12
	const stripeCount = 3
	const stripeSize = blockSize / stripeCount

	f, err := os.CreateTemp(t.TempDir(), "striped")
	require.NoError(t, err)
	defer f.Close()

	stripes := make([]*StripedFile, stripeCount)
	for i := 0; i < stripeCount; i++ {
		sf, err := Open(f, blockSize, stripeCount, int64(i))
		require.NoError(t, err)
		stripes[i] = sf
	}

	// Two super-blocks, each stripe gets its own distinguishable payload.
	for block := int64(0); block < 2; block++ {
		for i, sf := range stripes {
			sf.SeekWrite(block, 0)
			payload := make([]byte, stripeSize)
			for j := range payload {
				payload[j] = byte('A' + i)
			}
			n, err := sf.Write(payload)
			require.NoError(t, err)
			require.Equal(t, stripeSize, n)
		}
	}

	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	require.Len(t, data, blockSize*2)

	for block := 0; block < 2; block++ {
		for i := 0; i < stripeCount; i++ {
			for j := 0; j < stripeSize; j++ {
				p := block*blockSize + i*stripeSize + j
				require.Equal(t, byte('A'+i), data[p], "block=%d stripe=%d byte=%d", block, i, j)
			}
		}
	}
}

func TestReadAfterWriteSameStripe(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "striped")
	require.NoError(t, err)
	defer f.Close()

	sf, err := Open(f, 8, 2, 0)
	require.NoError(t, err)

	sf.SeekWrite(0, 0)
	_, err = sf.Write([]byte("ABCD"))
	require.NoError(t, err)
	sf.SeekWrite(1, 0)
	_, err = sf.Write([]byte("EFGH"))
	require.NoError(t, err)

	sf.SeekRead(0, 0)
	got := make([]byte, 8)
	n, err := sf.Read(got)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, "ABCDEFGH", string(got))
}

func TestSeekWritePastEndOfFilePreallocates(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "striped")
	require.NoError(t, err)
	defer f.Close()

	sf, err := Open(f, 4, 1, 0)
	require.NoError(t, err)
	sf.SeekWrite(5, 0) // far past EOF
	_, err = sf.Write([]byte("X"))
	require.NoError(t, err)

	info, err := f.Stat()
	require.NoError(t, err)
	require.GreaterOrEqual(t, info.Size(), int64(5*4+1))
}
