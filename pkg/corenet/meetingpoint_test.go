package corenet

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMeetingPointPairsAndSplicesLegs(t *testing.T) {
	mp := NewMeetingPoint(time.Second)

	connA, clientA := net.Pipe()
	connB, clientB := net.Pipe()
	t.Cleanup(func() {
		clientA.Close()
		clientB.Close()
	})

	go mp.Join("rendezvous-key", connA, []byte("HELLO-A"))
	go mp.Join("rendezvous-key", connB, []byte("HELLO-B"))

	bufA := make([]byte, len("HELLO-B"))
	_, err := readFull(t, clientA, bufA)
	require.NoError(t, err)
	require.Equal(t, "HELLO-B", string(bufA))

	bufB := make([]byte, len("HELLO-A"))
	_, err = readFull(t, clientB, bufB)
	require.NoError(t, err)
	require.Equal(t, "HELLO-A", string(bufB))

	_, err = clientA.Write([]byte("ping"))
	require.NoError(t, err)
	got := make([]byte, 4)
	_, err = readFull(t, clientB, got)
	require.NoError(t, err)
	require.Equal(t, "ping", string(got))

	_, err = clientB.Write([]byte("pong"))
	require.NoError(t, err)
	got2 := make([]byte, 4)
	_, err = readFull(t, clientA, got2)
	require.NoError(t, err)
	require.Equal(t, "pong", string(got2))
}

func TestMeetingPointTimesOutAndClosesLeg(t *testing.T) {
	mp := NewMeetingPoint(30 * time.Millisecond)

	conn, client := net.Pipe()
	t.Cleanup(func() { client.Close() })

	joined := make(chan struct{})
	go func() {
		mp.Join("lonely-key", conn, []byte("HELLO"))
		close(joined)
	}()

	select {
	case <-joined:
	case <-time.After(2 * time.Second):
		t.Fatal("Join did not return after timing out")
	}

	buf := make([]byte, 1)
	_, err := client.Read(buf)
	require.Error(t, err, "the partnerless leg's connection should have been closed")
}

func readFull(t *testing.T, conn net.Conn, buf []byte) (int, error) {
	t.Helper()
	total := 0
	for total < len(buf) {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
