package request

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teapotnet/teapotnet/pkg/identifier"
	"github.com/teapotnet/teapotnet/pkg/proto"
)

func peerID(fill byte) identifier.Identifier {
	digest := make([]byte, identifier.Size)
	for i := range digest {
		digest[i] = fill
	}
	id, _ := identifier.New(digest, "")
	return id
}

func TestRequestWaitCompletesWhenPendingEmpties(t *testing.T) {
	r := New("file:/doc.txt", true, nil, identifier.Identifier{})
	peer := peerID(1)
	r.Submit(1, []identifier.Identifier{peer})
	require.True(t, r.IsPending(peer))

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.AddResponse(peer, proto.StatusSuccess, nil, 0)
	}()

	start := time.Now()
	r.Wait(time.Second)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Empty(t, r.PendingPeers())
}

func TestRequestWaitTimesOut(t *testing.T) {
	r := New("file:/doc.txt", true, nil, identifier.Identifier{})
	peer := peerID(2)
	r.Submit(2, []identifier.Identifier{peer})

	start := time.Now()
	r.Wait(30 * time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.NotEmpty(t, r.PendingPeers())
}

func TestPendingResponseLeavesPeerPending(t *testing.T) {
	r := New("file:/doc.txt", true, nil, identifier.Identifier{})
	peer := peerID(3)
	r.Submit(3, []identifier.Identifier{peer})

	r.AddResponse(peer, proto.StatusPending, nil, 7)
	assert.True(t, r.IsPending(peer))

	r.AddResponse(peer, proto.StatusSuccess, nil, 0)
	assert.False(t, r.IsPending(peer))
}

func TestResponseContentPipe(t *testing.T) {
	r := New("file:/doc.txt", true, nil, identifier.Identifier{})
	peer := peerID(4)
	r.Submit(4, []identifier.Identifier{peer})

	resp := r.AddResponse(peer, proto.StatusPending, map[string]string{"size": "8195"}, 1)
	require.True(t, resp.HasContent())

	payload := []byte("01234567")
	go func() {
		resp.WriteChunk(payload)
		resp.Close()
	}()

	got, err := io.ReadAll(resp.Content())
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.True(t, resp.TransferFinished())
}

func TestMarkCompleteWithNoCandidates(t *testing.T) {
	r := New("peer:abc", false, nil, identifier.Identifier{})
	r.Submit(5, nil)
	r.MarkComplete()
	r.Wait(time.Second)
	assert.Empty(t, r.Responses())
}
