package session

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teapotnet/teapotnet/pkg/crypto"
	"github.com/teapotnet/teapotnet/pkg/proto"
	"github.com/teapotnet/teapotnet/pkg/request"
)

// peerReader decrypts and parses commands written by a Session under test,
// standing in for the other end of the connection without running a full
// handshake: both sides start in the same deterministic obfuscation state.
type peerReader struct {
	*proto.Reader
}

func newPeerReader(t *testing.T, conn net.Conn) peerReader {
	t.Helper()
	cs, err := crypto.NewStream(conn)
	require.NoError(t, err)
	return peerReader{Reader: proto.NewReader(cs)}
}

func newTestSender(t *testing.T) (*sender, peerReader) {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() { local.Close(); remote.Close() })

	sess, err := newSession(local, false, nil, DefaultConfig())
	require.NoError(t, err)
	snd := sess.sender
	snd.start()
	t.Cleanup(snd.stop)

	return snd, newPeerReader(t, remote)
}

func TestSenderSendsMessagesBeforeRequestHeaders(t *testing.T) {
	snd, peer := newTestSender(t)

	req := &request.Request{ID: 7, Target: "peer:alice"}
	snd.enqueueRequest(req)
	snd.enqueueMessage(&request.Message{Content: []byte("hi")})

	cmd, err := peer.ReadCommand()
	require.NoError(t, err)
	require.Equal(t, proto.VerbMessage, cmd.Verb)
	require.NoError(t, peer.DiscardBody(cmd.Length()))

	cmd, err = peer.ReadCommand()
	require.NoError(t, err)
	require.Equal(t, proto.VerbRequest, cmd.Verb)
}

func TestSenderAnnouncesResponseWithNoContentOnce(t *testing.T) {
	snd, peer := newTestSender(t)

	snd.enqueueResponse(3, proto.StatusSuccess, nil, nil)

	cmd, err := peer.ReadCommand()
	require.NoError(t, err)
	require.Equal(t, proto.VerbResponse, cmd.Verb)
	require.Equal(t, "3 0 0", cmd.Args)

	require.Eventually(t, func() bool {
		snd.mu.Lock()
		defer snd.mu.Unlock()
		return len(snd.requestsToRespond) == 0
	}, time.Second, time.Millisecond, "a contentless response should be gc'd as done")
}

func TestSenderDrivesTransferThenEOF(t *testing.T) {
	snd, peer := newTestSender(t)

	snd.enqueueResponse(9, proto.StatusSuccess, nil, strings.NewReader("hello"))

	announce, err := peer.ReadCommand()
	require.NoError(t, err)
	require.Equal(t, proto.VerbResponse, announce.Verb)

	data, err := peer.ReadCommand()
	require.NoError(t, err)
	require.Equal(t, proto.VerbData, data.Verb)
	require.Equal(t, 5, data.Length())
	body, err := peer.ReadBody(5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))

	eof, err := peer.ReadCommand()
	require.NoError(t, err)
	require.Equal(t, proto.VerbData, eof.Verb)
	require.Equal(t, 0, eof.Length())
}

func TestSenderSendsKeepAliveWhenIdle(t *testing.T) {
	local, remote := net.Pipe()
	t.Cleanup(func() { local.Close(); remote.Close() })

	cfg := DefaultConfig()
	cfg.ReadTimeout = 20 * time.Millisecond
	sess, err := newSession(local, false, nil, cfg)
	require.NoError(t, err)
	sess.sender.start()
	t.Cleanup(sess.sender.stop)

	peer := newPeerReader(t, remote)
	cmd, err := peer.ReadCommand()
	require.NoError(t, err)
	require.Equal(t, proto.VerbKeepAlive, cmd.Verb)
}
