package corenet

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teapotnet/teapotnet/pkg/identifier"
	"github.com/teapotnet/teapotnet/pkg/peering"
	"github.com/teapotnet/teapotnet/pkg/proto"
	"github.com/teapotnet/teapotnet/pkg/request"
	"github.com/teapotnet/teapotnet/pkg/session"
)

// recordingListener captures every message/request delivered to it, for
// assertions from the test goroutine.
type recordingListener struct {
	mu       sync.Mutex
	messages []*request.Message
	requests []*request.Request
	seen     chan struct{}
}

func newRecordingListener() *recordingListener {
	return &recordingListener{seen: make(chan struct{}, 16)}
}

func (l *recordingListener) OnMessage(msg *request.Message) {
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()
	l.seen <- struct{}{}
}

func (l *recordingListener) OnRequest(req *request.Request) {
	l.mu.Lock()
	l.requests = append(l.requests, req)
	l.mu.Unlock()
	l.seen <- struct{}{}
}

func (l *recordingListener) waitOne(t *testing.T) {
	t.Helper()
	select {
	case <-l.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Session.HandshakeTimeout = 2 * time.Second
	cfg.Session.ReadTimeout = 2 * time.Second
	return cfg
}

// handshakePair runs a real Connect/Accept handshake over an in-memory
// net.Pipe between two Cores already holding matching contacts, and
// registers both resulting sessions.
func handshakePair(t *testing.T, coreA, coreB *Core, ra *peering.Registration) (*session.Session, *session.Session) {
	t.Helper()
	connA, connB := net.Pipe()

	var sessA, sessB *session.Session
	var errA, errB error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sessB, errB = session.Accept(connB, coreB.lookupRegistration, coreB, coreB, coreB.cfg.Session)
	}()
	go func() {
		defer wg.Done()
		sessA, errA = session.Connect(connA, ra, coreA, coreA.cfg.Session)
	}()
	wg.Wait()
	require.NoError(t, errA)
	require.NoError(t, errB)
	t.Cleanup(func() {
		sessA.Close(nil)
		sessB.Close(nil)
	})
	return sessA, sessB
}

// newContactPair builds two registries sharing one "alice"/"bob" contact,
// each wired to its own recording listener.
func newContactPair(t *testing.T) (regA, regB *peering.Registry, ra, rb *peering.Registration, listenerA, listenerB *recordingListener) {
	t.Helper()
	regA = peering.NewRegistry()
	regB = peering.NewRegistry()
	listenerA = newRecordingListener()
	listenerB = newRecordingListener()

	secret := []byte("shared-test-secret-bytes-01234567")
	var err error
	ra, err = regA.AddContact("alice", "bob", secret, listenerA)
	require.NoError(t, err)
	rb, err = regB.AddContact("bob", "alice", secret, listenerB)
	require.NoError(t, err)
	return
}

func TestRegisterSessionDuplicateRuleKeepsFirst(t *testing.T) {
	regA, regB, ra, _, _, _ := newContactPair(t)
	coreA := New(testConfig(), regA, nil)
	coreB := New(testConfig(), regB, nil)

	sessA1, sessB1 := handshakePair(t, coreA, coreB, ra)
	require.True(t, coreB.registerSession(sessB1))

	sessA2, sessB2 := handshakePair(t, coreA, coreB, ra)
	_ = sessA1
	_ = sessA2

	require.False(t, coreB.registerSession(sessB2), "a second session for the same remote peering must lose")

	select {
	case <-sessB2.Done():
	case <-time.After(time.Second):
		t.Fatal("losing duplicate session was not closed")
	}

	current, ok := coreB.SessionFor(sessB1.RemotePeering())
	require.True(t, ok)
	require.Same(t, sessB1, current, "the first-registered session must remain active")
}

func TestSubmitRequestWithNoCandidatesCompletesImmediately(t *testing.T) {
	reg := peering.NewRegistry()
	core := New(testConfig(), reg, nil)

	req := request.New("resource:xyz", false, nil, identifier.Identifier{})
	id := core.SubmitRequest(req)
	require.NotZero(t, id)

	done := make(chan struct{})
	go func() {
		req.Wait(time.Second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("request with no candidate sessions should complete immediately")
	}
	require.Empty(t, req.PendingPeers())
}

func TestOnMessageDeliversToRegisteredListener(t *testing.T) {
	regA, regB, ra, _, _, listenerB := newContactPair(t)
	coreA := New(testConfig(), regA, nil)
	coreB := New(testConfig(), regB, nil)

	sessA, sessB := handshakePair(t, coreA, coreB, ra)
	require.True(t, coreA.registerSession(sessA))
	require.True(t, coreB.registerSession(sessB))

	msg := &request.Message{Receiver: sessA.RemotePeering(), Content: []byte("hello bob")}
	coreA.SendMessage(msg)

	listenerB.waitOne(t)
	listenerB.mu.Lock()
	defer listenerB.mu.Unlock()
	require.Len(t, listenerB.messages, 1)
	require.Equal(t, "hello bob", string(listenerB.messages[0].Content))
}

func TestOnRequestDeliversAndRespondsBack(t *testing.T) {
	regA, regB, ra, _, listenerA, listenerB := newContactPair(t)
	coreA := New(testConfig(), regA, nil)
	coreB := New(testConfig(), regB, nil)

	sessA, sessB := handshakePair(t, coreA, coreB, ra)
	require.True(t, coreA.registerSession(sessA))
	require.True(t, coreB.registerSession(sessB))

	req := request.New("resource:readme", false, nil, sessA.RemotePeering())
	coreA.SubmitRequest(req)

	listenerB.waitOne(t)
	listenerB.mu.Lock()
	inbound := listenerB.requests[0]
	listenerB.mu.Unlock()
	require.Equal(t, "resource:readme", inbound.Target)
	require.NotNil(t, inbound.Respond)

	inbound.Respond(true, proto.StatusSuccess, nil, nil)

	req.Wait(2 * time.Second)
	require.Empty(t, req.PendingPeers())
	require.Len(t, req.Responses(), 1)

	_ = listenerA // constructed but unused by this scenario beyond the pair setup
}
