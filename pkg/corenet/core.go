// Package corenet implements the session core: the process-wide registry
// tying a throttled TCP accept loop, the peering table, the rendezvous
// meeting point, and the outbound request table together, per §4.9 of
// the specification.
package corenet

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/teapotnet/teapotnet/pkg/address"
	"github.com/teapotnet/teapotnet/pkg/admin"
	"github.com/teapotnet/teapotnet/pkg/identifier"
	"github.com/teapotnet/teapotnet/pkg/peering"
	"github.com/teapotnet/teapotnet/pkg/proto"
	"github.com/teapotnet/teapotnet/pkg/request"
	"github.com/teapotnet/teapotnet/pkg/session"
)

const peerLookupPrefix = "peer:"

// Config carries the corenet-level settings named in §6 that aren't
// already part of session.Config.
type Config struct {
	ListenAddress  string
	AcceptRate     rate.Limit // connections/second, default 4
	AcceptBurst    int
	MeetingTimeout time.Duration // default 30s; each step uses min(meeting_timeout/3, request_timeout)
	RequestTimeout time.Duration // default 20s
	Session        session.Config
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		AcceptRate:     4,
		AcceptBurst:    4,
		MeetingTimeout: 30 * time.Second,
		RequestTimeout: 20 * time.Second,
		Session:        session.DefaultConfig(),
	}
}

func (c Config) meetingStepTimeout() time.Duration {
	step := c.MeetingTimeout / 3
	if c.RequestTimeout < step {
		return c.RequestTimeout
	}
	return step
}

// Core is the single explicitly-constructed registry a daemon builds at
// startup: no package-level globals (§9). It implements both
// session.Delegate and session.Rendezvous.
type Core struct {
	cfg      Config
	peerings *peering.Registry
	meeting  *MeetingPoint

	listener net.Listener
	limiter  *rate.Limiter

	mu                sync.Mutex
	sessionsByPeering map[identifier.Identifier]*session.Session
	lastRequestID     uint64
	requests          map[uint64]*request.Request
	inboundRequests   map[inboundKey]*request.Request
	publicAddresses   []address.Address

	closeOnce sync.Once
	closed    chan struct{}
}

// inboundKey identifies a request received from a peer: the peer assigns
// the id from its own counter, so the same reqID can legitimately arrive
// from two different remote peerings at once. Pairing it with the sender's
// remote peering keeps inbound entries unique without touching the
// separate, core-assigned id space used for outbound requests.
type inboundKey struct {
	remote identifier.Identifier
	reqID  uint64
}

// New constructs a Core bound to cfg and peerings. Call Listen to start
// accepting inbound connections.
func New(cfg Config, peerings *peering.Registry, publicAddresses []address.Address) *Core {
	return &Core{
		cfg:               cfg,
		peerings:          peerings,
		meeting:           NewMeetingPoint(cfg.meetingStepTimeout()),
		limiter:           rate.NewLimiter(cfg.AcceptRate, cfg.AcceptBurst),
		sessionsByPeering: make(map[identifier.Identifier]*session.Session),
		requests:          make(map[uint64]*request.Request),
		inboundRequests:   make(map[inboundKey]*request.Request),
		publicAddresses:   publicAddresses,
		closed:            make(chan struct{}),
	}
}

// pendingCountLocked returns the combined number of outbound and inbound
// requests currently tracked. Callers must hold c.mu.
func (c *Core) pendingCountLocked() int {
	return len(c.requests) + len(c.inboundRequests)
}

func (c *Core) logger() *log.Entry {
	return log.WithField("component", "corenet")
}

// Listen starts the accept loop on cfg.ListenAddress.
func (c *Core) Listen() error {
	ln, err := net.Listen("tcp", c.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("corenet: listen: %w", err)
	}
	c.listener = ln
	go c.acceptLoop()
	return nil
}

// Close stops accepting connections. Established sessions are left
// running; callers that want a full shutdown should also close every
// session they track.
func (c *Core) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.listener != nil {
			c.listener.Close()
		}
	})
}

func (c *Core) acceptLoop() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			c.logger().WithError(err).Warn("accept failed")
			return
		}
		if err := c.limiter.Wait(context.Background()); err != nil {
			conn.Close()
			continue
		}
		go c.handleAccept(conn)
	}
}

func (c *Core) handleAccept(conn net.Conn) {
	sess, err := session.Accept(conn, c.lookupRegistration, c, c, c.cfg.Session)
	if err != nil {
		if err != session.ErrRendezvous {
			c.logger().WithError(err).WithField("remote", conn.RemoteAddr()).Debug("handshake failed")
		}
		return
	}
	c.registerSession(sess)
}

// Connect dials addr and completes the initiating side of the handshake
// for reg, registering the resulting session on success.
func (c *Core) Connect(addr string, reg *peering.Registration) (*session.Session, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("corenet: dial: %w", err)
	}
	sess, err := session.Connect(conn, reg, c, c.cfg.Session)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if !c.registerSession(sess) {
		sess.Close(nil)
		return nil, fmt.Errorf("corenet: duplicate session for %s", reg.RemotePeering)
	}
	return sess, nil
}

// registerSession enforces the duplicate-session rule (§4.5): if another
// session for the same remote peering already exists, the new one loses
// and is closed; the existing session is kept.
func (c *Core) registerSession(sess *session.Session) bool {
	remote := sess.RemotePeering()
	c.mu.Lock()
	if existing, ok := c.sessionsByPeering[remote]; ok && existing.Err() == nil {
		c.mu.Unlock()
		c.logger().WithField("peering", remote.String()).Info("duplicate session, closing newest")
		sess.Close(nil)
		return false
	}
	c.sessionsByPeering[remote] = sess
	c.mu.Unlock()
	admin.SessionsActive.Inc()

	go func() {
		<-sess.Done()
		c.mu.Lock()
		if c.sessionsByPeering[remote] == sess {
			delete(c.sessionsByPeering, remote)
		}
		c.mu.Unlock()
		admin.SessionsActive.Dec()
		admin.BytesSent.Add(float64(sess.BytesWritten()))
		admin.BytesReceived.Add(float64(sess.BytesRead()))
	}()
	return true
}

func (c *Core) lookupRegistration(id identifier.Identifier) (*peering.Registration, bool) {
	return c.peerings.Lookup(id)
}

// sessionsSnapshot returns every currently live session.
func (c *Core) sessionsSnapshot() []*session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*session.Session, 0, len(c.sessionsByPeering))
	for _, s := range c.sessionsByPeering {
		out = append(out, s)
	}
	return out
}

// SessionFor returns the live session registered for a peering id, if any.
func (c *Core) SessionFor(remotePeering identifier.Identifier) (*session.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessionsByPeering[remotePeering]
	return s, ok
}

// SendMessage routes an outbound message to the session registered for
// msg.Receiver's base peering, or broadcasts to every live session when
// Receiver is null.
func (c *Core) SendMessage(msg *request.Message) {
	if msg.Receiver.IsNull() {
		for _, s := range c.sessionsSnapshot() {
			s.SendMessage(msg)
		}
		return
	}
	if s, ok := c.SessionFor(msg.Receiver.Base()); ok {
		s.SendMessage(msg)
	}
}

// candidatesFor returns the sessions a request addressed to receiver
// should be submitted to: just that peer if receiver is set, every live
// session otherwise.
func (c *Core) candidatesFor(receiver identifier.Identifier) []*session.Session {
	if receiver.IsNull() {
		return c.sessionsSnapshot()
	}
	if s, ok := c.SessionFor(receiver.Base()); ok {
		return []*session.Session{s}
	}
	return nil
}

// SubmitRequest assigns req a core-wide id, submits it to every candidate
// session for req.Receiver, and returns the assigned id. A request with
// no live candidate peers is marked complete immediately.
func (c *Core) SubmitRequest(req *request.Request) uint64 {
	candidates := c.candidatesFor(req.Receiver)

	c.mu.Lock()
	c.lastRequestID++
	id := c.lastRequestID
	c.requests[id] = req
	admin.RequestsPending.Set(float64(c.pendingCountLocked()))
	c.mu.Unlock()

	peers := make([]identifier.Identifier, 0, len(candidates))
	for _, s := range candidates {
		peers = append(peers, s.RemotePeering())
	}
	req.Submit(id, peers)

	if len(candidates) == 0 {
		req.MarkComplete()
		return id
	}
	for _, s := range candidates {
		s.SubmitRequest(req)
	}
	return id
}

// CancelRequest cancels req on every session it is still pending on and
// removes it from the core's request table.
func (c *Core) CancelRequest(req *request.Request) {
	c.mu.Lock()
	delete(c.requests, req.ID)
	admin.RequestsPending.Set(float64(c.pendingCountLocked()))
	c.mu.Unlock()

	for _, peer := range req.PendingPeers() {
		if s, ok := c.SessionFor(peer); ok {
			s.CancelRequest(req)
		}
	}
}

// OnMessage implements session.Delegate: it routes connect-hint control
// messages internally and otherwise delivers to the addressed peering's
// registered listener.
func (c *Core) OnMessage(sess *session.Session, msg *request.Message) {
	if msg.Parameters != nil && msg.Parameters[paramType] == typeConnectHint {
		c.handleConnectHint(msg.Parameters)
		return
	}
	reg, ok := c.peerings.Lookup(sess.LocalPeering())
	if !ok || reg.Listener == nil {
		return
	}
	reg.Listener.OnMessage(msg)
}

// OnRequest implements session.Delegate: "peer:<id>" targets are handled
// internally as rendezvous discovery queries (§4.6); everything else is
// delivered to the addressed peering's registered listener, which answers
// asynchronously via Core.Respond.
func (c *Core) OnRequest(sess *session.Session, reqID uint64, target string, isData bool, parameters map[string]string) {
	if strings.HasPrefix(target, peerLookupPrefix) {
		c.handlePeerLookup(sess, reqID, strings.TrimPrefix(target, peerLookupPrefix), parameters)
		return
	}

	reg, ok := c.peerings.Lookup(sess.LocalPeering())
	if !ok || reg.Listener == nil {
		sess.Respond(reqID, true, proto.StatusNotFound, nil, nil)
		return
	}

	req := request.New(target, isData, parameters, reg.LocalPeering)
	req.Respond = func(final bool, status proto.Status, respParameters map[string]string, content io.Reader) {
		c.Respond(sess, reqID, final, status, respParameters, content)
	}
	key := inboundKey{remote: sess.RemotePeering(), reqID: reqID}
	c.mu.Lock()
	c.inboundRequests[key] = req
	admin.RequestsPending.Set(float64(c.pendingCountLocked()))
	c.mu.Unlock()

	reg.Listener.OnRequest(req)
}

// Respond answers one inbound request previously delivered via OnRequest.
// The request is removed from the core's inbound table once final is true.
func (c *Core) Respond(sess *session.Session, reqID uint64, final bool, status proto.Status, parameters map[string]string, content io.Reader) {
	sess.Respond(reqID, final, status, parameters, content)
	if final {
		c.mu.Lock()
		delete(c.inboundRequests, inboundKey{remote: sess.RemotePeering(), reqID: reqID})
		admin.RequestsPending.Set(float64(c.pendingCountLocked()))
		c.mu.Unlock()
	}
}

var _ session.Delegate = (*Core)(nil)
var _ session.Rendezvous = (*Core)(nil)

// Forward implements session.Rendezvous: this node has no registration
// for targetPeering, so it broadcasts a "peer:<target>" lookup to its own
// connected peers (§4.6 step 1, case (c)) while joining the meeting point
// under targetPeering's text key, so that either the target dialing back
// in response to a connect-hint, or a second inbound leg naming the same
// target, can be spliced to this one.
func (c *Core) Forward(conn net.Conn, targetPeering identifier.Identifier, instance string, obfuscatedHello []byte) {
	go c.DiscoverPeer(targetPeering)
	c.meeting.Join(targetPeering.String(), conn, obfuscatedHello)
}
