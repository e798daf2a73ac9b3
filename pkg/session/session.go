// Package session implements one live, authenticated connection to one
// peer instance: the handshake, the multiplexed command protocol, and the
// per-session sender scheduler, per §4.5-§4.8 of the specification.
package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/teapotnet/teapotnet/pkg/crypto"
	"github.com/teapotnet/teapotnet/pkg/identifier"
	"github.com/teapotnet/teapotnet/pkg/peering"
	"github.com/teapotnet/teapotnet/pkg/proto"
	"github.com/teapotnet/teapotnet/pkg/request"
)

// ChunkSize is the default I/O buffer size for data chunks, per §4.8.
const ChunkSize = 4096

// ErrClosed is returned by operations attempted on a session that has
// already terminated.
var ErrClosed = errors.New("session: closed")

// ErrAuthFailed indicates the authentication digest did not match.
var ErrAuthFailed = errors.New("session: authentication failed")

// Config carries the timeouts named in §6.
type Config struct {
	HandshakeTimeout time.Duration // tpot_timeout, default 15s
	ReadTimeout      time.Duration // tpot_read_timeout, default 60s
	Application      string
	Version          string
	Instance         string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 15 * time.Second,
		ReadTimeout:      60 * time.Second,
		Application:      "teapotnet",
		Version:          "1",
	}
}

// Delegate is how a Session reaches back into the owning core registry:
// dispatch of inbound messages/requests to application code. The peering
// lookup for handshake step 2 is handed to Accept separately.
type Delegate interface {
	// OnMessage delivers an inbound message.
	OnMessage(sess *Session, msg *request.Message)
	// OnRequest delivers an inbound request. The delegate is responsible
	// for eventually calling sess.Respond for reqID.
	OnRequest(sess *Session, reqID uint64, target string, isData bool, parameters map[string]string)
}

// Session is one live connection to one authenticated peer instance.
type Session struct {
	conn     net.Conn
	cipher   *crypto.Stream
	reader   *proto.Reader
	writer   *proto.Writer
	delegate Delegate
	cfg      Config

	incoming bool

	mu            sync.RWMutex
	authenticated bool
	localPeering  identifier.Identifier
	remotePeering identifier.Identifier
	registration  *peering.Registration

	nextChannel uint32

	outboundRequests     map[uint64]*request.Request
	inboundResponseSinks map[uint32]*request.Response // channel -> response we're receiving content for
	inboundRequests      map[uint64]*inboundRequest    // requests this peer sent us, not fully answered

	sender *sender

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

type inboundRequest struct {
	target string
	isData bool
}

func newSession(conn net.Conn, incoming bool, delegate Delegate, cfg Config) (*Session, error) {
	cs, err := crypto.NewStream(conn)
	if err != nil {
		return nil, err
	}
	s := &Session{
		conn:                 conn,
		cipher:               cs,
		reader:                proto.NewReader(cs),
		writer:                proto.NewWriter(cs),
		delegate:              delegate,
		cfg:                   cfg,
		incoming:              incoming,
		outboundRequests:      make(map[uint64]*request.Request),
		inboundResponseSinks:  make(map[uint32]*request.Response),
		inboundRequests:       make(map[uint64]*inboundRequest),
		closed:                make(chan struct{}),
	}
	s.sender = newSender(s)
	return s, nil
}

// RemotePeering returns the peer's peering id once authenticated.
func (s *Session) RemotePeering() identifier.Identifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remotePeering
}

// LocalPeering returns this session's negotiated local peering id.
func (s *Session) LocalPeering() identifier.Identifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localPeering
}

// Authenticated reports whether the handshake has completed successfully.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// RemoteAddr returns the underlying socket's remote address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Done returns a channel closed when the session terminates.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Err returns the reason the session terminated, once Done is closed.
func (s *Session) Err() error { return s.closeErr }

// BytesRead returns the total plaintext bytes received on this session.
func (s *Session) BytesRead() uint64 { return s.cipher.BytesRead() }

// BytesWritten returns the total plaintext bytes sent on this session.
func (s *Session) BytesWritten() uint64 { return s.cipher.BytesWritten() }

// allocChannel returns the next monotonically increasing local channel id
// for data this session sends.
func (s *Session) allocChannel() uint32 {
	return atomic.AddUint32(&s.nextChannel, 1)
}

// SendMessage enqueues an outbound message for the sender scheduler.
func (s *Session) SendMessage(msg *request.Message) {
	s.sender.enqueueMessage(msg)
}

// SubmitRequest enqueues an outbound request header for the sender
// scheduler and records it for demultiplexing the eventual R frames.
func (s *Session) SubmitRequest(req *request.Request) {
	s.mu.Lock()
	s.outboundRequests[req.ID] = req
	s.mu.Unlock()
	s.sender.enqueueRequest(req)
}

// CancelRequest sends a Cancel frame for every open channel belonging to
// req and removes it from the local table, per §4.7.
func (s *Session) CancelRequest(req *request.Request) {
	s.mu.Lock()
	delete(s.outboundRequests, req.ID)
	var channels []uint32
	for ch, resp := range s.inboundResponseSinks {
		for _, r := range req.Responses() {
			if r == resp {
				channels = append(channels, ch)
			}
		}
	}
	for _, ch := range channels {
		delete(s.inboundResponseSinks, ch)
	}
	s.mu.Unlock()

	for _, ch := range channels {
		s.sender.enqueueCancel(ch)
	}
}

// Respond queues one response to an inbound request. final indicates
// whether this is the last response for reqID: non-final responses are
// sent with wire status Pending regardless of status, per §4.8.
func (s *Session) Respond(reqID uint64, final bool, status proto.Status, parameters map[string]string, content io.Reader) {
	wireStatus := proto.StatusPending
	if final {
		wireStatus = status
	}
	s.sender.enqueueResponse(reqID, wireStatus, parameters, content)
	if final {
		s.mu.Lock()
		delete(s.inboundRequests, reqID)
		s.mu.Unlock()
	}
}

// Close terminates the session: closes the socket, aborts every in-flight
// outbound request as Interrupted, and stops the sender.
func (s *Session) Close(err error) {
	s.closeOnce.Do(func() {
		if err == nil {
			err = io.EOF
		}
		s.closeErr = err
		s.conn.Close()
		s.sender.stop()

		s.mu.Lock()
		sinks := make([]*request.Response, 0, len(s.inboundResponseSinks))
		for _, resp := range s.inboundResponseSinks {
			sinks = append(sinks, resp)
		}
		reqs := make([]*request.Request, 0, len(s.outboundRequests))
		for _, r := range s.outboundRequests {
			reqs = append(reqs, r)
		}
		s.inboundResponseSinks = make(map[uint32]*request.Response)
		s.outboundRequests = make(map[uint64]*request.Request)
		remote := s.remotePeering
		s.mu.Unlock()

		for _, resp := range sinks {
			resp.CloseWithError(proto.StatusInterrupted, ErrClosed)
		}
		for _, r := range reqs {
			r.RemovePending(remote)
		}
		close(s.closed)
	})
}

func (s *Session) logger() *log.Entry {
	return log.WithField("component", "session").WithField("remote", s.conn.RemoteAddr().String())
}

func (s *Session) setDeadline() {
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
}

// readLoop is the inbound demultiplexer: cipher(decrypt) -> command parser
// -> dispatch. Runs on its own goroutine until the socket closes or a
// protocol error occurs, both of which are treated as network I/O failure
// per §7.
func (s *Session) readLoop() {
	for {
		s.setDeadline()
		cmd, err := s.reader.ReadCommand()
		if err != nil {
			s.Close(fmt.Errorf("session: read: %w", err))
			return
		}
		if err := s.dispatch(cmd); err != nil {
			s.Close(fmt.Errorf("session: dispatch: %w", err))
			return
		}
	}
}

func (s *Session) dispatch(cmd proto.Command) error {
	switch cmd.Verb {
	case proto.VerbKeepAlive:
		return nil
	case proto.VerbMessage:
		return s.handleMessage(cmd)
	case proto.VerbRequest, proto.VerbRequestG:
		return s.handleRequest(cmd)
	case proto.VerbResponse:
		return s.handleResponseHeader(cmd)
	case proto.VerbData:
		return s.handleData(cmd)
	case proto.VerbError:
		return s.handleError(cmd)
	case proto.VerbCancel:
		return s.handleCancel(cmd)
	default:
		if length := cmd.Length(); length > 0 {
			return s.reader.DiscardBody(length)
		}
		s.logger().Warnf("unknown verb %q", cmd.Verb)
		return nil
	}
}
