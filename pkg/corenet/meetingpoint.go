package corenet

import (
	"io"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/teapotnet/teapotnet/pkg/admin"
	"github.com/teapotnet/teapotnet/pkg/syncutil"
)

// pendingLeg is one raw, still-obfuscated connection waiting to be paired
// at the meeting point, along with the obfuscated bytes already consumed
// from it while its Hello was parsed.
type pendingLeg struct {
	conn  net.Conn
	hello []byte
}

// slot is the per-key (per rendezvous target) pairing point: a mutex, one
// Syncer bound to it, and at most one leg waiting for its partner. Keeping
// one Syncer per key, rather than a single process-wide condvar, means
// pairing one meeting point never wakes goroutines waiting on unrelated
// ones.
type slot struct {
	mu      sync.Mutex
	sync    *syncutil.Syncer
	waiting *pendingLeg
	paired  map[net.Conn]bool
}

func newSlot() *slot {
	s := &slot{paired: make(map[net.Conn]bool)}
	s.sync = syncutil.NewSyncer(&s.mu)
	return s
}

// MeetingPoint is the core's process-wide rendezvous table (§4.6): it
// pairs two pending, still-obfuscated legs that name the same target
// key, then splices them so the real peer-to-peer handshake can continue
// across the wire transparently.
type MeetingPoint struct {
	timeout time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

// NewMeetingPoint constructs an empty meeting point. timeout bounds how
// long a leg waits for its partner before the intermediary gives up and
// closes both sides.
func NewMeetingPoint(timeout time.Duration) *MeetingPoint {
	return &MeetingPoint{timeout: timeout, slots: make(map[string]*slot)}
}

func (m *MeetingPoint) getSlot(key string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		s = newSlot()
		m.slots[key] = s
	}
	return s
}

func (m *MeetingPoint) dropSlot(key string, s *slot) {
	m.mu.Lock()
	if m.slots[key] == s {
		delete(m.slots, key)
	}
	m.mu.Unlock()
}

// Join registers leg under key and blocks until a second leg arrives for
// the same key (returning both ends spliced) or the timeout elapses
// (closing leg and returning).
func (m *MeetingPoint) Join(key string, conn net.Conn, hello []byte) {
	s := m.getSlot(key)
	leg := pendingLeg{conn: conn, hello: hello}

	s.mu.Lock()
	if s.waiting != nil {
		other := *s.waiting
		s.waiting = nil
		s.paired[other.conn] = true
		s.sync.Broadcast()
		s.mu.Unlock()
		m.dropSlot(key, s)
		admin.RendezvousPairings.Inc()
		// This goroutine (the second leg to arrive) is the sole splicer:
		// the first leg's Join call only observes s.paired and returns.
		splice(leg, other)
		return
	}
	s.waiting = &leg
	s.mu.Unlock()

	s.mu.Lock()
	ok := s.sync.Wait(m.timeout, func() bool {
		return s.paired[leg.conn]
	})
	if !ok && s.waiting == &leg {
		s.waiting = nil
	}
	delete(s.paired, leg.conn)
	s.mu.Unlock()

	if !ok {
		admin.RendezvousTimeouts.Inc()
		log.WithField("component", "rendezvous").Warn("meeting point timed out waiting for partner")
		conn.Close()
	}
	// On success the partner's splice goroutine owns both connections
	// from here; this goroutine has nothing further to do.
}

// splice replays each leg's already-consumed obfuscated bytes to the
// other side, then copies raw bytes in both directions until either
// closes. The intermediary never decrypts this traffic: the two legs'
// own session handshake proceeds transparently across it.
func splice(a, b pendingLeg) {
	defer a.conn.Close()
	defer b.conn.Close()

	if len(b.hello) > 0 {
		if _, err := a.conn.Write(b.hello); err != nil {
			return
		}
	}
	if len(a.hello) > 0 {
		if _, err := b.conn.Write(a.hello); err != nil {
			return
		}
	}

	done := make(chan struct{}, 2)
	go func() { io.Copy(a.conn, b.conn); done <- struct{}{} }()
	go func() { io.Copy(b.conn, a.conn); done <- struct{}{} }()
	<-done
}
