package request

import (
	"io"
	"sync"
	"time"

	"github.com/teapotnet/teapotnet/pkg/identifier"
	"github.com/teapotnet/teapotnet/pkg/proto"
	"github.com/teapotnet/teapotnet/pkg/syncutil"
)

// Request is an outbound or inbound RPC with possibly many streaming
// responses, one per answering peer. Per invariant 2, a Request is only
// reachable from the core's request table once ID != 0.
type Request struct {
	mu     sync.Mutex
	syncer *syncutil.Syncer

	ID         uint64
	Target     string
	IsData     bool
	Parameters map[string]string
	Receiver   identifier.Identifier // null identifier means broadcast

	// ContentSink, if set, receives the content of every data-carrying
	// response as it arrives (used by the splicer to plumb a response
	// directly into a striped file view). The session copies the
	// response's pipe into the sink, so that pipe is already being
	// drained and its Content is not a second copy for the caller.
	ContentSink io.Writer

	// Respond answers this request. Only set on requests delivered inbound
	// (via a session.Delegate.OnRequest callback): the core attaches a
	// closure that routes the answer back to the originating session and
	// channel. Outbound requests leave this nil.
	Respond func(final bool, status proto.Status, parameters map[string]string, content io.Reader)

	pendingPeers map[identifier.Identifier]struct{}
	responses    []*Response
}

// New constructs an unsubmitted request (ID == 0).
func New(target string, isData bool, parameters map[string]string, receiver identifier.Identifier) *Request {
	r := &Request{
		Target:       target,
		IsData:       isData,
		Parameters:   parameters,
		Receiver:     receiver,
		pendingPeers: make(map[identifier.Identifier]struct{}),
	}
	r.syncer = syncutil.NewSyncer(&r.mu)
	return r
}

// Submit assigns the request's id and initial pending peer set. Called
// exactly once by the core registry on addRequest.
func (r *Request) Submit(id uint64, peers []identifier.Identifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ID = id
	for _, p := range peers {
		r.pendingPeers[p] = struct{}{}
	}
}

// PendingPeers returns a snapshot of the peers still expected to respond.
func (r *Request) PendingPeers() []identifier.Identifier {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]identifier.Identifier, 0, len(r.pendingPeers))
	for p := range r.pendingPeers {
		out = append(out, p)
	}
	return out
}

// IsPending reports whether peer is still expected to answer further.
func (r *Request) IsPending(peer identifier.Identifier) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pendingPeers[peer]
	return ok
}

// RemovePending drops peer from the pending set, e.g. because its session
// was lost (Interrupted) or its last response was terminal. Notifies any
// waiter if the pending set becomes empty.
func (r *Request) RemovePending(peer identifier.Identifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pendingPeers, peer)
	if len(r.pendingPeers) == 0 {
		r.syncer.Broadcast()
	}
}

// AddResponse records a new Response for peer and, if its status is
// terminal, removes peer from the pending set. Returns the created
// Response so the caller (the session's inbound path) can feed it D
// frames.
func (r *Request) AddResponse(peer identifier.Identifier, status proto.Status, parameters map[string]string, channel uint32) *Response {
	resp := NewResponse(peer, status, parameters, channel)

	r.mu.Lock()
	r.responses = append(r.responses, resp)
	if status.Terminal() {
		delete(r.pendingPeers, peer)
	}
	empty := len(r.pendingPeers) == 0
	r.mu.Unlock()

	if empty {
		r.mu.Lock()
		r.syncer.Broadcast()
		r.mu.Unlock()
	}
	return resp
}

// Responses returns a snapshot of the responses recorded so far.
func (r *Request) Responses() []*Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Response, len(r.responses))
	copy(out, r.responses)
	return out
}

// Wait blocks until the pending set is empty or timeout elapses,
// whichever comes first, per the §5 request.wait(timeout) contract.
func (r *Request) Wait(timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncer.Wait(timeout, func() bool { return len(r.pendingPeers) == 0 })
}

// MarkComplete is used by addRequest when there are no candidate peers at
// submission time: the request is immediately considered answered with
// zero responses.
func (r *Request) MarkComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingPeers = make(map[identifier.Identifier]struct{})
	r.syncer.Broadcast()
}
