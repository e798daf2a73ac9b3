// Package peering implements the process-wide table mapping a local
// peering id to its remote counterpart, shared secret, and listener
// callback — the address book's view of the session core, per §3.
package peering

import (
	"fmt"
	"sync"

	"github.com/teapotnet/teapotnet/pkg/crypto"
	"github.com/teapotnet/teapotnet/pkg/identifier"
	"github.com/teapotnet/teapotnet/pkg/request"
)

// Listener receives messages and requests addressed to a registered
// peering, regardless of which session instance delivered them.
type Listener interface {
	OnMessage(msg *request.Message)
	OnRequest(req *request.Request)
}

// Registration is one contact's local view of a friendship: its own
// peering id, the peer's peering id, the shared secret the handshake
// authenticates against, and the callback capability for traffic
// addressed to it.
type Registration struct {
	LocalPeering  identifier.Identifier
	RemotePeering identifier.Identifier
	Secret        []byte
	Listener      Listener
}

// Registry is the core's process-wide peering table. Created contacts
// register here; removed contacts unregister. Per the §3 invariant, every
// authenticated session's negotiated local peering has a corresponding
// entry here, unless the session is a transient rendezvous-forwarding
// role.
type Registry struct {
	mu      sync.RWMutex
	byLocal map[identifier.Identifier]*Registration
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{byLocal: make(map[identifier.Identifier]*Registration)}
}

// AddContact derives the local/remote peering ids from secret and the two
// usernames, registers a Registration for it, and returns it. localUser
// is this node's username, remoteUser the contact's.
func (r *Registry) AddContact(localUser, remoteUser string, secret []byte, listener Listener) (*Registration, error) {
	localDigest := crypto.DerivePeering(secret, localUser, remoteUser)
	remoteDigest := crypto.DerivePeering(secret, remoteUser, localUser)

	localPeering, err := identifier.New(localDigest, "")
	if err != nil {
		return nil, fmt.Errorf("peering: %w", err)
	}
	remotePeering, err := identifier.New(remoteDigest, "")
	if err != nil {
		return nil, fmt.Errorf("peering: %w", err)
	}

	reg := &Registration{
		LocalPeering:  localPeering,
		RemotePeering: remotePeering,
		Secret:        secret,
		Listener:      listener,
	}

	r.mu.Lock()
	r.byLocal[localPeering] = reg
	r.mu.Unlock()
	return reg, nil
}

// RemoveContact unregisters the peering, e.g. on contact deletion.
func (r *Registry) RemoveContact(localPeering identifier.Identifier) {
	r.mu.Lock()
	delete(r.byLocal, localPeering.Base())
	r.mu.Unlock()
}

// Lookup finds the registration for a (base, name-stripped) local peering
// id, as received in a Hello's args.
func (r *Registry) Lookup(localPeering identifier.Identifier) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byLocal[localPeering.Base()]
	return reg, ok
}

// All returns a snapshot of every registration, used by the core to
// answer "peer:<target>" rendezvous-discovery requests.
func (r *Registry) All() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Registration, 0, len(r.byLocal))
	for _, reg := range r.byLocal {
		out = append(out, reg)
	}
	return out
}
