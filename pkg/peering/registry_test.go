package peering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teapotnet/teapotnet/pkg/request"
)

type noopListener struct{}

func (noopListener) OnMessage(*request.Message) {}
func (noopListener) OnRequest(*request.Request) {}

func TestAddAndLookupContact(t *testing.T) {
	reg := NewRegistry()
	secret := []byte("shared-secret")

	a, err := reg.AddContact("alice", "bob", secret, noopListener{})
	require.NoError(t, err)

	found, ok := reg.Lookup(a.LocalPeering)
	require.True(t, ok)
	assert.True(t, found.LocalPeering.Equal(a.LocalPeering))
	assert.True(t, found.RemotePeering.Equal(a.RemotePeering))
}

func TestMirroredPeeringsAreDistinct(t *testing.T) {
	reg := NewRegistry()
	secret := []byte("shared-secret")

	a, err := reg.AddContact("alice", "bob", secret, noopListener{})
	require.NoError(t, err)

	// Bob's registry, same secret, swapped usernames.
	regB := NewRegistry()
	b, err := regB.AddContact("bob", "alice", secret, noopListener{})
	require.NoError(t, err)

	// The two directions of one friendship are different ids.
	assert.False(t, a.LocalPeering.Equal(a.RemotePeering))

	// A's remote peering (how A addresses B) equals B's local peering.
	assert.True(t, a.RemotePeering.Equal(b.LocalPeering))
	assert.True(t, b.RemotePeering.Equal(a.LocalPeering))
}

func TestRemoveContact(t *testing.T) {
	reg := NewRegistry()
	a, err := reg.AddContact("alice", "bob", []byte("secret"), noopListener{})
	require.NoError(t, err)

	reg.RemoveContact(a.LocalPeering)
	_, ok := reg.Lookup(a.LocalPeering)
	assert.False(t, ok)
}
