package session

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/teapotnet/teapotnet/pkg/admin"
	"github.com/teapotnet/teapotnet/pkg/crypto"
	"github.com/teapotnet/teapotnet/pkg/identifier"
	"github.com/teapotnet/teapotnet/pkg/peering"
	"github.com/teapotnet/teapotnet/pkg/proto"
)

const (
	headerApplication = "application"
	headerVersion     = "version"
	headerNonce       = "nonce"
	headerInstance    = "instance"
	headerMethod      = "method"
	headerCipher      = "cipher"
	headerSalt        = "salt"

	authMethod = "DIGEST"
	authCipher = "AES256"
)

const nonceSize = 16

// ErrRendezvous is returned by Accept when the inbound Hello names a
// peering this node has no registration for, and responsibility for the
// connection has been handed to a Rendezvous for forwarding (§4.6).
var ErrRendezvous = errors.New("session: handed off to rendezvous")

// Rendezvous is the callback interface Accept uses when this node has no
// local registration for the target peering (Step 2 case (c)), but may be
// able to act as an intermediary for it. When a registration is found it
// is always used directly: the Hello's instance header is not compared
// with this node's instance, so a Hello naming another local instance is
// not forwarded.
type Rendezvous interface {
	// Forward takes ownership of conn, whose obfuscated Hello (args
	// targetPeering, the named instance, and the exact bytes already
	// consumed from the wire) has already been read. The implementation
	// is responsible for closing conn eventually.
	Forward(conn net.Conn, targetPeering identifier.Identifier, instance string, obfuscatedHello []byte)
}

type helloInfo struct {
	peeringArg string
	nonce      []byte
	instance   string
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("session: random: %w", err)
	}
	return b, nil
}

func (s *Session) sendHello(peeringArg string, nonce []byte) error {
	headers := map[string]string{
		headerApplication: s.cfg.Application,
		headerVersion:     s.cfg.Version,
		headerNonce:       hex.EncodeToString(nonce),
		headerInstance:    s.cfg.Instance,
	}
	return s.writer.WriteCommand(proto.VerbHello, peeringArg, headers)
}

func (s *Session) readHello() (helloInfo, error) {
	cmd, err := s.reader.ReadCommand()
	if err != nil {
		return helloInfo{}, err
	}
	if cmd.Verb != proto.VerbHello {
		return helloInfo{}, fmt.Errorf("session: expected Hello, got verb %q", cmd.Verb)
	}
	nonceHex, _ := cmd.Header(headerNonce)
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return helloInfo{}, fmt.Errorf("session: bad hello nonce: %w", err)
	}
	instance, _ := cmd.Header(headerInstance)
	return helloInfo{peeringArg: cmd.Args, nonce: nonce, instance: instance}, nil
}

type authInfo struct {
	digest []byte
	salt   []byte
}

func (s *Session) sendAuth(digest, salt []byte) error {
	headers := map[string]string{
		headerMethod: authMethod,
		headerCipher: authCipher,
		headerSalt:   hex.EncodeToString(salt),
	}
	return s.writer.WriteCommand(proto.VerbAuth, hex.EncodeToString(digest), headers)
}

func (s *Session) readAuth() (authInfo, error) {
	cmd, err := s.reader.ReadCommand()
	if err != nil {
		return authInfo{}, err
	}
	if cmd.Verb != proto.VerbAuth {
		return authInfo{}, fmt.Errorf("session: expected Auth, got verb %q", cmd.Verb)
	}
	digest, err := hex.DecodeString(cmd.Args)
	if err != nil {
		return authInfo{}, fmt.Errorf("session: bad auth digest: %w", err)
	}
	saltHex, _ := cmd.Header(headerSalt)
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return authInfo{}, fmt.Errorf("session: bad auth salt: %w", err)
	}
	return authInfo{digest: digest, salt: salt}, nil
}

// authenticateAndRekey runs steps 3-4 once both sides' peering digests and
// Hello nonces are known: exchange Auth, verify, derive directional
// session keys, and replace the cipher state in place.
func (s *Session) authenticateAndRekey(secret, localDigest, remoteDigest, nonceSelf, nonceOther []byte) error {
	saltSelf, err := randomBytes(nonceSize)
	if err != nil {
		return err
	}
	selfDigest := crypto.DeriveAuthDigest(secret, saltSelf, nonceOther, localDigest)
	if err := s.sendAuth(selfDigest, saltSelf); err != nil {
		return err
	}

	peerAuth, err := s.readAuth()
	if err != nil {
		return err
	}
	expected := crypto.DeriveAuthDigest(secret, peerAuth.salt, nonceSelf, remoteDigest)
	if !bytesEqual(expected, peerAuth.digest) {
		return ErrAuthFailed
	}

	s.mu.Lock()
	s.authenticated = true
	s.mu.Unlock()

	keyOut, ivOut := crypto.DeriveSessionKeys(secret, saltSelf, nonceOther, localDigest, nonceSelf)
	keyIn, ivIn := crypto.DeriveSessionKeys(secret, peerAuth.salt, nonceSelf, remoteDigest, nonceOther)
	if err := s.cipher.Rekey(keyIn, ivIn, keyOut, ivOut); err != nil {
		return err
	}
	admin.Rekeys.Inc()
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Connect performs the initiating side of the handshake (§4.5) over an
// already-dialed conn, using reg as this node's registration for the
// target peer, then starts the session's read loop and sender.
func Connect(conn net.Conn, reg *peering.Registration, delegate Delegate, cfg Config) (*Session, error) {
	s, err := newSession(conn, false, delegate, cfg)
	if err != nil {
		return nil, err
	}
	s.conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	defer s.conn.SetDeadline(time.Time{})

	nonceSelf, err := randomBytes(nonceSize)
	if err != nil {
		return nil, err
	}
	if err := s.sendHello(reg.RemotePeering.String(), nonceSelf); err != nil {
		return nil, fmt.Errorf("session: hello: %w", err)
	}
	peerHello, err := s.readHello()
	if err != nil {
		return nil, fmt.Errorf("session: hello: %w", err)
	}

	if err := s.authenticateAndRekey(reg.Secret, reg.LocalPeering.Digest[:], reg.RemotePeering.Digest[:], nonceSelf, peerHello.nonce); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.localPeering = reg.LocalPeering
	s.remotePeering = reg.RemotePeering
	s.registration = reg
	s.mu.Unlock()

	go s.readLoop()
	s.sender.start()
	return s, nil
}

// Accept performs the accepting side of the handshake over an
// already-accepted conn. lookup resolves a received peering id to this
// node's registration (Step 2 case a); rendez takes the connection over
// when lookup finds nothing.
func Accept(conn net.Conn, lookup func(identifier.Identifier) (*peering.Registration, bool), rendez Rendezvous, delegate Delegate, cfg Config) (*Session, error) {
	s, err := newSession(conn, true, delegate, cfg)
	if err != nil {
		return nil, err
	}
	s.conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))

	var captured bytes.Buffer
	s.cipher.SetDump(&captured)
	peerHello, err := s.readHello()
	if err != nil {
		s.cipher.SetDump(nil)
		return nil, fmt.Errorf("session: hello: %w", err)
	}
	targetID, err := identifier.Parse(peerHello.peeringArg)
	if err != nil {
		s.cipher.SetDump(nil)
		return nil, fmt.Errorf("session: bad hello target: %w", err)
	}

	reg, ok := lookup(targetID.Base())
	if !ok {
		s.cipher.SetDump(nil)
		if rendez == nil {
			return nil, fmt.Errorf("session: no registration for %s and no rendezvous available", targetID)
		}
		rendez.Forward(conn, targetID, peerHello.instance, captured.Bytes())
		return nil, ErrRendezvous
	}
	s.cipher.SetDump(nil)

	nonceSelf, err := randomBytes(nonceSize)
	if err != nil {
		return nil, err
	}
	if err := s.sendHello(reg.RemotePeering.String(), nonceSelf); err != nil {
		return nil, fmt.Errorf("session: hello: %w", err)
	}

	if err := s.authenticateAndRekey(reg.Secret, reg.LocalPeering.Digest[:], reg.RemotePeering.Digest[:], nonceSelf, peerHello.nonce); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.localPeering = reg.LocalPeering
	s.remotePeering = reg.RemotePeering
	s.registration = reg
	s.mu.Unlock()

	s.conn.SetDeadline(time.Time{})
	go s.readLoop()
	s.sender.start()
	return s, nil
}
