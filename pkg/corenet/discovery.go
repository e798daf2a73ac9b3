package corenet

import (
	"crypto/rand"
	"encoding/hex"
	"net"
	"strings"
	"time"

	"github.com/teapotnet/teapotnet/pkg/crypto"
	"github.com/teapotnet/teapotnet/pkg/identifier"
	"github.com/teapotnet/teapotnet/pkg/proto"
	"github.com/teapotnet/teapotnet/pkg/request"
	"github.com/teapotnet/teapotnet/pkg/session"
)

// Parameters used by the internal "peer:" discovery request and its
// connect-hint follow-up message, per §4.6 steps 1-2.
const (
	paramAddrs  = "addrs"
	paramRemote = "remote"
	paramType   = "type"
	paramTarget = "target"

	typeConnectHint = "connect-hint"
)

// DiscoverPeer broadcasts a "peer:<target>" request over every live
// session, asking whether any connected peer recognizes target.
//
// Used when this node is itself the intermediary of §4.6: it has just
// accepted (or is about to dial) a connection whose peering it doesn't
// recognize, and falls back to asking its own connected peers.
func (c *Core) DiscoverPeer(target identifier.Identifier) bool {
	req := request.New(peerLookupPrefix+target.String(), false,
		map[string]string{paramAddrs: c.encodedPublicAddresses()}, identifier.Identifier{})
	c.SubmitRequest(req)
	req.Wait(c.cfg.meetingStepTimeout())

	for _, resp := range req.Responses() {
		if resp.Status == proto.StatusSuccess {
			return true
		}
	}
	return false
}

func (c *Core) encodedPublicAddresses() string {
	parts := make([]string, 0, len(c.publicAddresses))
	for _, a := range c.publicAddresses {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ",")
}

// handlePeerLookup answers an inbound "peer:<target>" request: if this
// node directly holds a registration for target, it confirms and, when
// that peer currently has a live session, relays a connect-hint carrying
// the requester's public addresses so the target dials back into the
// requester's meeting point.
func (c *Core) handlePeerLookup(sess *session.Session, reqID uint64, targetText string, parameters map[string]string) {
	target, err := identifier.Parse(targetText)
	if err != nil {
		sess.Respond(reqID, true, proto.StatusFailed, nil, nil)
		return
	}

	var matched bool
	for _, reg := range c.peerings.All() {
		if reg.RemotePeering.Equal(target.Base()) {
			matched = true
			if live, ok := c.SessionFor(reg.RemotePeering); ok {
				live.SendMessage(&request.Message{
					Time: time.Now(),
					Parameters: map[string]string{
						paramType:   typeConnectHint,
						paramTarget: targetText,
						paramAddrs:  parameters[paramAddrs],
					},
				})
			} else {
				c.logger().WithField("target", targetText).Debug("recognize target but it is offline")
			}
			break
		}
	}

	status := proto.StatusNotFound
	if matched {
		status = proto.StatusSuccess
	}
	sess.Respond(reqID, true, status, map[string]string{paramRemote: targetText}, nil)
}

// handleConnectHint acts on a connect-hint message: dials every address
// offered until one succeeds, then performs a bare, still-obfuscated
// Hello naming target so the dial lands in the intermediary's meeting
// point under the same key the original pending leg registered under.
func (c *Core) handleConnectHint(parameters map[string]string) {
	target := parameters[paramTarget]
	addrsCSV := parameters[paramAddrs]
	if target == "" || addrsCSV == "" {
		return
	}
	for _, addr := range strings.Split(addrsCSV, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		conn, err := net.DialTimeout("tcp", addr, c.cfg.meetingStepTimeout())
		if err != nil {
			continue
		}
		if err := sendBareHello(conn, target); err != nil {
			conn.Close()
			continue
		}
		return
	}
	c.logger().WithField("target", target).Warn("connect-hint: could not reach any offered address")
}

// sendBareHello writes one obfuscated Hello line naming peeringArg, used
// by handleConnectHint where no Registration exists locally: this leg's
// only purpose is to arrive at the intermediary's Accept() path and be
// handed to the meeting point, never to complete its own handshake.
func sendBareHello(conn net.Conn, peeringArg string) error {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	cs, err := crypto.NewStream(conn)
	if err != nil {
		return err
	}
	w := proto.NewWriter(cs)
	headers := map[string]string{
		"application": "teapotnet",
		"version":     "1",
		"nonce":       hex.EncodeToString(nonce),
		"instance":    "",
	}
	return w.WriteCommand(proto.VerbHello, peeringArg, headers)
}
