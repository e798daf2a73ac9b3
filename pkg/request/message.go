// Package request implements the Message, Request, and Response value
// types shared between the session core and its callers, per §3 and §4.7.
package request

import (
	"time"

	"github.com/teapotnet/teapotnet/pkg/identifier"
)

// MaxMessageSize bounds in-memory message bodies; oversized inbound
// messages are rejected at reception per the §3 data model.
const MaxMessageSize = 1 << 20 // 1 MiB

// Message is a small, self-contained piece of content addressed to one
// peering (or broadcast, when Receiver is the null identifier).
type Message struct {
	Time       time.Time
	Receiver   identifier.Identifier
	Parameters map[string]string
	Content    []byte
	IsRead     bool
}
