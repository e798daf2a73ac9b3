// Package address implements the peer address wire form: a family tag
// (IPv4, IPv6, or null) plus host bytes and port, with binary and text
// ("host:port") encodings.
package address

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
)

// Family tags as they appear on the wire.
const (
	FamilyNull Family = 0
	FamilyIPv4 Family = 4
	FamilyIPv6 Family = 16
)

// Family identifies the address kind by its wire tag, which doubles as
// the host byte length (4 or 16) for the two non-null cases.
type Family byte

// Address is a host/port pair as exchanged between peers and published to
// the tracker.
type Address struct {
	Family Family
	IP     net.IP // nil when Family == FamilyNull
	Port   uint16
}

// Null is the sentinel "no address" value.
var Null = Address{Family: FamilyNull}

// FromTCPAddr builds an Address from a resolved net.TCPAddr.
func FromTCPAddr(a *net.TCPAddr) Address {
	if a == nil {
		return Null
	}
	if ip4 := a.IP.To4(); ip4 != nil {
		return Address{Family: FamilyIPv4, IP: ip4, Port: uint16(a.Port)}
	}
	return Address{Family: FamilyIPv6, IP: a.IP.To16(), Port: uint16(a.Port)}
}

// Parse parses the text wire form "host:port".
func Parse(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("address: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("address: invalid port %q: %w", portStr, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return Address{}, fmt.Errorf("address: invalid host %q", host)
	}
	if ip4 := ip.To4(); ip4 != nil {
		return Address{Family: FamilyIPv4, IP: ip4, Port: uint16(port)}, nil
	}
	return Address{Family: FamilyIPv6, IP: ip.To16(), Port: uint16(port)}, nil
}

// String renders the text wire form "host:port".
func (a Address) String() string {
	if a.Family == FamilyNull {
		return ""
	}
	return net.JoinHostPort(a.IP.String(), strconv.Itoa(int(a.Port)))
}

// TCPAddr converts back to a *net.TCPAddr for dialing.
func (a Address) TCPAddr() *net.TCPAddr {
	if a.Family == FamilyNull {
		return nil
	}
	return &net.TCPAddr{IP: a.IP, Port: int(a.Port)}
}

// WriteTo serializes the binary wire form: 1-byte family tag, N host
// bytes (0 for null, 4 for IPv4, 16 for IPv6), 2-byte big-endian port.
func (a Address) WriteTo(w io.Writer) (int64, error) {
	if _, err := w.Write([]byte{byte(a.Family)}); err != nil {
		return 0, err
	}
	n := int64(1)
	switch a.Family {
	case FamilyIPv4:
		b, err := w.Write(a.IP.To4())
		n += int64(b)
		if err != nil {
			return n, err
		}
	case FamilyIPv6:
		b, err := w.Write(a.IP.To16())
		n += int64(b)
		if err != nil {
			return n, err
		}
	}
	if err := binary.Write(w, binary.BigEndian, a.Port); err != nil {
		return n, err
	}
	return n + 2, nil
}

// ReadFrom deserializes the binary wire form produced by WriteTo.
func (a *Address) ReadFrom(r io.Reader) (int64, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return 0, fmt.Errorf("address: %w", err)
	}
	family := Family(tag[0])
	var host []byte
	switch family {
	case FamilyIPv4:
		host = make([]byte, 4)
	case FamilyIPv6:
		host = make([]byte, 16)
	case FamilyNull:
		host = nil
	default:
		return 0, fmt.Errorf("address: unknown family tag %d", tag[0])
	}
	n := int64(1)
	if len(host) > 0 {
		if _, err := io.ReadFull(r, host); err != nil {
			return n, fmt.Errorf("address: %w", err)
		}
		n += int64(len(host))
	}
	var port uint16
	if err := binary.Read(r, binary.BigEndian, &port); err != nil {
		return n, fmt.Errorf("address: %w", err)
	}
	a.Family = family
	if host != nil {
		a.IP = net.IP(host)
	} else {
		a.IP = nil
	}
	a.Port = port
	return n + 2, nil
}
