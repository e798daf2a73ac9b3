package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha512"
	"io"
	"sync"
	"sync/atomic"
)

// obfuscationSeed is the well-known constant hashed once to derive the
// pre-authentication obfuscation key/IV. It is not a secret: its only
// purpose is to keep the wire format from being trivially fingerprinted
// before the handshake authenticates the peer.
const obfuscationSeed = "teapotnet-obfuscation-v1"

// ObfuscationKeyIV derives the deterministic pre-authentication key and IV.
func ObfuscationKeyIV() (key, iv []byte) {
	sum := sha512.Sum512([]byte(obfuscationSeed))
	return sum[:32], sum[32:48]
}

// Stream wraps an inner io.ReadWriter with independent AES-256-CTR cipher
// states for reads and writes. The initial state is the obfuscation
// key/IV; Rekey atomically replaces a direction's state once the
// handshake has authenticated the peer.
type Stream struct {
	inner io.ReadWriter

	mu      sync.Mutex
	readCS  cipher.Stream
	writeCS cipher.Stream

	dump io.Writer // optional tee of ciphertext read from inner

	bytesRead    uint64
	bytesWritten uint64
}

// NewStream constructs a Stream in obfuscated mode.
func NewStream(inner io.ReadWriter) (*Stream, error) {
	key, iv := ObfuscationKeyIV()
	readCS, err := newCTR(key, iv)
	if err != nil {
		return nil, &Error{Op: "NewStream", Err: err}
	}
	writeCS, err := newCTR(key, iv)
	if err != nil {
		return nil, &Error{Op: "NewStream", Err: err}
	}
	return &Stream{inner: inner, readCS: readCS, writeCS: writeCS}, nil
}

func newCTR(key, iv []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(block, iv[:aes.BlockSize]), nil
}

// SetDump installs (or clears, with nil) a writer that receives a copy of
// every ciphertext byte read from the inner stream. Used during rendezvous
// forwarding so an intermediary can replay the bytes it already consumed.
func (s *Stream) SetDump(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dump = w
}

// Rekey atomically replaces the read and/or write cipher state. Passing
// nil for either key/iv pair leaves that direction unchanged.
func (s *Stream) Rekey(readKey, readIV, writeKey, writeIV []byte) error {
	var readCS, writeCS cipher.Stream
	var err error
	if readKey != nil {
		readCS, err = newCTR(readKey, readIV)
		if err != nil {
			return &Error{Op: "Rekey", Err: err}
		}
	}
	if writeKey != nil {
		writeCS, err = newCTR(writeKey, writeIV)
		if err != nil {
			return &Error{Op: "Rekey", Err: err}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if readCS != nil {
		s.readCS = readCS
	}
	if writeCS != nil {
		s.writeCS = writeCS
	}
	return nil
}

// Read reads ciphertext from the inner stream and decrypts it in place.
func (s *Stream) Read(buf []byte) (int, error) {
	n, err := s.inner.Read(buf)
	if n > 0 {
		s.mu.Lock()
		if s.dump != nil {
			s.dump.Write(buf[:n])
		}
		s.readCS.XORKeyStream(buf[:n], buf[:n])
		s.mu.Unlock()
		atomic.AddUint64(&s.bytesRead, uint64(n))
	}
	return n, err
}

// Write encrypts plaintext and writes the ciphertext to the inner stream.
func (s *Stream) Write(buf []byte) (int, error) {
	ciphertext := make([]byte, len(buf))
	s.mu.Lock()
	s.writeCS.XORKeyStream(ciphertext, buf)
	s.mu.Unlock()
	n, err := s.inner.Write(ciphertext)
	atomic.AddUint64(&s.bytesWritten, uint64(n))
	return n, err
}

// BytesRead returns the total plaintext bytes decrypted so far.
func (s *Stream) BytesRead() uint64 { return atomic.LoadUint64(&s.bytesRead) }

// BytesWritten returns the total plaintext bytes encrypted so far.
func (s *Stream) BytesWritten() uint64 { return atomic.LoadUint64(&s.bytesWritten) }

var _ io.ReadWriter = (*Stream)(nil)
