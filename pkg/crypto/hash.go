// Package crypto provides the keyed-hash KDF and the obfuscation/session
// cipher stream used by the peer session handshake.
package crypto

import (
	"crypto/sha512"
	"fmt"
)

// DefaultRounds is the iteration count R used for both the password-derived
// secret and the handshake digests.
const DefaultRounds = 5000

// Error is returned when a hash operation cannot complete. Per the
// specification this can only happen on allocation failure; it exists so
// callers have a single sentinel type to check with errors.As.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("crypto: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Hash computes a single SHA-512 digest.
func Hash(data []byte) [sha512.Size]byte {
	return sha512.Sum512(data)
}

// IteratedHash applies SHA-512 n times, discarding intermediate state
// between rounds: H^n(x) = H(H(...H(x))).
func IteratedHash(data []byte, rounds int) []byte {
	if rounds <= 0 {
		rounds = 1
	}
	sum := sha512.Sum512(data)
	out := sum[:]
	for i := 1; i < rounds; i++ {
		sum = sha512.Sum512(out)
		out = sum[:]
	}
	return out
}

// DeriveSecret computes the address-book secret for a username/password
// pair: H^5000(username + ":" + password). Passwords are never persisted;
// only the returned secret is.
func DeriveSecret(username, password string) []byte {
	input := append([]byte(username), ':')
	input = append(input, []byte(password)...)
	return IteratedHash(input, DefaultRounds)
}

// joinFields concatenates byte strings, newline-terminated, matching the
// handshake derivation field ordering described in §4.5.
func joinFields(fields ...[]byte) []byte {
	var out []byte
	for _, f := range fields {
		out = append(out, f...)
		out = append(out, '\n')
	}
	return out
}

// DerivePeering computes a peering id digest from the shared secret and
// the two usernames, in the order (secret, localUser, remoteUser).
func DerivePeering(secret []byte, localUser, remoteUser string) []byte {
	return IteratedHash(joinFields(secret, []byte(localUser), []byte(remoteUser)), DefaultRounds)
}

// DeriveAuthDigest computes the Step-3 authentication hash:
// H^R(secret || saltSelf || nonceOther || localPeeringDigest).
func DeriveAuthDigest(secret, saltSelf, nonceOther, localPeeringDigest []byte) []byte {
	return IteratedHash(joinFields(secret, saltSelf, nonceOther, localPeeringDigest), DefaultRounds)
}

// DeriveSessionKeys computes the Step-4 rekey material:
// H^R(secret || saltSelf || nonceOther || localPeeringDigest || nonceSelf),
// returning the first 32 bytes as the key and the next 32 as the IV.
func DeriveSessionKeys(secret, saltSelf, nonceOther, localPeeringDigest, nonceSelf []byte) (key, iv []byte) {
	digest := IteratedHash(joinFields(secret, saltSelf, nonceOther, localPeeringDigest, nonceSelf), DefaultRounds)
	return digest[:32], digest[32:64]
}
