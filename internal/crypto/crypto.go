// Package crypto is the Crypto capability: secp256k1 point/scalar
// arithmetic, hashing, HMAC-SHA-512, single-signer Schnorr sign/verify and
// secure randomness. Every other package in this module reaches the curve
// only through here.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var (
	// ErrInvalidPoint is returned for a compressed point that does not
	// decode to a point on the curve, or decodes to the identity.
	ErrInvalidPoint = errors.New("crypto: point not on curve")
	// ErrInvalidScalar is returned for a 32-byte value that is zero or
	// not reduced mod the group order.
	ErrInvalidScalar = errors.New("crypto: invalid scalar")
)

// PointSize is the length of a compressed secp256k1 point.
const PointSize = 33

// ScalarSize is the length of a big-endian secp256k1 scalar.
const ScalarSize = 32

// Sha256 returns the SHA-256 digest of the concatenation of parts.
func Sha256(parts ...[]byte) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// TaggedHash computes BIP-340-style tagged hashing:
// SHA256(SHA256(tag) || SHA256(tag) || msg...).
func TaggedHash(tag string, parts ...[]byte) [32]byte {
	tagHash := sha256.Sum256([]byte(tag))
	h := sha256.New()
	h.Write(tagHash[:])
	h.Write(tagHash[:])
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HmacSha512 computes HMAC-SHA-512(key, concat(parts...)).
func HmacSha512(key []byte, parts ...[]byte) []byte {
	mac := hmac.New(sha512.New, key)
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil)
}

// SecureRandom returns n cryptographically random bytes.
func SecureRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("crypto: read random: %w", err)
	}
	return b, nil
}

// NewPrivateKey generates a fresh secp256k1 private key.
func NewPrivateKey() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey()
}

// ParsePublicKey decodes a 33-byte compressed public key, verifying it is a
// valid point on the curve and not the identity.
func ParsePublicKey(b []byte) (*btcec.PublicKey, error) {
	if len(b) != PointSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPoint, PointSize, len(b))
	}
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	return pub, nil
}

// SerializePublicKey returns the 33-byte compressed encoding of pub.
func SerializePublicKey(pub *btcec.PublicKey) []byte {
	return pub.SerializeCompressed()
}

// ParseScalar decodes a 32-byte big-endian scalar, rejecting zero and
// values that are not fully reduced mod the group order.
func ParseScalar(b []byte) (*secp256k1.ModNScalar, error) {
	if len(b) != ScalarSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidScalar, ScalarSize, len(b))
	}
	var s secp256k1.ModNScalar
	overflow := s.SetByteSlice(b)
	if overflow {
		return nil, fmt.Errorf("%w: not reduced mod group order", ErrInvalidScalar)
	}
	if s.IsZero() {
		return nil, fmt.Errorf("%w: zero scalar", ErrInvalidScalar)
	}
	return &s, nil
}

// SerializeScalar returns the 32-byte big-endian encoding of s.
func SerializeScalar(s *secp256k1.ModNScalar) []byte {
	b := s.Bytes()
	return b[:]
}

// SignSchnorr produces a single-signer BIP-340 Schnorr signature.
func SignSchnorr(priv *btcec.PrivateKey, msgHash [32]byte) (*schnorr.Signature, error) {
	return schnorr.Sign(priv, msgHash[:])
}

// VerifySchnorr verifies a single-signer BIP-340 Schnorr signature.
func VerifySchnorr(sig *schnorr.Signature, msgHash [32]byte, pub *btcec.PublicKey) bool {
	return sig.Verify(msgHash[:], pub)
}

// ComparePubKeys orders two compressed public keys byte-wise. It is the
// canonical ordering used for signer sorting throughout MuSig2 and SwapSig.
func ComparePubKeys(a, b *btcec.PublicKey) int {
	return CompareBytes(a.SerializeCompressed(), b.SerializeCompressed())
}

// CompareBytes is a byte-wise lexicographic comparator, reused wherever a
// canonical ordering over raw byte strings is required.
func CompareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
