package crypto

import "fmt"

// DeriveNonceSeed computes deterministic-but-fresh 32 bytes of auxiliary
// randomness for MuSig2 nonce generation,
// RFC-6979-style derivation keyed by (private key, message, fresh
// randomness, signer index, session id). The fresh randomness component
// means two calls for the same inputs never collide even if the caller's
// RNG were ever predictable — it is belt-and-suspenders on top of, not a
// replacement for, the process CSPRNG.
func DeriveNonceSeed(privKeyBytes, message []byte, signerIndex int, sessionID [32]byte) ([32]byte, error) {
	fresh, err := SecureRandom(32)
	if err != nil {
		return [32]byte{}, fmt.Errorf("derive nonce seed: %w", err)
	}
	digest := HmacSha512(privKeyBytes,
		message,
		sessionID[:],
		[]byte{byte(signerIndex >> 24), byte(signerIndex >> 16), byte(signerIndex >> 8), byte(signerIndex)},
		fresh,
	)
	var out [32]byte
	copy(out[:], digest[:32])
	return out, nil
}
