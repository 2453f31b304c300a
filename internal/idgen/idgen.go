// Package idgen provides the id and timestamp primitives shared by the
// MuSig2 and SwapSig protocols: deterministic session ids, random pool
// ids, and the monotonic-epoch-ms clock used for timeouts and envelopes.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	lotuscrypto "github.com/LotusiaStewardship/lotus-sdk-sub003/internal/crypto"
)

// NowMs returns the current time as epoch milliseconds.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// SessionID computes sessionId = SHA256(sort(compressed(signers)) || message)
//
// callers that have an unsorted set should sort before calling.
func SessionID(sortedSigners []*btcec.PublicKey, message []byte) [32]byte {
	parts := make([][]byte, 0, len(sortedSigners)+1)
	for _, p := range sortedSigners {
		parts = append(parts, lotuscrypto.SerializePublicKey(p))
	}
	parts = append(parts, message)
	return lotuscrypto.Sha256(parts...)
}

// SortSigners returns signers ordered by their compressed encoding,
// ascending — the canonical order required throughout MuSig2 and SwapSig.
func SortSigners(signers []*btcec.PublicKey) []*btcec.PublicKey {
	out := make([]*btcec.PublicKey, len(signers))
	copy(out, signers)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && lotuscrypto.ComparePubKeys(out[j-1], out[j]) > 0; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// NewPoolID returns a random 32-byte pool identifier, hex-encoded.
func NewPoolID() (string, error) {
	b, err := lotuscrypto.SecureRandom(32)
	if err != nil {
		return "", fmt.Errorf("idgen: pool id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewMessageID returns a random 16-byte message identifier, hex-encoded,
// used for dedup/replay fingerprints that are not tied to a session id.
func NewMessageID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("idgen: message id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
