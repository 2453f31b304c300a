// Package codec implements Component A: serialization of MuSig2/SwapSig
// cryptographic values to and from their wire forms — 33-byte compressed
// points, 32-byte big-endian scalars, and the hex encodings used in the
// message payloads used across the wire protocol.
package codec

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"

	lotuscrypto "github.com/LotusiaStewardship/lotus-sdk-sub003/internal/crypto"
)

// PubKeyHex encodes a compressed public key as lowercase hex.
func PubKeyHex(pub *btcec.PublicKey) string {
	return hex.EncodeToString(lotuscrypto.SerializePublicKey(pub))
}

// ParsePubKeyHex decodes a 33-byte compressed public key from hex.
func ParsePubKeyHex(s string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("codec: invalid pubkey hex: %w", err)
	}
	return lotuscrypto.ParsePublicKey(b)
}

// PubKeysHex encodes a slice of public keys as hex strings, preserving order.
func PubKeysHex(pubs []*btcec.PublicKey) []string {
	out := make([]string, len(pubs))
	for i, p := range pubs {
		out[i] = PubKeyHex(p)
	}
	return out
}

// ParsePubKeysHex decodes a slice of hex-encoded public keys, preserving order.
func ParsePubKeysHex(ss []string) ([]*btcec.PublicKey, error) {
	out := make([]*btcec.PublicKey, len(ss))
	for i, s := range ss {
		pub, err := ParsePubKeyHex(s)
		if err != nil {
			return nil, fmt.Errorf("codec: signer %d: %w", i, err)
		}
		out[i] = pub
	}
	return out, nil
}

// PubNonceHex encodes a MuSig2 public nonce pair (R1, R2) as 132 hex chars.
func PubNonceHex(n [musig2.PubNonceSize]byte) string {
	return hex.EncodeToString(n[:])
}

// ParsePubNonceHex decodes a 66-byte public nonce pair from hex.
func ParsePubNonceHex(s string) ([musig2.PubNonceSize]byte, error) {
	var out [musig2.PubNonceSize]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("codec: invalid nonce hex: %w", err)
	}
	if len(b) != musig2.PubNonceSize {
		return out, fmt.Errorf("codec: invalid nonce length: expected %d, got %d", musig2.PubNonceSize, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// PartialSigHex encodes a serialized partial signature as hex.
func PartialSigHex(b []byte) string {
	return hex.EncodeToString(b)
}

// ParsePartialSigHex decodes a hex-encoded partial signature.
func ParsePartialSigHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("codec: invalid partial sig hex: %w", err)
	}
	return b, nil
}

// SignatureHex encodes a final Schnorr signature (64 bytes, r‖s) as hex.
func SignatureHex(sig *schnorr.Signature) string {
	return hex.EncodeToString(sig.Serialize())
}

// ParseSignatureHex decodes a 64-byte Schnorr signature from hex.
func ParseSignatureHex(s string) (*schnorr.Signature, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("codec: invalid signature hex: %w", err)
	}
	sig, err := schnorr.ParseSignature(b)
	if err != nil {
		return nil, fmt.Errorf("codec: malformed signature: %w", err)
	}
	return sig, nil
}

// Hash32Hex encodes a 32-byte digest (session id, commitment, etc.) as hex.
func Hash32Hex(h [32]byte) string {
	return hex.EncodeToString(h[:])
}

// ParseHash32Hex decodes a 32-byte digest from hex.
func ParseHash32Hex(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("codec: invalid hash hex: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("codec: invalid hash length: expected 32, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
