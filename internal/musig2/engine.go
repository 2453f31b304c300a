// Package musig2 implements Component C (the aggregation engine, this
// file) and Component F (the session store/state machine, session.go and
// store.go).
package musig2

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
)

// PubNonceSize is the wire size of a MuSig2 public nonce pair (R1, R2).
const PubNonceSize = musig2.PubNonceSize

// PubNonce is the wire form of a MuSig2 public nonce pair.
type PubNonce = [PubNonceSize]byte

// PartialSig is an opaque, encoded partial signature scalar.
type PartialSig []byte

// AggregateKeys computes the aggregated public key X̃ for signers, applying
// the library's sorted KeyAgg coefficients and even-y negation exactly as
// the underlying library describes. signers need not be pre-sorted; sort=true is
// passed through so the library performs the canonical ordering itself.
func AggregateKeys(signers []*btcec.PublicKey) (*btcec.PublicKey, error) {
	if len(signers) < 2 {
		return nil, fmt.Errorf("musig2: key aggregation requires at least 2 signers, got %d", len(signers))
	}
	aggKey, _, _, err := musig2.AggregateKeys(signers, true)
	if err != nil {
		return nil, fmt.Errorf("musig2: key aggregation: %w", err)
	}
	return aggKey.FinalKey, nil
}

// GenerateNonce draws a fresh secret/public nonce pair for localPriv. auxRand
// is the RFC-6979-style seed produced by internal/crypto.DeriveNonceSeed and
// is handed to the library as its random source via WithCustomRand, in place
// of the library's default CSPRNG reader; an empty auxRand leaves that
// default in use.
func GenerateNonce(localPriv *btcec.PrivateKey, auxRand []byte) (*musig2.Nonces, error) {
	opts := []musig2.NonceGenOption{musig2.WithPublicKey(localPriv.PubKey())}
	if len(auxRand) > 0 {
		opts = append(opts, musig2.WithCustomRand(bytes.NewReader(auxRand)))
	}
	nonces, err := musig2.GenNonces(opts...)
	if err != nil {
		return nil, fmt.Errorf("musig2: nonce generation: %w", err)
	}
	return nonces, nil
}

// ContextOption configures a MuSig2 signing context. Re-exported as a type
// alias so callers outside this package (internal/swapsig, in particular)
// never need to import the underlying library directly.
type ContextOption = musig2.ContextOption

// TaprootTweakOption returns a ContextOption that applies a BIP-341 taproot
// tweak with the given script-tree merkle root to the aggregated key before
// signing. A nil or empty root gives the BIP-86 key-path-only tweak.
func TaprootTweakOption(merkleRoot []byte) ContextOption {
	return musig2.WithTaprootTweakCtx(merkleRoot)
}

// engineSession wraps the library's Context/Session types. The teacher's
// MuSig2Session hand-rolled a fixed two-party exchange; here the same
// Context/Session pair is driven with one RegisterPubNonce and one
// CombineSig call per remote signer, which is all the library needs to
// generalize to N parties — no additional math is required at this layer.
type engineSession struct {
	ctx     *musig2.Context
	session *musig2.Session
}

// newEngineSession creates a signing session for localPriv against the
// full (sorted) signer set, seeded with this node's pre-generated nonce.
func newEngineSession(localPriv *btcec.PrivateKey, signers []*btcec.PublicKey, localNonces *musig2.Nonces, opts ...ContextOption) (*engineSession, error) {
	ctxOpts := append([]musig2.ContextOption{musig2.WithKnownSigners(signers)}, opts...)
	ctx, err := musig2.NewContext(localPriv, true, ctxOpts...)
	if err != nil {
		return nil, fmt.Errorf("musig2: context: %w", err)
	}
	session, err := ctx.NewSession(musig2.WithPreGeneratedNonce(localNonces))
	if err != nil {
		return nil, fmt.Errorf("musig2: session: %w", err)
	}
	return &engineSession{ctx: ctx, session: session}, nil
}

func (e *engineSession) localPubNonce() PubNonce {
	return e.session.PublicNonce()
}

// combinedKey returns the effective signing key for this context: the
// plain KeyAgg aggregate, or its taproot-tweaked form when a
// TaprootTweakOption was supplied at construction.
func (e *engineSession) combinedKey() (*btcec.PublicKey, error) {
	return e.ctx.CombinedKey()
}

// registerRemoteNonce feeds in one remote signer's public nonce. Returns
// true once every signer's nonce (including local) is present and the
// aggregate nonce R has been derived.
func (e *engineSession) registerRemoteNonce(pub PubNonce) (bool, error) {
	haveAll, err := e.session.RegisterPubNonce(pub)
	if err != nil {
		return false, fmt.Errorf("musig2: register nonce: %w", err)
	}
	return haveAll, nil
}

func (e *engineSession) signPartial(msgHash [32]byte) (*musig2.PartialSignature, error) {
	sig, err := e.session.Sign(msgHash)
	if err != nil {
		return nil, fmt.Errorf("musig2: partial sign: %w", err)
	}
	return sig, nil
}

// verifyAndCombineRemotePartialSig checks sig against its signer's
// registered public nonce, the aggregate nonce of the full signer set, and
// that signer's key, before folding it into the running combination. The
// library's own Session.CombineSig only checks the *final* aggregate
// signature once the last share arrives, which blames whichever signer
// happened to be processed last rather than whoever actually sent a bad
// share; verifying each partial here, at the point it is submitted, makes
// attribution independent of arrival order. Returns true once the final
// aggregate signature is complete.
func (e *engineSession) verifyAndCombineRemotePartialSig(sig *musig2.PartialSignature, signerPubNonce PubNonce, allPubNonces []PubNonce, signingKey *btcec.PublicKey, msgHash [32]byte) (bool, error) {
	combinedNonce, err := musig2.AggregateNonces(allPubNonces)
	if err != nil {
		return false, fmt.Errorf("musig2: aggregate nonces for verification: %w", err)
	}
	if err := musig2.PartialSigVerify(sig, combinedNonce, e.ctx.SigningKeys(), signingKey, signerPubNonce, msgHash[:]); err != nil {
		return false, fmt.Errorf("musig2: partial sig verify: %w", err)
	}
	done, err := e.session.CombineSig(sig)
	if err != nil {
		return false, fmt.Errorf("musig2: combine partial sig: %w", err)
	}
	return done, nil
}

func (e *engineSession) finalSignature() *schnorr.Signature {
	return e.session.FinalSig()
}

func encodePartialSig(sig *musig2.PartialSignature) (PartialSig, error) {
	var buf bytes.Buffer
	if err := sig.Encode(&buf); err != nil {
		return nil, fmt.Errorf("musig2: encode partial sig: %w", err)
	}
	return buf.Bytes(), nil
}

func decodePartialSig(b PartialSig) (*musig2.PartialSignature, error) {
	var sig musig2.PartialSignature
	if err := sig.Decode(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("musig2: decode partial sig: %w", err)
	}
	return &sig, nil
}
