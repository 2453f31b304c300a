package musig2

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	lotuscrypto "github.com/LotusiaStewardship/lotus-sdk-sub003/internal/crypto"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/events"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/idgen"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/protoerr"
)

// Phase is one of the MuSig2 session states of 
type Phase string

const (
	PhaseCreated            Phase = "CREATED"
	PhaseNonceExchange      Phase = "NONCE_EXCHANGE"
	PhasePartialSigExchange Phase = "PARTIAL_SIG_EXCHANGE"
	PhaseComplete           Phase = "COMPLETE"
	PhaseAborted            Phase = "ABORTED"
	PhaseTimedOut           Phase = "TIMED_OUT"
)

func (p Phase) terminal() bool {
	return p == PhaseComplete || p == PhaseAborted || p == PhaseTimedOut
}

// NonceMode governs whether a nonce
// commitment must precede the corresponding nonce share.
type NonceMode int

const (
	// RequireCommitment rejects a public nonce for a signer that has not
	// first published a matching commitment. This is the default.
	RequireCommitment NonceMode = iota
	// AllowBareNonce accepts a public nonce with no prior commitment.
	AllowBareNonce
)

// Snapshot is the read-only state handed to observers and persistence.
type Snapshot struct {
	ID               [32]byte
	Signers          []*btcec.PublicKey
	LocalSignerIndex int
	Phase            Phase
	AbortReason      string
	OffenderIndex    int
	AggregatedPubKey *btcec.PublicKey
	FinalSignature   *schnorr.Signature
	CreatedAt        int64
	UpdatedAt        int64
}

// Session implements Component F: a single MuSig2 signing round's state
// machine, driven by the engine of engine.go. All public methods are safe
// for concurrent use; mutation is guarded by a per-session mutex rather
// than a package-global lock,
// resource model.
type Session struct {
	mu sync.Mutex

	id               [32]byte
	signers          []*btcec.PublicKey // canonically sorted
	localSignerIndex int                // -1 if this node is an observer
	message          []byte
	nonceMode        NonceMode

	localPriv   *btcec.PrivateKey
	eng         *engineSession
	contextOpts []ContextOption

	nonceCommitments map[int][32]byte
	publicNonces     map[int]PubNonce
	partialSigs      map[int]PartialSig

	noncesUsed             bool
	localPartialSig        PartialSig
	localPartialSigMsgHash [32]byte

	aggregatedPubKey *btcec.PublicKey
	finalSignature   *schnorr.Signature

	phase         Phase
	abortReason   string
	offenderIndex int

	createdAt, updatedAt       int64
	nonceDeadline, sigDeadline int64

	registry *events.Registry
}

// Config carries per-session construction parameters not implied by the
// signer set and message alone.
type Config struct {
	NonceMode          NonceMode
	NonceTimeoutMs     int64
	PartialSigTimeoutMs int64
	// ContextOpts are passed through to the underlying signing context
	// unchanged. internal/swapsig uses TaprootTweakOption here so a
	// settlement session signs for the actual P2TR output key rather than
	// the untweaked KeyAgg aggregate.
	ContextOpts []ContextOption
}

// DefaultConfig mirrors 's resolution of Open Question #1.
func DefaultConfig() Config {
	return Config{
		NonceMode:           RequireCommitment,
		NonceTimeoutMs:      30_000,
		PartialSigTimeoutMs: 30_000,
	}
}

// New constructs a session for the given signer set and message. localPriv
// is nil for an observer node that only tracks state transitions. The local
// signer index is found by locating localPriv's public key in the
// canonically sorted signer set (-1 when observing).
func New(signers []*btcec.PublicKey, message []byte, localPriv *btcec.PrivateKey, cfg Config, registry *events.Registry) (*Session, error) {
	if len(signers) < 2 {
		return nil, fmt.Errorf("musig2: session requires at least 2 signers, got %d", len(signers))
	}
	sorted := idgen.SortSigners(signers)
	aggKey, err := AggregateKeys(sorted)
	if err != nil {
		return nil, err
	}
	localIdx := -1
	if localPriv != nil {
		localPub := localPriv.PubKey()
		for i, s := range sorted {
			if s.IsEqual(localPub) {
				localIdx = i
				break
			}
		}
		if localIdx == -1 {
			return nil, fmt.Errorf("musig2: local public key not present in signer set")
		}
	}
	now := idgen.NowMs()
	return &Session{
		id:               idgen.SessionID(sorted, message),
		signers:          sorted,
		localSignerIndex: localIdx,
		message:          message,
		nonceMode:        cfg.NonceMode,
		localPriv:        localPriv,
		contextOpts:      cfg.ContextOpts,
		nonceCommitments: make(map[int][32]byte),
		publicNonces:     make(map[int]PubNonce),
		partialSigs:      make(map[int]PartialSig),
		aggregatedPubKey: aggKey,
		phase:            PhaseCreated,
		offenderIndex:    -1,
		createdAt:        now,
		updatedAt:        now,
		nonceDeadline:    now + cfg.NonceTimeoutMs,
		sigDeadline:      now + cfg.NonceTimeoutMs + cfg.PartialSigTimeoutMs,
		registry:         registry,
	}, nil
}

func (s *Session) touch() { s.updatedAt = idgen.NowMs() }

// ID returns the session's deterministic 32-byte identifier.
func (s *Session) ID() [32]byte { return s.id }

// Phase returns the current state machine phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Signers returns the canonically sorted signer set.
func (s *Session) Signers() []*btcec.PublicKey { return s.signers }

// LocalSignerIndex returns this node's index, or -1 if observing.
func (s *Session) LocalSignerIndex() int { return s.localSignerIndex }

// Snapshot returns a copy of the session's externally visible state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:               s.id,
		Signers:          s.signers,
		LocalSignerIndex: s.localSignerIndex,
		Phase:            s.phase,
		AbortReason:      s.abortReason,
		OffenderIndex:    s.offenderIndex,
		AggregatedPubKey: s.aggregatedPubKey,
		FinalSignature:   s.finalSignature,
		CreatedAt:        s.createdAt,
		UpdatedAt:        s.updatedAt,
	}
}

func (s *Session) emit(kind events.Kind) {
	if s.registry == nil {
		return
	}
	s.registry.Emit(kind, s.snapshotLocked())
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		ID: s.id, Signers: s.signers, LocalSignerIndex: s.localSignerIndex,
		Phase: s.phase, AbortReason: s.abortReason, OffenderIndex: s.offenderIndex,
		AggregatedPubKey: s.aggregatedPubKey, FinalSignature: s.finalSignature,
		CreatedAt: s.createdAt, UpdatedAt: s.updatedAt,
	}
}

// AddNonceCommitment records a pre-reveal commitment to a signer's nonce
// (NONCE_COMMITMENT). Required before the corresponding
// NONCE_SHARE when the session's NonceMode is RequireCommitment.
func (s *Session) AddNonceCommitment(signerIndex int, commitment [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.terminal() {
		return nil
	}
	if s.phase != PhaseCreated && s.phase != PhaseNonceExchange {
		return protoerr.NewFrom(protoerr.WrongPhase, signerIndex, "nonce commitment received in phase %s", s.phase)
	}
	if signerIndex < 0 || signerIndex >= len(s.signers) {
		return protoerr.NewFrom(protoerr.UnknownSigner, signerIndex, "signer index %d out of range", signerIndex)
	}
	if existing, ok := s.nonceCommitments[signerIndex]; ok {
		if existing == commitment {
			return nil
		}
		err := protoerr.NewFrom(protoerr.ConflictingContribution, signerIndex, "conflicting nonce commitment")
		s.abortLocked(err)
		return err
	}
	s.nonceCommitments[signerIndex] = commitment
	s.touch()
	return nil
}

// StartRound1 generates this node's nonce pair and advances the session to
// NONCE_EXCHANGE, returning the public nonce to broadcast as NONCE_SHARE.
// It is idempotent: calling it again after the local nonce exists returns
// the same value.
func (s *Session) StartRound1() (PubNonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.localPriv == nil {
		return PubNonce{}, fmt.Errorf("musig2: session has no local signer")
	}
	if s.phase.terminal() {
		return PubNonce{}, protoerr.New(protoerr.WrongPhase, "session already %s", s.phase)
	}
	if s.eng != nil {
		return s.eng.localPubNonce(), nil
	}

	seed, err := lotuscrypto.DeriveNonceSeed(s.localPriv.Serialize(), s.message, s.localSignerIndex, s.id)
	if err != nil {
		return PubNonce{}, fmt.Errorf("musig2: derive nonce seed: %w", err)
	}
	nonces, err := GenerateNonce(s.localPriv, seed[:])
	if err != nil {
		return PubNonce{}, fmt.Errorf("musig2: generate nonce: %w", err)
	}
	eng, err := newEngineSession(s.localPriv, s.signers, nonces, s.contextOpts...)
	if err != nil {
		return PubNonce{}, fmt.Errorf("musig2: new engine session: %w", err)
	}
	s.eng = eng
	if len(s.contextOpts) > 0 {
		combined, err := eng.combinedKey()
		if err != nil {
			return PubNonce{}, fmt.Errorf("musig2: combined key: %w", err)
		}
		s.aggregatedPubKey = combined
	}
	s.publicNonces[s.localSignerIndex] = eng.localPubNonce()
	if s.phase == PhaseCreated {
		s.phase = PhaseNonceExchange
	}
	s.touch()

	haveAll := false
	for idx, nonce := range s.publicNonces {
		if idx == s.localSignerIndex {
			continue
		}
		var regErr error
		haveAll, regErr = eng.registerRemoteNonce(nonce)
		if regErr != nil {
			err := protoerr.NewFrom(protoerr.InvalidPayload, idx, "invalid buffered public nonce: %v", regErr)
			s.abortLocked(err)
			return PubNonce{}, err
		}
	}
	if haveAll {
		s.onNoncesCompleteLocked()
	}

	return eng.localPubNonce(), nil
}

// AddPublicNonce records a remote signer's public nonce (NONCE_SHARE).
// Returns true once every signer's nonce is present.
func (s *Session) AddPublicNonce(signerIndex int, nonce PubNonce) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.terminal() {
		return s.phase == PhaseComplete, nil
	}
	if signerIndex < 0 || signerIndex >= len(s.signers) {
		return false, protoerr.NewFrom(protoerr.UnknownSigner, signerIndex, "signer index %d out of range", signerIndex)
	}
	if existing, ok := s.publicNonces[signerIndex]; ok {
		if existing == nonce {
			return len(s.publicNonces) == len(s.signers), nil
		}
		err := protoerr.NewFrom(protoerr.ConflictingContribution, signerIndex, "conflicting public nonce")
		s.abortLocked(err)
		return false, err
	}
	if s.nonceMode == RequireCommitment && signerIndex != s.localSignerIndex {
		commitment, have := s.nonceCommitments[signerIndex]
		if !have {
			err := protoerr.NewFrom(protoerr.CommitmentBroken, signerIndex, "public nonce with no prior commitment")
			s.abortLocked(err)
			return false, err
		}
		if lotuscrypto.Sha256(nonce[:]) != commitment {
			err := protoerr.NewFrom(protoerr.CommitmentBroken, signerIndex, "public nonce does not match commitment")
			s.abortLocked(err)
			return false, err
		}
	}

	s.publicNonces[signerIndex] = nonce
	if s.phase == PhaseCreated {
		s.phase = PhaseNonceExchange
	}
	s.touch()

	if s.eng != nil && signerIndex != s.localSignerIndex {
		haveAll, err := s.eng.registerRemoteNonce(nonce)
		if err != nil {
			wrapped := protoerr.NewFrom(protoerr.InvalidPayload, signerIndex, "invalid public nonce: %v", err)
			s.abortLocked(wrapped)
			return false, wrapped
		}
		if haveAll {
			s.onNoncesCompleteLocked()
		}
	}

	return len(s.publicNonces) == len(s.signers), nil
}

func (s *Session) onNoncesCompleteLocked() {
	if s.phase != PhaseNonceExchange {
		return
	}
	s.phase = PhasePartialSigExchange
	s.touch()
	s.emit(events.SessionNoncesComplete)
}

// SignPartial computes (or, if already computed for this message,
// re-returns) this node's partial signature. Per , a secret
// nonce is used at most once: a second call for a different message is
// rejected rather than silently re-deriving a fresh nonce.
func (s *Session) SignPartial() (PartialSig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.localPriv == nil {
		return nil, fmt.Errorf("musig2: session has no local signer")
	}
	if s.phase != PhasePartialSigExchange {
		return nil, protoerr.New(protoerr.WrongPhase, "cannot sign from phase %s", s.phase)
	}

	msgHash := lotuscrypto.Sha256(s.message)
	if s.noncesUsed {
		if s.localPartialSigMsgHash != msgHash {
			return nil, protoerr.New(protoerr.InternalFailure, "secret nonce already used for a different challenge")
		}
		return s.localPartialSig, nil
	}

	sig, err := s.eng.signPartial(msgHash)
	if err != nil {
		return nil, err
	}
	encoded, err := encodePartialSig(sig)
	if err != nil {
		return nil, err
	}

	s.noncesUsed = true
	s.localPartialSig = encoded
	s.localPartialSigMsgHash = msgHash
	s.partialSigs[s.localSignerIndex] = encoded
	s.touch()
	return encoded, nil
}

// AddPartialSig records a remote signer's partial signature (
// PARTIAL_SIG_SHARE), verifying it before acceptance. Returns true once
// the session has reached COMPLETE.
func (s *Session) AddPartialSig(signerIndex int, sig PartialSig) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.terminal() {
		return s.phase == PhaseComplete, nil
	}
	if s.phase != PhasePartialSigExchange {
		return false, protoerr.NewFrom(protoerr.WrongPhase, signerIndex, "partial sig received in phase %s", s.phase)
	}
	if signerIndex < 0 || signerIndex >= len(s.signers) {
		return false, protoerr.NewFrom(protoerr.UnknownSigner, signerIndex, "signer index %d out of range", signerIndex)
	}
	if existing, ok := s.partialSigs[signerIndex]; ok {
		if bytes.Equal(existing, sig) {
			return s.phase == PhaseComplete, nil
		}
		err := protoerr.NewFrom(protoerr.ConflictingContribution, signerIndex, "conflicting partial sig")
		s.abortLocked(err)
		return false, err
	}

	if signerIndex == s.localSignerIndex {
		s.partialSigs[signerIndex] = sig
		s.touch()
		return s.phase == PhaseComplete, nil
	}

	decoded, err := decodePartialSig(sig)
	if err != nil {
		wrapped := protoerr.NewFrom(protoerr.InvalidPartialSig, signerIndex, "malformed partial sig: %v", err)
		s.abortLocked(wrapped)
		return false, wrapped
	}
	allNonces := make([]PubNonce, len(s.signers))
	for i := range s.signers {
		allNonces[i] = s.publicNonces[i]
	}
	msgHash := lotuscrypto.Sha256(s.message)
	done, err := s.eng.verifyAndCombineRemotePartialSig(decoded, s.publicNonces[signerIndex], allNonces, s.signers[signerIndex], msgHash)
	if err != nil {
		wrapped := protoerr.NewFrom(protoerr.InvalidPartialSig, signerIndex, "invalid partial sig: %v", err)
		s.abortLocked(wrapped)
		return false, wrapped
	}
	s.partialSigs[signerIndex] = sig
	s.touch()

	if done {
		s.completeLocked()
	}
	return s.phase == PhaseComplete, nil
}

func (s *Session) completeLocked() {
	finalSig := s.eng.finalSignature()
	msgHash := lotuscrypto.Sha256(s.message)
	if !lotuscrypto.VerifySchnorr(finalSig, msgHash, s.aggregatedPubKey) {
		err := protoerr.New(protoerr.InternalFailure, "aggregated signature failed verification")
		s.abortLocked(err)
		return
	}
	s.finalSignature = finalSig
	s.phase = PhaseComplete
	s.clearSecretsLocked()
	s.touch()
	s.emit(events.SessionComplete)
}

// Abort transitions the session to ABORTED with the given reason. Idempotent.
func (s *Session) Abort(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortLocked(protoerr.New(protoerr.InternalFailure, "%s", reason))
}

func (s *Session) abortLocked(err *protoerr.Error) {
	if s.phase.terminal() {
		return
	}
	s.phase = PhaseAborted
	s.abortReason = err.Error()
	s.offenderIndex = err.OffenderIndex
	s.clearSecretsLocked()
	s.touch()
	s.emit(events.SessionAborted)
}

// TimeOut transitions the session to TIMED_OUT if its current phase's
// deadline has elapsed as of now. Idempotent.
func (s *Session) TimeOut(now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.terminal() {
		return
	}
	deadline := s.sigDeadline
	if s.phase == PhaseCreated || s.phase == PhaseNonceExchange {
		deadline = s.nonceDeadline
	}
	if now < deadline {
		return
	}
	s.phase = PhaseTimedOut
	s.clearSecretsLocked()
	s.touch()
}

func (s *Session) clearSecretsLocked() {
	s.eng = nil
	s.localPartialSig = nil
}
