// Package swapsig implements Components H, I, J: the
// SwapSig pool manager (lifecycle, group sizing, burn), its Sybil-defense
// burn mechanism, and the coordinator phase engine driving a pool from
// DISCOVERY through COMPLETE. Grounded on internal/musig2's session store
// and state-machine idiom, generalized from a single signing round to a
// multi-phase pool that spawns one MuSig2 session per input of each group's
// settlement transaction (not a single session per group).
package swapsig

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	lotuscrypto "github.com/LotusiaStewardship/lotus-sdk-sub003/internal/crypto"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/events"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/idgen"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/protoerr"
)

// Phase is one of the SwapSig pool states.
type Phase string

const (
	PhaseDiscovery               Phase = "DISCOVERY"
	PhaseRegistration            Phase = "REGISTRATION"
	PhaseSetup                   Phase = "SETUP"
	PhaseConfirmation            Phase = "CONFIRMATION"
	PhaseReveal                  Phase = "REVEAL"
	PhasePermutation             Phase = "PERMUTATION"
	PhaseSettlement              Phase = "SETTLEMENT"
	PhaseSettlementConfirmation  Phase = "SETTLEMENT_CONFIRMATION"
	PhaseComplete                Phase = "COMPLETE"
	PhaseAborted                 Phase = "ABORTED"
)

func (p Phase) terminal() bool { return p == PhaseComplete || p == PhaseAborted }

// Input describes the UTXO a participant commits to the pool.
type Input struct {
	TxID         string
	Vout         uint32
	Amount       int64
	ScriptPubKey string
}

// Participant is one registered member of a pool.
type Participant struct {
	Index                  int
	PublicKey              *btcec.PublicKey
	Input                  Input
	OwnershipProof         *schnorr.Signature
	FinalOutputCommitment  [32]byte
	FinalOutputEncrypted   []byte
	FinalAddress           string // populated only in REVEAL phase
	Blinding               []byte // populated only in REVEAL phase
	GroupIndex             int    // -1 until group formation
	Dropped                bool
	DropReason             string
	SetupTxID              string
}

// GroupSettlement tracks one settlement sub-pool's MuSig2 session and its
// derived permutation.
type GroupSettlement struct {
	GroupIndex     int
	Participants   []*Participant
	SharedPubKey   *btcec.PublicKey
	SettlementTxID string
	SessionID      [32]byte
	Permutation    []int
	Aborted        bool
	AbortReason    string
	Confirmed      bool
}

// Pool implements Component H: the SwapSig pool manager's state and
// admission logic. Coordination (phase advancement, sub-session spawn)
// lives in coordinator.go so Pool itself stays a plain data owner guarded
// by a single mutex, mirroring internal/musig2.Session's shape.
type Pool struct {
	mu sync.Mutex

	id                 string
	denomination       int64
	minParticipants    int
	maxParticipants    int
	burnConfig         BurnConfig
	creatorPubKey      *btcec.PublicKey
	strictMode         bool

	participants []*Participant
	groups       []*GroupSettlement
	deferred     []*Participant

	phase       Phase
	abortReason string

	createdAt, updatedAt int64
	setupTimeoutMs       int64
	settlementTimeoutMs  int64

	registry *events.Registry
}

// Config carries pool construction parameters not implied by id/denom/creator.
type Config struct {
	MinParticipants     int
	MaxParticipants     int
	BurnConfig          BurnConfig
	StrictMode          bool
	SetupTimeoutMs      int64
	SettlementTimeoutMs int64
}

// DefaultConfig returns the default phase timeouts (10 minutes).
func DefaultConfig() Config {
	return Config{
		MinParticipants:     3,
		MaxParticipants:     50,
		BurnConfig:          BurnConfig{Percentage: 0.001, Min: 100, Max: 100_000},
		SetupTimeoutMs:      10 * 60 * 1000,
		SettlementTimeoutMs: 10 * 60 * 1000,
	}
}

// NewPool constructs a pool in DISCOVERY phase. denomination must be
// positive and cfg.BurnConfig must satisfy BurnConfig.Validate.
func NewPool(denomination int64, creatorPubKey *btcec.PublicKey, cfg Config, registry *events.Registry) (*Pool, error) {
	if denomination <= 0 {
		return nil, fmt.Errorf("swapsig: denomination must be positive")
	}
	if err := cfg.BurnConfig.Validate(); err != nil {
		return nil, err
	}
	if cfg.MinParticipants < 2 || cfg.MaxParticipants < cfg.MinParticipants {
		return nil, fmt.Errorf("swapsig: invalid participant bounds [%d, %d]", cfg.MinParticipants, cfg.MaxParticipants)
	}
	id, err := idgen.NewPoolID()
	if err != nil {
		return nil, err
	}
	now := idgen.NowMs()
	return &Pool{
		id:                  id,
		denomination:        denomination,
		minParticipants:     cfg.MinParticipants,
		maxParticipants:      cfg.MaxParticipants,
		burnConfig:          cfg.BurnConfig,
		creatorPubKey:       creatorPubKey,
		strictMode:          cfg.StrictMode,
		phase:               PhaseDiscovery,
		createdAt:           now,
		updatedAt:           now,
		setupTimeoutMs:      cfg.SetupTimeoutMs,
		settlementTimeoutMs: cfg.SettlementTimeoutMs,
		registry:            registry,
	}, nil
}

func (p *Pool) touch() { p.updatedAt = idgen.NowMs() }

// ID returns the pool's hex-encoded identifier.
func (p *Pool) ID() string { return p.id }

// Phase returns the current lifecycle phase.
func (p *Pool) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// Denomination returns the required per-participant input amount.
func (p *Pool) Denomination() int64 { return p.denomination }

// BurnConfig returns the pool's Sybil-defense burn configuration.
func (p *Pool) BurnConfig() BurnConfig { return p.burnConfig }

// Participants returns a snapshot slice of currently registered
// participants, in registration order.
func (p *Pool) Participants() []*Participant {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Participant, len(p.participants))
	copy(out, p.participants)
	return out
}

// Groups returns the settlement groups formed at registration close, or
// nil before CloseRegistration has run.
func (p *Pool) Groups() []*GroupSettlement {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.groups
}

func (p *Pool) emit(kind events.Kind, payload any) {
	if p.registry != nil {
		p.registry.Emit(kind, payload)
	}
}

// Register admits a new participant (REGISTRATION). The
// ownership proof is a Schnorr signature over poolId‖serialize(input) under
// the participant's own public key.
func (p *Pool) Register(pub *btcec.PublicKey, input Input, proof *schnorr.Signature, finalOutputCommitment [32]byte, finalOutputEncrypted []byte) (*Participant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase != PhaseDiscovery && p.phase != PhaseRegistration {
		return nil, protoerr.New(protoerr.WrongPhase, "registration closed, pool in phase %s", p.phase)
	}
	if len(finalOutputEncrypted) == 0 {
		return nil, protoerr.New(protoerr.InvalidPayload, "missing encrypted destination blob")
	}
	if input.Amount != p.denomination {
		return nil, protoerr.New(protoerr.InvalidPayload, "input amount %d does not match denomination %d", input.Amount, p.denomination)
	}
	for _, existing := range p.participants {
		if existing.PublicKey.IsEqual(pub) {
			return nil, protoerr.New(protoerr.DuplicateContribution, "peer already registered")
		}
	}
	if len(p.participants) >= p.maxParticipants {
		return nil, protoerr.New(protoerr.NotAdmitted, "pool at capacity %d", p.maxParticipants)
	}

	msgHash := lotuscrypto.Sha256([]byte(p.id), serializeInput(input))
	if !lotuscrypto.VerifySchnorr(proof, msgHash, pub) {
		return nil, protoerr.New(protoerr.InvalidOwnershipProof, "ownership proof failed verification")
	}

	participant := &Participant{
		Index:                 len(p.participants),
		PublicKey:             pub,
		Input:                 input,
		OwnershipProof:        proof,
		FinalOutputCommitment: finalOutputCommitment,
		FinalOutputEncrypted:  finalOutputEncrypted,
		GroupIndex:            -1,
	}
	p.participants = append(p.participants, participant)
	if p.phase == PhaseDiscovery {
		p.phase = PhaseRegistration
	}
	p.touch()
	return participant, nil
}

func serializeInput(in Input) []byte {
	b := make([]byte, 0, len(in.TxID)+len(in.ScriptPubKey)+12)
	b = append(b, []byte(in.TxID)...)
	b = append(b, byte(in.Vout>>24), byte(in.Vout>>16), byte(in.Vout>>8), byte(in.Vout))
	b = append(b, byte(in.Amount>>56), byte(in.Amount>>48), byte(in.Amount>>40), byte(in.Amount>>32),
		byte(in.Amount>>24), byte(in.Amount>>16), byte(in.Amount>>8), byte(in.Amount))
	b = append(b, []byte(in.ScriptPubKey)...)
	return b
}

// CloseRegistration closes admission and forms settlement groups per the
// group-sizing rule. It requires minParticipants <= count;
// participants beyond a full-group boundary are deferred. In strictMode a
// non-empty deferred remainder aborts the pool instead.
func (p *Pool) CloseRegistration() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase != PhaseRegistration {
		return protoerr.New(protoerr.WrongPhase, "cannot close registration from phase %s", p.phase)
	}
	if len(p.participants) < p.minParticipants {
		err := protoerr.New(protoerr.InsufficientParticipants, "only %d of %d minimum participants registered", len(p.participants), p.minParticipants)
		p.abortLocked(err)
		return err
	}

	groups, deferred := FormGroups(p.participants)
	if len(deferred) > 0 && p.strictMode {
		err := protoerr.New(protoerr.InsufficientParticipants, "%d participants left unassignable under strict mode", len(deferred))
		p.abortLocked(err)
		return err
	}

	p.groups = make([]*GroupSettlement, len(groups))
	for gi, members := range groups {
		for _, m := range members {
			m.GroupIndex = gi
		}
		p.groups[gi] = &GroupSettlement{GroupIndex: gi, Participants: members}
	}
	p.deferred = deferred
	p.phase = PhaseSetup
	p.touch()
	return nil
}

func (p *Pool) abortLocked(err *protoerr.Error) {
	if p.phase.terminal() {
		return
	}
	p.phase = PhaseAborted
	p.abortReason = err.Error()
	p.touch()
	p.emit(events.PoolAborted, p.snapshotLocked())
}

// Abort transitions the pool to ABORTED with the given reason. Idempotent.
func (p *Pool) Abort(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.abortLocked(protoerr.New(protoerr.InternalFailure, "%s", reason))
}

// Snapshot is the read-only state handed to observers and persistence.
type Snapshot struct {
	ID           string
	Denomination int64
	Phase        Phase
	AbortReason  string
	Count        int
	CreatedAt    int64
	UpdatedAt    int64
}

// Snapshot returns a copy of the pool's externally visible state.
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Pool) snapshotLocked() Snapshot {
	return Snapshot{
		ID: p.id, Denomination: p.denomination, Phase: p.phase,
		AbortReason: p.abortReason, Count: len(p.participants),
		CreatedAt: p.createdAt, UpdatedAt: p.updatedAt,
	}
}

// DropParticipant marks a participant dropped (failed confirmation,
// commitment break, or timeout) without mutating the group assignment the
// participant already has.
func (p *Pool) DropParticipant(index int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.participants) {
		return
	}
	part := p.participants[index]
	if part.Dropped {
		return
	}
	part.Dropped = true
	part.DropReason = reason
	p.touch()
	p.emit(events.ParticipantDropped, Snapshot{ID: p.id, Phase: p.phase})
}
