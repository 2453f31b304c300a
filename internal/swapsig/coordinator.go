package swapsig

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/chainprovider"
	lotuscrypto "github.com/LotusiaStewardship/lotus-sdk-sub003/internal/crypto"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/events"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/musig2"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/protocol"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/protoerr"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/transport"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/txbuilder"
)

// Coordinator implements Component J: the SwapSig phase engine driving a
// single Pool from DISCOVERY through COMPLETE/ABORTED. It spawns one
// internal/musig2.Session per input of a group's settlement transaction
// (one per group member, not a single session per group) and is
// otherwise a thin state machine over Pool — the cryptographic heavy
// lifting stays in internal/musig2 and internal/txbuilder.
//
// A production deployment runs one Coordinator per node, each holding only
// its own participant's private key, learning about peers purely through
// Transport messages. This implementation drives the full lifecycle from a
// single vantage point — the same simplification internal/musig2's own
// test harness uses to simulate N independent nodes in one process — since
// the coordination logic itself is identical either way and the message
// broadcasts below are what a real multi-node deployment exchanges.
type Coordinator struct {
	pool    *Pool
	store   *musig2.Store
	tr      transport.Transport
	chain   chainprovider.Chain
	builder *txbuilder.Builder
	registry *events.Registry
	network chaincfg.Params

	requiredConfirmations int64
	feePerParticipant     int64

	// settlementSessions holds, per group, one MuSig2 session per spent
	// input — a taproot key-path signature commits to a single input's
	// sighash, so a settlement tx with N group members needs N
	// independent signatures even though every input shares the same
	// aggregated key.
	settlementSessions map[int][]*musig2.Session
}

// NewCoordinator wires a Coordinator around pool and its collaborators.
func NewCoordinator(pool *Pool, store *musig2.Store, tr transport.Transport, chain chainprovider.Chain, builder *txbuilder.Builder, registry *events.Registry, network chaincfg.Params, requiredConfirmations, feePerParticipant int64) *Coordinator {
	c := &Coordinator{
		pool:                  pool,
		store:                 store,
		tr:                    tr,
		chain:                 chain,
		builder:               builder,
		registry:              registry,
		network:               network,
		requiredConfirmations: requiredConfirmations,
		feePerParticipant:     feePerParticipant,
		settlementSessions:    make(map[int][]*musig2.Session),
	}
	tr.OnMessage(c.handleInbound)
	return c
}

// handleInbound logs inbound SwapSig traffic to the observer registry. A
// pure-observer node (one tracking the pool without driving it) would react
// to these the way internal/protocol.MuSig2Handler reacts to MuSig2
// messages; a driving Coordinator does not need to, since it originates
// every phase transition itself via direct method calls.
func (c *Coordinator) handleInbound(peerID string, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Protocol != protocol.SwapSigProtocolID {
		return
	}
	c.registry.Emit(events.ValidationError, fmt.Sprintf("swapsig: observed %s from %s", env.Type, peerID))
}

func (c *Coordinator) broadcast(ctx context.Context, msgType string, payload any) error {
	env, err := protocol.NewEnvelope(protocol.SwapSigProtocolID, msgType, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.tr.Publish(ctx, protocol.SwapSigProtocolID, raw)
}

// Announce broadcasts POOL_ANNOUNCE for c.pool, self-signed by creatorPriv.
func (c *Coordinator) Announce(ctx context.Context, creatorPriv *btcec.PrivateKey) error {
	sig, err := lotuscrypto.SignSchnorr(creatorPriv, lotuscrypto.Sha256([]byte(c.pool.id)))
	if err != nil {
		return err
	}
	cfg := c.pool.BurnConfig()
	payload := PoolAnnouncePayload{
		PoolID:          c.pool.id,
		Denomination:    c.pool.denomination,
		MinParticipants: c.pool.minParticipants,
		MaxParticipants: c.pool.maxParticipants,
		BurnPercentage:  cfg.Percentage,
		BurnMin:         cfg.Min,
		BurnMax:         cfg.Max,
		CreatorPubKey:   hex.EncodeToString(lotuscrypto.SerializePublicKey(creatorPriv.PubKey())),
		CreatorSig:      hex.EncodeToString(sig.Serialize()),
	}
	return c.broadcast(ctx, TypePoolAnnounce, payload)
}

// RegistrationInput bundles what a joining participant reveals at
// registration time, before its destination is known to anyone.
type RegistrationInput struct {
	Priv         *btcec.PrivateKey
	Input        Input
	FinalAddress string
	Blinding     []byte
}

// RegisterParticipant admits priv's owner to the pool (REGISTRATION): it
// derives the commitment over (finalAddress, blinding),
// seals an opaque placeholder ciphertext, builds the ownership proof, and
// broadcasts PARTICIPANT_REGISTERED.
func (c *Coordinator) RegisterParticipant(ctx context.Context, reg RegistrationInput) (*Participant, error) {
	commitment := lotuscrypto.Sha256([]byte(reg.FinalAddress), reg.Blinding)
	encrypted := sealDestination(reg.FinalAddress, reg.Blinding)

	msgHash := lotuscrypto.Sha256([]byte(c.pool.id), serializeInput(reg.Input))
	proof, err := lotuscrypto.SignSchnorr(reg.Priv, msgHash)
	if err != nil {
		return nil, err
	}

	participant, err := c.pool.Register(reg.Priv.PubKey(), reg.Input, proof, commitment, encrypted)
	if err != nil {
		return nil, err
	}

	payload := ParticipantRegisteredPayload{
		PoolID:           c.pool.id,
		ParticipantIndex: participant.Index,
		PublicKey:        hex.EncodeToString(lotuscrypto.SerializePublicKey(participant.PublicKey)),
	}
	if err := c.broadcast(ctx, TypeParticipantRegistered, payload); err != nil {
		return participant, err
	}
	return participant, nil
}

// sealDestination is a placeholder opaque-encryption step: the REVEAL
// commitment is what actually binds the destination, so the encrypted blob
// only needs to be indistinguishable from random until reveal, not provide
// independent cryptographic security. It XORs the address bytes with a
// keystream derived from the blinding factor.
func sealDestination(finalAddress string, blinding []byte) []byte {
	keystream := lotuscrypto.Sha256(blinding, []byte("swapsig/seal"))
	out := make([]byte, len(finalAddress))
	for i := range out {
		out[i] = finalAddress[i] ^ keystream[i%len(keystream)]
	}
	return out
}

// CloseRegistration closes admission and forms settlement groups.
func (c *Coordinator) CloseRegistration() error {
	return c.pool.CloseRegistration()
}

// setupBuild is the unsigned setup transaction built for one participant,
// ready for the participant to sign with their input's own key (outside
// this package's scope — see Coordinator doc comment) and broadcast.
type setupBuild struct {
	Raw       []byte
	TxID      string
	BurnAmount int64
	Payout     int64
}

// BuildSetupTx constructs participant's setup transaction (SETUP): input
// = participant's committed UTXO; output 0 pays the group's
// MuSig2-controlled, BIP-86 taproot-tweaked shared address; output 1 burns
// BurnAmount(denomination, burnConfig) via OP_RETURN tagged with the pool
// id. Because segwit/taproot txids exclude witness data, the computed txid
// is final even though the input is not yet signed.
func (c *Coordinator) BuildSetupTx(participant *Participant) (*setupBuild, error) {
	group := c.pool.groupOf(participant)
	if group == nil {
		return nil, fmt.Errorf("swapsig: participant %d has no group", participant.Index)
	}
	sharedAddr, err := c.groupSharedAddress(group)
	if err != nil {
		return nil, err
	}

	burn := BurnAmount(c.pool.denomination, c.pool.burnConfig)
	payout := c.pool.denomination - burn - c.feePerParticipant
	if payout <= 0 {
		return nil, fmt.Errorf("swapsig: burn+fee exceeds denomination")
	}

	descriptor := txbuilder.TxDescriptor{
		Network: c.network,
		Inputs: []txbuilder.InputDescriptor{{
			TxID: participant.Input.TxID, Vout: participant.Input.Vout, Amount: participant.Input.Amount,
		}},
		Outputs: []txbuilder.OutputDescriptor{
			{Kind: txbuilder.OutputPayment, Address: sharedAddr, Amount: payout},
			{Kind: txbuilder.OutputBurn, Amount: burn, BurnData: []byte(c.pool.id)},
		},
	}
	raw, err := c.builder.BuildTransaction(descriptor)
	if err != nil {
		return nil, err
	}
	txid, err := txHash(raw)
	if err != nil {
		return nil, err
	}
	return &setupBuild{Raw: raw, TxID: txid, BurnAmount: burn, Payout: payout}, nil
}

func (c *Coordinator) groupSharedAddress(group *GroupSettlement) (string, error) {
	pubs := pubKeysOf(group.Participants)
	internalKey, err := musig2.AggregateKeys(pubs)
	if err != nil {
		return "", err
	}
	tweaked := txscript.ComputeTaprootOutputKey(internalKey, nil)
	group.SharedPubKey = tweaked
	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(tweaked), &c.network)
	if err != nil {
		return "", fmt.Errorf("swapsig: taproot address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

func pubKeysOf(participants []*Participant) []*btcec.PublicKey {
	out := make([]*btcec.PublicKey, len(participants))
	for i, p := range participants {
		out[i] = p.PublicKey
	}
	return out
}

// BroadcastSetupTx submits raw to the chain and announces it to peers,
// recording the resulting txid on participant.
func (c *Coordinator) BroadcastSetupTx(ctx context.Context, participant *Participant, build *setupBuild) error {
	if _, err := c.chain.Broadcast(ctx, build.Raw); err != nil {
		return fmt.Errorf("swapsig: broadcast setup tx: %w", err)
	}
	participant.SetupTxID = build.TxID
	return c.broadcast(ctx, TypeSetupTxBroadcast, SetupTxBroadcastPayload{
		PoolID: c.pool.id, ParticipantIndex: participant.Index, TxID: build.TxID,
	})
}

// AwaitSetupConfirmations polls Chain for every formed group's member setup
// tx confirmation depth. A group where any member's setup tx fails to
// confirm is aborted as a whole — settlement needs every member's output,
// so one missing confirmation sinks the group, not the pool (an independent
// failure domain). The pool only aborts outright if no group
// survives; otherwise it advances to REVEAL with whatever groups remain.
func (c *Coordinator) AwaitSetupConfirmations(ctx context.Context) error {
	c.pool.mu.Lock()
	if c.pool.phase != PhaseSetup {
		c.pool.mu.Unlock()
		return protoerr.New(protoerr.WrongPhase, "cannot confirm setup from phase %s", c.pool.phase)
	}
	c.pool.phase = PhaseConfirmation
	c.pool.touch()
	groups := append([]*GroupSettlement(nil), c.pool.groups...)
	c.pool.mu.Unlock()

	anyViable := false
	for _, g := range groups {
		groupOK := true
		for _, p := range g.Participants {
			if p.SetupTxID == "" {
				groupOK = false
				continue
			}
			confs, err := c.chain.GetConfirmations(ctx, p.SetupTxID)
			if err != nil || confs < c.requiredConfirmations {
				c.pool.DropParticipant(p.Index, string(protoerr.SessionExpired))
				groupOK = false
				continue
			}
			_ = c.broadcast(ctx, TypeSetupConfirmed, SetupConfirmedPayload{PoolID: c.pool.id, ParticipantIndex: p.Index, TxID: p.SetupTxID})
		}
		if !groupOK {
			c.AbortGroup(g, string(protoerr.InsufficientParticipants))
			continue
		}
		anyViable = true
	}

	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	if !anyViable {
		err := protoerr.New(protoerr.InsufficientParticipants, "no settlement group fully confirmed")
		c.pool.abortLocked(err)
		return err
	}
	c.pool.phase = PhaseReveal
	c.pool.touch()
	return c.broadcast(ctx, TypeSetupComplete, SetupCompletePayload{PoolID: c.pool.id})
}

// Reveal submits participant's committed destination (REVEAL), verifying
// it against the stored commitment before accepting.
// A mismatch drops the participant and aborts the pool, since no valid
// permutation exists without every group member's destination.
func (c *Coordinator) Reveal(ctx context.Context, participant *Participant, finalAddress string, blinding []byte) error {
	c.pool.mu.Lock()
	if c.pool.phase != PhaseReveal {
		c.pool.mu.Unlock()
		return protoerr.New(protoerr.WrongPhase, "cannot reveal from phase %s", c.pool.phase)
	}
	expected := lotuscrypto.Sha256([]byte(finalAddress), blinding)
	if expected != participant.FinalOutputCommitment {
		err := protoerr.NewFrom(protoerr.CommitmentBroken, participant.Index, "revealed destination does not match commitment")
		participant.Dropped = true
		participant.DropReason = string(protoerr.CommitmentBroken)
		c.pool.abortLocked(err)
		c.pool.mu.Unlock()
		return err
	}
	participant.FinalAddress = finalAddress
	participant.Blinding = blinding
	c.pool.touch()
	c.pool.mu.Unlock()

	return c.broadcast(ctx, TypeDestinationReveal, DestinationRevealPayload{
		PoolID: c.pool.id, ParticipantIndex: participant.Index,
		FinalAddress: finalAddress, Blinding: hex.EncodeToString(blinding),
	})
}

// CloseReveal transitions REVEAL → PERMUTATION once every surviving
// participant has revealed, or aborts if any has not.
func (c *Coordinator) CloseReveal(ctx context.Context) error {
	c.pool.mu.Lock()
	if c.pool.phase != PhaseReveal {
		c.pool.mu.Unlock()
		return protoerr.New(protoerr.WrongPhase, "cannot close reveal from phase %s", c.pool.phase)
	}
	for _, p := range c.pool.participants {
		if p.Dropped || p.GroupIndex < 0 {
			continue
		}
		if g := c.pool.groups[p.GroupIndex]; g.Aborted {
			continue
		}
		if p.FinalAddress == "" {
			err := protoerr.NewFrom(protoerr.CommitmentBroken, p.Index, "missing destination reveal")
			c.pool.abortLocked(err)
			c.pool.mu.Unlock()
			return err
		}
	}
	c.pool.phase = PhasePermutation
	c.pool.touch()
	c.pool.mu.Unlock()
	return c.broadcast(ctx, TypeRevealComplete, RevealCompletePayload{PoolID: c.pool.id})
}

// DerivePermutations computes and records the settlement permutation for
// every group, independently reproducible by every participant from the
// same group membership and revealed addresses.
func (c *Coordinator) DerivePermutations() error {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	if c.pool.phase != PhasePermutation {
		return protoerr.New(protoerr.WrongPhase, "cannot derive permutation from phase %s", c.pool.phase)
	}
	for _, g := range c.pool.groups {
		if g.Aborted {
			continue
		}
		addrs := make([]string, len(g.Participants))
		for i, p := range g.Participants {
			addrs[i] = p.FinalAddress
		}
		g.Permutation = DerivePermutation(c.pool.id, g.GroupIndex, addrs)
	}
	c.pool.phase = PhaseSettlement
	c.pool.touch()
	return nil
}

// SpawnSettlement builds group's settlement transaction (spending every
// member's confirmed setup output, paying settlementMapping[j] to its
// permuted destination) and opens one MuSig2 session per spent input, each
// signing that input's own taproot key-path sighash under the shared
// aggregated key. The local node contributes to every session via
// localPriv; group.SessionID records only the first session's id, enough
// to satisfy the "store the child sessionId in the parent" convention
// since the remaining sessions share the same signer set and derive
// deterministically from it.
func (c *Coordinator) SpawnSettlement(group *GroupSettlement, localPriv *btcec.PrivateKey) ([]*musig2.Session, []byte, error) {
	sharedAddr, err := c.groupSharedAddress(group)
	if err != nil {
		return nil, nil, err
	}
	payout := c.pool.denomination - BurnAmount(c.pool.denomination, c.pool.burnConfig) - c.feePerParticipant

	inputs := make([]txbuilder.InputDescriptor, len(group.Participants))
	prevOutputs := make([]txbuilder.OutputDescriptor, len(group.Participants))
	for i, p := range group.Participants {
		inputs[i] = txbuilder.InputDescriptor{TxID: p.SetupTxID, Vout: 0, Amount: payout}
		prevOutputs[i] = txbuilder.OutputDescriptor{Kind: txbuilder.OutputPayment, Address: sharedAddr, Amount: payout}
	}

	settlePayout := payout - c.feePerParticipant
	outputs := make([]txbuilder.OutputDescriptor, len(group.Participants))
	for j, destIdx := range group.Permutation {
		outputs[j] = txbuilder.OutputDescriptor{
			Kind: txbuilder.OutputPayment, Address: group.Participants[destIdx].FinalAddress, Amount: settlePayout,
		}
	}

	descriptor := txbuilder.TxDescriptor{Network: c.network, Inputs: inputs, Outputs: outputs}
	raw, err := c.builder.BuildTransaction(descriptor)
	if err != nil {
		return nil, nil, err
	}

	sigDescriptor := txbuilder.TxDescriptor{Network: c.network, Inputs: inputs, Outputs: prevOutputs}
	signers := pubKeysOf(group.Participants)
	sessions := make([]*musig2.Session, len(group.Participants))
	for i := range group.Participants {
		sigHash, err := c.builder.SigningHash(raw, i, sigDescriptor)
		if err != nil {
			return nil, nil, err
		}
		cfg := musig2.DefaultConfig()
		cfg.ContextOpts = []musig2.ContextOption{musig2.TaprootTweakOption(nil)}
		session, err := musig2.New(signers, sigHash[:], localPriv, cfg, c.registry)
		if err != nil {
			return nil, nil, err
		}
		c.store.Put(session)
		sessions[i] = session
	}
	c.settlementSessions[group.GroupIndex] = sessions
	group.SessionID = sessions[0].ID()
	return sessions, raw, nil
}

// SettlementSessions returns the locally spawned per-input sessions for
// groupIndex, if any.
func (c *Coordinator) SettlementSessions(groupIndex int) ([]*musig2.Session, bool) {
	s, ok := c.settlementSessions[groupIndex]
	return s, ok
}

// ConfirmSettlement marks group's settlement tx broadcast/confirmed and,
// once every non-aborted group is confirmed, completes the pool.
func (c *Coordinator) ConfirmSettlement(ctx context.Context, group *GroupSettlement, txid string) error {
	c.pool.mu.Lock()
	group.SettlementTxID = txid
	group.Confirmed = true
	allDone := true
	for _, g := range c.pool.groups {
		if !g.Aborted && !g.Confirmed {
			allDone = false
			break
		}
	}
	if allDone {
		c.pool.phase = PhaseComplete
		c.pool.touch()
	}
	c.pool.mu.Unlock()

	if err := c.broadcast(ctx, TypeSettlementConfirmed, SettlementConfirmedPayload{PoolID: c.pool.id, GroupIndex: group.GroupIndex, TxID: txid}); err != nil {
		return err
	}
	if allDone {
		c.registry.Emit(events.PoolCompleted, c.pool.Snapshot())
		return c.broadcast(ctx, TypeSettlementComplete, SettlementCompletePayload{PoolID: c.pool.id})
	}
	return nil
}

// AbortGroup marks a single settlement group as failed without rolling
// back groups that have already settled (past SETTLEMENT_CONFIRMATION/COMPLETE).
func (c *Coordinator) AbortGroup(group *GroupSettlement, reason string) {
	c.pool.mu.Lock()
	group.Aborted = true
	group.AbortReason = reason
	c.pool.mu.Unlock()
	c.registry.Emit(events.GroupAborted, reason)
}

func txHash(raw []byte) (string, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", fmt.Errorf("swapsig: deserialize tx: %w", err)
	}
	return tx.TxHash().String(), nil
}

func (p *Pool) groupOf(participant *Participant) *GroupSettlement {
	if participant.GroupIndex < 0 || participant.GroupIndex >= len(p.groups) {
		return nil
	}
	return p.groups[participant.GroupIndex]
}

// PoolID returns the pool's id, for test and logging convenience.
func (c *Coordinator) PoolID() string { return c.pool.id }
