package swapsig

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/chainprovider"
	lotuscrypto "github.com/LotusiaStewardship/lotus-sdk-sub003/internal/crypto"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/events"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/musig2"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/protoerr"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/transport"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/txbuilder"
)

// sequentialTxID hands InMemoryChain.Broadcast a distinct, deterministic id
// per call; the coordinator itself never relies on it since it computes its
// own txid from the unsigned wire transaction.
func sequentialTxID() func() string {
	n := 0
	return func() string {
		n++
		b := []byte{byte(n)}
		return hex.EncodeToString(b) + "-broadcast"
	}
}

func randomTxIDForTest(t *testing.T) string {
	t.Helper()
	b, err := lotuscrypto.SecureRandom(32)
	if err != nil {
		t.Fatalf("SecureRandom: %v", err)
	}
	return hex.EncodeToString(b)
}

func taprootTestAddress(t *testing.T, network *chaincfg.Params) string {
	t.Helper()
	priv, err := lotuscrypto.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(priv.PubKey()), network)
	if err != nil {
		t.Fatalf("NewAddressTaproot: %v", err)
	}
	return addr.EncodeAddress()
}

type coordinatorHarness struct {
	coord   *Coordinator
	pool    *Pool
	chain   *chainprovider.InMemoryChain
	network chaincfg.Params
}

// newCoordinatorHarness wires a Coordinator with in-memory Chain/Transport
// fakes, the way internal/swap's own tests stand up a coordinator without a
// live node. A single Coordinator drives every participant's side of the
// protocol, mirroring the Coordinator doc comment's single-vantage-point
// simplification.
func newCoordinatorHarness(t *testing.T, cfg Config) *coordinatorHarness {
	t.Helper()
	network := chaincfg.RegressionNetParams

	creatorPriv, err := lotuscrypto.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	registry := events.NewRegistry()
	pool, err := NewPool(testDenomination, creatorPriv.PubKey(), cfg, registry)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	store := musig2.NewStore()
	bus := transport.NewInMemoryBus()
	tr := transport.NewInMemoryTransport(bus, "coordinator")
	chain := chainprovider.NewInMemoryChain(sequentialTxID())
	builder := txbuilder.NewBuilder()

	coord := NewCoordinator(pool, store, tr, chain, builder, registry, network, 1, 200)
	if err := coord.Announce(context.Background(), creatorPriv); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	return &coordinatorHarness{coord: coord, pool: pool, chain: chain, network: network}
}

type regParty struct {
	priv         *btcec.PrivateKey
	finalAddress string
	blinding     []byte
	participant  *Participant
}

func (h *coordinatorHarness) register(t *testing.T, ctx context.Context) *regParty {
	t.Helper()
	priv, err := lotuscrypto.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	input := Input{
		TxID:         randomTxIDForTest(t),
		Vout:         0,
		Amount:       testDenomination,
		ScriptPubKey: "p2tr",
	}
	finalAddress := taprootTestAddress(t, &h.network)
	blinding, err := lotuscrypto.SecureRandom(32)
	if err != nil {
		t.Fatalf("SecureRandom: %v", err)
	}
	participant, err := h.coord.RegisterParticipant(ctx, RegistrationInput{
		Priv: priv, Input: input, FinalAddress: finalAddress, Blinding: blinding,
	})
	if err != nil {
		t.Fatalf("RegisterParticipant: %v", err)
	}
	return &regParty{priv: priv, finalAddress: finalAddress, blinding: blinding, participant: participant}
}

// settleGroup drives every group member's own settlement sessions (one
// Coordinator.SpawnSettlement call per member, exactly as each member would
// do locally with only their own private key) to completion, the same way
// internal/musig2's runHandshake cross-wires independently constructed
// sessions in a single process.
func settleGroup(t *testing.T, h *coordinatorHarness, group *GroupSettlement, members []*regParty) {
	t.Helper()
	perMember := make([][]*musig2.Session, len(members))
	var raw []byte
	for i, m := range members {
		sessions, r, err := h.coord.SpawnSettlement(group, m.priv)
		if err != nil {
			t.Fatalf("SpawnSettlement member %d: %v", i, err)
		}
		perMember[i] = sessions
		raw = r
	}
	_ = raw

	numInputs := len(group.Participants)
	for inputIdx := 0; inputIdx < numInputs; inputIdx++ {
		sessions := make([]*musig2.Session, len(members))
		for m := range members {
			sessions[m] = perMember[m][inputIdx]
		}

		nonces := make([]musig2.PubNonce, len(sessions))
		for i, s := range sessions {
			n0, err := s.StartRound1()
			if err != nil {
				t.Fatalf("StartRound1 input %d member %d: %v", inputIdx, i, err)
			}
			nonces[i] = n0
		}
		for srcIdx, nonce := range nonces {
			commitment := lotuscrypto.Sha256(nonce[:])
			for _, s := range sessions {
				if err := s.AddNonceCommitment(sessions[srcIdx].LocalSignerIndex(), commitment); err != nil {
					t.Fatalf("AddNonceCommitment: %v", err)
				}
			}
		}
		for srcIdx, nonce := range nonces {
			for dstIdx, s := range sessions {
				if srcIdx == dstIdx {
					continue
				}
				if _, err := s.AddPublicNonce(sessions[srcIdx].LocalSignerIndex(), nonce); err != nil {
					t.Fatalf("AddPublicNonce(%d->%d): %v", srcIdx, dstIdx, err)
				}
			}
		}

		sigs := make([]musig2.PartialSig, len(sessions))
		for i, s := range sessions {
			sig, err := s.SignPartial()
			if err != nil {
				t.Fatalf("SignPartial input %d member %d: %v", inputIdx, i, err)
			}
			sigs[i] = sig
		}
		for srcIdx, sig := range sigs {
			for dstIdx, s := range sessions {
				if srcIdx == dstIdx {
					continue
				}
				if _, err := s.AddPartialSig(sessions[srcIdx].LocalSignerIndex(), sig); err != nil {
					t.Fatalf("AddPartialSig(%d->%d): %v", srcIdx, dstIdx, err)
				}
			}
		}

		for i, s := range sessions {
			if s.Phase() != musig2.PhaseComplete {
				snap := s.Snapshot()
				t.Fatalf("input %d member %d did not complete: %s (%s)", inputIdx, i, snap.Phase, snap.AbortReason)
			}
		}
	}
}

func TestCoordinatorSpecExampleThreeParticipantsSettles(t *testing.T) {
	ctx := context.Background()
	h := newCoordinatorHarness(t, DefaultConfig())

	parties := make([]*regParty, 3)
	for i := range parties {
		parties[i] = h.register(t, ctx)
	}

	if err := h.coord.CloseRegistration(); err != nil {
		t.Fatalf("CloseRegistration: %v", err)
	}
	groups := h.pool.Groups()
	if len(groups) != 1 || len(groups[0].Participants) != 2 {
		t.Fatalf("expected 1 group of 2 per the 3-participant tier, got %d groups", len(groups))
	}
	group := groups[0]

	membersByIndex := make(map[int]*regParty, len(parties))
	for _, p := range parties {
		membersByIndex[p.participant.Index] = p
	}
	var members []*regParty
	for _, gp := range group.Participants {
		members = append(members, membersByIndex[gp.Index])
	}

	for _, m := range members {
		build, err := h.coord.BuildSetupTx(m.participant)
		if err != nil {
			t.Fatalf("BuildSetupTx: %v", err)
		}
		if err := h.coord.BroadcastSetupTx(ctx, m.participant, build); err != nil {
			t.Fatalf("BroadcastSetupTx: %v", err)
		}
		h.chain.SetConfirmations(build.TxID, 1)
	}

	if err := h.coord.AwaitSetupConfirmations(ctx); err != nil {
		t.Fatalf("AwaitSetupConfirmations: %v", err)
	}
	if h.pool.Phase() != PhaseReveal {
		t.Fatalf("expected phase REVEAL, got %s", h.pool.Phase())
	}

	for _, m := range members {
		if err := h.coord.Reveal(ctx, m.participant, m.finalAddress, m.blinding); err != nil {
			t.Fatalf("Reveal: %v", err)
		}
	}
	if err := h.coord.CloseReveal(ctx); err != nil {
		t.Fatalf("CloseReveal: %v", err)
	}
	if err := h.coord.DerivePermutations(); err != nil {
		t.Fatalf("DerivePermutations: %v", err)
	}
	if h.pool.Phase() != PhaseSettlement {
		t.Fatalf("expected phase SETTLEMENT, got %s", h.pool.Phase())
	}

	settleGroup(t, h, group, members)

	if err := h.coord.ConfirmSettlement(ctx, group, "settlement-txid"); err != nil {
		t.Fatalf("ConfirmSettlement: %v", err)
	}
	if h.pool.Phase() != PhaseComplete {
		t.Fatalf("expected phase COMPLETE, got %s", h.pool.Phase())
	}
	if !group.Confirmed {
		t.Fatal("expected group to be marked confirmed")
	}
}

func TestCoordinatorCommitmentBreakAbortsPool(t *testing.T) {
	ctx := context.Background()
	h := newCoordinatorHarness(t, DefaultConfig())

	parties := make([]*regParty, 3)
	for i := range parties {
		parties[i] = h.register(t, ctx)
	}
	if err := h.coord.CloseRegistration(); err != nil {
		t.Fatalf("CloseRegistration: %v", err)
	}
	group := h.pool.Groups()[0]

	membersByIndex := make(map[int]*regParty, len(parties))
	for _, p := range parties {
		membersByIndex[p.participant.Index] = p
	}
	var members []*regParty
	for _, gp := range group.Participants {
		members = append(members, membersByIndex[gp.Index])
	}

	for _, m := range members {
		build, err := h.coord.BuildSetupTx(m.participant)
		if err != nil {
			t.Fatalf("BuildSetupTx: %v", err)
		}
		if err := h.coord.BroadcastSetupTx(ctx, m.participant, build); err != nil {
			t.Fatalf("BroadcastSetupTx: %v", err)
		}
		h.chain.SetConfirmations(build.TxID, 1)
	}
	if err := h.coord.AwaitSetupConfirmations(ctx); err != nil {
		t.Fatalf("AwaitSetupConfirmations: %v", err)
	}

	// First member reveals a destination that does not match their
	// registration-time commitment.
	wrongBlinding := append([]byte(nil), members[0].blinding...)
	wrongBlinding[0] ^= 0xff
	err := h.coord.Reveal(ctx, members[0].participant, members[0].finalAddress, wrongBlinding)
	if protoerr.KindOf(err) != protoerr.CommitmentBroken {
		t.Fatalf("expected COMMITMENT_BROKEN, got %v", err)
	}
	if h.pool.Phase() != PhaseAborted {
		t.Fatalf("expected phase ABORTED, got %s", h.pool.Phase())
	}
}
