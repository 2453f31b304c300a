package protocol

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/codec"
	lotuscrypto "github.com/LotusiaStewardship/lotus-sdk-sub003/internal/crypto"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/events"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/idgen"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/musig2"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/protoerr"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/security"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/transport"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/pkg/logging"
)

// MuSig2Handler implements Component G: ingress routing (security → shape
// validation → session state transition) and egress broadcast for the
// seven MuSig2 message types.
type MuSig2Handler struct {
	store     *musig2.Store
	validator *security.Validator
	transport transport.Transport
	registry  *events.Registry
	cfg       musig2.Config
	log       *logging.Logger
}

// NewMuSig2Handler wires up inbound routing on tr and subscribes to the
// session store's completion events to drive automatic partial-sig
// broadcast and final-signature announcement.
func NewMuSig2Handler(store *musig2.Store, validator *security.Validator, tr transport.Transport, registry *events.Registry, cfg musig2.Config) *MuSig2Handler {
	h := &MuSig2Handler{
		store:     store,
		validator: validator,
		transport: tr,
		registry:  registry,
		cfg:       cfg,
		log:       logging.GetDefault().Component("musig2-protocol"),
	}
	tr.OnMessage(h.handleInbound)
	if registry != nil {
		registry.On(events.SessionNoncesComplete, h.onNoncesComplete)
		registry.On(events.SessionComplete, h.onSessionComplete)
		registry.On(events.SessionAborted, h.onSessionAborted)
	}
	return h
}

// CreateSession starts a new MuSig2 session for signers/message as a
// participant, generates and broadcasts this node's nonce (and, under
// RequireCommitment, its commitment first), and registers the session in
// the store.
func (h *MuSig2Handler) CreateSession(ctx context.Context, signers []*btcec.PublicKey, message []byte, localPriv *btcec.PrivateKey) (*musig2.Session, error) {
	sess, err := musig2.New(signers, message, localPriv, h.cfg, h.registry)
	if err != nil {
		return nil, err
	}
	h.store.Put(sess)

	nonce, err := sess.StartRound1()
	if err != nil {
		return nil, err
	}

	idHex := codec.Hash32Hex(sess.ID())
	if h.cfg.NonceMode == musig2.RequireCommitment {
		commitment := lotuscrypto.Sha256(nonce[:])
		payload := NonceCommitmentPayload{
			SessionID:   idHex,
			SignerIndex: sess.LocalSignerIndex(),
			Commitment:  codec.Hash32Hex(commitment),
		}
		if err := h.broadcast(ctx, TypeNonceCommitment, payload); err != nil {
			return sess, err
		}
	}

	sharePayload := NonceSharePayload{
		SessionID:   idHex,
		SignerIndex: sess.LocalSignerIndex(),
		PublicNonce: codec.PubNonceHex(nonce),
	}
	if err := h.broadcast(ctx, TypeNonceShare, sharePayload); err != nil {
		return sess, err
	}
	return sess, nil
}

func (h *MuSig2Handler) broadcast(ctx context.Context, msgType string, payload any) error {
	env, err := NewEnvelope(MuSig2ProtocolID, msgType, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("protocol: marshal envelope: %w", err)
	}
	if err := h.transport.Publish(ctx, MuSig2ProtocolID, raw); err != nil {
		return fmt.Errorf("protocol: broadcast %s: %w", msgType, err)
	}
	return nil
}

func (h *MuSig2Handler) handleInbound(peerID string, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	if env.Protocol != MuSig2ProtocolID {
		return
	}

	var idOnly struct {
		SessionID string `json:"sessionId"`
	}
	_ = env.DecodePayload(&idOnly)

	secMsg := security.Message{
		PeerID:      peerID,
		Type:        env.Type,
		SessionID:   idOnly.SessionID,
		PayloadHash: lotuscrypto.Sha256(env.Payload),
		Timestamp:   env.Timestamp,
		PayloadLen:  len(env.Payload),
	}
	if !h.validator.Validate(secMsg, idgen.NowMs()) {
		return
	}

	switch env.Type {
	case TypeNonceCommitment:
		h.onNonceCommitment(env)
	case TypeNonceShare:
		h.onNonceShare(env)
	case TypePartialSigShare:
		h.onPartialSigShare(env)
	case TypeSessionAbort:
		h.onSessionAbort(env)
	default:
		// SESSION_JOIN/SESSION_JOIN_ACK/SESSION_COMPLETE carry no
		// state transition this handler needs to act on; observers
		// that care subscribe to the event registry instead.
	}
}

func (h *MuSig2Handler) lookupSession(idHex string) (*musig2.Session, bool) {
	id, err := codec.ParseHash32Hex(idHex)
	if err != nil {
		return nil, false
	}
	sess, err := h.store.Get(id)
	if err != nil {
		return nil, false
	}
	return sess, true
}

func (h *MuSig2Handler) onNonceCommitment(env Envelope) {
	var p NonceCommitmentPayload
	if err := env.DecodePayload(&p); err != nil {
		return
	}
	sess, ok := h.lookupSession(p.SessionID)
	if !ok {
		return
	}
	commitment, err := codec.ParseHash32Hex(p.Commitment)
	if err != nil {
		return
	}
	_ = sess.AddNonceCommitment(p.SignerIndex, commitment)
}

func (h *MuSig2Handler) onNonceShare(env Envelope) {
	var p NonceSharePayload
	if err := env.DecodePayload(&p); err != nil {
		return
	}
	sess, ok := h.lookupSession(p.SessionID)
	if !ok {
		return
	}
	nonce, err := codec.ParsePubNonceHex(p.PublicNonce)
	if err != nil {
		return
	}
	_, _ = sess.AddPublicNonce(p.SignerIndex, nonce)
}

func (h *MuSig2Handler) onPartialSigShare(env Envelope) {
	var p PartialSigSharePayload
	if err := env.DecodePayload(&p); err != nil {
		return
	}
	sess, ok := h.lookupSession(p.SessionID)
	if !ok {
		return
	}
	sig, err := codec.ParsePartialSigHex(p.PartialSig)
	if err != nil {
		return
	}
	_, _ = sess.AddPartialSig(p.SignerIndex, musig2.PartialSig(sig))
}

func (h *MuSig2Handler) onSessionAbort(env Envelope) {
	var p SessionAbortPayload
	if err := env.DecodePayload(&p); err != nil {
		return
	}
	sess, ok := h.lookupSession(p.SessionID)
	if !ok {
		return
	}
	sess.Abort(p.Reason)
}

func (h *MuSig2Handler) onNoncesComplete(payload any) {
	snap, ok := payload.(musig2.Snapshot)
	if !ok || snap.LocalSignerIndex == -1 {
		return
	}
	sess, err := h.store.Get(snap.ID)
	if err != nil {
		return
	}
	sig, err := sess.SignPartial()
	if err != nil {
		return
	}
	p := PartialSigSharePayload{
		SessionID:   codec.Hash32Hex(snap.ID),
		SignerIndex: snap.LocalSignerIndex,
		PartialSig:  codec.PartialSigHex(sig),
	}
	_ = h.broadcast(context.Background(), TypePartialSigShare, p)
}

func (h *MuSig2Handler) onSessionComplete(payload any) {
	snap, ok := payload.(musig2.Snapshot)
	if !ok || snap.LocalSignerIndex == -1 || snap.FinalSignature == nil {
		return
	}
	p := SessionCompletePayload{
		SessionID: codec.Hash32Hex(snap.ID),
		Signature: codec.SignatureHex(snap.FinalSignature),
		Timestamp: idgen.NowMs(),
	}
	_ = h.broadcast(context.Background(), TypeSessionComplete, p)
}

func (h *MuSig2Handler) onSessionAborted(payload any) {
	snap, ok := payload.(musig2.Snapshot)
	if !ok || snap.LocalSignerIndex == -1 {
		return
	}
	p := SessionAbortPayload{
		SessionID: codec.Hash32Hex(snap.ID),
		Reason:    abortReasonKind(snap.AbortReason),
		Timestamp: idgen.NowMs(),
	}
	_ = h.broadcast(context.Background(), TypeSessionAbort, p)
}

// abortReasonKind extracts the leading protoerr.Kind token from a
// Session.AbortReason string ("KIND: detail (signer N)"), so peers learn
// only the generic reason code, never the detailed message.
func abortReasonKind(reason string) string {
	for i, r := range reason {
		if r == ':' {
			return reason[:i]
		}
	}
	return string(protoerr.InternalFailure)
}
