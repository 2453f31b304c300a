// Package protocol implements Component G (MuSig2 protocol handler) and
// the envelope half of Component L.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/idgen"
)

// Protocol identifiers, 
const (
	MuSig2ProtocolID  = "/lotus/musig2/1.0.0"
	SwapSigProtocolID = "/lotus/swapsig/1.0.0"
)

// MuSig2 message types, 
const (
	TypeSessionJoin       = "SESSION_JOIN"
	TypeSessionJoinAck    = "SESSION_JOIN_ACK"
	TypeNonceCommitment   = "NONCE_COMMITMENT"
	TypeNonceShare        = "NONCE_SHARE"
	TypePartialSigShare   = "PARTIAL_SIG_SHARE"
	TypeSessionAbort      = "SESSION_ABORT"
	TypeSessionComplete   = "SESSION_COMPLETE"
)

// Envelope is the wire format shared by both protocols ().
type Envelope struct {
	Protocol  string          `json:"protocol"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
	Signature []byte          `json:"signature,omitempty"`
}

// NewEnvelope marshals payload and stamps the envelope with the current
// time. The caller is responsible for signing, if required.
func NewEnvelope(protocolID, msgType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: marshal payload: %w", err)
	}
	return Envelope{
		Protocol:  protocolID,
		Type:      msgType,
		Payload:   raw,
		Timestamp: idgen.NowMs(),
	}, nil
}

// DecodePayload unmarshals env.Payload into out.
func (e Envelope) DecodePayload(out any) error {
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("protocol: decode payload for type %s: %w", e.Type, err)
	}
	return nil
}

// SessionJoinPayload is the SESSION_JOIN message body.
type SessionJoinPayload struct {
	SessionID      string `json:"sessionId"`
	SignerIndex    int    `json:"signerIndex"`
	SequenceNumber uint64 `json:"sequenceNumber"`
	PublicKey      string `json:"publicKey"`
}

// SessionJoinAckPayload is the SESSION_JOIN_ACK message body.
type SessionJoinAckPayload struct {
	SessionID string `json:"sessionId"`
	Accepted  bool   `json:"accepted"`
	Timestamp int64  `json:"timestamp"`
}

// NonceCommitmentPayload is the optional pre-reveal NONCE_COMMITMENT body.
type NonceCommitmentPayload struct {
	SessionID   string `json:"sessionId"`
	SignerIndex int    `json:"signerIndex"`
	Commitment  string `json:"commitment"`
}

// NonceSharePayload is the NONCE_SHARE message body.
type NonceSharePayload struct {
	SessionID   string `json:"sessionId"`
	SignerIndex int    `json:"signerIndex"`
	PublicNonce string `json:"publicNonce"`
}

// PartialSigSharePayload is the PARTIAL_SIG_SHARE message body.
type PartialSigSharePayload struct {
	SessionID   string `json:"sessionId"`
	SignerIndex int    `json:"signerIndex"`
	PartialSig  string `json:"partialSig"`
}

// SessionAbortPayload is the SESSION_ABORT message body.
type SessionAbortPayload struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// SessionCompletePayload is the SESSION_COMPLETE message body.
type SessionCompletePayload struct {
	SessionID string `json:"sessionId"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}
