package security

import (
	"testing"

	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/events"
)

func baseMsg() Message {
	return Message{
		PeerID:      "peer-1",
		Type:        "NONCE_SHARE",
		SessionID:   "session-1",
		PayloadHash: [32]byte{1, 2, 3},
		Timestamp:   1_000_000,
		PayloadLen:  128,
	}
}

func TestValidateAcceptsWellFormedMessage(t *testing.T) {
	v := NewValidator(DefaultConfig(), nil)
	if !v.Validate(baseMsg(), 1_000_000) {
		t.Fatal("expected well-formed message to pass")
	}
}

func TestBlockedPeerRejected(t *testing.T) {
	v := NewValidator(DefaultConfig(), nil)
	v.Block("peer-1")
	if v.Validate(baseMsg(), 1_000_000) {
		t.Fatal("expected blocked peer to be rejected")
	}
}

func TestUnblockRestoresAccess(t *testing.T) {
	v := NewValidator(DefaultConfig(), nil)
	v.Block("peer-1")
	v.Unblock("peer-1")
	if !v.Validate(baseMsg(), 1_000_000) {
		t.Fatal("expected unblocked peer to pass")
	}
}

func TestTimestampSkewRejected(t *testing.T) {
	v := NewValidator(DefaultConfig(), nil)
	msg := baseMsg()
	msg.Timestamp = 1_000_000
	if v.Validate(msg, 1_000_000+31_000) {
		t.Fatal("expected timestamp skew beyond 30s to be rejected")
	}
}

func TestTimestampWithinSkewAccepted(t *testing.T) {
	v := NewValidator(DefaultConfig(), nil)
	msg := baseMsg()
	msg.Timestamp = 1_000_000
	if !v.Validate(msg, 1_000_000+29_000) {
		t.Fatal("expected timestamp within 30s skew to be accepted")
	}
}

func TestReplayedMessageRejectedWithinTTL(t *testing.T) {
	v := NewValidator(DefaultConfig(), nil)
	msg := baseMsg()
	if !v.Validate(msg, 1_000_000) {
		t.Fatal("first delivery should pass")
	}
	if v.Validate(msg, 1_000_100) {
		t.Fatal("replayed message within TTL should be rejected")
	}
}

func TestReplayAllowedAfterTTLExpires(t *testing.T) {
	cfg := DefaultConfig()
	v := NewValidator(cfg, nil)
	msg := baseMsg()
	msg.Timestamp = 0
	if !v.Validate(msg, 0) {
		t.Fatal("first delivery should pass")
	}
	afterTTL := cfg.ReplayTTL.Milliseconds() + 1
	msg.Timestamp = afterTTL
	if !v.Validate(msg, afterTTL) {
		t.Fatal("expected message to be accepted again after TTL expiry")
	}
}

func TestPayloadTooLargeRejected(t *testing.T) {
	v := NewValidator(DefaultConfig(), nil)
	msg := baseMsg()
	msg.PayloadLen = 64*1024 + 1
	if v.Validate(msg, 1_000_000) {
		t.Fatal("expected oversized payload to be rejected")
	}
}

func TestRateLimitExhaustionDropsFurtherMessages(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimitBurst = 3
	cfg.RateLimitPerSec = 0 // no refill within the test window
	v := NewValidator(cfg, nil)

	accepted := 0
	for i := 0; i < 5; i++ {
		msg := baseMsg()
		msg.SessionID = msg.SessionID + string(rune('a'+i)) // avoid replay rejection
		if v.Validate(msg, 1_000_000) {
			accepted++
		}
	}
	if accepted != 3 {
		t.Fatalf("expected exactly burst (3) messages accepted, got %d", accepted)
	}
}

func TestRejectionIsNotAvailableToCaller(t *testing.T) {
	v := NewValidator(DefaultConfig(), nil)
	v.Block("peer-1")
	ok := v.Validate(baseMsg(), 1_000_000)
	if ok {
		t.Fatal("expected rejection")
	}
	// Validate's return type is a bare bool: there is no reason string
	// accessible to the caller at all, which is the point.
}

func TestSecurityRejectedObserverReceivesReason(t *testing.T) {
	reg := events.NewRegistry()
	var got Rejection
	reg.On(events.SecurityRejected, func(payload any) {
		got = payload.(Rejection)
	})

	v := NewValidator(DefaultConfig(), reg)
	v.Block("peer-1")
	v.Validate(baseMsg(), 1_000_000)

	if got.Peer != "peer-1" {
		t.Fatalf("expected observer to receive rejection for peer-1, got %+v", got)
	}
}
