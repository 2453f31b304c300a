// Package security implements Component E: the ingress gate applied to
// every inbound protocol message before it reaches routing.
// Checks run in a fixed order — blocklist, rate limit, timestamp
// skew, replay cache, size ceiling — and the verdict is pass/fail only;
// the rejection reason is published on an observer channel, never
// returned to the sender.
package security

import (
	"sync"
	"time"

	lotuscrypto "github.com/LotusiaStewardship/lotus-sdk-sub003/internal/crypto"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/events"
)

// Config holds the tunables for the validator.
type Config struct {
	MaxClockSkewMs   int64
	ReplayTTL        time.Duration
	MaxPayloadBytes  int
	RateLimitBurst   int
	RateLimitPerSec  float64
	RateLimitEnabled bool
}

// DefaultConfig returns the validator's default tunables.
func DefaultConfig() Config {
	return Config{
		MaxClockSkewMs:   30_000,
		ReplayTTL:        5 * time.Minute,
		MaxPayloadBytes:  64 * 1024,
		RateLimitBurst:   20,
		RateLimitPerSec:  5,
		RateLimitEnabled: true,
	}
}

// Message is the minimal shape the validator needs from an inbound envelope.
type Message struct {
	PeerID      string
	Type        string
	SessionID   string
	PayloadHash [32]byte
	Timestamp   int64 // epoch ms, as claimed by the sender
	PayloadLen  int
}

// Rejection describes why a message failed validation. It is published to
// observers but never echoed back to the originating peer.
type Rejection struct {
	Peer   string
	Type   string
	Reason string
}

// Validator is the process-global security gate. Its replay cache and
// rate-limiter buckets are safe for concurrent use from many session/pool
// flows at once.
type Validator struct {
	cfg Config

	mu       sync.Mutex
	blocked  map[string]bool
	buckets  map[string]*leakyBucket
	replayed map[[32]byte]time.Time

	registry *events.Registry
}

// NewValidator constructs a Validator. registry may be nil if no observer
// is needed.
func NewValidator(cfg Config, registry *events.Registry) *Validator {
	return &Validator{
		cfg:      cfg,
		blocked:  make(map[string]bool),
		buckets:  make(map[string]*leakyBucket),
		replayed: make(map[[32]byte]time.Time),
		registry: registry,
	}
}

// Block adds a peer to the blocklist.
func (v *Validator) Block(peerID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.blocked[peerID] = true
}

// Unblock removes a peer from the blocklist.
func (v *Validator) Unblock(peerID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.blocked, peerID)
}

// Validate runs the five ingress checks in order, returning true iff the
// message passes all of them. nowMs is the local clock, passed explicitly
// for testability.
func (v *Validator) Validate(msg Message, nowMs int64) bool {
	if reason, ok := v.checkBlocklist(msg); !ok {
		v.reject(msg, reason)
		return false
	}
	if reason, ok := v.checkRateLimit(msg, nowMs); !ok {
		v.reject(msg, reason)
		return false
	}
	if reason, ok := v.checkTimestamp(msg, nowMs); !ok {
		v.reject(msg, reason)
		return false
	}
	if reason, ok := v.checkReplay(msg, nowMs); !ok {
		v.reject(msg, reason)
		return false
	}
	if reason, ok := v.checkSize(msg); !ok {
		v.reject(msg, reason)
		return false
	}
	return true
}

func (v *Validator) reject(msg Message, reason string) {
	if v.registry == nil {
		return
	}
	v.registry.Emit(events.SecurityRejected, Rejection{Peer: msg.PeerID, Type: msg.Type, Reason: reason})
}

func (v *Validator) checkBlocklist(msg Message) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.blocked[msg.PeerID] {
		return "peer blocked", false
	}
	return "", true
}

func (v *Validator) checkRateLimit(msg Message, nowMs int64) (string, bool) {
	if !v.cfg.RateLimitEnabled {
		return "", true
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	key := msg.PeerID + "|" + msg.Type
	b, ok := v.buckets[key]
	if !ok {
		b = &leakyBucket{level: 0, lastMs: nowMs}
		v.buckets[key] = b
	}
	if !b.allow(nowMs, v.cfg.RateLimitBurst, v.cfg.RateLimitPerSec) {
		return "rate limited", false
	}
	return "", true
}

func (v *Validator) checkTimestamp(msg Message, nowMs int64) (string, bool) {
	skew := msg.Timestamp - nowMs
	if skew < 0 {
		skew = -skew
	}
	if skew > v.cfg.MaxClockSkewMs {
		return "timestamp skew exceeded", false
	}
	return "", true
}

func (v *Validator) checkReplay(msg Message, nowMs int64) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	fingerprint := replayFingerprint(msg)
	if seenAt, ok := v.replayed[fingerprint]; ok {
		if time.UnixMilli(nowMs).Sub(seenAt) < v.cfg.ReplayTTL {
			return "replayed message", false
		}
	}
	v.replayed[fingerprint] = time.UnixMilli(nowMs)
	return "", true
}

func (v *Validator) checkSize(msg Message) (string, bool) {
	if msg.PayloadLen > v.cfg.MaxPayloadBytes {
		return "payload too large", false
	}
	return "", true
}

// SweepReplayCache evicts fingerprints older than the configured TTL,
// bounding the cache's memory under sustained traffic.
func (v *Validator) SweepReplayCache(nowMs int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := time.UnixMilli(nowMs)
	for fp, seenAt := range v.replayed {
		if now.Sub(seenAt) >= v.cfg.ReplayTTL {
			delete(v.replayed, fp)
		}
	}
}

func replayFingerprint(msg Message) [32]byte {
	return lotuscrypto.Sha256([]byte(msg.SessionID), []byte(msg.Type), msg.PayloadHash[:])
}

// leakyBucket is a simple token bucket: level drains at ratePerSec and is
// capped at burst; an allow() call that would exceed burst fails.
type leakyBucket struct {
	level  float64
	lastMs int64
}

func (b *leakyBucket) allow(nowMs int64, burst int, ratePerSec float64) bool {
	elapsed := float64(nowMs-b.lastMs) / 1000
	if elapsed > 0 {
		b.level -= elapsed * ratePerSec
		if b.level < 0 {
			b.level = 0
		}
		b.lastMs = nowMs
	}
	if b.level+1 > float64(burst) {
		return false
	}
	b.level++
	return true
}
