// Package protoerr defines the closed error taxonomy shared by the MuSig2
// and SwapSig protocols. Unlike ordinary Go errors these values travel over
// the wire in abort/reject events, so the set of kinds is fixed and each
// kind's wire name is part of the protocol surface, not an implementation
// detail.
package protoerr

import (
	"errors"
	"fmt"
)

// Kind is a closed enumeration of protocol-level failure reasons.
type Kind string

const (
	InvalidPayload           Kind = "INVALID_PAYLOAD"
	UnknownSession           Kind = "UNKNOWN_SESSION"
	UnknownPool              Kind = "UNKNOWN_POOL"
	WrongPhase               Kind = "WRONG_PHASE"
	DuplicateContribution    Kind = "DUPLICATE_CONTRIBUTION"
	ConflictingContribution  Kind = "CONFLICTING_CONTRIBUTION"
	InvalidPartialSig        Kind = "INVALID_PARTIAL_SIG"
	InvalidOwnershipProof    Kind = "INVALID_OWNERSHIP_PROOF"
	CommitmentBroken         Kind = "COMMITMENT_BROKEN"
	UnknownSigner            Kind = "UNKNOWN_SIGNER"
	SessionExpired           Kind = "SESSION_EXPIRED"
	PoolExpired              Kind = "POOL_EXPIRED"
	NotAdmitted              Kind = "NOT_ADMITTED"
	InsufficientParticipants Kind = "INSUFFICIENT_PARTICIPANTS"
	InvalidElectionProof     Kind = "INVALID_ELECTION_PROOF"
	NotCoordinator           Kind = "NOT_COORDINATOR"
	RateLimited              Kind = "RATE_LIMITED"
	BlockedPeer              Kind = "BLOCKED_PEER"
	ReplayedMessage          Kind = "REPLAYED_MESSAGE"
	ClockSkew                Kind = "CLOCK_SKEW"
	PayloadTooLarge          Kind = "PAYLOAD_TOO_LARGE"
	InternalFailure          Kind = "INTERNAL_FAILURE"
)

// Error is the concrete error type carried in abort/reject events. OffenderIndex
// is -1 when the failure is not attributable to a specific signer.
type Error struct {
	Kind          Kind
	Message       string
	OffenderIndex int
}

func (e *Error) Error() string {
	if e.OffenderIndex >= 0 {
		return fmt.Sprintf("%s: %s (signer %d)", e.Kind, e.Message, e.OffenderIndex)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New constructs an Error with no attributable offender.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), OffenderIndex: -1}
}

// NewFrom constructs an Error attributed to a specific signer index.
func NewFrom(kind Kind, offenderIndex int, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), OffenderIndex: offenderIndex}
}

// Is allows errors.Is(err, protoerr.New(kind, "")) style matching on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error, and
// InternalFailure otherwise.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return InternalFailure
}
