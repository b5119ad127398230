package certificate

import (
	"errors"
	"fmt"
)

// Kind classifies a certificate Error for retry/escalation decisions by
// callers. Kind is deliberately coarse: callers branch on Kind, and use
// errors.Is against the package-level sentinels below when they need the
// specific failure condition.
type Kind int

const (
	// Unknown covers failures that don't fit any other Kind.
	Unknown Kind = iota
	// Input marks a caller mistake: a malformed argument to this package.
	Input
	// Protocol marks a malformed or structurally invalid wire payload.
	Protocol
	// Trust marks a cryptographically or temporally untrustworthy
	// certificate: bad signature, stale time, wrong delegation, out of
	// range.
	Trust
	// Transient marks a failure a caller may reasonably retry (reserved
	// for callers composing this package with network I/O).
	Transient
	// IngressExpiryInvalid marks a replica-reported expired ingress
	// expiry, distinct from Trust because the caller's remedy is to
	// resync its clock and resubmit, not to distrust the replica.
	IngressExpiryInvalid
	// Cancelled marks a caller-cancelled operation (context.Canceled).
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Input:
		return "Input"
	case Protocol:
		return "Protocol"
	case Trust:
		return "Trust"
	case Transient:
		return "Transient"
	case IngressExpiryInvalid:
		return "IngressExpiryInvalid"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is the typed error this package returns. Code names the specific
// failure condition (e.g. "BadSignature"); Err is the wrapped sentinel,
// so callers can use errors.Is against both the Error itself (by Kind, via
// Is) and the underlying sentinel.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func newError(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("certificate: %s (%s): %v", e.Code, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Sentinel errors for each named failure condition. Wrap one of these in
// an *Error via newError; callers can match either the sentinel
// (errors.Is(err, ErrBadSignature)) or the Kind.
var (
	ErrBadSignature        = errors.New("certificate: signature does not verify against the effective signing key")
	ErrStale               = errors.New("certificate: embedded time is older than the drift budget allows")
	ErrFromFuture          = errors.New("certificate: embedded time is ahead of the drift budget's tolerance")
	ErrNotInRanges         = errors.New("certificate: canister id is not contained in any advertised range")
	ErrWrongRootDelegation = errors.New("certificate: delegation chain does not authorise the expected subnet")
	ErrMalformedCbor       = errors.New("certificate: envelope failed to decode")
	ErrLookupError         = errors.New("certificate: required path is missing or ambiguous in the verified tree")
)
