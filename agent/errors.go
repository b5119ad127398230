package agent

import (
	"errors"
	"fmt"

	"github.com/replicanet/agent/certificate"
)

// Kind reuses the certificate package's error taxonomy: the engine's own
// failures and any certificate failure it surfaces share one
// classification space, so a caller branches on a single enum regardless
// of which layer produced the error.
type Kind = certificate.Kind

const (
	Unknown              = certificate.Unknown
	Input                = certificate.Input
	Protocol             = certificate.Protocol
	Trust                = certificate.Trust
	Transient            = certificate.Transient
	IngressExpiryInvalid = certificate.IngressExpiryInvalid
	Cancelled            = certificate.Cancelled
)

// Error is the typed error the engine returns.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func newError(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("agent: %s (%s): %v", e.Code, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Sentinel errors for engine-level failure conditions. Certificate
// verification failures from Call and ReadState surface as the
// *certificate.Error that certificate.Verify returns, not wrapped in an
// *Error (both carry a Kind from the same enum); Query reports any
// failure of its signature check as a Trust-kind *Error. These sentinels
// cover the conditions only the engine itself can detect.
var (
	ErrRetriesExhausted     = errors.New("agent: retries exhausted")
	ErrIngressExpiryInvalid = errors.New("agent: replica rejected the request's ingress_expiry")
	ErrQueryDisagreement    = errors.New("agent: query node signatures disagree on the reply payload")
	ErrMalformedReply       = errors.New("agent: reply did not match the wire contract")
	ErrCancelled            = errors.New("agent: operation cancelled")
	ErrMissingTransport     = errors.New("agent: Options.Transport is required")
)
