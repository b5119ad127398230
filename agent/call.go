package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/replicanet/agent/certcbor"
	"github.com/replicanet/agent/certificate"
	"github.com/replicanet/agent/hashtree"
	"github.com/replicanet/agent/principal"
	"github.com/replicanet/agent/queryverify"
	"github.com/replicanet/agent/reqid"
	"github.com/replicanet/agent/transport"
)

// defaultCallDeltaMs bounds an update call's own lifetime.
const defaultCallDeltaMs = 4 * 60 * 1000

// CallResult is the outcome of a successful update call: the verified
// reply certificate plus the request id it answers, so a caller can look
// up /request_status/<rid>/reply itself if it needs the raw bytes rather
// than a decoded value.
type CallResult struct {
	RequestID reqid.ID
	Certified *certificate.Verified
}

// Call submits an update call to canisterID and polls /request_status
// until the replica reports replied or rejected, verifying the terminal
// certificate before returning it.
func (e *Engine) Call(ctx context.Context, canisterID principal.Principal, methodName string, arg []byte) (*CallResult, error) {
	req, _, err := e.submitWithResync(ctx, "call", &canisterID, methodName, arg, nil, defaultCallDeltaMs,
		func(ctx context.Context, wire []byte) (transport.Response, error) {
			return e.transport.Call(ctx, string(canisterID.Raw()), wire)
		})
	if err != nil {
		return nil, err
	}

	if v, ok, err := e.tryDecodeCallCertificate(req.lastResp, canisterID); ok {
		if err != nil {
			return nil, err
		}
		return &CallResult{RequestID: req.requestID, Certified: v}, nil
	}

	v, err := e.pollRequestStatus(ctx, canisterID, req.requestID)
	if err != nil {
		return nil, err
	}
	return &CallResult{RequestID: req.requestID, Certified: v}, nil
}

// tryDecodeCallCertificate interprets a 200 response from /call as an
// immediately-certified reply (the v4 fast path); any other status code
// means the caller must poll. A malformed 200 body is a hard decode
// error, not a signal to fall back to polling.
func (e *Engine) tryDecodeCallCertificate(resp transport.Response, canisterID principal.Principal) (*certificate.Verified, bool, error) {
	if resp.StatusCode != 200 {
		return nil, false, nil
	}
	reply, err := certcbor.DecodeCertificateReply(resp.Body)
	if err != nil {
		return nil, true, newError(Protocol, "MalformedCbor", err)
	}
	v, err := e.verifyCertificateBytes(reply.Certificate, certificate.Expected{CanisterID: &canisterID})
	return v, true, err
}

// Query submits a query call to canisterID and verifies every node
// signature on the reply against the owning subnet's current NodeKey
// map before returning.
func (e *Engine) Query(ctx context.Context, canisterID principal.Principal, methodName string, arg []byte) (*certcbor.QueryReply, error) {
	req, _, err := e.submitWithResync(ctx, "query", &canisterID, methodName, arg, nil, defaultCallDeltaMs,
		func(ctx context.Context, wire []byte) (transport.Response, error) {
			return e.transport.Query(ctx, string(canisterID.Raw()), wire)
		})
	if err != nil {
		return nil, err
	}

	reply, err := certcbor.DecodeQueryReply(req.lastResp.Body)
	if err != nil {
		return nil, newError(Protocol, "MalformedCbor", err)
	}

	entries := make([]queryverify.Entry, len(reply.Signatures))
	for i, sig := range reply.Signatures {
		entry := queryverify.Entry{
			Status:      reply.Status,
			Reply:       reply.Reply,
			TimestampNs: sig.TimestampNs,
			RequestID:   req.requestID,
			NodeID:      sig.NodeID,
		}
		if len(sig.Signature) != 48 {
			return nil, newError(Protocol, "MalformedCbor", fmt.Errorf("agent: query signature length %d, want 48", len(sig.Signature)))
		}
		copy(entry.Signature[:], sig.Signature)
		entries[i] = entry
	}

	if err := e.qv.Verify(ctx, canisterID, entries); err != nil {
		e.metrics.verifyFailure(Trust)
		return nil, newError(Trust, "QueryNotTrusted", err)
	}
	return reply, nil
}

// pollRequestStatus polls /request_status/<rid>/{status,reply,...} with a
// fresh PollStrategy until the replica reports a terminal status,
// verifying and returning the first replied certificate it sees. A
// rejected status surfaces as a Protocol-kind error carrying the
// replica's reject code and message; duplicate terminal reads (a replied
// certificate seen again on a later poll) are ignored, the first one
// already won.
func (e *Engine) pollRequestStatus(ctx context.Context, canisterID principal.Principal, requestID reqid.ID) (*certificate.Verified, error) {
	strategy := e.pollFactory()
	paths := [][][]byte{{[]byte("request_status"), requestID[:]}}

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, newError(Cancelled, "Cancelled", ErrCancelled)
		default:
		}

		verified, err := e.readStateVerified(ctx, canisterID, paths, true)
		if err != nil {
			return nil, err
		}

		status, ok := lookupRequestStatus(verified, requestID)
		if !ok {
			if err := sleepOrCancel(ctx, strategy.NextDelay(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		switch status {
		case "replied":
			return verified, nil
		case "rejected":
			code, msg := lookupRejectDetails(verified, requestID)
			return nil, newError(Protocol, "Rejected", fmt.Errorf("agent: request rejected (code %d): %s", code, msg))
		case "done":
			return nil, newError(Protocol, "Rejected", errors.New("agent: request garbage-collected before a reply was observed"))
		default:
			// "received" or "processing": not terminal, keep polling.
			if err := sleepOrCancel(ctx, strategy.NextDelay(attempt)); err != nil {
				return nil, err
			}
		}
	}
}

func sleepOrCancel(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return newError(Cancelled, "Cancelled", ErrCancelled)
	case <-timer.C:
		return nil
	}
}

// submission carries the state a resubmit cycle needs to rebuild the
// request from scratch, plus the transport response from whichever
// attempt finally succeeded.
type submission struct {
	requestID reqid.ID
	lastResp  transport.Response
}

// submitWithResync builds, signs, and submits one request, then retries
// it up to e.retryTimes times on a Transient transport failure. A 400
// response naming an ingress_expiry problem triggers exactly one time
// sync plus one full rebuild (a fresh ingress_expiry, hence a fresh
// requestId and signature) before surfacing IngressExpiryInvalid.
// rebuilt reports whether that resync path was taken, for callers that
// want to log it.
func (e *Engine) submitWithResync(
	ctx context.Context,
	requestType string,
	canisterID *principal.Principal,
	methodName string,
	arg []byte,
	paths [][][]byte,
	deltaMs int64,
	send func(ctx context.Context, wire []byte) (transport.Response, error),
) (*submission, bool, error) {
	rebuilt := false

	for {
		req, err := e.build(requestType, canisterID, methodName, arg, paths, deltaMs)
		if err != nil {
			return nil, rebuilt, err
		}

		resp, err := e.submitWithRetries(ctx, req.wire, send)
		if err != nil {
			return nil, rebuilt, err
		}

		if isIngressExpiryRejection(resp) {
			if rebuilt {
				return nil, rebuilt, newError(IngressExpiryInvalid, "IngressExpiryInvalid", ErrIngressExpiryInvalid)
			}
			if syncErr := e.timesync.SyncOnFailure(ctx); syncErr != nil {
				return nil, rebuilt, newError(Transient, "TimeSync", syncErr)
			}
			e.timesync.ResetFailureGate()
			rebuilt = true
			continue
		}

		return &submission{requestID: req.requestID, lastResp: resp}, rebuilt, nil
	}
}

// submitWithRetries sends wire via send, retrying a Transient transport
// error up to e.retryTimes times with the engine's poll backoff shape
// between attempts.
func (e *Engine) submitWithRetries(ctx context.Context, wire []byte, send func(ctx context.Context, wire []byte) (transport.Response, error)) (transport.Response, error) {
	backoff := e.pollFactory()
	var lastErr error
	for attempt := 0; attempt <= e.retryTimes; attempt++ {
		select {
		case <-ctx.Done():
			return transport.Response{}, newError(Cancelled, "Cancelled", ErrCancelled)
		default:
		}

		resp, err := send(ctx, wire)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		e.metrics.retry("transport")
		if attempt == e.retryTimes {
			break
		}
		if sleepErr := sleepOrCancel(ctx, backoff.NextDelay(attempt+1)); sleepErr != nil {
			return transport.Response{}, sleepErr
		}
	}
	return transport.Response{}, newError(Transient, "RetriesExhausted", fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr))
}

// isIngressExpiryRejection reports whether resp is a 400 the replica
// attributes to an ingress_expiry outside its accepted window. The
// reject message text is the only signal the wire protocol gives for
// this; it is matched case-insensitively against the substring every
// known replica implementation uses.
func isIngressExpiryRejection(resp transport.Response) bool {
	if resp.StatusCode != 400 {
		return false
	}
	return strings.Contains(strings.ToLower(string(resp.Body)), "ingress_expiry")
}

// lookupRequestStatus reads /request_status/<rid>/status as a string,
// returning ok=false if the path is not yet present (the replica has not
// received or has not started processing the request).
func lookupRequestStatus(v *certificate.Verified, requestID reqid.ID) (string, bool) {
	path := [][]byte{[]byte("request_status"), requestID[:], []byte("status")}
	res, val, err := v.LookupPath(path)
	if err != nil || res != hashtree.Found {
		return "", false
	}
	return string(val), true
}

// lookupRejectDetails reads /request_status/<rid>/{reject_code,reject_message}.
func lookupRejectDetails(v *certificate.Verified, requestID reqid.ID) (uint64, string) {
	codePath := [][]byte{[]byte("request_status"), requestID[:], []byte("reject_code")}
	msgPath := [][]byte{[]byte("request_status"), requestID[:], []byte("reject_message")}

	var code uint64
	if res, val, err := v.LookupPath(codePath); err == nil && res == hashtree.Found {
		code, _ = reqid.DecodeLeb128(val)
	}
	var msg string
	if res, val, err := v.LookupPath(msgPath); err == nil && res == hashtree.Found {
		msg = string(val)
	}
	return code, msg
}
