package agent

import (
	"context"
	"fmt"

	"github.com/replicanet/agent/blscrypto"
	"github.com/replicanet/agent/certcbor"
	"github.com/replicanet/agent/certificate"
	"github.com/replicanet/agent/hashtree"
	"github.com/replicanet/agent/principal"
	"github.com/replicanet/agent/queryverify"
	"github.com/replicanet/agent/transport"
)

// ReadState reads paths from canisterID's state tree and returns the
// verified certificate, enforcing that canisterID lies within the
// certificate's authorised canister ranges.
func (e *Engine) ReadState(ctx context.Context, canisterID principal.Principal, paths [][][]byte) (*certificate.Verified, error) {
	return e.readStateVerified(ctx, canisterID, paths, true)
}

// ReadSubnetState reads paths from subnetID's state tree and returns the
// verified certificate.
func (e *Engine) ReadSubnetState(ctx context.Context, subnetID principal.Principal, paths [][][]byte) (*certificate.Verified, error) {
	return e.readSubnetStateVerified(ctx, subnetID, paths, nil)
}

// readStateVerified builds, signs, submits, and verifies a canister
// read_state request. enforceRange controls whether the verifier checks
// canisterID against the certificate's canister ranges: callers reading
// the canister's own authorised data set it true; the routing-table read
// GetSubnetIDForCanister performs is itself how that range is discovered,
// so it sets it false.
func (e *Engine) readStateVerified(ctx context.Context, canisterID principal.Principal, paths [][][]byte, enforceRange bool) (*certificate.Verified, error) {
	req, err := e.build("read_state", &canisterID, "", nil, paths, defaultReadStateDeltaMs)
	if err != nil {
		return nil, err
	}

	resp, err := e.transport.ReadCanisterState(ctx, string(canisterID.Raw()), req.wire)
	if err != nil {
		return nil, newError(Transient, "Transport", err)
	}

	expected := certificate.Expected{}
	if enforceRange {
		expected.CanisterID = &canisterID
	}
	return e.decodeAndVerifyCertificate(resp, expected)
}

// readSubnetStateVerified builds, signs, submits, and verifies a subnet
// read_state request. authorizedCanister, when non-nil, is enforced
// against the returned certificate's canister ranges (FetchSubnetKeys
// uses this to reject a subnet certificate that does not authorise the
// canister the caller is resolving keys for).
func (e *Engine) readSubnetStateVerified(ctx context.Context, subnetID principal.Principal, paths [][][]byte, authorizedCanister *principal.Principal) (*certificate.Verified, error) {
	req, err := e.build("read_state", nil, "", nil, paths, defaultReadStateDeltaMs)
	if err != nil {
		return nil, err
	}

	resp, err := e.transport.ReadSubnetState(ctx, string(subnetID.Raw()), req.wire)
	if err != nil {
		return nil, newError(Transient, "Transport", err)
	}

	expected := certificate.Expected{SubnetID: &subnetID}
	if authorizedCanister != nil {
		expected = certificate.Expected{CanisterID: authorizedCanister}
	}
	v, err := e.decodeAndVerifyCertificate(resp, expected)
	if err != nil {
		if authorizedCanister != nil {
			return nil, fmt.Errorf("%w: %v", queryverify.ErrCertificateNotAuthorized, err)
		}
		return nil, err
	}
	return v, nil
}

// decodeAndVerifyCertificate unwraps a transport.Response's {certificate}
// body and runs it through certificate.Verify.
func (e *Engine) decodeAndVerifyCertificate(resp transport.Response, expected certificate.Expected) (*certificate.Verified, error) {
	reply, err := certcbor.DecodeCertificateReply(resp.Body)
	if err != nil {
		return nil, newError(Protocol, "MalformedCbor", err)
	}
	v, err := certificate.Verify(reply.Certificate, certificate.Options{
		RootPublicKey:           e.rootPublicKey,
		Expected:                expected,
		Now:                     e.clock(),
		DriftBudget:             e.driftBudget,
		DisableTimeVerification: false,
	})
	if err != nil {
		e.metrics.verifyFailure(classifyCertError(err))
		return nil, err
	}
	return v, nil
}

// verifyCertificateBytes runs raw certificate bytes (already extracted
// from a CertificateReply) through certificate.Verify. Used by the
// update-call fast path, which decodes its CertificateReply itself to
// distinguish a 200 (certified reply) from any other status code before
// falling back to polling.
func (e *Engine) verifyCertificateBytes(raw []byte, expected certificate.Expected) (*certificate.Verified, error) {
	v, err := certificate.Verify(raw, certificate.Options{
		RootPublicKey:           e.rootPublicKey,
		Expected:                expected,
		Now:                     e.clock(),
		DriftBudget:             e.driftBudget,
		DisableTimeVerification: false,
	})
	if err != nil {
		e.metrics.verifyFailure(classifyCertError(err))
		return nil, err
	}
	return v, nil
}

func classifyCertError(err error) Kind {
	var cErr *certificate.Error
	if ok := asCertificateError(err, &cErr); ok {
		return cErr.Kind
	}
	return Unknown
}

func asCertificateError(err error, target **certificate.Error) bool {
	for err != nil {
		if ce, ok := err.(*certificate.Error); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// sampleTime is the timesync.SampleFunc used for WellKnownCanister reads:
// it performs an unverified-time read_state round trip against /time and
// returns the certificate's embedded timestamp in milliseconds.
// DisableTimeVerification avoids the circularity of needing a synced
// drift estimate to check the freshness of the very certificate that
// establishes it.
func (e *Engine) sampleTime(ctx context.Context) (int64, error) {
	return e.sampleTimeFromCanister(ctx, e.wellKnownCanister)
}

func (e *Engine) sampleTimeFromCanister(ctx context.Context, canisterID principal.Principal) (int64, error) {
	req, err := e.build("read_state", &canisterID, "", nil, timePaths, defaultReadStateDeltaMs)
	if err != nil {
		return 0, err
	}
	resp, err := e.transport.ReadCanisterState(ctx, string(canisterID.Raw()), req.wire)
	if err != nil {
		return 0, newError(Transient, "Transport", err)
	}
	v, err := e.decodeAndVerifyCertificateUnchecked(resp)
	if err != nil {
		return 0, err
	}
	return int64(v.TimeNs / 1_000_000), nil
}

// sampleTimeFromSubnet is the timesync.SampleFunc used by
// SyncTimeWithSubnet.
func (e *Engine) sampleTimeFromSubnet(ctx context.Context, subnetID principal.Principal) (int64, error) {
	req, err := e.build("read_state", nil, "", nil, timePaths, defaultReadStateDeltaMs)
	if err != nil {
		return 0, err
	}
	resp, err := e.transport.ReadSubnetState(ctx, string(subnetID.Raw()), req.wire)
	if err != nil {
		return 0, newError(Transient, "Transport", err)
	}
	v, err := e.decodeAndVerifyCertificateUnchecked(resp)
	if err != nil {
		return 0, err
	}
	return int64(v.TimeNs / 1_000_000), nil
}

func (e *Engine) decodeAndVerifyCertificateUnchecked(resp transport.Response) (*certificate.Verified, error) {
	reply, err := certcbor.DecodeCertificateReply(resp.Body)
	if err != nil {
		return nil, newError(Protocol, "MalformedCbor", err)
	}
	return certificate.Verify(reply.Certificate, certificate.Options{
		RootPublicKey:           e.rootPublicKey,
		DisableTimeVerification: true,
	})
}

var timePaths = [][][]byte{{[]byte("time")}}

// defaultReadStateDeltaMs bounds a read_state request's own lifetime,
// generous enough that a poll loop built on the same drift estimate never
// expires mid-poll.
const defaultReadStateDeltaMs = 5 * 60 * 1000

// lookupSubnetID walks the /subnet routing table for the entry whose
// canister_ranges subtree contains canisterID, returning that subnet's
// raw id.
func lookupSubnetID(v *certificate.Verified, canisterID principal.Principal) ([]byte, error) {
	res, subnetsNode, err := v.LookupSubtree([][]byte{[]byte("subnet")})
	if err != nil {
		return nil, newError(Protocol, "LookupError", err)
	}
	if res != hashtree.Found {
		return nil, newError(Protocol, "LookupError", ErrMalformedReply)
	}

	entries, err := hashtree.FlattenForks(subnetsNode)
	if err != nil {
		return nil, newError(Protocol, "LookupError", err)
	}
	for _, entry := range entries {
		res, rangesNode, err := hashtree.LookupSubtree([][]byte{[]byte("canister_ranges")}, entry.Sub)
		if err != nil {
			return nil, newError(Protocol, "LookupError", err)
		}
		if res != hashtree.Found || rangesNode.Kind != hashtree.Leaf {
			continue
		}
		ranges, err := certificate.DecodeCanisterRanges(rangesNode.Value)
		if err != nil {
			return nil, newError(Protocol, "MalformedCbor", err)
		}
		for _, r := range ranges {
			if r.Contains(canisterID) {
				return entry.Label, nil
			}
		}
	}
	return nil, newError(Trust, "NotInRanges", certificate.ErrNotInRanges)
}

// extractNodeKeys walks /subnet/<sid>/node/<nid>/public_key for every
// node under subnetRaw's subtree, building a NodeKeyMap.
func extractNodeKeys(v *certificate.Verified, subnetRaw []byte) (queryverify.NodeKeyMap, error) {
	res, nodesNode, err := v.LookupSubtree([][]byte{[]byte("subnet"), subnetRaw, []byte("node")})
	if err != nil {
		return nil, newError(Protocol, "LookupError", err)
	}
	if res != hashtree.Found {
		return nil, newError(Protocol, "LookupError", ErrMalformedReply)
	}

	entries, err := hashtree.FlattenForks(nodesNode)
	if err != nil {
		return nil, newError(Protocol, "LookupError", err)
	}

	keys := make(queryverify.NodeKeyMap, len(entries))
	for _, entry := range entries {
		res, pkNode, err := hashtree.LookupSubtree([][]byte{[]byte("public_key")}, entry.Sub)
		if err != nil {
			return nil, newError(Protocol, "LookupError", err)
		}
		if res != hashtree.Found || pkNode.Kind != hashtree.Leaf {
			continue
		}
		pk, err := blscrypto.UnwrapDERPubkey(pkNode.Value)
		if err != nil {
			return nil, newError(Protocol, "MalformedCbor", err)
		}
		keys[string(entry.Label)] = pk
	}
	return keys, nil
}
