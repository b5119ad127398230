// Package certificate implements the Certificate component: it ties
// together the hash tree, CBOR codec, and BLS verifier to
// recompute a state root, walk a bounded delegation chain, enforce
// canister-range containment, and check time freshness.
package certificate

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/replicanet/agent/blscrypto"
	"github.com/replicanet/agent/certcbor"
	"github.com/replicanet/agent/hashtree"
	"github.com/replicanet/agent/principal"
	"github.com/replicanet/agent/reqid"
)

// stateRootDST is the domain separator prepended to the reconstructed root
// hash before BLS verification: "\x0dic-state-root".
var stateRootDST = []byte("\x0dic-state-root")

// DefaultDriftBudget is the default allowed clock skew between the
// certificate's embedded time and the caller's wall clock.
const DefaultDriftBudget = 5 * time.Minute

// Expected names the principal the certificate must authorise: either a
// canister (range-checked) or a subnet (delegation-checked). At most one
// field is set; with neither set, Verify authorises no particular
// principal and checks only the signature chain and freshness.
type Expected struct {
	CanisterID *principal.Principal
	SubnetID   *principal.Principal
}

// Options configures a single certificate verification.
type Options struct {
	// RootPublicKey is the network root's 96-byte compressed G2 BLS key.
	RootPublicKey [96]byte

	Expected Expected

	// Now is the caller's current wall clock, used for freshness checking.
	Now time.Time

	// DriftBudget is the allowed skew between the certificate's embedded
	// time and Now. Zero means DefaultDriftBudget.
	DriftBudget time.Duration

	// DisableTimeVerification skips the freshness check entirely.
	DisableTimeVerification bool

	// maxDelegationDepth bounds delegation recursion; always 1 from the
	// exported Verify entry point, guarding against a cyclic delegation
	// chain. Only the recursive internal call overrides it to 0.
	maxDelegationDepth int
}

// Verified is the result of a successful verification: the checked tree,
// bound for further path lookups, plus the data the caller needs.
type Verified struct {
	Tree *hashtree.Node
	Root [32]byte

	// EffectiveSigningKey is the 96-byte G2 key that actually signed this
	// certificate (the root key, or the delegated subnet key).
	EffectiveSigningKey [96]byte

	// TimeNs is the certificate's embedded /time value, in nanoseconds,
	// if present.
	TimeNs uint64
}

// LookupPath looks up a path within the verified tree.
func (v *Verified) LookupPath(path [][]byte) (hashtree.LookupResult, []byte, error) {
	return hashtree.LookupPath(path, v.Tree)
}

// LookupSubtree looks up a path within the verified tree, returning the
// terminal subtree node rather than requiring it to be a leaf.
func (v *Verified) LookupSubtree(path [][]byte) (hashtree.LookupResult, *hashtree.Node, error) {
	return hashtree.LookupSubtree(path, v.Tree)
}

// Verify decodes and verifies raw certificate bytes.
func Verify(raw []byte, opts Options) (*Verified, error) {
	if opts.DriftBudget == 0 {
		opts.DriftBudget = DefaultDriftBudget
	}
	if opts.maxDelegationDepth == 0 {
		opts.maxDelegationDepth = 1
	}
	return verify(raw, opts)
}

func verify(raw []byte, opts Options) (*Verified, error) {
	env, err := certcbor.DecodeEnvelope(raw)
	if err != nil {
		return nil, newError(Protocol, "MalformedCbor", err)
	}

	root := hashtree.Reconstruct(env.Tree)

	esk, signingSubnet, err := effectiveSigningKey(env, opts)
	if err != nil {
		return nil, err
	}

	msg := append(append([]byte{}, stateRootDST...), root[:]...)
	if !blscrypto.Verify(env.Signature, msg, esk) {
		return nil, newError(Trust, "BadSignature", ErrBadSignature)
	}

	if opts.Expected.CanisterID != nil {
		if err := checkCanisterRange(env.Tree, signingSubnet, opts.Expected.CanisterID); err != nil {
			return nil, err
		}
	}

	var timeNs uint64
	if !opts.DisableTimeVerification {
		timeNs, err = checkFreshness(env.Tree, opts.Now, opts.DriftBudget)
		if err != nil {
			return nil, err
		}
	} else {
		timeNs, _ = extractTimeNs(env.Tree)
	}

	return &Verified{
		Tree:                env.Tree,
		Root:                root,
		EffectiveSigningKey: esk,
		TimeNs:              timeNs,
	}, nil
}

// effectiveSigningKey determines which 96-byte G2 key the certificate's
// signature must verify under, and the subnet principal that key
// belongs to (the delegate subnet, or the root's own self-authenticating
// principal when there is no delegation). Callers key the
// canister_ranges lookup by this subnet principal, not by the expected
// canister: ranges are advertised per owning subnet.
func effectiveSigningKey(env *certcbor.Envelope, opts Options) ([96]byte, *principal.Principal, error) {
	if env.Delegation == nil {
		// opts.maxDelegationDepth == 0 marks the recursive call verifying a
		// delegation certificate's own envelope: that certificate never
		// carries a nested delegation (the depth-1 bound), and is trusted
		// by the root signature alone, whatever subnet it's delegating to.
		//
		// At true top level (maxDelegationDepth > 0), a non-delegated
		// certificate expected to authorise a subnet directly is a
		// root-subnet certificate: that subnet must *be* the root key's own
		// self-authenticating principal, or it authorises nothing. A
		// top-level certificate expected to authorise a canister with no
		// delegation is the NNS-hosted-canister case: the root key signs
		// for it directly, and the canister-range check (step 5) is the
		// authorization check that applies instead, keyed by the root's
		// own self-authenticating principal as the owning subnet.
		rootPrincipal := principal.SelfAuthenticating(blscrypto.WrapDERPubkey(opts.RootPublicKey))
		if opts.maxDelegationDepth > 0 && opts.Expected.SubnetID != nil {
			if !rootPrincipal.Equal(*opts.Expected.SubnetID) {
				return [96]byte{}, nil, newError(Protocol, "WrongRootDelegation", ErrWrongRootDelegation)
			}
		}
		return opts.RootPublicKey, &rootPrincipal, nil
	}

	if opts.maxDelegationDepth <= 0 {
		return [96]byte{}, nil, newError(Protocol, "WrongRootDelegation", ErrWrongRootDelegation)
	}

	delegationOpts := opts
	delegationOpts.Expected = Expected{SubnetID: subnetPrincipal(env.Delegation.SubnetID)}
	delegationOpts.maxDelegationDepth = 0

	delegated, err := verify(env.Delegation.Certificate, delegationOpts)
	if err != nil {
		return [96]byte{}, nil, err
	}

	pkPath := [][]byte{[]byte("subnet"), env.Delegation.SubnetID, []byte("public_key")}
	res, pkDER, err := delegated.LookupPath(pkPath)
	if err != nil {
		return [96]byte{}, nil, newError(Protocol, "LookupError", fmt.Errorf("%w: %v", ErrLookupError, err))
	}
	if res != hashtree.Found {
		return [96]byte{}, nil, newError(Protocol, "LookupError", ErrLookupError)
	}

	esk, err := blscrypto.UnwrapDERPubkey(pkDER)
	if err != nil {
		return [96]byte{}, nil, newError(Protocol, "LookupError", fmt.Errorf("%w: %v", ErrLookupError, err))
	}
	return esk, subnetPrincipal(env.Delegation.SubnetID), nil
}

func subnetPrincipal(raw []byte) *principal.Principal {
	p := principal.FromRaw(raw)
	return &p
}

// CanisterRange is an inclusive [Start, End] pair of Principals.
type CanisterRange struct {
	Start principal.Principal
	End   principal.Principal
}

// Contains reports whether target's raw bytes lie within [r.Start, r.End]
// under lexicographic order.
func (r CanisterRange) Contains(target principal.Principal) bool {
	return r.Start.Compare(target) <= 0 && target.Compare(r.End) <= 0
}

// checkCanisterRange enforces that canisterID lies within one of the
// ranges the owning subnet advertises at the modern path, falling back
// to the legacy path when the modern one is absent (the modern path
// wins when both exist). Both paths are keyed by subnetID: the ranges
// a subnet authorises are published under its own principal, not the
// canister's.
func checkCanisterRange(tree *hashtree.Node, subnetID *principal.Principal, canisterID *principal.Principal) error {
	modernPath := [][]byte{[]byte("canister_ranges"), subnetID.Raw()}
	ranges, err := lookupRanges(tree, modernPath)
	if err != nil {
		return err
	}
	if ranges == nil {
		legacyPath := [][]byte{[]byte("subnet"), subnetID.Raw(), []byte("canister_ranges")}
		ranges, err = lookupRanges(tree, legacyPath)
		if err != nil {
			return err
		}
	}
	if ranges == nil {
		return newError(Protocol, "LookupError", ErrLookupError)
	}
	for _, r := range ranges {
		if r.Contains(*canisterID) {
			return nil
		}
	}
	return newError(Trust, "NotInRanges", ErrNotInRanges)
}

// lookupRanges returns the decoded ranges at path, or (nil, nil) if the
// path is Absent (meaning the caller should try the fallback path), or an
// error for any other failure.
func lookupRanges(tree *hashtree.Node, path [][]byte) ([]CanisterRange, error) {
	res, val, err := hashtree.LookupPath(path, tree)
	if err != nil {
		return nil, newError(Protocol, "LookupError", fmt.Errorf("%w: %v", ErrLookupError, err))
	}
	if res != hashtree.Found {
		return nil, nil
	}
	ranges, err := DecodeCanisterRanges(val)
	if err != nil {
		return nil, newError(Protocol, "MalformedCbor", err)
	}
	return ranges, nil
}

// DecodeCanisterRanges decodes a canister_ranges leaf value: a CBOR array
// of [start, end] Principal byte-pair ranges. Exported so callers walking
// a verified tree by hand (e.g. the routing-table scan over /subnet/*
// entries) can reuse the same decoding as checkCanisterRange.
func DecodeCanisterRanges(val []byte) ([]CanisterRange, error) {
	var pairs [][2][]byte
	if err := cbor.Unmarshal(val, &pairs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCbor, err)
	}
	ranges := make([]CanisterRange, len(pairs))
	for i, p := range pairs {
		ranges[i] = CanisterRange{Start: principal.FromRaw(p[0]), End: principal.FromRaw(p[1])}
	}
	return ranges, nil
}

// checkFreshness extracts /time (LEB128 nanoseconds) and enforces
// |time - now| <= drift.
func checkFreshness(tree *hashtree.Node, now time.Time, drift time.Duration) (uint64, error) {
	timeNs, err := extractTimeNs(tree)
	if err != nil {
		return 0, err
	}
	certTime := time.Unix(0, int64(timeNs))
	delta := now.Sub(certTime)
	if delta > drift {
		return timeNs, newError(Trust, "Stale", ErrStale)
	}
	if -delta > drift {
		return timeNs, newError(Trust, "FromFuture", ErrFromFuture)
	}
	return timeNs, nil
}

func extractTimeNs(tree *hashtree.Node) (uint64, error) {
	res, val, err := hashtree.LookupPath([][]byte{[]byte("time")}, tree)
	if err != nil {
		return 0, newError(Protocol, "LookupError", fmt.Errorf("%w: %v", ErrLookupError, err))
	}
	if res != hashtree.Found {
		return 0, newError(Protocol, "LookupError", ErrLookupError)
	}
	ns, n := reqid.DecodeLeb128(val)
	if n == 0 {
		return 0, newError(Protocol, "MalformedCbor", ErrMalformedCbor)
	}
	return ns, nil
}
