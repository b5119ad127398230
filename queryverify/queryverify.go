// Package queryverify implements the Query Verifier: it checks the
// per-node signatures on a query reply's status entries against the
// owning subnet's current NodeKey map, which it fetches (and caches)
// through the two engine collaborators it's handed at construction.
package queryverify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/replicanet/agent/blscrypto"
	"github.com/replicanet/agent/certificate"
	"github.com/replicanet/agent/principal"
	"github.com/replicanet/agent/reqid"
)

// responseDST is the domain separator prepended to a query reply entry's
// hash before BLS verification: "\x0bic-response".
var responseDST = []byte("\x0bic-response")

// Errors returned by Verify.
var (
	// ErrQueryNotTrusted covers every per-entry failure: an unknown
	// node id, a bad signature, or no entries at all.
	ErrQueryNotTrusted = errors.New("queryverify: query reply is not trusted")
	// ErrCertificateNotAuthorized is returned by the NodeKey fetch path
	// when the read-state certificate's canister-range check fails.
	ErrCertificateNotAuthorized = errors.New("queryverify: certificate does not authorise this canister")
)

// Entry is one signed status record from a query reply body.
type Entry struct {
	Status      string
	Reply       []byte
	TimestampNs uint64
	RequestID   [32]byte
	NodeID      []byte
	Signature   [48]byte
}

// NodeKeyMap maps a node id's raw bytes (as a string key) to its raw
// 96-byte compressed G2 BLS public key.
type NodeKeyMap map[string][96]byte

// SubnetResolver resolves a canister to its owning subnet.
type SubnetResolver interface {
	GetSubnetIDForCanister(ctx context.Context, canisterID principal.Principal) (principal.Principal, error)
}

// NodeKeyFetcher fetches a subnet's current NodeKey map. Implementations
// enforce canister-range containment themselves and return
// ErrCertificateNotAuthorized when it fails.
type NodeKeyFetcher interface {
	FetchSubnetNodeKeys(ctx context.Context, subnetID principal.Principal) (NodeKeyMap, error)
}

// Verifier checks query reply signatures. It caches each subnet's NodeKey
// map itself, keyed by subnet principal (see nodeKeys); resolving a
// canister to its subnet is left to the SubnetResolver, uncached here.
type Verifier struct {
	subnets SubnetResolver
	keys    NodeKeyFetcher
	now     func() time.Time
	drift   time.Duration

	mu        sync.Mutex
	keysBySub map[string]NodeKeyMap
}

// New constructs a Verifier over the given engine collaborators. now and
// driftBudget drive the reply-timestamp freshness precheck: a zero
// driftBudget falls back to certificate.DefaultDriftBudget.
func New(subnets SubnetResolver, keys NodeKeyFetcher, now func() time.Time, driftBudget time.Duration) *Verifier {
	if driftBudget == 0 {
		driftBudget = certificate.DefaultDriftBudget
	}
	return &Verifier{
		subnets:   subnets,
		keys:      keys,
		now:       now,
		drift:     driftBudget,
		keysBySub: make(map[string]NodeKeyMap),
	}
}

// Verify checks every entry in entries against canisterID's owning
// subnet's NodeKey map. It requires at least one entry, that every
// node id is a current subnet member, and that every signature verifies.
//
// The reply's own freshness is checked first, against the local clock,
// before resolving the subnet or fetching keys: a stale reply fails
// without ever reaching the network.
func (v *Verifier) Verify(ctx context.Context, canisterID principal.Principal, entries []Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: empty reply", ErrQueryNotTrusted)
	}
	if err := v.checkFreshness(entries[0].TimestampNs); err != nil {
		return err
	}

	subnetID, err := v.subnets.GetSubnetIDForCanister(ctx, canisterID)
	if err != nil {
		return fmt.Errorf("queryverify: resolve subnet: %w", err)
	}

	keys, err := v.nodeKeys(ctx, subnetID)
	if err != nil {
		return err
	}

	for _, e := range entries {
		pk, ok := keys[string(e.NodeID)]
		if !ok {
			return fmt.Errorf("%w: node %x is not a member of subnet %x", ErrQueryNotTrusted, e.NodeID, subnetID.Raw())
		}
		msg := append(append([]byte{}, responseDST...), hashEntry(e)...)
		if !blscrypto.Verify(e.Signature, msg, pk) {
			return fmt.Errorf("%w: signature from node %x does not verify", ErrQueryNotTrusted, e.NodeID)
		}
	}
	return nil
}

// checkFreshness rejects a reply whose timestamp lies outside the drift
// budget around the local clock, the same bound certificate.Verify
// applies to a certificate's embedded /time.
func (v *Verifier) checkFreshness(timestampNs uint64) error {
	replyTime := time.Unix(0, int64(timestampNs))
	now := v.now()
	delta := now.Sub(replyTime)
	if delta > v.drift {
		return fmt.Errorf("%w: %w", ErrQueryNotTrusted, certificate.ErrStale)
	}
	if -delta > v.drift {
		return fmt.Errorf("%w: %w", ErrQueryNotTrusted, certificate.ErrFromFuture)
	}
	return nil
}

// nodeKeys fetches and caches a subnet's NodeKey map, keyed by subnet
// principal, using a copy-on-write replace: the whole map is swapped on
// refetch (rather than mutated in place), so readers never observe a
// torn map.
func (v *Verifier) nodeKeys(ctx context.Context, subnetID principal.Principal) (NodeKeyMap, error) {
	v.mu.Lock()
	cached, ok := v.keysBySub[string(subnetID.Raw())]
	v.mu.Unlock()
	if ok {
		return cached, nil
	}

	fetched, err := v.keys.FetchSubnetNodeKeys(ctx, subnetID)
	if err != nil {
		if errors.Is(err, ErrCertificateNotAuthorized) {
			return nil, err
		}
		return nil, fmt.Errorf("queryverify: fetch node keys: %w", err)
	}

	v.mu.Lock()
	v.keysBySub[string(subnetID.Raw())] = fetched
	v.mu.Unlock()
	return fetched, nil
}

// Invalidate drops the cached NodeKey map for a subnet, forcing the next
// Verify to refetch it (for example after a node key rotation has left
// the cached map stale).
func (v *Verifier) Invalidate(subnetID principal.Principal) {
	v.mu.Lock()
	delete(v.keysBySub, string(subnetID.Raw()))
	v.mu.Unlock()
}

// hashEntry recomputes hashOfMap({status, reply, timestamp, request_id}),
// using the same representation-independent field hashing reqid uses for
// the request id, so the wire order of these fields cannot affect the
// signed message.
func hashEntry(e Entry) []byte {
	id := reqid.Hash([]reqid.Field{
		{Key: "status", Value: []byte(e.Status)},
		{Key: "reply", Value: e.Reply},
		{Key: "timestamp", Value: reqid.Leb128(e.TimestampNs)},
		{Key: "request_id", Value: e.RequestID[:]},
	})
	return id[:]
}
