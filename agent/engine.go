// Package agent implements the Request Engine and the thin actor
// façade: Build → Sign → Submit → Poll → Verify for updates,
// node-signature-checked queries, read-state reads, and the time-sync /
// retry controller's engine-side wiring.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/replicanet/agent/certificate"
	"github.com/replicanet/agent/identity"
	"github.com/replicanet/agent/principal"
	"github.com/replicanet/agent/queryverify"
	"github.com/replicanet/agent/timesync"
	"github.com/replicanet/agent/transport"
)

// DefaultRetryTimes is the number of retries Transient errors get before
// surfacing.
const DefaultRetryTimes = 3

// Options configures an Engine. Construct with DefaultOptions and
// override fields, rather than a bare Options{} literal, so a zero
// RetryTimes means "no retries" (a real, testable configuration) rather
// than an accidental default.
type Options struct {
	Transport     transport.Transport
	Identity      identity.Identity
	RootPublicKey [96]byte

	RetryTimes int

	// ShouldSyncTime runs one time sync during New.
	ShouldSyncTime bool

	DriftBudget time.Duration

	// WellKnownCanister is the canister read-state samples against
	// during a time sync.
	WellKnownCanister principal.Principal

	TimeSyncSampleCount int
	PollStrategyFactory PollStrategyFactory
	Metrics             *Metrics

	// Clock overrides time.Now, for deterministic tests.
	Clock func() time.Time
}

// DefaultOptions returns an Options with every defaultable field filled
// in; callers override only what they need to change.
func DefaultOptions() Options {
	return Options{
		RetryTimes:          DefaultRetryTimes,
		DriftBudget:         certificate.DefaultDriftBudget,
		TimeSyncSampleCount: timesync.DefaultSampleCount,
		PollStrategyFactory: DefaultPollStrategyFactory,
		Metrics:             NewMetrics(prometheus.NewRegistry()),
		Clock:               time.Now,
	}
}

// Engine is the request engine. The zero value is not usable; construct
// with New.
type Engine struct {
	transport         transport.Transport
	rootPublicKey     [96]byte
	retryTimes        int
	driftBudget       time.Duration
	wellKnownCanister principal.Principal
	pollFactory       PollStrategyFactory
	metrics           *Metrics
	clock             func() time.Time

	// idMu sequences identity replacement against in-flight signs: Sign
	// holds a read lock (any number may run concurrently), replaceIdentity
	// holds a write lock (waits for all outstanding signs).
	idMu     sync.RWMutex
	identity identity.Identity

	timesync *timesync.Controller

	cacheMu          sync.Mutex
	subnetByCanister map[string]principal.Principal
	nodeKeysBySubnet map[string]queryverify.NodeKeyMap

	qv *queryverify.Verifier
}

// New constructs an Engine. If opts.ShouldSyncTime is set, New performs
// one synchronous time sync before returning.
func New(opts Options) (*Engine, error) {
	if opts.Transport == nil {
		return nil, newError(Input, "MissingTransport", ErrMissingTransport)
	}
	if opts.Identity == nil {
		opts.Identity = identity.AnonymousIdentity{}
	}
	if opts.PollStrategyFactory == nil {
		opts.PollStrategyFactory = DefaultPollStrategyFactory
	}
	if opts.DriftBudget == 0 {
		opts.DriftBudget = certificate.DefaultDriftBudget
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	sampleCount := opts.TimeSyncSampleCount
	if sampleCount == 0 {
		sampleCount = timesync.DefaultSampleCount
	}

	e := &Engine{
		transport:         opts.Transport,
		rootPublicKey:     opts.RootPublicKey,
		retryTimes:        opts.RetryTimes,
		driftBudget:       opts.DriftBudget,
		wellKnownCanister: opts.WellKnownCanister,
		pollFactory:       opts.PollStrategyFactory,
		metrics:           opts.Metrics,
		clock:             opts.Clock,
		identity:          opts.Identity,
		subnetByCanister:  make(map[string]principal.Principal),
		nodeKeysBySubnet:  make(map[string]queryverify.NodeKeyMap),
	}
	e.timesync = timesync.New(e.sampleTime, timesync.WithSampleCount(sampleCount), timesync.WithClock(func() int64 {
		return e.clock().UnixMilli()
	}))
	e.qv = queryverify.New(subnetResolverAdapter{e}, nodeKeyFetcherAdapter{e}, e.clock, e.driftBudget)

	if opts.ShouldSyncTime {
		if err := e.timesync.Sync(context.Background()); err != nil {
			return nil, fmt.Errorf("agent: initial time sync: %w", err)
		}
		e.metrics.timeSync()
	}
	return e, nil
}

// replaceIdentity swaps the engine's signing identity, waiting for any
// in-flight Sign calls to complete first.
func (e *Engine) replaceIdentity(id identity.Identity) {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	e.identity = id
}

func (e *Engine) currentIdentity() identity.Identity {
	e.idMu.RLock()
	defer e.idMu.RUnlock()
	return e.identity
}

func (e *Engine) driftMs() int64 {
	return e.timesync.DriftMs()
}

// HasSyncedTime reports whether at least one time sync has completed.
func (e *Engine) HasSyncedTime() bool {
	return e.timesync.HasSyncedTime()
}

// SyncTime performs an unconditional time sync against WellKnownCanister.
func (e *Engine) SyncTime(ctx context.Context) error {
	if err := e.timesync.Sync(ctx); err != nil {
		return err
	}
	e.metrics.timeSync()
	return nil
}

// SyncTimeWithSubnet performs an unconditional time sync against an
// explicit subnet's read-state endpoint instead of WellKnownCanister.
func (e *Engine) SyncTimeWithSubnet(ctx context.Context, subnetID principal.Principal) error {
	c := timesync.New(func(ctx context.Context) (int64, error) {
		return e.sampleTimeFromSubnet(ctx, subnetID)
	}, timesync.WithClock(func() int64 { return e.clock().UnixMilli() }))
	if err := c.Sync(ctx); err != nil {
		return err
	}
	e.timesync = c
	e.metrics.timeSync()
	return nil
}

// GetSubnetIDForCanister resolves and caches a canister's owning subnet
// by reading its read-state certificate. The IC wire protocol answers
// this via the same certificate the caller already needs for range
// checking, so the cache is keyed by canister id directly.
func (e *Engine) GetSubnetIDForCanister(ctx context.Context, canisterID principal.Principal) (principal.Principal, error) {
	key := string(canisterID.Raw())
	e.cacheMu.Lock()
	cached, ok := e.subnetByCanister[key]
	e.cacheMu.Unlock()
	if ok {
		e.metrics.cacheHit("subnet_by_canister")
		return cached, nil
	}
	e.metrics.cacheMiss("subnet_by_canister")

	verified, err := e.readStateVerified(ctx, canisterID, [][][]byte{{[]byte("subnet")}}, false)
	if err != nil {
		return principal.Principal{}, err
	}
	subnetRaw, err := lookupSubnetID(verified, canisterID)
	if err != nil {
		return principal.Principal{}, err
	}
	subnet := principal.FromRaw(subnetRaw)

	e.cacheMu.Lock()
	next := make(map[string]principal.Principal, len(e.subnetByCanister)+1)
	for k, v := range e.subnetByCanister {
		next[k] = v
	}
	next[key] = subnet
	e.subnetByCanister = next
	e.cacheMu.Unlock()

	return subnet, nil
}

// FetchSubnetKeys fetches and caches a subnet's NodeKey map, keyed by
// subnet principal, enforcing canister-range containment for canisterID
// against the certificate that carries the keys.
func (e *Engine) FetchSubnetKeys(ctx context.Context, canisterID principal.Principal) (queryverify.NodeKeyMap, error) {
	subnetID, err := e.GetSubnetIDForCanister(ctx, canisterID)
	if err != nil {
		return nil, err
	}
	return e.fetchSubnetKeysForSubnet(ctx, subnetID, &canisterID)
}

func (e *Engine) fetchSubnetKeysForSubnet(ctx context.Context, subnetID principal.Principal, authorizedCanister *principal.Principal) (queryverify.NodeKeyMap, error) {
	key := string(subnetID.Raw())
	e.cacheMu.Lock()
	cached, ok := e.nodeKeysBySubnet[key]
	e.cacheMu.Unlock()
	if ok {
		e.metrics.cacheHit("node_keys")
		return cached, nil
	}
	e.metrics.cacheMiss("node_keys")

	paths := [][][]byte{{[]byte("subnet"), subnetID.Raw(), []byte("node")}}
	if authorizedCanister != nil {
		// The canister-range check certificate.Verify runs for a
		// {CanisterID: authorizedCanister} Expected needs these subtrees
		// present in the returned tree; request both the modern and
		// legacy locations, since only the replica knows which it serves.
		paths = append(paths,
			[][]byte{[]byte("canister_ranges"), subnetID.Raw()},
			[][]byte{[]byte("subnet"), subnetID.Raw(), []byte("canister_ranges")},
		)
	}
	verified, err := e.readSubnetStateVerified(ctx, subnetID, paths, authorizedCanister)
	if err != nil {
		return nil, err
	}
	keys, err := extractNodeKeys(verified, subnetID.Raw())
	if err != nil {
		return nil, err
	}

	e.cacheMu.Lock()
	next := make(map[string]queryverify.NodeKeyMap, len(e.nodeKeysBySubnet)+1)
	for k, v := range e.nodeKeysBySubnet {
		next[k] = v
	}
	next[key] = keys
	e.nodeKeysBySubnet = next
	e.cacheMu.Unlock()

	return keys, nil
}

// invalidateNodeKeys drops a subnet's cached NodeKey map.
func (e *Engine) invalidateNodeKeys(subnetID principal.Principal) {
	e.cacheMu.Lock()
	delete(e.nodeKeysBySubnet, string(subnetID.Raw()))
	e.cacheMu.Unlock()
}

// subnetResolverAdapter and nodeKeyFetcherAdapter let queryverify.Verifier
// call back into the engine without the engine depending on queryverify
// for anything but the NodeKeyMap type.
type subnetResolverAdapter struct{ e *Engine }

func (a subnetResolverAdapter) GetSubnetIDForCanister(ctx context.Context, canisterID principal.Principal) (principal.Principal, error) {
	return a.e.GetSubnetIDForCanister(ctx, canisterID)
}

type nodeKeyFetcherAdapter struct{ e *Engine }

func (a nodeKeyFetcherAdapter) FetchSubnetNodeKeys(ctx context.Context, subnetID principal.Principal) (queryverify.NodeKeyMap, error) {
	return a.e.fetchSubnetKeysForSubnet(ctx, subnetID, nil)
}
