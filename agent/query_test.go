package agent

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/replicanet/agent/blscrypto"
	"github.com/replicanet/agent/certcbor"
	"github.com/replicanet/agent/principal"
	"github.com/replicanet/agent/reqid"
	"github.com/replicanet/agent/transport"
)

// queryTestTransport answers the three round trips a verified Query
// makes: query itself, the canister read_state that resolves the owning
// subnet, and the subnet read_state that hands back its current node keys.
type queryTestTransport struct {
	query             func(ctx context.Context, canisterID string, body []byte) (transport.Response, error)
	readCanisterState func(ctx context.Context, canisterID string, body []byte) (transport.Response, error)
	readSubnetState   func(ctx context.Context, subnetID string, body []byte) (transport.Response, error)
}

func (q *queryTestTransport) Call(ctx context.Context, canisterID string, body []byte) (transport.Response, error) {
	return transport.Response{}, errQueryTestUnexpectedCall
}

func (q *queryTestTransport) ReadCanisterState(ctx context.Context, canisterID string, body []byte) (transport.Response, error) {
	return q.readCanisterState(ctx, canisterID, body)
}

func (q *queryTestTransport) ReadSubnetState(ctx context.Context, subnetID string, body []byte) (transport.Response, error) {
	return q.readSubnetState(ctx, subnetID, body)
}

func (q *queryTestTransport) Query(ctx context.Context, canisterID string, body []byte) (transport.Response, error) {
	return q.query(ctx, canisterID, body)
}

var errQueryTestUnexpectedCall = &queryTestError{"queryTestTransport: Query must not hit the update /call endpoint"}

type queryTestError struct{ msg string }

func (e *queryTestError) Error() string { return e.msg }

// responseDST mirrors queryverify's own unexported domain separator.
var responseDST = []byte("\x0bic-response")

// signQueryEntry recomputes queryverify's hashOfMap signing payload and
// signs it with nodeSecret.
func signQueryEntry(t *testing.T, nodeSecret *big.Int, status string, reply []byte, timestampNs uint64, requestID reqid.ID) [48]byte {
	t.Helper()
	id := reqid.Hash([]reqid.Field{
		{Key: "status", Value: []byte(status)},
		{Key: "reply", Value: reply},
		{Key: "timestamp", Value: reqid.Leb128(timestampNs)},
		{Key: "request_id", Value: requestID[:]},
	})
	msg := append(append([]byte{}, responseDST...), id[:]...)
	sig, err := blscrypto.Sign(nodeSecret, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return sig
}

func TestQueryVerifiesNodeSignature(t *testing.T) {
	rootSecret := big.NewInt(424242)
	nodeSecret := big.NewInt(99991)
	canisterID := principal.FromRaw([]byte{0x01})
	subnetID := principal.FromRaw([]byte{0x09})
	now := time.Unix(1_700_000_000, 0)
	nodeID := []byte("node-1")

	rootPub := blscrypto.PubkeyFromSecret(rootSecret)
	nodePub := blscrypto.PubkeyFromSecret(nodeSecret)

	var requestID reqid.ID
	tr := &queryTestTransport{
		readCanisterState: func(ctx context.Context, canID string, body []byte) (transport.Response, error) {
			tree := foldEntries(
				wireLabeled("time", wireLeaf(reqid.Leb128(uint64(now.UnixNano())))),
				wireLabeled("subnet", wireLabeled(string(subnetID.Raw()),
					wireLabeled("canister_ranges", wireLeaf(rangesLeaf(t, []byte{0x00}, []byte{0xFF}))))),
			)
			return transport.Response{StatusCode: 200, Body: signTree(t, rootSecret, tree)}, nil
		},
		readSubnetState: func(ctx context.Context, subID string, body []byte) (transport.Response, error) {
			// No delegation on this certificate, so the root key signs
			// directly and the owning subnet checkCanisterRange resolves is
			// the root's own self-authenticating principal.
			rootPrincipal := principal.SelfAuthenticating(blscrypto.WrapDERPubkey(rootPub))
			tree := foldEntries(
				wireLabeled("time", wireLeaf(reqid.Leb128(uint64(now.UnixNano())))),
				wireLabeled("canister_ranges", wireLabeled(string(rootPrincipal.Raw()),
					wireLeaf(rangesLeaf(t, []byte{0x00}, []byte{0xFF})))),
				wireLabeled("subnet", wireLabeled(string(subnetID.Raw()),
					wireLabeled("node", wireLabeled(string(nodeID),
						wireLabeled("public_key", wireLeaf(blscrypto.WrapDERPubkey(nodePub))))))),
			)
			return transport.Response{StatusCode: 200, Body: signTree(t, rootSecret, tree)}, nil
		},
		query: func(ctx context.Context, canID string, body []byte) (transport.Response, error) {
			var signed certcbor.SignedRequest
			if err := cbor.Unmarshal(body, &signed); err != nil {
				t.Fatalf("decode signed request: %v", err)
			}
			requestID = reqid.Hash(requestIDFields(signed.Content))

			replyBytes := []byte("pong")
			sig := signQueryEntry(t, nodeSecret, "replied", replyBytes, uint64(now.UnixNano()), requestID)
			rawReply, err := cbor.Marshal(replyBytes)
			if err != nil {
				t.Fatalf("marshal reply: %v", err)
			}
			reply := certcbor.QueryReply{
				Status: "replied",
				Reply:  rawReply,
				Signatures: []certcbor.QuerySignature{
					{NodeID: nodeID, Signature: sig[:], TimestampNs: uint64(now.UnixNano())},
				},
			}
			out, err := cbor.Marshal(reply)
			if err != nil {
				t.Fatalf("marshal query reply: %v", err)
			}
			return transport.Response{StatusCode: 200, Body: out}, nil
		},
	}

	eng := newTestEngine(t, tr, rootPub)

	reply, err := eng.Query(context.Background(), canisterID, "greet", nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if reply.Status != "replied" {
		t.Fatalf("Status = %q, want replied", reply.Status)
	}
}

func TestQueryRejectsUnknownNode(t *testing.T) {
	rootSecret := big.NewInt(424242)
	impostorSecret := big.NewInt(55555)
	canisterID := principal.FromRaw([]byte{0x01})
	subnetID := principal.FromRaw([]byte{0x09})
	now := time.Unix(1_700_000_000, 0)
	knownNodeID := []byte("node-1")
	knownNodePub := blscrypto.PubkeyFromSecret(big.NewInt(99991))

	rootPub := blscrypto.PubkeyFromSecret(rootSecret)

	var requestID reqid.ID
	tr := &queryTestTransport{
		readCanisterState: func(ctx context.Context, canID string, body []byte) (transport.Response, error) {
			tree := foldEntries(
				wireLabeled("time", wireLeaf(reqid.Leb128(uint64(now.UnixNano())))),
				wireLabeled("subnet", wireLabeled(string(subnetID.Raw()),
					wireLabeled("canister_ranges", wireLeaf(rangesLeaf(t, []byte{0x00}, []byte{0xFF}))))),
			)
			return transport.Response{StatusCode: 200, Body: signTree(t, rootSecret, tree)}, nil
		},
		readSubnetState: func(ctx context.Context, subID string, body []byte) (transport.Response, error) {
			rootPrincipal := principal.SelfAuthenticating(blscrypto.WrapDERPubkey(rootPub))
			tree := foldEntries(
				wireLabeled("time", wireLeaf(reqid.Leb128(uint64(now.UnixNano())))),
				wireLabeled("canister_ranges", wireLabeled(string(rootPrincipal.Raw()),
					wireLeaf(rangesLeaf(t, []byte{0x00}, []byte{0xFF})))),
				wireLabeled("subnet", wireLabeled(string(subnetID.Raw()),
					wireLabeled("node", wireLabeled(string(knownNodeID),
						wireLabeled("public_key", wireLeaf(blscrypto.WrapDERPubkey(knownNodePub))))))),
			)
			return transport.Response{StatusCode: 200, Body: signTree(t, rootSecret, tree)}, nil
		},
		query: func(ctx context.Context, canID string, body []byte) (transport.Response, error) {
			var signed certcbor.SignedRequest
			if err := cbor.Unmarshal(body, &signed); err != nil {
				t.Fatalf("decode signed request: %v", err)
			}
			requestID = reqid.Hash(requestIDFields(signed.Content))

			replyBytes := []byte("pong")
			sig := signQueryEntry(t, impostorSecret, "replied", replyBytes, uint64(now.UnixNano()), requestID)
			rawReply, _ := cbor.Marshal(replyBytes)
			reply := certcbor.QueryReply{
				Status: "replied",
				Reply:  rawReply,
				Signatures: []certcbor.QuerySignature{
					{NodeID: []byte("impostor-node"), Signature: sig[:], TimestampNs: uint64(now.UnixNano())},
				},
			}
			out, err := cbor.Marshal(reply)
			if err != nil {
				t.Fatalf("marshal query reply: %v", err)
			}
			return transport.Response{StatusCode: 200, Body: out}, nil
		},
	}

	eng := newTestEngine(t, tr, rootPub)

	_, err := eng.Query(context.Background(), canisterID, "greet", nil)
	if err == nil {
		t.Fatal("expected an error for a signature from a node outside the subnet")
	}
	var aerr *Error
	if !errors.As(err, &aerr) || aerr.Kind != Trust {
		t.Fatalf("err = %v, want a Trust-kind *Error", err)
	}
}
