// Package certcbor implements the CBOR wire codec: decoding the
// certificate envelope and encoding request bodies. Labels and leaves are
// preserved byte-for-byte; nothing here normalises them, since hash
// stability depends on the exact bytes the replica signed.
package certcbor

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/replicanet/agent/hashtree"
)

// Errors returned while decoding a certificate envelope.
var (
	ErrMalformedCbor   = errors.New("certcbor: malformed CBOR envelope")
	ErrMalformedTree   = errors.New("certcbor: malformed hash tree encoding")
	ErrUnknownTreeTag  = errors.New("certcbor: unknown hash tree tag")
	ErrWrongArrayShape = errors.New("certcbor: hash tree array has the wrong shape")
)

// Tree tag values, per the wire encoding: a HashTree node is a CBOR array
// whose first element is one of these tags.
const (
	tagEmpty   = 0
	tagFork    = 1
	tagLabeled = 2
	tagLeaf    = 3
	tagPruned  = 4
)

// Envelope is the decoded outer certificate map:
// { tree, signature, delegation? }.
type Envelope struct {
	Tree       *hashtree.Node
	Signature  [48]byte
	Delegation *Delegation
}

// Delegation is the nested { subnet_id, certificate } pair.
type Delegation struct {
	SubnetID    []byte
	Certificate []byte // raw CBOR bytes of the nested certificate envelope
}

// wireEnvelope mirrors the CBOR map shape before tree/signature decoding.
type wireEnvelope struct {
	Tree       cbor.RawMessage  `cbor:"tree"`
	Signature  []byte           `cbor:"signature"`
	Delegation *wireDelegation  `cbor:"delegation,omitempty"`
}

type wireDelegation struct {
	SubnetID    []byte `cbor:"subnet_id"`
	Certificate []byte `cbor:"certificate"`
}

// DecodeEnvelope decodes raw certificate bytes into an Envelope.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := cbor.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCbor, err)
	}
	tree, err := decodeTree(w.Tree)
	if err != nil {
		return nil, err
	}
	if len(w.Signature) != 48 {
		return nil, fmt.Errorf("%w: signature length %d, want 48", ErrMalformedCbor, len(w.Signature))
	}
	env := &Envelope{Tree: tree}
	copy(env.Signature[:], w.Signature)
	if w.Delegation != nil {
		env.Delegation = &Delegation{
			SubnetID:    w.Delegation.SubnetID,
			Certificate: w.Delegation.Certificate,
		}
	}
	return env, nil
}

// decodeTree recursively decodes a HashTree's array encoding. Each node is
// `[tag, ...]`; label and leaf byte strings are taken verbatim, with no
// normalisation, since the signed root hash depends on their exact bytes.
func decodeTree(raw cbor.RawMessage) (*hashtree.Node, error) {
	var arr []cbor.RawMessage
	if err := cbor.Unmarshal(raw, &arr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTree, err)
	}
	if len(arr) == 0 {
		return nil, ErrWrongArrayShape
	}
	var tag int
	if err := cbor.Unmarshal(arr[0], &tag); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTree, err)
	}

	switch tag {
	case tagEmpty:
		if len(arr) != 1 {
			return nil, ErrWrongArrayShape
		}
		return &hashtree.Node{Kind: hashtree.Empty}, nil

	case tagFork:
		if len(arr) != 3 {
			return nil, ErrWrongArrayShape
		}
		left, err := decodeTree(arr[1])
		if err != nil {
			return nil, err
		}
		right, err := decodeTree(arr[2])
		if err != nil {
			return nil, err
		}
		return &hashtree.Node{Kind: hashtree.Fork, Left: left, Right: right}, nil

	case tagLabeled:
		if len(arr) != 3 {
			return nil, ErrWrongArrayShape
		}
		var label []byte
		if err := cbor.Unmarshal(arr[1], &label); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTree, err)
		}
		sub, err := decodeTree(arr[2])
		if err != nil {
			return nil, err
		}
		return &hashtree.Node{Kind: hashtree.Labeled, Label: label, Sub: sub}, nil

	case tagLeaf:
		if len(arr) != 2 {
			return nil, ErrWrongArrayShape
		}
		var value []byte
		if err := cbor.Unmarshal(arr[1], &value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTree, err)
		}
		return &hashtree.Node{Kind: hashtree.Leaf, Value: value}, nil

	case tagPruned:
		if len(arr) != 2 {
			return nil, ErrWrongArrayShape
		}
		var h []byte
		if err := cbor.Unmarshal(arr[1], &h); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTree, err)
		}
		if len(h) != 32 {
			return nil, fmt.Errorf("%w: pruned hash length %d, want 32", ErrMalformedTree, len(h))
		}
		var node hashtree.Node
		node.Kind = hashtree.Pruned
		copy(node.Hash[:], h)
		return &node, nil

	default:
		return nil, ErrUnknownTreeTag
	}
}

// canonicalEncMode produces deterministic CBOR: map keys in lexicographic
// byte order and the shortest-possible integer encoding.
var canonicalEncMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	m, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// RequestContent is the canonical request content map, keyed exactly as
// the wire protocol requires. IngressExpiry is encoded with unsigned
// semantics regardless of Go's signed uint64 representation.
type RequestContent struct {
	RequestType   string `cbor:"request_type"`
	CanisterID    []byte `cbor:"canister_id,omitempty"`
	MethodName    string `cbor:"method_name,omitempty"`
	Arg           []byte `cbor:"arg,omitempty"`
	Sender        []byte `cbor:"sender"`
	IngressExpiry uint64 `cbor:"ingress_expiry"`
	Nonce         []byte `cbor:"nonce,omitempty"`
	Paths         [][][]byte `cbor:"paths,omitempty"`
}

// EncodeRequestContent deterministically encodes a request's content map
// for hashing (reqid) and for inclusion in the signed envelope.
func EncodeRequestContent(c RequestContent) ([]byte, error) {
	return canonicalEncMode.Marshal(c)
}

// SignedRequest is the outer envelope posted to the replica: the content
// map plus the caller's public key and signature over the request id.
type SignedRequest struct {
	Content         RequestContent `cbor:"content"`
	SenderPubkey    []byte         `cbor:"sender_pubkey,omitempty"`
	SenderSig       []byte         `cbor:"sender_sig,omitempty"`
	SenderDelegation []byte        `cbor:"sender_delegation,omitempty"`
}

// EncodeSignedRequest encodes the full outer envelope posted to the
// replica's /call, /read_state, or /query endpoints.
func EncodeSignedRequest(r SignedRequest) ([]byte, error) {
	return canonicalEncMode.Marshal(r)
}

// CertificateReply is the body of a read_state response, and of a 200
// response from /call: a single map carrying the raw certificate bytes.
type CertificateReply struct {
	Certificate []byte `cbor:"certificate"`
}

// DecodeCertificateReply decodes a {certificate} response body.
func DecodeCertificateReply(raw []byte) (*CertificateReply, error) {
	var r CertificateReply
	if err := cbor.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCbor, err)
	}
	return &r, nil
}

// QuerySignature is one node's signed status entry within a query reply.
type QuerySignature struct {
	NodeID      []byte `cbor:"identity"`
	Signature   []byte `cbor:"signature"`
	TimestampNs uint64 `cbor:"timestamp"`
}

// QueryReply is the body of a query response: one status/reply pair,
// co-signed by every node in Signatures.
type QueryReply struct {
	Status        string           `cbor:"status"`
	Reply         cbor.RawMessage  `cbor:"reply,omitempty"`
	RejectCode    uint64           `cbor:"reject_code,omitempty"`
	RejectMessage string           `cbor:"reject_message,omitempty"`
	Signatures    []QuerySignature `cbor:"signatures"`
}

// DecodeQueryReply decodes a query response body.
func DecodeQueryReply(raw []byte) (*QueryReply, error) {
	var r QueryReply
	if err := cbor.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCbor, err)
	}
	return &r, nil
}
