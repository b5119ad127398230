package agent

import (
	"fmt"

	"github.com/replicanet/agent/certcbor"
	"github.com/replicanet/agent/expiry"
	"github.com/replicanet/agent/identity"
	"github.com/replicanet/agent/principal"
	"github.com/replicanet/agent/reqid"
)

// builtRequest is a signed request ready to post: the wire bytes, its
// requestId (needed again later to match a /request_status or query
// reply entry back to this call), and the content that produced it.
type builtRequest struct {
	content   certcbor.RequestContent
	requestID reqid.ID
	wire      []byte
}

// build constructs, signs, and encodes a request for one of the three
// request_type values ("call", "query", "read_state"), computing
// ingress_expiry from the engine's current drift estimate and the
// requestId from the content map. canisterID is nil for a
// subnet-scoped read_state request, which carries no canister_id field.
func (e *Engine) build(requestType string, canisterID *principal.Principal, methodName string, arg []byte, paths [][][]byte, deltaMs int64) (*builtRequest, error) {
	id := e.currentIdentity()

	content := certcbor.RequestContent{
		RequestType:   requestType,
		Sender:        id.Sender().Raw(),
		IngressExpiry: uint64(expiry.Compute(e.clock().UnixMilli(), deltaMs, e.driftMs())),
	}
	if canisterID != nil {
		content.CanisterID = canisterID.Raw()
	}
	switch requestType {
	case "call", "query":
		content.MethodName = methodName
		content.Arg = arg
	case "read_state":
		content.Paths = paths
	}

	requestID := reqid.Hash(requestIDFields(content))

	msg := append(append([]byte{}, identity.RequestSignDST...), requestID[:]...)
	signature, err := id.Sign(msg)
	if err != nil {
		return nil, newError(Input, "SignFailed", fmt.Errorf("agent: sign request: %w", err))
	}

	signed := certcbor.SignedRequest{
		Content:      content,
		SenderPubkey: id.PublicKeyDER(),
		SenderSig:    signature,
	}
	wire, err := certcbor.EncodeSignedRequest(signed)
	if err != nil {
		return nil, newError(Input, "EncodeFailed", fmt.Errorf("agent: encode request: %w", err))
	}

	return &builtRequest{content: content, requestID: requestID, wire: wire}, nil
}

// requestIDFields maps a RequestContent's present fields onto the field
// set reqid.Hash expects: absent optional fields are omitted rather than
// hashed as empty strings.
func requestIDFields(c certcbor.RequestContent) []reqid.Field {
	fields := []reqid.Field{
		{Key: "request_type", Value: []byte(c.RequestType)},
		{Key: "sender", Value: c.Sender},
		{Key: "ingress_expiry", Value: reqid.Leb128(c.IngressExpiry)},
	}
	if len(c.CanisterID) > 0 {
		fields = append(fields, reqid.Field{Key: "canister_id", Value: c.CanisterID})
	}
	if c.MethodName != "" {
		fields = append(fields, reqid.Field{Key: "method_name", Value: []byte(c.MethodName)})
	}
	if c.Arg != nil {
		fields = append(fields, reqid.Field{Key: "arg", Value: c.Arg})
	}
	if len(c.Nonce) > 0 {
		fields = append(fields, reqid.Field{Key: "nonce", Value: c.Nonce})
	}
	if len(c.Paths) > 0 {
		fields = append(fields, reqid.Field{Key: "paths", Value: encodePathsForHash(c.Paths)})
	}
	return fields
}

// encodePathsForHash reduces the paths array to a single hash the way a
// nested CBOR array is hashed when it appears as a request field value:
// each path is itself a field set keyed by segment index, and the
// resulting per-path hashes are combined the same way.
func encodePathsForHash(paths [][][]byte) []byte {
	rowHashes := make([]reqid.Field, len(paths))
	for i, path := range paths {
		segFields := make([]reqid.Field, len(path))
		for j, seg := range path {
			segFields[j] = reqid.Field{Key: fmt.Sprintf("%d", j), Value: seg}
		}
		h := reqid.Hash(segFields)
		rowHashes[i] = reqid.Field{Key: fmt.Sprintf("%d", i), Value: h[:]}
	}
	h := reqid.Hash(rowHashes)
	return h[:]
}
