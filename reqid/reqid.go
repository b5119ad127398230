// Package reqid computes the canonical, representation-independent
// RequestId for a request's content map: the 32-byte SHA-256 of the
// sorted, per-field hash of the request content.
package reqid

import (
	"bytes"
	"crypto/sha256"
	"sort"
)

// ID is a 32-byte request identifier.
type ID [32]byte

// Field is one key/value pair of a request's content map. Value must
// already be in its canonical encoded form (a raw byte string, a LEB128
// natural number, or a nested, recursively-hashed map/array digest);
// reqid performs no interpretation of the value's structure.
type Field struct {
	Key   string
	Value []byte
}

// Hash computes the RequestId for a set of fields:
//
//	1. hash each field independently as H(H(key) || H(value))
//	2. sort the per-field hashes lexicographically
//	3. concatenate and hash once more
//
// This is representation-independent: field order in the input slice does
// not affect the result, since step 2 re-sorts by hash.
func Hash(fields []Field) ID {
	hashes := make([][]byte, len(fields))
	for i, f := range fields {
		keyHash := sha256.Sum256([]byte(f.Key))
		valHash := sha256.Sum256(f.Value)
		h := sha256.New()
		h.Write(keyHash[:])
		h.Write(valHash[:])
		hashes[i] = h.Sum(nil)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i], hashes[j]) < 0
	})
	final := sha256.New()
	for _, h := range hashes {
		final.Write(h)
	}
	var out ID
	copy(out[:], final.Sum(nil))
	return out
}

// Leb128 encodes a non-negative integer as unsigned LEB128, the encoding
// the wire protocol requires for natural-number fields (e.g.
// ingress_expiry) ahead of hashing.
func Leb128(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

// DecodeLeb128 decodes an unsigned LEB128 integer, returning the value and
// the number of bytes consumed. Used to read back fields such as /time
// extracted from a certificate tree.
func DecodeLeb128(b []byte) (uint64, int) {
	var v uint64
	var shift uint
	for i, c := range b {
		v |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, i + 1
		}
		shift += 7
		if shift >= 64 {
			return 0, 0
		}
	}
	return 0, 0
}
