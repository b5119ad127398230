// BLS12-381 integration adapter for switching between pure-Go and blst backends.
//
// This file provides a BLSBackend interface that abstracts the BLS signature
// verification operations needed by the certificate verifier. Two
// backend implementations are provided:
//
//   - PureGoBLSBackend: uses the pure-Go BLS12-381 implementation from this
//     package (correct but slow, suitable for testing and as the default)
//   - BlstBLSBackend: documents the blst CGO-based adapter for production
//     (requires github.com/supranational/blst with build tag "blst")
//
// The active backend can be switched at runtime via SetBLSBackend.
//
// Scheme: signatures in G1 (48-byte compressed), public keys in G2 (96-byte
// compressed, carried inside a DER wrapper on the wire — see the certificate
// package for the unwrap step). DST: BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_NUL_.
package blscrypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// Well-known BLS12-381 constants.
var (
	// G1GeneratorCompressed is the compressed form of the BLS12-381 G1
	// generator point (48 bytes).
	G1GeneratorCompressed = mustDecodeHex48(
		"97f1d3a73197d7942695638c4fa9ac0fc3688c4f9774b905a14e3a3f171bac586c55e83ff97a1aeffb3af00adb22c6bb")

	// G2GeneratorCompressed is the compressed form of the BLS12-381 G2
	// generator point (96 bytes).
	G2GeneratorCompressed = mustDecodeHex96(
		"93e02b6052719f607dacd3a088274f65596bd0d09920b61ab5da61bbdc7f5049334cf11213945d57e5ac7d055d042b7e" +
			"024aa2b2f08f0a91260805272dc51051c6e47ad4fa403b02b4510b647ae3d1770bac0326a805bbefd48056c8c121bdb8")

	// PointAtInfinityG1 is the compressed form of the G1 point at infinity.
	PointAtInfinityG1 = func() [48]byte {
		var b [48]byte
		b[0] = 0xc0
		return b
	}()

	// PointAtInfinityG2 is the compressed form of the G2 point at infinity.
	PointAtInfinityG2 = func() [96]byte {
		var b [96]byte
		b[0] = 0xc0
		return b
	}()

	// SubgroupOrder is the order r of the BLS12-381 G1/G2 subgroups.
	SubgroupOrder, _ = new(big.Int).SetString(
		"73eda753299d7d483339d80809a1d80553bda402fffe5bfeffffffff00000001", 16)
)

// Format validation errors.
var (
	ErrBLSInvalidSigLen       = errors.New("bls: signature must be 48 bytes")
	ErrBLSInvalidSigFormat    = errors.New("bls: invalid compressed G1 format")
	ErrBLSInvalidSigInf       = errors.New("bls: signature is point at infinity")
	ErrBLSInvalidPubkeyLen    = errors.New("bls: pubkey must be 96 bytes")
	ErrBLSInvalidPubkeyFormat = errors.New("bls: invalid compressed G2 format")
)

// BLSBackend is the interface for BLS12-381 signature verification operations.
// Implementations may use pure-Go arithmetic or optimized native libraries
// such as blst.
type BLSBackend interface {
	// Verify checks a single BLS signature.
	// pubkey: 96-byte compressed G2, msg: the exact signed byte string,
	// sig: 48-byte compressed G1.
	Verify(pubkey, msg, sig []byte) bool

	// AggregateVerify checks an aggregate signature where each signer signed
	// a different message. pubkeys[i] signed msgs[i], and sig is the aggregate.
	AggregateVerify(pubkeys, msgs [][]byte, sig []byte) bool

	// FastAggregateVerify checks an aggregate signature where all signers
	// signed the same message. Used when a node quorum co-signs one reply.
	FastAggregateVerify(pubkeys [][]byte, msg, sig []byte) bool

	// Name returns a human-readable name for the backend.
	Name() string
}

var (
	activeBLSMu      sync.RWMutex
	activeBLSBackend BLSBackend = &PureGoBLSBackend{}
)

// DefaultBLSBackend returns the currently active BLS backend.
func DefaultBLSBackend() BLSBackend {
	activeBLSMu.RLock()
	defer activeBLSMu.RUnlock()
	return activeBLSBackend
}

// SetBLSBackend sets the active BLS backend. Safe for concurrent use.
// Passing nil resets to the default pure-Go backend.
func SetBLSBackend(b BLSBackend) {
	activeBLSMu.Lock()
	defer activeBLSMu.Unlock()
	if b == nil {
		b = &PureGoBLSBackend{}
	}
	activeBLSBackend = b
}

// BLSIntegrationStatus returns the name of the currently active BLS backend.
func BLSIntegrationStatus() string {
	return DefaultBLSBackend().Name()
}

// VerifyWithBackend verifies a BLS signature using the specified backend.
func VerifyWithBackend(backend BLSBackend, pubkey, msg, sig []byte) bool {
	if backend == nil {
		return false
	}
	return backend.Verify(pubkey, msg, sig)
}

// ValidateSignature validates a 48-byte compressed G1 signature: length,
// compression flag, and that it is not the point at infinity.
func ValidateSignature(sig []byte) error {
	if len(sig) != SignatureSize {
		return ErrBLSInvalidSigLen
	}
	if sig[0]&0x80 == 0 {
		return ErrBLSInvalidSigFormat
	}
	if sig[0]&0x40 != 0 {
		return ErrBLSInvalidSigInf
	}
	buf := make([]byte, SignatureSize)
	copy(buf, sig)
	buf[0] &= 0x1F
	x := new(big.Int).SetBytes(buf)
	if x.Cmp(blsP) >= 0 {
		return ErrBLSInvalidSigFormat
	}
	return nil
}

// ValidatePubkey validates a 96-byte compressed G2 public key: length and
// compression flag.
func ValidatePubkey(pubkey []byte) error {
	if len(pubkey) != PublicKeySize {
		return ErrBLSInvalidPubkeyLen
	}
	if pubkey[0]&0x80 == 0 {
		return ErrBLSInvalidPubkeyFormat
	}
	return nil
}

// --- PureGoBLSBackend ---

// PureGoBLSBackend implements BLSBackend using the pure-Go BLS12-381
// implementation from this package. It delegates to Verify, AggregateVerify,
// and FastAggregateVerify.
type PureGoBLSBackend struct{}

func (b *PureGoBLSBackend) Name() string { return "pure-go" }

func (b *PureGoBLSBackend) Verify(pubkey, msg, sig []byte) bool {
	if len(pubkey) != PublicKeySize || len(sig) != SignatureSize {
		return false
	}
	var pk [PublicKeySize]byte
	var s [SignatureSize]byte
	copy(pk[:], pubkey)
	copy(s[:], sig)
	return Verify(s, msg, pk)
}

func (b *PureGoBLSBackend) AggregateVerify(pubkeys, msgs [][]byte, sig []byte) bool {
	if len(pubkeys) == 0 || len(pubkeys) != len(msgs) || len(sig) != SignatureSize {
		return false
	}
	pks := make([][PublicKeySize]byte, len(pubkeys))
	for i, pk := range pubkeys {
		if len(pk) != PublicKeySize {
			return false
		}
		copy(pks[i][:], pk)
	}
	var s [SignatureSize]byte
	copy(s[:], sig)
	return AggregateVerify(pks, msgs, s)
}

func (b *PureGoBLSBackend) FastAggregateVerify(pubkeys [][]byte, msg, sig []byte) bool {
	if len(pubkeys) == 0 || len(sig) != SignatureSize {
		return false
	}
	pks := make([][PublicKeySize]byte, len(pubkeys))
	for i, pk := range pubkeys {
		if len(pk) != PublicKeySize {
			return false
		}
		copy(pks[i][:], pk)
	}
	var s [SignatureSize]byte
	copy(s[:], sig)
	return FastAggregateVerify(pks, msg, s)
}

// --- BlstBLSBackend ---

// BlstBLSBackend is a build-tag-ready adapter for the blst library
// (github.com/supranational/blst). It documents the exact blst API calls
// used in a production deployment; see bls_blst_adapter.go (behind the
// "blst" build tag) for the real implementation, which shadows this
// placeholder via BlstRealBackend.
//
//	func (b *BlstRealBackend) Verify(pubkey, msg, sig []byte) bool {
//	    pk := new(blst.P2Affine).Uncompress(pubkey)
//	    if pk == nil { return false }
//	    s := new(blst.P1Affine).Uncompress(sig)
//	    if s == nil { return false }
//	    return pk.Verify(true, s, true, msg, blstDST)
//	}
//
// The struct below is a placeholder that always returns false; it exists so
// that code can reference BlstBLSBackend without the blst build tag.
type BlstBLSBackend struct{}

func (b *BlstBLSBackend) Name() string { return "blst" }

func (b *BlstBLSBackend) Verify(pubkey, msg, sig []byte) bool { return false }

func (b *BlstBLSBackend) AggregateVerify(pubkeys, msgs [][]byte, sig []byte) bool { return false }

func (b *BlstBLSBackend) FastAggregateVerify(pubkeys [][]byte, msg, sig []byte) bool { return false }

// --- Test vector types ---

// BLSTestVector represents a test case for BLS signature verification.
type BLSTestVector struct {
	Name      string
	SecretKey *big.Int
	Message   []byte
	Pubkey    [PublicKeySize]byte
	Signature [SignatureSize]byte
}

// blsTestVectors holds fixed test vectors generated with small, reproducible
// secret keys. Used to check that any backend agrees with the others.
var blsTestVectors []BLSTestVector

func init() {
	secrets := []struct {
		name   string
		secret int64
		msg    string
	}{
		{"small_secret_hello", 42, "hello"},
		{"medium_secret_world", 1337, "world"},
		{"large_secret_root", 999999, "ic-state-root"},
	}
	for _, s := range secrets {
		sk := big.NewInt(s.secret)
		pk := PubkeyFromSecret(sk)
		sig, err := Sign(sk, []byte(s.msg))
		if err != nil {
			panic(fmt.Sprintf("bls test vector %q: %v", s.name, err))
		}
		blsTestVectors = append(blsTestVectors, BLSTestVector{
			Name:      s.name,
			SecretKey: sk,
			Message:   []byte(s.msg),
			Pubkey:    pk,
			Signature: sig,
		})
	}
}

// GetBLSTestVectors returns the built-in BLS test vectors.
func GetBLSTestVectors() []BLSTestVector {
	result := make([]BLSTestVector, len(blsTestVectors))
	copy(result, blsTestVectors)
	return result
}

// derWrapperLen is the length of the DER SubjectPublicKeyInfo prefix the
// IC wraps a compressed G2 key in on the wire (algorithm identifier for
// BLS12-381 G2, fixed-length, no length-dependent fields).
const derWrapperLen = 37

// derPrefix is that fixed prefix: SEQUENCE { SEQUENCE { OID bls12381-g2,
// OID N/A }, BIT STRING } with no length-dependent fields, since the
// payload is always exactly 96 bytes.
var derPrefix = []byte{
	0x30, 0x81, 0x82, 0x30, 0x1d, 0x06, 0x0d, 0x2b, 0x06, 0x01, 0x04, 0x01, 0x82, 0xdc, 0x7c, 0x05,
	0x03, 0x01, 0x02, 0x01, 0x06, 0x0c, 0x2b, 0x06, 0x01, 0x04, 0x01, 0x82, 0xdc, 0x7c, 0x05, 0x03,
	0x02, 0x01, 0x03, 0x61, 0x00,
}

// UnwrapDERPubkey strips the fixed DER prefix from a wire-encoded public
// key, returning the raw 96-byte compressed G2 point. Every caller that
// reads a NodeKey or subnet delegation key from a certificate tree goes
// through this.
func UnwrapDERPubkey(der []byte) ([PublicKeySize]byte, error) {
	var out [PublicKeySize]byte
	if len(der) != derWrapperLen+PublicKeySize {
		return out, fmt.Errorf("blscrypto: DER pubkey length %d, want %d", len(der), derWrapperLen+PublicKeySize)
	}
	copy(out[:], der[derWrapperLen:])
	return out, nil
}

// WrapDERPubkey prepends the fixed DER prefix to a raw 96-byte compressed
// G2 point, the inverse of UnwrapDERPubkey. Used to derive the
// self-authenticating principal of the network root key for root-subnet
// certificates (no delegation).
func WrapDERPubkey(pk [PublicKeySize]byte) []byte {
	out := make([]byte, 0, derWrapperLen+PublicKeySize)
	out = append(out, derPrefix...)
	out = append(out, pk[:]...)
	return out
}

// --- Helpers ---

func mustDecodeHex48(s string) [48]byte {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 48 {
		panic(fmt.Sprintf("invalid hex for 48-byte value: %s", s))
	}
	var out [48]byte
	copy(out[:], b)
	return out
}

func mustDecodeHex96(s string) [96]byte {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 96 {
		panic(fmt.Sprintf("invalid hex for 96-byte value: %s", s))
	}
	var out [96]byte
	copy(out[:], b)
	return out
}
