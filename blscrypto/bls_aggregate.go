package blscrypto

// BLS12-381 signature operations using the scheme the replica network uses:
// signatures live in G1 (48-byte compressed points), public keys live in G2
// (96-byte compressed points, carried over the wire inside a DER wrapper —
// see PublicKeyFromDER). This is the mirror image of the MinPk scheme
// (pubkeys-in-G1) that Ethereum consensus uses; the underlying field, curve
// and pairing arithmetic is identical, only the group assignment differs.
//
// Single verification: e(sig, G2Generator) == e(H(msg), pk)
// Equivalent to:        e(sig, G2Generator) * e(-H(msg), pk) == 1

import (
	"math/big"
)

// Compressed point sizes for the scheme used here.
const (
	SignatureSize = 48 // compressed G1
	PublicKeySize = 96 // compressed G2 (raw, without the DER wrapper)
)

// StateRootDST is the domain separation tag used when hashing a message to
// a G1 point ahead of verification. It is distinct from the byte-string
// domain separators prefixed onto the message itself (see the certificate
// package); this DST only scopes the hash-to-curve suite.
var StateRootDST = []byte("BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_NUL_")

// SerializeG1 compresses a G1 point to 48 bytes.
func SerializeG1(p *BlsG1Point) [SignatureSize]byte {
	var out [SignatureSize]byte
	if p.blsG1IsInfinity() {
		out[0] = 0xC0
		return out
	}
	x, y := p.blsG1ToAffine()
	xBytes := x.Bytes()
	copy(out[SignatureSize-len(xBytes):], xBytes)
	out[0] |= 0x80
	halfP := new(big.Int).Rsh(blsP, 1)
	if y.Cmp(halfP) > 0 {
		out[0] |= 0x20
	}
	return out
}

// DeserializeG1 decompresses a 48-byte compressed G1 point, or nil if invalid.
func DeserializeG1(data [SignatureSize]byte) *BlsG1Point {
	if data[0]&0x80 == 0 {
		return nil
	}
	if data[0]&0x40 != 0 {
		return BlsG1Infinity()
	}
	sortFlag := data[0]&0x20 != 0
	data[0] &= 0x1F
	x := new(big.Int).SetBytes(data[:])
	if x.Cmp(blsP) >= 0 {
		return nil
	}
	x3 := blsFpMul(blsFpSqr(x), x)
	rhs := blsFpAdd(x3, blsB)
	y := blsFpSqrt(rhs)
	if y == nil {
		return nil
	}
	halfP := new(big.Int).Rsh(blsP, 1)
	if sortFlag != (y.Cmp(halfP) > 0) {
		y = blsFpNeg(y)
	}
	p := blsG1FromAffine(x, y)
	if !blsG1InSubgroup(p) {
		return nil
	}
	return p
}

// SerializeG2 compresses a G2 point to 96 bytes.
func SerializeG2(p *BlsG2Point) [PublicKeySize]byte {
	var out [PublicKeySize]byte
	if p.blsG2IsInfinity() {
		out[0] = 0xC0
		return out
	}
	x, y := p.blsG2ToAffine()
	c1Bytes := x.c1.Bytes()
	c0Bytes := x.c0.Bytes()
	copy(out[48-len(c1Bytes):48], c1Bytes)
	copy(out[PublicKeySize-len(c0Bytes):], c0Bytes)
	out[0] |= 0x80
	halfP := new(big.Int).Rsh(blsP, 1)
	if y.c1.Cmp(halfP) > 0 || (y.c1.Sign() == 0 && y.c0.Cmp(halfP) > 0) {
		out[0] |= 0x20
	}
	return out
}

// DeserializeG2 decompresses a 96-byte compressed G2 point, or nil if invalid.
func DeserializeG2(data [PublicKeySize]byte) *BlsG2Point {
	if data[0]&0x80 == 0 {
		return nil
	}
	if data[0]&0x40 != 0 {
		return BlsG2Infinity()
	}
	sortFlag := data[0]&0x20 != 0
	data[0] &= 0x1F
	c1 := new(big.Int).SetBytes(data[:48])
	c0 := new(big.Int).SetBytes(data[48:])
	if c0.Cmp(blsP) >= 0 || c1.Cmp(blsP) >= 0 {
		return nil
	}
	x := &blsFp2{c0: c0, c1: c1}
	x3 := blsFp2Mul(blsFp2Sqr(x), x)
	rhs := blsFp2Add(x3, blsTwistB)
	y := blsFp2Sqrt(rhs)
	if y == nil {
		return nil
	}
	halfP := new(big.Int).Rsh(blsP, 1)
	yLarger := y.c1.Cmp(halfP) > 0 || (y.c1.Sign() == 0 && y.c0.Cmp(halfP) > 0)
	if sortFlag != yLarger {
		y = blsFp2Neg(y)
	}
	p := blsG2FromAffine(x, y)
	if !blsG2InSubgroup(p) {
		return nil
	}
	return p
}

// AggregateSignatures aggregates multiple signatures (G1 points) by addition.
func AggregateSignatures(sigs [][SignatureSize]byte) [SignatureSize]byte {
	agg := BlsG1Infinity()
	for _, s := range sigs {
		p := DeserializeG1(s)
		if p == nil {
			continue
		}
		agg = blsG1Add(agg, p)
	}
	return SerializeG1(agg)
}

// AggregatePublicKeys aggregates multiple public keys (G2 points) by addition.
func AggregatePublicKeys(pubkeys [][PublicKeySize]byte) [PublicKeySize]byte {
	agg := BlsG2Infinity()
	for _, pk := range pubkeys {
		p := DeserializeG2(pk)
		if p == nil {
			continue
		}
		agg = blsG2Add(agg, p)
	}
	return SerializeG2(agg)
}

// Sign signs a message with a secret scalar, returning a G1 signature.
// Exported for tests that need to fabricate a certificate chain; production
// signing happens on the replica side and is out of scope for this client.
func Sign(secret *big.Int, msg []byte) ([SignatureSize]byte, error) {
	hm, err := HashToCurveG1(msg, StateRootDST)
	if err != nil {
		return [SignatureSize]byte{}, err
	}
	sig := blsG1ScalarMul(hm, secret)
	return SerializeG1(sig), nil
}

// PubkeyFromSecret derives the G2 public key for a secret scalar.
func PubkeyFromSecret(secret *big.Int) [PublicKeySize]byte {
	pk := blsG2ScalarMul(BlsG2Generator(), secret)
	return SerializeG2(pk)
}

// Verify checks a single signature: e(sig, G2Generator) == e(H(msg), pk).
// sig is a 48-byte compressed G1 point, pk a 96-byte compressed G2 point
// (the raw point, already unwrapped from any DER envelope), msg the exact
// byte string that was signed (including any domain-separator prefix).
func Verify(sig [SignatureSize]byte, msg []byte, pk [PublicKeySize]byte) bool {
	s := DeserializeG1(sig)
	if s == nil || s.blsG1IsInfinity() {
		return false
	}
	pubkey := DeserializeG2(pk)
	if pubkey == nil || pubkey.blsG2IsInfinity() {
		return false
	}
	hm, err := HashToCurveG1(msg, StateRootDST)
	if err != nil {
		return false
	}
	negHm := blsG1Neg(hm)
	g2gen := BlsG2Generator()
	return blsMultiPairing(
		[]*BlsG1Point{s, negHm},
		[]*BlsG2Point{g2gen, pubkey},
	)
}

// AggregateVerify checks an aggregate signature where each signer signed a
// distinct message: product(e(sig_i... already summed, H(msg_i))) == 1,
// i.e. e(aggSig, G2Generator) * product(e(-H(msg_i), pk_i)) == 1.
func AggregateVerify(pubkeys [][PublicKeySize]byte, msgs [][]byte, sig [SignatureSize]byte) bool {
	n := len(pubkeys)
	if n == 0 || n != len(msgs) {
		return false
	}
	s := DeserializeG1(sig)
	if s == nil || s.blsG1IsInfinity() {
		return false
	}
	g1s := make([]*BlsG1Point, 0, n+1)
	g2s := make([]*BlsG2Point, 0, n+1)
	g1s = append(g1s, s)
	g2s = append(g2s, BlsG2Generator())
	for i, pk := range pubkeys {
		pubkey := DeserializeG2(pk)
		if pubkey == nil || pubkey.blsG2IsInfinity() {
			return false
		}
		hm, err := HashToCurveG1(msgs[i], StateRootDST)
		if err != nil {
			return false
		}
		g1s = append(g1s, blsG1Neg(hm))
		g2s = append(g2s, pubkey)
	}
	return blsMultiPairing(g1s, g2s)
}

// FastAggregateVerify checks an aggregate signature where every signer
// signed the same message: e(aggSig, G2Generator) == e(H(msg), aggPK).
func FastAggregateVerify(pubkeys [][PublicKeySize]byte, msg []byte, sig [SignatureSize]byte) bool {
	if len(pubkeys) == 0 {
		return false
	}
	s := DeserializeG1(sig)
	if s == nil || s.blsG1IsInfinity() {
		return false
	}
	aggPK := BlsG2Infinity()
	for _, pk := range pubkeys {
		p := DeserializeG2(pk)
		if p == nil || p.blsG2IsInfinity() {
			return false
		}
		aggPK = blsG2Add(aggPK, p)
	}
	if aggPK.blsG2IsInfinity() {
		return false
	}
	hm, err := HashToCurveG1(msg, StateRootDST)
	if err != nil {
		return false
	}
	negHm := blsG1Neg(hm)
	return blsMultiPairing(
		[]*BlsG1Point{s, negHm},
		[]*BlsG2Point{BlsG2Generator(), aggPK},
	)
}
