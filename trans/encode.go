package trans

import (
	"fmt"
	"math"
	"math/bits"
	"strconv"
)

// Constant obfuscation masks literal values with an ARX keystream so the
// plain constant never appears in the emitted source. The mask is one ChaCha
// quarter-round over (key, methodID, classID, seed); the runtime recomputes
// the same mask from the four values carried at the use site and XORs it off.

func quarterRound(a, b, c, d uint32) uint32 {
	a += b
	d ^= a
	d = bits.RotateLeft32(d, 16)
	c += d
	b ^= c
	b = bits.RotateLeft32(b, 12)
	a += b
	d ^= a
	d = bits.RotateLeft32(d, 8)
	c += d
	b ^= c
	b = bits.RotateLeft32(b, 7)
	return a
}

// Mix32 derives the 32-bit mask for a use site.
func Mix32(key int32, mid, cid int, seed int32) int32 {
	return int32(quarterRound(uint32(key), uint32(int32(mid)), uint32(int32(cid)), uint32(seed)))
}

// Mix64 derives the 64-bit mask. The key halves run through independent
// rounds with the method and class ids swapped and the seed perturbed so the
// two 32-bit lanes never share a keystream.
func Mix64(key int64, mid, cid int, seed int32) int64 {
	k1 := int32(key)
	k2 := int32(uint64(key) >> 32)
	s2 := seed ^ -0x61C88647 // 0x9E3779B9
	r1 := Mix32(k1, mid, cid, seed)
	r2 := Mix32(k2, cid, mid, s2)
	return int64(r2)<<32 | int64(uint32(r1))
}

// DecodeInt32 undoes EncodeInt32 given the same site parameters.
func DecodeInt32(enc, key int32, mid, cid int, seed int32) int32 {
	return enc ^ Mix32(key, mid, cid, seed)
}

// DecodeInt64 undoes EncodeInt64.
func DecodeInt64(enc, key int64, mid, cid int, seed int32) int64 {
	return enc ^ Mix64(key, mid, cid, seed)
}

// EncodedInt32 is a masked 32-bit constant plus everything the runtime needs
// to strip the mask.
type EncodedInt32 struct {
	Enc  int32
	Key  int32
	MID  int
	CID  int
	Seed int32
}

// EncodedInt64 is the 64-bit analogue.
type EncodedInt64 struct {
	Enc  int64
	Key  int64
	MID  int
	CID  int
	Seed int32
}

// Encoder produces per-site encodings. Every call draws a fresh key and seed
// from the context generator, so two occurrences of the same constant encode
// differently.
type Encoder struct {
	Rand *Rand
	MID  int
	CID  int
}

// Int32 encodes v for one use site.
func (e *Encoder) Int32(v int32) EncodedInt32 {
	key := e.Rand.Int32()
	seed := e.Rand.Int32()
	return EncodedInt32{
		Enc:  v ^ Mix32(key, e.MID, e.CID, seed),
		Key:  key,
		MID:  e.MID,
		CID:  e.CID,
		Seed: seed,
	}
}

// Int64 encodes v for one use site.
func (e *Encoder) Int64(v int64) EncodedInt64 {
	key := e.Rand.Int64()
	seed := e.Rand.Int32()
	return EncodedInt64{
		Enc:  v ^ Mix64(key, e.MID, e.CID, seed),
		Key:  key,
		MID:  e.MID,
		CID:  e.CID,
		Seed: seed,
	}
}

// Float32 encodes the raw bit pattern of v.
func (e *Encoder) Float32(v float32) EncodedInt32 {
	return e.Int32(int32(math.Float32bits(v)))
}

// Float64 encodes the raw bit pattern of v.
func (e *Encoder) Float64(v float64) EncodedInt64 {
	return e.Int64(int64(math.Float64bits(v)))
}

// Expr renders the runtime decode expression for a 32-bit site.
func (v EncodedInt32) Expr() string {
	return fmt.Sprintf("ngen::decode_i32(%s, %s, %d, %d, %s)",
		IntLiteral(v.Enc), IntLiteral(v.Key), v.MID, v.CID, IntLiteral(v.Seed))
}

// Expr renders the runtime decode expression for a 64-bit site.
func (v EncodedInt64) Expr() string {
	return fmt.Sprintf("ngen::decode_i64(%s, %s, %d, %d, %s)",
		LongLiteral(v.Enc), LongLiteral(v.Key), v.MID, v.CID, IntLiteral(v.Seed))
}

// IntLiteral renders a jint literal. The minimum value has no same-typed
// negative literal in C, so it is spelled as an unsigned cast.
func IntLiteral(v int32) string {
	if v == math.MinInt32 {
		return "(jint) 2147483648U"
	}
	return strconv.FormatInt(int64(v), 10)
}

// LongLiteral renders a jlong literal, with the same minimum-value escape.
func LongLiteral(v int64) string {
	if v == math.MinInt64 {
		return "(jlong) 9223372036854775808ULL"
	}
	return strconv.FormatInt(v, 10) + "LL"
}

// FloatLiteral renders a jfloat literal. NaN and the infinities have no
// portable literal form and go through <cmath> macros.
func FloatLiteral(v float32) string {
	switch {
	case v != v:
		return "NAN"
	case v == float32(math.Inf(1)):
		return "HUGE_VALF"
	case v == float32(math.Inf(-1)):
		return "-HUGE_VALF"
	}
	return strconv.FormatFloat(float64(v), 'g', -1, 32) + "f"
}

// DoubleLiteral renders a jdouble literal.
func DoubleLiteral(v float64) string {
	switch {
	case v != v:
		return "NAN"
	case math.IsInf(v, 1):
		return "HUGE_VAL"
	case math.IsInf(v, -1):
		return "-HUGE_VAL"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
