package trans

// Rand is a small deterministic generator used for key material and
// strategy coin flips. It is splitmix64 over an explicit seed so a fixed
// seed reproduces an identical translation byte for byte. Not safe for
// concurrent use; each method context owns one.
type Rand struct {
	state uint64
}

// NewRand returns a generator seeded with seed.
func NewRand(seed int64) *Rand {
	return &Rand{state: uint64(seed)}
}

func (r *Rand) next() uint64 {
	r.state += 0x9E3779B97F4A7C15
	z := r.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// Uint64 returns the next raw 64-bit value.
func (r *Rand) Uint64() uint64 {
	return r.next()
}

// Int64 returns the next value as a signed 64-bit integer.
func (r *Rand) Int64() int64 {
	return int64(r.next())
}

// Uint32 returns the next 32-bit value.
func (r *Rand) Uint32() uint32 {
	return uint32(r.next() >> 32)
}

// Int32 returns the next value as a signed 32-bit integer.
func (r *Rand) Int32() int32 {
	return int32(r.Uint32())
}

// Bool flips a fair coin.
func (r *Rand) Bool() bool {
	return r.next()>>63 == 1
}

// Intn returns a value in [0, n). n must be positive.
func (r *Rand) Intn(n int) int {
	if n <= 0 {
		panic("trans: Intn with non-positive bound")
	}
	return int(r.next() % uint64(n))
}
