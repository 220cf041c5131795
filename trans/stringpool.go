package trans

import (
	"fmt"
	"sync"
)

// StringPool lays raw name and descriptor strings out in one contiguous
// byte pool referenced by offset from the emitted code. Entries are stored
// in JVM modified UTF-8 with a trailing NUL so they can be handed straight
// to the JNI name-based lookups.
type StringPool struct {
	mu      sync.Mutex
	offsets map[string]int
	data    []byte
}

// NewStringPool creates an empty pool.
func NewStringPool() *StringPool {
	return &StringPool{offsets: make(map[string]int)}
}

// Get returns the pool-pointer expression for s, appending it on first use.
func (p *StringPool) Get(s string) string {
	p.mu.Lock()
	off, ok := p.offsets[s]
	if !ok {
		off = len(p.data)
		p.offsets[s] = off
		p.data = append(p.data, modifiedUTF8(s)...)
		p.data = append(p.data, 0)
	}
	p.mu.Unlock()
	return fmt.Sprintf("((char *) string_pool + %d)", off)
}

// Bytes returns the pool contents for table emission.
func (p *StringPool) Bytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, len(p.data))
	copy(out, p.data)
	return out
}

// modifiedUTF8 encodes s the way the class-file format and JNI expect:
// U+0000 becomes the two-byte form and supplementary characters encode as
// surrogate pairs, three bytes each.
func modifiedUTF8(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 0x0001 && r <= 0x007F:
			out = append(out, byte(r))
		case r <= 0x07FF:
			out = append(out, 0xC0|byte(r>>6), 0x80|byte(r&0x3F))
		case r <= 0xFFFF:
			out = append(out, 0xE0|byte(r>>12), 0x80|byte((r>>6)&0x3F), 0x80|byte(r&0x3F))
		default:
			r -= 0x10000
			hi := 0xD800 + (r >> 10)
			lo := 0xDC00 + (r & 0x3FF)
			out = append(out, 0xE0|byte(hi>>12), 0x80|byte((hi>>6)&0x3F), 0x80|byte(hi&0x3F))
			out = append(out, 0xE0|byte(lo>>12), 0x80|byte((lo>>6)&0x3F), 0x80|byte(lo&0x3F))
		}
	}
	return out
}
