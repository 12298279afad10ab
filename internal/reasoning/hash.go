package reasoning

import (
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

const windowBytes = 256

// Hash fingerprints a reasoning block's textual content by combining its
// first 256 bytes, its last 256 bytes (both truncated to the nearest
// character boundary, never a raw byte split), and the total content
// length. Two blocks that collide on both windows and length are treated
// as equal.
func Hash(content string) uint64 {
	prefix := truncateBoundary(content, windowBytes, false)
	suffix := truncateBoundary(content, windowBytes, true)

	h := xxhash.New()
	_, _ = h.WriteString(prefix)
	_, _ = h.WriteString(suffix)
	var lenBuf [8]byte
	putUint64(lenBuf[:], uint64(len(content)))
	_, _ = h.Write(lenBuf[:])
	return h.Sum64()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// truncateBoundary returns at most n bytes of s, truncated to the nearest
// rune boundary. fromEnd=false takes a prefix; fromEnd=true takes a suffix.
func truncateBoundary(s string, n int, fromEnd bool) string {
	if len(s) <= n {
		return s
	}
	if !fromEnd {
		cut := n
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut]
	}

	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
