package chunker

import "strconv"

// ContentHash is a cyrb53-style 53-bit hash rendered as hex. Two independent
// mixing streams seeded with 0xdeadbeef and 0x41c6ce57 are combined into a
// 53-bit value, which keeps keys short while staying deterministic across
// processes.
func ContentHash(s string) string {
	h1 := uint64(0xdeadbeef)
	h2 := uint64(0x41c6ce57)
	for _, r := range s {
		ch := uint64(r)
		h1 = mix32(h1^ch, 2654435761)
		h2 = mix32(h2^ch, 1597334677)
	}
	h1 = mix32(h1^(h1>>16), 2246822507) ^ mix32(h2^(h2>>13), 3266489909)
	h2 = mix32(h2^(h2>>16), 2246822507) ^ mix32(h1^(h1>>13), 3266489909)
	v := (h2&0x1fffff)<<32 | (h1 & 0xffffffff)
	return strconv.FormatUint(v, 16)
}

func mix32(a, b uint64) uint64 {
	return (a * b) & 0xffffffff
}
