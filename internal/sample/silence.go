package sample

import "github.com/mixerd/mixerd/internal/memblock"

// Silence fills buf with the zero-amplitude byte for the spec's format.
func Silence(buf []byte, spec Spec) {
	c := spec.Format.SilenceByte()
	for i := range buf {
		buf[i] = c
	}
}

// SilenceChunk silences the window of a chunk in place. The chunk must
// be freshly allocated or uniquely held.
func SilenceChunk(c memblock.Chunk, spec Spec) {
	Silence(c.Bytes(), spec)
}
