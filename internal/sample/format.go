// Package sample defines PCM sample formats and specifications and
// implements the mixing, silencing and volume kernels the sinks render
// through. The kernels are the hot path of the server: they run on the
// device threads with bounded latency. Mix and VolumeChunk allocate one
// small per-call slice (sized by stream or channel count).
package sample

import (
	"fmt"
	"strings"
)

// Format identifies a PCM sample format.
type Format uint8

const (
	// U8 is unsigned 8 bit PCM.
	U8 Format = iota
	// ALaw is 8 bit G.711 A-law.
	ALaw
	// ULaw is 8 bit G.711 u-law.
	ULaw
	// S16LE is signed 16 bit PCM, little endian.
	S16LE
	// S16BE is signed 16 bit PCM, big endian.
	S16BE
	// Float32LE is IEEE 754 32 bit float PCM, little endian.
	Float32LE
	// Float32BE is IEEE 754 32 bit float PCM, big endian.
	Float32BE

	formatMax
)

// sampleSizes maps each format to its size in bytes per sample.
var sampleSizes = [formatMax]int{
	U8:        1,
	ALaw:      1,
	ULaw:      1,
	S16LE:     2,
	S16BE:     2,
	Float32LE: 4,
	Float32BE: 4,
}

// Size returns the number of bytes one sample occupies.
func (f Format) Size() int {
	if f >= formatMax {
		panic(fmt.Sprintf("sample: invalid format %d", f))
	}
	return sampleSizes[f]
}

// Valid reports whether f is a known format.
func (f Format) Valid() bool { return f < formatMax }

func (f Format) String() string {
	switch f {
	case U8:
		return "u8"
	case ALaw:
		return "alaw"
	case ULaw:
		return "ulaw"
	case S16LE:
		return "s16le"
	case S16BE:
		return "s16be"
	case Float32LE:
		return "float32le"
	case Float32BE:
		return "float32be"
	}
	return fmt.Sprintf("invalid(%d)", uint8(f))
}

// ParseFormat parses a format name as used in module arguments.
// "s16ne" and "float32ne" resolve to the native-endian variant.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "u8", "8":
		return U8, nil
	case "alaw":
		return ALaw, nil
	case "ulaw", "mulaw":
		return ULaw, nil
	case "s16le":
		return S16LE, nil
	case "s16be":
		return S16BE, nil
	case "s16", "s16ne", "16":
		return S16NE, nil
	case "float32le":
		return Float32LE, nil
	case "float32be":
		return Float32BE, nil
	case "float32", "float32ne", "float":
		return Float32NE, nil
	}
	return 0, fmt.Errorf("unknown sample format %q", s)
}

// silenceBytes maps each format to the byte value that encodes zero
// amplitude. All supported silences are byte-wise constants, so silence
// is a plain fill.
var silenceBytes = [formatMax]byte{
	U8:        0x80,
	ALaw:      0x80,
	ULaw:      0x80,
	S16LE:     0x00,
	S16BE:     0x00,
	Float32LE: 0x00,
	Float32BE: 0x00,
}

// SilenceByte returns the zero-amplitude byte for the format.
func (f Format) SilenceByte() byte {
	if f >= formatMax {
		panic(fmt.Sprintf("sample: invalid format %d", f))
	}
	return silenceBytes[f]
}
