//go:build 386 || amd64 || arm || arm64 || loong64 || mips64le || mipsle || ppc64le || riscv64 || wasm

package sample

import (
	"encoding/binary"
	"math"
)

// Native-endian formats, resolved at build time. The kernel inner loops
// use the readS16NE/putS16NE helpers below so no endianness branch is
// carried at runtime.
const (
	// S16NE is signed 16 bit PCM in native byte order.
	S16NE = S16LE
	// Float32NE is 32 bit float PCM in native byte order.
	Float32NE = Float32LE
)

func readS16NE(b []byte) int16 {
	return int16(binary.LittleEndian.Uint16(b))
}

func putS16NE(b []byte, v int16) {
	binary.LittleEndian.PutUint16(b, uint16(v))
}

func readFloat32NE(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func putFloat32NE(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}
