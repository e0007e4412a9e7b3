//go:build mips || mips64 || ppc64 || s390x

package sample

import (
	"encoding/binary"
	"math"
)

const (
	// S16NE is signed 16 bit PCM in native byte order.
	S16NE = S16BE
	// Float32NE is 32 bit float PCM in native byte order.
	Float32NE = Float32BE
)

func readS16NE(b []byte) int16 {
	return int16(binary.BigEndian.Uint16(b))
}

func putS16NE(b []byte, v int16) {
	binary.BigEndian.PutUint16(b, uint16(v))
}

func readFloat32NE(b []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

func putFloat32NE(b []byte, v float32) {
	binary.BigEndian.PutUint32(b, math.Float32bits(v))
}
