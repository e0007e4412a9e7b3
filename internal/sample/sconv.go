package sample

import (
	"fmt"
	"math"
)

// ConvertFunc converts float samples in [-1, 1] to an integer PCM
// format. Inputs outside the range are clamped first. src and dst must
// be the same length.
type ConvertFunc func(src []float32, dst []int16)

// convertFromFloat32NE is the dispatch table for float→integer
// converters, keyed by the destination format.
var convertFromFloat32NE = [formatMax]ConvertFunc{}

func init() {
	convertFromFloat32NE[S16NE] = sconvFloat32ToS16NERef
}

// ConvertFromFloat32NEFunc returns the installed converter from
// Float32NE to the given destination format.
func ConvertFromFloat32NEFunc(f Format) ConvertFunc {
	if !f.Valid() || convertFromFloat32NE[f] == nil {
		panic(fmt.Sprintf("sample: no float32 converter to format %s", f))
	}
	return convertFromFloat32NE[f]
}

// SetConvertFromFloat32NEFunc installs fn as the converter to the
// given destination format.
func SetConvertFromFloat32NEFunc(f Format, fn ConvertFunc) {
	if !f.Valid() {
		panic(fmt.Sprintf("sample: invalid format %d", uint8(f)))
	}
	convertFromFloat32NE[f] = fn
}

func float32ToS16(v float32) int16 {
	if v < -1 {
		v = -1
	}
	if v > 1 {
		v = 1
	}
	return int16(math.RoundToEven(float64(v) * 0x7FFF))
}

// sconvFloat32ToS16NERef is the scalar reference converter.
func sconvFloat32ToS16NERef(src []float32, dst []int16) {
	for i, v := range src {
		dst[i] = float32ToS16(v)
	}
}

// sconvFloat32ToS16NEUnrolled is the optimized converter: four samples
// per iteration, bit-identical to the scalar reference.
func sconvFloat32ToS16NEUnrolled(src []float32, dst []int16) {
	i := 0
	for ; i+4 <= len(src); i += 4 {
		dst[i] = float32ToS16(src[i])
		dst[i+1] = float32ToS16(src[i+1])
		dst[i+2] = float32ToS16(src[i+2])
		dst[i+3] = float32ToS16(src[i+3])
	}
	for ; i < len(src); i++ {
		dst[i] = float32ToS16(src[i])
	}
}
