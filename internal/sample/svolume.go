package sample

import (
	"fmt"
	"log/slog"

	"github.com/mixerd/mixerd/internal/memblock"
)

// VolumeFunc scales a buffer of samples in place by per-channel volumes.
// volumes carries one entry per channel; the channel index rotates per
// sample. Implementations installed via SetVolumeFunc must produce
// output bit-identical to the scalar reference for all inputs.
type VolumeFunc func(samples []byte, volumes []int32, channels int)

// volumeFuncs is the format-keyed dispatch table the optimized install
// hooks mutate. Entries are the scalar references until InstallOptimized
// swaps them.
var volumeFuncs = [formatMax]VolumeFunc{}

func init() {
	volumeFuncs[S16NE] = svolumeS16NERef
	volumeFuncs[U8] = svolumeU8Ref
	volumeFuncs[Float32NE] = svolumeFloat32NERef
}

// VolumeFuncFor returns the currently installed volume kernel for the
// format. Requesting a format without a kernel is a programming error.
func VolumeFuncFor(f Format) VolumeFunc {
	if !f.Valid() || volumeFuncs[f] == nil {
		panic(fmt.Sprintf("sample: no volume kernel for format %s", f))
	}
	return volumeFuncs[f]
}

// SetVolumeFunc installs fn as the volume kernel for the format.
func SetVolumeFunc(f Format, fn VolumeFunc) {
	if !f.Valid() {
		panic(fmt.Sprintf("sample: invalid format %d", uint8(f)))
	}
	volumeFuncs[f] = fn
}

// VolumeChunk scales a memchunk in place by the per-channel volume
// vector. If every channel is at unity the chunk is returned unchanged;
// if every channel is muted the chunk is silenced. The chunk length
// must be a whole number of frames and the chunk uniquely held.
func VolumeChunk(c memblock.Chunk, spec Spec, cv CVolume) {
	if c.Length%spec.FrameSize() != 0 {
		panic(fmt.Sprintf("sample: chunk length %d not a multiple of frame size %d", c.Length, spec.FrameSize()))
	}

	if cv.IsNorm() {
		return
	}
	if cv.IsMuted() {
		SilenceChunk(c, spec)
		return
	}

	volumes := make([]int32, spec.Channels)
	for i := range volumes {
		volumes[i] = int32(cv.Values[i].Clamp())
	}

	VolumeFuncFor(spec.Format)(c.Bytes(), volumes, int(spec.Channels))
}

// svolumeS16NERef is the scalar reference volume kernel for S16NE.
// The channel index rotates per sample; volumes apply per channel.
func svolumeS16NERef(samples []byte, volumes []int32, channels int) {
	ch := 0
	for d := 0; d+2 <= len(samples); d += 2 {
		t := int64(readS16NE(samples[d:]))

		t = t * int64(volumes[ch]) / int64(VolumeNorm)

		if t < -0x8000 {
			t = -0x8000
		}
		if t > 0x7FFF {
			t = 0x7FFF
		}
		putS16NE(samples[d:], int16(t))

		if ch++; ch >= channels {
			ch = 0
		}
	}
}

func svolumeU8Ref(samples []byte, volumes []int32, channels int) {
	ch := 0
	for d := 0; d < len(samples); d++ {
		t := int64(samples[d]) - 0x80

		t = t * int64(volumes[ch]) / int64(VolumeNorm)

		if t < -0x80 {
			t = -0x80
		}
		if t > 0x7F {
			t = 0x7F
		}
		samples[d] = byte(t + 0x80)

		if ch++; ch >= channels {
			ch = 0
		}
	}
}

func svolumeFloat32NERef(samples []byte, volumes []int32, channels int) {
	ch := 0
	for d := 0; d+4 <= len(samples); d += 4 {
		t := readFloat32NE(samples[d:])

		t = t * float32(volumes[ch]) / float32(VolumeNorm)

		if t < -1 {
			t = -1
		}
		if t > 1 {
			t = 1
		}
		putFloat32NE(samples[d:], t)

		if ch++; ch >= channels {
			ch = 0
		}
	}
}

// svolumeS16NEStrided is the optimized S16NE volume kernel: one strided
// pass per channel with the unity/muted cases hoisted out of the inner
// loop. Output is bit-identical to svolumeS16NERef.
func svolumeS16NEStrided(samples []byte, volumes []int32, channels int) {
	n := len(samples) / 2

	for ch := 0; ch < channels; ch++ {
		vol := int64(volumes[ch])

		switch vol {
		case int64(VolumeNorm):
			// Unity: v*NORM/NORM is exact in 64 bit, nothing to write.
			continue

		case int64(VolumeMuted):
			for i := ch; i < n; i += channels {
				putS16NE(samples[2*i:], 0)
			}

		default:
			for i := ch; i < n; i += channels {
				t := int64(readS16NE(samples[2*i:])) * vol / int64(VolumeNorm)

				if t < -0x8000 {
					t = -0x8000
				}
				if t > 0x7FFF {
					t = 0x7FFF
				}
				putS16NE(samples[2*i:], int16(t))
			}
		}
	}
}

// InstallOptimized swaps the dispatch tables over to the optimized
// kernel variants. Their output is bit-identical to the scalar
// references; the equivalence is covered by tests.
func InstallOptimized(logger *slog.Logger) {
	SetVolumeFunc(S16NE, svolumeS16NEStrided)
	SetConvertFromFloat32NEFunc(S16NE, sconvFloat32ToS16NEUnrolled)

	if logger != nil {
		logger.Info("optimized sample kernels installed",
			"svolume", "s16ne-strided",
			"sconv", "float32-s16ne-unrolled",
		)
	}
}
