package sample

import (
	"fmt"

	"github.com/mixerd/mixerd/internal/memblock"
)

// MixInfo is one input stream's contribution to a single render: a
// chunk of PCM and the per-channel volume it is mixed at.
type MixInfo struct {
	Chunk  memblock.Chunk
	Volume CVolume
}

// Mix combines the streams into dst under the master per-channel volume
// and returns the number of destination bytes written, which is
// min(len(dst), min stream chunk length) truncated to the enclosing
// sample boundary.
//
// Only S16NE, U8 and Float32NE are supported by the mix path; other
// formats are converted upstream and requesting them here is a
// programming error.
//
// Chunk lengths and len(dst) must be multiples of the spec's frame
// size. Callers are trusted.
func Mix(streams []MixInfo, dst []byte, spec Spec, master CVolume) int {
	switch spec.Format {
	case S16NE:
		return mixS16NE(streams, dst, int(spec.Channels), master)
	case U8:
		return mixU8(streams, dst, int(spec.Channels), master)
	case Float32NE:
		return mixFloat32NE(streams, dst, int(spec.Channels), master)
	}
	panic(fmt.Sprintf("sample: mix: unsupported sample format %s", spec.Format))
}

func mixS16NE(streams []MixInfo, dst []byte, channels int, master CVolume) int {
	datas := make([][]byte, len(streams))
	for i := range streams {
		datas[i] = streams[i].Chunk.Bytes()
	}

	channel := 0
	for d := 0; ; d += 2 {
		if d+2 > len(dst) {
			return d
		}

		var sum int64
		for i := range streams {
			if d+2 > len(datas[i]) {
				return d
			}

			cv := streams[i].Volume.Values[channel]
			var v int64
			if cv != VolumeMuted {
				v = int64(readS16NE(datas[i][d:]))
				if cv != VolumeNorm {
					v = v * int64(cv) / int64(VolumeNorm)
				}
			}
			sum += v
		}

		switch mv := master.Values[channel]; mv {
		case VolumeMuted:
			sum = 0
		case VolumeNorm:
		default:
			sum = sum * int64(mv) / int64(VolumeNorm)
		}

		if sum < -0x8000 {
			sum = -0x8000
		}
		if sum > 0x7FFF {
			sum = 0x7FFF
		}
		putS16NE(dst[d:], int16(sum))

		if channel++; channel >= channels {
			channel = 0
		}
	}
}

func mixU8(streams []MixInfo, dst []byte, channels int, master CVolume) int {
	datas := make([][]byte, len(streams))
	for i := range streams {
		datas[i] = streams[i].Chunk.Bytes()
	}

	channel := 0
	for d := 0; ; d++ {
		if d >= len(dst) {
			return d
		}

		var sum int64
		for i := range streams {
			if d >= len(datas[i]) {
				return d
			}

			cv := streams[i].Volume.Values[channel]
			var v int64
			if cv != VolumeMuted {
				v = int64(datas[i][d]) - 0x80
				if cv != VolumeNorm {
					v = v * int64(cv) / int64(VolumeNorm)
				}
			}
			sum += v
		}

		switch mv := master.Values[channel]; mv {
		case VolumeMuted:
			sum = 0
		case VolumeNorm:
		default:
			sum = sum * int64(mv) / int64(VolumeNorm)
		}

		if sum < -0x80 {
			sum = -0x80
		}
		if sum > 0x7F {
			sum = 0x7F
		}
		dst[d] = byte(sum + 0x80)

		if channel++; channel >= channels {
			channel = 0
		}
	}
}

func mixFloat32NE(streams []MixInfo, dst []byte, channels int, master CVolume) int {
	datas := make([][]byte, len(streams))
	for i := range streams {
		datas[i] = streams[i].Chunk.Bytes()
	}

	channel := 0
	for d := 0; ; d += 4 {
		if d+4 > len(dst) {
			return d
		}

		var sum float32
		for i := range streams {
			if d+4 > len(datas[i]) {
				return d
			}

			cv := streams[i].Volume.Values[channel]
			var v float32
			if cv != VolumeMuted {
				v = readFloat32NE(datas[i][d:])
				if cv != VolumeNorm {
					v = v * float32(cv) / float32(VolumeNorm)
				}
			}
			sum += v
		}

		switch mv := master.Values[channel]; mv {
		case VolumeMuted:
			sum = 0
		case VolumeNorm:
		default:
			sum = sum * float32(mv) / float32(VolumeNorm)
		}

		if sum < -1 {
			sum = -1
		}
		if sum > 1 {
			sum = 1
		}
		putFloat32NE(dst[d:], sum)

		if channel++; channel >= channels {
			channel = 0
		}
	}
}
