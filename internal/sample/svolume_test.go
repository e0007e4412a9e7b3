package sample

import (
	"bytes"
	"math"
	"math/rand"
	"testing"

	"github.com/mixerd/mixerd/internal/memblock"
)

func TestVolumeChunkNormFastPath(t *testing.T) {
	pool := memblock.NewPool()
	spec := Spec{Format: S16NE, Channels: 2, Rate: 44100}

	c := s16Chunk(pool, []int16{1, 2, 3, 4})
	before := append([]byte(nil), c.Bytes()...)

	VolumeChunk(c, spec, CVolumeNorm(2))

	if !bytes.Equal(c.Bytes(), before) {
		t.Error("unity volume modified the chunk")
	}
}

func TestVolumeChunkMutedFastPath(t *testing.T) {
	pool := memblock.NewPool()
	spec := Spec{Format: S16NE, Channels: 2, Rate: 44100}

	c := s16Chunk(pool, []int16{1, 2, 3, 4})
	VolumeChunk(c, spec, CVolumeMuted(2))

	silence := make([]byte, c.Length)
	Silence(silence, spec)
	if !bytes.Equal(c.Bytes(), silence) {
		t.Error("muted volume did not silence the chunk")
	}
}

// TestVolumeChunkChannelRotation pins the per-sample channel rotation:
// each interleaved sample is scaled by its own channel's volume.
func TestVolumeChunkChannelRotation(t *testing.T) {
	pool := memblock.NewPool()
	spec := Spec{Format: S16NE, Channels: 2, Rate: 44100}

	c := s16Chunk(pool, []int16{0x1000, 0x1000, 0x1000, 0x1000})
	cv := CVolume{Channels: 2, Values: [MaxChannels]Volume{VolumeNorm / 2, VolumeNorm / 4}}
	VolumeChunk(c, spec, cv)

	want := []int16{0x0800, 0x0400, 0x0800, 0x0400}
	for i, w := range want {
		if got := readS16NE(c.Bytes()[2*i:]); got != w {
			t.Errorf("sample %d = %#x, want %#x", i, got, w)
		}
	}
}

func TestVolumeChunkSaturates(t *testing.T) {
	pool := memblock.NewPool()
	spec := Spec{Format: S16NE, Channels: 1, Rate: 8000}

	c := s16Chunk(pool, []int16{0x7000, -0x7000})
	VolumeChunk(c, spec, CVolumeSet(1, VolumeNorm*4))

	if got := readS16NE(c.Bytes()); got != 0x7FFF {
		t.Errorf("amplified positive sample = %#x, want 0x7FFF", got)
	}
	if got := readS16NE(c.Bytes()[2:]); got != -0x8000 {
		t.Errorf("amplified negative sample = %#x, want -0x8000", got)
	}
}

func TestVolumeChunkU8(t *testing.T) {
	pool := memblock.NewPool()
	spec := Spec{Format: U8, Channels: 1, Rate: 8000}

	b := pool.New(3)
	copy(b.Bytes(), []byte{0x80, 0xC0, 0x40}) // 0, +64, -64
	c := memblock.NewChunk(b)

	VolumeChunk(c, spec, CVolumeSet(1, VolumeNorm/2))

	want := []byte{0x80, 0xA0, 0x60} // 0, +32, -32
	if !bytes.Equal(c.Bytes(), want) {
		t.Errorf("u8 half volume: got % x, want % x", c.Bytes(), want)
	}
}

// Mirrors the reference CPU equivalence tests: random buffers of 1022
// samples across 2 channels with random per-channel volumes, the
// optimized kernel must match the scalar one byte for byte.
func TestVolumeScalarStridedEquivalence(t *testing.T) {
	const (
		channels = 2
		samples  = 1022
	)
	rng := rand.New(rand.NewSource(0x5eed))

	for round := 0; round < 50; round++ {
		ref := make([]byte, samples*2)
		rng.Read(ref)
		opt := append([]byte(nil), ref...)

		volumes := make([]int32, channels)
		for i := range volumes {
			volumes[i] = int32(Volume(rng.Uint32() % uint32(VolumeMax)).Clamp())
		}
		// Exercise the hoisted special cases too.
		switch round % 5 {
		case 1:
			volumes[0] = int32(VolumeNorm)
		case 2:
			volumes[1] = int32(VolumeMuted)
		}

		svolumeS16NERef(ref, volumes, channels)
		svolumeS16NEStrided(opt, volumes, channels)

		if !bytes.Equal(ref, opt) {
			for i := 0; i < samples; i++ {
				r := readS16NE(ref[2*i:])
				o := readS16NE(opt[2*i:])
				if r != o {
					t.Fatalf("round %d: sample %d: strided %#04x != scalar %#04x (volume %#x)",
						round, i, uint16(o), uint16(r), volumes[i%channels])
				}
			}
		}
	}
}

// Random floats slightly beyond full scale: scalar and optimized
// converters must agree byte for byte.
func TestConvertFloat32ToS16Equivalence(t *testing.T) {
	const samples = 1022
	rng := rand.New(rand.NewSource(0xf10a7))

	src := make([]float32, samples)
	for i := range src {
		src[i] = 2.1 * (rng.Float32() - 0.5)
	}

	ref := make([]int16, samples)
	opt := make([]int16, samples)
	sconvFloat32ToS16NERef(src, ref)
	sconvFloat32ToS16NEUnrolled(src, opt)

	for i := range ref {
		if ref[i] != opt[i] {
			t.Fatalf("sample %d: unrolled %#04x != scalar %#04x (%f)",
				i, uint16(opt[i]), uint16(ref[i]), src[i])
		}
	}
}

func TestConvertFloat32ToS16Clamps(t *testing.T) {
	src := []float32{2, -2, 1, -1, 0, float32(math.Inf(1)), float32(math.Inf(-1))}
	dst := make([]int16, len(src))
	sconvFloat32ToS16NERef(src, dst)

	want := []int16{0x7FFF, -0x7FFF, 0x7FFF, -0x7FFF, 0, 0x7FFF, -0x7FFF}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, dst[i], want[i])
		}
	}
}

func TestInstallOptimizedSwapsTables(t *testing.T) {
	// Restore the scalar references afterwards so test order does not
	// matter.
	defer SetVolumeFunc(S16NE, svolumeS16NERef)
	defer SetConvertFromFloat32NEFunc(S16NE, sconvFloat32ToS16NERef)

	InstallOptimized(nil)

	// The installed kernel must still agree with the reference.
	buf := []byte{0x00, 0x40, 0x00, 0x20} // 0x4000, 0x2000
	ref := append([]byte(nil), buf...)
	volumes := []int32{int32(VolumeNorm / 2), int32(VolumeNorm / 2)}

	VolumeFuncFor(S16NE)(buf, volumes, 2)
	svolumeS16NERef(ref, volumes, 2)

	if !bytes.Equal(buf, ref) {
		t.Error("installed optimized kernel disagrees with scalar reference")
	}
}
