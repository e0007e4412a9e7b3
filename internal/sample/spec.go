package sample

import (
	"fmt"

	"github.com/mixerd/mixerd/internal/rtclock"
)

// MaxChannels is the highest channel count a sample spec may carry.
const MaxChannels = 32

// Spec describes a PCM stream: format, channel count and sample rate.
type Spec struct {
	Format   Format
	Channels uint8
	Rate     uint32
}

// Valid reports whether the spec is usable. Channels must be in 1..32
// and the rate positive.
func (s Spec) Valid() error {
	if !s.Format.Valid() {
		return fmt.Errorf("invalid sample format %d", uint8(s.Format))
	}
	if s.Channels < 1 || s.Channels > MaxChannels {
		return fmt.Errorf("channel count %d out of range 1..%d", s.Channels, MaxChannels)
	}
	if s.Rate == 0 {
		return fmt.Errorf("sample rate must be positive")
	}
	return nil
}

// FrameSize returns the number of bytes one frame (one sample per
// channel) occupies.
func (s Spec) FrameSize() int {
	return s.Format.Size() * int(s.Channels)
}

// BytesPerSecond returns the byte rate of the stream.
func (s Spec) BytesPerSecond() int {
	return s.FrameSize() * int(s.Rate)
}

// UsecToBytes converts a duration to a byte count, rounded down to a
// whole number of frames.
func (s Spec) UsecToBytes(u rtclock.Usec) int {
	if u < 0 {
		return 0
	}
	n := int(int64(u) * int64(s.BytesPerSecond()) / int64(rtclock.UsecPerSec))
	fs := s.FrameSize()
	return n - n%fs
}

// BytesToUsec converts a byte count to the wall-clock duration it
// covers at this spec's rate.
func (s Spec) BytesToUsec(n int) rtclock.Usec {
	if n < 0 {
		return 0
	}
	return rtclock.Usec(int64(n) * int64(rtclock.UsecPerSec) / int64(s.BytesPerSecond()))
}

func (s Spec) String() string {
	return fmt.Sprintf("%s %dch %dHz", s.Format, s.Channels, s.Rate)
}

// Equal reports whether two specs are identical.
func (s Spec) Equal(o Spec) bool {
	return s.Format == o.Format && s.Channels == o.Channels && s.Rate == o.Rate
}
