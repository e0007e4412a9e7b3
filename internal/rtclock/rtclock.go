// Package rtclock provides the monotonic microsecond clock that the
// realtime device threads schedule against. All deadlines in the poll
// loop and all sink timestamps are expressed in these units.
package rtclock

import (
	"time"

	"golang.org/x/sys/unix"
)

// Usec is a point in time (or a duration) in microseconds on the
// monotonic clock. It never goes backwards and is unrelated to the
// wall clock.
type Usec int64

const (
	// UsecPerSec is the number of microseconds per second.
	UsecPerSec Usec = 1000000
	// UsecPerMsec is the number of microseconds per millisecond.
	UsecPerMsec Usec = 1000
)

// Now returns the current monotonic time in microseconds.
func Now() Usec {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// CLOCK_MONOTONIC is unconditionally available on the
		// platforms we run on; failure means a broken vDSO.
		panic("rtclock: clock_gettime(CLOCK_MONOTONIC): " + err.Error())
	}
	return Usec(ts.Sec)*UsecPerSec + Usec(ts.Nsec)/1000
}

// Timespec converts a microsecond duration into a unix.Timespec,
// suitable for handing to ppoll.
func (u Usec) Timespec() unix.Timespec {
	if u < 0 {
		u = 0
	}
	return unix.NsecToTimespec(int64(u) * 1000)
}

// Timeval converts a microsecond duration into a unix.Timeval.
func (u Usec) Timeval() unix.Timeval {
	if u < 0 {
		u = 0
	}
	return unix.NsecToTimeval(int64(u) * 1000)
}

// Duration converts to a time.Duration.
func (u Usec) Duration() time.Duration {
	return time.Duration(u) * time.Microsecond
}

// FromDuration converts a time.Duration to microseconds.
func FromDuration(d time.Duration) Usec {
	return Usec(d / time.Microsecond)
}
