package codec

import (
	"math"
	"time"

	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/errors"
)

const nanosPerSecond = 1_000_000_000

// Seconds between 0001-01-01 and the Unix epoch. time.Unix silently wraps
// for seconds beyond MaxInt64 minus this.
const unixToInternal int64 = 62135596800

// Time converters.
var (
	Timestamp = TimestampConverter{}
	Duration  = DurationConverter{}
)

// TimestampConverter encodes time.Time as seconds and nanoseconds relative
// to the Unix epoch. Instants before the epoch store the distance to the
// epoch with a negated seconds field.
type TimestampConverter struct{}

func (TimestampConverter) Read(r *buffer.Reader) (time.Time, error) {
	secs, err := r.ReadI64()
	if err != nil {
		return time.Time{}, err
	}
	nanos, err := r.ReadU32()
	if err != nil {
		return time.Time{}, err
	}
	if nanos >= nanosPerSecond {
		return time.Time{}, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Value(nanos).
			Detail("timestamp nanoseconds %d out of range", nanos).
			Build()
	}
	if secs > math.MaxInt64-unixToInternal || secs < math.MinInt64+unixToInternal+1 {
		return time.Time{}, errors.Overflow(nil, secs, "time.Time")
	}
	if secs >= 0 {
		return time.Unix(secs, int64(nanos)).UTC(), nil
	}
	return time.Unix(secs, -int64(nanos)).UTC(), nil
}

func (TimestampConverter) Write(w *buffer.Writer, v time.Time) error {
	secs := v.Unix()
	nanos := int64(v.Nanosecond())
	if secs < 0 {
		// distance to the epoch, as a magnitude
		if secs == math.MinInt64 {
			return errors.Overflow(nil, v, "timestamp")
		}
		secs = -secs
		if nanos > 0 {
			secs--
			nanos = nanosPerSecond - nanos
		}
		secs = -secs
	}
	if err := w.WriteI64(secs); err != nil {
		return err
	}
	return w.WriteU32(uint32(nanos))
}

// DurationConverter encodes non-negative time.Duration as seconds and
// nanoseconds. Negative durations cannot be represented.
type DurationConverter struct{}

func (DurationConverter) Read(r *buffer.Reader) (time.Duration, error) {
	secs, err := r.ReadI64()
	if err != nil {
		return 0, err
	}
	nanos, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if secs < 0 || nanos >= nanosPerSecond {
		return 0, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Detail("duration %ds %dns out of range", secs, nanos).
			Build()
	}
	if secs > (math.MaxInt64-int64(nanos))/nanosPerSecond {
		return 0, errors.Overflow(nil, secs, "time.Duration")
	}
	return time.Duration(secs*nanosPerSecond + int64(nanos)), nil
}

func (DurationConverter) Write(w *buffer.Writer, v time.Duration) error {
	if v < 0 {
		return errors.New(errors.PhaseValidate, errors.KindOverflow).
			Value(v).
			Detail("negative duration %s", v).
			Build()
	}
	if err := w.WriteI64(int64(v / nanosPerSecond)); err != nil {
		return err
	}
	return w.WriteU32(uint32(v % nanosPerSecond))
}
