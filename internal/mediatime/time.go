// Package mediatime provides exact rational presentation timestamps.
// A Time is Value/Scale seconds. Arithmetic and comparison never go through
// floating point, so long sessions do not accumulate drift.
package mediatime

import (
	"fmt"
	"math"
	"math/big"
	"time"
)

// NanosecondScale is the scale used by FromDuration.
const NanosecondScale int32 = 1_000_000_000

// DefaultScale is the preferred timescale for values built from seconds.
const DefaultScale int32 = 600

// Time is a rational stream-relative timestamp or duration.
// The zero value is invalid.
type Time struct {
	Value int64
	Scale int32
}

// Invalid is the zero Time.
var Invalid = Time{}

// Zero returns a valid zero Time with the given scale.
func Zero(scale int32) Time {
	return Time{Value: 0, Scale: scale}
}

// New returns Value/Scale seconds.
func New(value int64, scale int32) Time {
	return Time{Value: value, Scale: scale}
}

// FromDuration converts d to a Time with nanosecond scale.
func FromDuration(d time.Duration) Time {
	return Time{Value: int64(d), Scale: NanosecondScale}
}

// FromSeconds converts sec to the nearest tick of scale.
// Returns Invalid for a non-positive scale or a non-finite input.
func FromSeconds(sec float64, scale int32) Time {
	if scale <= 0 || math.IsNaN(sec) || math.IsInf(sec, 0) {
		return Invalid
	}
	return Time{Value: int64(math.Round(sec * float64(scale))), Scale: scale}
}

// IsValid reports whether t has a positive scale.
func (t Time) IsValid() bool {
	return t.Scale > 0
}

// Rat returns t as an exact rational number. t must be valid.
func (t Time) Rat() *big.Rat {
	return big.NewRat(t.Value, int64(t.Scale))
}

// Sub returns t - u. When the scales differ the result uses the larger one
// if the conversion is exact, otherwise the product of both scales when that
// fits in int32; as a last resort the value is rounded to the larger scale.
func (t Time) Sub(u Time) Time {
	return t.Add(Time{Value: -u.Value, Scale: u.Scale})
}

// Add returns t + u, following the same scale rules as Sub.
func (t Time) Add(u Time) Time {
	if !t.IsValid() || !u.IsValid() {
		return Invalid
	}
	if t.Scale == u.Scale {
		return Time{Value: t.Value + u.Value, Scale: t.Scale}
	}
	sum := new(big.Rat).Add(t.Rat(), u.Rat())
	return fromRat(sum, commonScale(t.Scale, u.Scale))
}

// Compare returns -1, 0 or +1 as t is before, equal to or after u.
// Invalid times sort before every valid time.
func (t Time) Compare(u Time) int {
	switch {
	case !t.IsValid() && !u.IsValid():
		return 0
	case !t.IsValid():
		return -1
	case !u.IsValid():
		return 1
	}
	if t.Scale == u.Scale {
		switch {
		case t.Value < u.Value:
			return -1
		case t.Value > u.Value:
			return 1
		}
		return 0
	}
	return t.Rat().Cmp(u.Rat())
}

// Before reports whether t < u.
func (t Time) Before(u Time) bool { return t.Compare(u) < 0 }

// After reports whether t > u.
func (t Time) After(u Time) bool { return t.Compare(u) > 0 }

// Seconds returns t in seconds for display. Not for comparisons.
func (t Time) Seconds() float64 {
	if !t.IsValid() {
		return math.NaN()
	}
	return float64(t.Value) / float64(t.Scale)
}

// Duration converts t to a time.Duration, truncating sub-nanosecond parts.
func (t Time) Duration() time.Duration {
	if !t.IsValid() {
		return 0
	}
	ns := new(big.Int).Mul(big.NewInt(t.Value), big.NewInt(int64(time.Second)))
	ns.Quo(ns, big.NewInt(int64(t.Scale)))
	if !ns.IsInt64() {
		if ns.Sign() < 0 {
			return time.Duration(math.MinInt64)
		}
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns.Int64())
}

// String formats t as "value/scale (seconds)".
func (t Time) String() string {
	if !t.IsValid() {
		return "invalid"
	}
	return fmt.Sprintf("%d/%d (%.6fs)", t.Value, t.Scale, t.Seconds())
}

// commonScale picks the scale used to represent a mixed-scale result.
func commonScale(a, b int32) int32 {
	hi, lo := a, b
	if lo > hi {
		hi, lo = lo, hi
	}
	if hi%lo == 0 {
		return hi
	}
	l := int64(hi) / gcd(int64(hi), int64(lo)) * int64(lo)
	if l <= math.MaxInt32 {
		return int32(l)
	}
	return hi
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// fromRat converts r to scale, rounding half away from zero when inexact.
func fromRat(r *big.Rat, scale int32) Time {
	num := new(big.Int).Mul(r.Num(), big.NewInt(int64(scale)))
	den := r.Denom()
	q, m := new(big.Int).QuoRem(num, den, new(big.Int))
	if m.Sign() != 0 {
		twice := new(big.Int).Mul(new(big.Int).Abs(m), big.NewInt(2))
		if twice.Cmp(den) >= 0 {
			if num.Sign() < 0 {
				q.Sub(q, big.NewInt(1))
			} else {
				q.Add(q, big.NewInt(1))
			}
		}
	}
	return Time{Value: q.Int64(), Scale: scale}
}
