package core

import "math"

// AllTimeVarying is the default time-varying mask: every attribute is written
// as a time sample.
const AllTimeVarying = ^uint64(0)

// ResolveTime picks the time coordinate of a write: a per-reference override,
// then the object's own time, then the world time. NaN means unset.
func ResolveTime(refOverride, objectOwn, world float64) float64 {
	switch {
	case !math.IsNaN(refOverride):
		return refOverride
	case !math.IsNaN(objectOwn):
		return objectOwn
	default:
		return world
	}
}

// TimeVarying reports whether bit is set in mask. A negative bit marks an
// attribute that is always written as a default.
func TimeVarying(mask uint64, bit int) bool {
	if bit < 0 || bit >= 64 {
		return false
	}
	return mask&(uint64(1)<<uint(bit)) != 0
}
