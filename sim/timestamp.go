package sim

import (
	"fmt"
	"math"
)

// Timestamp counts simulation time units (ticks) since the epoch.
type Timestamp int64

const (
	// TSZero is the epoch, also used as the "not yet set" value.
	TSZero Timestamp = 0
	// TSNever means no further event is requested.
	TSNever Timestamp = math.MaxInt64
	// TSInvalid means the phase call failed unrecoverably.
	TSInvalid Timestamp = -1
)

// IsNever reports whether t is the TSNever sentinel.
func (t Timestamp) IsNever() bool { return t == TSNever }

// IsValid reports whether t is an ordinary instant or TSNever.
func (t Timestamp) IsValid() bool { return t >= TSZero }

func (t Timestamp) String() string {
	switch {
	case t == TSNever:
		return "NEVER"
	case t == TSInvalid:
		return "INVALID"
	case t < TSZero:
		return fmt.Sprintf("INVALID(%d)", int64(t))
	default:
		return fmt.Sprintf("%d", int64(t))
	}
}

// MinTimestamp returns the earlier of a and b.
func MinTimestamp(a, b Timestamp) Timestamp {
	if a < b {
		return a
	}
	return b
}
