package sandbox

// Limits bounds loop-local resource usage. The controller carries them in
// its state snapshot; enforcement is loop-local.
type Limits struct {
	MaxQueueDepth   int
	MaxMessageBytes int
	MaxLockHold     int // milliseconds a loop may hold the execution lock
}

// Policy names a limits preset.
type Policy string

const (
	PolicyRestricted Policy = "restricted"
	PolicyModerate   Policy = "moderate"
)

// RestrictedLimits is the fail-safe preset applied after repeated faults.
func RestrictedLimits() Limits {
	return Limits{
		MaxQueueDepth:   16,
		MaxMessageBytes: 4 * 1024,
		MaxLockHold:     50,
	}
}

// ModerateLimits is the default operating preset.
func ModerateLimits() Limits {
	return Limits{
		MaxQueueDepth:   256,
		MaxMessageBytes: 64 * 1024,
		MaxLockHold:     500,
	}
}

// LimitsFor maps a policy to its preset. Unknown policies get restricted.
func LimitsFor(p Policy) Limits {
	if p == PolicyModerate {
		return ModerateLimits()
	}
	return RestrictedLimits()
}
