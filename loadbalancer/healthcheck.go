package loadbalancer

import "time"

// HealthCheckConfig bundles the immutable health checking parameters. A nil
// *HealthCheckConfig disables health checking entirely: hosts are never
// probed, never transition to UNHEALTHY, and resubscribe never fires.
type HealthCheckConfig struct {
	// FailureThreshold is the number of consecutive connect failures that
	// quarantines an ACTIVE host. Must be >= 1.
	FailureThreshold int

	// ProbeInterval is the base delay between re-probes of an UNHEALTHY
	// host.
	ProbeInterval time.Duration

	// ProbeJitter adds up to this much uniformly-distributed extra delay
	// to each probe, so that hosts quarantined together don't retry in
	// lockstep.
	ProbeJitter time.Duration

	// ResubscribeLower/ResubscribeUpper bound the uniformly-distributed
	// backoff window before the load balancer is allowed to resubscribe
	// again after an all-unhealthy resubscribe.
	ResubscribeLower time.Duration
	ResubscribeUpper time.Duration

	// Clock is the time source used for probe scheduling and resubscribe
	// backoff. Required whenever health checking is enabled.
	Clock Clock
}

func (c *HealthCheckConfig) enabled() bool { return c != nil }

func (c *HealthCheckConfig) validate() error {
	if c == nil {
		return nil
	}
	if c.FailureThreshold < 1 {
		return errInvalidConfig("FailureThreshold must be >= 1")
	}
	if c.ProbeJitter < 0 {
		return errInvalidConfig("ProbeJitter must be >= 0")
	}
	if c.ResubscribeUpper < c.ResubscribeLower {
		return errInvalidConfig("ResubscribeUpper must be >= ResubscribeLower")
	}
	if c.Clock == nil {
		return errInvalidConfig("Clock is required when health checking is enabled")
	}
	return nil
}

type errInvalidConfig string

func (e errInvalidConfig) Error() string { return "loadbalancer: invalid config: " + string(e) }
