package retry

import "time"

// Policy controls retry eligibility and backoff shape. The queue and
// batch layers never do backoff math themselves; this is the single
// home of the formula.
type Policy struct {
	Name                string
	MaxRetries          int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	JitterFactor        float64 // symmetric, 0.10-0.25
	RetryableCategories []Category
}

// DefaultPolicy retries broadly with short delays. Suited to
// development and interactive use.
func DefaultPolicy() Policy {
	return Policy{
		Name:         "default",
		MaxRetries:   3,
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.25,
		RetryableCategories: []Category{
			CategoryNetwork,
			CategoryTimeout,
			CategoryRateLimit,
			CategoryServer,
			CategoryCircuitOpen,
			CategoryUnknown,
		},
	}
}

// CostSafePolicy retries less and waits longer. It excludes the
// rate-limit and server-overload categories so retries cannot compound
// provider cost during instability.
func CostSafePolicy() Policy {
	return Policy{
		Name:         "cost-safe",
		MaxRetries:   2,
		BaseDelay:    5 * time.Second,
		MaxDelay:     60 * time.Second,
		JitterFactor: 0.10,
		RetryableCategories: []Category{
			CategoryNetwork,
			CategoryTimeout,
			CategoryUnknown,
		},
	}
}

// PolicyByName resolves a configured policy name. Unrecognized names
// fall back to the default policy.
func PolicyByName(name string) Policy {
	switch name {
	case "cost-safe":
		return CostSafePolicy()
	default:
		return DefaultPolicy()
	}
}

// PolicyForEnvironment selects the active policy by deployment
// environment: production runs cost-safe, everything else default.
func PolicyForEnvironment(env string) Policy {
	if env == "production" {
		return CostSafePolicy()
	}
	return DefaultPolicy()
}

func (p Policy) allows(category Category) bool {
	for _, c := range p.RetryableCategories {
		if c == category {
			return true
		}
	}
	return false
}
