package allocation

import (
	"github.com/m-mizutani/goerr/v2"
)

// Tier maps an inclusive range of generated totals to a target size
type Tier struct {
	Min    int `json:"min" yaml:"min" toml:"min"`
	Max    int `json:"max" yaml:"max" toml:"max"`
	Target int `json:"target" yaml:"target" toml:"target"`
}

// Policy is the target-size staircase. Totals outside every tier are not trimmed.
type Policy []Tier

// DefaultPolicy returns the staircase used by the debate frontend:
// <=6 keep all, 7-14 -> 6, 15-28 -> 14, 29-77 -> 21, 78-136 -> 28, >136 keep all.
func DefaultPolicy() Policy {
	return Policy{
		{Min: 7, Max: 14, Target: 6},
		{Min: 15, Max: 28, Target: 14},
		{Min: 29, Max: 77, Target: 21},
		{Min: 78, Max: 136, Target: 28},
	}
}

// TargetSize returns the target for total generated items
func (p Policy) TargetSize(total int) int {
	for _, tier := range p {
		if total >= tier.Min && total <= tier.Max {
			return min(tier.Target, total)
		}
	}
	return total
}

// Validate checks tiers are well formed and do not overlap
func (p Policy) Validate() error {
	for i, tier := range p {
		if tier.Min > tier.Max {
			return goerr.New("tier min is greater than max", goerr.V("index", i), goerr.V("tier", tier))
		}
		if tier.Target < 0 {
			return goerr.New("tier target is negative", goerr.V("index", i), goerr.V("tier", tier))
		}
		for j := range i {
			other := p[j]
			if tier.Min <= other.Max && other.Min <= tier.Max {
				return goerr.New("tiers overlap", goerr.V("index", i), goerr.V("other", j))
			}
		}
	}
	return nil
}
