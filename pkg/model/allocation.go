package model

// Category is the coarse bias classification used for downsampling
type Category string

const (
	CategoryLeftist  Category = "leftist"
	CategoryCommon   Category = "common"
	CategoryRightist Category = "rightist"
)

// Categories returns all categories in a fixed order. The order is also the final tie-breaker
// of the allocator.
func Categories() []Category {
	return []Category{CategoryLeftist, CategoryCommon, CategoryRightist}
}

// ParseCategory converts a string into a Category
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories() {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

const (
	DistributionSourceDirect     = "direct"
	DistributionSourceStratified = "stratified_selection"
)

// Pools holds perspectives per category
type Pools struct {
	Leftist  []Perspective `json:"leftist" firestore:"leftist"`
	Common   []Perspective `json:"common" firestore:"common"`
	Rightist []Perspective `json:"rightist" firestore:"rightist"`
}

// Get returns the pool for the category
func (p *Pools) Get(c Category) []Perspective {
	switch c {
	case CategoryLeftist:
		return p.Leftist
	case CategoryCommon:
		return p.Common
	case CategoryRightist:
		return p.Rightist
	default:
		return nil
	}
}

// Set replaces the pool for the category
func (p *Pools) Set(c Category, items []Perspective) {
	switch c {
	case CategoryLeftist:
		p.Leftist = items
	case CategoryCommon:
		p.Common = items
	case CategoryRightist:
		p.Rightist = items
	}
}

// Total returns the number of perspectives across all pools
func (p *Pools) Total() int {
	return len(p.Leftist) + len(p.Common) + len(p.Rightist)
}

// AllocationSummary reports how a generated set was trimmed. It is not mutated after creation.
type AllocationSummary struct {
	TotalGenerated     int              `json:"total_generated" firestore:"total_generated"`
	TargetSize         int              `json:"target_size" firestore:"target_size"`
	CategoryCounts     map[Category]int `json:"category_counts" firestore:"category_counts"`
	PoolCounts         map[Category]int `json:"pool_counts" firestore:"pool_counts"`
	Allocations        map[Category]int `json:"allocations" firestore:"allocations"`
	Shortfall          int              `json:"shortfall" firestore:"shortfall"`
	DistributionSource string           `json:"distribution_source" firestore:"distribution_source"`
	FallbackCount      int              `json:"fallback_count" firestore:"fallback_count"`
}

// SelectedTotal returns the number of perspectives that survived allocation
func (s *AllocationSummary) SelectedTotal() int {
	total := 0
	for _, n := range s.PoolCounts {
		total += n
	}
	return total
}
