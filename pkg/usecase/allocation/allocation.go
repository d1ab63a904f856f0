package allocation

import (
	"context"
	"math"
	"slices"

	"github.com/m-mizutani/prism/pkg/model"
	"github.com/m-mizutani/prism/pkg/utils/logging"
)

const (
	LeftistThreshold  = 0.428
	RightistThreshold = 0.571
)

// Classify places a bias_x into a category using fixed thresholds
func Classify(biasX float64) model.Category {
	switch {
	case biasX < LeftistThreshold:
		return model.CategoryLeftist
	case biasX > RightistThreshold:
		return model.CategoryRightist
	default:
		return model.CategoryCommon
	}
}

// Allocator trims a generated set to a target size while keeping category balance
type Allocator struct {
	policy Policy
}

type Option func(*Allocator)

// WithPolicy replaces the target-size staircase
func WithPolicy(policy Policy) Option {
	return func(a *Allocator) {
		a.policy = policy
	}
}

func New(opts ...Option) *Allocator {
	a := &Allocator{policy: DefaultPolicy()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var defaultAllocator = New()

// DetermineTargetSize returns the target for total using the default policy
func DetermineTargetSize(total int) int {
	return defaultAllocator.policy.TargetSize(total)
}

// Distribute allocates perspectives with the default policy
func Distribute(perspectives []model.Perspective) (*model.Pools, *model.AllocationSummary) {
	return defaultAllocator.Distribute(context.Background(), perspectives)
}

// DetermineTargetSize returns the target for total using the allocator's policy
func (a *Allocator) DetermineTargetSize(total int) int {
	return a.policy.TargetSize(total)
}

// Distribute classifies perspectives and, when the total is above target, keeps a proportional
// number per category ranked by significance_y. The result is deterministic for identical input.
func (a *Allocator) Distribute(ctx context.Context, perspectives []model.Perspective) (*model.Pools, *model.AllocationSummary) {
	pools := model.Pools{
		Leftist:  []model.Perspective{},
		Common:   []model.Perspective{},
		Rightist: []model.Perspective{},
	}
	for _, p := range perspectives {
		c := Classify(p.BiasX)
		pools.Set(c, append(pools.Get(c), p))
	}

	total := pools.Total()
	target := a.policy.TargetSize(total)
	sizes := countPools(&pools)

	summary := &model.AllocationSummary{
		TotalGenerated: total,
		TargetSize:     target,
		CategoryCounts: sizes,
	}

	if target >= total {
		summary.PoolCounts = countPools(&pools)
		summary.Allocations = countPools(&pools)
		summary.DistributionSource = model.DistributionSourceDirect
		return &pools, summary
	}

	quotas := computeQuotas(sizes, total, target)

	var selected model.Pools
	for _, c := range model.Categories() {
		selected.Set(c, selectTop(pools.Get(c), quotas[c]))
	}

	summary.PoolCounts = countPools(&selected)
	summary.Allocations = quotas
	summary.Shortfall = max(0, target-selected.Total())
	summary.DistributionSource = model.DistributionSourceStratified

	logging.From(ctx).Debug("allocated perspectives",
		"total", total,
		"target", target,
		"allocations", quotas,
		"shortfall", summary.Shortfall)

	return &selected, summary
}

func countPools(pools *model.Pools) map[model.Category]int {
	counts := make(map[model.Category]int, 3)
	for _, c := range model.Categories() {
		counts[c] = len(pools.Get(c))
	}
	return counts
}

// computeQuotas returns per-category quotas proportional to pool size, reconciled to sum to
// target whenever capacity allows. Rounding is half-to-even.
func computeQuotas(sizes map[model.Category]int, total, target int) map[model.Category]int {
	quotas := make(map[model.Category]int, 3)
	sum := 0
	for _, c := range model.Categories() {
		q := int(math.RoundToEven(float64(sizes[c]) / float64(total) * float64(target)))
		q = min(q, sizes[c])
		quotas[c] = q
		sum += q
	}

	for sum > target {
		c, ok := pick(sizes, func(c model.Category) int { return quotas[c] })
		if !ok {
			break
		}
		quotas[c]--
		sum--
	}

	for sum < target {
		c, ok := pick(sizes, func(c model.Category) int { return sizes[c] - quotas[c] })
		if !ok {
			break
		}
		quotas[c]++
		sum++
	}

	return quotas
}

// pick returns the category with the largest positive score. Ties go to the larger pool,
// then to the order of model.Categories.
func pick(sizes map[model.Category]int, score func(model.Category) int) (model.Category, bool) {
	var best model.Category
	found := false
	for _, c := range model.Categories() {
		s := score(c)
		if s <= 0 {
			continue
		}
		if !found || s > score(best) || (s == score(best) && sizes[c] > sizes[best]) {
			best = c
			found = true
		}
	}
	return best, found
}

// selectTop keeps the n items with the highest significance_y. Ties keep input order, and the
// survivors are returned in input order.
func selectTop(items []model.Perspective, n int) []model.Perspective {
	if n <= 0 {
		return []model.Perspective{}
	}
	if n >= len(items) {
		return slices.Clone(items)
	}

	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case items[a].SignificanceY > items[b].SignificanceY:
			return -1
		case items[a].SignificanceY < items[b].SignificanceY:
			return 1
		}
		return 0
	})

	keep := order[:n]
	slices.Sort(keep)

	selected := make([]model.Perspective, 0, n)
	for _, i := range keep {
		selected = append(selected, items[i])
	}
	return selected
}
