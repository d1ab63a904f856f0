package perspective

import (
	"context"
	"math"

	"github.com/m-mizutani/prism/pkg/model"
	"github.com/m-mizutani/prism/pkg/utils/logging"
)

// SlotCount returns ceil(128 * s^2.8 + 8) for a significance already within [0, 1]
func SlotCount(significance float64) int {
	return int(math.Ceil(128*math.Pow(significance, 2.8) + 8))
}

// NormalizeSignificance clamps significance into [0, 1]. NaN is replaced by
// model.DefaultSignificance. Both cases are logged as warnings.
func NormalizeSignificance(ctx context.Context, significance float64) float64 {
	switch {
	case math.IsNaN(significance):
		logging.From(ctx).Warn("significance is not a number, using default",
			"default", model.DefaultSignificance)
		return model.DefaultSignificance
	case significance < 0:
		logging.From(ctx).Warn("significance outside [0, 1], clamping", "significance", significance)
		return 0
	case significance > 1:
		logging.From(ctx).Warn("significance outside [0, 1], clamping", "significance", significance)
		return 1
	}
	return significance
}

// BuildScaffold computes the ordered (color, bias_x) slots for a significance score
func BuildScaffold(ctx context.Context, significance float64) []model.ScaffoldSlot {
	n := SlotCount(NormalizeSignificance(ctx, significance))
	return scaffoldOf(n)
}

func scaffoldOf(n int) []model.ScaffoldSlot {
	if n <= 0 {
		return nil
	}

	colors := model.Spectrum()
	base := n / len(colors)
	extra := n % len(colors)

	slots := make([]model.ScaffoldSlot, 0, n)
	idx := 0
	for band, color := range colors {
		size := base
		if band < extra {
			size++
		}
		for range size {
			slots = append(slots, model.ScaffoldSlot{
				Index: idx,
				Color: color,
				BiasX: biasAt(idx, n),
			})
			idx++
		}
	}

	return slots
}

func biasAt(i, n int) float64 {
	if n == 1 {
		return 0.5
	}
	return float64(i) / float64(n-1)
}

// GroupByColor splits a scaffold into contiguous color groups in spectrum order.
// Empty bands are omitted.
func GroupByColor(slots []model.ScaffoldSlot) [][]model.ScaffoldSlot {
	var groups [][]model.ScaffoldSlot
	for i, slot := range slots {
		if i == 0 || slots[i-1].Color != slot.Color {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], slot)
	}
	return groups
}
