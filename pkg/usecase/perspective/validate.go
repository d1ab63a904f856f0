package perspective

import (
	"fmt"
	"math"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/prism/pkg/model"
)

// biasTolerance is how far a reported bias_x may drift from its slot before the candidate
// is treated as misplaced
const biasTolerance = 0.01

// OutcomeKind tags the result of checking one slot
type OutcomeKind int

const (
	OutcomeAccepted OutcomeKind = iota
	OutcomeNeedsRepair
	OutcomeFallback
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeNeedsRepair:
		return "needs_repair"
	case OutcomeFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Outcome is the per-slot result of validation and repair.
// Perspective is set for Accepted, Candidate and Reason for NeedsRepair.
type Outcome struct {
	Kind        OutcomeKind
	Slot        model.ScaffoldSlot
	Perspective model.Perspective
	Candidate   candidate
	Reason      error
	Repaired    bool
}

// textSet is the de-duplication set of a run. Insertion order is kept so prompts are stable.
type textSet struct {
	index map[string]struct{}
	order []string
}

func newTextSet() *textSet {
	return &textSet{index: make(map[string]struct{})}
}

func (s *textSet) Has(text string) bool {
	_, ok := s.index[text]
	return ok
}

func (s *textSet) Add(text string) {
	if s.Has(text) {
		return
	}
	s.index[text] = struct{}{}
	s.order = append(s.order, text)
}

func (s *textSet) List() []string {
	return s.order
}

func (s *textSet) Len() int {
	return len(s.order)
}

// checkCandidate validates a candidate against its slot. Accepted texts are added to seen so
// that later candidates in the same batch cannot repeat them.
func checkCandidate(slot model.ScaffoldSlot, c candidate, seen *textSet) Outcome {
	text := strings.TrimSpace(c.Text)

	var reason error
	switch {
	case text == "":
		reason = goerr.Wrap(model.ErrValidation, "text is empty")
	case c.BiasX != nil && math.Abs(*c.BiasX-slot.BiasX) > biasTolerance:
		reason = goerr.Wrap(model.ErrValidation, "bias_x does not match slot",
			goerr.V("expected", slot.BiasX),
			goerr.V("actual", *c.BiasX))
	case seen.Has(text):
		reason = goerr.Wrap(model.ErrValidation, "duplicated text", goerr.V("text", text))
	}

	if reason != nil {
		return Outcome{Kind: OutcomeNeedsRepair, Slot: slot, Candidate: c, Reason: reason}
	}

	seen.Add(text)
	return Outcome{
		Kind: OutcomeAccepted,
		Slot: slot,
		Perspective: model.Perspective{
			Text:          text,
			BiasX:         slot.BiasX,
			SignificanceY: significanceFor(slot, c),
			Color:         slot.Color,
		},
	}
}

// validateGroup maps candidates to slots by position. Extra candidates are ignored and
// slots without a candidate need repair.
func validateGroup(group []model.ScaffoldSlot, candidates []candidate, seen *textSet) []Outcome {
	outcomes := make([]Outcome, len(group))
	for i, slot := range group {
		if i >= len(candidates) {
			outcomes[i] = Outcome{
				Kind:   OutcomeNeedsRepair,
				Slot:   slot,
				Reason: goerr.Wrap(model.ErrValidation, "no candidate for slot", goerr.V("index", slot.Index)),
			}
			continue
		}
		outcomes[i] = checkCandidate(slot, candidates[i], seen)
	}
	return outcomes
}

func significanceFor(slot model.ScaffoldSlot, c candidate) float64 {
	if c.SignificanceY != nil && *c.SignificanceY >= 0 && *c.SignificanceY <= 1 {
		return *c.SignificanceY
	}
	return 1 - slot.BiasX
}

// fallbackPerspective synthesizes a perspective from the slot alone. The text embeds color
// and index so it is unique within a run; a numeric suffix is added on the unlikely collision
// with a generated text.
func fallbackPerspective(statement string, slot model.ScaffoldSlot, seen *textSet) model.Perspective {
	text := fmt.Sprintf("[%s #%d] A viewpoint on %q positioned at bias %.3f on the spectrum.",
		slot.Color, slot.Index, statement, slot.BiasX)
	for i := 2; seen.Has(text); i++ {
		text = fmt.Sprintf("[%s #%d-%d] A viewpoint on %q positioned at bias %.3f on the spectrum.",
			slot.Color, slot.Index, i, statement, slot.BiasX)
	}
	seen.Add(text)

	return model.Perspective{
		Text:          text,
		BiasX:         slot.BiasX,
		SignificanceY: 1 - slot.BiasX,
		Color:         slot.Color,
	}
}
