package perspective

import (
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/prism/pkg/model"
)

func TestParseCandidates(t *testing.T) {
	t.Run("plain array", func(t *testing.T) {
		got, err := parseCandidates(`[{"text": "a", "bias_x": 0.5, "significance_y": 0.2}]`)
		gt.NoError(t, err)
		gt.A(t, got).Length(1)
		gt.Equal(t, got[0].Text, "a")
		gt.Equal(t, *got[0].BiasX, 0.5)
		gt.Equal(t, *got[0].SignificanceY, 0.2)
	})

	t.Run("fenced with prose", func(t *testing.T) {
		raw := "Sure, here they are:\n```json\n[{\"text\": \"a\", \"bias_x\": \"0.25\"}, {\"text\": \"b\"}]\n```\n"
		got, err := parseCandidates(raw)
		gt.NoError(t, err)
		gt.A(t, got).Length(2)
		gt.Equal(t, *got[0].BiasX, 0.25)
		gt.True(t, got[1].BiasX == nil)
		gt.True(t, got[1].SignificanceY == nil)
	})

	t.Run("not an array", func(t *testing.T) {
		_, err := parseCandidates(`{"text": "a"}`)
		gt.True(t, errors.Is(err, model.ErrParse))
	})

	t.Run("broken json", func(t *testing.T) {
		_, err := parseCandidates(`[{"text": "a",]`)
		gt.True(t, errors.Is(err, model.ErrParse))
	})
}

func TestCheckCandidate(t *testing.T) {
	slot := model.ScaffoldSlot{Index: 3, Color: model.ColorGreen, BiasX: 0.5}
	ptr := func(f float64) *float64 { return &f }

	t.Run("accepted sets slot bias and keeps significance", func(t *testing.T) {
		seen := newTextSet()
		o := checkCandidate(slot, candidate{Text: "  hello  ", BiasX: ptr(0.505), SignificanceY: ptr(0.9)}, seen)
		gt.Equal(t, o.Kind, OutcomeAccepted)
		gt.Equal(t, o.Perspective.Text, "hello")
		gt.Equal(t, o.Perspective.BiasX, 0.5)
		gt.Equal(t, o.Perspective.SignificanceY, 0.9)
		gt.Equal(t, o.Perspective.Color, model.ColorGreen)
		gt.True(t, seen.Has("hello"))
	})

	t.Run("missing bias is accepted and significance falls back", func(t *testing.T) {
		o := checkCandidate(slot, candidate{Text: "x", SignificanceY: ptr(1.7)}, newTextSet())
		gt.Equal(t, o.Kind, OutcomeAccepted)
		gt.Equal(t, o.Perspective.SignificanceY, 0.5)
	})

	t.Run("empty text", func(t *testing.T) {
		o := checkCandidate(slot, candidate{Text: " "}, newTextSet())
		gt.Equal(t, o.Kind, OutcomeNeedsRepair)
		gt.True(t, errors.Is(o.Reason, model.ErrValidation))
	})

	t.Run("misplaced bias", func(t *testing.T) {
		o := checkCandidate(slot, candidate{Text: "x", BiasX: ptr(0.7)}, newTextSet())
		gt.Equal(t, o.Kind, OutcomeNeedsRepair)
	})

	t.Run("duplicate is case sensitive", func(t *testing.T) {
		seen := newTextSet()
		seen.Add("Hello")
		gt.Equal(t, checkCandidate(slot, candidate{Text: "Hello"}, seen).Kind, OutcomeNeedsRepair)
		gt.Equal(t, checkCandidate(slot, candidate{Text: "hello"}, seen).Kind, OutcomeAccepted)
	})
}

func TestValidateGroup(t *testing.T) {
	group := []model.ScaffoldSlot{
		{Index: 0, Color: model.ColorRed, BiasX: 0},
		{Index: 1, Color: model.ColorRed, BiasX: 0.1},
		{Index: 2, Color: model.ColorRed, BiasX: 0.2},
	}

	seen := newTextSet()
	outcomes := validateGroup(group, []candidate{{Text: "a"}, {Text: "a"}}, seen)
	gt.A(t, outcomes).Length(3)
	gt.Equal(t, outcomes[0].Kind, OutcomeAccepted)
	gt.Equal(t, outcomes[1].Kind, OutcomeNeedsRepair)
	gt.Equal(t, outcomes[2].Kind, OutcomeNeedsRepair)
	gt.Equal(t, seen.Len(), 1)
}

func TestFallbackPerspective(t *testing.T) {
	seen := newTextSet()
	slot := model.ScaffoldSlot{Index: 4, Color: model.ColorBlue, BiasX: 0.5}

	first := fallbackPerspective("X", slot, seen)
	gt.S(t, first.Text).Contains("blue")
	gt.S(t, first.Text).Contains("#4")
	gt.Equal(t, first.BiasX, 0.5)
	gt.True(t, seen.Has(first.Text))

	second := fallbackPerspective("X", slot, seen)
	gt.NotEqual(t, first.Text, second.Text)
}

func TestBuildColorPrompt(t *testing.T) {
	group := []model.ScaffoldSlot{
		{Index: 0, Color: model.ColorRed, BiasX: 0},
		{Index: 1, Color: model.ColorRed, BiasX: 0.125},
	}

	prompt, err := buildColorPrompt("Cities should ban cars", group, []string{"earlier view"})
	gt.NoError(t, err)
	gt.S(t, prompt).Contains("Cities should ban cars")
	gt.S(t, prompt).Contains("- color: red, bias_x: 0.1250")
	gt.S(t, prompt).Contains("- earlier view")

	prompt, err = buildColorPrompt("S", group, nil)
	gt.NoError(t, err)
	gt.S(t, prompt).NotContains("Already generated")
}
