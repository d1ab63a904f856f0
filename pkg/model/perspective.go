package model

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Color is one of the seven fixed bands of the bias spectrum
type Color string

const (
	ColorRed    Color = "red"
	ColorOrange Color = "orange"
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
	ColorBlue   Color = "blue"
	ColorIndigo Color = "indigo"
	ColorViolet Color = "violet"
)

// Spectrum returns the colors in processing order (ascending bias)
func Spectrum() []Color {
	return []Color{
		ColorRed,
		ColorOrange,
		ColorYellow,
		ColorGreen,
		ColorBlue,
		ColorIndigo,
		ColorViolet,
	}
}

// DefaultSignificance is used when a request carries no usable significance
const DefaultSignificance = 0.7

// GenerationRequest is the input of one perspective generation run
type GenerationRequest struct {
	Statement    string  `json:"statement"`
	Significance float64 `json:"significance"`
}

// Validate checks that the request has a non-empty statement.
// Significance is not checked here; out of range values are clamped by the scaffold builder.
func (r *GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Statement) == "" {
		return goerr.Wrap(ErrInvalidRequest, "statement is empty")
	}
	return nil
}

// ScaffoldSlot is one (color, bias_x) target a run has to fill
type ScaffoldSlot struct {
	Index int     `json:"index"`
	Color Color   `json:"color"`
	BiasX float64 `json:"bias_x"`
}

// Perspective is a single generated viewpoint placed on the bias spectrum
type Perspective struct {
	Text          string  `json:"text" firestore:"text"`
	BiasX         float64 `json:"bias_x" firestore:"bias_x"`
	SignificanceY float64 `json:"significance_y" firestore:"significance_y"`
	Color         Color   `json:"color" firestore:"color"`
}

// GenerationResult is the output of generate_perspectives
type GenerationResult struct {
	Statement     string        `json:"statement"`
	Perspectives  []Perspective `json:"perspectives"`
	RepairedCount int           `json:"repaired_count"`
	FallbackCount int           `json:"fallback_count"`
}
