package perspective

import (
	"bytes"
	_ "embed"
	"strconv"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/prism/pkg/model"
)

//go:embed prompt/color.md
var colorPromptRaw string

//go:embed prompt/repair.md
var repairPromptRaw string

var (
	colorPromptTmpl  = template.Must(template.New("color").Parse(colorPromptRaw))
	repairPromptTmpl = template.Must(template.New("repair").Parse(repairPromptRaw))
)

type repairItem struct {
	Color               model.Color
	BiasX               float64
	CurrentText         string
	CurrentSignificance string
}

func buildColorPrompt(statement string, group []model.ScaffoldSlot, existing []string) (string, error) {
	if len(group) == 0 {
		return "", goerr.New("color group is empty")
	}

	var buf bytes.Buffer
	if err := colorPromptTmpl.Execute(&buf, map[string]any{
		"Statement": statement,
		"Slots":     group,
		"Existing":  existing,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute color prompt template")
	}
	return buf.String(), nil
}

func buildRepairPrompt(statement string, batch []Outcome, existing []string) (string, error) {
	items := make([]repairItem, 0, len(batch))
	for _, o := range batch {
		item := repairItem{
			Color:       o.Slot.Color,
			BiasX:       o.Slot.BiasX,
			CurrentText: o.Candidate.Text,
		}
		if o.Candidate.SignificanceY != nil {
			item.CurrentSignificance = strconv.FormatFloat(*o.Candidate.SignificanceY, 'f', -1, 64)
		}
		items = append(items, item)
	}

	var buf bytes.Buffer
	if err := repairPromptTmpl.Execute(&buf, map[string]any{
		"Statement": statement,
		"Items":     items,
		"Existing":  existing,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute repair prompt template")
	}
	return buf.String(), nil
}
