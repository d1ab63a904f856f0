package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/prism/pkg/model"
	"github.com/m-mizutani/prism/pkg/usecase/pipeline"
)

func TestExtractRequest(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name         string
		payload      map[string]any
		statement    string
		significance float64
	}{
		{"statement", map[string]any{"statement": "A", "significance": 0.3}, "A", 0.3},
		{"text alias", map[string]any{"text": " B ", "significance_score": 0.4}, "B", 0.4},
		{"input alias", map[string]any{"input": "C"}, "C", model.DefaultSignificance},
		{"topic alias", map[string]any{"topic": "D", "significance": "0.2"}, "D", 0.2},
		{"score wins", map[string]any{"topic": "E", "significance_score": 0.1, "significance": 0.9}, "E", 0.1},
		{"unparsable", map[string]any{"text": "F", "significance": "high"}, "F", model.DefaultSignificance},
		{"null score", map[string]any{"text": "G", "significance_score": nil, "significance": 0.5}, "G", 0.5},
		{"clamped high", map[string]any{"text": "H", "significance": 4}, "H", 1},
		{"clamped low", map[string]any{"text": "I", "significance": -1.5}, "I", 0},
		{"json number", map[string]any{"text": "J", "significance": json.Number("0.25")}, "J", 0.25},
		{"first non-empty", map[string]any{"statement": "", "text": "K"}, "K", model.DefaultSignificance},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := pipeline.ExtractRequest(ctx, tc.payload)
			gt.NoError(t, err)
			gt.Equal(t, req.Statement, tc.statement)
			gt.Equal(t, req.Significance, tc.significance)
		})
	}

	t.Run("missing statement", func(t *testing.T) {
		_, err := pipeline.ExtractRequest(ctx, map[string]any{"significance": 0.5})
		gt.True(t, errors.Is(err, model.ErrInvalidRequest))
	})

	t.Run("non-string statement", func(t *testing.T) {
		_, err := pipeline.ExtractRequest(ctx, map[string]any{"text": 42})
		gt.True(t, errors.Is(err, model.ErrInvalidRequest))
	})
}
