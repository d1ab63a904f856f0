package pipeline

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/prism/pkg/model"
	"github.com/m-mizutani/prism/pkg/usecase/perspective"
)

var (
	statementKeys    = []string{"statement", "text", "input", "topic"}
	significanceKeys = []string{"significance_score", "significance"}
)

// ExtractRequest reads a GenerationRequest from a loosely shaped payload. The statement may be
// named statement, text, input or topic. Significance may be named significance_score or
// significance; a missing or unparsable value becomes model.DefaultSignificance and an out of
// range value is clamped.
func ExtractRequest(ctx context.Context, payload map[string]any) (model.GenerationRequest, error) {
	var req model.GenerationRequest

	for _, key := range statementKeys {
		if s, ok := payload[key].(string); ok && strings.TrimSpace(s) != "" {
			req.Statement = strings.TrimSpace(s)
			break
		}
	}
	if req.Statement == "" {
		return req, goerr.Wrap(model.ErrInvalidRequest, "payload must include statement, text, input or topic")
	}

	req.Significance = model.DefaultSignificance
	for _, key := range significanceKeys {
		v, ok := payload[key]
		if !ok || v == nil {
			continue
		}
		if f, ok := parseSignificance(v); ok {
			req.Significance = f
		}
		break
	}

	req.Significance = perspective.NormalizeSignificance(ctx, req.Significance)
	return req, nil
}

func parseSignificance(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}
