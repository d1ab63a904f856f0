package perspective

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/prism/pkg/model"
)

// candidate is one raw item of a model response. Numeric fields are optional.
type candidate struct {
	Text          string
	BiasX         *float64
	SignificanceY *float64
}

// parseCandidates extracts the outermost JSON array from a model response, tolerating
// markdown fences and surrounding prose.
func parseCandidates(raw string) ([]candidate, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end < start {
		return nil, goerr.Wrap(model.ErrParse, "no JSON array found in response",
			goerr.V("response", truncate(raw, 200)))
	}

	var items []map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &items); err != nil {
		return nil, goerr.Wrap(model.ErrParse, "failed to unmarshal response array",
			goerr.V("error", err.Error()),
			goerr.V("response", truncate(raw, 200)))
	}

	candidates := make([]candidate, 0, len(items))
	for _, item := range items {
		var c candidate
		if text, ok := item["text"].(string); ok {
			c.Text = text
		}
		c.BiasX = toFloat(item["bias_x"])
		c.SignificanceY = toFloat(item["significance_y"])
		candidates = append(candidates, c)
	}

	return candidates, nil
}

func toFloat(v any) *float64 {
	switch x := v.(type) {
	case float64:
		return &x
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
