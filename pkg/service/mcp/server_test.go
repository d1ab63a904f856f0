package mcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/prism/pkg/model"
	"github.com/m-mizutani/prism/pkg/repository"
	"github.com/m-mizutani/prism/pkg/service/mcp"
	"github.com/m-mizutani/prism/pkg/usecase/allocation"
	"github.com/m-mizutani/prism/pkg/usecase/perspective"
	"github.com/m-mizutani/prism/pkg/usecase/pipeline"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

var targetPattern = regexp.MustCompile(`(?m)^- color: (\w+), bias_x: ([0-9.]+)`)

type mockLLM struct{}

func (mockLLM) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	var items []map[string]any
	for i, match := range targetPattern.FindAllStringSubmatch(prompt, -1) {
		bias, _ := strconv.ParseFloat(match[2], 64)
		items = append(items, map[string]any{
			"bias_x": bias,
			"text":   fmt.Sprintf("%s idea %s-%d", match[1], match[2], i),
		})
	}
	out, _ := json.Marshal(items)
	return string(out), nil
}

func connect(t *testing.T) (*mcpsdk.ClientSession, *pipeline.UseCase) {
	t.Helper()
	ctx := context.Background()

	registry := pipeline.NewRegistry(2)
	uc := pipeline.New(repository.NewMemory(), perspective.New(mockLLM{}, perspective.WithRepairDelay(0)), registry)
	srv := mcp.New(uc, allocation.New(), "test")

	testServer := httptest.NewServer(srv.HTTPHandler())
	t.Cleanup(testServer.Close)

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "prism-test", Version: "0.1.0"}, nil)
	session, err := client.Connect(ctx, &mcpsdk.StreamableClientTransport{Endpoint: testServer.URL}, nil)
	gt.NoError(t, err)
	t.Cleanup(func() {
		session.Close()
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		gt.NoError(t, registry.Shutdown(shutdownCtx))
	})

	return session, uc
}

func callJSON(t *testing.T, session *mcpsdk.ClientSession, name string, args map[string]any, dst any) *mcpsdk.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	gt.NoError(t, err)
	gt.A(t, result.Content).Length(1)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	gt.True(t, ok)
	if dst != nil && !result.IsError {
		gt.NoError(t, json.Unmarshal([]byte(text.Text), dst))
	}
	return result
}

func TestListTools(t *testing.T) {
	session, _ := connect(t)

	tools, err := session.ListTools(context.Background(), nil)
	gt.NoError(t, err)

	names := map[string]bool{}
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	gt.Map(t, names).HasKey("generate_perspectives")
	gt.Map(t, names).HasKey("distribute_perspectives")
	gt.Map(t, names).HasKey("run_pipeline")
	gt.Map(t, names).HasKey("get_status")
}

func TestGeneratePerspectivesTool(t *testing.T) {
	session, _ := connect(t)

	var out model.GenerationResult
	result := callJSON(t, session, "generate_perspectives", map[string]any{"statement": "  X \n", "significance": 0.1}, &out)
	gt.False(t, result.IsError)
	gt.Equal(t, out.Statement, "X")
	gt.A(t, out.Perspectives).Length(9)

	var raw map[string]any
	callJSON(t, session, "generate_perspectives", map[string]any{"statement": "X", "significance": 0}, &raw)
	gt.Equal(t, raw["statement"], any("X"))
	_, hasInput := raw["input"]
	gt.False(t, hasInput)

	result = callJSON(t, session, "generate_perspectives", map[string]any{"statement": ""}, nil)
	gt.True(t, result.IsError)
}

func TestDistributePerspectivesTool(t *testing.T) {
	session, _ := connect(t)

	var perspectives []model.Perspective
	for i := range 20 {
		perspectives = append(perspectives, model.Perspective{
			Text:          fmt.Sprintf("p%d", i),
			BiasX:         float64(i) / 19,
			SignificanceY: 0.5,
		})
	}

	var out struct {
		Leftist  []model.Perspective     `json:"leftist"`
		Common   []model.Perspective     `json:"common"`
		Rightist []model.Perspective     `json:"rightist"`
		Summary  model.AllocationSummary `json:"summary"`
	}
	result := callJSON(t, session, "distribute_perspectives", map[string]any{"perspectives": perspectives}, &out)
	gt.False(t, result.IsError)
	gt.Equal(t, out.Summary.TargetSize, 14)
	gt.Equal(t, len(out.Leftist)+len(out.Common)+len(out.Rightist), 14)
	gt.Equal(t, out.Summary.DistributionSource, model.DistributionSourceStratified)
}

func TestRunPipelineTool(t *testing.T) {
	session, uc := connect(t)

	var resp model.RunResponse
	result := callJSON(t, session, "run_pipeline", map[string]any{"statement": "X", "significance": 0}, &resp)
	gt.False(t, result.IsError)
	gt.Equal(t, resp.Status, model.RunStatusStarted)

	deadline := time.Now().Add(5 * time.Second)
	for uc.Registry().IsRunning(resp.SessionID) {
		if time.Now().After(deadline) {
			t.Fatal("pipeline did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}

	var status model.StatusReport
	result = callJSON(t, session, "get_status", map[string]any{"session_id": string(resp.SessionID)}, &status)
	gt.False(t, result.IsError)
	gt.Equal(t, status.Stage, model.StagePerspectivesReady)
	gt.True(t, status.FinalOutputReady)

	result = callJSON(t, session, "get_status", map[string]any{"session_id": "missing"}, nil)
	gt.True(t, result.IsError)
}
