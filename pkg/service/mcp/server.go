package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/prism/pkg/model"
	"github.com/m-mizutani/prism/pkg/usecase/allocation"
	"github.com/m-mizutani/prism/pkg/usecase/perspective"
	"github.com/m-mizutani/prism/pkg/usecase/pipeline"
	"github.com/m-mizutani/prism/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server exposes perspective generation and allocation as MCP tools
type Server struct {
	uc        *pipeline.UseCase
	allocator *allocation.Allocator
	server    *mcp.Server
}

// New creates the MCP server and registers its tools
func New(uc *pipeline.UseCase, allocator *allocation.Allocator, version string) *Server {
	s := &Server{
		uc:        uc,
		allocator: allocator,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "prism",
			Version: version,
		}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "generate_perspectives",
		Description: "Generate perspectives on a statement spread across a bias spectrum. Higher significance produces more perspectives.",
	}, s.generatePerspectives)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "distribute_perspectives",
		Description: "Trim a list of perspectives to a balanced set of leftist, common and rightist items.",
	}, s.distributePerspectives)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "run_pipeline",
		Description: "Create a session for a statement and start the generation pipeline in the background. Poll get_status for progress.",
	}, s.runPipeline)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_status",
		Description: "Get the stage and job state of a pipeline session.",
	}, s.getStatus)

	return s
}

// RunStdio serves MCP over stdin/stdout until ctx is canceled or the client disconnects
func (s *Server) RunStdio(ctx context.Context) error {
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "mcp server failed")
	}
	return nil
}

// HTTPHandler serves MCP over the streamable HTTP transport
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

type generateParams struct {
	Statement    string   `json:"statement" jsonschema:"Statement to generate perspectives for"`
	Significance *float64 `json:"significance,omitempty" jsonschema:"Significance score in [0, 1]. Defaults to 0.7"`
}

func requestOf(ctx context.Context, statement string, significance *float64) model.GenerationRequest {
	req := model.GenerationRequest{
		Statement:    strings.TrimSpace(statement),
		Significance: model.DefaultSignificance,
	}
	if significance != nil {
		req.Significance = perspective.NormalizeSignificance(ctx, *significance)
	}
	return req
}

func (s *Server) generatePerspectives(ctx context.Context, _ *mcp.CallToolRequest, params *generateParams) (*mcp.CallToolResult, any, error) {
	result, err := s.uc.Generate(ctx, requestOf(ctx, params.Statement, params.Significance))
	if err != nil {
		return toolError(ctx, "generate_perspectives", err), nil, nil
	}
	return jsonResult(result)
}

type distributeParams struct {
	Perspectives []model.Perspective `json:"perspectives" jsonschema:"Perspectives with text, bias_x and significance_y"`
}

func (s *Server) distributePerspectives(ctx context.Context, _ *mcp.CallToolRequest, params *distributeParams) (*mcp.CallToolResult, any, error) {
	pools, summary := s.allocator.Distribute(ctx, params.Perspectives)
	return jsonResult(map[string]any{
		"leftist":  pools.Leftist,
		"common":   pools.Common,
		"rightist": pools.Rightist,
		"summary":  summary,
	})
}

type runParams struct {
	Statement      string   `json:"statement" jsonschema:"Statement to generate perspectives for"`
	Significance   *float64 `json:"significance,omitempty" jsonschema:"Significance score in [0, 1]. Defaults to 0.7"`
	SendDownstream bool     `json:"send_downstream,omitempty" jsonschema:"Send the final allocation to the debate service"`
}

func (s *Server) runPipeline(ctx context.Context, _ *mcp.CallToolRequest, params *runParams) (*mcp.CallToolResult, any, error) {
	session, err := s.uc.CreateSession(ctx, requestOf(ctx, params.Statement, params.Significance))
	if err != nil {
		return toolError(ctx, "run_pipeline", err), nil, nil
	}

	resp, _, err := s.uc.RunPipeline(ctx, session.ID, params.SendDownstream)
	if err != nil {
		return toolError(ctx, "run_pipeline", err), nil, nil
	}
	return jsonResult(resp)
}

type statusParams struct {
	SessionID string `json:"session_id" jsonschema:"Session ID returned by run_pipeline"`
}

func (s *Server) getStatus(ctx context.Context, _ *mcp.CallToolRequest, params *statusParams) (*mcp.CallToolResult, any, error) {
	report, err := s.uc.Status(ctx, model.SessionID(params.SessionID))
	if err != nil {
		return toolError(ctx, "get_status", err), nil, nil
	}
	return jsonResult(report)
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to marshal tool result")
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(raw)},
		},
	}, nil, nil
}

func toolError(ctx context.Context, tool string, err error) *mcp.CallToolResult {
	logging.From(ctx).Warn("mcp tool failed", "tool", tool, "error", err)
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: err.Error()},
		},
	}
}
