package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

// Version is reported by the health endpoint and the MCP server. Set with -ldflags at build time.
var Version = "dev"

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:    "prism",
		Usage:   "Generate bias-spread perspectives on a statement and allocate them for debate",
		Version: Version,
		Commands: []*cli.Command{
			serveCommand(),
			generateCommand(),
			allocateCommand(),
			mcpCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
