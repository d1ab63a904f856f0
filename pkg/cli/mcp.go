package cli

import (
	"context"

	"github.com/m-mizutani/prism/pkg/service/mcp"
	"github.com/urfave/cli/v3"
)

func mcpCommand() *cli.Command {
	var (
		cfg config
		rc  runConfig
	)

	var flags []cli.Flag
	flags = append(flags, runFlags(&rc)...)
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve perspective tools over MCP on stdin/stdout",
		Flags: flags,
		Action: func(ctx context.Context, _ *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			a, err := cfg.newApp(ctx, &rc)
			if err != nil {
				return err
			}
			defer a.Close()

			return mcp.New(a.uc, a.allocator, Version).RunStdio(ctx)
		},
	}
}
