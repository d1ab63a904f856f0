package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/prism/pkg/model"
	"github.com/m-mizutani/prism/pkg/usecase/perspective"
	"github.com/urfave/cli/v3"
)

func generateCommand() *cli.Command {
	var (
		cfg          config
		statement    string
		significance float64
		output       string
		quiet        bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "statement",
			Usage:       "Statement to generate perspectives on. Positional arguments are used when empty",
			Destination: &statement,
		},
		&cli.FloatFlag{
			Name:        "significance",
			Aliases:     []string{"s"},
			Usage:       "Significance score in [0,1]; higher values produce more perspectives",
			Value:       model.DefaultSignificance,
			Destination: &significance,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Write the result JSON to this file instead of stdout",
			Destination: &output,
		},
		&cli.BoolFlag{
			Name:        "quiet",
			Aliases:     []string{"q"},
			Usage:       "Do not show progress",
			Destination: &quiet,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "generate",
		Usage:     "Generate perspectives on a statement and print them as JSON",
		ArgsUsage: "[statement]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			if statement == "" {
				statement = strings.Join(c.Args().Slice(), " ")
			}
			req := model.GenerationRequest{
				Statement:    strings.TrimSpace(statement),
				Significance: significance,
			}
			if err := req.Validate(); err != nil {
				return err
			}

			tune, err := cfg.loadTuning()
			if err != nil {
				return err
			}
			llm, err := cfg.newLLM(ctx)
			if err != nil {
				return err
			}
			generator, err := cfg.newGenerator(llm, tune)
			if err != nil {
				return err
			}

			var opts []perspective.RunOption
			if !quiet {
				sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
				sp.Suffix = " generating perspectives..."
				sp.Start()
				defer sp.Stop()
				opts = append(opts, perspective.WithProgress(progressSpinner(sp)))
			}

			result, err := generator.Generate(ctx, req, opts...)
			if err != nil {
				return goerr.Wrap(err, "failed to generate perspectives")
			}

			return writeJSON(c.Root().Writer, output, result)
		},
	}
}

func progressSpinner(sp *spinner.Spinner) perspective.ProgressFunc {
	return func(_ context.Context, color model.Color, _, all []model.Perspective) error {
		sp.Lock()
		sp.Suffix = fmt.Sprintf(" %s done, %d perspectives so far", color, len(all))
		sp.Unlock()
		return nil
	}
}

// writeJSON writes v as indented JSON to path, or to w when path is empty
func writeJSON(w io.Writer, path string, v any) error {
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return goerr.Wrap(err, "failed to create output file", goerr.V("path", path))
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return goerr.Wrap(err, "failed to write json")
	}
	return nil
}
