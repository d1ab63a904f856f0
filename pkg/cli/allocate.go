package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/prism/pkg/model"
	"github.com/urfave/cli/v3"
)

// allocateOutput is printed by the allocate command
type allocateOutput struct {
	Pools   *model.Pools             `json:"pools"`
	Summary *model.AllocationSummary `json:"summary"`
}

func allocateCommand() *cli.Command {
	var (
		cfg    config
		input  string
		output string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Perspective JSON file (- for stdin). The first argument is used when empty",
			Destination: &input,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Write the allocation JSON to this file instead of stdout",
			Destination: &output,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:      "allocate",
		Usage:     "Trim a perspective list to balanced leftist, common and rightist pools",
		ArgsUsage: "[perspectives.json | -]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			if input == "" {
				input = c.Args().First()
			}
			if input == "" {
				return goerr.New("input file is required (use - for stdin)")
			}

			perspectives, err := readPerspectives(input, c.Root().Reader)
			if err != nil {
				return err
			}

			tune, err := cfg.loadTuning()
			if err != nil {
				return err
			}
			allocator, err := cfg.newAllocator(tune)
			if err != nil {
				return err
			}

			pools, summary := allocator.Distribute(ctx, perspectives)
			return writeJSON(c.Root().Writer, output, &allocateOutput{Pools: pools, Summary: summary})
		},
	}
}

// readPerspectives accepts either a bare JSON array of perspectives or an object with a
// "perspectives" field, such as the output of the generate command
func readPerspectives(path string, stdin io.Reader) ([]model.Perspective, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read perspectives", goerr.V("path", path))
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []model.Perspective
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, goerr.Wrap(err, "failed to parse perspective list", goerr.V("path", path))
		}
		return list, nil
	}

	var wrapped struct {
		Perspectives []model.Perspective `json:"perspectives"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, goerr.Wrap(err, "failed to parse perspectives", goerr.V("path", path))
	}
	return wrapped.Perspectives, nil
}
