package cli

import (
	"context"

	"github.com/m-mizutani/prism/pkg/adapter"
	"github.com/m-mizutani/prism/pkg/usecase/allocation"
	"github.com/m-mizutani/prism/pkg/usecase/perspective"
	"github.com/m-mizutani/prism/pkg/usecase/pipeline"
	"github.com/urfave/cli/v3"
)

// runConfig holds options of commands that run the full pipeline
type runConfig struct {
	maxConcurrency  int64
	bucket          string
	storageEndpoint string
	notifyURL       string
	debateURL       string
}

func runFlags(rc *runConfig) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "max-concurrency",
			Usage:       "Maximum concurrently running pipeline jobs (<=0 = unbounded)",
			Value:       4,
			Sources:     cli.EnvVars("PRISM_MAX_CONCURRENCY"),
			Destination: &rc.maxConcurrency,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket that archives final allocations",
			Sources:     cli.EnvVars("PRISM_BUCKET"),
			Destination: &rc.bucket,
		},
		&cli.StringFlag{
			Name:        "storage-endpoint",
			Usage:       "Cloud Storage endpoint override, e.g. for an emulator",
			Sources:     cli.EnvVars("PRISM_STORAGE_ENDPOINT"),
			Destination: &rc.storageEndpoint,
		},
		&cli.StringFlag{
			Name:        "notify-url",
			Usage:       "Base URL receiving perspective-update and perspective-complete events",
			Sources:     cli.EnvVars("PRISM_NOTIFY_URL"),
			Destination: &rc.notifyURL,
		},
		&cli.StringFlag{
			Name:        "debate-url",
			Usage:       "Base URL of the downstream debate service",
			Sources:     cli.EnvVars("PRISM_DEBATE_URL"),
			Destination: &rc.debateURL,
		},
	}
}

// app bundles everything a long-running command needs
type app struct {
	uc        *pipeline.UseCase
	allocator *allocation.Allocator
	registry  *pipeline.Registry
	closers   []func()
}

// Close releases adapters in reverse order of creation
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp wires repository, generation client, notifier and optional adapters into a UseCase
func (cfg *config) newApp(ctx context.Context, rc *runConfig) (*app, error) {
	tune, err := cfg.loadTuning()
	if err != nil {
		return nil, err
	}

	a := &app{}
	success := false
	defer func() {
		if !success {
			a.Close()
		}
	}()

	repo, closeRepo, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeRepo)

	llm, err := cfg.newLLM(ctx)
	if err != nil {
		return nil, err
	}

	notifier := adapter.NewNopNotifier()
	if rc.notifyURL != "" {
		webhook := adapter.NewWebhookNotifier(rc.notifyURL)
		a.closers = append(a.closers, webhook.Close)
		notifier = webhook
	}

	generator, err := cfg.newGenerator(llm, tune, perspective.WithNotifier(notifier))
	if err != nil {
		return nil, err
	}

	a.allocator, err = cfg.newAllocator(tune)
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{pipeline.WithAllocator(a.allocator)}
	if rc.bucket != "" {
		storage, err := cfg.newStorage(ctx, rc.bucket, rc.storageEndpoint)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithStorage(storage))
	}
	if rc.debateURL != "" {
		opts = append(opts, pipeline.WithDebate(adapter.NewDebate(rc.debateURL)))
	}

	a.registry = pipeline.NewRegistry(tune.maxConcurrency(rc.maxConcurrency))
	a.uc = pipeline.New(repo, generator, a.registry, opts...)

	success = true
	return a, nil
}
