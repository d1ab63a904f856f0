package perspective

import (
	"context"
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/prism/pkg/adapter"
	"github.com/m-mizutani/prism/pkg/model"
	"github.com/m-mizutani/prism/pkg/utils/logging"
)

const (
	DefaultTemperature       = 0.6
	DefaultRetryTemperature  = 0.2
	DefaultRepairTemperature = 0.3
	DefaultRepairBatchSize   = 3
	DefaultRepairDelay       = 1500 * time.Millisecond
)

// SinkFunc persists the accumulated perspective list after a color batch. An error aborts the run.
type SinkFunc func(ctx context.Context, color model.Color, all []model.Perspective) error

// ProgressFunc observes a finished color batch. Errors are logged and ignored.
type ProgressFunc func(ctx context.Context, color model.Color, batch, all []model.Perspective) error

// Generator turns a GenerationRequest into a scaffold-shaped list of perspectives
type Generator struct {
	llm      adapter.LLM
	notifier adapter.Notifier

	temperature       float64
	retryTemperature  float64
	repairTemperature float64
	repairBatchSize   int
	repairDelay       time.Duration
}

type Option func(*Generator)

func WithTemperature(t float64) Option {
	return func(g *Generator) { g.temperature = t }
}

func WithRetryTemperature(t float64) Option {
	return func(g *Generator) { g.retryTemperature = t }
}

func WithRepairTemperature(t float64) Option {
	return func(g *Generator) { g.repairTemperature = t }
}

// WithRepairBatchSize sets how many invalid candidates are repaired per call. Values below 1 are ignored.
func WithRepairBatchSize(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.repairBatchSize = n
		}
	}
}

func WithRepairDelay(d time.Duration) Option {
	return func(g *Generator) { g.repairDelay = d }
}

// WithNotifier sets the observer that receives perspective-update and perspective-complete events
func WithNotifier(n adapter.Notifier) Option {
	return func(g *Generator) { g.notifier = n }
}

// New creates a Generator. llm may be nil; Generate then fails with model.ErrClientUnavailable.
func New(llm adapter.LLM, opts ...Option) *Generator {
	g := &Generator{
		llm:               llm,
		notifier:          adapter.NewNopNotifier(),
		temperature:       DefaultTemperature,
		retryTemperature:  DefaultRetryTemperature,
		repairTemperature: DefaultRepairTemperature,
		repairBatchSize:   DefaultRepairBatchSize,
		repairDelay:       DefaultRepairDelay,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type runConfig struct {
	sink     SinkFunc
	progress ProgressFunc
}

type RunOption func(*runConfig)

func WithSink(sink SinkFunc) RunOption {
	return func(c *runConfig) { c.sink = sink }
}

func WithProgress(progress ProgressFunc) RunOption {
	return func(c *runConfig) { c.progress = progress }
}

// run is the transient state of one Generate call
type run struct {
	statement    string
	seen         *textSet
	perspectives []model.Perspective
	repaired     int
	fallbacks    int
}

// Generate fills every scaffold slot for the request, one color group at a time. Color groups
// are processed strictly in spectrum order because each prompt carries all texts emitted so far.
// ctx is checked between groups.
func (g *Generator) Generate(ctx context.Context, req model.GenerationRequest, opts ...RunOption) (*model.GenerationResult, error) {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if g.llm == nil {
		return nil, goerr.Wrap(model.ErrClientUnavailable, "no generation client configured")
	}

	significance := NormalizeSignificance(ctx, req.Significance)
	scaffold := scaffoldOf(SlotCount(significance))
	logging.From(ctx).Info("built scaffold", "significance", significance, "slots", len(scaffold))

	r := &run{
		statement: req.Statement,
		seen:      newTextSet(),
	}

	for _, group := range GroupByColor(scaffold) {
		if err := ctx.Err(); err != nil {
			return nil, goerr.Wrap(err, "generation canceled", goerr.V("generated", len(r.perspectives)))
		}

		color := group[0].Color
		batch, err := g.processGroup(ctx, r, group)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to generate color group", goerr.V("color", color))
		}

		r.perspectives = append(r.perspectives, batch...)
		slices.SortStableFunc(r.perspectives, compareBias)

		if cfg.sink != nil {
			if err := cfg.sink(ctx, color, slices.Clone(r.perspectives)); err != nil {
				return nil, goerr.Wrap(err, "failed to persist perspectives", goerr.V("color", color))
			}
		}

		if cfg.progress != nil {
			if err := cfg.progress(ctx, color, slices.Clone(batch), slices.Clone(r.perspectives)); err != nil {
				logging.From(ctx).Warn("progress callback failed", "color", color, "error", err)
			}
		}

		g.notifier.Post(ctx, adapter.EventPerspectiveUpdate, map[string]any{
			"color":      color,
			"count":      len(r.perspectives),
			"batch_size": len(batch),
		})
	}

	if len(r.perspectives) > len(scaffold) {
		r.perspectives = r.perspectives[:len(scaffold)]
	}

	logging.From(ctx).Info("generated perspectives",
		"count", len(r.perspectives),
		"repaired", r.repaired,
		"fallbacks", r.fallbacks)

	g.notifier.Post(ctx, adapter.EventPerspectiveComplete, map[string]any{
		"total_perspectives": len(r.perspectives),
		"status":             "completed",
	})

	return &model.GenerationResult{
		Statement:     r.statement,
		Perspectives:  r.perspectives,
		RepairedCount: r.repaired,
		FallbackCount: r.fallbacks,
	}, nil
}

func (g *Generator) processGroup(ctx context.Context, r *run, group []model.ScaffoldSlot) ([]model.Perspective, error) {
	color := group[0].Color
	logging.From(ctx).Info("processing color group", "color", color, "items", len(group))

	prompt, err := buildColorPrompt(r.statement, group, r.seen.List())
	if err != nil {
		return nil, err
	}

	candidates, err := g.generateCandidates(ctx, color, prompt)
	if err != nil {
		return nil, err
	}

	outcomes := validateGroup(group, candidates, r.seen)

	var pending []int
	for i, o := range outcomes {
		if o.Kind == OutcomeNeedsRepair {
			pending = append(pending, i)
		}
	}

	if len(pending) > 0 {
		logging.From(ctx).Info("repairing candidates", "color", color, "count", len(pending))
		for start := 0; start < len(pending); start += g.repairBatchSize {
			end := min(start+g.repairBatchSize, len(pending))
			if err := g.repairBatch(ctx, r, outcomes, pending[start:end]); err != nil {
				return nil, err
			}
		}
	}

	return r.resolve(outcomes), nil
}

// generateCandidates calls the model and parses its array. An unparsable response is retried
// once at the retry temperature; a second failure is returned as model.ErrParse.
func (g *Generator) generateCandidates(ctx context.Context, color model.Color, prompt string) ([]candidate, error) {
	raw, err := g.llm.Generate(ctx, prompt, g.temperature)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call generation client", goerr.V("color", color))
	}

	candidates, err := parseCandidates(raw)
	if err == nil {
		return candidates, nil
	}

	logging.From(ctx).Warn("parse failed, retrying with lower temperature",
		"color", color,
		"temperature", g.retryTemperature,
		"error", err)

	raw, err = g.llm.Generate(ctx, prompt, g.retryTemperature)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call generation client on retry", goerr.V("color", color))
	}

	candidates, err = parseCandidates(raw)
	if err != nil {
		return nil, goerr.Wrap(err, "response is not parsable after retry", goerr.V("color", color))
	}
	return candidates, nil
}

// repairBatch resubmits the outcomes at idx and rewrites them in place as Accepted or Fallback.
// Only cancellation of ctx is returned as an error; every other failure degrades to Fallback.
func (g *Generator) repairBatch(ctx context.Context, r *run, outcomes []Outcome, idx []int) error {
	batch := make([]Outcome, len(idx))
	for i, j := range idx {
		batch[i] = outcomes[j]
	}

	prompt, err := buildRepairPrompt(r.statement, batch, r.seen.List())
	if err != nil {
		return err
	}

	raw, callErr := g.llm.Generate(ctx, prompt, g.repairTemperature)
	if err := sleep(ctx, g.repairDelay); err != nil {
		return goerr.Wrap(err, "generation canceled during repair")
	}

	var results []candidate
	if callErr == nil {
		results, callErr = parseCandidates(raw)
	}
	if callErr != nil {
		logging.From(ctx).Warn("repair failed, using fallbacks",
			"color", batch[0].Slot.Color,
			"count", len(batch),
			"error", callErr)
		for _, j := range idx {
			outcomes[j] = Outcome{Kind: OutcomeFallback, Slot: outcomes[j].Slot, Reason: callErr}
		}
		return nil
	}

	for i, j := range idx {
		slot := outcomes[j].Slot
		if i >= len(results) {
			outcomes[j] = Outcome{
				Kind:   OutcomeFallback,
				Slot:   slot,
				Reason: goerr.Wrap(model.ErrRepairExhausted, "repair returned too few items"),
			}
			continue
		}

		o := checkCandidate(slot, results[i], r.seen)
		if o.Kind != OutcomeAccepted {
			logging.From(ctx).Debug("repaired candidate still invalid",
				"color", slot.Color,
				"index", slot.Index,
				"reason", o.Reason)
			outcomes[j] = Outcome{
				Kind:   OutcomeFallback,
				Slot:   slot,
				Reason: goerr.Wrap(model.ErrRepairExhausted, "repaired candidate is invalid", goerr.V("reason", o.Reason)),
			}
			continue
		}

		o.Repaired = true
		outcomes[j] = o
	}

	return nil
}

// resolve turns final outcomes into perspectives sorted by bias_x and updates run counters
func (r *run) resolve(outcomes []Outcome) []model.Perspective {
	batch := make([]model.Perspective, 0, len(outcomes))
	for _, o := range outcomes {
		switch o.Kind {
		case OutcomeAccepted:
			if o.Repaired {
				r.repaired++
			}
			batch = append(batch, o.Perspective)
		default:
			// Outcomes still pending at this point never got a repair attempt
			r.fallbacks++
			batch = append(batch, fallbackPerspective(r.statement, o.Slot, r.seen))
		}
	}
	slices.SortStableFunc(batch, compareBias)
	return batch
}

func compareBias(a, b model.Perspective) int {
	switch {
	case a.BiasX < b.BiasX:
		return -1
	case a.BiasX > b.BiasX:
		return 1
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
