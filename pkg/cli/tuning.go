package cli

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/prism/pkg/usecase/allocation"
	"github.com/m-mizutani/prism/pkg/usecase/perspective"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// tuning holds generation and allocation parameters read from the --config file.
// Unset fields keep the package defaults.
type tuning struct {
	Temperature       *float64          `yaml:"temperature" toml:"temperature"`
	RetryTemperature  *float64          `yaml:"retry_temperature" toml:"retry_temperature"`
	RepairTemperature *float64          `yaml:"repair_temperature" toml:"repair_temperature"`
	RepairBatchSize   *int              `yaml:"repair_batch_size" toml:"repair_batch_size"`
	RepairDelay       string            `yaml:"repair_delay" toml:"repair_delay"`
	MaxConcurrency    *int              `yaml:"max_concurrency" toml:"max_concurrency"`
	TargetPolicy      allocation.Policy `yaml:"target_policy" toml:"target_policy"`
}

func loadTuning(path string) (*tuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read tuning file", goerr.V("path", path))
	}

	var t tuning
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &t); err != nil {
			return nil, goerr.Wrap(err, "failed to parse yaml tuning file", goerr.V("path", path))
		}
	case ".toml":
		if err := toml.Unmarshal(data, &t); err != nil {
			return nil, goerr.Wrap(err, "failed to parse toml tuning file", goerr.V("path", path))
		}
	default:
		return nil, goerr.New("unsupported tuning file extension", goerr.V("path", path), goerr.V("ext", ext))
	}

	if err := t.validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid tuning file", goerr.V("path", path))
	}
	return &t, nil
}

func (t *tuning) validate() error {
	for name, v := range map[string]*float64{
		"temperature":        t.Temperature,
		"retry_temperature":  t.RetryTemperature,
		"repair_temperature": t.RepairTemperature,
	} {
		if v != nil && (*v < 0 || *v > 2) {
			return goerr.New("temperature out of range", goerr.V("field", name), goerr.V("value", *v))
		}
	}
	if t.RepairBatchSize != nil && *t.RepairBatchSize < 1 {
		return goerr.New("repair_batch_size must be positive", goerr.V("value", *t.RepairBatchSize))
	}
	if _, err := t.repairDelay(); err != nil {
		return err
	}
	return t.TargetPolicy.Validate()
}

func (t *tuning) repairDelay() (*time.Duration, error) {
	if t.RepairDelay == "" {
		return nil, nil
	}
	d, err := time.ParseDuration(t.RepairDelay)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid repair_delay", goerr.V("value", t.RepairDelay))
	}
	if d < 0 {
		return nil, goerr.New("repair_delay must not be negative", goerr.V("value", t.RepairDelay))
	}
	return &d, nil
}

func (t *tuning) generatorOptions() ([]perspective.Option, error) {
	var opts []perspective.Option
	if t.Temperature != nil {
		opts = append(opts, perspective.WithTemperature(*t.Temperature))
	}
	if t.RetryTemperature != nil {
		opts = append(opts, perspective.WithRetryTemperature(*t.RetryTemperature))
	}
	if t.RepairTemperature != nil {
		opts = append(opts, perspective.WithRepairTemperature(*t.RepairTemperature))
	}
	if t.RepairBatchSize != nil {
		opts = append(opts, perspective.WithRepairBatchSize(*t.RepairBatchSize))
	}
	d, err := t.repairDelay()
	if err != nil {
		return nil, err
	}
	if d != nil {
		opts = append(opts, perspective.WithRepairDelay(*d))
	}
	return opts, nil
}

func (t *tuning) allocatorOptions() ([]allocation.Option, error) {
	if len(t.TargetPolicy) == 0 {
		return nil, nil
	}
	if err := t.TargetPolicy.Validate(); err != nil {
		return nil, err
	}
	return []allocation.Option{allocation.WithPolicy(t.TargetPolicy)}, nil
}

// maxConcurrency returns the tuned cap, falling back to the flag value
func (t *tuning) maxConcurrency(flag int64) int {
	if t.MaxConcurrency != nil {
		return *t.MaxConcurrency
	}
	return int(flag)
}
