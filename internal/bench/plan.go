// Package bench drives benchmark sweeps over the heatgrid strategies: the
// sequential baseline, the shared-memory parallel kernel and the
// distributed engine. It checks every run against the baseline, records a
// status per run, and writes the results as CSV with a speedup summary.
package bench

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidPlan is returned for a plan that cannot be executed.
var ErrInvalidPlan = errors.New("invalid benchmark plan")

// Plan describes one benchmark sweep. Every size is run once sequentially,
// once per thread count and once per worker count.
//
// Example plan file:
//
//	sizes: [100, 200, 400]
//	iterations: 1000
//	tolerance: 0.001
//	threads: [1, 2, 4]
//	workers: [2, 3]
//	host: localhost
//	base_port: 8000
//	timeout: 300s
//	local_workers: true
//	output: results.csv
type Plan struct {
	Sizes         []int         `yaml:"sizes"`
	Iterations    int           `yaml:"iterations"`
	Tolerance     float64       `yaml:"tolerance"`
	Threads       []int         `yaml:"threads"`
	Workers       []int         `yaml:"workers"`
	Host          string        `yaml:"host"`
	BasePort      int           `yaml:"base_port"`
	Timeout       time.Duration `yaml:"timeout"`
	AcceptTimeout time.Duration `yaml:"accept_timeout"`
	// LocalWorkers starts the distributed workers as goroutines of the
	// benchmark process. Without it the workers must be started by hand.
	LocalWorkers bool   `yaml:"local_workers"`
	Output       string `yaml:"output"`
}

// DefaultPlan returns the sweep run when no plan file is given.
func DefaultPlan() Plan {
	return Plan{
		Sizes:         []int{100, 200, 400},
		Iterations:    1000,
		Tolerance:     0.001,
		Threads:       []int{1, 2, 4},
		Workers:       []int{2},
		Host:          "localhost",
		BasePort:      8000,
		Timeout:       300 * time.Second,
		AcceptTimeout: 20 * time.Second,
		LocalWorkers:  true,
		Output:        "results.csv",
	}
}

// LoadPlan reads a YAML plan. Fields missing from the file keep their
// DefaultPlan values.
func LoadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read plan: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes a YAML plan on top of DefaultPlan and validates it.
func ParsePlan(data []byte) (Plan, error) {
	p := DefaultPlan()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// Validate reports the first unusable field of the plan.
func (p Plan) Validate() error {
	switch {
	case len(p.Sizes) == 0:
		return fmt.Errorf("%w: no sizes", ErrInvalidPlan)
	case p.Iterations < 0:
		return fmt.Errorf("%w: iterations %d", ErrInvalidPlan, p.Iterations)
	case p.Timeout <= 0:
		return fmt.Errorf("%w: timeout %v", ErrInvalidPlan, p.Timeout)
	case len(p.Workers) > 0 && (p.BasePort < 0 || p.BasePort > 65535):
		return fmt.Errorf("%w: base port %d", ErrInvalidPlan, p.BasePort)
	}
	for _, n := range p.Sizes {
		if n < 3 {
			return fmt.Errorf("%w: size %d", ErrInvalidPlan, n)
		}
	}
	for _, t := range p.Threads {
		if t < 1 {
			return fmt.Errorf("%w: thread count %d", ErrInvalidPlan, t)
		}
	}
	for _, w := range p.Workers {
		if w < 1 {
			return fmt.Errorf("%w: worker count %d", ErrInvalidPlan, w)
		}
	}
	return nil
}
