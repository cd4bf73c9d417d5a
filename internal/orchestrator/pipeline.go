package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Step is one unit of a pipeline run. A step runs only after every step it
// depends on has succeeded.
type Step struct {
	Name      string
	DependsOn []string
	Run       func(ctx context.Context) error
}

// Result is the outcome of a pipeline run.
type Result struct {
	Completed []string
	Failed    string
	Skipped   []string
}

// Pipeline runs steps in dependency order, one at a time.
type Pipeline struct {
	order  []Step
	logger *zap.Logger
}

// NewPipeline validates the dependency graph and fixes the run order. Steps
// without a mutual dependency keep their declaration order.
func NewPipeline(logger *zap.Logger, steps ...Step) (*Pipeline, error) {
	byName := make(map[string]Step, len(steps))
	for _, s := range steps {
		if s.Name == "" {
			return nil, fmt.Errorf("step without a name")
		}
		if s.Run == nil {
			return nil, fmt.Errorf("step %q has no run function", s.Name)
		}
		if _, dup := byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate step %q", s.Name)
		}
		byName[s.Name] = s
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("step %q depends on unknown step %q", s.Name, dep)
			}
		}
	}

	order := make([]Step, 0, len(steps))
	done := make(map[string]bool, len(steps))
	for len(order) < len(steps) {
		progressed := false
		for _, s := range steps {
			if done[s.Name] {
				continue
			}
			ready := true
			for _, dep := range s.DependsOn {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				order = append(order, s)
				done[s.Name] = true
				progressed = true
			}
		}
		if !progressed {
			var cycle []string
			for _, s := range steps {
				if !done[s.Name] {
					cycle = append(cycle, s.Name)
				}
			}
			return nil, fmt.Errorf("dependency cycle between steps %v", cycle)
		}
	}
	return &Pipeline{order: order, logger: logger}, nil
}

// Order returns the step names in run order.
func (p *Pipeline) Order() []string {
	names := make([]string, len(p.order))
	for i, s := range p.order {
		names[i] = s.Name
	}
	return names
}

// Run executes the steps. The first failing step halts the run: every step
// after it is reported as skipped and its error is returned.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	var res Result
	for i, s := range p.order {
		err := ctx.Err()
		if err == nil {
			p.logger.Info("Step started", zap.String("step", s.Name))
			start := time.Now()
			err = s.Run(ctx)
			if err == nil {
				res.Completed = append(res.Completed, s.Name)
				p.logger.Info("Step completed", zap.String("step", s.Name), zap.Duration("duration", time.Since(start)))
				continue
			}
		}

		res.Failed = s.Name
		for _, rest := range p.order[i+1:] {
			res.Skipped = append(res.Skipped, rest.Name)
		}
		p.logger.Error("Step failed, halting pipeline",
			zap.String("step", s.Name),
			zap.Strings("skipped", res.Skipped),
			zap.Error(err))
		return res, fmt.Errorf("step %s: %w", s.Name, err)
	}
	p.logger.Info("Pipeline completed", zap.Strings("steps", res.Completed))
	return res, nil
}
