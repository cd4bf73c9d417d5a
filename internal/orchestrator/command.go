package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"go.uber.org/zap"
)

// Command describes an external process run as a pipeline step.
type Command struct {
	Path   string
	Args   []string
	Dir    string
	Env    []string // appended to the inherited environment
	Stdout io.Writer
	Stderr io.Writer
}

// CommandStep returns a step that runs cmd. A non-zero exit fails the step.
func CommandStep(name string, dependsOn []string, cmd Command, logger *zap.Logger) Step {
	return Step{
		Name:      name,
		DependsOn: dependsOn,
		Run: func(ctx context.Context) error {
			c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
			c.Dir = cmd.Dir
			c.Env = append(os.Environ(), cmd.Env...)
			c.Stdout = cmd.Stdout
			if c.Stdout == nil {
				c.Stdout = os.Stdout
			}
			c.Stderr = cmd.Stderr
			if c.Stderr == nil {
				c.Stderr = os.Stderr
			}

			logger.Debug("Running command", zap.String("step", name), zap.String("path", cmd.Path), zap.Strings("args", cmd.Args), zap.String("dir", cmd.Dir))
			if err := c.Run(); err != nil {
				var exitErr *exec.ExitError
				if errors.As(err, &exitErr) {
					return fmt.Errorf("%s exited with status %d", cmd.Path, exitErr.ExitCode())
				}
				return fmt.Errorf("failed to run %s: %w", cmd.Path, err)
			}
			return nil
		},
	}
}
