package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var defaultLauncher = &Launcher{}

// Command runs an external tool. When Scan is set the task discovers its
// implicit inputs by running Scan and parsing the make-style dependency
// rules it prints on stdout.
type Command struct {
	Argv          []string
	Dir           string
	Env           []string
	Inputs        []string
	Outputs       []string
	Scan          []string
	Intermediates []string
	Launcher      *Launcher
}

var _ Task = (*Command)(nil)

// ExplicitIO implements Task.
func (c *Command) ExplicitIO() ([]string, []string) {
	return c.Inputs, c.Outputs
}

// RequiresImplicitInputs implements Task.
func (c *Command) RequiresImplicitInputs() bool {
	return len(c.Scan) > 0
}

// ImplicitInputs implements Task. Relative paths printed by the scanner are
// resolved against Dir.
func (c *Command) ImplicitInputs(ctx context.Context) ([]string, error) {
	if len(c.Scan) == 0 {
		return nil, nil
	}
	out, err := c.launcher().Run(ctx, c.PrimaryOutput(), c.Scan, c.Dir, c.Env, false)
	if err != nil {
		return nil, fmt.Errorf("scanning dependencies: %w", err)
	}
	deps, err := ParseDepfile(bytes.NewReader(out))
	if err != nil {
		return nil, err
	}
	for i, d := range deps {
		if !filepath.IsAbs(d) && c.Dir != "" {
			deps[i] = filepath.Join(c.Dir, d)
		}
	}
	return deps, nil
}

// CacheableParameters implements Task. A command without argv is never
// cacheable.
func (c *Command) CacheableParameters() (string, bool) {
	if len(c.Argv) == 0 {
		return "", false
	}
	var b strings.Builder
	writeList(&b, "argv", c.Argv)
	fmt.Fprintf(&b, "dir %s\n", strconv.Quote(c.Dir))
	writeList(&b, "env", c.Env)
	writeList(&b, "scan", c.Scan)
	return strings.TrimSuffix(b.String(), "\n"), true
}

func writeList(b *strings.Builder, key string, values []string) {
	b.WriteString(key)
	for _, v := range values {
		b.WriteByte(' ')
		b.WriteString(strconv.Quote(v))
	}
	b.WriteByte('\n')
}

// PrimaryOutput implements Task. It is the first declared output.
func (c *Command) PrimaryOutput() string {
	if len(c.Outputs) == 0 {
		return ""
	}
	return c.Outputs[0]
}

// Execute implements Task. Output directories are created first; a non-zero
// exit fails the task.
func (c *Command) Execute(ctx context.Context) error {
	if len(c.Argv) == 0 {
		return errors.New("command has no argv")
	}
	for _, out := range c.Outputs {
		if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	_, err := c.launcher().Run(ctx, c.PrimaryOutput(), c.Argv, c.Dir, c.Env, true)
	return err
}

// IntermediateFiles implements Task.
func (c *Command) IntermediateFiles() []string {
	return c.Intermediates
}

func (c *Command) launcher() *Launcher {
	if c.Launcher == nil {
		return defaultLauncher
	}
	return c.Launcher
}
