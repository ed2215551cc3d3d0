// Package manifest decodes forge.hcl files into tasks.
//
//	command "main.o" {
//	  run     = ["cc", "-c", "main.c", "-o", "build/main.o"]
//	  scan    = ["cc", "-MM", "main.c"]
//	  inputs  = ["main.c"]
//	  outputs = ["build/main.o"]
//	}
//
//	copy "tool" {
//	  from = "scripts/tool.sh"
//	  to   = "bin/tool"
//	}
//
// Relative paths resolve against the directory holding the manifest.
package manifest

import (
	"fmt"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/aristath/forge/internal/task"
)

// DefaultFile is the manifest name looked up when none is given.
const DefaultFile = "forge.hcl"

type hclFile struct {
	Commands []*CommandBlock `hcl:"command,block"`
	Copies   []*CopyBlock    `hcl:"copy,block"`
}

// CommandBlock is one `command "<name>"` block.
type CommandBlock struct {
	Name          string   `hcl:"name,label"`
	Run           []string `hcl:"run"`
	Inputs        []string `hcl:"inputs,optional"`
	Outputs       []string `hcl:"outputs"`
	Scan          []string `hcl:"scan,optional"`
	Intermediates []string `hcl:"intermediates,optional"`
	Dir           string   `hcl:"dir,optional"`
	Env           []string `hcl:"env,optional"`
}

// CopyBlock is one `copy "<name>"` block.
type CopyBlock struct {
	Name string `hcl:"name,label"`
	From string `hcl:"from"`
	To   string `hcl:"to"`
}

// Manifest is a decoded manifest with paths already resolved.
type Manifest struct {
	Dir      string
	Commands []*CommandBlock
	Copies   []*CopyBlock
}

// Load parses and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving manifest path: %w", err)
	}
	f, diags := hclparse.NewParser().ParseHCLFile(abs)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, diags)
	}
	return decode(f.Body, path, filepath.Dir(abs))
}

// Parse decodes manifest source. Relative paths resolve against dir.
func Parse(src []byte, filename, dir string) (*Manifest, error) {
	f, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", filename, diags)
	}
	return decode(f.Body, filename, dir)
}

func decode(body hcl.Body, filename, dir string) (*Manifest, error) {
	var raw hclFile
	if diags := gohcl.DecodeBody(body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", filename, diags)
	}

	m := &Manifest{Dir: dir, Commands: raw.Commands, Copies: raw.Copies}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", filename, err)
	}
	m.resolve()
	return m, nil
}

func (m *Manifest) validate() error {
	seen := make(map[string]string)
	claim := func(kind, name string) error {
		if prev, dup := seen[name]; dup {
			return fmt.Errorf("%s %q: name already used by a %s block", kind, name, prev)
		}
		seen[name] = kind
		return nil
	}

	for _, c := range m.Commands {
		if err := claim("command", c.Name); err != nil {
			return err
		}
		if len(c.Run) == 0 {
			return fmt.Errorf("command %q: run must not be empty", c.Name)
		}
		if len(c.Outputs) == 0 {
			return fmt.Errorf("command %q: at least one output is required", c.Name)
		}
	}
	for _, c := range m.Copies {
		if err := claim("copy", c.Name); err != nil {
			return err
		}
		if c.From == "" || c.To == "" {
			return fmt.Errorf("copy %q: from and to are required", c.Name)
		}
	}
	return nil
}

func (m *Manifest) resolve() {
	for _, c := range m.Commands {
		c.Dir = m.path(c.Dir)
		c.Inputs = m.paths(c.Inputs)
		c.Outputs = m.paths(c.Outputs)
		c.Intermediates = m.paths(c.Intermediates)
	}
	for _, c := range m.Copies {
		c.From = m.path(c.From)
		c.To = m.path(c.To)
	}
}

func (m *Manifest) path(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(m.Dir, p)
}

func (m *Manifest) paths(ps []string) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = m.path(p)
	}
	return out
}

// Tasks builds one task per block, commands first, in file order. Commands
// launch through l.
func (m *Manifest) Tasks(l *task.Launcher) []task.Task {
	tasks := make([]task.Task, 0, len(m.Commands)+len(m.Copies))
	for _, c := range m.Commands {
		tasks = append(tasks, &task.Command{
			Argv:          c.Run,
			Dir:           c.Dir,
			Env:           c.Env,
			Inputs:        c.Inputs,
			Outputs:       c.Outputs,
			Scan:          c.Scan,
			Intermediates: c.Intermediates,
			Launcher:      l,
		})
	}
	for _, c := range m.Copies {
		tasks = append(tasks, &task.Copy{From: c.From, To: c.To})
	}
	return tasks
}

// Targets maps block names to primary outputs so targets can be named either
// way on the command line.
func (m *Manifest) Targets() map[string]string {
	out := make(map[string]string, len(m.Commands)+len(m.Copies))
	for _, c := range m.Commands {
		out[c.Name] = c.Outputs[0]
	}
	for _, c := range m.Copies {
		out[c.Name] = c.To
	}
	return out
}
