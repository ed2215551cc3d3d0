package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/forge/internal/task"
)

const sample = `
command "main.o" {
  run     = ["cc", "-c", "main.c", "-o", "build/main.o"]
  scan    = ["cc", "-MM", "main.c"]
  inputs  = ["main.c"]
  outputs = ["build/main.o"]
  intermediates = ["build/main.d"]
  env     = ["LANG=C"]
}

command "app" {
  run     = ["cc", "-o", "build/app", "build/main.o"]
  inputs  = ["build/main.o"]
  outputs = ["build/app"]
  dir     = "sub"
}

copy "tool" {
  from = "scripts/tool.sh"
  to   = "/opt/bin/tool"
}
`

func TestParse(t *testing.T) {
	m, err := Parse([]byte(sample), "forge.hcl", "/proj")
	require.NoError(t, err)
	require.Len(t, m.Commands, 2)
	require.Len(t, m.Copies, 1)

	obj := m.Commands[0]
	assert.Equal(t, "main.o", obj.Name)
	assert.Equal(t, []string{"/proj/main.c"}, obj.Inputs)
	assert.Equal(t, []string{"/proj/build/main.o"}, obj.Outputs)
	assert.Equal(t, []string{"/proj/build/main.d"}, obj.Intermediates)
	assert.Equal(t, "/proj", obj.Dir, "dir defaults to the manifest directory")
	assert.Equal(t, []string{"cc", "-MM", "main.c"}, obj.Scan, "argv is not path-resolved")

	assert.Equal(t, "/proj/sub", m.Commands[1].Dir)
	assert.Equal(t, "/proj/scripts/tool.sh", m.Copies[0].From)
	assert.Equal(t, "/opt/bin/tool", m.Copies[0].To, "absolute paths are kept")
}

func TestTasks(t *testing.T) {
	m, err := Parse([]byte(sample), "forge.hcl", "/proj")
	require.NoError(t, err)

	l := &task.Launcher{}
	tasks := m.Tasks(l)
	require.Len(t, tasks, 3)

	cmd, ok := tasks[0].(*task.Command)
	require.True(t, ok)
	assert.Same(t, l, cmd.Launcher)
	assert.True(t, cmd.RequiresImplicitInputs())
	assert.Equal(t, "/proj/build/main.o", cmd.PrimaryOutput())
	assert.Equal(t, []string{"LANG=C"}, cmd.Env)

	cp, ok := tasks[2].(*task.Copy)
	require.True(t, ok)
	assert.Equal(t, "/opt/bin/tool", cp.PrimaryOutput())

	assert.Equal(t, map[string]string{
		"main.o": "/proj/build/main.o",
		"app":    "/proj/build/app",
		"tool":   "/opt/bin/tool",
	}, m.Targets())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"syntax", `command "a" {`, "parse"},
		{"missing run", `command "a" { outputs = ["a"] }`, "run"},
		{"empty run", `command "a" {
  run = []
  outputs = ["a"]
}`, "run must not be empty"},
		{"no outputs", `command "a" {
  run = ["true"]
  outputs = []
}`, "at least one output"},
		{"duplicate names", `command "a" {
  run = ["true"]
  outputs = ["x"]
}
copy "a" {
  from = "y"
  to = "z"
}`, "already used"},
		{"unknown block", `target "a" {}`, "decode"},
		{"unknown attribute", `copy "a" {
  from = "x"
  to = "y"
  mode = "0755"
}`, "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "forge.hcl", "/proj")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_ResolvesAgainstManifestDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(`copy "c" {
  from = "a.txt"
  to   = "out/b.txt"
}
`), 0644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dir, m.Dir)
	assert.Equal(t, filepath.Join(dir, "a.txt"), m.Copies[0].From)
	assert.Equal(t, filepath.Join(dir, "out", "b.txt"), m.Copies[0].To)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.hcl"))
	assert.Error(t, err)
}
