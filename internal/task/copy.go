package task

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Copy copies one file, keeping its permission bits. The destination is
// replaced atomically.
type Copy struct {
	From string
	To   string
}

var _ Task = (*Copy)(nil)

func (c *Copy) ExplicitIO() ([]string, []string) {
	return []string{c.From}, []string{c.To}
}

func (c *Copy) RequiresImplicitInputs() bool { return false }

func (c *Copy) ImplicitInputs(context.Context) ([]string, error) { return nil, nil }

func (c *Copy) CacheableParameters() (string, bool) { return "copy", true }

func (c *Copy) PrimaryOutput() string { return c.To }

func (c *Copy) IntermediateFiles() []string { return nil }

func (c *Copy) Execute(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(c.From)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.To), 0755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.To), "."+filepath.Base(c.To)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return fmt.Errorf("copying %s: %w", c.From, err)
	}
	if err := tmp.Chmod(fi.Mode().Perm()); err != nil {
		tmp.Close()
		return fmt.Errorf("setting mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.To); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
