package environment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/programme-lv/grader/api"
)

func (e *Environment) copyLauncher(src string) error {
	if src == "" {
		return fmt.Errorf("no launcher configured")
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open launcher: %w", err)
	}
	defer in.Close()
	return e.write(e.launcher, in)
}

func (e *Environment) place(ctx context.Context, files FileSource, dir string, list []api.File) ([]Placed, error) {
	placed := make([]Placed, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, f := range list {
		name, err := fileName(f)
		if err != nil {
			return placed, err
		}
		if seen[name] {
			return placed, fmt.Errorf("duplicate file name %q", name)
		}
		seen[name] = true

		dst := filepath.Join(dir, name)
		if err := e.copyFile(ctx, files, f, dst); err != nil {
			return placed, err
		}
		placed = append(placed, Placed{File: f, Path: dst})
		e.logger.Debug("placed file",
			slog.String("name", name),
			slog.String("key", f.Key),
			slog.String("dir", filepath.Base(dir)))
	}
	return placed, nil
}

func (e *Environment) copyFile(ctx context.Context, files FileSource, f api.File, dst string) error {
	if files == nil {
		return fmt.Errorf("no file source configured")
	}
	src, err := files.Open(ctx, f)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer src.Close()
	return e.write(dst, src)
}

func (e *Environment) write(dst string, src io.Reader) error {
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0755)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	e.track(dst)
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	if err := os.Chmod(dst, 0755); err != nil {
		return fmt.Errorf("chmod %s: %w", dst, err)
	}
	return nil
}

// fileName returns the base name a file is stored under. Names that would
// leave their directory are rejected.
func fileName(f api.File) (string, error) {
	name := f.Name
	if name == "" {
		name = path.Base(f.Path)
	}
	name = filepath.Base(filepath.Clean(strings.ReplaceAll(name, "\\", "/")))
	switch name {
	case "", ".", "..", "/":
		return "", fmt.Errorf("invalid file name %q", f.Name)
	}
	return name, nil
}
