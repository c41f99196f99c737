package environment

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Filter normalizes a copied file in place.
type Filter interface {
	Name() string
	Apply(ctx context.Context, path string) error
}

// DefaultFilters is the chain applied when none is configured.
func DefaultFilters() []Filter {
	return []Filter{LineEndings{}}
}

// ParseFilters turns a list of command lines, separated by ';', into
// command filters appended to the default chain. A line naming a built-in
// filter adds nothing since the default chain already holds it.
func ParseFilters(spec string) []Filter {
	filters := DefaultFilters()
	for _, line := range strings.Split(spec, ";") {
		args := strings.Fields(line)
		if len(args) == 0 || (len(args) == 1 && builtin(filters, args[0])) {
			continue
		}
		filters = append(filters, CommandFilter{Args: args})
	}
	return filters
}

func builtin(filters []Filter, name string) bool {
	for _, f := range filters {
		if _, ok := f.(CommandFilter); !ok && f.Name() == name {
			return true
		}
	}
	return false
}

func (e *Environment) sanitize(ctx context.Context, filters []Filter, path string) {
	rel, err := filepath.Rel(e.root, path)
	if err != nil {
		rel = path
	}
	for _, f := range filters {
		if err := f.Apply(ctx, path); err != nil {
			e.note("filter %s failed on %s: %v", f.Name(), rel, err)
			continue
		}
		e.logger.Debug("filter applied", slog.String("filter", f.Name()), slog.String("file", rel))
	}
}

// LineEndings rewrites CRLF and lone CR line endings to LF. Files that look
// binary are left alone.
type LineEndings struct{}

func (LineEndings) Name() string { return "line-endings" }

func (LineEndings) Apply(_ context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if bytes.IndexByte(data, 0) >= 0 || bytes.IndexByte(data, '\r') < 0 {
		return nil
	}
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	data = bytes.ReplaceAll(data, []byte("\r"), []byte("\n"))
	return os.WriteFile(path, data, 0755)
}

// CommandFilter runs an external program with the file path appended to
// Args, for example dos2unix -q.
type CommandFilter struct {
	Args    []string
	Timeout time.Duration
}

func (c CommandFilter) Name() string {
	if len(c.Args) == 0 {
		return "command"
	}
	return filepath.Base(c.Args[0])
}

func (c CommandFilter) Apply(ctx context.Context, path string) error {
	if len(c.Args) == 0 {
		return fmt.Errorf("empty filter command")
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, c.Args[1:]...), path)
	cmd := exec.CommandContext(ctx, c.Args[0], args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if len(out) > 0 {
			return fmt.Errorf("%w: %s", err, bytes.TrimSpace(out))
		}
		return err
	}
	return nil
}
