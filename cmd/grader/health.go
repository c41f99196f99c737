package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	pretty_table "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v3"

	"github.com/programme-lv/grader/internal/config"
	"github.com/programme-lv/grader/internal/sandbox"
	"github.com/programme-lv/grader/internal/xdg"
)

type health int

const (
	healthOK health = iota
	healthWarn
	healthError
)

func (h health) String() string {
	switch h {
	case healthOK:
		return "OKAY"
	case healthWarn:
		return "WARN"
	}
	return "ERROR"
}

type feedbackRow struct {
	unit    string
	health  health
	message string
}

func (a *app) healthCommand() *cli.Command {
	return &cli.Command{
		Name:   "health",
		Usage:  "check that the sandbox launcher and the service directories work",
		Flags:  limitFlags(),
		Action: a.health,
	}
}

func (a *app) health(ctx context.Context, cmd *cli.Command) error {
	if err := a.applyFlags(cmd); err != nil {
		return err
	}

	var rows []feedbackRow
	launcher, err := resolveLauncher(a.cfg.Launcher)
	if err != nil {
		rows = append(rows, feedbackRow{"launcher", healthError, err.Error()})
	} else {
		rows = append(rows, feedbackRow{"launcher", healthOK, launcher})
		rows = append(rows, a.checkLauncher(ctx, sandbox.NewLauncher(launcher, a.logger))...)
	}
	rows = append(rows,
		checkWritable("work root", a.cfg.WorkRoot),
		checkWritable("file cache", a.cfg.FileCache))
	if a.cfg.DBPath != config.MemoryDB {
		rows = append(rows, a.checkStore())
	}

	outputFeedback(os.Stdout, rows)
	for _, r := range rows {
		if r.health == healthError {
			return cli.Exit("", 1)
		}
	}
	return nil
}

type launchCheck struct {
	unit string
	args []string
	wall float64
	want int
}

var launchChecks = []launchCheck{
	{"run true", []string{"true"}, 2, 0},
	{"exit code", []string{"false"}, 2, 1},
	{"wall limit", []string{"sleep", "5"}, 0.5, sandbox.ExitTimeout},
	{"missing command", []string{"grader-no-such-command"}, 2, sandbox.ExitNotFound},
}

func (a *app) checkLauncher(ctx context.Context, l *sandbox.Launcher) []feedbackRow {
	rows := make([]feedbackRow, 0, len(launchChecks))
	for _, c := range launchChecks {
		var out strings.Builder
		code, err := l.Run(ctx, sandbox.Spec{
			Dir:         os.TempDir(),
			Args:        c.args,
			Env:         []string{"PATH=" + os.Getenv("PATH")},
			Stdout:      &out,
			Stderr:      &out,
			CPUSeconds:  1,
			WallSeconds: c.wall,
		})
		switch {
		case err != nil:
			msg := err.Error()
			if s := strings.TrimSpace(out.String()); s != "" {
				msg += ": " + s
			}
			rows = append(rows, feedbackRow{c.unit, healthError, msg})
		case code != c.want:
			rows = append(rows, feedbackRow{c.unit, healthError,
				fmt.Sprintf("%s exited with %d, expected %d", strings.Join(c.args, " "), code, c.want)})
		default:
			rows = append(rows, feedbackRow{c.unit, healthOK, fmt.Sprintf("exit %d", code)})
		}
	}
	return rows
}

func checkWritable(unit, dir string) feedbackRow {
	if err := xdg.EnsureDir(dir); err != nil {
		return feedbackRow{unit, healthError, err.Error()}
	}
	f, err := os.CreateTemp(dir, ".health-")
	if err != nil {
		return feedbackRow{unit, healthError, err.Error()}
	}
	f.Close()
	os.Remove(f.Name())
	return feedbackRow{unit, healthOK, dir}
}

func (a *app) checkStore() feedbackRow {
	if _, err := os.Stat(a.cfg.DBPath); errors.Is(err, os.ErrNotExist) {
		return feedbackRow{"run store", healthWarn, a.cfg.DBPath + " will be created on first start"}
	}
	st, err := a.openStore()
	if err != nil {
		return feedbackRow{"run store", healthError, err.Error()}
	}
	st.Close()
	return feedbackRow{"run store", healthOK, filepath.Clean(a.cfg.DBPath)}
}

func outputFeedback(w io.Writer, rows []feedbackRow) {
	t := pretty_table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(pretty_table.Row{"Unit", "Health", "Message"})
	for _, r := range rows {
		t.AppendRow(pretty_table.Row{r.unit, r.health.String(), firstLine(r.message)})
	}
	t.SetStyle(pretty_table.StyleColoredDark)

	textColor := text.Transformer(func(val interface{}) string {
		switch val {
		case healthOK.String():
			return text.FgHiGreen.Sprint(val)
		case healthWarn.String():
			return text.FgHiYellow.Sprint(val)
		case healthError.String():
			return text.FgHiRed.Sprint(val)
		}
		return fmt.Sprint(val)
	})
	t.SetColumnConfigs([]pretty_table.ColumnConfig{
		{Name: "Health", Transformer: textColor, Align: text.AlignCenter},
	})
	t.Render()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
