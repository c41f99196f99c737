package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/programme-lv/grader/internal/config"
	"github.com/programme-lv/grader/internal/logging"
)

type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{}
	if err := a.command().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) command() *cli.Command {
	return &cli.Command{
		Name:  "grader",
		Usage: "grade student submissions in sandboxed runs",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "dotenv files to load before reading the environment",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
		},
		Before: a.before,
		Commands: []*cli.Command{
			a.serveCommand(),
			a.gradeCommand(),
			a.healthCommand(),
		},
	}
}

func (a *app) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.Load(cmd.StringSlice("env-file")...)
	if err != nil {
		return ctx, err
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	logger, err := logging.Setup(cfg.LogLevel)
	if err != nil {
		return ctx, err
	}
	a.cfg, a.logger = cfg, logger
	return ctx, nil
}

// limitFlags are shared by the commands that run submissions.
func limitFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "workers", Aliases: []string{"p"}, Usage: "number of concurrent runs"},
		&cli.StringFlag{Name: "launcher", Usage: "path or name of the sandbox launcher executable"},
		&cli.StringFlag{Name: "work-root", Usage: "directory for per-run working directories"},
		&cli.FloatFlag{Name: "cpu", Usage: "default CPU seconds per test command"},
		&cli.FloatFlag{Name: "wall", Usage: "default wall seconds per test command"},
	}
}

func (a *app) applyFlags(cmd *cli.Command) error {
	if cmd.IsSet("workers") {
		a.cfg.Workers = cmd.Int("workers")
	}
	if cmd.IsSet("launcher") {
		a.cfg.Launcher = cmd.String("launcher")
	}
	if cmd.IsSet("work-root") {
		a.cfg.WorkRoot = cmd.String("work-root")
	}
	if cmd.IsSet("cpu") {
		a.cfg.TestLimits.CPUSeconds = cmd.Float("cpu")
	}
	if cmd.IsSet("wall") {
		a.cfg.TestLimits.WallSeconds = cmd.Float("wall")
	}
	if cmd.IsSet("db") {
		a.cfg.DBPath = cmd.String("db")
	}
	return a.cfg.Validate()
}
