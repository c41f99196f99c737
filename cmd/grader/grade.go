package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/programme-lv/grader/api"
	"github.com/programme-lv/grader/internal/behave"
	"github.com/programme-lv/grader/internal/config"
	"github.com/programme-lv/grader/internal/gatherer"
)

func (a *app) gradeCommand() *cli.Command {
	return &cli.Command{
		Name:      "grade",
		Usage:     "run behaviour scenarios through the pipeline and check their outcomes",
		ArgsUsage: "<scenarios.toml>...",
		Flags:     limitFlags(),
		Action:    a.grade,
	}
}

type pending struct {
	file string
	c    behave.Case
	run  api.Run
}

func (a *app) grade(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() == 0 {
		return cli.Exit("no scenario files given", 2)
	}
	if err := a.applyFlags(cmd); err != nil {
		return err
	}
	a.cfg.DBPath = config.MemoryDB

	scratch, err := os.MkdirTemp("", "grader-scenarios-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	svc, err := a.build(ctx, gatherer.NewTerminal(os.Stdout))
	if err != nil {
		return err
	}
	defer svc.Close()
	svc.start(ctx)

	var runs []pending
	for i, file := range cmd.Args().Slice() {
		cases, err := behave.Parse(file, filepath.Join(scratch, strconv.Itoa(i)))
		if err != nil {
			return err
		}
		for _, c := range cases {
			run, err := svc.sched.ExecuteRun(ctx, c.Test, c.Submission)
			if err != nil {
				return err
			}
			runs = append(runs, pending{file: file, c: c, run: run})
		}
	}

	failed := 0
	for _, p := range runs {
		run, err := svc.sched.Wait(ctx, p.run.ID)
		if err != nil {
			return err
		}
		diffs := p.c.Expect.Check(run)
		if len(diffs) == 0 {
			fmt.Printf("%s %s\n", color.GreenString("PASS"), p.c.Name)
			continue
		}
		failed++
		fmt.Printf("%s %s (%s)\n", color.RedString("FAIL"), p.c.Name, p.file)
		for _, d := range diffs {
			fmt.Printf("     %s\n", d)
		}
		if run.Output != "" {
			fmt.Println(color.HiBlackString("%s", indent(run.Output)))
		}
	}

	fmt.Printf("\n%d scenarios, %d failed\n", len(runs), failed)
	if failed > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

func indent(s string) string {
	const prefix = "     | "
	return prefix + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n"+prefix)
}
