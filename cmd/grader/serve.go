package main

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/programme-lv/grader/internal/intake"
)

func (a *app) serveCommand() *cli.Command {
	flags := append(limitFlags(),
		&cli.StringFlag{Name: "db", Usage: "SQLite database path, or :memory:"},
		&cli.StringFlag{Name: "queue-url", Usage: "SQS queue to take run requests from"},
	)
	return &cli.Command{
		Name:   "serve",
		Usage:  "consume run requests and grade them until interrupted",
		Flags:  flags,
		Action: a.serve,
	}
}

func (a *app) serve(ctx context.Context, cmd *cli.Command) error {
	if err := a.applyFlags(cmd); err != nil {
		return err
	}
	if cmd.IsSet("queue-url") {
		a.cfg.SQSQueueURL = cmd.String("queue-url")
	}

	svc, err := a.build(ctx)
	if err != nil {
		return err
	}
	svc.start(ctx)
	a.logger.Info("grader started",
		slog.String("launcher", svc.launcher),
		slog.String("work_root", a.cfg.WorkRoot),
		slog.Int("workers", a.cfg.Workers))

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.SQSQueueURL != "" {
		client, err := intake.NewClient(ctx, a.cfg.AWSRegion)
		if err != nil {
			svc.Close()
			return err
		}
		consumer := intake.New(client, a.cfg.SQSQueueURL, svc.sched, a.logger)
		g.Go(func() error { return consumer.Run(gctx) })
	} else {
		a.logger.Warn("no queue configured, waiting for shutdown")
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	a.logger.Info("shutting down, draining queued runs")
	if cerr := svc.Close(); cerr != nil {
		a.logger.Error("shutdown failed", slog.Any("error", cerr))
	}
	return err
}
