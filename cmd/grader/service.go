package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/programme-lv/grader/internal/config"
	"github.com/programme-lv/grader/internal/coordinator"
	"github.com/programme-lv/grader/internal/environment"
	"github.com/programme-lv/grader/internal/filestore"
	"github.com/programme-lv/grader/internal/gatherer"
	"github.com/programme-lv/grader/internal/intake"
	"github.com/programme-lv/grader/internal/reporter"
	"github.com/programme-lv/grader/internal/scheduler"
	"github.com/programme-lv/grader/internal/store"
	"github.com/programme-lv/grader/internal/xdg"
)

// service is the wired grading pipeline.
type service struct {
	store    store.RunStore
	sched    *scheduler.Scheduler
	launcher string
	closers  []func() error
}

func (s *service) Close() error {
	var errs []error
	if s.sched != nil {
		errs = append(errs, s.sched.Close())
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func (a *app) openStore() (store.RunStore, error) {
	if a.cfg.DBPath == config.MemoryDB {
		return store.NewMemory(), nil
	}
	if err := xdg.EnsureDir(filepath.Dir(a.cfg.DBPath)); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	return store.OpenSQLite(a.cfg.DBPath)
}

// build wires the pipeline from the configuration. The extra observers
// receive status events alongside the log.
func (a *app) build(ctx context.Context, observers ...gatherer.Observer) (*service, error) {
	cfg, logger := a.cfg, a.logger
	svc := &service{}

	launcher, err := resolveLauncher(cfg.Launcher)
	if err != nil {
		return nil, err
	}
	svc.launcher = launcher

	st, err := a.openStore()
	if err != nil {
		return nil, err
	}
	svc.store = st
	svc.closers = append(svc.closers, st.Close)

	observers = append(observers, gatherer.Log{Logger: logger})
	if cfg.NATSURL != "" {
		conn, err := gatherer.Dial(cfg.NATSURL, logger)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.closers = append(svc.closers, func() error { return conn.Drain() })
		observers = append(observers, gatherer.NewNATS(conn, cfg.NATSSubject, logger))
	}

	if cfg.SQSResultURL != "" {
		client, err := intake.NewClient(ctx, cfg.AWSRegion)
		if err != nil {
			svc.Close()
			return nil, err
		}
		observers = append(observers, gatherer.NewSQS(client, cfg.SQSResultURL, logger))
	}

	var lms reporter.LMS
	if cfg.LMSURL != "" {
		lms = reporter.NewMoodleClient(cfg.LMSURL, cfg.LMSToken, &http.Client{Timeout: 30 * time.Second})
	}

	files := filestore.New(cfg.FileCache, &http.Client{Timeout: 5 * time.Minute}, logger)
	coord := coordinator.New(coordinator.Options{
		Store: st,
		Environments: &environment.Factory{
			Root:         cfg.WorkRoot,
			LauncherPath: launcher,
			Files:        files,
			Filters:      environment.ParseFilters(cfg.Filters),
			Reserved:     config.ReservedVars(),
			Logger:       logger,
		},
		Reporters:   reporter.DefaultRegistry(lms, time.Now, logger),
		Observer:    gatherer.Multi(observers...),
		BuildLimits: cfg.BuildLimits,
		TestLimits:  cfg.TestLimits,
		Logger:      logger,
	})
	svc.sched = scheduler.New(st, coord, scheduler.Options{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		Logger:    logger,
	})
	return svc, nil
}

// start launches the workers. Runs are not cancelled with ctx; Close
// drains them instead.
func (s *service) start(ctx context.Context) {
	s.sched.Start(context.WithoutCancel(ctx))
}

// resolveLauncher finds the launcher by path, next to the running
// executable, or on PATH.
func resolveLauncher(name string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		p, err := filepath.Abs(name)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("launcher: %w", err)
		}
		return p, nil
	}
	if exe, err := os.Executable(); err == nil {
		p := filepath.Join(filepath.Dir(exe), name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("launcher %s not found: %w", name, err)
	}
	return p, nil
}
