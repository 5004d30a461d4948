package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/seantiz/crucible/internal/api"
	"github.com/seantiz/crucible/internal/config"
	"github.com/seantiz/crucible/internal/job"
	"github.com/seantiz/crucible/internal/loader"
	"github.com/seantiz/crucible/internal/model"
	"github.com/seantiz/crucible/internal/pipeline"
	"github.com/seantiz/crucible/internal/runner"
	"github.com/seantiz/crucible/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	suites := os.Args[1:]
	if len(suites) == 0 {
		fmt.Fprintln(os.Stderr, "usage: crucible <suite.yaml> [suite.yaml ...]")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("crucible: starting",
		"system", cfg.System,
		"stage_dir", cfg.StageDir,
		"db_path", cfg.DBPath,
		"concurrency", cfg.Concurrency,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	registry := job.NewRegistry()
	registry.Register(job.LocalName, job.NewLocal(logger))

	ld := loader.New(cfg.System, logger)
	for _, path := range suites {
		if err := ld.LoadSuite(path); err != nil {
			logger.Error("load suite", "path", path, "error", err)
			return 2
		}
	}

	queue := ld.Load()
	if len(queue.Cases) == 0 && len(queue.Rejected) == 0 && len(queue.Skipped) == 0 {
		logger.Warn("no cases to run")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pcfg := pipeline.Config{
		System:       cfg.System,
		PollInterval: cfg.PollInterval,
		JobTimeout:   cfg.JobTimeout,
	}
	pool := runner.NewPool(cfg.Concurrency, pcfg, registry, db, cfg.StageDir, logger)

	// The status server shares the run's lifetime; it is torn down once the
	// pool drains.
	var srvDone chan error
	if cfg.ServeAPI {
		srv := api.NewServer(cfg.ListenAddr, db, pool.Broker(), logger)
		srvCtx, srvCancel := context.WithCancel(context.Background())
		defer srvCancel()
		srvDone = make(chan error, 1)
		go func() {
			srvDone <- srv.Run(srvCtx)
		}()
		defer func() {
			srvCancel()
			if err := <-srvDone; err != nil {
				logger.Error("server", "error", err)
			}
		}()
	}

	summary, fatal := pool.Run(ctx, queue)

	counts := map[string]int{}
	for _, r := range summary.Results {
		counts[r.State]++
	}
	logger.Info("run finished",
		"passed", counts[model.ResultPassed],
		"failed", counts[model.ResultFailed],
		"aborted", counts[model.ResultAborted],
		"skipped", len(summary.Skipped),
		"rejected", len(summary.Rejected),
	)
	for _, r := range summary.Results {
		if r.State == model.ResultFailed || r.State == model.ResultAborted {
			logger.Warn("case did not pass",
				"case", r.Name,
				"state", r.State,
				"kind", string(r.FailureKind),
				"error", r.Error,
			)
		}
	}

	if fatal != nil {
		logger.Error("run stopped early", "error", fatal)
		return 1
	}
	return summary.ExitCode()
}
