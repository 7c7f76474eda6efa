// Command optimize runs one optimization job file against the remote
// backtest service and prints the best parameter sets.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/copyleftdev/stratopt/internal/backtest/remote"
	"github.com/copyleftdev/stratopt/internal/config"
	"github.com/copyleftdev/stratopt/internal/jobfile"
	"github.com/copyleftdev/stratopt/internal/logging"
	"github.com/copyleftdev/stratopt/internal/optimization"
	"github.com/copyleftdev/stratopt/internal/optimization/engine"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

func main() {
	var (
		jobPath     = flag.String("job", config.GetEnv("STRATOPT_JOB", ""), "path to the YAML job file")
		backtestURL = flag.String("backtest-url", "", "backtest service URL (overrides BACKTEST_URL)")
		output      = flag.String("output", "", "write the full result as JSON to this file")
		top         = flag.Int("top", 10, "number of best trials to print")
		quiet       = flag.Bool("quiet", false, "do not show a progress bar")
	)
	flag.Parse()

	if *jobPath == "" {
		fmt.Fprintln(os.Stderr, "a job file is required (-job or STRATOPT_JOB)")
		flag.Usage()
		os.Exit(2)
	}

	os.Exit(run(*jobPath, *backtestURL, *output, *top, *quiet))
}

func run(jobPath, backtestURL, output string, top int, quiet bool) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitFailure
	}

	logger, err := logging.NewLogger(cfg.LoggingConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return exitFailure
	}
	defer func() { _ = logger.Sync() }()

	job, err := jobfile.Load(jobPath)
	if err != nil {
		logger.Error("Invalid job file", zap.String("path", jobPath), zap.Error(err))
		return exitFailure
	}
	space, err := job.Space()
	if err != nil {
		logger.Error("Invalid parameter space", zap.String("path", jobPath), zap.Error(err))
		return exitFailure
	}

	remoteCfg := cfg.RemoteBacktest()
	if backtestURL != "" {
		remoteCfg.URL = backtestURL
	}
	backtester, err := remote.New(remoteCfg, remote.WithLogger(logger))
	if err != nil {
		logger.Error("Failed to create backtest client", zap.Error(err))
		return exitFailure
	}

	opts := []engine.Option{
		engine.WithLogger(logger.With(zap.String("strategy", job.Strategy.Name))),
		engine.WithDefaultSeed(cfg.Optimization.DefaultSeed),
		engine.WithMaxCombinations(cfg.Optimization.MaxGridCombination),
		engine.WithTrialTimeout(cfg.Optimization.TrialTimeout),
		engine.WithInterruptSignals(os.Interrupt, syscall.SIGTERM),
	}
	if !quiet {
		opts = append(opts, engine.WithProgress(progressReporter(logger)))
	}

	result, err := engine.Optimize(context.Background(), backtester, space, job.Strategy, job.Optimization, opts...)
	if err != nil {
		logger.Error("Optimization rejected", zap.Error(err))
		return exitFailure
	}

	if err := writeSummary(os.Stdout, job, result, top); err != nil {
		logger.Error("Failed to write summary", zap.Error(err))
	}

	if output != "" {
		if err := writeResult(output, result); err != nil {
			logger.Error("Failed to write result", zap.String("path", output), zap.Error(err))
			return exitFailure
		}
		logger.Info("Result written", zap.String("path", output))
	}

	if result.WasInterrupted {
		return exitInterrupted
	}
	return exitOK
}

// progressReporter draws a progress bar once the number of planned trials
// is known.
func progressReporter(logger *zap.Logger) engine.ProgressFunc {
	var bar *progressbar.ProgressBar
	return func(p engine.Progress) {
		if bar == nil {
			bar = progressbar.Default(int64(p.Planned), "optimizing")
		}
		if err := bar.Set(p.Completed); err != nil {
			logger.Warn("update progressbar fail", zap.Error(err))
		}
	}
}

func writeResult(path string, result *optimization.OptimizationResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
