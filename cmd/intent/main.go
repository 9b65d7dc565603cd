// Command intent fine-tunes the transformer intent classifier on the
// first labelled CSV under the data root and prints its report.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/cvalentine99/nfa-intent/internal/cli"
	"github.com/cvalentine99/nfa-intent/internal/intent"
	"github.com/cvalentine99/nfa-intent/internal/logging"
)

func main() {
	var opts cli.Options
	opts.Register(flag.CommandLine)
	textCol := flag.String("text-col", "", "column holding ready-made text (default: field tokens of every row)")
	backend := flag.String("backend", "", "trainer backend: local or sidecar (overrides the config file)")
	flag.Parse()

	cfg, err := opts.Config()
	if err != nil {
		opts.Fatal("failed to load configuration", err)
	}
	if *backend != "" {
		cfg.Intent.Backend = *backend
	}

	if err := opts.StartProfile(intent.PipelineName); err != nil {
		opts.Fatal("failed to start profiler", err)
	}
	defer opts.Close()

	df, input, err := opts.Load(cfg)
	if err != nil {
		opts.Fatal("failed to load dataset", err)
	}

	deps, err := intent.NewDeps(cfg.Intent)
	if err != nil {
		opts.Fatal("failed to initialize model", err)
	}
	opts.OnExit(func() {
		if err := deps.Trainer.Close(); err != nil {
			logging.Warn("failed to release trainer", logging.Err(err))
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	p := intent.New(cfg, deps)
	p.InputPath = input
	report, err := p.TrainAndEval(ctx, df, *textCol)
	stop()
	if err != nil {
		opts.Fatal("intent pipeline failed", err)
	}

	if err := opts.WriteMetrics(p.Metrics); err != nil {
		opts.Fatal("failed to write metrics", err)
	}
	if err := cli.PrintJSON(os.Stdout, report); err != nil {
		opts.Fatal("failed to print report", err)
	}
}
