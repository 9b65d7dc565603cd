// Command baseline trains the gradient-boosted tree baseline on the
// first labelled CSV under the data root and prints its report.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/cvalentine99/nfa-intent/internal/baseline"
	"github.com/cvalentine99/nfa-intent/internal/cli"
)

func main() {
	var opts cli.Options
	opts.Register(flag.CommandLine)
	flag.Parse()

	cfg, err := opts.Config()
	if err != nil {
		opts.Fatal("failed to load configuration", err)
	}

	if err := opts.StartProfile(baseline.PipelineName); err != nil {
		opts.Fatal("failed to start profiler", err)
	}
	defer opts.Close()

	df, input, err := opts.Load(cfg)
	if err != nil {
		opts.Fatal("failed to load dataset", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := baseline.New(cfg)
	p.InputPath = input
	report, err := p.TrainAndEval(ctx, df)
	if err != nil {
		opts.Fatal("baseline failed", err)
	}

	if err := opts.WriteMetrics(p.Metrics); err != nil {
		opts.Fatal("failed to write metrics", err)
	}
	if err := cli.PrintJSON(os.Stdout, report); err != nil {
		opts.Fatal("failed to print report", err)
	}
}
