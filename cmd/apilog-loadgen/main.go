// Command apilog-loadgen drives simulated traffic against a JSON backend and
// publishes the resulting API events on the configured bus.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/drblury/apilog/internal/loadgen"
	"github.com/drblury/apilog/internal/runtime"
	"github.com/drblury/apilog/internal/runtime/config"
	"github.com/drblury/apilog/internal/runtime/logging"
	"github.com/drblury/apilog/transport"
	_ "github.com/drblury/apilog/transport/transports"
)

const serviceName = "apilog-loadgen"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	gen := loadgen.DefaultConfig()

	fs := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML, JSON or TOML config file")
	config.RegisterFlags(fs)
	fs.StringVar(&gen.BaseURL, "base-url", gen.BaseURL, "JSON backend the simulated calls go to")
	fs.StringSliceVar(&gen.Resources, "resources", gen.Resources, "resources under the base url")
	fs.Float64Var(&gen.Rate, "rate", gen.Rate, "calls per second at peak traffic")
	fs.IntVar(&gen.Workers, "workers", gen.Workers, "concurrent calls")
	fs.IntVar(&gen.QueueSize, "queue-size", gen.QueueSize, "pending calls before bursts are dropped")
	fs.Float64Var(&gen.ErrorRate, "error-rate", gen.ErrorRate, "share of calls answered with a simulated error")
	fs.IntVar(&gen.SweepEvery, "sweep-every", gen.SweepEvery, "GET every resource after this many created orders (0 disables)")
	fs.IntVar(&gen.MaxJobs, "max-jobs", gen.MaxJobs, "stop after this many calls (0 runs until interrupted)")
	seed := fs.Uint64("seed", 0, "random seed (0 picks one from the clock)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.NewSlogServiceLogger(logging.NewSlog(os.Stdout, serviceName, level, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, err := transport.Build(ctx, cfg, logging.NewWatermillAdapter(logger))
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Error("Failed to close transport", err, nil)
		}
	}()

	opts := []loadgen.Option{}
	if *seed != 0 {
		opts = append(opts, loadgen.WithSeed(*seed))
	}
	g, err := loadgen.New(gen, runtime.EventPublisher{Publisher: bus.Publisher}, logger, opts...)
	if err != nil {
		return err
	}
	return g.Run(ctx)
}
