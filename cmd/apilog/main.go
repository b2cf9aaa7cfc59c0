// Command apilog consumes API lifecycle events from the bus, exposes the
// aggregated Prometheus metrics and writes one log row per event.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/drblury/apilog/internal/runtime"
	"github.com/drblury/apilog/internal/runtime/config"
	"github.com/drblury/apilog/internal/runtime/logging"
	_ "github.com/drblury/apilog/transport/transports"
)

const serviceName = "apilog"

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
	fs := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML, JSON or TOML config file")
	config.RegisterFlags(fs)
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

	svc, err := runtime.NewService(ctx, cfg, logger, runtime.ServiceDependencies{})
	if err != nil {
		logger.Error("Failed to build service", err, nil)
		return err
	}
	if err := svc.Start(ctx); err != nil {
		logger.Error("Service stopped with error", err, nil)
		return err
	}
	logger.Info("Service stopped", nil)
	return nil
}
