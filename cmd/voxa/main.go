package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxa-ai/voxa/pkg/agent"
	"github.com/voxa-ai/voxa/pkg/runner"
)

type engineDrainer struct {
	engine *agent.Engine
}

func (d engineDrainer) Drain() error {
	d.engine.Stop()
	return nil
}

func main() {
	configPath := flag.String("config", "configs/voxa.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := agent.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	engine, err := agent.NewEngine(agent.EngineOptions{Config: cfg})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init engine: %v\n", err)
		os.Exit(1)
	}

	lr := runner.NewLifecycleRunner(engineDrainer{engine}, runner.Hooks{
		OnStart: func() {
			slog.Info("voxa running",
				"environment", cfg.Environment,
				"policy", cfg.Session.Policy)
		},
		OnStop: func() { slog.Info("voxa stopped") },
	}, time.Duration(cfg.Session.DrainTimeoutMS)*time.Millisecond)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := lr.Run(ctx); err != nil {
		slog.Error("shutdown", "error", err.Error())
		os.Exit(1)
	}
}
