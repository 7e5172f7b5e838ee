package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/obsidianstack/spikeqc/agent/internal/compute"
	"github.com/obsidianstack/spikeqc/agent/internal/config"
	"github.com/obsidianstack/spikeqc/agent/internal/shipper"
)

// drainTimeout bounds how long a -once run waits for buffered reports.
const drainTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "evaluate every session once, export and ship, then exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("spikeqc-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	opts, err := cfg.Agent.Metrics.EngineOptions()
	if err != nil {
		slog.Error("invalid metrics config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"server_endpoint", cfg.Agent.ServerEndpoint,
		"sessions", len(cfg.Agent.Sessions),
		"interval", cfg.Agent.Interval,
		"workers", cfg.Agent.Workers,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine := compute.NewEngine(opts)

	var (
		ship   *shipper.Shipper
		shipFn shipFunc
	)
	if cfg.Agent.ServerEndpoint != "" {
		ship = shipper.New(cfg.Agent)
		shipFn = ship.Ship
		go ship.Run(ctx)
	} else {
		slog.Info("no server_endpoint configured, reports are exported locally only")
	}

	r := newRunner(engine, shipFn)
	r.apply(cfg.Agent)

	if *once {
		r.cycle(ctx, time.Now())
		if ship != nil {
			waitDrained(ctx, ship)
		}
		slog.Info("spikeqc-agent finished single run")
		return
	}

	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			opts, err := updated.Agent.Metrics.EngineOptions()
			if err != nil {
				slog.Error("config reload rejected", "err", err)
				return
			}
			engine.SetOptions(opts)
			r.apply(updated.Agent)
			slog.Info("config hot-reloaded", "sessions", len(updated.Agent.Sessions))
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	// Evaluate immediately, then every interval.
	go func() {
		r.cycle(ctx, time.Now())
		ticker := time.NewTicker(cfg.Agent.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				r.cycle(ctx, t)
			}
		}
	}()

	<-ctx.Done()
	slog.Info("spikeqc-agent shutting down")
}

// waitDrained polls the shipper until its buffer is empty or drainTimeout elapses.
func waitDrained(ctx context.Context, ship *shipper.Shipper) {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for ship.Pending() > 0 {
		select {
		case <-ctx.Done():
			slog.Warn("reports still pending at exit", "pending", ship.Pending())
			return
		case <-ticker.C:
		}
	}
}
