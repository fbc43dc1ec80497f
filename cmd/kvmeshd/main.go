// Command kvmeshd runs the kvmesh cache daemon: a single long-running
// process with no positional arguments (spec §6). It binds the
// configured listener port, serves the framed JSON protocol, and
// exits 0 on a graceful stop signal or non-zero when the listener
// fails to bind or the configured capacity is non-positive.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kvmesh/kvmesh/internal/cache"
	"github.com/kvmesh/kvmesh/internal/config"
	"github.com/kvmesh/kvmesh/internal/events"
	"github.com/kvmesh/kvmesh/internal/logx"
	"github.com/kvmesh/kvmesh/internal/registry"
	"github.com/kvmesh/kvmesh/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a kvmesh.toml configuration file (optional)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kvmeshd: config error:", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "kvmeshd:", err)
		return 1
	}

	zlog, err := logx.NewZap(cfg.LogFile, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kvmeshd: logger error:", err)
		return 1
	}
	defer zlog.Sync()

	bus := events.NewBus(zlog)
	subs := registry.New(zlog)
	server.RegisterEventFanout(bus, subs)

	store := cache.New(cfg.MaxItems, bus, zlog)

	srv := server.New(cfg.Port, cfg.CleanupInterval, store, subs, zlog)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	zlog.Record(logx.Info, "kvmeshd starting",
		logx.F("port", cfg.Port),
		logx.F("max_items", cfg.MaxItems),
		logx.F("cleanup_interval", cfg.CleanupInterval.String()))

	if err := srv.Serve(ctx); err != nil {
		zlog.Record(logx.Error, "kvmeshd listener failed", logx.F("error", err.Error()))
		return 1
	}

	zlog.Record(logx.Info, "kvmeshd stopped")
	return 0
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.New(), nil
	}
	return config.Load(path)
}
