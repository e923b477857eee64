// roopcam - live face and voice transformation for a webcam and microphone.
// Serves the control API and preview on HTTP and streams the result over
// WebRTC.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/roopcam/internal/app"
	"github.com/teslashibe/roopcam/internal/config"
	"github.com/teslashibe/roopcam/internal/log"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("ROOPCAM_CONFIG"), "Path to YAML config file")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	addr := flag.String("addr", "", "Listen address (overrides server.addr)")
	autostart := flag.Bool("autostart", false, "Start capture immediately")
	static := flag.String("static", "", "Directory of web UI assets to serve")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Init("info")
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *debug {
		cfg.Server.LogLevel = "debug"
	}
	log.Init(cfg.Server.LogLevel)
	logger := log.Component(nil, "roopcam")

	a, err := app.New(cfg, app.Options{
		Version:   version,
		Debug:     *debug,
		Autostart: *autostart,
		StaticDir: *static,
	}, logger)
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Init(ctx); err != nil {
		logger.Error("initialization failed", "error", err)
		shutdown(a)
		os.Exit(1)
	}

	err = a.Run(ctx)
	shutdown(a)
	if err != nil {
		logger.Error("runtime error", "error", err)
		os.Exit(1)
	}
}

func shutdown(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.Shutdown(ctx)
}
