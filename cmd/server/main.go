package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MegaGrindStone/ollama-relay/internal/handlers"
	"github.com/MegaGrindStone/ollama-relay/internal/metrics"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if err := godotenv.Load(opts.Env); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatal(fmt.Errorf("error loading %s: %w", opts.Env, err))
	}

	cfgPath, required := opts.Config, true
	if cfgPath == "" {
		p, err := defaultConfigPath()
		if err != nil {
			log.Fatal(err)
		}
		cfgPath, required = p, false
	}

	cfg, err := loadConfig(cfgPath, required, os.Getenv)
	if err != nil {
		log.Fatal(err)
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}

	logger := cfg.logger(os.Stderr)

	ollama, err := cfg.newOllama()
	if err != nil {
		log.Fatal(err)
	}

	// The relay starts either way; the backend may come up later.
	hbCtx, hbCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := ollama.Heartbeat(hbCtx); err != nil {
		logger.Warn("Ollama server not available", slog.String("host", cfg.Ollama.Host), slog.String("error", err.Error()))
	} else {
		logger.Info("Ollama server reachable", slog.String("host", cfg.Ollama.Host), slog.String("model", ollama.Model()))
	}
	hbCancel()

	collector := metrics.NewCollector(nil)

	m, err := handlers.NewMain(ollama, cfg.handlerOptions(logger, collector))
	if err != nil {
		log.Fatal(err)
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           m.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to stop streams", slog.String("error", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting",
			slog.String("health", "http://"+cfg.Listen+"/health"),
			slog.String("ask", "POST http://"+cfg.Listen+"/ask"),
			slog.String("stream", "POST http://"+cfg.Listen+"/stream"))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("error", err.Error()))
		os.Exit(1)

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("error", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("error", err.Error()))
			}
		}
	}
}
