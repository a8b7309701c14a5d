// Package main implements the bmpow proof-of-work service.
//
// The service accepts proof-of-work requests over a REST API, runs the
// parallel nonce search on behalf of callers, and reports results
// synchronously, through polled jobs, or over a WebSocket event feed. It
// supports TLS, bearer token authentication, configuration hot reload, and
// graceful shutdown.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"bmpow/config"
	"bmpow/logger"
	"bmpow/pow"
)

const shutdownTimeout = 10 * time.Second

// defaultWorkerCount is the pool size used when neither the request nor the
// configuration names one.
func defaultWorkerCount() int {
	n := runtime.NumCPU()
	if n > pow.MaxPoolSize {
		n = pow.MaxPoolSize
	}
	return n
}

// getAuthToken returns the API token from the BMPOW_AUTH_TOKEN environment
// variable, or generates a random one.
func getAuthToken() (string, bool, error) {
	if token := os.Getenv("BMPOW_AUTH_TOKEN"); token != "" {
		return token, false, nil
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", false, fmt.Errorf("generating auth token: %w", err)
	}
	return hex.EncodeToString(b), true, nil
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromServerConfig(cfg)
	logger.Set(log)

	if err := run(configPath, cfg); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, cfg *config.ServerConfig) error {
	log := logger.Get()

	token, generated, err := getAuthToken()
	if err != nil {
		return err
	}
	if generated {
		// Printed once at startup; operators pass it to API clients.
		fmt.Printf("Generated API auth token: %s\n", token)
		fmt.Println("Set BMPOW_AUTH_TOKEN to use a fixed token across restarts.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log)

	hub := NewHub(log)
	eventLog := NewEventLog(cfg.Logging.FilePath, cfg.Logging.UpdateInterval, nil, log)
	pool := NewJobPool(cfg.Pow, log, hub, eventLog)
	eventLog.stats = pool.Stats

	api := NewAPIServer(ctx, pool, hub, log, token, serverOptions{
		useTLS:       cfg.TLS.Enabled,
		certFile:     cfg.TLS.CertFile,
		keyFile:      cfg.TLS.KeyFile,
		readTimeout:  cfg.API.ReadTimeout,
		writeTimeout: cfg.API.WriteTimeout,
		idleTimeout:  cfg.API.IdleTimeout,
	})

	// Reloaded files adjust the pow limits and the logger without restart.
	err = config.WatchServerConfig(ctx, configPath, func(newCfg *config.ServerConfig) {
		pool.UpdateConfig(newCfg.Pow)
		logger.Set(logger.NewFromServerConfig(newCfg))
		logger.Get().Info("applied reloaded configuration")
	}, log)
	if err != nil {
		return fmt.Errorf("watching configuration: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		eventLog.Run(gctx)
		return nil
	})
	g.Go(func() error {
		pool.Janitor(gctx)
		return nil
	})
	g.Go(func() error {
		err := api.Start(cfg.Network.APIPort, cfg.Network.HTTPPort)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return api.Shutdown(shutdownCtx)
	})

	log.Info("bmpow service started",
		"api_port", cfg.Network.APIPort,
		"max_workers", cfg.Pow.MaxWorkers,
		"max_concurrent_jobs", cfg.Pow.MaxConcurrentJobs)

	return g.Wait()
}
