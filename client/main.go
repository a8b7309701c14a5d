// Package main implements the bmpow command-line client.
//
// The client runs Bitmessage-style proof-of-work searches either locally,
// using all requested CPU cores, or remotely against a bmpow service over
// its REST API. Remote work can be synchronous or submitted as a job and
// polled until it completes. A verify mode checks an existing nonce without
// searching.
//
// Configuration comes from flags, environment variables with the
// BMPOW_CLIENT_ prefix, and client-config.yaml.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fatih/color"

	"bmpow/config"
	"bmpow/logger"
	"bmpow/pow"
)

// displayInterval is how often the live hash rate line is refreshed.
const displayInterval = time.Second

type clientFlags struct {
	configPath string
	serverURL  string
	authToken  string
	digest     string
	target     uint64
	workers    int
	maxNonce   uint64
	remote     bool
	async      bool
	verify     bool
	nonce      uint64
}

func parseFlags() *clientFlags {
	f := &clientFlags{}
	flag.StringVar(&f.configPath, "config", "", "Path to config file")
	flag.StringVar(&f.serverURL, "server", "", "bmpow service URL (overrides config)")
	flag.StringVar(&f.authToken, "token", "", "API auth token (overrides config)")
	flag.StringVar(&f.digest, "digest", "", "Hex-encoded 64-byte initial hash (required)")
	flag.Uint64Var(&f.target, "target", 0, "Proof-of-work target (required)")
	flag.IntVar(&f.workers, "workers", 0, "Worker count, 0 = one per CPU core")
	flag.Uint64Var(&f.maxNonce, "max-nonce", 0, "Highest nonce to try, 0 = engine default")
	flag.BoolVar(&f.remote, "remote", false, "Run the search on the remote service")
	flag.BoolVar(&f.async, "async", false, "Submit a remote job and poll instead of blocking")
	flag.BoolVar(&f.verify, "verify", false, "Verify -nonce against -target and -digest")
	flag.Uint64Var(&f.nonce, "nonce", 0, "Nonce to verify (with -verify)")
	flag.Parse()
	return f
}

// parseDigest decodes and length-checks the hex initial hash.
func parseDigest(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: -digest is required", pow.ErrBadInput)
	}
	digest, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: digest is not valid hex: %v", pow.ErrBadInput, err)
	}
	if len(digest) != pow.HashSize {
		return nil, fmt.Errorf("%w: digest is %d bytes, want %d", pow.ErrBadInput, len(digest), pow.HashSize)
	}
	return digest, nil
}

// formatHashRate renders a hashes-per-second figure with a unit suffix.
func formatHashRate(hashesPerSec float64) string {
	switch {
	case hashesPerSec >= 1e9:
		return fmt.Sprintf("%.2f GH/s", hashesPerSec/1e9)
	case hashesPerSec >= 1e6:
		return fmt.Sprintf("%.2f MH/s", hashesPerSec/1e6)
	case hashesPerSec >= 1e3:
		return fmt.Sprintf("%.2f kH/s", hashesPerSec/1e3)
	default:
		return fmt.Sprintf("%.0f H/s", hashesPerSec)
	}
}

func main() {
	flags := parseFlags()

	cfg, err := config.LoadClientConfig(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromClientConfig(cfg)
	logger.Set(log)

	// Flags win over the config file.
	if flags.serverURL != "" {
		cfg.Server.URL = flags.serverURL
	}
	if flags.authToken != "" {
		cfg.Server.AuthToken = flags.authToken
	}
	workers := cfg.Search.Workers
	if flags.workers != 0 {
		workers = flags.workers
	}
	maxNonce := cfg.Search.MaxNonce
	if flags.maxNonce != 0 {
		maxNonce = flags.maxNonce
	}

	digest, err := parseDigest(flags.digest)
	if err != nil {
		log.Error("invalid digest", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case flags.verify:
		runVerify(flags.nonce, flags.target, digest)
	case flags.remote:
		client := newServiceClient(cfg)
		if flags.async {
			err = runRemoteJob(ctx, client, flags.target, digest, workers, maxNonce)
		} else {
			err = runRemoteSearch(ctx, client, flags.target, digest, workers, maxNonce)
		}
		if err != nil {
			reportFailure(err)
			os.Exit(1)
		}
	default:
		if err := runLocalSearch(ctx, flags.target, digest, workers, maxNonce); err != nil {
			reportFailure(err)
			os.Exit(1)
		}
	}
}

// runVerify checks a nonce and exits with status 0 or 1.
func runVerify(nonce, target uint64, digest []byte) {
	if pow.Verify(nonce, target, digest) {
		color.Green("✓ nonce %d satisfies target %d", nonce, target)
		return
	}
	color.Red("✗ nonce %d does not satisfy target %d", nonce, target)
	os.Exit(1)
}

// runLocalSearch performs the search in-process with a live hash rate line.
// The search itself always runs to a terminal outcome; cancellation only
// abandons the wait.
func runLocalSearch(ctx context.Context, target uint64, digest []byte, workers int, maxNonce uint64) error {
	if workers == 0 {
		workers = defaultWorkerCount()
	}
	fmt.Printf("Searching locally with %d workers (target %d)...\n", workers, target)

	attempts := new(atomic.Uint64)
	start := time.Now()

	type outcome struct {
		res pow.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := pow.SearchDetailed(workers, target, digest, maxNonce, attempts)
		done <- outcome{res, err}
	}()

	ticker := time.NewTicker(displayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			elapsed := time.Since(start).Seconds()
			if elapsed > 0 {
				rate := float64(attempts.Load()) / elapsed
				fmt.Printf("Searching... %s, %d hashes\r", formatHashRate(rate), attempts.Load())
			}
		case <-ctx.Done():
			fmt.Println("\nInterrupted, abandoning search")
			return ctx.Err()
		case out := <-done:
			fmt.Println()
			if out.err != nil {
				return out.err
			}
			reportSuccess(out.res.Nonce, out.res.Hashes, out.res.Elapsed)
			return nil
		}
	}
}

func reportSuccess(nonce, hashes uint64, elapsed time.Duration) {
	rate := float64(0)
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(hashes) / secs
	}
	color.Green("✓ nonce found: %d", nonce)
	fmt.Printf("  hashes:  %d\n", hashes)
	fmt.Printf("  elapsed: %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  rate:    %s\n", formatHashRate(rate))
}

func reportFailure(err error) {
	color.Red("✗ search failed (status %d): %v", pow.StatusOf(err), err)
}

// defaultWorkerCount sizes the local pool to the machine.
func defaultWorkerCount() int {
	n := runtime.NumCPU()
	if n > pow.MaxPoolSize {
		n = pow.MaxPoolSize
	}
	return n
}
