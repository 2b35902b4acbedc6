// Command worker runs one heatgrid worker node. It connects to the
// coordinator, relaxes every band it receives and exits when the
// coordinator sends the Termination Signal or goes away.
//
// Usage:
//
//	worker [host] [port]
//
// host defaults to "localhost" and port to 5000.
//
// Optional environment:
//   - WORKER_RETRY_DELAY: delay between connection attempts (default: "1s")
//   - WORKER_MAX_RETRIES: connection attempts before giving up (default: 10)
//
// Exit codes:
//   - 0: terminated by the coordinator, connection lost, or interrupted
//   - 1: bad arguments or no coordinator reachable
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dreamware/heatgrid/internal/protocol"
	"github.com/dreamware/heatgrid/internal/worker"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		logFatal("worker: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Println("worker: interrupted")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		logFatal("worker: %v", err)
		return
	}
	log.Println("worker stopped")
}

// run serves one coordinator session. Losing the connection mid-run is not
// an error for the process: the coordinator owns the simulation and
// carries on without this worker.
func run(ctx context.Context, cfg worker.Config) error {
	err := worker.Run(ctx, cfg)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, worker.ErrRetriesExhausted):
		return err
	case errors.Is(err, protocol.ErrTransport):
		log.Printf("worker: connection lost: %v", err)
		return nil
	default:
		return err
	}
}

// parseArgs reads the positional host and port, and the retry settings
// from the environment.
func parseArgs(args []string) (worker.Config, error) {
	cfg := worker.DefaultConfig()
	if len(args) > 2 {
		return cfg, fmt.Errorf("usage: worker [host] [port]")
	}
	if len(args) > 0 {
		cfg.Host = args[0]
	}
	if len(args) > 1 {
		port, err := strconv.Atoi(args[1])
		if err != nil || port < 1 || port > 65535 {
			return cfg, fmt.Errorf("invalid port %q", args[1])
		}
		cfg.Port = port
	}

	delay, err := time.ParseDuration(getenv("WORKER_RETRY_DELAY", cfg.RetryDelay.String()))
	if err != nil {
		return cfg, fmt.Errorf("WORKER_RETRY_DELAY: %w", err)
	}
	cfg.RetryDelay = delay

	retries, err := strconv.Atoi(getenv("WORKER_MAX_RETRIES", strconv.Itoa(cfg.MaxRetries)))
	if err != nil {
		return cfg, fmt.Errorf("WORKER_MAX_RETRIES: %w", err)
	}
	cfg.MaxRetries = retries
	return cfg, nil
}

// getenv retrieves an environment variable with a default fallback value.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
