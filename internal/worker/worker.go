// Package worker implements a heatgrid worker node: it connects to the
// coordinator, relaxes every band it is sent, and exits when told to stop
// or when the coordinator goes away.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dreamware/heatgrid/internal/grid"
	"github.com/dreamware/heatgrid/internal/protocol"
)

// ErrRetriesExhausted is returned by Dial when every connection attempt failed.
var ErrRetriesExhausted = errors.New("connection retries exhausted")

// ErrUnexpectedMessage is returned when the coordinator sends a message a
// worker never expects, such as a ResultUnit.
var ErrUnexpectedMessage = errors.New("unexpected message")

// Config holds the worker connection settings.
type Config struct {
	Host       string        // Coordinator host
	Port       int           // Coordinator port
	RetryDelay time.Duration // Fixed delay between connection attempts
	MaxRetries int           // Attempts before giving up
}

// DefaultConfig returns the settings used when the worker is started
// without arguments.
func DefaultConfig() Config {
	return Config{
		Host:       "localhost",
		Port:       5000,
		RetryDelay: time.Second,
		MaxRetries: 10,
	}
}

// Addr returns the coordinator address in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Dial connects to the coordinator, retrying refused or failed attempts
// with a fixed delay.
//
// Retry strategy:
//   - up to MaxRetries attempts (at least one)
//   - RetryDelay between attempts
//   - each failure is logged as a transient retry
//   - after the last attempt the error wraps ErrRetriesExhausted
//
// Cancelling ctx stops the retry loop and returns ctx.Err().
func Dial(ctx context.Context, cfg Config) (*protocol.Conn, error) {
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	addr := cfg.Addr()
	var dialer net.Dialer
	var lastErr error

	for i := 0; i < attempts; i++ {
		c, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			log.Printf("worker: connected to coordinator @ %s", addr)
			return protocol.NewConn(c), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		log.Printf("worker: connect retry %d/%d: %v", i+1, attempts, err)

		if i == attempts-1 {
			break
		}
		t := time.NewTimer(cfg.RetryDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, addr, attempts, lastErr)
}

// Node is the request/response loop of a single worker. It has one
// outstanding request at a time and blocks on the network between them.
type Node struct {
	iterations atomic.Int64
}

// NewNode creates an idle node.
func NewNode() *Node {
	return &Node{}
}

// Iterations returns how many Work Units the node has answered.
func (n *Node) Iterations() int {
	return int(n.iterations.Load())
}

// Serve answers Work Units on conn until the coordinator sends Terminate or
// closes the connection; both return nil. The connection is not closed by
// Serve.
//
// Cancelling ctx closes the stream from under a blocked read; Serve then
// returns ctx.Err().
func (n *Node) Serve(ctx context.Context, conn *protocol.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	peer := conn.RemoteAddr()
	for {
		msg, err := conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				log.Printf("worker: coordinator %s closed the connection", peer)
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}

		switch m := msg.(type) {
		case protocol.Terminate:
			log.Printf("worker: terminate received after %d iterations", n.Iterations())
			return nil

		case *protocol.WorkUnit:
			rows, maxChange := grid.RelaxBand(m.Band)
			if err := conn.Send(&protocol.ResultUnit{Rows: rows, MaxChange: maxChange}); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("send result: %w", err)
			}
			if it := n.iterations.Add(1); it%100 == 0 {
				log.Printf("worker: iteration %d rows [%d,%d) max_change=%.6f", it, m.StartRow, m.EndRow, maxChange)
			}

		default:
			return fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.Kind())
		}
	}
}

// Run connects to the coordinator and serves until the run ends.
func Run(ctx context.Context, cfg Config) error {
	conn, err := Dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	return NewNode().Serve(ctx, conn)
}
