// Package status publishes the robot's actuator state on a local unix
// socket for operators. Each connected client receives a stream of CBOR
// encoded Snapshot frames. Nothing here flows back to the controller.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"botlink/internal/actuator"
	"botlink/internal/command"
)

const (
	DefaultSocketPath = "/tmp/botlink.sock"
	DefaultInterval   = 100 * time.Millisecond
)

// Snapshot is one status frame.
type Snapshot struct {
	Robot         string          `cbor:"robot"`
	Controller    string          `cbor:"controller,omitempty"`
	LinkUp        bool            `cbor:"link_up"`
	Driving       bool            `cbor:"driving"`
	ArmMoving     bool            `cbor:"arm_moving"`
	LastCommand   command.Command `cbor:"last_command"`
	LastCommandAt time.Time       `cbor:"last_command_at"`
	Rejected      uint64          `cbor:"rejected"`
	WatchdogTrips uint64          `cbor:"watchdog_trips"`
	At            time.Time       `cbor:"at"`
}

// FromState builds a snapshot of s taken at at.
func FromState(robot, controller string, s actuator.State, at time.Time) Snapshot {
	return Snapshot{
		Robot:         robot,
		Controller:    controller,
		LinkUp:        s.LinkUp,
		Driving:       s.Driving,
		ArmMoving:     s.ArmMoving,
		LastCommand:   s.LastCommand,
		LastCommandAt: s.LastCommandAt,
		Rejected:      s.Rejected,
		WatchdogTrips: s.WatchdogTrips,
		At:            at,
	}
}

// Server streams the latest published snapshot to every client at a fixed
// interval.
type Server struct {
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	latest Snapshot
	have   bool
}

func NewServer(interval time.Duration, logger *slog.Logger) *Server {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{interval: interval, logger: logger}
}

// Publish replaces the snapshot handed to clients.
func (s *Server) Publish(snap Snapshot) {
	s.mu.Lock()
	s.latest = snap
	s.have = true
	s.mu.Unlock()
}

func (s *Server) snapshot() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.have
}

// ListenAndServe serves on a unix socket at socketPath until ctx is
// canceled. A stale socket file is replaced.
func (s *Server) ListenAndServe(ctx context.Context, socketPath string) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0o666); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts clients on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	s.logger.Info("status listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("status accept error", "error", err)
			continue
		}
		go s.stream(ctx, conn)
	}
}

// stream writes frames to one client until it goes away.
func (s *Server) stream(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	s.logger.Debug("status client connected")

	enc := newEncoder(conn)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	send := func() bool {
		snap, ok := s.snapshot()
		if !ok {
			return true
		}
		conn.SetWriteDeadline(time.Now().Add(s.interval + time.Second))
		if err := enc.Encode(snap); err != nil {
			s.logger.Debug("status client gone", "error", err)
			return false
		}
		return true
	}

	if !send() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}

// Client reads snapshot frames from a status socket.
type Client struct {
	conn net.Conn
	dec  interface{ Decode(any) error }
}

// Dial connects to the status socket at socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	return &Client{conn: conn, dec: newDecoder(conn)}, nil
}

// Next blocks for the next frame.
func (c *Client) Next() (Snapshot, error) {
	var snap Snapshot
	if err := c.dec.Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("read status frame: %w", err)
	}
	return snap, nil
}

func (c *Client) Close() error { return c.conn.Close() }
