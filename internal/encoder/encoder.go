package encoder

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"botlink/internal/buttons"
	"botlink/internal/command"
)

const (
	DefaultTick           = 20 * time.Millisecond
	DefaultBackoff        = 50 * time.Millisecond
	DefaultResendInterval = 150 * time.Millisecond
)

// Sender transmits one token on the control channel. Delivery is not
// acknowledged.
type Sender interface {
	Send(token string) error
}

// Config holds the controller loop timing.
type Config struct {
	Tick           time.Duration
	Backoff        time.Duration
	ResendInterval time.Duration
}

// DefaultConfig returns the compiled-in timing.
func DefaultConfig() Config {
	return Config{
		Tick:           DefaultTick,
		Backoff:        DefaultBackoff,
		ResendInterval: DefaultResendInterval,
	}
}

// Encoder runs the controller loop: sample, resolve, decide, send, sleep.
// It owns its Session; nothing else mutates it.
type Encoder struct {
	source buttons.Source
	sender Sender
	clock  clockwork.Clock
	cfg    Config
	logger *slog.Logger

	session Session
	// OnSend, if set, is called after every successful transmit.
	OnSend func(command.Command)
}

// New builds an Encoder. The session timer starts at clk.Now().
func New(source buttons.Source, sender Sender, clk clockwork.Clock, cfg Config, logger *slog.Logger) *Encoder {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Encoder{
		source:  source,
		sender:  sender,
		clock:   clk,
		cfg:     cfg,
		logger:  logger,
		session: NewSession(clk.Now()),
	}
}

// Session returns a copy of the current session.
func (e *Encoder) Session() Session { return e.session }

// Step runs one cycle without sleeping. ok is false when the source had no
// sample; in that case nothing else happened.
func (e *Encoder) Step() (cmd command.Command, sent bool, ok bool) {
	set, ok := e.source.Sample()
	if !ok {
		return command.None, false, false
	}

	cmd = Resolve(set, e.session.LastSent)
	now := e.clock.Now()
	if !e.session.Decide(cmd, now, e.cfg.ResendInterval) {
		return cmd, false, true
	}

	if err := e.sender.Send(cmd.String()); err != nil {
		e.logger.Warn("send failed", "command", cmd, "error", err)
		return cmd, false, true
	}
	if cmd != e.session.LastSent {
		e.logger.Info("sending", "command", cmd, "buttons", set)
	} else {
		e.logger.Debug("heartbeat", "command", cmd)
	}
	e.session.Sent(cmd, now)
	if e.OnSend != nil {
		e.OnSend(cmd)
	}
	return cmd, true, true
}

// Run loops until ctx is canceled. An unavailable source backs off for
// Backoff; otherwise each cycle is followed by Tick. On cancellation Run
// sends a final STOP_ALL so the robot is not left moving, then returns
// ctx.Err().
func (e *Encoder) Run(ctx context.Context) error {
	e.logger.Info("controller loop started",
		"tick", e.cfg.Tick, "resend", e.cfg.ResendInterval)

	for {
		wait := e.cfg.Tick
		if _, _, ok := e.Step(); !ok {
			wait = e.cfg.Backoff
		}

		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case <-e.clock.After(wait):
		}
	}
}

func (e *Encoder) shutdown() {
	if err := e.sender.Send(command.StopAll.String()); err != nil {
		e.logger.Debug("final stop not sent", "error", err)
		return
	}
	e.logger.Info("sent final stop", "command", command.StopAll)
}
