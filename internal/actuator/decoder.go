package actuator

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"botlink/internal/command"
)

// DefaultTick is the robot loop cadence.
const DefaultTick = 10 * time.Millisecond

// Receiver is the robot end of the control channel. Read returns the most
// recent unread token, or ok=false immediately when there is none.
type Receiver interface {
	Read() (token string, ok bool)
}

// linkState is implemented by receivers that can tell whether a controller
// is attached.
type linkState interface {
	Connected() bool
}

// Decoder runs the robot loop: read at most one token, reduce, act, sleep.
type Decoder struct {
	rx     Receiver
	motors Motors
	clock  clockwork.Clock
	cfg    Config
	tick   time.Duration
	logger *slog.Logger

	state  State
	states chan State
}

// NewDecoder builds a Decoder. tick <= 0 selects DefaultTick.
func NewDecoder(rx Receiver, motors Motors, clk clockwork.Clock, cfg Config, tick time.Duration, logger *slog.Logger) *Decoder {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if tick <= 0 {
		tick = DefaultTick
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{
		rx:     rx,
		motors: motors,
		clock:  clk,
		cfg:    cfg,
		tick:   tick,
		logger: logger,
		states: make(chan State, 1),
	}
}

// State returns the current state. Only safe from the loop's goroutine or
// while the loop is not running; other goroutines use States.
func (d *Decoder) State() State { return d.state }

// States delivers the state after each cycle that changed it. Only the
// latest value is kept.
func (d *Decoder) States() <-chan State { return d.states }

// Step runs one cycle at now.
func (d *Decoder) Step(now time.Time) {
	before := d.state

	up := true
	if ls, ok := d.rx.(linkState); ok {
		up = ls.Connected()
		switch {
		case up && !d.state.LinkUp:
			d.logger.Info("controller connected")
			d.apply(LinkUp{At: now})
		case !up && d.state.LinkUp:
			d.logger.Warn("controller link lost, stopping all motors")
			d.apply(LinkLost{At: now})
		}
	}

	if token, ok := d.rx.Read(); ok {
		cmd, err := command.Parse(token)
		switch {
		case !up:
			// A token left over from a dropped link must not restart motors.
			d.logger.Debug("discarding token, no controller", "token", token)
		case err != nil:
			d.logger.Debug("ignoring token", "token", token, "error", err)
		default:
			d.logger.Info("received", "command", cmd)
			d.apply(Received{Command: cmd, At: now})
		}
	}

	trips := d.state.WatchdogTrips
	d.apply(Tick{Now: now})
	if d.state.WatchdogTrips != trips {
		d.logger.Warn("no command within watchdog, stopping all motors",
			"watchdog", d.cfg.Watchdog, "last_command", d.state.LastCommand)
	}

	if d.state != before {
		d.publish()
	}
}

func (d *Decoder) apply(ev Event) {
	rr := Reduce(d.state, ev, d.cfg)
	d.state = rr.State
	for _, fx := range rr.Effects {
		runEffect(d.motors, fx, d.logger)
	}
}

// publish replaces any unread state with the current one.
func (d *Decoder) publish() {
	for {
		select {
		case d.states <- d.state:
			return
		default:
		}
		select {
		case <-d.states:
		default:
		}
	}
}

// Run loops until ctx is canceled. On the way out all motors are stopped.
func (d *Decoder) Run(ctx context.Context) error {
	d.logger.Info("robot loop started", "tick", d.tick, "watchdog", d.cfg.Watchdog)
	d.publish()
	for {
		d.Step(d.clock.Now())

		select {
		case <-ctx.Done():
			d.logger.Info("robot loop stopping, stopping all motors")
			for _, fx := range stopEverything(d.state).Effects {
				runEffect(d.motors, fx, d.logger)
			}
			return ctx.Err()
		case <-d.clock.After(d.tick):
		}
	}
}
