// Package encoder turns sampled button sets into command tokens on the
// controller side and decides when each token goes on the wire.
package encoder

import (
	"time"

	"botlink/internal/buttons"
	"botlink/internal/command"
)

// Resolve maps the held buttons to at most one command.
//
// CENTER selects arm mode: UP raises, DOWN lowers, anything else stops the
// arm. Without CENTER the drive buttons apply with priority UP > DOWN > LEFT
// > RIGHT. With nothing held, the last transmitted command decides which
// subsystem gets a stop; None means there is nothing to say.
func Resolve(set buttons.Set, lastSent command.Command) command.Command {
	if set.Has(buttons.Center) {
		switch {
		case set.Has(buttons.Up):
			return command.ArmUp
		case set.Has(buttons.Down):
			return command.ArmDown
		default:
			return command.StopArm
		}
	}

	switch {
	case set.Has(buttons.Up):
		return command.Forward
	case set.Has(buttons.Down):
		return command.Backward
	case set.Has(buttons.Left):
		return command.Left
	case set.Has(buttons.Right):
		return command.Right
	}

	switch {
	case lastSent.IsDrive():
		return command.StopDrive
	case lastSent.IsArm():
		return command.StopArm
	}
	return command.None
}

// Session is the controller's transmit memory: the last command sent and
// when the heartbeat timer was last reset.
type Session struct {
	LastSent command.Command
	SentAt   time.Time
}

// NewSession returns a session with nothing sent and the timer started at now.
func NewSession(now time.Time) Session {
	return Session{SentAt: now}
}

// Decide reports whether cmd must be transmitted at now.
//
// A changed command is sent unless it is None. An unchanged continuous
// command is re-sent once more than resend has passed since it was last
// sent, which keeps the robot's receive slot topped up while a button is
// held. Stops are sent once.
func (s Session) Decide(cmd command.Command, now time.Time, resend time.Duration) bool {
	if cmd != s.LastSent {
		return cmd != command.None
	}
	return cmd.IsContinuous() && now.Sub(s.SentAt) > resend
}

// Sent records a successful transmit of cmd at now.
func (s *Session) Sent(cmd command.Command, now time.Time) {
	s.LastSent = cmd
	s.SentAt = now
}
