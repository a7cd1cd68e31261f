// Package actuator is the robot side of the link: it turns received command
// tokens into motor actions while enforcing that the arm never moves while
// the robot drives.
//
// The package is split the same way as the rest of the robot:
//
//   - Events are inputs (a received command, a timer tick, a lost link).
//   - Reduce computes the next State and the Effects to perform, without I/O.
//   - The Decoder loop reads the channel, reduces, and runs the Effects.
package actuator

import (
	"fmt"
	"time"

	"botlink/internal/command"
)

// ==============================
// Events
// ==============================

// Event is an input to Reduce.
type Event interface {
	eventMarker()
}

// Received carries one command read from the channel.
type Received struct {
	Command command.Command
	At      time.Time
}

func (Received) eventMarker() {}

// Tick is emitted by the loop on every cycle, whether or not a command
// arrived.
type Tick struct {
	Now time.Time
}

func (Tick) eventMarker() {}

// LinkLost is emitted once when the channel reports the controller gone.
type LinkLost struct {
	At time.Time
}

func (LinkLost) eventMarker() {}

// LinkUp is emitted once when a controller connects.
type LinkUp struct {
	At time.Time
}

func (LinkUp) eventMarker() {}

// ==============================
// Effects
// ==============================

// MotorID names one of the three actuators.
type MotorID uint8

const (
	LeftDrive MotorID = iota
	RightDrive
	Arm
)

func (m MotorID) String() string {
	switch m {
	case LeftDrive:
		return "left"
	case RightDrive:
		return "right"
	case Arm:
		return "arm"
	}
	return fmt.Sprintf("motor(%d)", uint8(m))
}

// Effect is a side effect requested by Reduce and executed by the loop.
type Effect interface {
	effectMarker()
	String() string
}

// RunMotor starts a motor at Speed deg/s.
type RunMotor struct {
	Motor MotorID
	Speed float64
}

func (RunMotor) effectMarker() {}
func (e RunMotor) String() string {
	return fmt.Sprintf("RunMotor(%s, %.0f)", e.Motor, e.Speed)
}

// StopMotor stops a motor.
type StopMotor struct {
	Motor MotorID
}

func (StopMotor) effectMarker()    {}
func (e StopMotor) String() string { return fmt.Sprintf("StopMotor(%s)", e.Motor) }

// Rejected reports a command that was refused, such as an arm command while
// driving. It only produces a diagnostic.
type Rejected struct {
	Command command.Command
	Reason  string
}

func (Rejected) effectMarker() {}
func (e Rejected) String() string {
	return fmt.Sprintf("Rejected(%s: %s)", e.Command, e.Reason)
}
