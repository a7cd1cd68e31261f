// Package command defines the closed set of control tokens exchanged between
// the controller and the robot.
//
// A Command travels over the link as its wire literal ("FORWARD", "STOP_ALL",
// ...). The zero value None means "no command" and is never transmitted.
package command

import (
	"errors"
	"fmt"
)

// Command is a single control token.
type Command uint8

const (
	None Command = iota
	Forward
	Backward
	Left
	Right
	ArmUp
	ArmDown
	StopDrive
	StopArm
	StopAll
)

// ErrUnknownToken is returned by Parse for anything that is not a wire literal.
var ErrUnknownToken = errors.New("unknown command token")

var literals = [...]string{
	None:      "",
	Forward:   "FORWARD",
	Backward:  "BACKWARD",
	Left:      "LEFT",
	Right:     "RIGHT",
	ArmUp:     "ARM_UP",
	ArmDown:   "ARM_DOWN",
	StopDrive: "STOP_DRIVE",
	StopArm:   "STOP_ARM",
	StopAll:   "STOP_ALL",
}

// All returns every transmittable command in declaration order.
func All() []Command {
	return []Command{Forward, Backward, Left, Right, ArmUp, ArmDown, StopDrive, StopArm, StopAll}
}

// String returns the wire literal. None yields the empty string.
func (c Command) String() string {
	if int(c) < len(literals) {
		return literals[c]
	}
	return fmt.Sprintf("Command(%d)", uint8(c))
}

// Valid reports whether c is one of the declared values (None included).
func (c Command) Valid() bool { return int(c) < len(literals) }

// Parse maps a wire literal to its Command. Matching is exact and
// case-sensitive; the empty string is not a token.
func Parse(token string) (Command, error) {
	for _, c := range All() {
		if literals[c] == token {
			return c, nil
		}
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownToken, token)
}

// IsDrive reports whether c moves the drive motors.
func (c Command) IsDrive() bool {
	switch c {
	case Forward, Backward, Left, Right:
		return true
	}
	return false
}

// IsArm reports whether c moves the arm.
func (c Command) IsArm() bool { return c == ArmUp || c == ArmDown }

// IsStop reports whether c is one of the stop commands.
func (c Command) IsStop() bool {
	switch c {
	case StopDrive, StopArm, StopAll:
		return true
	}
	return false
}

// IsContinuous reports whether c asserts ongoing motion. Continuous commands
// are re-sent while held.
func (c Command) IsContinuous() bool { return c.IsDrive() || c.IsArm() }

// MarshalText implements encoding.TextMarshaler.
func (c Command) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("marshal %s: out of range", c)
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. The empty string decodes
// to None so that "no command yet" survives a round trip.
func (c *Command) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*c = None
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
