package actuator

import (
	"time"

	"botlink/internal/command"
)

const (
	DefaultDriveSpeed = 400.0
	DefaultTurnRate   = 150.0
	DefaultArmSpeed   = 100.0
	DefaultWatchdog   = 500 * time.Millisecond
)

// ReasonArmWhileDriving is the Rejected reason for arm commands received
// while the drive motors are running.
const ReasonArmWhileDriving = "Cannot move arm while driving."

// Config holds the motion parameters. Speeds are deg/s.
type Config struct {
	DriveSpeed float64
	TurnRate   float64
	ArmSpeed   float64
	// Watchdog stops all motors when motion has been in progress this long
	// without any continuous command arriving. Zero disables it.
	Watchdog time.Duration
}

// DefaultConfig returns the compiled-in motion parameters.
func DefaultConfig() Config {
	return Config{
		DriveSpeed: DefaultDriveSpeed,
		TurnRate:   DefaultTurnRate,
		ArmSpeed:   DefaultArmSpeed,
		Watchdog:   DefaultWatchdog,
	}
}

// State is the robot's actuator state. Driving is the only field the
// transition rules read; the rest is bookkeeping for status reporting.
type State struct {
	Driving   bool
	ArmMoving bool

	LastCommand   command.Command
	LastCommandAt time.Time
	// LastMotionAt is when the last continuous command arrived, accepted or
	// rejected.
	LastMotionAt time.Time

	LinkUp        bool
	Rejected      uint64
	WatchdogTrips uint64
}

// Moving reports whether any motor is expected to be running.
func (s State) Moving() bool { return s.Driving || s.ArmMoving }

// ReduceResult is the output of a reduction step.
type ReduceResult struct {
	State   State
	Effects []Effect
}

// ==============================
// Reduce
// ==============================

// Reduce applies one event to the state. It performs no I/O.
func Reduce(s State, ev Event, cfg Config) ReduceResult {
	switch e := ev.(type) {
	case Received:
		return reduceCommand(s, e, cfg)

	case Tick:
		if cfg.Watchdog > 0 && s.Moving() && e.Now.Sub(s.LastMotionAt) > cfg.Watchdog {
			s.WatchdogTrips++
			return stopEverything(s)
		}
		return ReduceResult{State: s}

	case LinkLost:
		s.LinkUp = false
		return stopEverything(s)

	case LinkUp:
		s.LinkUp = true
		return ReduceResult{State: s}
	}
	return ReduceResult{State: s}
}

func reduceCommand(s State, e Received, cfg Config) ReduceResult {
	if e.Command == command.None {
		return ReduceResult{State: s}
	}
	s.LastCommand = e.Command
	s.LastCommandAt = e.At
	if e.Command.IsContinuous() {
		s.LastMotionAt = e.At
	}

	var fx []Effect
	switch e.Command {
	case command.Forward:
		fx = drive(cfg.DriveSpeed, cfg.DriveSpeed)
	case command.Backward:
		fx = drive(-cfg.DriveSpeed, -cfg.DriveSpeed)
	case command.Left:
		fx = drive(-cfg.TurnRate, cfg.TurnRate)
	case command.Right:
		fx = drive(cfg.TurnRate, -cfg.TurnRate)

	case command.StopDrive:
		s.Driving = false
		return ReduceResult{State: s, Effects: []Effect{
			StopMotor{Motor: LeftDrive},
			StopMotor{Motor: RightDrive},
		}}

	case command.ArmUp, command.ArmDown:
		if s.Driving {
			s.Rejected++
			return ReduceResult{State: s, Effects: []Effect{
				Rejected{Command: e.Command, Reason: ReasonArmWhileDriving},
			}}
		}
		speed := cfg.ArmSpeed
		if e.Command == command.ArmDown {
			speed = -speed
		}
		s.ArmMoving = true
		return ReduceResult{State: s, Effects: []Effect{RunMotor{Motor: Arm, Speed: speed}}}

	case command.StopArm:
		s.ArmMoving = false
		return ReduceResult{State: s, Effects: []Effect{StopMotor{Motor: Arm}}}

	case command.StopAll:
		return stopEverything(s)

	default:
		return ReduceResult{State: s}
	}

	// Drive commands stop the arm first.
	s.Driving = true
	s.ArmMoving = false
	return ReduceResult{State: s, Effects: fx}
}

func drive(left, right float64) []Effect {
	return []Effect{
		StopMotor{Motor: Arm},
		RunMotor{Motor: LeftDrive, Speed: left},
		RunMotor{Motor: RightDrive, Speed: right},
	}
}

func stopEverything(s State) ReduceResult {
	s.Driving = false
	s.ArmMoving = false
	return ReduceResult{State: s, Effects: []Effect{
		StopMotor{Motor: LeftDrive},
		StopMotor{Motor: RightDrive},
		StopMotor{Motor: Arm},
	}}
}
