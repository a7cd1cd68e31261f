package actuator

import (
	"reflect"
	"testing"
	"time"

	"botlink/internal/command"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func recv(c command.Command, at time.Duration) Received {
	return Received{Command: c, At: t0.Add(at)}
}

func TestReduceTransitionTable(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name        string
		driving     bool
		cmd         command.Command
		wantDriving bool
		wantFx      []Effect
	}{
		{"forward", false, command.Forward, true, []Effect{
			StopMotor{Arm}, RunMotor{LeftDrive, 400}, RunMotor{RightDrive, 400}}},
		{"backward", false, command.Backward, true, []Effect{
			StopMotor{Arm}, RunMotor{LeftDrive, -400}, RunMotor{RightDrive, -400}}},
		{"left", true, command.Left, true, []Effect{
			StopMotor{Arm}, RunMotor{LeftDrive, -150}, RunMotor{RightDrive, 150}}},
		{"right", false, command.Right, true, []Effect{
			StopMotor{Arm}, RunMotor{LeftDrive, 150}, RunMotor{RightDrive, -150}}},
		{"stop drive", true, command.StopDrive, false, []Effect{
			StopMotor{LeftDrive}, StopMotor{RightDrive}}},
		{"arm up idle", false, command.ArmUp, false, []Effect{RunMotor{Arm, 100}}},
		{"arm down idle", false, command.ArmDown, false, []Effect{RunMotor{Arm, -100}}},
		{"arm up driving", true, command.ArmUp, true, []Effect{
			Rejected{command.ArmUp, ReasonArmWhileDriving}}},
		{"arm down driving", true, command.ArmDown, true, []Effect{
			Rejected{command.ArmDown, ReasonArmWhileDriving}}},
		{"stop arm driving", true, command.StopArm, true, []Effect{StopMotor{Arm}}},
		{"stop all", true, command.StopAll, false, []Effect{
			StopMotor{LeftDrive}, StopMotor{RightDrive}, StopMotor{Arm}}},
		{"none", true, command.None, true, nil},
	}
	for _, tt := range tests {
		rr := Reduce(State{Driving: tt.driving}, recv(tt.cmd, 0), cfg)
		if rr.State.Driving != tt.wantDriving {
			t.Errorf("%s: Driving=%v want %v", tt.name, rr.State.Driving, tt.wantDriving)
		}
		if !reflect.DeepEqual(rr.Effects, tt.wantFx) {
			t.Errorf("%s: effects=%v want %v", tt.name, rr.Effects, tt.wantFx)
		}
	}
}

func TestReduceArmSubordinateToDrive(t *testing.T) {
	cfg := DefaultConfig()
	s := State{}

	steps := []struct {
		cmd          command.Command
		wantDriving  bool
		wantArmMotor bool // whether the arm is commanded to run
	}{
		{command.Forward, true, false},
		{command.ArmUp, true, false},
		{command.StopDrive, false, false},
		{command.ArmUp, false, true},
	}
	for i, st := range steps {
		rr := Reduce(s, recv(st.cmd, time.Duration(i)*10*time.Millisecond), cfg)
		s = rr.State
		if s.Driving != st.wantDriving {
			t.Fatalf("step %d %v: Driving=%v", i, st.cmd, s.Driving)
		}
		ran := false
		for _, fx := range rr.Effects {
			if r, ok := fx.(RunMotor); ok && r.Motor == Arm {
				ran = true
			}
		}
		if ran != st.wantArmMotor {
			t.Fatalf("step %d %v: arm run=%v effects=%v", i, st.cmd, ran, rr.Effects)
		}
	}
	if s.Rejected != 1 {
		t.Fatalf("Rejected=%d want 1", s.Rejected)
	}
	if !s.ArmMoving || s.LastCommand != command.ArmUp {
		t.Fatalf("final state %+v", s)
	}
}

func TestReduceWatchdog(t *testing.T) {
	cfg := DefaultConfig()
	s := Reduce(State{}, recv(command.Forward, 0), cfg).State

	rr := Reduce(s, Tick{Now: t0.Add(cfg.Watchdog)}, cfg)
	if len(rr.Effects) != 0 || !rr.State.Driving {
		t.Fatalf("tripped at exactly the watchdog: %+v", rr)
	}

	// A heartbeat refreshes the deadline.
	s = Reduce(s, recv(command.Forward, 300*time.Millisecond), cfg).State
	rr = Reduce(s, Tick{Now: t0.Add(700 * time.Millisecond)}, cfg)
	if len(rr.Effects) != 0 {
		t.Fatalf("tripped despite heartbeat: %v", rr.Effects)
	}

	rr = Reduce(s, Tick{Now: t0.Add(801 * time.Millisecond)}, cfg)
	if rr.State.Driving || rr.State.WatchdogTrips != 1 {
		t.Fatalf("watchdog did not trip: %+v", rr.State)
	}
	if len(rr.Effects) != 3 {
		t.Fatalf("effects=%v want stop all", rr.Effects)
	}

	// Idle robots are left alone.
	rr = Reduce(rr.State, Tick{Now: t0.Add(time.Hour)}, cfg)
	if len(rr.Effects) != 0 || rr.State.WatchdogTrips != 1 {
		t.Fatalf("idle tick: %+v", rr)
	}
}

func TestReduceWatchdogDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Watchdog = 0
	s := Reduce(State{}, recv(command.ArmDown, 0), cfg).State
	rr := Reduce(s, Tick{Now: t0.Add(time.Hour)}, cfg)
	if len(rr.Effects) != 0 || !rr.State.ArmMoving {
		t.Fatalf("disabled watchdog acted: %+v", rr)
	}
}

func TestReduceRejectedArmKeepsDriveAlive(t *testing.T) {
	cfg := DefaultConfig()
	s := Reduce(State{}, recv(command.Forward, 0), cfg).State
	for at := 160 * time.Millisecond; at <= 2*time.Second; at += 160 * time.Millisecond {
		s = Reduce(s, recv(command.ArmUp, at), cfg).State
		rr := Reduce(s, Tick{Now: t0.Add(at + 10*time.Millisecond)}, cfg)
		if len(rr.Effects) != 0 {
			t.Fatalf("at %v: watchdog acted while arm heartbeats arrive: %v", at, rr.Effects)
		}
		s = rr.State
	}
	if !s.Driving || s.ArmMoving {
		t.Fatalf("state %+v, want still driving with arm idle", s)
	}
	if s.WatchdogTrips != 0 || s.Rejected != 12 {
		t.Fatalf("trips=%d rejected=%d", s.WatchdogTrips, s.Rejected)
	}
}

func TestReduceLinkLostStopsEverything(t *testing.T) {
	cfg := DefaultConfig()
	s := Reduce(State{}, LinkUp{At: t0}, cfg).State
	s = Reduce(s, recv(command.Backward, 0), cfg).State

	rr := Reduce(s, LinkLost{At: t0.Add(time.Second)}, cfg)
	if rr.State.Driving || rr.State.LinkUp {
		t.Fatalf("state after link loss %+v", rr.State)
	}
	want := []Effect{StopMotor{LeftDrive}, StopMotor{RightDrive}, StopMotor{Arm}}
	if !reflect.DeepEqual(rr.Effects, want) {
		t.Fatalf("effects=%v", rr.Effects)
	}
}
