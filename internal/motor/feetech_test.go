package motor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

type fakeServo struct {
	pos     int
	moveErr error
	target  int
	timeMs  int
}

func (f *fakeServo) Position(context.Context) (int, error) { return f.pos, nil }

func (f *fakeServo) SetPositionWithTime(_ context.Context, position, timeMs int) error {
	f.target, f.timeMs = position, timeMs
	return f.moveErr
}

type fakeGroup struct {
	held       feetech.PositionMap
	disableErr error
	disabled   bool
}

func (f *fakeGroup) Positions(context.Context) (feetech.PositionMap, error) {
	return feetech.PositionMap{1: 2000}, nil
}

func (f *fakeGroup) SetPositions(_ context.Context, p feetech.PositionMap) error {
	f.held = p
	return nil
}

func (f *fakeGroup) DisableAll(context.Context) error {
	f.disabled = true
	return f.disableErr
}

type fakeBus struct{ closed bool }

func (f *fakeBus) Close() error {
	f.closed = true
	return nil
}

func testServo(sv *fakeServo, g *fakeGroup, b *fakeBus) *Servo {
	return &Servo{
		cfg:   ServoConfig{ID: 1, RangeMin: 1024, RangeMax: 3072, IOTimeout: time.Second},
		bus:   b,
		servo: sv,
		group: g,
	}
}

func TestServoRunAndStop(t *testing.T) {
	sv := &fakeServo{pos: 2048}
	g := &fakeGroup{}
	s := testServo(sv, g, &fakeBus{})

	if err := s.Run(-100); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sv.target != 1024 || sv.timeMs != 900 {
		t.Fatalf("target=%d time=%d", sv.target, sv.timeMs)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if g.held[1] != 2000 {
		t.Fatalf("held=%v", g.held)
	}
}

func TestServoRunReportsBusErrors(t *testing.T) {
	busErr := errors.New("checksum mismatch")
	s := testServo(&fakeServo{pos: 2048, moveErr: busErr}, &fakeGroup{}, &fakeBus{})
	if err := s.Run(100); !errors.Is(err, busErr) {
		t.Fatalf("Run err=%v want %v", err, busErr)
	}
}

func TestServoCloseReportsDisableError(t *testing.T) {
	disableErr := errors.New("timeout")
	g := &fakeGroup{disableErr: disableErr}
	b := &fakeBus{}
	s := testServo(&fakeServo{}, g, b)

	err := s.Close()
	if !errors.Is(err, disableErr) {
		t.Fatalf("Close err=%v want %v", err, disableErr)
	}
	if !g.disabled || !b.closed {
		t.Fatalf("disabled=%t closed=%t", g.disabled, b.closed)
	}
}
