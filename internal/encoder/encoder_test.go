package encoder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"botlink/internal/buttons"
	"botlink/internal/command"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingSender struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (s *recordingSender) Send(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.tokens = append(s.tokens, token)
	return nil
}

func (s *recordingSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

func (s *recordingSender) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestResolve(t *testing.T) {
	b := buttons.Of
	tests := []struct {
		name string
		set  buttons.Set
		last command.Command
		want command.Command
	}{
		{"up", b(buttons.Up), command.None, command.Forward},
		{"down", b(buttons.Down), command.None, command.Backward},
		{"left", b(buttons.Left), command.None, command.Left},
		{"right", b(buttons.Right), command.None, command.Right},
		{"up beats down", b(buttons.Up, buttons.Down), command.None, command.Forward},
		{"up beats left", b(buttons.Up, buttons.Left), command.Forward, command.Forward},
		{"down beats right", b(buttons.Down, buttons.Right), command.None, command.Backward},
		{"left beats right", b(buttons.Left, buttons.Right), command.None, command.Left},
		{"center up", b(buttons.Center, buttons.Up), command.None, command.ArmUp},
		{"center down", b(buttons.Center, buttons.Down), command.None, command.ArmDown},
		{"center up down", b(buttons.Center, buttons.Up, buttons.Down), command.None, command.ArmUp},
		{"center alone", b(buttons.Center), command.None, command.StopArm},
		{"center left", b(buttons.Center, buttons.Left), command.Forward, command.StopArm},
		{"release after drive", 0, command.Left, command.StopDrive},
		{"release after arm", 0, command.ArmDown, command.StopArm},
		{"release after stop", 0, command.StopDrive, command.None},
		{"release after nothing", 0, command.None, command.None},
	}
	for _, tt := range tests {
		if got := Resolve(tt.set, tt.last); got != tt.want {
			t.Errorf("%s: Resolve(%v, %v)=%v want %v", tt.name, tt.set, tt.last, got, tt.want)
		}
	}
}

func TestDecide(t *testing.T) {
	resend := DefaultResendInterval
	tests := []struct {
		name    string
		last    command.Command
		elapsed time.Duration
		cmd     command.Command
		want    bool
	}{
		{"new command", command.None, 0, command.Forward, true},
		{"change of command", command.Forward, 10 * time.Millisecond, command.Left, true},
		{"none is never sent", command.Forward, time.Second, command.None, false},
		{"held within interval", command.Forward, 100 * time.Millisecond, command.Forward, false},
		{"held at interval", command.Forward, 150 * time.Millisecond, command.Forward, false},
		{"held past interval", command.Forward, 160 * time.Millisecond, command.Forward, true},
		{"arm held past interval", command.ArmUp, 151 * time.Millisecond, command.ArmUp, true},
		{"stop not repeated", command.StopDrive, time.Second, command.StopDrive, false},
		{"none after none", command.None, time.Second, command.None, false},
	}
	for _, tt := range tests {
		s := Session{LastSent: tt.last, SentAt: epoch}
		if got := s.Decide(tt.cmd, epoch.Add(tt.elapsed), resend); got != tt.want {
			t.Errorf("%s: Decide=%v want %v", tt.name, got, tt.want)
		}
	}
}

func TestStepUnavailableSourceHasNoSideEffects(t *testing.T) {
	src := &buttons.Static{}
	src.Press(buttons.Of(buttons.Up))
	src.Unavailable()
	snd := &recordingSender{}
	e := New(src, snd, clockwork.NewFakeClockAt(epoch), DefaultConfig(), quietLogger())

	if _, sent, ok := e.Step(); ok || sent {
		t.Fatalf("Step on unavailable source: sent=%v ok=%v", sent, ok)
	}
	if len(snd.sent()) != 0 {
		t.Fatalf("tokens=%v want none", snd.sent())
	}
	if e.Session() != NewSession(epoch) {
		t.Fatalf("session changed: %+v", e.Session())
	}
}

func TestStepFailedSendIsRetriedNextCycle(t *testing.T) {
	src := &buttons.Static{}
	src.Press(buttons.Of(buttons.Down))
	snd := &recordingSender{}
	clk := clockwork.NewFakeClockAt(epoch)
	e := New(src, snd, clk, DefaultConfig(), quietLogger())

	snd.fail(errors.New("link down"))
	if cmd, sent, _ := e.Step(); cmd != command.Backward || sent {
		t.Fatalf("Step=%v,%v", cmd, sent)
	}
	if e.Session().LastSent != command.None {
		t.Fatalf("session advanced after failed send: %+v", e.Session())
	}

	snd.fail(nil)
	clk.Advance(DefaultTick)
	if _, sent, _ := e.Step(); !sent {
		t.Fatal("command not re-sent after failure")
	}
	if got := snd.sent(); !reflect.DeepEqual(got, []string{"BACKWARD"}) {
		t.Fatalf("tokens=%v", got)
	}
}

func TestStepSwitchFromDriveToArm(t *testing.T) {
	src := &buttons.Static{}
	snd := &recordingSender{}
	clk := clockwork.NewFakeClockAt(epoch)
	e := New(src, snd, clk, DefaultConfig(), quietLogger())

	src.Press(buttons.Of(buttons.Up))
	e.Step()
	clk.Advance(DefaultTick)
	src.Press(buttons.Of(buttons.Up, buttons.Center))
	e.Step()
	clk.Advance(DefaultTick)
	src.Release()
	e.Step()
	clk.Advance(DefaultTick)
	e.Step()

	want := []string{"FORWARD", "ARM_UP", "STOP_ARM"}
	if got := snd.sent(); !reflect.DeepEqual(got, want) {
		t.Fatalf("tokens=%v want %v", got, want)
	}
}

// tick advances the fake clock by one cycle and waits for the loop to park
// on its next timer.
func tick(clk *clockwork.FakeClock, d time.Duration) {
	clk.Advance(d)
	clk.BlockUntil(1)
}

func TestRunHeartbeatAndShutdown(t *testing.T) {
	src := &buttons.Static{}
	src.Press(buttons.Of(buttons.Up))
	snd := &recordingSender{}
	clk := clockwork.NewFakeClockAt(epoch)

	var observed []command.Command
	e := New(src, snd, clk, DefaultConfig(), quietLogger())
	e.OnSend = func(c command.Command) { observed = append(observed, c) }

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()

	clk.BlockUntil(1)
	// Held for 200ms: the first send at t=0 and one heartbeat at t=160ms,
	// the first tick where more than 150ms have passed.
	for i := 0; i < 10; i++ {
		tick(clk, DefaultTick)
	}
	if got := snd.sent(); !reflect.DeepEqual(got, []string{"FORWARD", "FORWARD"}) {
		t.Fatalf("while held tokens=%v", got)
	}
	if e.Session().SentAt != epoch.Add(160*time.Millisecond) {
		t.Fatalf("SentAt=%v", e.Session().SentAt)
	}

	src.Release()
	for i := 0; i < 10; i++ {
		tick(clk, DefaultTick)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	want := []string{"FORWARD", "FORWARD", "STOP_DRIVE", "STOP_ALL"}
	if got := snd.sent(); !reflect.DeepEqual(got, want) {
		t.Fatalf("tokens=%v want %v", got, want)
	}
	if len(observed) != 3 {
		t.Fatalf("OnSend saw %v", observed)
	}
}

func TestRunBacksOffWhenSourceUnavailable(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	src := buttons.SourceFunc(func() (buttons.Set, bool) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return 0, false
	})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}

	clk := clockwork.NewFakeClockAt(epoch)
	e := New(src, &recordingSender{}, clk, DefaultConfig(), quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	clk.BlockUntil(1)
	if count() != 1 {
		t.Fatalf("calls=%d want 1", count())
	}
	clk.Advance(DefaultBackoff - time.Millisecond)
	if count() != 1 {
		t.Fatalf("sampled again before backoff elapsed")
	}
	tick(clk, time.Millisecond)
	if count() != 2 {
		t.Fatalf("calls=%d want 2 after backoff", count())
	}
}
