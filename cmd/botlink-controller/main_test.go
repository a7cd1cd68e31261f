package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"botlink/internal/config"
	"botlink/internal/feedback"
)

type recordingSpeaker struct {
	mu    sync.Mutex
	beeps []float64
	said  []string
}

func (s *recordingSpeaker) Beep(freqHz float64, d time.Duration) {
	s.mu.Lock()
	s.beeps = append(s.beeps, freqHz)
	s.mu.Unlock()
}

func (s *recordingSpeaker) Say(text string) {
	s.mu.Lock()
	s.said = append(s.said, text)
	s.mu.Unlock()
}

func (s *recordingSpeaker) snapshot() ([]float64, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.beeps...), append([]string(nil), s.said...)
}

type nopLink struct{ done chan struct{} }

func (l nopLink) Send(string) error      { return nil }
func (l nopLink) Done() <-chan struct{} { return l.done }
func (l nopLink) Close() error          { return nil }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestEstablishFailureWaitsExitDelay(t *testing.T) {
	cfg := config.DefaultController()
	refused := errors.New("connection refused")
	dial := func(context.Context, *config.Controller, *slog.Logger) (link, error) {
		return nil, refused
	}
	spk := &recordingSpeaker{}
	clk := clockwork.NewFakeClock()

	errCh := make(chan error, 1)
	go func() {
		_, err := establish(context.Background(), &cfg, dial, spk, clk, quietLogger())
		errCh <- err
	}()

	clk.BlockUntil(1)
	select {
	case err := <-errCh:
		t.Fatalf("returned before the exit delay: %v", err)
	default:
	}
	beeps, said := spk.snapshot()
	if len(beeps) != 1 || beeps[0] != feedback.WaitingFreq {
		t.Fatalf("beeps = %v", beeps)
	}
	if len(said) != 1 || said[0] != "Connection failed." {
		t.Fatalf("said = %q", said)
	}

	clk.Advance(cfg.ExitDelay())
	select {
	case err := <-errCh:
		if !errors.Is(err, refused) {
			t.Fatalf("err = %v, want %v", err, refused)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("establish did not return after the exit delay")
	}
}

func TestEstablishSuccess(t *testing.T) {
	cfg := config.DefaultController()
	want := nopLink{done: make(chan struct{})}
	dial := func(context.Context, *config.Controller, *slog.Logger) (link, error) {
		return want, nil
	}
	spk := &recordingSpeaker{}

	conn, err := establish(context.Background(), &cfg, dial, spk, clockwork.NewFakeClock(), quietLogger())
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	if conn != link(want) {
		t.Fatalf("unexpected link %v", conn)
	}
	beeps, said := spk.snapshot()
	if len(beeps) != 2 || beeps[1] != feedback.ConnectedFreq {
		t.Fatalf("beeps = %v", beeps)
	}
	if len(said) != 1 || said[0] != "Connected." {
		t.Fatalf("said = %q", said)
	}
}
