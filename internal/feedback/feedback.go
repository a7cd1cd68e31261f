// Package feedback gives the nodes an audible way to report startup and
// pairing progress.
package feedback

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/generators"
	"github.com/gopxl/beep/speaker"
)

// Tones used at startup.
const (
	WaitingFreq   = 500.0
	ConnectedFreq = 100.0
	ToneDuration  = 200 * time.Millisecond
)

// Speaker emits beeps and short messages. Beep blocks until the tone ends.
type Speaker interface {
	Beep(freqHz float64, d time.Duration)
	Say(text string)
}

// Silent logs messages and drops tones.
type Silent struct {
	Logger *slog.Logger
}

func (s Silent) Beep(freqHz float64, d time.Duration) {}

func (s Silent) Say(text string) {
	if s.Logger != nil {
		s.Logger.Info(text)
	}
}

const sampleRate = beep.SampleRate(44100)

var initOnce struct {
	sync.Once
	err error
}

// Tone plays sine beeps on the default audio device. Say has no speech
// synthesis behind it and only logs.
type Tone struct {
	logger *slog.Logger
	mu     sync.Mutex
}

// NewTone opens the audio device.
func NewTone(logger *slog.Logger) (*Tone, error) {
	initOnce.Do(func() {
		initOnce.err = speaker.Init(sampleRate, sampleRate.N(time.Second/10))
	})
	if initOnce.err != nil {
		return nil, fmt.Errorf("init speaker: %w", initOnce.err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tone{logger: logger}, nil
}

func (t *Tone) Beep(freqHz float64, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sine, err := generators.SineTone(sampleRate, freqHz)
	if err != nil {
		t.logger.Warn("beep failed", "freq_hz", freqHz, "error", err)
		return
	}
	done := make(chan struct{})
	speaker.Play(beep.Seq(
		beep.Take(sampleRate.N(d), sine),
		beep.Callback(func() { close(done) }),
	))

	select {
	case <-done:
	case <-time.After(d + time.Second):
		t.logger.Warn("beep did not finish", "freq_hz", freqHz)
	}
}

func (t *Tone) Say(text string) {
	t.logger.Info(text)
}

// Open returns a Tone when enabled and the audio device works, and a
// Silent speaker otherwise.
func Open(enabled bool, logger *slog.Logger) Speaker {
	if !enabled {
		return Silent{Logger: logger}
	}
	tone, err := NewTone(logger)
	if err != nil {
		if logger != nil {
			logger.Warn("audio unavailable, continuing silently", "error", err)
		}
		return Silent{Logger: logger}
	}
	return tone
}
